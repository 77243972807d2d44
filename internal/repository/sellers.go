package repository

import (
	"context"
	"fmt"
	"marketplace_ledger/internal/domain"
	"time"

	"github.com/shopspring/decimal"
)

// EnsureSeller creates a financial record with zero balances if sellerID has
// none. It reports whether a record was created.
func (t *Tx) EnsureSeller(ctx context.Context, sellerID string, now time.Time) (bool, error) {
	res, err := t.exec(ctx, `
		INSERT INTO seller_financials(seller_id, kyc_status, payouts_enabled, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT (seller_id) DO NOTHING
	`, sellerID, string(domain.KYCNotStarted), false, formatTime(now), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("ensure seller: %w", err)
	}
	aff, _ := res.RowsAffected()
	return aff > 0, nil
}

// UpsertVerification stores the Seller Directory's view of a seller.
func (c conn) UpsertVerification(ctx context.Context, sellerID string, kyc domain.KYCStatus, payoutsEnabled bool, now time.Time) error {
	_, err := c.exec(ctx, `
		INSERT INTO seller_financials(seller_id, kyc_status, payouts_enabled, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT (seller_id) DO UPDATE SET
			kyc_status = excluded.kyc_status,
			payouts_enabled = excluded.payouts_enabled,
			updated_at = excluded.updated_at
	`, sellerID, string(kyc), payoutsEnabled, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("upsert verification: %w", err)
	}
	return nil
}

func (c conn) SellerExists(ctx context.Context, sellerID string) (bool, error) {
	var n int
	err := c.queryRow(ctx, `SELECT COUNT(*) FROM seller_financials WHERE seller_id = ?`, sellerID).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSeller loads the record and every balance cell of sellerID.
func (c conn) GetSeller(ctx context.Context, sellerID string) (*domain.SellerFinancials, error) {
	var (
		s          domain.SellerFinancials
		kyc        string
		createdStr string
		updatedStr string
	)
	err := c.queryRow(ctx, `
		SELECT seller_id, kyc_status, payouts_enabled, created_at, updated_at
		FROM seller_financials WHERE seller_id = ?
	`, sellerID).Scan(&s.SellerID, &kyc, &s.PayoutsEnabled, &createdStr, &updatedStr)
	if isNoRows(err) {
		return nil, fmt.Errorf("seller %s: %w", sellerID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	s.KYCStatus = domain.KYCStatus(kyc)
	if s.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if s.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}

	cells, err := c.ListBalances(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	s.Balance = domain.Balances{}
	s.PendingBalance = domain.Balances{}
	s.TotalEarnings = domain.Balances{}
	for _, cell := range cells {
		s.Balance[cell.Currency] = cell.Available
		s.PendingBalance[cell.Currency] = cell.Pending
		s.TotalEarnings[cell.Currency] = cell.TotalEarnings
	}

	return &s, nil
}

// GetBalance returns the (seller, currency) cell. A missing cell comes back
// zeroed with Version 0.
func (c conn) GetBalance(ctx context.Context, sellerID string, cur domain.Currency) (domain.BalanceCell, error) {
	row := c.queryRow(ctx, `
		SELECT seller_id, currency, available, pending, total_earnings, version, updated_at
		FROM seller_balances WHERE seller_id = ? AND currency = ?
	`, sellerID, cur.String())
	cell, err := scanCell(row)
	if isNoRows(err) {
		return domain.BalanceCell{
			SellerID:      sellerID,
			Currency:      cur,
			Available:     decimal.Zero,
			Pending:       decimal.Zero,
			TotalEarnings: decimal.Zero,
		}, nil
	}
	if err != nil {
		return domain.BalanceCell{}, err
	}
	return *cell, nil
}

// SetBalance writes cell if the stored version still equals expected, and
// bumps the version. Only the transaction processor calls this.
func (t *Tx) SetBalance(ctx context.Context, cell domain.BalanceCell, expected int64, now time.Time) (int64, error) {
	next := expected + 1
	var q string
	var args []any
	if expected == 0 {
		q = `
			INSERT INTO seller_balances(seller_id, currency, available, pending, total_earnings, version, updated_at)
			VALUES(?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (seller_id, currency) DO NOTHING
		`
		args = []any{cell.SellerID, cell.Currency.String(), cell.Available.String(), cell.Pending.String(),
			cell.TotalEarnings.String(), next, formatTime(now)}
	} else {
		q = `
			UPDATE seller_balances
			SET available = ?, pending = ?, total_earnings = ?, version = ?, updated_at = ?
			WHERE seller_id = ? AND currency = ? AND version = ?
		`
		args = []any{cell.Available.String(), cell.Pending.String(), cell.TotalEarnings.String(), next,
			formatTime(now), cell.SellerID, cell.Currency.String(), expected}
	}

	res, err := t.exec(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("set balance: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return 0, fmt.Errorf("seller %s %s at version %d: %w", cell.SellerID, cell.Currency, expected, domain.ErrConcurrencyConflict)
	}
	return next, nil
}

// ListBalances returns balance cells, for one seller or all when sellerID is
// empty.
func (c conn) ListBalances(ctx context.Context, sellerID string) ([]domain.BalanceCell, error) {
	q := `
		SELECT seller_id, currency, available, pending, total_earnings, version, updated_at
		FROM seller_balances WHERE 1 = 1
	`
	args := []any{}
	if sellerID != "" {
		q += " AND seller_id = ?"
		args = append(args, sellerID)
	}
	q += " ORDER BY seller_id, currency"

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.BalanceCell
	for rows.Next() {
		cell, err := scanCell(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *cell)
	}
	return res, rows.Err()
}

func scanCell(scanner interface {
	Scan(dest ...any) error
}) (*domain.BalanceCell, error) {
	var (
		cell       domain.BalanceCell
		code       string
		updatedStr string
	)
	if err := scanner.Scan(
		&cell.SellerID,
		&code,
		&cell.Available,
		&cell.Pending,
		&cell.TotalEarnings,
		&cell.Version,
		&updatedStr,
	); err != nil {
		return nil, err
	}

	cur, err := domain.ParseCurrency(code)
	if err != nil {
		return nil, err
	}
	cell.Currency = cur
	if cell.UpdatedAt, err = parseTime(updatedStr); err != nil {
		return nil, err
	}
	return &cell, nil
}
