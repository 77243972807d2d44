package repository

import (
	"context"
	"database/sql"
	"fmt"
	"marketplace_ledger/internal/domain"
	"time"
)

const payoutColumns = `
	id,
	seller_id,
	amount,
	currency,
	status,
	transaction_id,
	failure_reason,
	requested_by,
	requested_at,
	processed_at`

func (c conn) InsertPayout(ctx context.Context, p *domain.Payout) error {
	q := `
		INSERT INTO payouts(` + payoutColumns + `)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := c.exec(ctx, q,
		p.ID,
		p.SellerID,
		p.Amount.String(),
		p.Currency.String(),
		string(p.Status),
		nullString(p.TransactionID),
		p.FailureReason,
		p.RequestedBy,
		formatTime(p.RequestedAt),
		formatTimePtr(p.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("insert payout: %w", err)
	}
	return nil
}

// CompletePayout moves a processing payout to completed.
func (c conn) CompletePayout(ctx context.Context, id, transactionID string, at time.Time) error {
	return c.finishPayout(ctx, id, domain.PayoutCompleted, transactionID, "", at)
}

// FailPayout moves a processing payout to failed.
func (c conn) FailPayout(ctx context.Context, id, reason string, at time.Time) error {
	return c.finishPayout(ctx, id, domain.PayoutFailed, "", reason, at)
}

func (c conn) finishPayout(ctx context.Context, id string, status domain.PayoutStatus, transactionID, reason string, at time.Time) error {
	res, err := c.exec(ctx, `
		UPDATE payouts SET status = ?, transaction_id = ?, failure_reason = ?, processed_at = ?
		WHERE id = ? AND status = ?
	`, string(status), nullString(transactionID), reason, formatTime(at), id, string(domain.PayoutProcessing))
	if err != nil {
		return fmt.Errorf("finish payout: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("processing payout %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func (c conn) GetPayout(ctx context.Context, id string) (*domain.Payout, error) {
	row := c.queryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = ?`, id)
	p, err := scanPayout(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("payout %s: %w", id, domain.ErrNotFound)
	}
	return p, err
}

func (c conn) ListPayouts(ctx context.Context, sellerID string, limit, offset int) ([]domain.Payout, error) {
	rows, err := c.query(ctx, `
		SELECT `+payoutColumns+` FROM payouts WHERE seller_id = ?
		ORDER BY requested_at DESC, id DESC LIMIT ? OFFSET ?
	`, sellerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Payout
	for rows.Next() {
		p, err := scanPayout(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *p)
	}
	return res, rows.Err()
}

func scanPayout(scanner interface {
	Scan(dest ...any) error
}) (*domain.Payout, error) {
	var (
		p            domain.Payout
		code         string
		status       string
		txID         sql.NullString
		requestedStr string
		processedAt  sql.NullString
	)
	if err := scanner.Scan(
		&p.ID,
		&p.SellerID,
		&p.Amount,
		&code,
		&status,
		&txID,
		&p.FailureReason,
		&p.RequestedBy,
		&requestedStr,
		&processedAt,
	); err != nil {
		return nil, err
	}

	cur, err := domain.ParseCurrency(code)
	if err != nil {
		return nil, err
	}
	p.Currency = cur
	p.Status = domain.PayoutStatus(status)
	p.TransactionID = txID.String

	if p.RequestedAt, err = parseTime(requestedStr); err != nil {
		return nil, err
	}
	if p.ProcessedAt, err = parseTimePtr(processedAt); err != nil {
		return nil, err
	}
	return &p, nil
}
