package repository

import (
	"context"
	"fmt"
	"marketplace_ledger/internal/domain"
	"time"

	"github.com/shopspring/decimal"
)

const orderColumns = `
	id,
	seller_id,
	currency,
	subtotal,
	shipping_cost,
	taxes,
	discount_amount,
	total,
	platform_fee,
	platform_fee_base,
	seller_payout,
	sale_transaction_id,
	created_at`

func (t *Tx) InsertOrder(ctx context.Context, o *domain.Order) error {
	q := `
		INSERT INTO orders(` + orderColumns + `)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.exec(ctx, q,
		o.ID,
		o.SellerID,
		o.Currency.String(),
		o.Subtotal.String(),
		o.ShippingCost.String(),
		o.Taxes.String(),
		o.DiscountAmount.String(),
		o.Total.String(),
		o.PlatformFee.Amount.String(),
		o.PlatformFee.Base.String(),
		o.SellerPayout.String(),
		o.SaleTransactionID,
		formatTime(o.CreatedAt),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("order %s already settled: %w", o.ID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (c conn) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	row := c.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("order %s: %w", id, domain.ErrNotFound)
	}
	return o, err
}

// ListOrders returns order snapshots created in [From, To) for reporting.
func (c conn) ListOrders(ctx context.Context, f domain.ReportFilter) ([]domain.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE 1 = 1`
	args := []any{}

	if f.SellerID != "" {
		q += " AND seller_id = ?"
		args = append(args, f.SellerID)
	}
	if f.From != nil {
		q += " AND created_at >= ?"
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		q += " AND created_at < ?"
		args = append(args, formatTime(*f.To))
	}
	q += " ORDER BY created_at"

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}
	return res, rows.Err()
}

// InsertOrderRefund links a return to the Refund transaction it produced.
func (t *Tx) InsertOrderRefund(ctx context.Context, returnID, orderID, transactionID string, amount decimal.Decimal, at time.Time) error {
	_, err := t.exec(ctx, `
		INSERT INTO order_refunds(return_id, order_id, transaction_id, amount, created_at)
		VALUES(?, ?, ?, ?, ?)
	`, returnID, orderID, transactionID, amount.String(), formatTime(at))
	if isUniqueViolation(err) {
		return fmt.Errorf("return %s already refunded: %w", returnID, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("insert order refund: %w", err)
	}
	return nil
}

// RefundTransactionFor returns the Refund transaction id booked for returnID.
func (c conn) RefundTransactionFor(ctx context.Context, returnID string) (string, error) {
	var id string
	err := c.queryRow(ctx, `SELECT transaction_id FROM order_refunds WHERE return_id = ?`, returnID).Scan(&id)
	if isNoRows(err) {
		return "", fmt.Errorf("return %s: %w", returnID, domain.ErrNotFound)
	}
	return id, err
}

// RefundedForOrder sums refunds of orderID that have not been reversed.
func (c conn) RefundedForOrder(ctx context.Context, orderID string) (decimal.Decimal, error) {
	rows, err := c.query(ctx, `
		SELECT r.amount FROM order_refunds r
		JOIN transactions t ON t.id = r.transaction_id
		WHERE r.order_id = ? AND t.status = ?
	`, orderID, string(domain.StatusCompleted))
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amount decimal.Decimal
		if err := rows.Scan(&amount); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return total, rows.Err()
}

func scanOrder(scanner interface {
	Scan(dest ...any) error
}) (*domain.Order, error) {
	var (
		o          domain.Order
		code       string
		createdStr string
	)
	if err := scanner.Scan(
		&o.ID,
		&o.SellerID,
		&code,
		&o.Subtotal,
		&o.ShippingCost,
		&o.Taxes,
		&o.DiscountAmount,
		&o.Total,
		&o.PlatformFee.Amount,
		&o.PlatformFee.Base,
		&o.SellerPayout,
		&o.SaleTransactionID,
		&createdStr,
	); err != nil {
		return nil, err
	}

	cur, err := domain.ParseCurrency(code)
	if err != nil {
		return nil, err
	}
	o.Currency = cur
	if o.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	return &o, nil
}
