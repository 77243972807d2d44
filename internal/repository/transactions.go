package repository

import (
	"context"
	"database/sql"
	"fmt"
	"marketplace_ledger/internal/domain"
	"time"

	"github.com/shopspring/decimal"
)

const txColumns = `
	id,
	seller_id,
	type,
	amount,
	currency,
	reference_id,
	description,
	status,
	processed_by,
	created_at,
	reversed_at,
	reverses_transaction_id`

// InsertTransaction appends t to the log. The log is never updated except
// through MarkReversed.
func (t *Tx) InsertTransaction(ctx context.Context, tr *domain.Transaction) error {
	q := `
		INSERT INTO transactions(` + txColumns + `)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := t.exec(ctx, q,
		tr.ID,
		tr.SellerID,
		string(tr.Type),
		tr.Amount.String(),
		tr.Currency.String(),
		tr.ReferenceID,
		tr.Description,
		string(tr.Status),
		tr.ProcessedBy,
		formatTime(tr.CreatedAt),
		formatTimePtr(tr.ReversedAt),
		nullString(tr.ReversesTransactionID),
	)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// MarkReversed flags a completed transaction as reversed. It affects no
// balance by itself.
func (t *Tx) MarkReversed(ctx context.Context, id string, at time.Time) error {
	res, err := t.exec(ctx,
		`UPDATE transactions SET status = ?, reversed_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusReversed), formatTime(at), id, string(domain.StatusCompleted))
	if err != nil {
		return fmt.Errorf("mark reversed: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return fmt.Errorf("transaction %s: %w", id, domain.ErrAlreadyReversed)
	}
	return nil
}

func (c conn) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	row := c.queryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE id = ?`, id)
	tr, err := scanTx(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("transaction %s: %w", id, domain.ErrNotFound)
	}
	return tr, err
}

// FindReversalOf returns the transaction compensating id, or ErrNotFound.
func (c conn) FindReversalOf(ctx context.Context, id string) (*domain.Transaction, error) {
	row := c.queryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE reverses_transaction_id = ?`, id)
	tr, err := scanTx(row)
	if isNoRows(err) {
		return nil, fmt.Errorf("reversal of %s: %w", id, domain.ErrNotFound)
	}
	return tr, err
}

func (c conn) ListTransactions(ctx context.Context, f domain.TxFilter, limit, offset int) ([]domain.Transaction, error) {
	q, args := txWhere(`SELECT `+txColumns+` FROM transactions WHERE 1 = 1`, f)
	q += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.Transaction
	for rows.Next() {
		tr, err := scanTx(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *tr)
	}
	return res, rows.Err()
}

func (c conn) CountTransactions(ctx context.Context, f domain.TxFilter) (int, error) {
	q, args := txWhere(`SELECT COUNT(*) FROM transactions WHERE 1 = 1`, f)
	var n int
	if err := c.queryRow(ctx, q, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// SumTransactions adds up amounts per currency over every match. Reversed
// transactions count unless f.Effective is set.
func (c conn) SumTransactions(ctx context.Context, f domain.TxFilter) (domain.Balances, int, error) {
	q, args := txWhere(`SELECT amount, currency FROM transactions WHERE 1 = 1`, f)
	rows, err := c.query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	sums := domain.Balances{}
	n := 0
	for rows.Next() {
		var (
			amount decimal.Decimal
			code   string
		)
		if err := rows.Scan(&amount, &code); err != nil {
			return nil, 0, err
		}
		cur, err := domain.ParseCurrency(code)
		if err != nil {
			return nil, 0, err
		}
		sums[cur] = sums.Get(cur).Add(amount)
		n++
	}
	return sums, n, rows.Err()
}

func txWhere(q string, f domain.TxFilter) (string, []any) {
	args := []any{}

	if f.SellerID != "" {
		q += " AND seller_id = ?"
		args = append(args, f.SellerID)
	}

	if f.Type != "" {
		q += " AND type = ?"
		args = append(args, string(f.Type))
	}

	if f.Currency.Valid() {
		q += " AND currency = ?"
		args = append(args, f.Currency.String())
	}

	if f.From != nil {
		q += " AND created_at >= ?"
		args = append(args, formatTime(*f.From))
	}

	if f.To != nil {
		q += " AND created_at < ?"
		args = append(args, formatTime(*f.To))
	}

	if f.Effective {
		q += " AND status = ? AND reverses_transaction_id IS NULL"
		args = append(args, string(domain.StatusCompleted))
	}

	return q, args
}

func scanTx(scanner interface {
	Scan(dest ...any) error
}) (*domain.Transaction, error) {
	var (
		t          domain.Transaction
		txType     string
		currency   string
		status     string
		createdStr string
		reversedAt sql.NullString
		reverses   sql.NullString
	)

	if err := scanner.Scan(
		&t.ID,
		&t.SellerID,
		&txType,
		&t.Amount,
		&currency,
		&t.ReferenceID,
		&t.Description,
		&status,
		&t.ProcessedBy,
		&createdStr,
		&reversedAt,
		&reverses,
	); err != nil {
		return nil, err
	}

	cur, err := domain.ParseCurrency(currency)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", t.ID, err)
	}
	t.Currency = cur
	t.Type = domain.TxType(txType)
	t.Status = domain.TxStatus(status)
	t.ReversesTransactionID = reverses.String

	if t.CreatedAt, err = parseTime(createdStr); err != nil {
		return nil, err
	}
	if t.ReversedAt, err = parseTimePtr(reversedAt); err != nil {
		return nil, err
	}

	return &t, nil
}
