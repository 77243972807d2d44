package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// Fixed width so stored timestamps sort and range-compare as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn carries the read and bookkeeping queries shared by Store and Tx.
type conn struct {
	q querier
	d dialect
}

func (c conn) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.d.rebind(query), args...)
}

func (c conn) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.q.QueryContext(ctx, c.d.rebind(query), args...)
}

func (c conn) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return c.q.QueryRowContext(ctx, c.d.rebind(query), args...)
}

// Store is the ledger store. Balance writes are only reachable through Tx,
// which the transaction processor owns.
type Store struct {
	conn
	db *sql.DB
}

// Tx is one serializable unit of ledger work.
type Tx struct {
	conn
	tx *sql.Tx
}

// Open connects to driver ("sqlite" or "postgres") and migrates the schema.
func Open(driver, dsn string) (*Store, error) {
	var (
		d          dialect
		driverName string
	)
	switch driver {
	case "", "sqlite":
		d, driverName = dialectSQLite, "sqlite"
	case "postgres", "pgx":
		d, driverName = dialectPostgres, "pgx"
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, err
	}

	if d == dialectSQLite {
		// one writer; every balance write is serialized through this conn
		db.SetMaxOpenConns(1)
		db.Exec("PRAGMA foreign_keys = ON;")
		db.Exec("PRAGMA journal_mode = WAL;")
		db.Exec("PRAGMA busy_timeout = 5000;")
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	s := &Store{conn: conn{q: db, d: d}, db: db}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn in a database transaction, committing only if fn returns nil.
// fn must use the Tx it is given; calling Store methods from inside fn
// deadlocks on SQLite.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&Tx{conn: conn{q: sqlTx, d: s.d}, tx: sqlTx}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS seller_financials(
		seller_id TEXT PRIMARY KEY,
		kyc_status TEXT NOT NULL,
		payouts_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS seller_balances(
		seller_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		available TEXT NOT NULL,
		pending TEXT NOT NULL,
		total_earnings TEXT NOT NULL,
		version BIGINT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (seller_id, currency)
	)`,
	`CREATE TABLE IF NOT EXISTS transactions(
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		reference_id TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		created_at TEXT NOT NULL,
		reversed_at TEXT,
		reverses_transaction_id TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_seller_currency ON transactions(seller_id, currency)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_created_at ON transactions(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tx_reference ON transactions(reference_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_tx_reverses ON transactions(reverses_transaction_id)`,
	`CREATE TABLE IF NOT EXISTS payouts(
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		currency TEXT NOT NULL,
		status TEXT NOT NULL,
		transaction_id TEXT,
		failure_reason TEXT NOT NULL DEFAULT '',
		requested_by TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		processed_at TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payouts_seller ON payouts(seller_id)`,
	`CREATE TABLE IF NOT EXISTS orders(
		id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		shipping_cost TEXT NOT NULL,
		taxes TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		total TEXT NOT NULL,
		platform_fee TEXT NOT NULL,
		platform_fee_base TEXT NOT NULL,
		seller_payout TEXT NOT NULL,
		sale_transaction_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders(created_at)`,
	`CREATE TABLE IF NOT EXISTS order_refunds(
		return_id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL,
		transaction_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_refunds_order ON order_refunds(order_id)`,
	`CREATE TABLE IF NOT EXISTS tax_rule_sets(
		version BIGINT PRIMARY KEY,
		rates TEXT NOT NULL,
		default_rate TEXT NOT NULL,
		updated_by TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS idempotency_keys(
		key_id TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		response_status INTEGER NOT NULL,
		response_body TEXT NOT NULL,
		created_at TEXT NOT NULL,
		PRIMARY KEY (key_id, actor_id)
	)`,
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// rebind turns ? placeholders into $n for PostgreSQL.
func (d dialect) rebind(q string) string {
	if d != dialectPostgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isUniqueViolation reports a primary key or unique index collision from
// either driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
