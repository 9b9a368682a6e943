/*
Package postgres provides the PostgreSQL-backed ledger store.

PURPOSE:
  Multi-terminal deployments share one PostgreSQL database. Rows are locked
  with SELECT ... FOR UPDATE inside each engine transaction, so two
  terminals finalizing the same order serialize on the order row.

DRIVER:
  pgxpool manages connections; stdlib.OpenDBFromPool exposes the pool as a
  *sql.DB for the shared sqlstore queries.

ERROR MAPPING (SQLSTATE):
  23505 unique_violation        -> per-statement uniqueness sentinel
  40001 serialization_failure   -> ErrConcurrencyConflict
  40P01 deadlock_detected       -> ErrConcurrencyConflict
  55P03 lock_not_available      -> ErrConcurrencyConflict
*/
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/warp/pos-ledger/store/sqlstore"
)

var Dialect = sqlstore.Dialect{
	Name:      "postgres",
	Numbered:  true,
	ForUpdate: " FOR UPDATE",
	Classify:  classify,
}

// Store keeps the pool next to the sqlstore so Close releases both.
type Store struct {
	*sqlstore.Store
	pool *pgxpool.Pool
}

// New connects to dsn, applies the schema and returns the store.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := &Store{Store: sqlstore.New(stdlib.OpenDBFromPool(pool), Dialect), pool: pool}
	if err := s.Migrate(ctx, schema); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	err := s.Store.Close()
	s.pool.Close()
	return err
}

func classify(err error) sqlstore.Failure {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return sqlstore.FailureOther
	}
	switch pgErr.Code {
	case "23505":
		return sqlstore.FailureUnique
	case "40001", "40P01", "55P03":
		return sqlstore.FailureConflict
	default:
		return sqlstore.FailureOther
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		table_id TEXT,
		status TEXT NOT NULL CHECK (status IN ('created','sent_to_kitchen','served','bill_requested','paid','closed')),
		payment_status TEXT NOT NULL CHECK (payment_status IN ('unpaid','pending','paid','refunded')),
		subtotal NUMERIC(12,3) NOT NULL,
		tax_amount NUMERIC(12,3) NOT NULL,
		discount_amount NUMERIC(12,3) NOT NULL,
		total_amount NUMERIC(12,3) NOT NULL CHECK (total_amount >= 0),
		locked_at TIMESTAMPTZ,
		version BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_branch_status ON orders(branch_id, status)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		menu_item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price NUMERIC(12,3) NOT NULL CHECK (unit_price >= 0),
		total_price NUMERIC(12,3) NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,

	`CREATE TABLE IF NOT EXISTS order_status_log (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		previous_status TEXT,
		new_status TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_log_order ON order_status_log(order_id, changed_at)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		branch_id TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		amount NUMERIC(12,3) NOT NULL CHECK (amount > 0),
		method TEXT NOT NULL CHECK (method IN ('cash','card','mobile')),
		status TEXT NOT NULL CHECK (status IN ('unpaid','pending','paid','refunded')),
		idempotency_key TEXT NOT NULL UNIQUE,
		transaction_ref TEXT,
		split_group_id TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_processor ON payments(processed_by, branch_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		processed_by TEXT NOT NULL,
		amount NUMERIC(12,3) NOT NULL CHECK (amount > 0),
		reason TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_payment ON refunds(payment_id)`,

	`CREATE TABLE IF NOT EXISTS staff_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		login_time TIMESTAMPTZ NOT NULL,
		logout_time TIMESTAMPTZ,
		cash_total NUMERIC(12,3) NOT NULL DEFAULT 0,
		card_total NUMERIC(12,3) NOT NULL DEFAULT 0,
		mobile_total NUMERIC(12,3) NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_staff_sessions_open
		ON staff_sessions(user_id) WHERE logout_time IS NULL`,

	`CREATE TABLE IF NOT EXISTS cash_drawer_counts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES staff_sessions(id),
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		expected_cash NUMERIC(12,3) NOT NULL,
		counted_cash NUMERIC(12,3) NOT NULL,
		variance NUMERIC(12,3) NOT NULL,
		breakdown TEXT,
		notes TEXT NOT NULL DEFAULT '',
		requires_approval BOOLEAN NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}
