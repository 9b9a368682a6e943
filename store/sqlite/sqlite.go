/*
Package sqlite provides the SQLite-backed ledger store.

PURPOSE:
  Opens a SQLite database, applies the ledger schema and hands back a
  sqlstore.Store configured with the SQLite dialect. This is the default
  backend for a single-branch install and for tests.

KEY TABLES:
  orders, order_items, order_status_log: the sale and its audit trail
  payments, refunds:                     money movement, append-only
  staff_sessions, cash_drawer_counts:    shift bookkeeping

UNIQUENESS:
  - payments.idempotency_key UNIQUE
  - refunds.idempotency_key UNIQUE (NULLs allowed)
  - idx_staff_sessions_open: one row per user WHERE logout_time IS NULL
  - cash_drawer_counts.session_id UNIQUE

CONCURRENCY:
  A single connection serializes every transaction, and BEGIN IMMEDIATE
  takes the write lock up front, so SELECT ... FOR UPDATE is not needed.
  SQLITE_BUSY / SQLITE_LOCKED from another process surface as
  ErrConcurrencyConflict and are retried by the engine.

USAGE:
  store, err := sqlite.New("./data/pos.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.New(store)
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/pos-ledger/store/sqlstore"
)

// Dialect is the SQLite flavour of the shared SQL store.
var Dialect = sqlstore.Dialect{
	Name:     "sqlite",
	Classify: classify,
}

// New creates a store at dbPath. Use ":memory:" for an in-memory database.
func New(dbPath string) (*sqlstore.Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: keeps ":memory:" a single database and serializes writers.
	db.SetMaxOpenConns(1)

	store := sqlstore.New(db, Dialect)
	if err := store.Migrate(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func classify(err error) sqlstore.Failure {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return sqlstore.FailureOther
	}
	switch {
	case se.Code == sqlite3.ErrConstraint &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey):
		return sqlstore.FailureUnique
	case se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked:
		return sqlstore.FailureConflict
	default:
		return sqlstore.FailureOther
	}
}

// Money columns are TEXT so the fixed 3-decimal string round-trips exactly;
// NUMERIC affinity would coerce it to REAL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		branch_id TEXT NOT NULL,
		table_id TEXT,
		status TEXT NOT NULL CHECK (status IN ('created','sent_to_kitchen','served','bill_requested','paid','closed')),
		payment_status TEXT NOT NULL CHECK (payment_status IN ('unpaid','pending','paid','refunded')),
		subtotal TEXT NOT NULL,
		tax_amount TEXT NOT NULL,
		discount_amount TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		locked_at TIMESTAMP,
		version INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_branch_status ON orders(branch_id, status)`,

	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		menu_item_id TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL,
		total_price TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id)`,

	`CREATE TABLE IF NOT EXISTS order_status_log (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		previous_status TEXT,
		new_status TEXT NOT NULL,
		changed_by TEXT NOT NULL,
		changed_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_status_log_order ON order_status_log(order_id, changed_at)`,

	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES orders(id),
		branch_id TEXT NOT NULL,
		processed_by TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL CHECK (method IN ('cash','card','mobile')),
		status TEXT NOT NULL CHECK (status IN ('unpaid','pending','paid','refunded')),
		idempotency_key TEXT NOT NULL UNIQUE,
		transaction_ref TEXT,
		split_group_id TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_order ON payments(order_id)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_processor ON payments(processed_by, branch_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS refunds (
		id TEXT PRIMARY KEY,
		payment_id TEXT NOT NULL REFERENCES payments(id),
		processed_by TEXT NOT NULL,
		amount TEXT NOT NULL,
		reason TEXT NOT NULL,
		idempotency_key TEXT UNIQUE,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_refunds_payment ON refunds(payment_id)`,

	`CREATE TABLE IF NOT EXISTS staff_sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		login_time TIMESTAMP NOT NULL,
		logout_time TIMESTAMP,
		cash_total TEXT NOT NULL DEFAULT '0.000',
		card_total TEXT NOT NULL DEFAULT '0.000',
		mobile_total TEXT NOT NULL DEFAULT '0.000',
		created_at TIMESTAMP NOT NULL
	)`,
	// CRITICAL: at most one open session per user.
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_staff_sessions_open
		ON staff_sessions(user_id) WHERE logout_time IS NULL`,

	`CREATE TABLE IF NOT EXISTS cash_drawer_counts (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES staff_sessions(id),
		user_id TEXT NOT NULL,
		branch_id TEXT NOT NULL,
		expected_cash TEXT NOT NULL,
		counted_cash TEXT NOT NULL,
		variance TEXT NOT NULL,
		breakdown TEXT,
		notes TEXT NOT NULL DEFAULT '',
		requires_approval BOOLEAN NOT NULL,
		created_at TIMESTAMP NOT NULL
	)`,
}
