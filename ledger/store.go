/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the boundary between engine logic and the data store. The engine
  assumes a shared transactional store; every multi-step operation runs
  inside TxStore.WithTx with the order, payment or session row locked.

KEY INTERFACES:
  OrderStore:   orders, order items, order_status_log
  PaymentStore: payments and refunds
  SessionStore: staff sessions and cash drawer counts
  TxStore:      all of the above plus WithTx

UNIQUENESS CONTRACT:
  Implementations enforce these at the storage layer, not by check-then-insert:
  - payments.idempotency_key UNIQUE        -> ErrDuplicateIdempotencyKey
  - refunds.idempotency_key UNIQUE         -> ErrDuplicateIdempotencyKey
  - one staff_sessions row per user with logout_time NULL -> ErrSessionAlreadyOpen
  - cash_drawer_counts.session_id UNIQUE   -> ErrDuplicateCount

LOOKUPS:
  Get and Lock methods return (nil, nil) when the row does not exist. Lock
  methods take a row lock where the backend supports it (SELECT ... FOR
  UPDATE); outside a transaction they behave like the Get methods.

IMPLEMENTATIONS:
  - store/sqlite:  SQLite (default)
  - store/postgres: PostgreSQL
  - ledger/store:  in-memory, for tests
*/
package ledger

import (
	"context"
	"time"
)

// =============================================================================
// ORDER STORE
// =============================================================================

type OrderStore interface {
	// CreateOrder inserts the order and its items.
	CreateOrder(ctx context.Context, order Order, items []OrderItem) error

	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	LockOrder(ctx context.Context, id OrderID) (*Order, error)

	// UpdateOrder writes every mutable order column if the stored version still
	// equals expectedVersion, and sets version = expectedVersion + 1.
	// Returns ErrConcurrencyConflict when the version moved.
	UpdateOrder(ctx context.Context, order Order, expectedVersion int64) error

	InsertOrderItem(ctx context.Context, item OrderItem) error
	ListOrderItems(ctx context.Context, id OrderID) ([]OrderItem, error)

	// AppendStatusLog is the only write to order_status_log.
	AppendStatusLog(ctx context.Context, entry StatusLogEntry) error
	ListStatusLog(ctx context.Context, id OrderID) ([]StatusLogEntry, error)
}

// =============================================================================
// PAYMENT STORE
// =============================================================================

type PaymentStore interface {
	InsertPayment(ctx context.Context, p Payment) error
	GetPayment(ctx context.Context, id PaymentID) (*Payment, error)
	LockPayment(ctx context.Context, id PaymentID) (*Payment, error)
	GetPaymentByKey(ctx context.Context, idempotencyKey string) (*Payment, error)
	ListPaymentsByOrder(ctx context.Context, id OrderID) ([]Payment, error)

	// ListPaymentsByProcessor returns payments processed by actor at a branch
	// with created_at in [from, to].
	ListPaymentsByProcessor(ctx context.Context, actor ActorID, branch BranchID, from, to time.Time) ([]Payment, error)

	// UpdatePaymentStatus is the single permitted payment mutation.
	// Returns ErrConcurrencyConflict if the stored status is not from.
	UpdatePaymentStatus(ctx context.Context, id PaymentID, from, to PaymentStatus, at time.Time) error

	InsertRefund(ctx context.Context, r Refund) error
	GetRefundByKey(ctx context.Context, idempotencyKey string) (*Refund, error)
	ListRefundsByPayment(ctx context.Context, id PaymentID) ([]Refund, error)
}

// =============================================================================
// SESSION STORE
// =============================================================================

type SessionStore interface {
	InsertSession(ctx context.Context, s StaffSession) error
	GetSession(ctx context.Context, id SessionID) (*StaffSession, error)
	LockSession(ctx context.Context, id SessionID) (*StaffSession, error)
	GetOpenSession(ctx context.Context, user UserID) (*StaffSession, error)

	// CloseSession sets logout_time and the totals on a still-open session.
	// Returns ErrConcurrencyConflict if the session was already closed.
	CloseSession(ctx context.Context, id SessionID, logoutAt time.Time, totals SessionTotals) error

	InsertCashCount(ctx context.Context, c CashDrawerCount) error
	GetCashCount(ctx context.Context, id SessionID) (*CashDrawerCount, error)
}

// =============================================================================
// COMBINED / TRANSACTIONAL STORE
// =============================================================================

type Store interface {
	OrderStore
	PaymentStore
	SessionStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// Catalog is the read-only reference data service (menu items per branch).
type Catalog interface {
	LookupMenuItem(ctx context.Context, branch BranchID, id MenuItemID) (price Money, found bool, err error)
}
