/*
Package sqlstore implements ledger.TxStore on database/sql.

PURPOSE:
  One implementation of every ledger query shared by the SQLite and
  PostgreSQL backends. Backends contribute a Dialect (placeholder style, row
  lock clause, driver error classification) and their schema.

UNIQUENESS CONTRACT:
  Enforced by the schema, translated here per statement:
  - payments.idempotency_key / refunds.idempotency_key -> ErrDuplicateIdempotencyKey
  - staff_sessions partial unique index on open sessions -> ErrSessionAlreadyOpen
  - cash_drawer_counts.session_id                       -> ErrDuplicateCount
  Lock timeouts, deadlocks and serialization failures -> ErrConcurrencyConflict.

MONEY / TIME:
  Money is written as its fixed 3-decimal string and scanned back through
  decimal.Decimal, so both TEXT (SQLite) and NUMERIC (PostgreSQL) round-trip
  exactly. Sums are computed in Go, never in SQL. Times are written as UTC
  time.Time values.

SEE ALSO:
  - ledger/store.go: interface definitions
  - store/sqlite, store/postgres: dialects and schemas
*/
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/warp/pos-ledger/ledger"
)

// Failure classifies a driver error.
type Failure int

const (
	FailureOther Failure = iota
	FailureUnique
	FailureConflict // busy, lock timeout, deadlock, serialization failure
)

// Dialect captures what differs between backends.
type Dialect struct {
	Name string
	// Numbered rewrites ? placeholders to $1, $2, ...
	Numbered bool
	// ForUpdate is appended to row-lock reads, for example " FOR UPDATE".
	ForUpdate string
	Classify  func(error) Failure
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements ledger.TxStore. Inside WithTx the callback receives a
// Store bound to the *sql.Tx.
type Store struct {
	db      *sql.DB
	dialect Dialect
	q       querier
	inTx    bool
}

var _ ledger.TxStore = (*Store)(nil)

func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, dialect: d, q: db}
}

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

// Migrate executes schema statements in order.
func (s *Store) Migrate(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.dialect.Name, err)
		}
	}
	return nil
}

// Ping is used by health checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx executes fn within a database transaction. Nested calls reuse the
// outer transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if s.inTx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.translate(fmt.Errorf("failed to begin transaction: %w", err), nil)
	}
	defer tx.Rollback()

	if err := fn(&Store{db: s.db, dialect: s.dialect, q: tx, inTx: true}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return s.translate(fmt.Errorf("failed to commit: %w", err), nil)
	}
	return nil
}

// =============================================================================
// QUERY HELPERS
// =============================================================================

func (s *Store) rebind(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
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

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.rebind(query), args...)
}

// translate maps driver failures onto ledger sentinels. onUnique is the
// sentinel for a unique violation on the statement at hand.
func (s *Store) translate(err error, onUnique error) error {
	if err == nil || s.dialect.Classify == nil {
		return err
	}
	switch s.dialect.Classify(err) {
	case FailureUnique:
		if onUnique != nil {
			return fmt.Errorf("%w: %v", onUnique, err)
		}
	case FailureConflict:
		return fmt.Errorf("%w: %v", ledger.ErrConcurrencyConflict, err)
	}
	return err
}

func (s *Store) changedOne(res sql.Result, conflict string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%s: %w", conflict, ledger.ErrConcurrencyConflict)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

// =============================================================================
// ORDERS
// =============================================================================

const orderColumns = `id, branch_id, table_id, status, payment_status, subtotal, tax_amount,
	discount_amount, total_amount, locked_at, version, created_at, updated_at`

func scanOrder(row scanner) (*ledger.Order, error) {
	var (
		o        ledger.Order
		tableID  sql.NullString
		lockedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.BranchID, &tableID, &o.Status, &o.PaymentStatus,
		&o.Subtotal.Value, &o.TaxAmount.Value, &o.DiscountAmount.Value, &o.TotalAmount.Value,
		&lockedAt, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if tableID.Valid {
		o.TableID = &tableID.String
	}
	o.LockedAt = timePtr(lockedAt)
	o.CreatedAt, o.UpdatedAt = o.CreatedAt.UTC(), o.UpdatedAt.UTC()
	return &o, nil
}

func (s *Store) CreateOrder(ctx context.Context, o ledger.Order, items []ledger.OrderItem) error {
	var tableID sql.NullString
	if o.TableID != nil {
		tableID = sql.NullString{String: *o.TableID, Valid: true}
	}
	_, err := s.exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.BranchID, tableID, o.Status, o.PaymentStatus,
		o.Subtotal.String(), o.TaxAmount.String(), o.DiscountAmount.String(), o.TotalAmount.String(),
		nullTime(o.LockedAt), o.Version, o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert order: %w", err), nil)
	}
	for _, item := range items {
		if err := s.InsertOrderItem(ctx, item); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) getOrder(ctx context.Context, id ledger.OrderID, lock string) (*ledger.Order, error) {
	o, err := scanOrder(s.queryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`+lock, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate(fmt.Errorf("get order %s: %w", id, err), nil)
	}
	return o, nil
}

func (s *Store) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return s.getOrder(ctx, id, "")
}

func (s *Store) LockOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return s.getOrder(ctx, id, s.dialect.ForUpdate)
}

func (s *Store) UpdateOrder(ctx context.Context, o ledger.Order, expectedVersion int64) error {
	res, err := s.exec(ctx, `UPDATE orders SET status = ?, payment_status = ?, subtotal = ?, tax_amount = ?,
		discount_amount = ?, total_amount = ?, locked_at = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		o.Status, o.PaymentStatus, o.Subtotal.String(), o.TaxAmount.String(),
		o.DiscountAmount.String(), o.TotalAmount.String(), nullTime(o.LockedAt), expectedVersion+1, o.UpdatedAt.UTC(),
		o.ID, expectedVersion)
	if err != nil {
		return s.translate(fmt.Errorf("update order %s: %w", o.ID, err), nil)
	}
	return s.changedOne(res, fmt.Sprintf("order %s is no longer at version %d", o.ID, expectedVersion))
}

func (s *Store) InsertOrderItem(ctx context.Context, item ledger.OrderItem) error {
	_, err := s.exec(ctx, `INSERT INTO order_items
		(id, order_id, menu_item_id, quantity, unit_price, total_price, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.OrderID, item.MenuItemID, item.Quantity,
		item.UnitPrice.String(), item.TotalPrice.String(), item.Notes, item.CreatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert order item: %w", err), nil)
	}
	return nil
}

func (s *Store) ListOrderItems(ctx context.Context, id ledger.OrderID) ([]ledger.OrderItem, error) {
	rows, err := s.query(ctx, `SELECT id, order_id, menu_item_id, quantity, unit_price, total_price, notes, created_at
		FROM order_items WHERE order_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	defer rows.Close()

	var items []ledger.OrderItem
	for rows.Next() {
		var it ledger.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.MenuItemID, &it.Quantity,
			&it.UnitPrice.Value, &it.TotalPrice.Value, &it.Notes, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		it.CreatedAt = it.CreatedAt.UTC()
		items = append(items, it)
	}
	return items, rows.Err()
}

func (s *Store) AppendStatusLog(ctx context.Context, e ledger.StatusLogEntry) error {
	var prev sql.NullString
	if e.PreviousStatus != nil {
		prev = sql.NullString{String: string(*e.PreviousStatus), Valid: true}
	}
	_, err := s.exec(ctx, `INSERT INTO order_status_log (id, order_id, previous_status, new_status, changed_by, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.OrderID, prev, e.NewStatus, e.ChangedBy, e.ChangedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert status log: %w", err), nil)
	}
	return nil
}

func (s *Store) ListStatusLog(ctx context.Context, id ledger.OrderID) ([]ledger.StatusLogEntry, error) {
	rows, err := s.query(ctx, `SELECT id, order_id, previous_status, new_status, changed_by, changed_at
		FROM order_status_log WHERE order_id = ? ORDER BY changed_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list status log: %w", err)
	}
	defer rows.Close()

	var entries []ledger.StatusLogEntry
	for rows.Next() {
		var (
			e    ledger.StatusLogEntry
			prev sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.OrderID, &prev, &e.NewStatus, &e.ChangedBy, &e.ChangedAt); err != nil {
			return nil, fmt.Errorf("scan status log: %w", err)
		}
		if prev.Valid {
			st := ledger.OrderStatus(prev.String)
			e.PreviousStatus = &st
		}
		e.ChangedAt = e.ChangedAt.UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, order_id, branch_id, processed_by, amount, method, status,
	idempotency_key, transaction_ref, split_group_id, created_at, updated_at`

func scanPayment(row scanner) (*ledger.Payment, error) {
	var (
		p     ledger.Payment
		ref   sql.NullString
		group sql.NullString
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.BranchID, &p.ProcessedBy, &p.Amount.Value, &p.Method, &p.Status,
		&p.IdempotencyKey, &ref, &group, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.TransactionRef, p.SplitGroupID = ref.String, group.String
	p.CreatedAt, p.UpdatedAt = p.CreatedAt.UTC(), p.UpdatedAt.UTC()
	return &p, nil
}

func (s *Store) InsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := s.exec(ctx, `INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrderID, p.BranchID, p.ProcessedBy, p.Amount.String(), p.Method, p.Status,
		p.IdempotencyKey, nullString(p.TransactionRef), nullString(p.SplitGroupID),
		p.CreatedAt.UTC(), p.UpdatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert payment %q: %w", p.IdempotencyKey, err), ledger.ErrDuplicateIdempotencyKey)
	}
	return nil
}

func (s *Store) getPayment(ctx context.Context, where, lock string, arg any) (*ledger.Payment, error) {
	p, err := scanPayment(s.queryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+where+lock, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate(fmt.Errorf("get payment: %w", err), nil)
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return s.getPayment(ctx, "id = ?", "", id)
}

func (s *Store) LockPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return s.getPayment(ctx, "id = ?", s.dialect.ForUpdate, id)
}

func (s *Store) GetPaymentByKey(ctx context.Context, key string) (*ledger.Payment, error) {
	return s.getPayment(ctx, "idempotency_key = ?", "", key)
}

func (s *Store) listPayments(ctx context.Context, query string, args ...any) ([]ledger.Payment, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []ledger.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *Store) ListPaymentsByOrder(ctx context.Context, id ledger.OrderID) ([]ledger.Payment, error) {
	return s.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE order_id = ? ORDER BY created_at, id`, id)
}

func (s *Store) ListPaymentsByProcessor(ctx context.Context, actor ledger.ActorID, branch ledger.BranchID, from, to time.Time) ([]ledger.Payment, error) {
	return s.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments
		WHERE processed_by = ? AND branch_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at, id`, actor, branch, from.UTC(), to.UTC())
}

func (s *Store) UpdatePaymentStatus(ctx context.Context, id ledger.PaymentID, from, to ledger.PaymentStatus, at time.Time) error {
	res, err := s.exec(ctx, `UPDATE payments SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		to, at.UTC(), id, from)
	if err != nil {
		return s.translate(fmt.Errorf("update payment %s: %w", id, err), nil)
	}
	return s.changedOne(res, fmt.Sprintf("payment %s is no longer %s", id, from))
}

// =============================================================================
// REFUNDS
// =============================================================================

const refundColumns = `id, payment_id, processed_by, amount, reason, idempotency_key, created_at`

func scanRefund(row scanner) (*ledger.Refund, error) {
	var (
		r   ledger.Refund
		key sql.NullString
	)
	if err := row.Scan(&r.ID, &r.PaymentID, &r.ProcessedBy, &r.Amount.Value, &r.Reason, &key, &r.CreatedAt); err != nil {
		return nil, err
	}
	r.IdempotencyKey = key.String
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (s *Store) InsertRefund(ctx context.Context, r ledger.Refund) error {
	_, err := s.exec(ctx, `INSERT INTO refunds (`+refundColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.PaymentID, r.ProcessedBy, r.Amount.String(), r.Reason, nullString(r.IdempotencyKey), r.CreatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert refund: %w", err), ledger.ErrDuplicateIdempotencyKey)
	}
	return nil
}

func (s *Store) GetRefundByKey(ctx context.Context, key string) (*ledger.Refund, error) {
	r, err := scanRefund(s.queryRow(ctx, `SELECT `+refundColumns+` FROM refunds WHERE idempotency_key = ?`, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get refund: %w", err)
	}
	return r, nil
}

func (s *Store) ListRefundsByPayment(ctx context.Context, id ledger.PaymentID) ([]ledger.Refund, error) {
	rows, err := s.query(ctx, `SELECT `+refundColumns+` FROM refunds WHERE payment_id = ? ORDER BY created_at, id`, id)
	if err != nil {
		return nil, fmt.Errorf("list refunds: %w", err)
	}
	defer rows.Close()

	var out []ledger.Refund
	for rows.Next() {
		r, err := scanRefund(rows)
		if err != nil {
			return nil, fmt.Errorf("scan refund: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// =============================================================================
// SESSIONS
// =============================================================================

const sessionColumns = `id, user_id, branch_id, login_time, logout_time, cash_total, card_total, mobile_total, created_at`

func scanSession(row scanner) (*ledger.StaffSession, error) {
	var (
		ss     ledger.StaffSession
		logout sql.NullTime
	)
	err := row.Scan(&ss.ID, &ss.UserID, &ss.BranchID, &ss.LoginTime, &logout,
		&ss.Totals.Cash.Value, &ss.Totals.Card.Value, &ss.Totals.Mobile.Value, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}
	ss.LoginTime, ss.CreatedAt = ss.LoginTime.UTC(), ss.CreatedAt.UTC()
	ss.LogoutTime = timePtr(logout)
	return &ss, nil
}

func (s *Store) InsertSession(ctx context.Context, ss ledger.StaffSession) error {
	_, err := s.exec(ctx, `INSERT INTO staff_sessions (`+sessionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ss.ID, ss.UserID, ss.BranchID, ss.LoginTime.UTC(), nullTime(ss.LogoutTime),
		ss.Totals.Cash.String(), ss.Totals.Card.String(), ss.Totals.Mobile.String(), ss.CreatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert session for %s: %w", ss.UserID, err), ledger.ErrSessionAlreadyOpen)
	}
	return nil
}

func (s *Store) getSession(ctx context.Context, where, lock string, arg any) (*ledger.StaffSession, error) {
	ss, err := scanSession(s.queryRow(ctx, `SELECT `+sessionColumns+` FROM staff_sessions WHERE `+where+lock, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, s.translate(fmt.Errorf("get session: %w", err), nil)
	}
	return ss, nil
}

func (s *Store) GetSession(ctx context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	return s.getSession(ctx, "id = ?", "", id)
}

func (s *Store) LockSession(ctx context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	return s.getSession(ctx, "id = ?", s.dialect.ForUpdate, id)
}

func (s *Store) GetOpenSession(ctx context.Context, user ledger.UserID) (*ledger.StaffSession, error) {
	return s.getSession(ctx, "user_id = ? AND logout_time IS NULL", "", user)
}

func (s *Store) CloseSession(ctx context.Context, id ledger.SessionID, logoutAt time.Time, totals ledger.SessionTotals) error {
	res, err := s.exec(ctx, `UPDATE staff_sessions SET logout_time = ?, cash_total = ?, card_total = ?, mobile_total = ?
		WHERE id = ? AND logout_time IS NULL`,
		logoutAt.UTC(), totals.Cash.String(), totals.Card.String(), totals.Mobile.String(), id)
	if err != nil {
		return s.translate(fmt.Errorf("close session %s: %w", id, err), nil)
	}
	return s.changedOne(res, fmt.Sprintf("session %s already closed", id))
}

// =============================================================================
// CASH DRAWER COUNTS
// =============================================================================

func (s *Store) InsertCashCount(ctx context.Context, c ledger.CashDrawerCount) error {
	var breakdown sql.NullString
	if len(c.Breakdown) > 0 {
		raw, err := json.Marshal(c.Breakdown)
		if err != nil {
			return fmt.Errorf("encode breakdown: %w", err)
		}
		breakdown = sql.NullString{String: string(raw), Valid: true}
	}
	_, err := s.exec(ctx, `INSERT INTO cash_drawer_counts
		(id, session_id, user_id, branch_id, expected_cash, counted_cash, variance, breakdown, notes, requires_approval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.SessionID, c.UserID, c.BranchID, c.ExpectedCash.String(), c.CountedCash.String(),
		c.Variance.String(), breakdown, c.Notes, c.RequiresApproval, c.CreatedAt.UTC())
	if err != nil {
		return s.translate(fmt.Errorf("insert cash count for %s: %w", c.SessionID, err), ledger.ErrDuplicateCount)
	}
	return nil
}

func (s *Store) GetCashCount(ctx context.Context, id ledger.SessionID) (*ledger.CashDrawerCount, error) {
	var (
		c         ledger.CashDrawerCount
		breakdown sql.NullString
	)
	err := s.queryRow(ctx, `SELECT id, session_id, user_id, branch_id, expected_cash, counted_cash, variance,
		breakdown, notes, requires_approval, created_at
		FROM cash_drawer_counts WHERE session_id = ?`, id).Scan(
		&c.ID, &c.SessionID, &c.UserID, &c.BranchID, &c.ExpectedCash.Value, &c.CountedCash.Value,
		&c.Variance.Value, &breakdown, &c.Notes, &c.RequiresApproval, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cash count: %w", err)
	}
	if breakdown.Valid && breakdown.String != "" {
		if err := json.Unmarshal([]byte(breakdown.String), &c.Breakdown); err != nil {
			return nil, fmt.Errorf("decode breakdown: %w", err)
		}
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}
