// Package store provides an in-memory ledger.TxStore for tests and local
// development. The SQL backends live under the top-level store/ tree.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/warp/pos-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory enforces the same uniqueness contract as the SQL stores. Every call
// takes the store mutex, so WithTx is fully serialized.
type Memory struct {
	mu sync.Mutex
	d  *data
}

var _ ledger.TxStore = (*Memory)(nil)

type data struct {
	orders     map[ledger.OrderID]ledger.Order
	items      map[ledger.OrderID][]ledger.OrderItem
	statusLog  map[ledger.OrderID][]ledger.StatusLogEntry
	payments   map[ledger.PaymentID]ledger.Payment
	paymentSeq []ledger.PaymentID
	paymentKey map[string]ledger.PaymentID
	refunds    map[ledger.PaymentID][]ledger.Refund
	refundKey  map[string]ledger.Refund
	sessions   map[ledger.SessionID]ledger.StaffSession
	openByUser map[ledger.UserID]ledger.SessionID
	counts     map[ledger.SessionID]ledger.CashDrawerCount
}

func NewMemory() *Memory {
	return &Memory{d: newData()}
}

func newData() *data {
	return &data{
		orders:     make(map[ledger.OrderID]ledger.Order),
		items:      make(map[ledger.OrderID][]ledger.OrderItem),
		statusLog:  make(map[ledger.OrderID][]ledger.StatusLogEntry),
		payments:   make(map[ledger.PaymentID]ledger.Payment),
		paymentKey: make(map[string]ledger.PaymentID),
		refunds:    make(map[ledger.PaymentID][]ledger.Refund),
		refundKey:  make(map[string]ledger.Refund),
		sessions:   make(map[ledger.SessionID]ledger.StaffSession),
		openByUser: make(map[ledger.UserID]ledger.SessionID),
		counts:     make(map[ledger.SessionID]ledger.CashDrawerCount),
	}
}

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.d.clone()
	if err := fn(m.d); err != nil {
		m.d = snapshot
		return err
	}
	return nil
}

func (d *data) clone() *data {
	c := newData()
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.items {
		c.items[k] = append([]ledger.OrderItem(nil), v...)
	}
	for k, v := range d.statusLog {
		c.statusLog[k] = append([]ledger.StatusLogEntry(nil), v...)
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	c.paymentSeq = append([]ledger.PaymentID(nil), d.paymentSeq...)
	for k, v := range d.paymentKey {
		c.paymentKey[k] = v
	}
	for k, v := range d.refunds {
		c.refunds[k] = append([]ledger.Refund(nil), v...)
	}
	for k, v := range d.refundKey {
		c.refundKey[k] = v
	}
	for k, v := range d.sessions {
		c.sessions[k] = v
	}
	for k, v := range d.openByUser {
		c.openByUser[k] = v
	}
	for k, v := range d.counts {
		c.counts[k] = v
	}
	return c
}

// =============================================================================
// LOCKED ENTRY POINTS - Memory methods take the mutex, data methods assume it
// =============================================================================

func (m *Memory) CreateOrder(ctx context.Context, o ledger.Order, items []ledger.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CreateOrder(ctx, o, items)
}

func (m *Memory) GetOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetOrder(ctx, id)
}

func (m *Memory) LockOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return m.GetOrder(ctx, id)
}

func (m *Memory) UpdateOrder(ctx context.Context, o ledger.Order, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdateOrder(ctx, o, expectedVersion)
}

func (m *Memory) InsertOrderItem(ctx context.Context, item ledger.OrderItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertOrderItem(ctx, item)
}

func (m *Memory) ListOrderItems(ctx context.Context, id ledger.OrderID) ([]ledger.OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ListOrderItems(ctx, id)
}

func (m *Memory) AppendStatusLog(ctx context.Context, e ledger.StatusLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.AppendStatusLog(ctx, e)
}

func (m *Memory) ListStatusLog(ctx context.Context, id ledger.OrderID) ([]ledger.StatusLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ListStatusLog(ctx, id)
}

func (m *Memory) InsertPayment(ctx context.Context, p ledger.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertPayment(ctx, p)
}

func (m *Memory) GetPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetPayment(ctx, id)
}

func (m *Memory) LockPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return m.GetPayment(ctx, id)
}

func (m *Memory) GetPaymentByKey(ctx context.Context, key string) (*ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetPaymentByKey(ctx, key)
}

func (m *Memory) ListPaymentsByOrder(ctx context.Context, id ledger.OrderID) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ListPaymentsByOrder(ctx, id)
}

func (m *Memory) ListPaymentsByProcessor(ctx context.Context, actor ledger.ActorID, branch ledger.BranchID, from, to time.Time) ([]ledger.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ListPaymentsByProcessor(ctx, actor, branch, from, to)
}

func (m *Memory) UpdatePaymentStatus(ctx context.Context, id ledger.PaymentID, from, to ledger.PaymentStatus, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.UpdatePaymentStatus(ctx, id, from, to, at)
}

func (m *Memory) InsertRefund(ctx context.Context, r ledger.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertRefund(ctx, r)
}

func (m *Memory) GetRefundByKey(ctx context.Context, key string) (*ledger.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetRefundByKey(ctx, key)
}

func (m *Memory) ListRefundsByPayment(ctx context.Context, id ledger.PaymentID) ([]ledger.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.ListRefundsByPayment(ctx, id)
}

func (m *Memory) InsertSession(ctx context.Context, s ledger.StaffSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertSession(ctx, s)
}

func (m *Memory) GetSession(ctx context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetSession(ctx, id)
}

func (m *Memory) LockSession(ctx context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	return m.GetSession(ctx, id)
}

func (m *Memory) GetOpenSession(ctx context.Context, user ledger.UserID) (*ledger.StaffSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetOpenSession(ctx, user)
}

func (m *Memory) CloseSession(ctx context.Context, id ledger.SessionID, logoutAt time.Time, totals ledger.SessionTotals) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.CloseSession(ctx, id, logoutAt, totals)
}

func (m *Memory) InsertCashCount(ctx context.Context, c ledger.CashDrawerCount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.InsertCashCount(ctx, c)
}

func (m *Memory) GetCashCount(ctx context.Context, id ledger.SessionID) (*ledger.CashDrawerCount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.d.GetCashCount(ctx, id)
}

// =============================================================================
// ORDERS
// =============================================================================

func (d *data) CreateOrder(_ context.Context, o ledger.Order, items []ledger.OrderItem) error {
	if _, ok := d.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	d.orders[o.ID] = o
	d.items[o.ID] = append([]ledger.OrderItem(nil), items...)
	return nil
}

func (d *data) GetOrder(_ context.Context, id ledger.OrderID) (*ledger.Order, error) {
	o, ok := d.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (d *data) LockOrder(ctx context.Context, id ledger.OrderID) (*ledger.Order, error) {
	return d.GetOrder(ctx, id)
}

func (d *data) UpdateOrder(_ context.Context, o ledger.Order, expectedVersion int64) error {
	current, ok := d.orders[o.ID]
	if !ok {
		return fmt.Errorf("order %s: %w", o.ID, ledger.ErrOrderNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("order %s at version %d, expected %d: %w",
			o.ID, current.Version, expectedVersion, ledger.ErrConcurrencyConflict)
	}
	o.Version = expectedVersion + 1
	d.orders[o.ID] = o
	return nil
}

func (d *data) InsertOrderItem(_ context.Context, item ledger.OrderItem) error {
	if _, ok := d.orders[item.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", item.OrderID, ledger.ErrOrderNotFound)
	}
	d.items[item.OrderID] = append(d.items[item.OrderID], item)
	return nil
}

func (d *data) ListOrderItems(_ context.Context, id ledger.OrderID) ([]ledger.OrderItem, error) {
	return append([]ledger.OrderItem(nil), d.items[id]...), nil
}

func (d *data) AppendStatusLog(_ context.Context, e ledger.StatusLogEntry) error {
	if _, ok := d.orders[e.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", e.OrderID, ledger.ErrOrderNotFound)
	}
	d.statusLog[e.OrderID] = append(d.statusLog[e.OrderID], e)
	return nil
}

func (d *data) ListStatusLog(_ context.Context, id ledger.OrderID) ([]ledger.StatusLogEntry, error) {
	return append([]ledger.StatusLogEntry(nil), d.statusLog[id]...), nil
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

func (d *data) InsertPayment(_ context.Context, p ledger.Payment) error {
	if _, ok := d.paymentKey[p.IdempotencyKey]; ok {
		return fmt.Errorf("payment key %q: %w", p.IdempotencyKey, ledger.ErrDuplicateIdempotencyKey)
	}
	if _, ok := d.orders[p.OrderID]; !ok {
		return fmt.Errorf("order %s: %w", p.OrderID, ledger.ErrOrderNotFound)
	}
	d.payments[p.ID] = p
	d.paymentSeq = append(d.paymentSeq, p.ID)
	d.paymentKey[p.IdempotencyKey] = p.ID
	return nil
}

func (d *data) GetPayment(_ context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	p, ok := d.payments[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (d *data) LockPayment(ctx context.Context, id ledger.PaymentID) (*ledger.Payment, error) {
	return d.GetPayment(ctx, id)
}

func (d *data) GetPaymentByKey(ctx context.Context, key string) (*ledger.Payment, error) {
	id, ok := d.paymentKey[key]
	if !ok {
		return nil, nil
	}
	return d.GetPayment(ctx, id)
}

func (d *data) ListPaymentsByOrder(_ context.Context, id ledger.OrderID) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, pid := range d.paymentSeq {
		if p := d.payments[pid]; p.OrderID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (d *data) ListPaymentsByProcessor(_ context.Context, actor ledger.ActorID, branch ledger.BranchID, from, to time.Time) ([]ledger.Payment, error) {
	var out []ledger.Payment
	for _, pid := range d.paymentSeq {
		p := d.payments[pid]
		if p.ProcessedBy != actor || p.BranchID != branch {
			continue
		}
		if p.CreatedAt.Before(from) || p.CreatedAt.After(to) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (d *data) UpdatePaymentStatus(_ context.Context, id ledger.PaymentID, from, to ledger.PaymentStatus, at time.Time) error {
	p, ok := d.payments[id]
	if !ok {
		return fmt.Errorf("payment %s: %w", id, ledger.ErrPaymentNotFound)
	}
	if p.Status != from {
		return fmt.Errorf("payment %s is %s, expected %s: %w", id, p.Status, from, ledger.ErrConcurrencyConflict)
	}
	p.Status = to
	p.UpdatedAt = at
	d.payments[id] = p
	return nil
}

func (d *data) InsertRefund(_ context.Context, r ledger.Refund) error {
	if r.IdempotencyKey != "" {
		if _, ok := d.refundKey[r.IdempotencyKey]; ok {
			return fmt.Errorf("refund key %q: %w", r.IdempotencyKey, ledger.ErrDuplicateIdempotencyKey)
		}
	}
	if _, ok := d.payments[r.PaymentID]; !ok {
		return fmt.Errorf("payment %s: %w", r.PaymentID, ledger.ErrPaymentNotFound)
	}
	d.refunds[r.PaymentID] = append(d.refunds[r.PaymentID], r)
	if r.IdempotencyKey != "" {
		d.refundKey[r.IdempotencyKey] = r
	}
	return nil
}

func (d *data) GetRefundByKey(_ context.Context, key string) (*ledger.Refund, error) {
	r, ok := d.refundKey[key]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (d *data) ListRefundsByPayment(_ context.Context, id ledger.PaymentID) ([]ledger.Refund, error) {
	return append([]ledger.Refund(nil), d.refunds[id]...), nil
}

// =============================================================================
// SESSIONS / CASH COUNTS
// =============================================================================

func (d *data) InsertSession(_ context.Context, s ledger.StaffSession) error {
	if s.IsOpen() {
		if existing, ok := d.openByUser[s.UserID]; ok {
			return fmt.Errorf("user %s has open session %s: %w", s.UserID, existing, ledger.ErrSessionAlreadyOpen)
		}
		d.openByUser[s.UserID] = s.ID
	}
	d.sessions[s.ID] = s
	return nil
}

func (d *data) GetSession(_ context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	s, ok := d.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (d *data) LockSession(ctx context.Context, id ledger.SessionID) (*ledger.StaffSession, error) {
	return d.GetSession(ctx, id)
}

func (d *data) GetOpenSession(ctx context.Context, user ledger.UserID) (*ledger.StaffSession, error) {
	id, ok := d.openByUser[user]
	if !ok {
		return nil, nil
	}
	return d.GetSession(ctx, id)
}

func (d *data) CloseSession(_ context.Context, id ledger.SessionID, logoutAt time.Time, totals ledger.SessionTotals) error {
	s, ok := d.sessions[id]
	if !ok {
		return fmt.Errorf("session %s: %w", id, ledger.ErrSessionNotFound)
	}
	if !s.IsOpen() {
		return fmt.Errorf("session %s already closed: %w", id, ledger.ErrConcurrencyConflict)
	}
	s.LogoutTime = &logoutAt
	s.Totals = totals
	d.sessions[id] = s
	delete(d.openByUser, s.UserID)
	return nil
}

func (d *data) InsertCashCount(_ context.Context, c ledger.CashDrawerCount) error {
	if _, ok := d.counts[c.SessionID]; ok {
		return fmt.Errorf("session %s: %w", c.SessionID, ledger.ErrDuplicateCount)
	}
	d.counts[c.SessionID] = c
	return nil
}

func (d *data) GetCashCount(_ context.Context, id ledger.SessionID) (*ledger.CashDrawerCount, error) {
	c, ok := d.counts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}
