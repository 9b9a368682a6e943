// Package storetest is a conformance suite for ledger.TxStore
// implementations. Each backend's tests call Run with a constructor that
// returns an empty store.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
)

var t0 = time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)

func m(s string) ledger.Money { return ledger.MustParseMoney(s) }

// Run executes every conformance test against stores built by newStore.
func Run(t *testing.T, newStore func(t *testing.T) ledger.TxStore) {
	t.Run("OrderRoundTrip", func(t *testing.T) { testOrderRoundTrip(t, newStore(t)) })
	t.Run("UpdateOrderChecksVersion", func(t *testing.T) { testUpdateOrderVersion(t, newStore(t)) })
	t.Run("StatusLogAppendOnly", func(t *testing.T) { testStatusLog(t, newStore(t)) })
	t.Run("PaymentKeyUnique", func(t *testing.T) { testPaymentKeyUnique(t, newStore(t)) })
	t.Run("PaymentStatusCompareAndSet", func(t *testing.T) { testPaymentStatus(t, newStore(t)) })
	t.Run("PaymentsByProcessorWindow", func(t *testing.T) { testPaymentsByProcessor(t, newStore(t)) })
	t.Run("RefundKeyUnique", func(t *testing.T) { testRefundKeyUnique(t, newStore(t)) })
	t.Run("OneOpenSessionPerUser", func(t *testing.T) { testOpenSession(t, newStore(t)) })
	t.Run("CashCountOncePerSession", func(t *testing.T) { testCashCount(t, newStore(t)) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, newStore(t)) })
}

// =============================================================================
// FIXTURES
// =============================================================================

func order(id ledger.OrderID, total string) ledger.Order {
	return ledger.Order{
		ID:             id,
		BranchID:       "branch-1",
		Status:         ledger.StatusCreated,
		PaymentStatus:  ledger.PaymentUnpaid,
		Subtotal:       m(total),
		TaxAmount:      ledger.Zero,
		DiscountAmount: ledger.Zero,
		TotalAmount:    m(total),
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func item(id ledger.OrderItemID, o ledger.OrderID, qty int, price string) ledger.OrderItem {
	p := m(price)
	return ledger.OrderItem{ID: id, OrderID: o, MenuItemID: "shawarma", Quantity: qty,
		UnitPrice: p, TotalPrice: p.MulInt(qty), CreatedAt: t0}
}

func payment(id ledger.PaymentID, o ledger.OrderID, amount, key string, at time.Time) ledger.Payment {
	return ledger.Payment{
		ID: id, OrderID: o, BranchID: "branch-1", ProcessedBy: "cashier-1",
		Amount: m(amount), Method: ledger.MethodCash, Status: ledger.PaymentPaid,
		IdempotencyKey: key, CreatedAt: at, UpdatedAt: at,
	}
}

func session(id ledger.SessionID, user ledger.UserID) ledger.StaffSession {
	return ledger.StaffSession{
		ID: id, UserID: user, BranchID: "branch-1", LoginTime: t0, CreatedAt: t0,
		Totals: ledger.SessionTotals{Cash: ledger.Zero, Card: ledger.Zero, Mobile: ledger.Zero},
	}
}

func seedOrder(t *testing.T, s ledger.TxStore, id ledger.OrderID, total string) {
	t.Helper()
	require.NoError(t, s.CreateOrder(context.Background(), order(id, total), nil))
}

// =============================================================================
// ORDERS
// =============================================================================

func testOrderRoundTrip(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	table := "T4"
	o := order("o1", "3.750")
	o.TableID = &table
	o.Subtotal = m("3.500")
	o.TaxAmount = m("0.250")

	require.NoError(t, s.CreateOrder(ctx, o, []ledger.OrderItem{
		item("i1", "o1", 2, "1.250"),
		item("i2", "o1", 1, "1.000"),
	}))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "3.750", got.TotalAmount.String())
	assert.Equal(t, "0.250", got.TaxAmount.String())
	require.NotNil(t, got.TableID)
	assert.Equal(t, "T4", *got.TableID)
	assert.Nil(t, got.LockedAt)
	assert.True(t, got.CreatedAt.Equal(t0))

	items, err := s.ListOrderItems(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "2.500", items[0].TotalPrice.String())

	missing, err := s.GetOrder(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func testUpdateOrderVersion(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "5.000")

	o, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	locked := t0.Add(time.Minute)
	o.Status = ledger.StatusSentToKitchen
	o.PaymentStatus = ledger.PaymentPending
	o.LockedAt = &locked
	require.NoError(t, s.UpdateOrder(ctx, *o, 0))

	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, ledger.StatusSentToKitchen, got.Status)
	assert.Equal(t, ledger.PaymentPending, got.PaymentStatus)
	require.NotNil(t, got.LockedAt)
	assert.True(t, got.LockedAt.Equal(locked))

	err = s.UpdateOrder(ctx, *o, 0)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
}

func testStatusLog(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "1.000")

	created := ledger.StatusCreated
	require.NoError(t, s.AppendStatusLog(ctx, ledger.StatusLogEntry{
		ID: "l1", OrderID: "o1", NewStatus: ledger.StatusCreated, ChangedBy: "cashier-1", ChangedAt: t0,
	}))
	require.NoError(t, s.AppendStatusLog(ctx, ledger.StatusLogEntry{
		ID: "l2", OrderID: "o1", PreviousStatus: &created, NewStatus: ledger.StatusSentToKitchen,
		ChangedBy: "cashier-1", ChangedAt: t0.Add(time.Second),
	}))

	log, err := s.ListStatusLog(ctx, "o1")
	require.NoError(t, err)
	require.Len(t, log, 2)
	assert.Nil(t, log[0].PreviousStatus)
	require.NotNil(t, log[1].PreviousStatus)
	assert.Equal(t, ledger.StatusCreated, *log[1].PreviousStatus)
	assert.Equal(t, ledger.StatusSentToKitchen, log[1].NewStatus)
}

// =============================================================================
// PAYMENTS / REFUNDS
// =============================================================================

func testPaymentKeyUnique(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "10.000")

	require.NoError(t, s.InsertPayment(ctx, payment("p1", "o1", "4.000", "k1", t0)))
	err := s.InsertPayment(ctx, payment("p2", "o1", "4.000", "k1", t0))
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	got, err := s.GetPaymentByKey(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.PaymentID("p1"), got.ID)
	assert.Equal(t, "4.000", got.Amount.String())

	payments, err := s.ListPaymentsByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func testPaymentStatus(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "10.000")
	require.NoError(t, s.InsertPayment(ctx, payment("p1", "o1", "10.000", "k1", t0)))

	later := t0.Add(time.Hour)
	require.NoError(t, s.UpdatePaymentStatus(ctx, "p1", ledger.PaymentPaid, ledger.PaymentRefunded, later))
	err := s.UpdatePaymentStatus(ctx, "p1", ledger.PaymentPaid, ledger.PaymentRefunded, later)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)

	got, err := s.GetPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRefunded, got.Status)
	assert.True(t, got.UpdatedAt.Equal(later))
}

func testPaymentsByProcessor(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "100.000")

	before := payment("p0", "o1", "1.000", "k0", t0.Add(-time.Minute))
	atStart := payment("p1", "o1", "2.000", "k1", t0)
	inside := payment("p2", "o1", "3.000", "k2", t0.Add(time.Hour))
	other := payment("p3", "o1", "4.000", "k3", t0.Add(time.Hour))
	other.ProcessedBy = "cashier-2"
	after := payment("p4", "o1", "5.000", "k4", t0.Add(3*time.Hour))
	for _, p := range []ledger.Payment{inside, before, atStart, other, after} {
		require.NoError(t, s.InsertPayment(ctx, p))
	}

	got, err := s.ListPaymentsByProcessor(ctx, "cashier-1", "branch-1", t0, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, ledger.PaymentID("p1"), got[0].ID)
	assert.Equal(t, ledger.PaymentID("p2"), got[1].ID)
}

func testRefundKeyUnique(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "10.000")
	require.NoError(t, s.InsertPayment(ctx, payment("p1", "o1", "10.000", "k1", t0)))

	refund := func(id ledger.RefundID, key string) ledger.Refund {
		return ledger.Refund{ID: id, PaymentID: "p1", ProcessedBy: "cashier-1",
			Amount: m("1.000"), Reason: "cold", IdempotencyKey: key, CreatedAt: t0}
	}
	require.NoError(t, s.InsertRefund(ctx, refund("r1", "rk1")))
	assert.ErrorIs(t, s.InsertRefund(ctx, refund("r2", "rk1")), ledger.ErrDuplicateIdempotencyKey)

	// Refunds without a key never collide.
	require.NoError(t, s.InsertRefund(ctx, refund("r3", "")))
	require.NoError(t, s.InsertRefund(ctx, refund("r4", "")))

	refunds, err := s.ListRefundsByPayment(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, refunds, 3)

	got, err := s.GetRefundByKey(ctx, "rk1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.RefundID("r1"), got.ID)
}

// =============================================================================
// SESSIONS / CASH COUNTS
// =============================================================================

func testOpenSession(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, session("s1", "u1")))
	assert.ErrorIs(t, s.InsertSession(ctx, session("s2", "u1")), ledger.ErrSessionAlreadyOpen)
	require.NoError(t, s.InsertSession(ctx, session("s3", "u2")))

	open, err := s.GetOpenSession(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, ledger.SessionID("s1"), open.ID)

	totals := ledger.SessionTotals{Cash: m("100"), Card: m("20.500"), Mobile: ledger.Zero}
	require.NoError(t, s.CloseSession(ctx, "s1", t0.Add(8*time.Hour), totals))
	assert.ErrorIs(t, s.CloseSession(ctx, "s1", t0.Add(9*time.Hour), totals), ledger.ErrConcurrencyConflict)

	closed, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, closed.LogoutTime)
	assert.True(t, closed.Totals.Equal(totals))

	open, err = s.GetOpenSession(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, open)
	require.NoError(t, s.InsertSession(ctx, session("s4", "u1")))
}

func testCashCount(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	require.NoError(t, s.InsertSession(ctx, session("s1", "u1")))

	count := ledger.CashDrawerCount{
		ID: "c1", SessionID: "s1", UserID: "u1", BranchID: "branch-1",
		ExpectedCash: m("100"), CountedCash: m("99.400"), Variance: m("-0.600"),
		Breakdown: ledger.Breakdown{"20": 4, "10": 1, "5": 1, "0.100": 44}, RequiresApproval: true, CreatedAt: t0,
	}
	require.NoError(t, s.InsertCashCount(ctx, count))
	count.ID = "c2"
	assert.ErrorIs(t, s.InsertCashCount(ctx, count), ledger.ErrDuplicateCount)

	got, err := s.GetCashCount(ctx, "s1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ledger.CountID("c1"), got.ID)
	assert.Equal(t, "-0.600", got.Variance.String())
	assert.True(t, got.RequiresApproval)
	assert.Equal(t, 44, got.Breakdown["0.100"])
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func testRollback(t *testing.T, s ledger.TxStore) {
	ctx := context.Background()
	seedOrder(t, s, "o1", "10.000")
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(tx ledger.Store) error {
		if err := tx.InsertPayment(ctx, payment("p1", "o1", "10.000", "k1", t0)); err != nil {
			return err
		}
		o, err := tx.LockOrder(ctx, "o1")
		if err != nil {
			return err
		}
		o.PaymentStatus = ledger.PaymentPaid
		if err := tx.UpdateOrder(ctx, *o, o.Version); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	payments, err := s.ListPaymentsByOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Empty(t, payments)
	got, err := s.GetOrder(ctx, "o1")
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentUnpaid, got.PaymentStatus)
	assert.Equal(t, int64(0), got.Version)

	// The key is free again after the rollback.
	require.NoError(t, s.WithTx(ctx, func(tx ledger.Store) error {
		return tx.InsertPayment(ctx, payment("p1", "o1", "10.000", "k1", t0))
	}))
}
