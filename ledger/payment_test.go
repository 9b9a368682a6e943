package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
)

func cashPayment(id ledger.OrderID, amount, key string) ledger.PaymentRequest {
	return ledger.PaymentRequest{
		OrderID:        id,
		Amount:         money(amount),
		Method:         ledger.MethodCash,
		IdempotencyKey: key,
		Actor:          cashier,
	}
}

// =============================================================================
// FINALIZE PAYMENT
// =============================================================================

func TestFinalizePayment_FullPaymentMarksOrderPaid(t *testing.T) {
	// GIVEN: An order at bill_requested with total 12.500
	// WHEN: Paying 12.500 cash with key k1
	// THEN: Order becomes paid, the log gains exactly one paid row, and the
	//       order is locked

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "12.500")

	res, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "12.500", "k1"))
	require.NoError(t, err)
	assert.True(t, res.PaidInFull)
	assert.True(t, res.StatusChanged)
	assert.False(t, res.Idempotent)
	assert.Equal(t, ledger.StatusPaid, res.OrderStatus)
	assert.True(t, res.Remaining.IsZero())
	assert.Equal(t, ledger.PaymentPaid, res.Payment.Status)

	got := h.order(t, order.ID)
	assert.Equal(t, ledger.StatusPaid, got.Status)
	assert.Equal(t, ledger.PaymentPaid, got.PaymentStatus)
	assert.True(t, got.IsLocked())

	log, err := h.store.ListStatusLog(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, log, 5)
	last := log[len(log)-1]
	assert.Equal(t, ledger.StatusPaid, last.NewStatus)
	require.NotNil(t, last.PreviousStatus)
	assert.Equal(t, ledger.StatusBillRequested, *last.PreviousStatus)
}

func TestFinalizePayment_ReplayIsIdempotent(t *testing.T) {
	// GIVEN: k1 already paid the order in full
	// WHEN: The same request is retried
	// THEN: Success with Idempotent=true, the original payment, one row, and
	//       no new events

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "12.500")

	first, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "12.500", "k1"))
	require.NoError(t, err)
	h.events.Reset()

	again, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "12.500", "k1"))
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Payment.ID, again.Payment.ID)
	assert.True(t, again.PaidInFull)
	assert.Equal(t, ledger.StatusPaid, again.OrderStatus)

	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
	assert.Empty(t, h.events.Types())

	log, err := h.store.ListStatusLog(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, log, 5)
}

func TestFinalizePayment_KeyReuseWithDifferentAmountRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "4.000", "k1"))
	require.NoError(t, err)

	_, err = h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "5.000", "k1"))
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "idempotency_key", ve.Field)
}

func TestFinalizePayment_PartialPaymentsAccumulate(t *testing.T) {
	// GIVEN: A 10.000 order
	// WHEN: Paying 4.000 cash then 6.000 card
	// THEN: First leaves it pending with 6.000 remaining; second completes it

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	first, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "4.000", "k1"))
	require.NoError(t, err)
	assert.False(t, first.PaidInFull)
	assert.Equal(t, "6.000", first.Remaining.String())
	assert.Equal(t, ledger.StatusBillRequested, first.OrderStatus)
	assert.Equal(t, ledger.PaymentPending, h.order(t, order.ID).PaymentStatus)

	second, err := h.engine.Payments.FinalizePayment(ctx, ledger.PaymentRequest{
		OrderID: order.ID, Amount: money("6.000"), Method: ledger.MethodCard,
		IdempotencyKey: "k2", TransactionRef: "auth-778", Actor: cashier,
	})
	require.NoError(t, err)
	assert.True(t, second.PaidInFull)
	assert.Equal(t, "10.000", second.TotalPaid.String())
	assert.Equal(t, "auth-778", second.Payment.TransactionRef)
	assert.Equal(t, ledger.StatusPaid, h.order(t, order.ID).Status)
}

func TestFinalizePayment_OverpaymentRejected(t *testing.T) {
	// GIVEN: A 10.000 order with 6.000 already paid
	// WHEN: Paying 5.000
	// THEN: OverpaymentError with 4.000 remaining; no new payment row

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "6.000", "k1"))
	require.NoError(t, err)

	_, err = h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "5.000", "k2"))
	var oe *ledger.OverpaymentError
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, "4.000", oe.Remaining().String())
	assert.False(t, ledger.IsRetryable(err))
	assert.Equal(t, "overpayment_rejected", ledger.Code(err))

	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestFinalizePayment_FailedForcedTransitionRollsBack(t *testing.T) {
	// GIVEN: An order still at served
	// WHEN: A payment would cover the full total
	// THEN: The forced move to paid is refused and the whole unit rolls back:
	//       no payment row, order unlocked and unpaid

	h := newHarness(t)
	ctx := context.Background()
	order := h.newOrder(t, "8.000")
	for i := 0; i < 2; i++ {
		_, err := h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
		require.NoError(t, err)
	}
	h.events.Reset()

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "8.000", "k1"))
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)

	got := h.order(t, order.ID)
	assert.Equal(t, ledger.StatusServed, got.Status)
	assert.Equal(t, ledger.PaymentUnpaid, got.PaymentStatus)
	assert.False(t, got.IsLocked())
	assert.Empty(t, h.events.Types())

	// The key was never consumed, so it works once the bill is requested.
	_, err = h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
	require.NoError(t, err)
	res, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "8.000", "k1"))
	require.NoError(t, err)
	assert.False(t, res.Idempotent)
}

func TestFinalizePayment_ClosedOrderRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "3.000")

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "3.000", "k1"))
	require.NoError(t, err)
	_, err = h.engine.Lifecycle.TransitionTo(ctx, order.ID, ledger.StatusClosed, cashier)
	require.NoError(t, err)

	_, err = h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "0.500", "k2"))
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
}

func TestFinalizePayment_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "3.000")

	cases := []struct {
		name  string
		req   ledger.PaymentRequest
		field string
	}{
		{"zero amount", cashPayment(order.ID, "0", "k1"), "amount"},
		{"negative amount", cashPayment(order.ID, "-1", "k1"), "amount"},
		{"missing key", cashPayment(order.ID, "1", ""), "idempotency_key"},
		{"bad key", cashPayment(order.ID, "1", "white space"), "idempotency_key"},
		{"bad method", ledger.PaymentRequest{OrderID: order.ID, Amount: money("1"), Method: "voucher",
			IdempotencyKey: "k1", Actor: cashier}, "method"},
		{"missing actor", ledger.PaymentRequest{OrderID: order.ID, Amount: money("1"), Method: ledger.MethodCash,
			IdempotencyKey: "k1"}, "actor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Payments.FinalizePayment(ctx, tc.req)
			var ve *ledger.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tc.field, ve.Field)
		})
	}

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment("missing", "1", "k9"))
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

func TestFinalizePayment_EmitsAfterCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "2.000")
	h.events.Reset()

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "2.000", "k1"))
	require.NoError(t, err)
	assert.Equal(t, []ledger.EventType{ledger.EventPaymentRecorded, ledger.EventOrderStatusChanged}, h.events.Types())
}

// =============================================================================
// SPLIT PAYMENT
// =============================================================================

func TestSplitPayment_CoversTotalAcrossTenders(t *testing.T) {
	// GIVEN: A 10.000 order at bill_requested
	// WHEN: Splitting 6.000 cash (k2) and 4.000 card (k3)
	// THEN: total_paid 10.000, order paid, both rows share a split group

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	res, err := h.engine.Payments.SplitPayment(ctx, ledger.SplitRequest{
		OrderID: order.ID,
		Entries: []ledger.SplitEntry{
			{Amount: money("6.000"), Method: ledger.MethodCash, IdempotencyKey: "k2"},
			{Amount: money("4.000"), Method: ledger.MethodCard, IdempotencyKey: "k3"},
		},
		Actor: cashier,
	})
	require.NoError(t, err)
	assert.Equal(t, "10.000", res.TotalPaid.String())
	assert.True(t, res.PaidInFull)
	assert.True(t, res.StatusChanged)
	assert.Equal(t, ledger.StatusPaid, res.OrderStatus)
	require.NotEmpty(t, res.SplitGroupID)

	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)
	for _, p := range payments {
		assert.Equal(t, res.SplitGroupID, p.SplitGroupID)
	}
	assert.Equal(t, ledger.StatusPaid, h.order(t, order.ID).Status)
}

func TestSplitPayment_AllOrNothing(t *testing.T) {
	// GIVEN: A 10.000 order
	// WHEN: Splitting 6.000 + 5.000
	// THEN: Overpayment; neither component was recorded

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	_, err := h.engine.Payments.SplitPayment(ctx, ledger.SplitRequest{
		OrderID: order.ID,
		Entries: []ledger.SplitEntry{
			{Amount: money("6.000"), Method: ledger.MethodCash, IdempotencyKey: "k2"},
			{Amount: money("5.000"), Method: ledger.MethodMobile, IdempotencyKey: "k3"},
		},
		Actor: cashier,
	})
	assert.ErrorIs(t, err, ledger.ErrOverpayment)

	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
	assert.Equal(t, ledger.PaymentUnpaid, h.order(t, order.ID).PaymentStatus)
}

func TestSplitPayment_ReplayIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")
	req := ledger.SplitRequest{
		OrderID: order.ID,
		Entries: []ledger.SplitEntry{
			{Amount: money("6.000"), Method: ledger.MethodCash, IdempotencyKey: "k2"},
			{Amount: money("4.000"), Method: ledger.MethodCard, IdempotencyKey: "k3"},
		},
		Actor: cashier,
	}

	first, err := h.engine.Payments.SplitPayment(ctx, req)
	require.NoError(t, err)
	again, err := h.engine.Payments.SplitPayment(ctx, req)
	require.NoError(t, err)

	assert.True(t, again.Idempotent)
	assert.Equal(t, first.SplitGroupID, again.SplitGroupID)
	payments, err := h.store.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
}

func TestSplitPayment_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	_, err := h.engine.Payments.SplitPayment(ctx, ledger.SplitRequest{OrderID: order.ID, Actor: cashier})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = h.engine.Payments.SplitPayment(ctx, ledger.SplitRequest{
		OrderID: order.ID,
		Entries: []ledger.SplitEntry{
			{Amount: money("1"), Method: ledger.MethodCash, IdempotencyKey: "same"},
			{Amount: money("1"), Method: ledger.MethodCard, IdempotencyKey: "same"},
		},
		Actor: cashier,
	})
	var ve *ledger.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "entries[1].idempotency_key", ve.Field)
}
