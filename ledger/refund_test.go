package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
)

// paidOrder returns a fully paid order and its single card payment.
func (h *harness) paidOrder(t *testing.T, total string) (ledger.Order, ledger.Payment) {
	t.Helper()
	order := h.billRequested(t, total)
	res, err := h.engine.Payments.FinalizePayment(context.Background(), ledger.PaymentRequest{
		OrderID: order.ID, Amount: money(total), Method: ledger.MethodCard,
		IdempotencyKey: "pay-" + string(order.ID), Actor: cashier,
	})
	require.NoError(t, err)
	return h.order(t, order.ID), res.Payment
}

func TestRefund_ExceedingPaymentRejected(t *testing.T) {
	// GIVEN: A payment of 5.000
	// WHEN: Refunding 6.000
	// THEN: RefundExceedsAvailable; no refund row

	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidOrder(t, "5.000")

	_, err := h.engine.Refunds.Refund(ctx, ledger.RefundRequest{
		PaymentID: payment.ID, Amount: money("6.000"), Reason: "test", Actor: cashier,
	})
	var re *ledger.RefundExceedsError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "5.000", re.Available.String())

	refunds, err := h.store.ListRefundsByPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Empty(t, refunds)
}

func TestRefund_PartialThenFull(t *testing.T) {
	// GIVEN: A 10.000 payment
	// WHEN: Refunding 4.000 then 6.000, then 0.001 more
	// THEN: Payment stays paid after the first, flips to refunded after the
	//       second, and the third exceeds what is left. The order is untouched.

	h := newHarness(t)
	ctx := context.Background()
	order, payment := h.paidOrder(t, "10.000")

	first, err := h.engine.Refunds.Refund(ctx, ledger.RefundRequest{
		PaymentID: payment.ID, Amount: money("4.000"), Reason: "wrong item", Actor: cashier,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentPaid, first.PaymentStatus)
	assert.Equal(t, "6.000", first.Refundable.String())

	second, err := h.engine.Refunds.Refund(ctx, ledger.RefundRequest{
		PaymentID: payment.ID, Amount: money("6.000"), Reason: "wrong item", Actor: cashier,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRefunded, second.PaymentStatus)
	assert.True(t, second.Refundable.IsZero())

	stored, err := h.store.GetPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.PaymentRefunded, stored.Status)

	_, err = h.engine.Refunds.Refund(ctx, ledger.RefundRequest{
		PaymentID: payment.ID, Amount: money("0.001"), Reason: "again", Actor: cashier,
	})
	assert.ErrorIs(t, err, ledger.ErrRefundExceedsAvailable)

	after := h.order(t, order.ID)
	assert.Equal(t, order.Status, after.Status)
	assert.Equal(t, order.PaymentStatus, after.PaymentStatus)
	assert.Equal(t, order.Version, after.Version)
}

func TestRefund_KeyReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidOrder(t, "10.000")
	req := ledger.RefundRequest{
		PaymentID: payment.ID, Amount: money("2.000"), Reason: "cold", IdempotencyKey: "r1", Actor: cashier,
	}

	first, err := h.engine.Refunds.Refund(ctx, req)
	require.NoError(t, err)
	again, err := h.engine.Refunds.Refund(ctx, req)
	require.NoError(t, err)
	assert.True(t, again.Idempotent)
	assert.Equal(t, first.Refund.ID, again.Refund.ID)

	refunds, err := h.store.ListRefundsByPayment(ctx, payment.ID)
	require.NoError(t, err)
	assert.Len(t, refunds, 1)

	req.Amount = money("3.000")
	_, err = h.engine.Refunds.Refund(ctx, req)
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRefund_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, payment := h.paidOrder(t, "10.000")

	_, err := h.engine.Refunds.Refund(ctx, ledger.RefundRequest{PaymentID: payment.ID, Amount: money("1"), Actor: cashier})
	assert.ErrorIs(t, err, ledger.ErrValidation, "reason is required")

	_, err = h.engine.Refunds.Refund(ctx, ledger.RefundRequest{PaymentID: payment.ID, Amount: money("0"), Reason: "x", Actor: cashier})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = h.engine.Refunds.Refund(ctx, ledger.RefundRequest{PaymentID: "missing", Amount: money("1"), Reason: "x", Actor: cashier})
	assert.ErrorIs(t, err, ledger.ErrPaymentNotFound)
}
