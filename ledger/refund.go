package ledger

import (
	"context"
	"fmt"
	"strings"
)

// RefundLedger records refunds against accepted payments.
//
// A refund never changes the order: an order stays paid/closed, and a full
// reversal to unpaid is a separate manual operation outside this engine.
// The payment flips paid -> refunded only when its refunds reach its amount.
type RefundLedger struct {
	*env
}

type RefundRequest struct {
	PaymentID PaymentID
	Amount    Money
	Reason    string
	// IdempotencyKey is optional. When set, a retried request returns the
	// original refund.
	IdempotencyKey string
	Actor          ActorID
}

type RefundResult struct {
	Refund        Refund
	PaymentStatus PaymentStatus
	Refundable    Money // still refundable on the payment after this call
	Idempotent    bool
}

func (r *RefundLedger) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if err := validateActor(req.Actor); err != nil {
		return RefundResult{}, err
	}
	if err := validatePositive("amount", req.Amount); err != nil {
		return RefundResult{}, err
	}
	if req.Reason == "" {
		return RefundResult{}, invalid("reason", "is required")
	}
	if req.IdempotencyKey != "" {
		if err := validateIdempotencyKey(req.IdempotencyKey); err != nil {
			return RefundResult{}, err
		}
	}

	var result RefundResult
	err := r.retry.Do(ctx, func() error {
		err := r.inTx(ctx, func(s Store) error {
			var err error
			result, err = r.refund(ctx, s, req)
			return err
		})
		return duplicateKeyAsConflict(err)
	})
	if err != nil {
		r.log.WarnContext(ctx, "refund rejected", "action", "refund",
			"payment_id", req.PaymentID, "amount", req.Amount.String(), "error", err)
		return RefundResult{}, err
	}
	if result.Idempotent {
		return result, nil
	}

	r.log.InfoContext(ctx, "refund recorded", "action", "refund",
		"payment_id", req.PaymentID, "refund_id", result.Refund.ID,
		"amount", req.Amount.String(), "payment_status", result.PaymentStatus)
	r.emit(Event{
		Type:      EventRefundRecorded,
		PaymentID: req.PaymentID,
		RefundID:  result.Refund.ID,
		Actor:     req.Actor,
		Attributes: map[string]string{
			"amount":         req.Amount.String(),
			"payment_status": string(result.PaymentStatus),
		},
		At: result.Refund.CreatedAt,
	})
	return result, nil
}

func (r *RefundLedger) refund(ctx context.Context, s Store, req RefundRequest) (RefundResult, error) {
	payment, err := s.LockPayment(ctx, req.PaymentID)
	if err != nil {
		return RefundResult{}, err
	}
	if payment == nil {
		return RefundResult{}, fmt.Errorf("payment %s: %w", req.PaymentID, ErrPaymentNotFound)
	}

	prior, err := s.ListRefundsByPayment(ctx, payment.ID)
	if err != nil {
		return RefundResult{}, err
	}
	refunded := Zero
	for _, rf := range prior {
		refunded = refunded.Add(rf.Amount)
	}
	available := payment.Amount.Sub(refunded)

	if req.IdempotencyKey != "" {
		existing, err := s.GetRefundByKey(ctx, req.IdempotencyKey)
		if err != nil {
			return RefundResult{}, err
		}
		if existing != nil {
			if existing.PaymentID != payment.ID || !existing.Amount.Equal(req.Amount) {
				return RefundResult{}, invalid("idempotency_key",
					"%q was already used for refund %s (payment %s, %s)",
					req.IdempotencyKey, existing.ID, existing.PaymentID, existing.Amount)
			}
			return RefundResult{Refund: *existing, PaymentStatus: payment.Status, Refundable: available, Idempotent: true}, nil
		}
	}

	if payment.Status != PaymentPaid && payment.Status != PaymentRefunded {
		return RefundResult{}, &StateError{Subject: "payment " + string(payment.ID),
			Reason: "only accepted payments can be refunded, status is " + string(payment.Status)}
	}
	if req.Amount.GreaterThan(available) {
		return RefundResult{}, &RefundExceedsError{PaymentID: payment.ID, Available: available, Requested: req.Amount}
	}

	now := r.clock()
	refund := Refund{
		ID:             RefundID(r.newID()),
		PaymentID:      payment.ID,
		ProcessedBy:    req.Actor,
		Amount:         req.Amount,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
		CreatedAt:      now,
	}
	if err := s.InsertRefund(ctx, refund); err != nil {
		return RefundResult{}, err
	}

	remaining := available.Sub(req.Amount)
	status := payment.Status
	if remaining.IsZero() {
		if err := s.UpdatePaymentStatus(ctx, payment.ID, PaymentPaid, PaymentRefunded, now); err != nil {
			return RefundResult{}, err
		}
		status = PaymentRefunded
	}
	return RefundResult{Refund: refund, PaymentStatus: status, Refundable: remaining}, nil
}
