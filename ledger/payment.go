/*
payment.go - Payment recording with idempotency and split tender

PURPOSE:
  Records payments against an order. The idempotency key is the primary
  defense against client retries after a dropped response: a key that has
  already been recorded returns the original payment with Idempotent=true.

FLOW (one transaction, order row locked):
  1. Lock order, reject if closed
  2. Idempotency lookup -> replay
  3. Overpayment guard: accepted + amount <= total
  4. Stamp locked_at, insert payment (status=paid), update payment status
  5. If accepted == total: force bill_requested -> paid with a log row
  Any failure in 4-5 rolls the whole unit back, including the payment row.

RACES:
  The UNIQUE constraint on idempotency_key closes the gap between lookup and
  insert. A duplicate-key failure is retried as a conflict, and the retry
  finds the committed row and replays it.

SPLIT:
  SplitPayment validates every entry up front and applies them with the same
  single-payment path inside one transaction: all or nothing.
*/
package ledger

import (
	"context"
	"fmt"
)

type PaymentLedger struct {
	*env
	lifecycle *OrderLifecycle
}

// =============================================================================
// REQUEST / RESULT TYPES
// =============================================================================

type PaymentRequest struct {
	OrderID        OrderID
	Amount         Money
	Method         PaymentMethod
	IdempotencyKey string
	TransactionRef string
	Actor          ActorID
}

type PaymentResult struct {
	Payment       Payment
	PaidInFull    bool // accepted payments now equal the order total
	StatusChanged bool // this call moved the order to paid
	Idempotent    bool // replay of an already-recorded key
	OrderStatus   OrderStatus
	TotalPaid     Money // accepted total on the order after this call
	Remaining     Money
}

type SplitEntry struct {
	Amount         Money
	Method         PaymentMethod
	IdempotencyKey string
	TransactionRef string
}

type SplitRequest struct {
	OrderID OrderID
	Entries []SplitEntry
	Actor   ActorID
}

type SplitResult struct {
	SplitGroupID  string
	Payments      []PaymentResult
	TotalPaid     Money // sum of the entries in this request
	OrderPaid     Money // accepted total on the order after this call
	PaidInFull    bool
	StatusChanged bool
	Idempotent    bool // every entry was a replay
	OrderStatus   OrderStatus
}

// =============================================================================
// FINALIZE
// =============================================================================

func (p *PaymentLedger) FinalizePayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	entry := SplitEntry{Amount: req.Amount, Method: req.Method, IdempotencyKey: req.IdempotencyKey, TransactionRef: req.TransactionRef}
	if err := validateActor(req.Actor); err != nil {
		return PaymentResult{}, err
	}
	if err := validateEntry("", entry); err != nil {
		return PaymentResult{}, err
	}

	var result PaymentResult
	err := p.retry.Do(ctx, func() error {
		err := p.inTx(ctx, func(s Store) error {
			order, err := lockOrder(ctx, s, req.OrderID)
			if err != nil {
				return err
			}
			payments, err := s.ListPaymentsByOrder(ctx, order.ID)
			if err != nil {
				return err
			}
			paid := acceptedTotal(payments)

			existing, err := s.GetPaymentByKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if existing != nil {
				if err := matchReplay("", existing, order.ID, entry); err != nil {
					return err
				}
				result = replayResult(*existing, order, paid)
				return nil
			}

			if order.Status.IsTerminal() {
				return &TransitionError{OrderID: order.ID, From: order.Status, Reason: "cannot pay a closed order"}
			}
			if paid.Add(req.Amount).GreaterThan(order.TotalAmount) {
				return &OverpaymentError{OrderID: order.ID, Total: order.TotalAmount, AlreadyPaid: paid, Requested: req.Amount}
			}

			result, err = p.apply(ctx, s, order, paid, entry, req.Actor, "")
			return err
		})
		return duplicateKeyAsConflict(err)
	})
	if err != nil {
		p.log.WarnContext(ctx, "payment rejected", "action", "finalize_payment",
			"order_id", req.OrderID, "idempotency_key", req.IdempotencyKey, "error", err)
		return PaymentResult{}, err
	}

	if result.Idempotent {
		p.log.InfoContext(ctx, "payment replayed", "action", "finalize_payment",
			"order_id", req.OrderID, "payment_id", result.Payment.ID, "idempotency_key", req.IdempotencyKey)
		return result, nil
	}
	p.log.InfoContext(ctx, "payment recorded", "action", "finalize_payment",
		"order_id", req.OrderID, "payment_id", result.Payment.ID, "amount", req.Amount.String(),
		"method", req.Method, "paid_in_full", result.PaidInFull)
	p.emit(p.paymentEvents(result)...)
	return result, nil
}

// =============================================================================
// SPLIT
// =============================================================================

func (p *PaymentLedger) SplitPayment(ctx context.Context, req SplitRequest) (SplitResult, error) {
	if err := validateActor(req.Actor); err != nil {
		return SplitResult{}, err
	}
	if len(req.Entries) == 0 {
		return SplitResult{}, invalid("entries", "must not be empty")
	}
	seen := make(map[string]bool, len(req.Entries))
	for i, e := range req.Entries {
		prefix := fmt.Sprintf("entries[%d].", i)
		if err := validateEntry(prefix, e); err != nil {
			return SplitResult{}, err
		}
		if seen[e.IdempotencyKey] {
			return SplitResult{}, invalid(prefix+"idempotency_key", "%q repeats within the request", e.IdempotencyKey)
		}
		seen[e.IdempotencyKey] = true
	}

	var result SplitResult
	err := p.retry.Do(ctx, func() error {
		err := p.inTx(ctx, func(s Store) error {
			var err error
			result, err = p.split(ctx, s, req)
			return err
		})
		return duplicateKeyAsConflict(err)
	})
	if err != nil {
		p.log.WarnContext(ctx, "split payment rejected", "action", "split_payment",
			"order_id", req.OrderID, "entries", len(req.Entries), "error", err)
		return SplitResult{}, err
	}

	p.log.InfoContext(ctx, "split payment recorded", "action", "split_payment",
		"order_id", req.OrderID, "entries", len(req.Entries), "total_paid", result.TotalPaid.String(),
		"idempotent", result.Idempotent, "paid_in_full", result.PaidInFull)
	for _, r := range result.Payments {
		if !r.Idempotent {
			p.emit(p.paymentEvents(r)...)
		}
	}
	return result, nil
}

func (p *PaymentLedger) split(ctx context.Context, s Store, req SplitRequest) (SplitResult, error) {
	order, err := lockOrder(ctx, s, req.OrderID)
	if err != nil {
		return SplitResult{}, err
	}
	payments, err := s.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return SplitResult{}, err
	}
	paid := acceptedTotal(payments)

	// Resolve replays first so the overpayment guard only counts new money.
	replays := make([]*Payment, len(req.Entries))
	fresh := Zero
	total := Zero
	for i, e := range req.Entries {
		total = total.Add(e.Amount)
		existing, err := s.GetPaymentByKey(ctx, e.IdempotencyKey)
		if err != nil {
			return SplitResult{}, err
		}
		if existing != nil {
			if err := matchReplay(fmt.Sprintf("entries[%d].", i), existing, order.ID, e); err != nil {
				return SplitResult{}, err
			}
			replays[i] = existing
			continue
		}
		fresh = fresh.Add(e.Amount)
	}

	result := SplitResult{TotalPaid: total, Idempotent: fresh.IsZero()}
	if !result.Idempotent {
		if order.Status.IsTerminal() {
			return SplitResult{}, &TransitionError{OrderID: order.ID, From: order.Status, Reason: "cannot pay a closed order"}
		}
		if paid.Add(fresh).GreaterThan(order.TotalAmount) {
			return SplitResult{}, &OverpaymentError{OrderID: order.ID, Total: order.TotalAmount, AlreadyPaid: paid, Requested: fresh}
		}
		result.SplitGroupID = p.newID()
	}

	for i, e := range req.Entries {
		if replays[i] != nil {
			result.Payments = append(result.Payments, replayResult(*replays[i], order, paid))
			if result.SplitGroupID == "" {
				result.SplitGroupID = replays[i].SplitGroupID
			}
			continue
		}
		r, err := p.apply(ctx, s, order, paid, e, req.Actor, result.SplitGroupID)
		if err != nil {
			return SplitResult{}, err
		}
		paid = r.TotalPaid
		result.StatusChanged = result.StatusChanged || r.StatusChanged
		result.Payments = append(result.Payments, r)
	}

	result.OrderPaid = paid
	result.PaidInFull = paid.Equal(order.TotalAmount)
	result.OrderStatus = order.Status
	return result, nil
}

// =============================================================================
// SINGLE-PAYMENT PATH
// =============================================================================

// apply inserts one payment and, when it completes the total, forces the
// order to paid. order is updated in place; paid is the accepted total before
// this entry.
func (p *PaymentLedger) apply(ctx context.Context, s Store, order *Order, paid Money, e SplitEntry, actor ActorID, group string) (PaymentResult, error) {
	now := p.clock()
	payment := Payment{
		ID:             PaymentID(p.newID()),
		OrderID:        order.ID,
		BranchID:       order.BranchID,
		ProcessedBy:    actor,
		Amount:         e.Amount,
		Method:         e.Method,
		Status:         PaymentPaid,
		IdempotencyKey: e.IdempotencyKey,
		TransactionRef: e.TransactionRef,
		SplitGroupID:   group,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.InsertPayment(ctx, payment); err != nil {
		return PaymentResult{}, err
	}

	newPaid := paid.Add(e.Amount)
	full := newPaid.Equal(order.TotalAmount)

	updated := *order
	if updated.LockedAt == nil {
		updated.LockedAt = &now
	}
	if full {
		updated.PaymentStatus = PaymentPaid
	} else {
		updated.PaymentStatus = PaymentPending
	}
	updated.UpdatedAt = now
	if err := s.UpdateOrder(ctx, updated, order.Version); err != nil {
		return PaymentResult{}, err
	}
	updated.Version = order.Version + 1
	*order = updated

	changed := false
	if full && order.Status != StatusPaid {
		if _, err := p.lifecycle.forceInTx(ctx, s, order, StatusPaid, actor); err != nil {
			return PaymentResult{}, err
		}
		changed = true
	}

	return PaymentResult{
		Payment:       payment,
		PaidInFull:    full,
		StatusChanged: changed,
		OrderStatus:   order.Status,
		TotalPaid:     newPaid,
		Remaining:     order.TotalAmount.Sub(newPaid),
	}, nil
}

func (p *PaymentLedger) paymentEvents(r PaymentResult) []Event {
	pay := r.Payment
	events := []Event{{
		Type:      EventPaymentRecorded,
		OrderID:   pay.OrderID,
		PaymentID: pay.ID,
		BranchID:  pay.BranchID,
		Actor:     pay.ProcessedBy,
		Attributes: map[string]string{
			"amount": pay.Amount.String(),
			"method": string(pay.Method),
		},
		At: pay.CreatedAt,
	}}
	if r.StatusChanged {
		events = append(events, statusEvent(TransitionResult{
			OrderID:        pay.OrderID,
			PreviousStatus: StatusBillRequested,
			NewStatus:      StatusPaid,
			At:             pay.CreatedAt,
		}, pay.ProcessedBy))
	}
	return events
}

// =============================================================================
// HELPERS
// =============================================================================

func validateEntry(prefix string, e SplitEntry) error {
	if err := validatePositive(prefix+"amount", e.Amount); err != nil {
		return err
	}
	if !e.Method.Valid() {
		return invalid(prefix+"method", "unknown payment method %q", e.Method)
	}
	if err := validateIdempotencyKey(e.IdempotencyKey); err != nil {
		if ve, ok := err.(*ValidationError); ok {
			ve.Field = prefix + ve.Field
		}
		return err
	}
	return nil
}

// matchReplay rejects reuse of a key for a different payment.
func matchReplay(prefix string, existing *Payment, order OrderID, e SplitEntry) error {
	if existing.OrderID != order || !existing.Amount.Equal(e.Amount) || existing.Method != e.Method {
		return invalid(prefix+"idempotency_key",
			"%q was already used for payment %s (order %s, %s %s)",
			e.IdempotencyKey, existing.ID, existing.OrderID, existing.Amount, existing.Method)
	}
	return nil
}

func replayResult(existing Payment, order *Order, paid Money) PaymentResult {
	return PaymentResult{
		Payment:     existing,
		PaidInFull:  paid.Equal(order.TotalAmount),
		Idempotent:  true,
		OrderStatus: order.Status,
		TotalPaid:   paid,
		Remaining:   order.TotalAmount.Sub(paid),
	}
}

// acceptedTotal sums payments still counted against the order total.
// Fully refunded payments drop out; partial refunds do not free capacity.
func acceptedTotal(payments []Payment) Money {
	total := Zero
	for _, p := range payments {
		if p.Status == PaymentPaid {
			total = total.Add(p.Amount)
		}
	}
	return total
}
