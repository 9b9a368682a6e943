/*
lifecycle.go - Order status transitions with an audit row per change

INVARIANTS:
  1. Status changes follow status.go: one step at a time, never backwards.
  2. Every status update and its order_status_log row are written in the
     same transaction. A status with no log row is a consistency violation.
  3. A concurrent transition (version moved under us) is reported as
     InvalidTransition and never retried automatically: a retry would
     advance the order a second time.

ENTRY POINTS:
  Advance / AdvanceFrom: the linear next step
  TransitionTo:          forced targets from the allow-list (bill_requested
                         -> paid, paid -> closed)
  forceInTx:             used by PaymentLedger inside its own transaction
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

type OrderLifecycle struct {
	*env
}

// TransitionResult is returned by every successful status change.
type TransitionResult struct {
	OrderID        OrderID
	PreviousStatus OrderStatus
	NewStatus      OrderStatus
	At             time.Time
}

// Advance moves the order to its single legal next status. The status read
// before taking the row lock is the expected one: if another transition
// commits in between, Advance fails instead of stepping a second time.
func (l *OrderLifecycle) Advance(ctx context.Context, id OrderID, actor ActorID) (TransitionResult, error) {
	return l.AdvanceFrom(ctx, id, "", actor)
}

// AdvanceFrom is Advance guarded by the status the caller last saw. An empty
// expected status means the status stored when the call starts.
func (l *OrderLifecycle) AdvanceFrom(ctx context.Context, id OrderID, expected OrderStatus, actor ActorID) (TransitionResult, error) {
	if err := validateActor(actor); err != nil {
		return TransitionResult{}, err
	}
	if expected == "" {
		seen, err := l.store.GetOrder(ctx, id)
		if err != nil {
			return TransitionResult{}, err
		}
		if seen == nil {
			return TransitionResult{}, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
		}
		expected = seen.Status
	} else if _, err := ParseOrderStatus(string(expected)); err != nil {
		return TransitionResult{}, err
	}

	var result TransitionResult
	err := l.inTx(ctx, func(s Store) error {
		order, err := lockOrder(ctx, s, id)
		if err != nil {
			return err
		}
		if order.Status != expected {
			return &TransitionError{OrderID: id, From: order.Status,
				Reason: fmt.Sprintf("order is %s, caller expected %s", order.Status, expected)}
		}
		next, ok := order.Status.Next()
		if !ok {
			return &TransitionError{OrderID: id, From: order.Status, Reason: "order is closed"}
		}
		if next == StatusPaid {
			if err := l.requireCovered(ctx, s, order); err != nil {
				return err
			}
		}
		result, err = l.apply(ctx, s, order, next, actor)
		return err
	})
	if err != nil {
		return TransitionResult{}, l.concurrentAsTransition(id, err)
	}

	l.log.InfoContext(ctx, "order advanced", "action", "advance",
		"order_id", id, "from", result.PreviousStatus, "to", result.NewStatus, "actor", actor)
	l.emit(statusEvent(result, actor))
	return result, nil
}

// TransitionTo applies a forced transition from the allow-list.
func (l *OrderLifecycle) TransitionTo(ctx context.Context, id OrderID, target OrderStatus, actor ActorID) (TransitionResult, error) {
	if err := validateActor(actor); err != nil {
		return TransitionResult{}, err
	}
	if _, err := ParseOrderStatus(string(target)); err != nil {
		return TransitionResult{}, err
	}

	var result TransitionResult
	err := l.inTx(ctx, func(s Store) error {
		order, err := lockOrder(ctx, s, id)
		if err != nil {
			return err
		}
		if target == StatusPaid {
			if err := l.requireCovered(ctx, s, order); err != nil {
				return err
			}
		}
		result, err = l.forceInTx(ctx, s, order, target, actor)
		return err
	})
	if err != nil {
		return TransitionResult{}, l.concurrentAsTransition(id, err)
	}

	l.log.InfoContext(ctx, "order transitioned", "action", "transition_to",
		"order_id", id, "from", result.PreviousStatus, "to", result.NewStatus, "actor", actor)
	l.emit(statusEvent(result, actor))
	return result, nil
}

// forceInTx validates target against the allow-list and applies it using the
// caller's transaction. order is updated in place.
func (l *OrderLifecycle) forceInTx(ctx context.Context, s Store, order *Order, target OrderStatus, actor ActorID) (TransitionResult, error) {
	if !CanForce(order.Status, target) {
		return TransitionResult{}, &TransitionError{OrderID: order.ID, From: order.Status, To: target,
			Reason: "not an allowed forced transition"}
	}
	return l.apply(ctx, s, order, target, actor)
}

// apply writes the status and its log row. Both writes share s.
func (l *OrderLifecycle) apply(ctx context.Context, s Store, order *Order, target OrderStatus, actor ActorID) (TransitionResult, error) {
	now := l.clock()
	prev := order.Status

	updated := *order
	updated.Status = target
	if target == StatusPaid {
		updated.PaymentStatus = PaymentPaid
	}
	updated.UpdatedAt = now
	if err := s.UpdateOrder(ctx, updated, order.Version); err != nil {
		return TransitionResult{}, err
	}
	updated.Version = order.Version + 1

	entry := StatusLogEntry{
		ID:             l.newID(),
		OrderID:        order.ID,
		PreviousStatus: &prev,
		NewStatus:      target,
		ChangedBy:      actor,
		ChangedAt:      now,
	}
	if err := s.AppendStatusLog(ctx, entry); err != nil {
		return TransitionResult{}, fmt.Errorf("append status log: %w", err)
	}

	*order = updated
	return TransitionResult{OrderID: order.ID, PreviousStatus: prev, NewStatus: target, At: now}, nil
}

// requireCovered refuses to mark an order paid unless accepted payments
// already add up to its total.
func (l *OrderLifecycle) requireCovered(ctx context.Context, s Store, order *Order) error {
	payments, err := s.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		return err
	}
	paid := acceptedTotal(payments)
	if paid.LessThan(order.TotalAmount) {
		return &TransitionError{OrderID: order.ID, From: order.Status, To: StatusPaid,
			Reason: fmt.Sprintf("payments %s do not cover total %s", paid, order.TotalAmount)}
	}
	return nil
}

func (l *OrderLifecycle) concurrentAsTransition(id OrderID, err error) error {
	if errors.Is(err, ErrConcurrencyConflict) {
		return &TransitionError{OrderID: id, Reason: "concurrent transition in flight"}
	}
	return err
}

func lockOrder(ctx context.Context, s Store, id OrderID) (*Order, error) {
	order, err := s.LockOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("order %s: %w", id, ErrOrderNotFound)
	}
	return order, nil
}

func statusEvent(r TransitionResult, actor ActorID) Event {
	return Event{
		Type:    EventOrderStatusChanged,
		OrderID: r.OrderID,
		Actor:   actor,
		Attributes: map[string]string{
			"previous_status": string(r.PreviousStatus),
			"new_status":      string(r.NewStatus),
		},
		At: r.At,
	}
}
