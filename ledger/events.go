package ledger

import "time"

// =============================================================================
// EVENTS - Committed-write notifications for downstream consumers
// =============================================================================
//
// Events are emitted only after the owning transaction commits. Sinks must
// not block; the engine never waits on delivery (see notify.Dispatcher).

type EventType string

const (
	EventOrderCreated       EventType = "order.created"
	EventOrderStatusChanged EventType = "order.status_changed"
	EventPaymentRecorded    EventType = "payment.recorded"
	EventRefundRecorded     EventType = "refund.recorded"
	EventSessionOpened      EventType = "session.opened"
	EventSessionClosed      EventType = "session.closed"
	EventCashCounted        EventType = "cash.counted"
)

type Event struct {
	Type       EventType         `json:"type"`
	OrderID    OrderID           `json:"order_id,omitempty"`
	PaymentID  PaymentID         `json:"payment_id,omitempty"`
	RefundID   RefundID          `json:"refund_id,omitempty"`
	SessionID  SessionID         `json:"session_id,omitempty"`
	BranchID   BranchID          `json:"branch_id,omitempty"`
	Actor      ActorID           `json:"actor,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	At         time.Time         `json:"at"`
}

// EventSink receives committed events. Emit must return promptly.
type EventSink interface {
	Emit(Event)
}

type discardSink struct{}

func (discardSink) Emit(Event) {}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }
