package ledger

import "fmt"

// =============================================================================
// ORDER STATE MACHINE
// =============================================================================
//
//   created -> sent_to_kitchen -> served -> bill_requested -> paid -> closed
//
// Linear, terminal at closed. No back-transitions, no skipping. The only
// targets reachable outside the linear step are the forced transitions in
// forcedTransitions, used by the payment path and close-out.

type OrderStatus string

const (
	StatusCreated       OrderStatus = "created"
	StatusSentToKitchen OrderStatus = "sent_to_kitchen"
	StatusServed        OrderStatus = "served"
	StatusBillRequested OrderStatus = "bill_requested"
	StatusPaid          OrderStatus = "paid"
	StatusClosed        OrderStatus = "closed"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	StatusCreated,
	StatusSentToKitchen,
	StatusServed,
	StatusBillRequested,
	StatusPaid,
	StatusClosed,
}

// ParseOrderStatus rejects anything outside the fixed set.
func ParseOrderStatus(s string) (OrderStatus, error) {
	st := OrderStatus(s)
	if _, ok := st.rank(); !ok {
		return "", &ValidationError{Field: "status", Message: fmt.Sprintf("unknown order status %q", s)}
	}
	return st, nil
}

// Next returns the single legal successor. ok is false at closed or for an
// unknown status.
func (s OrderStatus) Next() (next OrderStatus, ok bool) {
	switch s {
	case StatusCreated:
		return StatusSentToKitchen, true
	case StatusSentToKitchen:
		return StatusServed, true
	case StatusServed:
		return StatusBillRequested, true
	case StatusBillRequested:
		return StatusPaid, true
	case StatusPaid:
		return StatusClosed, true
	case StatusClosed:
		return "", false
	default:
		return "", false
	}
}

func (s OrderStatus) IsTerminal() bool { return s == StatusClosed }

// Before reports whether s comes strictly earlier in the lifecycle than o.
func (s OrderStatus) Before(o OrderStatus) bool {
	a, okA := s.rank()
	b, okB := o.rank()
	return okA && okB && a < b
}

func (s OrderStatus) rank() (int, bool) {
	switch s {
	case StatusCreated:
		return 0, true
	case StatusSentToKitchen:
		return 1, true
	case StatusServed:
		return 2, true
	case StatusBillRequested:
		return 3, true
	case StatusPaid:
		return 4, true
	case StatusClosed:
		return 5, true
	default:
		return -1, false
	}
}

type transition struct{ from, to OrderStatus }

// forcedTransitions is the allow-list for TransitionTo.
var forcedTransitions = map[transition]bool{
	{StatusBillRequested, StatusPaid}: true,
	{StatusPaid, StatusClosed}:        true,
}

// CanForce reports whether TransitionTo may move an order from -> to.
func CanForce(from, to OrderStatus) bool {
	return forcedTransitions[transition{from, to}]
}
