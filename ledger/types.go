/*
Package ledger is the transaction and session ledger engine of the
point-of-sale system.

PURPOSE:
  Advances orders through their lifecycle, records money movement against an
  order with exactly-once semantics under retries, splits payment across
  methods, issues refunds and reconciles a staff shift against counted cash.

KEY CONCEPTS IN THIS FILE (types.go):
  - Identifiers: typed string IDs so an OrderID can't be passed as a PaymentID
  - Order / OrderItem: the branch-scoped sale and its line items
  - Payment / Refund: money movement rows, immutable except paid -> refunded
  - StatusLogEntry: append-only audit of order status changes
  - StaffSession / CashDrawerCount: shift bookkeeping and close-out count

DESIGN PRINCIPLES:
  1. Precision: all money is Money (3 decimals, decimal.Decimal underneath)
  2. Immutability: financial rows are never edited, only compensated
  3. Explicit state: actor and session are passed into every call

SEE ALSO:
  - status.go: order state machine
  - errors.go: error taxonomy
  - store.go: persistence interfaces
*/
package ledger

import (
	"fmt"
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type OrderItemID string
type PaymentID string
type RefundID string
type SessionID string
type CountID string
type BranchID string
type UserID string
type MenuItemID string

// ActorID identifies the already-authenticated staff member performing an
// operation. Resolution happens upstream; the engine only records it.
type ActorID string

// =============================================================================
// PAYMENT ENUMS
// =============================================================================

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentUnpaid, PaymentPending, PaymentPaid, PaymentRefunded:
		return true
	}
	return false
}

// PaymentMethod is the tender a payment was taken with. Components of a split
// payment carry their own concrete tender and share a SplitGroupID.
type PaymentMethod string

const (
	MethodCash   PaymentMethod = "cash"
	MethodCard   PaymentMethod = "card"
	MethodMobile PaymentMethod = "mobile"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodMobile:
		return true
	}
	return false
}

// =============================================================================
// ORDER
// =============================================================================

type Order struct {
	ID             OrderID
	BranchID       BranchID
	TableID        *string
	Status         OrderStatus
	PaymentStatus  PaymentStatus
	Subtotal       Money
	TaxAmount      Money
	DiscountAmount Money
	TotalAmount    Money

	// LockedAt is stamped when payment finalization begins. It blocks item
	// edits, not payments.
	LockedAt *time.Time

	// Version is bumped on every write and used for optimistic checks.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ExpectedTotal is subtotal + tax - discount.
func (o Order) ExpectedTotal() Money {
	return o.Subtotal.Add(o.TaxAmount).Sub(o.DiscountAmount)
}

// CheckTotals verifies total_amount = subtotal + tax_amount - discount_amount.
func (o Order) CheckTotals() error {
	if !o.TotalAmount.Equal(o.ExpectedTotal()) {
		return fmt.Errorf("order %s: total %s != subtotal %s + tax %s - discount %s",
			o.ID, o.TotalAmount, o.Subtotal, o.TaxAmount, o.DiscountAmount)
	}
	return nil
}

func (o Order) IsLocked() bool { return o.LockedAt != nil }

type OrderItem struct {
	ID         OrderItemID
	OrderID    OrderID
	MenuItemID MenuItemID
	Quantity   int
	UnitPrice  Money
	TotalPrice Money
	Notes      string
	CreatedAt  time.Time
}

// StatusLogEntry is one append-only audit row. PreviousStatus is nil for the
// entry written when the order is created.
type StatusLogEntry struct {
	ID             string
	OrderID        OrderID
	PreviousStatus *OrderStatus
	NewStatus      OrderStatus
	ChangedBy      ActorID
	ChangedAt      time.Time
}

// =============================================================================
// PAYMENT / REFUND
// =============================================================================

type Payment struct {
	ID             PaymentID
	OrderID        OrderID
	BranchID       BranchID
	ProcessedBy    ActorID
	Amount         Money
	Method         PaymentMethod
	Status         PaymentStatus
	IdempotencyKey string
	TransactionRef string // external gateway reference, empty when none
	SplitGroupID   string // shared by components of one split payment
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Refund struct {
	ID             RefundID
	PaymentID      PaymentID
	ProcessedBy    ActorID
	Amount         Money
	Reason         string
	IdempotencyKey string
	CreatedAt      time.Time
}

// =============================================================================
// SESSION / CASH COUNT
// =============================================================================

// SessionTotals are the per-method totals written at shift close.
type SessionTotals struct {
	Cash   Money `json:"cash_total"`
	Card   Money `json:"card_total"`
	Mobile Money `json:"mobile_total"`
}

func (t SessionTotals) Equal(o SessionTotals) bool {
	return t.Cash.Equal(o.Cash) && t.Card.Equal(o.Card) && t.Mobile.Equal(o.Mobile)
}

func (t SessionTotals) Grand() Money { return Sum(t.Cash, t.Card, t.Mobile) }

func (t *SessionTotals) add(method PaymentMethod, amount Money) {
	switch method {
	case MethodCash:
		t.Cash = t.Cash.Add(amount)
	case MethodCard:
		t.Card = t.Card.Add(amount)
	case MethodMobile:
		t.Mobile = t.Mobile.Add(amount)
	}
}

type StaffSession struct {
	ID         SessionID
	UserID     UserID
	BranchID   BranchID
	LoginTime  time.Time
	LogoutTime *time.Time
	Totals     SessionTotals
	CreatedAt  time.Time
}

func (s StaffSession) IsOpen() bool { return s.LogoutTime == nil }

type CashDrawerCount struct {
	ID               CountID
	SessionID        SessionID
	UserID           UserID
	BranchID         BranchID
	ExpectedCash     Money
	CountedCash      Money
	Variance         Money
	Breakdown        Breakdown
	Notes            string
	RequiresApproval bool
	CreatedAt        time.Time
}
