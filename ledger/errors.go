/*
errors.go - Error taxonomy for the ledger engine

ERROR CATEGORIES:
  1. Validation      - malformed input, rejected before any write
  2. Transition      - state precondition violated, caller must resync
  3. Overpayment     - payment or refund exceeds what is available
  4. Concurrency     - lock/version contention, safe to retry
  5. Duplicate count - at-most-one cash count per session, not retryable

Idempotency-key replay is NOT an error. ErrDuplicateIdempotencyKey only
travels between the store and the engine, which turns it into a replay.

USAGE:
  if errors.Is(err, ledger.ErrOverpayment) {
      // client total mismatch, recompute
  }

  code := ledger.Code(err) // stable machine code for API responses
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation error")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrOverpayment            = errors.New("overpayment rejected")
	ErrRefundExceedsAvailable = errors.New("refund exceeds available amount")
	ErrConcurrencyConflict    = errors.New("concurrency conflict")
	ErrDuplicateCount         = errors.New("cash count already recorded for session")

	// ErrDuplicateIdempotencyKey is returned by stores when the UNIQUE
	// constraint on an idempotency key fires.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	ErrSessionAlreadyOpen = errors.New("session already open")
	ErrOrderLocked        = errors.New("order is locked for payment")

	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrSessionNotFound = errors.New("session not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Message
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransitionError reports a refused state change.
type TransitionError struct {
	OrderID OrderID
	From    OrderStatus
	To      OrderStatus
	Reason  string
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("invalid transition for order %s: %s", e.OrderID, e.Reason)
	}
	if e.To == "" {
		return fmt.Sprintf("invalid transition for order %s from %s: %s", e.OrderID, e.From, e.Reason)
	}
	return fmt.Sprintf("invalid transition for order %s: %s -> %s: %s", e.OrderID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StateError is a precondition failure on something other than an order
// status (closed session, open session at count time).
type StateError struct {
	Subject string
	Reason  string
}

func (e *StateError) Error() string { return fmt.Sprintf("%s: %s", e.Subject, e.Reason) }
func (e *StateError) Unwrap() error { return ErrInvalidTransition }

// OverpaymentError details how far a payment overshoots the order total.
type OverpaymentError struct {
	OrderID     OrderID
	Total       Money
	AlreadyPaid Money
	Requested   Money
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %s exceeds order %s total %s (already paid %s, remaining %s)",
		e.Requested, e.OrderID, e.Total, e.AlreadyPaid, e.Remaining())
}

func (e *OverpaymentError) Remaining() Money { return e.Total.Sub(e.AlreadyPaid) }
func (e *OverpaymentError) Unwrap() error    { return ErrOverpayment }

// RefundExceedsError details a refund larger than what is left on the payment.
type RefundExceedsError struct {
	PaymentID PaymentID
	Available Money
	Requested Money
}

func (e *RefundExceedsError) Error() string {
	return fmt.Sprintf("refund of %s exceeds available %s on payment %s",
		e.Requested, e.Available, e.PaymentID)
}

func (e *RefundExceedsError) Unwrap() error { return ErrRefundExceedsAvailable }

// SessionOpenError carries the session that is already open for the user.
type SessionOpenError struct {
	Existing StaffSession
}

func (e *SessionOpenError) Error() string {
	return fmt.Sprintf("user %s already has open session %s", e.Existing.UserID, e.Existing.ID)
}

func (e *SessionOpenError) Unwrap() error { return ErrSessionAlreadyOpen }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on an automatic retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the caller must change something before
// retrying.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrRefundExceedsAvailable) ||
		errors.Is(err, ErrDuplicateCount) ||
		errors.Is(err, ErrSessionAlreadyOpen) ||
		errors.Is(err, ErrOrderLocked)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound) ||
		errors.Is(err, ErrPaymentNotFound) ||
		errors.Is(err, ErrSessionNotFound)
}

// Code maps an error to the stable code used in operation results.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation_error"
	case errors.Is(err, ErrOverpayment):
		return "overpayment_rejected"
	case errors.Is(err, ErrRefundExceedsAvailable):
		return "refund_exceeds_available"
	case errors.Is(err, ErrDuplicateCount):
		return "duplicate_count"
	case errors.Is(err, ErrSessionAlreadyOpen):
		return "session_already_open"
	case errors.Is(err, ErrOrderLocked):
		return "order_locked"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrConcurrencyConflict):
		return "concurrency_conflict"
	case IsNotFound(err):
		return "not_found"
	default:
		return "internal_error"
	}
}
