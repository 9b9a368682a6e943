package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/warp/pos-ledger/ledger"
)

func TestOrderStatus_NextIsLinear(t *testing.T) {
	for i, s := range ledger.OrderStatuses {
		next, ok := s.Next()
		if i == len(ledger.OrderStatuses)-1 {
			assert.False(t, ok, "closed is terminal")
			assert.True(t, s.IsTerminal())
			continue
		}
		assert.True(t, ok)
		assert.Equal(t, ledger.OrderStatuses[i+1], next)
		assert.True(t, s.Before(next))
		assert.False(t, next.Before(s))
	}
}

func TestOrderStatus_Parse(t *testing.T) {
	for _, s := range ledger.OrderStatuses {
		got, err := ledger.ParseOrderStatus(string(s))
		assert.NoError(t, err)
		assert.Equal(t, s, got)
	}
	_, err := ledger.ParseOrderStatus("voided")
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCanForce(t *testing.T) {
	assert.True(t, ledger.CanForce(ledger.StatusBillRequested, ledger.StatusPaid))
	assert.True(t, ledger.CanForce(ledger.StatusPaid, ledger.StatusClosed))
	assert.False(t, ledger.CanForce(ledger.StatusServed, ledger.StatusPaid))
	assert.False(t, ledger.CanForce(ledger.StatusPaid, ledger.StatusBillRequested))
	assert.False(t, ledger.CanForce(ledger.StatusCreated, ledger.StatusClosed))
}

func TestErrorCodes(t *testing.T) {
	cases := map[string]error{
		"validation_error":         &ledger.ValidationError{Field: "x", Message: "bad"},
		"invalid_transition":       &ledger.TransitionError{OrderID: "o", From: ledger.StatusClosed, Reason: "closed"},
		"overpayment_rejected":     &ledger.OverpaymentError{},
		"refund_exceeds_available": &ledger.RefundExceedsError{},
		"session_already_open":     &ledger.SessionOpenError{},
		"duplicate_count":          ledger.ErrDuplicateCount,
		"order_locked":             ledger.ErrOrderLocked,
		"concurrency_conflict":     ledger.ErrConcurrencyConflict,
		"not_found":                ledger.ErrSessionNotFound,
	}
	for code, err := range cases {
		assert.Equal(t, code, ledger.Code(err), code)
	}
	assert.Equal(t, "", ledger.Code(nil))
	assert.True(t, ledger.IsClientError(ledger.ErrOrderLocked))
	assert.False(t, ledger.IsClientError(ledger.ErrConcurrencyConflict))
}
