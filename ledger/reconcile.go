package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// VarianceThreshold is the absolute variance (currency units) above which a
// cash count needs manager approval.
var VarianceThreshold = MustParseMoney("0.500")

// Breakdown maps a denomination value ("0.100", "5", "20.000") to the number
// of notes or coins counted.
type Breakdown map[string]int

// Total returns sum(denomination x count), rounded to currency precision.
func (b Breakdown) Total() (Money, error) {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	total := decimal.Zero
	for _, k := range keys {
		denom, err := decimal.NewFromString(strings.TrimSpace(k))
		if err != nil || !denom.IsPositive() {
			return Zero, invalid("breakdown", "denomination %q must be a positive number", k)
		}
		count := b[k]
		if count < 0 {
			return Zero, invalid("breakdown", "count for %s must not be negative", k)
		}
		total = total.Add(denom.Mul(decimal.NewFromInt(int64(count))))
	}
	return MoneyOf(total), nil
}

// CashReconciler compares counted cash against the closed session's cash
// total. It runs once per session.
type CashReconciler struct {
	*env
}

type CountRequest struct {
	SessionID SessionID
	// CountedCash may be nil when Breakdown is given; it is then derived.
	CountedCash *Money
	Breakdown   Breakdown
	Notes       string
}

func (c *CashReconciler) RecordCount(ctx context.Context, req CountRequest) (CashDrawerCount, error) {
	counted, err := resolveCounted(req)
	if err != nil {
		return CashDrawerCount{}, err
	}

	var count CashDrawerCount
	err = c.retry.Do(ctx, func() error {
		return c.inTx(ctx, func(s Store) error {
			session, err := lockSession(ctx, s, req.SessionID)
			if err != nil {
				return err
			}
			if session.IsOpen() {
				return &StateError{Subject: "session " + string(session.ID), Reason: "must be closed before counting the drawer"}
			}
			existing, err := s.GetCashCount(ctx, session.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				return fmt.Errorf("session %s: %w", session.ID, ErrDuplicateCount)
			}

			expected := session.Totals.Cash
			variance := counted.Sub(expected)
			count = CashDrawerCount{
				ID:               CountID(c.newID()),
				SessionID:        session.ID,
				UserID:           session.UserID,
				BranchID:         session.BranchID,
				ExpectedCash:     expected,
				CountedCash:      counted,
				Variance:         variance,
				Breakdown:        req.Breakdown,
				Notes:            strings.TrimSpace(req.Notes),
				RequiresApproval: variance.Abs().GreaterThan(VarianceThreshold),
				CreatedAt:        c.clock(),
			}
			return s.InsertCashCount(ctx, count)
		})
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateCount) {
			c.log.WarnContext(ctx, "duplicate cash count", "action", "record_count", "session_id", req.SessionID)
		}
		return CashDrawerCount{}, err
	}

	c.log.InfoContext(ctx, "cash counted", "action", "record_count", "session_id", count.SessionID,
		"expected", count.ExpectedCash.String(), "counted", count.CountedCash.String(),
		"variance", count.Variance.String(), "requires_approval", count.RequiresApproval)
	c.emit(Event{
		Type:      EventCashCounted,
		SessionID: count.SessionID,
		BranchID:  count.BranchID,
		Actor:     ActorID(count.UserID),
		Attributes: map[string]string{
			"variance":          count.Variance.String(),
			"requires_approval": fmt.Sprintf("%t", count.RequiresApproval),
		},
		At: count.CreatedAt,
	})
	return count, nil
}

func resolveCounted(req CountRequest) (Money, error) {
	if strings.TrimSpace(string(req.SessionID)) == "" {
		return Zero, invalid("session_id", "is required")
	}
	if req.CountedCash == nil && len(req.Breakdown) == 0 {
		return Zero, invalid("counted_cash", "is required when no breakdown is given")
	}

	var counted Money
	if req.CountedCash != nil {
		counted = req.CountedCash.Round()
		if counted.IsNegative() {
			return Zero, invalid("counted_cash", "must not be negative, got %s", counted)
		}
	}
	if len(req.Breakdown) == 0 {
		return counted, nil
	}

	derived, err := req.Breakdown.Total()
	if err != nil {
		return Zero, err
	}
	if req.CountedCash == nil {
		return derived, nil
	}
	if !derived.Equal(counted) {
		return Zero, invalid("breakdown", "sums to %s but counted_cash is %s", derived, counted)
	}
	return counted, nil
}
