/*
session.go - Staff shift (session) tracking

INVARIANTS:
  1. At most one open session (logout_time NULL) per user, enforced by the
     store's partial unique index, not only by the pre-check here.
  2. Totals are written exactly once, at close, verbatim from the caller.
     ComputeTotals is the read side callers use to produce them.
  3. Closing an already-closed session with the same totals succeeds as a
     no-op; a duplicate sign-out must never fail the user.
*/
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

type SessionTracker struct {
	*env
}

type EndResult struct {
	Session    StaffSession
	Idempotent bool // the session was already closed with these totals
}

// StartSession opens a shift. Fails with SessionOpenError when the user
// already has one open.
func (t *SessionTracker) StartSession(ctx context.Context, user UserID, branch BranchID) (StaffSession, error) {
	if strings.TrimSpace(string(user)) == "" {
		return StaffSession{}, invalid("user_id", "is required")
	}
	if strings.TrimSpace(string(branch)) == "" {
		return StaffSession{}, invalid("branch_id", "is required")
	}

	var session StaffSession
	err := t.retry.Do(ctx, func() error {
		return t.inTx(ctx, func(s Store) error {
			open, err := s.GetOpenSession(ctx, user)
			if err != nil {
				return err
			}
			if open != nil {
				return &SessionOpenError{Existing: *open}
			}
			now := t.clock()
			session = StaffSession{
				ID:        SessionID(t.newID()),
				UserID:    user,
				BranchID:  branch,
				LoginTime: now,
				Totals:    SessionTotals{Cash: Zero, Card: Zero, Mobile: Zero},
				CreatedAt: now,
			}
			return s.InsertSession(ctx, session)
		})
	})
	if errors.Is(err, ErrSessionAlreadyOpen) {
		var openErr *SessionOpenError
		if !errors.As(err, &openErr) {
			// Lost the insert race; the constraint fired without a row in hand.
			existing, lookupErr := t.store.GetOpenSession(ctx, user)
			if lookupErr != nil {
				return StaffSession{}, lookupErr
			}
			if existing != nil {
				return StaffSession{}, &SessionOpenError{Existing: *existing}
			}
		}
		return StaffSession{}, err
	}
	if err != nil {
		return StaffSession{}, err
	}

	t.log.InfoContext(ctx, "session opened", "action", "start_session",
		"session_id", session.ID, "user_id", user, "branch_id", branch)
	t.emit(Event{Type: EventSessionOpened, SessionID: session.ID, BranchID: branch, Actor: ActorID(user), At: session.LoginTime})
	return session, nil
}

// EnsureSession is the sign-in path: it opens a session, or returns the one
// already open for the user with alreadyOpen=true.
func (t *SessionTracker) EnsureSession(ctx context.Context, user UserID, branch BranchID) (session StaffSession, alreadyOpen bool, err error) {
	session, err = t.StartSession(ctx, user, branch)
	var openErr *SessionOpenError
	if errors.As(err, &openErr) {
		return openErr.Existing, true, nil
	}
	return session, false, err
}

// EndSession closes the session and writes totals verbatim.
func (t *SessionTracker) EndSession(ctx context.Context, id SessionID, totals SessionTotals) (EndResult, error) {
	totals = SessionTotals{Cash: totals.Cash.Round(), Card: totals.Card.Round(), Mobile: totals.Mobile.Round()}
	for field, v := range map[string]Money{"cash_total": totals.Cash, "card_total": totals.Card, "mobile_total": totals.Mobile} {
		if v.IsNegative() {
			return EndResult{}, invalid(field, "must not be negative, got %s", v)
		}
	}

	var result EndResult
	err := t.retry.Do(ctx, func() error {
		return t.inTx(ctx, func(s Store) error {
			session, err := lockSession(ctx, s, id)
			if err != nil {
				return err
			}
			if !session.IsOpen() {
				if !session.Totals.Equal(totals) {
					return &StateError{Subject: "session " + string(id),
						Reason: fmt.Sprintf("already closed with different totals (cash %s, card %s, mobile %s)",
							session.Totals.Cash, session.Totals.Card, session.Totals.Mobile)}
				}
				result = EndResult{Session: *session, Idempotent: true}
				return nil
			}

			now := t.clock()
			if err := s.CloseSession(ctx, id, now, totals); err != nil {
				return err
			}
			session.LogoutTime = &now
			session.Totals = totals
			result = EndResult{Session: *session}
			return nil
		})
	})
	if err != nil {
		return EndResult{}, err
	}
	if result.Idempotent {
		t.log.InfoContext(ctx, "session already closed", "action", "end_session", "session_id", id)
		return result, nil
	}

	t.log.InfoContext(ctx, "session closed", "action", "end_session", "session_id", id,
		"cash_total", totals.Cash.String(), "card_total", totals.Card.String(), "mobile_total", totals.Mobile.String())
	t.emit(Event{
		Type:      EventSessionClosed,
		SessionID: id,
		BranchID:  result.Session.BranchID,
		Actor:     ActorID(result.Session.UserID),
		Attributes: map[string]string{
			"cash_total":   totals.Cash.String(),
			"card_total":   totals.Card.String(),
			"mobile_total": totals.Mobile.String(),
		},
		At: *result.Session.LogoutTime,
	})
	return result, nil
}

func (t *SessionTracker) GetSession(ctx context.Context, id SessionID) (StaffSession, error) {
	session, err := t.store.GetSession(ctx, id)
	if err != nil {
		return StaffSession{}, err
	}
	if session == nil {
		return StaffSession{}, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return *session, nil
}

// ComputeTotals sums, per method, the accepted payments the session's user
// processed at its branch between login and logout (or now while open),
// net of refunds against those payments.
func (t *SessionTracker) ComputeTotals(ctx context.Context, id SessionID) (SessionTotals, error) {
	session, err := t.GetSession(ctx, id)
	if err != nil {
		return SessionTotals{}, err
	}
	from, to := sessionWindow(session, t.clock())
	payments, err := t.store.ListPaymentsByProcessor(ctx, ActorID(session.UserID), session.BranchID, from, to)
	if err != nil {
		return SessionTotals{}, err
	}
	totals := SessionTotals{Cash: Zero, Card: Zero, Mobile: Zero}
	for _, p := range payments {
		if p.Status != PaymentPaid {
			continue
		}
		refunds, err := t.store.ListRefundsByPayment(ctx, p.ID)
		if err != nil {
			return SessionTotals{}, err
		}
		net := p.Amount
		for _, r := range refunds {
			net = net.Sub(r.Amount)
		}
		totals.add(p.Method, net)
	}
	return totals, nil
}

func lockSession(ctx context.Context, s Store, id SessionID) (*StaffSession, error) {
	session, err := s.LockSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
	}
	return session, nil
}

// sessionWindow is the [from, to] span a session covers at time now.
func sessionWindow(s StaffSession, now time.Time) (time.Time, time.Time) {
	if s.LogoutTime != nil {
		return s.LoginTime, *s.LogoutTime
	}
	return s.LoginTime, now
}
