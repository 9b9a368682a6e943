package ledger

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// ENGINE - Wires the components over one transactional store
// =============================================================================

// Engine exposes the ledger components. All of them share one TxStore, one
// clock and one event sink.
type Engine struct {
	Orders    *OrderBook
	Lifecycle *OrderLifecycle
	Payments  *PaymentLedger
	Refunds   *RefundLedger
	Sessions  *SessionTracker
	Cash      *CashReconciler
}

type env struct {
	store   TxStore
	now     func() time.Time
	newID   func() string
	events  EventSink
	log     *slog.Logger
	retry   RetryPolicy
	catalog Catalog
}

type Option func(*env)

// WithClock replaces time.Now. Returned times are converted to UTC.
func WithClock(now func() time.Time) Option { return func(e *env) { e.now = now } }

// WithIDGenerator replaces uuid.NewString for row identifiers.
func WithIDGenerator(f func() string) Option { return func(e *env) { e.newID = f } }

func WithEventSink(s EventSink) Option     { return func(e *env) { e.events = s } }
func WithLogger(l *slog.Logger) Option     { return func(e *env) { e.log = l } }
func WithRetryPolicy(p RetryPolicy) Option { return func(e *env) { e.retry = p } }
func WithCatalog(c Catalog) Option         { return func(e *env) { e.catalog = c } }

func New(store TxStore, opts ...Option) *Engine {
	e := &env{
		store:  store,
		now:    time.Now,
		newID:  uuid.NewString,
		events: discardSink{},
		log:    slog.Default(),
		retry:  DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(e)
	}

	lifecycle := &OrderLifecycle{env: e}
	return &Engine{
		Orders:    &OrderBook{env: e},
		Lifecycle: lifecycle,
		Payments:  &PaymentLedger{env: e, lifecycle: lifecycle},
		Refunds:   &RefundLedger{env: e},
		Sessions:  &SessionTracker{env: e},
		Cash:      &CashReconciler{env: e},
	}
}

func (e *env) clock() time.Time { return e.now().UTC() }

// emit hands committed events to the sink. Call only after WithTx returned nil.
func (e *env) emit(events ...Event) {
	for _, ev := range events {
		e.events.Emit(ev)
	}
}

func (e *env) inTx(ctx context.Context, fn func(Store) error) error {
	return e.store.WithTx(ctx, fn)
}

// =============================================================================
// SHARED VALIDATION
// =============================================================================

var idempotencyKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:\-]{1,128}$`)

func validateIdempotencyKey(key string) error {
	if key == "" {
		return invalid("idempotency_key", "is required")
	}
	if !idempotencyKeyPattern.MatchString(key) {
		return invalid("idempotency_key", "must be 1-128 characters of [A-Za-z0-9._:-]")
	}
	return nil
}

func validateActor(actor ActorID) error {
	if strings.TrimSpace(string(actor)) == "" {
		return invalid("actor", "is required")
	}
	return nil
}

func validatePositive(field string, m Money) error {
	if !m.IsPositive() {
		return invalid(field, "must be greater than zero, got %s", m)
	}
	return nil
}
