package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var t0 = time.Date(2025, time.March, 10, 18, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type eventLog struct {
	mu     sync.Mutex
	events []ledger.Event
}

func (l *eventLog) Emit(e ledger.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) Types() []ledger.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]ledger.EventType, 0, len(l.events))
	for _, e := range l.events {
		out = append(out, e.Type)
	}
	return out
}

func (l *eventLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = nil
}

type harness struct {
	engine *ledger.Engine
	store  *store.Memory
	clock  *fakeClock
	events *eventLog
}

func sequentialIDs() func() string {
	var mu sync.Mutex
	n := 0
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%04d", n)
	}
}

func newHarness(t *testing.T, opts ...ledger.Option) *harness {
	t.Helper()
	mem := store.NewMemory()
	return newHarnessOn(t, mem, mem, opts...)
}

// newHarnessOn lets a test wrap the backing memory store.
func newHarnessOn(t *testing.T, txs ledger.TxStore, mem *store.Memory, opts ...ledger.Option) *harness {
	t.Helper()
	h := &harness{store: mem, clock: &fakeClock{now: t0}, events: &eventLog{}}
	base := []ledger.Option{
		ledger.WithClock(h.clock.Now),
		ledger.WithIDGenerator(sequentialIDs()),
		ledger.WithEventSink(h.events),
		ledger.WithRetryPolicy(ledger.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}),
	}
	h.engine = ledger.New(txs, append(base, opts...)...)
	return h
}

const (
	cashier = ledger.ActorID("cashier-1")
	branch  = ledger.BranchID("branch-1")
)

func money(s string) ledger.Money { return ledger.MustParseMoney(s) }

func moneyPtr(s string) *ledger.Money {
	m := money(s)
	return &m
}

// newOrder creates an order with one line item priced at total.
func (h *harness) newOrder(t *testing.T, total string) ledger.Order {
	t.Helper()
	detail, err := h.engine.Orders.CreateOrder(context.Background(), ledger.NewOrder{
		BranchID: branch,
		Items:    []ledger.NewOrderItem{{MenuItemID: "shawarma", Quantity: 1, UnitPrice: moneyPtr(total)}},
		Actor:    cashier,
	})
	require.NoError(t, err)
	return detail.Order
}

// billRequested creates an order and walks it to bill_requested.
func (h *harness) billRequested(t *testing.T, total string) ledger.Order {
	t.Helper()
	order := h.newOrder(t, total)
	for i := 0; i < 3; i++ {
		_, err := h.engine.Lifecycle.Advance(context.Background(), order.ID, cashier)
		require.NoError(t, err)
	}
	got, err := h.store.GetOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, ledger.StatusBillRequested, got.Status)
	return *got
}

func (h *harness) order(t *testing.T, id ledger.OrderID) ledger.Order {
	t.Helper()
	o, err := h.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, o)
	return *o
}

// =============================================================================
// ORDER BOOK TESTS
// =============================================================================

func TestCreateOrder_ComputesTotalsAndLogsCreation(t *testing.T) {
	// GIVEN: Two items, tax 1.050 and discount 0.500
	// WHEN: Creating the order
	// THEN: subtotal = sum(qty x price), total = subtotal + tax - discount,
	//       and the first log row has no previous status

	h := newHarness(t)
	ctx := context.Background()

	detail, err := h.engine.Orders.CreateOrder(ctx, ledger.NewOrder{
		BranchID: branch,
		Items: []ledger.NewOrderItem{
			{MenuItemID: "shawarma", Quantity: 2, UnitPrice: moneyPtr("1.250")},
			{MenuItemID: "karak", Quantity: 3, UnitPrice: moneyPtr("0.300")},
		},
		TaxAmount:      money("1.050"),
		DiscountAmount: money("0.500"),
		Actor:          cashier,
	})
	require.NoError(t, err)

	o := detail.Order
	assert.Equal(t, "3.400", o.Subtotal.String())
	assert.Equal(t, "3.950", o.TotalAmount.String())
	assert.NoError(t, o.CheckTotals())
	assert.Equal(t, ledger.StatusCreated, o.Status)
	assert.Equal(t, ledger.PaymentUnpaid, o.PaymentStatus)

	log, err := h.store.ListStatusLog(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.Nil(t, log[0].PreviousStatus)
	assert.Equal(t, ledger.StatusCreated, log[0].NewStatus)
	assert.Equal(t, []ledger.EventType{ledger.EventOrderCreated}, h.events.Types())
}

func TestCreateOrder_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  ledger.NewOrder
	}{
		{"missing branch", ledger.NewOrder{Actor: cashier}},
		{"missing actor", ledger.NewOrder{BranchID: branch}},
		{"zero quantity", ledger.NewOrder{BranchID: branch, Actor: cashier,
			Items: []ledger.NewOrderItem{{MenuItemID: "x", Quantity: 0, UnitPrice: moneyPtr("1")}}}},
		{"negative price", ledger.NewOrder{BranchID: branch, Actor: cashier,
			Items: []ledger.NewOrderItem{{MenuItemID: "x", Quantity: 1, UnitPrice: moneyPtr("-1")}}}},
		{"missing price", ledger.NewOrder{BranchID: branch, Actor: cashier,
			Items: []ledger.NewOrderItem{{MenuItemID: "x", Quantity: 1}}}},
		{"discount above total", ledger.NewOrder{BranchID: branch, Actor: cashier, DiscountAmount: money("5"),
			Items: []ledger.NewOrderItem{{MenuItemID: "x", Quantity: 1, UnitPrice: moneyPtr("1")}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Orders.CreateOrder(ctx, tc.req)
			assert.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

type menu map[ledger.MenuItemID]string

func (m menu) LookupMenuItem(_ context.Context, _ ledger.BranchID, id ledger.MenuItemID) (ledger.Money, bool, error) {
	price, ok := m[id]
	if !ok {
		return ledger.Zero, false, nil
	}
	return ledger.MustParseMoney(price), true, nil
}

func TestCreateOrder_CatalogPricesItems(t *testing.T) {
	// GIVEN: A catalog with shawarma at 1.250
	// WHEN: Ordering without a price, with a wrong price, and an unknown item
	// THEN: Catalog price is used; mismatches and unknown items are rejected

	h := newHarness(t, ledger.WithCatalog(menu{"shawarma": "1.250"}))
	ctx := context.Background()

	detail, err := h.engine.Orders.CreateOrder(ctx, ledger.NewOrder{
		BranchID: branch, Actor: cashier,
		Items: []ledger.NewOrderItem{{MenuItemID: "shawarma", Quantity: 2}},
	})
	require.NoError(t, err)
	assert.Equal(t, "2.500", detail.Order.TotalAmount.String())

	_, err = h.engine.Orders.CreateOrder(ctx, ledger.NewOrder{
		BranchID: branch, Actor: cashier,
		Items: []ledger.NewOrderItem{{MenuItemID: "shawarma", Quantity: 1, UnitPrice: moneyPtr("0.100")}},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)

	_, err = h.engine.Orders.CreateOrder(ctx, ledger.NewOrder{
		BranchID: branch, Actor: cashier,
		Items: []ledger.NewOrderItem{{MenuItemID: "pizza", Quantity: 1}},
	})
	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestAddItem_RecomputesTotalUntilLocked(t *testing.T) {
	// GIVEN: An order at 5.000
	// WHEN: Adding an item, then paying part, then adding again
	// THEN: First add raises the total; after payment starts the add is
	//       rejected with ErrOrderLocked

	h := newHarness(t)
	ctx := context.Background()
	order := h.newOrder(t, "5.000")

	updated, item, err := h.engine.Orders.AddItem(ctx, order.ID,
		ledger.NewOrderItem{MenuItemID: "karak", Quantity: 2, UnitPrice: moneyPtr("0.250")}, cashier)
	require.NoError(t, err)
	assert.Equal(t, "0.500", item.TotalPrice.String())
	assert.Equal(t, "5.500", updated.TotalAmount.String())
	assert.Equal(t, order.Version+1, updated.Version)

	_, err = h.engine.Payments.FinalizePayment(ctx, ledger.PaymentRequest{
		OrderID: order.ID, Amount: money("1.000"), Method: ledger.MethodCash, IdempotencyKey: "p1", Actor: cashier,
	})
	require.NoError(t, err)

	_, _, err = h.engine.Orders.AddItem(ctx, order.ID,
		ledger.NewOrderItem{MenuItemID: "karak", Quantity: 1, UnitPrice: moneyPtr("0.250")}, cashier)
	assert.ErrorIs(t, err, ledger.ErrOrderLocked)
	assert.Equal(t, "5.500", h.order(t, order.ID).TotalAmount.String())
}

func TestGetOrder_ReturnsFullDetail(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "10.000")

	pay, err := h.engine.Payments.FinalizePayment(ctx, ledger.PaymentRequest{
		OrderID: order.ID, Amount: money("10"), Method: ledger.MethodCard, IdempotencyKey: "p1", Actor: cashier,
	})
	require.NoError(t, err)
	_, err = h.engine.Refunds.Refund(ctx, ledger.RefundRequest{
		PaymentID: pay.Payment.ID, Amount: money("2"), Reason: "cold food", Actor: cashier,
	})
	require.NoError(t, err)

	detail, err := h.engine.Orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 1)
	assert.Len(t, detail.Payments, 1)
	assert.Len(t, detail.Refunds, 1)
	assert.Len(t, detail.StatusLog, 5)

	_, err = h.engine.Orders.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestAdvance_WalksLinearLifecycle(t *testing.T) {
	// GIVEN: A new order
	// WHEN: Advancing three times
	// THEN: created -> sent_to_kitchen -> served -> bill_requested, one log
	//       row per step, each naming its predecessor

	h := newHarness(t)
	ctx := context.Background()
	order := h.newOrder(t, "3.000")

	want := []ledger.OrderStatus{ledger.StatusSentToKitchen, ledger.StatusServed, ledger.StatusBillRequested}
	prev := ledger.StatusCreated
	for _, next := range want {
		res, err := h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
		require.NoError(t, err)
		assert.Equal(t, prev, res.PreviousStatus)
		assert.Equal(t, next, res.NewStatus)
		prev = next
	}

	log, err := h.store.ListStatusLog(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, log, 4)
	for i := 1; i < len(log); i++ {
		require.NotNil(t, log[i].PreviousStatus)
		assert.Equal(t, log[i-1].NewStatus, *log[i].PreviousStatus)
		assert.Equal(t, cashier, log[i].ChangedBy)
	}
}

func TestAdvance_IntoPaidRequiresPayment(t *testing.T) {
	// GIVEN: An order at bill_requested with nothing paid
	// WHEN: Advancing
	// THEN: Rejected; status and log are unchanged

	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "4.000")

	_, err := h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	assert.Equal(t, ledger.StatusBillRequested, h.order(t, order.ID).Status)

	log, err := h.store.ListStatusLog(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, log, 4)
}

func TestAdvance_ClosedOrderRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.billRequested(t, "4.000")

	_, err := h.engine.Payments.FinalizePayment(ctx, ledger.PaymentRequest{
		OrderID: order.ID, Amount: money("4"), Method: ledger.MethodCash, IdempotencyKey: "p1", Actor: cashier,
	})
	require.NoError(t, err)
	res, err := h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusClosed, res.NewStatus)

	_, err = h.engine.Lifecycle.Advance(ctx, order.ID, cashier)
	var te *ledger.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ledger.StatusClosed, te.From)
}

func TestAdvanceFrom_StaleExpectationRejected(t *testing.T) {
	// GIVEN: Two terminals both saw the order at created
	// WHEN: Both advance with expected=created
	// THEN: The first wins; the second gets InvalidTransition and the order
	//       moved exactly one step

	h := newHarness(t)
	ctx := context.Background()
	order := h.newOrder(t, "2.000")

	_, err := h.engine.Lifecycle.AdvanceFrom(ctx, order.ID, ledger.StatusCreated, "terminal-a")
	require.NoError(t, err)
	_, err = h.engine.Lifecycle.AdvanceFrom(ctx, order.ID, ledger.StatusCreated, "terminal-b")
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	assert.Equal(t, ledger.StatusSentToKitchen, h.order(t, order.ID).Status)
}

// interleavedStore runs between once, before the next transaction opens.
type interleavedStore struct {
	*store.Memory
	between func()
}

func (s *interleavedStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	if hook := s.between; hook != nil {
		s.between = nil
		hook()
	}
	return s.Memory.WithTx(ctx, fn)
}

func TestAdvance_TransitionCommittedInFlightRejected(t *testing.T) {
	// GIVEN: Terminal B advances the order after terminal A read its status
	//        but before A locks the row
	// WHEN: A's Advance runs its transaction
	// THEN: InvalidTransition; the order moved exactly one step with one
	//       new log row

	mem := store.NewMemory()
	racing := &interleavedStore{Memory: mem}
	h := newHarnessOn(t, racing, mem)
	other := ledger.New(mem, ledger.WithIDGenerator(func() string { return "other-log" }))
	ctx := context.Background()
	order := h.newOrder(t, "2.000")

	var otherErr error
	racing.between = func() {
		_, otherErr = other.Lifecycle.Advance(ctx, order.ID, "terminal-b")
	}

	_, err := h.engine.Lifecycle.Advance(ctx, order.ID, "terminal-a")
	require.NoError(t, otherErr)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	assert.Equal(t, "invalid_transition", ledger.Code(err))

	assert.Equal(t, ledger.StatusSentToKitchen, h.order(t, order.ID).Status)
	log, err := mem.ListStatusLog(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, log, 2)
	assert.Equal(t, ledger.ActorID("terminal-b"), log[1].ChangedBy)
}

func TestTransitionTo_OnlyAllowList(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.newOrder(t, "2.000")

	_, err := h.engine.Lifecycle.TransitionTo(ctx, order.ID, ledger.StatusServed, cashier)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	_, err = h.engine.Lifecycle.TransitionTo(ctx, order.ID, "refunded", cashier)
	assert.ErrorIs(t, err, ledger.ErrValidation)

	assert.Equal(t, ledger.StatusCreated, h.order(t, order.ID).Status)
}

func TestAdvance_UnknownOrder(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Lifecycle.Advance(context.Background(), "nope", cashier)
	assert.ErrorIs(t, err, ledger.ErrOrderNotFound)
	assert.Equal(t, "not_found", ledger.Code(err))
}
