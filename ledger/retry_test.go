package ledger_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/store"
)

func TestRetryPolicy_RetriesOnlyConflicts(t *testing.T) {
	policy := ledger.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	ctx := context.Background()

	calls := 0
	err := policy.Do(ctx, func() error {
		calls++
		if calls < 3 {
			return ledger.ErrConcurrencyConflict
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = policy.Do(ctx, func() error {
		calls++
		return ledger.ErrOverpayment
	})
	assert.ErrorIs(t, err, ledger.ErrOverpayment)
	assert.Equal(t, 1, calls)

	calls = 0
	err = policy.Do(ctx, func() error {
		calls++
		return ledger.ErrConcurrencyConflict
	})
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
	assert.Contains(t, err.Error(), "gave up after 3 attempts")
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnContextCancel(t *testing.T) {
	policy := ledger.RetryPolicy{Attempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Do(ctx, func() error { return ledger.ErrConcurrencyConflict })
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, ledger.ErrConcurrencyConflict)
}

// flakyStore fails the first n payment inserts with err. afterRollback runs
// once, outside the store lock, after the first failed transaction.
type flakyStore struct {
	*store.Memory
	failures      int
	err           error
	afterRollback func()
}

func (f *flakyStore) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	err := f.Memory.WithTx(ctx, func(s ledger.Store) error {
		return fn(flakyTx{Store: s, parent: f})
	})
	if err != nil && f.afterRollback != nil {
		hook := f.afterRollback
		f.afterRollback = nil
		hook()
	}
	return err
}

type flakyTx struct {
	ledger.Store
	parent *flakyStore
}

func (tx flakyTx) InsertPayment(ctx context.Context, p ledger.Payment) error {
	if tx.parent.failures > 0 {
		tx.parent.failures--
		return tx.parent.err
	}
	return tx.Store.InsertPayment(ctx, p)
}

func TestFinalizePayment_RetriesConflicts(t *testing.T) {
	// GIVEN: A store whose first payment insert hits lock contention
	// WHEN: Paying
	// THEN: The engine retries the whole unit and records exactly one payment

	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failures: 1, err: ledger.ErrConcurrencyConflict}
	h := newHarnessOn(t, flaky, mem)
	ctx := context.Background()
	order := h.billRequested(t, "5.000")

	res, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "5.000", "k1"))
	require.NoError(t, err)
	assert.True(t, res.PaidInFull)
	assert.Equal(t, 0, flaky.failures)

	payments, err := mem.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestFinalizePayment_DuplicateKeyRaceReplays(t *testing.T) {
	// GIVEN: A concurrent request commits k1 between our lookup and insert
	// WHEN: Our insert hits the unique constraint
	// THEN: The retry finds the committed row and replays it

	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem}
	h := newHarnessOn(t, flaky, mem)
	ctx := context.Background()
	order := h.billRequested(t, "5.000")

	winner := ledger.Payment{
		ID: "winner", OrderID: order.ID, BranchID: order.BranchID, ProcessedBy: "terminal-b",
		Amount: money("5.000"), Method: ledger.MethodCash, Status: ledger.PaymentPaid,
		IdempotencyKey: "k1", CreatedAt: t0, UpdatedAt: t0,
	}
	var winnerErr error
	flaky.failures = 1
	flaky.err = fmt.Errorf("insert payment: %w", ledger.ErrDuplicateIdempotencyKey)
	flaky.afterRollback = func() { winnerErr = mem.InsertPayment(ctx, winner) }

	res, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "5.000", "k1"))
	require.NoError(t, err)
	require.NoError(t, winnerErr)
	assert.True(t, res.Idempotent)
	assert.Equal(t, ledger.PaymentID("winner"), res.Payment.ID)
	assert.Equal(t, 0, flaky.failures)
}

func TestFinalizePayment_GivesUpAfterAttempts(t *testing.T) {
	mem := store.NewMemory()
	flaky := &flakyStore{Memory: mem, failures: 10, err: ledger.ErrConcurrencyConflict}
	h := newHarnessOn(t, flaky, mem)
	ctx := context.Background()
	order := h.billRequested(t, "5.000")

	_, err := h.engine.Payments.FinalizePayment(ctx, cashPayment(order.ID, "5.000", "k1"))
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, "concurrency_conflict", ledger.Code(err))
	assert.Equal(t, 7, flaky.failures)

	payments, err := mem.ListPaymentsByOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Empty(t, payments)
}
