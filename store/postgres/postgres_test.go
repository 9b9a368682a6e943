package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/warp/pos-ledger/ledger"
	"github.com/warp/pos-ledger/ledger/storetest"
	"github.com/warp/pos-ledger/store/postgres"
)

// Set POSLEDGER_TEST_POSTGRES_DSN to run against a disposable database.
// Every subtest truncates the ledger tables.
func TestPostgresConformance(t *testing.T) {
	dsn := os.Getenv("POSLEDGER_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSLEDGER_TEST_POSTGRES_DSN not set")
	}

	storetest.Run(t, func(t *testing.T) ledger.TxStore {
		ctx := context.Background()
		store, err := postgres.New(ctx, dsn)
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })

		_, err = store.DB().ExecContext(ctx, `TRUNCATE cash_drawer_counts, staff_sessions, refunds,
			payments, order_status_log, order_items, orders`)
		require.NoError(t, err)
		return store
	})
}
