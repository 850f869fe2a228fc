//go:build integration

package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/tradegate/internal/testutil"
)

func setupPostgres(t *testing.T) (*PostgresStore, func()) {
	t.Helper()

	db, cleanup := testutil.PGTest(t)
	store := NewPostgresStore(db, 1000)
	if err := store.Migrate(context.Background()); err != nil {
		cleanup()
		t.Fatalf("migrate: %v", err)
	}
	return store, cleanup
}

func TestPostgresRecordAndSimilar(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, record(1150, 10, true)))
	require.NoError(t, store.Record(ctx, record(1250, 10, false)))

	similar, err := store.SimilarTrades(ctx, 1000, 10, 0)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, 1150.0, similar[0].RequiredCash)

	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, totals.TradesProcessed)
	assert.Equal(t, 1, totals.Approved)
}

func TestPostgresThresholdSmoothing(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	adj, err := store.UpdateThreshold(ctx, 2000)
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, adj.New, 1e-9)

	current, err := store.Threshold(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, current, 1e-9)

	snap, err := store.Snapshot(ctx, 10)
	require.NoError(t, err)
	require.Len(t, snap.RecentAdjustments, 1)
	assert.Equal(t, 1000.0, snap.RecentAdjustments[0].Old)
}

func TestPostgresReset(t *testing.T) {
	store, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	require.NoError(t, store.Record(ctx, record(500, 5, true)))
	_, err := store.UpdateThreshold(ctx, 4000)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	snap, err := store.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, snap.Totals.TradesProcessed)
	assert.Empty(t, snap.RecentTrades)
	assert.Equal(t, 1000.0, snap.CurrentThreshold)
}
