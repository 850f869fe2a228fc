package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(cash, sec float64, approved bool) TradeRecord {
	return TradeRecord{
		Timestamp:          time.Now(),
		RequiredCash:       cash,
		RequiredSecurities: sec,
		Approved:           approved,
		ConfidenceScore:    0.8,
		RiskLevel:          "LOW",
	}
}

func TestRecordEviction(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	// Insert one past capacity; the oldest must fall out, the second
	// insert becomes the oldest survivor.
	for i := 1; i <= historyCap+1; i++ {
		rec := record(float64(i), 1, true)
		require.NoError(t, store.Record(ctx, rec))
	}

	assert.Len(t, store.records, historyCap)
	assert.Equal(t, 2.0, store.records[0].RequiredCash)
	assert.Equal(t, float64(historyCap+1), store.records[historyCap-1].RequiredCash)

	// Totals keep counting past eviction.
	totals, err := store.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, historyCap+1, totals.TradesProcessed)
}

func TestSimilarTradesTolerance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	require.NoError(t, store.Record(ctx, record(1150, 10, true))) // 15% off the cash query
	require.NoError(t, store.Record(ctx, record(1250, 10, true))) // 25% off the cash query
	require.NoError(t, store.Record(ctx, record(1000, 13, true))) // 30% off the securities query

	similar, err := store.SimilarTrades(ctx, 1000, 10, 0)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, 1150.0, similar[0].RequiredCash)
}

func TestSimilarTradesOrderAndLimit(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	for i := 0; i < 8; i++ {
		require.NoError(t, store.Record(ctx, record(1000+float64(i), 10, true)))
	}

	similar, err := store.SimilarTrades(ctx, 1000, 10, 0)
	require.NoError(t, err)
	require.Len(t, similar, defaultSimilarLimit)

	// Most recent first.
	assert.Equal(t, 1007.0, similar[0].RequiredCash)
	assert.Equal(t, 1003.0, similar[defaultSimilarLimit-1].RequiredCash)
}

func TestSimilarTradesZeroLeg(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	require.NoError(t, store.Record(ctx, record(1000, 0, true)))
	require.NoError(t, store.Record(ctx, record(1000, 1, true)))

	similar, err := store.SimilarTrades(ctx, 1000, 0, 0)
	require.NoError(t, err)
	require.Len(t, similar, 1)
	assert.Equal(t, 0.0, similar[0].RequiredSecurities)
}

func TestUpdateThresholdSmoothing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	adj, err := store.UpdateThreshold(ctx, 2000)
	require.NoError(t, err)

	// new = 1000*0.7 + 2000*0.3
	assert.InDelta(t, 1300.0, adj.New, 1e-9)
	assert.Equal(t, 1000.0, adj.Old)
	assert.Equal(t, 2000.0, adj.Recommended)

	current, err := store.Threshold(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1300.0, current, 1e-9)
}

func TestUpdateThresholdRejectsBadValues(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	for _, bad := range []float64{0, -5} {
		_, err := store.UpdateThreshold(ctx, bad)
		assert.ErrorIs(t, err, ErrBadThreshold)
	}

	current, err := store.Threshold(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, current, "rejected recommendations leave the threshold alone")
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	require.NoError(t, store.Record(ctx, record(500, 10, true)))
	require.NoError(t, store.Record(ctx, record(600, 10, false)))
	_, err := store.UpdateThreshold(ctx, 2000)
	require.NoError(t, err)

	snap, err := store.Snapshot(ctx, 10)
	require.NoError(t, err)

	assert.Equal(t, 2, snap.Totals.TradesProcessed)
	assert.Equal(t, 1, snap.Totals.Approved)
	assert.Equal(t, 1, snap.Totals.Rejected)
	assert.InDelta(t, 1300.0, snap.CurrentThreshold, 1e-9)
	require.Len(t, snap.RecentTrades, 2)
	assert.Equal(t, 600.0, snap.RecentTrades[0].RequiredCash, "newest first")
	require.Len(t, snap.RecentAdjustments, 1)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(1000)

	require.NoError(t, store.Record(ctx, record(500, 10, true)))
	_, err := store.UpdateThreshold(ctx, 5000)
	require.NoError(t, err)

	require.NoError(t, store.Reset(ctx))

	snap, err := store.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, snap.Totals.TradesProcessed)
	assert.Empty(t, snap.RecentTrades)
	assert.Empty(t, snap.RecentAdjustments)
	assert.Equal(t, 1000.0, snap.CurrentThreshold, "reset restores the initial threshold")
}
