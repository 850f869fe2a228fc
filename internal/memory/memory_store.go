package memory

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process learning store. It is the default backing
// for single-node deployments and for tests.
type MemoryStore struct {
	mu               sync.RWMutex
	records          []TradeRecord // oldest first
	adjustments      []ThresholdAdjustment
	threshold        float64
	initialThreshold float64
	approved         int
	rejected         int
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store seeded with the configured initial threshold.
func NewMemoryStore(initialThreshold float64) *MemoryStore {
	return &MemoryStore{
		threshold:        initialThreshold,
		initialThreshold: initialThreshold,
	}
}

func (m *MemoryStore) Record(_ context.Context, rec TradeRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = append(m.records, rec)
	if len(m.records) > historyCap {
		m.records = m.records[len(m.records)-historyCap:]
	}
	if rec.Approved {
		m.approved++
	} else {
		m.rejected++
	}
	return nil
}

func (m *MemoryStore) SimilarTrades(_ context.Context, requiredCash, requiredSecurities float64, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = defaultSimilarLimit
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []TradeRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.records[i]
		if withinTolerance(rec.RequiredCash, requiredCash) && withinTolerance(rec.RequiredSecurities, requiredSecurities) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *MemoryStore) Threshold(_ context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.threshold, nil
}

func (m *MemoryStore) UpdateThreshold(_ context.Context, recommended float64) (ThresholdAdjustment, error) {
	if !validRecommendation(recommended) {
		return ThresholdAdjustment{}, ErrBadThreshold
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	adj := ThresholdAdjustment{
		Timestamp:   time.Now(),
		Old:         m.threshold,
		Recommended: recommended,
		New:         blend(m.threshold, recommended),
	}
	m.threshold = adj.New

	m.adjustments = append(m.adjustments, adj)
	if len(m.adjustments) > adjustmentCap {
		m.adjustments = m.adjustments[len(m.adjustments)-adjustmentCap:]
	}
	return adj, nil
}

func (m *MemoryStore) Totals(_ context.Context) (Totals, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.totalsLocked(), nil
}

func (m *MemoryStore) Snapshot(_ context.Context, recentLimit int) (Snapshot, error) {
	if recentLimit <= 0 {
		recentLimit = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return Snapshot{
		Totals:            m.totalsLocked(),
		CurrentThreshold:  m.threshold,
		RecentTrades:      lastN(m.records, recentLimit),
		RecentAdjustments: lastN(m.adjustments, recentLimit),
	}, nil
}

func (m *MemoryStore) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.adjustments = nil
	m.approved = 0
	m.rejected = 0
	m.threshold = m.initialThreshold
	return nil
}

func (m *MemoryStore) totalsLocked() Totals {
	return Totals{
		TradesProcessed: m.approved + m.rejected,
		Approved:        m.approved,
		Rejected:        m.rejected,
	}
}

// lastN copies the newest n entries, newest first.
func lastN[T any](xs []T, n int) []T {
	if n > len(xs) {
		n = len(xs)
	}
	out := make([]T, 0, n)
	for i := len(xs) - 1; i >= len(xs)-n; i-- {
		out = append(out, xs[i])
	}
	return out
}
