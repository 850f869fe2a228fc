// Package memory implements the learning store for the trade validator.
//
// It retains a bounded history of assessed trades, owns the adaptive risk
// threshold, and answers "similar past trades" lookups for the pipeline's
// context stage. The threshold is never reset implicitly; only an explicit
// operator Reset restores the configured initial value.
package memory

import (
	"context"
	"errors"
	"math"
	"time"
)

// History and lookup bounds.
const (
	historyCap    = 1000 // most recent trade records retained
	adjustmentCap = 100  // most recent threshold adjustments retained

	similarityTolerance = 0.20 // max relative difference per leg
	defaultSimilarLimit = 5
)

// Threshold smoothing weights. The blend damps noisy single-trade
// recommendations: new = old*thresholdCarry + recommended*thresholdBlend.
const (
	thresholdCarry = 0.7
	thresholdBlend = 0.3
)

var ErrBadThreshold = errors.New("memory: recommended threshold must be a positive finite number")

// TradeRecord is one assessed trade as retained for learning.
type TradeRecord struct {
	Timestamp          time.Time `json:"timestamp"`
	RequiredCash       float64   `json:"required_cash"`
	RequiredSecurities float64   `json:"required_securities"`
	Approved           bool      `json:"approved"`
	ConfidenceScore    float64   `json:"confidence_score"`
	RiskLevel          string    `json:"risk_level"`
	ReasoningDigest    string    `json:"reasoning_digest"`
}

// ThresholdAdjustment records one smoothing step of the adaptive threshold.
type ThresholdAdjustment struct {
	Timestamp   time.Time `json:"timestamp"`
	Old         float64   `json:"old"`
	Recommended float64   `json:"recommended"`
	New         float64   `json:"new"`
}

// Totals are the aggregate counters exposed for health and introspection.
type Totals struct {
	TradesProcessed int `json:"trades_processed"`
	Approved        int `json:"approved"`
	Rejected        int `json:"rejected"`
}

// Snapshot is the full introspection view of the learning state.
type Snapshot struct {
	Totals            Totals                `json:"totals"`
	CurrentThreshold  float64               `json:"current_risk_threshold"`
	RecentTrades      []TradeRecord         `json:"recent_trades"`
	RecentAdjustments []ThresholdAdjustment `json:"recent_adjustments"`
}

// Store persists trade history and the adaptive threshold.
type Store interface {
	// Record appends a completed trade, evicting the oldest past capacity.
	Record(ctx context.Context, rec TradeRecord) error

	// SimilarTrades returns up to limit records whose cash and securities
	// legs are each within the similarity tolerance of the query amounts,
	// most recent first. limit <= 0 means the default limit.
	SimilarTrades(ctx context.Context, requiredCash, requiredSecurities float64, limit int) ([]TradeRecord, error)

	// Threshold returns the current adaptive risk threshold.
	Threshold(ctx context.Context) (float64, error)

	// UpdateThreshold blends a recommended threshold into the current one
	// and records the adjustment.
	UpdateThreshold(ctx context.Context, recommended float64) (ThresholdAdjustment, error)

	// Totals returns the aggregate approved/rejected counters.
	Totals(ctx context.Context) (Totals, error)

	// Snapshot returns the introspection view (recent trades and
	// adjustments bounded by recentLimit).
	Snapshot(ctx context.Context, recentLimit int) (Snapshot, error)

	// Reset clears all history and restores the initial threshold.
	// Operator action only.
	Reset(ctx context.Context) error
}

// blend applies the exponential-smoothing step.
func blend(old, recommended float64) float64 {
	return old*thresholdCarry + recommended*thresholdBlend
}

// validRecommendation rejects recommendations that would poison the threshold.
func validRecommendation(recommended float64) bool {
	return recommended > 0 && !math.IsNaN(recommended) && !math.IsInf(recommended, 0)
}

// withinTolerance reports whether stored is within the relative similarity
// tolerance of query. A zero query leg only matches a zero stored leg.
func withinTolerance(stored, query float64) bool {
	if query == 0 {
		return stored == 0
	}
	return math.Abs(stored-query)/math.Abs(query) <= similarityTolerance
}
