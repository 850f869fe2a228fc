// Package fraud implements ML-based fraud detection for trades.
//
// A frozen model artifact (weights + scaler + decision threshold) is loaded
// once at startup; scoring is a pure function of the feature vector. The
// feature extractor keeps bounded rolling histories so statistical features
// can be derived without a data warehouse: every successful extraction
// appends the trade to those histories, which deliberately couples each
// extraction to the ones before it, like a live order-flow monitor.
package fraud

import (
	"time"
)

// RiskLevel buckets a fraud probability into an operator-facing severity.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Risk bucket cut points. Independent of the decision threshold, which is
// packaged with the model artifact.
const (
	criticalCutoff = 0.5
	highCutoff     = 0.2
	mediumCutoff   = 0.1
)

// BucketRisk maps a fraud probability to its risk level.
func BucketRisk(p float64) RiskLevel {
	switch {
	case p >= criticalCutoff:
		return RiskCritical
	case p >= highCutoff:
		return RiskHigh
	case p >= mediumCutoff:
		return RiskMedium
	default:
		return RiskLow
	}
}

// TradeEvent is the raw per-trade input to feature extraction.
type TradeEvent struct {
	Token         string    // securities token identifier
	BuyerID       string    // cash-paying party
	SellerID      string    // securities-delivering party
	TradeSize     float64   // units of the security
	TradePrice    float64   // cash per unit
	MarketPrice   float64   // reference price; falls back to TradePrice when zero
	BuyerBalance  float64   // buyer's cash balance in human units
	SellerBalance float64   // seller's securities balance in human units
	Timestamp     time.Time
}

// Verdict is the classifier's decision on a single trade.
type Verdict struct {
	FraudProbability    float64   `json:"fraud_probability"`
	IsFraud             bool      `json:"is_fraud"`
	RiskLevel           RiskLevel `json:"risk_level"`
	ContributingFactors []string  `json:"contributing_factors"`
	Reasoning           string    `json:"reasoning"`
}

// Stats are running detection counters. Diagnostic state only, not part
// of the decision contract.
type Stats struct {
	TotalScored int            `json:"total_scored"`
	Flagged     int            `json:"flagged"`
	ByRiskLevel map[string]int `json:"by_risk_level"`
}
