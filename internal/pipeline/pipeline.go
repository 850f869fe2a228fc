// Package pipeline implements the trade validation pipeline.
//
// Every trade runs the same fixed stage order: PLANNING, then an optional
// CONTEXT stage, then BALANCE, RISK, and DECISION. Deterministic checks
// (balance oracle, blacklist, notional threshold) are authoritative and
// fail closed; the ML fraud signal fails open but unconditionally vetoes
// an approval when it does fire; the advisory reasoner can only make an
// outcome more restrictive, never less.
package pipeline

import (
	"time"
)

// Decision is a terminal pipeline outcome.
type Decision string

const (
	DecisionApproved     Decision = "approved"
	DecisionRejected     Decision = "rejected"
	DecisionManualReview Decision = "manual_review"
	DecisionError        Decision = "error"
)

// Stage names as they appear in investigation plans and completed checks.
const (
	StagePlanning = "planning"
	StageContext  = "context"
	StageBalance  = "balance"
	StageRisk     = "risk"
	StageDecision = "decision"
)

// TradeRequest is one delivery-versus-payment trade to assess. Amounts are
// in human units.
type TradeRequest struct {
	CashPartyID        string    `json:"cash_party_id" binding:"required"`
	SecuritiesPartyID  string    `json:"securities_party_id" binding:"required"`
	CashTokenID        string    `json:"cash_token_id"`
	SecuritiesTokenID  string    `json:"securities_token_id"`
	RequiredCash       float64   `json:"required_cash"`
	RequiredSecurities float64   `json:"required_securities"`
	Timestamp          time.Time `json:"timestamp,omitempty"`
}

// MLDetection is the fraud classifier's contribution to an assessment.
type MLDetection struct {
	Enabled          bool     `json:"enabled"`
	FraudDetected    bool     `json:"fraud_detected"`
	FraudProbability float64  `json:"fraud_probability"`
	RiskLevel        string   `json:"risk_level"`
	Reasoning        string   `json:"reasoning"`
	Factors          []string `json:"contributing_factors,omitempty"`
}

// TradeAssessment is the full result of one pipeline run. It is always
// returned, never thrown past the API boundary; callers inspect Approved,
// FinalDecision, and Error.
type TradeAssessment struct {
	Approved             bool         `json:"approved"`
	FinalDecision        Decision     `json:"final_decision"`
	ConfidenceScore      float64      `json:"confidence_score"`
	RiskLevel            string       `json:"risk_level"`
	ReasoningChain       string       `json:"reasoning_chain"`
	RiskFactors          []string     `json:"risk_factors,omitempty"`
	CompletedChecks      []string     `json:"completed_checks"`
	MLFraudDetection     MLDetection  `json:"ml_fraud_detection"`
	AgentDecision        bool         `json:"agent_decision"`
	MLOverride           bool         `json:"ml_override"`
	BalanceStatus        string       `json:"balance_status,omitempty"`
	SimilarTradesCount   int          `json:"similar_trades_analyzed"`
	ProcessingTime       float64      `json:"processing_time_seconds"`
	TradeDetails         TradeRequest `json:"trade_details"`
	RecommendedThreshold float64      `json:"recommended_threshold,omitempty"`
	ThresholdAdjusted    bool         `json:"threshold_adjusted"`
	Error                string       `json:"error,omitempty"`
}

// BatchStatistics aggregates a batch assessment.
type BatchStatistics struct {
	TotalTrades       int     `json:"total_trades"`
	ApprovedTrades    int     `json:"approved_trades"`
	RejectedTrades    int     `json:"rejected_trades"`
	ApprovalRate      float64 `json:"approval_rate"`
	AverageConfidence float64 `json:"average_confidence"`
	HighRiskTrades    int     `json:"high_risk_trades"`
	TotalTime         float64 `json:"total_processing_time_seconds"`
	AverageTime       float64 `json:"average_processing_time_seconds"`
}

// ConfidencePoint is one entry in a batch confidence progression.
type ConfidencePoint struct {
	TradeIndex int     `json:"trade_index"`
	Confidence float64 `json:"confidence"`
}

// BatchInsights carries cross-trade observations from a batch run.
type BatchInsights struct {
	PatternsDetected      []string          `json:"patterns_detected"`
	ConfidenceProgression []ConfidencePoint `json:"confidence_progression"`
	FinalRiskThreshold    float64           `json:"final_risk_threshold"`
	TradesLearnedFrom     int               `json:"trades_learned_from"`
	HumanReviewRequired   bool              `json:"human_review_required"`
}

// BatchResult is the response of a batch assessment.
type BatchResult struct {
	Results    []*TradeAssessment `json:"results"`
	Statistics BatchStatistics    `json:"statistics"`
	Insights   BatchInsights      `json:"agent_insights"`
}

// TokenInfo describes one of the pair's tokens for the health report.
type TokenInfo struct {
	Address string `json:"address"`
	Name    string `json:"name"`
}

// HealthStatus is the validator's introspection report.
type HealthStatus struct {
	Status            string    `json:"status"`
	LedgerConnected   bool      `json:"ledger_connected"`
	CurrentBlock      uint64    `json:"current_block,omitempty"`
	NetworkID         string    `json:"network_id,omitempty"`
	CashToken         TokenInfo `json:"cash_token"`
	SecuritiesToken   TokenInfo `json:"securities_token"`
	RiskThreshold     float64   `json:"current_risk_threshold"`
	TradesProcessed   int       `json:"trades_processed"`
	LearningEnabled   bool      `json:"learning_enabled"`
	ClassifierEnabled bool      `json:"classifier_enabled"`
	AdvisorEnabled    bool      `json:"advisor_enabled"`
	Error             string    `json:"error,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}
