package pipeline

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/mbd888/tradegate/internal/advisor"
	"github.com/mbd888/tradegate/internal/fraud"
	"github.com/mbd888/tradegate/internal/idgen"
	"github.com/mbd888/tradegate/internal/logging"
	"github.com/mbd888/tradegate/internal/memory"
	"github.com/mbd888/tradegate/internal/metrics"
	"github.com/mbd888/tradegate/internal/oracle"
	"github.com/mbd888/tradegate/internal/rules"
	"github.com/mbd888/tradegate/internal/traces"
	"github.com/mbd888/tradegate/internal/validation"
)

// BalanceChecker is the oracle surface the pipeline needs. Satisfied by
// *oracle.Oracle; stubbed in tests.
type BalanceChecker interface {
	CheckBalances(ctx context.Context, cashParty, secParty string, requiredCash, requiredSec float64) oracle.Result
}

// LedgerInfo exposes ledger node metadata for the health report.
// Satisfied by *oracle.ERC20Reader.
type LedgerInfo interface {
	BlockNumber(ctx context.Context) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
	TokenName(ctx context.Context, token string) string
}

// Validator is the decision orchestrator: it owns the stage sequence and
// the wiring between the oracle, rule engine, classifier, advisor, and
// learning store. Safe for concurrent use; per-assessment state lives in
// a pipelineState, shared state behind the injected components' own locks.
type Validator struct {
	oracle     BalanceChecker
	rules      *rules.Engine
	store      memory.Store
	extractor  *fraud.Extractor
	classifier *fraud.Classifier
	reasoner   advisor.Reasoner
	ledger     LedgerInfo

	cashToken string
	secToken  string

	contextStage     bool
	learning         bool
	confidenceFloor  float64
	initialThreshold float64
}

// New creates a validator over the three mandatory collaborators. The ML
// classifier, advisory reasoner, and ledger info are attached via the
// WithX methods; without them the pipeline runs on deterministic checks
// alone.
func New(checker BalanceChecker, engine *rules.Engine, store memory.Store, initialThreshold float64) *Validator {
	return &Validator{
		oracle:           checker,
		rules:            engine,
		store:            store,
		learning:         true,
		confidenceFloor:  0.5,
		initialThreshold: initialThreshold,
	}
}

// WithClassifier enables ML fraud detection.
func (v *Validator) WithClassifier(extractor *fraud.Extractor, classifier *fraud.Classifier) *Validator {
	v.extractor = extractor
	v.classifier = classifier
	return v
}

// WithReasoner enables the advisory reasoner.
func (v *Validator) WithReasoner(r advisor.Reasoner) *Validator {
	v.reasoner = r
	return v
}

// WithLedgerInfo attaches ledger metadata for health reporting.
func (v *Validator) WithLedgerInfo(li LedgerInfo, cashToken, secToken string) *Validator {
	v.ledger = li
	v.cashToken = cashToken
	v.secToken = secToken
	return v
}

// WithContextStage toggles the optional CONTEXT stage.
func (v *Validator) WithContextStage(enabled bool) *Validator {
	v.contextStage = enabled
	return v
}

// WithLearning toggles recording outcomes and threshold adaptation.
func (v *Validator) WithLearning(enabled bool) *Validator {
	v.learning = enabled
	return v
}

// WithConfidenceFloor overrides the confidence level below which a trade
// is rejected outright.
func (v *Validator) WithConfidenceFloor(floor float64) *Validator {
	v.confidenceFloor = floor
	return v
}

// AssessTrade runs the full pipeline for one trade. It never panics and
// never returns an error: every outcome, including internal failures, is
// a structured TradeAssessment.
func (v *Validator) AssessTrade(ctx context.Context, req TradeRequest) *TradeAssessment {
	start := time.Now()
	ctx = logging.WithAssessmentID(ctx, idgen.WithPrefix("asmt"))
	ctx, span := traces.StartSpan(ctx, "pipeline.AssessTrade",
		traces.Party(req.CashPartyID), traces.Notional(req.RequiredCash))
	defer span.End()

	log := logging.L(ctx)

	if errs := validation.Validate(
		validation.ValidAddress("cash_party_id", req.CashPartyID),
		validation.ValidAddress("securities_party_id", req.SecuritiesPartyID),
		validation.NonNegativeAmount("required_cash", req.RequiredCash),
		validation.NonNegativeAmount("required_securities", req.RequiredSecurities),
		validation.NotBothZero("required_cash", req.RequiredCash, "required_securities", req.RequiredSecurities),
	); len(errs) > 0 {
		log.Warn("trade rejected on input validation", "error", errs.Error())
		return v.errorAssessment(req, start, errs.Error())
	}

	threshold, err := v.store.Threshold(ctx)
	if err != nil {
		// Unreadable learning state falls back to the configured initial
		// threshold rather than aborting the assessment.
		log.Error("threshold read failed, using initial", "error", err)
		threshold = v.initialThreshold
	}

	s := newState(req, threshold)
	log.Info("assessing trade",
		"cash_party", req.CashPartyID,
		"securities_party", req.SecuritiesPartyID,
		"required_cash", req.RequiredCash,
		"required_securities", req.RequiredSecurities,
		"risk_threshold", threshold)

	stages := []struct {
		name string
		run  func(context.Context, *pipelineState)
	}{
		{StagePlanning, v.runPlanning},
		{StageContext, v.runContext},
		{StageBalance, v.runBalance},
		{StageRisk, v.runRisk},
	}
	for _, stage := range stages {
		if stage.name == StageContext && !v.contextStage {
			continue
		}
		if err := ctx.Err(); err != nil {
			// Abandoned mid-flight: no record is committed.
			log.Warn("assessment cancelled", "stage", stage.name, "error", err)
			return v.errorAssessment(req, start, fmt.Sprintf("assessment cancelled before %s stage: %v", stage.name, err))
		}
		stageCtx, stageSpan := traces.StartSpan(ctx, "pipeline."+stage.name, traces.Stage(stage.name))
		stage.run(stageCtx, s)
		stageSpan.End()
	}

	if err := ctx.Err(); err != nil {
		log.Warn("assessment cancelled", "stage", StageDecision, "error", err)
		return v.errorAssessment(req, start, fmt.Sprintf("assessment cancelled before %s stage: %v", StageDecision, err))
	}

	result := v.runDecision(ctx, s, start)

	metrics.AssessmentsTotal.WithLabelValues(string(result.FinalDecision)).Inc()
	metrics.AssessmentDuration.Observe(result.ProcessingTime)
	span.SetAttributes(traces.Decision(string(result.FinalDecision)), traces.RiskLevel(result.RiskLevel))

	log.Info("trade assessed",
		"decision", result.FinalDecision,
		"approved", result.Approved,
		"risk_level", result.RiskLevel,
		"confidence", result.ConfidenceScore,
		"ml_override", result.MLOverride,
		"elapsed", result.ProcessingTime)
	return result
}

// AssessBatch assesses trades independently in order, aggregating
// statistics and cross-trade insights. Three consecutive non-approvals
// escalate the batch for human review.
func (v *Validator) AssessBatch(ctx context.Context, reqs []TradeRequest) *BatchResult {
	start := time.Now()
	log := logging.L(ctx)
	log.Info("starting batch assessment", "trades", len(reqs))

	out := &BatchResult{
		Results: make([]*TradeAssessment, 0, len(reqs)),
		Insights: BatchInsights{
			PatternsDetected:      []string{},
			ConfidenceProgression: []ConfidencePoint{},
		},
	}

	consecutiveFailures := 0
	for i, req := range reqs {
		result := v.AssessTrade(ctx, req)
		out.Results = append(out.Results, result)

		out.Insights.ConfidenceProgression = append(out.Insights.ConfidenceProgression, ConfidencePoint{
			TradeIndex: i,
			Confidence: result.ConfidenceScore,
		})
		if i > 0 && result.Approved == out.Results[i-1].Approved {
			out.Insights.PatternsDetected = append(out.Insights.PatternsDetected,
				fmt.Sprintf("trades %d and %d have similar outcomes", i-1, i))
		}

		if result.Approved {
			consecutiveFailures = 0
		} else {
			consecutiveFailures++
			if consecutiveFailures == 3 && !out.Insights.HumanReviewRequired {
				out.Insights.HumanReviewRequired = true
				out.Insights.PatternsDetected = append(out.Insights.PatternsDetected,
					"3 consecutive trades failed, human review required")
				log.Warn("batch escalated for human review", "trade_index", i)
			}
		}
	}

	total := len(out.Results)
	approved := 0
	confidenceSum := 0.0
	highRisk := 0
	for _, r := range out.Results {
		if r.Approved {
			approved++
		}
		confidenceSum += r.ConfidenceScore
		if r.RiskLevel == string(fraud.RiskHigh) || r.RiskLevel == string(fraud.RiskCritical) {
			highRisk++
		}
	}

	elapsed := time.Since(start).Seconds()
	out.Statistics = BatchStatistics{
		TotalTrades:    total,
		ApprovedTrades: approved,
		RejectedTrades: total - approved,
		HighRiskTrades: highRisk,
		TotalTime:      elapsed,
	}
	if total > 0 {
		out.Statistics.ApprovalRate = float64(approved) / float64(total)
		out.Statistics.AverageConfidence = confidenceSum / float64(total)
		out.Statistics.AverageTime = elapsed / float64(total)
	}

	if threshold, err := v.store.Threshold(ctx); err == nil {
		out.Insights.FinalRiskThreshold = threshold
	}
	if totals, err := v.store.Totals(ctx); err == nil {
		out.Insights.TradesLearnedFrom = totals.TradesProcessed
	}

	log.Info("batch assessment complete",
		"trades", total,
		"approved", approved,
		"approval_rate", out.Statistics.ApprovalRate,
		"elapsed", elapsed)
	return out
}

// Health reports the validator's view of the ledger and its own state.
func (v *Validator) Health(ctx context.Context) HealthStatus {
	hs := HealthStatus{
		Status:            "healthy",
		CashToken:         TokenInfo{Address: v.cashToken},
		SecuritiesToken:   TokenInfo{Address: v.secToken},
		LearningEnabled:   v.learning,
		ClassifierEnabled: v.classifier != nil,
		AdvisorEnabled:    v.reasoner != nil,
		Timestamp:         time.Now(),
	}

	if threshold, err := v.store.Threshold(ctx); err == nil {
		hs.RiskThreshold = threshold
	} else {
		hs.Status = "unhealthy"
		hs.Error = fmt.Sprintf("learning store unavailable: %v", err)
	}
	if totals, err := v.store.Totals(ctx); err == nil {
		hs.TradesProcessed = totals.TradesProcessed
	}

	if v.ledger != nil {
		block, err := v.ledger.BlockNumber(ctx)
		if err != nil {
			hs.Status = "unhealthy"
			hs.LedgerConnected = false
			hs.Error = fmt.Sprintf("ledger unreachable: %v", err)
			return hs
		}
		hs.LedgerConnected = true
		hs.CurrentBlock = block
		if chainID, err := v.ledger.ChainID(ctx); err == nil {
			hs.NetworkID = chainID.String()
		}
		hs.CashToken.Name = v.ledger.TokenName(ctx, v.cashToken)
		hs.SecuritiesToken.Name = v.ledger.TokenName(ctx, v.secToken)
	}
	return hs
}

// Memory returns the learning store's introspection snapshot.
func (v *Validator) Memory(ctx context.Context) (memory.Snapshot, error) {
	return v.store.Snapshot(ctx, 10)
}

// ResetLearning clears trade history and restores the initial threshold.
// Operator action only.
func (v *Validator) ResetLearning(ctx context.Context) error {
	logging.L(ctx).Warn("resetting learning state")
	if err := v.store.Reset(ctx); err != nil {
		return err
	}
	metrics.RiskThreshold.Set(v.initialThreshold)
	return nil
}

// DetectionStats returns the classifier's running counters, or false when
// ML is disabled.
func (v *Validator) DetectionStats() (fraud.Stats, bool) {
	if v.classifier == nil {
		return fraud.Stats{}, false
	}
	return v.classifier.DetectionStats(), true
}

// errorAssessment is the standardized terminal result for validation
// failures, cancellations, and internal errors. Nothing is committed to
// the learning store on this path.
func (v *Validator) errorAssessment(req TradeRequest, start time.Time, msg string) *TradeAssessment {
	result := &TradeAssessment{
		Approved:        false,
		FinalDecision:   DecisionError,
		ConfidenceScore: 0.0,
		RiskLevel:       "error",
		ReasoningChain:  fmt.Sprintf("Error occurred: %s", msg),
		RiskFactors:     []string{"processing_error"},
		CompletedChecks: []string{},
		MLFraudDetection: MLDetection{
			Enabled: v.classifier != nil,
		},
		ProcessingTime: time.Since(start).Seconds(),
		TradeDetails:   req,
		Error:          msg,
	}
	metrics.AssessmentsTotal.WithLabelValues(string(DecisionError)).Inc()
	return result
}
