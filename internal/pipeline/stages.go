package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mbd888/tradegate/internal/advisor"
	"github.com/mbd888/tradegate/internal/fraud"
	"github.com/mbd888/tradegate/internal/logging"
	"github.com/mbd888/tradegate/internal/memory"
	"github.com/mbd888/tradegate/internal/metrics"
	"github.com/mbd888/tradegate/internal/oracle"
	"github.com/mbd888/tradegate/internal/rules"
)

// runPlanning builds the investigation plan and the initial risk-factor
// list from the trade's shape. Confidence starts at 0.5 and grows as
// checks complete.
func (v *Validator) runPlanning(_ context.Context, s *pipelineState) {
	s.plan = []string{}
	if v.contextStage {
		s.plan = append(s.plan, StageContext)
	}
	s.plan = append(s.plan, StageBalance, StageRisk, StageDecision)

	if s.request.RequiredCash > s.threshold {
		s.addRiskFactor(fmt.Sprintf("notional %.2f above risk threshold %.2f", s.request.RequiredCash, s.threshold))
	}
	if s.request.RequiredCash == 0 || s.request.RequiredSecurities == 0 {
		s.addRiskFactor("one-sided trade: a leg has zero quantity")
	}

	s.think("Investigation plan: %s", strings.Join(s.plan, " -> "))
	if len(s.riskFactors) > 0 {
		s.think("Initial risk factors: %s", strings.Join(s.riskFactors, "; "))
	} else {
		s.think("No initial risk factors from trade shape")
	}
	s.completeStage(StagePlanning)
}

// runContext gathers market and historical signals. It informs the
// reasoning chain and nudges confidence but never gates approval.
func (v *Validator) runContext(ctx context.Context, s *pipelineState) {
	similar, err := v.store.SimilarTrades(ctx, s.request.RequiredCash, s.request.RequiredSecurities, 0)
	if err != nil {
		logging.L(ctx).Warn("similar trades lookup failed", "error", err)
		s.think("Context: historical lookup unavailable (%v)", err)
		s.completeStage(StageContext)
		return
	}

	s.similarCount = len(similar)
	for _, t := range similar {
		if t.Approved {
			s.similarApproved++
		}
	}

	if s.similarCount > 0 {
		s.think("Context: %d similar past trades, %d approved", s.similarCount, s.similarApproved)
		s.nudgeConfidence(0.05)
	} else {
		s.think("Context: no similar past trades on record")
	}

	if v.extractor != nil {
		if last, ok := v.extractor.LastPrice(s.request.SecuritiesTokenID); ok {
			s.think("Context: last observed price for %s is %.4f", s.request.SecuritiesTokenID, last)
		}
	}

	hour := s.tradeTime().Hour()
	if hour < 6 || hour > 22 {
		s.addRiskFactor("off-hours trading activity")
		s.think("Context: trade submitted off-hours (hour %d)", hour)
	}
	s.completeStage(StageContext)
}

// runBalance invokes the balance oracle. An oracle fault is recorded as
// ERROR and treated exactly like an insufficient balance downstream.
func (v *Validator) runBalance(ctx context.Context, s *pipelineState) {
	s.balance = v.oracle.CheckBalances(ctx,
		s.request.CashPartyID, s.request.SecuritiesPartyID,
		s.request.RequiredCash, s.request.RequiredSecurities)

	switch s.balance.Status {
	case oracle.StatusSufficient:
		s.think("Balance check: SUFFICIENT (cash coverage %s, securities coverage %s)",
			formatCoverage(s.balance.CashCoverage), formatCoverage(s.balance.SecuritiesCoverage))
		s.nudgeConfidence(0.2)
	case oracle.StatusInsufficient:
		s.think("Balance check: INSUFFICIENT (cash %.4f/%.4f, securities %.4f/%.4f)",
			s.balance.CashBalance, s.request.RequiredCash,
			s.balance.SecuritiesBalance, s.request.RequiredSecurities)
		s.addRiskFactor("insufficient balance on at least one leg")
		s.nudgeConfidence(-0.2)
	default:
		metrics.OracleErrorsTotal.Inc()
		s.think("Balance check: ERROR (%s), treating as insufficient", s.balance.Detail)
		s.addRiskFactor("balance oracle unavailable")
		s.nudgeConfidence(-0.2)
	}
	s.completeStage(StageBalance)
}

// runRisk invokes the rule engine and, when enabled, the fraud classifier,
// then derives the assessment's risk level and a possible threshold
// recommendation.
func (v *Validator) runRisk(ctx context.Context, s *pipelineState) {
	s.compliance = v.rules.CheckCompliance(s.request.CashPartyID, s.request.SecuritiesPartyID)
	s.think("Compliance check: %s (%s)", s.compliance.Result, s.compliance.Reason)
	if s.compliance.Result == string(rules.Blocked) {
		s.addRiskFactor("blacklisted counterparty")
		s.nudgeConfidence(-0.3)
	} else {
		s.nudgeConfidence(0.1)
	}

	s.notional = v.rules.CheckNotional(s.request.RequiredCash, s.threshold)
	s.think("Notional check: %s (%s)", s.notional.Result, s.notional.Reason)
	if s.notional.Result == string(rules.Normal) {
		s.nudgeConfidence(0.1)
	}

	v.runClassifier(ctx, s)

	// The reported risk level is the harsher of the classifier bucket and
	// the notional verdict.
	s.riskLevel = string(fraud.RiskLow)
	if s.mlVerdict != nil {
		s.riskLevel = string(s.mlVerdict.RiskLevel)
	}
	if s.notional.Result == string(rules.HighRisk) && !s.highOrCriticalRisk() {
		s.riskLevel = string(fraud.RiskHigh)
	}
	s.think("Derived risk level: %s", s.riskLevel)

	s.recommendedThreshold = v.recommendThreshold(s)
	if s.recommendedThreshold > 0 {
		s.think("Proposing risk threshold %.2f (current %.2f)", s.recommendedThreshold, s.threshold)
	}
	s.completeStage(StageRisk)
}

// runClassifier is the ML leg of the RISK stage. Feature extraction or
// prediction failures leave the fraud probability at zero: the ML layer
// fails open because the deterministic checks remain the backstop.
func (v *Validator) runClassifier(ctx context.Context, s *pipelineState) {
	if v.classifier == nil || v.extractor == nil {
		s.ml = MLDetection{Enabled: false, Reasoning: "ML fraud detection disabled"}
		s.think("ML fraud detection disabled")
		return
	}

	event := fraud.TradeEvent{
		Token:         s.request.SecuritiesTokenID,
		BuyerID:       s.request.CashPartyID,
		SellerID:      s.request.SecuritiesPartyID,
		TradeSize:     s.request.RequiredSecurities,
		BuyerBalance:  s.balance.CashBalance,
		SellerBalance: s.balance.SecuritiesBalance,
		Timestamp:     s.tradeTime(),
	}
	if s.request.RequiredSecurities > 0 {
		event.TradePrice = s.request.RequiredCash / s.request.RequiredSecurities
	}
	event.MarketPrice = event.TradePrice

	fv, err := v.extractor.Extract(event)
	if err != nil {
		logging.L(ctx).Warn("feature extraction failed, ML fails open", "error", err)
		s.ml = MLDetection{
			Enabled:   true,
			RiskLevel: "ERROR",
			Reasoning: fmt.Sprintf("ML detection error: %v", err),
		}
		s.think("ML fraud detection errored (%v), continuing on deterministic checks", err)
		return
	}

	verdict := v.classifier.Predict(fv)
	s.mlVerdict = &verdict
	s.ml = MLDetection{
		Enabled:          true,
		FraudDetected:    verdict.IsFraud,
		FraudProbability: verdict.FraudProbability,
		RiskLevel:        string(verdict.RiskLevel),
		Reasoning:        verdict.Reasoning,
		Factors:          verdict.ContributingFactors,
	}

	metrics.FraudProbability.Observe(verdict.FraudProbability)
	if verdict.IsFraud {
		metrics.FraudFlagsTotal.WithLabelValues(string(verdict.RiskLevel)).Inc()
		s.addRiskFactor(fmt.Sprintf("ML fraud signal (probability %.1f%%)", verdict.FraudProbability*100))
		s.nudgeConfidence(-0.3)
		logging.L(ctx).Warn("ML fraud detected",
			"probability", verdict.FraudProbability,
			"risk_level", verdict.RiskLevel)
	} else {
		s.nudgeConfidence(0.1)
	}
	s.think("ML fraud check: probability %.1f%%, risk %s", verdict.FraudProbability*100, verdict.RiskLevel)
}

// recommendThreshold proposes an adaptive threshold move. Clean trades
// near the ceiling argue for headroom; risky trades above it argue for
// tightening. Zero means no recommendation.
func (v *Validator) recommendThreshold(s *pipelineState) float64 {
	clean := s.balance.Status == oracle.StatusSufficient &&
		s.compliance.Result == string(rules.Compliant) &&
		(s.mlVerdict == nil || s.mlVerdict.RiskLevel == fraud.RiskLow)

	if clean && s.notional.Result == string(rules.Normal) && s.request.RequiredCash > 0.8*s.threshold {
		return s.request.RequiredCash * 1.25
	}
	if s.notional.Result == string(rules.HighRisk) && !clean {
		return s.threshold * 0.9
	}
	return 0
}

// runDecision combines all evidence into the terminal verdict, consults
// the advisory reasoner, applies the override ladder, commits the trade
// record, and blends any threshold recommendation into the adaptive
// threshold.
func (v *Validator) runDecision(ctx context.Context, s *pipelineState, start time.Time) *TradeAssessment {
	// Deterministic rule: approved iff every authoritative check passed.
	decision := DecisionRejected
	if s.balance.Status == oracle.StatusSufficient &&
		s.compliance.Result == string(rules.Compliant) &&
		s.notional.Result == string(rules.Normal) {
		decision = DecisionApproved
		s.think("Deterministic checks passed: balance, compliance, and notional are all clear")
	} else {
		s.think("Deterministic checks failed: balance=%s compliance=%s notional=%s",
			s.balance.Status, s.compliance.Result, s.notional.Result)
	}

	v.consultAdvisor(ctx, s)
	if s.advice != nil {
		switch s.advice.Recommendation {
		case advisor.RecommendManualReview:
			decision = DecisionManualReview
			s.think("Advisor requests manual review: %s", s.advice.Rationale)
		case advisor.RecommendReject:
			if decision != DecisionRejected {
				decision = DecisionRejected
				s.think("Advisor recommends rejection: %s", s.advice.Rationale)
			}
		case advisor.RecommendApprove:
			// Advisory approval never relaxes the deterministic rules.
			s.think("Advisor concurs with approval: %s", s.advice.Rationale)
		}
	}

	// Hard overrides trump any advisory recommendation.
	if s.confidence < v.confidenceFloor && decision != DecisionRejected {
		s.think("Confidence %.2f below floor %.2f, forcing rejection", s.confidence, v.confidenceFloor)
		decision = DecisionRejected
	}
	fraudFlagged := s.mlVerdict != nil && s.mlVerdict.IsFraud
	if decision != DecisionRejected && s.highOrCriticalRisk() && !fraudFlagged {
		// The flagged-fraud case is left for the ML override below so it
		// is visible as such in the result.
		s.think("Risk level %s forces rejection", s.riskLevel)
		decision = DecisionRejected
	}

	agentApproved := decision == DecisionApproved

	// Highest-priority override: a fraud verdict unconditionally reverses
	// an approval.
	mlOverride := false
	if fraudFlagged && agentApproved {
		mlOverride = true
		decision = DecisionRejected
		metrics.MLOverridesTotal.Inc()
		s.think("ML FRAUD DETECTION OVERRIDE: approval reversed (probability %.1f%%, risk %s); final decision REJECTED",
			s.mlVerdict.FraudProbability*100, s.mlVerdict.RiskLevel)
	}
	if fraudFlagged && decision == DecisionManualReview {
		decision = DecisionRejected
		s.think("Fraud verdict forces rejection over manual review")
	}

	s.completeStage(StageDecision)

	approved := decision == DecisionApproved
	result := &TradeAssessment{
		Approved:             approved,
		FinalDecision:        decision,
		ConfidenceScore:      s.confidence,
		RiskLevel:            s.riskLevel,
		ReasoningChain:       s.reasoningChain(),
		RiskFactors:          s.riskFactors,
		CompletedChecks:      s.completed,
		MLFraudDetection:     s.ml,
		AgentDecision:        agentApproved,
		MLOverride:           mlOverride,
		BalanceStatus:        string(s.balance.Status),
		SimilarTradesCount:   s.similarCount,
		ProcessingTime:       time.Since(start).Seconds(),
		TradeDetails:         s.request,
		RecommendedThreshold: s.recommendedThreshold,
	}

	if v.learning && ctx.Err() == nil {
		v.commitLearning(ctx, s, result)
	}
	return result
}

// consultAdvisor asks the reasoner for a recommendation when one is
// configured. Every failure mode degrades to the deterministic decision.
func (v *Validator) consultAdvisor(ctx context.Context, s *pipelineState) {
	if v.reasoner == nil {
		return
	}

	raw, err := v.reasoner.Advise(ctx, v.advisorPrompt(s))
	if err != nil {
		logging.L(ctx).Warn("advisor unavailable", "error", err)
		s.think("Advisor unavailable (%v), deciding on deterministic checks", err)
		return
	}
	s.adviceRaw = raw

	parsed := advisor.Parse(raw)
	if parsed.Outcome == advisor.OutcomeUnparseable {
		metrics.AdvisorFallbacksTotal.Inc()
		logging.L(ctx).Warn("advisor output unparseable", "raw_length", len(raw))
		s.think("Advisor output unparseable, deciding on deterministic checks")
		return
	}
	s.advice = &parsed
}

// advisorPrompt summarizes the evidence gathered so far for the reasoner.
func (v *Validator) advisorPrompt(s *pipelineState) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Assess this securities trade and answer with a JSON object "+
		`{"decision": "APPROVE"|"REJECT"|"MANUAL_REVIEW", "reasoning": "..."}.`+"\n\n")
	fmt.Fprintf(&b, "Trade: %s pays %.4f cash for %.4f securities from %s.\n",
		s.request.CashPartyID, s.request.RequiredCash, s.request.RequiredSecurities, s.request.SecuritiesPartyID)
	fmt.Fprintf(&b, "Balance check: %s\n", s.balance.Status)
	fmt.Fprintf(&b, "Compliance: %s\n", s.compliance.Result)
	fmt.Fprintf(&b, "Notional check: %s (threshold %.2f)\n", s.notional.Result, s.threshold)
	if s.ml.Enabled {
		fmt.Fprintf(&b, "Fraud probability: %.1f%% (risk %s)\n", s.ml.FraudProbability*100, s.ml.RiskLevel)
	}
	if s.similarCount > 0 {
		fmt.Fprintf(&b, "Similar past trades: %d (%d approved)\n", s.similarCount, s.similarApproved)
	}
	if len(s.riskFactors) > 0 {
		fmt.Fprintf(&b, "Risk factors: %s\n", strings.Join(s.riskFactors, "; "))
	}
	return b.String()
}

// commitLearning persists the completed decision and blends any threshold
// recommendation. Only a fully completed DECISION stage reaches here.
func (v *Validator) commitLearning(ctx context.Context, s *pipelineState, result *TradeAssessment) {
	rec := memory.TradeRecord{
		Timestamp:          s.tradeTime(),
		RequiredCash:       s.request.RequiredCash,
		RequiredSecurities: s.request.RequiredSecurities,
		Approved:           result.Approved,
		ConfidenceScore:    result.ConfidenceScore,
		RiskLevel:          result.RiskLevel,
		ReasoningDigest:    s.reasoningDigest(),
	}
	if err := v.store.Record(ctx, rec); err != nil {
		logging.L(ctx).Error("trade record commit failed", "error", err)
	}

	if s.recommendedThreshold > 0 {
		adj, err := v.store.UpdateThreshold(ctx, s.recommendedThreshold)
		if err != nil {
			logging.L(ctx).Warn("threshold adjustment failed", "error", err)
			return
		}
		result.ThresholdAdjusted = adj.New != adj.Old
		metrics.RiskThreshold.Set(adj.New)
		logging.L(ctx).Info("risk threshold adapted",
			"old", adj.Old, "recommended", adj.Recommended, "new", adj.New)
	}
}

func (s *pipelineState) tradeTime() time.Time {
	if s.request.Timestamp.IsZero() {
		return time.Now()
	}
	return s.request.Timestamp
}

func formatCoverage(c float64) string {
	if math.IsInf(c, 1) {
		return "unbounded"
	}
	return fmt.Sprintf("%.2fx", c)
}
