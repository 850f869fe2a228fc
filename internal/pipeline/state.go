package pipeline

import (
	"fmt"
	"strings"

	"github.com/mbd888/tradegate/internal/advisor"
	"github.com/mbd888/tradegate/internal/fraud"
	"github.com/mbd888/tradegate/internal/oracle"
	"github.com/mbd888/tradegate/internal/rules"
)

// pipelineState is the accumulator owned by a single in-flight assessment.
// It is never shared between assessments; everything that must outlive the
// run is copied into the TradeAssessment or committed to the memory store
// at DECISION.
type pipelineState struct {
	request TradeRequest

	plan      []string
	completed []string

	riskFactors []string
	reasoning   []string
	confidence  float64

	// threshold is the adaptive notional threshold read once at PLANNING
	// so every stage in this run sees the same value.
	threshold float64

	similarCount    int
	similarApproved int

	balance    oracle.Result
	compliance rules.Verdict
	notional   rules.Verdict

	ml        MLDetection
	mlVerdict *fraud.Verdict

	riskLevel            string
	recommendedThreshold float64

	advice    *advisor.Parsed
	adviceRaw string
}

func newState(req TradeRequest, threshold float64) *pipelineState {
	return &pipelineState{
		request:    req,
		confidence: 0.5,
		threshold:  threshold,
		riskLevel:  string(fraud.RiskLow),
	}
}

// think appends one step to the reasoning chain.
func (s *pipelineState) think(format string, args ...any) {
	s.reasoning = append(s.reasoning, fmt.Sprintf(format, args...))
}

func (s *pipelineState) completeStage(name string) {
	s.completed = append(s.completed, name)
}

func (s *pipelineState) addRiskFactor(factor string) {
	s.riskFactors = append(s.riskFactors, factor)
}

// nudgeConfidence adjusts the running confidence, clamped to [0, 1].
func (s *pipelineState) nudgeConfidence(delta float64) {
	s.confidence += delta
	if s.confidence > 1.0 {
		s.confidence = 1.0
	}
	if s.confidence < 0.0 {
		s.confidence = 0.0
	}
}

func (s *pipelineState) reasoningChain() string {
	return strings.Join(s.reasoning, "\n")
}

// reasoningDigest is the truncated chain persisted with the trade record.
func (s *pipelineState) reasoningDigest() string {
	const maxDigest = 240
	chain := s.reasoningChain()
	if len(chain) <= maxDigest {
		return chain
	}
	return chain[:maxDigest]
}

func (s *pipelineState) highOrCriticalRisk() bool {
	return s.riskLevel == string(fraud.RiskHigh) || s.riskLevel == string(fraud.RiskCritical)
}
