package advisor

import (
	"encoding/json"
	"strings"
)

// Outcome tags a parse result: either a usable decision was recovered or
// the text was unparseable and the caller must decide without it.
type Outcome int

const (
	OutcomeDecision Outcome = iota
	OutcomeUnparseable
)

// Parsed is the defensive-parse result for one advisor completion. All
// string-matching heuristics live here; the pipeline only branches on the
// tag and the recovered recommendation.
type Parsed struct {
	Outcome        Outcome
	Recommendation Recommendation
	Rationale      string
}

// jsonAdvice covers the field spellings seen from hosted models.
type jsonAdvice struct {
	Decision       string `json:"decision"`
	Recommendation string `json:"recommendation"`
	Reasoning      string `json:"reasoning"`
	Rationale      string `json:"rationale"`
}

// Parse recovers a recommendation from untrusted advisor text. Strategy:
// strict JSON first, then keyword scanning, then Unparseable. The keyword
// scan checks MANUAL_REVIEW before REJECT before APPROVE so ambiguous text
// resolves toward the more restrictive reading.
func Parse(raw string) Parsed {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Parsed{Outcome: OutcomeUnparseable}
	}

	if p, ok := parseJSON(trimmed); ok {
		return p
	}
	if p, ok := parseKeywords(trimmed); ok {
		return p
	}
	return Parsed{Outcome: OutcomeUnparseable}
}

// parseJSON handles a JSON object, possibly wrapped in a markdown fence.
func parseJSON(text string) (Parsed, bool) {
	// Models frequently fence their JSON; strip one level.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}

	// Tolerate prose around a single JSON object.
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return Parsed{}, false
	}

	var advice jsonAdvice
	if err := json.Unmarshal([]byte(text[start:end+1]), &advice); err != nil {
		return Parsed{}, false
	}

	decision := advice.Decision
	if decision == "" {
		decision = advice.Recommendation
	}
	rec, ok := normalizeRecommendation(decision)
	if !ok {
		return Parsed{}, false
	}

	rationale := advice.Reasoning
	if rationale == "" {
		rationale = advice.Rationale
	}
	return Parsed{Outcome: OutcomeDecision, Recommendation: rec, Rationale: rationale}, true
}

// parseKeywords falls back to scanning for decision tokens.
func parseKeywords(text string) (Parsed, bool) {
	upper := strings.ToUpper(text)

	switch {
	case strings.Contains(upper, "MANUAL_REVIEW"), strings.Contains(upper, "MANUAL REVIEW"):
		return Parsed{Outcome: OutcomeDecision, Recommendation: RecommendManualReview, Rationale: text}, true
	case strings.Contains(upper, "REJECT"):
		return Parsed{Outcome: OutcomeDecision, Recommendation: RecommendReject, Rationale: text}, true
	case strings.Contains(upper, "APPROVE"):
		return Parsed{Outcome: OutcomeDecision, Recommendation: RecommendApprove, Rationale: text}, true
	}
	return Parsed{}, false
}

func normalizeRecommendation(s string) (Recommendation, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "APPROVE", "APPROVED":
		return RecommendApprove, true
	case "REJECT", "REJECTED", "DENY", "DENIED":
		return RecommendReject, true
	case "MANUAL_REVIEW", "MANUAL REVIEW", "REVIEW", "ESCALATE":
		return RecommendManualReview, true
	default:
		return "", false
	}
}
