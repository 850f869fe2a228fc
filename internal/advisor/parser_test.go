package advisor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Recommendation
	}{
		{"plain decision", `{"decision": "APPROVE", "reasoning": "low risk"}`, RecommendApprove},
		{"recommendation key", `{"recommendation": "reject", "rationale": "over threshold"}`, RecommendReject},
		{"review spelling", `{"decision": "MANUAL REVIEW"}`, RecommendManualReview},
		{"fenced json", "```json\n{\"decision\": \"APPROVE\"}\n```", RecommendApprove},
		{"json inside prose", `Here is my assessment: {"decision": "REJECT"} as requested.`, RecommendReject},
		{"denied alias", `{"decision": "DENIED"}`, RecommendReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.raw)
			assert.Equal(t, OutcomeDecision, p.Outcome)
			assert.Equal(t, tt.want, p.Recommendation)
		})
	}
}

func TestParseRationaleCarried(t *testing.T) {
	p := Parse(`{"decision": "APPROVE", "reasoning": "balances cover both legs"}`)
	assert.Equal(t, "balances cover both legs", p.Rationale)
}

func TestParseKeywordFallback(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Recommendation
	}{
		{"approve in prose", "I would APPROVE this trade, the balances look fine.", RecommendApprove},
		{"reject in prose", "This should be rejected due to the blacklist hit.", RecommendReject},
		{"manual review wins over approve", "Do not approve yet, send to MANUAL_REVIEW first.", RecommendManualReview},
		{"reject wins over approve", "I cannot approve this, reject it.", RecommendReject},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Parse(tt.raw)
			assert.Equal(t, OutcomeDecision, p.Outcome)
			assert.Equal(t, tt.want, p.Recommendation)
		})
	}
}

func TestParseUnparseable(t *testing.T) {
	for _, raw := range []string{
		"",
		"   ",
		"the weather is lovely today",
		`{"decision": "MAYBE"}`,
		`{"decision": }`,
	} {
		p := Parse(raw)
		assert.Equal(t, OutcomeUnparseable, p.Outcome, "raw=%q", raw)
	}
}
