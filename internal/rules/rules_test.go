package rules

import (
	"math"
	"testing"
)

func TestCheckCompliance(t *testing.T) {
	engine := NewEngine([]string{"0xBAD", " 0xevil "})

	tests := []struct {
		name       string
		cashParty  string
		secParty   string
		wantResult string
	}{
		{"clean parties", "0xalice", "0xbob", string(Compliant)},
		{"blacklisted cash party", "0xbad", "0xbob", string(Blocked)},
		{"blacklisted securities party", "0xalice", "0xBAD", string(Blocked)},
		{"blacklist entry trimmed", "0xEVIL", "0xbob", string(Blocked)},
		{"empty cash party", "", "0xbob", string(Blocked)},
		{"empty securities party", "0xalice", "", string(Blocked)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.CheckCompliance(tt.cashParty, tt.secParty)
			if v.Result != tt.wantResult {
				t.Errorf("got %s, want %s (reason: %s)", v.Result, tt.wantResult, v.Reason)
			}
		})
	}
}

func TestCheckNotional(t *testing.T) {
	engine := NewEngine(nil)

	tests := []struct {
		name       string
		cash       float64
		threshold  float64
		wantResult string
	}{
		{"well under threshold", 500, 1000, string(Normal)},
		{"at threshold", 1000, 1000, string(Normal)},
		{"over threshold", 1000.01, 1000, string(HighRisk)},
		{"zero cash leg", 0, 1000, string(Normal)},
		{"zero threshold fails safe", 500, 0, string(HighRisk)},
		{"negative threshold fails safe", 500, -10, string(HighRisk)},
		{"nan threshold fails safe", 500, math.NaN(), string(HighRisk)},
		{"nan cash fails safe", math.NaN(), 1000, string(HighRisk)},
		{"inf cash fails safe", math.Inf(1), 1000, string(HighRisk)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := engine.CheckNotional(tt.cash, tt.threshold)
			if v.Result != tt.wantResult {
				t.Errorf("got %s, want %s (reason: %s)", v.Result, tt.wantResult, v.Reason)
			}
		})
	}
}

func TestBlacklistSize(t *testing.T) {
	engine := NewEngine([]string{"0xa", "0xb", "", "  "})
	if got := engine.BlacklistSize(); got != 2 {
		t.Errorf("got %d, want 2", got)
	}
}
