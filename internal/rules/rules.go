// Package rules implements the deterministic compliance and notional-size
// checks that gate every trade. The checks are side-effect-free predicates:
// the same inputs always produce the same verdicts, and any internal doubt
// maps to the most restrictive verdict rather than a permissive default.
package rules

import (
	"fmt"
	"math"
	"strings"
)

// ComplianceVerdict is the outcome of the blacklist check.
type ComplianceVerdict string

const (
	Compliant ComplianceVerdict = "COMPLIANT"
	Blocked   ComplianceVerdict = "BLOCKED"
)

// NotionalVerdict is the outcome of the trade-size check.
type NotionalVerdict string

const (
	Normal   NotionalVerdict = "NORMAL"
	HighRisk NotionalVerdict = "HIGH_RISK"
)

// Verdict is the result of evaluating a single rule, with the reason an
// operator would want in the reasoning chain.
type Verdict struct {
	Rule   string
	Result string
	Reason string
}

// Engine evaluates the static blacklist and the adaptive notional threshold.
// The blacklist is fixed at construction; the threshold is supplied per call
// because it adapts across trades and is owned elsewhere.
type Engine struct {
	blacklist map[string]struct{}
}

// NewEngine builds an engine over a static blacklist. Entries are matched
// case-insensitively.
func NewEngine(blacklist []string) *Engine {
	set := make(map[string]struct{}, len(blacklist))
	for _, entry := range blacklist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry != "" {
			set[entry] = struct{}{}
		}
	}
	return &Engine{blacklist: set}
}

// BlacklistSize returns the number of blacklisted identifiers.
func (e *Engine) BlacklistSize() int {
	return len(e.blacklist)
}

// CheckCompliance returns Blocked if either party is blacklisted. An empty
// party identifier cannot be cleared and is treated as Blocked.
func (e *Engine) CheckCompliance(cashParty, securitiesParty string) Verdict {
	for _, party := range []string{cashParty, securitiesParty} {
		normalized := strings.ToLower(strings.TrimSpace(party))
		if normalized == "" {
			return Verdict{
				Rule:   "compliance",
				Result: string(Blocked),
				Reason: "party identifier missing, cannot verify against blacklist",
			}
		}
		if _, hit := e.blacklist[normalized]; hit {
			return Verdict{
				Rule:   "compliance",
				Result: string(Blocked),
				Reason: fmt.Sprintf("party %s is blacklisted", party),
			}
		}
	}
	return Verdict{
		Rule:   "compliance",
		Result: string(Compliant),
		Reason: "no party matches the blacklist",
	}
}

// CheckNotional returns HighRisk when the required cash leg exceeds the
// current adaptive threshold. A threshold that cannot be compared (zero,
// negative, or non-finite) blocks rather than waves the trade through.
func (e *Engine) CheckNotional(requiredCash, threshold float64) Verdict {
	if math.IsNaN(requiredCash) || math.IsInf(requiredCash, 0) {
		return Verdict{
			Rule:   "notional",
			Result: string(HighRisk),
			Reason: "required cash amount is not a finite number",
		}
	}
	if threshold <= 0 || math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return Verdict{
			Rule:   "notional",
			Result: string(HighRisk),
			Reason: fmt.Sprintf("risk threshold %v is unusable, failing safe", threshold),
		}
	}
	if requiredCash > threshold {
		return Verdict{
			Rule:   "notional",
			Result: string(HighRisk),
			Reason: fmt.Sprintf("notional %.2f exceeds risk threshold %.2f", requiredCash, threshold),
		}
	}
	return Verdict{
		Rule:   "notional",
		Result: string(Normal),
		Reason: fmt.Sprintf("notional %.2f within risk threshold %.2f", requiredCash, threshold),
	}
}
