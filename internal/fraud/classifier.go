package fraud

import (
	"fmt"
	"math"
	"strings"
	"sync"
)

// Classifier scores feature vectors against a frozen model artifact.
// Prediction is deterministic and allocation-light, suitable for a
// synchronous per-trade call. The only mutable state is the diagnostic
// counter set, guarded by its own mutex.
type Classifier struct {
	artifact *Artifact

	statsMu sync.Mutex
	stats   Stats
}

// NewClassifier wraps a validated model artifact.
func NewClassifier(artifact *Artifact) (*Classifier, error) {
	if err := artifact.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		artifact: artifact,
		stats:    Stats{ByRiskLevel: make(map[string]int)},
	}, nil
}

// Threshold returns the packaged decision threshold.
func (c *Classifier) Threshold() float64 {
	return c.artifact.Threshold
}

// Metadata returns the packaged model metadata.
func (c *Classifier) Metadata() ArtifactMetadata {
	return c.artifact.Metadata
}

// Predict scores a feature vector into a fraud verdict.
func (c *Classifier) Predict(fv *FeatureVector) Verdict {
	z := c.artifact.Bias
	for _, name := range c.artifact.FeatureNames {
		raw, _ := fv.Get(name)
		z += c.artifact.Weights[name] * c.artifact.scale(name, raw)
	}
	probability := sigmoid(z)

	isFraud := probability >= c.artifact.Threshold
	level := BucketRisk(probability)
	factors := contributingFactors(fv, isFraud)

	c.recordStats(isFraud, level)

	return Verdict{
		FraudProbability:    probability,
		IsFraud:             isFraud,
		RiskLevel:           level,
		ContributingFactors: factors,
		Reasoning:           reasoning(probability, isFraud, factors),
	}
}

// DetectionStats returns a copy of the running counters.
func (c *Classifier) DetectionStats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	byLevel := make(map[string]int, len(c.stats.ByRiskLevel))
	for k, v := range c.stats.ByRiskLevel {
		byLevel[k] = v
	}
	return Stats{
		TotalScored: c.stats.TotalScored,
		Flagged:     c.stats.Flagged,
		ByRiskLevel: byLevel,
	}
}

func (c *Classifier) recordStats(isFraud bool, level RiskLevel) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	c.stats.TotalScored++
	if isFraud {
		c.stats.Flagged++
	}
	c.stats.ByRiskLevel[string(level)]++
}

// contributingFactors names the features most responsible for a flagged
// trade, in a stable order.
func contributingFactors(fv *FeatureVector, isFraud bool) []string {
	if !isFraud {
		return nil
	}

	var factors []string
	if math.Abs(fv.PriceDeviationPct) > 5 {
		factors = append(factors, fmt.Sprintf("large price deviation: %.1f%%", fv.PriceDeviationPct))
	}
	if fv.AttemptedManip == 1 {
		factors = append(factors, "manipulation pattern detected")
	}
	if fv.RollingVolatility > 0.3 {
		factors = append(factors, "high market volatility")
	}
	if fv.CounterpartyRepeat == 1 {
		factors = append(factors, "repeat counterparty pairing")
	}
	return factors
}

func reasoning(probability float64, isFraud bool, factors []string) string {
	if !isFraud {
		return fmt.Sprintf("trade appears legitimate (fraud probability %.1f%%)", probability*100)
	}
	msg := fmt.Sprintf("fraud detected (probability %.1f%%)", probability*100)
	if len(factors) > 0 {
		msg += ": " + strings.Join(factors, "; ")
	}
	return msg
}

func sigmoid(z float64) float64 {
	return 1.0 / (1.0 + math.Exp(-z))
}
