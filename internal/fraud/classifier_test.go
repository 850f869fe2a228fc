package fraud

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// biasOnlyArtifact builds an artifact whose prediction is sigmoid(bias),
// independent of the feature vector.
func biasOnlyArtifact(bias, threshold float64) *Artifact {
	return &Artifact{
		FeatureNames: []string{"trade_size"},
		Weights:      map[string]float64{"trade_size": 0},
		Bias:         bias,
		Threshold:    threshold,
	}
}

func TestBucketRisk(t *testing.T) {
	tests := []struct {
		p    float64
		want RiskLevel
	}{
		{0.0, RiskLow},
		{0.09, RiskLow},
		{0.1, RiskMedium},
		{0.19, RiskMedium},
		{0.2, RiskHigh},
		{0.49, RiskHigh},
		{0.5, RiskCritical},
		{0.99, RiskCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, BucketRisk(tt.p), "p=%v", tt.p)
	}
}

func TestPredictBiasOnly(t *testing.T) {
	c, err := NewClassifier(biasOnlyArtifact(0, 0.5))
	require.NoError(t, err)

	v := c.Predict(&FeatureVector{})
	assert.InDelta(t, 0.5, v.FraudProbability, 1e-12)
	assert.True(t, v.IsFraud, "probability at the threshold is flagged")
	assert.Equal(t, RiskCritical, v.RiskLevel)
}

func TestPredictRiskLevelIndependentOfThreshold(t *testing.T) {
	// Probability lands in CRITICAL bucket but below the artifact threshold:
	// high risk level, yet not flagged as fraud.
	c, err := NewClassifier(biasOnlyArtifact(0, 0.7))
	require.NoError(t, err)

	v := c.Predict(&FeatureVector{})
	assert.Equal(t, RiskCritical, v.RiskLevel)
	assert.False(t, v.IsFraud)
	assert.Nil(t, v.ContributingFactors)
}

func TestPredictAppliesScaler(t *testing.T) {
	a := &Artifact{
		FeatureNames: []string{"trade_size"},
		Weights:      map[string]float64{"trade_size": 1},
		Bias:         0,
		Threshold:    0.5,
		Scaler: Scaler{
			Mean: map[string]float64{"trade_size": 10},
			Std:  map[string]float64{"trade_size": 2},
		},
	}
	c, err := NewClassifier(a)
	require.NoError(t, err)

	// z = (14 - 10) / 2 = 2
	v := c.Predict(&FeatureVector{TradeSize: 14})
	want := 1.0 / (1.0 + math.Exp(-2))
	assert.InDelta(t, want, v.FraudProbability, 1e-12)
}

func TestPredictDeterministic(t *testing.T) {
	c, err := NewClassifier(biasOnlyArtifact(-1.2, 0.5))
	require.NoError(t, err)

	fv := &FeatureVector{TradeSize: 10, TradePrice: 100}
	first := c.Predict(fv)
	second := c.Predict(fv)
	assert.Equal(t, first.FraudProbability, second.FraudProbability)
	assert.Equal(t, first.RiskLevel, second.RiskLevel)
}

func TestPredictContributingFactors(t *testing.T) {
	c, err := NewClassifier(biasOnlyArtifact(3, 0.5))
	require.NoError(t, err)

	v := c.Predict(&FeatureVector{
		PriceDeviationPct: 12.5,
		AttemptedManip:    1,
		RollingVolatility: 0.4,
	})
	require.True(t, v.IsFraud)
	assert.Contains(t, v.ContributingFactors, "large price deviation: 12.5%")
	assert.Contains(t, v.ContributingFactors, "manipulation pattern detected")
	assert.Contains(t, v.ContributingFactors, "high market volatility")
	assert.Contains(t, v.Reasoning, "fraud detected")
}

func TestDetectionStats(t *testing.T) {
	c, err := NewClassifier(biasOnlyArtifact(3, 0.5)) // sigmoid(3) ≈ 0.95
	require.NoError(t, err)

	c.Predict(&FeatureVector{})
	c.Predict(&FeatureVector{})

	stats := c.DetectionStats()
	assert.Equal(t, 2, stats.TotalScored)
	assert.Equal(t, 2, stats.Flagged)
	assert.Equal(t, 2, stats.ByRiskLevel[string(RiskCritical)])

	// The returned copy is detached from the live counters.
	stats.ByRiskLevel["LOW"] = 99
	assert.Zero(t, c.DetectionStats().ByRiskLevel["LOW"])
}

func TestArtifactValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Artifact)
		want   error
	}{
		{"threshold zero", func(a *Artifact) { a.Threshold = 0 }, ErrArtifactThreshold},
		{"threshold one", func(a *Artifact) { a.Threshold = 1 }, ErrArtifactThreshold},
		{"no features", func(a *Artifact) { a.FeatureNames = nil }, ErrArtifactFeatures},
		{"unknown feature", func(a *Artifact) { a.FeatureNames = []string{"moon_phase"} }, ErrArtifactFeatures},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := biasOnlyArtifact(0, 0.5)
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(), tt.want)
		})
	}

	t.Run("missing weight", func(t *testing.T) {
		a := biasOnlyArtifact(0, 0.5)
		a.Weights = map[string]float64{}
		assert.Error(t, a.Validate())
	})
}

func TestLoadArtifact(t *testing.T) {
	a := &Artifact{
		FeatureNames: FeatureNames(),
		Weights:      map[string]float64{},
		Bias:         -2.5,
		Threshold:    0.62,
		Metadata:     ArtifactMetadata{ModelType: "logistic_regression"},
	}
	for _, name := range a.FeatureNames {
		a.Weights[name] = 0.1
	}

	data, err := json.Marshal(a)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, 0.62, loaded.Threshold)
	assert.Equal(t, "logistic_regression", loaded.Metadata.ModelType)
	assert.Len(t, loaded.FeatureNames, len(FeatureNames()))
}

func TestLoadArtifactMissingFile(t *testing.T) {
	_, err := LoadArtifact(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
