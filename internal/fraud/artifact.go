package fraud

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

var (
	ErrArtifactThreshold = errors.New("fraud: artifact threshold outside (0,1)")
	ErrArtifactFeatures  = errors.New("fraud: artifact feature names do not match extractor")
)

// Scaler holds per-feature standardization parameters.
type Scaler struct {
	Mean map[string]float64 `json:"mean"`
	Std  map[string]float64 `json:"std"`
}

// ArtifactMetadata describes the packaged model for observability.
type ArtifactMetadata struct {
	ModelType         string  `json:"model_type"`
	TrainedAt         string  `json:"trained_at,omitempty"`
	ROCAUC            float64 `json:"roc_auc,omitempty"`
	RecallAtThreshold float64 `json:"recall_at_threshold,omitempty"`
}

// Artifact is a persisted classifier: frozen weights, scaler, decision
// threshold, and the feature ordering the model was trained with.
type Artifact struct {
	FeatureNames []string           `json:"feature_names"`
	Weights      map[string]float64 `json:"weights"`
	Bias         float64            `json:"bias"`
	Scaler       Scaler             `json:"scaler"`
	Threshold    float64            `json:"threshold"`
	Metadata     ArtifactMetadata   `json:"metadata"`
}

// LoadArtifact reads and validates a model artifact from a JSON file.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fraud: read artifact: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("fraud: parse artifact: %w", err)
	}

	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Validate checks internal consistency of the artifact.
func (a *Artifact) Validate() error {
	if a.Threshold <= 0 || a.Threshold >= 1 {
		return ErrArtifactThreshold
	}
	if len(a.FeatureNames) == 0 {
		return fmt.Errorf("%w: artifact declares no features", ErrArtifactFeatures)
	}

	known := make(map[string]bool, len(featureOrder))
	for _, name := range featureOrder {
		known[name] = true
	}
	for _, name := range a.FeatureNames {
		if !known[name] {
			return fmt.Errorf("%w: unknown feature %q", ErrArtifactFeatures, name)
		}
		if _, ok := a.Weights[name]; !ok {
			return fmt.Errorf("fraud: artifact missing weight for feature %q", name)
		}
	}
	return nil
}

// scale standardizes a raw feature value using the artifact's scaler.
// A missing or degenerate std leaves the value unscaled around the mean.
func (a *Artifact) scale(name string, value float64) float64 {
	mean := a.Scaler.Mean[name]
	std := a.Scaler.Std[name]
	if std <= 0 {
		std = 1
	}
	return (value - mean) / std
}
