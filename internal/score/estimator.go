package score

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
)

// ErrSchemaMismatch means the trained artifact does not declare the exact
// feature schema this build expects. It is fatal at startup only; callers
// must not fall back silently, because a misaligned model scores garbage.
var ErrSchemaMismatch = errors.New("classifier artifact feature schema mismatch")

// Estimator produces a base probability from a feature vector.
type Estimator interface {
	// Predict is deterministic given an identical vector.
	Predict(features []float64) (float64, error)
	// Degraded reports whether this estimator is a fallback.
	Degraded() bool
	// Name identifies the estimator for logs and replies.
	Name() string
}

// ModelArtifact is the versioned, immutable trained-classifier file. The
// training pipeline exports a calibrated logistic model: one coefficient
// and one fill-when-missing value per feature slot, plus an intercept.
type ModelArtifact struct {
	Version      string    `json:"version"`
	Features     []string  `json:"features"`
	Intercept    float64   `json:"intercept"`
	Coefficients []float64 `json:"coefficients"`
	FillMissing  []float64 `json:"fill_missing"`
}

// TrainedClassifier is the preferred base estimator.
type TrainedClassifier struct {
	artifact ModelArtifact
}

// LoadTrainedClassifier reads and validates a model artifact. A schema
// mismatch wraps ErrSchemaMismatch.
func LoadTrainedClassifier(path string) (*TrainedClassifier, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model artifact: %w", err)
	}
	var art ModelArtifact
	if err := json.Unmarshal(raw, &art); err != nil {
		return nil, fmt.Errorf("decoding model artifact: %w", err)
	}
	if err := validateArtifact(art); err != nil {
		return nil, err
	}
	return &TrainedClassifier{artifact: art}, nil
}

func validateArtifact(art ModelArtifact) error {
	want := FeatureNames()
	if len(art.Features) != len(want) {
		return fmt.Errorf("%w: artifact has %d features, expected %d",
			ErrSchemaMismatch, len(art.Features), len(want))
	}
	for i, name := range want {
		if art.Features[i] != name {
			return fmt.Errorf("%w: slot %d is %q, expected %q",
				ErrSchemaMismatch, i, art.Features[i], name)
		}
	}
	if len(art.Coefficients) != len(want) || len(art.FillMissing) != len(want) {
		return fmt.Errorf("%w: coefficient/fill arrays must match the %d-slot schema",
			ErrSchemaMismatch, len(want))
	}
	return nil
}

func (c *TrainedClassifier) Predict(features []float64) (float64, error) {
	if len(features) != len(c.artifact.Features) {
		return 0, fmt.Errorf("feature vector has %d slots, model expects %d",
			len(features), len(c.artifact.Features))
	}
	z := c.artifact.Intercept
	for i, v := range features {
		if math.IsNaN(v) {
			v = c.artifact.FillMissing[i]
		}
		z += c.artifact.Coefficients[i] * v
	}
	return clamp01(logistic(z)), nil
}

func (c *TrainedClassifier) Degraded() bool { return false }
func (c *TrainedClassifier) Name() string   { return "trained:" + c.artifact.Version }

// HeuristicFallback is used when the trained artifact is absent or fails
// to load (except for schema mismatches, which abort startup). It is a
// simple monotonic rule over the same feature slots: every abnormal
// signal can only raise the probability.
type HeuristicFallback struct{}

// Baseline revisit probability when nothing abnormal is recorded.
const heuristicBaseline = 0.08

func (HeuristicFallback) Predict(features []float64) (float64, error) {
	names := FeatureNames()
	if len(features) != len(names) {
		return 0, fmt.Errorf("feature vector has %d slots, expected %d", len(features), len(names))
	}
	logOdds := logit(heuristicBaseline)
	for i, name := range names {
		v := features[i]
		if math.IsNaN(v) {
			continue
		}
		switch name {
		case "AGE":
			if v >= 65 {
				logOdds += 0.5
			}
		case "PULSE":
			if v > 100 {
				logOdds += 0.3
			}
		case "RESPR":
			if v > 24 {
				logOdds += 0.3
			}
		case "BPSYS":
			if v < 90 {
				logOdds += 0.4
			}
		case "POPCT":
			if v < 92 {
				logOdds += 0.4
			}
		case "TEMPF":
			if v > 100.4 {
				logOdds += 0.2
			}
		case "PAINSCALE":
			if v >= 8 {
				logOdds += 0.2
			}
		case "IMMEDR":
			if v <= 2 {
				logOdds += 0.4
			}
		case "TOTCHRON":
			logOdds += 0.15 * v
		case "PRIOR_ED_30D":
			logOdds += 0.25 * math.Min(v, 4)
		}
	}
	return clamp01(logistic(logOdds)), nil
}

func (HeuristicFallback) Degraded() bool { return true }
func (HeuristicFallback) Name() string   { return "heuristic-fallback" }
