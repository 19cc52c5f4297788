package score

import (
	"errors"
	"fmt"
	"log"

	"github.com/carelens/edrisk/internal/clinical"
)

func isSchemaMismatch(err error) bool { return errors.Is(err, ErrSchemaMismatch) }

// Level buckets the adjusted probability.
type Level string

const (
	LevelLow      Level = "low"
	LevelModerate Level = "moderate"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Cutpoints are the upper bounds of the low/moderate/high buckets. A
// probability exactly on a boundary belongs to the lower bucket.
type Cutpoints struct {
	Low      float64
	Moderate float64
	High     float64
}

// DefaultCutpoints per the deployed policy.
var DefaultCutpoints = Cutpoints{Low: 0.10, Moderate: 0.30, High: 0.60}

// Valid reports whether the cut-points are strictly ascending in (0,1).
func (c Cutpoints) Valid() bool {
	return c.Low > 0 && c.Low < c.Moderate && c.Moderate < c.High && c.High < 1
}

// Level assigns the bucket for an adjusted probability.
func (c Cutpoints) Level(p float64) Level {
	switch {
	case p <= c.Low:
		return LevelLow
	case p <= c.Moderate:
		return LevelModerate
	case p <= c.High:
		return LevelHigh
	default:
		return LevelCritical
	}
}

// Factor is one fired adjustment rule and its log-odds contribution.
type Factor struct {
	Name  string  `json:"factor"`
	Delta float64 `json:"log_odds_delta"`
}

// Assessment is the result of scoring one clinical state.
type Assessment struct {
	BaseProbability     float64  `json:"base_probability"`
	AdjustedProbability float64  `json:"adjusted_probability"`
	Level               Level    `json:"risk_level"`
	Factors             []Factor `json:"contributing_factors"`
	Degraded            bool     `json:"degraded"`
	Estimator           string   `json:"estimator"`
}

// Scorer is the two-stage risk pipeline. It is pure: identical states
// produce identical assessments, with no hidden randomness.
type Scorer struct {
	estimator Estimator
	rules     []Rule
	cuts      Cutpoints
}

// NewScorer wires an estimator with an adjustment table and cut-points.
func NewScorer(est Estimator, rules []Rule, cuts Cutpoints) (*Scorer, error) {
	if est == nil {
		return nil, fmt.Errorf("scorer requires a base estimator")
	}
	if !cuts.Valid() {
		return nil, fmt.Errorf("risk cut-points must be strictly ascending in (0,1): %+v", cuts)
	}
	return &Scorer{estimator: est, rules: rules, cuts: cuts}, nil
}

// NewScorerFromArtifact loads the trained classifier at path, falling
// back to the heuristic estimator when the artifact is absent or
// unreadable. A feature-schema mismatch is returned as-is: that is a
// deployment error and must abort startup, not degrade.
func NewScorerFromArtifact(path string, rules []Rule, cuts Cutpoints, logger *log.Logger) (*Scorer, error) {
	est, err := loadEstimator(path, logger)
	if err != nil {
		return nil, err
	}
	return NewScorer(est, rules, cuts)
}

func loadEstimator(path string, logger *log.Logger) (Estimator, error) {
	if path == "" {
		logger.Printf("no classifier artifact configured, using heuristic fallback")
		return HeuristicFallback{}, nil
	}
	clf, err := LoadTrainedClassifier(path)
	if err == nil {
		logger.Printf("loaded classifier artifact %s (%s)", path, clf.Name())
		return clf, nil
	}
	if isSchemaMismatch(err) {
		return nil, err
	}
	logger.Printf("classifier artifact unavailable (%v), using heuristic fallback", err)
	return HeuristicFallback{}, nil
}

// Score runs both stages. It never mutates the state.
func (sc *Scorer) Score(s *clinical.State) (Assessment, error) {
	base, err := sc.estimator.Predict(Vector(s))
	if err != nil {
		return Assessment{}, fmt.Errorf("base estimator: %w", err)
	}

	logOdds := logit(base)
	var factors []Factor
	for _, r := range sc.rules {
		if r.Applies(s) {
			logOdds += r.Delta
			factors = append(factors, Factor{Name: r.Name, Delta: r.Delta})
		}
	}
	adjusted := clamp01(logistic(logOdds))

	return Assessment{
		BaseProbability:     clamp01(base),
		AdjustedProbability: adjusted,
		Level:               sc.cuts.Level(adjusted),
		Factors:             factors,
		Degraded:            sc.estimator.Degraded(),
		Estimator:           sc.estimator.Name(),
	}, nil
}

// Degraded reports whether the scorer runs on the fallback estimator.
func (sc *Scorer) Degraded() bool { return sc.estimator.Degraded() }
