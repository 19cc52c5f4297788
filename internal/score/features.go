// Package score turns a clinical state into a calibrated revisit/admission
// risk assessment: a base probability from a trained artifact (or a
// monotonic heuristic fallback) adjusted by an ordered table of named
// log-odds rules.
package score

import (
	"math"

	"github.com/carelens/edrisk/internal/clinical"
)

// Base feature slot names, in fixed order. The condition one-hot slots
// follow, one per canonical code. The trained artifact must declare the
// exact same schema or loading fails at startup.
var baseFeatures = []string{
	"AGE", "SEX", "TEMPF", "PULSE", "RESPR", "BPSYS", "BPDIAS",
	"POPCT", "PAINSCALE", "IMMEDR", "TOTCHRON", "PRIOR_ED_30D",
	"DAYS_SINCE_LAST",
}

// FeatureNames returns the full fixed-order schema.
func FeatureNames() []string {
	out := make([]string, 0, len(baseFeatures)+len(clinical.ConditionCodes))
	out = append(out, baseFeatures...)
	out = append(out, clinical.ConditionCodes...)
	return out
}

// Vector maps a clinical state onto the fixed schema. Missing values are
// NaN; estimators decide how to fill them. Sex encodes male=1, female=2.
func Vector(s *clinical.State) []float64 {
	v := make([]float64, 0, len(baseFeatures)+len(clinical.ConditionCodes))
	v = append(v,
		intOrNaN(s.Age),
		sexValue(s.Sex),
		floatOrNaN(s.Vitals.Temperature),
		floatOrNaN(s.Vitals.Pulse),
		floatOrNaN(s.Vitals.RespiratoryRate),
		floatOrNaN(s.Vitals.SystolicBP),
		floatOrNaN(s.Vitals.DiastolicBP),
		floatOrNaN(s.Vitals.OxygenSaturation),
		floatOrNaN(s.Vitals.PainScale),
		intOrNaN(s.TriageLevel),
		float64(s.TotalChronic()),
		intOrNaN(s.PriorEDVisits30d),
		floatOrNaN(s.DaysSinceLastVisit),
	)
	for _, code := range clinical.ConditionCodes {
		if s.HasCondition(code) {
			v = append(v, 1)
		} else {
			v = append(v, 0)
		}
	}
	return v
}

func sexValue(s clinical.Sex) float64 {
	switch s {
	case clinical.SexMale:
		return 1
	case clinical.SexFemale:
		return 2
	default:
		return math.NaN()
	}
}

func intOrNaN(p *int) float64 {
	if p == nil {
		return math.NaN()
	}
	return float64(*p)
}

func floatOrNaN(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// logistic maps log-odds back to a probability.
func logistic(logOdds float64) float64 {
	return 1.0 / (1.0 + math.Exp(-logOdds))
}

// logit maps a probability to log-odds, guarding the p=1 edge.
func logit(p float64) float64 {
	return math.Log(p / (1.0 - p + 1e-9))
}

func clamp01(p float64) float64 {
	return math.Min(1, math.Max(0, p))
}
