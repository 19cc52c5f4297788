package score

import (
	"strings"

	"github.com/carelens/edrisk/internal/clinical"
)

// TriagePolicy infers an ESI acuity level when none was stated. Each
// recorded condition carries a default level, and abnormal vitals can
// pull the level down further (1 = most severe). The table is deployment
// policy, overridable via the risk.triage_defaults config map.
type TriagePolicy struct {
	ConditionDefaults map[string]int
}

// DefaultTriagePolicy mirrors the condition defaults the model was
// calibrated with.
func DefaultTriagePolicy() TriagePolicy {
	return TriagePolicy{ConditionDefaults: map[string]int{
		clinical.CondCHF:        2,
		clinical.CondCOPD:       3,
		clinical.CondESRD:       3,
		clinical.CondCKD:        3,
		clinical.CondCancer:     3,
		clinical.CondCVD:        2,
		clinical.CondCAD:        2,
		clinical.CondDiabetesT1: 3,
		clinical.CondDiabetesT2: 3,
		clinical.CondDiabetes:   3,
		clinical.CondAsthma:     3,
		clinical.CondHIV:        3,
		clinical.CondDementia:   3,
	}}
}

// WithOverrides returns a copy of the policy with per-condition defaults
// replaced. Keys are upper-cased before matching because viper lowercases
// map keys read from config files. Levels outside 1..5 are ignored.
func (p TriagePolicy) WithOverrides(overrides map[string]int) TriagePolicy {
	merged := make(map[string]int, len(p.ConditionDefaults))
	for k, v := range p.ConditionDefaults {
		merged[k] = v
	}
	for k, v := range overrides {
		code := strings.ToUpper(strings.TrimSpace(k))
		if v >= 1 && v <= 5 && clinical.IsCondition(code) {
			merged[code] = v
		}
	}
	return TriagePolicy{ConditionDefaults: merged}
}

// Infer returns the inferred triage level for a state with no explicit
// level, and whether any rule fired. It is deterministic and pure.
func (p TriagePolicy) Infer(s *clinical.State) (int, bool) {
	best := 5
	for code, level := range p.ConditionDefaults {
		if s.HasCondition(code) && level < best {
			best = level
		}
	}
	if s.Age != nil && *s.Age >= 75 && best > 3 {
		best = 3
	}
	v := s.Vitals
	if v.Pulse != nil && *v.Pulse > 120 && best > 2 {
		best = 2
	}
	if v.SystolicBP != nil && *v.SystolicBP < 90 && best > 2 {
		best = 2
	}
	if v.Temperature != nil && *v.Temperature > 101 && best > 3 {
		best = 3
	}
	if v.OxygenSaturation != nil && *v.OxygenSaturation < 92 && best > 2 {
		best = 2
	}
	if best == 5 {
		return 0, false
	}
	return best, true
}
