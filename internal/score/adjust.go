package score

import (
	"math"
	"sort"
	"strings"

	"github.com/carelens/edrisk/internal/clinical"
)

// Rule is one independent clinical adjustment: when its predicate holds
// for a state it contributes a fixed log-odds delta. Deltas sum, so the
// evaluation order never changes the adjusted probability; the table
// order only fixes how contributing factors are reported.
type Rule struct {
	Name    string
	Delta   float64
	Applies func(s *clinical.State) bool
}

// DefaultDeltas is the built-in adjustment policy, keyed by rule name.
// The magnitudes mirror published readmission-rate shifts and are policy,
// not asserted clinical fact: deployments override them per key through
// the risk.adjustments config table.
var DefaultDeltas = map[string]float64{
	"condition:CHF":      1.8,
	"condition:COPD":     1.5,
	"condition:CKD":      1.3,
	"condition:ESRD":     1.6,
	"condition:DIABTYP0": 0.9,
	"condition:DIABTYP1": 1.1,
	"condition:DIABTYP2": 1.0,
	"condition:CANCER":   1.2,
	"condition:CEBVD":    1.0,
	"condition:CAD":      0.9,
	"condition:DEPRN":    0.7,
	"condition:ASTHMA":   0.7,
	"condition:ALZHD":    0.8,
	"condition:EDHIV":    0.7,
	"condition:ETOHAB":   0.9,
	"condition:SUBSTAB":  0.8,
	"condition:HTN":      0.4,
	"condition:HYPLIPID": 0.3,
	"condition:OBESITY":  0.4,
	"condition:INJURY":   0.3,

	"age>=80": 1.2,
	"age>=75": 1.0,
	"age>=65": 0.7,
	"age<5":   0.4,
	"age<18":  0.2,

	"pulse>130": 0.7,
	"pulse>120": 0.5,
	"pulse>100": 0.3,

	"systolic<80":  0.8,
	"systolic<90":  0.6,
	"systolic>200": 0.6,
	"systolic>180": 0.4,

	"temp>102":   0.6,
	"temp>101":   0.4,
	"temp>100.4": 0.2,

	"resp>30": 0.6,
	"resp>24": 0.4,

	"spo2<88": 0.8,
	"spo2<92": 0.5,

	"pain>=8": 0.4,

	"triage<=1": 1.0,
	"triage<=2": 0.7,
	"triage=3":  0.4,

	"chronic>=4": 1.2,
	"chronic>=3": 0.8,
	"chronic>=2": 0.4,
}

// adjustmentCondOrder lists the condition rules in reporting order.
var adjustmentCondOrder = []string{
	clinical.CondCHF, clinical.CondCOPD, clinical.CondCKD, clinical.CondESRD,
	clinical.CondDiabetes, clinical.CondDiabetesT1, clinical.CondDiabetesT2,
	clinical.CondCancer, clinical.CondCVD, clinical.CondCAD,
	clinical.CondDepression, clinical.CondAsthma, clinical.CondDementia,
	clinical.CondHIV, clinical.CondAlcoholUse, clinical.CondSubstanceAb,
	clinical.CondHTN, clinical.CondHyperlipid, clinical.CondObesity,
	clinical.CondInjury,
}

// canonicalRuleName resolves an override key against the default table.
// Matching is case-insensitive: viper lowercases map keys read from
// config files, so "condition:chf" must still reach "condition:CHF".
func canonicalRuleName(key string) (string, bool) {
	if _, ok := DefaultDeltas[key]; ok {
		return key, true
	}
	lower := strings.ToLower(key)
	for name := range DefaultDeltas {
		if strings.ToLower(name) == lower {
			return name, true
		}
	}
	return "", false
}

// BuildRules constructs the ordered adjustment table. overrides replaces
// individual default deltas by rule name; unknown override keys are
// returned so the caller can log them.
func BuildRules(overrides map[string]float64) ([]Rule, []string) {
	deltas := make(map[string]float64, len(DefaultDeltas))
	for k, v := range DefaultDeltas {
		deltas[k] = v
	}
	var unknown []string
	for k, v := range overrides {
		name, ok := canonicalRuleName(k)
		if !ok {
			unknown = append(unknown, k)
			continue
		}
		deltas[name] = v
	}
	sort.Strings(unknown)

	var rules []Rule
	for _, code := range adjustmentCondOrder {
		code := code
		rules = append(rules, Rule{
			Name:    "condition:" + code,
			Delta:   deltas["condition:"+code],
			Applies: func(s *clinical.State) bool { return s.HasCondition(code) },
		})
	}

	// Banded vital/age rules. Bands are exclusive: only the most severe
	// band of each family fires.
	age := func(s *clinical.State) float64 { return intBand(s.Age) }
	rules = append(rules,
		bandRule("age>=80", deltas, age, gte(80)),
		bandRule("age>=75", deltas, age, between(75, 80)),
		bandRule("age>=65", deltas, age, between(65, 75)),
		bandRule("age<5", deltas, age, lt(5)),
		bandRule("age<18", deltas, age, rangeBand(5, 18)),
	)

	pulse := func(s *clinical.State) float64 { return floatBand(s.Vitals.Pulse) }
	rules = append(rules,
		bandRule("pulse>130", deltas, pulse, gt(130)),
		bandRule("pulse>120", deltas, pulse, openBand(120, 130)),
		bandRule("pulse>100", deltas, pulse, openBand(100, 120)),
	)

	sys := func(s *clinical.State) float64 { return floatBand(s.Vitals.SystolicBP) }
	rules = append(rules,
		bandRule("systolic<80", deltas, sys, lt(80)),
		bandRule("systolic<90", deltas, sys, rangeBand(80, 90)),
		bandRule("systolic>200", deltas, sys, gt(200)),
		bandRule("systolic>180", deltas, sys, openBand(180, 200)),
	)

	temp := func(s *clinical.State) float64 { return floatBand(s.Vitals.Temperature) }
	rules = append(rules,
		bandRule("temp>102", deltas, temp, gt(102)),
		bandRule("temp>101", deltas, temp, openBand(101, 102)),
		bandRule("temp>100.4", deltas, temp, openBand(100.4, 101)),
	)

	resp := func(s *clinical.State) float64 { return floatBand(s.Vitals.RespiratoryRate) }
	rules = append(rules,
		bandRule("resp>30", deltas, resp, gt(30)),
		bandRule("resp>24", deltas, resp, openBand(24, 30)),
	)

	spo2 := func(s *clinical.State) float64 { return floatBand(s.Vitals.OxygenSaturation) }
	rules = append(rules,
		bandRule("spo2<88", deltas, spo2, lt(88)),
		bandRule("spo2<92", deltas, spo2, rangeBand(88, 92)),
	)

	pain := func(s *clinical.State) float64 { return floatBand(s.Vitals.PainScale) }
	rules = append(rules, bandRule("pain>=8", deltas, pain, gte(8)))

	triage := func(s *clinical.State) float64 { return intBand(s.TriageLevel) }
	rules = append(rules,
		bandRule("triage<=1", deltas, triage, lte(1)),
		bandRule("triage<=2", deltas, triage, rangeBand(2, 3)),
		bandRule("triage=3", deltas, triage, rangeBand(3, 4)),
	)

	chronic := func(s *clinical.State) float64 { return float64(s.TotalChronic()) }
	rules = append(rules,
		bandRule("chronic>=4", deltas, chronic, gte(4)),
		bandRule("chronic>=3", deltas, chronic, rangeBand(3, 4)),
		bandRule("chronic>=2", deltas, chronic, rangeBand(2, 3)),
	)

	return rules, unknown
}

// band helpers: a band predicate receives the recorded value, or NaN when
// the field is missing (no band matches NaN).

type bandPred func(v float64) bool

func bandRule(name string, deltas map[string]float64, value func(*clinical.State) float64, pred bandPred) Rule {
	return Rule{
		Name:  name,
		Delta: deltas[name],
		Applies: func(s *clinical.State) bool {
			v := value(s)
			return v == v && pred(v) // v==v filters NaN
		},
	}
}

func gte(x float64) bandPred   { return func(v float64) bool { return v >= x } }
func gt(x float64) bandPred    { return func(v float64) bool { return v > x } }
func lt(x float64) bandPred    { return func(v float64) bool { return v < x } }
func lte(x float64) bandPred   { return func(v float64) bool { return v <= x } }
func between(lo, hi float64) bandPred { return func(v float64) bool { return v >= lo && v < hi } }
func rangeBand(lo, hi float64) bandPred { return between(lo, hi) }
func openBand(lo, hi float64) bandPred {
	return func(v float64) bool { return v > lo && v <= hi }
}

func intBand(p *int) float64 {
	if p == nil {
		return math.NaN()
	}
	return float64(*p)
}

func floatBand(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}
