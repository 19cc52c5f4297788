// Package clinical defines the canonical patient state shared by the
// extractor, the scorer, and the session store. Fields are optional by
// construction: a nil pointer means "not observed", never zero.
package clinical

import (
	"fmt"
	"math"
	"sort"
)

// Sex is the recorded patient sex.
type Sex int

const (
	SexUnknown Sex = iota
	SexMale
	SexFemale
)

func (s Sex) String() string {
	switch s {
	case SexMale:
		return "male"
	case SexFemale:
		return "female"
	default:
		return "unknown"
	}
}

// Vitals holds the numeric vital signs. Temperature is Fahrenheit,
// blood pressure is mmHg, oxygen saturation is a percentage and pain
// is the 0-10 self-reported scale.
type Vitals struct {
	Temperature      *float64 `json:"temperature,omitempty"`
	Pulse            *float64 `json:"pulse,omitempty"`
	RespiratoryRate  *float64 `json:"respiratory_rate,omitempty"`
	SystolicBP       *float64 `json:"systolic_bp,omitempty"`
	DiastolicBP      *float64 `json:"diastolic_bp,omitempty"`
	OxygenSaturation *float64 `json:"oxygen_saturation,omitempty"`
	PainScale        *float64 `json:"pain_scale,omitempty"`
}

// State is a partial clinical picture of one patient. The same type is
// produced by the free-text extractor and accepted from the external
// document parser, so both paths merge identically.
type State struct {
	Age            *int            `json:"age,omitempty"`
	Sex            Sex             `json:"sex,omitempty"`
	Vitals         Vitals          `json:"vitals"`
	Conditions     map[string]bool `json:"conditions,omitempty"`
	TriageLevel    *int            `json:"triage_level,omitempty"`
	TriageInferred bool            `json:"triage_inferred,omitempty"`
	ChiefComplaint string          `json:"chief_complaint,omitempty"`

	// Supplemental history signals.
	ChronicCount       *int     `json:"chronic_count,omitempty"`
	PriorEDVisits30d   *int     `json:"prior_ed_visits_30d,omitempty"`
	DaysSinceLastVisit *float64 `json:"days_since_last_visit,omitempty"`
	ArrivalTime        *int     `json:"arrival_time,omitempty"` // HHMM
	VisitMinutes       *float64 `json:"visit_minutes,omitempty"`
}

// HasCondition reports whether a canonical condition code is recorded.
func (s *State) HasCondition(code string) bool {
	return s.Conditions[code]
}

// ConditionList returns the recorded condition codes in vocabulary order.
func (s *State) ConditionList() []string {
	var out []string
	for _, code := range ConditionCodes {
		if s.Conditions[code] {
			out = append(out, code)
		}
	}
	// Unknown codes should never be stored, but keep output total anyway.
	var extra []string
	for code, ok := range s.Conditions {
		if ok && !IsCondition(code) {
			extra = append(extra, code)
		}
	}
	sort.Strings(extra)
	return append(out, extra...)
}

// TotalChronic is the chronic-condition count used for scoring: the
// explicit count when stated, otherwise the number of recorded codes.
func (s *State) TotalChronic() int {
	n := len(s.ConditionList())
	if s.ChronicCount != nil && *s.ChronicCount > n {
		n = *s.ChronicCount
	}
	return n
}

// HasAnyVital reports whether at least one vital sign is recorded.
func (s *State) HasAnyVital() bool {
	v := s.Vitals
	return v.Temperature != nil || v.Pulse != nil || v.RespiratoryRate != nil ||
		v.SystolicBP != nil || v.DiastolicBP != nil ||
		v.OxygenSaturation != nil || v.PainScale != nil
}

// HasContent reports whether any clinical field at all is recorded.
func (s *State) HasContent() bool {
	return s.Age != nil || s.Sex != SexUnknown || s.HasAnyVital() ||
		len(s.Conditions) > 0 || s.TriageLevel != nil || s.ChiefComplaint != "" ||
		s.ChronicCount != nil || s.PriorEDVisits30d != nil ||
		s.DaysSinceLastVisit != nil || s.ArrivalTime != nil || s.VisitMinutes != nil
}

// FieldCount counts the distinct top-level clinical fields present.
func (s *State) FieldCount() int {
	n := 0
	if s.Age != nil {
		n++
	}
	if s.Sex != SexUnknown {
		n++
	}
	for _, p := range []*float64{
		s.Vitals.Temperature, s.Vitals.Pulse, s.Vitals.RespiratoryRate,
		s.Vitals.SystolicBP, s.Vitals.DiastolicBP,
		s.Vitals.OxygenSaturation, s.Vitals.PainScale,
	} {
		if p != nil {
			n++
		}
	}
	n += len(s.ConditionList())
	if s.TriageLevel != nil {
		n++
	}
	if s.PriorEDVisits30d != nil {
		n++
	}
	if s.DaysSinceLastVisit != nil {
		n++
	}
	return n
}

// Merge overlays non-missing fields of in onto s. A known field is never
// reverted to missing; an explicit triage level replaces an inferred one.
func (s *State) Merge(in State) {
	if in.Age != nil {
		s.Age = intPtr(*in.Age)
	}
	if in.Sex != SexUnknown {
		s.Sex = in.Sex
	}
	mergeFloat(&s.Vitals.Temperature, in.Vitals.Temperature)
	mergeFloat(&s.Vitals.Pulse, in.Vitals.Pulse)
	mergeFloat(&s.Vitals.RespiratoryRate, in.Vitals.RespiratoryRate)
	mergeFloat(&s.Vitals.SystolicBP, in.Vitals.SystolicBP)
	mergeFloat(&s.Vitals.DiastolicBP, in.Vitals.DiastolicBP)
	mergeFloat(&s.Vitals.OxygenSaturation, in.Vitals.OxygenSaturation)
	mergeFloat(&s.Vitals.PainScale, in.Vitals.PainScale)
	for code, ok := range in.Conditions {
		if !ok {
			continue
		}
		if s.Conditions == nil {
			s.Conditions = make(map[string]bool)
		}
		s.Conditions[code] = true
	}
	// Typed diabetes supersedes the generic flag.
	if s.Conditions[CondDiabetesT1] || s.Conditions[CondDiabetesT2] {
		delete(s.Conditions, CondDiabetes)
	}
	if in.TriageLevel != nil {
		s.TriageLevel = intPtr(*in.TriageLevel)
		s.TriageInferred = in.TriageInferred
	}
	if in.ChiefComplaint != "" {
		s.ChiefComplaint = in.ChiefComplaint
	}
	if in.ChronicCount != nil {
		s.ChronicCount = intPtr(*in.ChronicCount)
	}
	if in.PriorEDVisits30d != nil {
		s.PriorEDVisits30d = intPtr(*in.PriorEDVisits30d)
	}
	if in.DaysSinceLastVisit != nil {
		s.DaysSinceLastVisit = floatPtr(*in.DaysSinceLastVisit)
	}
	if in.ArrivalTime != nil {
		s.ArrivalTime = intPtr(*in.ArrivalTime)
	}
	if in.VisitMinutes != nil {
		s.VisitMinutes = floatPtr(*in.VisitMinutes)
	}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() State {
	out := State{}
	out.Merge(*s)
	// Merge skips missing fields, which is exactly what a copy needs;
	// Sex/ChiefComplaint zero values pass through untouched.
	out.TriageInferred = s.TriageInferred
	return out
}

// Reset clears all clinical content in place.
func (s *State) Reset() {
	*s = State{}
}

// Range is a plausible closed interval for a numeric field. Values
// outside it are treated as entry errors and discarded.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool {
	return !math.IsNaN(v) && v >= r.Min && v <= r.Max
}

// Plausible ranges for each numeric field. These gate both free-text
// extraction and document-parser merges.
var (
	AgeRange         = Range{0, 119}
	TemperatureRange = Range{90, 110}
	PulseRange       = Range{20, 250}
	RespRange        = Range{4, 80}
	SystolicRange    = Range{50, 300}
	DiastolicRange   = Range{20, 200}
	SpO2Range        = Range{50, 100}
	PainRange        = Range{0, 10}
	TriageRange      = Range{1, 5}
)

// Abnormality thresholds used for triage inference and scoring context.
const (
	FeverThreshold     = 100.4
	TachycardiaPulse   = 100
	TachypneaResp      = 24
	HypotensionSys     = 90
	HypertensiveSys    = 180
	HypoxiaSpO2        = 92
	SeverePainScale    = 8
)

// AbnormalVitalCount counts recorded vitals outside normal limits.
func (s *State) AbnormalVitalCount() int {
	n := 0
	v := s.Vitals
	if v.Temperature != nil && *v.Temperature > FeverThreshold {
		n++
	}
	if v.Pulse != nil && *v.Pulse > TachycardiaPulse {
		n++
	}
	if v.RespiratoryRate != nil && *v.RespiratoryRate > TachypneaResp {
		n++
	}
	if v.SystolicBP != nil && (*v.SystolicBP < HypotensionSys || *v.SystolicBP > HypertensiveSys) {
		n++
	}
	if v.OxygenSaturation != nil && *v.OxygenSaturation < HypoxiaSpO2 {
		n++
	}
	if v.PainScale != nil && *v.PainScale >= SeverePainScale {
		n++
	}
	return n
}

// ReadyForAssessment reports whether the minimum required fields for a
// risk assessment are present: at least one vital or condition, and age
// and sex not both missing.
func (s *State) ReadyForAssessment() bool {
	if !s.HasAnyVital() && len(s.ConditionList()) == 0 {
		return false
	}
	return s.Age != nil || s.Sex != SexUnknown
}

// MissingForAssessment lists the specific fields still required before
// an assessment can run. Empty when ReadyForAssessment is true.
func (s *State) MissingForAssessment() []string {
	var missing []string
	if !s.HasAnyVital() && len(s.ConditionList()) == 0 {
		missing = append(missing, "at least one vital sign (temp, pulse, BP, resp rate, SpO2 or pain scale) or one chronic condition")
	}
	if s.Age == nil && s.Sex == SexUnknown {
		missing = append(missing, "patient age or sex")
	}
	return missing
}

// Phase is the per-session assessment state machine position.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCollecting
	PhaseReady
	PhaseAssessed
)

func (p Phase) String() string {
	switch p {
	case PhaseCollecting:
		return "collecting"
	case PhaseReady:
		return "ready"
	case PhaseAssessed:
		return "assessed"
	default:
		return "idle"
	}
}

// PhaseFor computes the pre-assessment phase implied by a state: Idle
// with no content, Ready when assessable, Collecting in between. The
// Assessed phase is only entered by an explicit assess turn.
func PhaseFor(s *State) Phase {
	switch {
	case !s.HasContent():
		return PhaseIdle
	case s.ReadyForAssessment():
		return PhaseReady
	default:
		return PhaseCollecting
	}
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func mergeFloat(dst **float64, src *float64) {
	if src != nil {
		*dst = floatPtr(*src)
	}
}

// Float returns a pointer to v, for building partial states.
func Float(v float64) *float64 { return floatPtr(v) }

// Int returns a pointer to v, for building partial states.
func Int(v int) *int { return intPtr(v) }

// FormatValue renders a numeric for display without trailing zeros.
func FormatValue(v float64) string {
	return fmt.Sprintf("%g", v)
}
