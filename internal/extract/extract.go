// Package extract pulls structured clinical values out of free text.
// Extraction is best effort: unmatched fields stay missing, implausible
// values are discarded with a note, and nothing here ever returns an error.
package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/carelens/edrisk/internal/clinical"
)

// Note records a non-fatal extraction observation, such as a discarded
// out-of-range value, so the caller can surface it in the reply.
type Note struct {
	Field  string
	Reason string
}

func (n Note) String() string { return fmt.Sprintf("%s: %s", n.Field, n.Reason) }

var (
	reAgeYears = regexp.MustCompile(`(?i)\b(\d{1,3})\s*-?\s*(?:yr|year|yo|y/?o)s?\b`)
	reAgeLabel = regexp.MustCompile(`(?i)\bage\s*(?:[:=]|is|to)?\s*(\d{1,3})\b`)

	reFemale   = regexp.MustCompile(`(?i)\b(female|woman|girl)\b`)
	reMale     = regexp.MustCompile(`(?i)\b(male|man|boy)\b`)
	reSexLabel = regexp.MustCompile(`\b(?:sex|gender)\s*[:=]?\s*([MFmf])\b`)

	reTemp  = regexp.MustCompile(`(?i)\btemp(?:erature|f)?\s*(?:[:=]|is|of)?\s*([\d.]+)`)
	rePulse = regexp.MustCompile(`(?i)\b(?:pulse|hr|heart\s*rate)\s*(?:[:=]|is|of)?\s*(\d+)`)
	reResp  = regexp.MustCompile(`(?i)\b(?:resp|rr|respiratory\s*rate)\s*(?:[:=]|is|of)?\s*(\d+)`)
	reBP    = regexp.MustCompile(`(?i)\b(?:bp|blood\s*pressure)\s*[:=]?\s*(\d+)\s*/\s*(\d+)`)
	reSpO2  = regexp.MustCompile(`(?i)\b(?:spo2|o2\s*sat|oxygen|sat)\s*[:=]?\s*(\d+)`)
	rePain  = regexp.MustCompile(`(?i)\bpain\s*(?:scale|score)?\s*(?:[:=]|is|of)?\s*(\d+)\s*(?:/\s*10)?`)

	reTriage = regexp.MustCompile(`(?i)\b(?:triage|esi|acuity)\s*(?:level)?\s*[:=]?\s*([1-5])\b`)

	reChronicCount = regexp.MustCompile(`(?i)\b(\d+)\s*(?:chronic)?\s*(?:condition|comorbidit|disease)`)
	rePriorVisits  = regexp.MustCompile(`(?i)\b(\d+)\s*(?:prior|previous)\s*(?:ed)?\s*visit`)
	reDaysSince    = regexp.MustCompile(`(?i)\b(?:last visit|last ed|days since)\s*[:=]?\s*(\d+)\s*(?:day)?`)

	reArrClock = regexp.MustCompile(`(?i)\b(?:arriv\w*|arrival)\s*(?:time|at)?\s*[:=]?\s*(\d{1,2}):(\d{2})\s*(am|pm)?`)
	reArrRaw   = regexp.MustCompile(`(?i)\b(?:arriv\w*|arrival)\s*(?:time)?\s*[:=]?\s*(\d{3,4})\b`)

	reVisitLen  = regexp.MustCompile(`(?i)\b(?:lov|length of visit|been here|here for)\s*[:=]?\s*([\d.]+)\s*(hr|hour|h|min|minute|m)\w*`)
	reComplaint = regexp.MustCompile(`(?i)\b(?:complaining of|presents? with|chief complaint\s*[:=]?)\s+([a-z][a-z\s,-]{2,60}?)(?:[.;]|$|\band\b|\bwith\b|,\s*\d)`)
)

// conditionPattern maps a synonym regexp to a canonical code. Order is
// significant: typed diabetes must be tried before the generic pattern.
type conditionPattern struct {
	re   *regexp.Regexp
	code string
}

var conditionPatterns = []conditionPattern{
	{regexp.MustCompile(`(?i)copd|chronic\s*obstructive`), clinical.CondCOPD},
	{regexp.MustCompile(`(?i)\bchf\b|congestive\s*heart\s*failure|heart\s*failure`), clinical.CondCHF},
	{regexp.MustCompile(`(?i)\bcad\b|coronary\s*artery`), clinical.CondCAD},
	{regexp.MustCompile(`(?i)asthma`), clinical.CondAsthma},
	{regexp.MustCompile(`(?i)\bckd\b|chronic\s*kidney|kidney\s*disease`), clinical.CondCKD},
	{regexp.MustCompile(`(?i)\besrd\b|end[\s-]*stage\s*renal`), clinical.CondESRD},
	{regexp.MustCompile(`(?i)hypertension|\bhtn\b|high\s*blood\s*pressure`), clinical.CondHTN},
	{regexp.MustCompile(`(?i)diabet(?:es|ic)\s*(?:type\s*)?(?:1|i)\b`), clinical.CondDiabetesT1},
	{regexp.MustCompile(`(?i)diabet(?:es|ic)\s*(?:type\s*)?(?:2|ii)\b`), clinical.CondDiabetesT2},
	{regexp.MustCompile(`(?i)diabet(?:es|ic)`), clinical.CondDiabetes},
	{regexp.MustCompile(`(?i)cancer|malignan|lymphoma|leukemia|tumor|oncol`), clinical.CondCancer},
	{regexp.MustCompile(`(?i)depression|depressed|major\s*depress`), clinical.CondDepression},
	{regexp.MustCompile(`(?i)cerebrovascular|stroke|\bcva\b`), clinical.CondCVD},
	{regexp.MustCompile(`(?i)alzheimer|dementia`), clinical.CondDementia},
	{regexp.MustCompile(`(?i)hyperlipid|high\s*cholesterol`), clinical.CondHyperlipid},
	{regexp.MustCompile(`(?i)obesity|obese|\bbmi\s*>\s*3[0-9]`), clinical.CondObesity},
	{regexp.MustCompile(`(?i)sleep\s*apnea|\bosa\b`), clinical.CondSleepApnea},
	{regexp.MustCompile(`(?i)osteoporosis`), clinical.CondOsteoprsis},
	{regexp.MustCompile(`(?i)\bhiv\b|human\s*immunodeficiency`), clinical.CondHIV},
	{regexp.MustCompile(`(?i)alcohol(?:ism|ic|\s*abuse|\s*use\s*disorder)`), clinical.CondAlcoholUse},
	{regexp.MustCompile(`(?i)substance\s*abuse|drug\s*abuse|\bsud\b|overdose|intoxicat`), clinical.CondSubstanceAb},
	{regexp.MustCompile(`(?i)\b(injury|injured|trauma|fall|accident|laceration|fracture)\b`), clinical.CondInjury},
}

// Extract parses text into a partial clinical state. When a field is
// mentioned more than once the last mention in reading order wins.
func Extract(text string) (clinical.State, []Note) {
	var st clinical.State
	var notes []Note

	if m := lastMatch(reAgeYears, text); m == nil {
		if m := lastMatch(reAgeLabel, text); m != nil {
			setAge(&st, &notes, m[1])
		}
	} else {
		setAge(&st, &notes, m[1])
	}

	extractSex(&st, text)

	setVital(&st.Vitals.Temperature, &notes, text, reTemp, "temperature", clinical.TemperatureRange)
	setVital(&st.Vitals.Pulse, &notes, text, rePulse, "pulse", clinical.PulseRange)
	setVital(&st.Vitals.RespiratoryRate, &notes, text, reResp, "respiratory_rate", clinical.RespRange)
	if m := lastMatch(reBP, text); m != nil {
		sys, errS := strconv.ParseFloat(m[1], 64)
		dia, errD := strconv.ParseFloat(m[2], 64)
		if errS == nil && errD == nil && clinical.SystolicRange.Contains(sys) && clinical.DiastolicRange.Contains(dia) {
			st.Vitals.SystolicBP = clinical.Float(sys)
			st.Vitals.DiastolicBP = clinical.Float(dia)
		} else {
			notes = append(notes, Note{"blood_pressure", fmt.Sprintf("discarded implausible reading %s/%s", m[1], m[2])})
		}
	}
	setVital(&st.Vitals.OxygenSaturation, &notes, text, reSpO2, "oxygen_saturation", clinical.SpO2Range)
	setVital(&st.Vitals.PainScale, &notes, text, rePain, "pain_scale", clinical.PainRange)

	for _, cp := range conditionPatterns {
		if cp.re.MatchString(text) {
			if st.Conditions == nil {
				st.Conditions = make(map[string]bool)
			}
			st.Conditions[cp.code] = true
		}
	}
	if st.Conditions[clinical.CondDiabetesT1] || st.Conditions[clinical.CondDiabetesT2] {
		delete(st.Conditions, clinical.CondDiabetes)
	}

	if m := lastMatch(reTriage, text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			st.TriageLevel = clinical.Int(v)
		}
	}

	if m := lastMatch(reChronicCount, text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 0 && v <= 30 {
			st.ChronicCount = clinical.Int(v)
		}
	}
	if m := lastMatch(rePriorVisits, text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 0 && v <= 100 {
			st.PriorEDVisits30d = clinical.Int(v)
		}
	}
	if m := lastMatch(reDaysSince, text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v >= 0 {
			st.DaysSinceLastVisit = clinical.Float(v)
		}
	}

	extractArrival(&st, text)
	extractVisitLength(&st, text)

	if m := lastMatch(reComplaint, text); m != nil {
		st.ChiefComplaint = strings.TrimSpace(m[1])
	}

	return st, notes
}

func setAge(st *clinical.State, notes *[]Note, raw string) {
	v, err := strconv.Atoi(raw)
	if err != nil {
		return
	}
	if !clinical.AgeRange.Contains(float64(v)) {
		*notes = append(*notes, Note{"age", fmt.Sprintf("discarded implausible value %d", v)})
		return
	}
	st.Age = clinical.Int(v)
}

func extractSex(st *clinical.State, text string) {
	// The last explicit mention wins across all three patterns.
	best := -1
	if loc := lastIndex(reFemale, text); loc > best {
		best = loc
		st.Sex = clinical.SexFemale
	}
	if loc := lastIndex(reMale, text); loc > best {
		best = loc
		st.Sex = clinical.SexMale
	}
	if m := reSexLabel.FindAllStringSubmatchIndex(text, -1); m != nil {
		last := m[len(m)-1]
		if last[0] > best {
			if strings.EqualFold(text[last[2]:last[3]], "m") {
				st.Sex = clinical.SexMale
			} else {
				st.Sex = clinical.SexFemale
			}
		}
	}
}

func extractArrival(st *clinical.State, text string) {
	if m := lastMatch(reArrClock, text); m != nil {
		h, _ := strconv.Atoi(m[1])
		mi, _ := strconv.Atoi(m[2])
		if h > 23 || mi > 59 {
			return
		}
		switch strings.ToLower(m[3]) {
		case "pm":
			if h < 12 {
				h += 12
			}
		case "am":
			if h == 12 {
				h = 0
			}
		}
		st.ArrivalTime = clinical.Int(h*100 + mi)
		return
	}
	if m := lastMatch(reArrRaw, text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil && v >= 0 && v <= 2359 && v%100 < 60 {
			st.ArrivalTime = clinical.Int(v)
		}
	}
}

func extractVisitLength(st *clinical.State, text string) {
	m := lastMatch(reVisitLen, text)
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 {
		return
	}
	if strings.HasPrefix(strings.ToLower(m[2]), "h") {
		v *= 60
	}
	st.VisitMinutes = clinical.Float(v)
}

func setVital(dst **float64, notes *[]Note, text string, re *regexp.Regexp, field string, rng clinical.Range) {
	m := lastMatch(re, text)
	if m == nil {
		return
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return
	}
	if !rng.Contains(v) {
		*notes = append(*notes, Note{field, fmt.Sprintf("discarded implausible value %s", m[1])})
		return
	}
	*dst = clinical.Float(v)
}

// lastMatch returns the submatches of the final occurrence of re in text.
func lastMatch(re *regexp.Regexp, text string) []string {
	all := re.FindAllStringSubmatch(text, -1)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func lastIndex(re *regexp.Regexp, text string) int {
	all := re.FindAllStringIndex(text, -1)
	if len(all) == 0 {
		return -1
	}
	return all[len(all)-1][0]
}
