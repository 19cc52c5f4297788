// Package assemble composes the structured markdown reply for a turn.
// Section order is fixed: Patient Summary, Risk Score, Recommendations,
// Knowledge Base Results, Relevant Statistics; sections appear only when
// their inputs exist.
package assemble

import (
	"fmt"
	"strings"

	"github.com/carelens/edrisk/internal/clinical"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
	"github.com/carelens/edrisk/internal/stats"
)

// Input is everything one turn produced for the reply.
type Input struct {
	State          *clinical.State
	Assessment     *score.Assessment
	Recommendation []retrieval.Passage
	Stats          *stats.Store
	Warnings       []string
	MissingFields  []string
}

const excerptMaxChars = 1200

// Greeting is the canned welcome reply.
func Greeting() string {
	return "### Welcome\n" +
		"I'm the **ED Risk Assessment** assistant.\n\n" +
		"Describe a patient and I'll predict their **revisit and admission risk** " +
		"and provide evidence-based recommendations.\n\n" +
		"**Example:** *72 year old male with COPD and CHF, " +
		"temp 101.2, BP 135/85, pulse 110, pain 8/10*\n\n" +
		"You can also ask clinical questions — " +
		"e.g. *\"What are the risk factors for ED revisits?\"*\n\n" +
		"Type **help** for more options."
}

// Help is the canned command overview.
func Help() string {
	return "### What I can do\n\n" +
		"**Assess a patient** — describe them in plain language:\n" +
		"- *55 year old female with CHF, BP 90/60, pulse 120, pain 9/10*\n" +
		"- *patient age 30, male, COPD, triage 3*\n\n" +
		"**Update values** — refine after an assessment:\n" +
		"- *actually the pain is 5*\n" +
		"- *change age to 60*\n\n" +
		"**Ask a question** — search the knowledge base:\n" +
		"- *What are discharge planning best practices?*\n" +
		"- *Tell me about COPD and ED revisits*\n\n" +
		"**Other commands**\n" +
		"- *new patient* or *reset* — clear current patient data\n" +
		"- *help* — show this message"
}

// ResetAck confirms a cleared session.
func ResetAck() string {
	return "Patient data cleared. Describe a new patient to begin."
}

// Clarify is the reply for an unrecognized message.
func Clarify() string {
	return "I'm not sure what you're asking. Describe a patient " +
		"(e.g. *65 year old male with COPD, temp 101, BP 140/90*), " +
		"ask a clinical question, or type **help**."
}

// NothingExtracted is the reply when an assess/update message carried no
// recognizable clinical content and the session is empty.
func NothingExtracted() string {
	return "I couldn't extract any clinical values from that. " +
		"Try something like: *65 year old male with COPD, temp 101, " +
		"BP 140/90, pulse 105, pain 7/10*"
}

// MissingFields renders the explicit prompt when assess is requested
// before the minimum required fields are present.
func MissingFields(in Input) string {
	var b strings.Builder
	b.WriteString("### More information needed\n\n")
	b.WriteString("I can't run an assessment yet. Still required:\n")
	for _, f := range in.MissingFields {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	if summary := patientSummary(in.State); summary != "" {
		b.WriteString("\n")
		b.WriteString(summary)
	}
	appendWarnings(&b, in.Warnings)
	return strings.TrimRight(b.String(), "\n")
}

// UpdateAck confirms recorded values without an assessment.
func UpdateAck(in Input) string {
	var b strings.Builder
	b.WriteString(patientSummary(in.State))
	b.WriteString("\n\n")
	if in.State.ReadyForAssessment() {
		b.WriteString("Say **assess** when you want the risk assessment.")
	} else {
		b.WriteString("Keep going — add vitals, conditions, age or sex, then say **assess**.")
	}
	appendWarnings(&b, in.Warnings)
	return strings.TrimRight(b.String(), "\n")
}

// Assessment renders the full post-assessment reply.
func Assessment(in Input) string {
	parts := []string{
		patientSummary(in.State),
		riskSection(in.Assessment),
	}
	if s := statsSection(in.State, in.Stats); s != "" {
		parts = append(parts, s)
	}
	if s := recommendationSection(in.Recommendation); s != "" {
		parts = append(parts, s)
	}
	var b strings.Builder
	b.WriteString(strings.Join(parts, "\n\n"))
	appendWarnings(&b, in.Warnings)
	b.WriteString("\n\n---\n")
	b.WriteString("*Update values (e.g. \"change pain to 3\"), " +
		"ask a clinical question, or type **new patient** to start over.*")
	return b.String()
}

// KnowledgeBase renders the reply for an ask turn.
func KnowledgeBase(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return "### Knowledge Base Results\n\n" +
			"No results found for that question. Try rephrasing, or ask about " +
			"topics like ED revisits, discharge planning, chronic conditions, " +
			"or triage acuity."
	}
	parts := []string{"### Knowledge Base Results\n"}
	for _, p := range passages {
		parts = append(parts, cleanExcerpt(p.Text, excerptMaxChars), "")
	}
	return strings.TrimRight(strings.Join(parts, "\n"), "\n")
}

func patientSummary(s *clinical.State) string {
	if s == nil || !s.HasContent() {
		return "No patient data recorded yet."
	}
	var lines []string
	lines = append(lines, "### Patient Summary\n")

	add := func(label, value string) {
		lines = append(lines, fmt.Sprintf("- **%s:** %s", label, value))
	}
	if s.Age != nil {
		add("Age", fmt.Sprintf("%d", *s.Age))
	}
	if s.Sex != clinical.SexUnknown {
		add("Sex", strings.Title(s.Sex.String()))
	}
	v := s.Vitals
	if v.Temperature != nil {
		add("Temp (°F)", clinical.FormatValue(*v.Temperature))
	}
	if v.Pulse != nil {
		add("Pulse", clinical.FormatValue(*v.Pulse))
	}
	if v.RespiratoryRate != nil {
		add("Resp rate", clinical.FormatValue(*v.RespiratoryRate))
	}
	if v.SystolicBP != nil && v.DiastolicBP != nil {
		add("Blood pressure", fmt.Sprintf("%s/%s",
			clinical.FormatValue(*v.SystolicBP), clinical.FormatValue(*v.DiastolicBP)))
	} else if v.SystolicBP != nil {
		add("BP systolic", clinical.FormatValue(*v.SystolicBP))
	}
	if v.OxygenSaturation != nil {
		add("SpO₂ %", clinical.FormatValue(*v.OxygenSaturation))
	}
	if v.PainScale != nil {
		add("Pain scale", clinical.FormatValue(*v.PainScale))
	}
	if s.TriageLevel != nil {
		display := triageDisplay(*s.TriageLevel)
		if s.TriageInferred {
			display += " *(inferred)*"
		}
		add("Triage acuity (ESI)", display)
	}
	if s.PriorEDVisits30d != nil {
		add("Prior ED visits (30 d)", fmt.Sprintf("%d", *s.PriorEDVisits30d))
	}
	if s.DaysSinceLastVisit != nil {
		add("Days since last visit", clinical.FormatValue(*s.DaysSinceLastVisit))
	}
	if s.ChiefComplaint != "" {
		add("Chief complaint", s.ChiefComplaint)
	}

	conds := s.ConditionList()
	if len(conds) > 0 {
		names := make([]string, len(conds))
		for i, c := range conds {
			names[i] = clinical.ConditionName(c)
		}
		lines = append(lines, "", "**Conditions:** "+strings.Join(names, ", "))
	}
	return strings.Join(lines, "\n")
}

func triageDisplay(level int) string {
	names := map[int]string{
		1: "1 — Immediate",
		2: "2 — Emergent",
		3: "3 — Urgent",
		4: "4 — Semi-urgent",
		5: "5 — Non-urgent",
	}
	if n, ok := names[level]; ok {
		return n
	}
	return fmt.Sprintf("%d", level)
}

func riskSection(a *score.Assessment) string {
	pct := a.AdjustedProbability * 100
	label := strings.Title(string(a.Level))
	out := fmt.Sprintf("### Revisit Risk: **%.1f%%** — **%s**\n\n%s",
		pct, label, riskBar(a.AdjustedProbability))
	if a.Degraded {
		out += "\n\n*Degraded mode: the trained model was unavailable, " +
			"this estimate uses a heuristic fallback.*"
	}
	if len(a.Factors) > 0 {
		var lines []string
		lines = append(lines, "", "", "**Contributing factors:**")
		for _, f := range a.Factors {
			lines = append(lines, fmt.Sprintf("- %s (%+.1f log-odds)", factorDisplay(f.Name), f.Delta))
		}
		out += strings.Join(lines, "\n")
	}
	return out
}

func factorDisplay(name string) string {
	if code, ok := strings.CutPrefix(name, "condition:"); ok {
		return clinical.ConditionName(code)
	}
	return name
}

func riskBar(prob float64) string {
	const width = 20
	filled := int(prob*width + 0.5)
	if filled > width {
		filled = width
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("░", width-filled) + "]"
}

func recommendationSection(passages []retrieval.Passage) string {
	if len(passages) == 0 {
		return ""
	}
	parts := []string{"### Recommendations\n"}
	for _, p := range passages {
		parts = append(parts, cleanExcerpt(p.Text, excerptMaxChars), "")
	}
	return strings.TrimRight(strings.Join(parts, "\n"), "\n")
}

func statsSection(s *clinical.State, st *stats.Store) string {
	if st == nil || !st.Loaded() {
		return ""
	}
	conds := s.ConditionList()
	if len(conds) == 0 {
		return ""
	}
	var lines []string
	lines = append(lines, "### Relevant Statistics\n")
	lines = append(lines, "National ED rates for the recorded conditions:\n")
	for _, code := range conds {
		label := clinical.ConditionName(code)
		if c, ok := st.Condition(code); ok {
			lines = append(lines, fmt.Sprintf(
				"- **%s:** %.1f%% 72-hour ED revisit rate, %.1f%% admitted.",
				label, c.Pct72hRevisit, c.PctAdmitted))
		} else {
			lines = append(lines, fmt.Sprintf("- **%s:** no aggregate stats available.", label))
		}
	}
	return strings.Join(lines, "\n")
}

func appendWarnings(b *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("\n\n")
	for _, w := range warnings {
		fmt.Fprintf(b, "*Note: %s*\n", w)
	}
}

// cleanExcerpt trims a retrieved excerpt at a line boundary and strips a
// leading top-level heading and orphaned markdown tails.
func cleanExcerpt(raw string, maxChars int) string {
	text := strings.TrimSpace(raw)
	var kept []string
	for i, ln := range strings.Split(text, "\n") {
		if i == 0 && strings.HasPrefix(ln, "# ") {
			continue
		}
		kept = append(kept, ln)
	}
	text = strings.TrimSpace(strings.Join(kept, "\n"))
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}

	cut := string(runes[:maxChars])
	if idx := strings.LastIndex(cut, "\n"); idx > maxChars/2 {
		cut = cut[:idx]
	}
	lines := strings.Split(strings.TrimRight(cut, " \n"), "\n")
	for len(lines) > 0 {
		tail := strings.TrimSpace(lines[len(lines)-1])
		switch {
		case tail == "", strings.HasPrefix(tail, "#") && len(tail) < 6:
			lines = lines[:len(lines)-1]
		case strings.Count(tail, "**")%2 != 0:
			lines = lines[:len(lines)-1]
		default:
			return strings.Join(lines, "\n") + "\n..."
		}
	}
	return "..."
}
