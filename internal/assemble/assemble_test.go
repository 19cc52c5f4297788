package assemble

import (
	"strings"
	"testing"

	"github.com/carelens/edrisk/internal/clinical"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
)

func sampleState() *clinical.State {
	return &clinical.State{
		Age: clinical.Int(72),
		Sex: clinical.SexMale,
		Vitals: clinical.Vitals{
			Temperature: clinical.Float(101.2),
			Pulse:       clinical.Float(110),
			SystolicBP:  clinical.Float(135),
			DiastolicBP: clinical.Float(85),
			PainScale:   clinical.Float(8),
		},
		Conditions:     map[string]bool{clinical.CondCOPD: true, clinical.CondCHF: true},
		TriageLevel:    clinical.Int(2),
		TriageInferred: true,
	}
}

func sampleAssessment() *score.Assessment {
	return &score.Assessment{
		BaseProbability:     0.22,
		AdjustedProbability: 0.47,
		Level:               score.LevelHigh,
		Factors: []score.Factor{
			{Name: "condition:CHF", Delta: 1.8},
			{Name: "age>=65", Delta: 0.7},
		},
		Estimator: "trained:test-1",
	}
}

func TestAssessmentSectionsInOrder(t *testing.T) {
	out := Assessment(Input{
		State:      sampleState(),
		Assessment: sampleAssessment(),
		Recommendation: []retrieval.Passage{
			{DocID: "kb#0001", Text: "Arrange early follow-up for heart failure patients.", Score: 0.8},
		},
	})

	sections := []string{
		"### Patient Summary",
		"### Revisit Risk",
		"### Recommendations",
	}
	last := -1
	for _, s := range sections {
		idx := strings.Index(out, s)
		if idx < 0 {
			t.Fatalf("missing section %q in:\n%s", s, out)
		}
		if idx < last {
			t.Fatalf("section %q out of order", s)
		}
		last = idx
	}

	if !strings.Contains(out, "47.0%") {
		t.Fatalf("adjusted probability missing:\n%s", out)
	}
	if !strings.Contains(out, "Heart Failure (CHF)") {
		t.Fatalf("condition display name missing:\n%s", out)
	}
	if !strings.Contains(out, "(inferred)") {
		t.Fatalf("inferred triage marker missing:\n%s", out)
	}
	if strings.Contains(out, "Degraded mode") {
		t.Fatalf("non-degraded assessment must not warn:\n%s", out)
	}
}

func TestAssessmentDegradedNote(t *testing.T) {
	a := sampleAssessment()
	a.Degraded = true
	out := Assessment(Input{State: sampleState(), Assessment: a})
	if !strings.Contains(out, "Degraded mode") {
		t.Fatalf("degraded note missing:\n%s", out)
	}
}

func TestRiskBar(t *testing.T) {
	bar := riskBar(0.5)
	if strings.Count(bar, "█") != 10 || strings.Count(bar, "░") != 10 {
		t.Fatalf("half-probability bar wrong: %s", bar)
	}
	if got := riskBar(1.2); strings.Count(got, "█") != 20 {
		t.Fatalf("overfull bar must clamp: %s", got)
	}
	if got := riskBar(0); strings.Count(got, "█") != 0 {
		t.Fatalf("zero bar must be empty: %s", got)
	}
}

func TestMissingFieldsReply(t *testing.T) {
	st := &clinical.State{Age: clinical.Int(70)}
	out := MissingFields(Input{
		State:         st,
		MissingFields: st.MissingForAssessment(),
	})
	if !strings.Contains(out, "More information needed") {
		t.Fatalf("missing header:\n%s", out)
	}
	if !strings.Contains(out, "vital sign") {
		t.Fatalf("missing field list should name vitals:\n%s", out)
	}
}

func TestUpdateAckPromptsAssess(t *testing.T) {
	ready := sampleState()
	out := UpdateAck(Input{State: ready})
	if !strings.Contains(out, "**assess**") {
		t.Fatalf("ready state should prompt for assess:\n%s", out)
	}

	partial := &clinical.State{Age: clinical.Int(30)}
	out = UpdateAck(Input{State: partial})
	if !strings.Contains(out, "Keep going") {
		t.Fatalf("partial state should ask for more:\n%s", out)
	}
}

func TestKnowledgeBaseEmptyResults(t *testing.T) {
	out := KnowledgeBase(nil)
	if !strings.Contains(out, "No results found") {
		t.Fatalf("empty results reply:\n%s", out)
	}
}

func TestWarningsAppended(t *testing.T) {
	out := UpdateAck(Input{
		State:    sampleState(),
		Warnings: []string{"temperature: discarded implausible value 150"},
	})
	if !strings.Contains(out, "discarded implausible value 150") {
		t.Fatalf("warning missing:\n%s", out)
	}
}

func TestCleanExcerpt(t *testing.T) {
	// Leading top-level heading is stripped.
	if got := cleanExcerpt("# Title\nBody text here.", 1200); got != "Body text here." {
		t.Fatalf("heading not stripped: %q", got)
	}

	// Long text is cut at a line boundary with an ellipsis.
	long := "# Doc\n" + strings.Repeat("A reasonably long line of text.\n", 100)
	got := cleanExcerpt(long, 300)
	if len([]rune(got)) > 310 {
		t.Fatalf("excerpt too long: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("truncated excerpt should end with ellipsis: %q", got)
	}

	// An orphaned bold marker on the tail line is dropped.
	got = cleanExcerpt(strings.Repeat("x", 250)+"\n**bold start", 260)
	if strings.Contains(got, "**") {
		t.Fatalf("orphaned markdown tail kept: %q", got)
	}
}
