package engine

import (
	"context"
	"errors"
	"log"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/carelens/edrisk/internal/clinical"
	"github.com/carelens/edrisk/internal/intent"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
	"github.com/carelens/edrisk/internal/session"
	"github.com/carelens/edrisk/internal/stats"
	"github.com/carelens/edrisk/internal/store"
)

func kbChunks() []retrieval.Chunk {
	return []retrieval.Chunk{
		{DocID: "revisits.md#0000", Source: "revisits.md", Text: "COPD and heart failure patients show elevated 72-hour ED revisit rates."},
		{DocID: "discharge.md#0000", Source: "discharge.md", Text: "Discharge planning with early follow-up reduces high risk ED revisits for elderly patients."},
	}
}

func newTestEngine(t *testing.T) (*Engine, *session.InMemoryStore) {
	t.Helper()
	sessions := session.NewInMemoryStore()
	rules, _ := score.BuildRules(nil)
	scorer, err := score.NewScorer(score.HeuristicFallback{}, rules, score.DefaultCutpoints)
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	index, err := retrieval.NewLexical(kbChunks())
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	st, _ := stats.Load("")
	logger := log.New(os.Stderr, "[TEST] ", 0)
	eng, err := New(sessions, scorer, score.DefaultTriagePolicy(), index, st, nil, nil, logger, Options{TopK: 3})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng, sessions
}

func turn(t *testing.T, eng *Engine, sessionID, msg string) TurnResult {
	t.Helper()
	res, err := eng.Turn(context.Background(), TurnRequest{SessionID: sessionID, Message: msg})
	if err != nil {
		t.Fatalf("turn %q: %v", msg, err)
	}
	return res
}

func TestMultiTurnCollectThenAssess(t *testing.T) {
	eng, _ := newTestEngine(t)

	r1 := turn(t, eng, "", "patient has COPD")
	if r1.Intent != intent.Update {
		t.Fatalf("first turn intent: %s", r1.Intent)
	}
	if r1.Phase != "collecting" {
		t.Fatalf("phase after first fact: %s", r1.Phase)
	}

	id := r1.SessionID
	r2 := turn(t, eng, id, "he is 72 years old, pulse 110")
	if r2.Intent != intent.Assess {
		t.Fatalf("two new fields should assess: %s", r2.Intent)
	}
	if r2.Phase != "assessed" {
		t.Fatalf("phase after assess: %s", r2.Phase)
	}
	if r2.Assessment == nil {
		t.Fatalf("assessment missing")
	}
	if !r2.State.Conditions[clinical.CondCOPD] {
		t.Fatalf("first-turn condition lost: %+v", r2.State)
	}
	if r2.State.Age == nil || *r2.State.Age != 72 {
		t.Fatalf("age not merged: %+v", r2.State)
	}
}

func TestSingleShotAssessment(t *testing.T) {
	eng, _ := newTestEngine(t)

	res := turn(t, eng, "", "72 year old male with COPD and CHF, temp 101.2, BP 135/85, pulse 110, pain 8/10")
	if res.Intent != intent.Assess {
		t.Fatalf("intent: %s", res.Intent)
	}
	a := res.Assessment
	if a == nil {
		t.Fatalf("assessment missing")
	}
	if a.AdjustedProbability <= a.BaseProbability {
		t.Fatalf("risk factors should raise the probability: %+v", a)
	}
	names := map[string]bool{}
	for _, f := range a.Factors {
		names[f.Name] = true
	}
	for _, want := range []string{"condition:CHF", "condition:COPD", "age>=65", "pulse>100", "temp>101", "pain>=8"} {
		if !names[want] {
			t.Fatalf("expected factor %s, got %v", want, a.Factors)
		}
	}
	// No triage was stated; CHF should infer one.
	if res.State.TriageLevel == nil || !res.State.TriageInferred {
		t.Fatalf("triage should be inferred: %+v", res.State)
	}
	if !strings.Contains(res.Reply, "### Patient Summary") || !strings.Contains(res.Reply, "### Revisit Risk") {
		t.Fatalf("reply missing sections:\n%s", res.Reply)
	}
}

func TestAskDoesNotTouchState(t *testing.T) {
	eng, _ := newTestEngine(t)

	r1 := turn(t, eng, "", "72 year old male with COPD, pulse 110")
	id := r1.SessionID

	r2 := turn(t, eng, id, "What are the risk factors for ED revisits?")
	if r2.Intent != intent.Ask {
		t.Fatalf("intent: %s", r2.Intent)
	}
	if !strings.Contains(r2.Reply, "Knowledge Base Results") ||
		strings.Contains(r2.Reply, "No results found") {
		t.Fatalf("ask should return matching passages:\n%s", r2.Reply)
	}
	if strings.Contains(r2.Reply, "Patient Summary") {
		t.Fatalf("ask reply must not include the patient summary:\n%s", r2.Reply)
	}
	if !r2.State.Conditions[clinical.CondCOPD] || r2.State.Age == nil {
		t.Fatalf("ask turn must not clobber clinical state: %+v", r2.State)
	}
}

func TestResetClearsSessionButKeepsID(t *testing.T) {
	eng, _ := newTestEngine(t)

	r1 := turn(t, eng, "", "72 year old male with COPD, pulse 110")
	id := r1.SessionID

	r2 := turn(t, eng, id, "new patient")
	if r2.Intent != intent.Reset {
		t.Fatalf("intent: %s", r2.Intent)
	}
	if r2.SessionID != id {
		t.Fatalf("reset must keep the session id")
	}
	if r2.State.HasContent() || r2.Phase != "idle" {
		t.Fatalf("reset must clear state: %+v phase %s", r2.State, r2.Phase)
	}
}

func TestBlockedAssessListsMissingFields(t *testing.T) {
	eng, _ := newTestEngine(t)

	res := turn(t, eng, "", "assess the patient")
	if res.Intent != intent.Assess {
		t.Fatalf("intent: %s", res.Intent)
	}
	if res.Assessment != nil {
		t.Fatalf("blocked assess must not score")
	}
	if !strings.Contains(res.Reply, "couldn't extract any clinical values") {
		t.Fatalf("empty session should explain itself:\n%s", res.Reply)
	}

	// With one fact recorded, a blocked assess names what is missing.
	id := res.SessionID
	turn(t, eng, id, "age 70")
	res = turn(t, eng, id, "assess")
	if res.Assessment != nil {
		t.Fatalf("not-ready assess must not score")
	}
	if !strings.Contains(res.Reply, "More information needed") {
		t.Fatalf("blocked assess reply:\n%s", res.Reply)
	}
	if res.Phase == "assessed" {
		t.Fatalf("blocked assess must not enter assessed phase")
	}
}

func TestCancellationLeavesStateUntouched(t *testing.T) {
	eng, _ := newTestEngine(t)

	r1 := turn(t, eng, "", "age 70")
	id := r1.SessionID

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := eng.Turn(ctx, TurnRequest{SessionID: id, Message: "pulse 120"}); err == nil {
		t.Fatalf("cancelled turn must fail")
	}

	s, err := eng.Session(id)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Clinical.Vitals.Pulse != nil {
		t.Fatalf("cancelled turn leaked state: %+v", s.Clinical)
	}
	if s.TurnCount != 1 {
		t.Fatalf("cancelled turn changed the turn count: %d", s.TurnCount)
	}
}

func TestDocumentStateMergesWithValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	badAge := 300
	res, err := eng.Turn(context.Background(), TurnRequest{
		Message: "update from the triage document",
		State: &clinical.State{
			Age:    &badAge,
			Sex:    clinical.SexFemale,
			Vitals: clinical.Vitals{Temperature: clinical.Float(101.0)},
			Conditions: map[string]bool{
				clinical.CondCHF: true,
				"NOT_A_CODE":     true,
			},
		},
	})
	if err != nil {
		t.Fatalf("turn: %v", err)
	}
	if res.State.Age != nil {
		t.Fatalf("implausible age must be rejected: %+v", res.State)
	}
	if res.State.Sex != clinical.SexFemale || res.State.Vitals.Temperature == nil {
		t.Fatalf("valid fields must survive: %+v", res.State)
	}
	if !res.State.Conditions[clinical.CondCHF] || res.State.Conditions["NOT_A_CODE"] {
		t.Fatalf("condition vocabulary not enforced: %+v", res.State.Conditions)
	}
	found := false
	for _, w := range res.Warnings {
		if strings.Contains(w, "age") {
			found = true
		}
	}
	if !found {
		t.Fatalf("rejected field should be surfaced: %v", res.Warnings)
	}
}

func TestUpdateAfterAssessmentKeepsAssessedPhase(t *testing.T) {
	eng, _ := newTestEngine(t)

	r1 := turn(t, eng, "", "72 year old male with COPD, pulse 110")
	if r1.Phase != "assessed" {
		t.Fatalf("setup: %s", r1.Phase)
	}
	r2 := turn(t, eng, r1.SessionID, "actually the pain is 5")
	if r2.Intent != intent.Update {
		t.Fatalf("intent: %s", r2.Intent)
	}
	if r2.Phase != "assessed" {
		t.Fatalf("update must not leave assessed phase: %s", r2.Phase)
	}
	if r2.State.Vitals.PainScale == nil || *r2.State.Vitals.PainScale != 5 {
		t.Fatalf("update not applied: %+v", r2.State.Vitals)
	}
	if r2.Assessment != nil {
		t.Fatalf("update must not re-score")
	}
}

func TestConcurrentTurnsSerializePerSession(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := turn(t, eng, "", "hello").SessionID

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = eng.Turn(context.Background(), TurnRequest{SessionID: id, Message: "pulse 95"})
		}()
	}
	wg.Wait()

	s, err := eng.Session(id)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.TurnCount != n+1 {
		t.Fatalf("lost updates: turn count %d, want %d", s.TurnCount, n+1)
	}
}

func TestSessionLookupDoesNotCreate(t *testing.T) {
	eng, sessions := newTestEngine(t)
	if _, err := eng.Session("no-such-id"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("unknown id should be not-found, got %v", err)
	}
	if sessions.Len() != 0 {
		t.Fatalf("debug lookup must not create sessions: %d live", sessions.Len())
	}
}

func TestSessionLocksAreReleased(t *testing.T) {
	eng, _ := newTestEngine(t)
	id := turn(t, eng, "", "age 70").SessionID
	turn(t, eng, id, "pulse 95")
	if _, err := eng.Session(id); err != nil {
		t.Fatalf("session: %v", err)
	}
	if n := eng.locks.size(); n != 0 {
		t.Fatalf("lock table should drain after turns complete, got %d entries", n)
	}
}

type downIndex struct{}

func (downIndex) Query(context.Context, string, int) ([]retrieval.Passage, error) {
	return nil, errors.New("index offline")
}

func (downIndex) Name() string { return "lexical" }

func TestRetrievalFailureDegradesReply(t *testing.T) {
	sessions := session.NewInMemoryStore()
	rules, _ := score.BuildRules(nil)
	scorer, err := score.NewScorer(score.HeuristicFallback{}, rules, score.DefaultCutpoints)
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	st, _ := stats.Load("")
	eng, err := New(sessions, scorer, score.DefaultTriagePolicy(), downIndex{}, st, nil, nil,
		log.New(os.Stderr, "[TEST] ", 0), Options{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	res := turn(t, eng, "", "What are the risk factors for ED revisits?")
	if res.Intent != intent.Ask {
		t.Fatalf("intent: %s", res.Intent)
	}
	if !strings.Contains(res.Reply, "No results found") {
		t.Fatalf("broken index should read as empty results, not fail:\n%s", res.Reply)
	}

	res = turn(t, eng, "", "72 year old male with COPD, pulse 110")
	if res.Assessment == nil {
		t.Fatalf("assessment must survive a broken index")
	}
	if !strings.Contains(res.Reply, "### Revisit Risk") {
		t.Fatalf("assessment reply:\n%s", res.Reply)
	}
}

type captureAuditor struct {
	mu   sync.Mutex
	recs []store.TurnRecord
}

func (c *captureAuditor) RecordTurn(_ context.Context, rec store.TurnRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func TestAuditRecordsAssessments(t *testing.T) {
	sessions := session.NewInMemoryStore()
	rules, _ := score.BuildRules(nil)
	scorer, _ := score.NewScorer(score.HeuristicFallback{}, rules, score.DefaultCutpoints)
	index, _ := retrieval.NewLexical(nil)
	st, _ := stats.Load("")
	aud := &captureAuditor{}
	eng, err := New(sessions, scorer, score.DefaultTriagePolicy(), index, st, nil, aud,
		log.New(os.Stderr, "[TEST] ", 0), Options{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	res := turn(t, eng, "", "72 year old male with COPD, pulse 110")
	if len(aud.recs) != 1 {
		t.Fatalf("expected 1 audit record, got %d", len(aud.recs))
	}
	rec := aud.recs[0]
	if rec.SessionID != res.SessionID || rec.Intent != string(intent.Assess) {
		t.Fatalf("audit record: %+v", rec)
	}
	if rec.RiskLevel == "" || rec.AdjustedProbability == nil {
		t.Fatalf("assessment fields missing from audit: %+v", rec)
	}
}
