// Package engine runs one conversational turn end to end: route the
// intent, extract and merge clinical state, score, retrieve supporting
// passages and assemble the reply. Turns on the same session id are
// serialized; each turn is a single read-modify-write that commits only
// on success.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/carelens/edrisk/internal/assemble"
	"github.com/carelens/edrisk/internal/clinical"
	"github.com/carelens/edrisk/internal/extract"
	"github.com/carelens/edrisk/internal/intent"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
	"github.com/carelens/edrisk/internal/session"
	"github.com/carelens/edrisk/internal/stats"
	"github.com/carelens/edrisk/internal/store"
	"github.com/carelens/edrisk/internal/telemetry"
)

// Auditor records completed turns for offline review. It is optional and
// best effort: audit failures never fail a turn.
type Auditor interface {
	RecordTurn(ctx context.Context, rec store.TurnRecord) error
}

// Options tunes engine behaviour beyond its collaborators.
type Options struct {
	TopK              int
	MinScoreAsk       float64
	MinScoreRecommend float64
}

// Engine is the per-process turn processor.
type Engine struct {
	sessions session.Store
	scorer   *score.Scorer
	triage   score.TriagePolicy
	index    retrieval.Index
	stats    *stats.Store
	metrics  *telemetry.Metrics
	audit    Auditor
	logger   *log.Logger
	opts     Options

	locks lockTable
}

// New wires an engine from its collaborators. metrics and audit may be
// nil; stats may be an empty store.
func New(sessions session.Store, scorer *score.Scorer, triage score.TriagePolicy,
	index retrieval.Index, st *stats.Store, metrics *telemetry.Metrics,
	audit Auditor, logger *log.Logger, opts Options) (*Engine, error) {
	if sessions == nil || scorer == nil || index == nil {
		return nil, fmt.Errorf("engine requires a session store, a scorer and a retrieval index")
	}
	if st == nil {
		st = &stats.Store{}
	}
	if logger == nil {
		logger = log.Default()
	}
	if opts.TopK <= 0 {
		opts.TopK = 3
	}
	return &Engine{
		sessions: sessions,
		scorer:   scorer,
		triage:   triage,
		index:    index,
		stats:    st,
		metrics:  metrics,
		audit:    audit,
		logger:   logger,
		opts:     opts,
	}, nil
}

// TurnRequest is one incoming message, optionally accompanied by a
// pre-parsed clinical state from an external document parser.
type TurnRequest struct {
	SessionID string          `json:"session_id"`
	Message   string          `json:"message"`
	State     *clinical.State `json:"state,omitempty"`
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	SessionID  string            `json:"session_id"`
	Intent     intent.Intent     `json:"intent"`
	Reply      string            `json:"reply"`
	Phase      string            `json:"phase"`
	State      clinical.State    `json:"state"`
	Assessment *score.Assessment `json:"assessment,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
}

// Turn processes one message. Cancellation before the final commit
// leaves the stored session untouched.
func (e *Engine) Turn(ctx context.Context, req TurnRequest) (TurnResult, error) {
	start := time.Now()

	sess, err := e.sessions.GetOrCreate(req.SessionID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading session: %w", err)
	}

	lock := e.locks.acquire(sess.ID)
	defer e.locks.release(sess.ID, lock)

	// Re-read under the lock so concurrent turns on the same id never
	// lose each other's writes.
	sess, err = e.sessions.GetOrCreate(sess.ID)
	if err != nil {
		return TurnResult{}, fmt.Errorf("loading session: %w", err)
	}

	work := sess.Clone()
	it := intent.Classify(req.Message)
	// A document-parser payload is an update even when the accompanying
	// message carries no recognizable request.
	if req.State != nil && it == intent.Unknown {
		it = intent.Update
	}

	var warnings []string
	var assessment *score.Assessment
	var reply string

	switch it {
	case intent.Reset:
		work.Clinical.Reset()
		work.Phase = clinical.PhaseIdle
		reply = assemble.ResetAck()

	case intent.Greeting:
		reply = assemble.Greeting()

	case intent.Help:
		reply = assemble.Help()

	case intent.Ask:
		passages, err := e.query(ctx, req.Message, e.opts.MinScoreAsk)
		if err != nil {
			return TurnResult{}, err
		}
		reply = assemble.KnowledgeBase(passages)

	case intent.Update:
		merged := e.mergeInputs(work, req, &warnings)
		if !merged && !work.Clinical.HasContent() {
			reply = assemble.NothingExtracted()
			break
		}
		if work.Phase != clinical.PhaseAssessed {
			work.Phase = clinical.PhaseFor(&work.Clinical)
		}
		reply = assemble.UpdateAck(assemble.Input{State: &work.Clinical, Warnings: warnings})

	case intent.Assess:
		merged := e.mergeInputs(work, req, &warnings)
		if !merged && !work.Clinical.HasContent() {
			reply = assemble.NothingExtracted()
			break
		}
		if !work.Clinical.ReadyForAssessment() {
			work.Phase = clinical.PhaseFor(&work.Clinical)
			reply = assemble.MissingFields(assemble.Input{
				State:         &work.Clinical,
				Warnings:      warnings,
				MissingFields: work.Clinical.MissingForAssessment(),
			})
			break
		}
		a, recs, err := e.assess(ctx, &work.Clinical)
		if err != nil {
			return TurnResult{}, err
		}
		assessment = a
		work.Phase = clinical.PhaseAssessed
		reply = assemble.Assessment(assemble.Input{
			State:          &work.Clinical,
			Assessment:     a,
			Recommendation: recs,
			Stats:          e.stats,
			Warnings:       warnings,
		})

	default:
		reply = assemble.Clarify()
	}

	work.TurnCount++

	// All-or-nothing: a cancelled turn must not leave partial state.
	if err := ctx.Err(); err != nil {
		return TurnResult{}, err
	}
	if err := e.sessions.Save(work); err != nil {
		return TurnResult{}, fmt.Errorf("saving session: %w", err)
	}

	e.metrics.ObserveTurn(string(it), start)
	if assessment != nil && assessment.Degraded && e.metrics != nil {
		e.metrics.DegradedScores.Inc()
	}
	e.recordAudit(ctx, work.ID, it, req.Message, assessment)

	return TurnResult{
		SessionID:  work.ID,
		Intent:     it,
		Reply:      reply,
		Phase:      work.Phase.String(),
		State:      work.Clinical,
		Assessment: assessment,
		Warnings:   warnings,
	}, nil
}

// Session returns a copy of the stored session for id. The lookup is
// read-only: an unknown id is ErrNotFound, never a fresh session.
func (e *Engine) Session(id string) (*session.Session, error) {
	if strings.TrimSpace(id) == "" {
		return nil, session.ErrNotFound
	}
	lock := e.locks.acquire(id)
	defer e.locks.release(id, lock)
	return e.sessions.Get(id)
}

// lockTable hands out one mutex per live session id. Entries are
// refcounted and removed when the last holder releases, so expired
// sessions do not pin a mutex for the process lifetime.
type lockTable struct {
	mu      sync.Mutex
	entries map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (t *lockTable) acquire(id string) *lockEntry {
	t.mu.Lock()
	if t.entries == nil {
		t.entries = make(map[string]*lockEntry)
	}
	le := t.entries[id]
	if le == nil {
		le = &lockEntry{}
		t.entries[id] = le
	}
	le.refs++
	t.mu.Unlock()
	le.mu.Lock()
	return le
}

func (t *lockTable) release(id string, le *lockEntry) {
	le.mu.Unlock()
	t.mu.Lock()
	le.refs--
	if le.refs == 0 {
		delete(t.entries, id)
	}
	t.mu.Unlock()
}

func (t *lockTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// mergeInputs extracts from the message, sanitizes any document-parser
// state, and merges both into the working session. It reports whether
// anything new was recorded.
func (e *Engine) mergeInputs(work *session.Session, req TurnRequest, warnings *[]string) bool {
	extracted, notes := extract.Extract(req.Message)
	for _, n := range notes {
		*warnings = append(*warnings, n.String())
	}

	merged := false
	if extracted.HasContent() {
		work.Clinical.Merge(extracted)
		merged = true
	}
	if req.State != nil {
		clean, rejected := sanitizeState(*req.State)
		*warnings = append(*warnings, rejected...)
		if len(rejected) > 0 && e.metrics != nil {
			e.metrics.MergeRejections.Add(float64(len(rejected)))
		}
		if clean.HasContent() {
			work.Clinical.Merge(clean)
			merged = true
		}
	}
	return merged
}

// assess infers triage when absent, scores, and fetches recommendations.
func (e *Engine) assess(ctx context.Context, st *clinical.State) (*score.Assessment, []retrieval.Passage, error) {
	if st.TriageLevel == nil {
		if level, ok := e.triage.Infer(st); ok {
			st.TriageLevel = clinical.Int(level)
			st.TriageInferred = true
		}
	}
	a, err := e.scorer.Score(st)
	if err != nil {
		return nil, nil, fmt.Errorf("scoring: %w", err)
	}
	recs, err := e.query(ctx, recommendationQuery(st, &a), e.opts.MinScoreRecommend)
	if err != nil {
		return nil, nil, err
	}
	return &a, recs, nil
}

// query runs a knowledge-base lookup. A broken index degrades to an
// empty result set; only cancellation fails the turn.
func (e *Engine) query(ctx context.Context, text string, minScore float64) ([]retrieval.Passage, error) {
	passages, err := e.index.Query(ctx, text, e.opts.TopK)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Printf("knowledge-base query failed: %v", err)
		passages = nil
	}
	if e.metrics != nil {
		e.metrics.RetrievalQuery.WithLabelValues(e.index.Name()).Inc()
	}
	var out []retrieval.Passage
	for _, p := range passages {
		if p.Score >= minScore {
			out = append(out, p)
		}
	}
	return out, nil
}

// recommendationQuery builds the synthetic query for post-assessment
// recommendations from the risk level and the recorded state.
func recommendationQuery(st *clinical.State, a *score.Assessment) string {
	parts := []string{string(a.Level), "risk ED revisit prevention discharge planning"}
	for _, code := range st.ConditionList() {
		parts = append(parts, clinical.ConditionName(code))
	}
	if st.Age != nil && *st.Age >= 65 {
		parts = append(parts, "elderly patient")
	}
	if st.Vitals.PainScale != nil && *st.Vitals.PainScale >= 7 {
		parts = append(parts, "severe pain management")
	}
	return strings.Join(parts, " ")
}

func (e *Engine) recordAudit(ctx context.Context, sessionID string, it intent.Intent, message string, a *score.Assessment) {
	if e.audit == nil {
		return
	}
	rec := store.TurnRecord{
		SessionID: sessionID,
		Intent:    string(it),
		Message:   message,
	}
	if a != nil {
		rec.RiskLevel = string(a.Level)
		p := a.AdjustedProbability
		rec.AdjustedProbability = &p
		rec.Degraded = a.Degraded
		if raw, err := json.Marshal(a); err == nil {
			rec.Assessment = raw
		}
	}
	if err := e.audit.RecordTurn(ctx, rec); err != nil {
		e.logger.Printf("turn audit failed: %v", err)
	}
}

// sanitizeState validates a document-parser state field by field against
// the plausible ranges. Out-of-range values are dropped with a warning;
// in-range fields survive, so one bad field never rejects the document.
func sanitizeState(in clinical.State) (clinical.State, []string) {
	var out clinical.State
	var rejected []string

	reject := func(field string, v interface{}) {
		rejected = append(rejected, fmt.Sprintf("%s value %v out of plausible range, ignored", field, v))
	}

	if in.Age != nil {
		if clinical.AgeRange.Contains(float64(*in.Age)) {
			out.Age = clinical.Int(*in.Age)
		} else {
			reject("age", *in.Age)
		}
	}
	out.Sex = in.Sex

	vital := func(dst **float64, src *float64, field string, rng clinical.Range) {
		if src == nil {
			return
		}
		if rng.Contains(*src) {
			*dst = clinical.Float(*src)
		} else {
			reject(field, *src)
		}
	}
	vital(&out.Vitals.Temperature, in.Vitals.Temperature, "temperature", clinical.TemperatureRange)
	vital(&out.Vitals.Pulse, in.Vitals.Pulse, "pulse", clinical.PulseRange)
	vital(&out.Vitals.RespiratoryRate, in.Vitals.RespiratoryRate, "respiratory rate", clinical.RespRange)
	vital(&out.Vitals.SystolicBP, in.Vitals.SystolicBP, "systolic BP", clinical.SystolicRange)
	vital(&out.Vitals.DiastolicBP, in.Vitals.DiastolicBP, "diastolic BP", clinical.DiastolicRange)
	vital(&out.Vitals.OxygenSaturation, in.Vitals.OxygenSaturation, "oxygen saturation", clinical.SpO2Range)
	vital(&out.Vitals.PainScale, in.Vitals.PainScale, "pain scale", clinical.PainRange)

	for code, ok := range in.Conditions {
		if !ok {
			continue
		}
		if !clinical.IsCondition(code) {
			reject("condition", code)
			continue
		}
		if out.Conditions == nil {
			out.Conditions = make(map[string]bool)
		}
		out.Conditions[code] = true
	}

	if in.TriageLevel != nil {
		if clinical.TriageRange.Contains(float64(*in.TriageLevel)) {
			out.TriageLevel = clinical.Int(*in.TriageLevel)
			out.TriageInferred = in.TriageInferred
		} else {
			reject("triage level", *in.TriageLevel)
		}
	}
	out.ChiefComplaint = strings.TrimSpace(in.ChiefComplaint)

	if in.ChronicCount != nil {
		if *in.ChronicCount >= 0 {
			out.ChronicCount = clinical.Int(*in.ChronicCount)
		} else {
			reject("chronic condition count", *in.ChronicCount)
		}
	}
	if in.PriorEDVisits30d != nil {
		if *in.PriorEDVisits30d >= 0 {
			out.PriorEDVisits30d = clinical.Int(*in.PriorEDVisits30d)
		} else {
			reject("prior ED visits", *in.PriorEDVisits30d)
		}
	}
	if in.DaysSinceLastVisit != nil {
		if *in.DaysSinceLastVisit >= 0 {
			out.DaysSinceLastVisit = clinical.Float(*in.DaysSinceLastVisit)
		} else {
			reject("days since last visit", *in.DaysSinceLastVisit)
		}
	}
	if in.ArrivalTime != nil {
		hh, mm := *in.ArrivalTime/100, *in.ArrivalTime%100
		if hh >= 0 && hh < 24 && mm < 60 {
			out.ArrivalTime = clinical.Int(*in.ArrivalTime)
		} else {
			reject("arrival time", *in.ArrivalTime)
		}
	}
	if in.VisitMinutes != nil {
		if *in.VisitMinutes >= 0 {
			out.VisitMinutes = clinical.Float(*in.VisitMinutes)
		} else {
			reject("visit length", *in.VisitMinutes)
		}
	}
	return out, rejected
}
