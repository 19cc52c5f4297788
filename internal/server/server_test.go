package server

import (
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/carelens/edrisk/config"
	"github.com/carelens/edrisk/internal/engine"
	"github.com/carelens/edrisk/internal/retrieval"
	"github.com/carelens/edrisk/internal/score"
	"github.com/carelens/edrisk/internal/session"
	"github.com/carelens/edrisk/internal/stats"
	"github.com/labstack/echo/v4"
)

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	rules, _ := score.BuildRules(nil)
	scorer, err := score.NewScorer(score.HeuristicFallback{}, rules, score.DefaultCutpoints)
	if err != nil {
		t.Fatalf("scorer: %v", err)
	}
	index, err := retrieval.NewLexical(nil)
	if err != nil {
		t.Fatalf("index: %v", err)
	}
	st, _ := stats.Load("")
	eng, err := engine.New(session.NewInMemoryStore(), scorer, score.DefaultTriagePolicy(),
		index, st, nil, nil, log.New(os.Stderr, "[TEST] ", 0), engine.Options{})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return eng
}

func testServer(t *testing.T, jwtSecret string) *echo.Echo {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.JWTSecret = jwtSecret
	cfg.General.TurnTimeout = 5 * time.Second
	e := newEcho(log.New(os.Stderr, "[TEST] ", 0))
	registerRoutes(e, testEngine(t), cfg)
	return e
}

func TestTurnEndpoint(t *testing.T) {
	e := testServer(t, "")

	body := `{"message": "72 year old male with COPD, pulse 110"}`
	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var res engine.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if res.SessionID == "" || res.Intent != "assess" || res.Assessment == nil {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSessionEndpoint(t *testing.T) {
	e := testServer(t, "")

	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(`{"message": "age 40"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	var res engine.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decoding response: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/sessions/"+res.SessionID, nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var s session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &s); err != nil {
		t.Fatalf("decoding session: %v", err)
	}
	if s.ID != res.SessionID || s.Clinical.Age == nil {
		t.Fatalf("unexpected session: %+v", s)
	}
}

func TestSessionEndpointUnknownID(t *testing.T) {
	e := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/sessions/no-such-id", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown session should 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz(t *testing.T) {
	e := testServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthRequiredWhenSecretSet(t *testing.T) {
	secret := "test-secret"
	e := testServer(t, secret)

	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(`{"message": "hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should 401, got %d", rec.Code)
	}

	tok, err := SignToken("tester", []byte(secret), time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(`{"message": "hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token should pass, got %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader(`{"message": "hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("garbage token should 401, got %d", rec.Code)
	}

	// Health stays open.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz should not require auth, got %d", rec.Code)
	}
}

func TestErrorsAreJSON(t *testing.T) {
	e := testServer(t, "")
	req := httptest.NewRequest(http.MethodPost, "/api/turn", strings.NewReader("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad payload should 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("error body should be JSON: %v (%s)", err, rec.Body.String())
	}
	if _, ok := body["error"]; !ok {
		t.Fatalf("error body missing error field: %v", body)
	}
}
