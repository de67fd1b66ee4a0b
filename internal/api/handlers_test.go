package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"signal-council/internal/aggregator"
	"signal-council/internal/auth"
	"signal-council/internal/detector"
	"signal-council/internal/engine"
	"signal-council/internal/events"
	"signal-council/internal/market"
	"signal-council/internal/registry"
	"signal-council/internal/store"
	"signal-council/internal/tuner"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func uptrendLoader(n int) market.Loader {
	return market.LoaderFunc(func(_ context.Context, _, _ string, _ int) ([]market.Bar, error) {
		bars := make([]market.Bar, n)
		price := 100.0
		ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
		for i := range bars {
			bars[i] = market.Bar{OpenTime: ts, Open: price, Close: price * 1.01, High: price * 1.02, Low: price * 0.99, Volume: 1000, CloseTime: ts.Add(time.Hour)}
			price = bars[i].Close
			ts = ts.Add(time.Hour)
		}
		return bars, nil
	})
}

func testServer(t *testing.T, authService *auth.Service, archive Archive, reloader ConfigReloader) *Server {
	t.Helper()
	table, err := detector.NewTable(detector.NewTrendDetector(), detector.NewMomentumDetector())
	if err != nil {
		t.Fatal(err)
	}

	bus := events.NewEventBus()
	cfg := engine.DefaultConfig()
	cfg.Timeframes = []string{"1h"}
	eng := engine.New(cfg, registry.New(), table, uptrendLoader(120),
		aggregator.New(aggregator.DefaultConfig(), nil), nil, bus)

	return NewServer(Config{Host: "127.0.0.1", Port: 0}, registry.New(), eng, nil,
		authService, bus, archive, reloader)
}

func doJSON(t *testing.T, s *Server, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := testServer(t, nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetWeightsReturnsRegistryState(t *testing.T) {
	s := testServer(t, nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/weights", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp struct {
		DetectorWeights map[string]float64 `json:"detector_weights"`
		Limits          registry.Limits    `json:"limits"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if _, ok := resp.DetectorWeights["trend"]; !ok {
		t.Errorf("detector weights missing trend: %v", resp.DetectorWeights)
	}
	if resp.Limits.MaxWeight != registry.DefaultMaxWeight {
		t.Errorf("max weight = %v", resp.Limits.MaxWeight)
	}
}

func TestProposeAmendmentEnactsAndRejects(t *testing.T) {
	s := testServer(t, nil, nil, nil)

	ok := doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.25},
		Reason:          "rebalance",
		Authority:       registry.AuthorityPresidential,
	}, nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("valid amendment status = %d: %s", ok.Code, ok.Body.String())
	}

	bad := doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.95},
		Authority:       registry.AuthorityPresidential,
	}, nil)
	if bad.Code != http.StatusUnprocessableEntity {
		t.Errorf("out-of-bounds amendment status = %d", bad.Code)
	}

	// The enacted change is visible on the read side.
	weights := doJSON(t, s, http.MethodGet, "/api/weights", nil, nil)
	var resp struct {
		DetectorWeights map[string]float64 `json:"detector_weights"`
	}
	json.Unmarshal(weights.Body.Bytes(), &resp)
	if resp.DetectorWeights["trend"] != 0.25 {
		t.Errorf("trend weight = %v after amendment", resp.DetectorWeights["trend"])
	}
}

func TestAmendmentRequiresAuthWhenEnabled(t *testing.T) {
	hash, _ := auth.HashPassword("pass-123")
	svc := auth.NewService("secret", time.Minute, "admin", hash)
	s := testServer(t, svc, nil, nil)

	amendment := registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.20},
		Authority:       registry.AuthorityJudicial,
	}

	if rec := doJSON(t, s, http.MethodPost, "/api/amendments", amendment, nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated amendment status = %d", rec.Code)
	}

	login := doJSON(t, s, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "admin", "password": "pass-123"}, nil)
	if login.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", login.Code, login.Body.String())
	}
	var tok auth.TokenResponse
	json.Unmarshal(login.Body.Bytes(), &tok)

	rec := doJSON(t, s, http.MethodPost, "/api/amendments", amendment,
		map[string]string{"Authorization": "Bearer " + tok.AccessToken})
	if rec.Code != http.StatusOK {
		t.Errorf("authenticated amendment status = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	hash, _ := auth.HashPassword("pass-123")
	svc := auth.NewService("secret", time.Minute, "admin", hash)
	s := testServer(t, svc, nil, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/auth/login",
		map[string]string{"username": "admin", "password": "nope"}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	s := testServer(t, nil, nil, nil)

	doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.30},
		Authority:       registry.AuthorityEmergency,
	}, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/weights/reset", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset status = %d", rec.Code)
	}

	var resp struct {
		DetectorWeights map[string]float64 `json:"detector_weights"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.DetectorWeights["trend"] != registry.DefaultDetectorWeights()["trend"] {
		t.Errorf("trend weight = %v after reset", resp.DetectorWeights["trend"])
	}
}

func TestAmendmentHistoryEndpoint(t *testing.T) {
	s := testServer(t, nil, nil, nil)

	doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"momentum": 0.18},
		Reason:          "momentum bump",
		Authority:       registry.AuthorityLegislative,
	}, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/amendments/history?limit=10", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var resp struct {
		History []registry.HistoryEntry `json:"history"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.History) != 1 {
		t.Errorf("history entries = %d, want 1", len(resp.History))
	}
}

func TestVerdictEndpoint(t *testing.T) {
	s := testServer(t, nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/verdict/btcusdt", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Symbol string `json:"symbol"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Symbol != "BTCUSDT" {
		t.Errorf("symbol = %q, want uppercased BTCUSDT", resp.Symbol)
	}
}

func TestDecisionEndpoint(t *testing.T) {
	s := testServer(t, nil, nil, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/decision/BTCUSDT?timeframe=4h", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var decision aggregator.Decision
	if err := json.Unmarshal(rec.Body.Bytes(), &decision); err != nil {
		t.Fatal(err)
	}
	if len(decision.Weights) != 5 {
		t.Errorf("weights = %v", decision.Weights)
	}
}

func TestTuningEndpointsUnavailableWithoutManager(t *testing.T) {
	s := testServer(t, nil, nil, nil)

	for _, call := range []struct {
		method, path string
	}{
		{http.MethodPost, "/api/tuning/runs"},
		{http.MethodGet, "/api/tuning/runs"},
		{http.MethodGet, "/api/tuning/runs/abc"},
	} {
		rec := doJSON(t, s, call.method, call.path, nil, nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("%s %s status = %d, want 503", call.method, call.path, rec.Code)
		}
	}
}

type stubArchive struct {
	saved []store.AmendmentRecord
	runs  map[string]*tuner.RunResult
}

func (a *stubArchive) SaveAmendment(_ context.Context, rec store.AmendmentRecord) error {
	a.saved = append(a.saved, rec)
	return nil
}

func (a *stubArchive) ListAmendments(context.Context, int) ([]store.AmendmentRecord, error) {
	return a.saved, nil
}

func (a *stubArchive) GetTuningRun(_ context.Context, id string) (*tuner.RunResult, error) {
	run, ok := a.runs[id]
	if !ok {
		return nil, errors.New("no rows in result set")
	}
	return run, nil
}

func (a *stubArchive) ListTuningRuns(context.Context, int) ([]tuner.RunResult, error) {
	var out []tuner.RunResult
	for _, run := range a.runs {
		out = append(out, *run)
	}
	return out, nil
}

func TestTuningRunPolledFromArchive(t *testing.T) {
	archive := &stubArchive{runs: map[string]*tuner.RunResult{
		"prev-run": {ID: "prev-run", Status: tuner.StatusCompleted, CandidatesTested: 20},
	}}
	s := testServer(t, nil, archive, nil)

	// The manager's in-memory map is gone after a restart; the persisted row
	// still answers the poll.
	rec := doJSON(t, s, http.MethodGet, "/api/tuning/runs/prev-run", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("archived run status = %d", rec.Code)
	}
	var run tuner.RunResult
	json.Unmarshal(rec.Body.Bytes(), &run)
	if run.ID != "prev-run" || run.Status != tuner.StatusCompleted {
		t.Errorf("run = %+v", run)
	}

	if rec := doJSON(t, s, http.MethodGet, "/api/tuning/runs/nope", nil, nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d", rec.Code)
	}
}

func TestListTuningRunsIncludesArchivedRuns(t *testing.T) {
	archive := &stubArchive{runs: map[string]*tuner.RunResult{
		"prev-run": {ID: "prev-run", Status: tuner.StatusCompleted},
	}}
	s := testServer(t, nil, archive, nil)

	rec := doJSON(t, s, http.MethodGet, "/api/tuning/runs", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var resp struct {
		Runs []tuner.RunResult `json:"runs"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Runs) != 1 || resp.Runs[0].ID != "prev-run" {
		t.Errorf("runs = %+v", resp.Runs)
	}
}

func TestAmendmentAuditRecordedAndListed(t *testing.T) {
	archive := &stubArchive{}
	s := testServer(t, nil, archive, nil)

	doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.25},
		Authority:       registry.AuthorityPresidential,
	}, nil)
	doJSON(t, s, http.MethodPost, "/api/amendments", registry.Amendment{
		DetectorWeights: map[string]float64{"trend": 0.95},
		Authority:       registry.AuthorityPresidential,
	}, nil)

	if len(archive.saved) != 2 {
		t.Fatalf("audit rows = %d, want both the enacted and the rejected attempt", len(archive.saved))
	}
	if !archive.saved[0].Success || archive.saved[1].Success {
		t.Errorf("audit success flags = %v/%v", archive.saved[0].Success, archive.saved[1].Success)
	}

	rec := doJSON(t, s, http.MethodGet, "/api/amendments/history", nil, nil)
	var resp struct {
		Audit []store.AmendmentRecord `json:"audit"`
	}
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if len(resp.Audit) != 2 {
		t.Errorf("audit in history = %d entries", len(resp.Audit))
	}
}

type stubReloader struct{ err error }

func (r *stubReloader) Reload() error { return r.err }

func TestConfigReload(t *testing.T) {
	s := testServer(t, nil, nil, &stubReloader{})
	if rec := doJSON(t, s, http.MethodPost, "/api/config/reload", nil, nil); rec.Code != http.StatusOK {
		t.Errorf("reload status = %d", rec.Code)
	}

	s = testServer(t, nil, nil, &stubReloader{err: errors.New("parse error")})
	if rec := doJSON(t, s, http.MethodPost, "/api/config/reload", nil, nil); rec.Code != http.StatusInternalServerError {
		t.Errorf("failed reload status = %d", rec.Code)
	}

	s = testServer(t, nil, nil, nil)
	if rec := doJSON(t, s, http.MethodPost, "/api/config/reload", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("no reloader status = %d", rec.Code)
	}
}
