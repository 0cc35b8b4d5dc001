package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AaronLay10/StateSpace/internal/engine"
	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/modelcheck"
	"github.com/AaronLay10/StateSpace/internal/statespace"
	"github.com/AaronLay10/StateSpace/internal/storage/postgres"
)

// finishingSpace completes every run on its first step.
type finishingSpace struct {
	mu    sync.Mutex
	steps int
}

func (s *finishingSpace) Execute(_ context.Context, cmds ...engine.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cmd := range cmds {
		switch c := cmd.(type) {
		case *modelcheck.StatsCommand:
			c.Stats = modelcheck.Stats{StatesFound: 1}
		case *modelcheck.StepCommand:
			s.steps++
			c.Status = modelcheck.StatusFinishedExhaustive
			c.Stats = modelcheck.Stats{StatesFound: 3, StatesProcessed: 3, TransitionsFound: 4}
		case *modelcheck.SetGoalCommand:
		default:
			return errors.New("unexpected command")
		}
	}
	return nil
}

func (s *finishingSpace) StartTransaction(context.Context) error { return nil }
func (s *finishingSpace) EndTransaction(context.Context) error   { return nil }

type fixedCounts statespace.Counts

func (f fixedCounts) Counts() statespace.Counts { return statespace.Counts(f) }

type fakeRuns struct {
	limit int
	rows  []postgres.CheckRunRow
}

func (f *fakeRuns) QueryCheckRuns(_ context.Context, limit int) ([]postgres.CheckRunRow, error) {
	f.limit = limit
	return f.rows, nil
}

func newTestServer(t *testing.T, deps Deps) *httptest.Server {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	srv := httptest.NewServer(NewServer(ctx, deps).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthEndpoint(t *testing.T) {
	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	healthHandler(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", resp.Status)
	}
	if resp.Service != "statespace" {
		t.Errorf("expected service 'statespace', got '%s'", resp.Service)
	}
}

func TestReadyEndpointAllReady(t *testing.T) {
	r := &Readiness{}
	r.SetEngineReady(true)
	r.SetMQTT(true, false)
	r.SetPostgres(true, false)

	w := httptest.NewRecorder()
	r.handler(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	var resp ReadinessResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp.Ready {
		t.Error("expected ready=true")
	}
	for _, name := range []string{"engine", "mqtt", "postgres"} {
		if resp.Checks[name].Status != "ok" {
			t.Errorf("expected %s status 'ok', got '%s'", name, resp.Checks[name].Status)
		}
	}
}

func TestReadyEndpointEngineNotReady(t *testing.T) {
	r := &Readiness{}
	r.SetMQTT(true, false)
	r.SetPostgres(true, false)

	w := httptest.NewRecorder()
	r.handler(w, httptest.NewRequest("GET", "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
	resp := r.Report()
	if resp.Ready || resp.Checks["engine"].Status != "fail" {
		t.Errorf("unexpected report: %+v", resp)
	}
}

func TestReadyEndpointOptionalDependencyDegrades(t *testing.T) {
	r := &Readiness{}
	r.SetEngineReady(true)
	r.SetMQTT(false, true)
	r.SetPostgres(false, true)

	resp := r.Report()
	if !resp.Ready {
		t.Error("optional dependencies must not make the instance unready")
	}
	if resp.Checks["mqtt"].Status != "degraded" || resp.Checks["postgres"].Status != "degraded" {
		t.Errorf("expected degraded checks, got %+v", resp.Checks)
	}
}

func TestStatespaceEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{Graph: fixedCounts{States: 4, Transitions: 6, Explored: 2}})

	resp, err := http.Get(srv.URL + "/statespace")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var counts statespace.Counts
	if err := json.NewDecoder(resp.Body).Decode(&counts); err != nil {
		t.Fatal(err)
	}
	if counts.States != 4 || counts.Transitions != 6 || counts.Explored != 2 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestStatespaceEndpointWithoutModel(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/statespace")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}
}

func TestStartAndGetJob(t *testing.T) {
	space := &finishingSpace{}
	jobs := modelcheck.NewManager(nil)
	srv := newTestServer(t, Deps{Jobs: jobs, Space: space})

	resp, err := http.Post(srv.URL+"/modelcheck", "application/json", strings.NewReader(`{"state_limit": 10}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var info modelcheck.JobInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}

	job, ok := jobs.Get(info.ID)
	if !ok {
		t.Fatalf("job %s not registered", info.ID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := job.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}

	get, err := http.Get(srv.URL + "/modelcheck/" + info.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer get.Body.Close()
	var done modelcheck.JobInfo
	if err := json.NewDecoder(get.Body).Decode(&done); err != nil {
		t.Fatal(err)
	}
	if done.Result == nil || done.Result.Status != modelcheck.StatusFinishedExhaustive {
		t.Errorf("expected exhaustive result, got %+v", done)
	}

	list, err := http.Get(srv.URL + "/modelcheck")
	if err != nil {
		t.Fatal(err)
	}
	defer list.Body.Close()
	var all []modelcheck.JobInfo
	if err := json.NewDecoder(list.Body).Decode(&all); err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != info.ID {
		t.Errorf("unexpected job list: %+v", all)
	}
}

func TestStartJobRejectsBadRequests(t *testing.T) {
	srv := newTestServer(t, Deps{Jobs: modelcheck.NewManager(nil), Space: &finishingSpace{}})

	cases := []string{
		`not json`,
		`{"state_limit": -1}`,
		`{"goal": "x = (1"}`,
	}
	for _, body := range cases {
		resp, err := http.Post(srv.URL+"/modelcheck", "application/json", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestStartRequestOptions(t *testing.T) {
	off := false
	opts, err := StartRequest{TimeLimitMs: 1500, FindDeadlocks: &off, Goal: "x > 3"}.Options()
	if err != nil {
		t.Fatal(err)
	}
	if opts.FindDeadlocks || !opts.FindInvariantViolations {
		t.Errorf("expected deadlocks off and invariants kept on: %+v", opts)
	}
	if opts.TimeLimit != 1500*time.Millisecond {
		t.Errorf("unexpected time limit %v", opts.TimeLimit)
	}
	if opts.CustomGoal == nil || opts.CustomGoal.Code() != "x > 3" {
		t.Errorf("unexpected goal %v", opts.CustomGoal)
	}
}

func TestInterruptUnknownJob(t *testing.T) {
	srv := newTestServer(t, Deps{Jobs: modelcheck.NewManager(nil)})

	resp, err := http.Post(srv.URL+"/modelcheck/missing/interrupt", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	body, _ := json.Marshal(InterruptRequest{JobID: "missing"})
	resp, err = http.Post(srv.URL+"/modelcheck/interrupt", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/modelcheck/interrupt", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 without job_id, got %d", resp.StatusCode)
	}
}

func TestRunsEndpoint(t *testing.T) {
	runs := &fakeRuns{rows: []postgres.CheckRunRow{{JobID: "j1", Status: "finished-exhaustive"}}}
	srv := newTestServer(t, Deps{Runs: runs})

	resp, err := http.Get(srv.URL + "/runs?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rows []postgres.CheckRunRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if runs.limit != 5 || len(rows) != 1 || rows[0].JobID != "j1" {
		t.Errorf("unexpected rows %+v (limit %d)", rows, runs.limit)
	}

	bad, err := http.Get(srv.URL + "/runs?limit=many")
	if err != nil {
		t.Fatal(err)
	}
	bad.Body.Close()
	if bad.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", bad.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}

type fakeHistory struct{ rows []postgres.EventRow }

func (f fakeHistory) Query(limit int) ([]postgres.EventRow, error) {
	if limit < len(f.rows) {
		return f.rows[:limit], nil
	}
	return f.rows, nil
}

func TestEventsEndpointFiltersByPrefix(t *testing.T) {
	events.Clear()
	_, _ = events.Emit("info", "engine.query", "", nil)
	_, _ = events.Emit("info", "replay.step", "", nil)
	srv := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/events?prefix=replay.")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []events.Event
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "replay.step" {
		t.Errorf("unexpected events %v", got)
	}
}

func TestEventHistoryEndpoint(t *testing.T) {
	srv := newTestServer(t, Deps{History: fakeHistory{rows: []postgres.EventRow{{Event: "modelcheck.started"}, {Event: "modelcheck.finished"}}}})

	resp, err := http.Get(srv.URL + "/events/history?limit=1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var rows []postgres.EventRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Event != "modelcheck.started" {
		t.Errorf("unexpected rows %+v", rows)
	}

	off := newTestServer(t, Deps{})
	resp2, err := http.Get(off.URL + "/events/history")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503 without storage, got %d", resp2.StatusCode)
	}
}

// blockingSpace holds its first step until release is closed.
type blockingSpace struct {
	finishingSpace
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *blockingSpace) Execute(ctx context.Context, cmds ...engine.Command) error {
	for _, cmd := range cmds {
		if _, ok := cmd.(*modelcheck.StepCommand); ok {
			s.once.Do(func() { close(s.started) })
			<-s.release
		}
	}
	return s.finishingSpace.Execute(ctx, cmds...)
}

func TestStartJobConflictsWhileBusy(t *testing.T) {
	space := &blockingSpace{started: make(chan struct{}), release: make(chan struct{})}
	jobs := modelcheck.NewManager(nil)
	srv := newTestServer(t, Deps{Jobs: jobs, Space: space})

	first, err := http.Post(srv.URL+"/modelcheck", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	var info modelcheck.JobInfo
	if err := json.NewDecoder(first.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	first.Body.Close()
	<-space.started

	second, err := http.Post(srv.URL+"/modelcheck", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatal(err)
	}
	second.Body.Close()
	if second.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", second.StatusCode)
	}

	close(space.release)
	job, _ := jobs.Get(info.ID)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := job.Wait(ctx); err != nil {
		t.Fatalf("job did not finish: %v", err)
	}
}

type fakeFormulas struct {
	mu      sync.Mutex
	subs    map[string]bool
	results map[string]formula.Result
}

func (f *fakeFormulas) Subscribe(subscriber string, fm formula.Formula) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := subscriber + "|" + fm.Code()
	if f.subs[key] {
		return false
	}
	f.subs[key] = true
	return true
}

func (f *fakeFormulas) Unsubscribe(subscriber string, fm formula.Formula) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, subscriber+"|"+fm.Code())
}

func (f *fakeFormulas) EvaluateSubscribed(_ context.Context, id string) (map[string]formula.Result, error) {
	if id != "root" {
		return nil, &statespace.UnknownStateError{ID: id}
	}
	return f.results, nil
}

func sendSubscription(t *testing.T, method, url, body string) int {
	t.Helper()
	req, err := http.NewRequest(method, url+"/statespace/formulas", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	return resp.StatusCode
}

func TestFormulaSubscriptions(t *testing.T) {
	f := &fakeFormulas{
		subs:    make(map[string]bool),
		results: map[string]formula.Result{"x > 1": &formula.EvalResult{Value: "TRUE"}},
	}
	srv := newTestServer(t, Deps{Formulas: f})

	body := `{"subscriber": "ui", "formula": "x > 1"}`
	if got := sendSubscription(t, http.MethodPost, srv.URL, body); got != http.StatusCreated {
		t.Errorf("first subscribe: expected 201, got %d", got)
	}
	if got := sendSubscription(t, http.MethodPost, srv.URL, body); got != http.StatusOK {
		t.Errorf("repeated subscribe: expected 200, got %d", got)
	}
	if got := sendSubscription(t, http.MethodPost, srv.URL, `{"subscriber": "ui", "formula": "x > (1"}`); got != http.StatusBadRequest {
		t.Errorf("unbalanced formula: expected 400, got %d", got)
	}
	if got := sendSubscription(t, http.MethodPost, srv.URL, `{"formula": "x > 1"}`); got != http.StatusBadRequest {
		t.Errorf("missing subscriber: expected 400, got %d", got)
	}

	resp, err := http.Get(srv.URL + "/statespace/states/root/formulas")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var values map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		t.Fatal(err)
	}
	if values["x > 1"] != "TRUE" {
		t.Errorf("unexpected values %v", values)
	}

	missing, err := http.Get(srv.URL + "/statespace/states/nope/formulas")
	if err != nil {
		t.Fatal(err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("unknown state: expected 404, got %d", missing.StatusCode)
	}

	if got := sendSubscription(t, http.MethodDelete, srv.URL, body); got != http.StatusOK {
		t.Errorf("unsubscribe: expected 200, got %d", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.subs) != 0 {
		t.Errorf("subscription not removed: %v", f.subs)
	}
}

func TestFormulaRoutesWithoutModel(t *testing.T) {
	srv := newTestServer(t, Deps{})
	if got := sendSubscription(t, http.MethodPost, srv.URL, `{"subscriber": "ui", "formula": "x"}`); got != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", got)
	}
}
