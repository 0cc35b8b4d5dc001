// Package api serves the HTTP surface of a running instance: health and
// readiness, the event stream, Prometheus metrics, formula subscriptions
// and model-check jobs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/AaronLay10/StateSpace/internal/events"
	"github.com/AaronLay10/StateSpace/internal/formula"
	"github.com/AaronLay10/StateSpace/internal/metrics"
	"github.com/AaronLay10/StateSpace/internal/modelcheck"
	"github.com/AaronLay10/StateSpace/internal/statespace"
	"github.com/AaronLay10/StateSpace/internal/storage/postgres"
	"github.com/AaronLay10/StateSpace/internal/version"
)

// CountSource reports the size of the loaded state space.
type CountSource interface {
	Counts() statespace.Counts
}

// RunLister reads finished runs back from storage.
type RunLister interface {
	QueryCheckRuns(ctx context.Context, limit int) ([]postgres.CheckRunRow, error)
}

// EventHistory reads persisted events back from storage.
type EventHistory interface {
	Query(limit int) ([]postgres.EventRow, error)
}

// FormulaSource manages formula subscriptions on the loaded space.
type FormulaSource interface {
	Subscribe(subscriber string, f formula.Formula) bool
	Unsubscribe(subscriber string, f formula.Formula)
	EvaluateSubscribed(ctx context.Context, id string) (map[string]formula.Result, error)
}

// Deps are the collaborators a Server exposes. Nil members disable the
// routes that need them.
type Deps struct {
	Jobs    *modelcheck.Manager
	Space   modelcheck.Space
	Graph    CountSource
	Formulas FormulaSource
	Runs     RunLister
	History  EventHistory
	Log      *zap.SugaredLogger
}

// Server routes HTTP requests to the runtime.
type Server struct {
	deps  Deps
	base  context.Context
	log   *zap.SugaredLogger
	ready *Readiness
	mux   *http.ServeMux
}

// NewServer builds a server. Jobs started over HTTP live until base is
// cancelled, not until the request ends.
func NewServer(base context.Context, deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Server{
		deps:  deps,
		base:  base,
		log:   log,
		ready: &Readiness{},
		mux:   http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", healthHandler)
	s.mux.HandleFunc("GET /ready", s.ready.handler)
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("GET /events", eventsHandler)
	s.mux.HandleFunc("GET /events/history", s.historyHandler)
	s.mux.HandleFunc("GET /ws/events", s.wsEventsHandler)
	s.mux.HandleFunc("GET /statespace", s.statespaceHandler)
	s.mux.HandleFunc("POST /statespace/formulas", s.subscribeHandler)
	s.mux.HandleFunc("DELETE /statespace/formulas", s.unsubscribeHandler)
	s.mux.HandleFunc("GET /statespace/states/{id}/formulas", s.stateFormulasHandler)
	s.mux.HandleFunc("GET /modelcheck", s.listJobsHandler)
	s.mux.HandleFunc("POST /modelcheck", s.startJobHandler)
	s.mux.HandleFunc("GET /modelcheck/{id}", s.getJobHandler)
	s.mux.HandleFunc("POST /modelcheck/interrupt", s.interruptBodyHandler)
	s.mux.HandleFunc("POST /modelcheck/{id}/interrupt", s.interruptJobHandler)
	s.mux.HandleFunc("GET /runs", s.runsHandler)
}

// Readiness returns the readiness tracker reported on /ready.
func (s *Server) Readiness() *Readiness {
	return s.ready
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version"`
	Hostname  string `json:"hostname"`
	Timestamp string `json:"ts"`
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Service:   "statespace",
		Version:   version.Version,
		Hostname:  host,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// eventsHandler returns the buffered events, optionally filtered by
// ?prefix=modelcheck.,replay.
func eventsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, events.Snapshot(events.ParseFilter(r.URL.Query().Get("prefix"))...))
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.deps.History.Query(limit)
	if err != nil {
		s.log.Warnw("query events failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

// queryLimit reads ?limit=, defaulting to 50.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return 50, true
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}

func (s *Server) statespaceHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Graph.Counts())
}

// SubscribeRequest is the body of POST and DELETE /statespace/formulas.
type SubscribeRequest struct {
	Subscriber string `json:"subscriber"`
	Formula    string `json:"formula"`
}

type subscribeResponse struct {
	OK      bool `json:"ok"`
	Created bool `json:"created"`
}

// decodeSubscription reads and parses the request formula, writing the
// error response when it fails.
func (s *Server) decodeSubscription(w http.ResponseWriter, r *http.Request) (string, formula.Formula, bool) {
	if s.deps.Formulas == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return "", nil, false
	}
	var req SubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return "", nil, false
	}
	if req.Subscriber == "" || req.Formula == "" {
		writeError(w, http.StatusBadRequest, "subscriber and formula required")
		return "", nil, false
	}
	f, err := formula.New(req.Formula)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", nil, false
	}
	return req.Subscriber, f, true
}

func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	subscriber, f, ok := s.decodeSubscription(w, r)
	if !ok {
		return
	}
	created := s.deps.Formulas.Subscribe(subscriber, f)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, subscribeResponse{OK: true, Created: created})
}

func (s *Server) unsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	subscriber, f, ok := s.decodeSubscription(w, r)
	if !ok {
		return
	}
	s.deps.Formulas.Unsubscribe(subscriber, f)
	writeJSON(w, http.StatusOK, errorResponse{OK: true})
}

// stateFormulasHandler evaluates the subscribed formulas in one state and
// returns their values keyed by formula code.
func (s *Server) stateFormulasHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Formulas == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	id := r.PathValue("id")
	results, err := s.deps.Formulas.EvaluateSubscribed(r.Context(), id)
	if err != nil {
		var unknown *statespace.UnknownStateError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.log.Warnw("evaluate formulas failed", "state", id, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	values := make(map[string]string, len(results))
	for code, res := range results {
		values[code] = res.String()
	}
	writeJSON(w, http.StatusOK, values)
}

// StartRequest is the body of POST /modelcheck.
type StartRequest struct {
	StateLimit              int    `json:"state_limit"`
	TimeLimitMs             int64  `json:"time_limit_ms"`
	Goal                    string `json:"goal"`
	FindDeadlocks           *bool  `json:"find_deadlocks"`
	FindInvariantViolations *bool  `json:"find_invariant_violations"`
	FindAssertionViolations bool   `json:"find_assertion_violations"`
	RecheckExisting         bool   `json:"recheck_existing"`
}

// Options converts the request, keeping the defaults for omitted flags.
func (req StartRequest) Options() (modelcheck.Options, error) {
	opts := modelcheck.DefaultOptions()
	if req.StateLimit < 0 || req.TimeLimitMs < 0 {
		return opts, errors.New("limits must not be negative")
	}
	opts.StateLimit = req.StateLimit
	opts.TimeLimit = time.Duration(req.TimeLimitMs) * time.Millisecond
	if req.FindDeadlocks != nil {
		opts.FindDeadlocks = *req.FindDeadlocks
	}
	if req.FindInvariantViolations != nil {
		opts.FindInvariantViolations = *req.FindInvariantViolations
	}
	opts.FindAssertionViolations = req.FindAssertionViolations
	opts.RecheckExisting = req.RecheckExisting
	if req.Goal != "" {
		goal, err := formula.NewPredicate(req.Goal)
		if err != nil {
			return opts, err
		}
		opts.CustomGoal = goal
	}
	return opts, nil
}

type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func (s *Server) startJobHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil || s.deps.Space == nil {
		writeError(w, http.StatusServiceUnavailable, "no model loaded")
		return
	}
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	opts, err := req.Options()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.deps.Jobs.Start(s.base, s.deps.Space, opts)
	if errors.Is(err, modelcheck.ErrBusy) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.Errorw("start model check failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, job.Info())
}

func (s *Server) listJobsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeJSON(w, http.StatusOK, []modelcheck.JobInfo{})
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Jobs.List())
}

func (s *Server) getJobHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	job, ok := s.deps.Jobs.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Info())
}

// InterruptRequest is the body of POST /modelcheck/interrupt.
type InterruptRequest struct {
	JobID string `json:"job_id"`
}

func (s *Server) interruptBodyHandler(w http.ResponseWriter, r *http.Request) {
	var req InterruptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.JobID == "" {
		writeError(w, http.StatusBadRequest, "job_id required")
		return
	}
	s.interrupt(w, req.JobID)
}

func (s *Server) interruptJobHandler(w http.ResponseWriter, r *http.Request) {
	s.interrupt(w, r.PathValue("id"))
}

func (s *Server) interrupt(w http.ResponseWriter, id string) {
	if s.deps.Jobs == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err := s.deps.Jobs.Interrupt(id); err != nil {
		if errors.Is(err, modelcheck.ErrUnknownJob) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, errorResponse{OK: true})
}

func (s *Server) runsHandler(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeError(w, http.StatusServiceUnavailable, "storage disabled")
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}
	rows, err := s.deps.Runs.QueryCheckRuns(r.Context(), limit)
	if err != nil {
		s.log.Warnw("query check runs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{OK: false, Error: msg})
}

// CheckStatus is one entry of the readiness report.
type CheckStatus struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// ReadinessResponse is the body of /ready.
type ReadinessResponse struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckStatus `json:"checks"`
}

// Readiness tracks the dependencies /ready reports on. Optional
// dependencies are reported but never make the instance unready.
type Readiness struct {
	mu                sync.RWMutex
	engineReady       bool
	mqttConnected     bool
	mqttOptional      bool
	postgresConnected bool
	postgresOptional  bool
}

func (r *Readiness) SetEngineReady(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engineReady = ok
}

func (r *Readiness) SetMQTT(connected, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mqttConnected = connected
	r.mqttOptional = optional
}

func (r *Readiness) SetPostgres(connected, optional bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.postgresConnected = connected
	r.postgresOptional = optional
}

// Report computes the current readiness.
func (r *Readiness) Report() ReadinessResponse {
	r.mu.RLock()
	defer r.mu.RUnlock()

	resp := ReadinessResponse{Ready: true, Checks: make(map[string]CheckStatus)}
	check := func(name string, ok, optional bool, reason string) {
		switch {
		case ok:
			resp.Checks[name] = CheckStatus{Status: "ok"}
		case optional:
			resp.Checks[name] = CheckStatus{Status: "degraded", Reason: reason}
		default:
			resp.Checks[name] = CheckStatus{Status: "fail", Reason: reason}
			resp.Ready = false
		}
	}
	check("engine", r.engineReady, false, "engine not started")
	check("mqtt", r.mqttConnected, r.mqttOptional, "mqtt disconnected")
	check("postgres", r.postgresConnected, r.postgresOptional, "postgres unavailable")
	return resp
}

func (r *Readiness) handler(w http.ResponseWriter, _ *http.Request) {
	resp := r.Report()
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// ListenAndServe serves on addr until ctx is cancelled. TLS is used when
// tls is enabled.
func (s *Server) ListenAndServe(ctx context.Context, addr string, tls *TLSConfig) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls.Enabled() {
			cfg, lerr := tls.Load()
			if lerr != nil {
				errCh <- lerr
				return
			}
			srv.TLSConfig = cfg
			s.log.Infow("api listening", "addr", addr, "tls", true)
			err = srv.ListenAndServeTLS("", "")
		} else {
			s.log.Infow("api listening", "addr", addr, "tls", false)
			err = srv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
