// Package server exposes the remote executor over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/deixis/shipwright"
	"github.com/deixis/shipwright/internal/pipeline"
	"github.com/deixis/shipwright/internal/remote"
	"github.com/deixis/shipwright/internal/report"
	"github.com/deixis/shipwright/internal/steplog"
	"github.com/deixis/shipwright/internal/trigger"
)

// Response messages.
const (
	MsgBusy        = "deployment already in progress"
	MsgRateLimited = "too many unauthorized attempts"
	MsgBadBody     = "invalid JSON body"
	MsgNotFound    = "run not found"
)

const maxBodyBytes = 64 << 10

// defaultListLimit bounds GET /deploy/runs when no limit is given.
const defaultListLimit = 20

// Executor runs one authenticated deploy. Implemented by remote.Executor.
type Executor interface {
	Handle(ctx context.Context, p trigger.Payload, token string) (*remote.Outcome, int)
}

// Options configure a Server.
type Options struct {
	Executor Executor
	Store    report.Store // finished runs; may be nil
	Token    string
	Logger   *slog.Logger
	StepLog  *steplog.Logger      // deploy audit trail; rejected attempts are recorded here
	Registry *prometheus.Registry // defaults to a fresh registry
	Metrics  *Metrics             // defaults to metrics registered on Registry
	Limiter  *rate.Limiter        // unauthorized attempts; defaults to 1/s burst 5
}

// Server routes deploy triggers to the executor one at a time.
type Server struct {
	router   chi.Router
	exec     Executor
	store    report.Store
	token    string
	logger   *slog.Logger
	stepLog  *steplog.Logger
	metrics  *Metrics
	registry *prometheus.Registry
	limiter  *rate.Limiter
	busy     sync.Mutex
}

// New creates a Server and registers its routes.
func New(opts Options) *Server {
	s := &Server{
		exec:     opts.Executor,
		store:    opts.Store,
		token:    opts.Token,
		logger:   opts.Logger,
		stepLog:  opts.StepLog,
		registry: opts.Registry,
		metrics:  opts.Metrics,
		limiter:  opts.Limiter,
	}
	if s.logger == nil {
		s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if s.stepLog == nil {
		s.stepLog = steplog.Discard()
	}
	if s.registry == nil {
		s.registry = prometheus.NewRegistry()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(s.registry)
	}
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(1), 5)
	}
	s.routes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.router.ServeHTTP(w, req)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Get("/healthz", s.instrument("/healthz", s.handleHealth))
	r.Post("/deploy", s.instrument("/deploy", s.handleDeploy))
	r.Get("/deploy/runs", s.instrument("/deploy/runs", s.handleRuns))
	r.Get("/deploy/runs/{id}", s.instrument("/deploy/runs/{id}", s.handleRun))
	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, req *http.Request) {
	busy := !s.busy.TryLock()
	if !busy {
		s.busy.Unlock()
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"busy":      busy,
		"version":   shipwright.Version,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Server) handleDeploy(w http.ResponseWriter, req *http.Request) {
	token := bearerToken(req)
	// Deploys must not stop when the caller disconnects.
	ctx := remote.WithOrigin(context.WithoutCancel(req.Context()), req.RemoteAddr)

	if !pipeline.TokensEqual(token, s.token) {
		if !s.limiter.Allow() {
			s.metrics.recordDeployResult("rate_limited")
			s.rateLimited(w, req, token)
			return
		}
		out, status := s.exec.Handle(ctx, trigger.Payload{}, token)
		s.metrics.recordDeployResult("unauthorized")
		s.writeJSON(w, status, out.Response)
		return
	}

	var payload trigger.Payload
	body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes))
	if err != nil {
		s.writeFailure(w, http.StatusBadRequest, MsgBadBody)
		return
	}
	if len(strings.TrimSpace(string(body))) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			s.metrics.recordDeployResult("rejected")
			s.writeFailure(w, http.StatusBadRequest, MsgBadBody)
			return
		}
	}

	if !s.busy.TryLock() {
		s.logger.Warn("deploy request rejected: deployment in progress", "ip", req.RemoteAddr)
		s.metrics.recordDeployResult("conflict")
		s.writeFailure(w, http.StatusConflict, MsgBusy)
		return
	}
	defer s.busy.Unlock()

	out, status := s.exec.Handle(ctx, payload, token)
	if out.Run != nil && s.store != nil {
		if err := s.store.Save(out.Run); err != nil {
			s.logger.Error("archiving run failed", "run_id", out.Run.ID, "error", err)
		}
	}

	switch {
	case status == http.StatusOK:
		s.metrics.recordDeployResult("success")
	case status >= 500:
		s.metrics.recordDeployResult("failure")
	default:
		s.metrics.recordDeployResult("rejected")
	}
	s.logger.Info("deploy request handled", "status", status, "run_id", out.Response.RunID, "ip", req.RemoteAddr)
	s.writeJSON(w, status, out.Response)
}

// authorize checks the bearer token of a read request and writes the
// rejection when it does not match.
func (s *Server) authorize(w http.ResponseWriter, req *http.Request) bool {
	token := bearerToken(req)
	if pipeline.TokensEqual(token, s.token) {
		return true
	}
	if !s.limiter.Allow() {
		s.rateLimited(w, req, token)
		return false
	}
	s.stepLog.Warn("Run lookup rejected: Invalid token",
		"ip", req.RemoteAddr,
		"provided_token", pipeline.MaskToken(token),
	)
	s.writeFailure(w, http.StatusUnauthorized, remote.MsgUnauthorized)
	return false
}

func (s *Server) rateLimited(w http.ResponseWriter, req *http.Request, token string) {
	s.logger.Warn("request rate limited", "ip", req.RemoteAddr, "path", req.URL.Path)
	s.stepLog.Warn("Request rejected: Too many unauthorized attempts",
		"ip", req.RemoteAddr,
		"path", req.URL.Path,
		"provided_token", pipeline.MaskToken(token),
	)
	s.writeFailure(w, http.StatusTooManyRequests, MsgRateLimited)
}

func (s *Server) handleRun(w http.ResponseWriter, req *http.Request) {
	if !s.authorize(w, req) {
		return
	}
	if s.store == nil {
		s.writeFailure(w, http.StatusNotFound, MsgNotFound)
		return
	}
	run, err := s.store.Load(chi.URLParam(req, "id"))
	if errors.Is(err, report.ErrNotFound) {
		s.writeFailure(w, http.StatusNotFound, MsgNotFound)
		return
	}
	if err != nil {
		s.logger.Error("loading run failed", "error", err)
		s.writeFailure(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := report.Expect(run, pipeline.Remote); err != nil {
		s.writeFailure(w, http.StatusNotFound, MsgNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, run)
}

// runSummary is one entry of GET /deploy/runs.
type runSummary struct {
	ID         string    `json:"id"`
	Branch     string    `json:"branch,omitempty"`
	Version    string    `json:"version,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Steps      []string  `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// recentLister is implemented by stores that keep recent runs in memory.
type recentLister interface {
	Recent(n int) []*pipeline.Run
}

// handleRuns lists the most recently used archived runs, newest first.
func (s *Server) handleRuns(w http.ResponseWriter, req *http.Request) {
	if !s.authorize(w, req) {
		return
	}
	limit := defaultListLimit
	if v := req.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeFailure(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	out := []runSummary{}
	if lister, ok := s.store.(recentLister); ok {
		for _, run := range lister.Recent(math.MaxInt) {
			if len(out) == limit {
				break
			}
			if report.Expect(run, pipeline.Remote) != nil {
				continue
			}
			out = append(out, runSummary{
				ID:         run.ID,
				Branch:     run.Branch,
				Version:    run.Version,
				Success:    run.Succeeded(),
				Error:      run.Message,
				Steps:      report.Summary(run),
				StartedAt:  run.StartedAt,
				FinishedAt: run.FinishedAt,
			})
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"runs": out})
}

// bearerToken returns the token of an "Authorization: Bearer" header.
func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, trigger.Response{
		Success: false,
		Message: msg,
		Steps:   []pipeline.StepResult{},
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("writing response failed", "error", err)
	}
}

// Serve listens on addr until ctx is cancelled, then shuts down
// gracefully, waiting up to grace for in-flight requests.
func Serve(ctx context.Context, addr string, h http.Handler, grace time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
