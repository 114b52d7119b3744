// Package server runs the worker's operational HTTP endpoint: health probes,
// readiness, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/efebarandurmaz/graphsight/internal/observability"
)

// Status is the health of one dependency or of the whole process.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// DefaultAddr is used when no listen address is configured.
const DefaultAddr = ":8080"

const checkTimeout = 5 * time.Second

// Check is the outcome of probing one dependency.
type Check struct {
	Name    string            `json:"name"`
	Status  Status            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// Report is the body served by the probe endpoints.
type Report struct {
	Status    Status    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
	Checks    []Check   `json:"checks,omitempty"`
}

// Checker probes one dependency.
type Checker func(ctx context.Context) Check

// HealthServer serves /health, /ready, /live (plus their z-suffixed
// aliases) and /metrics.
type HealthServer struct {
	mu      sync.RWMutex
	checks  map[string]Checker
	version string
	ready   bool
	live    bool
	logger  *slog.Logger

	srv *http.Server
}

// HealthOption configures a HealthServer.
type HealthOption func(*HealthServer)

// WithVersion sets the version reported by /health.
func WithVersion(v string) HealthOption {
	return func(s *HealthServer) { s.version = v }
}

// WithHealthLogger sets the logger.
func WithHealthLogger(l *slog.Logger) HealthOption {
	return func(s *HealthServer) { s.logger = l }
}

// NewHealthServer creates a server that is live but not yet ready.
func NewHealthServer(opts ...HealthOption) *HealthServer {
	s := &HealthServer{
		checks: make(map[string]Checker),
		live:   true,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RegisterCheck adds or replaces the checker for name.
func (s *HealthServer) RegisterCheck(name string, c Checker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = c
}

// SetReady marks whether the worker accepts work.
func (s *HealthServer) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLive marks whether the process should be kept running.
func (s *HealthServer) SetLive(live bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = live
}

// Handler returns the routes of the operational endpoint.
func (s *HealthServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/live", s.handleLive)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/readyz", s.handleReady)
	mux.HandleFunc("/livez", s.handleLive)
	mux.Handle("/metrics", observability.MetricsHandler())
	return mux
}

// ListenAndServe blocks serving on addr until Shutdown is called.
func (s *HealthServer) ListenAndServe(addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	s.logger.Info("health endpoint listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a running ListenAndServe. It is a no-op before the
// server started.
func (s *HealthServer) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	srv := s.srv
	s.mu.RUnlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Run executes every registered check and folds them into one report.
// Any unhealthy check makes the report unhealthy; a degraded one only
// degrades it.
func (s *HealthServer) Run(ctx context.Context) Report {
	s.mu.RLock()
	names := make([]string, 0, len(s.checks))
	checks := make(map[string]Checker, len(s.checks))
	for name, c := range s.checks {
		names = append(names, name)
		checks[name] = c
	}
	version := s.version
	s.mu.RUnlock()
	sort.Strings(names)

	rep := Report{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Version:   version,
		Checks:    make([]Check, 0, len(names)),
	}
	for _, name := range names {
		c := checks[name](ctx)
		c.Name = name
		rep.Checks = append(rep.Checks, c)
		switch {
		case c.Status == StatusUnhealthy:
			rep.Status = StatusUnhealthy
		case c.Status == StatusDegraded && rep.Status == StatusHealthy:
			rep.Status = StatusDegraded
		}
	}
	return rep
}

func (s *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
	defer cancel()

	rep := s.Run(ctx)
	code := http.StatusOK
	if rep.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
		s.logger.Warn("health check failed", "checks", len(rep.Checks))
	}
	s.writeJSON(w, code, rep)
}

func (s *HealthServer) handleReady(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ok := s.ready
	s.mu.RUnlock()
	s.probe(w, ok)
}

func (s *HealthServer) handleLive(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	ok := s.live
	s.mu.RUnlock()
	s.probe(w, ok)
}

func (s *HealthServer) probe(w http.ResponseWriter, ok bool) {
	rep := Report{Status: StatusHealthy, Timestamp: time.Now().UTC()}
	if !ok {
		rep.Status = StatusUnhealthy
		s.writeJSON(w, http.StatusServiceUnavailable, rep)
		return
	}
	s.writeJSON(w, http.StatusOK, rep)
}

func (s *HealthServer) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("write health response", "error", err)
	}
}

// PingChecker reports unhealthy when ping fails. It suits hard
// dependencies such as the Temporal frontend.
func PingChecker(what string, ping func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		if err := ping(ctx); err != nil {
			return Check{Status: StatusUnhealthy, Message: what + " unreachable: " + err.Error()}
		}
		return Check{Status: StatusHealthy, Message: what + " reachable"}
	}
}

// OracleChecker reports the configured vision provider. A failing probe
// only degrades health since runs still end with partial results.
func OracleChecker(provider, model string, probe func(ctx context.Context) error) Checker {
	return func(ctx context.Context) Check {
		details := map[string]string{"provider": provider, "model": model}
		if probe == nil {
			return Check{Status: StatusHealthy, Message: "oracle configured", Details: details}
		}
		if err := probe(ctx); err != nil {
			return Check{Status: StatusDegraded, Message: "oracle degraded: " + err.Error(), Details: details}
		}
		return Check{Status: StatusHealthy, Message: "oracle reachable", Details: details}
	}
}

// BridgeChecker reports whether the Mermaid syntax bridge can run.
// Validation is optional, so a missing bridge degrades health.
func BridgeChecker(available func() bool) Checker {
	return func(context.Context) Check {
		if !available() {
			return Check{Status: StatusDegraded, Message: "mermaid bridge unavailable, results are not validated"}
		}
		return Check{Status: StatusHealthy, Message: "mermaid bridge available"}
	}
}
