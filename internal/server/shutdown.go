package server

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"
)

// Hook priorities. Lower runs first.
const (
	PriorityHealth  = 5
	PriorityWorker  = 20
	PriorityStores  = 60
	PriorityTracing = 80
	PriorityAudit   = 95
)

const defaultTimeout = 30 * time.Second

// Hook is one cleanup step run on shutdown.
type Hook struct {
	Name     string
	Priority int
	Fn       func(ctx context.Context) error
}

// Shutdown runs registered hooks in priority order once a termination
// signal arrives or Trigger is called.
type Shutdown struct {
	mu      sync.Mutex
	hooks   []Hook
	timeout time.Duration
	signals []os.Signal
	logger  *slog.Logger
	started bool

	triggerCh   chan struct{}
	triggerOnce sync.Once
	doneCh      chan struct{}
	errs        []error
}

// ShutdownOption configures a Shutdown.
type ShutdownOption func(*Shutdown)

// WithTimeout bounds the time all hooks together may take.
func WithTimeout(d time.Duration) ShutdownOption {
	return func(s *Shutdown) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithSignals replaces the default SIGTERM and SIGINT.
func WithSignals(sig ...os.Signal) ShutdownOption {
	return func(s *Shutdown) { s.signals = sig }
}

// WithShutdownLogger sets the logger.
func WithShutdownLogger(l *slog.Logger) ShutdownOption {
	return func(s *Shutdown) { s.logger = l }
}

// NewShutdown creates a handler with a 30 second timeout.
func NewShutdown(opts ...ShutdownOption) *Shutdown {
	s := &Shutdown{
		timeout:   defaultTimeout,
		signals:   []os.Signal{syscall.SIGTERM, syscall.SIGINT},
		logger:    slog.Default(),
		triggerCh: make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds a hook. Hooks with equal priority run in registration order.
func (s *Shutdown) Register(name string, priority int, fn func(ctx context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, Hook{Name: name, Priority: priority, Fn: fn})
	sort.SliceStable(s.hooks, func(i, j int) bool { return s.hooks[i].Priority < s.hooks[j].Priority })
}

// Hooks returns the registered hooks in run order.
func (s *Shutdown) Hooks() []Hook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Hook(nil), s.hooks...)
}

// Start begins watching for signals. Calling it twice is harmless.
func (s *Shutdown) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	sigCh := make(chan os.Signal, 1)
	if len(s.signals) > 0 {
		signal.Notify(sigCh, s.signals...)
	}
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info("shutdown signal received", "signal", sig.String())
		case <-s.triggerCh:
			s.logger.Info("shutdown requested")
		}
		signal.Stop(sigCh)
		s.triggerOnce.Do(func() { close(s.triggerCh) })
		s.run()
	}()
}

// Trigger starts shutdown without a signal. It is a no-op before Start.
func (s *Shutdown) Trigger() {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if !started {
		return
	}
	s.triggerOnce.Do(func() { close(s.triggerCh) })
}

// Triggered is closed when shutdown begins.
func (s *Shutdown) Triggered() <-chan struct{} { return s.triggerCh }

// Done is closed after every hook ran.
func (s *Shutdown) Done() <-chan struct{} { return s.doneCh }

// Wait blocks until every hook ran and returns their errors.
func (s *Shutdown) Wait() []error {
	<-s.doneCh
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func (s *Shutdown) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	for _, h := range s.Hooks() {
		start := time.Now()
		if err := h.Fn(ctx); err != nil {
			s.logger.Error("shutdown hook failed", "hook", h.Name, "error", err)
			s.mu.Lock()
			s.errs = append(s.errs, err)
			s.mu.Unlock()
			continue
		}
		s.logger.Debug("shutdown hook done", "hook", h.Name, "duration", time.Since(start))
	}
	close(s.doneCh)
}

// Graceful ties a HealthServer to a Shutdown: the server stops being ready
// as soon as shutdown begins and is closed first.
type Graceful struct {
	Health   *HealthServer
	Shutdown *Shutdown
}

// NewGraceful wires h and s together.
func NewGraceful(h *HealthServer, s *Shutdown) *Graceful {
	s.Register("health-server", PriorityHealth, h.Shutdown)
	go func() {
		<-s.Triggered()
		h.SetReady(false)
	}()
	return &Graceful{Health: h, Shutdown: s}
}

// Start watches for signals and serves the health endpoint on addr.
func (g *Graceful) Start(addr string) {
	g.Shutdown.Start()
	go func() {
		if err := g.Health.ListenAndServe(addr); err != nil {
			g.Health.logger.Error("health endpoint stopped", "error", err)
			g.Shutdown.Trigger()
		}
	}()
	g.Health.SetReady(true)
}
