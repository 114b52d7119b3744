// Package app assembles a Pipeline and its backing services from
// configuration. Both cmd/graphsight and cmd/worker build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/bridge"
	"github.com/efebarandurmaz/graphsight/internal/config"
	"github.com/efebarandurmaz/graphsight/internal/detector"
	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/engine"
	"github.com/efebarandurmaz/graphsight/internal/graph"
	neo4jrepo "github.com/efebarandurmaz/graphsight/internal/graph/neo4j"
	"github.com/efebarandurmaz/graphsight/internal/identity"
	"github.com/efebarandurmaz/graphsight/internal/llm"
	"github.com/efebarandurmaz/graphsight/internal/llmutil"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/pipeline"
	"github.com/efebarandurmaz/graphsight/internal/secrets"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
	"github.com/efebarandurmaz/graphsight/internal/vector"
	"github.com/efebarandurmaz/graphsight/internal/vector/qdrant"
)

// ErrNoProvider is returned when the configuration names no oracle provider.
var ErrNoProvider = errors.New("no LLM provider configured")

// Version is reported by traces and the worker health endpoint.
var Version = "0.1.0"

// App is a fully wired Pipeline plus the resources it holds open.
type App struct {
	Config   *config.Config
	Pipeline *pipeline.Pipeline
	Provider llm.Provider
	Bridge   *bridge.Bridge
	Graphs   graph.Repository
	Index    *vector.Embedder
	Cache    *llm.ResponseCache
	Logger   *slog.Logger

	secrets *secrets.Manager
	audit   *observability.AuditLogger
	closers []closer
}

type closer struct {
	name string
	fn   func(ctx context.Context) error
}

// Option configures New.
type Option func(*App)

// WithAudit records run and oracle events to a.
func WithAudit(a *observability.AuditLogger) Option {
	return func(app *App) { app.audit = a }
}

// WithSecrets replaces the environment-backed secrets manager.
func WithSecrets(m *secrets.Manager) Option {
	return func(app *App) { app.secrets = m }
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// EngineConfig translates the engine section.
func EngineConfig(c config.EngineConfig) (engine.Config, error) {
	trav, err := engine.ParseTraversal(c.Traversal)
	if err != nil {
		return engine.Config{}, err
	}
	mode, err := identity.ParseMode(c.IdentityMode)
	if err != nil {
		return engine.Config{}, err
	}
	cfg := engine.DefaultConfig()
	cfg.Traversal = trav
	cfg.Identity.Mode = mode
	if c.Tolerance > 0 {
		cfg.Identity.Tolerance = c.Tolerance
	}
	if c.MaxSteps > 0 {
		cfg.Budget.MaxSteps = c.MaxSteps
	}
	cfg.Budget.MaxIterations = c.MaxIterations
	cfg.Budget.MaxCost = c.MaxCost
	cfg.Budget.MaxCalls = c.MaxCalls
	cfg.Audit = c.Audit
	cfg.AuditPasses = c.AuditPasses
	return cfg, nil
}

// Registry builds the strategy registry from the engine section.
func Registry(c config.EngineConfig) *strategy.Registry {
	r := strategy.DefaultRegistry(strategy.Options{
		UseGrid:       c.UseGrid,
		HistoryWindow: c.HistoryWindow,
	}, c.Structured)
	r.SetFallback(diagram.ParseDiagramType(c.FallbackType))
	return r
}

// NewBridge returns the syntax bridge, installing the embedded parser
// script under the user cache directory when none is configured.
func NewBridge(c config.BridgeConfig, logger *slog.Logger) (*bridge.Bridge, error) {
	script := c.Script
	if script == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			dir = os.TempDir()
		}
		script, err = bridge.WriteScript(filepath.Join(dir, "graphsight", "bridge"))
		if err != nil {
			return nil, fmt.Errorf("install bridge script: %w", err)
		}
	}
	return bridge.New(script,
		bridge.WithCommand(c.Command),
		bridge.WithTimeout(c.Timeout),
		bridge.WithLogger(logger),
	), nil
}

// New wires every configured component. Stores and tracing are only
// connected when their section names an endpoint.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{Config: cfg, Logger: logger}
	for _, o := range opts {
		o(a)
	}
	if a.secrets == nil {
		a.secrets = secrets.NewManager()
	}
	if a.audit != nil {
		a.onClose("audit", func(context.Context) error { return a.audit.Close() })
	}
	if err := a.build(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if cfg.Tracing.Enabled {
		tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
			ServiceName:    cfg.Tracing.ServiceName,
			ServiceVersion: Version,
			OTLPEndpoint:   cfg.Tracing.Endpoint,
			Insecure:       cfg.Tracing.Insecure,
			SampleRate:     cfg.Tracing.SampleRate,
		})
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		a.onClose("tracing", tp.Shutdown)
	}

	if cfg.Cache.Enabled {
		cache, err := llm.OpenCache(llm.CacheConfig{Path: cfg.Cache.Path, TTL: cfg.Cache.TTL, Logger: a.Logger})
		if err != nil {
			return err
		}
		a.Cache = cache
		a.onClose("cache", func(context.Context) error { return cache.Close() })
	}

	factory := llm.NewFactory()
	llmutil.RegisterDefaultProviders(factory)

	base, provider, err := a.oracle(ctx, factory, cfg.LLM)
	if err != nil {
		return err
	}
	a.Provider = provider
	routed := &oracle.Routed{Default: base}
	if cfg.LLM.HasRole(config.RoleRefine) {
		if routed.Refiner, _, err = a.oracle(ctx, factory, cfg.LLM.ResolveForRole(config.RoleRefine)); err != nil {
			return fmt.Errorf("refine role: %w", err)
		}
	}
	if cfg.LLM.HasRole(config.RoleDetector) {
		if routed.Classifier, _, err = a.oracle(ctx, factory, cfg.LLM.ResolveForRole(config.RoleDetector)); err != nil {
			return fmt.Errorf("detector role: %w", err)
		}
	}

	ecfg, err := EngineConfig(cfg.Engine)
	if err != nil {
		return err
	}
	eng := engine.New(routed, engine.WithConfig(ecfg), engine.WithLogger(a.Logger))

	fallback := diagram.ParseDiagramType(cfg.Engine.FallbackType)
	popts := []pipeline.Option{
		pipeline.WithRegistry(Registry(cfg.Engine)),
		pipeline.WithDetector(detector.New(routed, detector.WithFallback(fallback), detector.WithLogger(a.Logger))),
		pipeline.WithLogger(a.Logger),
		pipeline.WithModel(cfg.LLM.Model),
		pipeline.WithAudit(a.audit),
	}

	if cfg.Bridge.Enabled {
		b, err := NewBridge(cfg.Bridge, a.Logger)
		if err != nil {
			return err
		}
		if !b.Available() {
			a.Logger.Warn("mermaid bridge enabled but unavailable, results will not be validated", "command", cfg.Bridge.Command)
		}
		a.Bridge = b
		popts = append(popts, pipeline.WithBridge(b))
	}

	if cfg.Graph.URI != "" {
		password := cfg.Graph.Password
		if password == "" {
			password = a.secrets.GetOrDefault(ctx, secrets.Neo4jPassword, "")
		}
		repo, err := neo4jrepo.NewNeo4j(ctx, cfg.Graph.URI, cfg.Graph.Username, password)
		if err != nil {
			return fmt.Errorf("graph store: %w", err)
		}
		a.Graphs = repo
		a.onClose("neo4j", repo.Close)
		popts = append(popts, pipeline.WithGraphStore(repo))
	}

	if cfg.Vector.Host != "" {
		repo, err := qdrant.NewQdrant(ctx, cfg.Vector.Host, cfg.Vector.Port, cfg.Vector.Collection, cfg.Vector.Dimension,
			qdrant.WithAPIKey(a.secrets.GetOrDefault(ctx, secrets.QdrantAPIKey, "")))
		if err != nil {
			return fmt.Errorf("vector index: %w", err)
		}
		a.onClose("qdrant", func(context.Context) error { return repo.Close() })
		a.Index = vector.NewEmbedder(provider, repo)
		popts = append(popts, pipeline.WithIndex(a.Index))
	}

	a.Pipeline = pipeline.New(eng, popts...)
	a.Logger.Debug("pipeline ready",
		"provider", cfg.LLM.Provider,
		"model", cfg.LLM.Model,
		"traversal", ecfg.Traversal,
		"max_steps", ecfg.Budget.MaxSteps,
		"graph_store", a.Graphs != nil,
		"index", a.Index != nil,
	)
	return nil
}

// oracle creates a provider for lc, applies the shared cache, and wraps it
// in an LLMOracle.
func (a *App) oracle(ctx context.Context, factory *llm.ProviderFactory, lc config.LLMConfig) (oracle.VisionOracle, llm.Provider, error) {
	key, err := a.secrets.APIKey(ctx, lc.Provider, lc.APIKey)
	if err != nil {
		return nil, nil, err
	}
	pc := lc.ProviderConfig()
	pc.APIKey = key
	p, err := factory.Create(pc)
	if err != nil {
		return nil, nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if p == nil {
		return nil, nil, ErrNoProvider
	}
	if a.Cache != nil {
		p = llm.WithCache(p, a.Cache, lc.Model, a.Logger)
	}
	o := oracle.NewLLMOracle(p, lc.Model,
		oracle.WithLogger(a.Logger),
		oracle.WithAudit(a.audit),
		oracle.WithTemperature(float32(lc.Temperature)),
		oracle.WithMaxTokens(lc.MaxTokens),
	)
	return o, p, nil
}

// Audit returns the audit logger, or nil when auditing is off.
func (a *App) Audit() *observability.AuditLogger { return a.audit }

func (a *App) onClose(name string, fn func(ctx context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
