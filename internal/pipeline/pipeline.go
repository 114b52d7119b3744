// Package pipeline is the public entry point: it takes an image through
// detection, strategy selection, traversal and synthesis, then hands the
// result to the optional validation, storage and indexing stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/efebarandurmaz/graphsight/internal/bridge"
	"github.com/efebarandurmaz/graphsight/internal/detector"
	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/engine"
	"github.com/efebarandurmaz/graphsight/internal/graph"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
	"github.com/efebarandurmaz/graphsight/internal/vector"
)

// ErrNoImage is returned when a request carries no image.
var ErrNoImage = errors.New("no image to interpret")

// DefaultConcurrency bounds InterpretBatch when no limit is given.
const DefaultConcurrency = 4

// Request describes one interpretation.
type Request struct {
	Image  *diagram.Image
	Format diagram.OutputFormat
	// Type skips detection when set to a known diagram type.
	Type diagram.DiagramType
}

// Pipeline wires the stages together. It is safe for concurrent use.
type Pipeline struct {
	engine   *engine.Engine
	detector *detector.Detector
	registry *strategy.Registry
	bridge   *bridge.Bridge
	graphs   graph.Repository
	index    *vector.Embedder
	audit    *observability.AuditLogger
	logger   *slog.Logger
	model    string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithDetector sets the detector used when a request has no type.
func WithDetector(d *detector.Detector) Option {
	return func(p *Pipeline) { p.detector = d }
}

// WithRegistry replaces the default strategy registry.
func WithRegistry(r *strategy.Registry) Option {
	return func(p *Pipeline) { p.registry = r }
}

// WithBridge validates Mermaid output through b when it is available.
func WithBridge(b *bridge.Bridge) Option {
	return func(p *Pipeline) { p.bridge = b }
}

// WithGraphStore persists every result to repo.
func WithGraphStore(repo graph.Repository) Option {
	return func(p *Pipeline) { p.graphs = repo }
}

// WithIndex adds every result to the similarity index.
func WithIndex(e *vector.Embedder) Option {
	return func(p *Pipeline) { p.index = e }
}

// WithAudit records run events to a.
func WithAudit(a *observability.AuditLogger) Option {
	return func(p *Pipeline) { p.audit = a }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithModel records the model name on results.
func WithModel(name string) Option {
	return func(p *Pipeline) { p.model = name }
}

// New creates a Pipeline around e.
func New(e *engine.Engine, opts ...Option) *Pipeline {
	p := &Pipeline{
		engine:   e,
		registry: strategy.DefaultRegistry(strategy.Options{}, false),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Interpret detects the diagram type of img and renders it in format.
func (p *Pipeline) Interpret(ctx context.Context, img *diagram.Image, format diagram.OutputFormat) (*diagram.Result, error) {
	return p.Run(ctx, Request{Image: img, Format: format})
}

// Run performs one interpretation.
func (p *Pipeline) Run(ctx context.Context, req Request) (*diagram.Result, error) {
	if req.Image == nil || len(req.Image.Data) == 0 {
		return nil, ErrNoImage
	}
	if req.Format == "" {
		req.Format = diagram.Mermaid
	}
	start := time.Now()
	runID := uuid.NewString()
	name := req.Image.Name()
	log := p.logger.With("run_id", runID, "image", name)
	p.audit.LogRunStart(ctx, runID, name, string(req.Format))

	fail := func(err error) (*diagram.Result, error) {
		p.audit.LogRunError(ctx, runID, name, err)
		observability.ObserveRun(string(req.Type), string(engine.StateFailed), 0, time.Since(start))
		return nil, err
	}

	var detection diagram.Usage
	if req.Type == "" || req.Type == diagram.Unknown {
		if p.detector == nil {
			req.Type = diagram.Flowchart
		} else {
			det, err := p.detector.Classify(ctx, req.Image)
			detection = det.Usage
			switch {
			case err != nil && ctx.Err() != nil:
				log.Info("run cancelled during detection")
				det.Type = diagram.Flowchart
			case err != nil:
				return fail(fmt.Errorf("detect diagram type: %w", err))
			}
			req.Type = det.Type
		}
	}

	s, fellBack, err := p.registry.Lookup(req.Type)
	if err != nil {
		return fail(err)
	}
	if fellBack {
		log.Warn("no strategy for diagram type, using fallback", "type", req.Type, "strategy", s.Name())
	}
	log.Info("interpreting", "type", req.Type, "strategy", s.Name(), "format", req.Format)

	res, err := p.engine.Run(ctx, req.Image, s, req.Format, engine.WithSpent(detection))
	if err != nil {
		return fail(err)
	}
	res.RunID = runID
	res.Model = p.model

	if ctx.Err() == nil {
		p.validate(ctx, res, log)
		p.store(ctx, res, req.Image, log)
	}

	res.Duration = time.Since(start)
	observability.ObserveRun(string(res.DiagramType), res.State, res.ApproximateCost, res.Duration)
	p.audit.LogRunComplete(ctx, runID, name, string(res.DiagramType), res.Duration, res.CallCount, res.ApproximateCost, res.IsPartial)
	return res, nil
}

func (p *Pipeline) validate(ctx context.Context, res *diagram.Result, log *slog.Logger) {
	if p.bridge == nil || res.Format != diagram.Mermaid || !p.bridge.Available() {
		return
	}
	v, err := p.bridge.Validate(ctx, res.Content)
	if err != nil {
		log.Warn("mermaid validation skipped", "error", err)
		return
	}
	res.Validation = v
	if !v.Valid() {
		log.Warn("generated mermaid does not parse", "error", v.Error)
	}
}

// store hands res to the graph store and the index. Failures are logged;
// the interpretation itself already succeeded.
func (p *Pipeline) store(ctx context.Context, res *diagram.Result, img *diagram.Image, log *slog.Logger) {
	if p.graphs != nil {
		if err := p.graphs.StoreDiagram(ctx, graph.FromResult(res, img)); err != nil {
			log.Warn("storing diagram graph failed", "error", err)
		} else {
			p.audit.LogResultExport(ctx, res.RunID, "graph", len(res.Nodes))
		}
	}
	if p.index != nil && len(res.Nodes) > 0 {
		if err := p.index.IndexResult(ctx, res, img.Name()); err != nil {
			log.Warn("indexing diagram failed", "error", err)
		} else {
			p.audit.LogResultExport(ctx, res.RunID, "vector", len(res.Content))
		}
	}
}

// BatchItem is the outcome of one image in a batch.
type BatchItem struct {
	Image  string
	Result *diagram.Result
	Err    error
}

// InterpretBatch runs independent interpretations concurrently, at most
// concurrency at a time. One failure does not stop the others; the returned
// items follow the order of reqs.
func (p *Pipeline) InterpretBatch(ctx context.Context, reqs []Request, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	items := make([]BatchItem, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, req := range reqs {
		if req.Image != nil {
			items[i].Image = req.Image.Name()
		}
		g.Go(func() error {
			res, err := p.Run(gctx, req)
			items[i].Result, items[i].Err = res, err
			return nil
		})
	}
	_ = g.Wait()
	return items
}

// EngineConfig returns the configuration of the underlying engine.
func (p *Pipeline) EngineConfig() engine.Config { return p.engine.Config() }
