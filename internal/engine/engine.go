// Package engine drives the step-by-step traversal of a diagram: it keeps
// the frontier of pending foci, asks the oracle about one focus at a time,
// resolves what it reports into stable node identities, and hands the
// collected steps to synthesis.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/identity"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
	"github.com/efebarandurmaz/graphsight/internal/synth"
)

// State is the lifecycle position of a run.
type State string

const (
	StateInit      State = "init"
	StateExploring State = "exploring"
	StateAuditing  State = "auditing"
	StateDraining  State = "draining"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

// Engine runs traversals. It holds no per-run state, so one Engine may
// serve concurrent runs.
type Engine struct {
	oracle oracle.VisionOracle
	synth  *synth.Synthesizer
	cfg    Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithConfig replaces the default configuration.
func WithConfig(c Config) Option {
	return func(e *Engine) { e.cfg = c }
}

// New creates an Engine that consults o.
func New(o oracle.VisionOracle, opts ...Option) *Engine {
	e := &Engine{oracle: o, cfg: DefaultConfig(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	e.cfg.Budget = e.cfg.Budget.withDefaults()
	if e.cfg.Traversal == "" {
		e.cfg.Traversal = DFS
	}
	e.synth = synth.New(e.logger)
	return e
}

// Config returns the effective configuration.
func (e *Engine) Config() Config { return e.cfg }

// run is the mutable state of one traversal.
type run struct {
	resolver  *identity.Resolver
	traversal Traversal
	frontier  []diagram.Focus
	visited   map[string]bool
	history   []diagram.StepInterpretation
	usage     diagram.Usage

	steps      int
	audits     int
	skips      int
	iterations int
	state      State
}

// RunOption adjusts a single Run.
type RunOption func(*run)

// WithSpent seeds the run with usage spent before the traversal, such as a
// detection call, so that cost and call budgets count it.
func WithSpent(u diagram.Usage) RunOption {
	return func(r *run) { r.usage = r.usage.Add(u) }
}

// Run interprets img with s and renders the result in format.
//
// Cancellation and exhausted budgets end the traversal early and yield a
// Result flagged IsPartial. A fatal oracle error yields a partial Result
// when at least one step succeeded and an error otherwise.
func (e *Engine) Run(ctx context.Context, img *diagram.Image, s strategy.Strategy, format diagram.OutputFormat, opts ...RunOption) (*diagram.Result, error) {
	start := time.Now()
	ctx, span := observability.StartInterpretSpan(ctx, img.Name(), string(format))
	defer span.End()

	log := e.logger.With("image", img.Name(), "strategy", s.Name())
	r := &run{
		resolver:  identity.New(e.cfg.Identity),
		traversal: e.cfg.Traversal,
		visited:   make(map[string]bool),
		state:     StateInit,
	}
	for _, o := range opts {
		o(r)
	}

	if ctx.Err() != nil {
		log.Info("run cancelled before the first step")
		return e.finish(ctx, span, r, img, s, format, start, outcome{cancelled: true}), nil
	}

	foci, usage, err := s.FindInitialFocus(ctx, e.oracle, img)
	r.usage = r.usage.Add(usage)
	switch {
	case err != nil && ctx.Err() != nil:
		log.Info("run cancelled before the first step")
		return e.finish(ctx, span, r, img, s, format, start, outcome{cancelled: true}), nil
	case err != nil:
		observability.RecordError(span, err)
		return nil, fmt.Errorf("engine: find initial focus: %w", err)
	case len(foci) == 0:
		observability.RecordError(span, ErrNoInitialFocus)
		return nil, ErrNoInitialFocus
	}

	for i, f := range foci {
		id, _ := r.resolver.ResolveFocus(f)
		foci[i].NodeID = id.ID
	}
	r.push(foci...)
	log.Debug("traversal started", "initial_foci", len(r.frontier), "traversal", e.cfg.Traversal)

	r.state = StateExploring
	out := e.explore(ctx, r, img, s, log)
	if out.fatal != nil {
		if r.steps == 0 {
			observability.RecordError(span, out.fatal)
			return nil, fmt.Errorf("engine: %w", out.fatal)
		}
		log.Warn("oracle failed mid-traversal, returning partial result", "steps", r.steps, "error", out.fatal)
	}
	if a, ok := s.(strategy.Auditor); ok && e.cfg.Audit && out.complete() {
		out = e.audit(ctx, r, img, a, log)
	}
	return e.finish(ctx, span, r, img, s, format, start, out), nil
}

// outcome is how exploration ended.
type outcome struct {
	cancelled bool
	// budget names the exhausted limit, empty if none was hit.
	budget string
	fatal  error
}

// complete reports whether the crawl ran out of foci on its own.
func (o outcome) complete() bool {
	return !o.cancelled && o.budget == "" && o.fatal == nil
}

func (o outcome) String() string {
	switch {
	case o.fatal != nil:
		return o.fatal.Error()
	case o.cancelled:
		return "cancelled"
	case o.budget != "":
		return fmt.Sprintf("%s: %s", ErrBudgetExceeded, o.budget)
	}
	return ""
}

func (e *Engine) explore(ctx context.Context, r *run, img *diagram.Image, s strategy.Strategy, log *slog.Logger) outcome {
	for len(r.frontier) > 0 {
		if ctx.Err() != nil {
			return outcome{cancelled: true}
		}
		if limit := e.exhausted(r); limit != "" {
			log.Warn("budget exhausted", "limit", limit, "pending", len(r.frontier))
			return outcome{budget: limit}
		}

		focus := r.pop()
		r.iterations++

		if r.visited[focus.NodeID] {
			r.skips++
			r.history = append(r.history, diagram.StepInterpretation{
				Index:    len(r.history) + 1,
				Focus:    focus,
				NodeID:   focus.NodeID,
				SourceID: focus.Origin,
				Nodes:    []diagram.NodeIdentity{},
				Edges:    []diagram.EdgeRef{},
				Skipped:  true,
			})
			observability.ObserveStep(observability.StepSkipped)
			log.Debug("revisit skipped", "node", focus.NodeID)
			continue
		}

		step, err := e.step(ctx, r, img, s, focus)
		if err != nil {
			if ctx.Err() != nil {
				return outcome{cancelled: true}
			}
			return outcome{fatal: err}
		}
		r.history = append(r.history, step)
		r.visited[step.NodeID] = true
		pending := make([]diagram.Focus, 0, len(step.Next))
		for _, next := range step.Next {
			if !r.visited[next.NodeID] {
				pending = append(pending, next)
			}
		}
		r.push(pending...)
		log.Debug("step interpreted",
			"index", step.Index,
			"node", step.NodeID,
			"edges", len(step.Edges),
			"next", len(step.Next),
			"pending", len(r.frontier),
		)
	}
	return outcome{}
}

// exhausted names the first budget limit reached, or returns "".
func (e *Engine) exhausted(r *run) string {
	b := e.cfg.Budget
	switch {
	case r.steps >= b.MaxSteps:
		return fmt.Sprintf("max steps (%d)", b.MaxSteps)
	case r.iterations >= b.MaxIterations:
		return fmt.Sprintf("max iterations (%d)", b.MaxIterations)
	}
	return e.overspent(r)
}

// overspent names the cost or call limit reached, or returns "".
func (e *Engine) overspent(r *run) string {
	b := e.cfg.Budget
	switch {
	case b.MaxCost > 0 && r.usage.Cost >= b.MaxCost:
		return fmt.Sprintf("max cost ($%.4f)", b.MaxCost)
	case b.MaxCalls > 0 && r.usage.Calls >= b.MaxCalls:
		return fmt.Sprintf("max calls (%d)", b.MaxCalls)
	}
	return ""
}

// step asks the oracle about focus and resolves its reply. Malformed
// replies become an empty step; any other oracle error is returned.
func (e *Engine) step(ctx context.Context, r *run, img *diagram.Image, s strategy.Strategy, focus diagram.Focus) (diagram.StepInterpretation, error) {
	index := len(r.history) + 1
	ctx, span := observability.StartStepSpan(ctx, index, focus.Label)
	defer span.End()

	self, _ := r.resolver.Find(focus.NodeID)
	step := diagram.StepInterpretation{
		Index:    index,
		Focus:    focus,
		NodeID:   focus.NodeID,
		SourceID: focus.Origin,
		Nodes:    []diagram.NodeIdentity{self},
		Edges:    []diagram.EdgeRef{},
	}

	payload := history.Build(r.history, s.ContextSpec())
	resp, err := e.oracle.InterpretStep(ctx, &oracle.Request{
		Image:        img,
		Focus:        &focus,
		Instructions: s.StepInstructions(focus, payload),
		Context:      payload,
	})
	if resp != nil {
		step.Usage = resp.Usage
		r.usage = r.usage.Add(resp.Usage)
	}
	if oracle.IsFatal(err) {
		observability.RecordError(span, err)
		return step, err
	}
	r.steps++

	var d strategy.Draft
	if err == nil {
		d, err = s.InterpretStep(resp, focus)
	}
	if err != nil {
		e.logger.Warn("step reply unusable, recording empty step", "index", index, "node", focus.NodeID, "error", err)
		step.Malformed = true
		observability.ObserveStep(observability.StepMalformed)
		observability.RecordStepResult(span, step.NodeID, 1, 0, 0, false, true)
		return step, nil
	}

	r.apply(&step, self, d)
	observability.ObserveStep(observability.StepExplored)
	observability.RecordStepResult(span, step.NodeID, len(step.Nodes), len(step.Edges), len(step.Next), false, false)
	return step, nil
}

// apply resolves a draft into identities and fills in step.
func (r *run) apply(step *diagram.StepInterpretation, self diagram.NodeIdentity, d strategy.Draft) {
	seen := map[string]bool{self.ID: true}
	add := func(id diagram.NodeIdentity) {
		if !seen[id.ID] {
			seen[id.ID] = true
			step.Nodes = append(step.Nodes, id)
		}
	}

	// local maps the reply's own references to identity IDs.
	local := make(map[string]string)
	for _, m := range d.Nodes {
		var id diagram.NodeIdentity
		if m.Key != "" && m.Key == step.Focus.ID && !m.Revisit {
			id = self
		} else {
			id, _ = r.resolver.Resolve(m)
		}
		if m.Key != "" {
			local[m.Key] = id.ID
		}
		if _, ok := local[m.Label]; !ok && m.Label != "" {
			local[m.Label] = id.ID
		}
		add(id)
	}

	// Next foci are resolved before edges so that an edge naming a focus
	// by its ID lands on the node the focus location picked.
	for _, f := range d.Next {
		var id diagram.NodeIdentity
		if ref, ok := local[f.ID]; ok && f.ID != "" {
			id, _ = r.resolver.Find(ref)
		} else {
			id, _ = r.resolver.ResolveFocus(f)
			if f.ID != "" {
				local[f.ID] = id.ID
			}
		}
		if _, ok := local[f.Label]; !ok && f.Label != "" {
			local[f.Label] = id.ID
		}
		if id.ID == self.ID {
			continue
		}
		f.NodeID = id.ID
		f.Origin = self.ID
		step.Next = append(step.Next, f)
	}

	edges := make(map[string]bool)
	for _, em := range d.Edges {
		from := r.endpoint(em.From, self, local)
		to := r.endpoint(em.To, self, local)
		if from.ID == to.ID && em.Label == "" {
			continue
		}
		ref := diagram.EdgeRef{From: from.ID, To: to.ID, Label: strings.TrimSpace(em.Label)}
		if edges[ref.Key()] {
			continue
		}
		edges[ref.Key()] = true
		add(from)
		add(to)
		step.Edges = append(step.Edges, ref)
	}

	step.Reasoning = d.Reasoning
	step.Terminal = d.Terminal
}

// endpoint resolves an edge reference. Empty references and references to
// the focus mean the focus node; unknown references mint a node.
func (r *run) endpoint(ref string, self diagram.NodeIdentity, local map[string]string) diagram.NodeIdentity {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == self.ID {
		return self
	}
	if id, ok := local[ref]; ok {
		if found, ok := r.resolver.Find(id); ok {
			return found
		}
	}
	if found, ok := r.resolver.Find(ref); ok {
		return found
	}
	if diagram.NormalizeLabel(ref) == diagram.NormalizeLabel(self.Label) {
		return self
	}
	label := ref
	if rest, ok := strings.CutPrefix(ref, "node_"); ok {
		label = strings.ReplaceAll(rest, "_", " ")
	}
	id, _ := r.resolver.Resolve(diagram.NodeMention{Label: label})
	return id
}

// push adds foci to the frontier so that, for either traversal, they are
// popped in the order given.
func (r *run) push(foci ...diagram.Focus) {
	if r.traversal == BFS {
		r.frontier = append(r.frontier, foci...)
		return
	}
	for i := len(foci) - 1; i >= 0; i-- {
		r.frontier = append(r.frontier, foci[i])
	}
}

// pop takes the oldest focus for BFS and the newest for DFS.
func (r *run) pop() diagram.Focus {
	if r.traversal == BFS {
		f := r.frontier[0]
		r.frontier = r.frontier[1:]
		return f
	}
	f := r.frontier[len(r.frontier)-1]
	r.frontier = r.frontier[:len(r.frontier)-1]
	return f
}

// finish synthesizes whatever the traversal gathered into a Result.
func (e *Engine) finish(ctx context.Context, span trace.Span, r *run, img *diagram.Image, s strategy.Strategy,
	format diagram.OutputFormat, start time.Time, out outcome) *diagram.Result {
	r.state = StateDraining
	partial := out.cancelled || out.fatal != nil || (out.budget != "" && len(r.frontier) > 0)
	costCapped := e.cfg.Budget.MaxCost > 0 && r.usage.Cost >= e.cfg.Budget.MaxCost
	callCapped := e.cfg.Budget.MaxCalls > 0 && r.usage.Calls >= e.cfg.Budget.MaxCalls
	refine := !partial && !e.cfg.SkipRefine && !costCapped && !callCapped

	syn := e.synth.Synthesize(ctx, e.oracle, img, s, r.history, format, refine)
	r.usage = r.usage.Add(syn.Usage)

	r.state = StateDone
	if out.fatal != nil {
		r.state = StateFailed
	}

	res := &diagram.Result{
		DiagramType:     s.Type(),
		Format:          format,
		Content:         syn.Content,
		RawContent:      syn.RawContent,
		CallCount:       r.usage.Calls,
		ApproximateCost: r.usage.Cost,
		Usage:           r.usage,
		IsPartial:       partial,
		Degraded:        syn.Degraded,
		State:           string(r.state),
		Steps:           r.steps,
		Skips:           r.skips,
		Audits:          r.audits,
		Failure:         out.String(),
		Nodes:           syn.Raw.Nodes,
		Edges:           syn.Raw.Edges,
		Duration:        time.Since(start),
		History:         r.history,
	}
	if syn.Err != nil && res.Failure == "" {
		res.Failure = syn.Err.Error()
	}

	observability.RecordInterpretResult(span, string(res.DiagramType), res.Steps, res.Skips, res.CallCount, res.ApproximateCost, res.IsPartial)
	e.logger.Info("traversal finished",
		"image", img.Name(),
		"strategy", s.Name(),
		"state", res.State,
		"steps", res.Steps,
		"skips", res.Skips,
		"nodes", len(res.Nodes),
		"edges", len(res.Edges),
		"calls", res.CallCount,
		"cost", res.ApproximateCost,
		"partial", res.IsPartial,
	)
	return res
}

// IsBudgetFailure reports whether res stopped on a budget limit.
func IsBudgetFailure(res *diagram.Result) bool {
	return res != nil && strings.HasPrefix(res.Failure, ErrBudgetExceeded.Error())
}
