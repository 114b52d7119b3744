package engine

import (
	"context"
	"log/slog"
	"slices"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
	"github.com/efebarandurmaz/graphsight/internal/synth"
)

// audit re-checks the crawled graph against the image. Every explored node
// is audited once; then nodes whose confirmed incoming edges disagree with
// the graph are audited again until a round changes nothing or the passes
// run out. Findings are appended to the history as audit steps.
func (e *Engine) audit(ctx context.Context, r *run, img *diagram.Image, a strategy.Auditor, log *slog.Logger) outcome {
	r.state = StateAuditing
	targets, foci := r.explored()
	log.Debug("audit started", "nodes", len(targets))

	passes := e.cfg.AuditPasses
	if passes <= 0 {
		passes = DefaultAuditPasses
	}
	for pass := 0; pass <= passes; pass++ {
		if pass > 0 {
			targets = r.inconsistent(foci)
			if len(targets) == 0 {
				log.Debug("audit converged", "pass", pass)
				return outcome{}
			}
		}
		changed, out := e.auditRound(ctx, r, img, a, foci, targets, log)
		switch {
		case out.fatal != nil:
			log.Warn("audit call failed, keeping the crawled graph", "error", out.fatal)
			return outcome{}
		case !out.complete():
			return out
		case pass > 0 && !changed:
			log.Debug("audit settled without converging", "pass", pass)
			return outcome{}
		}
	}
	return outcome{}
}

func (e *Engine) auditRound(ctx context.Context, r *run, img *diagram.Image, a strategy.Auditor,
	foci map[string]diagram.Focus, targets []string, log *slog.Logger) (bool, outcome) {
	changed := false
	for _, id := range targets {
		if ctx.Err() != nil {
			return changed, outcome{cancelled: true}
		}
		if limit := e.overspent(r); limit != "" {
			log.Warn("budget exhausted during audit", "limit", limit)
			return changed, outcome{budget: limit}
		}
		step, err := e.auditNode(ctx, r, img, a, foci[id])
		switch {
		case err != nil && ctx.Err() != nil:
			return changed, outcome{cancelled: true}
		case oracle.IsFatal(err):
			return changed, outcome{fatal: err}
		case err != nil:
			log.Debug("audit reply unusable", "node", id, "error", err)
			continue
		case step == nil:
			continue
		}
		if changes(*step, r.history) {
			changed = true
		}
		r.history = append(r.history, *step)
		r.audits++
		log.Debug("node audited",
			"node", id,
			"added", len(step.Edges),
			"removed", len(step.Removed),
		)
	}
	return changed, outcome{}
}

// auditNode asks the oracle to confirm the edges of one node. It returns a
// nil step when the reply gave no verdict.
func (e *Engine) auditNode(ctx context.Context, r *run, img *diagram.Image, a strategy.Auditor, focus diagram.Focus) (*diagram.StepInterpretation, error) {
	index := len(r.history) + 1
	ctx, span := observability.StartStepSpan(ctx, index, focus.Label)
	defer span.End()

	self, _ := r.resolver.Find(focus.NodeID)
	raw := synth.Merge(r.history)
	names := make(map[string]string, len(raw.Nodes))
	for _, n := range raw.Nodes {
		names[n.ID] = n.Name
	}
	claim := strategy.AuditClaim{Name: names[self.ID], Focus: focus}
	for _, edge := range raw.Edges {
		switch {
		case edge.From == edge.To:
		case edge.From == self.ID:
			claim.Outgoing = appendUnique(claim.Outgoing, names[edge.To])
		case edge.To == self.ID:
			claim.Incoming = appendUnique(claim.Incoming, names[edge.From])
		}
	}

	resp, err := e.oracle.AuditNode(ctx, &oracle.Request{
		Image:        img,
		Focus:        &focus,
		Instructions: a.AuditInstructions(claim),
	})
	if resp != nil {
		r.usage = r.usage.Add(resp.Usage)
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if resp == nil || resp.Confirmed == nil {
		return nil, nil
	}

	step := r.applyAudit(index, self, focus, raw.Edges, resp.Confirmed)
	step.Reasoning = resp.Reasoning
	step.Usage = resp.Usage
	observability.ObserveStep(observability.StepAudited)
	observability.RecordStepResult(span, step.NodeID, len(step.Nodes), len(step.Edges), 0, false, false)
	return step, nil
}

// applyAudit turns a verdict into an audit step: confirmed edges missing
// from the graph are added and outgoing edges left unconfirmed are removed.
// Incoming edges are only ever added; removing them is up to the source
// node's own audit.
func (r *run) applyAudit(index int, self diagram.NodeIdentity, focus diagram.Focus,
	edges []diagram.EdgeRef, c *oracle.Confirmation) *diagram.StepInterpretation {
	step := &diagram.StepInterpretation{
		Index:  index,
		Focus:  focus,
		NodeID: self.ID,
		Nodes:  []diagram.NodeIdentity{self},
		Edges:  []diagram.EdgeRef{},
		Audit:  true,
	}
	seen := map[string]bool{self.ID: true}
	link := func(from, to diagram.NodeIdentity) {
		if from.ID == to.ID || linked(edges, from.ID, to.ID) || linked(step.Edges, from.ID, to.ID) {
			return
		}
		for _, n := range []diagram.NodeIdentity{from, to} {
			if !seen[n.ID] {
				seen[n.ID] = true
				step.Nodes = append(step.Nodes, n)
			}
		}
		step.Edges = append(step.Edges, diagram.EdgeRef{From: from.ID, To: to.ID})
	}

	confirmed := make(map[string]bool)
	for _, ref := range c.Outgoing {
		to := r.endpoint(ref, self, nil)
		confirmed[to.ID] = true
		link(self, to)
	}
	for _, edge := range edges {
		if edge.From == self.ID && edge.To != self.ID && !confirmed[edge.To] {
			step.Removed = append(step.Removed, edge)
		}
	}
	if c.Incoming != nil {
		step.Incoming = []string{}
		for _, ref := range c.Incoming {
			from := r.endpoint(ref, self, nil)
			if from.ID == self.ID {
				continue
			}
			step.Incoming = appendUnique(step.Incoming, from.ID)
			link(from, self)
		}
	}
	return step
}

// explored returns the explored nodes in the order they were read, with
// the focus each was read from.
func (r *run) explored() ([]string, map[string]diagram.Focus) {
	var order []string
	foci := make(map[string]diagram.Focus)
	for _, s := range r.history {
		if s.Skipped || s.Audit {
			continue
		}
		if _, ok := foci[s.NodeID]; !ok {
			order = append(order, s.NodeID)
			foci[s.NodeID] = s.Focus
		}
	}
	return order, foci
}

// inconsistent lists the nodes to audit again: every audited node whose
// latest confirmed incoming edges differ from the graph, plus the explored
// sources of the incoming edges it did not confirm.
func (r *run) inconsistent(foci map[string]diagram.Focus) []string {
	var order []string
	confirmed := make(map[string][]string)
	for _, s := range r.history {
		if !s.Audit || s.Incoming == nil {
			continue
		}
		if _, ok := confirmed[s.NodeID]; !ok {
			order = append(order, s.NodeID)
		}
		confirmed[s.NodeID] = s.Incoming
	}

	incoming := make(map[string][]string)
	for _, edge := range synth.Merge(r.history).Edges {
		if edge.From != edge.To {
			incoming[edge.To] = appendUnique(incoming[edge.To], edge.From)
		}
	}

	var targets []string
	for _, id := range order {
		if sameSet(confirmed[id], incoming[id]) {
			continue
		}
		targets = appendUnique(targets, id)
		for _, src := range incoming[id] {
			if _, ok := foci[src]; ok && !slices.Contains(confirmed[id], src) {
				targets = appendUnique(targets, src)
			}
		}
	}
	return targets
}

// changes reports whether audit step s alters the graph or the incoming
// edges confirmed by the node's previous audit.
func changes(s diagram.StepInterpretation, hist []diagram.StepInterpretation) bool {
	if len(s.Edges) > 0 || len(s.Removed) > 0 {
		return true
	}
	var prev []string
	for _, h := range hist {
		if h.Audit && h.NodeID == s.NodeID {
			prev = h.Incoming
		}
	}
	return !sameSet(prev, s.Incoming)
}

func linked(edges []diagram.EdgeRef, from, to string) bool {
	for _, e := range edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

func appendUnique(list []string, v string) []string {
	if slices.Contains(list, v) {
		return list
	}
	return append(list, v)
}

func sameSet(a, b []string) bool {
	for _, v := range a {
		if !slices.Contains(b, v) {
			return false
		}
	}
	for _, v := range b {
		if !slices.Contains(a, v) {
			return false
		}
	}
	return true
}
