// Package synth merges the fragments of a traversal into one result: a
// deterministic raw merge, then an optional oracle-assisted rewrite.
package synth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// ErrSynthesisFailure marks a refinement that failed; the raw rendering is
// used instead.
var ErrSynthesisFailure = errors.New("synthesis failed")

// Renderer is the part of a strategy synthesis needs.
type Renderer interface {
	Name() string
	Synthesize(raw diagram.RawResult, format diagram.OutputFormat) string
	RefineInstructions(raw, trace string, format diagram.OutputFormat) string
	Refines() bool
}

// Output is what synthesis produced.
type Output struct {
	Raw        diagram.RawResult
	RawContent string
	Content    string
	Refined    bool
	Degraded   bool
	Usage      diagram.Usage
	// Err is the refinement failure behind Degraded, wrapped in
	// ErrSynthesisFailure.
	Err error
}

// Merge concatenates the fragments of every step, dropping duplicate nodes
// (by identity) and duplicate edges (by source, destination and label).
// Order is first discovery. Edges an audit step removed are dropped unless
// a later step adds them back.
func Merge(hist []diagram.StepInterpretation) diagram.RawResult {
	var ids []diagram.NodeIdentity
	seen := make(map[string]bool)
	for _, s := range hist {
		for _, n := range s.Nodes {
			if seen[n.ID] {
				continue
			}
			seen[n.ID] = true
			ids = append(ids, n)
		}
	}
	names := diagram.DisplayNames(ids)

	raw := diagram.RawResult{
		Nodes: make([]diagram.NodeRef, 0, len(ids)),
		Edges: []diagram.EdgeRef{},
	}
	for _, n := range ids {
		raw.Nodes = append(raw.Nodes, diagram.NodeRef{ID: n.ID, Label: n.Label, Name: names[n.ID]})
	}

	edgeSeen := make(map[string]bool)
	for _, s := range hist {
		if len(s.Removed) > 0 {
			raw.Edges = dropEdges(raw.Edges, s.Removed, edgeSeen)
		}
		for _, e := range s.Edges {
			if edgeSeen[e.Key()] {
				continue
			}
			edgeSeen[e.Key()] = true
			raw.Edges = append(raw.Edges, e)
		}
	}
	return raw
}

// dropEdges removes gone from edges, keeping the order of the rest.
func dropEdges(edges, gone []diagram.EdgeRef, seen map[string]bool) []diagram.EdgeRef {
	for _, e := range gone {
		delete(seen, e.Key())
	}
	kept := edges[:0]
	for _, e := range edges {
		if seen[e.Key()] {
			kept = append(kept, e)
		}
	}
	return kept
}

// Trace renders the investigation log handed to the refinement call.
func Trace(hist []diagram.StepInterpretation) string {
	var ids []diagram.NodeIdentity
	for _, s := range hist {
		ids = append(ids, s.Nodes...)
	}
	names := diagram.DisplayNames(ids)

	var sb strings.Builder
	for _, s := range hist {
		if s.Skipped || s.Malformed || s.Audit {
			sb.WriteString(s.Fragment(names) + "\n")
			continue
		}
		fmt.Fprintf(&sb, "Step %d [%s]\n", s.Index, nameOf(names, s.NodeID))
		if s.Reasoning != "" {
			sb.WriteString("  Observation: " + oneLine(s.Reasoning) + "\n")
		}
		if len(s.Edges) > 0 {
			parts := make([]string, 0, len(s.Edges))
			for _, e := range s.Edges {
				p := nameOf(names, e.From) + " -> " + nameOf(names, e.To)
				if e.Label != "" {
					p += " [" + e.Label + "]"
				}
				parts = append(parts, p)
			}
			sb.WriteString("  Connections: " + strings.Join(parts, "; ") + "\n")
		}
		if s.Terminal {
			sb.WriteString("  Terminal: nothing leaves this node\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// Synthesizer runs both synthesis phases.
type Synthesizer struct {
	logger *slog.Logger
}

// New creates a Synthesizer.
func New(logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{logger: logger}
}

// Synthesize merges hist and, when refine is set and the renderer refines,
// asks the oracle for a rewrite. A failed rewrite degrades to the raw
// rendering rather than failing.
func (s *Synthesizer) Synthesize(ctx context.Context, o oracle.VisionOracle, img *diagram.Image, r Renderer,
	hist []diagram.StepInterpretation, format diagram.OutputFormat, refine bool) Output {
	raw := Merge(hist)
	out := Output{Raw: raw, RawContent: r.Synthesize(raw, format)}
	out.Content = out.RawContent

	ctx, span := observability.StartSynthSpan(ctx, r.Name(), len(raw.Nodes), len(raw.Edges))
	defer span.End()

	if !refine || !r.Refines() || len(raw.Nodes) == 0 {
		observability.RecordSynthResult(span, false, false)
		return out
	}

	text, err := o.Refine(ctx, &oracle.Request{
		Image:        img,
		Instructions: r.RefineInstructions(out.RawContent, Trace(hist), format),
	})
	if text != nil {
		out.Usage = text.Usage
	}
	if err == nil {
		err = checkRefined(text, format)
	}
	if err != nil {
		out.Degraded = true
		out.Err = fmt.Errorf("%w: %w", ErrSynthesisFailure, err)
		s.logger.Warn("refinement failed, using raw result", "strategy", r.Name(), "error", err)
		observability.RecordSynthResult(span, false, true)
		return out
	}

	out.Content = strings.TrimSpace(text.Content)
	out.Refined = true
	observability.RecordSynthResult(span, true, false)
	return out
}

var mermaidHeaders = []string{
	"graph", "flowchart", "sequenceDiagram", "stateDiagram", "classDiagram", "erDiagram",
}

func checkRefined(text *oracle.Text, format diagram.OutputFormat) error {
	if text == nil || strings.TrimSpace(text.Content) == "" {
		return errors.New("empty refinement")
	}
	if format != diagram.Mermaid {
		return nil
	}
	for _, line := range strings.Split(text.Content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "%%") {
			continue
		}
		for _, h := range mermaidHeaders {
			if strings.HasPrefix(line, h) {
				return nil
			}
		}
		return fmt.Errorf("refinement is not Mermaid: starts with %q", truncate(line, 40))
	}
	return errors.New("empty refinement")
}

func nameOf(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
