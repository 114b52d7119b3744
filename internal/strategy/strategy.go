// Package strategy holds the diagram-family specific parts of an
// interpretation: what to ask the oracle, how to read its replies, and how
// to render the merged graph.
package strategy

import (
	"context"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// Draft is a step reply normalized by a strategy, before identity
// resolution.
type Draft struct {
	Nodes     []diagram.NodeMention
	Edges     []diagram.EdgeMention
	Next      []diagram.Focus
	Reasoning string
	Terminal  bool
}

// Strategy is the capability set the engine needs from a diagram family.
// Implementations hold no per-run state and may be shared between runs.
type Strategy interface {
	Type() diagram.DiagramType
	Name() string
	FindInitialFocus(ctx context.Context, o oracle.VisionOracle, img *diagram.Image) ([]diagram.Focus, diagram.Usage, error)
	ContextSpec() history.Spec
	StepInstructions(focus diagram.Focus, payload history.Payload) string
	InterpretStep(resp *oracle.Response, focus diagram.Focus) (Draft, error)
	Synthesize(raw diagram.RawResult, format diagram.OutputFormat) string
	RefineInstructions(raw, trace string, format diagram.OutputFormat) string
	// Refines reports whether synthesis asks the oracle for a rewrite.
	Refines() bool
}

// Options tunes the built-in strategies.
type Options struct {
	// UseGrid asks the oracle for grid cell references besides bboxes.
	UseGrid bool
	// HistoryWindow bounds the recent steps in each context payload.
	HistoryWindow int
}

// base carries the behavior shared by the built-in strategies.
type base struct {
	opts Options
}

func (b base) ContextSpec() history.Spec {
	return history.Spec{Window: b.opts.HistoryWindow, IncludeLocations: true, IncludeReasoning: false}
}

func (b base) Refines() bool { return true }

func (b base) locationRule() string {
	if b.opts.UseGrid {
		return "Give every node both `grid_refs` (all overlapping cells, e.g. [\"C3\", \"C4\"]) and `bbox` [ymin, xmin, ymax, xmax] on a 0-1000 scale."
	}
	return "Give every node a `bbox` [ymin, xmin, ymax, xmax] on a 0-1000 scale."
}

func (b base) initialFocus(ctx context.Context, o oracle.VisionOracle, img *diagram.Image, what string) ([]diagram.Focus, diagram.Usage, error) {
	instructions := strings.Join([]string{
		"Find where reading this diagram should start.",
		what,
		"Give each a descriptive `id` such as `node_Start_Process`, never a bare number.",
		b.locationRule(),
		`Reply with JSON: {"start_nodes": [{"id": "...", "label": "...", "description": "...", "bbox": [0, 0, 0, 0]}]}`,
	}, "\n")
	resp, err := o.FindInitialFocus(ctx, &oracle.Request{Image: img, Instructions: instructions})
	var usage diagram.Usage
	if resp != nil {
		usage = resp.Usage
	}
	if err != nil {
		return nil, usage, fmt.Errorf("find initial focus: %w", err)
	}
	return resp.Next, usage, nil
}

// stepSchema is the reply shape every built-in strategy asks for.
const stepSchema = `Reply with JSON:
{"nodes": [{"id": "local ref", "label": "visible text", "bbox": [ymin, xmin, ymax, xmax], "revisit_of": "known name if already listed"}],
 "edges": [{"from": "local ref, known name, or empty for the current focus", "to": "...", "label": "text on the connector"}],
 "reasoning": "how you traced the lines",
 "next": [{"id": "...", "label": "...", "bbox": [...], "edge_label": "..."}],
 "terminal": false}`

func (b base) stepInstructions(role, tracing string, payload history.Payload) string {
	var sb strings.Builder
	sb.WriteString(role)
	sb.WriteString("\n\n")
	sb.WriteString(tracing)
	sb.WriteString("\n\nRules:\n")
	sb.WriteString("- Report only connections drawn as visible lines or arrows. Proximity is not a connection.\n")
	sb.WriteString("- Include the current focus itself in `nodes`.\n")
	if explored := payload.Explored(); len(explored) > 0 {
		sb.WriteString("- Already explored: " + strings.Join(explored, ", ") + ". If a node is one of these or any other known node, set `revisit_of` to its name and do not list it in `next`.\n")
	}
	sb.WriteString("- Two different nodes may share a label. Tell them apart by location.\n")
	sb.WriteString("- " + b.locationRule() + "\n")
	sb.WriteString("- Put in `next` only nodes reached from the focus that still need reading. Set `terminal` when nothing leaves the focus.\n\n")
	sb.WriteString(stepSchema)
	return sb.String()
}

// draft copies a reply and attributes unsourced edges to the focus.
func draft(resp *oracle.Response) Draft {
	if resp == nil {
		return Draft{}
	}
	d := Draft{
		Nodes:     append([]diagram.NodeMention(nil), resp.Nodes...),
		Reasoning: resp.Reasoning,
		Terminal:  resp.Terminal,
	}
	for _, e := range resp.Edges {
		if e.From == "" && e.To == "" {
			continue
		}
		d.Edges = append(d.Edges, e)
	}
	for _, f := range resp.Next {
		if f.Label == "" && f.ID == "" && f.BBox.IsZero() && len(f.Grid) == 0 {
			continue
		}
		d.Next = append(d.Next, f)
	}
	return d
}

func refineInstructions(kind, raw, trace string, format diagram.OutputFormat) string {
	var sb strings.Builder
	if format == diagram.NaturalLanguage {
		sb.WriteString("Below is a " + kind + " assembled step by step from this image, followed by the investigation log.\n")
		sb.WriteString("Write a clear narrative that walks the reader through the diagram in order, covering each node and connection along with the condition on every labeled branch.\n")
		sb.WriteString("Use only what the draft and the log support; check the image when they disagree. Reply with prose only.\n")
	} else {
		sb.WriteString("Below is a draft Mermaid " + kind + " assembled mechanically from a step-by-step trace of this image, followed by the investigation log.\n")
		sb.WriteString("Rewrite it as one coherent, valid Mermaid diagram. Keep every node and connection the log supports, drop duplicates, and do not invent connections.\n")
		sb.WriteString("Nodes whose names end in _1, _2 are distinct nodes that share a label; keep them separate.\n")
		sb.WriteString("Reply with Mermaid code only.\n")
	}
	sb.WriteString("\n# Draft\n")
	sb.WriteString(raw)
	if trace != "" {
		sb.WriteString("\n\n# Investigation log\n")
		sb.WriteString(trace)
	}
	return sb.String()
}
