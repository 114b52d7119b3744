package strategy

import (
	"context"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// Flowchart reads flowcharts by tracing connectors node by node and renders
// them as a Mermaid "graph TD".
type Flowchart struct {
	base
	structured bool
}

// NewFlowchart returns the flowchart strategy.
func NewFlowchart(opts Options) *Flowchart {
	return &Flowchart{base: base{opts: opts}}
}

// NewStructuredFlowchart returns a flowchart strategy that skips the
// refinement call; its output is the mechanical merge.
func NewStructuredFlowchart(opts Options) *Flowchart {
	return &Flowchart{base: base{opts: opts}, structured: true}
}

func (f *Flowchart) Type() diagram.DiagramType { return diagram.Flowchart }

func (f *Flowchart) Name() string {
	if f.structured {
		return "flowchart-structured"
	}
	return "flowchart"
}

func (f *Flowchart) Refines() bool { return !f.structured }

func (f *Flowchart) FindInitialFocus(ctx context.Context, o oracle.VisionOracle, img *diagram.Image) ([]diagram.Focus, diagram.Usage, error) {
	return f.initialFocus(ctx, o, img,
		"Scan the top and left edges for Start terminators or the first process blocks, and list every entry point.")
}

func (f *Flowchart) StepInstructions(focus diagram.Focus, payload history.Payload) string {
	return f.stepInstructions(
		"You trace the lines of a flowchart. The current focus is one node; report what it connects to.",
		"Scan the border of the focus for arrowheads that touch it; those are incoming edges. "+
			"Then follow every line that leaves it, through bends, until an arrowhead lands on a shape. "+
			"A line crossing another without a junction dot is not a connection. "+
			"For decisions, record the branch text (Yes/No, conditions) as the edge label.",
		payload)
}

func (f *Flowchart) AuditInstructions(c AuditClaim) string {
	return f.auditInstructions("flowchart", c)
}

func (f *Flowchart) InterpretStep(resp *oracle.Response, _ diagram.Focus) (Draft, error) {
	return draft(resp), nil
}

func (f *Flowchart) Synthesize(raw diagram.RawResult, format diagram.OutputFormat) string {
	if format == diagram.NaturalLanguage {
		return narrate("flowchart", "leads to", raw)
	}
	ids := newIDTable(raw.Nodes)
	var sb strings.Builder
	sb.WriteString("graph TD\n")
	for _, n := range raw.Nodes {
		sb.WriteString("    " + ids.get(n.ID) + "[" + quoteLabel(n.Label) + "]\n")
	}
	for _, e := range raw.Edges {
		arrow := " --> "
		if l := edgeText(e.Label); l != "" {
			arrow = " -->|" + l + "| "
		}
		sb.WriteString("    " + ids.get(e.From) + arrow + ids.get(e.To) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (f *Flowchart) RefineInstructions(raw, trace string, format diagram.OutputFormat) string {
	return refineInstructions("flowchart", raw, trace, format)
}
