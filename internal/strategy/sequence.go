package strategy

import (
	"context"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// Sequence reads sequence diagrams participant by participant. Messages are
// edges; their discovery order is the rendered order.
type Sequence struct {
	base
}

// NewSequence returns the sequence diagram strategy.
func NewSequence(opts Options) *Sequence {
	return &Sequence{base: base{opts: opts}}
}

func (s *Sequence) Type() diagram.DiagramType { return diagram.Sequence }

func (s *Sequence) Name() string { return "sequence" }

func (s *Sequence) FindInitialFocus(ctx context.Context, o oracle.VisionOracle, img *diagram.Image) ([]diagram.Focus, diagram.Usage, error) {
	return s.initialFocus(ctx, o, img,
		"List the participant that sends the first (top-most) message. Participants are the boxes or actors along the top.")
}

func (s *Sequence) StepInstructions(focus diagram.Focus, payload history.Payload) string {
	return s.stepInstructions(
		"You read a sequence diagram. The current focus is one participant; report the messages on its lifeline.",
		"Follow the lifeline of the focus from top to bottom. For every arrow that starts or ends on it, "+
			"record an edge from sender to receiver with the message text as the label, in top-to-bottom order. "+
			"Every participant involved is a node; put participants not yet read in `next`.",
		payload)
}

// InterpretStep keeps only labeled messages; an unlabeled arrow on a
// sequence diagram is almost always a misread lifeline.
func (s *Sequence) InterpretStep(resp *oracle.Response, _ diagram.Focus) (Draft, error) {
	d := draft(resp)
	edges := d.Edges[:0]
	for _, e := range d.Edges {
		if strings.TrimSpace(e.Label) != "" {
			edges = append(edges, e)
		}
	}
	d.Edges = edges
	return d, nil
}

func (s *Sequence) Synthesize(raw diagram.RawResult, format diagram.OutputFormat) string {
	if format == diagram.NaturalLanguage {
		return narrate("sequence diagram", "sends a message to", raw)
	}
	ids := newIDTable(raw.Nodes)
	var sb strings.Builder
	sb.WriteString("sequenceDiagram\n")
	for _, n := range raw.Nodes {
		sb.WriteString("    participant " + ids.get(n.ID) + " as " + edgeText(n.Label) + "\n")
	}
	for _, e := range raw.Edges {
		sb.WriteString("    " + ids.get(e.From) + "->>" + ids.get(e.To) + ": " + edgeText(e.Label) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *Sequence) RefineInstructions(raw, trace string, format diagram.OutputFormat) string {
	return refineInstructions("sequence diagram", raw, trace, format)
}
