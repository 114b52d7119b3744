package strategy

import (
	"context"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
)

// PseudoState is the label used for initial and final pseudo-states.
const PseudoState = "[*]"

// State reads state diagrams transition by transition and renders them as
// Mermaid stateDiagram-v2.
type State struct {
	base
}

// NewState returns the state diagram strategy.
func NewState(opts Options) *State {
	return &State{base: base{opts: opts}}
}

func (s *State) Type() diagram.DiagramType { return diagram.State }

func (s *State) Name() string { return "state" }

func (s *State) FindInitialFocus(ctx context.Context, o oracle.VisionOracle, img *diagram.Image) ([]diagram.Focus, diagram.Usage, error) {
	return s.initialFocus(ctx, o, img,
		"List the initial pseudo-state (a filled black dot) or, if there is none, the state it points to first.")
}

func (s *State) StepInstructions(focus diagram.Focus, payload history.Payload) string {
	return s.stepInstructions(
		"You read a state diagram. The current focus is one state; report its transitions.",
		"Follow every arrow leaving the focus to the state it enters and record the event or guard text as the edge label. "+
			`Name filled-dot initial states and bullseye final states "[*]".`,
		payload)
}

// InterpretStep folds the many ways an oracle names pseudo-states onto
// PseudoState.
func (s *State) InterpretStep(resp *oracle.Response, _ diagram.Focus) (Draft, error) {
	d := draft(resp)
	for i := range d.Nodes {
		if isPseudoState(d.Nodes[i].Label) {
			d.Nodes[i].Label = PseudoState
		}
	}
	for i := range d.Next {
		if isPseudoState(d.Next[i].Label) {
			d.Next[i].Label = PseudoState
		}
	}
	return d, nil
}

func isPseudoState(label string) bool {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "[*]", "*", "initial", "initial state", "final", "final state", "start state", "end state":
		return true
	}
	return false
}

func (s *State) Synthesize(raw diagram.RawResult, format diagram.OutputFormat) string {
	if format == diagram.NaturalLanguage {
		return narrate("state diagram", "transitions to", raw)
	}
	ids := newIDTable(raw.Nodes)
	ref := func(id string) string {
		for _, n := range raw.Nodes {
			if n.ID == id && n.Label == PseudoState {
				return PseudoState
			}
		}
		return ids.get(id)
	}

	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	for _, n := range raw.Nodes {
		if n.Label == PseudoState {
			continue
		}
		sb.WriteString("    state " + quoteLabel(n.Label) + " as " + ids.get(n.ID) + "\n")
	}
	for _, e := range raw.Edges {
		line := "    " + ref(e.From) + " --> " + ref(e.To)
		if l := edgeText(e.Label); l != "" {
			line += " : " + l
		}
		sb.WriteString(line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *State) RefineInstructions(raw, trace string, format diagram.OutputFormat) string {
	return refineInstructions("state diagram", raw, trace, format)
}
