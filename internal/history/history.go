// Package history turns a traversal's step records into the context payload
// sent with the next oracle call.
package history

import (
	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// DefaultWindow is the number of recent steps summarized in a payload.
const DefaultWindow = 15

// Spec describes what a strategy wants in its context payload.
type Spec struct {
	// Window bounds the recent-step summaries. Zero means DefaultWindow.
	Window int
	// IncludeLocations adds bbox/grid hints and edge direction hints.
	IncludeLocations bool
	// IncludeReasoning adds each recent step's reasoning trace.
	IncludeReasoning bool
}

// Node is an identity the oracle should recognize if it sees it again.
type Node struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Explored bool          `json:"explored"`
	BBox     *diagram.BBox `json:"bbox,omitempty"`
	Grid     []string      `json:"grid,omitempty"`
}

// Edge is a connection already recorded.
type Edge struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Label     string `json:"label,omitempty"`
	Direction string `json:"enters_from,omitempty"`
}

// Step summarizes one recent iteration.
type Step struct {
	Index     int    `json:"index"`
	Node      string `json:"node"`
	Summary   string `json:"summary"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Payload is the context handed to the oracle alongside the image.
type Payload struct {
	Nodes  []Node `json:"known_nodes"`
	Edges  []Edge `json:"known_edges"`
	Recent []Step `json:"recent_steps"`
	Steps  int    `json:"steps_taken"`
	Skips  int    `json:"revisits_skipped"`
}

// Explored returns the display names of explored nodes.
func (p Payload) Explored() []string {
	var out []string
	for _, n := range p.Nodes {
		if n.Explored {
			out = append(out, n.Name)
		}
	}
	return out
}

// Build derives the payload from history. It only reads hist, so the same
// history always produces the same payload.
func Build(hist []diagram.StepInterpretation, spec Spec) Payload {
	window := spec.Window
	if window <= 0 {
		window = DefaultWindow
	}

	var ids []diagram.NodeIdentity
	seen := make(map[string]int)
	explored := make(map[string]bool)
	payload := Payload{Nodes: []Node{}, Edges: []Edge{}, Recent: []Step{}}
	for _, s := range hist {
		if s.Skipped {
			payload.Skips++
		} else {
			payload.Steps++
			explored[s.NodeID] = true
		}
		for _, n := range s.Nodes {
			if i, ok := seen[n.ID]; ok {
				// Keep the most complete fingerprint seen for the identity.
				if ids[i].Fingerprint.IsEmpty() {
					ids[i].Fingerprint = n.Fingerprint
				}
				continue
			}
			seen[n.ID] = len(ids)
			ids = append(ids, n)
		}
	}
	names := diagram.DisplayNames(ids)

	for _, n := range ids {
		node := Node{Name: names[n.ID], Label: n.Label, Explored: explored[n.ID]}
		if spec.IncludeLocations {
			if !n.Fingerprint.BBox.IsZero() {
				box := n.Fingerprint.BBox
				node.BBox = &box
			}
			node.Grid = n.Fingerprint.Grid
		}
		payload.Nodes = append(payload.Nodes, node)
	}

	edgeSeen := make(map[string]bool)
	for _, s := range hist {
		for _, e := range s.Edges {
			if edgeSeen[e.Key()] {
				continue
			}
			edgeSeen[e.Key()] = true
			edge := Edge{From: nameOf(names, e.From), To: nameOf(names, e.To), Label: e.Label}
			if spec.IncludeLocations {
				from, to := fingerprintOf(ids, seen, e.From), fingerprintOf(ids, seen, e.To)
				if d := diagram.RelativeDirection(from.BBox, to.BBox); d != diagram.Undefined {
					edge.Direction = string(d)
				}
			}
			payload.Edges = append(payload.Edges, edge)
		}
	}

	start := max(len(hist)-window, 0)
	for _, s := range hist[start:] {
		step := Step{Index: s.Index, Node: nameOf(names, s.NodeID), Summary: s.Fragment(names)}
		if spec.IncludeReasoning {
			step.Reasoning = s.Reasoning
		}
		payload.Recent = append(payload.Recent, step)
	}
	return payload
}

func nameOf(names map[string]string, id string) string {
	if n, ok := names[id]; ok {
		return n
	}
	return id
}

func fingerprintOf(ids []diagram.NodeIdentity, index map[string]int, id string) diagram.Fingerprint {
	if i, ok := index[id]; ok {
		return ids[i].Fingerprint
	}
	return diagram.Fingerprint{}
}
