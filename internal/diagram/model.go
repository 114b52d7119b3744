package diagram

import (
	"fmt"
	"strings"
	"time"
)

// Focus is a region of interest pending interpretation.
type Focus struct {
	// ID is the oracle's suggested reference for the node, if any.
	ID          string   `json:"id,omitempty"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	BBox        BBox     `json:"bbox"`
	Grid        []string `json:"grid,omitempty"`
	// EdgeLabel is the label of the edge that led here, if any.
	EdgeLabel string `json:"edge_label,omitempty"`
	// Origin is the identity ID of the node whose step proposed this focus.
	Origin string `json:"origin,omitempty"`
	// NodeID is filled in once the focus has been resolved to an identity.
	NodeID string `json:"node_id,omitempty"`
}

// Fingerprint returns the spatial signature of the focus.
func (f Focus) Fingerprint() Fingerprint {
	return Fingerprint{BBox: f.BBox, Grid: f.Grid}
}

// NodeMention is a node as reported by the oracle for a single step, before
// identity resolution.
type NodeMention struct {
	// Key is the oracle's local reference, used by edges in the same reply.
	Key   string   `json:"key,omitempty"`
	Label string   `json:"label"`
	BBox  BBox     `json:"bbox"`
	Grid  []string `json:"grid,omitempty"`
	// Revisit is set when the oracle believes it has already described the
	// node, with RevisitOf naming it.
	Revisit   bool   `json:"revisit,omitempty"`
	RevisitOf string `json:"revisit_of,omitempty"`
}

// Fingerprint returns the spatial signature of the mention.
func (m NodeMention) Fingerprint() Fingerprint {
	return Fingerprint{BBox: m.BBox, Grid: m.Grid}
}

// EdgeMention is an edge as reported by the oracle. Endpoints reference a
// NodeMention key, an existing identity, or are empty for the focus itself.
type EdgeMention struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// NodeIdentity is a canonical node. ID is stable for the whole traversal;
// Ordinal disambiguates nodes that share a label.
type NodeIdentity struct {
	ID          string      `json:"id"`
	Label       string      `json:"label"`
	Ordinal     int         `json:"ordinal"`
	Fingerprint Fingerprint `json:"fingerprint"`
}

// IdentityID builds the canonical ID for the nth node carrying label.
func IdentityID(label string, ordinal int) string {
	return fmt.Sprintf("%s#%d", label, ordinal)
}

// EdgeRef is a directed, optionally labeled edge between identity IDs.
type EdgeRef struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Key identifies an edge for deduplication.
func (e EdgeRef) Key() string {
	return e.From + "\x00" + e.To + "\x00" + e.Label
}

// StepInterpretation is the record of one traversal iteration.
type StepInterpretation struct {
	Index int   `json:"index"`
	Focus Focus `json:"focus"`
	// NodeID is the identity the focus resolved to.
	NodeID string `json:"node_id"`
	// SourceID is the identity of the node exploration came from.
	SourceID  string         `json:"source_id,omitempty"`
	Nodes     []NodeIdentity `json:"nodes"`
	Edges     []EdgeRef      `json:"edges"`
	Next      []Focus        `json:"next,omitempty"`
	Reasoning string         `json:"reasoning,omitempty"`
	Terminal  bool           `json:"terminal,omitempty"`
	// Skipped marks a revisit that produced no oracle call.
	Skipped bool `json:"skipped,omitempty"`
	// Malformed marks a step whose oracle reply could not be parsed.
	Malformed bool `json:"malformed,omitempty"`
	// Audit marks a re-check of NodeID made after the crawl. Its Edges are
	// the edges it added and Removed the ones it rejected; earlier steps
	// are left as they were.
	Audit   bool      `json:"audit,omitempty"`
	Removed []EdgeRef `json:"removed,omitempty"`
	// Incoming lists the identities an audit saw pointing at NodeID, nil
	// when it did not say.
	Incoming []string `json:"incoming,omitempty"`
	Usage    Usage    `json:"usage"`
}

// Fragment renders the step as a short human-readable line.
func (s StepInterpretation) Fragment(names map[string]string) string {
	name := func(id string) string {
		if n, ok := names[id]; ok {
			return n
		}
		return id
	}
	switch {
	case s.Skipped:
		return fmt.Sprintf("Step %d [%s]: already visited, skipped", s.Index, name(s.NodeID))
	case s.Malformed:
		return fmt.Sprintf("Step %d [%s]: unreadable oracle reply", s.Index, name(s.NodeID))
	case s.Audit:
		var parts []string
		for _, e := range s.Edges {
			parts = append(parts, "+"+name(e.From)+" -> "+name(e.To))
		}
		for _, e := range s.Removed {
			parts = append(parts, "-"+name(e.From)+" -> "+name(e.To))
		}
		if len(parts) == 0 {
			return fmt.Sprintf("Audit %d [%s]: confirmed", s.Index, name(s.NodeID))
		}
		return fmt.Sprintf("Audit %d [%s]: %s", s.Index, name(s.NodeID), strings.Join(parts, "; "))
	}
	parts := make([]string, 0, len(s.Edges))
	for _, e := range s.Edges {
		part := name(e.From) + " -> " + name(e.To)
		if e.Label != "" {
			part += " (" + e.Label + ")"
		}
		parts = append(parts, part)
	}
	line := fmt.Sprintf("Step %d [%s]", s.Index, name(s.NodeID))
	if len(parts) > 0 {
		line += ": " + strings.Join(parts, "; ")
	}
	return line
}

// NodeRef is a node in a merged result.
type NodeRef struct {
	ID    string `json:"id" yaml:"id"`
	Label string `json:"label" yaml:"label"`
	Name  string `json:"name" yaml:"name"`
}

// RawResult is the deterministic merge of all steps.
type RawResult struct {
	Nodes []NodeRef `json:"nodes"`
	Edges []EdgeRef `json:"edges"`
}

// Validation is the outcome of round-tripping generated Mermaid through an
// external parser.
type Validation struct {
	Direction string `json:"direction,omitempty" yaml:"direction,omitempty"`
	Nodes     int    `json:"nodes" yaml:"nodes"`
	Edges     int    `json:"edges" yaml:"edges"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Valid reports whether the parser accepted the diagram.
func (v *Validation) Valid() bool {
	return v != nil && v.Error == ""
}

// Result is what an interpretation run produces.
type Result struct {
	RunID           string       `json:"run_id" yaml:"run_id"`
	DiagramType     DiagramType  `json:"diagram_type" yaml:"diagram_type"`
	Format          OutputFormat `json:"format" yaml:"format"`
	Content         string       `json:"content" yaml:"content"`
	RawContent      string       `json:"raw_content,omitempty" yaml:"raw_content,omitempty"`
	CallCount       int          `json:"call_count" yaml:"call_count"`
	ApproximateCost float64      `json:"approximate_cost" yaml:"approximate_cost"`
	Usage           Usage        `json:"usage" yaml:"usage"`
	IsPartial       bool         `json:"is_partial" yaml:"is_partial"`
	// Degraded is set when refinement failed and Content is the raw rendering.
	Degraded bool   `json:"degraded,omitempty" yaml:"degraded,omitempty"`
	State    string `json:"state" yaml:"state"`
	Steps    int    `json:"steps" yaml:"steps"`
	Skips    int    `json:"skips" yaml:"skips"`
	Audits   int    `json:"audits,omitempty" yaml:"audits,omitempty"`
	// Failure explains why the run stopped early, if it did.
	Failure    string               `json:"failure,omitempty" yaml:"failure,omitempty"`
	Model      string               `json:"model,omitempty" yaml:"model,omitempty"`
	Nodes      []NodeRef            `json:"nodes,omitempty" yaml:"nodes,omitempty"`
	Edges      []EdgeRef            `json:"edges,omitempty" yaml:"edges,omitempty"`
	Validation *Validation          `json:"validation,omitempty" yaml:"validation,omitempty"`
	Duration   time.Duration        `json:"duration" yaml:"duration"`
	History    []StepInterpretation `json:"history,omitempty" yaml:"-"`
}
