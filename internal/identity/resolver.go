// Package identity decides whether a node mentioned by the oracle is one the
// traversal has already met or a new one.
package identity

import (
	"fmt"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// Mode selects how two fingerprints are compared.
type Mode string

const (
	// ModeHybrid matches on either bbox proximity or grid overlap.
	ModeHybrid Mode = "hybrid"
	// ModeBBox matches when bbox centroids are closer than the tolerance.
	ModeBBox Mode = "bbox"
	// ModeGrid matches when the grid cell sets overlap.
	ModeGrid Mode = "grid"
)

// ParseMode validates a mode name. Empty means hybrid.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeHybrid, nil
	case ModeHybrid, ModeBBox, ModeGrid:
		return m, nil
	default:
		return "", fmt.Errorf("unknown identity mode %q (want hybrid, bbox or grid)", s)
	}
}

// UnlabeledNode is used for mentions that arrive without a label.
const UnlabeledNode = "Unlabeled"

// Policy holds the tunable revisit-detection parameters.
type Policy struct {
	Mode Mode
	// Tolerance is the maximum centroid distance, in the 0..1000 space, at
	// which two same-label mentions are considered the same node.
	Tolerance float64
	// RelabelTolerance is the stricter distance at which a mention with a
	// different label still reuses an existing node.
	RelabelTolerance float64
}

// DefaultPolicy returns hybrid matching with a tolerance of 100.
func DefaultPolicy() Policy {
	return Policy{Mode: ModeHybrid, Tolerance: 100, RelabelTolerance: 30}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.Mode == "" {
		p.Mode = d.Mode
	}
	if p.Tolerance <= 0 {
		p.Tolerance = d.Tolerance
	}
	if p.RelabelTolerance <= 0 {
		p.RelabelTolerance = d.RelabelTolerance
	}
	return p
}

// Match compares two fingerprints under the policy. It returns whether they
// match and a distance used to rank competing candidates.
func (p Policy) Match(a, b diagram.Fingerprint) (bool, float64) {
	if a.IsEmpty() || b.IsEmpty() {
		return false, 0
	}
	haveBoxes := !a.BBox.IsZero() && !b.BBox.IsZero()
	dist := p.Tolerance
	if haveBoxes {
		dist = a.BBox.Distance(b.BBox)
	}
	near := haveBoxes && dist < p.Tolerance
	overlap := a.GridOverlaps(b)

	switch p.Mode {
	case ModeBBox:
		return near, dist
	case ModeGrid:
		return overlap, dist
	default:
		return near || overlap, dist
	}
}

func (p Policy) relabelMatch(a, b diagram.Fingerprint) (bool, float64) {
	if !a.BBox.IsZero() && !b.BBox.IsZero() {
		d := a.BBox.Distance(b.BBox)
		return d < p.RelabelTolerance, d
	}
	return a.GridEqual(b), p.RelabelTolerance
}

// Resolver assigns stable identities to node mentions. It is owned by a
// single traversal and is not safe for concurrent use.
type Resolver struct {
	policy Policy
	ids    []diagram.NodeIdentity
	index  map[string]int
}

// New creates a Resolver. Zero fields of p take their defaults.
func New(p Policy) *Resolver {
	return &Resolver{
		policy: p.withDefaults(),
		index:  make(map[string]int),
	}
}

// Policy returns the effective policy.
func (r *Resolver) Policy() Policy { return r.policy }

// Resolve returns the identity m denotes, minting one if needed. The bool
// reports whether the identity already existed.
func (r *Resolver) Resolve(m diagram.NodeMention) (diagram.NodeIdentity, bool) {
	m.Label = cleanLabel(m.Label)
	fp := m.Fingerprint()
	if i := r.match(m); i >= 0 {
		if r.ids[i].Fingerprint.IsEmpty() && !fp.IsEmpty() {
			r.ids[i].Fingerprint = fp
		}
		return r.ids[i], true
	}
	return r.mint(m.Label, fp), false
}

// Peek reports the existing identity m would resolve to, without minting
// or updating anything.
func (r *Resolver) Peek(m diagram.NodeMention) (diagram.NodeIdentity, bool) {
	m.Label = cleanLabel(m.Label)
	if i := r.match(m); i >= 0 {
		return r.ids[i], true
	}
	return diagram.NodeIdentity{}, false
}

// ResolveFocus resolves the node a focus points at. A focus whose ID names
// a known identity is a revisit only when the label is compatible and the
// locations do not contradict each other; otherwise the focus is resolved
// by its fingerprint like any other mention.
func (r *Resolver) ResolveFocus(f diagram.Focus) (diagram.NodeIdentity, bool) {
	m := diagram.NodeMention{Key: f.ID, Label: f.Label, BBox: f.BBox, Grid: f.Grid}
	if f.ID != "" {
		if i := r.find(f.ID); i >= 0 && r.consistent(i, f.Label, m.Fingerprint()) {
			m.Revisit, m.RevisitOf = true, r.ids[i].ID
		}
	}
	if m.Label == "" {
		m.Label = f.ID
	}
	return r.Resolve(m)
}

// consistent reports whether identity i can be the node described by label
// and fp. A missing label or location on either side does not contradict.
func (r *Resolver) consistent(i int, label string, fp diagram.Fingerprint) bool {
	n := r.ids[i]
	if label != "" && diagram.NormalizeLabel(label) != diagram.NormalizeLabel(n.Label) {
		return false
	}
	if fp.IsEmpty() || n.Fingerprint.IsEmpty() {
		return true
	}
	ok, _ := r.policy.Match(n.Fingerprint, fp)
	return ok
}

// Find looks up an identity by ID, display name, or unique label.
func (r *Resolver) Find(ref string) (diagram.NodeIdentity, bool) {
	if i := r.find(ref); i >= 0 {
		return r.ids[i], true
	}
	return diagram.NodeIdentity{}, false
}

// Names returns the current display name of every identity.
func (r *Resolver) Names() map[string]string {
	return diagram.DisplayNames(r.ids)
}

// Len returns the number of identities minted so far.
func (r *Resolver) Len() int { return len(r.ids) }

func (r *Resolver) match(m diagram.NodeMention) int {
	if m.Revisit && m.RevisitOf != "" {
		if i := r.find(m.RevisitOf); i >= 0 {
			return i
		}
	}

	label := diagram.NormalizeLabel(m.Label)
	fp := m.Fingerprint()
	if fp.IsEmpty() {
		for i, n := range r.ids {
			if diagram.NormalizeLabel(n.Label) == label {
				return i
			}
		}
		return -1
	}

	if i := r.closest(fp, func(n diagram.NodeIdentity) (bool, float64) {
		if diagram.NormalizeLabel(n.Label) != label {
			return false, 0
		}
		return r.policy.Match(n.Fingerprint, fp)
	}); i >= 0 {
		return i
	}
	if i := r.closest(fp, func(n diagram.NodeIdentity) (bool, float64) {
		if diagram.NormalizeLabel(n.Label) == label || n.Fingerprint.IsEmpty() {
			return false, 0
		}
		return r.policy.relabelMatch(n.Fingerprint, fp)
	}); i >= 0 {
		return i
	}

	// An identity first seen without a location adopts this one.
	for i, n := range r.ids {
		if n.Fingerprint.IsEmpty() && diagram.NormalizeLabel(n.Label) == label {
			return i
		}
	}

	// A bare revisit flag is honored only when the label is unambiguous.
	if m.Revisit {
		return r.uniqueLabel(label)
	}
	return -1
}

func (r *Resolver) closest(fp diagram.Fingerprint, ok func(diagram.NodeIdentity) (bool, float64)) int {
	best, bestDist := -1, 0.0
	for i, n := range r.ids {
		matched, dist := ok(n)
		if !matched {
			continue
		}
		if best < 0 || dist < bestDist {
			best, bestDist = i, dist
		}
	}
	return best
}

func (r *Resolver) find(ref string) int {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return -1
	}
	if i, ok := r.index[ref]; ok {
		return i
	}
	names := r.Names()
	norm := diagram.NormalizeLabel(ref)
	for i, n := range r.ids {
		if name := names[n.ID]; name == ref || diagram.NormalizeLabel(name) == norm {
			return i
		}
	}
	return r.uniqueLabel(norm)
}

func (r *Resolver) uniqueLabel(norm string) int {
	found := -1
	for i, n := range r.ids {
		if diagram.NormalizeLabel(n.Label) != norm {
			continue
		}
		if found >= 0 {
			return -1
		}
		found = i
	}
	return found
}

func (r *Resolver) mint(label string, fp diagram.Fingerprint) diagram.NodeIdentity {
	ordinal := 1
	for _, n := range r.ids {
		if n.Label == label {
			ordinal++
		}
	}
	id := diagram.NodeIdentity{
		ID:          diagram.IdentityID(label, ordinal),
		Label:       label,
		Ordinal:     ordinal,
		Fingerprint: fp,
	}
	r.index[id.ID] = len(r.ids)
	r.ids = append(r.ids, id)
	return id
}

func cleanLabel(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return UnlabeledNode
	}
	return s
}
