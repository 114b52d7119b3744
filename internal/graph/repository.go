// Package graph stores interpreted diagrams as property graphs so that
// results can be queried after the run.
package graph

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// ErrNotFound is returned when no diagram is stored under a run ID.
var ErrNotFound = errors.New("diagram not found")

// Diagram is the stored form of one interpretation.
type Diagram struct {
	RunID   string
	Image   string
	Digest  string
	Type    diagram.DiagramType
	Content string
	Partial bool
	Nodes   []diagram.NodeRef
	Edges   []diagram.EdgeRef
}

// FromResult builds the stored form of res.
func FromResult(res *diagram.Result, img *diagram.Image) *Diagram {
	d := &Diagram{
		RunID:   res.RunID,
		Type:    res.DiagramType,
		Content: res.Content,
		Partial: res.IsPartial,
		Nodes:   append([]diagram.NodeRef(nil), res.Nodes...),
		Edges:   append([]diagram.EdgeRef(nil), res.Edges...),
	}
	if img != nil {
		d.Image = img.Name()
		d.Digest = img.Digest()
	}
	return d
}

// Repository provides graph storage for interpreted diagrams.
type Repository interface {
	// StoreDiagram persists a diagram, replacing any earlier copy of the run.
	StoreDiagram(ctx context.Context, d *Diagram) error
	// LoadDiagram retrieves a diagram by run ID.
	LoadDiagram(ctx context.Context, runID string) (*Diagram, error)
	// QuerySuccessors returns the names of nodes directly reached from the
	// named node.
	QuerySuccessors(ctx context.Context, runID, nodeName string) ([]string, error)
	// Close releases resources.
	Close(ctx context.Context) error
}

// MemoryRepository keeps diagrams in process memory.
type MemoryRepository struct {
	mu       sync.RWMutex
	diagrams map[string]*Diagram
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *MemoryRepository {
	return &MemoryRepository{diagrams: make(map[string]*Diagram)}
}

func (m *MemoryRepository) StoreDiagram(_ context.Context, d *Diagram) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	m.diagrams[d.RunID] = &cp
	return nil
}

func (m *MemoryRepository) LoadDiagram(_ context.Context, runID string) (*Diagram, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.diagrams[runID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryRepository) QuerySuccessors(ctx context.Context, runID, nodeName string) ([]string, error) {
	d, err := m.LoadDiagram(ctx, runID)
	if err != nil {
		return nil, err
	}
	return Successors(d, nodeName), nil
}

func (m *MemoryRepository) Close(context.Context) error { return nil }

// Successors lists, sorted, the names of nodes with an edge from nodeName.
func Successors(d *Diagram, nodeName string) []string {
	names := make(map[string]string, len(d.Nodes))
	var from string
	for _, n := range d.Nodes {
		names[n.ID] = n.Name
		if n.Name == nodeName {
			from = n.ID
		}
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range d.Edges {
		if e.From != from || seen[e.To] {
			continue
		}
		seen[e.To] = true
		out = append(out, names[e.To])
	}
	sort.Strings(out)
	return out
}

var _ Repository = (*MemoryRepository)(nil)
