package strategy

import (
	"fmt"
	"sort"
	"sync"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// Registry maps diagram types to strategies, with an optional fallback for
// types nothing is registered for.
type Registry struct {
	mu       sync.RWMutex
	byType   map[diagram.DiagramType]Strategy
	fallback diagram.DiagramType
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byType: make(map[diagram.DiagramType]Strategy)}
}

// DefaultRegistry registers the built-in strategies and falls back to
// flowchart. With structured set, flowcharts skip refinement.
func DefaultRegistry(opts Options, structured bool) *Registry {
	r := NewRegistry()
	if structured {
		r.Register(NewStructuredFlowchart(opts))
	} else {
		r.Register(NewFlowchart(opts))
	}
	r.Register(NewSequence(opts))
	r.Register(NewState(opts))
	r.SetFallback(diagram.Flowchart)
	return r
}

func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byType[s.Type()] = s
}

// SetFallback sets the type used when a lookup misses. Unknown clears it.
func (r *Registry) SetFallback(t diagram.DiagramType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = t
}

// Lookup returns the strategy for t and whether the fallback was used.
func (r *Registry) Lookup(t diagram.DiagramType) (Strategy, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.byType[t]; ok {
		return s, false, nil
	}
	if r.fallback != "" && r.fallback != diagram.Unknown {
		if s, ok := r.byType[r.fallback]; ok {
			return s, true, nil
		}
	}
	return nil, false, fmt.Errorf("no strategy for diagram type %q", t)
}

// Types lists the registered diagram types, sorted.
func (r *Registry) Types() []diagram.DiagramType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]diagram.DiagramType, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
