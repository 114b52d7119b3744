package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/efebarandurmaz/graphsight/internal/identity"
)

var (
	// ErrBudgetExceeded is recorded on a Result whose traversal hit a budget
	// limit with foci still pending.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrNoInitialFocus is returned when the strategy finds nowhere to start.
	ErrNoInitialFocus = errors.New("no initial focus found")
)

// Traversal selects the frontier discipline.
type Traversal string

const (
	// DFS follows one path to its end before backtracking.
	DFS Traversal = "dfs"
	// BFS reads the diagram level by level.
	BFS Traversal = "bfs"
)

// ParseTraversal validates a traversal name. Empty means DFS.
func ParseTraversal(s string) (Traversal, error) {
	switch t := Traversal(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return DFS, nil
	case DFS, BFS:
		return t, nil
	default:
		return "", fmt.Errorf("unknown traversal %q (want dfs or bfs)", s)
	}
}

// Budget bounds a traversal. Zero fields are unlimited, except MaxSteps
// and MaxIterations which take defaults.
type Budget struct {
	// MaxSteps caps oracle-backed steps.
	MaxSteps int
	// MaxIterations caps frontier pops, skips included.
	MaxIterations int
	// MaxCost caps approximate spend in USD.
	MaxCost float64
	// MaxCalls caps oracle calls, initial focus and retries included.
	MaxCalls int
}

const (
	// DefaultMaxSteps is the step cap when none is configured.
	DefaultMaxSteps = 30
	// DefaultAuditPasses bounds the consistency rounds after the first audit.
	DefaultAuditPasses = 10
)

func (b Budget) withDefaults() Budget {
	if b.MaxSteps <= 0 {
		b.MaxSteps = DefaultMaxSteps
	}
	if b.MaxIterations <= 0 {
		b.MaxIterations = 4 * b.MaxSteps
	}
	return b
}

// Config tunes an Engine.
type Config struct {
	Budget    Budget
	Traversal Traversal
	Identity  identity.Policy
	// SkipRefine disables the refinement call for every run.
	SkipRefine bool
	// Audit re-checks the edges of every explored node after a complete
	// crawl, for strategies that implement strategy.Auditor.
	Audit bool
	// AuditPasses bounds the rounds that re-audit nodes whose confirmed
	// incoming edges still disagree with the graph. Zero means
	// DefaultAuditPasses.
	AuditPasses int
}

// DefaultConfig returns DFS with a 30 step cap and the default identity
// policy.
func DefaultConfig() Config {
	return Config{
		Budget:    Budget{MaxSteps: DefaultMaxSteps},
		Traversal: DFS,
		Identity:  identity.DefaultPolicy(),
	}
}
