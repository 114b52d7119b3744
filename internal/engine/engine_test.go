package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/history"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/oracle/oracletest"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
)

// box places a node on row n of a single column, far enough from its
// neighbours that no tolerance merges them.
func box(n int) diagram.BBox {
	y := float64(n * 200)
	return diagram.BBox{y, 400, y + 50, 600}
}

func node(key, label string, row int) diagram.NodeMention {
	return diagram.NodeMention{Key: key, Label: label, BBox: box(row)}
}

func focus(id, label string, row int) diagram.Focus {
	return diagram.Focus{ID: id, Label: label, BBox: box(row)}
}

var testImage = &diagram.Image{Path: "chart.png", Data: []byte("png"), MediaType: "image/png"}

func newEngine(o oracle.VisionOracle, cfg Config) *Engine {
	return New(o, WithConfig(cfg), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
}

func structured() strategy.Strategy {
	return strategy.NewStructuredFlowchart(strategy.Options{})
}

func names(res *diagram.Result) []string {
	out := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		out = append(out, n.Name)
	}
	return out
}

func visitOrder(res *diagram.Result) []string {
	var out []string
	for _, s := range res.History {
		if !s.Skipped {
			out = append(out, s.NodeID)
		}
	}
	return out
}

// linearChain scripts Start -> Process -> End.
func linearChain() *oracletest.Scripted {
	return &oracletest.Scripted{
		Initial: []diagram.Focus{focus("node_Start", "Start", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"Start": {
				Nodes: []diagram.NodeMention{node("s", "Start", 0), node("p", "Process", 1)},
				Edges: []diagram.EdgeMention{{From: "s", To: "p"}},
				Next:  []diagram.Focus{focus("p", "Process", 1)},
			},
			"Process": {
				Nodes: []diagram.NodeMention{node("p", "Process", 1), node("e", "End", 2)},
				Edges: []diagram.EdgeMention{{From: "p", To: "e"}},
				Next:  []diagram.Focus{focus("e", "End", 2)},
			},
			"End": {
				Nodes:    []diagram.NodeMention{node("e", "End", 2)},
				Terminal: true,
			},
		}),
		PerCall: diagram.Usage{Calls: 1, Cost: 0.01},
	}
}

func TestRunLinearChain(t *testing.T) {
	o := linearChain()
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, []string{"Start", "Process", "End"}, names(res))
	assert.Equal(t, []diagram.EdgeRef{
		{From: "Start#1", To: "Process#1"},
		{From: "Process#1", To: "End#1"},
	}, res.Edges)
	assert.Equal(t, 3, res.Steps)
	assert.Zero(t, res.Skips)
	assert.False(t, res.IsPartial)
	assert.Equal(t, string(StateDone), res.State)
	assert.Empty(t, res.Failure)
	assert.Equal(t, diagram.Flowchart, res.DiagramType)
	assert.Equal(t, 4, res.CallCount)
	assert.InDelta(t, 0.04, res.ApproximateCost, 1e-9)
	assert.Equal(t, 0, o.Calls(oracle.OpRefine))
	assert.Equal(t, res.RawContent, res.Content)
	assert.Contains(t, res.Content, "graph TD")
	assert.True(t, res.History[2].Terminal)
}

func TestRunCycleReusesIdentity(t *testing.T) {
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("", "A", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"A": {
				Nodes: []diagram.NodeMention{node("a", "A", 0), node("b", "B", 1)},
				Edges: []diagram.EdgeMention{{From: "a", To: "b"}},
				Next:  []diagram.Focus{focus("b", "B", 1)},
			},
			"B": {
				Nodes: []diagram.NodeMention{node("b", "B", 1), node("c", "C", 2)},
				Edges: []diagram.EdgeMention{{From: "b", To: "c"}},
				Next:  []diagram.Focus{focus("c", "C", 2)},
			},
			"C": {
				Nodes: []diagram.NodeMention{
					node("c", "C", 2),
					{Key: "back", Label: "A", BBox: box(0), Revisit: true, RevisitOf: "A"},
				},
				Edges: []diagram.EdgeMention{{From: "c", To: "back", Label: "retry"}},
				// A misbehaving oracle proposes the visited node again.
				Next: []diagram.Focus{focus("A", "A", 0)},
			},
		}),
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B", "C"}, names(res))
	assert.Contains(t, res.Edges, diagram.EdgeRef{From: "C#1", To: "A#1", Label: "retry"})
	assert.Len(t, res.Edges, 3)
	assert.Equal(t, 3, o.Calls(oracle.OpInterpretStep))
	assert.Zero(t, res.Skips)
}

func TestRunSameLabelDistinctNodes(t *testing.T) {
	left := diagram.BBox{600, 100, 650, 200}
	right := diagram.BBox{600, 800, 650, 900}
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("", "Start", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"Start": {
				Nodes: []diagram.NodeMention{
					node("s", "Start", 0),
					{Key: "e1", Label: "Error", BBox: left},
					{Key: "e2", Label: "Error", BBox: right},
				},
				Edges: []diagram.EdgeMention{{From: "s", To: "e1", Label: "fail"}, {From: "s", To: "e2", Label: "timeout"}},
				Next: []diagram.Focus{
					{ID: "e1", Label: "Error", BBox: left},
					{ID: "e2", Label: "Error", BBox: right},
				},
			},
			"Error": {Terminal: true},
		}),
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, []string{"Start", "Error_1", "Error_2"}, names(res))
	assert.Equal(t, []diagram.EdgeRef{
		{From: "Start#1", To: "Error#1", Label: "fail"},
		{From: "Start#1", To: "Error#2", Label: "timeout"},
	}, res.Edges)
	assert.Equal(t, 3, res.Steps)
	assert.Zero(t, res.Skips)

	// No two identities share a fingerprint.
	seen := map[string]string{}
	for _, s := range res.History {
		for _, n := range s.Nodes {
			fp := n.Fingerprint.String()
			if prev, ok := seen[fp]; ok {
				assert.Equal(t, prev, n.ID, "fingerprint %s", fp)
			}
			seen[fp] = n.ID
		}
	}
}

func TestRunRevisitIsSkippedWithoutOracleCall(t *testing.T) {
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("", "Start", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"Start": {
				Nodes: []diagram.NodeMention{node("s", "Start", 0), node("a", "A", 1), node("b", "B", 2)},
				Edges: []diagram.EdgeMention{{From: "s", To: "a"}, {From: "s", To: "b"}},
				Next:  []diagram.Focus{focus("a", "A", 1), focus("b", "B", 2)},
			},
			"A": {
				Nodes: []diagram.NodeMention{node("a", "A", 1), node("b", "B", 2)},
				Edges: []diagram.EdgeMention{{From: "a", To: "b"}},
				Next:  []diagram.Focus{focus("b", "B", 2)},
			},
			"B": {Terminal: true},
		}),
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, 1, res.Skips)
	assert.Equal(t, 3, o.Calls(oracle.OpInterpretStep))
	require.Len(t, res.History, 4)
	last := res.History[3]
	assert.True(t, last.Skipped)
	assert.Equal(t, "B#1", last.NodeID)
	assert.Equal(t, "Start#1", last.SourceID)
	assert.Zero(t, last.Usage)
	assert.Contains(t, last.Fragment(nil), "already visited")
}

func TestRunTraversalOrder(t *testing.T) {
	script := func() *oracletest.Scripted {
		return &oracletest.Scripted{
			Initial: []diagram.Focus{focus("", "Start", 0)},
			Step: oracletest.ByLabel(map[string]*oracle.Response{
				"Start": {
					Nodes: []diagram.NodeMention{node("a", "A", 1), node("b", "B", 2)},
					Edges: []diagram.EdgeMention{{To: "a"}, {To: "b"}},
					Next:  []diagram.Focus{focus("a", "A", 1), focus("b", "B", 2)},
				},
				"A": {
					Nodes: []diagram.NodeMention{node("c", "C", 3)},
					Edges: []diagram.EdgeMention{{To: "c"}},
					Next:  []diagram.Focus{focus("c", "C", 3)},
				},
			}),
		}
	}
	tests := []struct {
		traversal Traversal
		want      []string
	}{
		{DFS, []string{"Start#1", "A#1", "C#1", "B#1"}},
		{BFS, []string{"Start#1", "A#1", "B#1", "C#1"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.traversal), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Traversal = tt.traversal
			res, err := newEngine(script(), cfg).Run(context.Background(), testImage, structured(), diagram.Mermaid)
			require.NoError(t, err)
			assert.Equal(t, tt.want, visitOrder(res))
		})
	}
}

func TestRunEndlessOracleStopsAtStepBudget(t *testing.T) {
	var mu sync.Mutex
	n := 0
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("", "N0", 0)},
		Step: func(req *oracle.Request) (*oracle.Response, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			label := fmt.Sprintf("N%d", n)
			return &oracle.Response{
				Nodes: []diagram.NodeMention{node("x", label, n)},
				Edges: []diagram.EdgeMention{{To: "x"}},
				Next:  []diagram.Focus{focus("x", label, n)},
			}, nil
		},
	}
	cfg := DefaultConfig()
	cfg.Budget = Budget{MaxSteps: 5}
	res, err := newEngine(o, cfg).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, 5, o.Calls(oracle.OpInterpretStep))
	assert.Equal(t, 5, res.Steps)
	assert.True(t, res.IsPartial)
	assert.True(t, IsBudgetFailure(res))
	assert.Contains(t, res.Failure, "max steps")
}

func TestRunOracleProposingOnlyVisitedNodesTerminates(t *testing.T) {
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("", "A", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"A": {
				Nodes: []diagram.NodeMention{node("b", "B", 1)},
				Edges: []diagram.EdgeMention{{To: "b"}},
				Next:  []diagram.Focus{focus("b", "B", 1), focus("a", "A", 0)},
			},
			"B": {
				Nodes: []diagram.NodeMention{node("a", "A", 0)},
				Edges: []diagram.EdgeMention{{To: "a"}},
				Next:  []diagram.Focus{focus("a", "A", 0), focus("b", "B", 1)},
			},
		}),
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.IsPartial)
	assert.Len(t, res.Edges, 2)
}

func TestRunCancellationKeepsGatheredSteps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	o := linearChain()
	replies := o.Step
	o.Step = func(req *oracle.Request) (*oracle.Response, error) {
		if req.Focus.Label == "Process" {
			cancel()
			return nil, context.Canceled
		}
		return replies(req)
	}
	o.RefineFunc = func(*oracle.Request) (*oracle.Text, error) {
		return &oracle.Text{Content: "graph TD\n  X --> Y"}, nil
	}

	res, err := newEngine(o, DefaultConfig()).Run(ctx, testImage, strategy.NewFlowchart(strategy.Options{}), diagram.Mermaid)
	require.NoError(t, err)

	assert.True(t, res.IsPartial)
	assert.Equal(t, "cancelled", res.Failure)
	assert.Equal(t, 1, res.Steps)
	require.Len(t, res.History, 1)
	assert.Equal(t, []diagram.EdgeRef{{From: "Start#1", To: "Process#1"}}, res.Edges)
	assert.Equal(t, res.RawContent, res.Content)
	assert.NotContains(t, res.RawContent, "End")
	assert.Zero(t, o.Calls(oracle.OpRefine))
}

func TestRunCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := newEngine(linearChain(), DefaultConfig()).Run(ctx, testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)
	assert.True(t, res.IsPartial)
	assert.Empty(t, res.History)
	assert.Equal(t, "graph TD", res.RawContent)
}

func TestRunMalformedStepIsAbsorbed(t *testing.T) {
	o := linearChain()
	replies := o.Step
	o.Step = func(req *oracle.Request) (*oracle.Response, error) {
		if req.Focus.Label == "Process" {
			return &oracle.Response{Usage: diagram.Usage{Calls: 2, Cost: 0.02}}, fmt.Errorf("oracle: interpret_step: %w", oracle.ErrMalformedResponse)
		}
		return replies(req)
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	require.Len(t, res.History, 2)
	bad := res.History[1]
	assert.True(t, bad.Malformed)
	assert.Equal(t, "Process#1", bad.NodeID)
	assert.Empty(t, bad.Edges)
	assert.Equal(t, 2, bad.Usage.Calls)
	assert.Equal(t, 2, res.Steps)
	assert.False(t, res.IsPartial)
	// initial + Start + two attempts at Process
	assert.Equal(t, 4, res.CallCount)
}

func TestRunFatalOracleError(t *testing.T) {
	t.Run("after progress", func(t *testing.T) {
		o := linearChain()
		replies := o.Step
		o.Step = func(req *oracle.Request) (*oracle.Response, error) {
			if req.Focus.Label == "Process" {
				return nil, fmt.Errorf("oracle: interpret_step: %w", oracle.ErrRateLimited)
			}
			return replies(req)
		}
		res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
		require.NoError(t, err)
		assert.True(t, res.IsPartial)
		assert.Equal(t, string(StateFailed), res.State)
		assert.Contains(t, res.Failure, "rate limited")
		assert.Len(t, res.Edges, 1)
	})

	t.Run("no progress", func(t *testing.T) {
		o := linearChain()
		o.Step = func(*oracle.Request) (*oracle.Response, error) {
			return nil, fmt.Errorf("oracle: interpret_step: %w", oracle.ErrOracleUnavailable)
		}
		res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.True(t, errors.Is(err, oracle.ErrOracleUnavailable))
	})
}

func TestRunInitialFocusFailures(t *testing.T) {
	t.Run("none found", func(t *testing.T) {
		o := &oracletest.Scripted{}
		_, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
		assert.ErrorIs(t, err, ErrNoInitialFocus)
		assert.Zero(t, o.Calls(oracle.OpInterpretStep))
	})
	t.Run("oracle error", func(t *testing.T) {
		o := &oracletest.Scripted{InitialErr: oracle.ErrOracleTimeout}
		_, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
		assert.ErrorIs(t, err, oracle.ErrOracleTimeout)
	})
}

func TestRunCostBudget(t *testing.T) {
	o := linearChain()
	o.PerCall = diagram.Usage{Calls: 1, Cost: 0.1}
	o.RefineFunc = func(*oracle.Request) (*oracle.Text, error) {
		return &oracle.Text{Content: "graph TD"}, nil
	}
	cfg := DefaultConfig()
	cfg.Budget.MaxCost = 0.25
	res, err := newEngine(o, cfg).Run(context.Background(), testImage, strategy.NewFlowchart(strategy.Options{}), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Steps)
	assert.True(t, res.IsPartial)
	assert.Contains(t, res.Failure, "max cost")
	assert.Zero(t, o.Calls(oracle.OpRefine))
}

func TestRunRefinesCompleteTraversal(t *testing.T) {
	o := linearChain()
	o.RefineFunc = func(req *oracle.Request) (*oracle.Text, error) {
		return &oracle.Text{Content: "graph TD\n  Start --> Process --> End"}, nil
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, strategy.NewFlowchart(strategy.Options{}), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, 1, o.Calls(oracle.OpRefine))
	assert.Equal(t, "graph TD\n  Start --> Process --> End", res.Content)
	assert.NotEqual(t, res.Content, res.RawContent)
	assert.False(t, res.Degraded)
	assert.Equal(t, 5, res.CallCount)

	cfg := DefaultConfig()
	cfg.SkipRefine = true
	o = linearChain()
	res, err = newEngine(o, cfg).Run(context.Background(), testImage, strategy.NewFlowchart(strategy.Options{}), diagram.Mermaid)
	require.NoError(t, err)
	assert.Zero(t, o.Calls(oracle.OpRefine))
	assert.Equal(t, res.RawContent, res.Content)
}

func TestRunFailedRefinementDegrades(t *testing.T) {
	o := linearChain()
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, strategy.NewFlowchart(strategy.Options{}), diagram.Mermaid)
	require.NoError(t, err)

	assert.True(t, res.Degraded)
	assert.False(t, res.IsPartial)
	assert.Equal(t, res.RawContent, res.Content)
	assert.NotEmpty(t, res.Failure)
}

func TestRunSendsHistoryContext(t *testing.T) {
	o := linearChain()
	_, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	reqs := o.StepRequests()
	require.Len(t, reqs, 3)
	first, ok := reqs[0].Context.(history.Payload)
	require.True(t, ok)
	assert.Empty(t, first.Explored())

	third := reqs[2].Context.(history.Payload)
	assert.Equal(t, []string{"Start", "Process"}, third.Explored())
	assert.NotEmpty(t, reqs[2].Instructions)
	assert.Equal(t, "End", reqs[2].Focus.Label)
}

func TestRunNaturalLanguage(t *testing.T) {
	res, err := newEngine(linearChain(), DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.NaturalLanguage)
	require.NoError(t, err)
	assert.Equal(t, diagram.NaturalLanguage, res.Format)
	assert.Contains(t, res.Content, "Start leads to Process")
}

func TestParseTraversal(t *testing.T) {
	for in, want := range map[string]Traversal{"": DFS, "dfs": DFS, "BFS": BFS} {
		got, err := ParseTraversal(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseTraversal("random")
	assert.Error(t, err)
}

func TestBudgetDefaults(t *testing.T) {
	b := Budget{}.withDefaults()
	assert.Equal(t, DefaultMaxSteps, b.MaxSteps)
	assert.Equal(t, 4*DefaultMaxSteps, b.MaxIterations)

	b = Budget{MaxSteps: 3, MaxIterations: 5}.withDefaults()
	assert.Equal(t, 3, b.MaxSteps)
	assert.Equal(t, 5, b.MaxIterations)
}

func TestRunSameIDAtAnotherLocationIsANewNode(t *testing.T) {
	o := &oracletest.Scripted{
		Initial: []diagram.Focus{focus("node_Start", "Start", 0)},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"Start": {
				Nodes: []diagram.NodeMention{node("s", "Start", 0), node("e", "Error", 1), node("c", "Check", 2)},
				Edges: []diagram.EdgeMention{{From: "s", To: "e", Label: "no"}, {From: "s", To: "c", Label: "yes"}},
				Next:  []diagram.Focus{focus("node_Error", "Error", 1), focus("node_Check", "Check", 2)},
			},
			"Check": {
				Nodes: []diagram.NodeMention{node("c", "Check", 2)},
				Edges: []diagram.EdgeMention{{To: "node_Error", Label: "fail"}},
				Next:  []diagram.Focus{focus("node_Error", "Error", 4)},
			},
			"Error": {Terminal: true},
		}),
	}
	res, err := newEngine(o, DefaultConfig()).Run(context.Background(), testImage, structured(), diagram.Mermaid)
	require.NoError(t, err)

	assert.Equal(t, []string{"Start", "Error_1", "Check", "Error_2"}, names(res))
	assert.Equal(t, []string{"Start#1", "Error#1", "Check#1", "Error#2"}, visitOrder(res))
	assert.Equal(t, []diagram.EdgeRef{
		{From: "Start#1", To: "Error#1", Label: "no"},
		{From: "Start#1", To: "Check#1", Label: "yes"},
		{From: "Check#1", To: "Error#2", Label: "fail"},
	}, res.Edges)
	assert.Equal(t, 4, res.Steps)
	assert.Zero(t, res.Skips)
	assert.Equal(t, 4, o.Calls(oracle.OpInterpretStep))
}

func TestRunSpentCountsTowardBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Budget.MaxCalls = 3
	o := linearChain()

	res, err := newEngine(o, cfg).Run(context.Background(), testImage, structured(), diagram.Mermaid,
		WithSpent(diagram.Usage{Calls: 1, Cost: 0.01}))
	require.NoError(t, err)
	assert.True(t, res.IsPartial)
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 3, res.CallCount)
	assert.InDelta(t, 0.03, res.ApproximateCost, 1e-9)
}

func TestRunSpentWithCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	o := linearChain()

	res, err := newEngine(o, DefaultConfig()).Run(ctx, testImage, structured(), diagram.Mermaid,
		WithSpent(diagram.Usage{Calls: 1}))
	require.NoError(t, err)
	assert.True(t, res.IsPartial)
	assert.Equal(t, 1, res.CallCount)
	assert.Zero(t, o.Calls(oracle.OpInitialFocus))
}
