package pipeline

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/graphsight/internal/bridge"
	"github.com/efebarandurmaz/graphsight/internal/detector"
	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/engine"
	"github.com/efebarandurmaz/graphsight/internal/graph"
	"github.com/efebarandurmaz/graphsight/internal/observability"
	"github.com/efebarandurmaz/graphsight/internal/oracle"
	"github.com/efebarandurmaz/graphsight/internal/oracle/oracletest"
	"github.com/efebarandurmaz/graphsight/internal/strategy"
	"github.com/efebarandurmaz/graphsight/internal/vector"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func box(row int) diagram.BBox {
	y := float64(row * 200)
	return diagram.BBox{y, 400, y + 50, 600}
}

// chart scripts a two-node flowchart and answers classification with kind.
func chart(kind string) *oracletest.Scripted {
	return &oracletest.Scripted{
		Initial: []diagram.Focus{{Label: "Start", BBox: box(0)}},
		Step: oracletest.ByLabel(map[string]*oracle.Response{
			"Start": {
				Nodes: []diagram.NodeMention{{Key: "d", Label: "Done", BBox: box(1)}},
				Edges: []diagram.EdgeMention{{To: "d", Label: "ok"}},
				Next:  []diagram.Focus{{ID: "d", Label: "Done", BBox: box(1)}},
			},
			"Done": {Terminal: true},
		}),
		ClassifyFunc: func(*oracle.Request) (*oracle.Text, error) {
			return &oracle.Text{Content: `{"diagram_type": "` + kind + `"}`}, nil
		},
		PerCall: diagram.Usage{Calls: 1, Cost: 0.01},
	}
}

func newPipeline(o oracle.VisionOracle, opts ...Option) *Pipeline {
	e := engine.New(o, engine.WithLogger(discard))
	base := []Option{
		WithLogger(discard),
		WithDetector(detector.New(o, detector.WithLogger(discard))),
		WithRegistry(strategy.DefaultRegistry(strategy.Options{}, true)),
		WithModel("gpt-4o"),
	}
	return New(e, append(base, opts...)...)
}

func image(name string) *diagram.Image {
	return &diagram.Image{Path: name, Data: []byte(name), MediaType: "image/png"}
}

func TestInterpret(t *testing.T) {
	o := chart("flowchart")
	res, err := newPipeline(o).Interpret(context.Background(), image("chart.png"), diagram.Mermaid)
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, diagram.Flowchart, res.DiagramType)
	assert.Equal(t, "gpt-4o", res.Model)
	assert.Equal(t, []diagram.EdgeRef{{From: "Start#1", To: "Done#1", Label: "ok"}}, res.Edges)
	// classify + initial focus + two steps
	assert.Equal(t, 4, res.CallCount)
	assert.InDelta(t, 0.04, res.ApproximateCost, 1e-9)
	assert.Equal(t, 1, o.Calls(oracle.OpClassify))
	assert.Contains(t, res.Content, "graph TD")
	assert.Nil(t, res.Validation)
}

func TestInterpretExplicitTypeSkipsDetection(t *testing.T) {
	o := chart("flowchart")
	res, err := newPipeline(o).Run(context.Background(), Request{Image: image("a.png"), Type: diagram.Flowchart})
	require.NoError(t, err)
	assert.Zero(t, o.Calls(oracle.OpClassify))
	assert.Equal(t, diagram.Mermaid, res.Format)
	assert.Equal(t, 3, res.CallCount)
}

func TestInterpretUnregisteredTypeFallsBack(t *testing.T) {
	res, err := newPipeline(chart("classDiagram")).Interpret(context.Background(), image("c.png"), diagram.Mermaid)
	require.NoError(t, err)
	assert.Equal(t, diagram.Flowchart, res.DiagramType)
}

func TestInterpretErrors(t *testing.T) {
	p := newPipeline(chart("flowchart"))
	_, err := p.Interpret(context.Background(), nil, diagram.Mermaid)
	assert.ErrorIs(t, err, ErrNoImage)
	_, err = p.Interpret(context.Background(), &diagram.Image{Path: "empty.png"}, diagram.Mermaid)
	assert.ErrorIs(t, err, ErrNoImage)

	o := chart("a cat")
	strict := newPipeline(o, WithDetector(detector.New(o, detector.WithFallback(diagram.Unknown), detector.WithLogger(discard))))
	_, err = strict.Interpret(context.Background(), image("cat.png"), diagram.Mermaid)
	assert.ErrorIs(t, err, detector.ErrDetectorFailure)

	noStart := chart("flowchart")
	noStart.Initial = nil
	_, err = newPipeline(noStart).Interpret(context.Background(), image("blank.png"), diagram.Mermaid)
	assert.ErrorIs(t, err, engine.ErrNoInitialFocus)
}

func TestInterpretStoresAndIndexes(t *testing.T) {
	graphs := graph.NewMemory()
	index := vector.NewMemory()
	var buf bytes.Buffer
	p := newPipeline(chart("flowchart"),
		WithGraphStore(graphs),
		WithIndex(vector.NewEmbedder(constEmbedder{}, index)),
		WithAudit(observability.NewWriterAuditLogger(&buf, "test")),
	)
	res, err := p.Interpret(context.Background(), image("stored.png"), diagram.Mermaid)
	require.NoError(t, err)

	stored, err := graphs.LoadDiagram(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "stored.png", stored.Image)
	succ, err := graphs.QuerySuccessors(context.Background(), res.RunID, "Start")
	require.NoError(t, err)
	assert.Equal(t, []string{"Done"}, succ)

	hits, err := index.Search(context.Background(), []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, res.RunID, hits[0].Metadata["run_id"])

	log := buf.String()
	for _, ev := range []string{"run.start", "run.complete", "result.export"} {
		assert.Contains(t, log, ev)
	}
}

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func TestInterpretValidatesMermaid(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	script := filepath.Join(t.TempDir(), "parse.sh")
	require.NoError(t, os.WriteFile(script, []byte(`cat > /dev/null
echo '{"direction":"TD","nodes":[{"id":"Start"},{"id":"Done"}],"edges":[{"src":"Start","dst":"Done"}]}'
`), 0o644))

	p := newPipeline(chart("flowchart"), WithBridge(bridge.New(script, bridge.WithCommand("sh"))))
	res, err := p.Interpret(context.Background(), image("v.png"), diagram.Mermaid)
	require.NoError(t, err)
	require.NotNil(t, res.Validation)
	assert.True(t, res.Validation.Valid())
	assert.Equal(t, 2, res.Validation.Nodes)
	assert.Equal(t, 1, res.Validation.Edges)

	res, err = p.Interpret(context.Background(), image("v.png"), diagram.NaturalLanguage)
	require.NoError(t, err)
	assert.Nil(t, res.Validation)
}

func TestInterpretBatch(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}
	o := chart("flowchart")
	step := o.Step
	o.Step = func(req *oracle.Request) (*oracle.Response, error) {
		mu.Lock()
		seen[req.Image.Path] = true
		mu.Unlock()
		return step(req)
	}

	reqs := []Request{
		{Image: image("one.png")},
		{Image: nil},
		{Image: image("three.png"), Format: diagram.NaturalLanguage},
	}
	items := newPipeline(o).InterpretBatch(context.Background(), reqs, 2)
	require.Len(t, items, 3)

	assert.Equal(t, "one.png", items[0].Image)
	require.NoError(t, items[0].Err)
	assert.Equal(t, diagram.Mermaid, items[0].Result.Format)

	assert.ErrorIs(t, items[1].Err, ErrNoImage)

	require.NoError(t, items[2].Err)
	assert.True(t, strings.HasPrefix(items[2].Result.Content, "This flowchart"))
	assert.NotEqual(t, items[0].Result.RunID, items[2].Result.RunID)

	assert.True(t, seen["one.png"])
	assert.True(t, seen["three.png"])
}

func TestInterpretDetectionCountsTowardBudget(t *testing.T) {
	o := chart("flowchart")
	cfg := engine.DefaultConfig()
	cfg.Budget.MaxCalls = 3
	e := engine.New(o, engine.WithLogger(discard), engine.WithConfig(cfg))
	p := New(e,
		WithLogger(discard),
		WithDetector(detector.New(o, detector.WithLogger(discard))),
		WithRegistry(strategy.DefaultRegistry(strategy.Options{}, true)),
	)

	res, err := p.Interpret(context.Background(), image("budget.png"), diagram.Mermaid)
	require.NoError(t, err)
	// classify + initial focus + Start leave Done unvisited
	assert.True(t, res.IsPartial)
	assert.True(t, engine.IsBudgetFailure(res))
	assert.Equal(t, 1, res.Steps)
	assert.Equal(t, 3, res.CallCount)
	assert.Equal(t, 1, o.Calls(oracle.OpInterpretStep))
}

func TestInterpretCancelledDuringDetection(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o := chart("flowchart")
	o.ClassifyFunc = func(*oracle.Request) (*oracle.Text, error) {
		cancel()
		return nil, context.Canceled
	}

	res, err := newPipeline(o).Interpret(ctx, image("cancel.png"), diagram.Mermaid)
	require.NoError(t, err)
	assert.True(t, res.IsPartial)
	assert.Equal(t, "cancelled", res.Failure)
	assert.Zero(t, res.Steps)
	assert.Zero(t, o.Calls(oracle.OpInitialFocus))
	assert.Zero(t, o.Calls(oracle.OpInterpretStep))
}
