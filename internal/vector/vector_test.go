package vector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// bagOfWords embeds texts by counting a few keywords.
type bagOfWords struct{ err error }

var vocabulary = []string{"start", "error", "retry", "login", "payment", "end"}

func (b bagOfWords) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		t = strings.ToLower(t)
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(t, w))
		}
		out[i] = v
	}
	return out, nil
}

func result(runID string, labels ...string) *diagram.Result {
	res := &diagram.Result{RunID: runID, DiagramType: diagram.Flowchart, Content: "graph TD"}
	for i, l := range labels {
		id := diagram.IdentityID(l, 1)
		res.Nodes = append(res.Nodes, diagram.NodeRef{ID: id, Label: l, Name: l})
		if i > 0 {
			res.Edges = append(res.Edges, diagram.EdgeRef{From: res.Nodes[i-1].ID, To: id})
		}
	}
	return res
}

func TestDescribe(t *testing.T) {
	res := result("r", "Start", "Error")
	res.Edges[0].Label = "fail"
	assert.Equal(t, "flowchart diagram. Nodes: Start, Error.\nStart -> Error [fail]", Describe(res))
}

func TestPointIDIsStable(t *testing.T) {
	assert.Equal(t, PointID("run-1"), PointID("run-1"))
	assert.NotEqual(t, PointID("run-1"), PointID("run-2"))
}

func TestIndexAndSimilar(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	e := NewEmbedder(bagOfWords{}, repo)

	require.NoError(t, e.IndexResult(ctx, result("login", "Start", "Login", "Error", "Retry"), "login.png"))
	require.NoError(t, e.IndexResult(ctx, result("pay", "Start", "Payment", "End"), "pay.png"))
	// Re-indexing replaces the point.
	require.NoError(t, e.IndexResult(ctx, result("pay", "Start", "Payment", "End"), "pay.png"))

	query := result("query", "Start", "Login", "Error")
	require.NoError(t, e.IndexResult(ctx, query, "query.png"))

	hits, err := e.Similar(ctx, query, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "login", hits[0].Metadata["run_id"])
	assert.Equal(t, "login.png", hits[0].Metadata["image"])
	assert.Equal(t, "pay", hits[1].Metadata["run_id"])
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestEmbedderErrors(t *testing.T) {
	e := NewEmbedder(bagOfWords{err: errors.New("no embeddings")}, NewMemory())
	assert.Error(t, e.IndexResult(context.Background(), result("r", "A"), ""))
	_, err := e.Similar(context.Background(), result("r", "A"), 1)
	assert.Error(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{1, 2}, []float32{2, 4}), 1e-6)
	assert.Zero(t, cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, cosine([]float32{0, 0}, []float32{1, 2}))
}
