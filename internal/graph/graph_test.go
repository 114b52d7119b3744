package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

func sampleResult() *diagram.Result {
	return &diagram.Result{
		RunID:       "run-1",
		DiagramType: diagram.Flowchart,
		Content:     "graph TD",
		Nodes: []diagram.NodeRef{
			{ID: "Start#1", Label: "Start", Name: "Start"},
			{ID: "Error#1", Label: "Error", Name: "Error_1"},
			{ID: "Error#2", Label: "Error", Name: "Error_2"},
		},
		Edges: []diagram.EdgeRef{
			{From: "Start#1", To: "Error#2", Label: "timeout"},
			{From: "Start#1", To: "Error#1", Label: "fail"},
		},
	}
}

func TestFromResult(t *testing.T) {
	img := &diagram.Image{Path: "chart.png", Data: []byte("x")}
	d := FromResult(sampleResult(), img)
	assert.Equal(t, "run-1", d.RunID)
	assert.Equal(t, "chart.png", d.Image)
	assert.Equal(t, img.Digest(), d.Digest)
	assert.Len(t, d.Nodes, 3)

	d = FromResult(sampleResult(), nil)
	assert.Empty(t, d.Image)
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemory()
	require.NoError(t, repo.StoreDiagram(ctx, FromResult(sampleResult(), nil)))

	d, err := repo.LoadDiagram(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, diagram.Flowchart, d.Type)

	succ, err := repo.QuerySuccessors(ctx, "run-1", "Start")
	require.NoError(t, err)
	assert.Equal(t, []string{"Error_1", "Error_2"}, succ)

	succ, err = repo.QuerySuccessors(ctx, "run-1", "Error_1")
	require.NoError(t, err)
	assert.Empty(t, succ)

	_, err = repo.LoadDiagram(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, repo.Close(ctx))
}
