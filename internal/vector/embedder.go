package vector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
)

// pointNamespace derives stable point IDs from run IDs, so re-indexing a
// run replaces its point.
var pointNamespace = uuid.MustParse("6f1c2a52-3f0e-4d1b-9a57-2b8c9e4d7a10")

// EmbeddingProvider turns texts into vectors. llm.Provider satisfies it.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Embedder embeds diagram results and stores them in a Repository.
type Embedder struct {
	provider EmbeddingProvider
	repo     Repository
}

// NewEmbedder creates an Embedder.
func NewEmbedder(provider EmbeddingProvider, repo Repository) *Embedder {
	return &Embedder{provider: provider, repo: repo}
}

// PointID returns the point ID used for runID.
func PointID(runID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(runID)).String()
}

// Describe renders the text that represents res in the index: its type,
// its node names and its connections.
func Describe(res *diagram.Result) string {
	names := make(map[string]string, len(res.Nodes))
	list := make([]string, 0, len(res.Nodes))
	for _, n := range res.Nodes {
		names[n.ID] = n.Name
		list = append(list, n.Label)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s diagram. Nodes: %s.", res.DiagramType, strings.Join(list, ", "))
	for _, e := range res.Edges {
		sb.WriteString("\n" + names[e.From] + " -> " + names[e.To])
		if e.Label != "" {
			sb.WriteString(" [" + e.Label + "]")
		}
	}
	return sb.String()
}

// IndexResult embeds res and upserts it under its run ID.
func (e *Embedder) IndexResult(ctx context.Context, res *diagram.Result, image string) error {
	text := Describe(res)
	vectors, err := e.provider.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	return e.repo.Upsert(ctx, []Document{{
		ID:      PointID(res.RunID),
		Content: res.Content,
		Vector:  vectors[0],
		Metadata: map[string]string{
			"run_id":       res.RunID,
			"image":        image,
			"diagram_type": string(res.DiagramType),
		},
	}})
}

// Similar returns the topK indexed diagrams closest to res.
func (e *Embedder) Similar(ctx context.Context, res *diagram.Result, topK int) ([]SearchResult, error) {
	vectors, err := e.provider.Embed(ctx, []string{Describe(res)})
	if err != nil {
		return nil, fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}
	results, err := e.repo.Search(ctx, vectors[0], topK+1)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	// The query diagram itself may already be indexed.
	self := PointID(res.RunID)
	out := results[:0]
	for _, r := range results {
		if r.ID != self {
			out = append(out, r)
		}
	}
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
