package qdrant

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/graphsight/internal/vector"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantRepository implements vector.Repository using Qdrant. Points hold
// the refined diagram as "content" plus run metadata.
type QdrantRepository struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// Option configures the connection.
type Option func(*[]grpc.DialOption)

// WithAPIKey authenticates every call with key.
func WithAPIKey(key string) Option {
	return func(opts *[]grpc.DialOption) {
		if key != "" {
			*opts = append(*opts, grpc.WithPerRPCCredentials(apiKey(key)))
		}
	}
}

type apiKey string

func (k apiKey) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"api-key": string(k)}, nil
}

func (apiKey) RequireTransportSecurity() bool { return false }

// NewQdrant connects to Qdrant and creates the collection with cosine
// distance and dimension dim if it does not exist yet.
func NewQdrant(ctx context.Context, host string, port int, collection string, dim int, opts ...Option) (*QdrantRepository, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dial := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	for _, o := range opts {
		o(&dial)
	}
	conn, err := grpc.NewClient(addr, dial...)
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := &QdrantRepository{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}
	if err := r.ensureCollection(ctx, dim); err != nil {
		conn.Close()
		return nil, err
	}
	return r, nil
}

func (r *QdrantRepository) ensureCollection(ctx context.Context, dim int) error {
	exists, err := r.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{CollectionName: r.collection})
	if err != nil {
		return fmt.Errorf("qdrant collection check: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}
	_, err = r.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: r.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{Size: uint64(dim), Distance: pb.Distance_Cosine},
		}},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection %s: %w", r.collection, err)
	}
	return nil
}

func (r *QdrantRepository) Upsert(ctx context.Context, docs []vector.Document) error {
	points := make([]*pb.PointStruct, len(docs))
	for i, d := range docs {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: d.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: d.Vector}}},
			Payload: toPayload(d),
		}
	}

	wait := true
	_, err := r.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: r.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (r *QdrantRepository) Search(ctx context.Context, vec []float32, topK int) ([]vector.SearchResult, error) {
	resp, err := r.points.Search(ctx, &pb.SearchPoints{
		CollectionName: r.collection,
		Vector:         vec,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]vector.SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		content, meta := fromPayload(pt.Payload)
		results[i] = vector.SearchResult{
			ID:       pt.Id.GetUuid(),
			Score:    pt.Score,
			Content:  content,
			Metadata: meta,
		}
	}
	return results, nil
}

func (r *QdrantRepository) Close() error {
	return r.conn.Close()
}

// toPayload stores the content under "content" and metadata as string fields.
func toPayload(d vector.Document) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		"content": {Kind: &pb.Value_StringValue{StringValue: d.Content}},
	}
	for k, v := range d.Metadata {
		payload[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
	}
	return payload
}

func fromPayload(payload map[string]*pb.Value) (string, map[string]string) {
	content := ""
	meta := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == "content" {
			content = v.GetStringValue()
			continue
		}
		meta[k] = v.GetStringValue()
	}
	return content, meta
}

var _ vector.Repository = (*QdrantRepository)(nil)
