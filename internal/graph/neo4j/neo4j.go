package neo4j

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/graphsight/internal/diagram"
	"github.com/efebarandurmaz/graphsight/internal/graph"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jRepository implements graph.Repository using Neo4j. A diagram is a
// (:Diagram) node that CONTAINS its (:DiagramNode)s, linked by FLOWS_TO.
type Neo4jRepository struct {
	driver neo4j.DriverWithContext
}

// NewNeo4j creates a Neo4j-backed repository.
func NewNeo4j(ctx context.Context, uri, username, password string) (*Neo4jRepository, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("neo4j connectivity: %w", err)
	}
	return &Neo4jRepository{driver: driver}, nil
}

func (r *Neo4jRepository) StoreDiagram(ctx context.Context, d *graph.Diagram) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx,
			"MATCH (n:DiagramNode {run_id: $run}) DETACH DELETE n",
			map[string]any{"run": d.RunID})
		if err != nil {
			return nil, err
		}
		_, err = tx.Run(ctx,
			"MERGE (d:Diagram {run_id: $run}) "+
				"SET d.image = $image, d.digest = $digest, d.type = $type, d.content = $content, d.partial = $partial",
			map[string]any{
				"run":     d.RunID,
				"image":   d.Image,
				"digest":  d.Digest,
				"type":    string(d.Type),
				"content": d.Content,
				"partial": d.Partial,
			})
		if err != nil {
			return nil, err
		}
		for _, n := range d.Nodes {
			_, err := tx.Run(ctx,
				"MATCH (d:Diagram {run_id: $run}) "+
					"MERGE (n:DiagramNode {run_id: $run, id: $id}) SET n.label = $label, n.name = $name "+
					"MERGE (d)-[:CONTAINS]->(n)",
				map[string]any{"run": d.RunID, "id": n.ID, "label": n.Label, "name": n.Name})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store diagram %s: %w", d.RunID, err)
	}

	if len(d.Edges) == 0 {
		return nil
	}
	_, err = session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for _, e := range d.Edges {
			_, err := tx.Run(ctx,
				"MATCH (a:DiagramNode {run_id: $run, id: $from}) "+
					"MATCH (b:DiagramNode {run_id: $run, id: $to}) "+
					"MERGE (a)-[:FLOWS_TO {label: $label}]->(b)",
				map[string]any{"run": d.RunID, "from": e.From, "to": e.To, "label": e.Label})
			if err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("store edges of %s: %w", d.RunID, err)
	}
	return nil
}

func (r *Neo4jRepository) LoadDiagram(ctx context.Context, runID string) (*graph.Diagram, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (d:Diagram {run_id: $run}) RETURN d.image, d.digest, d.type, d.content, d.partial",
			map[string]any{"run": runID})
		if err != nil {
			return nil, err
		}
		if !records.Next(ctx) {
			return nil, graph.ErrNotFound
		}
		rec := records.Record()
		d := &graph.Diagram{RunID: runID}
		d.Image = str(rec, "d.image")
		d.Digest = str(rec, "d.digest")
		d.Type = diagram.DiagramType(str(rec, "d.type"))
		d.Content = str(rec, "d.content")
		if p, ok := rec.Get("d.partial"); ok && p != nil {
			d.Partial, _ = p.(bool)
		}

		nodes, err := tx.Run(ctx,
			"MATCH (:Diagram {run_id: $run})-[:CONTAINS]->(n:DiagramNode) RETURN n.id, n.label, n.name ORDER BY n.id",
			map[string]any{"run": runID})
		if err != nil {
			return nil, err
		}
		for nodes.Next(ctx) {
			rec := nodes.Record()
			d.Nodes = append(d.Nodes, diagram.NodeRef{ID: str(rec, "n.id"), Label: str(rec, "n.label"), Name: str(rec, "n.name")})
		}

		edges, err := tx.Run(ctx,
			"MATCH (a:DiagramNode {run_id: $run})-[e:FLOWS_TO]->(b:DiagramNode) RETURN a.id, b.id, e.label",
			map[string]any{"run": runID})
		if err != nil {
			return nil, err
		}
		for edges.Next(ctx) {
			rec := edges.Record()
			d.Edges = append(d.Edges, diagram.EdgeRef{From: str(rec, "a.id"), To: str(rec, "b.id"), Label: str(rec, "e.label")})
		}
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*graph.Diagram), nil
}

func (r *Neo4jRepository) QuerySuccessors(ctx context.Context, runID, nodeName string) ([]string, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		records, err := tx.Run(ctx,
			"MATCH (:DiagramNode {run_id: $run, name: $name})-[:FLOWS_TO]->(next:DiagramNode) "+
				"RETURN DISTINCT next.name ORDER BY next.name",
			map[string]any{"run": runID, "name": nodeName})
		if err != nil {
			return nil, err
		}
		var names []string
		for records.Next(ctx) {
			names = append(names, str(records.Record(), "next.name"))
		}
		return names, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (r *Neo4jRepository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// str reads a string column, treating null as empty.
func str(rec *neo4j.Record, key string) string {
	v, ok := rec.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

var _ graph.Repository = (*Neo4jRepository)(nil)
