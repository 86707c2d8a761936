package kbadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

const (
	cypherQuerySchema       = `{"type":"object","required":["query"],"properties":{"query":{"type":"string"},"parameters":{"type":"object"}}}`
	createNodeSchema        = `{"type":"object","required":["labels","properties"],"properties":{"labels":{"type":"array","items":{"type":"string"}},"properties":{"type":"object"}}}`
	createRelationshipSchema = `{"type":"object","required":["from_node_query","to_node_query","relationship_type"],"properties":{"from_node_query":{"type":"string"},"to_node_query":{"type":"string"},"relationship_type":{"type":"string"},"properties":{"type":"object"}}}`
	findNodeSchema          = `{"type":"object","properties":{"labels":{"type":"array","items":{"type":"string"}},"properties":{"type":"object"},"limit":{"type":"integer"}}}`
)

// GraphAdapter is the KB Adapter Contract implementation over Neo4j,
// grounded on the reference adapter's four operations: cypher_query,
// create_node, create_relationship, find_node.
type GraphAdapter struct {
	uri      string
	user     string
	password string
	driver   neo4j.DriverWithContext
	registry *Registry
}

// NewGraphAdapter builds an adapter bound to a bolt:// uri. Call
// Connect before use.
func NewGraphAdapter(uri, user, password string) *GraphAdapter {
	a := &GraphAdapter{uri: uri, user: user, password: password, registry: NewRegistry()}
	a.registerOperations()
	return a
}

func (a *GraphAdapter) Connect(ctx context.Context) error {
	driver, err := neo4j.NewDriverWithContext(a.uri, neo4j.BasicAuth(a.user, a.password, ""))
	if err != nil {
		return fmt.Errorf("connect graph kb adapter: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("verify graph kb adapter connectivity: %w", err)
	}
	a.driver = driver
	return nil
}

func (a *GraphAdapter) Disconnect(ctx context.Context) error {
	if a.driver != nil {
		return a.driver.Close(ctx)
	}
	return nil
}

func (a *GraphAdapter) Health(ctx context.Context) Health {
	if a.driver == nil {
		return Health{Status: HealthUnhealthy, Message: "driver not initialized"}
	}
	start := time.Now()
	if err := a.driver.VerifyConnectivity(ctx); err != nil {
		return Health{Status: HealthUnhealthy, Message: err.Error()}
	}
	return Health{Status: HealthHealthy, LatencyMS: float64(time.Since(start).Microseconds()) / 1000}
}

func (a *GraphAdapter) Operations() map[string]OperationMetadata { return a.registry.All() }

func (a *GraphAdapter) Execute(ctx context.Context, operation string, params map[string]any) (any, error) {
	meta, err := a.registry.Metadata(operation)
	if err != nil {
		return nil, err
	}
	if err := ValidateParams(meta, params); err != nil {
		return nil, err
	}
	return a.registry.Execute(ctx, operation, params)
}

func (a *GraphAdapter) registerOperations() {
	a.registry.Register(OperationMetadata{Name: "cypher_query", Description: "Execute Cypher query", InputSchema: []byte(cypherQuerySchema)}, a.cypherQuery)
	a.registry.Register(OperationMetadata{Name: "create_node", Description: "Create a new node", InputSchema: []byte(createNodeSchema)}, a.createNode)
	a.registry.Register(OperationMetadata{Name: "create_relationship", Description: "Create a relationship between nodes", InputSchema: []byte(createRelationshipSchema)}, a.createRelationship)
	a.registry.Register(OperationMetadata{Name: "find_node", Description: "Find nodes by labels and properties", InputSchema: []byte(findNodeSchema)}, a.findNode)
}

func (a *GraphAdapter) session(ctx context.Context) neo4j.SessionWithContext {
	return a.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
}

func (a *GraphAdapter) cypherQuery(ctx context.Context, params map[string]any) (any, error) {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("cypher_query: missing required field %q", "query")
	}
	parameters, _ := params["parameters"].(map[string]any)

	session := a.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, parameters)
	if err != nil {
		return nil, fmt.Errorf("cypher_query: %w", err)
	}
	var records []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		row := make(map[string]any, len(rec.Keys))
		for _, key := range rec.Keys {
			v, _ := rec.Get(key)
			row[key] = v
		}
		records = append(records, row)
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("cypher_query: %w", err)
	}
	return map[string]any{"records": records, "record_count": len(records)}, nil
}

func (a *GraphAdapter) createNode(ctx context.Context, params map[string]any) (any, error) {
	labels, err := stringSlice(params["labels"])
	if err != nil || len(labels) == 0 {
		return nil, fmt.Errorf("create_node: missing required field %q", "labels")
	}
	properties, _ := params["properties"].(map[string]any)

	query := fmt.Sprintf("CREATE (n:%s $properties) RETURN id(n) AS node_id", strings.Join(labels, ":"))

	session := a.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"properties": properties})
	if err != nil {
		return nil, fmt.Errorf("create_node: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("create_node: %w", err)
	}
	nodeID, _ := record.Get("node_id")
	return map[string]any{"node_id": nodeID, "success": true}, nil
}

func (a *GraphAdapter) createRelationship(ctx context.Context, params map[string]any) (any, error) {
	fromQuery, ok := params["from_node_query"].(string)
	if !ok || fromQuery == "" {
		return nil, fmt.Errorf("create_relationship: missing required field %q", "from_node_query")
	}
	toQuery, ok := params["to_node_query"].(string)
	if !ok || toQuery == "" {
		return nil, fmt.Errorf("create_relationship: missing required field %q", "to_node_query")
	}
	relType, ok := params["relationship_type"].(string)
	if !ok || relType == "" {
		return nil, fmt.Errorf("create_relationship: missing required field %q", "relationship_type")
	}
	properties, _ := params["properties"].(map[string]any)

	query := fmt.Sprintf(`
		CALL { %s } WITH * LIMIT 1
		MATCH (from) WHERE id(from) = id(from)
		CALL { %s } WITH from, * LIMIT 1
		MATCH (to) WHERE id(to) = id(to)
		CREATE (from)-[r:%s $properties]->(to)
		RETURN id(r) AS relationship_id`, fromQuery, toQuery, relType)

	session := a.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"properties": properties})
	if err != nil {
		return nil, fmt.Errorf("create_relationship: %w", err)
	}
	record, err := result.Single(ctx)
	if err != nil {
		return nil, fmt.Errorf("create_relationship: %w", err)
	}
	relID, _ := record.Get("relationship_id")
	return map[string]any{"relationship_id": relID, "success": true}, nil
}

func (a *GraphAdapter) findNode(ctx context.Context, params map[string]any) (any, error) {
	labels, _ := stringSlice(params["labels"])
	properties, _ := params["properties"].(map[string]any)
	limit := 100
	if l, ok := params["limit"].(float64); ok && l > 0 {
		limit = int(l)
	}

	labelClause := ""
	if len(labels) > 0 {
		labelClause = ":" + strings.Join(labels, ":")
	}
	whereClause := ""
	if len(properties) > 0 {
		whereClause = " WHERE all(k IN keys($props) WHERE n[k] = $props[k])"
	}
	query := fmt.Sprintf("MATCH (n%s)%s RETURN n LIMIT $limit", labelClause, whereClause)

	session := a.session(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, map[string]any{"limit": limit, "props": properties})
	if err != nil {
		return nil, fmt.Errorf("find_node: %w", err)
	}
	var nodes []map[string]any
	for result.Next(ctx) {
		rec := result.Record()
		v, _ := rec.Get("n")
		if node, ok := v.(neo4j.Node); ok {
			nodes = append(nodes, node.Props)
		}
	}
	if err := result.Err(); err != nil {
		return nil, fmt.Errorf("find_node: %w", err)
	}
	return map[string]any{"nodes": nodes, "node_count": len(nodes), "success": true}, nil
}

func stringSlice(raw any) ([]string, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected array of strings")
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}

var _ Adapter = (*GraphAdapter)(nil)
