package kbadapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// sqlQuerySchema etc. are the JSON Schemas surfaced through
// OperationMetadata, mirroring the reference adapter's Pydantic models.
const (
	sqlQuerySchema = `{"type":"object","required":["query"],"properties":{"query":{"type":"string"},"params":{"type":"object"}}}`
	insertSchema   = `{"type":"object","required":["table","data"],"properties":{"table":{"type":"string"},"data":{"type":"object"}}}`
	updateSchema   = `{"type":"object","required":["table","data","where"],"properties":{"table":{"type":"string"},"data":{"type":"object"},"where":{"type":"object"}}}`
	deleteSchema   = `{"type":"object","required":["table","where"],"properties":{"table":{"type":"string"},"where":{"type":"object"}}}`
)

// RelationalAdapter is the KB Adapter Contract implementation over a
// PostgreSQL-compatible store, grounded on the reference adapter's four
// operations: sql_query, insert, update, delete.
type RelationalAdapter struct {
	dsn      string
	pool     *pgxpool.Pool
	registry *Registry
}

// NewRelationalAdapter builds an adapter bound to a PostgreSQL dsn. Call
// Connect before use.
func NewRelationalAdapter(dsn string) *RelationalAdapter {
	a := &RelationalAdapter{dsn: dsn, registry: NewRegistry()}
	a.registerOperations()
	return a
}

func (a *RelationalAdapter) Connect(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, a.dsn)
	if err != nil {
		return fmt.Errorf("connect relational kb adapter: %w", err)
	}
	a.pool = pool
	return nil
}

func (a *RelationalAdapter) Disconnect(context.Context) error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

func (a *RelationalAdapter) Health(ctx context.Context) Health {
	if a.pool == nil {
		return Health{Status: HealthUnhealthy, Message: "connection pool not initialized"}
	}
	start := time.Now()
	if err := a.pool.Ping(ctx); err != nil {
		return Health{Status: HealthUnhealthy, Message: err.Error()}
	}
	return Health{Status: HealthHealthy, LatencyMS: float64(time.Since(start).Microseconds()) / 1000}
}

func (a *RelationalAdapter) Operations() map[string]OperationMetadata { return a.registry.All() }

func (a *RelationalAdapter) Execute(ctx context.Context, operation string, params map[string]any) (any, error) {
	meta, err := a.registry.Metadata(operation)
	if err != nil {
		return nil, err
	}
	if err := ValidateParams(meta, params); err != nil {
		return nil, err
	}
	return a.registry.Execute(ctx, operation, params)
}

func (a *RelationalAdapter) registerOperations() {
	a.registry.Register(OperationMetadata{Name: "sql_query", Description: "Execute raw SQL query", InputSchema: []byte(sqlQuerySchema)}, a.sqlQuery)
	a.registry.Register(OperationMetadata{Name: "insert", Description: "Insert data into table", InputSchema: []byte(insertSchema)}, a.insert)
	a.registry.Register(OperationMetadata{Name: "update", Description: "Update data in table", InputSchema: []byte(updateSchema)}, a.update)
	a.registry.Register(OperationMetadata{Name: "delete", Description: "Delete data from table", InputSchema: []byte(deleteSchema)}, a.delete)
}

func (a *RelationalAdapter) sqlQuery(ctx context.Context, params map[string]any) (any, error) {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("sql_query: missing required field %q", "query")
	}
	args := positionalArgs(params["params"])

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sql_query: %w", err)
	}
	defer rows.Close()

	var out []map[string]any
	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("sql_query: read row: %w", err)
		}
		row := make(map[string]any, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql_query: %w", err)
	}
	return map[string]any{"rows": out, "row_count": len(out)}, nil
}

func (a *RelationalAdapter) insert(ctx context.Context, params map[string]any) (any, error) {
	table, ok := params["table"].(string)
	if !ok || table == "" {
		return nil, fmt.Errorf("insert: missing required field %q", "table")
	}
	data, ok := params["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return nil, fmt.Errorf("insert: missing required field %q", "data")
	}

	columns := make([]string, 0, len(data))
	placeholders := make([]string, 0, len(data))
	args := make([]any, 0, len(data))
	i := 1
	for col, val := range data {
		columns = append(columns, col)
		placeholders = append(placeholders, fmt.Sprintf("$%d", i))
		args = append(args, val)
		i++
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	var insertedID any
	err := a.pool.QueryRow(ctx, query, args...).Scan(&insertedID)
	if err != nil {
		// Table may not have an "id" column; fall back to a plain insert.
		noReturn := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))
		if _, err2 := a.pool.Exec(ctx, noReturn, args...); err2 != nil {
			return nil, fmt.Errorf("insert: %w", err2)
		}
		return map[string]any{"inserted_id": nil, "success": true}, nil
	}
	return map[string]any{"inserted_id": insertedID, "success": true}, nil
}

func (a *RelationalAdapter) update(ctx context.Context, params map[string]any) (any, error) {
	table, ok := params["table"].(string)
	if !ok || table == "" {
		return nil, fmt.Errorf("update: missing required field %q", "table")
	}
	data, ok := params["data"].(map[string]any)
	if !ok || len(data) == 0 {
		return nil, fmt.Errorf("update: missing required field %q", "data")
	}
	where, ok := params["where"].(map[string]any)
	if !ok || len(where) == 0 {
		return nil, fmt.Errorf("update: missing required field %q", "where")
	}

	var setClauses, whereClauses []string
	var args []any
	i := 1
	for col, val := range data {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	for col, val := range where {
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s", table, strings.Join(setClauses, ", "), strings.Join(whereClauses, " AND "))

	tag, err := a.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	return map[string]any{"updated_count": tag.RowsAffected(), "success": true}, nil
}

func (a *RelationalAdapter) delete(ctx context.Context, params map[string]any) (any, error) {
	table, ok := params["table"].(string)
	if !ok || table == "" {
		return nil, fmt.Errorf("delete: missing required field %q", "table")
	}
	where, ok := params["where"].(map[string]any)
	if !ok || len(where) == 0 {
		return nil, fmt.Errorf("delete: missing required field %q", "where")
	}

	var whereClauses []string
	var args []any
	i := 1
	for col, val := range where {
		whereClauses = append(whereClauses, fmt.Sprintf("%s = $%d", col, i))
		args = append(args, val)
		i++
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", table, strings.Join(whereClauses, " AND "))

	tag, err := a.pool.Exec(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("delete: %w", err)
	}
	return map[string]any{"deleted_count": tag.RowsAffected(), "success": true}, nil
}

func positionalArgs(raw any) []any {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	args := make([]any, 0, len(m))
	for _, v := range m {
		args = append(args, v)
	}
	return args
}

var _ Adapter = (*RelationalAdapter)(nil)
