package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// SQLiteStore is the durable embedded Persistence Store (spec §4.2),
// grounded on the same migration-numbered schema as the reference
// adapter: agents, knowledge_bases, policies, audit_logs, each gated
// behind a schema_migrations table so repeated startups are idempotent.
type SQLiteStore struct {
	db       *sql.DB
	compiler *ruleCompiler
}

// OpenSQLiteStore opens (creating if necessary) the database file at
// dsn and runs pending migrations. dsn is a modernc.org/sqlite data
// source, typically a filesystem path.
func OpenSQLiteStore(ctx context.Context, dsn string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dsn); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY churn
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set journal_mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA synchronous=NORMAL"); err != nil {
		return nil, fmt.Errorf("set synchronous: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("set foreign_keys: %w", err)
	}
	s := &SQLiteStore{db: db, compiler: newRuleCompiler()}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLiteStore) Close() error                   { return s.db.Close() }

type migration struct {
	version int
	stmts   []string
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply migration %d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
			m.version, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

var migrations = []migration{
	{1, []string{
		`CREATE TABLE agents (
			id TEXT PRIMARY KEY,
			identity TEXT UNIQUE NOT NULL,
			version TEXT NOT NULL,
			capabilities TEXT NOT NULL,
			operations TEXT NOT NULL,
			operation_schemas TEXT NOT NULL,
			health_endpoint TEXT NOT NULL,
			status TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			last_heartbeat TEXT,
			metadata TEXT NOT NULL
		)`,
		`CREATE INDEX idx_agents_identity ON agents(identity)`,
		`CREATE INDEX idx_agents_status ON agents(status)`,
	}},
	{2, []string{
		`CREATE TABLE knowledge_bases (
			id TEXT PRIMARY KEY,
			kb_id TEXT UNIQUE NOT NULL,
			kb_type TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			operations TEXT NOT NULL,
			kb_schema TEXT NOT NULL,
			status TEXT NOT NULL,
			registered_at TEXT NOT NULL,
			last_health_check TEXT,
			metadata TEXT NOT NULL
		)`,
		`CREATE INDEX idx_kbs_kb_id ON knowledge_bases(kb_id)`,
		`CREATE INDEX idx_kbs_type ON knowledge_bases(kb_type)`,
	}},
	{3, []string{
		`CREATE TABLE policies (
			id TEXT PRIMARY KEY,
			policy_name TEXT UNIQUE NOT NULL,
			rules TEXT NOT NULL,
			precedence INTEGER NOT NULL,
			active INTEGER NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_policies_name ON policies(policy_name)`,
		`CREATE INDEX idx_policies_active ON policies(active)`,
	}},
	{4, []string{
		`CREATE TABLE audit_logs (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			target_id TEXT,
			outcome TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			request_metadata TEXT,
			policy_decision TEXT,
			masked_fields TEXT,
			full_request TEXT,
			full_response TEXT,
			provenance_chain TEXT
		)`,
		`CREATE INDEX idx_audit_event_type ON audit_logs(event_type)`,
		`CREATE INDEX idx_audit_source ON audit_logs(source_id)`,
		`CREATE INDEX idx_audit_target ON audit_logs(target_id)`,
		`CREATE INDEX idx_audit_timestamp ON audit_logs(timestamp)`,
		`CREATE INDEX idx_audit_outcome ON audit_logs(outcome)`,
	}},
}

// ── Agents ───────────────────────────────────────────────────

func (s *SQLiteStore) RegisterAgent(ctx context.Context, agent *models.AgentRecord) error {
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = time.Now().UTC()
	}
	caps, _ := json.Marshal(agent.Capabilities)
	ops, _ := json.Marshal(agent.Operations)
	schemas, _ := json.Marshal(agent.OperationSchemas)
	meta, _ := json.Marshal(agent.Metadata)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO agents (id, identity, version, capabilities, operations, operation_schemas,
			health_endpoint, status, registered_at, last_heartbeat, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), agent.Identity, agent.Version, string(caps), string(ops), string(schemas),
		agent.HealthEndpoint, string(agent.Status), formatTime(agent.RegisteredAt), nullTime(agent.LastHeartbeat), string(meta))
	if isUniqueViolation(err) {
		return &ErrDuplicateRecord{Entity: "agent", Key: agent.Identity}
	}
	if err != nil {
		return &ErrQuery{Op: "register_agent", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, identity string) (*models.AgentRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT identity, version, capabilities, operations, operation_schemas,
			health_endpoint, status, registered_at, last_heartbeat, metadata
		FROM agents WHERE identity = ?`, identity)
	agent, err := scanAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "agent", Key: identity}
	}
	if err != nil {
		return nil, &ErrQuery{Op: "get_agent", Err: err}
	}
	return agent, nil
}

func (s *SQLiteStore) ListAgents(ctx context.Context, q AgentQuery) ([]models.AgentRecord, error) {
	var conditions []string
	var params []any
	if q.Identity != "" {
		conditions = append(conditions, "identity = ?")
		params = append(params, q.Identity)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		params = append(params, string(q.Status))
	}
	if q.Capability != "" {
		conditions = append(conditions, "EXISTS (SELECT 1 FROM json_each(capabilities) WHERE json_each.value = ?)")
		params = append(params, q.Capability)
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT identity, version, capabilities, operations, operation_schemas,
			health_endpoint, status, registered_at, last_heartbeat, metadata
		FROM agents WHERE %s ORDER BY identity`, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &ErrQuery{Op: "list_agents", Err: err}
	}
	defer rows.Close()

	var out []models.AgentRecord
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, &ErrQuery{Op: "list_agents", Err: err}
		}
		out = append(out, *agent)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, identity string, status models.AgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET status = ?, last_heartbeat = ? WHERE identity = ?",
		string(status), formatTime(time.Now().UTC()), identity)
	return checkUpdate(res, err, "agent", identity, "update_agent_status")
}

func (s *SQLiteStore) UpdateAgentCapabilities(ctx context.Context, identity string, capabilities []string) error {
	caps, _ := json.Marshal(capabilities)
	res, err := s.db.ExecContext(ctx,
		"UPDATE agents SET capabilities = ? WHERE identity = ?", string(caps), identity)
	return checkUpdate(res, err, "agent", identity, "update_agent_capabilities")
}

func (s *SQLiteStore) DeregisterAgent(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE identity = ?", identity)
	return checkUpdate(res, err, "agent", identity, "deregister_agent")
}

func scanAgent(row interface{ Scan(...any) error }) (*models.AgentRecord, error) {
	var a models.AgentRecord
	var caps, ops, schemas, meta string
	var status string
	var registeredAt string
	var lastHeartbeat sql.NullString
	if err := row.Scan(&a.Identity, &a.Version, &caps, &ops, &schemas,
		&a.HealthEndpoint, &status, &registeredAt, &lastHeartbeat, &meta); err != nil {
		return nil, err
	}
	a.Status = models.AgentStatus(status)
	_ = json.Unmarshal([]byte(caps), &a.Capabilities)
	_ = json.Unmarshal([]byte(ops), &a.Operations)
	_ = json.Unmarshal([]byte(schemas), &a.OperationSchemas)
	_ = json.Unmarshal([]byte(meta), &a.Metadata)
	a.RegisteredAt = parseTime(registeredAt)
	if lastHeartbeat.Valid {
		a.LastHeartbeat = parseTime(lastHeartbeat.String)
	}
	return &a, nil
}

// ── KBs ──────────────────────────────────────────────────────

func (s *SQLiteStore) RegisterKB(ctx context.Context, kb *models.KBRecord) error {
	if kb.RegisteredAt.IsZero() {
		kb.RegisteredAt = time.Now().UTC()
	}
	ops, _ := json.Marshal(kb.Operations)
	meta, _ := json.Marshal(kb.Metadata)
	schema := string(kb.KBSchema)
	if schema == "" {
		schema = "{}"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO knowledge_bases (id, kb_id, kb_type, endpoint, operations, kb_schema,
			status, registered_at, last_health_check, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), kb.KBID, kb.KBType, kb.Endpoint, string(ops), schema,
		string(kb.Status), formatTime(kb.RegisteredAt), nullTime(kb.LastHealthCheck), string(meta))
	if isUniqueViolation(err) {
		return &ErrDuplicateRecord{Entity: "kb", Key: kb.KBID}
	}
	if err != nil {
		return &ErrQuery{Op: "register_kb", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetKB(ctx context.Context, kbID string) (*models.KBRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT kb_id, kb_type, endpoint, operations, kb_schema,
			status, registered_at, last_health_check, metadata
		FROM knowledge_bases WHERE kb_id = ?`, kbID)
	kb, err := scanKB(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "kb", Key: kbID}
	}
	if err != nil {
		return nil, &ErrQuery{Op: "get_kb", Err: err}
	}
	return kb, nil
}

func (s *SQLiteStore) ListKBs(ctx context.Context, q KBQuery) ([]models.KBRecord, error) {
	var conditions []string
	var params []any
	if q.KBID != "" {
		conditions = append(conditions, "kb_id = ?")
		params = append(params, q.KBID)
	}
	if q.Status != "" {
		conditions = append(conditions, "status = ?")
		params = append(params, string(q.Status))
	}
	if q.KBType != "" {
		conditions = append(conditions, "kb_type = ?")
		params = append(params, q.KBType)
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT kb_id, kb_type, endpoint, operations, kb_schema,
			status, registered_at, last_health_check, metadata
		FROM knowledge_bases WHERE %s ORDER BY kb_id`, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &ErrQuery{Op: "list_kbs", Err: err}
	}
	defer rows.Close()

	var out []models.KBRecord
	for rows.Next() {
		kb, err := scanKB(rows)
		if err != nil {
			return nil, &ErrQuery{Op: "list_kbs", Err: err}
		}
		out = append(out, *kb)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateKBStatus(ctx context.Context, kbID string, status models.AgentStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_bases SET status = ?, last_health_check = ? WHERE kb_id = ?",
		string(status), formatTime(time.Now().UTC()), kbID)
	return checkUpdate(res, err, "kb", kbID, "update_kb_status")
}

func (s *SQLiteStore) UpdateKBOperations(ctx context.Context, kbID string, operations []string) error {
	ops, _ := json.Marshal(operations)
	res, err := s.db.ExecContext(ctx,
		"UPDATE knowledge_bases SET operations = ? WHERE kb_id = ?", string(ops), kbID)
	return checkUpdate(res, err, "kb", kbID, "update_kb_operations")
}

func (s *SQLiteStore) DeregisterKB(ctx context.Context, kbID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM knowledge_bases WHERE kb_id = ?", kbID)
	return checkUpdate(res, err, "kb", kbID, "deregister_kb")
}

func scanKB(row interface{ Scan(...any) error }) (*models.KBRecord, error) {
	var k models.KBRecord
	var ops, schema, meta string
	var status string
	var registeredAt string
	var lastCheck sql.NullString
	if err := row.Scan(&k.KBID, &k.KBType, &k.Endpoint, &ops, &schema,
		&status, &registeredAt, &lastCheck, &meta); err != nil {
		return nil, err
	}
	k.Status = models.AgentStatus(status)
	_ = json.Unmarshal([]byte(ops), &k.Operations)
	k.KBSchema = json.RawMessage(schema)
	_ = json.Unmarshal([]byte(meta), &k.Metadata)
	k.RegisteredAt = parseTime(registeredAt)
	if lastCheck.Valid {
		k.LastHealthCheck = parseTime(lastCheck.String)
	}
	return &k, nil
}

// ── Policies ─────────────────────────────────────────────────

func (s *SQLiteStore) CreatePolicy(ctx context.Context, policy *models.PolicyRecord) error {
	now := time.Now().UTC()
	policy.CreatedAt, policy.UpdatedAt = now, now
	rules, _ := json.Marshal(policy.Rules)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (id, policy_name, rules, precedence, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), policy.Name, string(rules), policy.Precedence, boolToInt(policy.Active),
		formatTime(now), formatTime(now))
	if isUniqueViolation(err) {
		return &ErrDuplicateRecord{Entity: "policy", Key: policy.Name}
	}
	if err != nil {
		return &ErrQuery{Op: "create_policy", Err: err}
	}
	return nil
}

func (s *SQLiteStore) GetPolicy(ctx context.Context, name string) (*models.PolicyRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT policy_name, rules, precedence, active, created_at, updated_at
		FROM policies WHERE policy_name = ?`, name)
	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: "policy", Key: name}
	}
	if err != nil {
		return nil, &ErrQuery{Op: "get_policy", Err: err}
	}
	return p, nil
}

func (s *SQLiteStore) ListPolicies(ctx context.Context, activeOnly bool) ([]models.PolicyRecord, error) {
	query := `
		SELECT policy_name, rules, precedence, active, created_at, updated_at
		FROM policies`
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY precedence ASC"

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, &ErrQuery{Op: "list_policies", Err: err}
	}
	defer rows.Close()

	var out []models.PolicyRecord
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, &ErrQuery{Op: "list_policies", Err: err}
		}
		out = append(out, *p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Precedence < out[j].Precedence })
	return out, rows.Err()
}

func (s *SQLiteStore) UpdatePolicy(ctx context.Context, policy *models.PolicyRecord) error {
	rules, _ := json.Marshal(policy.Rules)
	policy.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE policies SET rules = ?, precedence = ?, active = ?, updated_at = ?
		WHERE policy_name = ?`,
		string(rules), policy.Precedence, boolToInt(policy.Active), formatTime(policy.UpdatedAt), policy.Name)
	return checkUpdate(res, err, "policy", policy.Name, "update_policy")
}

func (s *SQLiteStore) DeletePolicy(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM policies WHERE policy_name = ?", name)
	return checkUpdate(res, err, "policy", name, "delete_policy")
}

func (s *SQLiteStore) EvaluatePolicy(ctx context.Context, principal, resource, action string) (*models.PolicyDecision, error) {
	active, err := s.ListPolicies(ctx, true)
	if err != nil {
		return nil, err
	}
	return evaluateLocal(s.compiler, active, principal, resource, action), nil
}

func scanPolicy(row interface{ Scan(...any) error }) (*models.PolicyRecord, error) {
	var p models.PolicyRecord
	var rules string
	var active int
	var createdAt, updatedAt string
	if err := row.Scan(&p.Name, &rules, &p.Precedence, &active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(rules), &p.Rules)
	p.Active = active != 0
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updatedAt)
	return &p, nil
}

// ── Audit ────────────────────────────────────────────────────

func (s *SQLiteStore) LogEvent(ctx context.Context, event *models.AuditEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	reqMeta, _ := json.Marshal(event.RequestMetadata)
	policyDecision, _ := json.Marshal(event.PolicyDecision)
	maskedFields, _ := json.Marshal(event.MaskedFields)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, event_type, source_id, target_id, outcome, timestamp,
			request_metadata, policy_decision, masked_fields, full_request, full_response, provenance_chain)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventID, event.EventType, event.SourceID, event.TargetID, string(event.Outcome),
		formatTime(event.Timestamp), string(reqMeta), string(policyDecision), string(maskedFields),
		nullableRaw(event.FullRequest), nullableRaw(event.FullResponse), nullableRaw(event.ProvenanceChain))
	if err != nil {
		return &ErrQuery{Op: "log_event", Err: err}
	}
	return nil
}

func (s *SQLiteStore) QueryAuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditEvent, error) {
	var conditions []string
	var params []any
	if q.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		params = append(params, q.EventType)
	}
	if q.SourceID != "" {
		conditions = append(conditions, "source_id = ?")
		params = append(params, q.SourceID)
	}
	if q.TargetID != "" {
		conditions = append(conditions, "target_id = ?")
		params = append(params, q.TargetID)
	}
	if q.Outcome != "" {
		conditions = append(conditions, "outcome = ?")
		params = append(params, string(q.Outcome))
	}
	if q.Since != nil {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, formatTime(*q.Since))
	}
	if q.Until != nil {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, formatTime(*q.Until))
	}
	where := "1=1"
	if len(conditions) > 0 {
		where = strings.Join(conditions, " AND ")
	}
	query := fmt.Sprintf(`
		SELECT id, event_type, source_id, target_id, outcome, timestamp,
			request_metadata, policy_decision, masked_fields, full_request, full_response, provenance_chain
		FROM audit_logs WHERE %s ORDER BY timestamp DESC`, where)
	if q.Limit > 0 {
		query += " LIMIT ?"
		params = append(params, q.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &ErrQuery{Op: "query_audit_logs", Err: err}
	}
	defer rows.Close()

	var out []models.AuditEvent
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, &ErrQuery{Op: "query_audit_logs", Err: err}
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAuditStats(ctx context.Context, sourceID string) (*AuditStats, error) {
	query := "SELECT outcome, event_type, COUNT(*) FROM audit_logs"
	var params []any
	if sourceID != "" {
		query += " WHERE source_id = ?"
		params = append(params, sourceID)
	}
	query += " GROUP BY outcome, event_type"

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, &ErrQuery{Op: "get_audit_stats", Err: err}
	}
	defer rows.Close()

	stats := &AuditStats{ByOutcome: map[models.AuditOutcome]int64{}, ByEventType: map[string]int64{}}
	for rows.Next() {
		var outcome, eventType string
		var count int64
		if err := rows.Scan(&outcome, &eventType, &count); err != nil {
			return nil, &ErrQuery{Op: "get_audit_stats", Err: err}
		}
		stats.ByOutcome[models.AuditOutcome(outcome)] += count
		stats.ByEventType[eventType] += count
		stats.Total += count
	}
	return stats, rows.Err()
}

// DeleteAuditEvent removes one audit event by ID, used by the retention
// janitor's archive-then-purge cycle.
func (s *SQLiteStore) DeleteAuditEvent(ctx context.Context, eventID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE id = ?", eventID)
	return checkUpdate(res, err, "audit_event", eventID, "delete_audit_event")
}

func scanAuditEvent(row interface{ Scan(...any) error }) (*models.AuditEvent, error) {
	var e models.AuditEvent
	var outcome, ts string
	var reqMeta, policyDecision, maskedFields sql.NullString
	var fullReq, fullResp, provenance sql.NullString
	var targetID sql.NullString
	if err := row.Scan(&e.EventID, &e.EventType, &e.SourceID, &targetID, &outcome, &ts,
		&reqMeta, &policyDecision, &maskedFields, &fullReq, &fullResp, &provenance); err != nil {
		return nil, err
	}
	e.Outcome = models.AuditOutcome(outcome)
	e.Timestamp = parseTime(ts)
	if targetID.Valid {
		e.TargetID = targetID.String
	}
	if reqMeta.Valid {
		_ = json.Unmarshal([]byte(reqMeta.String), &e.RequestMetadata)
	}
	if policyDecision.Valid && policyDecision.String != "null" {
		_ = json.Unmarshal([]byte(policyDecision.String), &e.PolicyDecision)
	}
	if maskedFields.Valid {
		_ = json.Unmarshal([]byte(maskedFields.String), &e.MaskedFields)
	}
	if fullReq.Valid {
		e.FullRequest = json.RawMessage(fullReq.String)
	}
	if fullResp.Valid {
		e.FullResponse = json.RawMessage(fullResp.String)
	}
	if provenance.Valid {
		e.ProvenanceChain = json.RawMessage(provenance.String)
	}
	return &e, nil
}

// ── Helpers ──────────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkUpdate(res sql.Result, err error, entity, key, op string) error {
	if err != nil {
		return &ErrQuery{Op: op, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return &ErrQuery{Op: op, Err: err}
	}
	if n == 0 {
		return &ErrNotFound{Entity: entity, Key: key}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// modernc.org/sqlite surfaces constraint failures as a *sqlite.Error
	// whose message embeds the SQLite error text; matching on the text is
	// the same approach the driver's own examples use since the error
	// type itself does not export a structured code in all versions.
	return strings.Contains(err.Error(), "UNIQUE constraint failed") ||
		strings.Contains(err.Error(), "constraint failed: UNIQUE")
}
