// Package store defines the Persistence Store interface (spec §4.2)
// and its error vocabulary. Two implementations are provided:
// sqlite.go (durable, embedded) and memory.go (in-process, used by
// tests and zero-config runs).
package store

import (
	"context"
	"time"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Store is the primary storage interface for the control plane.
// Registry, enforcement, health, and directory services all depend on
// this interface rather than a concrete backend.
type Store interface {
	AgentStore
	KBStore
	PolicyStore
	AuditStore

	// Ping checks if the store is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate runs the store's schema migrations.
	Migrate(ctx context.Context) error
}

// ── Agent Store ─────────────────────────────────────────────

// AgentQuery filters ListAgents results. A zero-valued field means
// "no filter on this dimension."
type AgentQuery struct {
	Identity   string
	Status     models.AgentStatus
	Capability string
	Limit      int
}

type AgentStore interface {
	RegisterAgent(ctx context.Context, agent *models.AgentRecord) error
	GetAgent(ctx context.Context, identity string) (*models.AgentRecord, error)
	ListAgents(ctx context.Context, q AgentQuery) ([]models.AgentRecord, error)
	UpdateAgentStatus(ctx context.Context, identity string, status models.AgentStatus) error
	UpdateAgentCapabilities(ctx context.Context, identity string, capabilities []string) error
	DeregisterAgent(ctx context.Context, identity string) error
}

// ── KB Store ────────────────────────────────────────────────

type KBQuery struct {
	KBID   string
	Status models.AgentStatus
	KBType string
	Limit  int
}

type KBStore interface {
	RegisterKB(ctx context.Context, kb *models.KBRecord) error
	GetKB(ctx context.Context, kbID string) (*models.KBRecord, error)
	ListKBs(ctx context.Context, q KBQuery) ([]models.KBRecord, error)
	UpdateKBStatus(ctx context.Context, kbID string, status models.AgentStatus) error
	UpdateKBOperations(ctx context.Context, kbID string, operations []string) error
	DeregisterKB(ctx context.Context, kbID string) error
}

// ── Policy Store ────────────────────────────────────────────

type PolicyStore interface {
	CreatePolicy(ctx context.Context, policy *models.PolicyRecord) error
	GetPolicy(ctx context.Context, name string) (*models.PolicyRecord, error)
	ListPolicies(ctx context.Context, activeOnly bool) ([]models.PolicyRecord, error)
	UpdatePolicy(ctx context.Context, policy *models.PolicyRecord) error
	DeletePolicy(ctx context.Context, name string) error

	// EvaluatePolicy is the local fallback evaluator (spec §4.2), used
	// only when no remote decision service is configured.
	EvaluatePolicy(ctx context.Context, principal, resource, action string) (*models.PolicyDecision, error)
}

// ── Audit Store ─────────────────────────────────────────────

// AuditQuery filters query_audit_logs results (spec §4.2).
type AuditQuery struct {
	EventType string
	SourceID  string
	TargetID  string
	Outcome   models.AuditOutcome
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// AuditStats aggregates counts by outcome and event type (spec §4.2
// get_audit_stats).
type AuditStats struct {
	ByOutcome   map[models.AuditOutcome]int64
	ByEventType map[string]int64
	Total       int64
}

type AuditStore interface {
	LogEvent(ctx context.Context, event *models.AuditEvent) error
	QueryAuditLogs(ctx context.Context, q AuditQuery) ([]models.AuditEvent, error)
	GetAuditStats(ctx context.Context, sourceID string) (*AuditStats, error)
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// ErrDuplicateRecord is returned on a uniqueness-constraint violation
// during registration (spec §4.2, §7).
type ErrDuplicateRecord struct {
	Entity string
	Key    string
}

func (e *ErrDuplicateRecord) Error() string {
	return e.Entity + " already registered: " + e.Key
}

// ErrQuery wraps any store failure other than not-found/duplicate
// (spec §7's QueryError catch-all).
type ErrQuery struct {
	Op  string
	Err error
}

func (e *ErrQuery) Error() string {
	return "store query failed (" + e.Op + "): " + e.Err.Error()
}

func (e *ErrQuery) Unwrap() error { return e.Err }
