// Package models defines the AgentMesh domain records and the bus
// envelope shapes that carry them across the wire.
package models

import (
	"encoding/json"
	"time"
)

// ── Agent ────────────────────────────────────────────────────

type AgentStatus string

const (
	AgentStatusActive   AgentStatus = "active"
	AgentStatusDegraded AgentStatus = "degraded"
	AgentStatusOffline  AgentStatus = "offline"
)

// Allowed agent operations, per spec §4.5 / §6.
const (
	OpPublish   = "publish"
	OpQuery     = "query"
	OpSubscribe = "subscribe"
	OpInvoke    = "invoke"
	OpExecute   = "execute"
)

// AllowedAgentOperations is the full set an agent's "operations" field
// may draw from.
var AllowedAgentOperations = []string{OpPublish, OpQuery, OpSubscribe, OpInvoke, OpExecute}

// AgentRecord is a registered mesh participant.
type AgentRecord struct {
	Identity       string                     `json:"identity" db:"identity"`
	Version        string                     `json:"version" db:"version"`
	Capabilities   []string                   `json:"capabilities" db:"capabilities"`
	Operations     []string                   `json:"operations" db:"operations"`
	OperationSchemas map[string]json.RawMessage `json:"operation_schemas,omitempty" db:"operation_schemas"`
	HealthEndpoint string                     `json:"health_endpoint" db:"health_endpoint"`
	Status         AgentStatus                `json:"status" db:"status"`
	RegisteredAt   time.Time                  `json:"registered_at" db:"registered_at"`
	LastHeartbeat  time.Time                  `json:"last_heartbeat" db:"last_heartbeat"`
	Metadata       map[string]any             `json:"metadata,omitempty" db:"metadata"`
}

// ── KnowledgeBase ────────────────────────────────────────────

// Supported KB kinds, per spec §4.5 ("relational, graph as two initial members").
const (
	KBTypeRelational = "relational"
	KBTypeGraph      = "graph"
)

// KBRecord is a registered knowledge base.
type KBRecord struct {
	KBID             string         `json:"kb_id" db:"kb_id"`
	KBType           string         `json:"kb_type" db:"kb_type"`
	Endpoint         string         `json:"endpoint" db:"endpoint"`
	Operations       []string       `json:"operations" db:"operations"`
	KBSchema         json.RawMessage `json:"kb_schema,omitempty" db:"kb_schema"`
	Status           AgentStatus    `json:"status" db:"status"`
	RegisteredAt     time.Time      `json:"registered_at" db:"registered_at"`
	LastHealthCheck  time.Time      `json:"last_health_check" db:"last_health_check"`
	Metadata         map[string]any `json:"metadata,omitempty" db:"metadata"`
}

// ── Policy ───────────────────────────────────────────────────

type PolicyEffect string

const (
	EffectAllow PolicyEffect = "allow"
	EffectDeny  PolicyEffect = "deny"
)

// PolicyRule is one ordered rule within a PolicyRecord.
type PolicyRule struct {
	PrincipalPattern string       `json:"principal_pattern"`
	ResourcePattern  string       `json:"resource_pattern"`
	ActionPattern    string       `json:"action_pattern"`
	Effect           PolicyEffect `json:"effect"`
	MaskingRules     []string     `json:"masking_rules,omitempty"`
}

// PolicyRecord mirrors a policy held by the external decision service,
// or is evaluated directly by the store's local fallback evaluator.
type PolicyRecord struct {
	Name       string       `json:"name" db:"name"`
	Rules      []PolicyRule `json:"rules"`
	Precedence int          `json:"precedence" db:"precedence"`
	Active     bool         `json:"active" db:"active"`
	CreatedAt  time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at" db:"updated_at"`
}

// PolicyDecision is the outcome of evaluating a (principal, resource,
// action) triple, whether sourced remotely or locally.
type PolicyDecision struct {
	Allow        bool     `json:"allow"`
	MaskingRules []string `json:"masking_rules"`
	Reason       string   `json:"reason"`
	MatchedPolicy string  `json:"matched_policy,omitempty"`
}

// ── Invocation ───────────────────────────────────────────────

type InvocationStatus string

const (
	InvocationProcessing InvocationStatus = "processing"
	InvocationCompleted  InvocationStatus = "completed"
	InvocationFailed     InvocationStatus = "failed"
	InvocationDenied     InvocationStatus = "denied"
)

// InvocationRecord tracks one agent-to-agent invocation through its
// lifecycle. Denied invocations are never stored (state machine §4.8).
type InvocationRecord struct {
	TrackingID    string           `json:"tracking_id"`
	SourceAgentID string           `json:"source_agent_id"`
	TargetAgentID string           `json:"target_agent_id"`
	Operation     string           `json:"operation"`
	Payload       map[string]any   `json:"payload,omitempty"`
	Status        InvocationStatus `json:"status"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	Result        map[string]any   `json:"result,omitempty"`
	Error         string           `json:"error,omitempty"`
}

// ── Audit ────────────────────────────────────────────────────

type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeDenied  AuditOutcome = "denied"
	OutcomeError   AuditOutcome = "error"
)

const (
	EventRegister       = "register"
	EventQuery          = "query"
	EventInvoke         = "invoke"
	EventPolicyDecision = "policy_decision"
)

// AuditEvent is one append-only record of a governed action. The
// heavy-weight fields are extensibility points the default enforcement
// path never populates (spec §9, open question 3).
type AuditEvent struct {
	EventID         string          `json:"event_id" db:"event_id"`
	EventType       string          `json:"event_type" db:"event_type"`
	SourceID        string          `json:"source_id" db:"source_id"`
	TargetID        string          `json:"target_id" db:"target_id"`
	Outcome         AuditOutcome    `json:"outcome" db:"outcome"`
	Timestamp       time.Time       `json:"timestamp" db:"timestamp"`
	RequestMetadata map[string]any  `json:"request_metadata,omitempty" db:"request_metadata"`
	PolicyDecision  *PolicyDecision `json:"policy_decision,omitempty" db:"policy_decision"`
	MaskedFields    []string        `json:"masked_fields,omitempty" db:"masked_fields"`
	FullRequest     json.RawMessage `json:"full_request,omitempty" db:"full_request"`
	FullResponse    json.RawMessage `json:"full_response,omitempty" db:"full_response"`
	ProvenanceChain json.RawMessage `json:"provenance_chain,omitempty" db:"provenance_chain"`
}

// ── Masked value literal (spec §6) ──────────────────────────

const RedactedLiteral = "[REDACTED]"

// ── Bus envelope shapes (spec §6) ───────────────────────────

// KBQueryRequest is the mesh.routing.kb_query request envelope.
type KBQueryRequest struct {
	RequesterID string         `json:"requester_id"`
	KBID        string         `json:"kb_id"`
	Operation   string         `json:"operation"`
	Params      map[string]any `json:"params"`
}

// RouteStatus is the status field shared by all router replies.
type RouteStatus string

const (
	StatusSuccess    RouteStatus = "success"
	StatusDenied     RouteStatus = "denied"
	StatusError      RouteStatus = "error"
	StatusProcessing RouteStatus = "processing"
	StatusAuthorized RouteStatus = "authorized"
)

// KBQueryReply is the mesh.routing.kb_query reply envelope.
type KBQueryReply struct {
	Status       RouteStatus    `json:"status"`
	Data         map[string]any `json:"data,omitempty"`
	MaskedFields []string       `json:"masked_fields"`
	Policy       string         `json:"policy,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// AgentInvokeRequest is the mesh.routing.agent_invoke request envelope.
type AgentInvokeRequest struct {
	Source    string         `json:"source"`
	Target    string         `json:"target"`
	Operation string         `json:"operation"`
	Payload   map[string]any `json:"payload"`
}

// AgentInvokeReply is the mesh.routing.agent_invoke reply envelope.
type AgentInvokeReply struct {
	TrackingID string         `json:"tracking_id"`
	Status     RouteStatus    `json:"status"`
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Operation  string         `json:"operation"`
	Policy     string         `json:"policy,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// InvokeDispatch is the mesh.agent.{id}.invoke envelope, mesh→target.
type InvokeDispatch struct {
	TrackingID string         `json:"tracking_id"`
	Source     string         `json:"source"`
	Operation  string         `json:"operation"`
	Payload    map[string]any `json:"payload"`
}

// CompletionStatus is the status field of a completion message.
type CompletionStatus string

const (
	CompletionComplete CompletionStatus = "complete"
	CompletionFailed   CompletionStatus = "failed"
)

// CompletionMessage is the mesh.routing.completion envelope, target→mesh.
type CompletionMessage struct {
	TrackingID string           `json:"tracking_id"`
	Status     CompletionStatus `json:"status"`
	Result     map[string]any   `json:"result,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// NotificationType identifies a notification payload kind.
const NotificationInvocationComplete = "invocation_complete"

// InvocationNotification is the mesh.agent.{source}.notifications envelope.
type InvocationNotification struct {
	Type       string         `json:"type"`
	TrackingID string         `json:"tracking_id"`
	Status     InvocationStatus `json:"status"`
	Result     map[string]any `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// DirectoryUpdateType enumerates mesh.directory.updates payload kinds.
const (
	DirUpdateAgentRegistered        = "agent_registered"
	DirUpdateKBRegistered           = "kb_registered"
	DirUpdateAgentCapabilityUpdated = "agent_capability_updated"
	DirUpdateKBOperationsUpdated    = "kb_operations_updated"
	DirUpdateAgentDisconnected      = "agent_disconnected"
)

// DirectoryUpdate is the mesh.directory.updates pub-only envelope.
type DirectoryUpdate struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// DirectoryQueryRequest is the mesh.directory.query request envelope.
type DirectoryQueryRequest struct {
	Type             string `json:"type,omitempty"` // "agents" | "kbs" | "both"
	CapabilityFilter string `json:"capability_filter,omitempty"`
	StatusFilter     string `json:"status_filter,omitempty"`
	TypeFilter       string `json:"type_filter,omitempty"`
	Limit            int    `json:"limit,omitempty"`
}

// DirectoryQueryReply is the mesh.directory.query reply envelope.
type DirectoryQueryReply struct {
	Agents         []AgentRecord  `json:"agents"`
	KBs            []KBRecord     `json:"kbs"`
	TotalCount     int            `json:"total_count"`
	FiltersApplied map[string]any `json:"filters_applied"`
	Timestamp      time.Time      `json:"timestamp"`
}

// AuditQueryRequest is the mesh.audit.query request envelope.
type AuditQueryRequest struct {
	EventType string       `json:"event_type,omitempty"`
	SourceID  string       `json:"source_id,omitempty"`
	TargetID  string       `json:"target_id,omitempty"`
	Outcome   AuditOutcome `json:"outcome,omitempty"`
	StartTime *time.Time   `json:"start_time,omitempty"`
	EndTime   *time.Time   `json:"end_time,omitempty"`
	Limit     int          `json:"limit,omitempty"`
}

// AuditQueryReply is the mesh.audit.query reply envelope.
type AuditQueryReply struct {
	AuditLogs      []AuditEvent   `json:"audit_logs"`
	TotalCount     int            `json:"total_count"`
	FiltersApplied map[string]any `json:"filters_applied"`
}

// AuditStatsReply is the mesh.audit.stats reply envelope.
type AuditStatsReply struct {
	ByOutcome   map[AuditOutcome]int64 `json:"by_outcome"`
	ByEventType map[string]int64       `json:"by_event_type"`
	Total       int64                  `json:"total"`
}

// ErrorReply is the generic {status: "error", error: "..."} shape used
// when a bus request is malformed or a handler fails unexpectedly.
type ErrorReply struct {
	Status RouteStatus `json:"status"`
	Error  string      `json:"error"`
}

func NewErrorReply(msg string) ErrorReply {
	return ErrorReply{Status: StatusError, Error: msg}
}
