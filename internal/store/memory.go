package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// MemoryStore is an in-process Store implementation guarded by a single
// RWMutex shared by all entity maps, in the idiom of the teacher's store
// package.
// It is the test double used across registry/enforcement/router/health/
// directory tests and the zero-config dev server path; durable
// deployments use sqlite.go instead.
type MemoryStore struct {
	mu       sync.RWMutex
	agents   map[string]models.AgentRecord
	kbs      map[string]models.KBRecord
	policies map[string]models.PolicyRecord
	audit    []models.AuditEvent

	compiler *ruleCompiler
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:   make(map[string]models.AgentRecord),
		kbs:      make(map[string]models.KBRecord),
		policies: make(map[string]models.PolicyRecord),
		compiler: newRuleCompiler(),
	}
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close() error                { return nil }
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// ── Agents ───────────────────────────────────────────────────

func (s *MemoryStore) RegisterAgent(_ context.Context, agent *models.AgentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[agent.Identity]; exists {
		return &ErrDuplicateRecord{Entity: "agent", Key: agent.Identity}
	}
	if agent.RegisteredAt.IsZero() {
		agent.RegisteredAt = time.Now().UTC()
	}
	s.agents[agent.Identity] = *agent
	return nil
}

func (s *MemoryStore) GetAgent(_ context.Context, identity string) (*models.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[identity]
	if !ok {
		return nil, &ErrNotFound{Entity: "agent", Key: identity}
	}
	return &a, nil
}

func (s *MemoryStore) ListAgents(_ context.Context, q AgentQuery) ([]models.AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AgentRecord
	for _, a := range s.agents {
		if q.Identity != "" && a.Identity != q.Identity {
			continue
		}
		if q.Status != "" && a.Status != q.Status {
			continue
		}
		if q.Capability != "" && !containsStr(a.Capabilities, q.Capability) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity < out[j].Identity })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateAgentStatus(_ context.Context, identity string, status models.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[identity]
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: identity}
	}
	a.Status = status
	a.LastHeartbeat = time.Now().UTC()
	s.agents[identity] = a
	return nil
}

func (s *MemoryStore) UpdateAgentCapabilities(_ context.Context, identity string, capabilities []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[identity]
	if !ok {
		return &ErrNotFound{Entity: "agent", Key: identity}
	}
	a.Capabilities = capabilities
	s.agents[identity] = a
	return nil
}

func (s *MemoryStore) DeregisterAgent(_ context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[identity]; !ok {
		return &ErrNotFound{Entity: "agent", Key: identity}
	}
	delete(s.agents, identity)
	return nil
}

// ── KBs ──────────────────────────────────────────────────────

func (s *MemoryStore) RegisterKB(_ context.Context, kb *models.KBRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.kbs[kb.KBID]; exists {
		return &ErrDuplicateRecord{Entity: "kb", Key: kb.KBID}
	}
	if kb.RegisteredAt.IsZero() {
		kb.RegisteredAt = time.Now().UTC()
	}
	s.kbs[kb.KBID] = *kb
	return nil
}

func (s *MemoryStore) GetKB(_ context.Context, kbID string) (*models.KBRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.kbs[kbID]
	if !ok {
		return nil, &ErrNotFound{Entity: "kb", Key: kbID}
	}
	return &k, nil
}

func (s *MemoryStore) ListKBs(_ context.Context, q KBQuery) ([]models.KBRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.KBRecord
	for _, k := range s.kbs {
		if q.KBID != "" && k.KBID != q.KBID {
			continue
		}
		if q.Status != "" && k.Status != q.Status {
			continue
		}
		if q.KBType != "" && k.KBType != q.KBType {
			continue
		}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].KBID < out[j].KBID })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) UpdateKBStatus(_ context.Context, kbID string, status models.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kbs[kbID]
	if !ok {
		return &ErrNotFound{Entity: "kb", Key: kbID}
	}
	k.Status = status
	k.LastHealthCheck = time.Now().UTC()
	s.kbs[kbID] = k
	return nil
}

func (s *MemoryStore) UpdateKBOperations(_ context.Context, kbID string, operations []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.kbs[kbID]
	if !ok {
		return &ErrNotFound{Entity: "kb", Key: kbID}
	}
	k.Operations = operations
	s.kbs[kbID] = k
	return nil
}

func (s *MemoryStore) DeregisterKB(_ context.Context, kbID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kbs[kbID]; !ok {
		return &ErrNotFound{Entity: "kb", Key: kbID}
	}
	delete(s.kbs, kbID)
	return nil
}

// ── Policies ─────────────────────────────────────────────────

func (s *MemoryStore) CreatePolicy(_ context.Context, policy *models.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.policies[policy.Name]; exists {
		return &ErrDuplicateRecord{Entity: "policy", Key: policy.Name}
	}
	now := time.Now().UTC()
	policy.CreatedAt, policy.UpdatedAt = now, now
	s.policies[policy.Name] = *policy
	return nil
}

func (s *MemoryStore) GetPolicy(_ context.Context, name string) (*models.PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[name]
	if !ok {
		return nil, &ErrNotFound{Entity: "policy", Key: name}
	}
	return &p, nil
}

func (s *MemoryStore) ListPolicies(_ context.Context, activeOnly bool) ([]models.PolicyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.PolicyRecord
	for _, p := range s.policies {
		if activeOnly && !p.Active {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Precedence < out[j].Precedence })
	return out, nil
}

func (s *MemoryStore) UpdatePolicy(_ context.Context, policy *models.PolicyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.policies[policy.Name]
	if !ok {
		return &ErrNotFound{Entity: "policy", Key: policy.Name}
	}
	policy.CreatedAt = existing.CreatedAt
	policy.UpdatedAt = time.Now().UTC()
	s.policies[policy.Name] = *policy
	return nil
}

func (s *MemoryStore) DeletePolicy(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.policies[name]; !ok {
		return &ErrNotFound{Entity: "policy", Key: name}
	}
	delete(s.policies, name)
	return nil
}

func (s *MemoryStore) EvaluatePolicy(ctx context.Context, principal, resource, action string) (*models.PolicyDecision, error) {
	active, err := s.ListPolicies(ctx, true)
	if err != nil {
		return nil, err
	}
	return evaluateLocal(s.compiler, active, principal, resource, action), nil
}

// ── Audit ────────────────────────────────────────────────────

func (s *MemoryStore) LogEvent(_ context.Context, event *models.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	s.audit = append(s.audit, *event)
	return nil
}

func (s *MemoryStore) QueryAuditLogs(_ context.Context, q AuditQuery) ([]models.AuditEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.AuditEvent
	for _, e := range s.audit {
		if q.EventType != "" && e.EventType != q.EventType {
			continue
		}
		if q.SourceID != "" && e.SourceID != q.SourceID {
			continue
		}
		if q.TargetID != "" && e.TargetID != q.TargetID {
			continue
		}
		if q.Outcome != "" && e.Outcome != q.Outcome {
			continue
		}
		if q.Since != nil && e.Timestamp.Before(*q.Since) {
			continue
		}
		if q.Until != nil && e.Timestamp.After(*q.Until) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) GetAuditStats(_ context.Context, sourceID string) (*AuditStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &AuditStats{ByOutcome: map[models.AuditOutcome]int64{}, ByEventType: map[string]int64{}}
	for _, e := range s.audit {
		if sourceID != "" && e.SourceID != sourceID {
			continue
		}
		stats.ByOutcome[e.Outcome]++
		stats.ByEventType[e.EventType]++
		stats.Total++
	}
	return stats, nil
}

// ── Purge, used by the retention janitor ────────────────────

// DeleteAuditEvent removes one audit event by ID. Exposed for the
// retention janitor's purge-after-archive step; not part of the core
// spec's audit invariants (the audit trail is append-only in the
// *normal* request path — retention is an ops concern, see
// SPEC_FULL.md's Supplemented Features).
func (s *MemoryStore) DeleteAuditEvent(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.audit {
		if e.EventID == eventID {
			s.audit = append(s.audit[:i], s.audit[i+1:]...)
			return nil
		}
	}
	return &ErrNotFound{Entity: "audit_event", Key: eventID}
}

func containsStr(list []string, needle string) bool {
	for _, s := range list {
		if s == needle {
			return true
		}
	}
	return false
}
