package store_test

import (
	"context"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func newMemoryStore(t *testing.T) store.Store {
	t.Helper()
	s := store.NewMemoryStore()
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRegisterAndGetAgent(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	agent := &models.AgentRecord{
		Identity:     "agent-finance-bot",
		Version:      "1.0.0",
		Capabilities: []string{"billing"},
		Operations:   []string{models.OpInvoke},
		Status:       models.AgentStatusActive,
	}
	if err := s.RegisterAgent(ctx, agent); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	got, err := s.GetAgent(ctx, "agent-finance-bot")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if got.Version != "1.0.0" {
		t.Errorf("GetAgent().Version = %q, want %q", got.Version, "1.0.0")
	}
}

func TestRegisterAgent_DuplicateIdentityRejected(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	agent := &models.AgentRecord{Identity: "dup-agent", Status: models.AgentStatusActive}
	if err := s.RegisterAgent(ctx, agent); err != nil {
		t.Fatalf("first RegisterAgent() error = %v", err)
	}
	err := s.RegisterAgent(ctx, &models.AgentRecord{Identity: "dup-agent", Status: models.AgentStatusActive})
	if err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	var dup *store.ErrDuplicateRecord
	if ok := asErrDuplicate(err, &dup); !ok {
		t.Errorf("expected ErrDuplicateRecord, got %T: %v", err, err)
	}
}

func TestGetAgent_NotFound(t *testing.T) {
	s := newMemoryStore(t)
	_, err := s.GetAgent(context.Background(), "ghost")
	var nf *store.ErrNotFound
	if ok := asErrNotFound(err, &nf); !ok {
		t.Errorf("expected ErrNotFound, got %T: %v", err, err)
	}
}

func TestListAgents_FilterByCapability(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	s.RegisterAgent(ctx, &models.AgentRecord{Identity: "a1", Capabilities: []string{"billing"}, Status: models.AgentStatusActive})
	s.RegisterAgent(ctx, &models.AgentRecord{Identity: "a2", Capabilities: []string{"support"}, Status: models.AgentStatusActive})

	out, err := s.ListAgents(ctx, store.AgentQuery{Capability: "billing"})
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(out) != 1 || out[0].Identity != "a1" {
		t.Errorf("ListAgents(capability=billing) = %+v, want only a1", out)
	}
}

func TestDeregisterAgent(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	s.RegisterAgent(ctx, &models.AgentRecord{Identity: "gone", Status: models.AgentStatusActive})
	if err := s.DeregisterAgent(ctx, "gone"); err != nil {
		t.Fatalf("DeregisterAgent() error = %v", err)
	}
	if _, err := s.GetAgent(ctx, "gone"); err == nil {
		t.Error("expected GetAgent() to fail after deregistration")
	}
}

func TestKBRegistryCRUD(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	kb := &models.KBRecord{KBID: "kb-customers", KBType: models.KBTypeRelational, Operations: []string{"query_sql"}, Status: models.AgentStatusActive}
	if err := s.RegisterKB(ctx, kb); err != nil {
		t.Fatalf("RegisterKB() error = %v", err)
	}
	if err := s.UpdateKBOperations(ctx, "kb-customers", []string{"query_sql", "schema_introspect"}); err != nil {
		t.Fatalf("UpdateKBOperations() error = %v", err)
	}
	got, err := s.GetKB(ctx, "kb-customers")
	if err != nil {
		t.Fatalf("GetKB() error = %v", err)
	}
	if len(got.Operations) != 2 {
		t.Errorf("GetKB().Operations = %v, want 2 entries", got.Operations)
	}
}

func TestPolicyEvaluation_DefaultDeny(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	decision, err := s.EvaluatePolicy(ctx, "agent-x", "kb-customers", "query_sql")
	if err != nil {
		t.Fatalf("EvaluatePolicy() error = %v", err)
	}
	if decision.Allow {
		t.Error("EvaluatePolicy() on empty policy set should deny by default")
	}
}

func TestPolicyEvaluation_PrecedenceOrder(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.CreatePolicy(ctx, &models.PolicyRecord{
		Name:       "deny-all",
		Precedence: 10,
		Active:     true,
		Rules: []models.PolicyRule{
			{PrincipalPattern: "*", ResourcePattern: "*", ActionPattern: "*", Effect: models.EffectDeny},
		},
	})
	s.CreatePolicy(ctx, &models.PolicyRecord{
		Name:       "allow-finance-billing",
		Precedence: 1,
		Active:     true,
		Rules: []models.PolicyRule{
			{PrincipalPattern: "agent-finance-*", ResourcePattern: "kb-billing", ActionPattern: "query_sql", Effect: models.EffectAllow},
		},
	})

	decision, err := s.EvaluatePolicy(ctx, "agent-finance-bot", "kb-billing", "query_sql")
	if err != nil {
		t.Fatalf("EvaluatePolicy() error = %v", err)
	}
	if !decision.Allow {
		t.Errorf("expected lower-precedence allow rule to win, got deny: %+v", decision)
	}
	if decision.MatchedPolicy != "allow-finance-billing" {
		t.Errorf("MatchedPolicy = %q, want allow-finance-billing", decision.MatchedPolicy)
	}
}

func TestAuditLogAndQuery(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	s.LogEvent(ctx, &models.AuditEvent{EventType: models.EventQuery, SourceID: "agent-x", TargetID: "kb-customers", Outcome: models.OutcomeSuccess})
	s.LogEvent(ctx, &models.AuditEvent{EventType: models.EventQuery, SourceID: "agent-x", TargetID: "kb-customers", Outcome: models.OutcomeDenied})

	out, err := s.QueryAuditLogs(ctx, store.AuditQuery{SourceID: "agent-x", Outcome: models.OutcomeDenied})
	if err != nil {
		t.Fatalf("QueryAuditLogs() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("QueryAuditLogs(outcome=denied) returned %d events, want 1", len(out))
	}

	stats, err := s.GetAuditStats(ctx, "agent-x")
	if err != nil {
		t.Fatalf("GetAuditStats() error = %v", err)
	}
	if stats.Total != 2 {
		t.Errorf("GetAuditStats().Total = %d, want 2", stats.Total)
	}
}

func asErrDuplicate(err error, target **store.ErrDuplicateRecord) bool {
	if e, ok := err.(*store.ErrDuplicateRecord); ok {
		*target = e
		return true
	}
	return false
}

func asErrNotFound(err error, target **store.ErrNotFound) bool {
	if e, ok := err.(*store.ErrNotFound); ok {
		*target = e
		return true
	}
	return false
}
