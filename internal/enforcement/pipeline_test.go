package enforcement_test

import (
	"context"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/enforcement"
	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
	"github.com/agentmesh/agentmesh/control-plane/internal/masking"
	"github.com/agentmesh/agentmesh/control-plane/internal/policy"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

type fakeAdapter struct {
	result any
	err    error
}

func (f *fakeAdapter) Health(context.Context) kbadapter.Health { return kbadapter.Health{Status: kbadapter.HealthHealthy} }
func (f *fakeAdapter) Connect(context.Context) error           { return nil }
func (f *fakeAdapter) Disconnect(context.Context) error        { return nil }
func (f *fakeAdapter) Operations() map[string]kbadapter.OperationMetadata { return nil }
func (f *fakeAdapter) Execute(context.Context, string, map[string]any) (any, error) {
	return f.result, f.err
}

func setupPipeline(t *testing.T, adapter kbadapter.Adapter) (*enforcement.Pipeline, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.RegisterKB(ctx, &models.KBRecord{KBID: "kb-a", KBType: models.KBTypeRelational}); err != nil {
		t.Fatalf("RegisterKB() error = %v", err)
	}
	if err := s.CreatePolicy(ctx, &models.PolicyRecord{
		Name:       "allow-all",
		Active:     true,
		Precedence: 1,
		Rules: []models.PolicyRule{
			{PrincipalPattern: "*", ResourcePattern: "*", ActionPattern: "*", Effect: models.EffectAllow},
		},
	}); err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}

	evaluator := policy.NewLocalEvaluator(s)
	pipeline := enforcement.New(evaluator, s, map[string]kbadapter.Adapter{models.KBTypeRelational: adapter})
	return pipeline, s
}

func TestEnforceKBAccess_AllowedAuditsSuccess(t *testing.T) {
	adapter := &fakeAdapter{result: map[string]any{"rows": []any{map[string]any{"ssn": "123-45-6789", "name": "ok"}}}}
	pipeline, s := setupPipeline(t, adapter)

	result, err := pipeline.EnforceKBAccess(context.Background(), "agent-a", "kb-a", "sql_query", map[string]any{"query": "SELECT 1"})
	if err != nil {
		t.Fatalf("EnforceKBAccess() error = %v", err)
	}
	_ = result

	logs, err := s.QueryAuditLogs(context.Background(), store.AuditQuery{SourceID: "agent-a"})
	if err != nil {
		t.Fatalf("QueryAuditLogs() error = %v", err)
	}
	if len(logs) != 1 || logs[0].Outcome != models.OutcomeSuccess {
		t.Errorf("audit logs = %v, want one success entry", logs)
	}
}

func TestEnforceKBAccess_MasksNativeAdapterRowShape(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.RegisterKB(ctx, &models.KBRecord{KBID: "kb-a", KBType: models.KBTypeRelational}); err != nil {
		t.Fatalf("RegisterKB() error = %v", err)
	}
	if err := s.CreatePolicy(ctx, &models.PolicyRecord{
		Name:       "mask-email",
		Active:     true,
		Precedence: 1,
		Rules: []models.PolicyRule{
			{PrincipalPattern: "*", ResourcePattern: "*", ActionPattern: "*", Effect: models.EffectAllow, MaskingRules: []string{"customer_email"}},
		},
	}); err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}

	// The exact shape RelationalAdapter.sqlQuery returns.
	adapter := &fakeAdapter{result: map[string]any{
		"rows": []map[string]any{
			{"customer_email": "a@x", "name": "ok"},
		},
		"row_count": 1,
	}}
	evaluator := policy.NewLocalEvaluator(s)
	pipeline := enforcement.New(evaluator, s, map[string]kbadapter.Adapter{models.KBTypeRelational: adapter})

	result, err := pipeline.EnforceKBAccess(ctx, "agent-a", "kb-a", "sql_query", map[string]any{"query": "SELECT 1"})
	if err != nil {
		t.Fatalf("EnforceKBAccess() error = %v", err)
	}

	data := result.Data.(map[string]any)
	rows := data["rows"].([]any)
	row := rows[0].(map[string]any)
	if row["customer_email"] != masking.Redacted {
		t.Errorf("customer_email = %v, want %q", row["customer_email"], masking.Redacted)
	}
	if row["name"] != "ok" {
		t.Errorf("name = %v, want unredacted", row["name"])
	}
}

func TestEnforceKBAccess_UnknownKBDenied(t *testing.T) {
	adapter := &fakeAdapter{}
	pipeline, _ := setupPipeline(t, adapter)

	_, err := pipeline.EnforceKBAccess(context.Background(), "agent-a", "ghost-kb", "sql_query", nil)
	if err == nil {
		t.Fatal("expected error for unknown kb")
	}
	var denied *enforcement.ErrAccessDenied
	if e, ok := err.(*enforcement.ErrAccessDenied); ok {
		denied = e
	}
	if denied == nil {
		t.Errorf("expected ErrAccessDenied, got %T: %v", err, err)
	}
}

func TestEnforceKBAccess_PolicyDenyPropagates(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.RegisterKB(ctx, &models.KBRecord{KBID: "kb-a", KBType: models.KBTypeRelational}); err != nil {
		t.Fatalf("RegisterKB() error = %v", err)
	}
	// No active policy -> local evaluator default-denies.
	evaluator := policy.NewLocalEvaluator(s)
	pipeline := enforcement.New(evaluator, s, map[string]kbadapter.Adapter{models.KBTypeRelational: &fakeAdapter{}})

	_, err := pipeline.EnforceKBAccess(ctx, "agent-a", "kb-a", "sql_query", nil)
	if err == nil {
		t.Fatal("expected policy denial")
	}
}

func TestEnforceAgentInvoke_Allowed(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.CreatePolicy(ctx, &models.PolicyRecord{
		Name: "allow-all", Active: true, Precedence: 1,
		Rules: []models.PolicyRule{{PrincipalPattern: "*", ResourcePattern: "*", ActionPattern: "*", Effect: models.EffectAllow}},
	}); err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}
	pipeline := enforcement.New(policy.NewLocalEvaluator(s), s, nil)

	auth, err := pipeline.EnforceAgentInvoke(ctx, "agent-a", "agent-b", "summarize")
	if err != nil {
		t.Fatalf("EnforceAgentInvoke() error = %v", err)
	}
	if auth.Source != "agent-a" || auth.Target != "agent-b" {
		t.Errorf("auth = %+v, want source=agent-a target=agent-b", auth)
	}
}
