package audit_test

import (
	"context"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/audit"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func seedEvents(t *testing.T, s store.Store) {
	t.Helper()
	ctx := context.Background()
	events := []*models.AuditEvent{
		{EventType: models.EventQuery, SourceID: "agent-a", TargetID: "kb-a", Outcome: models.OutcomeSuccess},
		{EventType: models.EventQuery, SourceID: "agent-a", TargetID: "kb-a", Outcome: models.OutcomeDenied},
		{EventType: models.EventInvoke, SourceID: "agent-b", TargetID: "agent-c", Outcome: models.OutcomeSuccess},
	}
	for _, e := range events {
		if err := s.LogEvent(ctx, e); err != nil {
			t.Fatalf("LogEvent() error = %v", err)
		}
	}
}

func TestService_Query_FiltersBySourceID(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvents(t, s)
	svc := audit.New(s)

	reply, err := svc.Query(context.Background(), models.AuditQueryRequest{SourceID: "agent-a"})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if reply.TotalCount != 2 {
		t.Errorf("TotalCount = %d, want 2", reply.TotalCount)
	}
	if reply.FiltersApplied["source_id"] != "agent-a" {
		t.Errorf("filters_applied = %v, want source_id=agent-a", reply.FiltersApplied)
	}
}

func TestService_Query_DefaultsLimit(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvents(t, s)
	svc := audit.New(s)

	reply, err := svc.Query(context.Background(), models.AuditQueryRequest{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if reply.FiltersApplied["limit"] != 100 {
		t.Errorf("filters_applied[limit] = %v, want 100", reply.FiltersApplied["limit"])
	}
}

func TestService_Stats_AggregatesByOutcomeAndEventType(t *testing.T) {
	s := store.NewMemoryStore()
	seedEvents(t, s)
	svc := audit.New(s)

	reply, err := svc.Stats(context.Background(), "")
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if reply.Total != 3 {
		t.Errorf("Total = %d, want 3", reply.Total)
	}
	if reply.ByOutcome[models.OutcomeSuccess] != 2 {
		t.Errorf("ByOutcome[success] = %d, want 2", reply.ByOutcome[models.OutcomeSuccess])
	}
	if reply.ByEventType[models.EventInvoke] != 1 {
		t.Errorf("ByEventType[invoke] = %d, want 1", reply.ByEventType[models.EventInvoke])
	}
}

func TestHandleQuery_MalformedPayloadReturnsErrorReply(t *testing.T) {
	s := store.NewMemoryStore()
	svc := audit.New(s)

	reply, err := svc.HandleQuery(context.Background(), "mesh.audit.query", []byte("not json"))
	if err != nil {
		t.Fatalf("HandleQuery() error = %v", err)
	}
	errReply, ok := reply.(models.ErrorReply)
	if !ok || errReply.Status != models.StatusError {
		t.Errorf("reply = %+v, want ErrorReply", reply)
	}
}
