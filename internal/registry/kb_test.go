package registry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/registry"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func validKBRegistration() registry.KBRegistrationRequest {
	return registry.KBRegistrationRequest{
		KBID:       "kb-a",
		KBType:     models.KBTypeRelational,
		Endpoint:   "postgres://localhost:5432/mesh",
		Operations: []string{"sql_query", "insert"},
	}
}

func TestKBService_Register_Success(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)

	resp, err := svc.Register(context.Background(), validKBRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if resp.Status != models.AgentStatusActive {
		t.Errorf("Status = %v, want active (no checker registered for this type)", resp.Status)
	}
}

func TestKBService_Register_RejectsDuplicateKBID(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, validKBRegistration()); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := svc.Register(ctx, validKBRegistration())
	if err == nil {
		t.Fatal("expected error registering duplicate kb_id")
	}
	var dup *registry.ErrDuplicateKB
	if !errors.As(err, &dup) {
		t.Errorf("Register() error = %T, want *registry.ErrDuplicateKB", err)
	}
}

func TestKBService_Register_RejectsUnsupportedType(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)

	req := validKBRegistration()
	req.KBType = "mongo"

	_, err := svc.Register(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for unsupported kb type")
	}
}

func TestKBService_Register_RejectsInvalidOperation(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)

	req := validKBRegistration()
	req.Operations = []string{"drop_database"}

	_, err := svc.Register(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for invalid operation")
	}
}

func TestKBService_Register_ConnectivityFailureDegradesToOffline(t *testing.T) {
	s := store.NewMemoryStore()
	checkers := map[string]registry.ConnectivityChecker{
		models.KBTypeRelational: func(context.Context, string, string) error {
			return errors.New("connection refused")
		},
	}
	svc := registry.NewKBService(s, bus.NewFake(), checkers)

	resp, err := svc.Register(context.Background(), validKBRegistration())
	if err != nil {
		t.Fatalf("Register() error = %v, want no error on connectivity failure", err)
	}
	if resp.Status != models.AgentStatusOffline {
		t.Errorf("Status = %v, want offline", resp.Status)
	}
}

func TestKBService_UpdateOperations(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)
	ctx := context.Background()

	if _, err := svc.Register(ctx, validKBRegistration()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	updated, err := svc.UpdateOperations(ctx, "kb-a", []string{"sql_query", "update", "delete"})
	if err != nil {
		t.Fatalf("UpdateOperations() error = %v", err)
	}
	if len(updated.Operations) != 3 {
		t.Errorf("Operations = %v, want 3 entries", updated.Operations)
	}
}

func TestKBService_Deregister_NotFound(t *testing.T) {
	s := store.NewMemoryStore()
	svc := registry.NewKBService(s, bus.NewFake(), nil)

	if err := svc.Deregister(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error deregistering unknown kb")
	}
}
