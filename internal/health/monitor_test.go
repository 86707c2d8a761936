package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentmesh/agentmesh/control-plane/internal/health"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func TestMonitor_CheckAgent_ActiveOnHTTP200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.RegisterAgent(ctx, &models.AgentRecord{
		Identity:       "agent-a",
		HealthEndpoint: srv.URL,
		Status:         models.AgentStatusOffline,
	}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	m := health.New(s, nil, time.Second)
	result, err := m.CheckAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("CheckAgent() error = %v", err)
	}
	if result.Status != models.AgentStatusActive {
		t.Errorf("Status = %v, want active", result.Status)
	}

	agent, err := s.GetAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("GetAgent() error = %v", err)
	}
	if agent.Status != models.AgentStatusActive {
		t.Errorf("persisted status = %v, want active", agent.Status)
	}
}

func TestMonitor_CheckAgent_DegradedOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.RegisterAgent(ctx, &models.AgentRecord{Identity: "agent-a", HealthEndpoint: srv.URL}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	m := health.New(s, nil, time.Second)
	result, err := m.CheckAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("CheckAgent() error = %v", err)
	}
	if result.Status != models.AgentStatusDegraded {
		t.Errorf("Status = %v, want degraded", result.Status)
	}
}

func TestMonitor_CheckAgent_OfflineOnUnreachable(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	if err := s.RegisterAgent(ctx, &models.AgentRecord{Identity: "agent-a", HealthEndpoint: "http://127.0.0.1:1/unreachable"}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	m := health.New(s, nil, time.Second)
	result, err := m.CheckAgent(ctx, "agent-a")
	if err != nil {
		t.Fatalf("CheckAgent() error = %v", err)
	}
	if result.Status != models.AgentStatusOffline {
		t.Errorf("Status = %v, want offline", result.Status)
	}
}

func TestMonitor_CheckAgent_NotFound(t *testing.T) {
	s := store.NewMemoryStore()
	m := health.New(s, nil, time.Second)

	if _, err := m.CheckAgent(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for unregistered agent")
	}
}

func TestMonitor_GetSummary_ClassifiesByRecency(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	if err := s.RegisterAgent(ctx, &models.AgentRecord{
		Identity:      "fresh",
		Status:        models.AgentStatusActive,
		LastHeartbeat: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}
	if err := s.RegisterAgent(ctx, &models.AgentRecord{
		Identity:      "stale",
		Status:        models.AgentStatusActive,
		LastHeartbeat: time.Now().UTC().Add(-10 * time.Minute),
	}); err != nil {
		t.Fatalf("RegisterAgent() error = %v", err)
	}

	m := health.New(s, nil, time.Second)
	summary, err := m.GetSummary(ctx)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if summary.Agents.Active != 1 {
		t.Errorf("Active = %d, want 1", summary.Agents.Active)
	}
	if summary.Agents.Offline != 1 {
		t.Errorf("Offline = %d, want 1", summary.Agents.Offline)
	}
}
