package registry_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/registry"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func TestDirectoryService_ListAgents_FilterByCapability(t *testing.T) {
	healthServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthServer.Close()

	s := store.NewMemoryStore()
	agentSvc := registry.NewAgentService(s, bus.NewFake())
	ctx := context.Background()

	a := validRegistration(healthServer.URL)
	a.Identity = "agent-translate"
	a.Capabilities = []string{"translate"}
	if _, err := agentSvc.Register(ctx, a); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	b := validRegistration(healthServer.URL)
	b.Identity = "agent-summarize"
	b.Capabilities = []string{"summarize"}
	if _, err := agentSvc.Register(ctx, b); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	dir := registry.NewDirectoryService(s)
	agents, err := dir.ListAgents(ctx, registry.AgentListFilter{Capability: "translate"})
	if err != nil {
		t.Fatalf("ListAgents() error = %v", err)
	}
	if len(agents) != 1 || agents[0].Identity != "agent-translate" {
		t.Errorf("ListAgents() = %v, want only agent-translate", agents)
	}
}

func TestDirectoryService_Summary(t *testing.T) {
	s := store.NewMemoryStore()
	kbSvc := registry.NewKBService(s, bus.NewFake(), nil)
	ctx := context.Background()

	if _, err := kbSvc.Register(ctx, validKBRegistration()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	dir := registry.NewDirectoryService(s)
	summary, err := dir.Summary(ctx)
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalKBs != 1 {
		t.Errorf("TotalKBs = %d, want 1", summary.TotalKBs)
	}
	if summary.KBsByType[models.KBTypeRelational] != 1 {
		t.Errorf("KBsByType[relational] = %d, want 1", summary.KBsByType[models.KBTypeRelational])
	}
}
