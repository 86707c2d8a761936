package directory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func updatePayload(t *testing.T, update models.DirectoryUpdate) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(update)
	if err != nil {
		t.Fatalf("marshal update: %v", err)
	}
	return raw
}

func TestCache_HandleUpdate_AgentRegistered(t *testing.T) {
	c := New()

	update := models.DirectoryUpdate{
		Type:      models.DirUpdateAgentRegistered,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"identity":     "agent-a",
			"version":      "1.0.0",
			"capabilities": []any{"summarize"},
			"status":       "active",
		},
	}

	if _, err := c.handleUpdate(context.Background(), "mesh.directory.updates", updatePayload(t, update)); err != nil {
		t.Fatalf("handleUpdate error = %v", err)
	}

	out, err := c.handleQuery(context.Background(), "mesh.directory.query", nil)
	if err != nil {
		t.Fatalf("handleQuery error = %v", err)
	}
	reply := out.(map[string]any)
	agents := reply["agents"].([]AgentEntry)
	if len(agents) != 1 || agents[0].Identity != "agent-a" {
		t.Errorf("agents = %v, want one entry for agent-a", agents)
	}
}

func TestCache_HandleUpdate_AgentCapabilityUpdated(t *testing.T) {
	c := New()

	reg := updatePayload(t, models.DirectoryUpdate{
		Type: models.DirUpdateAgentRegistered,
		Data: map[string]any{"identity": "agent-a", "capabilities": []any{"summarize"}},
	})
	if _, err := c.handleUpdate(context.Background(), "", reg); err != nil {
		t.Fatalf("register update error = %v", err)
	}

	capUpdate := updatePayload(t, models.DirectoryUpdate{
		Type: models.DirUpdateAgentCapabilityUpdated,
		Data: map[string]any{"identity": "agent-a", "capabilities": []any{"summarize", "translate"}},
	})
	if _, err := c.handleUpdate(context.Background(), "", capUpdate); err != nil {
		t.Fatalf("capability update error = %v", err)
	}

	out, err := c.handleQuery(context.Background(), "", nil)
	if err != nil {
		t.Fatalf("handleQuery error = %v", err)
	}
	agents := out.(map[string]any)["agents"].([]AgentEntry)
	if len(agents[0].Capabilities) != 2 {
		t.Errorf("Capabilities = %v, want 2 entries", agents[0].Capabilities)
	}
}

func TestCache_HandleUpdate_AgentDisconnected(t *testing.T) {
	c := New()

	reg := updatePayload(t, models.DirectoryUpdate{
		Type: models.DirUpdateAgentRegistered,
		Data: map[string]any{"identity": "agent-a", "status": "active"},
	})
	if _, err := c.handleUpdate(context.Background(), "", reg); err != nil {
		t.Fatalf("register update error = %v", err)
	}

	disc := updatePayload(t, models.DirectoryUpdate{
		Type: models.DirUpdateAgentDisconnected,
		Data: map[string]any{"identity": "agent-a"},
	})
	if _, err := c.handleUpdate(context.Background(), "", disc); err != nil {
		t.Fatalf("disconnect update error = %v", err)
	}

	c.mu.RLock()
	status := c.agents["agent-a"].Status
	c.mu.RUnlock()
	if status != string(models.AgentStatusOffline) {
		t.Errorf("status = %v, want offline", status)
	}
}

func TestCache_HandleQuery_FilterByCapability(t *testing.T) {
	c := New()

	for _, id := range []string{"agent-a", "agent-b"} {
		caps := []any{"translate"}
		if id == "agent-b" {
			caps = []any{"summarize"}
		}
		upd := updatePayload(t, models.DirectoryUpdate{
			Type: models.DirUpdateAgentRegistered,
			Data: map[string]any{"identity": id, "capabilities": caps},
		})
		if _, err := c.handleUpdate(context.Background(), "", upd); err != nil {
			t.Fatalf("update error = %v", err)
		}
	}

	reqPayload, _ := json.Marshal(models.DirectoryQueryRequest{CapabilityFilter: "translate"})
	out, err := c.handleQuery(context.Background(), "", reqPayload)
	if err != nil {
		t.Fatalf("handleQuery error = %v", err)
	}
	agents := out.(map[string]any)["agents"].([]AgentEntry)
	if len(agents) != 1 || agents[0].Identity != "agent-a" {
		t.Errorf("agents = %v, want only agent-a", agents)
	}
}
