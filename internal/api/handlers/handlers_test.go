package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/api/handlers"
	"github.com/agentmesh/agentmesh/control-plane/internal/audit"
	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/directory"
	"github.com/agentmesh/agentmesh/control-plane/internal/enforcement"
	"github.com/agentmesh/agentmesh/control-plane/internal/health"
	"github.com/agentmesh/agentmesh/control-plane/internal/policy"
	"github.com/agentmesh/agentmesh/control-plane/internal/registry"
	"github.com/agentmesh/agentmesh/control-plane/internal/router"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
	"github.com/go-chi/chi/v5"
)

func allowAllPolicy() *models.PolicyRecord {
	return &models.PolicyRecord{
		Name:       "allow-all",
		Active:     true,
		Precedence: 1,
		Rules: []models.PolicyRule{
			{PrincipalPattern: "*", ResourcePattern: "*", ActionPattern: "*", Effect: models.EffectAllow},
		},
	}
}

func newTestHandlers(t *testing.T) *handlers.Handlers {
	t.Helper()
	s := store.NewMemoryStore()
	b := bus.NewFake()
	if err := s.CreatePolicy(context.Background(), allowAllPolicy()); err != nil {
		t.Fatalf("CreatePolicy() error = %v", err)
	}
	evaluator := policy.NewLocalEvaluator(s)
	enf := enforcement.New(evaluator, s, nil)
	r := router.New(enf, s, b)
	if err := r.Start(); err != nil {
		t.Fatalf("router.Start() error = %v", err)
	}
	agents := registry.NewAgentService(s, b)
	kbs := registry.NewKBService(s, b, nil)
	dir := directory.New()
	if err := dir.Load(context.Background(), s); err != nil {
		t.Fatalf("dir.Load() error = %v", err)
	}
	aud := audit.New(s)
	h := health.New(s, nil, 0)
	return handlers.New(s, r, agents, kbs, dir, aud, h)
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestRegisterAgent_Success(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(registry.AgentRegistrationRequest{
		Identity:       "agent-a",
		Version:        "1.0.0",
		Capabilities:   []string{"cap-a"},
		Operations:     []string{models.OpQuery},
		HealthEndpoint: "http://localhost:9/health",
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.RegisterAgent(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusCreated, w.Body.String())
	}
}

func TestRegisterAgent_ValidationErrorReturnsBadRequest(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(registry.AgentRegistrationRequest{Identity: ""})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/agents/", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.RegisterAgent(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetAgent_NotFoundReturns404(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/missing", nil)
	req = withURLParam(req, "identity", "missing")
	w := httptest.NewRecorder()

	h.GetAgent(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDirectoryQuery_ReturnsEmptyDirectory(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/directory", nil)
	w := httptest.NewRecorder()

	h.DirectoryQuery(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var reply map[string]any
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply["total_count"].(float64) != 0 {
		t.Errorf("total_count = %v, want 0", reply["total_count"])
	}
}

func TestRouteKBQuery_UnknownKBReturnsForbidden(t *testing.T) {
	h := newTestHandlers(t)

	body, _ := json.Marshal(models.KBQueryRequest{RequesterID: "agent-a", KBID: "missing-kb", Operation: "sql_query"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/routing/kb_query", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.RouteKBQuery(w, req)

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

func TestGetInvocationStatus_UnknownReturns404(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/routing/invocations/nope", nil)
	req = withURLParam(req, "trackingID", "nope")
	w := httptest.NewRecorder()

	h.GetInvocationStatus(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestAuditQuery_ReturnsEmptyResults(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit/?limit=10", nil)
	w := httptest.NewRecorder()

	h.AuditQuery(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var reply models.AuditQueryReply
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if len(reply.AuditLogs) != 0 {
		t.Errorf("audit logs = %d, want 0", len(reply.AuditLogs))
	}
}

func TestHealthSummary_ReturnsZeroedCounts(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health/summary", nil)
	w := httptest.NewRecorder()

	h.HealthSummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var reply health.Summary
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.Agents.Total != 0 || reply.KBs.Total != 0 {
		t.Errorf("summary = %+v, want zeroed counts", reply)
	}
}

func TestDirectorySummary_ReturnsZeroedCounts(t *testing.T) {
	h := newTestHandlers(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/directory/summary", nil)
	w := httptest.NewRecorder()

	h.DirectorySummary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
	var reply registry.DirectorySummary
	if err := json.NewDecoder(w.Body).Decode(&reply); err != nil {
		t.Fatalf("decode reply: %v", err)
	}
	if reply.TotalAgents != 0 || reply.TotalKBs != 0 {
		t.Errorf("summary = %+v, want zeroed counts", reply)
	}
}
