// Package handlers implements the optional REST façade over AgentMesh's
// bus verbs (spec §6): every handler here does nothing a bus subscriber
// doesn't already do, it just gives operators and dashboards an HTTP
// door into the same router, registry, audit, and health surfaces.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentmesh/agentmesh/control-plane/internal/audit"
	"github.com/agentmesh/agentmesh/control-plane/internal/directory"
	"github.com/agentmesh/agentmesh/control-plane/internal/health"
	"github.com/agentmesh/agentmesh/control-plane/internal/registry"
	"github.com/agentmesh/agentmesh/control-plane/internal/router"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Handlers holds all handler dependencies: the same components wired
// into the bus subscribers in pkg/server, reused verbatim so REST and
// bus callers see identical governance and identical audit trails.
type Handlers struct {
	Store        store.Store
	Router       *router.Router
	Agents       *registry.AgentService
	KBs          *registry.KBService
	Directory    *directory.Cache
	DirectorySvc *registry.DirectoryService
	Audit        *audit.Service
	Health       *health.Monitor
}

// New creates a Handlers instance from already-wired components.
func New(s store.Store, r *router.Router, agents *registry.AgentService, kbs *registry.KBService, dir *directory.Cache, aud *audit.Service, h *health.Monitor) *Handlers {
	return &Handlers{
		Store:        s,
		Router:       r,
		Agents:       agents,
		KBs:          kbs,
		Directory:    dir,
		DirectorySvc: registry.NewDirectoryService(s),
		Audit:        aud,
		Health:       h,
	}
}

// ── Registration ─────────────────────────────────────────────

func (h *Handlers) RegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registry.AgentRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.Agents.Register(r.Context(), req)
	if err != nil {
		respondRegistrationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	agent, err := h.Agents.GetDetails(r.Context(), identity)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, agent)
}

func (h *Handlers) RegisterKB(w http.ResponseWriter, r *http.Request) {
	var req registry.KBRegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.KBs.Register(r.Context(), req)
	if err != nil {
		respondRegistrationError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, resp)
}

func (h *Handlers) GetKB(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "kbID")
	kb, err := h.KBs.GetDetails(r.Context(), kbID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, kb)
}

// ── Directory ────────────────────────────────────────────────

func (h *Handlers) DirectoryQuery(w http.ResponseWriter, r *http.Request) {
	req := models.DirectoryQueryRequest{
		Type:             r.URL.Query().Get("type"),
		CapabilityFilter: r.URL.Query().Get("capability"),
		StatusFilter:     r.URL.Query().Get("status"),
		TypeFilter:       r.URL.Query().Get("kb_type"),
	}
	reply := h.Directory.Query(r.Context(), req)
	respondJSON(w, http.StatusOK, reply)
}

// DirectorySummary reports registry-wide counts by status and kb type,
// queried straight from the store rather than the cached directory, for
// operators who want a consistency check against the cache.
func (h *Handlers) DirectorySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.DirectorySvc.Summary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// ── Routing ──────────────────────────────────────────────────

func (h *Handlers) RouteKBQuery(w http.ResponseWriter, r *http.Request) {
	var req models.KBQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply := h.Router.RouteKBQuery(r.Context(), req)
	respondJSON(w, statusForRoute(reply.Status), reply)
}

func (h *Handlers) RouteAgentInvoke(w http.ResponseWriter, r *http.Request) {
	var req models.AgentInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	reply := h.Router.RouteAgentInvoke(r.Context(), req)
	respondJSON(w, statusForRoute(reply.Status), reply)
}

func (h *Handlers) GetInvocationStatus(w http.ResponseWriter, r *http.Request) {
	trackingID := chi.URLParam(r, "trackingID")
	record := h.Router.GetInvocationStatus(trackingID)
	if record == nil {
		respondError(w, http.StatusNotFound, "unknown tracking id")
		return
	}
	respondJSON(w, http.StatusOK, record)
}

// ── Audit ────────────────────────────────────────────────────

func (h *Handlers) AuditQuery(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := models.AuditQueryRequest{
		EventType: q.Get("event_type"),
		SourceID:  q.Get("source_id"),
		TargetID:  q.Get("target_id"),
		Outcome:   models.AuditOutcome(q.Get("outcome")),
	}
	if limit, err := strconv.Atoi(q.Get("limit")); err == nil && limit > 0 {
		req.Limit = limit
	}
	if start, err := time.Parse(time.RFC3339, q.Get("start_time")); err == nil {
		req.StartTime = &start
	}
	if end, err := time.Parse(time.RFC3339, q.Get("end_time")); err == nil {
		req.EndTime = &end
	}

	reply, err := h.Audit.Query(r.Context(), req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (h *Handlers) AuditStats(w http.ResponseWriter, r *http.Request) {
	sourceID := r.URL.Query().Get("source_id")
	reply, err := h.Audit.Stats(r.Context(), sourceID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

// ── Health ───────────────────────────────────────────────────

func (h *Handlers) HealthSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Health.GetSummary(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

func (h *Handlers) CheckAgentHealth(w http.ResponseWriter, r *http.Request) {
	identity := chi.URLParam(r, "identity")
	result, err := h.Health.CheckAgent(r.Context(), identity)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (h *Handlers) CheckKBHealth(w http.ResponseWriter, r *http.Request) {
	kbID := chi.URLParam(r, "kbID")
	result, err := h.Health.CheckKB(r.Context(), kbID)
	if err != nil {
		respondStoreError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// ── helpers ──────────────────────────────────────────────────

func statusForRoute(status models.RouteStatus) int {
	switch status {
	case models.StatusDenied:
		return http.StatusForbidden
	case models.StatusError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

func respondRegistrationError(w http.ResponseWriter, err error) {
	switch err.(type) {
	case *registry.ErrDuplicateIdentity, *registry.ErrDuplicateKB:
		respondError(w, http.StatusConflict, err.Error())
	case *registry.ErrValidation, *registry.ErrUnsupportedKBType, *registry.ErrInvalidOperation:
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func respondStoreError(w http.ResponseWriter, err error) {
	if _, ok := err.(*store.ErrNotFound); ok {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
