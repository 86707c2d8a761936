// Package router implements the Request Router (spec §4.8): the
// central orchestration layer that delegates to the Enforcement
// Pipeline for governance, then dispatches approved requests to KBs
// or target agents and tracks agent-invoke lifecycles end to end.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/enforcement"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Router orchestrates policy-enforced routing of KB queries and
// agent-to-agent invocations over the message bus.
type Router struct {
	enforcement *enforcement.Pipeline
	store       store.Store
	bus         bus.Bus

	invocationsMu sync.RWMutex
	invocations   map[string]*models.InvocationRecord
}

// New wires the enforcement pipeline, store, and bus the router
// dispatches through.
func New(enf *enforcement.Pipeline, s store.Store, b bus.Bus) *Router {
	return &Router{
		enforcement: enf,
		store:       s,
		bus:         b,
		invocations: make(map[string]*models.InvocationRecord),
	}
}

// Start subscribes to the three routing subjects the reference router
// listens on: mesh.routing.kb_query, mesh.routing.agent_invoke (both
// request-reply), and mesh.routing.completion (pub only, target→mesh).
func (r *Router) Start() error {
	if err := r.bus.Subscribe("mesh.routing.kb_query", r.handleKBQueryMsg); err != nil {
		return fmt.Errorf("subscribe mesh.routing.kb_query: %w", err)
	}
	if err := r.bus.Subscribe("mesh.routing.agent_invoke", r.handleAgentInvokeMsg); err != nil {
		return fmt.Errorf("subscribe mesh.routing.agent_invoke: %w", err)
	}
	if err := r.bus.Subscribe("mesh.routing.completion", r.handleCompletionMsg); err != nil {
		return fmt.Errorf("subscribe mesh.routing.completion: %w", err)
	}
	log.Info().Msg("request router started and listening for requests")
	return nil
}

// RouteKBQuery is route_kb_query's direct-call entry point: it
// delegates to the enforcement pipeline (policy + execution + masking
// + audit) and translates the outcome into the wire reply shape.
func (r *Router) RouteKBQuery(ctx context.Context, req models.KBQueryRequest) models.KBQueryReply {
	result, err := r.enforcement.EnforceKBAccess(ctx, req.RequesterID, req.KBID, req.Operation, req.Params)
	if err != nil {
		if denied, ok := err.(*enforcement.ErrAccessDenied); ok {
			log.Warn().Err(denied).Str("requester", req.RequesterID).Str("kb_id", req.KBID).Msg("kb query denied")
			return models.KBQueryReply{Status: models.StatusDenied, Error: denied.Error(), Policy: "access denied by policy"}
		}
		log.Error().Err(err).Str("requester", req.RequesterID).Str("kb_id", req.KBID).Msg("kb query failed")
		return models.KBQueryReply{Status: models.StatusError, Error: err.Error()}
	}

	data, _ := asMap(result.Data)
	return models.KBQueryReply{
		Status:       models.StatusSuccess,
		Data:         data,
		MaskedFields: result.MaskedFields,
		Policy:       result.Policy,
	}
}

// RouteAgentInvoke is route_agent_invoke's direct-call entry point: it
// authorizes via the enforcement pipeline, assigns a tracking ID,
// records the invocation, and forwards the dispatch to the target
// agent's inbox subject.
func (r *Router) RouteAgentInvoke(ctx context.Context, req models.AgentInvokeRequest) models.AgentInvokeReply {
	authorization, err := r.enforcement.EnforceAgentInvoke(ctx, req.Source, req.Target, req.Operation)
	if err != nil {
		if denied, ok := err.(*enforcement.ErrAccessDenied); ok {
			log.Warn().Err(denied).Str("source", req.Source).Str("target", req.Target).Msg("agent invocation denied")
			return models.AgentInvokeReply{
				Status: models.StatusDenied, Source: req.Source, Target: req.Target, Operation: req.Operation,
				Policy: "access denied by policy", Error: denied.Error(),
			}
		}
		log.Error().Err(err).Str("source", req.Source).Str("target", req.Target).Msg("agent invocation failed")
		return models.AgentInvokeReply{Status: models.StatusError, Source: req.Source, Target: req.Target, Operation: req.Operation, Error: err.Error()}
	}

	targetAgent, err := r.store.GetAgent(ctx, req.Target)
	if err != nil {
		msg := fmt.Sprintf("target agent %s not found in registry", req.Target)
		log.Error().Err(err).Str("target", req.Target).Msg("agent invocation target not found")
		return models.AgentInvokeReply{Status: models.StatusError, Source: req.Source, Target: req.Target, Operation: req.Operation, Error: msg}
	}

	trackingID := uuid.New().String()
	startedAt := time.Now().UTC()

	invocation := &models.InvocationRecord{
		TrackingID:    trackingID,
		SourceAgentID: req.Source,
		TargetAgentID: req.Target,
		Operation:     req.Operation,
		Payload:       req.Payload,
		Status:        models.InvocationProcessing,
		StartedAt:     startedAt,
	}
	r.invocationsMu.Lock()
	r.invocations[trackingID] = invocation
	r.invocationsMu.Unlock()

	dispatch := models.InvokeDispatch{
		TrackingID: trackingID,
		Source:     req.Source,
		Operation:  req.Operation,
		Payload:    req.Payload,
	}
	if err := r.bus.Publish(fmt.Sprintf("mesh.agent.%s.invoke", targetAgent.Identity), dispatch); err != nil {
		log.Error().Err(err).Str("target", req.Target).Msg("failed to publish invocation dispatch")
	}

	log.Info().Str("source", req.Source).Str("target", req.Target).Str("tracking_id", trackingID).Msg("invocation routed")

	return models.AgentInvokeReply{
		TrackingID: trackingID,
		Status:     models.StatusProcessing,
		Source:     req.Source,
		Target:     req.Target,
		Operation:  req.Operation,
		Policy:     authorization.Policy,
		StartedAt:  &startedAt,
	}
}

// GetInvocationStatus returns the current lifecycle state of a tracked
// invocation, or nil if no such tracking ID exists.
func (r *Router) GetInvocationStatus(trackingID string) *models.InvocationRecord {
	r.invocationsMu.RLock()
	defer r.invocationsMu.RUnlock()
	inv, ok := r.invocations[trackingID]
	if !ok {
		return nil
	}
	cp := *inv
	return &cp
}

func (r *Router) handleKBQueryMsg(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var req models.KBQueryRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return models.NewErrorReply("malformed kb query request: " + err.Error()), nil
	}
	return r.RouteKBQuery(ctx, req), nil
}

func (r *Router) handleAgentInvokeMsg(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var req models.AgentInvokeRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return models.NewErrorReply("malformed agent invoke request: " + err.Error()), nil
	}
	return r.RouteAgentInvoke(ctx, req), nil
}

// handleCompletionMsg updates the invocation record when a target
// agent reports completion, audits the outcome, and notifies the
// source agent's notification inbox. Unlike the request-reply
// subjects, completion is pub-only: there is no reply.
func (r *Router) handleCompletionMsg(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var msg models.CompletionMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Error().Err(err).Msg("malformed completion message")
		return nil, nil
	}
	if msg.TrackingID == "" {
		log.Warn().Msg("completion message missing tracking_id")
		return nil, nil
	}

	r.invocationsMu.Lock()
	invocation, ok := r.invocations[msg.TrackingID]
	if !ok {
		r.invocationsMu.Unlock()
		log.Warn().Str("tracking_id", msg.TrackingID).Msg("completion for unknown tracking_id")
		return nil, nil
	}
	now := time.Now().UTC()
	invocation.CompletedAt = &now
	if msg.Status == models.CompletionComplete {
		invocation.Status = models.InvocationCompleted
		invocation.Result = msg.Result
	} else {
		invocation.Status = models.InvocationFailed
		invocation.Error = msg.Error
	}
	snapshot := *invocation
	r.invocationsMu.Unlock()

	outcome := models.OutcomeSuccess
	if msg.Status != models.CompletionComplete {
		outcome = models.OutcomeError
	}
	event := &models.AuditEvent{
		EventType: models.EventInvoke,
		SourceID:  snapshot.SourceAgentID,
		TargetID:  snapshot.TargetAgentID,
		Outcome:   outcome,
		Timestamp: now,
		RequestMetadata: map[string]any{
			"operation":   snapshot.Operation,
			"tracking_id": msg.TrackingID,
			"status":      msg.Status,
			"latency_ms":  float64(now.Sub(snapshot.StartedAt).Microseconds()) / 1000,
		},
	}
	if err := r.store.LogEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("tracking_id", msg.TrackingID).Msg("failed to log completion audit event")
	}

	notification := models.InvocationNotification{
		Type:       models.NotificationInvocationComplete,
		TrackingID: msg.TrackingID,
		Status:     snapshot.Status,
		Result:     snapshot.Result,
		Error:      snapshot.Error,
	}
	if err := r.bus.Publish(fmt.Sprintf("mesh.agent.%s.notifications", snapshot.SourceAgentID), notification); err != nil {
		log.Error().Err(err).Str("tracking_id", msg.TrackingID).Msg("failed to publish completion notification")
	}

	log.Info().Str("tracking_id", msg.TrackingID).Str("status", string(msg.Status)).Msg("invocation completed")
	return nil, nil
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}
