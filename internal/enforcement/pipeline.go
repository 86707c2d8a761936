// Package enforcement implements the Enforcement Pipeline (spec §4.7):
// the governance layer that evaluates policy, executes the approved
// operation, masks the response, and writes the audit trail.
package enforcement

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
	"github.com/agentmesh/agentmesh/control-plane/internal/masking"
	"github.com/agentmesh/agentmesh/control-plane/internal/policy"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// ErrAccessDenied is returned when policy evaluation denies a request.
// It is distinct from any downstream execution error so callers (the
// router) can translate it into a "denied" reply rather than "error".
type ErrAccessDenied struct {
	Principal string
	Resource  string
	Action    string
	Reason    string
}

func (e *ErrAccessDenied) Error() string {
	return fmt.Sprintf("access denied: %s (principal=%s, resource=%s, action=%s)",
		e.Reason, e.Principal, e.Resource, e.Action)
}

// KBAccessResult is the governed response to a KB access request.
type KBAccessResult struct {
	Data         any
	MaskedFields []string
	Policy       string
}

// InvokeAuthorization is the outcome of an agent-invoke policy check;
// the pipeline only authorizes, the router performs the actual
// dispatch (spec §4.7 step 3's note).
type InvokeAuthorization struct {
	Source    string
	Target    string
	Operation string
	Policy    string
}

// Pipeline wires the Policy Decision Client, the KB Adapter Contract
// registry, and the Persistence Store into the governed request path.
type Pipeline struct {
	evaluator policy.Evaluator
	store     store.Store
	adapters  map[string]kbadapter.Adapter
}

// New wires an evaluator (remote decision service or local fallback),
// a store for registry lookups and audit logging, and a kb-type-keyed
// adapter map.
func New(evaluator policy.Evaluator, s store.Store, adapters map[string]kbadapter.Adapter) *Pipeline {
	return &Pipeline{evaluator: evaluator, store: s, adapters: adapters}
}

// EnforceKBAccess runs the full governance flow: look up the KB,
// evaluate policy, execute on the adapter, mask the response, and
// audit the outcome. Mirrors enforce_kb_access step for step.
func (p *Pipeline) EnforceKBAccess(ctx context.Context, requesterID, kbID, operation string, params map[string]any) (*KBAccessResult, error) {
	start := time.Now()

	kb, err := p.store.GetKB(ctx, kbID)
	if err != nil {
		p.logEvent(ctx, models.EventQuery, requesterID, kbID, models.OutcomeDenied, map[string]any{
			"operation": operation,
			"reason":    "kb not found",
		}, nil)
		return nil, &ErrAccessDenied{Principal: requesterID, Resource: kbID, Action: operation, Reason: "kb not found in registry"}
	}

	decision, err := p.evaluator.Evaluate(ctx, policy.Request{
		PrincipalType: "agent",
		PrincipalID:   requesterID,
		ResourceType:  "kb",
		ResourceID:    kbID,
		Action:        operation,
		Context:       map[string]any{"kb_type": kb.KBType},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}

	if !decision.Allow {
		p.logEvent(ctx, models.EventQuery, requesterID, kbID, models.OutcomeDenied, map[string]any{
			"operation": operation,
			"reason":    decision.Reason,
		}, decision)
		return nil, &ErrAccessDenied{Principal: requesterID, Resource: kbID, Action: operation, Reason: decision.Reason}
	}

	adapter, ok := p.adapters[kb.KBType]
	if !ok {
		err := fmt.Errorf("no adapter registered for kb type %q", kb.KBType)
		p.logEvent(ctx, models.EventQuery, requesterID, kbID, models.OutcomeError, map[string]any{
			"operation": operation,
			"error":     err.Error(),
		}, nil)
		return nil, err
	}

	raw, err := adapter.Execute(ctx, operation, params)
	if err != nil {
		p.logEvent(ctx, models.EventQuery, requesterID, kbID, models.OutcomeError, map[string]any{
			"operation": operation,
			"error":     err.Error(),
		}, nil)
		return nil, fmt.Errorf("execute kb operation: %w", err)
	}

	masked := masking.Apply(raw, decision.MaskingRules)

	latencyMS := float64(time.Since(start).Microseconds()) / 1000
	p.logEventWithMasking(ctx, models.EventQuery, requesterID, kbID, models.OutcomeSuccess, map[string]any{
		"operation":  operation,
		"latency_ms": latencyMS,
	}, nil, decision.MaskingRules)
	if len(decision.MaskingRules) > 0 {
		log.Debug().Str("kb_id", kbID).Strs("fields", decision.MaskingRules).Msg("masked response fields")
	}

	return &KBAccessResult{Data: masked, MaskedFields: decision.MaskingRules, Policy: decision.Reason}, nil
}

// EnforceAgentInvoke evaluates whether source may invoke operation on
// target, without performing the invocation itself (the router owns
// dispatch and lifecycle tracking).
func (p *Pipeline) EnforceAgentInvoke(ctx context.Context, source, target, operation string) (*InvokeAuthorization, error) {
	decision, err := p.evaluator.Evaluate(ctx, policy.Request{
		PrincipalType: "agent",
		PrincipalID:   source,
		ResourceType:  "agent",
		ResourceID:    target,
		Action:        "invoke",
		Context:       map[string]any{"operation": operation},
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate policy: %w", err)
	}

	if !decision.Allow {
		p.logEvent(ctx, models.EventInvoke, source, target, models.OutcomeDenied, map[string]any{
			"operation": operation,
			"reason":    decision.Reason,
		}, decision)
		return nil, &ErrAccessDenied{Principal: source, Resource: target, Action: "invoke", Reason: decision.Reason}
	}

	p.logEvent(ctx, models.EventInvoke, source, target, models.OutcomeSuccess, map[string]any{
		"operation":     operation,
		"authorization": "granted",
	}, decision)

	return &InvokeAuthorization{Source: source, Target: target, Operation: operation, Policy: decision.Reason}, nil
}

func (p *Pipeline) logEvent(ctx context.Context, eventType, sourceID, targetID string, outcome models.AuditOutcome, metadata map[string]any, decision *models.PolicyDecision) {
	p.logEventWithMasking(ctx, eventType, sourceID, targetID, outcome, metadata, decision, nil)
}

func (p *Pipeline) logEventWithMasking(ctx context.Context, eventType, sourceID, targetID string, outcome models.AuditOutcome, metadata map[string]any, decision *models.PolicyDecision, maskedFields []string) {
	event := &models.AuditEvent{
		EventType:       eventType,
		SourceID:        sourceID,
		TargetID:        targetID,
		Outcome:         outcome,
		Timestamp:       time.Now().UTC(),
		RequestMetadata: metadata,
		PolicyDecision:  decision,
		MaskedFields:    maskedFields,
	}
	if err := p.store.LogEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to log audit event")
	}
}
