package policy

import (
	"context"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// StoreEvaluator is the minimal surface the local fallback needs from
// internal/store, avoiding a direct package dependency in either
// direction.
type StoreEvaluator interface {
	EvaluatePolicy(ctx context.Context, principal, resource, action string) (*models.PolicyDecision, error)
}

// LocalEvaluator adapts a store's local policy evaluator to the
// Evaluator interface so the enforcement pipeline can depend on one
// seam whether or not a remote decision service is configured.
type LocalEvaluator struct {
	store StoreEvaluator
}

// NewLocalEvaluator wraps a store-backed evaluator.
func NewLocalEvaluator(store StoreEvaluator) *LocalEvaluator {
	return &LocalEvaluator{store: store}
}

func (l *LocalEvaluator) Evaluate(ctx context.Context, req Request) (*models.PolicyDecision, error) {
	return l.store.EvaluatePolicy(ctx, req.PrincipalID, req.ResourceID, req.Action)
}
