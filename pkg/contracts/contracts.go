// Package contracts defines the interfaces that cross the boundary
// between AgentMesh's internal packages and its outer layers (the
// REST façade, retention janitor, and wiring in pkg/server).
package contracts

import (
	"context"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/policy"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Store is a type alias for the internal Store interface. Exposed in
// pkg/ so callers outside internal/ (the REST façade, cmd/server) can
// reference it without reaching into internal/store directly.
type Store = store.Store

// ErrNotFound is a type alias for the internal ErrNotFound error.
type ErrNotFound = store.ErrNotFound

// Bus is a type alias for the internal message bus interface.
type Bus = bus.Bus

// PolicyDecisionClient is a type alias for the Policy Decision Client's
// Evaluator interface, the seam between the Enforcement Pipeline and
// whichever policy engine (remote decision service or local fallback)
// backs it.
type PolicyDecisionClient = policy.Evaluator

// ArchiveDriver writes expired audit events to a durable archive
// backend before the retention janitor purges them from the hot
// store. OSS ships LocalFileArchiver (JSONL to disk).
type ArchiveDriver interface {
	Kind() string
	ArchiveAuditEvents(ctx context.Context, events []models.AuditEvent) (uri string, err error)
	HealthCheck(ctx context.Context) error
}
