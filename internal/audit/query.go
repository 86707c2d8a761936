// Package audit implements the Audit Query read path (spec §4.2 /
// §4.7): a thin service over the Persistence Store's audit log so the
// REST façade and the mesh.audit.query/mesh.audit.stats bus handlers
// share one read path independent of the write path in internal/store.
package audit

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Service wraps the store's audit log for querying and aggregation.
type Service struct {
	store store.Store
}

// New wires a store to query audit logs against.
func New(s store.Store) *Service {
	return &Service{store: s}
}

// Query runs query_audit_logs against the store and builds the
// filters_applied map the reference handler echoes back verbatim.
func (s *Service) Query(ctx context.Context, req models.AuditQueryRequest) (*models.AuditQueryReply, error) {
	q := store.AuditQuery{
		EventType: req.EventType,
		SourceID:  req.SourceID,
		TargetID:  req.TargetID,
		Outcome:   req.Outcome,
		Since:     req.StartTime,
		Until:     req.EndTime,
		Limit:     req.Limit,
	}
	if q.Limit <= 0 {
		q.Limit = 100
		req.Limit = q.Limit
	}

	events, err := s.store.QueryAuditLogs(ctx, q)
	if err != nil {
		return nil, err
	}

	return &models.AuditQueryReply{
		AuditLogs:      events,
		TotalCount:     len(events),
		FiltersApplied: filtersApplied(req),
	}, nil
}

// Stats runs get_audit_stats against the store for the given source,
// or across all sources when sourceID is empty.
func (s *Service) Stats(ctx context.Context, sourceID string) (*models.AuditStatsReply, error) {
	stats, err := s.store.GetAuditStats(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return &models.AuditStatsReply{
		ByOutcome:   stats.ByOutcome,
		ByEventType: stats.ByEventType,
		Total:       stats.Total,
	}, nil
}

func filtersApplied(req models.AuditQueryRequest) map[string]any {
	filters := map[string]any{"limit": req.Limit}
	if req.EventType != "" {
		filters["event_type"] = req.EventType
	}
	if req.SourceID != "" {
		filters["source_id"] = req.SourceID
	}
	if req.TargetID != "" {
		filters["target_id"] = req.TargetID
	}
	if req.Outcome != "" {
		filters["outcome"] = req.Outcome
	}
	if req.StartTime != nil {
		filters["start_time"] = req.StartTime
	}
	if req.EndTime != nil {
		filters["end_time"] = req.EndTime
	}
	return filters
}

// HandleQuery answers mesh.audit.query requests over the bus, mirroring
// the reference handler's request parsing and response shape.
func (s *Service) HandleQuery(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var req models.AuditQueryRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return models.NewErrorReply("malformed audit query: " + err.Error()), nil
		}
	}
	reply, err := s.Query(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("audit query failed")
		return models.NewErrorReply(err.Error()), nil
	}
	return reply, nil
}

// HandleStats answers mesh.audit.stats requests over the bus.
func (s *Service) HandleStats(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var req struct {
		SourceID string `json:"source_id,omitempty"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return models.NewErrorReply("malformed audit stats request: " + err.Error()), nil
		}
	}
	reply, err := s.Stats(ctx, req.SourceID)
	if err != nil {
		log.Error().Err(err).Msg("audit stats query failed")
		return models.NewErrorReply(err.Error()), nil
	}
	return reply, nil
}

// Start subscribes the audit read path to the mesh audit subjects.
func (s *Service) Start(b bus.Bus) error {
	if err := b.Subscribe("mesh.audit.query", s.HandleQuery); err != nil {
		return err
	}
	return b.Subscribe("mesh.audit.stats", s.HandleStats)
}
