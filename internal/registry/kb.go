package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// SupportedKBTypes lists the mesh's two initial KB adapter kinds
// (spec §4.5).
var SupportedKBTypes = []string{models.KBTypeRelational, models.KBTypeGraph}

// kbAllowedOperations mirrors the reference service's lenient,
// type-keyed allow-list: it validates registration requests without
// needing a live adapter instance.
var kbAllowedOperations = map[string][]string{
	models.KBTypeRelational: {"sql_query", "insert", "update", "delete"},
	models.KBTypeGraph:      {"cypher_query", "create_node", "create_relationship", "find_node"},
}

// KBRegistrationRequest is the input to KBService.Register.
type KBRegistrationRequest struct {
	KBID       string
	KBType     string
	Endpoint   string
	Operations []string
	KBSchema   json.RawMessage
	Metadata   map[string]any
}

// KBRegistrationResponse mirrors the reference service's response.
type KBRegistrationResponse struct {
	KBID         string
	KBType       string
	Status       models.AgentStatus
	RegisteredAt time.Time
	Message      string
}

// ConnectivityChecker probes a KB endpoint without performing a real
// operation, used to set the KB's initial status at registration.
type ConnectivityChecker func(ctx context.Context, kbType, endpoint string) error

// KBService handles KB registration, validation, and connectivity
// checks (spec §4.5).
type KBService struct {
	store       store.Store
	bus         bus.Bus
	connections map[string]ConnectivityChecker
}

// NewKBService wires a store, optional bus, and a map of per-type
// connectivity checkers. A type with no registered checker is assumed
// reachable (status active) at registration time.
func NewKBService(s store.Store, b bus.Bus, checkers map[string]ConnectivityChecker) *KBService {
	return &KBService{store: s, bus: b, connections: checkers}
}

// Register validates, deduplicates, connectivity-checks, persists,
// audits, and announces a new knowledge base.
func (s *KBService) Register(ctx context.Context, req KBRegistrationRequest) (*KBRegistrationResponse, error) {
	if !containsStr(SupportedKBTypes, req.KBType) {
		return nil, &ErrUnsupportedKBType{KBType: req.KBType, Supported: SupportedKBTypes}
	}

	existing, err := s.store.GetKB(ctx, req.KBID)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, fmt.Errorf("check existing kb: %w", err)
		}
	}
	if existing != nil {
		return nil, &ErrDuplicateKB{KBID: req.KBID}
	}

	if err := s.validateOperations(req.KBType, req.Operations); err != nil {
		return nil, err
	}

	status, connErr := s.checkConnectivity(ctx, req.KBType, req.Endpoint)
	if connErr != nil {
		log.Warn().Err(connErr).Str("kb_id", req.KBID).Str("endpoint", req.Endpoint).Msg("kb connectivity check failed")
	}

	record := &models.KBRecord{
		KBID:            req.KBID,
		KBType:          req.KBType,
		Endpoint:        req.Endpoint,
		Operations:      req.Operations,
		KBSchema:        req.KBSchema,
		Status:          status,
		RegisteredAt:    time.Now().UTC(),
		LastHealthCheck: time.Now().UTC(),
		Metadata:        req.Metadata,
	}

	if err := s.store.RegisterKB(ctx, record); err != nil {
		return nil, fmt.Errorf("register kb: %w", err)
	}
	if err := s.store.UpdateKBStatus(ctx, req.KBID, status); err != nil {
		return nil, fmt.Errorf("set initial kb status: %w", err)
	}

	s.logAudit(ctx, models.EventRegister, "system", req.KBID, models.OutcomeSuccess, map[string]any{
		"kb_type":    req.KBType,
		"operations": req.Operations,
		"status":     status,
	})

	message := "kb registered successfully"
	if status == models.AgentStatusOffline {
		message += fmt.Sprintf(" (warning: %v)", connErr)
	}

	s.publishKBRegistered(req.KBID, req.KBType, req.Operations, status)

	return &KBRegistrationResponse{
		KBID:         req.KBID,
		KBType:       req.KBType,
		Status:       status,
		RegisteredAt: record.RegisteredAt,
		Message:      message,
	}, nil
}

func (s *KBService) validateOperations(kbType string, operations []string) error {
	allowed, ok := kbAllowedOperations[kbType]
	if !ok {
		return nil
	}
	for _, op := range operations {
		if !containsStr(allowed, op) {
			return &ErrInvalidOperation{Operation: op, Allowed: allowed}
		}
	}
	return nil
}

func (s *KBService) checkConnectivity(ctx context.Context, kbType, endpoint string) (models.AgentStatus, error) {
	checker, ok := s.connections[kbType]
	if !ok {
		return models.AgentStatusActive, nil
	}
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if err := checker(checkCtx, kbType, endpoint); err != nil {
		return models.AgentStatusOffline, err
	}
	return models.AgentStatusActive, nil
}

// GetDetails returns the full record for a registered KB.
func (s *KBService) GetDetails(ctx context.Context, kbID string) (*models.KBRecord, error) {
	return s.store.GetKB(ctx, kbID)
}

// UpdateOperations replaces a KB's operation list and broadcasts the
// change to directory subscribers.
func (s *KBService) UpdateOperations(ctx context.Context, kbID string, operations []string) (*models.KBRecord, error) {
	existing, err := s.store.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}
	if err := s.validateOperations(existing.KBType, operations); err != nil {
		return nil, err
	}
	oldOperations := existing.Operations

	if err := s.store.UpdateKBOperations(ctx, kbID, operations); err != nil {
		return nil, fmt.Errorf("update kb operations: %w", err)
	}

	s.publishOperationsUpdated(kbID, existing.KBType, oldOperations, operations)

	return s.store.GetKB(ctx, kbID)
}

// Deregister removes a KB from the registry.
func (s *KBService) Deregister(ctx context.Context, kbID string) error {
	if _, err := s.store.GetKB(ctx, kbID); err != nil {
		return err
	}
	return s.store.DeregisterKB(ctx, kbID)
}

func (s *KBService) publishKBRegistered(kbID, kbType string, operations []string, status models.AgentStatus) {
	if s.bus == nil || !s.bus.IsConnected() {
		return
	}
	update := models.DirectoryUpdate{
		Type:      models.DirUpdateKBRegistered,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"kb_id":      kbID,
			"kb_type":    kbType,
			"operations": operations,
			"status":     status,
		},
	}
	if err := s.bus.Publish("mesh.directory.updates", update); err != nil {
		log.Error().Err(err).Str("kb_id", kbID).Msg("failed to publish kb registration notification")
	}
}

func (s *KBService) publishOperationsUpdated(kbID, kbType string, oldOperations, newOperations []string) {
	if s.bus == nil || !s.bus.IsConnected() {
		return
	}
	update := models.DirectoryUpdate{
		Type:      models.DirUpdateKBOperationsUpdated,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"kb_id":          kbID,
			"kb_type":        kbType,
			"old_operations": oldOperations,
			"operations":     newOperations,
		},
	}
	if err := s.bus.Publish("mesh.directory.updates", update); err != nil {
		log.Error().Err(err).Str("kb_id", kbID).Msg("failed to publish kb operations update notification")
	}
}

func (s *KBService) logAudit(ctx context.Context, eventType, sourceID, targetID string, outcome models.AuditOutcome, metadata map[string]any) {
	event := &models.AuditEvent{
		EventType:       eventType,
		SourceID:        sourceID,
		TargetID:        targetID,
		Outcome:         outcome,
		Timestamp:       time.Now().UTC(),
		RequestMetadata: metadata,
	}
	if err := s.store.LogEvent(ctx, event); err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("failed to log audit event")
	}
}

// DefaultConnectivityCheckers builds the standard kb-type-to-checker
// map from live adapter Health calls, so registration connectivity
// checks exercise the same adapters the enforcement pipeline uses.
func DefaultConnectivityCheckers(adapters map[string]kbadapter.Adapter) map[string]ConnectivityChecker {
	checkers := make(map[string]ConnectivityChecker, len(adapters))
	for kbType, adapter := range adapters {
		adapter := adapter
		checkers[kbType] = func(ctx context.Context, _, _ string) error {
			health := adapter.Health(ctx)
			if health.Status != kbadapter.HealthHealthy {
				return fmt.Errorf("%s", health.Message)
			}
			return nil
		}
	}
	return checkers
}
