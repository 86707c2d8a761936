package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

var (
	semverPattern = regexp.MustCompile(`^\d+\.\d+\.\d+(-[a-zA-Z0-9\-.]+)?(\+[a-zA-Z0-9\-.]+)?$`)
	urlPattern    = regexp.MustCompile(`^https?://[^\s/$.?#].[^\s]*$`)
)

const healthCheckTimeout = 5 * time.Second

// AgentRegistrationRequest is the input to AgentService.Register.
type AgentRegistrationRequest struct {
	Identity         string
	Version          string
	Capabilities     []string
	Operations       []string
	OperationSchemas map[string]json.RawMessage
	HealthEndpoint   string
	Metadata         map[string]any
}

// AgentRegistrationResponse mirrors the reference service's
// AgentRegistrationResponse.
type AgentRegistrationResponse struct {
	Identity     string
	Status       models.AgentStatus
	RegisteredAt time.Time
	Message      string
}

// AgentService handles agent registration, validation, and the
// notifications that ripple out from it (spec §4.5).
type AgentService struct {
	store      store.Store
	bus        bus.Bus
	httpClient *http.Client
}

// NewAgentService wires a store and an optional bus; bus may be nil
// when directory notifications are not wanted (e.g. in tests).
func NewAgentService(s store.Store, b bus.Bus) *AgentService {
	return &AgentService{
		store:      s,
		bus:        b,
		httpClient: &http.Client{Timeout: healthCheckTimeout},
	}
}

// Register validates, deduplicates, health-checks, persists, audits,
// and announces a new agent. It mirrors register_agent's ordering
// exactly: validation failures and duplicate identities abort before
// any store write; health-check failures never abort, they only
// downgrade the resulting status to offline.
func (s *AgentService) Register(ctx context.Context, req AgentRegistrationRequest) (*AgentRegistrationResponse, error) {
	if err := s.validateRegistration(req); err != nil {
		return nil, err
	}

	existing, err := s.store.GetAgent(ctx, req.Identity)
	if err != nil {
		if _, ok := err.(*store.ErrNotFound); !ok {
			return nil, fmt.Errorf("check existing agent: %w", err)
		}
	}
	if existing != nil {
		return nil, &ErrDuplicateIdentity{Identity: req.Identity}
	}

	status := s.performHealthCheck(ctx, req.HealthEndpoint)

	record := &models.AgentRecord{
		Identity:         req.Identity,
		Version:          req.Version,
		Capabilities:     req.Capabilities,
		Operations:       req.Operations,
		OperationSchemas: req.OperationSchemas,
		HealthEndpoint:   req.HealthEndpoint,
		Status:           status,
		RegisteredAt:     time.Now().UTC(),
		LastHeartbeat:    time.Now().UTC(),
		Metadata:         req.Metadata,
	}

	if err := s.store.RegisterAgent(ctx, record); err != nil {
		return nil, fmt.Errorf("register agent: %w", err)
	}
	if err := s.store.UpdateAgentStatus(ctx, req.Identity, status); err != nil {
		return nil, fmt.Errorf("set initial agent status: %w", err)
	}

	s.logAudit(ctx, models.EventRegister, "system", req.Identity, models.OutcomeSuccess, map[string]any{
		"identity":     req.Identity,
		"version":      req.Version,
		"capabilities": req.Capabilities,
		"operations":   req.Operations,
	})

	message := "agent registered successfully"
	if status == models.AgentStatusOffline {
		message += " (warning: health check failed, registered offline)"
	}

	s.publishAgentRegistered(req.Identity, req.Version, req.Capabilities, status)

	return &AgentRegistrationResponse{
		Identity:     req.Identity,
		Status:       status,
		RegisteredAt: record.RegisteredAt,
		Message:      message,
	}, nil
}

func (s *AgentService) validateRegistration(req AgentRegistrationRequest) error {
	if req.Identity == "" {
		return &ErrValidation{Field: "identity", Message: "identity must not be empty"}
	}
	if !semverPattern.MatchString(req.Version) {
		return &ErrValidation{
			Field:      "version",
			Message:    fmt.Sprintf("%q is not a valid semantic version", req.Version),
			Suggestion: "use MAJOR.MINOR.PATCH, e.g. 1.0.0",
		}
	}
	if len(req.Capabilities) == 0 {
		return &ErrValidation{Field: "capabilities", Message: "at least one capability is required"}
	}
	if len(req.Operations) == 0 {
		return &ErrValidation{Field: "operations", Message: "at least one operation is required"}
	}
	for _, op := range req.Operations {
		if !containsStr(models.AllowedAgentOperations, op) {
			return &ErrInvalidOperation{Operation: op, Allowed: models.AllowedAgentOperations}
		}
	}
	if !urlPattern.MatchString(req.HealthEndpoint) {
		return &ErrValidation{
			Field:   "health_endpoint",
			Message: fmt.Sprintf("%q is not a valid http(s) URL", req.HealthEndpoint),
		}
	}
	return nil
}

// performHealthCheck never returns an error: an unreachable endpoint
// yields offline status rather than aborting registration.
func (s *AgentService) performHealthCheck(ctx context.Context, endpoint string) models.AgentStatus {
	checkCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(checkCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("could not build agent health check request")
		return models.AgentStatusOffline
	}

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("agent health check failed")
		return models.AgentStatusOffline
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return models.AgentStatusActive
	}
	log.Warn().Int("status", resp.StatusCode).Str("endpoint", endpoint).Msg("agent health check returned non-200")
	return models.AgentStatusOffline
}

// GetDetails returns the full record for a registered agent.
func (s *AgentService) GetDetails(ctx context.Context, identity string) (*models.AgentRecord, error) {
	agent, err := s.store.GetAgent(ctx, identity)
	if err != nil {
		return nil, err
	}
	return agent, nil
}

// UpdateCapabilities replaces an agent's capability list and
// broadcasts the change to directory subscribers.
func (s *AgentService) UpdateCapabilities(ctx context.Context, identity string, capabilities []string) (*models.AgentRecord, error) {
	existing, err := s.store.GetAgent(ctx, identity)
	if err != nil {
		return nil, err
	}
	oldCapabilities := existing.Capabilities

	if err := s.store.UpdateAgentCapabilities(ctx, identity, capabilities); err != nil {
		return nil, fmt.Errorf("update agent capabilities: %w", err)
	}

	s.publishCapabilityUpdated(identity, oldCapabilities, capabilities)

	return s.store.GetAgent(ctx, identity)
}

// Deregister removes an agent from the registry.
func (s *AgentService) Deregister(ctx context.Context, identity string) error {
	if _, err := s.store.GetAgent(ctx, identity); err != nil {
		return err
	}
	return s.store.DeregisterAgent(ctx, identity)
}

func (s *AgentService) publishAgentRegistered(identity, version string, capabilities []string, status models.AgentStatus) {
	if s.bus == nil || !s.bus.IsConnected() {
		return
	}
	update := models.DirectoryUpdate{
		Type:      models.DirUpdateAgentRegistered,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"identity":     identity,
			"version":      version,
			"capabilities": capabilities,
			"status":       status,
		},
	}
	if err := s.bus.Publish("mesh.directory.updates", update); err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("failed to publish agent registration notification")
	}
}

func (s *AgentService) publishCapabilityUpdated(identity string, oldCapabilities, newCapabilities []string) {
	if s.bus == nil || !s.bus.IsConnected() {
		return
	}
	update := models.DirectoryUpdate{
		Type:      models.DirUpdateAgentCapabilityUpdated,
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"identity":         identity,
			"old_capabilities": oldCapabilities,
			"capabilities":     newCapabilities,
		},
	}
	if err := s.bus.Publish("mesh.directory.updates", update); err != nil {
		log.Error().Err(err).Str("identity", identity).Msg("failed to publish capability update notification")
	}
}

func (s *AgentService) logAudit(ctx context.Context, eventType, sourceID, targetID string, outcome models.AuditOutcome, metadata map[string]any) {
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

func containsStr(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
