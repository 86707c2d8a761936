// Package health implements the Health Monitor (spec §4.6): periodic
// liveness probes against registered agents and KBs, with a
// staleness-based degradation summary.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// DefaultCheckInterval matches the reference service's default
// monitoring cadence.
const DefaultCheckInterval = 30 * time.Second

const (
	activeWindow   = time.Minute
	degradedWindow = 5 * time.Minute
)

// CheckResult is the outcome of a single entity health probe.
type CheckResult struct {
	EntityID  string
	Status    models.AgentStatus
	LatencyMS float64
	Error     string
}

// Monitor periodically probes registered agents and KBs and writes
// their observed status back to the store.
type Monitor struct {
	store      store.Store
	adapters   map[string]kbadapter.Adapter
	httpClient *http.Client
	interval   time.Duration
}

// New wires a store, a kb-type-keyed adapter map for KB connectivity
// probes, and a probe interval.
func New(s store.Store, adapters map[string]kbadapter.Adapter, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = DefaultCheckInterval
	}
	return &Monitor{
		store:      s,
		adapters:   adapters,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		interval:   interval,
	}
}

// Start runs the monitoring loop until ctx is cancelled, probing every
// registered agent and KB once per interval.
func (m *Monitor) Start(ctx context.Context) {
	log.Info().Dur("interval", m.interval).Msg("health monitor started")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.checkAll(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("health monitor stopped")
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *Monitor) checkAll(ctx context.Context) {
	agents, err := m.store.ListAgents(ctx, store.AgentQuery{Limit: 1000})
	if err != nil {
		log.Error().Err(err).Msg("health monitor: failed to list agents")
	} else {
		for _, agent := range agents {
			if _, err := m.CheckAgent(ctx, agent.Identity); err != nil {
				log.Error().Err(err).Str("identity", agent.Identity).Msg("health monitor: agent check failed")
			}
		}
	}

	kbs, err := m.store.ListKBs(ctx, store.KBQuery{Limit: 1000})
	if err != nil {
		log.Error().Err(err).Msg("health monitor: failed to list kbs")
	} else {
		for _, kb := range kbs {
			if _, err := m.CheckKB(ctx, kb.KBID); err != nil {
				log.Error().Err(err).Str("kb_id", kb.KBID).Msg("health monitor: kb check failed")
			}
		}
	}
}

// CheckAgent probes a single agent's health_endpoint and persists the
// observed status, returning store.ErrNotFound if the agent is
// unregistered.
func (m *Monitor) CheckAgent(ctx context.Context, identity string) (*CheckResult, error) {
	agent, err := m.store.GetAgent(ctx, identity)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	status := models.AgentStatusOffline
	var probeErr string

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, agent.HealthEndpoint, nil)
	if err != nil {
		probeErr = err.Error()
	} else {
		resp, err := m.httpClient.Do(req)
		if err != nil {
			probeErr = err.Error()
		} else {
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				status = models.AgentStatusActive
			} else {
				status = models.AgentStatusDegraded
				probeErr = http.StatusText(resp.StatusCode)
			}
		}
	}
	latency := float64(time.Since(start).Microseconds()) / 1000

	if err := m.store.UpdateAgentStatus(ctx, identity, status); err != nil {
		return nil, err
	}

	return &CheckResult{EntityID: identity, Status: status, LatencyMS: latency, Error: probeErr}, nil
}

// CheckKB probes a single KB's adapter health and persists the
// observed status.
func (m *Monitor) CheckKB(ctx context.Context, kbID string) (*CheckResult, error) {
	kb, err := m.store.GetKB(ctx, kbID)
	if err != nil {
		return nil, err
	}

	status := models.AgentStatusOffline
	var probeErr string
	var latency float64

	if adapter, ok := m.adapters[kb.KBType]; ok {
		h := adapter.Health(ctx)
		latency = h.LatencyMS
		switch h.Status {
		case kbadapter.HealthHealthy:
			status = models.AgentStatusActive
		case kbadapter.HealthDegraded:
			status = models.AgentStatusDegraded
			probeErr = h.Message
		default:
			probeErr = h.Message
		}
	} else {
		probeErr = "unsupported kb type: " + kb.KBType
	}

	if err := m.store.UpdateKBStatus(ctx, kbID, status); err != nil {
		return nil, err
	}

	return &CheckResult{EntityID: kbID, Status: status, LatencyMS: latency, Error: probeErr}, nil
}

// StatusCounts buckets entities by observed freshness, grounded on
// get_health_summary's three-tier staleness windows.
type StatusCounts struct {
	Total    int
	Active   int
	Degraded int
	Offline  int
}

// Summary is the full get_health_summary response.
type Summary struct {
	Agents    StatusCounts
	KBs       StatusCounts
	Timestamp time.Time
}

// GetSummary classifies every registered agent and KB by status and,
// for entities reporting active, by how stale their last heartbeat or
// health check is. Entities reporting degraded count as degraded and
// any other status counts as offline, whatever their age.
func (m *Monitor) GetSummary(ctx context.Context) (*Summary, error) {
	agents, err := m.store.ListAgents(ctx, store.AgentQuery{Limit: 1000})
	if err != nil {
		return nil, err
	}
	kbs, err := m.store.ListKBs(ctx, store.KBQuery{Limit: 1000})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	summary := &Summary{Timestamp: now}
	summary.Agents.Total = len(agents)
	summary.KBs.Total = len(kbs)

	for _, a := range agents {
		classify(&summary.Agents, a.Status, now.Sub(a.LastHeartbeat))
	}
	for _, k := range kbs {
		classify(&summary.KBs, k.Status, now.Sub(k.LastHealthCheck))
	}
	return summary, nil
}

func classify(counts *StatusCounts, status models.AgentStatus, age time.Duration) {
	switch status {
	case models.AgentStatusActive:
		switch {
		case age < activeWindow:
			counts.Active++
		case age < degradedWindow:
			counts.Degraded++
		default:
			counts.Offline++
		}
	case models.AgentStatusDegraded:
		counts.Degraded++
	default:
		counts.Offline++
	}
}
