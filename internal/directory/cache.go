// Package directory implements the Directory Cache (spec §4.5): an
// in-memory mirror of the registry that answers mesh.directory.query
// without hitting the Persistence Store on every lookup.
package directory

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// AgentEntry is the cache's slim projection of an AgentRecord,
// grounded on the reference subscriber's cached agent dict.
type AgentEntry struct {
	Identity     string   `json:"identity"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	Operations   []string `json:"operations"`
	Status       string   `json:"status"`
}

// KBEntry is the cache's slim projection of a KBRecord.
type KBEntry struct {
	KBID       string   `json:"kb_id"`
	KBType     string   `json:"kb_type"`
	Operations []string `json:"operations"`
	Status     string   `json:"status"`
}

// Cache mirrors registered agents and KBs in memory, kept current by
// subscribing to mesh.directory.updates.
type Cache struct {
	mu     sync.RWMutex
	agents map[string]AgentEntry
	kbs    map[string]KBEntry
}

func New() *Cache {
	return &Cache{
		agents: make(map[string]AgentEntry),
		kbs:    make(map[string]KBEntry),
	}
}

// Load populates the cache from the Persistence Store, the reference
// subscriber's startup _load_directory step.
func (c *Cache) Load(ctx context.Context, s store.Store) error {
	agents, err := s.ListAgents(ctx, store.AgentQuery{Limit: 1000})
	if err != nil {
		return err
	}
	kbs, err := s.ListKBs(ctx, store.KBQuery{Limit: 1000})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range agents {
		c.agents[a.Identity] = AgentEntry{
			Identity:     a.Identity,
			Version:      a.Version,
			Capabilities: a.Capabilities,
			Operations:   a.Operations,
			Status:       string(a.Status),
		}
	}
	for _, k := range kbs {
		c.kbs[k.KBID] = KBEntry{
			KBID:       k.KBID,
			KBType:     k.KBType,
			Operations: k.Operations,
			Status:     string(k.Status),
		}
	}
	log.Info().Int("agents", len(c.agents)).Int("kbs", len(c.kbs)).Msg("directory cache loaded")
	return nil
}

// Start subscribes to mesh.directory.updates (cache maintenance) and
// mesh.directory.query (read-only request/reply), after an initial
// Load from the store.
func (c *Cache) Start(ctx context.Context, s store.Store, b bus.Bus) error {
	if err := c.Load(ctx, s); err != nil {
		return err
	}
	if err := b.Subscribe("mesh.directory.updates", c.handleUpdate); err != nil {
		return err
	}
	return b.Subscribe("mesh.directory.query", c.handleQuery)
}

// handleUpdate applies one mesh.directory.updates message to the
// cache. It covers all five DirectoryUpdateType values, a superset of
// the reference subscriber's two (agent_registered, kb_registered).
func (c *Cache) handleUpdate(_ context.Context, _ string, data json.RawMessage) (any, error) {
	var update models.DirectoryUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		log.Error().Err(err).Msg("malformed directory update")
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch update.Type {
	case models.DirUpdateAgentRegistered:
		identity, _ := update.Data["identity"].(string)
		c.agents[identity] = AgentEntry{
			Identity:     identity,
			Version:      stringField(update.Data, "version"),
			Capabilities: stringSliceField(update.Data, "capabilities"),
			Operations:   stringSliceField(update.Data, "operations"),
			Status:       stringFieldDefault(update.Data, "status", "active"),
		}
	case models.DirUpdateKBRegistered:
		kbID, _ := update.Data["kb_id"].(string)
		c.kbs[kbID] = KBEntry{
			KBID:       kbID,
			KBType:     stringField(update.Data, "kb_type"),
			Operations: stringSliceField(update.Data, "operations"),
			Status:     stringFieldDefault(update.Data, "status", "active"),
		}
	case models.DirUpdateAgentCapabilityUpdated:
		identity, _ := update.Data["identity"].(string)
		if entry, ok := c.agents[identity]; ok {
			entry.Capabilities = stringSliceField(update.Data, "capabilities")
			c.agents[identity] = entry
		}
	case models.DirUpdateKBOperationsUpdated:
		kbID, _ := update.Data["kb_id"].(string)
		if entry, ok := c.kbs[kbID]; ok {
			entry.Operations = stringSliceField(update.Data, "operations")
			c.kbs[kbID] = entry
		}
	case models.DirUpdateAgentDisconnected:
		identity, _ := update.Data["identity"].(string)
		if entry, ok := c.agents[identity]; ok {
			entry.Status = string(models.AgentStatusOffline)
			c.agents[identity] = entry
		}
	default:
		log.Warn().Str("type", update.Type).Msg("unknown directory update type")
	}
	return nil, nil
}

// handleQuery answers a mesh.directory.query request from the cache,
// mirroring the reference subscriber's filter/response shape exactly.
func (c *Cache) handleQuery(ctx context.Context, _ string, data json.RawMessage) (any, error) {
	var req models.DirectoryQueryRequest
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return models.NewErrorReply("malformed directory query: " + err.Error()), nil
		}
	}
	return c.Query(ctx, req), nil
}

// Query answers a directory lookup directly, the same logic the
// mesh.directory.query bus handler uses, exposed for the REST façade.
func (c *Cache) Query(_ context.Context, req models.DirectoryQueryRequest) map[string]any {
	agents, kbs := c.snapshot()

	if req.CapabilityFilter != "" {
		agents = filterAgents(agents, func(a AgentEntry) bool {
			return containsStr(a.Capabilities, req.CapabilityFilter)
		})
	}
	if req.StatusFilter != "" {
		agents = filterAgents(agents, func(a AgentEntry) bool { return a.Status == req.StatusFilter })
	}
	if req.TypeFilter != "" {
		kbs = filterKBs(kbs, func(k KBEntry) bool { return k.KBType == req.TypeFilter })
	}

	switch req.Type {
	case "agents":
		kbs = nil
	case "kbs":
		agents = nil
	}

	filtersApplied := map[string]any{}
	if req.CapabilityFilter != "" {
		filtersApplied["capability"] = req.CapabilityFilter
	}
	if req.StatusFilter != "" {
		filtersApplied["status"] = req.StatusFilter
	}
	if req.TypeFilter != "" {
		filtersApplied["type"] = req.TypeFilter
	}

	return buildQueryReply(agents, kbs, req.Type, filtersApplied)
}

func buildQueryReply(agents []AgentEntry, kbs []KBEntry, queryType string, filtersApplied map[string]any) map[string]any {
	total := len(agents) + len(kbs)
	switch queryType {
	case "agents":
		total = len(agents)
	case "kbs":
		total = len(kbs)
	}
	return map[string]any{
		"agents":          agents,
		"kbs":             kbs,
		"total_count":     total,
		"filters_applied": filtersApplied,
		"timestamp":       time.Now().UTC(),
	}
}

func (c *Cache) snapshot() ([]AgentEntry, []KBEntry) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	agents := make([]AgentEntry, 0, len(c.agents))
	for _, a := range c.agents {
		agents = append(agents, a)
	}
	kbs := make([]KBEntry, 0, len(c.kbs))
	for _, k := range c.kbs {
		kbs = append(kbs, k)
	}
	return agents, kbs
}

func filterAgents(agents []AgentEntry, keep func(AgentEntry) bool) []AgentEntry {
	out := make([]AgentEntry, 0, len(agents))
	for _, a := range agents {
		if keep(a) {
			out = append(out, a)
		}
	}
	return out
}

func filterKBs(kbs []KBEntry, keep func(KBEntry) bool) []KBEntry {
	out := make([]KBEntry, 0, len(kbs))
	for _, k := range kbs {
		if keep(k) {
			out = append(out, k)
		}
	}
	return out
}

func containsStr(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func stringFieldDefault(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return def
}

func stringSliceField(m map[string]any, key string) []string {
	raw, ok := m[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
