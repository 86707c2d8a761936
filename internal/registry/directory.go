package registry

import (
	"context"

	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// AgentListFilter narrows DirectoryService.ListAgents results.
type AgentListFilter struct {
	Status     models.AgentStatus
	Capability string
	Limit      int
}

// KBListFilter narrows DirectoryService.ListKBs results.
type KBListFilter struct {
	Status models.AgentStatus
	KBType string
	Limit  int
}

// DirectorySummary aggregates registry counts by status and kb type.
type DirectorySummary struct {
	TotalAgents      int
	TotalKBs         int
	AgentsByStatus   map[models.AgentStatus]int
	KBsByStatus      map[models.AgentStatus]int
	KBsByType        map[string]int
}

// DirectoryService answers discovery queries over the registry
// (spec §4.5). Unlike AgentService/KBService it never mutates state.
type DirectoryService struct {
	store store.Store
}

func NewDirectoryService(s store.Store) *DirectoryService {
	return &DirectoryService{store: s}
}

func (s *DirectoryService) ListAgents(ctx context.Context, filter AgentListFilter) ([]models.AgentRecord, error) {
	q := store.AgentQuery{
		Status:     filter.Status,
		Capability: filter.Capability,
		Limit:      filter.Limit,
	}
	return s.store.ListAgents(ctx, q)
}

func (s *DirectoryService) ListKBs(ctx context.Context, filter KBListFilter) ([]models.KBRecord, error) {
	q := store.KBQuery{
		Status: filter.Status,
		KBType: filter.KBType,
		Limit:  filter.Limit,
	}
	return s.store.ListKBs(ctx, q)
}

func (s *DirectoryService) FindAgentsByCapability(ctx context.Context, capability string, limit int) ([]models.AgentRecord, error) {
	return s.store.ListAgents(ctx, store.AgentQuery{Capability: capability, Limit: limit})
}

func (s *DirectoryService) FindKBsByType(ctx context.Context, kbType string, limit int) ([]models.KBRecord, error) {
	return s.store.ListKBs(ctx, store.KBQuery{KBType: kbType, Limit: limit})
}

// Summary returns directory-wide counts, used by the optional REST
// façade's status endpoint.
func (s *DirectoryService) Summary(ctx context.Context) (*DirectorySummary, error) {
	agents, err := s.store.ListAgents(ctx, store.AgentQuery{Limit: 1000})
	if err != nil {
		return nil, err
	}
	kbs, err := s.store.ListKBs(ctx, store.KBQuery{Limit: 1000})
	if err != nil {
		return nil, err
	}

	summary := &DirectorySummary{
		TotalAgents:    len(agents),
		TotalKBs:       len(kbs),
		AgentsByStatus: make(map[models.AgentStatus]int),
		KBsByStatus:    make(map[models.AgentStatus]int),
		KBsByType:      make(map[string]int),
	}
	for _, a := range agents {
		summary.AgentsByStatus[a.Status]++
	}
	for _, kb := range kbs {
		summary.KBsByStatus[kb.Status]++
		summary.KBsByType[kb.KBType]++
	}
	return summary, nil
}
