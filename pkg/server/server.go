// Package server provides the public entry point for initializing the
// AgentMesh control plane.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/api"
	"github.com/agentmesh/agentmesh/control-plane/internal/api/handlers"
	"github.com/agentmesh/agentmesh/control-plane/internal/audit"
	meshauth "github.com/agentmesh/agentmesh/control-plane/internal/auth"
	"github.com/agentmesh/agentmesh/control-plane/internal/bus"
	"github.com/agentmesh/agentmesh/control-plane/internal/config"
	"github.com/agentmesh/agentmesh/control-plane/internal/directory"
	"github.com/agentmesh/agentmesh/control-plane/internal/enforcement"
	"github.com/agentmesh/agentmesh/control-plane/internal/health"
	"github.com/agentmesh/agentmesh/control-plane/internal/kbadapter"
	"github.com/agentmesh/agentmesh/control-plane/internal/policy"
	"github.com/agentmesh/agentmesh/control-plane/internal/registry"
	"github.com/agentmesh/agentmesh/control-plane/internal/retention"
	"github.com/agentmesh/agentmesh/control-plane/internal/router"
	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/internal/telemetry"
)

// Server holds the initialized control plane components. Exported
// fields let an embedding program observe or extend the mesh (e.g.
// register an additional KB adapter) before serving Handler.
type Server struct {
	Handler http.Handler

	Store     store.Store
	Bus       bus.Bus
	Policy    policy.Evaluator
	Adapters  map[string]kbadapter.Adapter
	Directory *directory.Cache
	Health    *health.Monitor
	Pipeline  *enforcement.Pipeline
	Router    *router.Router
	Agents    *registry.AgentService
	KBs       *registry.KBService
	Audit     *audit.Service
	Retention *retention.Janitor

	Port int

	retentionCancel context.CancelFunc
	healthCancel    context.CancelFunc
	shutdownTelemetry func(context.Context) error
}

// New builds the control plane from environment configuration: an
// in-memory store (zero-config dev/test) and an attempted NATS
// connection that degrades to bus-disconnected REST-only operation if
// unreachable.
func New(ctx context.Context) (*Server, error) {
	cfg := config.Load()
	dataStore := store.NewMemoryStore()
	log.Info().Msg("in-memory store initialized")
	return build(ctx, cfg, dataStore)
}

// NewWithStore builds the control plane against a caller-provided
// store (e.g. a SQLite-backed store opened via store.OpenSQLiteStore).
// The caller owns the store's lifecycle and must Close it.
func NewWithStore(ctx context.Context, dataStore store.Store) (*Server, error) {
	cfg := config.Load()
	return build(ctx, cfg, dataStore)
}

func build(ctx context.Context, cfg *config.Config, dataStore store.Store) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// ── Message Bus Client (§4.1) ──────────────────────────
	var meshBus bus.Bus
	if cfg.Bus.URL != "" {
		client := bus.New(cfg.Bus.URL, cfg.Bus.RequestTimeout)
		connectCtx, cancel := context.WithTimeout(ctx, 5*cfg.Bus.RequestTimeout)
		if err := client.Connect(connectCtx); err != nil {
			cancel()
			log.Warn().Err(err).Msg("bus unreachable, continuing REST-only")
			meshBus = bus.NewFake()
		} else {
			cancel()
			meshBus = client
		}
	} else {
		meshBus = bus.NewFake()
	}

	// ── KB Adapter Contract (§4.3) ─────────────────────────
	// AgentMesh has no per-kb-type config struct (a KB's own registration
	// carries its endpoint), so the adapters the enforcement pipeline and
	// health monitor dispatch to are seeded from the environment.
	adapters := map[string]kbadapter.Adapter{}
	if dsn := os.Getenv("AGENTMESH_RELATIONAL_DSN"); dsn != "" {
		adapters["relational"] = kbadapter.NewRelationalAdapter(dsn)
	}
	if uri := os.Getenv("AGENTMESH_GRAPH_URI"); uri != "" {
		adapters["graph"] = kbadapter.NewGraphAdapter(uri, os.Getenv("AGENTMESH_GRAPH_USER"), os.Getenv("AGENTMESH_GRAPH_PASSWORD"))
	}
	for kbType, adapter := range adapters {
		if err := adapter.Connect(ctx); err != nil {
			log.Warn().Err(err).Str("kb_type", kbType).Msg("kb adapter connect failed")
		}
	}

	// ── Policy Decision Client (§4.4) ──────────────────────
	var evaluator policy.Evaluator
	if cfg.Policy.DecisionServiceURL != "" {
		evaluator = policy.NewClient(cfg.Policy.DecisionServiceURL, cfg.Policy.Timeout)
		log.Info().Str("url", cfg.Policy.DecisionServiceURL).Msg("remote policy decision client configured")
	} else {
		evaluator = policy.NewLocalEvaluator(dataStore)
		log.Info().Msg("local glob-based policy evaluator configured (no decision service url set)")
	}

	// ── Directory Cache (§4.5 read path) ───────────────────
	dirCache := directory.New()
	if err := dirCache.Start(ctx, dataStore, meshBus); err != nil {
		log.Warn().Err(err).Msg("directory cache bus subscriptions unavailable")
	}

	// ── Health Monitor (§4.6) ──────────────────────────────
	monitor := health.New(dataStore, adapters, cfg.Health.Interval)
	healthCtx, healthCancel := context.WithCancel(context.Background())
	go monitor.Start(healthCtx)

	// ── Enforcement Pipeline (§4.7) ────────────────────────
	pipeline := enforcement.New(evaluator, dataStore, adapters)

	// ── Request Router (§4.8) ──────────────────────────────
	reqRouter := router.New(pipeline, dataStore, meshBus)
	if err := reqRouter.Start(); err != nil {
		log.Warn().Err(err).Msg("request router bus subscriptions unavailable")
	}

	// ── Registry Services (§4.5 write path) ────────────────
	agentSvc := registry.NewAgentService(dataStore, meshBus)
	kbSvc := registry.NewKBService(dataStore, meshBus, registry.DefaultConnectivityCheckers(adapters))

	// ── Audit Query (read side of §4.2/§4.7) ───────────────
	auditSvc := audit.New(dataStore)
	if err := auditSvc.Start(meshBus); err != nil {
		log.Warn().Err(err).Msg("audit query bus subscriptions unavailable")
	}

	// ── Retention Janitor ───────────────────────────────────
	janitor := retention.NewJanitor(dataStore, cfg.Retention.Interval, int(cfg.Retention.AuditRetention.Hours()/24))
	archiver := retention.NewLocalFileArchiver(cfg.Retention.ArchiveDir, cfg.Retention.Compress)
	janitor.RegisterArchiver(archiver)
	retentionCtx, retentionCancel := context.WithCancel(context.Background())
	go janitor.Start(retentionCtx)

	// ── Optional REST façade (§6) ───────────────────────────
	h := handlers.New(dataStore, reqRouter, agentSvc, kbSvc, dirCache, auditSvc, monitor)
	var authProvider *meshauth.APIKeyProvider
	apiKeyProvider := meshauth.NewAPIKeyProvider()
	if apiKeyProvider.Enabled() {
		authProvider = apiKeyProvider
	}
	var restHandler http.Handler
	if authProvider != nil {
		restHandler = api.NewRouter(cfg, h, authProvider)
	} else {
		restHandler = api.NewRouter(cfg, h, nil)
	}

	return &Server{
		Handler:           restHandler,
		Store:             dataStore,
		Bus:               meshBus,
		Policy:            evaluator,
		Adapters:          adapters,
		Directory:         dirCache,
		Health:            monitor,
		Pipeline:          pipeline,
		Router:            reqRouter,
		Agents:            agentSvc,
		KBs:               kbSvc,
		Audit:             auditSvc,
		Retention:         janitor,
		Port:              cfg.Port,
		retentionCancel:   retentionCancel,
		healthCancel:      healthCancel,
		shutdownTelemetry: shutdownTelemetry,
	}, nil
}

// Shutdown stops all background goroutines and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.retentionCancel != nil {
		s.retentionCancel()
	}
	if s.healthCancel != nil {
		s.healthCancel()
	}
	if s.Bus != nil {
		_ = s.Bus.Close()
	}
	for _, adapter := range s.Adapters {
		_ = adapter.Disconnect(ctx)
	}
	if s.shutdownTelemetry != nil {
		return s.shutdownTelemetry(ctx)
	}
	return nil
}
