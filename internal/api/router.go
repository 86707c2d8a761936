// Package api wires the optional REST façade (spec §6): a chi router
// that exposes the same operations the bus verbs serve, for operators
// and dashboards that would rather poll HTTP than speak NATS.
package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/agentmesh/agentmesh/control-plane/internal/api/handlers"
	"github.com/agentmesh/agentmesh/control-plane/internal/api/middleware"
	"github.com/agentmesh/agentmesh/control-plane/internal/config"
	"github.com/agentmesh/agentmesh/control-plane/pkg/contracts"
)

// NewRouter builds the HTTP router for the REST façade. authProvider
// may be nil, which leaves the mesh open to anonymous REST callers
// (the bus surface has no authentication either, spec §1 non-goals).
func NewRouter(cfg *config.Config, h *handlers.Handlers, authProvider contracts.AuthProvider) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)

	if authProvider != nil {
		r.Use(middleware.NewAuthMiddleware(authProvider).Handler)
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   parseCORSOrigins(),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Post("/", h.RegisterAgent)
			r.Route("/{identity}", func(r chi.Router) {
				r.Get("/", h.GetAgent)
				r.Post("/health", h.CheckAgentHealth)
			})
		})

		r.Route("/kbs", func(r chi.Router) {
			r.Post("/", h.RegisterKB)
			r.Route("/{kbID}", func(r chi.Router) {
				r.Get("/", h.GetKB)
				r.Post("/health", h.CheckKBHealth)
			})
		})

		r.Get("/directory", h.DirectoryQuery)
		r.Get("/directory/summary", h.DirectorySummary)

		r.Route("/routing", func(r chi.Router) {
			r.Post("/kb_query", h.RouteKBQuery)
			r.Post("/agent_invoke", h.RouteAgentInvoke)
			r.Get("/invocations/{trackingID}", h.GetInvocationStatus)
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", h.AuditQuery)
			r.Get("/stats", h.AuditStats)
		})

		r.Get("/health/summary", h.HealthSummary)
	})

	return r
}

// parseCORSOrigins reads allowed CORS origins from the environment.
// Default: wildcard (open access, no credentials).
func parseCORSOrigins() []string {
	originsEnv := os.Getenv("AGENTMESH_CORS_ORIGINS")
	if originsEnv == "" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(originsEnv, ",") {
		o = strings.TrimSpace(o)
		if o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "agentmesh-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "agentmesh-control-plane",
		})
	}
}
