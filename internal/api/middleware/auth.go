package middleware

import (
	"encoding/json"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/pkg/contracts"
	pkgmw "github.com/agentmesh/agentmesh/control-plane/pkg/middleware"
)

// AuthMiddleware authenticates REST requests via a single pluggable
// AuthProvider and stores the resulting Identity in context. The bus
// surface has no equivalent check (spec §1 non-goals); this exists
// only so a REST deployment can opt into the same API-key seam.
type AuthMiddleware struct {
	provider    contracts.AuthProvider
	requireAuth bool
}

// NewAuthMiddleware creates the auth middleware. Set AGENTMESH_REQUIRE_AUTH=true
// to reject unauthenticated requests to non-public paths; OSS default is false.
func NewAuthMiddleware(provider contracts.AuthProvider) *AuthMiddleware {
	return &AuthMiddleware{
		provider:    provider,
		requireAuth: os.Getenv("AGENTMESH_REQUIRE_AUTH") == "true",
	}
}

func (am *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isAuthPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		identity, err := am.provider.Authenticate(r.Context(), r)
		if err != nil {
			log.Debug().Err(err).Str("path", r.URL.Path).Msg("authentication failed")
			writeAuthError(w, http.StatusUnauthorized, "authentication_failed", err.Error())
			return
		}

		if identity == nil && am.requireAuth {
			writeAuthError(w, http.StatusUnauthorized, "authentication_required",
				"this endpoint requires authentication, set X-API-Key or Authorization: Bearer <key>")
			return
		}

		ctx := r.Context()
		if identity != nil {
			ctx = pkgmw.SetIdentity(ctx, identity)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="agentmesh"`)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}

func isAuthPublicPath(path string) bool {
	return path == "/health" || path == "/version"
}
