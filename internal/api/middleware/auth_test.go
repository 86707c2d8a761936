package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/api/middleware"
	"github.com/agentmesh/agentmesh/control-plane/internal/auth"
	pkgmw "github.com/agentmesh/agentmesh/control-plane/pkg/middleware"
)

func TestAuthMiddleware_PublicPathSkipsAuth(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret")
	defer os.Unsetenv("AGENTMESH_API_KEYS")

	am := middleware.NewAuthMiddleware(auth.NewAPIKeyProvider())
	handler := am.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAuthMiddleware_InvalidKeyRejected(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret")
	defer os.Unsetenv("AGENTMESH_API_KEYS")

	am := middleware.NewAuthMiddleware(auth.NewAPIKeyProvider())
	handler := am.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/", nil)
	req.Header.Set("X-API-Key", "wrong")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAuthMiddleware_ValidKeyStoresIdentity(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret")
	defer os.Unsetenv("AGENTMESH_API_KEYS")

	am := middleware.NewAuthMiddleware(auth.NewAPIKeyProvider())
	var gotIdentity bool
	handler := am.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotIdentity = pkgmw.GetIdentity(r.Context()) != nil
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/", nil)
	req.Header.Set("X-API-Key", "secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !gotIdentity {
		t.Error("expected identity to be set in context")
	}
}

func TestAuthMiddleware_NoKeyAllowedWhenNotRequired(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret")
	defer os.Unsetenv("AGENTMESH_API_KEYS")
	os.Unsetenv("AGENTMESH_REQUIRE_AUTH")

	am := middleware.NewAuthMiddleware(auth.NewAPIKeyProvider())
	handler := am.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/agents/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d (anonymous allowed when not required)", w.Code, http.StatusOK)
	}
}
