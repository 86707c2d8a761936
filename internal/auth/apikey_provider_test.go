package auth_test

import (
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/agentmesh/agentmesh/control-plane/internal/auth"
)

func TestAPIKeyProvider_AuthenticateValidKey(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret-key")
	defer os.Unsetenv("AGENTMESH_API_KEYS")
	p := auth.NewAPIKeyProvider()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "secret-key")

	identity, err := p.Authenticate(req.Context(), req)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if identity == nil || identity.Provider != "apikey" {
		t.Errorf("identity = %+v, want provider=apikey", identity)
	}
}

func TestAPIKeyProvider_AuthenticateInvalidKey(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret-key")
	defer os.Unsetenv("AGENTMESH_API_KEYS")
	p := auth.NewAPIKeyProvider()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "wrong-key")

	if _, err := p.Authenticate(req.Context(), req); err == nil {
		t.Fatal("expected error for invalid key")
	}
}

func TestAPIKeyProvider_NoKeyPresentReturnsNilNil(t *testing.T) {
	os.Setenv("AGENTMESH_API_KEYS", "secret-key")
	defer os.Unsetenv("AGENTMESH_API_KEYS")
	p := auth.NewAPIKeyProvider()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	identity, err := p.Authenticate(req.Context(), req)
	if err != nil || identity != nil {
		t.Errorf("Authenticate() = (%v, %v), want (nil, nil)", identity, err)
	}
}

func TestAPIKeyProvider_DisabledWithNoKeysConfigured(t *testing.T) {
	os.Unsetenv("AGENTMESH_API_KEYS")
	p := auth.NewAPIKeyProvider()
	if p.Enabled() {
		t.Error("Enabled() = true, want false with no keys configured")
	}
}

func TestAPIKeyProvider_AddAndRemoveKey(t *testing.T) {
	os.Unsetenv("AGENTMESH_API_KEYS")
	p := auth.NewAPIKeyProvider()

	p.AddKey("runtime-key")
	if !p.Enabled() {
		t.Fatal("Enabled() = false after AddKey")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer runtime-key")
	if _, err := p.Authenticate(req.Context(), req); err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}

	p.RemoveKey("runtime-key")
	if p.Enabled() {
		t.Error("Enabled() = true after removing last key")
	}
}
