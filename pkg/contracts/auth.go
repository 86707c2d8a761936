// Package contracts — Authentication interfaces for the pluggable auth
// seam. AgentMesh has no role-based authorization (spec's explicit
// non-goal: "does not provide strong cryptographic agent identity"),
// so Identity only establishes that a caller is a known mesh
// participant; it carries no role, group, or claims.
package contracts

import (
	"context"
	"net/http"
	"time"
)

// ── Identity ────────────────────────────────────────────────

// Identity represents an authenticated mesh caller. Produced by an
// AuthProvider, consumed by the REST façade's middleware.
type Identity struct {
	// Subject is the unique identifier (API key hash, agent identity).
	Subject string `json:"subject"`

	// Provider identifies which auth provider authenticated this identity.
	Provider string `json:"provider"`

	// ExpiresAt is when this identity's session expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// ── AuthProvider ────────────────────────────────────────────

// AuthProvider authenticates an HTTP request and returns an Identity.
//
// The chain pattern:
//   - Return (*Identity, nil) → authenticated, stop chain
//   - Return (nil, nil) → this provider doesn't handle this request, try next
//   - Return (nil, error) → authentication was attempted but failed, reject
type AuthProvider interface {
	// Name returns the provider identifier (e.g. "apikey").
	Name() string

	// Authenticate inspects the request and returns an Identity.
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)

	// Enabled returns whether this provider is configured and active.
	Enabled() bool
}
