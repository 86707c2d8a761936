// Package policy implements the Policy Decision Client (spec §4.4): an
// HTTP client against an external decision service, with a local
// fallback evaluator and safe-default-deny semantics baked into every
// failure path (timeout, non-2xx, malformed body).
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// Evaluator is implemented by both the remote Client and
// internal/store's local fallback evaluator, letting the enforcement
// pipeline and router depend on one seam regardless of which is wired
// in (see SPEC_FULL.md Open Question 1).
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*models.PolicyDecision, error)
}

// Request is the evaluation input sent to the decision service.
type Request struct {
	PrincipalType string         `json:"principal_type"`
	PrincipalID   string         `json:"principal_id"`
	ResourceType  string         `json:"resource_type"`
	ResourceID    string         `json:"resource_id"`
	Action        string         `json:"action"`
	Context       map[string]any `json:"context,omitempty"`
}

// Client calls an external decision service that speaks the
// {"input": {...}} / {"result": {...}} envelope.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a Client bound to baseURL (e.g. an OPA instance's
// address) with the given per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{Timeout: timeout}}
}

type evaluateEnvelope struct {
	Input Request `json:"input"`
}

type evaluateResult struct {
	Result models.PolicyDecision `json:"result"`
}

// Evaluate posts req to the decision service's /v1/data/agentmesh/decision
// endpoint. Any failure — timeout, network error, non-2xx, malformed
// body — degrades to a safe deny rather than propagating the error,
// since a policy outage must never fail open.
func (c *Client) Evaluate(ctx context.Context, req Request) (*models.PolicyDecision, error) {
	body, err := json.Marshal(evaluateEnvelope{Input: req})
	if err != nil {
		return nil, fmt.Errorf("marshal policy request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/data/agentmesh/decision", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build policy request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Error().Err(err).Str("principal", req.PrincipalID).Msg("policy decision service unreachable, defaulting to deny")
		return denyDecision("policy evaluation failed: " + err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		log.Error().Int("status", resp.StatusCode).Str("body", string(data)).Msg("policy decision service returned non-2xx, defaulting to deny")
		return denyDecision(fmt.Sprintf("policy evaluation failed: status %d", resp.StatusCode)), nil
	}

	var result evaluateResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Error().Err(err).Msg("malformed policy decision response, defaulting to deny")
		return denyDecision("policy evaluation error: malformed response"), nil
	}
	if result.Result.MaskingRules == nil {
		result.Result.MaskingRules = []string{}
	}
	return &result.Result, nil
}

// HealthCheck reports whether the decision service is reachable.
func (c *Client) HealthCheck(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListPolicies fetches the decision service's currently loaded policy
// bundle, for the admin-facing policy introspection endpoints
// (SPEC_FULL.md Supplemented Features).
func (c *Client) ListPolicies(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/policies", nil)
	if err != nil {
		return nil, fmt.Errorf("build list policies request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list policies: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read list policies response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list policies: status %d", resp.StatusCode)
	}
	return data, nil
}

// Upload pushes a new or updated Rego policy module under name.
func (c *Client) Upload(ctx context.Context, name string, policyModule []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/v1/policies/"+name, bytes.NewReader(policyModule))
	if err != nil {
		return fmt.Errorf("build upload policy request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload policy %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload policy %s: status %d: %s", name, resp.StatusCode, data)
	}
	return nil
}

// Delete removes a policy module by name.
func (c *Client) Delete(ctx context.Context, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/v1/policies/"+name, nil)
	if err != nil {
		return fmt.Errorf("build delete policy request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete policy %s: %w", name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("delete policy %s: status %d", name, resp.StatusCode)
	}
	return nil
}

func denyDecision(reason string) *models.PolicyDecision {
	return &models.PolicyDecision{Allow: false, MaskingRules: []string{}, Reason: reason}
}
