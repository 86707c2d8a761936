package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the AgentMesh control plane.
type Config struct {
	Port      int
	Version   string
	Store     StoreConfig
	Bus       BusConfig
	Policy    PolicyConfig
	Health    HealthConfig
	Retention RetentionConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type StoreConfig struct {
	// DSN is loaded from AGENTMESH_STORE_DSN. pkg/server does not read
	// it: server.New always builds the in-memory store, and
	// server.NewWithStore takes a store the caller has already opened
	// (e.g. via store.OpenSQLiteStore).
	DSN string
}

type BusConfig struct {
	// URL is the NATS server URL. Empty disables the bus surface
	// (REST-only operation).
	URL            string
	RequestTimeout time.Duration
}

type PolicyConfig struct {
	// DecisionServiceURL, when set, makes the remote Policy Decision
	// Client authoritative; otherwise the store's local evaluator is
	// used (spec §9, open question 1 — see DESIGN.md).
	DecisionServiceURL string
	Timeout            time.Duration
	PolicyDir          string
}

type HealthConfig struct {
	Interval     time.Duration
	ProbeTimeout time.Duration
}

type RetentionConfig struct {
	Interval       time.Duration
	AuditRetention time.Duration
	ArchiveDir     string
	Compress       bool
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// APIKeyHeader is loaded from AGENTMESH_AUTH_HEADER. The placeholder
	// agent-identity check (internal/auth.APIKeyProvider) does not read
	// it; that check always looks at its own fixed headers. The check
	// itself is a seam, not cryptographic identity (spec §1 non-goals).
	APIKeyHeader string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("AGENTMESH_PORT", 8080),
		Version: envStr("AGENTMESH_VERSION", "0.1.0"),
		Store: StoreConfig{
			DSN: envStr("AGENTMESH_STORE_DSN", ""),
		},
		Bus: BusConfig{
			URL:            envStr("AGENTMESH_NATS_URL", "nats://localhost:4222"),
			RequestTimeout: envDuration("AGENTMESH_BUS_TIMEOUT", 5*time.Second),
		},
		Policy: PolicyConfig{
			DecisionServiceURL: envStr("AGENTMESH_POLICY_URL", ""),
			Timeout:            envDuration("AGENTMESH_POLICY_TIMEOUT", 5*time.Second),
			PolicyDir:          envStr("AGENTMESH_POLICY_DIR", ""),
		},
		Health: HealthConfig{
			Interval:     envDuration("AGENTMESH_HEALTH_INTERVAL", 30*time.Second),
			ProbeTimeout: envDuration("AGENTMESH_HEALTH_PROBE_TIMEOUT", 5*time.Second),
		},
		Retention: RetentionConfig{
			Interval:       envDuration("AGENTMESH_RETENTION_INTERVAL", 6*time.Hour),
			AuditRetention: envDuration("AGENTMESH_AUDIT_RETENTION", 30*24*time.Hour),
			ArchiveDir:     envStr("AGENTMESH_ARCHIVE_DIR", ""),
			Compress:       envBool("AGENTMESH_ARCHIVE_COMPRESS", true),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentmesh-control-plane"),
		},
		Auth: AuthConfig{
			APIKeyHeader: envStr("AGENTMESH_AUTH_HEADER", "Authorization"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
