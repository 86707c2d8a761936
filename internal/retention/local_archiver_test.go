package retention_test

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentmesh/agentmesh/control-plane/internal/retention"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

func TestLocalFileArchiver_ArchiveAuditEvents(t *testing.T) {
	dir := t.TempDir()
	a := retention.NewLocalFileArchiver(dir, false)

	events := []models.AuditEvent{
		{EventID: "e1", EventType: models.EventQuery, SourceID: "agent-a", Timestamp: time.Now().UTC()},
		{EventID: "e2", EventType: models.EventInvoke, SourceID: "agent-b", Timestamp: time.Now().UTC()},
	}

	uri, err := a.ArchiveAuditEvents(context.Background(), events)
	if err != nil {
		t.Fatalf("ArchiveAuditEvents() error = %v", err)
	}

	f, err := os.Open(uri)
	if err != nil {
		t.Fatalf("open archive file: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines++
	}
	if lines != 2 {
		t.Errorf("archived lines = %d, want 2", lines)
	}
	if filepath.Dir(uri) != filepath.Join(dir, "audit_events") {
		t.Errorf("archive dir = %q, want %q", filepath.Dir(uri), filepath.Join(dir, "audit_events"))
	}
}

func TestLocalFileArchiver_HealthCheck(t *testing.T) {
	a := retention.NewLocalFileArchiver(t.TempDir(), false)
	if err := a.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
