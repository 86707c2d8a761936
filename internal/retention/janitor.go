// Package retention implements audit log retention for the AgentMesh
// control plane: it periodically archives expired audit events to a
// durable backend, then purges them from the hot store.
//
// Archiving is fail-safe: an event is never purged unless the archive
// write for its batch succeeded. The janitor runs as a background
// goroutine and respects context cancellation for graceful shutdown.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentmesh/agentmesh/control-plane/internal/store"
	"github.com/agentmesh/agentmesh/control-plane/pkg/contracts"
	"github.com/agentmesh/agentmesh/control-plane/pkg/models"
)

// DefaultAuditRetentionDays is how long audit events live in the hot
// store before becoming eligible for archive-and-purge.
const DefaultAuditRetentionDays = 90

// DefaultArchiveBatchSize is the max records per archive write.
const DefaultArchiveBatchSize = 5000

// ArchiveRecord describes one completed archive write, kept in memory
// for operator visibility (LastCycle).
type ArchiveRecord struct {
	ID          string
	RecordCount int
	Backend     string
	URI         string
	OldestItem  time.Time
	NewestItem  time.Time
	CreatedAt   time.Time
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Archived int
	Purged   int
	Records  []ArchiveRecord
	Errors   []error
}

// Janitor periodically archives and purges audit events older than
// RetentionDays.
type Janitor struct {
	store          store.Store
	interval       time.Duration
	retentionDays  int
	archiveDrivers map[string]contracts.ArchiveDriver
	driverMu       sync.RWMutex
	defaultBackend string

	lastMu   sync.RWMutex
	lastStat CycleStats
}

// NewJanitor creates a retention janitor that sweeps on the given
// interval, purging audit events older than retentionDays.
func NewJanitor(s store.Store, interval time.Duration, retentionDays int) *Janitor {
	if interval < time.Minute {
		interval = time.Hour
	}
	if retentionDays <= 0 {
		retentionDays = DefaultAuditRetentionDays
	}
	return &Janitor{
		store:          s,
		interval:       interval,
		retentionDays:  retentionDays,
		archiveDrivers: make(map[string]contracts.ArchiveDriver),
	}
}

// RegisterArchiver adds an archive driver. The first registered driver
// becomes the default backend.
func (j *Janitor) RegisterArchiver(driver contracts.ArchiveDriver) {
	j.driverMu.Lock()
	defer j.driverMu.Unlock()
	kind := driver.Kind()
	if len(j.archiveDrivers) == 0 {
		j.defaultBackend = kind
	}
	j.archiveDrivers[kind] = driver
	log.Info().Str("kind", kind).Msg("archive driver registered")
}

// GetArchiver returns the registered driver for the given kind.
func (j *Janitor) GetArchiver(kind string) (contracts.ArchiveDriver, bool) {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	d, ok := j.archiveDrivers[kind]
	return d, ok
}

// ListArchivers returns the kinds of all registered archive drivers.
func (j *Janitor) ListArchivers() []string {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	kinds := make([]string, 0, len(j.archiveDrivers))
	for k := range j.archiveDrivers {
		kinds = append(kinds, k)
	}
	return kinds
}

// LastCycle returns the stats from the most recently completed cycle.
func (j *Janitor) LastCycle() CycleStats {
	j.lastMu.RLock()
	defer j.lastMu.RUnlock()
	return j.lastStat
}

// Start runs one retention cycle immediately and then one per
// interval, in the calling goroutine. It blocks until ctx is canceled.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Int("retention_days", j.retentionDays).
		Strs("archivers", j.ListArchivers()).
		Msg("retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("retention janitor stopped")
			return
		case <-ticker.C:
			j.runCycle(ctx)
		}
	}
}

func (j *Janitor) runCycle(ctx context.Context) {
	start := time.Now()
	cutoff := time.Now().AddDate(0, 0, -j.retentionDays)

	expired, err := j.store.QueryAuditLogs(ctx, store.AuditQuery{Until: &cutoff, Limit: 100000})
	if err != nil {
		log.Warn().Err(err).Msg("retention janitor: failed to query expired audit events")
		return
	}

	stats := CycleStats{}
	if len(expired) > 0 {
		if j.hasArchivers() {
			if !j.archiveAndPurge(ctx, expired, &stats) {
				log.Warn().Msg("archive failed — skipping purge (fail-safe)")
			}
		} else {
			j.purge(ctx, expired, &stats)
		}
	}

	j.lastMu.Lock()
	j.lastStat = stats
	j.lastMu.Unlock()

	for _, e := range stats.Errors {
		log.Warn().Err(e).Msg("retention cycle error")
	}

	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("archived", stats.Archived).
			Int("purged", stats.Purged).
			Dur("elapsed", time.Since(start)).
			Msg("retention cycle complete")
	}
}

func (j *Janitor) hasArchivers() bool {
	j.driverMu.RLock()
	defer j.driverMu.RUnlock()
	return len(j.archiveDrivers) > 0
}

func (j *Janitor) archiveAndPurge(ctx context.Context, events []models.AuditEvent, stats *CycleStats) bool {
	driver, ok := j.GetArchiver(j.defaultBackend)
	if !ok {
		stats.Errors = append(stats.Errors, &archiveError{backend: j.defaultBackend, msg: "driver not registered"})
		return false
	}

	allOK := true
	for i := 0; i < len(events); i += DefaultArchiveBatchSize {
		end := i + DefaultArchiveBatchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[i:end]

		uri, err := driver.ArchiveAuditEvents(ctx, batch)
		if err != nil {
			log.Warn().Err(err).Str("backend", j.defaultBackend).Int("batch_size", len(batch)).Msg("failed to archive audit events")
			stats.Errors = append(stats.Errors, err)
			allOK = false
			continue
		}

		stats.Archived += len(batch)
		stats.Records = append(stats.Records, ArchiveRecord{
			ID:          uuid.New().String(),
			RecordCount: len(batch),
			Backend:     j.defaultBackend,
			URI:         uri,
			OldestItem:  batch[len(batch)-1].Timestamp,
			NewestItem:  batch[0].Timestamp,
			CreatedAt:   time.Now().UTC(),
		})

		j.purge(ctx, batch, stats)
	}
	return allOK
}

func (j *Janitor) purge(ctx context.Context, events []models.AuditEvent, stats *CycleStats) {
	for _, e := range events {
		if err := j.store.DeleteAuditEvent(ctx, e.EventID); err != nil {
			log.Warn().Err(err).Str("event_id", e.EventID).Msg("failed to delete expired audit event")
			stats.Errors = append(stats.Errors, err)
			continue
		}
		stats.Purged++
	}
}

type archiveError struct {
	backend string
	msg     string
}

func (e *archiveError) Error() string {
	return "archive driver " + e.backend + ": " + e.msg
}
