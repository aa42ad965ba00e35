package cleanup

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// Config defines retention policy for finished jobs and their artifacts
type Config struct {
	Enabled       bool
	RetentionDays int           // Age past FinishedAt before a terminal job is purged
	Interval      time.Duration // How often the sweep runs
	BatchSize     int           // Deletions between throttle pauses
	OutputDir     string        // Artifact root; empty skips artifact removal
}

// DefaultConfig returns sensible defaults for cleanup
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		RetentionDays: 7,
		Interval:      24 * time.Hour,
		BatchSize:     100,
	}
}

// Stats tracks cleanup operations
type Stats struct {
	LastRunTime      time.Time
	LastRunDuration  time.Duration
	TotalJobsDeleted int64
}

// Manager purges terminal jobs past the retention window, along with
// their output artifacts. Active jobs are never touched; explicit user
// deletion remains the only way to remove a job early.
type Manager struct {
	config Config
	store  store.Store
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.RWMutex
	stats Stats
}

// New creates a cleanup manager
func New(config Config, st store.Store) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		store:  st,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins the periodic sweep
func (m *Manager) Start() {
	if !m.config.Enabled {
		log.Println("[Cleanup] Disabled")
		return
	}

	log.Printf("[Cleanup] Starting (retention: %d days, interval: %v)",
		m.config.RetentionDays, m.config.Interval)

	m.wg.Add(1)
	go m.loop()
}

// Stop gracefully stops the manager
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
	log.Println("[Cleanup] Stopped")
}

func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// SweepNow triggers an immediate sweep
func (m *Manager) SweepNow() {
	m.sweep()
}

func (m *Manager) sweep() {
	start := time.Now()
	cutoff := start.Add(-time.Duration(m.config.RetentionDays) * 24 * time.Hour)
	deleted := 0

	for _, state := range []models.JobStatus{
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		jobs, err := m.store.GetJobsInState(state)
		if err != nil {
			log.Printf("[Cleanup] Failed to list %s jobs: %v", state, err)
			continue
		}

		for _, job := range jobs {
			finished := job.CreatedAt
			if job.FinishedAt != nil {
				finished = *job.FinishedAt
			}
			if !finished.Before(cutoff) {
				continue
			}

			m.removeArtifact(job)
			if err := m.store.DeleteJob(job.ID); err != nil {
				log.Printf("[Cleanup] Failed to delete job %s: %v", job.ID, err)
				continue
			}
			deleted++

			// Throttle bulk deletion
			if m.config.BatchSize > 0 && deleted%m.config.BatchSize == 0 {
				select {
				case <-m.ctx.Done():
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
		}
	}

	duration := time.Since(start)
	m.mu.Lock()
	m.stats.LastRunTime = time.Now()
	m.stats.LastRunDuration = duration
	m.stats.TotalJobsDeleted += int64(deleted)
	m.mu.Unlock()

	if deleted > 0 {
		log.Printf("[Cleanup] Purged %d jobs in %v", deleted, duration)
	}
}

func (m *Manager) removeArtifact(job *models.Job) {
	if m.config.OutputDir == "" || job.OutputRef == "" {
		return
	}
	path := filepath.Join(m.config.OutputDir, filepath.Clean(job.OutputRef))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Cleanup] Failed to remove artifact %s: %v", path, err)
	}
}

// GetStats returns current cleanup statistics
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}
