package scheduler

import (
	"testing"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/store"
)

func TestWatchdogReclaimsTimedOutJob(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, Config{MaxConcurrentJobs: 1, JobTimeout: time.Minute, WatchdogInterval: time.Hour})

	var notified []string
	s.OnTerminal(func(jobID string) { notified = append(notified, jobID) })

	started := time.Now().Add(-2 * time.Minute) // Past the timeout
	st.CreateJob(&models.Job{
		ID:        "stale",
		Status:    models.JobStatusProcessing,
		CreatedAt: started,
		UpdatedAt: started,
		StartedAt: &started,
	})
	fresh := time.Now()
	st.CreateJob(&models.Job{
		ID:        "fresh",
		Status:    models.JobStatusProcessing,
		CreatedAt: fresh,
		UpdatedAt: fresh,
		StartedAt: &fresh,
	})

	s.reclaimTimedOut()

	stale, _ := st.GetJob("stale")
	if stale.Status != models.JobStatusFailed {
		t.Errorf("stale job status = %v, want failed", stale.Status)
	}
	if stale.Error == nil || stale.Error.Code != models.ErrCodeRenderTimeout {
		t.Errorf("stale job error = %v, want render_timeout", stale.Error)
	}
	if stale.FinishedAt == nil {
		t.Error("stale job should have FinishedAt set")
	}

	freshJob, _ := st.GetJob("fresh")
	if freshJob.Status != models.JobStatusProcessing {
		t.Errorf("fresh job status = %v, want processing", freshJob.Status)
	}

	if len(notified) != 1 || notified[0] != "stale" {
		t.Errorf("notified = %v, want [stale]", notified)
	}
}

func TestWatchdogLosesToWorkerFinish(t *testing.T) {
	st := store.NewMemoryStore()
	s := New(st, Config{JobTimeout: time.Minute, WatchdogInterval: time.Hour})
	s.OnTerminal(func(jobID string) { t.Errorf("watchdog should not notify for job %s", jobID) })

	started := time.Now().Add(-2 * time.Minute)
	st.CreateJob(&models.Job{
		ID:        "job-1",
		Status:    models.JobStatusProcessing,
		CreatedAt: started,
		UpdatedAt: started,
		StartedAt: &started,
	})

	// Worker finishes between the watchdog's scan and its CAS. Simulate
	// by finishing before the scan; the CAS must then be rejected.
	st.CompareAndSetState("job-1", models.JobStatusProcessing, models.JobStatusCompleted, models.JobPatch{})

	s.reclaimTimedOut()

	got, _ := st.GetJob("job-1")
	if got.Status != models.JobStatusCompleted {
		t.Errorf("status = %v, want completed (worker write must stand)", got.Status)
	}
}

func TestRecoverInFlight(t *testing.T) {
	st := store.NewMemoryStore()
	q := NewQueue()

	now := time.Now()
	started := now.Add(-time.Minute)
	st.CreateJob(&models.Job{
		ID: "stranded", Status: models.JobStatusProcessing, Progress: 60,
		Priority: models.PriorityHigh, CreatedAt: now, UpdatedAt: now, StartedAt: &started,
	})
	st.CreateJob(&models.Job{
		ID: "waiting", Status: models.JobStatusPending,
		Priority: models.PriorityNormal, CreatedAt: now, UpdatedAt: now,
	})
	st.CreateJob(&models.Job{
		ID: "done", Status: models.JobStatusCompleted,
		Priority: models.PriorityNormal, CreatedAt: now, UpdatedAt: now,
	})

	recovered, err := RecoverInFlight(st, q)
	if err != nil {
		t.Fatalf("RecoverInFlight failed: %v", err)
	}
	if recovered != 1 {
		t.Errorf("recovered = %d, want 1", recovered)
	}

	stranded, _ := st.GetJob("stranded")
	if stranded.Status != models.JobStatusPending {
		t.Errorf("stranded status = %v, want pending", stranded.Status)
	}
	if stranded.Progress != 0 {
		t.Errorf("stranded progress = %d, want 0", stranded.Progress)
	}

	// Both the recovered and the already-pending job are queued, and
	// the recovered HIGH job dequeues first.
	if q.Len() != 2 {
		t.Fatalf("queue length = %d, want 2", q.Len())
	}
	done, _ := st.GetJob("done")
	if done.Status != models.JobStatusCompleted {
		t.Errorf("terminal job must be untouched, got %v", done.Status)
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	if c.MaxConcurrentJobs != 5 {
		t.Errorf("MaxConcurrentJobs = %d, want 5", c.MaxConcurrentJobs)
	}
	if c.JobTimeout != time.Hour {
		t.Errorf("JobTimeout = %v, want 1h", c.JobTimeout)
	}

	s := New(store.NewMemoryStore(), Config{})
	if s.config.MaxConcurrentJobs != 5 || s.config.JobTimeout != time.Hour {
		t.Error("zero config should fall back to defaults")
	}
}
