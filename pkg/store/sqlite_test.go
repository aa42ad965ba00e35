package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now()
	job := &models.Job{
		ID:       "job-1",
		Identity: "key-1",
		Request: &models.CompositionRequest{
			Scenes: []models.Scene{
				{SourceID: "img-1", MediaType: models.MediaTypeImage, Duration: 3.0},
			},
			Video: models.VideoSettings{Resolution: "1920x1080", FPS: 30},
		},
		Priority:   models.PriorityHigh,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		WebhookURL: "https://example.com/hook",
	}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	got, err := s.GetJob("job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Identity != "key-1" || got.Priority != models.PriorityHigh {
		t.Errorf("round trip lost fields: %+v", got)
	}
	if got.Request == nil || len(got.Request.Scenes) != 1 || got.Request.Scenes[0].SourceID != "img-1" {
		t.Errorf("request did not survive round trip: %+v", got.Request)
	}
	if got.WebhookURL != "https://example.com/hook" {
		t.Errorf("WebhookURL = %q", got.WebhookURL)
	}
}

func TestSQLiteCompareAndSetState(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now()
	job := &models.Job{ID: "job-1", Status: models.JobStatusPending, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	started := time.Now()
	ok, err := s.CompareAndSetState("job-1", models.JobStatusPending, models.JobStatusProcessing, models.JobPatch{
		StartedAt: &started,
		Reason:    "dispatched",
	})
	if err != nil || !ok {
		t.Fatalf("expected transition to succeed, got ok=%v err=%v", ok, err)
	}

	// Second writer with a stale expectation loses without error
	ok, err = s.CompareAndSetState("job-1", models.JobStatusPending, models.JobStatusCancelled, models.JobPatch{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("stale CAS must be rejected")
	}

	got, _ := s.GetJob("job-1")
	if got.Status != models.JobStatusProcessing {
		t.Errorf("status = %v, want processing", got.Status)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt should be set by patch")
	}
	if len(got.StateTransitions) != 1 || got.StateTransitions[0].Reason != "dispatched" {
		t.Errorf("transition audit missing: %+v", got.StateTransitions)
	}
}

func TestSQLiteUpdateProgressMonotonic(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now()
	job := &models.Job{ID: "job-1", Status: models.JobStatusProcessing, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := s.UpdateProgress("job-1", 50); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	if err := s.UpdateProgress("job-1", 30); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, _ := s.GetJob("job-1")
	if got.Progress != 50 {
		t.Errorf("Progress = %d, want 50", got.Progress)
	}
}

func TestSQLiteListOffsetWithoutLimit(t *testing.T) {
	s := newSQLiteTestStore(t)

	base := time.Now()
	for i := 0; i < 4; i++ {
		job := &models.Job{
			ID:        "job-" + string(rune('a'+i)),
			Status:    models.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
			UpdatedAt: base,
		}
		if err := s.CreateJob(job); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	// Offset applies on its own, same as the memory store
	jobs, err := s.ListJobs(ListFilter{Offset: 1, SortAsc: true})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("got %d jobs, want 3", len(jobs))
	}
	if jobs[0].ID != "job-b" {
		t.Errorf("first job = %s, want job-b", jobs[0].ID)
	}

	jobs, err = s.ListJobs(ListFilter{Limit: 2, Offset: 1, SortAsc: true})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "job-b" || jobs[1].ID != "job-c" {
		t.Errorf("paged jobs = %v", jobIDs(jobs))
	}
}

func jobIDs(jobs []*models.Job) []string {
	ids := make([]string, len(jobs))
	for i, j := range jobs {
		ids[i] = j.ID
	}
	return ids
}

func TestSQLiteWebhookStatus(t *testing.T) {
	s := newSQLiteTestStore(t)

	now := time.Now()
	job := &models.Job{ID: "job-1", Status: models.JobStatusCompleted, CreatedAt: now, UpdatedAt: now}
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := s.SetWebhookStatus("job-1", models.WebhookStatusDelivered, 3); err != nil {
		t.Fatalf("SetWebhookStatus failed: %v", err)
	}
	got, _ := s.GetJob("job-1")
	if got.WebhookStatus != models.WebhookStatusDelivered || got.WebhookAttempts != 3 {
		t.Errorf("webhook state = %v/%d, want delivered/3", got.WebhookStatus, got.WebhookAttempts)
	}

	if err := s.SetWebhookStatus("missing", models.WebhookStatusFailed, 5); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}
