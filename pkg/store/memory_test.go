package store

import (
	"sync"
	"testing"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

func newTestJob(id string, status models.JobStatus, createdAt time.Time) *models.Job {
	return &models.Job{
		ID:        id,
		Identity:  "key-1",
		Status:    status,
		Priority:  models.PriorityNormal,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func TestCompareAndSetState(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob("job-1", models.JobStatusPending, time.Now())
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// Pending -> Processing succeeds
	ok, err := s.CompareAndSetState("job-1", models.JobStatusPending, models.JobStatusProcessing, models.JobPatch{Reason: "dispatched"})
	if err != nil || !ok {
		t.Fatalf("expected transition to succeed, got ok=%v err=%v", ok, err)
	}

	// Stale expectation is rejected without error
	ok, err = s.CompareAndSetState("job-1", models.JobStatusPending, models.JobStatusProcessing, models.JobPatch{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected CAS with stale expected state to fail")
	}

	// Invalid FSM edge returns an error
	if _, err := s.CompareAndSetState("job-1", models.JobStatusProcessing, models.JobStatusProcessing, models.JobPatch{}); err == nil {
		t.Error("expected invalid transition to return an error")
	}

	// Unknown job
	if _, err := s.CompareAndSetState("missing", models.JobStatusPending, models.JobStatusProcessing, models.JobPatch{}); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}

	got, _ := s.GetJob("job-1")
	if got.Status != models.JobStatusProcessing {
		t.Errorf("status = %v, want processing", got.Status)
	}
	if len(got.StateTransitions) != 1 || got.StateTransitions[0].Reason != "dispatched" {
		t.Errorf("expected one audited transition with reason, got %+v", got.StateTransitions)
	}
}

func TestCompareAndSetStateRacingWriters(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob("job-1", models.JobStatusProcessing, time.Now())
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	// A timeout watchdog and a finishing worker race to the terminal
	// state. Exactly one write must win.
	var wg sync.WaitGroup
	results := make([]bool, 2)
	targets := []models.JobStatus{models.JobStatusCompleted, models.JobStatusFailed}

	for i, target := range targets {
		wg.Add(1)
		go func(i int, target models.JobStatus) {
			defer wg.Done()
			ok, err := s.CompareAndSetState("job-1", models.JobStatusProcessing, target, models.JobPatch{})
			if err != nil {
				t.Errorf("writer %d: unexpected error: %v", i, err)
			}
			results[i] = ok
		}(i, target)
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	if wins != 1 {
		t.Errorf("expected exactly one winning writer, got %d", wins)
	}

	got, _ := s.GetJob("job-1")
	if !models.IsTerminalState(got.Status) {
		t.Errorf("job should be terminal, got %v", got.Status)
	}
	if len(got.StateTransitions) != 1 {
		t.Errorf("expected one audited transition, got %d", len(got.StateTransitions))
	}
}

func TestCompareAndSetStatePatch(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob("job-1", models.JobStatusProcessing, time.Now())
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	output := "outputs/key-1/job-1.mp4"
	progress := 100
	finished := time.Now()
	ok, err := s.CompareAndSetState("job-1", models.JobStatusProcessing, models.JobStatusCompleted, models.JobPatch{
		Progress:   &progress,
		OutputRef:  &output,
		FinishedAt: &finished,
		Reason:     "render finished",
	})
	if err != nil || !ok {
		t.Fatalf("transition failed: ok=%v err=%v", ok, err)
	}

	got, _ := s.GetJob("job-1")
	if got.OutputRef != output {
		t.Errorf("OutputRef = %q, want %q", got.OutputRef, output)
	}
	if got.Progress != 100 {
		t.Errorf("Progress = %d, want 100", got.Progress)
	}
	if got.FinishedAt == nil {
		t.Error("FinishedAt should be set")
	}
}

func TestUpdateProgressMonotonic(t *testing.T) {
	s := NewMemoryStore()
	job := newTestJob("job-1", models.JobStatusProcessing, time.Now())
	if err := s.CreateJob(job); err != nil {
		t.Fatalf("CreateJob failed: %v", err)
	}

	if err := s.UpdateProgress("job-1", 40); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	// Stale update arrives out of order and must be dropped
	if err := s.UpdateProgress("job-1", 20); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}

	got, _ := s.GetJob("job-1")
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40 (stale update must not regress)", got.Progress)
	}

	// Progress against a terminal job is dropped
	s.CompareAndSetState("job-1", models.JobStatusProcessing, models.JobStatusCompleted, models.JobPatch{})
	if err := s.UpdateProgress("job-1", 90); err != nil {
		t.Fatalf("UpdateProgress failed: %v", err)
	}
	got, _ = s.GetJob("job-1")
	if got.Progress != 40 {
		t.Errorf("Progress = %d, want 40 (terminal jobs ignore progress)", got.Progress)
	}
}

func TestListJobsFilterAndOrder(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()

	jobs := []*models.Job{
		newTestJob("job-1", models.JobStatusCompleted, base.Add(-3*time.Minute)),
		newTestJob("job-2", models.JobStatusPending, base.Add(-2*time.Minute)),
		newTestJob("job-3", models.JobStatusCompleted, base.Add(-1*time.Minute)),
	}
	jobs[1].Identity = "key-2"
	for _, j := range jobs {
		if err := s.CreateJob(j); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
	}

	// Status filter, newest first
	got, err := s.ListJobs(ListFilter{Status: models.JobStatusCompleted})
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 completed jobs, got %d", len(got))
	}
	if got[0].ID != "job-3" || got[1].ID != "job-1" {
		t.Errorf("expected newest first [job-3 job-1], got [%s %s]", got[0].ID, got[1].ID)
	}

	// Identity filter
	got, _ = s.ListJobs(ListFilter{Identity: "key-2"})
	if len(got) != 1 || got[0].ID != "job-2" {
		t.Errorf("identity filter returned wrong jobs: %+v", got)
	}

	// Paging
	got, _ = s.ListJobs(ListFilter{Limit: 1, Offset: 1})
	if len(got) != 1 || got[0].ID != "job-2" {
		t.Errorf("expected page [job-2], got %+v", got)
	}
}

func TestGetJobsInState(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now()
	s.CreateJob(newTestJob("job-1", models.JobStatusProcessing, base.Add(-2*time.Minute)))
	s.CreateJob(newTestJob("job-2", models.JobStatusPending, base.Add(-1*time.Minute)))
	s.CreateJob(newTestJob("job-3", models.JobStatusProcessing, base))

	got, err := s.GetJobsInState(models.JobStatusProcessing)
	if err != nil {
		t.Fatalf("GetJobsInState failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 processing jobs, got %d", len(got))
	}
	if got[0].ID != "job-1" || got[1].ID != "job-3" {
		t.Errorf("expected oldest first [job-1 job-3], got [%s %s]", got[0].ID, got[1].ID)
	}
}

func TestDeleteJob(t *testing.T) {
	s := NewMemoryStore()
	s.CreateJob(newTestJob("job-1", models.JobStatusCompleted, time.Now()))

	if err := s.DeleteJob("job-1"); err != nil {
		t.Fatalf("DeleteJob failed: %v", err)
	}
	if err := s.DeleteJob("job-1"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound on second delete, got %v", err)
	}
	if _, err := s.GetJob("job-1"); err != ErrJobNotFound {
		t.Errorf("expected ErrJobNotFound after delete, got %v", err)
	}
}

func TestGetJobReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	s.CreateJob(newTestJob("job-1", models.JobStatusPending, time.Now()))

	got, _ := s.GetJob("job-1")
	got.Status = models.JobStatusFailed

	fresh, _ := s.GetJob("job-1")
	if fresh.Status != models.JobStatusPending {
		t.Error("mutating a returned job must not affect the store")
	}
}
