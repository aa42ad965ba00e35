package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

// MemoryStore is an in-memory implementation of the job store.
// Suitable for tests and single-process deployments without persistence.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*models.Job),
	}
}

// CreateJob adds a new job to the store
func (s *MemoryStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Priority == "" {
		job.Priority = models.PriorityNormal
	}

	s.jobs[job.ID] = copyJob(job)
	return nil
}

// GetJob retrieves a job by ID
func (s *MemoryStore) GetJob(id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return copyJob(job), nil
}

// ListJobs returns jobs matching the filter, newest first by default
func (s *MemoryStore) ListJobs(filter ListFilter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var jobs []*models.Job
	for _, job := range s.jobs {
		if !matchesFilter(job, filter) {
			continue
		}
		jobs = append(jobs, copyJob(job))
	}

	sort.Slice(jobs, func(i, j int) bool {
		if filter.SortAsc {
			return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
		}
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return pageJobs(jobs, filter.Offset, filter.Limit), nil
}

// DeleteJob removes a job from the store
func (s *MemoryStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(s.jobs, id)
	return nil
}

// CompareAndSetState atomically transitions a job between states.
// The mutex makes the read-validate-write sequence a single atomic step,
// so of two racing writers exactly one observes the expected state.
func (s *MemoryStore) CompareAndSetState(jobID string, expected, next models.JobStatus, patch models.JobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return false, ErrJobNotFound
	}

	if job.Status != expected {
		return false, nil
	}

	if err := models.ValidateTransition(expected, next); err != nil {
		return false, err
	}

	now := time.Now()
	applyPatch(job, patch, now)

	job.StateTransitions = append(job.StateTransitions, models.StateTransition{
		From:      expected,
		To:        next,
		Timestamp: now,
		Reason:    patch.Reason,
	})
	job.Status = next
	job.UpdatedAt = now

	return true, nil
}

// UpdateProgress records render progress for a processing job.
// Stale (non-monotonic) updates and updates against jobs that already
// left the processing state are dropped without error.
func (s *MemoryStore) UpdateProgress(jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	if job.Status != models.JobStatusProcessing {
		return nil
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress <= job.Progress {
		return nil
	}

	job.Progress = progress
	job.UpdatedAt = time.Now()
	return nil
}

// SetWebhookStatus records delivery state and the attempt count
func (s *MemoryStore) SetWebhookStatus(jobID string, status models.WebhookStatus, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}

	job.WebhookStatus = status
	job.WebhookAttempts = attempts
	job.UpdatedAt = time.Now()
	return nil
}

// GetJobsInState returns all jobs in a specific state, oldest first
func (s *MemoryStore) GetJobsInState(state models.JobStatus) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := []*models.Job{}
	for _, job := range s.jobs {
		if job.Status == state {
			jobs = append(jobs, copyJob(job))
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

func matchesFilter(job *models.Job, filter ListFilter) bool {
	if filter.Identity != "" && job.Identity != filter.Identity {
		return false
	}
	if filter.Status != "" && job.Status != filter.Status {
		return false
	}
	if filter.Priority != "" && job.Priority != filter.Priority {
		return false
	}
	return true
}

func pageJobs(jobs []*models.Job, offset, limit int) []*models.Job {
	if offset > 0 {
		if offset >= len(jobs) {
			return []*models.Job{}
		}
		jobs = jobs[offset:]
	}
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs
}

func applyPatch(job *models.Job, patch models.JobPatch, now time.Time) {
	if patch.Progress != nil {
		job.Progress = *patch.Progress
	}
	if patch.OutputRef != nil {
		job.OutputRef = *patch.OutputRef
	}
	if patch.Error != nil {
		job.Error = patch.Error
	}
	if patch.StartedAt != nil {
		job.StartedAt = patch.StartedAt
	}
	if patch.FinishedAt != nil {
		job.FinishedAt = patch.FinishedAt
	}
	job.UpdatedAt = now
}

// copyJob returns a shallow copy with its own transitions slice, so
// callers never share mutable state with the store's internal map.
func copyJob(job *models.Job) *models.Job {
	c := *job
	if len(job.StateTransitions) > 0 {
		c.StateTransitions = make([]models.StateTransition, len(job.StateTransitions))
		copy(c.StateTransitions, job.StateTransitions)
	}
	return &c
}
