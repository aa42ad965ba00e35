package lifecycle

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/ratelimit"
	"github.com/vidcompose/vidcompose/pkg/scheduler"
	"github.com/vidcompose/vidcompose/pkg/store"
	"github.com/vidcompose/vidcompose/pkg/validate"
)

// RateLimitedError carries the window state for a retry-after hint
type RateLimitedError struct {
	Status ratelimit.Status
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limit of %d requests exceeded, window resets at %s",
		e.Status.Limit, e.Status.Reset.Format(time.RFC3339))
}

// NotFoundError is returned when a job is absent or owned by a
// different identity. Ownership failures deliberately look identical
// to missing jobs so callers cannot probe foreign job IDs.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("job %s not found", e.JobID)
}

// Canceller aborts an in-flight render; implemented by the worker pool
type Canceller interface {
	Cancel(jobID string) bool
}

// Controller is the submission and lifecycle surface of the system.
// It owns admission (rate limit, validation), job creation, status
// queries, listing, and cancellation. All state writes go through the
// store's CAS contract.
type Controller struct {
	store     store.Store
	limiter   *ratelimit.Limiter
	validator *validate.Validator
	queue     *scheduler.Queue
	canceller Canceller

	// notify fires when Cancel makes a job terminal
	notify func(jobID string)
}

// New creates a lifecycle controller
func New(st store.Store, limiter *ratelimit.Limiter, validator *validate.Validator, queue *scheduler.Queue, canceller Canceller) *Controller {
	return &Controller{
		store:     st,
		limiter:   limiter,
		validator: validator,
		queue:     queue,
		canceller: canceller,
	}
}

// OnTerminal registers the hook invoked when a cancellation lands
func (c *Controller) OnTerminal(fn func(jobID string)) {
	c.notify = fn
}

// Submit admits a composition request. Admission runs the rate limiter
// before the validator; a rejected request consumes a rate-limit slot
// but never creates a job record.
func (c *Controller) Submit(request *models.CompositionRequest, identity string, priority models.JobPriority, webhookURL string) (*models.Job, error) {
	allowed, status := c.limiter.Allow(identity)
	if !allowed {
		return nil, &RateLimitedError{Status: status}
	}

	if verr := c.validator.Validate(request, identity); verr != nil {
		return nil, verr
	}

	if webhookURL == "" {
		webhookURL = request.WebhookURL
	}

	now := time.Now()
	job := &models.Job{
		ID:         uuid.New().String(),
		Identity:   identity,
		Request:    request,
		Priority:   priority,
		Status:     models.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
		WebhookURL: webhookURL,
	}

	if err := c.store.CreateJob(job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if err := c.queue.Enqueue(job.ID, job.Priority); err != nil {
		// The record exists but can't be scheduled; surface it rather
		// than leave the caller polling a job that will never run.
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	log.Printf("[Lifecycle] Job %s submitted (identity %s, priority %s, %d scenes)",
		job.ID, identity, job.Priority, len(request.Scenes))
	return job, nil
}

// GetStatus returns the job, scoped to the owning identity
func (c *Controller) GetStatus(jobID, identity string) (*models.Job, error) {
	job, err := c.store.GetJob(jobID)
	if err == store.ErrJobNotFound {
		return nil, &NotFoundError{JobID: jobID}
	}
	if err != nil {
		return nil, err
	}
	if job.Identity != identity {
		return nil, &NotFoundError{JobID: jobID}
	}
	return job, nil
}

// List returns the identity's jobs, newest first unless the filter
// requests otherwise
func (c *Controller) List(identity string, filter store.ListFilter) ([]*models.Job, error) {
	filter.Identity = identity
	return c.store.ListJobs(filter)
}

// Cancel stops a job. Queued jobs are removed from the queue and marked
// cancelled immediately; in-flight renders are signalled and marked
// cancelled when the worker acknowledges; terminal jobs are a no-op
// returning success.
func (c *Controller) Cancel(jobID, identity string) error {
	job, err := c.GetStatus(jobID, identity)
	if err != nil {
		return err
	}

	if models.IsTerminalState(job.Status) {
		return nil
	}

	if job.Status == models.JobStatusPending {
		c.queue.Remove(jobID)
		finished := time.Now()
		won, err := c.store.CompareAndSetState(jobID, models.JobStatusPending, models.JobStatusCancelled, models.JobPatch{
			FinishedAt: &finished,
			Reason:     "cancelled before dispatch",
		})
		if err != nil {
			return err
		}
		if won {
			log.Printf("[Lifecycle] Job %s cancelled while queued", jobID)
			if c.notify != nil {
				c.notify(jobID)
			}
			return nil
		}
		// A slot claimed the job between our read and the CAS; fall
		// through to the in-flight path.
	}

	if c.canceller != nil && c.canceller.Cancel(jobID) {
		log.Printf("[Lifecycle] Job %s cancellation signalled to worker", jobID)
		return nil
	}

	// No worker holds the job. Slots register their cancel signal before
	// claiming, so a missing registration means the job already reached a
	// terminal state; cancellation is an idempotent success.
	return nil
}

// Delete removes a job record. Non-terminal jobs are cancelled first;
// the record itself is only deleted once terminal, preserving the audit
// trail for in-flight work.
func (c *Controller) Delete(jobID, identity string) error {
	if err := c.Cancel(jobID, identity); err != nil {
		return err
	}

	job, err := c.GetStatus(jobID, identity)
	if err != nil {
		return err
	}
	if !models.IsTerminalState(job.Status) {
		// Cooperative cancellation hasn't landed yet; the caller can
		// retry once the worker acknowledges.
		return fmt.Errorf("job %s is still %s, retry once cancellation lands", jobID, job.Status)
	}

	if err := c.store.DeleteJob(jobID); err != nil && err != store.ErrJobNotFound {
		return err
	}
	log.Printf("[Lifecycle] Job %s deleted", jobID)
	return nil
}
