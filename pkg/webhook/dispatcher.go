package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/retry"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// Config holds webhook delivery configuration
type Config struct {
	RequestTimeout time.Duration // Per-attempt HTTP timeout
	Retry          retry.Config  // Attempt count and backoff shape
}

// DefaultConfig returns the default delivery policy
func DefaultConfig() Config {
	return Config{
		RequestTimeout: 30 * time.Second,
		Retry: retry.Config{
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     60 * time.Second,
			Multiplier:     2.0,
			Jitter:         0.2,
		},
	}
}

// Payload is the notification body POSTed to the caller's webhook URL
type Payload struct {
	JobID      string           `json:"job_id"`
	Status     models.JobStatus `json:"status"`
	OutputRef  string           `json:"output_ref,omitempty"`
	Error      *models.JobError `json:"error,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Attempt    int              `json:"attempt"`
}

// Dispatcher delivers terminal-state notifications. Delivery is
// exactly-reported, not exactly-once: the job's webhook status records
// the outcome, and exhausted delivery never rolls the job back.
// Attempts for one job run sequentially; different jobs in parallel.
type Dispatcher struct {
	store  store.Store
	client *http.Client
	config Config

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	// onDelivery reports the outcome of each delivery run
	onDelivery func(attempts int, delivered bool)
}

// New creates a dispatcher
func New(st store.Store, config Config) *Dispatcher {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultConfig().RequestTimeout
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultConfig().Retry
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		store:  st,
		client: &http.Client{Timeout: config.RequestTimeout},
		config: config,
		ctx:    ctx,
		cancel: cancel,
	}
}

// OnDelivery registers a hook invoked once per delivery run with the
// attempt count and outcome. Set before Start-of-traffic.
func (d *Dispatcher) OnDelivery(fn func(attempts int, delivered bool)) {
	d.onDelivery = fn
}

// Notify starts delivery for a job that just reached a terminal state.
// No-op when the job has no webhook URL. Returns immediately; delivery
// runs in the background.
func (d *Dispatcher) Notify(jobID string) {
	job, err := d.store.GetJob(jobID)
	if err != nil {
		log.Printf("[Webhook] Job %s not found, skipping delivery: %v", jobID, err)
		return
	}
	if job.WebhookURL == "" {
		return
	}

	if err := d.store.SetWebhookStatus(jobID, models.WebhookStatusPending, 0); err != nil {
		log.Printf("[Webhook] Failed to mark delivery pending for job %s: %v", jobID, err)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.deliver(job)
	}()
}

// Stop cancels in-flight deliveries and waits for them to exit
func (d *Dispatcher) Stop() {
	d.cancel()
	d.wg.Wait()
}

func (d *Dispatcher) deliver(job *models.Job) {
	attempt := 0
	err := retry.Do(d.ctx, d.config.Retry, func() error {
		attempt++
		return d.post(job, attempt)
	})

	if d.onDelivery != nil {
		d.onDelivery(attempt, err == nil)
	}

	if err != nil {
		log.Printf("[Webhook] Job %s: delivery exhausted after %d attempts: %v", job.ID, attempt, err)
		if serr := d.store.SetWebhookStatus(job.ID, models.WebhookStatusFailed, attempt); serr != nil {
			log.Printf("[Webhook] Failed to record delivery failure for job %s: %v", job.ID, serr)
		}
		return
	}

	log.Printf("[Webhook] Job %s: delivered on attempt %d", job.ID, attempt)
	if serr := d.store.SetWebhookStatus(job.ID, models.WebhookStatusDelivered, attempt); serr != nil {
		log.Printf("[Webhook] Failed to record delivery for job %s: %v", job.ID, serr)
	}
}

// post sends one attempt. Any status outside 2xx counts as a failure.
func (d *Dispatcher) post(job *models.Job, attempt int) error {
	payload := Payload{
		JobID:      job.ID,
		Status:     job.Status,
		FinishedAt: job.FinishedAt,
		Attempt:    attempt,
	}
	if job.Status == models.JobStatusCompleted {
		payload.OutputRef = job.OutputRef
	} else {
		payload.Error = job.Error
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(d.ctx, http.MethodPost, job.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "vidcompose-webhook/1.0")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("attempt %d: %w", attempt, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("attempt %d: endpoint returned %d", attempt, resp.StatusCode)
	}
	return nil
}
