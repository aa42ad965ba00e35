package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/renderer"
	"github.com/vidcompose/vidcompose/pkg/scheduler"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// Pool runs renders on a fixed number of slots pulled from the
// scheduler's queue. Each slot is one goroutine; the pool size is the
// global concurrency budget. A slot frees as soon as its job reaches a
// terminal state, even if an uncooperative render is still winding
// down, so a hung backend can never starve the cluster beyond one
// timeout period.
type Pool struct {
	store    store.Store
	queue    *scheduler.Queue
	renderer renderer.Renderer
	size     int
	timeout  time.Duration

	// notify fires after this pool wins a terminal write
	notify func(jobID string)

	mu      sync.Mutex
	cancels map[string]context.CancelCauseFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// errCancelled marks a user-requested cancellation of an in-flight render
var errCancelled = errors.New("cancelled by user")

// New creates a worker pool with the given slot count
func New(st store.Store, queue *scheduler.Queue, r renderer.Renderer, size int, timeout time.Duration) *Pool {
	if size <= 0 {
		size = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		store:    st,
		queue:    queue,
		renderer: r,
		size:     size,
		timeout:  timeout,
		cancels:  make(map[string]context.CancelCauseFunc),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnTerminal registers the hook invoked when a slot finishes a job.
// Must be set before Start.
func (p *Pool) OnTerminal(fn func(jobID string)) {
	p.notify = fn
}

// Start launches the slot goroutines
func (p *Pool) Start() {
	log.Printf("[Pool] Starting %d render slots", p.size)
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.runSlot(i)
	}
}

// Stop cancels in-flight renders and waits for all slots to exit.
// Jobs interrupted here are requeued by crash recovery on restart.
func (p *Pool) Stop() {
	log.Println("[Pool] Stopping...")
	p.cancel()
	p.wg.Wait()
	log.Println("[Pool] Stopped")
}

// Cancel requests cancellation of an in-flight render. Returns false
// when the job is not currently rendering on this pool.
func (p *Pool) Cancel(jobID string) bool {
	p.mu.Lock()
	cancel, ok := p.cancels[jobID]
	p.mu.Unlock()
	if ok {
		cancel(errCancelled)
	}
	return ok
}

func (p *Pool) runSlot(slot int) {
	defer p.wg.Done()

	for {
		item, err := p.queue.Dequeue(p.ctx)
		if err != nil {
			return
		}
		p.process(slot, item.JobID)
	}
}

func (p *Pool) process(slot int, jobID string) {
	// The cancel func is registered before the claim. Once the claim CAS
	// lands the job is PROCESSING, and a Cancel that lost the queued-state
	// race must always find a registered render to signal; registering
	// afterwards would leave a window where the cancellation is dropped.
	renderCtx, cancel := context.WithCancelCause(p.ctx)
	p.mu.Lock()
	p.cancels[jobID] = cancel
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.cancels, jobID)
		p.mu.Unlock()
		cancel(nil)
	}()

	started := time.Now()
	won, err := p.store.CompareAndSetState(jobID, models.JobStatusPending, models.JobStatusProcessing, models.JobPatch{
		StartedAt: &started,
		Reason:    fmt.Sprintf("dispatched to slot %d", slot),
	})
	if err != nil {
		log.Printf("[Pool] Slot %d: failed to claim job %s: %v", slot, jobID, err)
		return
	}
	if !won {
		// Cancelled or otherwise moved on while queued
		return
	}

	job, err := p.store.GetJob(jobID)
	if err != nil {
		log.Printf("[Pool] Slot %d: job %s vanished after claim: %v", slot, jobID, err)
		return
	}

	log.Printf("[Pool] Slot %d: rendering job %s (priority %s)", slot, jobID, job.Priority)

	if p.timeout > 0 {
		var cancelTimeout context.CancelFunc
		renderCtx, cancelTimeout = context.WithTimeout(renderCtx, p.timeout)
		defer cancelTimeout()
	}

	outputRef, renderErr := p.render(renderCtx, job)
	p.finish(slot, jobID, renderCtx, outputRef, renderErr)
}

// render runs the backend in its own goroutine so the slot can abandon
// it when the deadline fires. A panicking backend is converted to an
// error at the slot boundary, never propagated.
func (p *Pool) render(ctx context.Context, job *models.Job) (string, error) {
	type result struct {
		outputRef string
		err       error
	}
	resultCh := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- result{err: models.NewJobError(models.ErrCodeInternalError, "render panic: %v", r)}
			}
		}()

		outputRef, err := p.renderer.Render(ctx, job, func(percent int) {
			if err := p.store.UpdateProgress(job.ID, percent); err != nil {
				log.Printf("[Pool] Progress update for job %s failed: %v", job.ID, err)
			}
		})
		resultCh <- result{outputRef: outputRef, err: err}
	}()

	select {
	case res := <-resultCh:
		return res.outputRef, res.err
	case <-ctx.Done():
		// The render goroutine keeps running until the backend notices
		// the cancelled context; the slot moves on regardless.
		return "", ctx.Err()
	}
}

func (p *Pool) finish(slot int, jobID string, renderCtx context.Context, outputRef string, renderErr error) {
	finished := time.Now()

	var next models.JobStatus
	patch := models.JobPatch{FinishedAt: &finished}

	switch {
	case renderErr == nil:
		next = models.JobStatusCompleted
		full := 100
		patch.Progress = &full
		patch.OutputRef = &outputRef
		patch.Reason = "render finished"

	case isCause(renderCtx, errCancelled):
		next = models.JobStatusCancelled
		patch.Reason = "cancelled while rendering"

	case errors.Is(renderErr, context.DeadlineExceeded):
		next = models.JobStatusFailed
		patch.Error = models.NewJobError(models.ErrCodeRenderTimeout, "render exceeded %v timeout", p.timeout)
		patch.Reason = "render timeout"

	case errors.Is(renderErr, context.Canceled):
		// Pool shutdown; leave the job processing so restart recovery
		// requeues it.
		log.Printf("[Pool] Slot %d: job %s interrupted by shutdown", slot, jobID)
		return

	default:
		next = models.JobStatusFailed
		var jobErr *models.JobError
		if !errors.As(renderErr, &jobErr) {
			jobErr = models.NewJobError(models.ErrCodeInternalError, "%v", renderErr)
		}
		patch.Error = jobErr
		patch.Reason = "render failed"
	}

	won, err := p.store.CompareAndSetState(jobID, models.JobStatusProcessing, next, patch)
	if err != nil {
		log.Printf("[Pool] Slot %d: terminal write for job %s rejected: %v", slot, jobID, err)
		return
	}
	if !won {
		// The watchdog or a cancellation landed first
		log.Printf("[Pool] Slot %d: job %s already terminal, dropping %s write", slot, jobID, next)
		return
	}

	log.Printf("[Pool] Slot %d: job %s -> %s", slot, jobID, next)
	if p.notify != nil {
		p.notify(jobID)
	}
}

func isCause(ctx context.Context, target error) bool {
	return ctx.Err() != nil && errors.Is(context.Cause(ctx), target)
}
