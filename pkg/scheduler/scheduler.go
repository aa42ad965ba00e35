package scheduler

import (
	"log"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// Config holds scheduler configuration
type Config struct {
	MaxConcurrentJobs int           // Global render slot budget
	JobTimeout        time.Duration // Wall-clock limit per render
	WatchdogInterval  time.Duration // How often the timeout watchdog scans
}

// DefaultConfig returns the default scheduling limits
func DefaultConfig() Config {
	return Config{
		MaxConcurrentJobs: 5,
		JobTimeout:        time.Hour,
		WatchdogInterval:  15 * time.Second,
	}
}

// Scheduler owns the dispatch queue and the timeout watchdog.
// Workers pull from the queue; the watchdog independently reclaims
// jobs whose renders exceed JobTimeout, without relying on worker
// cooperation. Slot accounting lives in the worker pool; the CAS
// contract of the store guarantees that a watchdog reclaim and a
// worker's own terminal write can never both land.
type Scheduler struct {
	store  store.Store
	queue  *Queue
	config Config
	stopCh chan struct{}

	// notify is invoked after the watchdog wins a terminal write,
	// so webhook delivery fires exactly like a worker-side finish.
	notify func(jobID string)
}

// New creates a scheduler
func New(st store.Store, config Config) *Scheduler {
	if config.MaxConcurrentJobs <= 0 {
		config.MaxConcurrentJobs = DefaultConfig().MaxConcurrentJobs
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = DefaultConfig().JobTimeout
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = DefaultConfig().WatchdogInterval
	}
	return &Scheduler{
		store:  st,
		queue:  NewQueue(),
		config: config,
		stopCh: make(chan struct{}),
	}
}

// Queue exposes the dispatch queue to the worker pool and controller
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Config returns the effective configuration
func (s *Scheduler) Config() Config {
	return s.config
}

// OnTerminal registers the hook invoked when the watchdog forces a job
// terminal. Must be set before Start.
func (s *Scheduler) OnTerminal(fn func(jobID string)) {
	s.notify = fn
}

// Start begins the watchdog loop
func (s *Scheduler) Start() {
	log.Printf("[Scheduler] Started (slots: %d, job timeout: %v)", s.config.MaxConcurrentJobs, s.config.JobTimeout)
	go s.run()
}

// Stop stops the watchdog and closes the queue
func (s *Scheduler) Stop() {
	log.Println("[Scheduler] Stopping...")
	close(s.stopCh)
	s.queue.Close()
}

func (s *Scheduler) run() {
	ticker := time.NewTicker(s.config.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.reclaimTimedOut()
		case <-s.stopCh:
			log.Println("[Scheduler] Stopped")
			return
		}
	}
}

// reclaimTimedOut fails renders that exceeded the wall-clock budget.
// The CAS rejects this write if the worker finished in the meantime,
// and rejects the worker's write if the watchdog won.
func (s *Scheduler) reclaimTimedOut() {
	jobs, err := s.store.GetJobsInState(models.JobStatusProcessing)
	if err != nil {
		log.Printf("[Scheduler] Watchdog: failed to list processing jobs: %v", err)
		return
	}

	now := time.Now()
	for _, job := range jobs {
		if job.StartedAt == nil || now.Sub(*job.StartedAt) < s.config.JobTimeout {
			continue
		}

		finished := now
		won, err := s.store.CompareAndSetState(job.ID, models.JobStatusProcessing, models.JobStatusFailed, models.JobPatch{
			Error:      models.NewJobError(models.ErrCodeRenderTimeout, "render exceeded %v timeout", s.config.JobTimeout),
			FinishedAt: &finished,
			Reason:     "watchdog timeout",
		})
		if err != nil {
			log.Printf("[Scheduler] Watchdog: failed to reclaim job %s: %v", job.ID, err)
			continue
		}
		if !won {
			// Worker's own terminal write landed first
			continue
		}

		log.Printf("[Scheduler] Watchdog: job %s timed out after %v, marked failed", job.ID, now.Sub(*job.StartedAt))
		if s.notify != nil {
			s.notify(job.ID)
		}
	}
}
