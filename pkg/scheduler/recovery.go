package scheduler

import (
	"log"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// RecoverInFlight reconciles the store after a restart, before any
// worker starts pulling. Jobs left PROCESSING by a crashed process are
// requeued with their progress reset, and all PENDING jobs are put back
// on the dispatch queue. Returns the number of requeued jobs.
func RecoverInFlight(st store.Store, queue *Queue) (int, error) {
	stranded, err := st.GetJobsInState(models.JobStatusProcessing)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range stranded {
		progress := 0
		won, err := st.CompareAndSetState(job.ID, models.JobStatusProcessing, models.JobStatusPending, models.JobPatch{
			Progress: &progress,
			Reason:   "requeued after restart",
		})
		if err != nil {
			log.Printf("[Recovery] Failed to requeue job %s: %v", job.ID, err)
			continue
		}
		if !won {
			continue
		}
		recovered++
		log.Printf("[Recovery] Job %s was processing at shutdown, requeued", job.ID)
	}

	pending, err := st.GetJobsInState(models.JobStatusPending)
	if err != nil {
		return recovered, err
	}
	for _, job := range pending {
		if err := queue.Enqueue(job.ID, job.Priority); err != nil {
			return recovered, err
		}
	}

	if len(pending) > 0 {
		log.Printf("[Recovery] Enqueued %d pending jobs (%d recovered from processing)", len(pending), recovered)
	}
	return recovered, nil
}
