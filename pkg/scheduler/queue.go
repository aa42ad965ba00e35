package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

var ErrQueueClosed = errors.New("queue closed")

// Item is one queued dispatch entry. The queue carries references only;
// the job record itself lives in the store.
type Item struct {
	JobID      string
	Priority   models.JobPriority
	EnqueuedAt time.Time
}

// Queue is a priority job queue with blocking dequeue.
// Higher priorities always dequeue first; within a priority, FIFO.
// Enqueue, Dequeue and Remove are safe for concurrent use, and a job
// can never be handed to two callers: the pop happens under the mutex.
type Queue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[models.JobPriority][]Item
	closed  bool
}

// dequeue order, highest first
var priorityOrder = []models.JobPriority{
	models.PriorityHigh,
	models.PriorityNormal,
	models.PriorityLow,
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	q := &Queue{
		buckets: make(map[models.JobPriority][]Item),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue adds a job to its priority bucket and wakes one waiter
func (q *Queue) Enqueue(jobID string, priority models.JobPriority) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if priority != models.PriorityHigh && priority != models.PriorityLow {
		priority = models.PriorityNormal
	}
	q.buckets[priority] = append(q.buckets[priority], Item{
		JobID:      jobID,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	})
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a job is available, the context is cancelled, or
// the queue is closed. This is the worker pool's only long-blocking point.
func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	// Wake blocked waiters when the context is cancelled
	stop := context.AfterFunc(ctx, func() {
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if item, ok := q.popLocked(); ok {
			return item, nil
		}
		if q.closed {
			return Item{}, ErrQueueClosed
		}
		if err := ctx.Err(); err != nil {
			return Item{}, err
		}
		q.cond.Wait()
	}
}

func (q *Queue) popLocked() (Item, bool) {
	for _, p := range priorityOrder {
		bucket := q.buckets[p]
		if len(bucket) == 0 {
			continue
		}
		item := bucket[0]
		q.buckets[p] = bucket[1:]
		return item, true
	}
	return Item{}, false
}

// Remove drops a queued job, returning whether it was found.
// Used for cancellation of jobs that have not been dispatched yet.
func (q *Queue) Remove(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p, bucket := range q.buckets {
		for i, item := range bucket {
			if item.JobID == jobID {
				q.buckets[p] = append(bucket[:i:i], bucket[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Len returns the number of queued jobs across all priorities
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, bucket := range q.buckets {
		n += len(bucket)
	}
	return n
}

// Close wakes all waiters; subsequent enqueues fail and dequeues drain
// remaining items before returning ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}
