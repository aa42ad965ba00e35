package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

func TestQueuePriorityOrder(t *testing.T) {
	q := NewQueue()

	q.Enqueue("low-1", models.PriorityLow)
	q.Enqueue("normal-1", models.PriorityNormal)
	q.Enqueue("high-1", models.PriorityHigh)
	q.Enqueue("normal-2", models.PriorityNormal)

	want := []string{"high-1", "normal-1", "normal-2", "low-1"}
	for i, expected := range want {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Fatalf("Dequeue %d failed: %v", i, err)
		}
		if item.JobID != expected {
			t.Errorf("dequeue %d = %s, want %s", i, item.JobID, expected)
		}
	}
}

func TestQueueBlockingDequeue(t *testing.T) {
	q := NewQueue()

	done := make(chan Item, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		if err != nil {
			t.Errorf("Dequeue failed: %v", err)
			return
		}
		done <- item
	}()

	// Dequeue must block while the queue is empty
	select {
	case <-done:
		t.Fatal("Dequeue returned before anything was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	q.Enqueue("job-1", models.PriorityNormal)

	select {
	case item := <-done:
		if item.JobID != "job-1" {
			t.Errorf("got %s, want job-1", item.JobID)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not wake after enqueue")
	}
}

func TestQueueDequeueContextCancel(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(ctx)
		errCh <- err
	}()

	cancel()

	select {
	case err := <-errCh:
		if err != context.Canceled {
			t.Errorf("err = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after context cancel")
	}
}

func TestQueueNoDoubleDispatch(t *testing.T) {
	q := NewQueue()
	const jobs = 50
	const workers = 8

	for i := 0; i < jobs; i++ {
		q.Enqueue(string(rune('a'+i%26))+string(rune('0'+i/26)), models.PriorityNormal)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	seen := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Dequeue(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[item.JobID]++
				if len(seen) == jobs {
					cancel()
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Fatalf("dequeued %d distinct jobs, want %d", len(seen), jobs)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %s dispatched %d times", id, n)
		}
	}
}

func TestQueueRemove(t *testing.T) {
	q := NewQueue()
	q.Enqueue("job-1", models.PriorityNormal)
	q.Enqueue("job-2", models.PriorityNormal)

	if !q.Remove("job-1") {
		t.Error("Remove should find a queued job")
	}
	if q.Remove("job-1") {
		t.Error("Remove should fail for an already-removed job")
	}
	if q.Len() != 1 {
		t.Errorf("Len = %d, want 1", q.Len())
	}

	item, _ := q.Dequeue(context.Background())
	if item.JobID != "job-2" {
		t.Errorf("remaining job = %s, want job-2", item.JobID)
	}
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Enqueue("job-1", models.PriorityNormal)
	q.Close()

	// Remaining items drain first
	item, err := q.Dequeue(context.Background())
	if err != nil || item.JobID != "job-1" {
		t.Fatalf("expected drained item, got %v, %v", item, err)
	}

	if _, err := q.Dequeue(context.Background()); err != ErrQueueClosed {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
	if err := q.Enqueue("job-2", models.PriorityNormal); err != ErrQueueClosed {
		t.Errorf("Enqueue after close = %v, want ErrQueueClosed", err)
	}
}
