package shutdown

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Manager handles graceful shutdown. Components register in startup
// order and are stopped in reverse (LIFO), so the HTTP surface drains
// before the pool, and the pool before the store.
type Manager struct {
	shutdownFuncs []func(context.Context) error
	mu            sync.Mutex
	timeout       time.Duration
	doneChan      chan struct{}
	once          sync.Once
}

// New creates a new shutdown manager
func New(timeout time.Duration) *Manager {
	return &Manager{
		timeout:  timeout,
		doneChan: make(chan struct{}),
	}
}

// Register adds a shutdown function. Functions run in reverse
// registration order.
func (m *Manager) Register(fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownFuncs = append(m.shutdownFuncs, fn)
}

// Wait blocks until SIGTERM or SIGINT
func (m *Manager) Wait() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigChan
	log.Printf("[Shutdown] Received signal: %v", sig)

	m.once.Do(func() {
		close(m.doneChan)
	})
}

// Done returns a channel closed when shutdown begins
func (m *Manager) Done() <-chan struct{} {
	return m.doneChan
}

// Shutdown executes all registered shutdown functions LIFO under a
// shared deadline
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	for i := len(m.shutdownFuncs) - 1; i >= 0; i-- {
		if err := m.shutdownFuncs[i](ctx); err != nil {
			log.Printf("[Shutdown] Step %d failed: %v", i, err)
		}
	}
	log.Println("[Shutdown] Graceful shutdown complete")
}

// StopHTTPServer adapts an http.Server to a shutdown function
func StopHTTPServer(server interface{ Shutdown(context.Context) error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Printf("[Shutdown] Stopping %s server...", name)
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("stop %s server: %w", name, err)
		}
		return nil
	}
}

// CloseResource adapts an io.Closer to a shutdown function
func CloseResource(closer interface{ Close() error }, name string) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Printf("[Shutdown] Closing %s...", name)
		if err := closer.Close(); err != nil {
			return fmt.Errorf("close %s: %w", name, err)
		}
		return nil
	}
}

// StopComponent adapts a component with a blocking Stop to a shutdown
// function
func StopComponent(stop func(), name string) func(context.Context) error {
	return func(ctx context.Context) error {
		log.Printf("[Shutdown] Stopping %s...", name)
		done := make(chan struct{})
		go func() {
			stop()
			close(done)
		}()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("timeout stopping %s: %w", name, ctx.Err())
		}
	}
}
