package ratelimit

import (
	"sync"
	"time"
)

// Config holds fixed-window limiter configuration
type Config struct {
	Limit  int           // Maximum requests per window
	Window time.Duration // Window length
}

// DefaultConfig returns the default admission limit
func DefaultConfig() Config {
	return Config{
		Limit:  100,
		Window: time.Hour,
	}
}

// Status is a snapshot of one identity's window, used for response headers
type Status struct {
	Limit     int
	Remaining int
	Reset     time.Time // When the current window expires
}

// RetryAfter returns the seconds until the window resets, rounded up
// and never below 1.
func (s Status) RetryAfter(now time.Time) int {
	secs := int(s.Reset.Sub(now).Seconds()) + 1
	if secs < 1 {
		secs = 1
	}
	return secs
}

type window struct {
	count int
	start time.Time
}

// Limiter is a fixed-window rate limiter keyed by identity.
// Windows reset lazily on the next request after expiry, so idle
// identities cost nothing. Increments happen under the mutex, so two
// concurrent requests at the boundary can never both consume the last
// slot.
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window
	config  Config

	// now is replaceable for tests
	now func() time.Time
}

// NewLimiter creates a fixed-window limiter
func NewLimiter(config Config) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		config:  config,
		now:     time.Now,
	}
}

// Allow consumes one slot for the identity. Returns the decision and
// the window snapshot after the call, so callers can emit rate-limit
// headers for allowed and rejected requests alike.
func (l *Limiter) Allow(key string) (bool, Status) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.Window {
		w = &window{start: now}
		l.windows[key] = w
	}

	status := Status{
		Limit: l.config.Limit,
		Reset: w.start.Add(l.config.Window),
	}

	if w.count >= l.config.Limit {
		status.Remaining = 0
		return false, status
	}

	w.count++
	status.Remaining = l.config.Limit - w.count
	return true, status
}

// Peek returns the window snapshot without consuming a slot
func (l *Limiter) Peek(key string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || now.Sub(w.start) >= l.config.Window {
		return Status{
			Limit:     l.config.Limit,
			Remaining: l.config.Limit,
			Reset:     now.Add(l.config.Window),
		}
	}

	remaining := l.config.Limit - w.count
	if remaining < 0 {
		remaining = 0
	}
	return Status{
		Limit:     l.config.Limit,
		Remaining: remaining,
		Reset:     w.start.Add(l.config.Window),
	}
}

// Cleanup drops expired windows. Call periodically to bound memory when
// many distinct identities come and go.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.config.Window {
			delete(l.windows, key)
		}
	}
}
