package ratelimit

import (
	"net/http"
	"sync"

	"golang.org/x/time/rate"
)

// Burst is a short-horizon token-bucket limiter applied in front of the
// admission window to absorb request floods. It is keyed the same way
// as the window limiter but operates per second rather than per hour.
type Burst struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

// NewBurst creates a burst limiter.
// rps: sustained requests per second, burst: bucket size.
func NewBurst(rps float64, burst int) *Burst {
	return &Burst{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (b *Burst) limiter(key string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	l, ok := b.limiters[key]
	if !ok {
		l = rate.NewLimiter(b.rps, b.burst)
		b.limiters[key] = l
	}
	return l
}

// Allow checks if a request should be allowed
func (b *Burst) Allow(key string) bool {
	return b.limiter(key).Allow()
}

// Middleware rejects flooding clients with 429 before they reach the
// admission path
func (b *Burst) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !b.Allow(keyFunc(r)) {
				http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc extracts the client IP from the request as the limit key
func IPKeyFunc(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	return r.RemoteAddr
}
