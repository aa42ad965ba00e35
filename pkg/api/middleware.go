package api

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/vidcompose/vidcompose/pkg/auth"
	"github.com/vidcompose/vidcompose/pkg/models"
)

type contextKey string

const identityKey contextKey = "identity"

// IdentityFrom returns the authenticated identity stored by AuthMiddleware
func IdentityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey).(string)
	return identity
}

// WithIdentity injects an identity into the context; used by tests that
// bypass the auth middleware.
func WithIdentity(ctx context.Context, identity string) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// AuthMiddleware resolves the bearer token to an identity and stores it
// in the request context. Requests without a valid key get 401.
func AuthMiddleware(keys *auth.KeyStore) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.ParseBearer(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, string(models.ErrCodeForbidden), "missing bearer token", "")
				return
			}
			identity, err := keys.Authenticate(token)
			if err != nil {
				writeError(w, http.StatusUnauthorized, string(models.ErrCodeForbidden), "invalid API key", "")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// LoggingMiddleware logs method, path, status and duration for each request
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Printf("[API] %s %s -> %d (%v)", r.Method, r.URL.Path, rec.status, time.Since(start).Round(time.Millisecond))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
