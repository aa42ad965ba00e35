package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vidcompose/vidcompose/pkg/auth"
	"github.com/vidcompose/vidcompose/pkg/ratelimit"
)

// NewRouter assembles the HTTP surface: health unauthenticated, every
// job route behind bearer auth, burst limiting in front of everything.
func NewRouter(h *Handler, keys *auth.KeyStore, burst *ratelimit.Burst) *mux.Router {
	r := mux.NewRouter()
	r.Use(LoggingMiddleware)
	if burst != nil {
		r.Use(burst.Middleware(ratelimit.IPKeyFunc))
	}

	r.HandleFunc("/health", h.Health).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(AuthMiddleware(keys))
	h.RegisterRoutes(authed)

	return r
}

// NewServer wraps the router in an http.Server
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: handler,
	}
}
