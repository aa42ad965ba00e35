package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/vidcompose/vidcompose/pkg/lifecycle"
	"github.com/vidcompose/vidcompose/pkg/metrics"
	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/ratelimit"
	"github.com/vidcompose/vidcompose/pkg/store"
	"github.com/vidcompose/vidcompose/pkg/validate"
)

// Handler serves the composition API
type Handler struct {
	controller *lifecycle.Controller
	limiter    *ratelimit.Limiter
	metrics    *metrics.Metrics
	outputDir  string
	startTime  time.Time
}

// NewHandler creates an API handler
func NewHandler(controller *lifecycle.Controller, limiter *ratelimit.Limiter, m *metrics.Metrics, outputDir string) *Handler {
	return &Handler{
		controller: controller,
		limiter:    limiter,
		metrics:    m,
		outputDir:  outputDir,
		startTime:  time.Now(),
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/compose", h.Submit).Methods("POST")
	r.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	r.HandleFunc("/jobs/{id}", h.CancelJob).Methods("DELETE")
	r.HandleFunc("/jobs/{id}/download", h.Download).Methods("GET")
}

// SubmitRequest is the POST /compose body
type SubmitRequest struct {
	Scenes     []models.Scene        `json:"scenes"`
	Audio      *models.AudioSettings `json:"audio,omitempty"`
	Video      models.VideoSettings  `json:"video"`
	Priority   models.JobPriority    `json:"priority,omitempty"`
	WebhookURL string                `json:"webhook_url,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// Submit handles POST /compose
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, string(models.ErrCodeInvalidRequest), "invalid JSON body", "")
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}

	job, err := h.controller.Submit(&models.CompositionRequest{
		Scenes:     req.Scenes,
		Audio:      req.Audio,
		Video:      req.Video,
		WebhookURL: req.WebhookURL,
	}, identity, priority, req.WebhookURL)

	// Window headers go out on every submission response
	h.writeRateHeaders(w, identity)

	if err != nil {
		var rerr *lifecycle.RateLimitedError
		var verr *validate.ValidationError
		switch {
		case errors.As(err, &rerr):
			if h.metrics != nil {
				h.metrics.RateLimited.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(rerr.Status.RetryAfter(time.Now())))
			writeError(w, http.StatusTooManyRequests, string(models.ErrCodeRateLimited), rerr.Error(), "")
		case errors.As(err, &verr):
			writeError(w, http.StatusUnprocessableEntity, string(models.ErrCodeInvalidRequest), verr.Message, verr.Field)
		default:
			log.Printf("[API] Submit failed: %v", err)
			writeError(w, http.StatusInternalServerError, string(models.ErrCodeInternalError), "submission failed", "")
		}
		return
	}

	if h.metrics != nil {
		h.metrics.JobsSubmitted.Inc()
	}
	writeJSON(w, http.StatusAccepted, job)
}

// GetJob handles GET /jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	jobID := mux.Vars(r)["id"]

	job, err := h.controller.GetStatus(jobID, identity)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	q := r.URL.Query()

	filter := store.ListFilter{
		Status:   models.JobStatus(q.Get("status")),
		Priority: models.JobPriority(q.Get("priority")),
		SortAsc:  q.Get("order") == "asc",
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Offset = n
		}
	}

	jobs, err := h.controller.List(identity, filter)
	if err != nil {
		log.Printf("[API] List failed: %v", err)
		writeError(w, http.StatusInternalServerError, string(models.ErrCodeInternalError), "listing failed", "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

// CancelJob handles DELETE /jobs/{id}. Cancellation of a terminal job
// is an idempotent success.
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	jobID := mux.Vars(r)["id"]

	if err := h.controller.Cancel(jobID, identity); err != nil {
		writeLifecycleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": jobID,
		"status": "cancellation requested",
	})
}

// Download handles GET /jobs/{id}/download, serving the output artifact
// of a completed job
func (h *Handler) Download(w http.ResponseWriter, r *http.Request) {
	identity := IdentityFrom(r.Context())
	jobID := mux.Vars(r)["id"]

	job, err := h.controller.GetStatus(jobID, identity)
	if err != nil {
		writeLifecycleError(w, err)
		return
	}
	if job.Status != models.JobStatusCompleted || job.OutputRef == "" {
		writeError(w, http.StatusConflict, "not_ready",
			fmt.Sprintf("job is %s, output available only for completed jobs", job.Status), "")
		return
	}

	path := filepath.Join(h.outputDir, filepath.Clean(job.OutputRef))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}

// Health handles GET /health with host-level stats
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	type healthResponse struct {
		Status        string  `json:"status"`
		UptimeSeconds int64   `json:"uptime_seconds"`
		HostUptime    uint64  `json:"host_uptime_seconds,omitempty"`
		Load1         float64 `json:"load1,omitempty"`
		MemUsedPct    float64 `json:"mem_used_percent,omitempty"`
	}

	resp := healthResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	}
	if up, err := host.Uptime(); err == nil {
		resp.HostUptime = up
	}
	if avg, err := load.Avg(); err == nil {
		resp.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPct = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) writeRateHeaders(w http.ResponseWriter, identity string) {
	status := h.limiter.Peek(identity)
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(status.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(status.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(status.Reset.Unix(), 10))
}

func writeLifecycleError(w http.ResponseWriter, err error) {
	var nf *lifecycle.NotFoundError
	if errors.As(err, &nf) {
		writeError(w, http.StatusNotFound, string(models.ErrCodeNotFound), err.Error(), "")
		return
	}
	log.Printf("[API] Request failed: %v", err)
	writeError(w, http.StatusInternalServerError, string(models.ErrCodeInternalError), "request failed", "")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message, field string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message, Field: field})
}
