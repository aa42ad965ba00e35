package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vidcompose/vidcompose/pkg/auth"
	"github.com/vidcompose/vidcompose/pkg/files"
	"github.com/vidcompose/vidcompose/pkg/lifecycle"
	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/ratelimit"
	"github.com/vidcompose/vidcompose/pkg/scheduler"
	"github.com/vidcompose/vidcompose/pkg/store"
	"github.com/vidcompose/vidcompose/pkg/validate"
)

type fixture struct {
	store   *store.MemoryStore
	queue   *scheduler.Queue
	checker *files.MemChecker
	keys    *auth.KeyStore
	key     string
	server  *httptest.Server
}

func newFixture(t *testing.T, limit int) *fixture {
	t.Helper()

	st := store.NewMemoryStore()
	queue := scheduler.NewQueue()
	checker := files.NewMemChecker()
	limiter := ratelimit.NewLimiter(ratelimit.Config{Limit: limit, Window: time.Hour})
	controller := lifecycle.New(st, limiter, validate.NewValidator(checker), queue, nil)

	keys := auth.NewKeyStore()
	key, err := auth.GenerateKey("acct-1")
	if err != nil {
		t.Fatalf("GenerateKey failed: %v", err)
	}
	if err := keys.Add(key); err != nil {
		t.Fatalf("Add key failed: %v", err)
	}

	handler := NewHandler(controller, limiter, nil, t.TempDir())
	server := httptest.NewServer(NewRouter(handler, keys, nil))
	t.Cleanup(server.Close)
	t.Cleanup(queue.Close)

	return &fixture{store: st, queue: queue, checker: checker, keys: keys, key: key, server: server}
}

func (f *fixture) do(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+f.key)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	return resp
}

func validSubmit(f *fixture) SubmitRequest {
	f.checker.Add("clip-1", "acct-1", "/tmp/clip-1.mp4")
	return SubmitRequest{
		Scenes: []models.Scene{{
			MediaType: models.MediaTypeVideo,
			SourceID:  "clip-1",
			Duration:  5,
		}},
		Video: models.VideoSettings{
			Resolution: "1280x720",
			FPS:        30,
			Format:     "mp4",
			Quality:    "high",
		},
	}
}

func decode(t *testing.T, resp *http.Response, v interface{}) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitAccepted(t *testing.T) {
	f := newFixture(t, 100)

	resp := f.do(t, http.MethodPost, "/compose", validSubmit(f))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if got := resp.Header.Get("X-RateLimit-Limit"); got != "100" {
		t.Errorf("X-RateLimit-Limit = %q, want 100", got)
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "99" {
		t.Errorf("X-RateLimit-Remaining = %q, want 99", got)
	}

	var job models.Job
	decode(t, resp, &job)
	if job.ID == "" {
		t.Fatal("job ID missing from response")
	}
	if job.Status != models.JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}

	stored, err := f.store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.Identity != "acct-1" {
		t.Errorf("identity = %q, want acct-1", stored.Identity)
	}
	if f.queue.Len() != 1 {
		t.Errorf("queue length = %d, want 1", f.queue.Len())
	}
}

func TestSubmitValidationFailure(t *testing.T) {
	f := newFixture(t, 100)

	req := validSubmit(f)
	req.Video.Resolution = "123x456"
	resp := f.do(t, http.MethodPost, "/compose", req)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", resp.StatusCode)
	}

	var body errorResponse
	decode(t, resp, &body)
	if body.Error != string(models.ErrCodeInvalidRequest) {
		t.Errorf("error code = %q, want invalid_request", body.Error)
	}
	if body.Field != "video.resolution" {
		t.Errorf("field = %q, want video.resolution", body.Field)
	}

	jobs, _ := f.store.ListJobs(store.ListFilter{})
	if len(jobs) != 0 {
		t.Errorf("rejected submission created %d job records", len(jobs))
	}
}

func TestSubmitRateLimited(t *testing.T) {
	f := newFixture(t, 2)

	req := validSubmit(f)
	for i := 0; i < 2; i++ {
		resp := f.do(t, http.MethodPost, "/compose", req)
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("request %d: status = %d, want 202", i, resp.StatusCode)
		}
	}

	resp := f.do(t, http.MethodPost, "/compose", req)
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Error("Retry-After header missing on 429")
	}
	if got := resp.Header.Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
	resp.Body.Close()

	jobs, _ := f.store.ListJobs(store.ListFilter{})
	if len(jobs) != 2 {
		t.Errorf("job count = %d, want 2 (rejected request must not create a record)", len(jobs))
	}
}

func TestGetJobScopedToIdentity(t *testing.T) {
	f := newFixture(t, 100)

	resp := f.do(t, http.MethodPost, "/compose", validSubmit(f))
	var job models.Job
	decode(t, resp, &job)

	resp = f.do(t, http.MethodGet, "/jobs/"+job.ID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	resp.Body.Close()

	// A different identity sees not-found, not forbidden
	otherKey, _ := auth.GenerateKey("acct-2")
	if err := f.keys.Add(otherKey); err != nil {
		t.Fatalf("Add key failed: %v", err)
	}
	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/jobs/"+job.ID, nil)
	req.Header.Set("Authorization", "Bearer "+otherKey)
	foreign, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer foreign.Body.Close()
	if foreign.StatusCode != http.StatusNotFound {
		t.Errorf("foreign identity status = %d, want 404", foreign.StatusCode)
	}
}

func TestGetJobNotFound(t *testing.T) {
	f := newFixture(t, 100)

	resp := f.do(t, http.MethodGet, "/jobs/no-such-job", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestListJobs(t *testing.T) {
	f := newFixture(t, 100)

	req := validSubmit(f)
	for i := 0; i < 3; i++ {
		resp := f.do(t, http.MethodPost, "/compose", req)
		resp.Body.Close()
	}

	resp := f.do(t, http.MethodGet, "/jobs?limit=2", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var body struct {
		Jobs  []models.Job `json:"jobs"`
		Count int          `json:"count"`
	}
	decode(t, resp, &body)
	if body.Count != 2 {
		t.Errorf("count = %d, want 2", body.Count)
	}
}

func TestCancelQueuedJob(t *testing.T) {
	f := newFixture(t, 100)

	resp := f.do(t, http.MethodPost, "/compose", validSubmit(f))
	var job models.Job
	decode(t, resp, &job)

	resp = f.do(t, http.MethodDelete, "/jobs/"+job.ID, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	stored, err := f.store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if stored.Status != models.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", stored.Status)
	}
}

func TestDownloadNotReady(t *testing.T) {
	f := newFixture(t, 100)

	resp := f.do(t, http.MethodPost, "/compose", validSubmit(f))
	var job models.Job
	decode(t, resp, &job)

	resp = f.do(t, http.MethodGet, fmt.Sprintf("/jobs/%s/download", job.ID), nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409 for a pending job", resp.StatusCode)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t, 100)

	req, _ := http.NewRequest(http.MethodGet, f.server.URL+"/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 without bearer token", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, f.server.URL+"/jobs", nil)
	req.Header.Set("Authorization", "Bearer acct-1.wrongsecret")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 with bad key", resp2.StatusCode)
	}
}

func TestHealthUnauthenticated(t *testing.T) {
	f := newFixture(t, 100)

	resp, err := http.Get(f.server.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" {
		t.Errorf("status = %q, want ok", body.Status)
	}
}

func TestBurstMiddleware(t *testing.T) {
	st := store.NewMemoryStore()
	queue := scheduler.NewQueue()
	defer queue.Close()
	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig())
	controller := lifecycle.New(st, limiter, validate.NewValidator(files.NewMemChecker()), queue, nil)

	keys := auth.NewKeyStore()
	handler := NewHandler(controller, limiter, nil, t.TempDir())
	server := httptest.NewServer(NewRouter(handler, keys, ratelimit.NewBurst(1, 2)))
	defer server.Close()

	var rejected int
	for i := 0; i < 10; i++ {
		resp, err := http.Get(server.URL + "/health")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusTooManyRequests {
			rejected++
		}
	}
	if rejected == 0 {
		t.Error("burst limiter never rejected in a 10-request flood")
	}
}
