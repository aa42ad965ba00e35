package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/store"
)

// Metrics exposes the orchestration counters and gauges.
// Job-state gauges are recomputed from the store on scrape rather than
// maintained incrementally, so they can never drift from the record of
// truth.
type Metrics struct {
	registry *prometheus.Registry

	JobsSubmitted   prometheus.Counter
	JobsCompleted   prometheus.Counter
	JobsFailed      prometheus.Counter
	JobsCancelled   prometheus.Counter
	RateLimited     prometheus.Counter
	WebhookAttempts prometheus.Counter
	WebhookFailures prometheus.Counter
	RenderDuration  prometheus.Histogram
	QueueDepth      prometheus.GaugeFunc
	jobsByState     *prometheus.GaugeVec
	store           store.Store
}

// New creates the metric set. queueLen feeds the queue depth gauge.
func New(st store.Store, queueLen func() int) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		store:    st,
		JobsSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_jobs_submitted_total",
			Help: "Jobs admitted through the submission path",
		}),
		JobsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_jobs_completed_total",
			Help: "Jobs that reached COMPLETED",
		}),
		JobsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_jobs_failed_total",
			Help: "Jobs that reached FAILED",
		}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_jobs_cancelled_total",
			Help: "Jobs cancelled by their owner",
		}),
		RateLimited: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_submissions_rate_limited_total",
			Help: "Submissions rejected by the rate limiter",
		}),
		WebhookAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_webhook_attempts_total",
			Help: "Webhook delivery attempts",
		}),
		WebhookFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "vidcompose_webhook_exhausted_total",
			Help: "Webhook deliveries that exhausted all attempts",
		}),
		RenderDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vidcompose_render_duration_seconds",
			Help:    "Wall-clock render duration",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		jobsByState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "vidcompose_jobs_by_state",
			Help: "Jobs currently in each state",
		}, []string{"state"}),
	}

	if queueLen != nil {
		m.QueueDepth = factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "vidcompose_queue_depth",
			Help: "Jobs waiting in the dispatch queue",
		}, func() float64 { return float64(queueLen()) })
	}

	return m
}

// ObserveRender records a finished render's duration
func (m *Metrics) ObserveRender(d time.Duration) {
	m.RenderDuration.Observe(d.Seconds())
}

// Handler serves the /metrics endpoint, refreshing state gauges first
func (m *Metrics) Handler() http.Handler {
	inner := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.refreshStateGauges()
		inner.ServeHTTP(w, r)
	})
}

func (m *Metrics) refreshStateGauges() {
	if m.store == nil {
		return
	}
	for _, state := range []models.JobStatus{
		models.JobStatusPending,
		models.JobStatusProcessing,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCancelled,
	} {
		jobs, err := m.store.GetJobsInState(state)
		if err != nil {
			continue
		}
		m.jobsByState.WithLabelValues(string(state)).Set(float64(len(jobs)))
	}
}
