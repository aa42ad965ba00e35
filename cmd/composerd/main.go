package main

import (
	"flag"
	"log"
	"net/http"
	"time"

	"github.com/vidcompose/vidcompose/pkg/api"
	"github.com/vidcompose/vidcompose/pkg/auth"
	"github.com/vidcompose/vidcompose/pkg/cleanup"
	"github.com/vidcompose/vidcompose/pkg/config"
	"github.com/vidcompose/vidcompose/pkg/files"
	"github.com/vidcompose/vidcompose/pkg/lifecycle"
	"github.com/vidcompose/vidcompose/pkg/logging"
	"github.com/vidcompose/vidcompose/pkg/metrics"
	"github.com/vidcompose/vidcompose/pkg/models"
	"github.com/vidcompose/vidcompose/pkg/ratelimit"
	"github.com/vidcompose/vidcompose/pkg/renderer"
	"github.com/vidcompose/vidcompose/pkg/retry"
	"github.com/vidcompose/vidcompose/pkg/scheduler"
	"github.com/vidcompose/vidcompose/pkg/shutdown"
	"github.com/vidcompose/vidcompose/pkg/store"
	"github.com/vidcompose/vidcompose/pkg/validate"
	"github.com/vidcompose/vidcompose/pkg/webhook"
	"github.com/vidcompose/vidcompose/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.NewFileLogger("composerd", logging.ParseLevel(cfg.Log.Level), cfg.Log.JSON)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()

	logger.Info("Starting vidcompose composition server", map[string]interface{}{
		"addr":  cfg.Server.Addr,
		"store": cfg.Store.Type,
	})

	st, err := store.NewStore(store.Config{
		Type: cfg.Store.Type,
		Path: cfg.Store.Path,
		DSN:  cfg.Store.DSN,
	})
	if err != nil {
		log.Fatalf("Failed to open store: %v", err)
	}

	keys := auth.NewKeyStore()
	if cfg.Paths.KeyFile != "" {
		if err := keys.LoadFile(cfg.Paths.KeyFile); err != nil {
			log.Fatalf("Failed to load API keys: %v", err)
		}
	} else {
		log.Println("[Auth] No key file configured, all requests will be rejected")
	}

	checker := files.NewDirChecker(cfg.Paths.UploadDir)
	limiter := ratelimit.NewLimiter(ratelimit.Config{
		Limit:  cfg.RateLimit.Limit,
		Window: cfg.RateLimit.Window,
	})
	burst := ratelimit.NewBurst(cfg.Server.BurstRPS, cfg.Server.BurstSize)

	sched := scheduler.New(st, scheduler.Config{
		MaxConcurrentJobs: cfg.Scheduler.MaxConcurrentJobs,
		JobTimeout:        cfg.Scheduler.JobTimeout,
		WatchdogInterval:  cfg.Scheduler.WatchdogInterval,
	})

	// Requeue work stranded by an unclean shutdown before any slot starts
	recovered, err := scheduler.RecoverInFlight(st, sched.Queue())
	if err != nil {
		log.Fatalf("Failed to recover in-flight jobs: %v", err)
	}
	if recovered > 0 {
		log.Printf("Recovered %d job(s) from previous run", recovered)
	}

	rend := renderer.NewFFmpegRenderer(cfg.Paths.FFmpeg, cfg.Paths.OutputDir, checker)
	pool := worker.New(st, sched.Queue(), rend, cfg.Scheduler.MaxConcurrentJobs, cfg.Scheduler.JobTimeout)

	dispatcher := webhook.New(st, webhook.Config{
		RequestTimeout: cfg.Webhook.RequestTimeout,
		Retry: retry.Config{
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
			Multiplier:     2.0,
			Jitter:         0.2,
		},
	})

	m := metrics.New(st, sched.Queue().Len)

	dispatcher.OnDelivery(func(attempts int, delivered bool) {
		m.WebhookAttempts.Add(float64(attempts))
		if !delivered {
			m.WebhookFailures.Inc()
		}
	})

	// Every path to a terminal state counts the outcome and triggers
	// webhook delivery
	onTerminal := func(jobID string) {
		if job, err := st.GetJob(jobID); err == nil {
			switch job.Status {
			case models.JobStatusCompleted:
				m.JobsCompleted.Inc()
				if job.StartedAt != nil && job.FinishedAt != nil {
					m.ObserveRender(job.FinishedAt.Sub(*job.StartedAt))
				}
			case models.JobStatusFailed:
				m.JobsFailed.Inc()
			case models.JobStatusCancelled:
				m.JobsCancelled.Inc()
			}
		}
		dispatcher.Notify(jobID)
	}
	pool.OnTerminal(onTerminal)
	sched.OnTerminal(onTerminal)

	controller := lifecycle.New(st, limiter, validate.NewValidator(checker), sched.Queue(), pool)
	controller.OnTerminal(onTerminal)

	cleaner := cleanup.New(cleanup.Config{
		Enabled:       cfg.Cleanup.Enabled,
		RetentionDays: cfg.Cleanup.RetentionDays,
		Interval:      cfg.Cleanup.Interval,
		BatchSize:     cleanup.DefaultConfig().BatchSize,
		OutputDir:     cfg.Paths.OutputDir,
	}, st)

	handler := api.NewHandler(controller, limiter, m, cfg.Paths.OutputDir)
	router := api.NewRouter(handler, keys, burst)
	srv := api.NewServer(cfg.Server.Addr, router)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", m.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	sd := shutdown.New(30 * time.Second)
	sd.Register(shutdown.CloseResource(st, "store"))
	sd.Register(shutdown.StopComponent(cleaner.Stop, "cleanup"))
	sd.Register(shutdown.StopComponent(dispatcher.Stop, "webhook dispatcher"))
	sd.Register(shutdown.StopComponent(pool.Stop, "worker pool"))
	sd.Register(shutdown.StopComponent(sched.Stop, "scheduler"))
	sd.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))
	sd.Register(shutdown.StopHTTPServer(srv, "API"))

	sched.Start()
	pool.Start()
	cleaner.Start()

	go func() {
		log.Printf("Metrics listening on %s", cfg.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Metrics server error: %v", err)
		}
	}()

	go func() {
		log.Printf("API listening on %s (slots=%d, timeout=%s)",
			cfg.Server.Addr, cfg.Scheduler.MaxConcurrentJobs, cfg.Scheduler.JobTimeout)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	sd.Wait()
	sd.Shutdown()
}
