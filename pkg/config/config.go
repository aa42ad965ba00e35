package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the composerd server configuration, assembled from the
// config file, environment (VIDCOMPOSE_ prefix), and defaults, in
// ascending precedence of file < env.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Store     StoreConfig     `mapstructure:"store"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Paths     PathsConfig     `mapstructure:"paths"`
	Cleanup   CleanupConfig   `mapstructure:"cleanup"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Addr        string  `mapstructure:"addr"`
	MetricsAddr string  `mapstructure:"metrics_addr"`
	BurstRPS    float64 `mapstructure:"burst_rps"`
	BurstSize   int     `mapstructure:"burst_size"`
}

type StoreConfig struct {
	Type string `mapstructure:"type"` // memory, sqlite, postgres
	Path string `mapstructure:"path"` // sqlite file
	DSN  string `mapstructure:"dsn"`  // postgres connection string
}

type SchedulerConfig struct {
	MaxConcurrentJobs int           `mapstructure:"max_concurrent_jobs"`
	JobTimeout        time.Duration `mapstructure:"job_timeout"`
	WatchdogInterval  time.Duration `mapstructure:"watchdog_interval"`
}

type RateLimitConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type WebhookConfig struct {
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

type PathsConfig struct {
	UploadDir string `mapstructure:"upload_dir"`
	OutputDir string `mapstructure:"output_dir"`
	KeyFile   string `mapstructure:"key_file"`
	FFmpeg    string `mapstructure:"ffmpeg"`
}

type CleanupConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	RetentionDays int           `mapstructure:"retention_days"`
	Interval      time.Duration `mapstructure:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	JSON  bool   `mapstructure:"json"`
}

// Load reads configuration. path may be empty, in which case only
// defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("VIDCOMPOSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.burst_rps", 10.0)
	v.SetDefault("server.burst_size", 20)

	v.SetDefault("store.type", "sqlite")
	v.SetDefault("store.path", "composer.db")

	v.SetDefault("scheduler.max_concurrent_jobs", 5)
	v.SetDefault("scheduler.job_timeout", time.Hour)
	v.SetDefault("scheduler.watchdog_interval", 15*time.Second)

	v.SetDefault("rate_limit.limit", 100)
	v.SetDefault("rate_limit.window", time.Hour)

	v.SetDefault("webhook.request_timeout", 30*time.Second)
	v.SetDefault("webhook.max_attempts", 5)
	v.SetDefault("webhook.initial_backoff", 2*time.Second)
	v.SetDefault("webhook.max_backoff", 60*time.Second)

	v.SetDefault("paths.upload_dir", "uploads")
	v.SetDefault("paths.output_dir", "outputs")
	v.SetDefault("paths.key_file", "")
	v.SetDefault("paths.ffmpeg", "ffmpeg")

	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.retention_days", 7)
	v.SetDefault("cleanup.interval", 24*time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.json", false)
}
