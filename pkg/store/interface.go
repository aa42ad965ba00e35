package store

import (
	"errors"
	"time"

	"github.com/vidcompose/vidcompose/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// ListFilter narrows and pages a job listing. Zero values mean "no filter".
// Ordering is by creation time, newest first unless SortAsc is set.
type ListFilter struct {
	Identity string
	Status   models.JobStatus
	Priority models.JobPriority
	Limit    int
	Offset   int
	SortAsc  bool
}

// Store defines the interface for job persistence.
// It is the single serialization point for concurrent writers: all state
// transitions go through CompareAndSetState, which rejects the losing write
// when two writers race to a terminal state.
type Store interface {
	CreateJob(job *models.Job) error
	GetJob(id string) (*models.Job, error)
	ListJobs(filter ListFilter) ([]*models.Job, error)
	DeleteJob(id string) error

	// CompareAndSetState atomically moves a job from expected to next,
	// applying the patch and appending a transition audit entry.
	// Returns false (no error) when the job is no longer in the expected
	// state; returns an error when the transition itself is not a
	// permitted FSM edge.
	CompareAndSetState(jobID string, expected, next models.JobStatus, patch models.JobPatch) (bool, error)

	// UpdateProgress records render progress. Non-monotonic updates and
	// updates against jobs that are not processing are dropped silently.
	UpdateProgress(jobID string, progress int) error

	// SetWebhookStatus records delivery state and the attempt count
	SetWebhookStatus(jobID string, status models.WebhookStatus, attempts int) error

	GetJobsInState(state models.JobStatus) ([]*models.Job, error)

	Close() error
}

// Config holds database configuration
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // Connection string (postgres)
	Path string // Database file path (sqlite)

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "postgres", "postgresql":
		return NewPostgresStore(config)
	case "sqlite":
		path := config.Path
		if path == "" {
			path = "composer.db"
		}
		return NewSQLiteStore(path)
	case "memory", "":
		return NewMemoryStore(), nil
	default:
		return nil, ErrUnsupportedDatabase
	}
}
