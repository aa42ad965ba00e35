package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
	"github.com/vidcompose/vidcompose/pkg/models"
)

// PostgresStore is a PostgreSQL-based implementation of the job store.
// Unlike SQLite it supports concurrent writers, so CompareAndSetState
// relies on row locks instead of a store-level mutex.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store
func NewPostgresStore(config Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	maxOpen := config.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := config.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	lifetime := config.ConnMaxLifetime
	if lifetime == 0 {
		lifetime = 30 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL DEFAULT '',
		request JSONB,
		priority TEXT NOT NULL DEFAULT 'normal',
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		output_ref TEXT,
		error JSONB,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		started_at TIMESTAMPTZ,
		finished_at TIMESTAMPTZ,
		webhook_url TEXT,
		webhook_status TEXT NOT NULL DEFAULT '',
		webhook_attempts INTEGER NOT NULL DEFAULT 0,
		state_transitions JSONB
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_identity_created ON jobs(identity, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// CreateJob adds a new job to the store
func (s *PostgresStore) CreateJob(job *models.Job) error {
	if job.Status == "" {
		job.Status = models.JobStatusPending
	}
	if job.Priority == "" {
		job.Priority = models.PriorityNormal
	}

	request, err := json.Marshal(job.Request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	transitions, err := json.Marshal(job.StateTransitions)
	if err != nil {
		return fmt.Errorf("failed to marshal state_transitions: %w", err)
	}
	var errJSON []byte
	if job.Error != nil {
		errJSON, err = json.Marshal(job.Error)
		if err != nil {
			return fmt.Errorf("failed to marshal error: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO jobs
		(id, identity, request, priority, status, progress, output_ref, error,
		 created_at, updated_at, started_at, finished_at,
		 webhook_url, webhook_status, webhook_attempts, state_transitions)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`, job.ID, job.Identity, string(request), job.Priority, job.Status, job.Progress,
		job.OutputRef, nullableString(errJSON), job.CreatedAt, job.UpdatedAt,
		job.StartedAt, job.FinishedAt, job.WebhookURL, job.WebhookStatus,
		job.WebhookAttempts, string(transitions))

	return err
}

// GetJob retrieves a job by ID
func (s *PostgresStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns jobs matching the filter, newest first by default
func (s *PostgresStore) ListJobs(filter ListFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Identity != "" {
		args = append(args, filter.Identity)
		query += fmt.Sprintf(" AND identity = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Priority != "" {
		args = append(args, string(filter.Priority))
		query += fmt.Sprintf(" AND priority = $%d", len(args))
	}

	if filter.SortAsc {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJob removes a job from the store
func (s *PostgresStore) DeleteJob(id string) error {
	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// CompareAndSetState atomically transitions a job between states.
// SELECT FOR UPDATE holds the row lock for the read-validate-write
// sequence, so of two racing writers exactly one observes the expected
// state and the other's write is rejected.
func (s *PostgresStore) CompareAndSetState(jobID string, expected, next models.JobStatus, patch models.JobPatch) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentStatus string
	var transitionsJSON sql.NullString
	err = tx.QueryRow(`
		SELECT status, state_transitions FROM jobs WHERE id = $1 FOR UPDATE
	`, jobID).Scan(&currentStatus, &transitionsJSON)
	if err == sql.ErrNoRows {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, fmt.Errorf("get job state: %w", err)
	}

	if models.JobStatus(currentStatus) != expected {
		return false, nil
	}

	if err := models.ValidateTransition(expected, next); err != nil {
		return false, fmt.Errorf("invalid transition: %w", err)
	}

	var transitions []models.StateTransition
	if transitionsJSON.Valid && transitionsJSON.String != "" && transitionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(transitionsJSON.String), &transitions); err != nil {
			log.Printf("[Store] Warning: failed to parse transitions for job %s: %v", jobID, err)
			transitions = []models.StateTransition{}
		}
	}

	now := time.Now()
	transitions = append(transitions, models.StateTransition{
		From:      expected,
		To:        next,
		Timestamp: now,
		Reason:    patch.Reason,
	})
	newTransitionsJSON, err := json.Marshal(transitions)
	if err != nil {
		return false, fmt.Errorf("marshal transitions: %w", err)
	}

	query := `UPDATE jobs SET status = $1, updated_at = $2, state_transitions = $3`
	args := []interface{}{string(next), now, string(newTransitionsJSON)}

	if patch.Progress != nil {
		args = append(args, *patch.Progress)
		query += fmt.Sprintf(", progress = $%d", len(args))
	}
	if patch.OutputRef != nil {
		args = append(args, *patch.OutputRef)
		query += fmt.Sprintf(", output_ref = $%d", len(args))
	}
	if patch.Error != nil {
		errJSON, err := json.Marshal(patch.Error)
		if err != nil {
			return false, fmt.Errorf("marshal error: %w", err)
		}
		args = append(args, string(errJSON))
		query += fmt.Sprintf(", error = $%d", len(args))
	}
	if patch.StartedAt != nil {
		args = append(args, *patch.StartedAt)
		query += fmt.Sprintf(", started_at = $%d", len(args))
	}
	if patch.FinishedAt != nil {
		args = append(args, *patch.FinishedAt)
		query += fmt.Sprintf(", finished_at = $%d", len(args))
	}

	args = append(args, jobID)
	query += fmt.Sprintf(" WHERE id = $%d", len(args))

	if _, err := tx.Exec(query, args...); err != nil {
		return false, fmt.Errorf("update job state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	log.Printf("[Store] Job %s: %s -> %s (reason: %s)", jobID, expected, next, patch.Reason)
	return true, nil
}

// UpdateProgress records render progress for a processing job
func (s *PostgresStore) UpdateProgress(jobID string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	_, err := s.db.Exec(`
		UPDATE jobs SET progress = $1, updated_at = $2
		WHERE id = $3 AND status = $4 AND progress < $1
	`, progress, time.Now(), jobID, models.JobStatusProcessing)

	return err
}

// SetWebhookStatus records delivery state and the attempt count
func (s *PostgresStore) SetWebhookStatus(jobID string, status models.WebhookStatus, attempts int) error {
	result, err := s.db.Exec(`
		UPDATE jobs SET webhook_status = $1, webhook_attempts = $2, updated_at = $3
		WHERE id = $4
	`, string(status), attempts, time.Now(), jobID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

// GetJobsInState returns all jobs in a specific state, oldest first
func (s *PostgresStore) GetJobsInState(state models.JobStatus) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM jobs WHERE status = $1
		ORDER BY created_at ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ensure all implementations satisfy the interface
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*PostgresStore)(nil)
)
