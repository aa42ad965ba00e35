package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/vidcompose/vidcompose/pkg/models"
)

// SQLiteStore is a SQLite-based implementation of the job store
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteStore creates a new SQLite store
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Configure SQLite connection string for concurrent access:
	// - _journal_mode=WAL: Write-Ahead Logging for better concurrency
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: acquire the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to avoid SQLITE_BUSY under contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		identity TEXT NOT NULL DEFAULT '',
		request TEXT,
		priority TEXT NOT NULL DEFAULT 'normal',
		status TEXT NOT NULL,
		progress INTEGER NOT NULL DEFAULT 0,
		output_ref TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		started_at DATETIME,
		finished_at DATETIME,
		webhook_url TEXT,
		webhook_status TEXT NOT NULL DEFAULT '',
		webhook_attempts INTEGER NOT NULL DEFAULT 0,
		state_transitions TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_identity_created ON jobs(identity, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

const jobColumns = `id, identity, request, priority, status, progress, output_ref, error,
	       created_at, updated_at, started_at, finished_at,
	       webhook_url, webhook_status, webhook_attempts, state_transitions`

// CreateJob adds a new job to the store
func (s *SQLiteStore) CreateJob(job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

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
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID, job.Identity, string(request), job.Priority, job.Status, job.Progress,
		job.OutputRef, nullableString(errJSON), job.CreatedAt, job.UpdatedAt,
		job.StartedAt, job.FinishedAt, job.WebhookURL, job.WebhookStatus,
		job.WebhookAttempts, string(transitions))

	return err
}

// GetJob retrieves a job by ID
func (s *SQLiteStore) GetJob(id string) (*models.Job, error) {
	row := s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, ErrJobNotFound
	}
	return job, err
}

// ListJobs returns jobs matching the filter, newest first by default
func (s *SQLiteStore) ListJobs(filter ListFilter) ([]*models.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}

	if filter.Identity != "" {
		query += " AND identity = ?"
		args = append(args, filter.Identity)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.Priority != "" {
		query += " AND priority = ?"
		args = append(args, string(filter.Priority))
	}

	if filter.SortAsc {
		query += " ORDER BY created_at ASC"
	} else {
		query += " ORDER BY created_at DESC"
	}
	if filter.Limit > 0 || filter.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET; -1 means unbounded
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// DeleteJob removes a job from the store
func (s *SQLiteStore) DeleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM jobs WHERE id = ?`, id)
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
// The whole read-validate-write sequence runs inside one transaction
// with the store mutex held, so of two racing writers exactly one
// observes the expected state and the other's write is rejected.
func (s *SQLiteStore) CompareAndSetState(jobID string, expected, next models.JobStatus, patch models.JobPatch) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var currentStatus string
	var transitionsJSON sql.NullString
	err = tx.QueryRow(`SELECT status, state_transitions FROM jobs WHERE id = ?`, jobID).
		Scan(&currentStatus, &transitionsJSON)
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

	query := `UPDATE jobs SET status = ?, updated_at = ?, state_transitions = ?`
	args := []interface{}{string(next), now, string(newTransitionsJSON)}

	if patch.Progress != nil {
		query += ", progress = ?"
		args = append(args, *patch.Progress)
	}
	if patch.OutputRef != nil {
		query += ", output_ref = ?"
		args = append(args, *patch.OutputRef)
	}
	if patch.Error != nil {
		errJSON, err := json.Marshal(patch.Error)
		if err != nil {
			return false, fmt.Errorf("marshal error: %w", err)
		}
		query += ", error = ?"
		args = append(args, string(errJSON))
	}
	if patch.StartedAt != nil {
		query += ", started_at = ?"
		args = append(args, *patch.StartedAt)
	}
	if patch.FinishedAt != nil {
		query += ", finished_at = ?"
		args = append(args, *patch.FinishedAt)
	}

	query += " WHERE id = ?"
	args = append(args, jobID)

	if _, err := tx.Exec(query, args...); err != nil {
		return false, fmt.Errorf("update job state: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}

	log.Printf("[Store] Job %s: %s -> %s (reason: %s)", jobID, expected, next, patch.Reason)
	return true, nil
}

// UpdateProgress records render progress for a processing job.
// The WHERE clause drops stale updates and updates against jobs that
// already left the processing state.
func (s *SQLiteStore) UpdateProgress(jobID string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	_, err := s.db.Exec(`
		UPDATE jobs SET progress = ?, updated_at = ?
		WHERE id = ? AND status = ? AND progress < ?
	`, progress, time.Now(), jobID, models.JobStatusProcessing, progress)

	return err
}

// SetWebhookStatus records delivery state and the attempt count
func (s *SQLiteStore) SetWebhookStatus(jobID string, status models.WebhookStatus, attempts int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`
		UPDATE jobs SET webhook_status = ?, webhook_attempts = ?, updated_at = ?
		WHERE id = ?
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
func (s *SQLiteStore) GetJobsInState(state models.JobStatus) ([]*models.Job, error) {
	rows, err := s.db.Query(`
		SELECT `+jobColumns+`
		FROM jobs WHERE status = ?
		ORDER BY created_at ASC
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(...interface{}) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var requestJSON, errJSON, transitionsJSON sql.NullString
	var outputRef, webhookURL sql.NullString
	var startedAt, finishedAt sql.NullTime

	err := row.Scan(&job.ID, &job.Identity, &requestJSON, &job.Priority, &job.Status,
		&job.Progress, &outputRef, &errJSON, &job.CreatedAt, &job.UpdatedAt,
		&startedAt, &finishedAt, &webhookURL, &job.WebhookStatus,
		&job.WebhookAttempts, &transitionsJSON)
	if err != nil {
		return nil, err
	}

	if requestJSON.Valid && requestJSON.String != "" && requestJSON.String != "null" {
		if err := json.Unmarshal([]byte(requestJSON.String), &job.Request); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request: %w", err)
		}
	}
	if errJSON.Valid && errJSON.String != "" && errJSON.String != "null" {
		if err := json.Unmarshal([]byte(errJSON.String), &job.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
	}
	if transitionsJSON.Valid && transitionsJSON.String != "" && transitionsJSON.String != "null" {
		if err := json.Unmarshal([]byte(transitionsJSON.String), &job.StateTransitions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal state_transitions: %w", err)
		}
	}

	job.OutputRef = outputRef.String
	job.WebhookURL = webhookURL.String
	if startedAt.Valid {
		job.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		job.FinishedAt = &finishedAt.Time
	}

	return &job, nil
}

func collectJobs(rows *sql.Rows) ([]*models.Job, error) {
	jobs := []*models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			log.Printf("[Store] Warning: failed to scan job row: %v", err)
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func nullableString(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
