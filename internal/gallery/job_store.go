package gallery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

// GenerationJob maps a provider request id to the gallery slot it fills.
type GenerationJob struct {
	ID         int64     `json:"id"`
	RequestID  string    `json:"requestId"`
	GalleryID  string    `json:"galleryId"`
	ImageIndex int       `json:"imageIndex"`
	Status     string    `json:"status"` // submitted, completed, failed
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
	Error      string    `json:"error,omitempty"`
}

const (
	JobSubmitted = "submitted"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

// JobLedger records async generation jobs so a later status poll can find
// the slot a result belongs to. GetJob returns nil, nil for unknown ids.
type JobLedger interface {
	AddJob(ctx context.Context, requestID, galleryID string, imageIndex int) (*GenerationJob, error)
	UpdateJobStatus(ctx context.Context, requestID, status, errorMsg string) error
	GetJob(ctx context.Context, requestID string) (*GenerationJob, error)
}

const jobSchema = `
CREATE TABLE IF NOT EXISTS generation_jobs (
	id          BIGSERIAL PRIMARY KEY,
	request_id  TEXT NOT NULL UNIQUE,
	gallery_id  TEXT NOT NULL,
	image_index INTEGER NOT NULL,
	status      TEXT NOT NULL,
	error       TEXT,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`

// JobStore is the Postgres-backed ledger.
type JobStore struct {
	db *sql.DB
}

// OpenJobStore connects to Postgres and makes sure the table exists.
func OpenJobStore(ctx context.Context, connStr string) (*JobStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	store := NewJobStore(db)
	if err := store.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewJobStore wraps an open database handle.
func NewJobStore(db *sql.DB) *JobStore {
	return &JobStore{db: db}
}

func (s *JobStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, jobSchema); err != nil {
		return fmt.Errorf("failed to create generation_jobs table: %w", err)
	}
	return nil
}

// AddJob records a submitted job. Re-submitting the same request id moves it
// to the new slot.
func (s *JobStore) AddJob(ctx context.Context, requestID, galleryID string, imageIndex int) (*GenerationJob, error) {
	now := time.Now().UTC()

	query := `
		INSERT INTO generation_jobs (request_id, gallery_id, image_index, status, created_at, updated_at)
		VALUES ($1, $2, $3, 'submitted', $4, $4)
		ON CONFLICT (request_id) DO UPDATE SET
			gallery_id = EXCLUDED.gallery_id,
			image_index = EXCLUDED.image_index,
			updated_at = EXCLUDED.updated_at
		RETURNING id, request_id, gallery_id, image_index, status, created_at, updated_at
	`

	var job GenerationJob
	err := s.db.QueryRowContext(ctx, query, requestID, galleryID, imageIndex, now).Scan(
		&job.ID,
		&job.RequestID,
		&job.GalleryID,
		&job.ImageIndex,
		&job.Status,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("add job %s: %w", requestID, err)
	}

	return &job, nil
}

// UpdateJobStatus updates the status of a job
func (s *JobStore) UpdateJobStatus(ctx context.Context, requestID, status, errorMsg string) error {
	query := `
		UPDATE generation_jobs
		SET status = $1, error = $2, updated_at = $3
		WHERE request_id = $4
	`

	_, err := s.db.ExecContext(ctx, query, status, errorMsg, time.Now().UTC(), requestID)
	if err != nil {
		return fmt.Errorf("update job %s: %w", requestID, err)
	}
	return nil
}

// GetJob retrieves a single job by request ID
func (s *JobStore) GetJob(ctx context.Context, requestID string) (*GenerationJob, error) {
	query := `
		SELECT id, request_id, gallery_id, image_index, status, created_at, updated_at, COALESCE(error, '')
		FROM generation_jobs
		WHERE request_id = $1
	`

	var job GenerationJob
	err := s.db.QueryRowContext(ctx, query, requestID).Scan(
		&job.ID,
		&job.RequestID,
		&job.GalleryID,
		&job.ImageIndex,
		&job.Status,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.Error,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", requestID, err)
	}

	return &job, nil
}

// DeleteJobsByGallery drops ledger rows of a swept gallery.
func (s *JobStore) DeleteJobsByGallery(ctx context.Context, galleryID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM generation_jobs WHERE gallery_id = $1`, galleryID)
	return err
}

func (s *JobStore) Close() error {
	return s.db.Close()
}

// MemoryJobStore is the ledger used when no database is configured. Jobs do
// not survive a restart.
type MemoryJobStore struct {
	mu     sync.RWMutex
	nextID int64
	jobs   map[string]GenerationJob
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{jobs: make(map[string]GenerationJob)}
}

func (s *MemoryJobStore) AddJob(_ context.Context, requestID, galleryID string, imageIndex int) (*GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job, ok := s.jobs[requestID]
	if !ok {
		s.nextID++
		job = GenerationJob{ID: s.nextID, RequestID: requestID, Status: JobSubmitted, CreatedAt: now}
	}
	job.GalleryID = galleryID
	job.ImageIndex = imageIndex
	job.UpdatedAt = now
	s.jobs[requestID] = job
	return &job, nil
}

func (s *MemoryJobStore) UpdateJobStatus(_ context.Context, requestID, status, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[requestID]
	if !ok {
		return nil
	}
	job.Status = status
	job.Error = errorMsg
	job.UpdatedAt = time.Now().UTC()
	s.jobs[requestID] = job
	return nil
}

func (s *MemoryJobStore) GetJob(_ context.Context, requestID string) (*GenerationJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[requestID]
	if !ok {
		return nil, nil
	}
	return &job, nil
}

func (s *MemoryJobStore) DeleteJobsByGallery(_ context.Context, galleryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, job := range s.jobs {
		if job.GalleryID == galleryID {
			delete(s.jobs, id)
		}
	}
	return nil
}
