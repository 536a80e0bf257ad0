package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/creator-relay/internal/domain"
)

type pgQueueRepository struct {
	pool *pgxpool.Pool
}

// NewPgQueueRepository returns a QueueRepository backed by PostgreSQL.
func NewPgQueueRepository(pool *pgxpool.Pool) QueueRepository {
	return &pgQueueRepository{pool: pool}
}

func (r *pgQueueRepository) Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.QueueJob, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	now := time.Now().UTC()
	job := &domain.QueueJob{
		ID:        uuid.New().String(),
		Payload:   raw,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO queue_jobs (id, payload, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, 0, $4, $5)`,
		job.ID, raw, job.Status, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return job, nil
}

func (r *pgQueueRepository) GetPending(ctx context.Context, limit int) ([]*domain.QueueJob, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, payload, status, attempts, created_at, updated_at
		FROM queue_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("get pending jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

func (r *pgQueueRepository) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
		UPDATE queue_jobs
		SET attempts = attempts + 1, updated_at = NOW()
		WHERE id = $1
		RETURNING attempts`, id).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *pgQueueRepository) MarkDone(ctx context.Context, id string) error {
	return r.setTerminal(ctx, id, domain.JobDone)
}

func (r *pgQueueRepository) MarkFailed(ctx context.Context, id string) error {
	return r.setTerminal(ctx, id, domain.JobFailed)
}

// setTerminal only moves pending rows so an externally resolved job is left alone.
func (r *pgQueueRepository) setTerminal(ctx context.Context, id string, status domain.JobStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE queue_jobs
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'pending'`, status, id)
	if err != nil {
		return fmt.Errorf("mark job %s: %w", status, err)
	}
	return nil
}

func (r *pgQueueRepository) GetByID(ctx context.Context, id string) (*domain.QueueJob, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, payload, status, attempts, created_at, updated_at
		FROM queue_jobs WHERE id = $1`, id)

	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return j, err
}

func (r *pgQueueRepository) List(ctx context.Context, f domain.JobFilter) ([]*domain.QueueJob, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if f.Status != nil {
		rows, err = r.pool.Query(ctx, `
			SELECT id, payload, status, attempts, created_at, updated_at
			FROM queue_jobs
			WHERE status = $1
			ORDER BY created_at DESC
			LIMIT $2`, *f.Status, f.Limit)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT id, payload, status, attempts, created_at, updated_at
			FROM queue_jobs
			ORDER BY created_at DESC
			LIMIT $1`, f.Limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	return scanJobs(rows)
}

// ---- helpers ----

func scanJob(row pgx.Row) (*domain.QueueJob, error) {
	var j domain.QueueJob
	var payload []byte
	if err := row.Scan(&j.ID, &payload, &j.Status, &j.Attempts, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Payload = payload
	return &j, nil
}

func scanJobs(rows pgx.Rows) ([]*domain.QueueJob, error) {
	var result []*domain.QueueJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, j)
	}
	return result, rows.Err()
}
