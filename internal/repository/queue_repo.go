package repository

import (
	"context"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// QueueRepository is the durable job queue.
// Enqueue, IncrementAttempts, MarkDone and MarkFailed are the only writes;
// jobs are never deleted.
// The pgx implementation is in pg_queue_repo.go.
// Tests use a hand-written mock (mock_queue_repo.go).
type QueueRepository interface {
	Enqueue(ctx context.Context, payload domain.JobPayload) (*domain.QueueJob, error)
	GetPending(ctx context.Context, limit int) ([]*domain.QueueJob, error)
	// IncrementAttempts bumps the attempt counter and returns its new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkDone(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error

	GetByID(ctx context.Context, id string) (*domain.QueueJob, error)
	List(ctx context.Context, filter domain.JobFilter) ([]*domain.QueueJob, error)
}
