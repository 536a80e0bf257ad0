package repository

import (
	"context"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// TopicRepository persists the secondary platform's forum topic directory so
// it survives restarts. Creators without a mapping rely on it alone.
type TopicRepository interface {
	List(ctx context.Context) ([]domain.Topic, error)
	Save(ctx context.Context, t domain.Topic) error
	Delete(ctx context.Context, threadID string) error
}
