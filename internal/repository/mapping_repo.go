package repository

import (
	"context"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// MappingRepository stores the username → destination association.
// Upsert keeps at most one row per username and never touches created_at
// or the cached secondary topic id.
type MappingRepository interface {
	Get(ctx context.Context, username string) (*domain.DestinationMapping, error)
	Upsert(ctx context.Context, username, destinationChannelID string, audienceTagID *string) (*domain.DestinationMapping, error)
	// SetSecondaryTopic writes (or clears, with nil) the cached topic id.
	SetSecondaryTopic(ctx context.Context, username string, topicID *string) error
	List(ctx context.Context) ([]*domain.DestinationMapping, error)
}
