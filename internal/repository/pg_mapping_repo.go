package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/creator-relay/internal/domain"
)

type pgMappingRepository struct {
	pool *pgxpool.Pool
}

// NewPgMappingRepository returns a MappingRepository backed by PostgreSQL.
func NewPgMappingRepository(pool *pgxpool.Pool) MappingRepository {
	return &pgMappingRepository{pool: pool}
}

func (r *pgMappingRepository) Get(ctx context.Context, username string) (*domain.DestinationMapping, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT username, destination_channel_id, audience_tag_id, secondary_topic_id,
		       created_at, updated_at
		FROM destination_mappings WHERE username = $1`, username)

	m, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return m, err
}

func (r *pgMappingRepository) Upsert(ctx context.Context, username, destinationChannelID string, audienceTagID *string) (*domain.DestinationMapping, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO destination_mappings
			(username, destination_channel_id, audience_tag_id, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (username) DO UPDATE
		SET destination_channel_id = EXCLUDED.destination_channel_id,
		    audience_tag_id        = EXCLUDED.audience_tag_id,
		    updated_at             = NOW()
		RETURNING username, destination_channel_id, audience_tag_id, secondary_topic_id,
		          created_at, updated_at`,
		username, destinationChannelID, audienceTagID)

	m, err := scanMapping(row)
	if err != nil {
		return nil, fmt.Errorf("upsert mapping: %w", err)
	}
	return m, nil
}

func (r *pgMappingRepository) SetSecondaryTopic(ctx context.Context, username string, topicID *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE destination_mappings
		SET secondary_topic_id = $1, updated_at = NOW()
		WHERE username = $2`, topicID, username)
	if err != nil {
		return fmt.Errorf("set secondary topic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *pgMappingRepository) List(ctx context.Context) ([]*domain.DestinationMapping, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT username, destination_channel_id, audience_tag_id, secondary_topic_id,
		       created_at, updated_at
		FROM destination_mappings
		ORDER BY username ASC`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var result []*domain.DestinationMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func scanMapping(row pgx.Row) (*domain.DestinationMapping, error) {
	var m domain.DestinationMapping
	err := row.Scan(
		&m.Username, &m.DestinationChannelID, &m.AudienceTagID, &m.SecondaryTopicID,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}
