package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/notifyhub/creator-relay/internal/domain"
)

type pgTopicRepository struct {
	pool *pgxpool.Pool
}

// NewPgTopicRepository returns a TopicRepository backed by PostgreSQL.
func NewPgTopicRepository(pool *pgxpool.Pool) TopicRepository {
	return &pgTopicRepository{pool: pool}
}

func (r *pgTopicRepository) List(ctx context.Context) ([]domain.Topic, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT thread_id, title
		FROM forum_topics
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	var result []domain.Topic
	for rows.Next() {
		var t domain.Topic
		if err := rows.Scan(&t.ID, &t.Title); err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// Save inserts the topic or renames an existing thread.
func (r *pgTopicRepository) Save(ctx context.Context, t domain.Topic) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO forum_topics (thread_id, title, created_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (thread_id) DO UPDATE
		SET title = EXCLUDED.title`, t.ID, t.Title)
	if err != nil {
		return fmt.Errorf("save topic %s: %w", t.ID, err)
	}
	return nil
}

func (r *pgTopicRepository) Delete(ctx context.Context, threadID string) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM forum_topics WHERE thread_id = $1`, threadID); err != nil {
		return fmt.Errorf("delete topic %s: %w", threadID, err)
	}
	return nil
}
