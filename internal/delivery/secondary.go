package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/repository"
)

const (
	topicPageSize           = 100
	secondaryMaxUploadBytes = 50 << 20
)

// TopicClient is the secondary platform's forum-topic surface.
// Implemented by *telegram.Client.
type TopicClient interface {
	Ready() bool
	ListTopics(ctx context.Context, offset, limit int) ([]domain.Topic, error)
	CreateTopic(ctx context.Context, title string) (domain.Topic, error)
	SendVideo(ctx context.Context, topicID string, payload []byte, caption string) error
	SendText(ctx context.Context, topicID, text string) error
}

// SecondaryAdapter posts into a per-creator forum topic. The topic id is
// resolved through the mapping's cached id, then a title match over the topic
// directory, then topic creation; the result is written back to the mapping.
type SecondaryAdapter struct {
	client    TopicClient
	mappings  repository.MappingRepository
	limiter   Limiter
	logger    *zap.Logger
	maxUpload int
}

func NewSecondaryAdapter(client TopicClient, mappings repository.MappingRepository, limiter Limiter, logger *zap.Logger) *SecondaryAdapter {
	return &SecondaryAdapter{
		client:    client,
		mappings:  mappings,
		limiter:   orNoLimit(limiter),
		logger:    logger,
		maxUpload: secondaryMaxUploadBytes,
	}
}

func (a *SecondaryAdapter) Platform() domain.Platform { return domain.PlatformSecondary }

// Deliver never fails because the client is offline or the topic cannot be
// resolved; both are logged and skipped. A send into a topic that no longer
// exists triggers one re-resolution that bypasses the cached id.
func (a *SecondaryAdapter) Deliver(ctx context.Context, d domain.Delivery) error {
	log := a.logger.With(
		zap.String("job_id", d.JobID),
		zap.String("username", d.Destination.Username),
	)

	if !a.client.Ready() {
		log.Warn("secondary client not ready, skipping delivery")
		return nil
	}

	topicID, err := a.resolveTopic(ctx, d.Destination.Username, false)
	if err != nil {
		log.Warn("secondary topic unresolvable, skipping delivery", zap.Error(err))
		return nil
	}

	err = a.send(ctx, topicID, d)
	if errors.Is(err, domain.ErrDestinationGone) {
		log.Warn("cached topic gone, re-resolving", zap.String("topic_id", topicID))
		topicID, err = a.resolveTopic(ctx, d.Destination.Username, true)
		if err != nil {
			log.Warn("secondary topic unresolvable, skipping delivery", zap.Error(err))
			return nil
		}
		err = a.send(ctx, topicID, d)
	}
	return wrap(domain.PlatformSecondary, err)
}

func (a *SecondaryAdapter) resolveTopic(ctx context.Context, username string, refresh bool) (string, error) {
	mapping, err := a.mappings.Get(ctx, username)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		mapping = nil
	case err != nil:
		return "", fmt.Errorf("load mapping: %w", err)
	}

	if !refresh && mapping != nil && mapping.SecondaryTopicID != nil && *mapping.SecondaryTopicID != "" {
		return *mapping.SecondaryTopicID, nil
	}

	topic, found, err := a.findTopic(ctx, username)
	if err != nil {
		return "", err
	}
	if !found {
		topic, err = a.client.CreateTopic(ctx, username)
		if err != nil {
			return "", fmt.Errorf("%w: create topic: %v", domain.ErrTopicUnavailable, err)
		}
		a.logger.Info("secondary topic created",
			zap.String("username", username),
			zap.String("topic_id", topic.ID),
		)
	}

	if mapping != nil {
		id := topic.ID
		if err := a.mappings.SetSecondaryTopic(ctx, username, &id); err != nil {
			a.logger.Warn("failed to cache secondary topic id",
				zap.String("username", username), zap.Error(err))
		}
	}
	return topic.ID, nil
}

// findTopic pages through the topic directory looking for a title match.
func (a *SecondaryAdapter) findTopic(ctx context.Context, title string) (domain.Topic, bool, error) {
	for offset := 0; ; {
		page, err := a.client.ListTopics(ctx, offset, topicPageSize)
		if err != nil {
			return domain.Topic{}, false, fmt.Errorf("%w: list topics: %v", domain.ErrTopicUnavailable, err)
		}
		for _, t := range page {
			if strings.EqualFold(t.Title, title) {
				return t, true, nil
			}
		}
		if len(page) < topicPageSize {
			return domain.Topic{}, false, nil
		}
		offset += len(page)
	}
}

func (a *SecondaryAdapter) send(ctx context.Context, topicID string, d domain.Delivery) error {
	if !a.canSendVideo(d.Media) {
		if err := a.limiter.Wait(ctx, domain.PlatformSecondary); err != nil {
			return err
		}
		return a.client.SendText(ctx, topicID, linkText(d))
	}

	caption := headline(d.Notification) + "\n" + d.Notification.URL
	for i, p := range d.Media.Payloads {
		if err := a.limiter.Wait(ctx, domain.PlatformSecondary); err != nil {
			return err
		}
		c := ""
		if i == 0 {
			c = caption
		}
		if err := a.client.SendVideo(ctx, topicID, p, c); err != nil {
			return err
		}
	}
	return nil
}

func (a *SecondaryAdapter) canSendVideo(media *domain.DownloadResult) bool {
	if !media.HasPayload() || media.MediaKind != domain.MediaVideo {
		return false
	}
	for _, p := range media.Payloads {
		if len(p) > a.maxUpload {
			return false
		}
	}
	return true
}

var _ Adapter = (*SecondaryAdapter)(nil)
