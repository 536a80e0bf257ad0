package forwarder

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/repository"
)

// Channel names shorter than this are not provisioned; the fallback is used.
const minChannelNameLen = 2

// Acknowledgement reactions placed on the source message.
const (
	ReactPrimary     = "✅"
	ReactCrossOrigin = "📨"
	ReactFailed      = "❌"
)

// Message is an inbound chat message, already flattened to text.
type Message struct {
	ID        string
	ChannelID string
	GuildID   string
	GuildName string
	AuthorID  string
	Text      string
}

// Provisioner creates a destination channel for a new creator.
type Provisioner interface {
	CreateDestination(ctx context.Context, guildID, name, parentID string) (string, error)
}

// Reactor acknowledges a source message.
type Reactor interface {
	React(ctx context.Context, channelID, messageID, emoji string) error
}

// Forwarder turns recognised messages into queue jobs. It does no delivery
// itself; the processor picks the job up on its next tick.
type Forwarder struct {
	queue       repository.QueueRepository
	mappings    repository.MappingRepository
	provisioner Provisioner
	reactor     Reactor
	settings    config.Source
	logger      *zap.Logger
	onEnqueued  func(crossOrigin bool)
}

// New constructs a Forwarder. onEnqueued is optional (nil = no-op).
func New(
	queue repository.QueueRepository,
	mappings repository.MappingRepository,
	provisioner Provisioner,
	reactor Reactor,
	settings config.Source,
	logger *zap.Logger,
	onEnqueued func(crossOrigin bool),
) *Forwarder {
	if onEnqueued == nil {
		onEnqueued = func(bool) {}
	}
	return &Forwarder{
		queue: queue, mappings: mappings,
		provisioner: provisioner, reactor: reactor,
		settings: settings, logger: logger,
		onEnqueued: onEnqueued,
	}
}

// ProcessMessage handles one inbound message. Messages from authors outside
// the allow-list and messages no recognizer matches are ignored silently.
func (f *Forwarder) ProcessMessage(ctx context.Context, msg Message) error {
	st := f.settings.Get()
	if st == nil || !st.IsAllowedAuthor(msg.AuthorID) {
		return nil
	}

	n, err := Recognize(msg.Text)
	if errors.Is(err, ErrNoMatch) {
		f.logger.Debug("message not recognized", zap.String("message_id", msg.ID))
		return nil
	}

	log := f.logger.With(
		zap.String("message_id", msg.ID),
		zap.String("username", n.Username),
		zap.String("content_type", string(n.ContentType)),
	)

	dest, err := f.resolveDestination(ctx, st, n.Username, log)
	if err != nil {
		log.Error("destination lookup failed", zap.Error(err))
		f.react(ctx, msg, ReactFailed)
		return fmt.Errorf("resolve destination: %w", err)
	}

	crossOrigin := msg.GuildID != st.PrimaryGuildID
	job, err := f.queue.Enqueue(ctx, domain.JobPayload{
		URL:                  n.URL,
		Username:             n.Username,
		DestinationChannelID: dest.ChannelID,
		AudienceTagID:        dest.AudienceTagID,
		Notification:         n,
		SourceLabel:          msg.GuildName,
		IsCrossOrigin:        crossOrigin,
	})
	if err != nil {
		log.Error("enqueue failed", zap.Error(err))
		f.react(ctx, msg, ReactFailed)
		return fmt.Errorf("enqueue: %w", err)
	}

	log.Info("notification enqueued",
		zap.String("job_id", job.ID),
		zap.String("destination_channel_id", dest.ChannelID),
		zap.Bool("cross_origin", crossOrigin),
	)
	f.onEnqueued(crossOrigin)

	if crossOrigin {
		f.react(ctx, msg, ReactCrossOrigin)
	} else {
		f.react(ctx, msg, ReactPrimary)
	}
	return nil
}

// resolveDestination returns the stored mapping or provisions a new one.
// Provisioning problems degrade to the fallback channel; only a failing
// mapping store is returned as an error.
func (f *Forwarder) resolveDestination(ctx context.Context, st *config.Settings, username string, log *zap.Logger) (domain.Destination, error) {
	m, err := f.mappings.Get(ctx, username)
	if err == nil {
		return domain.Destination{Username: username, ChannelID: m.DestinationChannelID, AudienceTagID: m.AudienceTagID}, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.Destination{}, err
	}

	fallback := domain.Destination{Username: username, ChannelID: st.FallbackChannelID}

	name := Sanitize(username)
	if len([]rune(name)) < minChannelNameLen {
		log.Info("username too short to provision, using fallback", zap.String("sanitized", name))
		return fallback, nil
	}

	channelID, err := f.provisioner.CreateDestination(ctx, st.PrimaryGuildID, name, st.AutoCreateParentID)
	if err != nil {
		log.Warn("provisioning failed, using fallback", zap.Error(err))
		return fallback, nil
	}

	if _, err := f.mappings.Upsert(ctx, username, channelID, nil); err != nil {
		log.Error("provisioned channel but failed to persist mapping",
			zap.String("channel_id", channelID), zap.Error(err))
	} else {
		log.Info("destination provisioned", zap.String("channel_id", channelID), zap.String("name", name))
	}
	return domain.Destination{Username: username, ChannelID: channelID}, nil
}

func (f *Forwarder) react(ctx context.Context, msg Message, emoji string) {
	if f.reactor == nil || msg.ChannelID == "" || msg.ID == "" {
		return
	}
	if err := f.reactor.React(ctx, msg.ChannelID, msg.ID, emoji); err != nil {
		f.logger.Warn("failed to add reaction",
			zap.String("message_id", msg.ID), zap.String("emoji", emoji), zap.Error(err))
	}
}
