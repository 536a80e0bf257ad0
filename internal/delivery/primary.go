package delivery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/domain"
)

const (
	primaryMaxFiles       = 10
	primaryMaxUploadBytes = 25 << 20
)

// DiscordSender is the subset of *discordgo.Session the primary adapter uses.
type DiscordSender interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// PrimaryAdapter posts an embed, an optional audience-role mention and the
// media attachments to the mapped Discord channel.
type PrimaryAdapter struct {
	sender    DiscordSender
	settings  config.Source
	limiter   Limiter
	logger    *zap.Logger
	maxFiles  int
	maxUpload int
}

func NewPrimaryAdapter(sender DiscordSender, settings config.Source, limiter Limiter, logger *zap.Logger) *PrimaryAdapter {
	return &PrimaryAdapter{
		sender:    sender,
		settings:  settings,
		limiter:   orNoLimit(limiter),
		logger:    logger,
		maxFiles:  primaryMaxFiles,
		maxUpload: primaryMaxUploadBytes,
	}
}

func (a *PrimaryAdapter) Platform() domain.Platform { return domain.PlatformPrimary }

// Deliver sends to the mapped channel. When Discord reports the channel no
// longer exists the delivery is repeated once to the fallback channel and the
// stale mapping is logged for the operator; the mapping itself is not changed.
func (a *PrimaryAdapter) Deliver(ctx context.Context, d domain.Delivery) error {
	err := a.deliverTo(ctx, d.Destination.ChannelID, d)
	if !errors.Is(err, domain.ErrDestinationGone) {
		return wrap(domain.PlatformPrimary, err)
	}

	fallback := a.settings.Get().FallbackChannelID
	a.logger.Warn("destination channel gone, redelivering to fallback",
		zap.String("job_id", d.JobID),
		zap.String("username", d.Destination.Username),
		zap.String("stale_channel_id", d.Destination.ChannelID),
		zap.String("fallback_channel_id", fallback),
	)
	if fallback == "" || fallback == d.Destination.ChannelID {
		return wrap(domain.PlatformPrimary, err)
	}
	return wrap(domain.PlatformPrimary, a.deliverTo(ctx, fallback, d))
}

func (a *PrimaryAdapter) deliverTo(ctx context.Context, channelID string, d domain.Delivery) error {
	embed := buildEmbed(d)
	content, mentions := audienceMention(d.Destination.AudienceTagID)

	if !a.canAttach(d.Media) {
		msg := &discordgo.MessageSend{
			Content:         joinLines(content, strings.Join(d.Links(), "\n")),
			Embeds:          []*discordgo.MessageEmbed{embed},
			AllowedMentions: mentions,
		}
		return a.send(ctx, channelID, msg)
	}

	batches := packAttachments(d.Media.Payloads, a.maxFiles, a.maxUpload)
	for i, batch := range batches {
		msg := &discordgo.MessageSend{Files: a.files(d.Media, batch)}
		if i == 0 {
			msg.Content = content
			msg.Embeds = []*discordgo.MessageEmbed{embed}
			msg.AllowedMentions = mentions
		}
		if err := a.send(ctx, channelID, msg); err != nil {
			if i == 0 {
				return err
			}
			a.logger.Warn("continuation message failed",
				zap.String("job_id", d.JobID),
				zap.Int("message", i+1),
				zap.Int("messages", len(batches)),
			)
			// The first message already landed; a gone channel here must not
			// trigger a full redelivery to the fallback.
			return fmt.Errorf("message %d of %d: %s", i+1, len(batches), err.Error())
		}
	}
	return nil
}

// canAttach is false when there is nothing to attach or any single payload
// exceeds the upload ceiling.
func (a *PrimaryAdapter) canAttach(media *domain.DownloadResult) bool {
	if !media.HasPayload() {
		return false
	}
	for _, p := range media.Payloads {
		if len(p) > a.maxUpload {
			return false
		}
	}
	return true
}

func (a *PrimaryAdapter) files(media *domain.DownloadResult, idx []int) []*discordgo.File {
	files := make([]*discordgo.File, 0, len(idx))
	for _, i := range idx {
		p := media.Payloads[i]
		ct, ext := domain.SniffMedia(media.MediaKind, p)
		files = append(files, &discordgo.File{
			Name:        fmt.Sprintf("%s-%d%s", media.MediaKind, i+1, ext),
			ContentType: ct,
			Reader:      bytes.NewReader(p),
		})
	}
	return files
}

func (a *PrimaryAdapter) send(ctx context.Context, channelID string, msg *discordgo.MessageSend) error {
	if err := a.limiter.Wait(ctx, domain.PlatformPrimary); err != nil {
		return err
	}
	_, err := a.sender.ChannelMessageSendComplex(channelID, msg, discordgo.WithContext(ctx))
	return classifyDiscordError(err)
}

// packAttachments groups payload indexes into messages of at most maxFiles
// files and maxBytes total. Every payload must already fit under maxBytes.
func packAttachments(payloads [][]byte, maxFiles, maxBytes int) [][]int {
	var (
		batches [][]int
		cur     []int
		size    int
	)
	for i, p := range payloads {
		if len(cur) > 0 && (len(cur) == maxFiles || size+len(p) > maxBytes) {
			batches = append(batches, cur)
			cur, size = nil, 0
		}
		cur = append(cur, i)
		size += len(p)
	}
	if len(cur) > 0 {
		batches = append(batches, cur)
	}
	return batches
}

func buildEmbed(d domain.Delivery) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:     headline(d.Notification),
		URL:       d.Notification.URL,
		Color:     embedColor(d.Notification.ContentType),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Author:    &discordgo.MessageEmbedAuthor{Name: "@" + d.Notification.Username},
	}
	if d.SourceLabel != "" {
		e.Footer = &discordgo.MessageEmbedFooter{Text: "via " + d.SourceLabel}
	}
	return e
}

func embedColor(ct domain.ContentType) int {
	switch ct {
	case domain.ContentLive:
		return 0xE0245E
	case domain.ContentVideo:
		return 0x5865F2
	case domain.ContentPhoto:
		return 0x57F287
	default:
		return 0x99AAB5
	}
}

// audienceMention pings only the mapped role; every other mention is suppressed.
func audienceMention(tagID *string) (string, *discordgo.MessageAllowedMentions) {
	if tagID == nil || *tagID == "" {
		return "", &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}}
	}
	return "<@&" + *tagID + ">", &discordgo.MessageAllowedMentions{Roles: []string{*tagID}}
}

func joinLines(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// classifyDiscordError maps "Unknown Channel" to domain.ErrDestinationGone.
func classifyDiscordError(err error) error {
	if err == nil {
		return nil
	}
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownChannel {
		return fmt.Errorf("%w: %v", domain.ErrDestinationGone, err)
	}
	return err
}

var _ Adapter = (*PrimaryAdapter)(nil)
