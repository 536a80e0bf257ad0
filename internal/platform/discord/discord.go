package discord

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/forwarder"
)

const handleTimeout = 30 * time.Second

// Client owns the Discord gateway session. It feeds inbound guild messages to
// a forwarder and exposes the REST calls the forwarder and primary adapter need.
type Client struct {
	session *discordgo.Session
	logger  *zap.Logger
}

// New creates a bot session with the intents needed to read message content.
// The gateway is not opened until Open is called.
func New(token string, logger *zap.Logger) (*Client, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	s.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
	return &Client{session: s, logger: logger}, nil
}

// Session is the underlying session; it satisfies delivery.DiscordSender.
func (c *Client) Session() *discordgo.Session { return c.session }

// Handle routes every non-self message to fn. Each call gets its own
// context derived from base and bounded by handleTimeout.
func (c *Client) Handle(base context.Context, fn func(context.Context, forwarder.Message) error) {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		ctx, cancel := context.WithTimeout(base, handleTimeout)
		defer cancel()

		msg := toMessage(s, m.Message)
		if err := fn(ctx, msg); err != nil {
			c.logger.Warn("inbound message not forwarded",
				zap.String("message_id", msg.ID),
				zap.String("guild_id", msg.GuildID),
				zap.Error(err),
			)
		}
	})
}

// Open connects to the gateway.
func (c *Client) Open() error {
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.logger.Info("discord gateway connected")
	return nil
}

func (c *Client) Close() error {
	return c.session.Close()
}

// CreateDestination creates a text channel under parentID in guildID.
func (c *Client) CreateDestination(ctx context.Context, guildID, name, parentID string) (string, error) {
	ch, err := c.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:     name,
		Type:     discordgo.ChannelTypeGuildText,
		ParentID: parentID,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProvisioning, err)
	}
	return ch.ID, nil
}

// React adds an emoji reaction to a message.
func (c *Client) React(ctx context.Context, channelID, messageID, emoji string) error {
	return c.session.MessageReactionAdd(channelID, messageID, emoji, discordgo.WithContext(ctx))
}

// toMessage flattens content and embed text so recognizers see everything a
// source bot may have put in either place.
func toMessage(s *discordgo.Session, m *discordgo.Message) forwarder.Message {
	parts := []string{m.Content}
	for _, e := range m.Embeds {
		if e == nil {
			continue
		}
		if e.Author != nil {
			parts = append(parts, e.Author.Name, e.Author.URL)
		}
		parts = append(parts, e.Title, e.URL, e.Description)
		for _, f := range e.Fields {
			if f != nil {
				parts = append(parts, f.Name, f.Value)
			}
		}
	}

	msg := forwarder.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		GuildID:   m.GuildID,
		Text:      strings.Join(nonEmpty(parts), "\n"),
	}
	if m.Author != nil {
		msg.AuthorID = m.Author.ID
	}
	if s != nil && s.State != nil && m.GuildID != "" {
		if g, err := s.State.Guild(m.GuildID); err == nil {
			msg.GuildName = g.Name
		}
	}
	return msg
}

func nonEmpty(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
