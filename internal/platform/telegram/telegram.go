package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v4"

	"github.com/notifyhub/creator-relay/internal/domain"
)

const storeTimeout = 5 * time.Second

// TopicStore persists the topic directory. Satisfied by
// repository.TopicRepository.
type TopicStore interface {
	List(ctx context.Context) ([]domain.Topic, error)
	Save(ctx context.Context, t domain.Topic) error
	Delete(ctx context.Context, threadID string) error
}

// Client posts into forum topics of one Telegram supergroup.
// The Bot API has no call that lists forum topics, so the client keeps a
// directory of topics it has created or seen announced in the chat, written
// through to the store when one is set.
type Client struct {
	chatID int64
	logger *zap.Logger

	bot   *tele.Bot
	dir   *directory
	store TopicStore
	chat  *tele.Chat

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

// New builds a long-polling bot. An empty token or zero chat id yields a
// client that reports not ready, so delivery to this platform is skipped.
// store may be nil, in which case the directory lives in memory only.
func New(token string, chatID int64, pollTimeout time.Duration, store TopicStore, logger *zap.Logger) (*Client, error) {
	c := &Client{chatID: chatID, logger: logger, dir: newDirectory(), store: store, chat: &tele.Chat{ID: chatID}}
	if strings.TrimSpace(token) == "" || chatID == 0 {
		logger.Warn("telegram not configured, secondary delivery disabled")
		return c, nil
	}
	if pollTimeout <= 0 {
		pollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  token,
		Poller: &tele.LongPoller{Timeout: pollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	c.bot = b
	return c, nil
}

// Load fills the directory from the store.
func (c *Client) Load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	topics, err := c.store.List(ctx)
	if err != nil {
		return fmt.Errorf("load topics: %w", err)
	}
	for _, t := range topics {
		c.dir.put(t)
	}
	c.logger.Info("topic directory loaded", zap.Int("topics", len(topics)))
	return nil
}

// Start registers topic observers and begins polling. Polling stops when ctx
// is cancelled or Stop is called.
func (c *Client) Start(ctx context.Context) {
	c.runMu.Lock()
	if c.bot == nil || c.running {
		c.runMu.Unlock()
		return
	}
	c.running = true
	rctx, cancel := context.WithCancel(ctx)
	c.runCancel = cancel
	c.runWG.Add(1)
	c.runMu.Unlock()

	c.bot.Handle(tele.OnTopicCreated, func(tc tele.Context) error {
		c.observe(tc.Message())
		return nil
	})
	c.bot.Handle(tele.OnText, func(tc tele.Context) error {
		c.observe(tc.Message())
		return nil
	})

	go func() {
		defer c.runWG.Done()
		go func() {
			<-rctx.Done()
			c.bot.Stop()
		}()
		c.logger.Info("telegram polling started", zap.Int64("chat_id", c.chatID))
		c.bot.Start()
	}()
}

// Stop halts polling, waiting at most until ctx expires.
func (c *Client) Stop(ctx context.Context) error {
	c.runMu.Lock()
	cancel := c.runCancel
	c.runCancel = nil
	wasRunning := c.running
	c.running = false
	c.runMu.Unlock()

	if !wasRunning {
		return nil
	}
	cancel()

	done := make(chan struct{})
	go func() {
		c.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		c.logger.Info("telegram polling stopped")
		return nil
	case <-ctx.Done():
		c.logger.Warn("telegram stop cancelled", zap.Error(ctx.Err()))
		return ctx.Err()
	}
}

func (c *Client) Ready() bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	return c.bot != nil && c.running
}

// observe records topics announced by service messages, either directly or as
// the root a topic reply points to.
func (c *Client) observe(m *tele.Message) {
	if m == nil || m.Chat == nil || m.Chat.ID != c.chatID {
		return
	}
	if m.TopicCreated != nil && m.ThreadID != 0 {
		c.remember(domain.Topic{ID: strconv.Itoa(m.ThreadID), Title: m.TopicCreated.Name})
		return
	}
	if r := m.ReplyTo; r != nil && r.TopicCreated != nil && m.ThreadID != 0 {
		c.remember(domain.Topic{ID: strconv.Itoa(m.ThreadID), Title: r.TopicCreated.Name})
	}
}

// remember and forget update the directory first; a store failure is logged
// and the in-memory entry stays authoritative until restart.
func (c *Client) remember(t domain.Topic) {
	c.dir.put(t)
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Save(ctx, t); err != nil {
		c.logger.Warn("persist topic failed", zap.String("thread_id", t.ID), zap.Error(err))
	}
}

func (c *Client) forget(threadID string) {
	c.dir.remove(threadID)
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, threadID); err != nil {
		c.logger.Warn("delete topic failed", zap.String("thread_id", threadID), zap.Error(err))
	}
}

func (c *Client) ListTopics(ctx context.Context, offset, limit int) ([]domain.Topic, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.dir.page(offset, limit), nil
}

func (c *Client) CreateTopic(ctx context.Context, title string) (domain.Topic, error) {
	if err := c.ready(ctx); err != nil {
		return domain.Topic{}, err
	}
	t, err := c.bot.CreateTopic(c.chat, &tele.Topic{Name: title})
	if err != nil {
		return domain.Topic{}, fmt.Errorf("create topic %q: %w", title, err)
	}
	topic := domain.Topic{ID: strconv.Itoa(t.ThreadID), Title: t.Name}
	c.remember(topic)
	return topic, nil
}

func (c *Client) SendVideo(ctx context.Context, topicID string, payload []byte, caption string) error {
	_, ext := domain.SniffMedia(domain.MediaVideo, payload)
	v := &tele.Video{
		File:      tele.FromReader(bytes.NewReader(payload)),
		FileName:  "video" + ext,
		Caption:   caption,
		Streaming: true,
	}
	return c.send(ctx, topicID, v)
}

func (c *Client) SendText(ctx context.Context, topicID, text string) error {
	return c.send(ctx, topicID, text)
}

func (c *Client) send(ctx context.Context, topicID string, what any) error {
	if err := c.ready(ctx); err != nil {
		return err
	}
	thread, err := strconv.Atoi(topicID)
	if err != nil {
		return fmt.Errorf("%w: bad topic id %q", domain.ErrDestinationGone, topicID)
	}
	_, err = c.bot.Send(c.chat, what, &tele.SendOptions{ThreadID: thread})
	if isThreadGone(err) {
		c.forget(topicID)
		return fmt.Errorf("%w: %v", domain.ErrDestinationGone, err)
	}
	return err
}

func (c *Client) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.bot == nil {
		return errors.New("telegram bot not configured")
	}
	return nil
}

func isThreadGone(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "message thread not found") || strings.Contains(msg, "topic_deleted")
}
