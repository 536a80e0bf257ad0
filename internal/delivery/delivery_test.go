package delivery

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/repository"
)

// ---- primary ----

type sentMessage struct {
	channelID string
	msg       *discordgo.MessageSend
}

type fakeSender struct {
	mu   sync.Mutex
	sent []sentMessage
	// errFor returns an error for a channel, or nil.
	errFor func(channelID string) error
	// errAt fails the call with the given zero-based index, or nil.
	errAt func(call int) error
	calls int
}

func (f *fakeSender) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	call := f.calls
	f.calls++
	if f.errAt != nil {
		if err := f.errAt(call); err != nil {
			return nil, err
		}
	}
	if f.errFor != nil {
		if err := f.errFor(channelID); err != nil {
			return nil, err
		}
	}
	f.sent = append(f.sent, sentMessage{channelID: channelID, msg: data})
	return &discordgo.Message{ID: strconv.Itoa(len(f.sent))}, nil
}

func unknownChannel() error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: http.StatusNotFound},
		Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownChannel, Message: "Unknown Channel"},
	}
}

func settingsSource() *config.StaticSource {
	return &config.StaticSource{S: config.Settings{
		DownloadEngine:    "direct",
		PrimaryGuildID:    "g1",
		FallbackChannelID: "fallback",
	}}
}

func newDelivery(media *domain.DownloadResult, tag *string) domain.Delivery {
	return domain.Delivery{
		JobID: "job-1",
		Notification: domain.Notification{
			Username:    "jane_doe",
			URL:         "https://platform.example/@jane_doe/video/1",
			ContentType: domain.ContentVideo,
		},
		Media:       media,
		Destination: domain.Destination{Username: "jane_doe", ChannelID: "chan-1", AudienceTagID: tag},
		SourceLabel: "Main",
	}
}

func payloads(n, size int) [][]byte {
	out := make([][]byte, n)
	for i := range out {
		out[i] = make([]byte, size)
	}
	return out
}

func TestPrimary_LinkOnlyCarriesEmbedAndURL(t *testing.T) {
	s := &fakeSender{}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())
	tag := "role-9"

	d := newDelivery(domain.LinkOnly("https://platform.example/@jane_doe/video/1"), &tag)
	require.NoError(t, a.Deliver(context.Background(), d))

	require.Len(t, s.sent, 1)
	msg := s.sent[0].msg
	assert.Equal(t, "chan-1", s.sent[0].channelID)
	assert.Contains(t, msg.Content, "<@&role-9>")
	assert.Contains(t, msg.Content, d.Notification.URL)
	require.Len(t, msg.Embeds, 1)
	assert.Equal(t, d.Notification.URL, msg.Embeds[0].URL)
	assert.Equal(t, []string{"role-9"}, msg.AllowedMentions.Roles)
	assert.Empty(t, msg.Files)
}

func TestPrimary_PacksAttachmentsIntoContinuationMessages(t *testing.T) {
	s := &fakeSender{}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())

	media := &domain.DownloadResult{
		MediaKind:  domain.MediaImage,
		Payloads:   payloads(12, 1024),
		SourceURLs: []string{"https://cdn.example/a"},
	}
	require.NoError(t, a.Deliver(context.Background(), newDelivery(media, nil)))

	require.Len(t, s.sent, 2)
	assert.Len(t, s.sent[0].msg.Files, 10)
	assert.Len(t, s.sent[0].msg.Embeds, 1)
	assert.Len(t, s.sent[1].msg.Files, 2)
	assert.Empty(t, s.sent[1].msg.Embeds, "continuation messages carry attachments only")
	assert.Empty(t, s.sent[1].msg.Content)
}

func TestPrimary_OversizedPayloadFallsBackToLink(t *testing.T) {
	s := &fakeSender{}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())
	a.maxUpload = 100

	media := &domain.DownloadResult{
		MediaKind:  domain.MediaVideo,
		Payloads:   [][]byte{make([]byte, 50), make([]byte, 101)},
		SourceURLs: []string{"https://cdn.example/v"},
	}
	require.NoError(t, a.Deliver(context.Background(), newDelivery(media, nil)))

	require.Len(t, s.sent, 1)
	assert.Empty(t, s.sent[0].msg.Files)
	assert.Contains(t, s.sent[0].msg.Content, "https://cdn.example/v")
}

func TestPrimary_StaleChannelRedeliversToFallback(t *testing.T) {
	s := &fakeSender{errFor: func(ch string) error {
		if ch == "chan-1" {
			return unknownChannel()
		}
		return nil
	}}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())

	require.NoError(t, a.Deliver(context.Background(), newDelivery(domain.LinkOnly("https://x.example/@a"), nil)))
	require.Len(t, s.sent, 1)
	assert.Equal(t, "fallback", s.sent[0].channelID)
}

func TestPrimary_GoneOnContinuationDoesNotRedeliver(t *testing.T) {
	s := &fakeSender{errAt: func(call int) error {
		if call == 1 {
			return unknownChannel()
		}
		return nil
	}}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())

	media := &domain.DownloadResult{
		MediaKind:  domain.MediaImage,
		Payloads:   payloads(12, 1024),
		SourceURLs: []string{"https://cdn.example/a"},
	}
	err := a.Deliver(context.Background(), newDelivery(media, nil))

	var de *domain.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.NotErrorIs(t, err, domain.ErrDestinationGone)
	require.Len(t, s.sent, 1, "only the first message went out")
	assert.Equal(t, "chan-1", s.sent[0].channelID)
	assert.Equal(t, 2, s.calls, "no resend to the fallback channel")
}

func TestPrimary_OtherErrorsAreDeliveryErrors(t *testing.T) {
	boom := errors.New("gateway exploded")
	s := &fakeSender{errFor: func(string) error { return boom }}
	a := NewPrimaryAdapter(s, settingsSource(), nil, zap.NewNop())

	err := a.Deliver(context.Background(), newDelivery(domain.LinkOnly("https://x.example/@a"), nil))
	var de *domain.DeliveryError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, domain.PlatformPrimary, de.Platform)
	assert.ErrorIs(t, err, boom)
}

func TestPackAttachments(t *testing.T) {
	tests := []struct {
		name  string
		sizes []int
		want  [][]int
	}{
		{"empty", nil, nil},
		{"single", []int{5}, [][]int{{0}}},
		{"byte ceiling splits", []int{6, 6, 6}, [][]int{{0}, {1}, {2}}},
		{"fills to ceiling", []int{4, 6, 3}, [][]int{{0, 1}, {2}}},
		{"file ceiling splits", []int{1, 1, 1, 1}, [][]int{{0, 1, 2}, {3}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ps := make([][]byte, len(tt.sizes))
			for i, n := range tt.sizes {
				ps[i] = make([]byte, n)
			}
			assert.Equal(t, tt.want, packAttachments(ps, 3, 10))
		})
	}
}

// ---- secondary ----

type fakeTopics struct {
	mu      sync.Mutex
	ready   bool
	topics  []domain.Topic
	gone    map[string]bool
	created []string
	texts   []string
	videos  []string
	listErr error
	listed  int
}

func (f *fakeTopics) Ready() bool { return f.ready }

func (f *fakeTopics) ListTopics(_ context.Context, offset, limit int) ([]domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	if f.listErr != nil {
		return nil, f.listErr
	}
	var live []domain.Topic
	for _, t := range f.topics {
		if !f.gone[t.ID] {
			live = append(live, t)
		}
	}
	if offset >= len(live) {
		return nil, nil
	}
	end := min(offset+limit, len(live))
	return live[offset:end], nil
}

func (f *fakeTopics) CreateTopic(_ context.Context, title string) (domain.Topic, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := domain.Topic{ID: "t-" + strconv.Itoa(len(f.topics)+1), Title: title}
	f.topics = append(f.topics, t)
	f.created = append(f.created, title)
	return t, nil
}

func (f *fakeTopics) SendVideo(_ context.Context, topicID string, _ []byte, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[topicID] {
		return domain.ErrDestinationGone
	}
	f.videos = append(f.videos, topicID+"|"+caption)
	return nil
}

func (f *fakeTopics) SendText(_ context.Context, topicID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone[topicID] {
		return domain.ErrDestinationGone
	}
	f.texts = append(f.texts, topicID+"|"+text)
	return nil
}

func seededMappings(t *testing.T) *repository.MockMappingRepository {
	t.Helper()
	repo := repository.NewMockMappingRepository()
	_, err := repo.Upsert(context.Background(), "jane_doe", "chan-1", nil)
	require.NoError(t, err)
	return repo
}

func TestSecondary_NotReadyIsNoop(t *testing.T) {
	c := &fakeTopics{ready: false}
	a := NewSecondaryAdapter(c, seededMappings(t), nil, zap.NewNop())

	require.NoError(t, a.Deliver(context.Background(), newDelivery(domain.LinkOnly("https://x.example/@a"), nil)))
	assert.Empty(t, c.texts)
	assert.Zero(t, c.listed)
}

func TestSecondary_CreatesTopicAndCachesID(t *testing.T) {
	ctx := context.Background()
	c := &fakeTopics{ready: true}
	repo := seededMappings(t)
	a := NewSecondaryAdapter(c, repo, nil, zap.NewNop())

	require.NoError(t, a.Deliver(ctx, newDelivery(domain.LinkOnly("https://x.example/@jane_doe"), nil)))
	require.NoError(t, a.Deliver(ctx, newDelivery(domain.LinkOnly("https://x.example/@jane_doe"), nil)))

	assert.Equal(t, []string{"jane_doe"}, c.created)
	assert.Equal(t, 1, c.listed, "second delivery must use the cached topic id")
	require.Len(t, c.texts, 2)

	m, err := repo.Get(ctx, "jane_doe")
	require.NoError(t, err)
	require.NotNil(t, m.SecondaryTopicID)
	assert.Equal(t, "t-1", *m.SecondaryTopicID)
}

func TestSecondary_FindsExistingTopicAcrossPages(t *testing.T) {
	c := &fakeTopics{ready: true}
	for i := 0; i < topicPageSize+5; i++ {
		c.topics = append(c.topics, domain.Topic{ID: "x" + strconv.Itoa(i), Title: "other" + strconv.Itoa(i)})
	}
	c.topics = append(c.topics, domain.Topic{ID: "mine", Title: "Jane_Doe"})
	a := NewSecondaryAdapter(c, seededMappings(t), nil, zap.NewNop())

	require.NoError(t, a.Deliver(context.Background(), newDelivery(domain.LinkOnly("https://x.example/@jane_doe"), nil)))
	assert.Empty(t, c.created)
	assert.Equal(t, 2, c.listed)
	require.Len(t, c.texts, 1)
	assert.True(t, strings.HasPrefix(c.texts[0], "mine|"))
}

func TestSecondary_StaleCachedTopicIsReresolved(t *testing.T) {
	ctx := context.Background()
	c := &fakeTopics{ready: true, gone: map[string]bool{"old": true}}
	repo := seededMappings(t)
	old := "old"
	require.NoError(t, repo.SetSecondaryTopic(ctx, "jane_doe", &old))
	a := NewSecondaryAdapter(c, repo, nil, zap.NewNop())

	require.NoError(t, a.Deliver(ctx, newDelivery(domain.LinkOnly("https://x.example/@jane_doe"), nil)))
	assert.Equal(t, []string{"jane_doe"}, c.created)
	require.Len(t, c.texts, 1)

	m, err := repo.Get(ctx, "jane_doe")
	require.NoError(t, err)
	assert.NotEqual(t, "old", *m.SecondaryTopicID)
}

func TestSecondary_VideoPayloadSentNatively(t *testing.T) {
	c := &fakeTopics{ready: true}
	a := NewSecondaryAdapter(c, seededMappings(t), nil, zap.NewNop())

	media := &domain.DownloadResult{MediaKind: domain.MediaVideo, Payloads: payloads(2, 64), SourceURLs: []string{"u"}}
	require.NoError(t, a.Deliver(context.Background(), newDelivery(media, nil)))

	require.Len(t, c.videos, 2)
	assert.Contains(t, c.videos[0], "New video from jane_doe")
	assert.True(t, strings.HasSuffix(c.videos[1], "|"), "only the first video carries the caption")
	assert.Empty(t, c.texts)
}

func TestSecondary_ImagesGoAsLinks(t *testing.T) {
	c := &fakeTopics{ready: true}
	a := NewSecondaryAdapter(c, seededMappings(t), nil, zap.NewNop())

	media := &domain.DownloadResult{MediaKind: domain.MediaImage, Payloads: payloads(1, 64), SourceURLs: []string{"https://cdn.example/i.jpg"}}
	require.NoError(t, a.Deliver(context.Background(), newDelivery(media, nil)))

	assert.Empty(t, c.videos)
	require.Len(t, c.texts, 1)
	assert.Contains(t, c.texts[0], "https://cdn.example/i.jpg")
}

func TestSecondary_DirectoryFailureIsNoop(t *testing.T) {
	c := &fakeTopics{ready: true, listErr: errors.New("api down")}
	a := NewSecondaryAdapter(c, seededMappings(t), nil, zap.NewNop())

	require.NoError(t, a.Deliver(context.Background(), newDelivery(domain.LinkOnly("https://x.example/@a"), nil)))
	assert.Empty(t, c.texts)
}
