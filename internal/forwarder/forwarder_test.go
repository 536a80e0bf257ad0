package forwarder_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/forwarder"
	"github.com/notifyhub/creator-relay/internal/repository"
)

type provisionCall struct{ guildID, name, parentID string }

type fakeProvisioner struct {
	mu    sync.Mutex
	calls []provisionCall
	err   error
}

func (p *fakeProvisioner) CreateDestination(_ context.Context, guildID, name, parentID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, provisionCall{guildID, name, parentID})
	if p.err != nil {
		return "", p.err
	}
	return "new-" + name, nil
}

type fakeReactor struct {
	mu     sync.Mutex
	emojis []string
}

func (r *fakeReactor) React(_ context.Context, _, _, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emojis = append(r.emojis, emoji)
	return nil
}

type fixture struct {
	queue    *repository.MockQueueRepository
	mappings *repository.MockMappingRepository
	prov     *fakeProvisioner
	reactor  *fakeReactor
	fwd      *forwarder.Forwarder
}

func newFixture() *fixture {
	f := &fixture{
		queue:    repository.NewMockQueueRepository(),
		mappings: repository.NewMockMappingRepository(),
		prov:     &fakeProvisioner{},
		reactor:  &fakeReactor{},
	}
	settings := &config.StaticSource{S: config.Settings{
		DownloadEngine:     "direct",
		PrimaryGuildID:     "guild-main",
		FallbackChannelID:  "fallback",
		AutoCreateParentID: "cat1",
		SourceBotIDs:       []string{"bot-1"},
		OwnerID:            "owner",
	}}
	f.fwd = forwarder.New(f.queue, f.mappings, f.prov, f.reactor, settings, zap.NewNop(), nil)
	return f
}

func (f *fixture) jobs(t *testing.T) []domain.JobPayload {
	t.Helper()
	jobs, err := f.queue.List(context.Background(), domain.JobFilter{Limit: 100})
	require.NoError(t, err)
	out := make([]domain.JobPayload, 0, len(jobs))
	for _, j := range jobs {
		p, err := j.Decode()
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func msg(author, guild, text string) forwarder.Message {
	return forwarder.Message{ID: "m1", ChannelID: "c1", GuildID: guild, AuthorID: author, Text: text}
}

func TestProcessMessage_ProvisionsUnknownCreator(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	err := f.fwd.ProcessMessage(ctx, msg("bot-1", "guild-main", "New post https://platform.example/@jane_doe/video/42"))
	require.NoError(t, err)

	require.Len(t, f.prov.calls, 1)
	assert.Equal(t, provisionCall{"guild-main", "janedoe", "cat1"}, f.prov.calls[0])

	m, err := f.mappings.Get(ctx, "jane_doe")
	require.NoError(t, err)
	assert.Equal(t, "new-janedoe", m.DestinationChannelID)

	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "new-janedoe", jobs[0].DestinationChannelID)
	assert.False(t, jobs[0].IsCrossOrigin)
	assert.Equal(t, domain.ContentVideo, jobs[0].Notification.ContentType)
	assert.Equal(t, []string{forwarder.ReactPrimary}, f.reactor.emojis)
}

func TestProcessMessage_UsesExistingMapping(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	tag := "role-1"
	_, err := f.mappings.Upsert(ctx, "jane_doe", "chan-existing", &tag)
	require.NoError(t, err)

	require.NoError(t, f.fwd.ProcessMessage(ctx, msg("owner", "guild-other", "https://platform.example/@jane_doe/photo/7")))

	assert.Empty(t, f.prov.calls)
	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "chan-existing", jobs[0].DestinationChannelID)
	require.NotNil(t, jobs[0].AudienceTagID)
	assert.Equal(t, "role-1", *jobs[0].AudienceTagID)
	assert.True(t, jobs[0].IsCrossOrigin)
	assert.Equal(t, []string{forwarder.ReactCrossOrigin}, f.reactor.emojis)
}

func TestProcessMessage_ShortNameUsesFallback(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.fwd.ProcessMessage(context.Background(), msg("bot-1", "guild-main", "https://platform.example/@x_1/video/1")))

	assert.Empty(t, f.prov.calls)
	assert.Zero(t, f.mappings.Len())
	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "fallback", jobs[0].DestinationChannelID)
}

func TestProcessMessage_DigitOnlyNameUsesFallback(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.fwd.ProcessMessage(context.Background(), msg("bot-1", "guild-main", "https://platform.example/@123/video/1")))

	assert.Empty(t, f.prov.calls, "no channel is provisioned for a name with no letters")
	assert.Zero(t, f.mappings.Len())
	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "123", jobs[0].Username)
	assert.Equal(t, "fallback", jobs[0].DestinationChannelID)
}

func TestProcessMessage_ProvisionedChannelUsesSanitizedName(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.fwd.ProcessMessage(ctx, msg("bot-1", "guild-main", "https://platform.example/@User.Name_1/video/9")))

	require.Len(t, f.prov.calls, 1)
	assert.Equal(t, "username", f.prov.calls[0].name)
	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "new-username", jobs[0].DestinationChannelID)
}

func TestProcessMessage_ProvisioningFailureDegradesToFallback(t *testing.T) {
	f := newFixture()
	f.prov.err = domain.ErrProvisioning

	require.NoError(t, f.fwd.ProcessMessage(context.Background(), msg("bot-1", "guild-main", "https://platform.example/@jane_doe/video/1")))

	assert.Zero(t, f.mappings.Len())
	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, "fallback", jobs[0].DestinationChannelID)
	assert.Equal(t, []string{forwarder.ReactPrimary}, f.reactor.emojis)
}

func TestProcessMessage_IgnoresUnknownAuthorsAndMisses(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	require.NoError(t, f.fwd.ProcessMessage(ctx, msg("stranger", "guild-main", "https://platform.example/@jane_doe/video/1")))
	require.NoError(t, f.fwd.ProcessMessage(ctx, msg("bot-1", "guild-main", "hello there, nothing to see")))

	assert.Empty(t, f.jobs(t))
	assert.Empty(t, f.reactor.emojis)
}

func TestProcessMessage_EnqueueFailureReacts(t *testing.T) {
	f := newFixture()
	f.queue.EnqueueErr = errors.New("db down")

	err := f.fwd.ProcessMessage(context.Background(), msg("bot-1", "guild-main", "https://platform.example/@jane_doe/video/1"))
	require.Error(t, err)
	assert.Equal(t, []string{forwarder.ReactFailed}, f.reactor.emojis)
}

func TestProcessMessage_LiveAnnouncement(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.fwd.ProcessMessage(context.Background(), msg("bot-1", "guild-main",
		"jane_doe is now LIVE! Watch: https://platform.example/@jane_doe/live.")))

	jobs := f.jobs(t)
	require.Len(t, jobs, 1)
	assert.Equal(t, domain.ContentLive, jobs[0].Notification.ContentType)
	assert.Equal(t, "https://platform.example/@jane_doe/live", jobs[0].URL)
	assert.Equal(t, "jane_doe", jobs[0].Username)
}
