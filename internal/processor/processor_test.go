package processor_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/delivery"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/processor"
	"github.com/notifyhub/creator-relay/internal/repository"
)

// --- test doubles ---

// eventLog records download and delivery boundaries across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

type stubDownloader struct {
	calls   atomic.Int32
	err     error
	result  *domain.DownloadResult
	entered chan struct{}
	release chan struct{}
	events  *eventLog

	mu      sync.Mutex
	ctxErrs []error
}

func (s *stubDownloader) Download(ctx context.Context, url string) (*domain.DownloadResult, error) {
	s.calls.Add(1)
	s.events.add("download " + url)
	if s.entered != nil {
		s.entered <- struct{}{}
		select {
		case <-s.release:
		case <-ctx.Done():
		}
	}
	s.mu.Lock()
	s.ctxErrs = append(s.ctxErrs, ctx.Err())
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.result != nil {
		return s.result, nil
	}
	return &domain.DownloadResult{MediaKind: domain.MediaVideo, Payloads: [][]byte{[]byte("video")}, SourceURLs: []string{url}}, nil
}

type recordingAdapter struct {
	platform domain.Platform
	err      error
	panics   bool
	delay    time.Duration
	block    chan struct{}
	entered  chan struct{}
	events   *eventLog

	mu        sync.Mutex
	delivered []domain.Delivery
	ctxErrs   []error
}

func (a *recordingAdapter) Platform() domain.Platform { return a.platform }

func (a *recordingAdapter) Deliver(ctx context.Context, d domain.Delivery) error {
	a.events.add("deliver " + d.Notification.URL)
	if a.entered != nil {
		select {
		case a.entered <- struct{}{}:
		default:
		}
	}
	if a.block != nil {
		<-a.block
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	a.mu.Lock()
	a.delivered = append(a.delivered, d)
	a.ctxErrs = append(a.ctxErrs, ctx.Err())
	a.mu.Unlock()
	a.events.add("settled " + d.Notification.URL)
	if a.panics {
		panic("adapter exploded")
	}
	return a.err
}

func (a *recordingAdapter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.delivered)
}

type harness struct {
	repo      *repository.MockQueueRepository
	dl        *stubDownloader
	primary   *recordingAdapter
	secondary *recordingAdapter
	settings  *config.StaticSource
	proc      *processor.Processor

	outcomes []processor.Outcome
	mu       sync.Mutex
}

func newHarness() *harness {
	h := &harness{
		repo:      repository.NewMockQueueRepository(),
		dl:        &stubDownloader{},
		primary:   &recordingAdapter{platform: domain.PlatformPrimary},
		secondary: &recordingAdapter{platform: domain.PlatformSecondary},
		settings: &config.StaticSource{S: config.Settings{
			DownloadEngine:    "direct",
			PrimaryGuildID:    "g",
			FallbackChannelID: "fb",
		}},
	}
	hooks := processor.Hooks{OnJob: func(o processor.Outcome) {
		h.mu.Lock()
		h.outcomes = append(h.outcomes, o)
		h.mu.Unlock()
	}}
	h.proc = processor.New(
		h.repo, h.dl,
		[]delivery.Adapter{h.primary, h.secondary},
		h.settings, nil,
		processor.Options{Interval: 10 * time.Millisecond},
		hooks, zap.NewNop(),
	)
	return h
}

func (h *harness) enqueue(t *testing.T, username string) *domain.QueueJob {
	t.Helper()
	url := "https://platform.example/@" + username + "/video/1"
	job, err := h.repo.Enqueue(context.Background(), domain.JobPayload{
		URL:                  url,
		Username:             username,
		DestinationChannelID: "chan-" + username,
		Notification:         domain.Notification{Username: username, URL: url, ContentType: domain.ContentVideo},
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func (h *harness) job(t *testing.T, id string) *domain.QueueJob {
	t.Helper()
	j, err := h.repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	return j
}

// --- tests ---

func TestDrain_DeliversToBothPlatformsAndMarksDone(t *testing.T) {
	h := newHarness()
	job := h.enqueue(t, "jane_doe")

	rep, err := h.proc.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Fetched != 1 || rep.Done != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if h.primary.count() != 1 || h.secondary.count() != 1 {
		t.Fatalf("expected one delivery per platform, got %d/%d", h.primary.count(), h.secondary.count())
	}
	got := h.job(t, job.ID)
	if got.Status != domain.JobDone || got.Attempts != 1 {
		t.Fatalf("expected done with 1 attempt, got %s/%d", got.Status, got.Attempts)
	}
	d := h.primary.delivered[0]
	if d.Destination.ChannelID != "chan-jane_doe" || !d.Media.HasPayload() {
		t.Fatalf("unexpected delivery: %+v", d)
	}
}

func TestDrain_PartialFailureStillDone(t *testing.T) {
	h := newHarness()
	h.primary.err = &domain.DeliveryError{Platform: domain.PlatformPrimary, Cause: errors.New("discord down")}
	job := h.enqueue(t, "jane_doe")

	if _, err := h.proc.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.secondary.count() != 1 {
		t.Fatal("secondary must still be attempted when primary fails")
	}
	if got := h.job(t, job.ID); got.Status != domain.JobDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestDrain_AdapterPanicIsADeliveryFailure(t *testing.T) {
	h := newHarness()
	h.secondary.panics = true
	job := h.enqueue(t, "jane_doe")

	if _, err := h.proc.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := h.job(t, job.ID); got.Status != domain.JobDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestDrain_AttemptsIncreaseAndTerminalAtThree(t *testing.T) {
	h := newHarness()
	h.repo.MarkDoneErr = errors.New("store unavailable")
	job := h.enqueue(t, "jane_doe")

	for i := 1; i <= 3; i++ {
		if _, err := h.proc.Drain(context.Background()); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
		got := h.job(t, job.ID)
		if got.Attempts != i {
			t.Fatalf("drain %d: expected attempts=%d, got %d", i, i, got.Attempts)
		}
		want := domain.JobPending
		if i == 3 {
			want = domain.JobFailed
		}
		if got.Status != want {
			t.Fatalf("drain %d: expected %s, got %s", i, want, got.Status)
		}
	}

	// A failed job is never picked up again.
	rep, _ := h.proc.Drain(context.Background())
	if rep.Fetched != 0 {
		t.Fatalf("failed job fetched again: %+v", rep)
	}
	want := []processor.Outcome{processor.OutcomeRetry, processor.OutcomeRetry, processor.OutcomeFailed}
	if len(h.outcomes) != len(want) {
		t.Fatalf("outcomes: want %v, got %v", want, h.outcomes)
	}
	for i := range want {
		if h.outcomes[i] != want[i] {
			t.Fatalf("outcomes: want %v, got %v", want, h.outcomes)
		}
	}
}

func TestDrain_UndecodablePayloadFailsAfterRetries(t *testing.T) {
	h := newHarness()
	job := h.repo.Insert([]byte(`{"url": 42`))

	for i := 0; i < 3; i++ {
		_, _ = h.proc.Drain(context.Background())
	}
	if got := h.job(t, job.ID); got.Status != domain.JobFailed || got.Attempts != 3 {
		t.Fatalf("expected failed after 3 attempts, got %s/%d", got.Status, got.Attempts)
	}
	if h.primary.count() != 0 || h.dl.calls.Load() != 0 {
		t.Fatal("undecodable job must not reach download or delivery")
	}
}

func TestDrain_AutoDownloadOffSkipsEngine(t *testing.T) {
	h := newHarness()
	off := false
	h.settings.S.AutoDownload = &off
	job := h.enqueue(t, "jane_doe")

	if _, err := h.proc.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := h.dl.calls.Load(); n != 0 {
		t.Fatalf("expected no engine call, got %d", n)
	}
	d := h.primary.delivered[0]
	if d.Media.HasPayload() || len(d.Media.SourceURLs) != 1 || d.Media.SourceURLs[0] != "https://platform.example/@jane_doe/video/1" {
		t.Fatalf("expected link-only media, got %+v", d.Media)
	}
	if got := h.job(t, job.ID); got.Status != domain.JobDone {
		t.Fatalf("expected done, got %s", got.Status)
	}
}

func TestDrain_RetrievalErrorDegradesToLinkOnly(t *testing.T) {
	h := newHarness()
	h.dl.err = &domain.RetrievalError{Engine: "direct", URL: "u", Cause: errors.New("403")}
	job := h.enqueue(t, "jane_doe")

	if _, err := h.proc.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d := h.secondary.delivered[0]; d.Media.HasPayload() {
		t.Fatal("expected link-only delivery after retrieval error")
	}
	if got := h.job(t, job.ID); got.Status != domain.JobDone || got.Attempts != 1 {
		t.Fatalf("expected done after one attempt, got %s/%d", got.Status, got.Attempts)
	}
}

func TestDrain_BatchIsBoundedAndOldestFirst(t *testing.T) {
	h := newHarness()
	var ids []string
	for _, u := range []string{"a1", "b2", "c3", "d4", "e5", "f6", "g7"} {
		ids = append(ids, h.enqueue(t, u).ID)
	}

	rep, err := h.proc.Drain(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rep.Fetched != 5 {
		t.Fatalf("expected batch of 5, got %d", rep.Fetched)
	}
	for i, id := range ids {
		want := domain.JobDone
		if i >= 5 {
			want = domain.JobPending
		}
		if got := h.job(t, id); got.Status != want {
			t.Fatalf("job %d: expected %s, got %s", i, want, got.Status)
		}
	}
}

func TestDrain_AtMostOneAtATime(t *testing.T) {
	h := newHarness()
	h.dl.entered = make(chan struct{})
	h.dl.release = make(chan struct{})
	h.enqueue(t, "jane_doe")

	done := make(chan error, 1)
	go func() {
		_, err := h.proc.Drain(context.Background())
		done <- err
	}()

	<-h.dl.entered
	if h.proc.State() != processor.StateDraining {
		t.Fatalf("expected draining state, got %s", h.proc.State())
	}
	if _, err := h.proc.Drain(context.Background()); !errors.Is(err, domain.ErrDrainInProgress) {
		t.Fatalf("expected ErrDrainInProgress, got %v", err)
	}
	close(h.dl.release)

	if err := <-done; err != nil {
		t.Fatalf("first drain: %v", err)
	}
	if h.repo.GetPendingCalls != 1 {
		t.Fatalf("overlapping drain must not read the store, got %d reads", h.repo.GetPendingCalls)
	}
	if h.proc.State() != processor.StateIdle {
		t.Fatal("state must return to idle after the drain")
	}
}

func TestDrain_StoreErrorResetsState(t *testing.T) {
	h := newHarness()
	h.repo.GetPendingErr = errors.New("connection refused")

	if _, err := h.proc.Drain(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if h.proc.State() != processor.StateIdle {
		t.Fatal("state must reset after a failed drain")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	h := newHarness()
	h.enqueue(t, "jane_doe")
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.proc.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for h.primary.count() == 0 {
		select {
		case <-deadline:
			t.Fatal("processor never drained")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRun_CancelLetsInFlightJobFinish(t *testing.T) {
	h := newHarness()
	h.dl.entered = make(chan struct{})
	h.dl.release = make(chan struct{})
	first := h.enqueue(t, "a1")
	second := h.enqueue(t, "b2")
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.proc.Run(ctx)
		close(stopped)
	}()

	select {
	case <-h.dl.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("processor never started a download")
	}
	cancel()
	close(h.dl.release)

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if len(h.dl.ctxErrs) != 1 || h.dl.ctxErrs[0] != nil {
		t.Fatalf("download must run on a live context, got %v", h.dl.ctxErrs)
	}
	for _, a := range []*recordingAdapter{h.primary, h.secondary} {
		if a.count() != 1 {
			t.Fatalf("%s: expected one delivery, got %d", a.platform, a.count())
		}
		if a.ctxErrs[0] != nil {
			t.Fatalf("%s: delivery saw cancelled context: %v", a.platform, a.ctxErrs[0])
		}
		if !a.delivered[0].Media.HasPayload() {
			t.Fatalf("%s: in-flight job degraded to link only", a.platform)
		}
	}
	if got := h.job(t, first.ID); got.Status != domain.JobDone || got.Attempts != 1 {
		t.Fatalf("in-flight job: expected done/1, got %s/%d", got.Status, got.Attempts)
	}
	if got := h.job(t, second.ID); got.Status != domain.JobPending || got.Attempts != 0 {
		t.Fatalf("next job must stay untouched, got %s/%d", got.Status, got.Attempts)
	}
}

func TestDrain_AdaptersRunConcurrently(t *testing.T) {
	for _, blocked := range []domain.Platform{domain.PlatformPrimary, domain.PlatformSecondary} {
		t.Run(string(blocked), func(t *testing.T) {
			h := newHarness()
			slow, other := h.primary, h.secondary
			if blocked == domain.PlatformSecondary {
				slow, other = h.secondary, h.primary
			}
			slow.block = make(chan struct{})
			other.entered = make(chan struct{}, 1)
			job := h.enqueue(t, "jane_doe")

			done := make(chan error, 1)
			go func() {
				_, err := h.proc.Drain(context.Background())
				done <- err
			}()

			select {
			case <-other.entered:
			case <-time.After(2 * time.Second):
				close(slow.block)
				t.Fatal("a blocked adapter delayed the other one")
			}
			if got := h.job(t, job.ID); got.Status != domain.JobPending {
				t.Fatalf("job settled before every adapter returned: %s", got.Status)
			}
			close(slow.block)

			if err := <-done; err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := h.job(t, job.ID); got.Status != domain.JobDone {
				t.Fatalf("expected done, got %s", got.Status)
			}
		})
	}
}

func TestDrain_JobsInBatchDoNotInterleave(t *testing.T) {
	h := newHarness()
	log := &eventLog{}
	h.dl.events = log
	h.primary.events = log
	h.secondary.events = log
	h.primary.delay = 20 * time.Millisecond
	h.enqueue(t, "a1")
	h.enqueue(t, "b2")

	if _, err := h.proc.Drain(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	events := log.snapshot()
	if len(events) != 10 {
		t.Fatalf("expected 10 events, got %d: %v", len(events), events)
	}
	urls := []string{"https://platform.example/@a1/video/1", "https://platform.example/@b2/video/1"}
	for i, e := range events {
		if !strings.HasSuffix(e, " "+urls[i/5]) {
			t.Fatalf("event %d (%q) belongs to the wrong job; sequence: %v", i, e, events)
		}
	}
	if events[0] != "download "+urls[0] || events[5] != "download "+urls[1] {
		t.Fatalf("each job must start with its download: %v", events)
	}
}
