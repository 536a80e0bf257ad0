package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/delivery"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/repository"
)

// State is the processor's drain state.
type State int32

const (
	StateIdle State = iota
	StateDraining
)

func (s State) String() string {
	if s == StateDraining {
		return "draining"
	}
	return "idle"
}

// Outcome labels what happened to a job in one drain.
type Outcome string

const (
	OutcomeDone   Outcome = "done"
	OutcomeRetry  Outcome = "retry"
	OutcomeFailed Outcome = "failed"
)

// Downloader is satisfied by *downloader.Service.
type Downloader interface {
	Download(ctx context.Context, url string) (*domain.DownloadResult, error)
}

// Archive stores retrieved media. Optional.
type Archive interface {
	Store(ctx context.Context, jobID string, res *domain.DownloadResult) error
}

// Hooks are metric callbacks; every field is optional.
type Hooks struct {
	OnJob      func(Outcome)
	OnDelivery func(domain.Platform, bool)
	OnDrain    func(batch int, d time.Duration)
}

// Options tune the processor; zero values take the defaults.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

const (
	defaultInterval  = 5 * time.Second
	defaultBatchSize = 5
)

// Report summarises one drain.
type Report struct {
	Fetched int `json:"fetched"`
	Done    int `json:"done"`
	Retry   int `json:"retry"`
	Failed  int `json:"failed"`
}

// Processor drains the pending queue on a fixed tick. At most one drain runs
// at a time; jobs within a drain are handled one after another and each job
// fans out to every adapter concurrently.
type Processor struct {
	repo     repository.QueueRepository
	dl       Downloader
	adapters []delivery.Adapter
	settings config.Source
	archive  Archive
	opts     Options
	hooks    Hooks
	logger   *zap.Logger

	state atomic.Int32
}

func New(
	repo repository.QueueRepository,
	dl Downloader,
	adapters []delivery.Adapter,
	settings config.Source,
	archive Archive,
	opts Options,
	hooks Hooks,
	logger *zap.Logger,
) *Processor {
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.MaxAttempts
	}
	if hooks.OnJob == nil {
		hooks.OnJob = func(Outcome) {}
	}
	if hooks.OnDelivery == nil {
		hooks.OnDelivery = func(domain.Platform, bool) {}
	}
	if hooks.OnDrain == nil {
		hooks.OnDrain = func(int, time.Duration) {}
	}
	return &Processor{
		repo: repo, dl: dl, adapters: adapters,
		settings: settings, archive: archive,
		opts: opts, hooks: hooks, logger: logger,
	}
}

// State reports whether a drain is running.
func (p *Processor) State() State { return State(p.state.Load()) }

// Run ticks every interval and drains the queue. Stops cleanly when ctx is
// cancelled; an in-flight drain finishes its current job first and leaves
// the rest of the batch pending.
func (p *Processor) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.Interval)
	defer ticker.Stop()

	p.logger.Info("queue processor started",
		zap.Duration("interval", p.opts.Interval),
		zap.Int("batch_size", p.opts.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("queue processor stopping")
			return
		case <-ticker.C:
			if _, err := p.Drain(ctx); err != nil && !errors.Is(err, domain.ErrDrainInProgress) {
				p.logger.Error("queue drain failed", zap.Error(err))
			}
		}
	}
}

// Drain processes one batch of pending jobs. It returns
// domain.ErrDrainInProgress without touching the store when another drain
// holds the state. Cancelling ctx stops the batch between jobs; a job that
// has started runs to completion.
func (p *Processor) Drain(ctx context.Context) (Report, error) {
	if !p.state.CompareAndSwap(int32(StateIdle), int32(StateDraining)) {
		p.logger.Debug("drain skipped, already draining")
		return Report{}, domain.ErrDrainInProgress
	}
	defer p.state.Store(int32(StateIdle))

	start := time.Now()
	jobs, err := p.repo.GetPending(ctx, p.opts.BatchSize)
	if err != nil {
		return Report{}, fmt.Errorf("fetch pending jobs: %w", err)
	}

	jobCtx := context.WithoutCancel(ctx)
	rep := Report{Fetched: len(jobs)}
	for _, job := range jobs {
		if ctx.Err() != nil {
			p.logger.Info("drain interrupted, leaving remaining jobs pending")
			break
		}
		switch out := p.handle(jobCtx, job); out {
		case OutcomeDone:
			rep.Done++
		case OutcomeRetry:
			rep.Retry++
		case OutcomeFailed:
			rep.Failed++
		}
	}

	p.hooks.OnDrain(len(jobs), time.Since(start))
	if len(jobs) > 0 {
		p.logger.Info("queue drained",
			zap.Int("fetched", rep.Fetched),
			zap.Int("done", rep.Done),
			zap.Int("retry", rep.Retry),
			zap.Int("failed", rep.Failed),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
	return rep, nil
}

// handle runs one job and settles its status. A job-level error leaves the job
// pending until its attempt count reaches the maximum, then marks it failed.
func (p *Processor) handle(ctx context.Context, job *domain.QueueJob) Outcome {
	log := p.logger.With(zap.String("job_id", job.ID))

	attempts, err := p.process(ctx, job, log)
	if err == nil {
		p.hooks.OnJob(OutcomeDone)
		return OutcomeDone
	}

	if attempts < p.opts.MaxAttempts {
		log.Warn("job attempt failed, will retry",
			zap.Int("attempts", attempts), zap.Error(err))
		p.hooks.OnJob(OutcomeRetry)
		return OutcomeRetry
	}

	log.Error("job retries exhausted, marking failed",
		zap.Int("attempts", attempts), zap.Error(err))
	if err := p.repo.MarkFailed(ctx, job.ID); err != nil {
		log.Error("failed to mark job failed", zap.Error(err))
		p.hooks.OnJob(OutcomeRetry)
		return OutcomeRetry
	}
	p.hooks.OnJob(OutcomeFailed)
	return OutcomeFailed
}

// process returns the attempt count as seen after this attempt started and
// any job-level error. Delivery errors are not job-level.
func (p *Processor) process(ctx context.Context, job *domain.QueueJob, log *zap.Logger) (attempts int, err error) {
	attempts = job.Attempts
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic while processing job: %v", r)
		}
	}()

	attempts, err = p.repo.IncrementAttempts(ctx, job.ID)
	if err != nil {
		return job.Attempts, fmt.Errorf("increment attempts: %w", err)
	}

	payload, err := job.Decode()
	if err != nil {
		return attempts, err
	}
	log = log.With(zap.String("username", payload.Username), zap.Int("attempt", attempts))

	media := p.retrieve(ctx, job.ID, payload, log)

	d := domain.Delivery{
		JobID:        job.ID,
		Notification: payload.Notification,
		Media:        media,
		Destination: domain.Destination{
			Username:      payload.Username,
			ChannelID:     payload.DestinationChannelID,
			AudienceTagID: payload.AudienceTagID,
		},
		SourceLabel: payload.SourceLabel,
	}
	if d.Notification.URL == "" {
		d.Notification = domain.Notification{Username: payload.Username, URL: payload.URL, ContentType: domain.ClassifyURL(payload.URL)}
	}
	p.fanOut(ctx, d, log)

	if err := p.repo.MarkDone(ctx, job.ID); err != nil {
		return attempts, fmt.Errorf("mark done: %w", err)
	}
	log.Info("job done")
	return attempts, nil
}

// retrieve never fails: a disabled auto-download or a retrieval error yields a
// link-only result.
func (p *Processor) retrieve(ctx context.Context, jobID string, payload domain.JobPayload, log *zap.Logger) *domain.DownloadResult {
	if st := p.settings.Get(); st != nil && !st.AutoDownloadEnabled() {
		log.Debug("auto download disabled, delivering link only")
		return domain.LinkOnly(payload.URL)
	}

	res, err := p.dl.Download(ctx, payload.URL)
	if err != nil {
		log.Warn("media retrieval failed, delivering link only", zap.Error(err))
		return domain.LinkOnly(payload.URL)
	}

	if p.archive != nil && res.HasPayload() {
		if err := p.archive.Store(ctx, jobID, res); err != nil {
			log.Warn("media archive failed", zap.Error(err))
		}
	}
	return res
}

// fanOut calls every adapter concurrently and waits for all of them. Each
// outcome is logged and counted on its own; a panicking adapter counts as a
// failed delivery.
func (p *Processor) fanOut(ctx context.Context, d domain.Delivery, log *zap.Logger) {
	var wg sync.WaitGroup
	for _, a := range p.adapters {
		wg.Add(1)
		go func(a delivery.Adapter) {
			defer wg.Done()
			err := p.deliverOne(ctx, a, d)
			platform := a.Platform()
			p.hooks.OnDelivery(platform, err == nil)
			if err != nil {
				log.Warn("delivery failed", zap.String("platform", string(platform)), zap.Error(err))
				return
			}
			log.Debug("delivered", zap.String("platform", string(platform)))
		}(a)
	}
	wg.Wait()
}

func (p *Processor) deliverOne(ctx context.Context, a delivery.Adapter, d domain.Delivery) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.DeliveryError{Platform: a.Platform(), Cause: fmt.Errorf("panic: %v", r)}
		}
	}()
	return a.Deliver(ctx, d)
}
