// Package downloader picks the configured engine for each download and keeps
// engine failures from leaking past a RetrievalError.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/config"
	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/engine"
)

// Service resolves the engine selector from the live settings on every call,
// so an operator can switch engines without a restart.
type Service struct {
	registry *engine.Registry
	settings config.Source
	logger   *zap.Logger

	// onResult is an optional metrics hook (engine name, success, latency).
	onResult func(engine string, ok bool, latency time.Duration)
}

func NewService(
	registry *engine.Registry,
	settings config.Source,
	logger *zap.Logger,
	onResult func(string, bool, time.Duration),
) *Service {
	if onResult == nil {
		onResult = func(string, bool, time.Duration) {}
	}
	return &Service{registry: registry, settings: settings, logger: logger, onResult: onResult}
}

// Download retrieves media for url with the currently selected engine.
// Every failure, including misconfiguration, is returned as a
// *domain.RetrievalError.
func (s *Service) Download(ctx context.Context, url string) (*domain.DownloadResult, error) {
	st := s.settings.Get()
	if st == nil {
		return nil, &domain.RetrievalError{URL: url, Cause: errors.New("settings not loaded")}
	}
	name, variant := st.EngineSelector()

	e, err := s.selectEngine(name, variant)
	if err != nil {
		return nil, &domain.RetrievalError{Engine: st.DownloadEngine, URL: url, Cause: err}
	}

	start := time.Now()
	res, err := e.Download(ctx, url)
	elapsed := time.Since(start)
	if err == nil {
		err = checkResult(res)
	}
	if err != nil {
		s.onResult(name, false, elapsed)
		return nil, &domain.RetrievalError{Engine: st.DownloadEngine, URL: url, Cause: err}
	}

	s.onResult(name, true, elapsed)
	s.logger.Info("media retrieved",
		zap.String("engine", st.DownloadEngine),
		zap.String("url", url),
		zap.String("kind", string(res.MediaKind)),
		zap.Int("payloads", len(res.Payloads)),
		zap.Int("bytes", res.TotalSize()),
		zap.Duration("latency", elapsed),
	)
	return res, nil
}

// selectEngine looks up name and applies variant. There is no fallback
// engine: an unknown name is a configuration error.
func (s *Service) selectEngine(name, variant string) (engine.Engine, error) {
	e, ok := s.registry.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", domain.ErrUnknownEngine, name, s.registry.Names())
	}
	if variant == "" {
		return e, nil
	}
	vs, ok := e.(engine.VariantSupporter)
	if !ok {
		s.logger.Warn("engine does not support variants; ignoring",
			zap.String("engine", name), zap.String("variant", variant))
		return e, nil
	}
	return vs.WithVariant(variant)
}

// checkResult enforces the result invariants engines promise.
func checkResult(res *domain.DownloadResult) error {
	if res == nil {
		return engine.ErrNoMedia
	}
	if len(res.SourceURLs) == 0 {
		return errors.New("engine returned no source urls")
	}
	if res.MediaKind != domain.MediaVideo && res.MediaKind != domain.MediaImage {
		return fmt.Errorf("engine returned unknown media kind %q", res.MediaKind)
	}
	return nil
}
