package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/notifyhub/creator-relay/internal/domain"
	"github.com/notifyhub/creator-relay/internal/processor"
	"github.com/notifyhub/creator-relay/internal/repository"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Drainer is satisfied by *processor.Processor.
type Drainer interface {
	Drain(ctx context.Context) (processor.Report, error)
}

// RelayService backs the admin API: queue inspection, mapping maintenance and
// the manual drain trigger. Handlers depend on this service, not on the
// repositories or the processor directly.
type RelayService struct {
	jobs     repository.QueueRepository
	mappings repository.MappingRepository
	drainer  Drainer
	logger   *zap.Logger
}

func NewRelayService(
	jobs repository.QueueRepository,
	mappings repository.MappingRepository,
	drainer Drainer,
	logger *zap.Logger,
) *RelayService {
	return &RelayService{jobs: jobs, mappings: mappings, drainer: drainer, logger: logger}
}

// DrainNow runs one drain. It returns domain.ErrDrainInProgress when the
// ticker's drain is already running.
func (s *RelayService) DrainNow(ctx context.Context) (processor.Report, error) {
	rep, err := s.drainer.Drain(ctx)
	if err != nil {
		return rep, err
	}
	s.logger.Info("manual drain finished", zap.Int("fetched", rep.Fetched))
	return rep, nil
}

// GetJob treats an id that is not a UUID as unknown.
func (s *RelayService) GetJob(ctx context.Context, id string) (*domain.QueueJob, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	return s.jobs.GetByID(ctx, id)
}

// ListJobs clamps the limit to (0, 100] and validates the status filter.
func (s *RelayService) ListJobs(ctx context.Context, f domain.JobFilter) ([]*domain.QueueJob, error) {
	if f.Status != nil && !f.Status.IsValid() {
		return nil, domain.ErrInvalidStatus
	}
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	jobs, err := s.jobs.List(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

func (s *RelayService) GetMapping(ctx context.Context, username string) (*domain.DestinationMapping, error) {
	return s.mappings.Get(ctx, username)
}

func (s *RelayService) ListMappings(ctx context.Context) ([]*domain.DestinationMapping, error) {
	m, err := s.mappings.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	return m, nil
}

// UpsertMapping repoints a username at a channel. This is how an operator
// repairs a mapping whose channel was deleted.
func (s *RelayService) UpsertMapping(ctx context.Context, username string, req domain.UpsertMappingRequest) (*domain.DestinationMapping, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, domain.ErrInvalidUsername
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.AudienceTagID != nil && strings.TrimSpace(*req.AudienceTagID) == "" {
		req.AudienceTagID = nil
	}
	m, err := s.mappings.Upsert(ctx, username, req.DestinationChannelID, req.AudienceTagID)
	if err != nil {
		return nil, fmt.Errorf("upsert mapping: %w", err)
	}
	s.logger.Info("mapping updated",
		zap.String("username", username),
		zap.String("destination_channel_id", m.DestinationChannelID),
	)
	return m, nil
}
