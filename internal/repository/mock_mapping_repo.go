package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// MockMappingRepository is an in-memory MappingRepository for unit tests.
// It follows the same upsert semantics as the SQL implementation.
type MockMappingRepository struct {
	mu       sync.RWMutex
	mappings map[string]*domain.DestinationMapping

	GetErr      error
	UpsertErr   error
	SetTopicErr error

	// now is swappable so tests can observe updated_at moving.
	now func() time.Time
}

func NewMockMappingRepository() *MockMappingRepository {
	return &MockMappingRepository{
		mappings: make(map[string]*domain.DestinationMapping),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (m *MockMappingRepository) SetClock(now func() time.Time) { m.now = now }

func (m *MockMappingRepository) Get(_ context.Context, username string) (*domain.DestinationMapping, error) {
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.mappings[username]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *mp
	return &clone, nil
}

func (m *MockMappingRepository) Upsert(_ context.Context, username, destinationChannelID string, audienceTagID *string) (*domain.DestinationMapping, error) {
	if m.UpsertErr != nil {
		return nil, m.UpsertErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	mp, ok := m.mappings[username]
	if !ok {
		mp = &domain.DestinationMapping{Username: username, CreatedAt: now}
		m.mappings[username] = mp
	}
	mp.DestinationChannelID = destinationChannelID
	mp.AudienceTagID = audienceTagID
	mp.UpdatedAt = now
	clone := *mp
	return &clone, nil
}

func (m *MockMappingRepository) SetSecondaryTopic(_ context.Context, username string, topicID *string) error {
	if m.SetTopicErr != nil {
		return m.SetTopicErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mp, ok := m.mappings[username]
	if !ok {
		return domain.ErrNotFound
	}
	mp.SecondaryTopicID = topicID
	mp.UpdatedAt = m.now()
	return nil
}

func (m *MockMappingRepository) List(_ context.Context) ([]*domain.DestinationMapping, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*domain.DestinationMapping, 0, len(m.mappings))
	for _, mp := range m.mappings {
		clone := *mp
		result = append(result, &clone)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

// Len returns the number of stored mappings.
func (m *MockMappingRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.mappings)
}
