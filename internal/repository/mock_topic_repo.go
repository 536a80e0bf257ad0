package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// MockTopicRepository is an in-memory TopicRepository for unit tests.
type MockTopicRepository struct {
	mu     sync.Mutex
	topics map[string]domain.Topic

	ListErr error
	SaveErr error
}

func NewMockTopicRepository() *MockTopicRepository {
	return &MockTopicRepository{topics: make(map[string]domain.Topic)}
}

func (m *MockTopicRepository) List(_ context.Context) ([]domain.Topic, error) {
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]domain.Topic, 0, len(m.topics))
	for _, t := range m.topics {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MockTopicRepository) Save(_ context.Context, t domain.Topic) error {
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.mu.Lock()
	m.topics[t.ID] = t
	m.mu.Unlock()
	return nil
}

func (m *MockTopicRepository) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.topics, threadID)
	m.mu.Unlock()
	return nil
}

// Len returns the number of stored topics.
func (m *MockTopicRepository) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topics)
}
