package repository

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// MockQueueRepository is a hand-written, in-memory implementation of
// QueueRepository used in unit tests. No mock-generation library needed.
type MockQueueRepository struct {
	mu   sync.Mutex
	jobs map[string]*domain.QueueJob
	seq  map[string]int
	next int

	// Optional error overrides, set in tests to simulate failure paths.
	EnqueueErr    error
	GetPendingErr error
	IncrementErr  error
	MarkDoneErr   error
	MarkFailedErr error

	// Counters observed by tests.
	GetPendingCalls int
}

func NewMockQueueRepository() *MockQueueRepository {
	return &MockQueueRepository{
		jobs: make(map[string]*domain.QueueJob),
		seq:  make(map[string]int),
	}
}

func (m *MockQueueRepository) Enqueue(_ context.Context, payload domain.JobPayload) (*domain.QueueJob, error) {
	if m.EnqueueErr != nil {
		return nil, m.EnqueueErr
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return m.Insert(raw), nil
}

// Insert stores a raw payload as a pending job, bypassing validation.
// Tests use it to seed undecodable payloads.
func (m *MockQueueRepository) Insert(raw json.RawMessage) *domain.QueueJob {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	j := &domain.QueueJob{
		ID:        uuid.New().String(),
		Payload:   raw,
		Status:    domain.JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.jobs[j.ID] = j
	m.seq[j.ID] = m.next
	m.next++
	clone := *j
	return &clone
}

func (m *MockQueueRepository) GetPending(_ context.Context, limit int) ([]*domain.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.GetPendingCalls++
	if m.GetPendingErr != nil {
		return nil, m.GetPendingErr
	}
	var result []*domain.QueueJob
	for _, j := range m.ordered() {
		if j.Status != domain.JobPending {
			continue
		}
		clone := *j
		result = append(result, &clone)
		if len(result) == limit {
			break
		}
	}
	return result, nil
}

func (m *MockQueueRepository) IncrementAttempts(_ context.Context, id string) (int, error) {
	if m.IncrementErr != nil {
		return 0, m.IncrementErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return 0, domain.ErrNotFound
	}
	j.Attempts++
	j.UpdatedAt = time.Now().UTC()
	return j.Attempts, nil
}

func (m *MockQueueRepository) MarkDone(_ context.Context, id string) error {
	if m.MarkDoneErr != nil {
		return m.MarkDoneErr
	}
	m.setTerminal(id, domain.JobDone)
	return nil
}

func (m *MockQueueRepository) MarkFailed(_ context.Context, id string) error {
	if m.MarkFailedErr != nil {
		return m.MarkFailedErr
	}
	m.setTerminal(id, domain.JobFailed)
	return nil
}

func (m *MockQueueRepository) setTerminal(id string, status domain.JobStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.Status == domain.JobPending {
		j.Status = status
		j.UpdatedAt = time.Now().UTC()
	}
}

func (m *MockQueueRepository) GetByID(_ context.Context, id string) (*domain.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	clone := *j
	return &clone, nil
}

func (m *MockQueueRepository) List(_ context.Context, f domain.JobFilter) ([]*domain.QueueJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ordered := m.ordered()
	result := make([]*domain.QueueJob, 0, len(ordered))
	for i := len(ordered) - 1; i >= 0; i-- {
		j := ordered[i]
		if f.Status != nil && j.Status != *f.Status {
			continue
		}
		clone := *j
		result = append(result, &clone)
		if f.Limit > 0 && len(result) == f.Limit {
			break
		}
	}
	return result, nil
}

// ordered returns jobs oldest first. Caller holds mu.
func (m *MockQueueRepository) ordered() []*domain.QueueJob {
	out := make([]*domain.QueueJob, 0, len(m.jobs))
	for _, j := range m.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(a, b int) bool { return m.seq[out[a].ID] < m.seq[out[b].ID] })
	return out
}
