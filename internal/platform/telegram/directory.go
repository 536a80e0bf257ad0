package telegram

import (
	"sort"
	"strconv"
	"sync"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// directory is the in-memory forum topic index, ordered by thread id.
type directory struct {
	mu     sync.RWMutex
	topics map[string]domain.Topic
}

func newDirectory() *directory {
	return &directory{topics: make(map[string]domain.Topic)}
}

func (d *directory) put(t domain.Topic) {
	d.mu.Lock()
	d.topics[t.ID] = t
	d.mu.Unlock()
}

func (d *directory) remove(id string) {
	d.mu.Lock()
	delete(d.topics, id)
	d.mu.Unlock()
}

func (d *directory) page(offset, limit int) []domain.Topic {
	d.mu.RLock()
	all := make([]domain.Topic, 0, len(d.topics))
	for _, t := range d.topics {
		all = append(all, t)
	}
	d.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return threadNum(all[i].ID) < threadNum(all[j].ID) })

	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) || limit <= 0 {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

func threadNum(id string) int {
	n, _ := strconv.Atoi(id)
	return n
}
