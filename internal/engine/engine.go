// Package engine defines the download-engine contract and the registry the
// downloader selects engines from. Each engine turns a source URL into one
// or more media payloads; how it does so is its own business.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/notifyhub/creator-relay/internal/domain"
)

// Engine retrieves media for a source URL.
// Implementations validate what they fetched and fail rather than return
// partial or implausible results.
type Engine interface {
	Name() string
	Download(ctx context.Context, url string) (*domain.DownloadResult, error)
}

// VariantSupporter is implemented by engines that accept a sub-variant
// (format selector, quality, ...). WithVariant returns a configured copy and
// leaves the receiver untouched.
type VariantSupporter interface {
	WithVariant(variant string) (Engine, error)
}

// Registry maps engine names to engines. It is populated once at start-up.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: make(map[string]Engine)}
}

// Register adds e under e.Name(). Registering the same name twice is an error.
func (r *Registry) Register(engines ...Engine) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range engines {
		name := e.Name()
		if _, dup := r.engines[name]; dup {
			return fmt.Errorf("engine %q already registered", name)
		}
		r.engines[name] = e
	}
	return nil
}

func (r *Registry) Lookup(name string) (Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	return e, ok
}

// Names returns the registered engine names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
