package plugin

import (
	"log/slog"
	"sync"

	"embedbot/internal/domain"
)

// Registry holds the content providers in registration order. It is filled
// once at startup and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	providers []domain.Provider
	sealed    bool
	logger    *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register appends providers in the given order. Only the first call takes
// effect; a later call is ignored so match order never changes at runtime.
// Duplicate names are kept.
func (r *Registry) Register(providers ...domain.Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		r.logger.Warn("provider registry already sealed, ignoring registration", "count", len(providers))
		return
	}
	r.sealed = true
	for _, p := range providers {
		if p.Name == "" {
			p.Name = domain.DefaultProviderName
		}
		r.providers = append(r.providers, p)
		r.logger.Debug("registered provider", "name", p.Name, "exclusive", p.Exclusive)
	}
}

// List returns the providers in registration order.
func (r *Registry) List() []domain.Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for _, p := range r.providers {
		names = append(names, p.Name)
	}
	return names
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}
