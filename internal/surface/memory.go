package surface

import (
	"context"
	"html/template"
	"sync"

	"embedbot/internal/domain"
)

// Memory keeps filled markup in memory. It backs the webhook responses, the
// one-shot annotate command, and tests.
type Memory struct {
	live *Live

	mu     sync.Mutex
	markup map[string]template.HTML
	writes map[string]int
	notify map[string][]chan struct{}
}

func NewMemory(max int) *Memory {
	m := &Memory{
		markup: make(map[string]template.HTML),
		writes: make(map[string]int),
		notify: make(map[string][]chan struct{}),
	}
	m.live = NewLive(max, m.forget)
	return m
}

// Mount creates an empty slot for key.
func (m *Memory) Mount(key string) {
	m.live.Mount(key, TargetFunc(func(ctx context.Context, markup template.HTML) error {
		m.mu.Lock()
		m.markup[key] = markup
		m.writes[key]++
		waiters := m.notify[key]
		delete(m.notify, key)
		m.mu.Unlock()
		for _, ch := range waiters {
			close(ch)
		}
		return nil
	}))
}

// Discard drops key and whatever was written to it.
func (m *Memory) Discard(key string) {
	m.live.Unmount(key)
	m.forget(key)
}

func (m *Memory) forget(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.markup, key)
	delete(m.writes, key)
	for _, ch := range m.notify[key] {
		close(ch)
	}
	delete(m.notify, key)
}

func (m *Memory) Locate(ctx context.Context, key string) (domain.Target, bool) {
	return m.live.Locate(ctx, key)
}

// Markup returns what was last written for key.
func (m *Memory) Markup(key string) (template.HTML, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.markup[key]
	return h, ok
}

// Writes counts the writes key received.
func (m *Memory) Writes(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[key]
}

// WaitFilled blocks until key is written or discarded, or ctx is done.
func (m *Memory) WaitFilled(ctx context.Context, key string) (template.HTML, bool) {
	m.mu.Lock()
	if h, ok := m.markup[key]; ok {
		m.mu.Unlock()
		return h, true
	}
	if !m.live.Mounted(key) {
		m.mu.Unlock()
		return "", false
	}
	ch := make(chan struct{})
	m.notify[key] = append(m.notify[key], ch)
	m.mu.Unlock()

	select {
	case <-ch:
		return m.Markup(key)
	case <-ctx.Done():
		return "", false
	}
}
