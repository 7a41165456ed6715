// Package surface provides the rendering surfaces deferred producers write
// into. Every surface is a domain.Locator: a producer holding a key asks for
// the target when its result is ready, and gets nothing if the consumer has
// discarded it in the meantime.
package surface

import (
	"container/list"
	"context"
	"html/template"
	"sync"

	"embedbot/internal/domain"
)

const defaultLiveEmbeds = 500

// Live is the set of embeds currently mounted on one surface. It holds at
// most max targets; mounting past that evicts the oldest.
type Live struct {
	mu      sync.Mutex
	max     int
	order   *list.List // of string keys, oldest first
	targets map[string]*list.Element
	values  map[string]domain.Target
	evicted func(key string)
}

// NewLive returns a Live holding up to max targets. onEvict, if set, runs
// after a target is pushed out by a newer one.
func NewLive(max int, onEvict func(key string)) *Live {
	if max <= 0 {
		max = defaultLiveEmbeds
	}
	return &Live{
		max:     max,
		order:   list.New(),
		targets: make(map[string]*list.Element),
		values:  make(map[string]domain.Target),
		evicted: onEvict,
	}
}

// Mount makes t the target for key. Mounting an existing key replaces its
// target and refreshes its age.
func (l *Live) Mount(key string, t domain.Target) {
	var dropped []string

	l.mu.Lock()
	if el, ok := l.targets[key]; ok {
		l.order.MoveToBack(el)
	} else {
		l.targets[key] = l.order.PushBack(key)
	}
	l.values[key] = t
	for l.order.Len() > l.max {
		front := l.order.Front()
		old := front.Value.(string)
		l.order.Remove(front)
		delete(l.targets, old)
		delete(l.values, old)
		dropped = append(dropped, old)
	}
	l.mu.Unlock()

	if l.evicted != nil {
		for _, k := range dropped {
			l.evicted(k)
		}
	}
}

// Unmount removes key. It reports whether key was mounted.
func (l *Live) Unmount(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	el, ok := l.targets[key]
	if !ok {
		return false
	}
	l.order.Remove(el)
	delete(l.targets, key)
	delete(l.values, key)
	return true
}

// Locate implements domain.Locator.
func (l *Live) Locate(ctx context.Context, key string) (domain.Target, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.values[key]
	return t, ok
}

func (l *Live) Mounted(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.values[key]
	return ok
}

func (l *Live) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len()
}

// TargetFunc adapts a function to domain.Target.
type TargetFunc func(ctx context.Context, markup template.HTML) error

func (f TargetFunc) Write(ctx context.Context, markup template.HTML) error { return f(ctx, markup) }
