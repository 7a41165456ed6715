package view

import (
	"container/list"
	"sync"

	"embedbot/internal/annotate"
	"embedbot/internal/metrics"
)

const defaultIndexSize = 500

// Placement records where an entry was rendered.
type Placement struct {
	Channel string
	ChatID  string
}

type indexed struct {
	entry *annotate.Entry
	at    Placement
	el    *list.Element
}

// Index keeps recent entries by key, so reveal, hide, refetch and discard
// requests that arrive later can find them. It is bounded; the oldest
// entries fall out first.
type Index struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	items   map[string]*indexed
	onEvict func(key string)
}

func NewIndex(max int, onEvict func(key string)) *Index {
	if max <= 0 {
		max = defaultIndexSize
	}
	return &Index{
		max:     max,
		order:   list.New(),
		items:   make(map[string]*indexed),
		onEvict: onEvict,
	}
}

// Add indexes entries rendered at channel/chatID.
func (ix *Index) Add(at Placement, entries []*annotate.Entry) {
	var dropped []string

	ix.mu.Lock()
	for _, e := range entries {
		key := e.Key()
		if it, ok := ix.items[key]; ok {
			it.entry, it.at = e, at
			ix.order.MoveToBack(it.el)
			continue
		}
		ix.items[key] = &indexed{entry: e, at: at, el: ix.order.PushBack(key)}
	}
	for ix.order.Len() > ix.max {
		front := ix.order.Front()
		key := front.Value.(string)
		ix.order.Remove(front)
		delete(ix.items, key)
		dropped = append(dropped, key)
	}
	metrics.LiveEmbeds.Set(int64(ix.order.Len()))
	ix.mu.Unlock()

	if ix.onEvict != nil {
		for _, k := range dropped {
			ix.onEvict(k)
		}
	}
}

// Get returns the entry for key and where it was rendered.
func (ix *Index) Get(key string) (*annotate.Entry, Placement, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	it, ok := ix.items[key]
	if !ok {
		return nil, Placement{}, false
	}
	return it.entry, it.at, true
}

// Remove forgets key and returns the entry it held.
func (ix *Index) Remove(key string) (*annotate.Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	it, ok := ix.items[key]
	if !ok {
		return nil, false
	}
	ix.order.Remove(it.el)
	delete(ix.items, key)
	metrics.LiveEmbeds.Set(int64(ix.order.Len()))
	return it.entry, true
}

func (ix *Index) Len() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.order.Len()
}
