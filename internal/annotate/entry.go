package annotate

import (
	"context"
	"html/template"
	"strconv"
	"sync/atomic"

	"embedbot/internal/domain"
	"embedbot/internal/embed"
)

// Entry is one piece of metadata attached to a message: either trusted
// inline markup or a deferred cell.
type Entry struct {
	ProviderName string
	// DisplayIndex is 0 when absent; see Index.
	DisplayIndex int
	NSFW         bool
	Markup       template.HTML
	Cell         *embed.Cell

	key     string
	visible atomic.Bool
}

func (e *Entry) Kind() domain.ContentKind {
	if e.Cell != nil {
		return domain.KindDeferred
	}
	return domain.KindInline
}

// Key is the stable handle of the entry. Deferred entries share it with
// their cell.
func (e *Entry) Key() string {
	if e.Cell != nil {
		return e.Cell.Key()
	}
	return e.key
}

// Index returns the display number and whether the entry has one.
func (e *Entry) Index() (int, bool) {
	return e.DisplayIndex, e.DisplayIndex > 0
}

// Label is the provider name, suffixed with the display index when present.
func (e *Entry) Label() string {
	if n, ok := e.Index(); ok {
		return e.ProviderName + " " + strconv.Itoa(n)
	}
	return e.ProviderName
}

func (e *Entry) Visible() bool {
	if e.Cell != nil {
		return e.Cell.Visible()
	}
	return e.visible.Load()
}

// Reveal shows the entry. Deferred entries start their producer on the
// first reveal only.
func (e *Entry) Reveal(ctx context.Context, loc domain.Locator) {
	if e.Cell != nil {
		e.Cell.Reveal(ctx, loc)
		return
	}
	e.visible.Store(true)
}

func (e *Entry) Hide() {
	if e.Cell != nil {
		e.Cell.Hide()
		return
	}
	e.visible.Store(false)
}

// ForceRefetch re-arms a failed deferred entry. Inline entries have nothing
// to refetch.
func (e *Entry) ForceRefetch() bool {
	if e.Cell == nil {
		return false
	}
	return e.Cell.ForceRefetch()
}

// View snapshots the entry for a rendering surface.
func (e *Entry) View() domain.EmbedView {
	return domain.EmbedView{
		Key:      e.Key(),
		Label:    e.Label(),
		Provider: e.ProviderName,
		Index:    e.DisplayIndex,
		Kind:     e.Kind().String(),
		NSFW:     e.NSFW,
		Visible:  e.Visible(),
		Markup:   e.Markup,
	}
}

// Views snapshots entries in order.
func Views(entries []*Entry) []domain.EmbedView {
	out := make([]domain.EmbedView, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.View())
	}
	return out
}
