// Package embed holds the per-embed state for deferred content: whether the
// embed is visible, whether its producer has been started, and whether the
// producer has written its final markup.
package embed

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"strings"
	"sync"

	"embedbot/internal/domain"

	"github.com/google/uuid"
)

// KeyPrefix makes every stable key a valid CSS class name.
const KeyPrefix = "embed_"

// ErrNoProducer is returned by producers invoked through a cell built without one.
var ErrNoProducer = errors.New("embed: cell has no producer")

// State is the reveal state of a cell.
type State int

const (
	Hidden State = iota
	RevealedEmpty
	RevealedMaterialized
)

func (s State) String() string {
	switch s {
	case Hidden:
		return "hidden"
	case RevealedEmpty:
		return "revealed-empty"
	case RevealedMaterialized:
		return "revealed-materialized"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Observer receives lifecycle notifications. Calls happen outside the cell
// lock and may come from the producer goroutine.
type Observer interface {
	FetchStarted(key string)
	Materialized(key string)
	FetchFailed(key string, err error)
	TargetMissing(key string)
}

type nopObserver struct{}

func (nopObserver) FetchStarted(string)       {}
func (nopObserver) Materialized(string)       {}
func (nopObserver) FetchFailed(string, error) {}
func (nopObserver) TargetMissing(string)      {}

// Option configures a Cell.
type Option func(*Cell)

// WithObserver attaches lifecycle hooks.
func WithObserver(o Observer) Option {
	return func(c *Cell) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithLogger sets the logger used for producer failures.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cell) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithKey overrides the generated stable key.
func WithKey(key string) Option {
	return func(c *Cell) {
		if key != "" {
			c.key = key
		}
	}
}

// NewKey returns a fresh stable key.
func NewKey() string {
	return KeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Cell guards a deferred producer so that it runs at most once, however many
// times the embed is revealed, unless ForceRefetch is called after a failure.
type Cell struct {
	key      string
	producer domain.Producer
	observer Observer
	logger   *slog.Logger

	mu           sync.Mutex
	visible      bool
	materialized bool
	fetchStarted bool
	inFlight     bool
	done         chan struct{}
}

// NewCell creates a hidden, empty cell for p. p is not invoked here.
func NewCell(p domain.Producer, opts ...Option) *Cell {
	c := &Cell{
		key:      NewKey(),
		producer: p,
		observer: nopObserver{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the stable lookup handle of the cell.
func (c *Cell) Key() string { return c.key }

// Reveal makes the cell visible and, if nothing has been fetched yet, starts
// the producer in its own goroutine. The fetch-started flag is set before the
// goroutine starts, so a second Reveal never fires the producer again. The
// producer outlives ctx cancellation; loc is where it will write.
func (c *Cell) Reveal(ctx context.Context, loc domain.Locator) {
	c.mu.Lock()
	c.visible = true
	if c.materialized || c.fetchStarted {
		c.mu.Unlock()
		return
	}
	c.fetchStarted = true
	c.inFlight = true
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	c.observer.FetchStarted(c.key)
	go c.run(context.WithoutCancel(ctx), &handle{cell: c, loc: loc}, done)
}

func (c *Cell) run(ctx context.Context, h *handle, done chan struct{}) {
	defer close(done)
	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}()

	if err := c.invoke(ctx, h); err != nil {
		c.logger.Warn("embed fetch failed", "key", c.key, "err", err)
		c.observer.FetchFailed(c.key, err)
	}
}

func (c *Cell) invoke(ctx context.Context, h *handle) (err error) {
	if c.producer == nil {
		return ErrNoProducer
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("producer panic: %v", r)
		}
	}()
	return c.producer(ctx, h)
}

// Hide makes the cell invisible. Fetch state is untouched.
func (c *Cell) Hide() {
	c.mu.Lock()
	c.visible = false
	c.mu.Unlock()
}

// ForceRefetch clears the fetch-started flag so the next Reveal runs the
// producer again. It refuses (returns false) once the cell is materialized
// or while a fetch is still in flight.
func (c *Cell) ForceRefetch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.materialized || c.inFlight {
		return false
	}
	c.fetchStarted = false
	return true
}

// Wait blocks until the in-flight fetch, if any, has returned.
func (c *Cell) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cell) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

func (c *Cell) Materialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.materialized
}

func (c *Cell) FetchStarted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetchStarted
}

// State reports the reveal state. A hidden cell reports Hidden even when its
// content is already materialized.
func (c *Cell) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case !c.visible:
		return Hidden
	case c.materialized:
		return RevealedMaterialized
	default:
		return RevealedEmpty
	}
}

func (c *Cell) markMaterialized() {
	c.mu.Lock()
	c.materialized = true
	c.mu.Unlock()
}

// handle is what the producer sees of its cell.
type handle struct {
	cell *Cell
	loc  domain.Locator
}

func (h *handle) Key() string { return h.cell.key }

// Fill writes markup into the target registered under the cell key. A target
// that can no longer be found is a silent no-op.
func (h *handle) Fill(ctx context.Context, markup template.HTML) error {
	if h.loc == nil {
		h.cell.observer.TargetMissing(h.cell.key)
		return nil
	}
	target, ok := h.loc.Locate(ctx, h.cell.key)
	if !ok || target == nil {
		h.cell.logger.Debug("embed target missing", "key", h.cell.key)
		h.cell.observer.TargetMissing(h.cell.key)
		return nil
	}
	if err := target.Write(ctx, markup); err != nil {
		return fmt.Errorf("write %s: %w", h.cell.key, err)
	}
	h.cell.markMaterialized()
	h.cell.observer.Materialized(h.cell.key)
	return nil
}
