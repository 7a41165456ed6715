package domain

import (
	"context"
	"html/template"
)

// ContentKind tags a ContentUnit.
type ContentKind int

const (
	KindInline ContentKind = iota + 1
	KindDeferred
)

func (k ContentKind) String() string {
	switch k {
	case KindInline:
		return "inline"
	case KindDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Producer fills exactly one target through its handle, possibly long after
// it was invoked. It runs at most once per cell unless the consumer forces a
// refetch.
type Producer func(ctx context.Context, h Handle) error

// Handle lets a producer find and write its own output location later.
type Handle interface {
	Key() string
	Fill(ctx context.Context, markup template.HTML) error
}

// ContentUnit is either inline trusted markup or a deferred producer.
// Build it with Inline or Deferred.
type ContentUnit struct {
	kind     ContentKind
	markup   string
	producer Producer
}

// Inline returns a unit whose markup is rendered as-is.
func Inline(markup string) ContentUnit {
	return ContentUnit{kind: KindInline, markup: markup}
}

// Deferred returns a unit that is materialized by p on first reveal.
func Deferred(p Producer) ContentUnit {
	return ContentUnit{kind: KindDeferred, producer: p}
}

func (u ContentUnit) Kind() ContentKind  { return u.kind }
func (u ContentUnit) Markup() string     { return u.markup }
func (u ContentUnit) Producer() Producer { return u.producer }

// MatchResult is the outcome of one matcher over one message:
// none, a single unit, or an ordered sequence of units.
type MatchResult struct {
	units    []ContentUnit
	multiple bool
}

// None is the result of a provider that declines the message.
func None() MatchResult { return MatchResult{} }

// Single wraps exactly one unit. Entries produced from it never carry a
// display index.
func Single(u ContentUnit) MatchResult {
	return MatchResult{units: []ContentUnit{u}}
}

// Multiple wraps units in match order. An empty sequence is None.
func Multiple(units ...ContentUnit) MatchResult {
	if len(units) == 0 {
		return None()
	}
	cp := make([]ContentUnit, len(units))
	copy(cp, units)
	return MatchResult{units: cp, multiple: true}
}

func (r MatchResult) IsNone() bool         { return len(r.units) == 0 }
func (r MatchResult) IsMultiple() bool     { return r.multiple }
func (r MatchResult) Units() []ContentUnit { return r.units }
func (r MatchResult) Len() int             { return len(r.units) }
