// Package annotate runs message text through the registered providers and
// turns their output into ordered metadata entries.
package annotate

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"regexp"
	"strings"

	"embedbot/internal/domain"
	"embedbot/internal/embed"
	"embedbot/internal/metrics"
)

var nsfwRegexp = regexp.MustCompile(`(?i)nsfw`)

// IsNSFW reports whether the message text carries the nsfw token.
func IsNSFW(text string) bool {
	return nsfwRegexp.MatchString(text)
}

// Policy decides what a failing matcher does to the annotation of a message.
type Policy int

const (
	// PolicyAbort fails the whole message on the first matcher error.
	PolicyAbort Policy = iota
	// PolicySkip logs the error and continues with the next provider.
	PolicySkip
)

func (p Policy) String() string {
	if p == PolicySkip {
		return "skip"
	}
	return "abort"
}

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return PolicyAbort, nil
	case "skip":
		return PolicySkip, nil
	default:
		return PolicyAbort, fmt.Errorf("unknown match error policy %q (want abort or skip)", s)
	}
}

// MatchError wraps a failure raised by one provider's matcher.
type MatchError struct {
	Provider string
	Err      error
}

func (e *MatchError) Error() string {
	return fmt.Sprintf("provider %q: %v", e.Provider, e.Err)
}

func (e *MatchError) Unwrap() error { return e.Err }

var errInvalidUnit = errors.New("content unit is neither inline nor deferred")

// ProviderSource yields providers in registration order.
type ProviderSource interface {
	List() []domain.Provider
}

// Config holds the annotator dependencies.
type Config struct {
	Providers ProviderSource
	Policy    Policy
	Observer  embed.Observer // attached to every cell created
	Logger    *slog.Logger
}

// Annotator is stateless across messages; one instance serves all channels.
type Annotator struct {
	providers ProviderSource
	policy    Policy
	observer  embed.Observer
	logger    *slog.Logger
}

func New(cfg Config) *Annotator {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Annotator{
		providers: cfg.Providers,
		policy:    cfg.Policy,
		observer:  cfg.Observer,
		logger:    cfg.Logger,
	}
}

// Annotate runs every provider over msg.Text in registration order and
// returns the entries they produced. Multiple results are emitted last match
// first, numbered by original position, so their labels count down. An
// exclusive provider that yields anything ends the pass. A message nothing
// matches yields an empty slice.
func (a *Annotator) Annotate(ctx context.Context, msg domain.Message) ([]*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	nsfw := IsNSFW(msg.Text)
	entries := make([]*Entry, 0)

	if a.providers == nil {
		return entries, nil
	}

	for _, p := range a.providers.List() {
		res, err := a.match(p, msg.Text)
		if err != nil {
			metrics.MatchErrors.Inc()
			merr := &MatchError{Provider: p.Name, Err: err}
			if a.policy == PolicyAbort {
				return nil, merr
			}
			a.logger.Warn("provider match failed, skipping", "provider", p.Name, "message", msg.ID, "err", err)
			continue
		}
		if res.IsNone() {
			continue
		}

		units := res.Units()
		produced, err := a.entriesFor(p.Name, units, res.IsMultiple(), nsfw)
		if err != nil {
			metrics.MatchErrors.Inc()
			merr := &MatchError{Provider: p.Name, Err: err}
			if a.policy == PolicyAbort {
				return nil, merr
			}
			a.logger.Warn("provider returned invalid content, skipping", "provider", p.Name, "err", err)
			continue
		}
		entries = append(entries, produced...)
		metrics.Collector.ProviderEntries(p.Name).Add(int64(len(produced)))

		if p.Exclusive {
			a.logger.Debug("exclusive provider matched, stopping", "provider", p.Name, "message", msg.ID)
			break
		}
	}

	metrics.MessagesAnnotated.Inc()
	metrics.EntriesEmitted.Add(int64(len(entries)))
	return entries, nil
}

// match calls the matcher, turning a panic into an error.
func (a *Annotator) match(p domain.Provider, text string) (res domain.MatchResult, err error) {
	if p.Matcher == nil {
		return domain.None(), errors.New("provider has no matcher")
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matcher panic: %v", r)
		}
	}()
	return p.Matcher.Match(text)
}

func (a *Annotator) entriesFor(name string, units []domain.ContentUnit, multiple bool, nsfw bool) ([]*Entry, error) {
	out := make([]*Entry, 0, len(units))
	if !multiple {
		e, err := a.newEntry(units[0], name, 0, nsfw)
		if err != nil {
			return nil, err
		}
		return append(out, e), nil
	}

	for j := len(units) - 1; j >= 0; j-- {
		index := 0
		if len(units) > 1 {
			index = j + 1
		}
		e, err := a.newEntry(units[j], name, index, nsfw)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (a *Annotator) newEntry(u domain.ContentUnit, name string, index int, nsfw bool) (*Entry, error) {
	e := &Entry{ProviderName: name, DisplayIndex: index, NSFW: nsfw}
	switch u.Kind() {
	case domain.KindInline:
		e.Markup = template.HTML(u.Markup())
		e.key = embed.NewKey()
	case domain.KindDeferred:
		e.Cell = embed.NewCell(u.Producer(),
			embed.WithObserver(a.observer),
			embed.WithLogger(a.logger),
		)
	default:
		return nil, errInvalidUnit
	}
	return e, nil
}
