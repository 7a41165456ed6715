package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"embedbot/internal/annotate"
	"embedbot/internal/bus"
	"embedbot/internal/domain"
	"embedbot/internal/metrics"
	"embedbot/internal/surface"
	"embedbot/internal/view"
)

const (
	defaultConcurrency = 3
	defaultLiveEmbeds  = 500
)

// Store is the annotation log the loop writes to.
type Store interface {
	Log(ctx context.Context, msg domain.Message, views []domain.EmbedView) error
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Annotator   *annotate.Annotator
	Policy      view.Policy
	Bus         domain.MessageBus
	Events      *bus.EventBus // optional
	Store       Store         // optional
	Logger      *slog.Logger
	Concurrency int // max parallel messages (default 3)
	LiveEmbeds  int // embeds kept addressable for actions (default 500)
}

// Loop is the core engine: receive message, annotate, render, then reveal
// what the display policy shows. Later actions on rendered embeds arrive on
// the same bus.
type Loop struct {
	annotator   *annotate.Annotator
	policy      view.Policy
	bus         domain.MessageBus
	events      *bus.EventBus
	store       Store
	logger      *slog.Logger
	concurrency int

	index   *view.Index
	targets *surface.Outbound
}

// NewLoop creates a new loop with the given configuration.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.LiveEmbeds <= 0 {
		cfg.LiveEmbeds = defaultLiveEmbeds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	l := &Loop{
		annotator:   cfg.Annotator,
		policy:      cfg.Policy,
		bus:         cfg.Bus,
		events:      cfg.Events,
		store:       cfg.Store,
		logger:      cfg.Logger,
		concurrency: cfg.Concurrency,
	}
	l.targets = surface.NewOutbound(cfg.Bus, cfg.LiveEmbeds, nil)
	l.index = view.NewIndex(cfg.LiveEmbeds, func(key string) { l.targets.Unmount(key) })
	return l
}

// Policy returns the display policy the loop applies.
func (l *Loop) Policy() view.Policy { return l.policy }

// Run consumes inbound messages and processes them with bounded concurrency.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("annotation loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("annotation loop stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, annotation loop stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				l.processMessage(ctx, m)
			}(msg)
		}
	}
}

// Annotate runs the annotator over msg, logs the entries and announces them.
// It neither renders nor reveals anything; callers with their own surface
// (webhook, one-shot CLI) use it directly.
func (l *Loop) Annotate(ctx context.Context, msg domain.Message) ([]*annotate.Entry, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	entries, err := l.annotator.Annotate(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("annotate message %s: %w", msg.ID, err)
	}
	if len(entries) == 0 {
		return entries, nil
	}

	views := l.policy.Views(entries)
	if l.store != nil {
		if err := l.store.Log(ctx, msg, views); err != nil {
			l.logger.Warn("cannot log annotations", "message", msg.ID, "err", err)
		}
	}
	l.emit(bus.EventMessageAnnotated, map[string]any{
		"message": msg.ID,
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"entries": len(entries),
	})
	return entries, nil
}

// processMessage handles a single inbound message: embed actions go to the
// index, text is annotated and rendered back to the chat it came from.
func (l *Loop) processMessage(ctx context.Context, msg domain.InboundMessage) {
	if msg.IsAction() {
		l.handleAction(ctx, msg)
		return
	}
	metrics.InboundMessages.Inc()

	l.logger.Info("processing message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"content_len", len(msg.Content),
	)

	m := domain.Message{
		ID:      uuid.NewString(),
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Text:    msg.Content,
	}
	entries, err := l.Annotate(ctx, m)
	if err != nil {
		l.logger.Error("message annotation failed", "error", err)
		l.bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: fmt.Sprintf("Sorry, I could not annotate that message: %s", err.Error()),
			Format:  "text",
		})
		return
	}
	if len(entries) == 0 {
		l.logger.Debug("nothing matched", "message", m.ID)
		return
	}

	l.render(ctx, m, entries)
}

// render mounts a target per entry, sends the message with its embeds, then
// applies the policy so fills land after the render.
func (l *Loop) render(ctx context.Context, m domain.Message, entries []*annotate.Entry) {
	l.index.Add(view.Placement{Channel: m.Channel, ChatID: m.ChatID}, entries)

	views := l.policy.Views(entries)
	for _, v := range views {
		l.targets.Mount(m.Channel, m.ChatID, v)
	}
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: m.Channel,
		ChatID:  m.ChatID,
		Content: m.Text,
		Format:  "html",
		Embeds:  views,
	})

	revealed := l.policy.Apply(ctx, entries, l.targets)
	l.logger.Debug("message rendered", "message", m.ID, "entries", len(entries), "revealed", revealed)
}

// handleAction applies reveal, hide, refetch or discard to a rendered embed.
func (l *Loop) handleAction(ctx context.Context, msg domain.InboundMessage) {
	e, at, ok := l.index.Get(msg.EmbedKey)
	if !ok {
		l.logger.Debug("action on unknown embed", "action", msg.Action, "key", msg.EmbedKey)
		l.bus.SendOutbound(domain.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: "That embed is no longer available.",
			Format:  "text",
		})
		return
	}

	payload := map[string]any{"key": e.Key(), "provider": e.ProviderName, "label": e.Label(), "channel": at.Channel}

	switch msg.Action {
	case domain.ActionReveal:
		wasVisible := e.Visible()
		e.Reveal(ctx, l.targets)
		l.emit(bus.EventEmbedRevealed, payload)
		if e.Kind() == domain.KindInline && !wasVisible {
			l.sendFill(at, e)
			return
		}
	case domain.ActionHide:
		e.Hide()
		l.emit(bus.EventEmbedHidden, payload)
	case domain.ActionRefetch:
		if !e.ForceRefetch() {
			l.logger.Debug("refetch refused", "key", e.Key(), "kind", e.Kind())
			break
		}
		e.Reveal(ctx, l.targets)
		l.emit(bus.EventEmbedRevealed, payload)
	case domain.ActionDiscard:
		l.index.Remove(e.Key())
		l.targets.Unmount(e.Key())
		l.emit(bus.EventEmbedDiscarded, payload)
	default:
		l.logger.Warn("unknown embed action", "action", msg.Action, "key", msg.EmbedKey)
		return
	}

	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: at.Channel,
		ChatID:  at.ChatID,
		Embeds:  []domain.EmbedView{e.View()},
		Action:  msg.Action,
	})
}

// sendFill delivers inline markup the first render kept hidden.
func (l *Loop) sendFill(at view.Placement, e *annotate.Entry) {
	v := e.View()
	l.bus.SendOutbound(domain.OutboundMessage{
		Channel: at.Channel,
		ChatID:  at.ChatID,
		Content: string(v.Markup),
		Format:  "html",
		Embeds:  []domain.EmbedView{v},
		Fill:    true,
	})
}

func (l *Loop) emit(eventType string, payload map[string]any) {
	if l.events == nil {
		return
	}
	l.events.Emit(bus.Event{Type: eventType, Source: "loop", Payload: payload})
}
