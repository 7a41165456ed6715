package agent

import (
	"context"
	"log/slog"
	"time"

	"embedbot/internal/bus"
	"embedbot/internal/metrics"
	"embedbot/internal/store"
)

// OutcomeRecorder persists how deferred fetches ended.
type OutcomeRecorder interface {
	RecordOutcome(ctx context.Context, key, outcome string, err error) error
}

// Lifecycle turns embed cell notifications into metrics, lifecycle events
// and, when a recorder is set, annotation log rows. It satisfies
// embed.Observer.
type Lifecycle struct {
	events   *bus.EventBus
	recorder OutcomeRecorder
	logger   *slog.Logger
}

// NewLifecycle returns an observer. events and recorder may be nil.
func NewLifecycle(events *bus.EventBus, recorder OutcomeRecorder, logger *slog.Logger) *Lifecycle {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{events: events, recorder: recorder, logger: logger}
}

func (o *Lifecycle) FetchStarted(key string) {
	metrics.FetchesStarted.Inc()
	o.emit(bus.EventFetchStarted, map[string]any{"key": key})
}

func (o *Lifecycle) Materialized(key string) {
	metrics.Materialized.Inc()
	o.emit(bus.EventEmbedMaterialized, map[string]any{"key": key})
	o.record(key, store.OutcomeMaterialized, nil)
}

func (o *Lifecycle) FetchFailed(key string, err error) {
	metrics.FetchesFailed.Inc()
	o.emit(bus.EventFetchFailed, map[string]any{"key": key, "error": err.Error()})
	o.record(key, store.OutcomeFailed, err)
}

func (o *Lifecycle) TargetMissing(key string) {
	metrics.TargetsMissing.Inc()
	o.logger.Debug("fill dropped, target gone", "key", key)
	o.emit(bus.EventTargetMissing, map[string]any{"key": key})
	o.record(key, store.OutcomeTargetMissing, nil)
}

func (o *Lifecycle) emit(eventType string, payload map[string]any) {
	if o.events == nil {
		return
	}
	o.events.Emit(bus.Event{Type: eventType, Source: "embed", Payload: payload})
}

func (o *Lifecycle) record(key, outcome string, err error) {
	if o.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if rerr := o.recorder.RecordOutcome(ctx, key, outcome, err); rerr != nil {
		o.logger.Warn("cannot record fetch outcome", "key", key, "err", rerr)
	}
}
