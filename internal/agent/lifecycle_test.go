package agent

import (
	"errors"
	"testing"
	"time"

	"embedbot/internal/bus"
	"embedbot/internal/metrics"
)

func TestLifecycle_EventsAndOutcomes(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	rec := &outcomes{}
	o := NewLifecycle(events, rec, testLogger())

	var seen []string
	events.On("*", func(e bus.Event) { seen = append(seen, e.Type) })

	missingBefore := metrics.TargetsMissing.Value()
	o.FetchStarted("embed_1")
	o.FetchFailed("embed_1", errors.New("timeout"))
	o.Materialized("embed_2")
	o.TargetMissing("embed_3")

	want := []string{bus.EventFetchStarted, bus.EventFetchFailed, bus.EventEmbedMaterialized, bus.EventTargetMissing}
	if len(seen) != len(want) {
		t.Fatalf("expected %v, got %v", want, seen)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], seen[i])
		}
	}
	if rec.get("embed_1") != "failed" || rec.get("embed_2") != "materialized" || rec.get("embed_3") != "target_missing" {
		t.Fatalf("unexpected outcomes %v", rec.seen)
	}
	if metrics.TargetsMissing.Value() != missingBefore+1 {
		t.Fatal("target missing counter not incremented")
	}

	failed := events.Replay(bus.EventFetchFailed, time.Time{})
	if len(failed) != 1 || failed[0].Payload["error"] != "timeout" {
		t.Fatalf("unexpected fetch failed payload %+v", failed)
	}
}

func TestLifecycle_NilCollaborators(t *testing.T) {
	o := NewLifecycle(nil, nil, nil)
	o.FetchStarted("k")
	o.FetchFailed("k", errors.New("x"))
	o.Materialized("k")
	o.TargetMissing("k")
}
