package view

import (
	"context"
	"html/template"
	"io"
	"log/slog"
	"testing"
	"time"

	"embedbot/internal/annotate"
	"embedbot/internal/domain"
	"embedbot/internal/plugin"
	"embedbot/internal/surface"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// entries annotates text with one inline and one deferred provider.
func entries(t *testing.T, text string) []*annotate.Entry {
	t.Helper()
	reg := plugin.NewRegistry(testLogger())
	reg.Register(
		domain.Provider{Name: "inline", Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			return domain.Single(domain.Inline("<b>x</b>")), nil
		})},
		domain.Provider{Name: "lazy", Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			return domain.Single(domain.Deferred(func(ctx context.Context, h domain.Handle) error {
				return h.Fill(ctx, template.HTML("<p>late</p>"))
			})), nil
		})},
	)
	out, err := annotate.New(annotate.Config{Providers: reg, Logger: testLogger()}).
		Annotate(context.Background(), domain.Message{Text: text})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	return out
}

func TestPolicy_InitiallyVisible(t *testing.T) {
	cases := []struct {
		embedded, nsfwPref, nsfw, want bool
	}{
		{true, false, false, true},
		{true, false, true, false},
		{true, true, true, true},
		{false, true, false, false},
		{false, true, true, false},
	}
	for _, c := range cases {
		p := Policy{AutoDisplayEmbedded: c.embedded, AutoDisplayNSFW: c.nsfwPref}
		if got := p.InitiallyVisible(c.nsfw); got != c.want {
			t.Errorf("%+v nsfw=%v: expected %v, got %v", p, c.nsfw, c.want, got)
		}
	}
}

func TestPolicy_ApplyRevealsAndFills(t *testing.T) {
	es := entries(t, "plain text")
	mem := surface.NewMemory(10)
	for _, e := range es {
		mem.Mount(e.Key())
	}

	p := Policy{AutoDisplayEmbedded: true}
	views := p.Views(es)
	if !views[0].Visible || !views[1].Visible {
		t.Fatal("render views should show what the policy reveals")
	}
	if es[1].Visible() {
		t.Fatal("Views must not reveal anything")
	}

	if n := p.Apply(context.Background(), es, mem); n != 2 {
		t.Fatalf("expected 2 reveals, got %d", n)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, ok := mem.WaitFilled(ctx, es[1].Key())
	if !ok || got != "<p>late</p>" {
		t.Fatalf("expected deferred fill, got %q (%v)", got, ok)
	}
	if !es[0].Visible() {
		t.Fatal("inline entry should be visible")
	}
}

func TestPolicy_NSFWStaysHidden(t *testing.T) {
	es := entries(t, "nsfw stuff")
	p := Policy{AutoDisplayEmbedded: true}
	if n := p.Apply(context.Background(), es, surface.NewMemory(10)); n != 0 {
		t.Fatalf("nsfw entries should stay hidden, revealed %d", n)
	}
	if es[1].Cell.FetchStarted() {
		t.Fatal("hidden deferred entry must not fetch")
	}
	for _, v := range p.Views(es) {
		if v.Visible {
			t.Fatal("nsfw views should be hidden")
		}
	}
}

func TestIndex_AddGetRemove(t *testing.T) {
	es := entries(t, "x")
	ix := NewIndex(10, nil)
	ix.Add(Placement{Channel: "cli", ChatID: "local"}, es)

	e, at, ok := ix.Get(es[1].Key())
	if !ok || e != es[1] || at.Channel != "cli" {
		t.Fatalf("unexpected lookup %v %+v %v", e, at, ok)
	}
	if _, ok := ix.Remove(es[1].Key()); !ok {
		t.Fatal("expected remove to succeed")
	}
	if _, _, ok := ix.Get(es[1].Key()); ok {
		t.Fatal("removed entry should be gone")
	}
	if ix.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", ix.Len())
	}
}

func TestIndex_EvictsOldest(t *testing.T) {
	var evicted []string
	ix := NewIndex(3, func(key string) { evicted = append(evicted, key) })

	first := entries(t, "a")
	second := entries(t, "b")
	ix.Add(Placement{}, first)
	ix.Add(Placement{}, second)

	if ix.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", ix.Len())
	}
	if len(evicted) != 1 || evicted[0] != first[0].Key() {
		t.Fatalf("expected the oldest entry evicted, got %v", evicted)
	}
}
