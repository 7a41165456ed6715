package annotate

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"embedbot/internal/domain"
	"embedbot/internal/plugin"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// regexProvider emits one inline unit per match, with multiple set when
// each is true.
func regexProvider(name, pattern string, exclusive, each bool) domain.Provider {
	re := regexp.MustCompile(pattern)
	return domain.Provider{
		Name:      name,
		Exclusive: exclusive,
		Matcher: domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
			found := re.FindAllString(text, -1)
			if len(found) == 0 {
				return domain.None(), nil
			}
			if !each {
				return domain.Single(domain.Inline("<b>" + found[0] + "</b>")), nil
			}
			units := make([]domain.ContentUnit, 0, len(found))
			for _, f := range found {
				units = append(units, domain.Inline("<i>"+f+"</i>"))
			}
			return domain.Multiple(units...), nil
		}),
	}
}

func failingProvider(name string) domain.Provider {
	return domain.Provider{
		Name: name,
		Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			return domain.None(), errors.New("boom")
		}),
	}
}

func newAnnotator(policy Policy, providers ...domain.Provider) *Annotator {
	reg := plugin.NewRegistry(testLogger())
	reg.Register(providers...)
	return New(Config{Providers: reg, Policy: policy, Logger: testLogger()})
}

func annotate(t *testing.T, a *Annotator, text string) []*Entry {
	t.Helper()
	entries, err := a.Annotate(context.Background(), domain.Message{ID: "m1", Text: text})
	if err != nil {
		t.Fatalf("Annotate: %v", err)
	}
	return entries
}

func TestAnnotate_NoMatchIsEmpty(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("image", `\.png`, false, false))
	entries := annotate(t, a, "hello there")
	if entries == nil || len(entries) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", entries)
	}
}

func TestAnnotate_NoProviders(t *testing.T) {
	a := New(Config{Logger: testLogger()})
	if entries := annotate(t, a, "x"); len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestAnnotate_SingleHasNoIndex(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("image", `\S+\.png`, false, false))
	entries := annotate(t, a, "see a.png")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].Index(); ok {
		t.Fatal("single result must not carry an index")
	}
	if entries[0].Label() != "image" {
		t.Fatalf("unexpected label %q", entries[0].Label())
	}
}

func TestAnnotate_MultipleCountsDown(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("video", `v\d`, false, true))
	entries := annotate(t, a, "v1 v2 v3")
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantIndex := []int{3, 2, 1}
	wantMarkup := []template.HTML{"<i>v3</i>", "<i>v2</i>", "<i>v1</i>"}
	for i, e := range entries {
		n, ok := e.Index()
		if !ok || n != wantIndex[i] {
			t.Errorf("entry %d: expected index %d, got %d (%v)", i, wantIndex[i], n, ok)
		}
		if e.Markup != wantMarkup[i] {
			t.Errorf("entry %d: expected markup %q, got %q", i, wantMarkup[i], e.Markup)
		}
	}
	if entries[0].Label() != "video 3" {
		t.Fatalf("unexpected label %q", entries[0].Label())
	}
}

func TestAnnotate_MultipleOfOneHasNoIndex(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("video", `v\d`, false, true))
	entries := annotate(t, a, "only v1 here")
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if _, ok := entries[0].Index(); ok {
		t.Fatal("a multiple of one must not carry an index")
	}
}

func TestAnnotate_ImageThenGallery(t *testing.T) {
	a := newAnnotator(PolicyAbort,
		regexProvider("Image", `\S+\.jpg`, false, false),
		regexProvider("Gallery", `g\d`, false, true),
	)
	entries := annotate(t, a, "pic.jpg g1 g2")

	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	want := []string{"Image", "Gallery 2", "Gallery 1"}
	for i, e := range entries {
		if e.Label() != want[i] {
			t.Errorf("entry %d: expected %q, got %q", i, want[i], e.Label())
		}
	}
}

func TestAnnotate_ExclusiveStops(t *testing.T) {
	a := newAnnotator(PolicyAbort,
		regexProvider("first", `a`, false, false),
		regexProvider("exclusive", `b`, true, false),
		regexProvider("never", `c`, false, false),
	)
	entries := annotate(t, a, "a b c")
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].ProviderName != "exclusive" {
		t.Fatalf("expected exclusive last, got %q", entries[1].ProviderName)
	}
}

func TestAnnotate_ExclusiveWithoutMatchDoesNotStop(t *testing.T) {
	a := newAnnotator(PolicyAbort,
		regexProvider("exclusive", `zzz`, true, false),
		regexProvider("after", `a`, false, false),
	)
	entries := annotate(t, a, "a")
	if len(entries) != 1 || entries[0].ProviderName != "after" {
		t.Fatalf("exclusive provider without a match must not stop the pass")
	}
}

func TestAnnotate_NSFW(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("image", `http://\S+\.jpg`, false, false))

	entries := annotate(t, a, "check this NSFW pic http://x/y.jpg")
	if len(entries) != 1 || !entries[0].NSFW {
		t.Fatal("expected nsfw entry")
	}

	entries = annotate(t, a, "clean http://x/y.jpg")
	if entries[0].NSFW {
		t.Fatal("unexpected nsfw flag")
	}
}

func TestAnnotate_InlineMarkupVerbatim(t *testing.T) {
	const markup = `<iframe src="https://example.com/embed?a=1&b=2"></iframe>`
	a := newAnnotator(PolicyAbort, domain.Provider{
		Name: "raw",
		Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			return domain.Single(domain.Inline(markup)), nil
		}),
	})
	entries := annotate(t, a, "anything")
	if string(entries[0].Markup) != markup {
		t.Fatalf("markup altered: %q", entries[0].Markup)
	}
	if entries[0].Key() == "" {
		t.Fatal("inline entry should have a key")
	}
}

func TestAnnotate_DeferredCreatesHiddenCell(t *testing.T) {
	a := newAnnotator(PolicyAbort, domain.Provider{
		Name: "lazy",
		Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			return domain.Single(domain.Deferred(func(ctx context.Context, h domain.Handle) error {
				return h.Fill(ctx, "<p>x</p>")
			})), nil
		}),
	})
	entries := annotate(t, a, "anything")
	e := entries[0]
	if e.Kind() != domain.KindDeferred || e.Cell == nil {
		t.Fatal("expected deferred entry")
	}
	if e.Visible() || e.Cell.FetchStarted() {
		t.Fatal("deferred entry must start hidden and unfetched")
	}
	if e.Key() != e.Cell.Key() {
		t.Fatal("entry key should be the cell key")
	}
}

func TestAnnotate_AbortPolicy(t *testing.T) {
	a := newAnnotator(PolicyAbort,
		regexProvider("ok", `a`, false, false),
		failingProvider("broken"),
	)
	_, err := a.Annotate(context.Background(), domain.Message{Text: "a"})
	var merr *MatchError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MatchError, got %v", err)
	}
	if merr.Provider != "broken" {
		t.Fatalf("unexpected provider %q", merr.Provider)
	}
}

func TestAnnotate_SkipPolicy(t *testing.T) {
	a := newAnnotator(PolicySkip,
		failingProvider("broken"),
		regexProvider("ok", `a`, false, false),
	)
	entries := annotate(t, a, "a")
	if len(entries) != 1 || entries[0].ProviderName != "ok" {
		t.Fatalf("expected the healthy provider to still match, got %d entries", len(entries))
	}
}

func TestAnnotate_PanicRecovered(t *testing.T) {
	a := newAnnotator(PolicyAbort, domain.Provider{
		Name: "panics",
		Matcher: domain.MatcherFunc(func(string) (domain.MatchResult, error) {
			panic("bad regexp state")
		}),
	})
	_, err := a.Annotate(context.Background(), domain.Message{Text: "x"})
	if err == nil {
		t.Fatal("expected error from panicking matcher")
	}
}

func TestAnnotate_NilMatcher(t *testing.T) {
	a := newAnnotator(PolicySkip, domain.Provider{Name: "empty"}, regexProvider("ok", `a`, false, false))
	if entries := annotate(t, a, "a"); len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestAnnotate_CancelledContext(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("ok", `a`, false, false))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Annotate(ctx, domain.Message{Text: "a"}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestAnnotate_Stateless(t *testing.T) {
	a := newAnnotator(PolicyAbort, regexProvider("video", `v\d`, false, true))
	first := annotate(t, a, "v1 v2")
	second := annotate(t, a, "v1 v2")
	if len(first) != len(second) {
		t.Fatal("same text should annotate the same way")
	}
	if first[0].Key() == second[0].Key() {
		t.Fatal("each annotation should get fresh keys")
	}
}

func TestParsePolicy(t *testing.T) {
	cases := map[string]Policy{"": PolicyAbort, "abort": PolicyAbort, "SKIP": PolicySkip, " skip ": PolicySkip}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("retry"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestEntry_InlineRevealHide(t *testing.T) {
	e := &Entry{ProviderName: "x", Markup: "<b>x</b>", key: "embed_1"}
	e.Reveal(context.Background(), nil)
	if !e.Visible() {
		t.Fatal("expected visible after reveal")
	}
	e.Hide()
	if e.Visible() {
		t.Fatal("expected hidden after hide")
	}
	if e.ForceRefetch() {
		t.Fatal("inline entries cannot refetch")
	}
	v := e.View()
	if v.Kind != "inline" || v.Markup != "<b>x</b>" || v.Key != "embed_1" {
		t.Fatalf("unexpected view %+v", v)
	}
}
