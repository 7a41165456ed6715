package channel

import (
	"context"
	"strings"
	"testing"

	"embedbot/internal/bus"
	"embedbot/internal/domain"
)

func TestCLI_RenderNumbersEmbeds(t *testing.T) {
	var out strings.Builder
	c := NewCLI(CLIConfig{In: strings.NewReader(""), Out: &out, Logger: testLogger()})

	c.handleOutbound(domain.OutboundMessage{Embeds: []domain.EmbedView{
		{Key: "embed_a", Label: "image", Visible: true, Markup: "<img>"},
		{Key: "embed_b", Label: "Tweet", NSFW: true},
	}})
	c.handleOutbound(domain.OutboundMessage{Fill: true, Embeds: []domain.EmbedView{{Key: "embed_b", Label: "Tweet", Markup: "<p>t</p>"}}})

	got := out.String()
	for _, want := range []string{"#1 [image] <img>", "#2 [Tweet (nsfw, hidden)] hidden, /show 2", "#2 [Tweet] <p>t</p>"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestCLI_CommandsPublishActions(t *testing.T) {
	var out strings.Builder
	in := strings.NewReader("see https://x/y.png\n/show 1\n/hide 9\n/refetch x\n/quit\nignored\n")
	c := NewCLI(CLIConfig{In: in, Out: &out, Logger: testLogger()})
	c.handleOutbound(domain.OutboundMessage{Embeds: []domain.EmbedView{{Key: "embed_a", Label: "image"}}})

	b := bus.New(10, testLogger())
	if err := c.Start(context.Background(), b); err != nil {
		t.Fatalf("Start: %v", err)
	}
	b.Close()

	var msgs []domain.InboundMessage
	for m := range b.Subscribe() {
		msgs = append(msgs, m)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 published messages, got %+v", msgs)
	}
	if msgs[0].Content != "see https://x/y.png" || msgs[0].Channel != "cli" {
		t.Fatalf("unexpected text message %+v", msgs[0])
	}
	if msgs[1].Action != domain.ActionReveal || msgs[1].EmbedKey != "embed_a" {
		t.Fatalf("unexpected action %+v", msgs[1])
	}
	if !strings.Contains(out.String(), "no embed #9") || !strings.Contains(out.String(), "not an embed number") {
		t.Fatalf("expected usage errors in output:\n%s", out.String())
	}
}

func TestCLI_DiscardForgetsNumber(t *testing.T) {
	var out strings.Builder
	c := NewCLI(CLIConfig{In: strings.NewReader(""), Out: &out, Logger: testLogger()})
	v := domain.EmbedView{Key: "embed_a", Label: "image"}
	c.handleOutbound(domain.OutboundMessage{Embeds: []domain.EmbedView{v}})
	c.handleOutbound(domain.OutboundMessage{Action: domain.ActionDiscard, Embeds: []domain.EmbedView{v}})

	if !strings.Contains(out.String(), "#1 [image] discarded") {
		t.Fatalf("unexpected output:\n%s", out.String())
	}
	if _, ok := c.byNum[1]; ok {
		t.Fatal("discarded embed should no longer be addressable")
	}
}
