package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"embedbot/internal/bus"
	"embedbot/internal/domain"

	"github.com/gorilla/websocket"
)

func TestWSInbound(t *testing.T) {
	in, ok := wsInbound("c1", WSMessage{Type: "message", Content: "hi"})
	if !ok || in.Content != "hi" || in.ChatID != "c1" || in.IsAction() {
		t.Fatalf("unexpected message %+v", in)
	}
	in, ok = wsInbound("c1", WSMessage{Type: "refetch", Key: "embed_1"})
	if !ok || in.Action != domain.ActionRefetch || in.EmbedKey != "embed_1" {
		t.Fatalf("unexpected action %+v", in)
	}
	for _, bad := range []WSMessage{{Type: "message"}, {Type: "reveal"}, {Type: "typing", Content: "x"}} {
		if _, ok := wsInbound("c1", bad); ok {
			t.Errorf("%+v should be ignored", bad)
		}
	}
}

func TestWSOutbound(t *testing.T) {
	v := []domain.EmbedView{{Key: "embed_1"}}
	cases := []struct {
		msg  domain.OutboundMessage
		want string
	}{
		{domain.OutboundMessage{Embeds: v}, "embeds"},
		{domain.OutboundMessage{Embeds: v, Fill: true, Content: "<p>"}, "fill"},
		{domain.OutboundMessage{Embeds: v, Action: domain.ActionHide}, "state"},
		{domain.OutboundMessage{Content: "gone"}, "notice"},
	}
	for _, c := range cases {
		if got := wsOutbound(c.msg); got.Type != c.want {
			t.Errorf("expected %s, got %s", c.want, got.Type)
		}
	}
}

func TestOriginChecker(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws", nil)
	req.Header.Set("Origin", "https://evil.example")
	if !originChecker(nil)(req) {
		t.Fatal("empty allow list should allow every origin")
	}
	check := originChecker([]string{"https://ok.example"})
	if check(req) {
		t.Fatal("unlisted origin should be refused")
	}
	req.Header.Set("Origin", "https://ok.example")
	if !check(req) {
		t.Fatal("listed origin should be allowed")
	}
}

func TestWebSocket_RoundTrip(t *testing.T) {
	b := bus.New(10, testLogger())
	ws := NewWebSocketChannel(WSConfig{Logger: testLogger()})
	ws.bus = b
	b.OnOutbound("websocket", ws.handleOutbound)

	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?chat_id=c1"
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var status WSMessage
	if err := conn.ReadJSON(&status); err != nil || status.Type != "status" {
		t.Fatalf("expected status, got %+v (%v)", status, err)
	}

	if err := conn.WriteJSON(WSMessage{Type: "reveal", Key: "embed_1"}); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	select {
	case in := <-b.Subscribe():
		if in.Action != domain.ActionReveal || in.ChatID != "c1" {
			t.Fatalf("unexpected inbound %+v", in)
		}
	case <-ctx.Done():
		t.Fatal("no inbound message")
	}

	b.SendOutbound(domain.OutboundMessage{Channel: "websocket", ChatID: "c1", Fill: true,
		Embeds: []domain.EmbedView{{Key: "embed_1", Markup: "<p>x</p>", Visible: true}}})
	var fill WSMessage
	if err := conn.ReadJSON(&fill); err != nil {
		t.Fatal(err)
	}
	if fill.Type != "fill" || len(fill.Embeds) != 1 || fill.Embeds[0].Markup != "<p>x</p>" {
		t.Fatalf("unexpected fill %+v", fill)
	}
}

func TestWebSocket_FetchFailedNotice(t *testing.T) {
	events := bus.NewEventBus(testLogger())
	ws := NewWebSocketChannel(WSConfig{Events: events, Logger: testLogger()})
	id := events.On(bus.EventFetchFailed, ws.handleFetchFailed)
	defer events.Off(bus.EventFetchFailed, id)

	srv := httptest.NewServer(ws.Handler())
	defer srv.Close()

	dial := func(chatID string) *websocket.Conn {
		url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?chat_id=" + chatID
		conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var status WSMessage
		if err := conn.ReadJSON(&status); err != nil || status.Type != "status" {
			t.Fatalf("expected status, got %+v (%v)", status, err)
		}
		return conn
	}
	owner := dial("c1")
	defer owner.Close()
	other := dial("c2")
	defer other.Close()

	ws.handleOutbound(domain.OutboundMessage{Channel: "websocket", ChatID: "c1",
		Embeds: []domain.EmbedView{{Key: "embed_7", Provider: "Gist", Visible: true}}})
	var first WSMessage
	if err := owner.ReadJSON(&first); err != nil || first.Type != "embeds" {
		t.Fatalf("expected embeds, got %+v (%v)", first, err)
	}

	// Unknown keys are not routed anywhere.
	events.Emit(bus.Event{Type: bus.EventFetchFailed, Source: "embed",
		Payload: map[string]any{"key": "embed_99", "error": "nope"}})
	events.Emit(bus.Event{Type: bus.EventFetchFailed, Source: "embed",
		Payload: map[string]any{"key": "embed_7", "error": "upstream 500"}})

	var failed WSMessage
	if err := owner.ReadJSON(&failed); err != nil {
		t.Fatal(err)
	}
	if failed.Type != "failed" || failed.Key != "embed_7" || failed.Content != "upstream 500" || failed.ChatID != "c1" {
		t.Fatalf("unexpected notice %+v", failed)
	}

	other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var stray WSMessage
	if err := other.ReadJSON(&stray); err == nil {
		t.Fatalf("other chat should not be told, got %+v", stray)
	}
}

func TestWebSocket_TrackIsBounded(t *testing.T) {
	ws := NewWebSocketChannel(WSConfig{Logger: testLogger()})
	for i := 0; i < wsMaxTracked+5; i++ {
		ws.track(domain.OutboundMessage{ChatID: "c1",
			Embeds: []domain.EmbedView{{Key: "embed_" + strconv.Itoa(i)}}})
	}
	if len(ws.chatOf) != wsMaxTracked || len(ws.order) != wsMaxTracked {
		t.Fatalf("expected %d tracked keys, got %d/%d", wsMaxTracked, len(ws.chatOf), len(ws.order))
	}
	if _, ok := ws.chatOf["embed_0"]; ok {
		t.Fatal("oldest key should be evicted")
	}

	ws.track(domain.OutboundMessage{ChatID: "c1", Action: domain.ActionDiscard,
		Embeds: []domain.EmbedView{{Key: "embed_10"}}})
	if _, ok := ws.chatOf["embed_10"]; ok {
		t.Fatal("discarded key should be forgotten")
	}
}
