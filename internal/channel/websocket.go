package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"embedbot/internal/bus"
	"embedbot/internal/domain"
	"embedbot/internal/metrics"

	"github.com/gorilla/websocket"
)

// WSConfig configures the WebSocket channel.
type WSConfig struct {
	Host           string
	Port           int
	Path           string   // WebSocket endpoint path (default: /ws)
	AllowedOrigins []string      // empty allows every origin
	Events         *bus.EventBus // optional: failed fetches are pushed to clients
	Logger         *slog.Logger
}

// wsMaxTracked bounds the embed key -> chat map used to route failures.
const wsMaxTracked = 1000

// WebSocketChannel is the live browser surface: clients send messages and
// embed actions, the server pushes renders, fills and state changes.
type WebSocketChannel struct {
	host   string
	port   int
	path   string
	bus    domain.MessageBus
	events *bus.EventBus
	logger *slog.Logger
	server *http.Server

	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient

	trackMu sync.Mutex
	chatOf  map[string]string // embed key -> chat
	order   []string
}

// wsClient tracks a connected WebSocket client.
type wsClient struct {
	conn   *websocket.Conn
	chatID string
	mu     sync.Mutex
}

// WSMessage is the JSON protocol for WebSocket communication.
//
// Client to server: "message" (Content), "reveal", "hide", "refetch",
// "discard" (Key). Server to client: "status", "embeds" (Content, Embeds),
// "fill" (Embeds with one entry), "state" (Embeds with one entry),
// "failed" (Key, Content holds the error), "notice" (Content).
type WSMessage struct {
	Type    string             `json:"type"`
	Content string             `json:"content,omitempty"`
	ChatID  string             `json:"chat_id,omitempty"`
	UserID  string             `json:"user_id,omitempty"`
	Key     string             `json:"key,omitempty"`
	Action  string             `json:"action,omitempty"`
	Embeds  []domain.EmbedView `json:"embeds,omitempty"`
}

// NewWebSocketChannel creates a new WebSocket channel.
func NewWebSocketChannel(cfg WSConfig) *WebSocketChannel {
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	if cfg.Port == 0 {
		cfg.Port = 8091
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	ws := &WebSocketChannel{
		host:    cfg.Host,
		port:    cfg.Port,
		path:    cfg.Path,
		events:  cfg.Events,
		logger:  cfg.Logger,
		clients: make(map[string]*wsClient),
		chatOf:  make(map[string]string),
	}
	ws.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(cfg.AllowedOrigins),
	}
	return ws
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		set[o] = true
	}
	return func(r *http.Request) bool {
		return set[r.Header.Get("Origin")]
	}
}

func (ws *WebSocketChannel) Name() string { return "websocket" }

// Handler returns the HTTP routes of the channel.
func (ws *WebSocketChannel) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, ws.handleUpgrade)
	return mux
}

// Start begins the WebSocket server.
func (ws *WebSocketChannel) Start(ctx context.Context, mb domain.MessageBus) error {
	ws.bus = mb

	addr := net.JoinHostPort(ws.host, strconv.Itoa(ws.port))
	ws.server = &http.Server{
		Addr:              addr,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	mb.OnOutbound("websocket", ws.handleOutbound)
	if ws.events != nil {
		id := ws.events.On(bus.EventFetchFailed, ws.handleFetchFailed)
		defer ws.events.Off(bus.EventFetchFailed, id)
	}

	ws.logger.Info("websocket server starting", "addr", addr, "path", ws.path)

	errCh := make(chan error, 1)
	go func() {
		if err := ws.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ws.closeAllClients()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return ws.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (ws *WebSocketChannel) Stop() error { return nil }

// wsOutbound maps an outbound message to the wire protocol.
func wsOutbound(msg domain.OutboundMessage) WSMessage {
	out := WSMessage{ChatID: msg.ChatID, Content: msg.Content, Embeds: msg.Embeds}
	switch {
	case msg.Fill:
		out.Type = "fill"
		out.Content = ""
	case msg.Action != "":
		out.Type = "state"
		out.Action = string(msg.Action)
	case len(msg.Embeds) > 0:
		out.Type = "embeds"
	default:
		out.Type = "notice"
	}
	return out
}

func (ws *WebSocketChannel) handleOutbound(msg domain.OutboundMessage) {
	ws.track(msg)
	ws.broadcastToChat(msg.ChatID, wsOutbound(msg))
}

// track remembers which chat each rendered embed went to.
func (ws *WebSocketChannel) track(msg domain.OutboundMessage) {
	ws.trackMu.Lock()
	defer ws.trackMu.Unlock()
	for _, v := range msg.Embeds {
		if msg.Action == domain.ActionDiscard {
			delete(ws.chatOf, v.Key)
			continue
		}
		if _, ok := ws.chatOf[v.Key]; ok {
			continue
		}
		ws.chatOf[v.Key] = msg.ChatID
		ws.order = append(ws.order, v.Key)
	}
	for len(ws.order) > wsMaxTracked {
		delete(ws.chatOf, ws.order[0])
		ws.order = ws.order[1:]
	}
}

// handleFetchFailed tells the chat that shows an embed its fetch failed, so
// the client can offer a refetch.
func (ws *WebSocketChannel) handleFetchFailed(ev bus.Event) {
	key, _ := ev.Payload["key"].(string)
	ws.trackMu.Lock()
	chatID, ok := ws.chatOf[key]
	ws.trackMu.Unlock()
	if !ok {
		return
	}
	msg := WSMessage{Type: "failed", ChatID: chatID, Key: key}
	msg.Content, _ = ev.Payload["error"].(string)
	ws.broadcastToChat(chatID, msg)
}

func (ws *WebSocketChannel) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		ws.logger.Error("websocket upgrade failed", "err", err)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		chatID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}

	client := &wsClient{
		conn:   conn,
		chatID: chatID,
	}

	clientID := fmt.Sprintf("%s-%p", chatID, conn)
	ws.mu.Lock()
	ws.clients[clientID] = client
	ws.mu.Unlock()
	metrics.WSConnections.Inc()

	ws.logger.Info("websocket client connected", "client_id", clientID, "chat_id", chatID)

	client.send(WSMessage{Type: "status", Content: "connected", ChatID: chatID})

	defer func() {
		ws.mu.Lock()
		delete(ws.clients, clientID)
		ws.mu.Unlock()
		metrics.WSConnections.Dec()
		conn.Close()
		ws.logger.Info("websocket client disconnected", "client_id", clientID)
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				ws.logger.Error("websocket read error", "err", err)
			}
			return
		}

		var wsMsg WSMessage
		if err := json.Unmarshal(message, &wsMsg); err != nil {
			ws.logger.Warn("invalid websocket message", "err", err)
			continue
		}
		if in, ok := wsInbound(chatID, wsMsg); ok {
			ws.bus.Publish(in)
		} else {
			ws.logger.Debug("ignoring websocket message", "type", wsMsg.Type)
		}
	}
}

// wsInbound maps a client message to a bus message.
func wsInbound(chatID string, m WSMessage) (domain.InboundMessage, bool) {
	in := domain.InboundMessage{
		Channel:   "websocket",
		ChatID:    chatID,
		SenderID:  m.UserID,
		Timestamp: time.Now(),
	}
	switch m.Type {
	case "message":
		if m.Content == "" {
			return in, false
		}
		in.Content = m.Content
		return in, true
	case "reveal", "hide", "refetch", "discard":
		if m.Key == "" {
			return in, false
		}
		in.Action = domain.EmbedAction(m.Type)
		in.EmbedKey = m.Key
		return in, true
	}
	return in, false
}

func (ws *WebSocketChannel) broadcastToChat(chatID string, msg WSMessage) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	for _, client := range ws.clients {
		if client.chatID == chatID || chatID == "" {
			client.mu.Lock()
			err := client.conn.WriteMessage(websocket.TextMessage, data)
			client.mu.Unlock()
			if err != nil {
				ws.logger.Debug("websocket write failed", "err", err)
			}
		}
	}
}

func (c *wsClient) send(msg WSMessage) {
	data, _ := json.Marshal(msg)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.WriteMessage(websocket.TextMessage, data)
}

func (ws *WebSocketChannel) closeAllClients() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, client := range ws.clients {
		client.conn.Close()
		delete(ws.clients, id)
	}
}
