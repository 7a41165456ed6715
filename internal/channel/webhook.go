package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"embedbot/internal/annotate"
	"embedbot/internal/domain"
	"embedbot/internal/metrics"
	"embedbot/internal/surface"
	"embedbot/internal/view"
)

const (
	defaultWebhookWait = 10 * time.Second
	maxWebhookWait     = 30 * time.Second
)

// Annotator is what the webhook needs from the annotation loop.
type Annotator interface {
	Annotate(ctx context.Context, msg domain.Message) ([]*annotate.Entry, error)
	Policy() view.Policy
}

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Host        string
	Port        int
	Secret      string // HMAC secret for verifying webhook signatures
	Metrics     bool   // expose the metrics endpoint
	MetricsPath string // default: /metrics
	Logger      *slog.Logger
}

// Webhook answers POST /annotate synchronously: the response carries the
// entries and, when asked to reveal, whatever deferred markup arrived
// before the wait ran out.
type Webhook struct {
	host      string
	port      int
	secret    string
	metrics   string // empty when disabled
	annotator Annotator
	logger    *slog.Logger
	server    *http.Server
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	ChatID  string `json:"chat_id"` // target chat/conversation ID
	UserID  string `json:"user_id"` // sender identifier
	Content string `json:"content"` // message content
	Reveal  bool   `json:"reveal"`  // reveal every entry, not only what the policy shows
	WaitMS  int    `json:"wait_ms"` // max wait for deferred fills
}

// WebhookResponse is the JSON answer to /annotate.
type WebhookResponse struct {
	Embeds []domain.EmbedView `json:"embeds"`
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig, annotator Annotator) *Webhook {
	if cfg.Port == 0 {
		cfg.Port = 8090
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var metricsPath string
	if cfg.Metrics {
		metricsPath = cfg.MetricsPath
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
	}
	return &Webhook{
		host:      cfg.Host,
		port:      cfg.Port,
		secret:    cfg.Secret,
		metrics:   metricsPath,
		annotator: annotator,
		logger:    cfg.Logger,
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Handler returns the HTTP routes of the webhook.
func (w *Webhook) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/annotate", w.handleAnnotate)
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(map[string]any{
			"status": "ok",
			"uptime": int64(metrics.Collector.Uptime().Seconds()),
		})
	})
	if w.metrics != "" {
		mux.HandleFunc(w.metrics, metrics.Collector.Handler())
	}
	return mux
}

// Start begins the webhook HTTP server.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	addr := net.JoinHostPort(w.host, strconv.Itoa(w.port))
	w.server = &http.Server{
		Addr:              addr,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      maxWebhookWait + 10*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Renders go back in the HTTP response; nothing arrives on the bus.
	bus.OnOutbound("webhook", func(msg domain.OutboundMessage) {
		w.logger.Debug("webhook outbound (not forwarded)", "chat_id", msg.ChatID, "fill", msg.Fill)
	})

	w.logger.Info("webhook server starting", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

func (w *Webhook) Stop() error { return nil }

func (w *Webhook) handleAnnotate(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}
	if payload.ChatID == "" {
		payload.ChatID = "webhook-default"
	}

	metrics.InboundMessages.Inc()
	w.logger.Info("webhook received",
		"chat_id", payload.ChatID,
		"user_id", payload.UserID,
		"content_len", len(payload.Content),
	)

	entries, err := w.annotator.Annotate(r.Context(), domain.Message{
		Channel: "webhook",
		ChatID:  payload.ChatID,
		Text:    payload.Content,
	})
	if err != nil {
		w.logger.Warn("webhook annotation failed", "err", err)
		http.Error(rw, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	resp := WebhookResponse{Embeds: w.materialize(r.Context(), entries, payload)}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(resp)
}

// materialize reveals entries onto a per-request memory surface and waits
// for the deferred ones to fill.
func (w *Webhook) materialize(ctx context.Context, entries []*annotate.Entry, payload WebhookPayload) []domain.EmbedView {
	mem := surface.NewMemory(len(entries) + 1)
	for _, e := range entries {
		mem.Mount(e.Key())
	}

	policy := w.annotator.Policy()
	if payload.Reveal {
		for _, e := range entries {
			e.Reveal(ctx, mem)
		}
	} else {
		policy.Apply(ctx, entries, mem)
	}

	wait := defaultWebhookWait
	if payload.WaitMS > 0 {
		wait = time.Duration(payload.WaitMS) * time.Millisecond
	}
	if wait > maxWebhookWait {
		wait = maxWebhookWait
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	// A failed or dropped fetch never writes to mem, so wait on the cell
	// and read whatever it left behind.
	views := annotate.Views(entries)
	for i, e := range entries {
		if e.Cell == nil || !e.Visible() {
			continue
		}
		if err := e.Cell.Wait(waitCtx); err != nil {
			w.logger.Debug("webhook stopped waiting for embed", "key", e.Key(), "err", err)
			continue
		}
		if markup, ok := mem.Markup(e.Key()); ok {
			views[i].Markup = markup
		}
	}
	return views
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
