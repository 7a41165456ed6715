package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"embedbot/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram implements domain.Channel for a Telegram bot. Visible embeds are
// sent as links so Telegram can preview them; hidden ones get a "Show"
// button whose callback reveals them.
type Telegram struct {
	token     string
	allowFrom []int64 // Allowed user IDs (empty = allow all)

	bot    *tgbotapi.BotAPI
	bus    domain.MessageBus
	logger *slog.Logger
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // User IDs as strings
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		logger:    cfg.Logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and begins polling for updates.
func (t *Telegram) Start(ctx context.Context, bus domain.MessageBus) error {
	t.bus = bus

	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	bus.OnOutbound("telegram", func(msg domain.OutboundMessage) {
		chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
		if err != nil {
			t.logger.Error("invalid chat ID for telegram outbound", "chatID", msg.ChatID, "err", err)
			return
		}
		for _, out := range telegramMessages(chatID, msg) {
			t.send(out)
		}
	})

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(update)
		}
	}
}

// Stop is a no-op: StopReceivingUpdates runs when Start's context is
// cancelled, and calling it twice panics.
func (t *Telegram) Stop() error {
	return nil
}

// telegramMessages turns one outbound message into the Telegram messages
// that show it.
func telegramMessages(chatID int64, msg domain.OutboundMessage) []tgbotapi.MessageConfig {
	var out []tgbotapi.MessageConfig

	switch {
	case msg.Fill:
		for _, v := range msg.Embeds {
			out = append(out, tgbotapi.NewMessage(chatID, plainEmbed(v)))
		}
	case msg.Action != "":
		// Chat messages cannot be taken back; a hide is answered with a fresh
		// Show button, everything else needs nothing.
		if msg.Action != domain.ActionHide {
			return nil
		}
		for _, v := range msg.Embeds {
			out = append(out, showButton(chatID, v))
		}
	case len(msg.Embeds) > 0:
		for _, v := range msg.Embeds {
			switch {
			case !v.Visible:
				out = append(out, showButton(chatID, v))
			case v.Markup != "":
				out = append(out, tgbotapi.NewMessage(chatID, plainEmbed(v)))
			}
		}
	case msg.Content != "":
		for _, chunk := range splitMessage(msg.Content, telegramMaxMsgLen) {
			out = append(out, tgbotapi.NewMessage(chatID, chunk))
		}
	}
	return out
}

func showButton(chatID int64, v domain.EmbedView) tgbotapi.MessageConfig {
	m := tgbotapi.NewMessage(chatID, hiddenEmbed(v))
	m.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Show", actionData(domain.ActionReveal, v.Key)),
		),
	)
	return m
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.CallbackQuery != nil {
		t.handleCallback(update.CallbackQuery)
		return
	}

	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(userID, 10),
		Content:   text,
		Timestamp: time.Unix(int64(update.Message.Date), 0),
	})
}

func (t *Telegram) handleCallback(cq *tgbotapi.CallbackQuery) {
	if cq.Message == nil || cq.Message.Chat == nil || cq.From == nil {
		return
	}
	_, _ = t.bot.Request(tgbotapi.NewCallback(cq.ID, ""))

	if !t.isAllowed(cq.From.ID) {
		return
	}
	action, key, ok := parseAction(cq.Data)
	if !ok {
		t.logger.Debug("ignoring telegram callback", "data", cq.Data)
		return
	}

	// The button has done its job.
	chatID := cq.Message.Chat.ID
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, cq.Message.MessageID, tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}})
	_, _ = t.bot.Send(edit)

	t.bus.Publish(domain.InboundMessage{
		Channel:   "telegram",
		ChatID:    strconv.FormatInt(chatID, 10),
		SenderID:  strconv.FormatInt(cq.From.ID, 10),
		Action:    action,
		EmbedKey:  key,
		Timestamp: time.Now(),
	})
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start", "help":
		t.send(tgbotapi.NewMessage(chatID, "Send me a message with links. I will attach previews for videos, images, music, maps, gists and tweets.\n\nHidden previews come with a Show button."))
	default:
		t.send(tgbotapi.NewMessage(chatID, "Unknown command. Type /help for help."))
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true // Empty list = allow all
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

// send delivers one message with retry and rate limit handling.
func (t *Telegram) send(msg tgbotapi.MessageConfig) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()
		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
