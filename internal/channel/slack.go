package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"embedbot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const slackMaxMsgLen = 4000

// Slack implements domain.Channel for Slack using Socket Mode. Hidden embeds
// carry a Block Kit "Show" button.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID, to avoid annotating itself
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// slackPost is one chat.postMessage call.
type slackPost struct {
	Text   string
	Blocks []slack.Block
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(s.botToken, slack.OptionAppLevelToken(s.appToken))
	s.client = api

	auth, err := api.AuthTestContext(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = auth.UserID
	s.logger.Info("slack bot connected", "user", auth.User, "user_id", auth.UserID)

	socketClient := socketmode.New(api)

	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		for _, post := range slackMessages(msg) {
			opts := []slack.MsgOption{slack.MsgOptionText(post.Text, false)}
			if len(post.Blocks) > 0 {
				opts = append(opts, slack.MsgOptionBlocks(post.Blocks...))
			}
			if _, _, err := s.client.PostMessageContext(ctx, msg.ChatID, opts...); err != nil {
				s.logger.Error("slack send failed", "channel", msg.ChatID, "err", err)
			}
		}
	})

	go func() {
		for evt := range socketClient.Events {
			// Unacknowledged requests make Socket Mode retry and disconnect.
			if evt.Request != nil {
				socketClient.Ack(*evt.Request)
			}
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				if ev, ok := evt.Data.(slackevents.EventsAPIEvent); ok {
					s.handleEventsAPI(ev)
				}
			case socketmode.EventTypeSlashCommand:
				if cmd, ok := evt.Data.(slack.SlashCommand); ok {
					s.handleSlashCommand(cmd)
				}
			case socketmode.EventTypeInteractive:
				if cb, ok := evt.Data.(slack.InteractionCallback); ok {
					s.handleInteraction(ctx, cb)
				}
			}
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

func (s *Slack) Stop() error { return nil }

// slackMessages turns one outbound message into the Slack posts that show
// it. Slack cannot render embed HTML, so visible embeds go out as plain text.
func slackMessages(msg domain.OutboundMessage) []slackPost {
	var out []slackPost

	switch {
	case msg.Fill:
		for _, v := range msg.Embeds {
			out = append(out, slackPost{Text: plainEmbed(v)})
		}
	case msg.Action != "":
		if msg.Action != domain.ActionHide {
			return nil
		}
		for _, v := range msg.Embeds {
			out = append(out, slackShowButton(v))
		}
	case len(msg.Embeds) > 0:
		for _, v := range msg.Embeds {
			switch {
			case !v.Visible:
				out = append(out, slackShowButton(v))
			case v.Markup != "":
				out = append(out, slackPost{Text: plainEmbed(v)})
			}
		}
	case msg.Content != "":
		for _, chunk := range splitMessage(msg.Content, slackMaxMsgLen) {
			out = append(out, slackPost{Text: chunk})
		}
	}
	return out
}

func slackShowButton(v domain.EmbedView) slackPost {
	text := hiddenEmbed(v)
	data := actionData(domain.ActionReveal, v.Key)
	button := slack.NewButtonBlockElement(data, data,
		slack.NewTextBlockObject(slack.PlainTextType, "Show", false, false))
	button.Style = slack.StylePrimary
	return slackPost{
		Text: text,
		Blocks: []slack.Block{
			slack.NewSectionBlock(slack.NewTextBlockObject(slack.PlainTextType, text, false, false), nil, nil),
			slack.NewActionBlock(v.Key, button),
		},
	}
}

// slackActions maps the buttons pressed in a block_actions callback to embed
// actions. Unknown action IDs are skipped.
func slackActions(cb slack.InteractionCallback) []domain.InboundMessage {
	if cb.Type != slack.InteractionTypeBlockActions {
		return nil
	}
	chatID := cb.Channel.ID
	if chatID == "" {
		chatID = cb.Container.ChannelID
	}
	var out []domain.InboundMessage
	for _, ba := range cb.ActionCallback.BlockActions {
		action, key, ok := parseAction(ba.ActionID)
		if !ok {
			continue
		}
		out = append(out, domain.InboundMessage{
			Channel:   "slack",
			ChatID:    chatID,
			SenderID:  cb.User.ID,
			Action:    action,
			EmbedKey:  key,
			Timestamp: time.Now(),
		})
	}
	return out
}

func (s *Slack) handleInteraction(ctx context.Context, cb slack.InteractionCallback) {
	actions := slackActions(cb)
	if len(actions) == 0 {
		return
	}

	// Drop the button so the embed cannot be revealed twice.
	if ts := cb.Container.MessageTs; ts != "" {
		if _, _, _, err := s.client.UpdateMessageContext(ctx, actions[0].ChatID, ts,
			slack.MsgOptionText(cb.Message.Text, false),
			slack.MsgOptionBlocks([]slack.Block{}...)); err != nil {
			s.logger.Debug("slack button removal failed", "err", err)
		}
	}

	for _, in := range actions {
		s.logger.Info("slack embed action", "action", in.Action, "key", in.EmbedKey, "channel", in.ChatID)
		s.bus.Publish(in)
	}
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	switch ev := event.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// Skip our own posts and edits.
		if ev.User == s.botUID || ev.User == "" || ev.SubType != "" || ev.BotID != "" {
			return
		}

		s.logger.Info("slack message received",
			"user", ev.User,
			"channel", ev.Channel,
			"content_len", len(ev.Text),
		)

		s.bus.Publish(domain.InboundMessage{
			Channel:   "slack",
			ChatID:    ev.Channel,
			SenderID:  ev.User,
			Content:   ev.Text,
			Timestamp: time.Now(),
		})

	case *slackevents.AppMentionEvent:
		s.logger.Info("slack mention received", "user", ev.User, "channel", ev.Channel)

		s.bus.Publish(domain.InboundMessage{
			Channel:   "slack",
			ChatID:    ev.Channel,
			SenderID:  ev.User,
			Content:   stripMention(ev.Text),
			Timestamp: time.Now(),
		})
	}
}

func (s *Slack) handleSlashCommand(cmd slack.SlashCommand) {
	s.logger.Info("slack slash command",
		"command", cmd.Command,
		"user", cmd.UserID,
		"channel", cmd.ChannelID,
	)

	text := strings.TrimSpace(cmd.Text)
	if text == "" {
		return
	}
	s.bus.Publish(domain.InboundMessage{
		Channel:   "slack",
		ChatID:    cmd.ChannelID,
		SenderID:  cmd.UserID,
		Content:   text,
		Timestamp: time.Now(),
	})
}

// stripMention drops a leading "<@U123>" from an app mention.
func stripMention(text string) string {
	if strings.HasPrefix(text, "<@") {
		if idx := strings.Index(text, ">"); idx >= 0 {
			return strings.TrimSpace(text[idx+1:])
		}
	}
	return text
}
