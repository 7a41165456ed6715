package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"embedbot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

const (
	discordMaxMsgLen = 2000
)

// Discord implements domain.Channel for Discord. Hidden embeds carry a
// "Show" button component.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	bus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		for _, out := range discordMessages(msg) {
			if _, err := d.session.ChannelMessageSendComplex(msg.ChatID, out); err != nil {
				d.logger.Error("discord send failed", "channel", msg.ChatID, "err", err)
			}
		}
	})

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.ID == s.State.User.ID {
			return
		}
		if d.guildID != "" && m.GuildID != d.guildID {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)

		bus.Publish(domain.InboundMessage{
			Channel:   "discord",
			ChatID:    m.ChannelID,
			SenderID:  m.Author.ID,
			Content:   m.Content,
			Timestamp: time.Now(),
		})
	})

	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionMessageComponent:
			d.handleComponent(s, i)
		case discordgo.InteractionApplicationCommand:
			d.handleCommand(s, i)
		}
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	d.registerSlashCommands()

	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

func (d *Discord) Stop() error { return nil }

// discordMessages turns one outbound message into the Discord messages that
// show it.
func discordMessages(msg domain.OutboundMessage) []*discordgo.MessageSend {
	var out []*discordgo.MessageSend

	switch {
	case msg.Fill:
		for _, v := range msg.Embeds {
			out = append(out, &discordgo.MessageSend{Content: plainEmbed(v)})
		}
	case msg.Action != "":
		if msg.Action != domain.ActionHide {
			return nil
		}
		for _, v := range msg.Embeds {
			out = append(out, discordShowButton(v))
		}
	case len(msg.Embeds) > 0:
		for _, v := range msg.Embeds {
			switch {
			case !v.Visible:
				out = append(out, discordShowButton(v))
			case v.Markup != "":
				out = append(out, &discordgo.MessageSend{Content: plainEmbed(v)})
			}
		}
	case msg.Content != "":
		for _, chunk := range splitMessage(msg.Content, discordMaxMsgLen) {
			out = append(out, &discordgo.MessageSend{Content: chunk})
		}
	}
	return out
}

func discordShowButton(v domain.EmbedView) *discordgo.MessageSend {
	return &discordgo.MessageSend{
		Content: hiddenEmbed(v),
		Components: []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Show",
					Style:    discordgo.PrimaryButton,
					CustomID: actionData(domain.ActionReveal, v.Key),
				},
			}},
		},
	}
}

func (d *Discord) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	action, key, ok := parseAction(i.MessageComponentData().CustomID)
	if !ok {
		return
	}

	// Acknowledge and drop the button.
	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseUpdateMessage,
		Data: &discordgo.InteractionResponseData{Components: []discordgo.MessageComponent{}},
	})

	d.bus.Publish(domain.InboundMessage{
		Channel:   "discord",
		ChatID:    i.ChannelID,
		SenderID:  interactionUser(i),
		Action:    action,
		EmbedKey:  key,
		Timestamp: time.Now(),
	})
}

func (d *Discord) handleCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "embed" {
		return
	}
	var text string
	for _, opt := range data.Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			text = opt.StringValue()
		}
	}

	s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: text},
	})

	d.bus.Publish(domain.InboundMessage{
		Channel:   "discord",
		ChatID:    i.ChannelID,
		SenderID:  interactionUser(i),
		Content:   text,
		Timestamp: time.Now(),
	})
}

func interactionUser(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func (d *Discord) registerSlashCommands() {
	commands := []*discordgo.ApplicationCommand{
		{
			Name:        "embed",
			Description: "Attach previews for the links in a message",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "text",
					Description: "Message with links",
					Required:    true,
				},
			},
		},
	}

	guildID := d.guildID // empty = global commands
	for _, cmd := range commands {
		_, err := d.session.ApplicationCommandCreate(d.session.State.User.ID, guildID, cmd)
		if err != nil {
			d.logger.Warn("failed to register slash command", "command", cmd.Name, "err", err)
		}
	}
}
