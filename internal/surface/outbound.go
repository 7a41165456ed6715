package surface

import (
	"context"
	"html/template"

	"embedbot/internal/domain"
)

// Sender delivers outbound messages to channels.
type Sender interface {
	SendOutbound(msg domain.OutboundMessage)
}

// Outbound routes fills back to the chat an embed was rendered in, as a
// follow-up outbound message with Fill set.
type Outbound struct {
	live   *Live
	sender Sender
}

// NewOutbound keeps up to max embeds addressable. onEvict runs for embeds
// pushed out by newer ones.
func NewOutbound(sender Sender, max int, onEvict func(key string)) *Outbound {
	return &Outbound{live: NewLive(max, onEvict), sender: sender}
}

// Mount routes fills for view.Key to channel and chatID.
func (o *Outbound) Mount(channel, chatID string, view domain.EmbedView) {
	o.live.Mount(view.Key, TargetFunc(func(ctx context.Context, markup template.HTML) error {
		v := view
		v.Markup = markup
		v.Visible = true
		o.sender.SendOutbound(domain.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: string(markup),
			Format:  "html",
			Embeds:  []domain.EmbedView{v},
			Fill:    true,
		})
		return nil
	}))
}

func (o *Outbound) Unmount(key string) bool { return o.live.Unmount(key) }

func (o *Outbound) Mounted(key string) bool { return o.live.Mounted(key) }

func (o *Outbound) Len() int { return o.live.Len() }

func (o *Outbound) Locate(ctx context.Context, key string) (domain.Target, bool) {
	return o.live.Locate(ctx, key)
}
