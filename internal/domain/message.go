package domain

import (
	"html/template"
	"time"
)

// Message is the unit the annotator works on.
type Message struct {
	ID      string
	Channel string
	ChatID  string
	Text    string
}

// EmbedAction is a consumer request against an already rendered embed.
type EmbedAction string

const (
	ActionReveal  EmbedAction = "reveal"
	ActionHide    EmbedAction = "hide"
	ActionRefetch EmbedAction = "refetch"
	ActionDiscard EmbedAction = "discard"
)

type InboundMessage struct {
	Channel   string
	ChatID    string
	SenderID  string
	Content   string
	Timestamp time.Time

	// Action and EmbedKey are set instead of Content when the user acts on
	// an embed that is already on screen.
	Action   EmbedAction
	EmbedKey string
}

// IsAction reports whether the message targets an existing embed.
func (m InboundMessage) IsAction() bool { return m.Action != "" }

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	Format  string // text | html
	Embeds  []EmbedView

	// Fill is set when the message carries late markup for an embed that
	// was rendered earlier; Embeds then holds that single embed.
	Fill bool
	// Action acknowledges a reveal, hide, refetch or discard request;
	// Embeds then holds the affected embed in its new state.
	Action EmbedAction
}

// EmbedView is the render-ready snapshot of one metadata entry.
type EmbedView struct {
	Key      string        `json:"key"`
	Label    string        `json:"label"`
	Provider string        `json:"provider"`
	Index    int           `json:"index,omitempty"`
	Kind     string        `json:"kind"`
	NSFW     bool          `json:"nsfw"`
	Visible  bool          `json:"visible"`
	Markup   template.HTML `json:"markup,omitempty"`
}
