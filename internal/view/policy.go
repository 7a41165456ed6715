// Package view decides how annotated entries are first presented and keeps
// them addressable for later user actions.
package view

import (
	"context"

	"embedbot/internal/annotate"
	"embedbot/internal/domain"
)

// Policy is the user's display preference.
type Policy struct {
	AutoDisplayEmbedded bool
	AutoDisplayNSFW     bool
}

// InitiallyVisible reports whether an entry starts revealed. Nothing is
// shown automatically unless embedded content is; nsfw entries also need
// the nsfw preference.
func (p Policy) InitiallyVisible(nsfw bool) bool {
	return p.AutoDisplayEmbedded && (!nsfw || p.AutoDisplayNSFW)
}

// Views snapshots entries for the first render, with Visible set to what
// the policy will reveal.
func (p Policy) Views(entries []*annotate.Entry) []domain.EmbedView {
	views := annotate.Views(entries)
	for i := range views {
		views[i].Visible = views[i].Visible || p.InitiallyVisible(views[i].NSFW)
	}
	return views
}

// Apply reveals the entries the policy shows by default and returns how
// many it revealed. Call it after the message has been rendered so fills
// land on a mounted target.
func (p Policy) Apply(ctx context.Context, entries []*annotate.Entry, loc domain.Locator) int {
	n := 0
	for _, e := range entries {
		if p.InitiallyVisible(e.NSFW) {
			e.Reveal(ctx, loc)
			n++
		}
	}
	return n
}
