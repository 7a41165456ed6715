package channel

import (
	"html"
	"regexp"
	"strings"
	"unicode/utf8"

	"embedbot/internal/domain"
)

var (
	embedLinkRe = regexp.MustCompile(`(?i)\b(?:src|href)="([^"]+)"`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// plainEmbed renders an embed for chat apps that cannot show HTML: the first
// link in its markup when there is one, the markup's text otherwise.
func plainEmbed(v domain.EmbedView) string {
	markup := string(v.Markup)
	if m := embedLinkRe.FindStringSubmatch(markup); m != nil {
		link := html.UnescapeString(m[1])
		if strings.HasPrefix(link, "//") {
			link = "https:" + link
		}
		return v.Label + ": " + link
	}
	text := strings.TrimSpace(spaceRe.ReplaceAllString(html.UnescapeString(tagRe.ReplaceAllString(markup, " ")), " "))
	if text == "" {
		return v.Label
	}
	return v.Label + ": " + text
}

// hiddenEmbed is the placeholder shown next to a "Show" control.
func hiddenEmbed(v domain.EmbedView) string {
	if v.NSFW {
		return v.Label + " (nsfw, hidden)"
	}
	return v.Label + " (hidden)"
}

// actionData encodes an embed action for button callbacks.
func actionData(a domain.EmbedAction, key string) string {
	return string(a) + ":" + key
}

// parseAction decodes button callback data like "reveal:embed_<id>".
func parseAction(data string) (domain.EmbedAction, string, bool) {
	action, key, ok := strings.Cut(data, ":")
	if !ok || key == "" {
		return "", "", false
	}
	switch a := domain.EmbedAction(action); a {
	case domain.ActionReveal, domain.ActionHide, domain.ActionRefetch, domain.ActionDiscard:
		return a, key, true
	}
	return "", "", false
}

// splitMessage splits a message into chunks that fit within the max length,
// trying to split on newlines when possible.
func splitMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}

		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			// Never split a multi-byte rune.
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
			if cut == 0 {
				cut = maxLen
			}
		}

		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
