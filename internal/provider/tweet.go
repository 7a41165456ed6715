package provider

import (
	"context"
	"errors"
	"html/template"
	"net/url"
	"regexp"
	"strings"

	"embedbot/internal/domain"
	"embedbot/internal/fetch"
)

var tweetRegexp = regexp.MustCompile(`(?i)^https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/(?:#!/)?(\w+)/status(?:es)?/(\d+)`)

const (
	tweetBlockquote    = `<blockquote class="twitter-tweet">`
	tweetBlockquoteDNT = `<blockquote class="twitter-tweet" data-dnt="true">`
	tweetWidgets       = `<script async src="https://platform.twitter.com/widgets.js" charset="utf-8"></script>`
)

// TweetConfig configures the Tweet provider.
type TweetConfig struct {
	OEmbedURL string
	DNT       bool
	Fetcher   domain.Fetcher
}

type oembedResponse struct {
	HTML string `json:"html"`
}

// TweetMarkup cuts the script tag out of oEmbed HTML, optionally sets Do Not
// Track, and appends the widgets loader.
func TweetMarkup(html string, dnt bool) template.HTML {
	if i := strings.Index(html, "<script "); i >= 0 {
		html = html[:i]
	}
	if dnt {
		html = strings.Replace(html, tweetBlockquote, tweetBlockquoteDNT, 1)
	}
	return template.HTML(html + tweetWidgets)
}

// Tweet embeds tweets through the oEmbed endpoint on first reveal.
func Tweet(cfg TweetConfig) (domain.Provider, error) {
	if cfg.Fetcher == nil {
		return domain.Provider{}, errors.New("tweet: fetcher is required")
	}
	if cfg.OEmbedURL == "" {
		return domain.Provider{}, errors.New("tweet: oembed url is required")
	}

	return domain.Provider{
		Name: "Tweet",
		Matcher: perURL(func(link string) (domain.ContentUnit, bool, error) {
			m := tweetRegexp.FindStringSubmatch(link)
			if m == nil {
				return domain.ContentUnit{}, false, nil
			}
			q := url.Values{}
			q.Set("url", "https://twitter.com/"+m[1]+"/status/"+m[2])
			q.Set("omit_script", "true")
			if cfg.DNT {
				q.Set("dnt", "true")
			}
			api := cfg.OEmbedURL + "?" + q.Encode()

			return domain.Deferred(func(ctx context.Context, h domain.Handle) error {
				var resp oembedResponse
				if err := fetch.GetJSON(ctx, cfg.Fetcher, api, nil, &resp); err != nil {
					return err
				}
				if resp.HTML == "" {
					return errors.New("tweet: empty oembed html")
				}
				return h.Fill(ctx, TweetMarkup(resp.HTML, cfg.DNT))
			}), true, nil
		}),
	}, nil
}
