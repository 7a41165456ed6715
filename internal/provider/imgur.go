package provider

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"regexp"
	"strings"

	"embedbot/internal/domain"
	"embedbot/internal/fetch"
)

var (
	imgurPageRegexp = regexp.MustCompile(`(?i)^https?://(?:www\.)?imgur\.com(/gallery)?/([a-z0-9]+)$`)
	imgurTmpl       = template.Must(template.New("imgur").Parse(`<a target="_blank" href="{{.Page}}"><img class="embed" data-imgur-id="{{.ID}}" src="{{.Link}}"></a>`))

	errMissingClientID = errors.New("imgur: client id not configured")
)

// ImgurConfig configures the Imgur provider.
type ImgurConfig struct {
	ClientID string
	APIBase  string
	Fetcher  domain.Fetcher
}

type imgurResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

// Imgur resolves imgur page links to their direct image through the API.
// The lookup happens on first reveal.
func Imgur(cfg ImgurConfig) (domain.Provider, error) {
	if cfg.ClientID == "" {
		return domain.Provider{}, errMissingClientID
	}
	if cfg.Fetcher == nil {
		return domain.Provider{}, errors.New("imgur: fetcher is required")
	}
	base := strings.TrimRight(cfg.APIBase, "/")
	header := http.Header{"Authorization": {"Client-ID " + cfg.ClientID}}

	return domain.Provider{
		Name: "Imgur",
		Matcher: perURL(func(page string) (domain.ContentUnit, bool, error) {
			m := imgurPageRegexp.FindStringSubmatch(page)
			if m == nil {
				return domain.ContentUnit{}, false, nil
			}
			kind, id := m[1], m[2]
			api := base + kind + "/image/" + id + ".json"

			return domain.Deferred(func(ctx context.Context, h domain.Handle) error {
				var resp imgurResponse
				if err := fetch.GetJSON(ctx, cfg.Fetcher, api, header, &resp); err != nil {
					return err
				}
				if !resp.Success || resp.Data.Link == "" {
					return fmt.Errorf("imgur: no image for %s", id)
				}
				markup, err := render(imgurTmpl, struct{ Page, ID, Link string }{page, id, resp.Data.Link})
				if err != nil {
					return err
				}
				return h.Fill(ctx, markup)
			}), true, nil
		}),
	}, nil
}
