package provider

import (
	"context"
	"errors"
	"html/template"
	"regexp"
	"strings"
	"sync"

	"embedbot/internal/domain"
	"embedbot/internal/fetch"
)

var (
	gistRegexp = regexp.MustCompile(`(?i)^https://gist\.github\.com/[^.?]+`)
	gistTmpl   = template.Must(template.New("gist").Parse(
		`{{if .Stylesheet}}<link rel="stylesheet" href="{{.Stylesheet}}">{{end}}<div style="clear:both">{{.Div}}</div>`))
)

const gistHost = "https://gist.github.com"

type gistResponse struct {
	Div        string `json:"div"`
	Stylesheet string `json:"stylesheet"`
}

// stylesheets remembers which gist stylesheets were already emitted.
type stylesheets struct {
	mu   sync.Mutex
	seen map[string]bool
}

// claim reports whether href has not been emitted before, and marks it.
func (s *stylesheets) claim(href string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[href] {
		return false
	}
	s.seen[href] = true
	return true
}

// Gist loads GitHub gists on first reveal. The gist stylesheet is included
// with the first gist that needs it and left out afterwards.
func Gist(base string, fetcher domain.Fetcher) (domain.Provider, error) {
	if fetcher == nil {
		return domain.Provider{}, errors.New("gist: fetcher is required")
	}
	if base == "" {
		base = gistHost
	}
	base = strings.TrimRight(base, "/")
	sheets := &stylesheets{seen: make(map[string]bool)}

	return domain.Provider{
		Name: "Gist",
		Matcher: perURL(func(url string) (domain.ContentUnit, bool, error) {
			m := gistRegexp.FindString(url)
			if m == "" {
				return domain.ContentUnit{}, false, nil
			}
			// Drop pseudo file endings and parameters before asking for JSON.
			api := base + m[len(gistHost):] + ".json"

			return domain.Deferred(func(ctx context.Context, h domain.Handle) error {
				var resp gistResponse
				if err := fetch.GetJSON(ctx, fetcher, api, nil, &resp); err != nil {
					return err
				}
				data := struct {
					Stylesheet string
					Div        template.HTML
				}{Div: template.HTML(resp.Div)}
				if resp.Stylesheet != "" && sheets.claim(resp.Stylesheet) {
					data.Stylesheet = resp.Stylesheet
				}
				markup, err := render(gistTmpl, data)
				if err != nil {
					return err
				}
				return h.Fill(ctx, markup)
			}), true, nil
		}),
	}, nil
}
