// Package provider holds the builtin content providers and the loader for
// user-defined pattern providers.
package provider

import (
	"html/template"
	"regexp"
	"strings"

	"embedbot/internal/domain"
)

// urlRegexp finds URLs in free text. Trailing punctuation is not part of
// the URL.
var urlRegexp = regexp.MustCompile(`(?:ftp|https?)://\S*[^\s.;,(){}<>]`)

// FindURLs returns every URL in text in order of appearance.
func FindURLs(text string) []string {
	return urlRegexp.FindAllString(text, -1)
}

// urlFunc turns one URL into a content unit, or reports ok=false to skip it.
type urlFunc func(url string) (unit domain.ContentUnit, ok bool, err error)

// perURL runs fn over every URL in the message and returns the accepted
// units as a sequence, so two matches are numbered and one is not.
func perURL(fn urlFunc) domain.Matcher {
	return domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
		var units []domain.ContentUnit
		for _, u := range FindURLs(text) {
			unit, ok, err := fn(u)
			if err != nil {
				return domain.None(), err
			}
			if ok {
				units = append(units, unit)
			}
		}
		return domain.Multiple(units...), nil
	})
}

// render executes t and returns the output as trusted markup. Values are
// escaped by html/template according to where they appear.
func render(t *template.Template, data any) (template.HTML, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return template.HTML(sb.String()), nil
}

func inline(t *template.Template, data any) (domain.ContentUnit, bool, error) {
	markup, err := render(t, data)
	if err != nil {
		return domain.ContentUnit{}, false, err
	}
	return domain.Inline(string(markup)), true, nil
}
