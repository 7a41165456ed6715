package provider

import (
	"html/template"
	"regexp"

	"embedbot/internal/domain"
)

var (
	youtubeRegexp  = regexp.MustCompile(`(?:https?://)?(?:www\.)?(?:youtube\.com|youtu\.be)/(?:v/|embed/|watch(?:\?v=|/))?([a-zA-Z0-9_-]+)`)
	youtubeTmpl    = template.Must(template.New("youtube").Parse(`<iframe width="560" height="315" src="https://www.youtube.com/embed/{{.}}?html5=1&amp;iv_load_policy=3&amp;modestbranding=1&amp;rel=0&amp;showinfo=0" frameborder="0" allowfullscreen></iframe>`))
	dailymotionRes = []*regexp.Regexp{
		regexp.MustCompile(`dailymotion\.com/.*video/([^_?# ]+)`),
		regexp.MustCompile(`dailymotion\.com/.*#video=([^_& ]+)`),
		regexp.MustCompile(`dai\.ly/([^_?# ]+)`),
	}
	dailymotionTmpl = template.Must(template.New("dailymotion").Parse(`<iframe frameborder="0" width="480" height="270" src="https://www.dailymotion.com/embed/video/{{.}}?html&amp;controls=html&amp;startscreen=html&amp;info=0&amp;logo=0&amp;related=0"></iframe>`))
	allocineRes     = []*regexp.Regexp{
		regexp.MustCompile(`allocine\.fr/videokast/video-(\d+)`),
		regexp.MustCompile(`allocine\.fr/.*cmedia=(\d+)`),
	}
	allocineTmpl = template.Must(template.New("allocine").Parse(`<iframe frameborder="0" width="480" height="270" src="https://www.allocine.fr/_video/iblogvision.aspx?cmedia={{.}}"></iframe>`))
)

// YouTube embeds every YouTube link in the message.
func YouTube() domain.Provider {
	return domain.Provider{
		Name: "YouTube video",
		Matcher: domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
			var units []domain.ContentUnit
			for _, m := range youtubeRegexp.FindAllStringSubmatch(text, -1) {
				unit, _, err := inline(youtubeTmpl, m[1])
				if err != nil {
					return domain.None(), err
				}
				units = append(units, unit)
			}
			return domain.Multiple(units...), nil
		}),
	}
}

// firstID returns the first capture of the first regexp that matches.
func firstID(res []*regexp.Regexp, text string) (string, bool) {
	for _, re := range res {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1], true
		}
	}
	return "", false
}

func singleID(res []*regexp.Regexp, t *template.Template) domain.Matcher {
	return domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
		id, ok := firstID(res, text)
		if !ok {
			return domain.None(), nil
		}
		unit, _, err := inline(t, id)
		if err != nil {
			return domain.None(), err
		}
		return domain.Single(unit), nil
	})
}

// Dailymotion embeds the first Dailymotion video of the message.
func Dailymotion() domain.Provider {
	return domain.Provider{Name: "Dailymotion video", Matcher: singleID(dailymotionRes, dailymotionTmpl)}
}

// Allocine embeds the first AlloCine video of the message.
func Allocine() domain.Provider {
	return domain.Provider{Name: "AlloCine video", Matcher: singleID(allocineRes, allocineTmpl)}
}
