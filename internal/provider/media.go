package provider

import (
	"html/template"
	"regexp"
	"strings"

	"embedbot/internal/domain"
)

var (
	imageExtRegexp  = regexp.MustCompile(`(?i)\.(png|gif|jpg|jpeg)(:(small|medium|large))?$`)
	paramSplit      = regexp.MustCompile(`[?&]`)
	imgurHTTPRegexp = regexp.MustCompile(`(?i)^http://(i\.)?imgur\.com/`)
	dropboxRegexp   = regexp.MustCompile(`(?i)^https://www\.dropbox\.com/s/[a-z0-9]+/[^?]+$`)
	imageSchemes    = regexp.MustCompile(`(?i)^(ftp|https?)://`)
	imageTmpl       = template.Must(template.New("image").Parse(`<a target="_blank" href="{{.}}"><img class="embed" src="{{.}}"></a>`))
)

// ImageURL reports whether url points at an image, looking at the path and
// at every query parameter, and returns the URL to load it from.
func ImageURL(url string) (string, bool) {
	embed := false
	for _, part := range paramSplit.Split(url, -1) {
		if imageExtRegexp.MatchString(part) {
			embed = true
			break
		}
	}
	if !embed {
		return "", false
	}
	switch {
	case imgurHTTPRegexp.MatchString(url):
		url = "https://" + url[len("http://"):]
	case dropboxRegexp.MatchString(url):
		url += "?dl=1"
	}
	return url, true
}

// Image previews every linked image.
func Image() domain.Provider {
	return domain.Provider{
		Name: "image",
		Matcher: perURL(func(url string) (domain.ContentUnit, bool, error) {
			src, ok := ImageURL(url)
			if !ok {
				return domain.ContentUnit{}, false, nil
			}
			if !imageSchemes.MatchString(src) {
				return domain.ContentUnit{}, false, nil
			}
			// html/template filters ftp URLs out of src and href unless they
			// are marked safe; the scheme was checked above.
			return inline(imageTmpl, template.URL(src))
		}),
	}
}

var (
	spotifyRes = []*regexp.Regexp{
		regexp.MustCompile(`spotify:track:([a-zA-Z0-9]{22})`),
		regexp.MustCompile(`open\.spotify\.com/track/([a-zA-Z0-9]{22})`),
	}
	spotifyTmpl = template.Must(template.New("spotify").Parse(`<iframe src="https://open.spotify.com/embed/track/{{.}}" width="300" height="80" frameborder="0" allowtransparency="true"></iframe>`))
)

// Spotify embeds a player per track, URI form first, then web links.
func Spotify() domain.Provider {
	return domain.Provider{
		Name: "Spotify track",
		Matcher: domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
			var units []domain.ContentUnit
			for _, re := range spotifyRes {
				for _, m := range re.FindAllStringSubmatch(text, -1) {
					unit, _, err := inline(spotifyTmpl, m[1])
					if err != nil {
						return domain.None(), err
					}
					units = append(units, unit)
				}
			}
			return domain.Multiple(units...), nil
		}),
	}
}

var (
	soundcloudRegexp = regexp.MustCompile(`^https?://soundcloud\.com/`)
	mixcloudRegexp   = regexp.MustCompile(`^https?://([a-z]+\.)?mixcloud\.com/`)
	soundcloudTmpl   = template.Must(template.New("soundcloud").Parse(`<iframe width="100%" height="120" scrolling="no" frameborder="no" src="https://w.soundcloud.com/player/?url={{.}}&amp;color=ff6600&amp;auto_play=false&amp;show_artwork=true"></iframe>`))
	mixcloudTmpl     = template.Must(template.New("mixcloud").Parse(`<iframe width="480" height="60" src="https://www.mixcloud.com/widget/iframe/?feed={{.}}&amp;mini=1&amp;hide_tracklist=1" frameborder="0"></iframe>`))
)

// CloudMusic embeds SoundCloud and Mixcloud players.
func CloudMusic() domain.Provider {
	return domain.Provider{
		Name: "cloud music",
		Matcher: perURL(func(url string) (domain.ContentUnit, bool, error) {
			switch {
			case soundcloudRegexp.MatchString(url):
				return inline(soundcloudTmpl, url)
			case mixcloudRegexp.MatchString(url):
				return inline(mixcloudTmpl, url)
			}
			return domain.ContentUnit{}, false, nil
		}),
	}
}

var (
	googleMapRes = []*regexp.Regexp{
		regexp.MustCompile(`(?i)^https?://maps\.google\.`),
		regexp.MustCompile(`(?i)^https?://(?:\w+\.)?google\.\w+/maps`),
	}
	googleMapTmpl = template.Must(template.New("googlemap").Parse(`<iframe width="450" height="350" frameborder="0" scrolling="no" marginheight="0" marginwidth="0" src="{{.}}"></iframe>`))
)

// GoogleMap embeds linked Google Maps.
func GoogleMap() domain.Provider {
	return domain.Provider{
		Name: "Google Map",
		Matcher: perURL(func(url string) (domain.ContentUnit, bool, error) {
			for _, re := range googleMapRes {
				if re.MatchString(url) {
					sep := "?"
					if strings.Contains(url, "?") {
						sep = "&"
					}
					return inline(googleMapTmpl, url+sep+"output=embed")
				}
			}
			return domain.ContentUnit{}, false, nil
		}),
	}
}

var (
	asciinemaRegexp = regexp.MustCompile(`https?://(?:www\.)?asciinema\.org/a/(\d+)`)
	asciinemaTmpl   = template.Must(template.New("asciinema").Parse(`<script type="text/javascript" src="https://asciinema.org/a/{{.}}.js" id="asciicast-{{.}}" async></script>`))
)

// Asciinema embeds the first asciinema recording of the message.
func Asciinema() domain.Provider {
	return domain.Provider{
		Name:    "ascii cast",
		Matcher: singleID([]*regexp.Regexp{asciinemaRegexp}, asciinemaTmpl),
	}
}

var (
	yrRegexp      = regexp.MustCompile(`^https?://(?:www\.)?yr\.no/(place|stad|sted|sadji|paikka)/(([^\s.;,(){}<>/]+/){3,})`)
	meteogramTmpl = template.Must(template.New("meteogram").Parse(`<img src="{{.URL}}" alt="Meteogram for {{.City}}" />`))
)

// Meteogram shows the yr.no meteogram for linked locations.
func Meteogram() domain.Provider {
	return domain.Provider{
		Name: "meteogram",
		Matcher: perURL(func(url string) (domain.ContentUnit, bool, error) {
			m := yrRegexp.FindStringSubmatch(url)
			if m == nil {
				return domain.ContentUnit{}, false, nil
			}
			language, location := m[1], m[2]
			city := strings.TrimSuffix(m[len(m)-1], "/")
			return inline(meteogramTmpl, struct{ URL, City string }{
				URL:  "https://www.yr.no/" + language + "/" + location + "avansert_meteogram.png",
				City: city,
			})
		}),
	}
}
