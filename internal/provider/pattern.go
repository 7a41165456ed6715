package provider

import (
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"embedbot/internal/domain"

	"gopkg.in/yaml.v3"
)

// PatternDefinition is a user-defined provider: a regexp and the markup to
// emit for each match.
//
//	name: Vimeo video
//	pattern: 'https?://vimeo\.com/(\d+)'
//	multiple: true
//	template: '<iframe src="https://player.vimeo.com/video/{{index .Groups 1}}"></iframe>'
type PatternDefinition struct {
	Name      string `yaml:"name"`
	Exclusive bool   `yaml:"exclusive"`
	Pattern   string `yaml:"pattern"`
	Multiple  bool   `yaml:"multiple"`
	Template  string `yaml:"template"`
}

// patternData is what a pattern template sees for one match.
type patternData struct {
	Match  string
	Groups []string
	Named  map[string]string
}

// NewPatternProvider compiles def into a provider.
func NewPatternProvider(def PatternDefinition) (domain.Provider, error) {
	if def.Pattern == "" {
		return domain.Provider{}, errors.New("pattern is required")
	}
	if def.Template == "" {
		return domain.Provider{}, errors.New("template is required")
	}
	re, err := regexp.Compile(def.Pattern)
	if err != nil {
		return domain.Provider{}, fmt.Errorf("compile pattern: %w", err)
	}
	tmpl, err := template.New(def.Name).Parse(def.Template)
	if err != nil {
		return domain.Provider{}, fmt.Errorf("parse template: %w", err)
	}

	unitFor := func(m []string) (domain.ContentUnit, error) {
		data := patternData{Match: m[0], Groups: m, Named: make(map[string]string)}
		for i, name := range re.SubexpNames() {
			if name != "" && i < len(m) {
				data.Named[name] = m[i]
			}
		}
		unit, _, err := inline(tmpl, data)
		return unit, err
	}

	return domain.Provider{
		Name:      def.Name,
		Exclusive: def.Exclusive,
		Matcher: domain.MatcherFunc(func(text string) (domain.MatchResult, error) {
			if !def.Multiple {
				m := re.FindStringSubmatch(text)
				if m == nil {
					return domain.None(), nil
				}
				unit, err := unitFor(m)
				if err != nil {
					return domain.None(), err
				}
				return domain.Single(unit), nil
			}

			var units []domain.ContentUnit
			for _, m := range re.FindAllStringSubmatch(text, -1) {
				unit, err := unitFor(m)
				if err != nil {
					return domain.None(), err
				}
				units = append(units, unit)
			}
			return domain.Multiple(units...), nil
		}),
	}, nil
}

// LoadPatterns reads pattern definitions from the .yaml and .yml files in
// dir, sorted by file name. A missing directory yields nothing. Files that
// cannot be read or parsed are logged and skipped.
func LoadPatterns(dir string, logger *slog.Logger) ([]PatternDefinition, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("providers directory does not exist, skipping", "dir", dir)
		return nil, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read providers dir: %w", err)
	}

	var defs []PatternDefinition
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read provider file", "path", path, "err", err)
			continue
		}

		var def PatternDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			logger.Warn("cannot parse provider file", "path", path, "err", err)
			continue
		}
		if def.Name == "" {
			def.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}

		logger.Info("loaded pattern provider", "name", def.Name, "path", path)
		defs = append(defs, def)
	}

	return defs, nil
}
