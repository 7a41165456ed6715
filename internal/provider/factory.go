package provider

import (
	"fmt"
	"log/slog"
	"sync"

	"embedbot/internal/config"
	"embedbot/internal/domain"
)

// Constructor builds one builtin provider.
type Constructor func(cfg config.ProvidersConfig, fetcher domain.Fetcher) (domain.Provider, error)

// Factory assembles the provider list from config.
type Factory struct {
	cfg          config.ProvidersConfig
	fetcher      domain.Fetcher
	logger       *slog.Logger
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewFactory creates a factory with the builtin constructors registered.
func NewFactory(cfg config.ProvidersConfig, fetcher domain.Fetcher, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Factory{
		cfg:          cfg,
		fetcher:      fetcher,
		logger:       logger,
		constructors: make(map[string]Constructor),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds or replaces the constructor for id.
func (f *Factory) RegisterConstructor(id string, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[id] = ctor
}

func static(p func() domain.Provider) Constructor {
	return func(config.ProvidersConfig, domain.Fetcher) (domain.Provider, error) { return p(), nil }
}

func (f *Factory) registerDefaults() {
	f.constructors[config.ProviderYouTube] = static(YouTube)
	f.constructors[config.ProviderDailymotion] = static(Dailymotion)
	f.constructors[config.ProviderAllocine] = static(Allocine)
	f.constructors[config.ProviderImage] = static(Image)
	f.constructors[config.ProviderSpotify] = static(Spotify)
	f.constructors[config.ProviderCloudMusic] = static(CloudMusic)
	f.constructors[config.ProviderGoogleMap] = static(GoogleMap)
	f.constructors[config.ProviderAsciinema] = static(Asciinema)
	f.constructors[config.ProviderMeteogram] = static(Meteogram)

	f.constructors[config.ProviderImgur] = func(cfg config.ProvidersConfig, fetcher domain.Fetcher) (domain.Provider, error) {
		return Imgur(ImgurConfig{ClientID: cfg.Imgur.ClientID, APIBase: cfg.Imgur.APIBase, Fetcher: fetcher})
	}
	f.constructors[config.ProviderGist] = func(cfg config.ProvidersConfig, fetcher domain.Fetcher) (domain.Provider, error) {
		return Gist(cfg.Gist.Base, fetcher)
	}
	f.constructors[config.ProviderTweet] = func(cfg config.ProvidersConfig, fetcher domain.Fetcher) (domain.Provider, error) {
		return Tweet(TweetConfig{OEmbedURL: cfg.Tweet.OEmbedURL, DNT: cfg.Tweet.DNT, Fetcher: fetcher})
	}
}

// Build returns the enabled builtins in configured order, followed by the
// pattern providers found in the providers directory. A builtin that cannot
// be constructed is logged and left out; an unknown id is an error.
func (f *Factory) Build() ([]domain.Provider, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	providers := make([]domain.Provider, 0, len(f.cfg.Enabled))
	for _, id := range f.cfg.Enabled {
		ctor, ok := f.constructors[id]
		if !ok {
			return nil, fmt.Errorf("unknown provider: %s", id)
		}
		p, err := ctor(f.cfg, f.fetcher)
		if err != nil {
			f.logger.Warn("provider disabled", "provider", id, "err", err)
			continue
		}
		if excl, ok := f.cfg.Exclusive[id]; ok {
			p.Exclusive = excl
		}
		providers = append(providers, p)
	}

	defs, err := LoadPatterns(f.cfg.Dir, f.logger)
	if err != nil {
		return nil, err
	}
	for _, def := range defs {
		p, err := NewPatternProvider(def)
		if err != nil {
			f.logger.Warn("invalid pattern provider", "name", def.Name, "err", err)
			continue
		}
		providers = append(providers, p)
	}

	return providers, nil
}

// Build is a shortcut for NewFactory(cfg, fetcher, logger).Build().
func Build(cfg config.ProvidersConfig, fetcher domain.Fetcher, logger *slog.Logger) ([]domain.Provider, error) {
	return NewFactory(cfg, fetcher, logger).Build()
}
