package config

// Builtin provider ids in their default registration order.
const (
	ProviderYouTube     = "youtube"
	ProviderDailymotion = "dailymotion"
	ProviderAllocine    = "allocine"
	ProviderImage       = "image"
	ProviderImgur       = "imgur"
	ProviderSpotify     = "spotify"
	ProviderCloudMusic  = "cloudmusic"
	ProviderGoogleMap   = "googlemap"
	ProviderAsciinema   = "asciinema"
	ProviderMeteogram   = "meteogram"
	ProviderGist        = "gist"
	ProviderTweet       = "tweet"
)

// BuiltinProviders lists every builtin id.
var BuiltinProviders = []string{
	ProviderYouTube,
	ProviderDailymotion,
	ProviderAllocine,
	ProviderImage,
	ProviderImgur,
	ProviderSpotify,
	ProviderCloudMusic,
	ProviderGoogleMap,
	ProviderAsciinema,
	ProviderMeteogram,
	ProviderGist,
	ProviderTweet,
}

func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			Workspace:             "~/.embedbot/workspace",
			LogLevel:              "info",
			MaxConcurrentMessages: 5,
		},
		Display: DisplayConfig{
			AutoDisplayEmbedded: true,
			AutoDisplayNSFW:     false,
			LiveEmbeds:          500,
		},
		Annotate: AnnotateConfig{
			MatchErrorPolicy: "skip",
		},
		Providers: ProvidersConfig{
			Enabled: append([]string(nil), BuiltinProviders...),
			Dir:     "~/.embedbot/providers",
			Imgur: ImgurConfig{
				APIBase: "https://api.imgur.com/3",
			},
			Tweet: TweetConfig{
				OEmbedURL: "https://publish.twitter.com/oembed",
				DNT:       true,
			},
			Gist: GistConfig{
				Base: "https://gist.github.com",
			},
		},
		Fetch: FetchConfig{
			TimeoutSeconds: 20,
			MaxRetries:     0,
			Burst:          10,
			RatePerMinute:  120,
		},
		Channels: ChannelsConfig{
			CLI: CLIConfig{
				Enabled: true,
			},
			Webhook: WebhookConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8090,
			},
			WebSocket: WebSocketConfig{
				Enabled: false,
				Host:    "127.0.0.1",
				Port:    8091,
				Path:    "/ws",
			},
		},
		Store: StoreConfig{
			Enabled:       true,
			DBPath:        "~/.embedbot/annotations.db",
			RetentionDays: 90,
		},
		Browser: BrowserConfig{
			Headless:       true,
			TimeoutSeconds: 30,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
