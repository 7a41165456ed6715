package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Config is the root configuration for embedbot.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Display   DisplayConfig   `json:"display"`
	Annotate  AnnotateConfig  `json:"annotate"`
	Providers ProvidersConfig `json:"providers"`
	Fetch     FetchConfig     `json:"fetch"`
	Channels  ChannelsConfig  `json:"channels"`
	Store     StoreConfig     `json:"store"`
	Browser   BrowserConfig   `json:"browser"`
	Metrics   MetricsConfig   `json:"metrics"`
}

type GeneralConfig struct {
	Workspace             string `json:"workspace"`
	LogLevel              string `json:"logLevel"`
	LogFile               string `json:"logFile,omitempty"` // optional log file path
	MaxConcurrentMessages int    `json:"maxConcurrentMessages"`
}

// DisplayConfig decides which embeds are shown without a user action.
type DisplayConfig struct {
	AutoDisplayEmbedded bool `json:"autoDisplayEmbedded"`
	AutoDisplayNSFW     bool `json:"autoDisplayNSFW"`
	LiveEmbeds          int  `json:"liveEmbeds"` // embeds kept addressable per surface
}

type AnnotateConfig struct {
	MatchErrorPolicy string `json:"matchErrorPolicy"` // "abort" | "skip"
}

// ProvidersConfig selects the builtin providers and their order. Pattern
// providers loaded from Dir are appended after the builtins.
type ProvidersConfig struct {
	Enabled   []string        `json:"enabled"`
	Exclusive map[string]bool `json:"exclusive,omitempty"` // keyed by builtin id
	Dir       string          `json:"dir,omitempty"`
	Imgur     ImgurConfig     `json:"imgur"`
	Tweet     TweetConfig     `json:"tweet"`
	Gist      GistConfig      `json:"gist"`
}

type ImgurConfig struct {
	ClientID string `json:"clientId,omitempty"`
	APIBase  string `json:"apiBase"`
}

type TweetConfig struct {
	OEmbedURL string `json:"oembedUrl"`
	DNT       bool   `json:"dnt"`
}

type GistConfig struct {
	Base string `json:"base"`
}

type FetchConfig struct {
	TimeoutSeconds int     `json:"timeoutSeconds"`
	MaxRetries     int     `json:"maxRetries"`
	Burst          int     `json:"burst"`
	RatePerMinute  float64 `json:"ratePerMinute"`
}

type ChannelsConfig struct {
	CLI       CLIConfig       `json:"cli"`
	Telegram  TelegramConfig  `json:"telegram"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
	Slack     SlackConfig     `json:"slack,omitempty"`
	Webhook   WebhookConfig   `json:"webhook"`
	WebSocket WebSocketConfig `json:"websocket"`
}

type CLIConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled   bool           `json:"enabled"`
	Token     string         `json:"token"`
	AllowFrom FlexStringList `json:"allowFrom"`
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	GuildID string `json:"guildId,omitempty"` // optional: restrict to specific guild
}

type SlackConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"botToken"` // xoxb-...
	AppToken string `json:"appToken"` // xapp-..., Socket Mode
}

type WebhookConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Secret  string `json:"secret,omitempty"` // HMAC-SHA256 key for X-Signature-256
}

type WebSocketConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	Path           string   `json:"path"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

// FlexStringList is a []string that can unmarshal from JSON arrays containing
// both strings and numbers (e.g. ["123", 456] both become "123", "456").
type FlexStringList []string

func (f *FlexStringList) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			result = append(result, s)
			continue
		}
		var n float64
		if err := json.Unmarshal(item, &n); err == nil {
			result = append(result, strconv.FormatInt(int64(n), 10))
			continue
		}
		result = append(result, string(item))
	}
	*f = result
	return nil
}

// StoreConfig configures the annotation log. Only entry metadata is kept;
// fetched content never reaches the database.
type StoreConfig struct {
	Enabled       bool   `json:"enabled"`
	DBPath        string `json:"dbPath"`
	RetentionDays int    `json:"retentionDays"`
}

// BrowserConfig configures the headless Chrome surface used by preview.
type BrowserConfig struct {
	ExecPath       string `json:"execPath,omitempty"`
	Headless       bool   `json:"headless"`
	TimeoutSeconds int    `json:"timeoutSeconds"`
	Screenshot     string `json:"screenshot,omitempty"`
}

type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.embedbot).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".embedbot"
	}
	return filepath.Join(home, ".embedbot")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.Workspace = ExpandPath(cfg.General.Workspace)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Providers.Dir = ExpandPath(cfg.Providers.Dir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// ${VAR:-default} uses "default" when VAR is unset or empty. An unset
// variable without a default is left as written.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		hasDefault := len(groups) >= 3 && groups[2] != ""

		val, exists := os.LookupEnv(groups[1])
		if !exists || val == "" {
			if hasDefault {
				return groups[2]
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values. All problems are
// reported together.
func Validate(cfg *Config) error {
	var errs []error

	switch strings.ToLower(cfg.General.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("general.logLevel must be one of: debug, info, warn, error"))
	}
	if cfg.General.MaxConcurrentMessages < 1 || cfg.General.MaxConcurrentMessages > 100 {
		errs = append(errs, errors.New("general.maxConcurrentMessages must be between 1 and 100"))
	}
	if cfg.Display.LiveEmbeds < 1 {
		errs = append(errs, errors.New("display.liveEmbeds must be >= 1"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Annotate.MatchErrorPolicy)) {
	case "", "abort", "skip":
	default:
		errs = append(errs, errors.New("annotate.matchErrorPolicy must be one of: abort, skip"))
	}

	known := make(map[string]bool, len(BuiltinProviders))
	for _, id := range BuiltinProviders {
		known[id] = true
	}
	for _, id := range cfg.Providers.Enabled {
		if !known[id] {
			errs = append(errs, fmt.Errorf("providers.enabled references unknown provider: %s", id))
		}
	}
	for id := range cfg.Providers.Exclusive {
		if !known[id] {
			errs = append(errs, fmt.Errorf("providers.exclusive references unknown provider: %s", id))
		}
	}

	if cfg.Fetch.TimeoutSeconds < 1 {
		errs = append(errs, errors.New("fetch.timeoutSeconds must be >= 1"))
	}
	if cfg.Fetch.MaxRetries < 0 || cfg.Fetch.MaxRetries > 10 {
		errs = append(errs, errors.New("fetch.maxRetries must be between 0 and 10"))
	}
	if cfg.Fetch.Burst < 0 {
		errs = append(errs, errors.New("fetch.burst must be >= 0"))
	}

	if cfg.Channels.Webhook.Port < 0 || cfg.Channels.Webhook.Port > 65535 {
		errs = append(errs, errors.New("channels.webhook.port must be between 0 and 65535"))
	}
	if cfg.Channels.WebSocket.Port < 0 || cfg.Channels.WebSocket.Port > 65535 {
		errs = append(errs, errors.New("channels.websocket.port must be between 0 and 65535"))
	}
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token == "" {
		errs = append(errs, errors.New("channels.telegram.token is required when telegram is enabled"))
	}
	if cfg.Channels.Discord.Enabled && cfg.Channels.Discord.Token == "" {
		errs = append(errs, errors.New("channels.discord.token is required when discord is enabled"))
	}
	if cfg.Channels.Slack.Enabled && (cfg.Channels.Slack.BotToken == "" || cfg.Channels.Slack.AppToken == "") {
		errs = append(errs, errors.New("channels.slack.botToken and channels.slack.appToken are required when slack is enabled"))
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, errors.New("store.dbPath is required when the store is enabled"))
	}
	if cfg.Store.RetentionDays < 1 {
		errs = append(errs, errors.New("store.retentionDays must be >= 1"))
	}
	if cfg.Browser.TimeoutSeconds < 1 {
		errs = append(errs, errors.New("browser.timeoutSeconds must be >= 1"))
	}

	return errors.Join(errs...)
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
