package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"embedbot/internal/agent"
	"embedbot/internal/annotate"
	"embedbot/internal/bus"
	"embedbot/internal/channel"
	"embedbot/internal/config"
	"embedbot/internal/domain"
	"embedbot/internal/fetch"
	"embedbot/internal/plugin"
	"embedbot/internal/provider"
	"embedbot/internal/store"
	"embedbot/internal/view"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "embedbot",
		Short: "embedbot: rich previews for the links in chat messages",
		Long:  "embedbot matches the links in a message against content providers and attaches inline or lazily fetched embeds.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.embedbot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(annotateCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(previewCmd())
	root.AddCommand(providersCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config, workspace and providers directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			for _, dir := range []string{cfg.General.Workspace, cfg.Providers.Dir} {
				if err := os.MkdirAll(config.ExpandPath(dir), 0o755); err != nil {
					return err
				}
			}
			logger.Info("initialized", "config", cfgPath, "workspace", config.ExpandPath(cfg.General.Workspace))
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config file and reconfigures the logger from it. With
// allowDefaults a missing file falls back to the defaults.
func loadConfig(allowDefaults bool) (*config.Config, error) {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		if !allowDefaults {
			return nil, fmt.Errorf("load config: %w", err)
		}
		if _, statErr := os.Stat(config.ExpandPath(cfgPath)); statErr == nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		logger.Warn("config not found, using defaults", "path", cfgPath)
		cfg = config.Defaults()
		cfg.General.Workspace = config.ExpandPath(cfg.General.Workspace)
		cfg.Store.DBPath = config.ExpandPath(cfg.Store.DBPath)
		cfg.Providers.Dir = config.ExpandPath(cfg.Providers.Dir)
	}
	if err := setupLogger(cfg.General); err != nil {
		logger.Warn("cannot open log file, logging to stderr only", "file", cfg.General.LogFile, "err", err)
	}
	return cfg, nil
}

func setupLogger(g config.GeneralConfig) error {
	var level slog.Level
	switch strings.ToLower(g.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var fileErr error
	if g.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(g.LogFile), 0o755); err != nil {
			fileErr = err
		} else if f, err := os.OpenFile(g.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err != nil {
			fileErr = err
		} else {
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return fileErr
}

// engine is the wiring shared by every command that annotates messages.
type engine struct {
	cfg      *config.Config
	bus      *bus.InMemoryBus
	events   *bus.EventBus
	store    *store.SQLiteStore // nil when the annotation log is off
	registry *plugin.Registry
	loop     *agent.Loop
}

func newEngine(cfg *config.Config) (*engine, error) {
	matchPolicy, err := annotate.ParsePolicy(cfg.Annotate.MatchErrorPolicy)
	if err != nil {
		return nil, err
	}

	e := &engine{
		cfg:    cfg,
		bus:    bus.New(100, logger),
		events: bus.NewEventBus(logger),
	}

	var recorder agent.OutcomeRecorder
	var annotationLog agent.Store
	if cfg.Store.Enabled {
		s, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("annotation store: %w", err)
		}
		e.store = s
		recorder = s
		annotationLog = s
	}

	e.registry, err = buildRegistry(cfg)
	if err != nil {
		e.Close()
		return nil, err
	}

	annotator := annotate.New(annotate.Config{
		Providers: e.registry,
		Policy:    matchPolicy,
		Observer:  agent.NewLifecycle(e.events, recorder, logger),
		Logger:    logger,
	})

	e.loop = agent.NewLoop(agent.LoopConfig{
		Annotator: annotator,
		Policy: view.Policy{
			AutoDisplayEmbedded: cfg.Display.AutoDisplayEmbedded,
			AutoDisplayNSFW:     cfg.Display.AutoDisplayNSFW,
		},
		Bus:         e.bus,
		Events:      e.events,
		Store:       annotationLog,
		Logger:      logger,
		Concurrency: cfg.General.MaxConcurrentMessages,
		LiveEmbeds:  cfg.Display.LiveEmbeds,
	})
	return e, nil
}

// buildRegistry constructs the configured providers and seals them into a
// registry.
func buildRegistry(cfg *config.Config) (*plugin.Registry, error) {
	fetcher := fetch.NewClient(fetch.Config{
		Timeout:       time.Duration(cfg.Fetch.TimeoutSeconds) * time.Second,
		MaxRetries:    cfg.Fetch.MaxRetries,
		Burst:         cfg.Fetch.Burst,
		RatePerMinute: cfg.Fetch.RatePerMinute,
		Logger:        logger,
	})
	providers, err := provider.Build(cfg.Providers, fetcher, logger)
	if err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}
	registry := plugin.NewRegistry(logger)
	registry.Register(providers...)
	logger.Debug("providers registered", "count", registry.Len())
	return registry, nil
}

// retention starts the annotation log pruner when the store is on.
func (e *engine) retention(ctx context.Context) {
	if e.store == nil {
		return
	}
	r := agent.NewRetention(agent.RetentionConfig{
		RetentionDays: e.cfg.Store.RetentionDays,
		Logger:        logger,
	}, e.store)
	go r.Start(ctx)
}

func (e *engine) Close() {
	e.bus.Close()
	if e.store != nil {
		e.store.Close()
	}
}

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive session (CLI)",
		RunE:  runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	go eng.loop.Run(ctx)
	eng.retention(ctx)

	cliCh := channel.NewCLI(channel.CLIConfig{Logger: logger})
	return cliCh.Start(ctx, eng.bus)
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. display.autoDisplayNSFW)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. display.autoDisplayNSFW true)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				data, _ := json.Marshal(paths[k])
				fmt.Printf("%s = %s\n", k, data)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Telegram + Discord + Webhook + WebSocket + annotation loop)",
		Long:  "Starts all enabled channels and the annotation loop. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.General.Workspace, 0o755); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg)
	if err != nil {
		return err
	}
	if eng.store != nil {
		defer eng.store.Close()
	}

	go eng.loop.Run(ctx)
	eng.retention(ctx)

	var channels []domain.Channel
	if cfg.Channels.Telegram.Enabled {
		channels = append(channels, channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			Logger:    logger,
		}))
	}
	if cfg.Channels.Discord.Enabled {
		channels = append(channels, channel.NewDiscord(channel.DiscordConfig{
			Token:   cfg.Channels.Discord.Token,
			GuildID: cfg.Channels.Discord.GuildID,
			Logger:  logger,
		}))
	}
	if cfg.Channels.Slack.Enabled {
		channels = append(channels, channel.NewSlack(channel.SlackConfig{
			BotToken: cfg.Channels.Slack.BotToken,
			AppToken: cfg.Channels.Slack.AppToken,
			Logger:   logger,
		}))
	}
	if cfg.Channels.Webhook.Enabled {
		channels = append(channels, channel.NewWebhook(channel.WebhookConfig{
			Host:        cfg.Channels.Webhook.Host,
			Port:        cfg.Channels.Webhook.Port,
			Secret:      cfg.Channels.Webhook.Secret,
			Metrics:     cfg.Metrics.Enabled,
			MetricsPath: cfg.Metrics.Endpoint,
			Logger:      logger,
		}, eng.loop))
	}
	if cfg.Channels.WebSocket.Enabled {
		channels = append(channels, channel.NewWebSocketChannel(channel.WSConfig{
			Host:           cfg.Channels.WebSocket.Host,
			Port:           cfg.Channels.WebSocket.Port,
			Path:           cfg.Channels.WebSocket.Path,
			AllowedOrigins: cfg.Channels.WebSocket.AllowedOrigins,
			Events:         eng.events,
			Logger:         logger,
		}))
	}
	if len(channels) == 0 {
		logger.Warn("no gateway channels enabled; enable a chat, webhook or websocket channel in the config")
	}

	for _, ch := range channels {
		go func(ch domain.Channel) {
			if err := ch.Start(ctx, eng.bus); err != nil {
				logger.Error("channel error", "channel", ch.Name(), "err", err)
			}
		}(ch)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		eng.bus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}
