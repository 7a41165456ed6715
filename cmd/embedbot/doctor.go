package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"embedbot/internal/config"
	"embedbot/internal/provider"
	"embedbot/internal/store"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your embedbot installation",
		Long: `Verifies that embedbot's configuration, providers, annotation log and
channels are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := config.ExpandPath(resolveConfigPath())
			fmt.Printf("embedbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'embedbot init' to create a default configuration.\n")
				return nil
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				failed++
				fmt.Printf("\n%d passed, %d failed\n", passed, failed)
				return fmt.Errorf("%d check(s) failed", failed)
			}
			printPass("Config validation", "valid")
			passed++

			// 3. Providers build
			if registry, err := buildRegistry(cfg); err != nil {
				printFail("Providers", err.Error())
				failed++
			} else if registry.Len() == 0 {
				printWarn("Providers", "none enabled, no message will get embeds")
				warned++
			} else {
				printPass("Providers", fmt.Sprintf("%d registered", registry.Len()))
				passed++
			}
			if contains(cfg.Providers.Enabled, config.ProviderImgur) && cfg.Providers.Imgur.ClientID == "" {
				printWarn("Provider: imgur", "enabled but no clientId configured, it will be skipped")
				warned++
			}

			// 4. Custom provider definitions
			if cfg.Providers.Dir != "" {
				if defs, err := provider.LoadPatterns(cfg.Providers.Dir, logger); err != nil {
					printFail("Provider dir", err.Error())
					failed++
				} else {
					printPass("Provider dir", fmt.Sprintf("%s (%d definitions)", cfg.Providers.Dir, len(defs)))
					passed++
				}
			}

			// 5. Annotation log writable
			if cfg.Store.Enabled {
				if err := checkDatabase(cfg.Store.DBPath); err != nil {
					printFail("Annotation log", err.Error())
					failed++
				} else {
					printPass("Annotation log", cfg.Store.DBPath)
					passed++
				}
			} else {
				printWarn("Annotation log", "disabled, stats will be empty")
				warned++
			}

			// 6. Check ports
			if cfg.Channels.Webhook.Enabled {
				if err := checkPort(cfg.Channels.Webhook.Host, cfg.Channels.Webhook.Port); err != nil {
					printWarn("Webhook port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.Webhook.Port, err))
					warned++
				} else {
					printPass("Webhook port", fmt.Sprintf(":%d available", cfg.Channels.Webhook.Port))
					passed++
				}
				if cfg.Channels.Webhook.Secret == "" {
					printWarn("Webhook secret", "not set, requests are not authenticated")
					warned++
				}
			}
			if cfg.Channels.WebSocket.Enabled {
				if err := checkPort(cfg.Channels.WebSocket.Host, cfg.Channels.WebSocket.Port); err != nil {
					printWarn("WebSocket port", fmt.Sprintf("port %d may be in use: %v", cfg.Channels.WebSocket.Port, err))
					warned++
				} else {
					printPass("WebSocket port", fmt.Sprintf(":%d available", cfg.Channels.WebSocket.Port))
					passed++
				}
			}

			if sc := cfg.Channels.Slack; sc.Enabled {
				if !strings.HasPrefix(sc.BotToken, "xoxb-") || !strings.HasPrefix(sc.AppToken, "xapp-") {
					printWarn("Slack tokens", "expected an xoxb- bot token and an xapp- app token for Socket Mode")
					warned++
				} else {
					printPass("Slack tokens", "bot and app token present")
					passed++
				}
			}

			// 7. Chrome for preview
			if cfg.Browser.ExecPath != "" {
				if _, err := os.Stat(cfg.Browser.ExecPath); err != nil {
					printWarn("Browser", fmt.Sprintf("not found: %s", cfg.Browser.ExecPath))
					warned++
				} else {
					printPass("Browser", cfg.Browser.ExecPath)
					passed++
				}
			} else if path, ok := findChrome(); ok {
				printPass("Browser", path)
				passed++
			} else {
				printWarn("Browser", "Chrome not found, 'embedbot preview' will not work")
				warned++
			}

			// 8. Check log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running embedbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nembedbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! embedbot is ready to run.\n")
			}
			return nil
		},
	}
}

// checkDatabase opens the annotation log, runs its migrations and tries a
// write.
func checkDatabase(dbPath string) error {
	s, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	s.Close()

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")

	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func findChrome() (string, bool) {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, true
		}
	}
	return "", false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
