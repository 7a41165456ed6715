package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"embedbot/internal/annotate"
	"embedbot/internal/domain"
	"embedbot/internal/store"
	"embedbot/internal/surface"
	"embedbot/internal/view"

	"github.com/spf13/cobra"
)

func annotateCmd() *cobra.Command {
	var (
		reveal bool
		wait   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "annotate [text]",
		Short: "Annotate one message and print its embeds",
		Long: `Runs the configured providers over the text and prints every embed.
Deferred embeds the display policy shows (or all of them with --reveal) are
fetched and printed as they arrive.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			text := strings.Join(args, " ")
			entries, err := eng.loop.Annotate(ctx, domain.Message{Channel: "cli", ChatID: "oneshot", Text: text})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no embeds")
				return nil
			}

			out := surface.NewWriter(os.Stdout, len(entries))
			for _, e := range entries {
				out.Mount(e.Key(), e.Label())
			}
			printEntries(os.Stdout, entries, eng.loop.Policy(), reveal)

			revealEntries(ctx, entries, eng.loop.Policy(), reveal, out)
			return waitDeferred(ctx, entries, wait)
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "reveal every embed, including hidden and nsfw ones")
	cmd.Flags().DurationVar(&wait, "wait", 20*time.Second, "how long to wait for deferred embeds")
	return cmd
}

// printEntries writes the first render: inline markup for what is shown, a
// placeholder for everything else.
func printEntries(w io.Writer, entries []*annotate.Entry, policy view.Policy, reveal bool) {
	for _, e := range entries {
		shown := reveal || policy.InitiallyVisible(e.NSFW)
		nsfw := ""
		if e.NSFW {
			nsfw = " (nsfw)"
		}
		switch {
		case !shown:
			fmt.Fprintf(w, "[%s]%s hidden\n", e.Label(), nsfw)
		case e.Kind() == domain.KindInline:
			fmt.Fprintf(w, "[%s]%s %s\n", e.Label(), nsfw, e.Markup)
		default:
			fmt.Fprintf(w, "[%s]%s fetching...\n", e.Label(), nsfw)
		}
	}
}

func revealEntries(ctx context.Context, entries []*annotate.Entry, policy view.Policy, all bool, loc domain.Locator) {
	if !all {
		policy.Apply(ctx, entries, loc)
		return
	}
	for _, e := range entries {
		e.Reveal(ctx, loc)
	}
}

// waitDeferred blocks until every revealed deferred entry has finished its
// fetch or the wait runs out.
func waitDeferred(ctx context.Context, entries []*annotate.Entry, wait time.Duration) error {
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	for _, e := range entries {
		if e.Cell == nil || !e.Visible() {
			continue
		}
		if err := e.Cell.Wait(waitCtx); err != nil {
			return fmt.Errorf("waiting for %s: %w", e.Label(), err)
		}
	}
	return nil
}

func previewCmd() *cobra.Command {
	var (
		reveal     bool
		screenshot string
		wait       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "preview [text]",
		Short: "Render a message with its embeds in headless Chrome",
		Long: `Annotates the text, renders it into a page in Chrome and lets deferred
embeds fill in. Writes a screenshot when --screenshot (or browser.screenshot)
is set, otherwise prints the resulting HTML.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if screenshot == "" {
				screenshot = cfg.Browser.Screenshot
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			eng, err := newEngine(cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			text := strings.Join(args, " ")
			entries, err := eng.loop.Annotate(ctx, domain.Message{Channel: "preview", ChatID: "preview", Text: text})
			if err != nil {
				return err
			}

			views := eng.loop.Policy().Views(entries)
			if reveal {
				for i := range views {
					views[i].Visible = true
				}
			}
			page, err := surface.Page(text, views)
			if err != nil {
				return fmt.Errorf("build page: %w", err)
			}

			browser, err := surface.NewBrowser(ctx, surface.BrowserConfig{
				ExecPath: cfg.Browser.ExecPath,
				Headless: cfg.Browser.Headless,
				Timeout:  time.Duration(cfg.Browser.TimeoutSeconds) * time.Second,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer browser.Close()

			if err := browser.Render(page); err != nil {
				return err
			}
			revealEntries(ctx, entries, eng.loop.Policy(), reveal, browser)
			if err := waitDeferred(ctx, entries, wait); err != nil {
				logger.Warn("preview incomplete", "err", err)
			}

			if screenshot != "" {
				if err := browser.Screenshot(screenshot); err != nil {
					return err
				}
				logger.Info("screenshot written", "path", screenshot, "embeds", len(entries))
				return nil
			}
			html, err := browser.HTML()
			if err != nil {
				return err
			}
			fmt.Println(html)
			return nil
		},
	}
	cmd.Flags().BoolVar(&reveal, "reveal", false, "reveal every embed, including hidden and nsfw ones")
	cmd.Flags().StringVar(&screenshot, "screenshot", "", "write a full-page PNG to this path")
	cmd.Flags().DurationVar(&wait, "wait", 20*time.Second, "how long to wait for deferred embeds")
	return cmd
}

func providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers in match order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}
			for i, p := range registry.List() {
				excl := ""
				if p.Exclusive {
					excl = "  exclusive"
				}
				fmt.Printf("%2d. %s%s\n", i+1, p.Name, excl)
			}
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	var (
		days   int
		recent int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-provider counts from the annotation log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(true)
			if err != nil {
				return err
			}
			if !cfg.Store.Enabled {
				return fmt.Errorf("the annotation log is disabled (store.enabled)")
			}

			s, err := store.NewSQLiteStore(cfg.Store.DBPath, logger)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := context.Background()
			var since time.Time
			if days > 0 {
				since = time.Now().AddDate(0, 0, -days)
			}
			stats, err := s.ProviderStats(ctx, since)
			if err != nil {
				return err
			}

			fmt.Printf("%-22s %8s %6s %9s %13s %7s\n", "PROVIDER", "ENTRIES", "NSFW", "DEFERRED", "MATERIALIZED", "FAILED")
			for _, st := range stats {
				fmt.Printf("%-22s %8d %6d %9d %13d %7d\n", st.Provider, st.Entries, st.NSFW, st.Deferred, st.Materialized, st.Failed)
			}

			if recent <= 0 {
				return nil
			}
			records, err := s.Recent(ctx, recent)
			if err != nil {
				return err
			}
			fmt.Printf("\nLast %d entries:\n", len(records))
			for _, r := range records {
				fmt.Printf("  %s  %-9s %-14s %-20s %s\n",
					r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Channel, r.ChatID, r.Label, r.Kind)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "only count the last N days (0 = everything)")
	cmd.Flags().IntVar(&recent, "recent", 10, "also list the N most recent entries")
	return cmd
}
