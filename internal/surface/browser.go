package surface

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"embedbot/internal/domain"

	"github.com/chromedp/chromedp"
)

// BrowserConfig holds configuration for the headless Chrome surface.
type BrowserConfig struct {
	ExecPath string // Chrome binary; empty uses the default lookup
	Headless bool
	Timeout  time.Duration // per action
	Logger   *slog.Logger
}

// Browser renders annotated messages into a real page. Each embed lives in
// an element whose class is its key, so Locate is a querySelector and Write
// sets innerHTML.
type Browser struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	logger  *slog.Logger
	mu      sync.Mutex // chromedp actions on one tab run one at a time
}

// NewBrowser starts Chrome. The caller must Close it.
func NewBrowser(parent context.Context, cfg BrowserConfig) (*Browser, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-extensions", true),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	cancelAll := func() {
		taskCancel()
		allocCancel()
	}

	if err := chromedp.Run(taskCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelAll()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	return &Browser{ctx: taskCtx, cancel: cancelAll, timeout: cfg.Timeout, logger: cfg.Logger}, nil
}

func (b *Browser) run(actions ...chromedp.Action) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ctx, cancel := context.WithTimeout(b.ctx, b.timeout)
	defer cancel()
	return chromedp.Run(ctx, actions...)
}

// jsArgs encodes values as a JavaScript argument list.
func jsArgs(values ...any) (string, error) {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			return "", err
		}
		parts = append(parts, string(data))
	}
	return strings.Join(parts, ","), nil
}

// Render replaces the page with page.
func (b *Browser) Render(page template.HTML) error {
	args, err := jsArgs(string(page))
	if err != nil {
		return err
	}
	script := `(function(h){document.open();document.write(h);document.close();return true})(` + args + `)`
	var ok bool
	if err := b.run(chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("render page: %w", err)
	}
	return nil
}

// Locate implements domain.Locator.
func (b *Browser) Locate(ctx context.Context, key string) (domain.Target, bool) {
	args, err := jsArgs(key)
	if err != nil {
		return nil, false
	}
	var found bool
	script := `(function(k){return document.getElementsByClassName(k).length > 0})(` + args + `)`
	if err := b.run(chromedp.Evaluate(script, &found)); err != nil {
		b.logger.Warn("locate embed failed", "key", key, "err", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	return browserTarget{b: b, key: key}, true
}

type browserTarget struct {
	b   *Browser
	key string
}

func (t browserTarget) Write(ctx context.Context, markup template.HTML) error {
	args, err := jsArgs(t.key, string(markup))
	if err != nil {
		return err
	}
	script := `(function(k,h){var el=document.getElementsByClassName(k)[0];if(!el)return false;el.innerHTML=h;return true})(` + args + `)`
	var ok bool
	if err := t.b.run(chromedp.Evaluate(script, &ok)); err != nil {
		return fmt.Errorf("write embed %s: %w", t.key, err)
	}
	if !ok {
		return fmt.Errorf("embed %s is no longer on the page", t.key)
	}
	return nil
}

// HTML returns the current document.
func (b *Browser) HTML() (string, error) {
	var html string
	if err := b.run(chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read page: %w", err)
	}
	return html, nil
}

// Screenshot writes a full-page PNG to path.
func (b *Browser) Screenshot(path string) error {
	var buf []byte
	if err := b.run(chromedp.FullScreenshot(&buf, 90)); err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

func (b *Browser) Close() {
	b.cancel()
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>embedbot preview</title>
<style>body{font-family:sans-serif;margin:2em}.label{color:#666;font-size:.85em}.nsfw{color:#c00}</style>
</head><body>
<p class="message">{{.Text}}</p>
{{range .Embeds}}<section>
<div class="label">{{.Label}}{{if .NSFW}} <span class="nsfw">nsfw</span>{{end}}</div>
<div class="embed {{.Key}}"{{if not .Visible}} hidden{{end}}>{{if .Visible}}{{.Markup}}{{end}}</div>
</section>
{{end}}</body></html>`))

// Page builds the preview document for a message and its embeds. Visible
// inline embeds carry their markup; deferred ones start empty.
func Page(text string, embeds []domain.EmbedView) (template.HTML, error) {
	data := struct {
		Text   string
		Embeds []domain.EmbedView
	}{text, embeds}
	var sb strings.Builder
	if err := pageTmpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return template.HTML(sb.String()), nil
}
