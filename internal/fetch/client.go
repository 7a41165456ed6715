// Package fetch is the request/response capability deferred producers use to
// reach third-party APIs.
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"embedbot/internal/metrics"
)

const (
	defaultTimeout = 20 * time.Second
	maxBodyBytes   = 4 << 20
	userAgent      = "embedbot/1.0"
)

// SharedHTTPClient returns an HTTP client with connection pooling. All
// producers share one; third-party endpoints are few and hit repeatedly.
func SharedHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	transport := &http.Transport{
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

// Config configures a Client.
type Config struct {
	HTTPClient    *http.Client
	Timeout       time.Duration
	MaxRetries    int // 0 sends each request once
	Burst         int // rate limiter burst; 0 disables throttling
	RatePerMinute float64
	Logger        *slog.Logger
}

// Client implements domain.Fetcher.
type Client struct {
	http       *http.Client
	limiter    *RateLimiter
	maxRetries int
	logger     *slog.Logger
}

func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Client{
		http:       cfg.HTTPClient,
		maxRetries: cfg.MaxRetries,
		logger:     cfg.Logger,
	}
	if cfg.MaxRetries < 0 {
		c.maxRetries = 0
	}
	if cfg.Burst > 0 {
		c.limiter = NewRateLimiter(cfg.Burst, cfg.RatePerMinute)
	}
	return c
}

// Get fetches url and returns the body of a 2xx response. Any other status
// comes back as *StatusError.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	start := time.Now()
	defer metrics.FetchLatency.ObserveSince(start)

	resp, err := doWithRetry(ctx, c.http, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
		if req.Header.Get("User-Agent") == "" {
			req.Header.Set("User-Agent", userAgent)
		}
		return req, nil
	}, c.maxRetries, c.logger)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
	}
	c.logger.Debug("fetched", "url", url, "status", resp.StatusCode, "bytes", len(body), "elapsed", time.Since(start))
	return body, nil
}

// Getter is the subset of domain.Fetcher GetJSON needs.
type Getter interface {
	Get(ctx context.Context, url string, header http.Header) ([]byte, error)
}

// GetJSON fetches url and decodes the body into v.
func GetJSON(ctx context.Context, g Getter, url string, header http.Header, v any) error {
	body, err := g.Get(ctx, url, header)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode %s: %w", url, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
