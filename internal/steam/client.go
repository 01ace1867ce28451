// Package steam talks to the platform's catalog and per-application detail
// endpoints. All requests go through a single pacing ticker so the upstream
// rate limit is respected regardless of caller.
package steam

import (
	"compress/gzip"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	"github.com/luoxia/steamtags/internal/domain"
	"github.com/patrickmn/go-cache"
)

const (
	defaultAPIBaseURL   = "https://api.steampowered.com"
	defaultStoreBaseURL = "https://store.steampowered.com"

	appListPath    = "/ISteamApps/GetAppList/v2/"
	appDetailsPath = "/api/appdetails"

	userAgent = "steamtags/1.0 (catalog classifier)"
)

// Config holds client tuning. Zero values fall back to defaults.
type Config struct {
	APIBaseURL   string
	StoreBaseURL string
	Timeout      time.Duration

	// PacingDelay is the minimum gap between consecutive requests.
	PacingDelay time.Duration

	MaxRetries int
}

// DefaultConfig returns the settings used when a Config field is left zero.
func DefaultConfig() Config {
	return Config{
		APIBaseURL:   defaultAPIBaseURL,
		StoreBaseURL: defaultStoreBaseURL,
		Timeout:      30 * time.Second,
		PacingDelay:  300 * time.Millisecond,
		MaxRetries:   3,
	}
}

// Category is one entry of a detail payload's category list.
type Category struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

// AppDetails is the slice of the detail payload classification needs.
// SupportedLanguages arrives as an HTML-laced, comma-separated string.
type AppDetails struct {
	Type               string     `json:"type"`
	Name               string     `json:"name"`
	SupportedLanguages string     `json:"supported_languages"`
	Categories         []Category `json:"categories"`
}

type detailEnvelope struct {
	Success bool        `json:"success"`
	Data    *AppDetails `json:"data"`
}

type appListResponse struct {
	AppList struct {
		Apps []domain.App `json:"apps"`
	} `json:"applist"`
}

// Client fetches catalog and detail data sequentially, one request at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	pace       *time.Ticker
	details    *cache.Cache
	log        *slog.Logger
}

// NewClient creates a Client. A nil logger disables logging.
func NewClient(cfg Config, log *slog.Logger) *Client {
	def := DefaultConfig()
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = def.APIBaseURL
	}
	if cfg.StoreBaseURL == "" {
		cfg.StoreBaseURL = def.StoreBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.PacingDelay <= 0 {
		cfg.PacingDelay = def.PacingDelay
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		pace:    time.NewTicker(cfg.PacingDelay),
		details: cache.New(30*time.Minute, time.Hour),
		log:     log,
	}
}

// Close releases the pacing ticker.
func (c *Client) Close() {
	c.pace.Stop()
}

// GetAppList fetches the full catalog universe. Any failure here is fatal
// to a run, so errors are surfaced after the retry budget is spent.
func (c *Client) GetAppList(ctx context.Context) ([]domain.App, error) {
	var resp appListResponse
	url := c.cfg.APIBaseURL + appListPath
	if err := c.getWithRetry(ctx, url, &resp); err != nil {
		return nil, fmt.Errorf("fetch app list: %w", err)
	}
	c.log.Info("fetched app list", "apps", len(resp.AppList.Apps))
	return resp.AppList.Apps, nil
}

// GetAppDetails fetches and decodes the detail payload for one application.
// ErrAppUnavailable means the ID is permanently unusable; any other error is
// transient and the ID should be deferred to a later run.
func (c *Client) GetAppDetails(ctx context.Context, appID int) (*AppDetails, error) {
	key := strconv.Itoa(appID)
	if cached, found := c.details.Get(key); found {
		if d, ok := cached.(*AppDetails); ok {
			return d, nil
		}
	}

	url := fmt.Sprintf("%s%s?appids=%d&l=english", c.cfg.StoreBaseURL, appDetailsPath, appID)
	var envelope map[string]detailEnvelope
	if err := c.getWithRetry(ctx, url, &envelope); err != nil {
		var status *StatusError
		if errors.As(err, &status) && status.Code == http.StatusNotFound {
			return nil, fmt.Errorf("app %d: %w", appID, ErrAppUnavailable)
		}
		if errors.Is(err, errMalformed) {
			return nil, fmt.Errorf("app %d: %w (%v)", appID, ErrAppUnavailable, err)
		}
		return nil, fmt.Errorf("fetch details for app %d: %w", appID, err)
	}

	entry, ok := envelope[key]
	if !ok || !entry.Success || entry.Data == nil {
		return nil, fmt.Errorf("app %d: %w", appID, ErrAppUnavailable)
	}

	c.details.Set(key, entry.Data, cache.DefaultExpiration)
	return entry.Data, nil
}

// getWithRetry performs a paced GET with bounded backoff on transient
// failures. Rate limit hints from the server take precedence over the
// default backoff schedule.
func (c *Client) getWithRetry(ctx context.Context, url string, target any) error {
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		err := c.get(ctx, url, target)
		if err == nil {
			return nil
		}
		if !Transient(err) {
			return err
		}
		lastErr = err
		if ctx.Err() != nil {
			return lastErr
		}

		delay := time.Duration(attempt+1) * 500 * time.Millisecond
		var rateLimit *RateLimitError
		if errors.As(err, &rateLimit) && rateLimit.RetryAfter > 0 {
			delay = rateLimit.RetryAfter
		}
		if attempt < c.cfg.MaxRetries-1 {
			c.log.Warn("request failed, retrying",
				"url", url,
				"attempt", attempt+1,
				"delay", delay,
				"error", err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return lastErr
			}
		}
	}
	return lastErr
}

func (c *Client) get(ctx context.Context, url string, target any) error {
	// Pacing gate: one request per tick, shared by catalog and detail calls.
	select {
	case <-c.pace.C:
	case <-ctx.Done():
		return ctx.Err()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br, zstd")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{RetryAfter: retryAfter(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return &StatusError{Code: resp.StatusCode, URL: url}
	}

	bodyReader, err := decompressedBody(resp)
	if err != nil {
		return fmt.Errorf("decompress response from %s: %w", url, err)
	}
	defer bodyReader.Close()

	body, err := io.ReadAll(bodyReader)
	if err != nil {
		return fmt.Errorf("read response from %s: %w", url, err)
	}

	if err := json.Unmarshal(body, target); err != nil {
		return fmt.Errorf("decode response from %s: %w (%v)", url, errMalformed, err)
	}
	return nil
}

// retryAfter parses the Retry-After header, seconds form only.
func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// decompressedBody unwraps the response body according to Content-Encoding.
// Setting Accept-Encoding by hand disables net/http's automatic gzip
// handling, so every supported encoding is handled here.
func decompressedBody(resp *http.Response) (io.ReadCloser, error) {
	switch resp.Header.Get("Content-Encoding") {
	case "gzip":
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return reader, nil
	case "deflate":
		reader, err := zlib.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		return reader, nil
	case "br":
		return io.NopCloser(brotli.NewReader(resp.Body)), nil
	case "zstd":
		decoder, err := zstd.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return io.NopCloser(decoder), nil
	default:
		return resp.Body, nil
	}
}
