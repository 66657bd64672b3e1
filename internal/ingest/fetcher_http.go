package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// RateLimitedFetcher provides rate limiting, retries, and configurable timeouts per domain
type RateLimitedFetcher struct {
	client   *http.Client
	limiters map[string]*time.Ticker // per domain (simple ticker-based rate limiting)
	config   FetchConfig
	backoff  time.Duration
	mu       sync.Mutex
}

// NewRateLimitedFetcher creates a new rate-limited fetcher
func NewRateLimitedFetcher(config FetchConfig) *RateLimitedFetcher {
	if config.TimeoutSeconds == 0 {
		config.TimeoutSeconds = 30
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}
	if config.RateLimitRPS == 0 {
		config.RateLimitRPS = 1.0
	}
	if config.AcceptLanguage == "" {
		config.AcceptLanguage = "en-US,en;q=0.5"
	}
	if config.UserAgent == "" {
		config.UserAgent = defaultUserAgent
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if config.ProxyURL != "" {
		if proxyURL, err := url.Parse(config.ProxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		} else {
			log.Warn().Err(err).Str("proxy_url", config.ProxyURL).Msg("Ignoring invalid proxy URL")
		}
	}

	return &RateLimitedFetcher{
		client: &http.Client{
			Timeout:   time.Duration(config.TimeoutSeconds) * time.Second,
			Transport: transport,
		},
		limiters: make(map[string]*time.Ticker),
		config:   config,
		backoff:  500 * time.Millisecond,
	}
}

// limiter returns the ticker pacing requests to a domain, creating it on first use.
func (f *RateLimitedFetcher) limiter(domain string) *time.Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()

	if t, exists := f.limiters[domain]; exists {
		return t
	}
	interval := time.Duration(float64(time.Second) / f.config.RateLimitRPS)
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	f.limiters[domain] = t
	return t
}

// Close stops the per-domain tickers.
func (f *RateLimitedFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for domain, t := range f.limiters {
		t.Stop()
		delete(f.limiters, domain)
	}
}

// shouldRetry determines if an error or status code should trigger a retry
func shouldRetry(err error, statusCode int) bool {
	if err != nil {
		var netErr interface{ Timeout() bool }
		return errors.As(err, &netErr) && netErr.Timeout()
	}

	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Fetch implements the Fetcher interface with rate limiting and retries
func (f *RateLimitedFetcher) Fetch(ctx context.Context, rawURL string) (*FetchedDocument, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.limiter(u.Host).C:
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			// Exponential backoff: 0.5s, 1s, 2s + jitter
			backoff := f.backoff * time.Duration(1<<uint(attempt-1))
			jitter := time.Duration(rand.Intn(100)) * time.Millisecond
			log.Debug().Str("url", rawURL).Int("attempt", attempt).Err(lastErr).Msg("Retrying fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff + jitter):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("User-Agent", f.config.UserAgent)
		req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		req.Header.Set("Accept-Language", f.config.AcceptLanguage)
		req.Header.Set("Cache-Control", "no-cache")

		resp, err := f.client.Do(req)
		if err != nil {
			lastErr = err
			if shouldRetry(err, 0) {
				continue
			}
			return nil, fmt.Errorf("failed to execute request: %w", err)
		}

		if resp.StatusCode == http.StatusOK {
			return &FetchedDocument{
				URL:         rawURL,
				StatusCode:  resp.StatusCode,
				ContentType: resp.Header.Get("Content-Type"),
				Body:        resp.Body,
				FetchedAt:   time.Now(),
				Headers:     resp.Header,
			}, nil
		}

		resp.Body.Close()
		if shouldRetry(nil, resp.StatusCode) {
			lastErr = fmt.Errorf("status code %d", resp.StatusCode)
			continue
		}
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
