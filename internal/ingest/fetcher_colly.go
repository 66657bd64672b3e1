package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// CollyFetcher implements Fetcher using a Colly collector. Requests are paced by the
// collector's limit rule and, when CacheDir is set, responses are kept on disk so a
// rerun can replay the same bulletins without the network.
type CollyFetcher struct {
	UserAgent         string
	MaxRetries        int
	RequestTimeout    time.Duration
	DomainDelay       time.Duration
	RandomDelayFactor float64
	MaxBodySize       int    // bytes, 0 = unlimited
	CacheDir          string // empty = no cache
	RetryDelay        time.Duration

	base *colly.Collector
}

// NewCollyFetcher creates a CollyFetcher from a FetchConfig.
func NewCollyFetcher(cfg FetchConfig, cacheDir string) *CollyFetcher {
	f := &CollyFetcher{
		UserAgent:         defaultUserAgent,
		MaxRetries:        3,
		RequestTimeout:    30 * time.Second,
		DomainDelay:       1 * time.Second,
		RandomDelayFactor: 0.5,
		MaxBodySize:       10 * 1024 * 1024, // 10MB
		CacheDir:          cacheDir,
		RetryDelay:        1 * time.Second,
	}
	if cfg.UserAgent != "" {
		f.UserAgent = cfg.UserAgent
	}
	if cfg.TimeoutSeconds > 0 {
		f.RequestTimeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.RateLimitRPS > 0 {
		f.DomainDelay = time.Duration(float64(time.Second) / cfg.RateLimitRPS)
	}
	if cfg.MaxRetries > 0 {
		f.MaxRetries = cfg.MaxRetries
	}
	f.base = f.buildCollector(cfg)
	return f
}

// buildCollector creates the configured collector every fetch is cloned from.
// Clones share the HTTP backend, so the limit rule paces all fetches together.
func (f *CollyFetcher) buildCollector(cfg FetchConfig) *colly.Collector {
	opts := []colly.CollectorOption{
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(f.MaxBodySize),
		colly.AllowURLRevisit(),
		colly.DetectCharset(),
	}
	if f.CacheDir != "" {
		opts = append(opts, colly.CacheDir(f.CacheDir))
	}

	c := colly.NewCollector(opts...)
	if err := c.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: 1,
		Delay:       f.DomainDelay,
		RandomDelay: time.Duration(float64(f.DomainDelay) * f.RandomDelayFactor),
	}); err != nil {
		log.Warn().Err(err).Msg("Colly limit rule rejected")
	}
	c.SetRequestTimeout(f.RequestTimeout)

	if cfg.ProxyURL != "" {
		if err := c.SetProxy(cfg.ProxyURL); err != nil {
			log.Warn().Err(err).Str("proxy_url", cfg.ProxyURL).Msg("Ignoring invalid proxy URL")
		}
	}
	if cfg.AcceptLanguage != "" {
		c.OnRequest(func(r *colly.Request) {
			r.Headers.Set("Accept-Language", cfg.AcceptLanguage)
		})
	}
	return c
}

// Fetch implements the Fetcher interface, returning a FetchedDocument.
func (f *CollyFetcher) Fetch(ctx context.Context, targetURL string) (*FetchedDocument, error) {
	var lastErr error
	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Debug().Str("url", targetURL).Int("attempt", attempt).Err(lastErr).Msg("Retrying colly fetch")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.RetryDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		doc, status, err := f.visit(targetURL)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if status != 0 && !shouldRetry(nil, status) {
			return nil, fmt.Errorf("unexpected status code: %d", status)
		}
	}
	return nil, fmt.Errorf("fetch failed after %d retries: %w", f.MaxRetries, lastErr)
}

// visit performs one synchronous request on a clone of the base collector.
func (f *CollyFetcher) visit(targetURL string) (*FetchedDocument, int, error) {
	c := f.base.Clone()

	var result *FetchedDocument
	var status int
	var fetchErr error

	c.OnResponse(func(r *colly.Response) {
		result = &FetchedDocument{
			URL:         r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        io.NopCloser(bytes.NewReader(r.Body)),
			FetchedAt:   time.Now(),
			Headers:     map[string][]string(r.Headers.Clone()),
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	if err := c.Visit(targetURL); err != nil && fetchErr == nil {
		fetchErr = err
	}
	if fetchErr != nil {
		return nil, status, fmt.Errorf("visit %s: %w", targetURL, fetchErr)
	}
	if result == nil {
		return nil, 0, fmt.Errorf("no response received for %s", targetURL)
	}
	return result, status, nil
}
