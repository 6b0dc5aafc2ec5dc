// Package fetcher implements the rate-limited, retrying HTTP client used to
// talk to the Hansard and Parliamentary Questions APIs, grounded on the
// token-bucket-plus-backoff pattern in the teacher's web search tool and the
// original robust_loader.py's cached_limited_get.
package fetcher

import (
	"context"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	parliamenterrors "parliamentmcp/internal/errors"
	"parliamentmcp/internal/observability"
)

const defaultUserAgent = "parliament-mcp"

// Config controls the fetcher's rate limit and retry behaviour.
type Config struct {
	RequestsPerSecond float64
	Timeout           time.Duration
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
}

// DefaultConfig matches HTTP_MAX_RATE_PER_SECOND's default of 10/s.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 10,
		Timeout:           120 * time.Second,
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
	}
}

// Fetcher issues GET requests against upstream APIs through a shared token
// bucket, retrying transient failures with jittered exponential backoff.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     Config
}

// New builds a Fetcher. cfg.RequestsPerSecond <= 0 falls back to DefaultConfig's rate.
func New(cfg Config) *Fetcher {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultConfig().RequestsPerSecond
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultConfig().MaxRetries
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = DefaultConfig().BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = DefaultConfig().MaxDelay
	}
	return &Fetcher{
		client:  observability.NewHTTPClient(&http.Client{Timeout: cfg.Timeout}),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		cfg:     cfg,
	}
}

// Response is the classified result of a GET call.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

// Get performs a rate-limited GET with query params, retrying transient
// network errors, 5xx responses and 429 responses with the same jittered
// exponential backoff (a 429's "Retry-After" header does not change that
// delay). Once retries are exhausted on a 429, the returned RateLimited
// error carries the "Retry-After" value plus 5 seconds (5 seconds when the
// header is absent).
func (f *Fetcher) Get(ctx context.Context, rawURL string, params url.Values) (*Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, parliamenterrors.New(parliamenterrors.KindFatalConfig, "invalid URL", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}

	timer := prometheus.NewTimer(observability.UpstreamRequestDuration.WithLabelValues(u.Host))
	defer timer.ObserveDuration()

	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(f.cfg.BaseDelay, f.cfg.MaxDelay, attempt)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := f.doOnce(ctx, u.String())
		if err == nil {
			return resp, nil
		}
		lastErr = err

		classified, ok := err.(*parliamenterrors.Error)
		if !ok || !classified.Retryable() {
			return nil, err
		}
	}
	return nil, lastErr
}

func (f *Fetcher) doOnce(ctx context.Context, u string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, parliamenterrors.New(parliamenterrors.KindFatalConfig, "build request", err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, parliamenterrors.New(parliamenterrors.KindTransientNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, parliamenterrors.New(parliamenterrors.KindTransientNetwork, "read body", err)
	}

	return classify(resp.StatusCode, body, resp.Header)
}

func classify(status int, body []byte, header http.Header) (*Response, error) {
	switch {
	case status >= 200 && status < 300:
		return &Response{StatusCode: status, Body: body, Header: header}, nil
	case status == http.StatusTooManyRequests:
		after := retryAfter(header)
		return nil, parliamenterrors.WithRetryAfter(parliamenterrors.KindRateLimited, "rate limited", nil, after)
	case status >= 500:
		return nil, parliamenterrors.New(parliamenterrors.KindTransientNetwork, "server error", nil)
	case status >= 400:
		return nil, parliamenterrors.New(parliamenterrors.KindClientRequest, "client error", nil)
	default:
		return &Response{StatusCode: status, Body: body, Header: header}, nil
	}
}

func retryAfter(header http.Header) time.Duration {
	if v := header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs+5) * time.Second
		}
	}
	return 5 * time.Second
}

// backoffDelay returns an exponentially increasing delay with jitter, capped
// at maxDelay, matching the teacher web-search tool's retry shape.
func backoffDelay(base, maxDelay time.Duration, attempt int) time.Duration {
	delay := base * time.Duration(int64(1)<<uint(attempt-1))
	if delay > maxDelay {
		delay = maxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 4 + 1))
	return delay + jitter
}
