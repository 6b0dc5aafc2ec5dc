// Package embedding computes the dense and sparse vectors stored alongside
// every chunk. The dense embedder wraps an OpenAI-compatible embeddings
// client, rate limited and retried the way the original openai_helpers.py
// wraps Azure OpenAI; grounded structurally on the teacher's
// internal/rag/embedder/embedder.go rate-limited client wrapper.
package embedding

import (
	"context"
	"math/rand"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	parliamenterrors "parliamentmcp/internal/errors"
)

// DenseConfig configures the embedding client.
type DenseConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Dimensions        int
	MaxRatePerSecond  float64
	BatchSize         int
	MaxAttempts       int
}

// DefaultDenseConfig matches EMBEDDING_MAX_RATE_PER_SECOND=0.5 and a batch
// size of 100.
func DefaultDenseConfig() DenseConfig {
	return DenseConfig{
		Dimensions:       1024,
		MaxRatePerSecond: 0.5,
		BatchSize:        100,
		MaxAttempts:      5,
	}
}

// DenseEmbedder computes batched dense embeddings for chunk text, rate
// limited to one request at a time at cfg.MaxRatePerSecond.
type DenseEmbedder struct {
	client openai.Client
	cfg    DenseConfig

	mu       sync.Mutex
	lastCall time.Time
}

// NewDenseEmbedder builds a DenseEmbedder against an OpenAI-compatible
// embeddings endpoint.
func NewDenseEmbedder(cfg DenseConfig) *DenseEmbedder {
	if cfg.MaxRatePerSecond <= 0 {
		cfg.MaxRatePerSecond = DefaultDenseConfig().MaxRatePerSecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultDenseConfig().BatchSize
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultDenseConfig().MaxAttempts
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &DenseEmbedder{client: openai.NewClient(opts...), cfg: cfg}
}

// Dimension reports the configured embedding dimensionality.
func (d *DenseEmbedder) Dimension() int { return d.cfg.Dimensions }

// EmbedBatch embeds all texts, splitting into cfg.BatchSize-sized requests
// and retrying each request with rate-limit-aware backoff.
func (d *DenseEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	for start := 0; start < len(texts); start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch, err := d.embedWithRetry(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (d *DenseEmbedder) embedWithRetry(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= d.cfg.MaxAttempts; attempt++ {
		if err := d.throttle(ctx); err != nil {
			return nil, err
		}

		vectors, err := d.embedOnce(ctx, batch)
		if err == nil {
			return vectors, nil
		}
		lastErr = err

		wait, retryable := rateLimitWait(err, attempt)
		if !retryable {
			return nil, err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// throttle enforces the one-request-at-a-time-at-rate budget, mirroring the
// teacher embedder's mutex-guarded lastCall delay.
func (d *DenseEmbedder) throttle(ctx context.Context) error {
	d.mu.Lock()
	minDelay := time.Duration(float64(time.Second) / d.cfg.MaxRatePerSecond)
	wait := minDelay - time.Since(d.lastCall)
	if wait < 0 {
		wait = 0
	}
	d.lastCall = time.Now().Add(wait)
	d.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-time.After(wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *DenseEmbedder) embedOnce(ctx context.Context, batch []string) ([][]float32, error) {
	inputs := make(openai.EmbeddingNewParamsInputArrayOfStrings, len(batch))
	copy(inputs, batch)

	resp, err := d.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input:      openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: inputs},
		Model:      openai.EmbeddingModel(d.cfg.Model),
		Dimensions: openai.Int(int64(d.cfg.Dimensions)),
	})
	if err != nil {
		return nil, classifyEmbeddingError(err)
	}

	out := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		out[i] = vec
	}
	return out, nil
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry after (\d+) seconds`)

// classifyEmbeddingError wraps a raw client error, extracting a "retry after
// N seconds" hint when present so rateLimitWait can honor it exactly as the
// original wait_azure_rate_limit strategy does.
func classifyEmbeddingError(err error) error {
	msg := err.Error()
	if m := retryAfterPattern.FindStringSubmatch(msg); m != nil {
		secs, parseErr := strconv.Atoi(m[1])
		if parseErr == nil {
			return parliamenterrors.WithRetryAfter(parliamenterrors.KindRateLimited, "embedding rate limited", err,
				time.Duration(secs+5)*time.Second)
		}
	}
	return parliamenterrors.New(parliamenterrors.KindTransientNetwork, "embedding request failed", err)
}

// rateLimitWait decides how long to wait before the next attempt. A
// RateLimited error with an explicit hint is honored verbatim; otherwise it
// falls back to exponential backoff bounded to [4s, 60s] with jitter,
// matching wait_exponential(multiplier=1, min=4, max=60).
func rateLimitWait(err error, attempt int) (time.Duration, bool) {
	classified, ok := err.(*parliamenterrors.Error)
	if !ok || !classified.Retryable() {
		return 0, false
	}
	if after, has := classified.RetryAfter(); has {
		return after, true
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay < 4*time.Second {
		delay = 4 * time.Second
	}
	if delay > 60*time.Second {
		delay = 60 * time.Second
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter, true
}
