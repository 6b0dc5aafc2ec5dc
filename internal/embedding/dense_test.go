package embedding

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	parliamenterrors "parliamentmcp/internal/errors"
)

func TestClassifyEmbeddingErrorExtractsRetryAfterHint(t *testing.T) {
	err := classifyEmbeddingError(fakeErr{"rate limit exceeded, retry after 12 seconds"})
	wait, retryable := rateLimitWait(err, 1)
	require.True(t, retryable)
	assert.Equal(t, 17*time.Second, wait)
}

func TestRateLimitWaitFallsBackToBoundedBackoff(t *testing.T) {
	err := parliamenterrors.New(parliamenterrors.KindTransientNetwork, "network blip", nil)
	wait, retryable := rateLimitWait(err, 1)
	require.True(t, retryable)
	assert.GreaterOrEqual(t, wait, 4*time.Second)
	assert.LessOrEqual(t, wait, 5*time.Second)
}

func TestRateLimitWaitNonRetryableError(t *testing.T) {
	err := parliamenterrors.New(parliamenterrors.KindClientRequest, "bad request", nil)
	_, retryable := rateLimitWait(err, 1)
	assert.False(t, retryable)
}

type fakeErr struct{ msg string }

func (f fakeErr) Error() string { return f.msg }
