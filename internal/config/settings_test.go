package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		_ = os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	clearEnv(t, "ENVIRONMENT", "QDRANT_URL", "EMBEDDING_DIMENSIONS", "QUEUE_DB_PATH", "LOG_LEVEL", "QDRANT_COLLECTION_PREFIX")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "local", s.Environment)
	assert.Equal(t, 1024, s.EmbeddingDimensions)
	assert.Equal(t, "loader_state.db", s.QueueDBPath)
	assert.Equal(t, "info", s.LogLevel)
	assert.Equal(t, "parliament_mcp_hansard_contributions", s.HansardContributionsCollection)
	assert.Equal(t, "parliament_mcp_parliamentary_questions", s.ParliamentaryQuestionsCollection)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	clearEnv(t, "ENVIRONMENT", "EMBEDDING_DIMENSIONS", "QDRANT_COLLECTION_PREFIX", "HTTP_MAX_RATE_PER_SECOND")
	os.Setenv("ENVIRONMENT", "production")
	os.Setenv("EMBEDDING_DIMENSIONS", "256")
	os.Setenv("QDRANT_COLLECTION_PREFIX", "custom_")
	os.Setenv("HTTP_MAX_RATE_PER_SECOND", "5.5")

	s, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", s.Environment)
	assert.Equal(t, 256, s.EmbeddingDimensions)
	assert.Equal(t, "custom_hansard_contributions", s.HansardContributionsCollection)
	assert.Equal(t, "custom_parliamentary_questions", s.ParliamentaryQuestionsCollection)
	assert.Equal(t, 5.5, s.HTTPMaxRatePerSecond)
}

func TestLoadRejectsInvalidIntEnvVar(t *testing.T) {
	clearEnv(t, "EMBEDDING_DIMENSIONS")
	os.Setenv("EMBEDDING_DIMENSIONS", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
