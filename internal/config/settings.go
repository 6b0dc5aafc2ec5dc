// Package config loads application settings from the environment (with a
// local .env file for development), falling back to AWS SSM Parameter Store
// for secrets when running outside the local environment. Grounded on the
// teacher's internal/config godotenv-then-struct loading idiom and the
// original parliament_mcp/settings.py's get_environment_or_ssm fallback.
package config

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
)

// Settings holds every configuration value the ingestion and query services
// need. Field names mirror the upstream environment variable names.
type Settings struct {
	AWSRegion   string
	Environment string
	ProjectName string

	QdrantURL              string
	QdrantAPIKey            string
	QdrantCollectionPrefix  string
	EmbeddingDimensions     int
	SparseTextEmbeddingModel string

	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingModel    string

	ChunkSize       int
	SentenceOverlap int
	ChunkStrategy   string

	ParliamentaryQuestionsCollection string
	HansardContributionsCollection   string

	HTTPMaxRatePerSecond      float64
	EmbeddingMaxRatePerSecond float64

	QueueDBPath string

	LogLevel string
	LogPath  string
}

// EmbeddingConfig describes a plain HTTP embeddings endpoint for
// embedding.EmbedText. Timeout is in seconds (0 means 30).
type EmbeddingConfig struct {
	BaseURL   string
	Path      string
	Model     string
	APIKey    string
	APIHeader string
	Headers   map[string]string
	Timeout   int
}

// Default returns the settings defaults documented by the original
// application's ParliamentMCPSettings model.
func Default() Settings {
	return Settings{
		AWSRegion:                 "eu-west-2",
		Environment:               "local",
		ProjectName:               "i-dot-ai-dev-parliament-mcp",
		QdrantCollectionPrefix:    "parliament_mcp_",
		EmbeddingDimensions:       1024,
		SparseTextEmbeddingModel:  "Qdrant/bm25",
		ChunkSize:                 300,
		SentenceOverlap:           1,
		ChunkStrategy:             "sentence",
		ParliamentaryQuestionsCollection: "parliament_mcp_parliamentary_questions",
		HansardContributionsCollection:   "parliament_mcp_hansard_contributions",
		HTTPMaxRatePerSecond:      10,
		EmbeddingMaxRatePerSecond: 0.5,
		QueueDBPath:               "loader_state.db",
		LogLevel:                  "info",
	}
}

// Load builds Settings from environment variables, loading a local .env file
// first when present (ignored if absent — that's normal outside local dev).
func Load() (Settings, error) {
	_ = godotenv.Load()

	s := Default()
	ssmResolver := newSSMResolver()

	s.Environment = getOr("ENVIRONMENT", s.Environment)
	s.AWSRegion = getOr("AWS_REGION", s.AWSRegion)
	s.ProjectName = getOr("PROJECT_NAME", s.ProjectName)

	s.QdrantURL = s.resolve(ssmResolver, "QDRANT_URL", "")
	s.QdrantAPIKey = s.resolve(ssmResolver, "QDRANT_API_KEY", "")
	s.QdrantCollectionPrefix = getOr("QDRANT_COLLECTION_PREFIX", s.QdrantCollectionPrefix)

	s.EmbeddingAPIKey = s.resolve(ssmResolver, "EMBEDDING_API_KEY", "")
	s.EmbeddingBaseURL = getOr("EMBEDDING_BASE_URL", s.EmbeddingBaseURL)
	s.EmbeddingModel = getOr("EMBEDDING_MODEL", s.EmbeddingModel)

	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid EMBEDDING_DIMENSIONS: %w", err)
		}
		s.EmbeddingDimensions = n
	}
	if v := os.Getenv("CHUNK_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid CHUNK_SIZE: %w", err)
		}
		s.ChunkSize = n
	}
	if v := os.Getenv("SENTENCE_OVERLAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid SENTENCE_OVERLAP: %w", err)
		}
		s.SentenceOverlap = n
	}
	s.ChunkStrategy = getOr("CHUNK_STRATEGY", s.ChunkStrategy)

	s.ParliamentaryQuestionsCollection = s.QdrantCollectionPrefix + "parliamentary_questions"
	s.HansardContributionsCollection = s.QdrantCollectionPrefix + "hansard_contributions"

	if v := os.Getenv("HTTP_MAX_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid HTTP_MAX_RATE_PER_SECOND: %w", err)
		}
		s.HTTPMaxRatePerSecond = f
	}
	if v := os.Getenv("EMBEDDING_MAX_RATE_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid EMBEDDING_MAX_RATE_PER_SECOND: %w", err)
		}
		s.EmbeddingMaxRatePerSecond = f
	}

	s.QueueDBPath = getOr("QUEUE_DB_PATH", s.QueueDBPath)
	s.LogLevel = getOr("LOG_LEVEL", s.LogLevel)
	s.LogPath = getOr("LOG_PATH", s.LogPath)

	return s, nil
}

func getOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ssmResolver fetches a parameter from AWS SSM Parameter Store, caching
// nothing itself — callers that need caching wrap it (the original used
// functools.lru_cache per-parameter; this module resolves settings once at
// startup, so no cache is needed).
type ssmResolver struct {
	client *ssm.Client
}

func newSSMResolver() *ssmResolver {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		return &ssmResolver{}
	}
	return &ssmResolver{client: ssm.NewFromConfig(cfg)}
}

func (r *ssmResolver) get(ctx context.Context, name string) (string, error) {
	if r.client == nil {
		return "", fmt.Errorf("ssm client unavailable")
	}
	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", err
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %s has no value", name)
	}
	return *out.Parameter.Value, nil
}

// resolve mirrors get_environment_or_ssm: prefer the environment variable,
// then fall back to SSM (namespaced under the project name) when running
// outside the local environment, then fall back to a default.
func (s *Settings) resolve(r *ssmResolver, envVar, def string) string {
	if v := os.Getenv(envVar); v != "" {
		return v
	}
	if s.Environment == "local" || os.Getenv("AWS_REGION") == "" {
		return def
	}
	path := fmt.Sprintf("/%s/env_secrets/%s", s.ProjectName, envVar)
	v, err := r.get(context.Background(), path)
	if err != nil {
		return def
	}
	return v
}
