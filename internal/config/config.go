// Package config loads runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port        int
	Environment string

	DatabaseURL      string
	DatabaseMaxConns int
	RedisURL         string

	GCPProject        string
	VertexAILocation  string
	VertexAIModel     string
	EmbeddingLocation string
	EmbeddingModel    string
	EmbeddingDims     int
	GCSBucketName     string
	DocAIProcessorID  string
	DocAILocation     string

	OpenAIAPIKey  string
	OpenAIModel   string
	OllamaBaseURL string
	OllamaModel   string

	FrontendURL        string
	AllowAnonymousDemo bool
	InternalAuthSecret string

	// Runtime tuning knobs for retrieval, generation, caching, and breakers.
	MaxContextTokens   int
	ChunkSizeTokens    int
	ChunkOverlapTokens int
	KRetrieve          int
	KContext           int
	TauKeep            float64
	TauNoContext       float64
	TauReview          float64
	TauCache           float64
	TauCacheable       float64
	TTLCache           time.Duration

	BreakerFailureThreshold int
	BreakerWindow           time.Duration
	BreakerOpenDuration     time.Duration

	RetryBaseDelay   time.Duration
	RetryCapDelay    time.Duration
	RetryMaxAttempts int

	RateLimitPerTenantPerMin int
	RateLimitPerIPPerMin     int

	StageDeadlineRetrieve time.Duration
	StageDeadlineGenerate time.Duration
	StageDeadlineEvaluate time.Duration

	SkipGenerationOnEmptyContext bool
	IngestBlockOnBreakerOpen     bool
}

// Load reads configuration from environment variables. DATABASE_URL is
// required, and so is INTERNAL_AUTH_SECRET outside the development
// environment; everything else has a sensible default matching §6.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:        envInt("PORT", 8080),
		Environment: envStr("ENVIRONMENT", "development"),

		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 25),
		RedisURL:         envStr("REDIS_URL", ""),

		GCPProject:        envStr("GOOGLE_CLOUD_PROJECT", ""),
		VertexAILocation:  envStr("VERTEX_AI_LOCATION", "us-east4"),
		VertexAIModel:     envStr("VERTEX_AI_MODEL", "gemini-2.5-flash"),
		EmbeddingLocation: envStr("VERTEX_AI_EMBEDDING_LOCATION", envStr("VERTEX_AI_LOCATION", "us-east4")),
		EmbeddingModel:    envStr("VERTEX_AI_EMBEDDING_MODEL", "text-embedding-004"),
		EmbeddingDims:     envInt("EMBEDDING_DIMENSIONS", 768),
		GCSBucketName:     envStr("GCS_BUCKET_NAME", ""),
		DocAIProcessorID:  envStr("DOCUMENT_AI_PROCESSOR_ID", ""),
		DocAILocation:     envStr("DOCUMENT_AI_LOCATION", "us"),

		OpenAIAPIKey:  envStr("OPENAI_API_KEY", ""),
		OpenAIModel:   envStr("OPENAI_MODEL", "gpt-4o-mini"),
		OllamaBaseURL: envStr("OLLAMA_BASE_URL", ""),
		OllamaModel:   envStr("OLLAMA_MODEL", "llama3.1"),

		FrontendURL:        envStr("FRONTEND_URL", "http://localhost:3000"),
		AllowAnonymousDemo: envBool("ALLOW_ANONYMOUS_DEMO", false),
		InternalAuthSecret: envStr("INTERNAL_AUTH_SECRET", ""),

		MaxContextTokens:   envInt("MAX_CONTEXT_TOKENS", 4000),
		ChunkSizeTokens:    envInt("CHUNK_SIZE_TOKENS", 800),
		ChunkOverlapTokens: envInt("CHUNK_OVERLAP_TOKENS", 150),
		KRetrieve:          envInt("K_RETRIEVE", 8),
		KContext:           envInt("K_CONTEXT", 4),
		TauKeep:            envFloat("TAU_KEEP", 0.5),
		TauNoContext:       envFloat("TAU_NO_CONTEXT", 0.35),
		TauReview:          envFloat("TAU_REVIEW", 0.5),
		TauCache:           envFloat("TAU_CACHE", 0.93),
		TauCacheable:       envFloat("TAU_CACHEABLE", 0.7),
		TTLCache:           envDuration("TTL_CACHE", time.Hour),

		BreakerFailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
		BreakerWindow:           envDuration("BREAKER_WINDOW", 60*time.Second),
		BreakerOpenDuration:     envDuration("BREAKER_OPEN_DURATION", 30*time.Second),

		RetryBaseDelay:   envDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryCapDelay:    envDuration("RETRY_CAP_DELAY", 8*time.Second),
		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", 4),

		RateLimitPerTenantPerMin: envInt("RATE_LIMIT_TENANT_PER_MIN", 60),
		RateLimitPerIPPerMin:     envInt("RATE_LIMIT_IP_PER_MIN", 120),

		StageDeadlineRetrieve: envDuration("STAGE_DEADLINE_RETRIEVE", 2*time.Second),
		StageDeadlineGenerate: envDuration("STAGE_DEADLINE_GENERATE", 20*time.Second),
		StageDeadlineEvaluate: envDuration("STAGE_DEADLINE_EVALUATE", 1*time.Second),

		SkipGenerationOnEmptyContext: envBool("SKIP_GENERATION_ON_EMPTY_CONTEXT", false),
		IngestBlockOnBreakerOpen:     envBool("INGEST_BLOCK_ON_BREAKER_OPEN", true),
	}

	if cfg.Environment != "development" && cfg.InternalAuthSecret == "" {
		return nil, fmt.Errorf("config.Load: INTERNAL_AUTH_SECRET is required in %s environment", cfg.Environment)
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
