package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ollama/ollama/api"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/scholarly-ai/tutor-backend/internal/agent"
	"github.com/scholarly-ai/tutor-backend/internal/breaker"
	"github.com/scholarly-ai/tutor-backend/internal/config"
	"github.com/scholarly-ai/tutor-backend/internal/document"
	"github.com/scholarly-ai/tutor-backend/internal/gateway"
	"github.com/scholarly-ai/tutor-backend/internal/handler"
	"github.com/scholarly-ai/tutor-backend/internal/ingest"
	appmw "github.com/scholarly-ai/tutor-backend/internal/middleware"
	"github.com/scholarly-ai/tutor-backend/internal/memory"
	"github.com/scholarly-ai/tutor-backend/internal/ratelimit"
	"github.com/scholarly-ai/tutor-backend/internal/repository"
	approuter "github.com/scholarly-ai/tutor-backend/internal/router"
	"github.com/scholarly-ai/tutor-backend/internal/semcache"
	"github.com/scholarly-ai/tutor-backend/internal/tokenizer"
	"github.com/scholarly-ai/tutor-backend/internal/vectorindex"
)

const Version = "0.1.0"

// newRouter is the bare pre-dependency router: a liveness probe any
// deployment stage (including one with no database yet provisioned) can
// answer. Production wiring mounts buildRouter's full surface alongside
// it; this one's shape and tests are untouched.
func newRouter() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","version":"%s"}`, Version)
	})

	return r
}

func getPort() string {
	if port := os.Getenv("PORT"); port != "" {
		return port
	}
	return "8080"
}

// buildRouter wires the full §6 HTTP surface: config, the Postgres pool,
// the Model Gateway's provider chain, the Document Processor, the Vector
// Index, the Semantic Cache, the Ingestion Coordinator, Conversation
// Memory, the RAG Agent, and the Rate Limiter, in that dependency order.
func buildRouter(ctx context.Context, cfg *config.Config) (*chi.Mux, error) {
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return nil, fmt.Errorf("buildRouter: connect database: %w", err)
	}

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		Window:           cfg.BreakerWindow,
		OpenDuration:     cfg.BreakerOpenDuration,
	}
	retryCfg := breaker.RetryConfig{
		BaseDelay:   cfg.RetryBaseDelay,
		CapDelay:    cfg.RetryCapDelay,
		MaxAttempts: cfg.RetryMaxAttempts,
	}

	gw := gateway.New(breakerCfg, retryCfg)
	if cfg.GCPProject != "" {
		vertex, err := gateway.NewVertexProvider(ctx, cfg.GCPProject, cfg.VertexAILocation, cfg.VertexAIModel, cfg.EmbeddingModel)
		if err != nil {
			return nil, fmt.Errorf("buildRouter: vertex provider: %w", err)
		}
		gw.AddChatProvider(vertex)
		gw.AddEmbedProvider(vertex)
		gw.AddTranscribeProvider(vertex)
	} else {
		slog.Warn("GOOGLE_CLOUD_PROJECT not set, skipping Vertex AI provider")
	}
	if cfg.OpenAIAPIKey != "" {
		openaiEmbeddingModel := "text-embedding-3-small"
		openaiProvider := gateway.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIModel, openaiEmbeddingModel)
		gw.AddChatProvider(openaiProvider)
		gw.AddEmbedProvider(openaiProvider)
	} else {
		slog.Warn("OPENAI_API_KEY not set, skipping OpenAI fallback provider")
	}
	if cfg.OllamaBaseURL != "" {
		base, err := url.Parse(cfg.OllamaBaseURL)
		if err != nil {
			return nil, fmt.Errorf("buildRouter: parse OLLAMA_BASE_URL: %w", err)
		}
		ollamaClient := api.NewClient(base, http.DefaultClient)
		gw.AddChatProvider(gateway.NewOllamaProvider(ollamaClient, cfg.OllamaModel))
	}

	counter, err := tokenizer.New(cfg.VertexAIModel)
	if err != nil {
		return nil, fmt.Errorf("buildRouter: tokenizer: %w", err)
	}

	var docAIExtractor document.PDFExtractor
	if cfg.GCPProject != "" && cfg.DocAIProcessorID != "" {
		extractor, err := document.NewDocAIExtractor(ctx, cfg.GCPProject, cfg.DocAILocation, cfg.DocAIProcessorID)
		if err != nil {
			return nil, fmt.Errorf("buildRouter: document AI extractor: %w", err)
		}
		docAIExtractor = extractor
	} else {
		slog.Warn("DOCUMENT_AI_PROCESSOR_ID not set, PDF ingestion falls back to native extraction only")
	}
	chunker := document.NewChunker(counter, cfg.ChunkSizeTokens, cfg.ChunkOverlapTokens)
	processor := document.NewProcessor(docAIExtractor, gw, chunker)

	index := vectorindex.NewPostgresIndex(pool)
	uploads := repository.NewUploadRepo(pool)
	turns := repository.NewTurnRepo(pool)

	cache := semcache.New(gw, cfg.TTLCache, cfg.TauCache, cfg.TauCacheable)
	coordinator := ingest.New(processor, gw, index, uploads, cache)

	summarizer := memory.NewGatewaySummarizer(gw)
	memories := memory.NewRegistry(counter, summarizer, cfg.MaxContextTokens, cfg.ChunkSizeTokens)

	ragAgent := agent.New(index, gw, gw, agent.Config{
		KRetrieve:                    cfg.KRetrieve,
		KContext:                     cfg.KContext,
		TauKeep:                      cfg.TauKeep,
		TauNoContext:                 cfg.TauNoContext,
		TauReview:                    cfg.TauReview,
		MaxTokens:                    cfg.MaxContextTokens,
		Temperature:                  0.2,
		SkipGenerationOnEmptyContext: cfg.SkipGenerationOnEmptyContext,
		DeadlineRetrieve:             cfg.StageDeadlineRetrieve,
		DeadlineGenerate:             cfg.StageDeadlineGenerate,
		DeadlineEvaluate:             cfg.StageDeadlineEvaluate,
	})

	tenantLimiter, ipLimiter, err := buildLimiters(cfg)
	if err != nil {
		return nil, fmt.Errorf("buildRouter: rate limiters: %w", err)
	}

	reg := prometheus.NewRegistry()
	metrics := appmw.NewMetrics(reg)

	return approuter.New(approuter.Dependencies{
		Version:            Version,
		FrontendURL:        cfg.FrontendURL,
		InternalAuthSecret: cfg.InternalAuthSecret,
		AllowAnonymousDemo: cfg.AllowAnonymousDemo,
		DB:                 pool,
		GatewayHealth:      gw,
		VectorHealth:       index,
		Metrics:            metrics,
		MetricsReg:         reg,
		TenantLimiter:      tenantLimiter,
		IPLimiter:          ipLimiter,
		Ingest:             coordinator,
		Chat: handler.ChatDeps{
			Agent:    ragAgent,
			Memories: memories,
			Cache:    cache,
			Turns:    turns,
			Metrics:  metrics,
		},
		Turns: turns,
	}), nil
}

// buildLimiters builds the tenant and IP rate limiters: Redis-backed when
// REDIS_URL is set (so multiple server instances share one bucket, per
// §5), in-process otherwise. The Redis instance is not probed here.
func buildLimiters(cfg *config.Config) (ratelimit.KeyLimiter, ratelimit.KeyLimiter, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewPerMinute(cfg.RateLimitPerTenantPerMin), ratelimit.NewPerMinute(cfg.RateLimitPerIPPerMin), nil
	}
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("buildLimiters: parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	tenantLimiter := ratelimit.NewRedisPerMinute(client, "ratelimit:tenant", cfg.RateLimitPerTenantPerMin)
	ipLimiter := ratelimit.NewRedisPerMinute(client, "ratelimit:ip", cfg.RateLimitPerIPPerMin)
	return tenantLimiter, ipLimiter, nil
}

func run() error {
	port := getPort()

	mux := newRouter()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config.Load failed, serving liveness probe only", "error", err)
	} else {
		prodRouter, err := buildRouter(context.Background(), cfg)
		if err != nil {
			return fmt.Errorf("run: build production router: %w", err)
		}
		mux.Mount("/", prodRouter)
		port = fmt.Sprintf("%d", cfg.Port)
		if envPort := os.Getenv("PORT"); envPort != "" {
			port = envPort
		}
	}

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("tutor-backend v%s starting on port %s", Version, port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("received signal %s, shutting down gracefully", sig)
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	log.Println("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}
