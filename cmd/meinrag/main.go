package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/meinrag/meinrag/internal/config"
	"github.com/meinrag/meinrag/internal/db"
	dbRedis "github.com/meinrag/meinrag/internal/db/redis"
	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/search/request"
	"github.com/meinrag/meinrag/internal/index/lexical"
	"github.com/meinrag/meinrag/internal/index/memory"
	"github.com/meinrag/meinrag/internal/index/redisearch"
	"github.com/meinrag/meinrag/internal/index/vector"
	logpkg "github.com/meinrag/meinrag/internal/logger"
	"github.com/meinrag/meinrag/internal/metrics"
	"github.com/meinrag/meinrag/internal/repository/embcache"
	"github.com/meinrag/meinrag/internal/repository/metadata"
	chiTransport "github.com/meinrag/meinrag/internal/transport/chi"
	openaiTransport "github.com/meinrag/meinrag/internal/transport/openai"
	healthuc "github.com/meinrag/meinrag/internal/usecase/health"
	ingestuc "github.com/meinrag/meinrag/internal/usecase/ingest"
	resolveruc "github.com/meinrag/meinrag/internal/usecase/resolver"
	retrievaluc "github.com/meinrag/meinrag/internal/usecase/retrieval"
	"github.com/meinrag/meinrag/internal/version"
)

// metadataRepository is the union of the metadata surfaces the services
// need. Both the redis-backed and in-memory repositories satisfy it.
type metadataRepository interface {
	ingestuc.MetadataRepository
	ResolveCollection(ctx context.Context, owner, name string) ([]string, error)
}

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting meinrag API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	ctx := context.Background()

	// Register metrics explicitly (no init())
	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterRetrievalMetrics()

	// Passage index and metadata repository, by driver.
	// "memory" keeps everything in-process; "redis" and "valkey" share the
	// rueidis store and a RediSearch HNSW index.
	var (
		store  db.Store
		idx    vector.Index
		meta   metadataRepository
		pinger healthuc.StorePinger
	)
	switch cfg.Database.Driver {
	case "memory":
		idx = memory.New(memory.WithMaxScan(cfg.Retrieval.MaxScanPassages))
		meta = metadata.NewMemory()
	case "redis", "valkey":
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")

		rsIdx := redisearch.New(store, cfg.Storage.KeyPrefix, cfg.Embedding.Dimensions,
			redisearch.WithHNSW(redisearch.HNSWConfig{
				M:           cfg.Index.HNSWM,
				EFConstruct: cfg.Index.HNSWEFConstruct,
			}),
			redisearch.WithMaxScan(cfg.Retrieval.MaxScanPassages),
		)
		if err := rsIdx.EnsureIndex(ctx); err != nil {
			logger.Fatal("Failed to ensure vector index", zap.Error(err))
		}
		idx = rsIdx
		meta = metadata.New(store, cfg.Storage.KeyPrefix)
		pinger = store
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}

	// Build embedder chains — composition root. Documents are embedded raw;
	// queries get the retrieval instruction prefix.
	docEmbedder := buildEmbedder(cfg, "", store, logger)
	queryEmbedder := buildEmbedder(cfg, cfg.Embedding.QueryInstruction, store, logger)
	logger.Info("Embedders created",
		zap.String("provider", cfg.Embedding.Provider),
		zap.String("model", cfg.Embedding.Model),
		zap.Int("dimensions", cfg.Embedding.Dimensions),
	)

	// Use case services
	searcher := vector.NewSearcher(idx, cfg.Retrieval.OverfetchFactor)
	resolverSvc := resolveruc.New(meta)
	ingestSvc := ingestuc.New(meta, idx, docEmbedder, cfg.Embedding.Dimensions)
	retrievalSvc := retrievaluc.New(searcher, logger).
		WithLexicalParams(lexical.Params{K1: cfg.Retrieval.BM25.K1, B: cfg.Retrieval.BM25.B}).
		WithRRFOffset(cfg.Retrieval.RRFOffset)
	if rr := cfg.Retrieval.Rerank; rr.Enabled {
		retrievalSvc = retrievalSvc.WithJudge(openaiTransport.NewJudge(&openaiTransport.JudgeConfig{
			APIKey:  rr.APIKey,
			BaseURL: rr.BaseURL,
			Model:   rr.Model,
		}))
		logger.Info("Re-ranker enabled", zap.String("model", rr.Model))
	}
	healthSvc := healthuc.New(pinger, newEmbeddingHealthChecker(docEmbedder))

	// Create chi server
	server := chiTransport.NewServer(
		retrievalSvc, resolverSvc, ingestSvc, healthSvc, queryEmbedder,
		chiTransport.Defaults{
			TopK: cfg.Retrieval.TopK,
			Hybrid: request.HybridOptions{
				Enabled:         cfg.Retrieval.Hybrid.Enabled,
				LexicalWeight:   *cfg.Retrieval.Hybrid.LexicalWeight,
				FetchMultiplier: cfg.Retrieval.Hybrid.FetchMultiplier,
			},
			Rerank: request.RerankOptions{
				Enabled:    cfg.Retrieval.Rerank.Enabled,
				Multiplier: cfg.Retrieval.Rerank.Multiplier,
				Timeout:    time.Duration(cfg.Retrieval.Rerank.TimeoutSec) * time.Second,
			},
		},
		logger,
	)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
}

// embeddingHealthChecker wraps domain.Embedder to implement health.EmbeddingChecker.
type embeddingHealthChecker struct {
	embedder domain.Embedder
}

func newEmbeddingHealthChecker(embedder domain.Embedder) *embeddingHealthChecker {
	return &embeddingHealthChecker{embedder: embedder}
}

func (h *embeddingHealthChecker) HealthCheck(ctx context.Context) error {
	if hc, ok := h.embedder.(domain.HealthChecker); ok {
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("embedding health check: %w", err)
		}
	}
	return nil
}

// buildEmbedder assembles the decorator chain: OpenAI -> Cached -> Instruction
func buildEmbedder(cfg config.Config, instruction string, store db.Store, logger *zap.Logger) domain.Embedder {
	base := openaiTransport.NewEmbedder(&openaiTransport.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
	})

	// Cached (only with a persistent store; the memory driver embeds fresh)
	var embedder domain.Embedder = base
	if store != nil {
		embedder = embcache.New(base, store, cfg.Storage.KeyPrefix, metrics.EmbeddingCacheTotal, logger).
			WithTTL(time.Duration(cfg.Embedding.CacheTTLHours) * time.Hour)
	}

	// Instruction prefix (outermost — cache key includes instruction)
	if instruction != "" {
		return domain.NewInstructionEmbedder(embedder, instruction)
	}

	return embedder
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			// Set X-Request-ID in response header
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
