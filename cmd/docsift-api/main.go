package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/docsift/docsift/cmd/docsift-api/handlers"
	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/retrieval"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/task"
	"github.com/docsift/docsift/internal/vector"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if len(os.Args) > 2 && os.Args[1] == "--config" {
		cfgPath = os.Args[2]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})

	logger.Info().
		Str("host", cfg.Server.Host).
		Int("port", cfg.Server.Port).
		Str("store", cfg.Store.Driver).
		Str("vector", cfg.Vector.Adapter).
		Str("blob", cfg.Blob.Kind).
		Msg("starting docsift API")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.Store)
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()
	if err := storage.EnsureSchema(ctx, db, cfg.Store.Driver); err != nil {
		logger.Fatal().Err(err).Msg("ensure schema")
	}
	repos := storage.NewRepositories(db)

	blobs, err := blob.New(ctx, cfg.Blob, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open blob store")
	}

	embedClient, err := model.NewEmbeddingClient(cfg.Embedding)
	if err != nil {
		logger.Fatal().Err(err).Msg("embedding client")
	}
	rerankClient, err := model.NewRerankerClient(cfg.Reranker)
	if err != nil {
		logger.Fatal().Err(err).Msg("reranker client")
	}
	genClient, err := model.NewGeneratorClient(cfg.Generator)
	if err != nil {
		logger.Fatal().Err(err).Msg("generator client")
	}
	hosts := model.NewHosts(cfg, embedClient, rerankClient, genClient, logger)

	index, err := newIndex(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open vector index")
	}

	publisher, err := task.NewPublisher(cfg.Broker, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect broker")
	}
	defer publisher.Close()

	redisOpt, err := redis.ParseURL(cfg.Broker.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse broker url")
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	checks := healthChecks(db, redisClient, index, blobs)

	retrievalPipe := retrieval.NewPipeline(logger, cfg, repos, index, hosts)
	if cfg.Cache.Enabled {
		cacheClient, err := newCacheClient(cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect cache")
		}
		defer cacheClient.Close()
		if cfg.Cache.RedisAddr != "" {
			checks["cache"] = cacheClient.Ping
		}
		retrievalPipe.UseEmbeddingCache(cache.NewEmbeddingCache(
			cacheClient, cfg.Cache.TTL,
			cfg.Embedding.Model, cfg.Embedding.Instruction, cfg.Embedding.Dimension,
			logger,
		))
	}

	deps := &Dependencies{
		Repos:     repos,
		Blobs:     blobs,
		Index:     index,
		Retrieval: retrievalPipe,
		Publisher: publisher,
		Checks:    checks,
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      NewRouter(logger, cfg, deps),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		logger.Error().Err(err).Msg("server error")
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		if err := srv.Close(); err != nil {
			logger.Error().Err(err).Msg("forced shutdown failed")
		}
	}
	logger.Info().Msg("server stopped")
}

// newCacheClient picks the embedding cache backend: Redis when an
// address is configured, in-process memory otherwise.
func newCacheClient(cfg *config.Config, logger *observability.Logger) (cache.Client, error) {
	if cfg.Cache.RedisAddr == "" {
		logger.Info().Msg("embedding cache in process memory")
		return cache.NewMemoryClient(cfg.Cache.MaxEntries), nil
	}
	logger.Info().Str("addr", cfg.Cache.RedisAddr).Msg("embedding cache on redis")
	return cache.NewRedisClient(cfg.Cache)
}

func newIndex(ctx context.Context, cfg *config.Config, logger *observability.Logger) (vector.Index, error) {
	switch cfg.Vector.Adapter {
	case "qdrant":
		return vector.NewQdrantIndex(ctx, cfg.Vector, cfg.Embedding.Dimension, logger)
	case "memory":
		return vector.NewMemoryIndex(cfg.Embedding.Dimension), nil
	default:
		return nil, fmt.Errorf("unsupported vector adapter: %s", cfg.Vector.Adapter)
	}
}

func healthChecks(db *sql.DB, rdb *redis.Client, index vector.Index, blobs blob.Store) map[string]handlers.Check {
	return map[string]handlers.Check{
		"store": func(ctx context.Context) error {
			return db.PingContext(ctx)
		},
		"broker": func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		},
		"vector": func(ctx context.Context) error {
			_, err := index.Count(ctx)
			return err
		},
		"blob": func(ctx context.Context) error {
			return blobs.Ping(ctx)
		},
	}
}
