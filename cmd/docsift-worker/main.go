// Command docsift-worker consumes ingestion jobs from the broker and
// runs the parse-chunk-embed-index pipeline for each document.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/chunk"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/ingest"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
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
		ServiceName: cfg.Observability.ServiceName + "-worker",
	})

	logger.Info().
		Str("queue", cfg.Broker.Queue).
		Int("concurrency", cfg.Worker.Concurrency).
		Str("store", cfg.Store.Driver).
		Str("vector", cfg.Vector.Adapter).
		Str("blob", cfg.Blob.Kind).
		Msg("starting docsift worker")

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

	splitter, err := chunk.NewSplitter(cfg.Chunking.Size, cfg.Chunking.Overlap)
	if err != nil {
		logger.Fatal().Err(err).Msg("build splitter")
	}

	pipeline := ingest.NewPipeline(logger, repos, blobs, splitter, hosts.Embedder, index)
	processor := task.NewProcessor(pipeline, logger)

	redisOpt, err := asynq.ParseRedisURI(cfg.Broker.URL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse broker url")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:     cfg.Worker.Concurrency,
		Queues:          map[string]int{cfg.Broker.Queue: 1},
		Logger:          task.NewLogger(logger),
		ShutdownTimeout: cfg.Worker.ShutdownTimeout,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(task.TypeIngestDocument, processor.HandleIngestDocument)

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("start worker")
	}
	logger.Info().Str("queue", cfg.Broker.Queue).Msg("worker consuming")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	// Stop fetching new jobs, then wait out the in-flight ones. Jobs
	// still running after the window are requeued; their cancelled
	// contexts mark the documents failed so re-ingestion starts clean.
	srv.Stop()
	srv.Shutdown()
	logger.Info().Msg("worker stopped")
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
