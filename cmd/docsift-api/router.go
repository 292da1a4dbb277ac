// Package main provides the docsift API server.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/docsift/docsift/cmd/docsift-api/handlers"
	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/retrieval"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

// Dependencies carries the shared services the handlers run on.
type Dependencies struct {
	Repos     *storage.Repositories
	Blobs     blob.Store
	Index     vector.Index
	Retrieval *retrieval.Pipeline
	Publisher handlers.IngestPublisher
	Checks    map[string]handlers.Check
}

// NewRouter wires the middleware stack and all routes.
func NewRouter(logger *observability.Logger, cfg *config.Config, deps *Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	// WriteTimeout bounds the slowest route, /query/ask, which waits on
	// the generator.
	r.Use(chimiddleware.Timeout(cfg.Server.WriteTimeout))

	documents := handlers.NewDocumentsHandler(logger, deps.Repos, deps.Blobs, deps.Index, deps.Publisher)
	query := handlers.NewQueryHandler(logger, deps.Retrieval)
	health := handlers.NewHealthHandler(logger, deps.Checks)

	r.Get("/health", health.Health)

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", documents.Upload)
		r.Get("/", documents.List)
		r.Route("/{documentID}", func(r chi.Router) {
			r.Get("/", documents.Get)
			r.Delete("/", documents.Delete)
			r.Get("/download", documents.Download)
		})
	})

	r.Route("/query", func(r chi.Router) {
		r.Post("/retrieve-chunks", query.RetrieveChunks)
		r.Post("/ask", query.Ask)
	})

	return r
}
