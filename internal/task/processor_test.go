package task

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/chunk"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/ingest"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/parser"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

type testWorker struct {
	processor *Processor
	repos     *storage.Repositories
	blobs     blob.Store
	index     *vector.MemoryIndex
	splitter  *chunk.Splitter
}

func newTestWorker(t *testing.T, embedder model.Embedder) *testWorker {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))
	repos := storage.NewRepositories(db)

	blobs, err := blob.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	if embedder == nil {
		embedder = model.NewMockEmbedder(16)
	}
	index := vector.NewMemoryIndex(embedder.Dimension())

	cfg := config.DefaultConfig()
	hosts := model.NewHosts(cfg, embedder, &model.MockReranker{}, &model.MockGenerator{}, observability.DefaultLogger())

	splitter, err := chunk.NewSplitter(64, 16)
	require.NoError(t, err)

	logger := observability.DefaultLogger()
	pipeline := ingest.NewPipeline(logger, repos, blobs, splitter, hosts.Embedder, index)
	return &testWorker{
		processor: NewProcessor(pipeline, logger),
		repos:     repos,
		blobs:     blobs,
		index:     index,
		splitter:  splitter,
	}
}

func (w *testWorker) seedDocument(t *testing.T, key, contentType string, body []byte) *storage.Document {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, w.blobs.Save(ctx, key, body, contentType))
	doc := &storage.Document{
		OriginalFilename: key,
		ContentType:      contentType,
		Size:             int64(len(body)),
		FilePath:         key,
		StorageType:      storage.StorageLocal,
	}
	require.NoError(t, w.repos.Documents.Create(ctx, doc))
	return doc
}

func ingestTask(t *testing.T, documentID int64) *asynq.Task {
	t.Helper()
	task, err := NewIngestTask(documentID, config.DefaultConfig().Broker)
	require.NoError(t, err)
	return task
}

func TestNewIngestTask_Metadata(t *testing.T) {
	task := ingestTask(t, 42)
	assert.Equal(t, TypeIngestDocument, task.Type())
	assert.JSONEq(t, `{"document_id":42}`, string(task.Payload()))
}

func TestHandleIngestDocument_Success(t *testing.T) {
	w := newTestWorker(t, nil)
	ctx := context.Background()
	doc := w.seedDocument(t, "report.txt", "text/plain",
		[]byte("The quarterly report covers solar, wind, and hydro output in detail."))

	require.NoError(t, w.processor.HandleIngestDocument(ctx, ingestTask(t, doc.ID)))

	got, err := w.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusReady, got.Status)
}

func TestHandleIngestDocument_MalformedPayloadDropped(t *testing.T) {
	w := newTestWorker(t, nil)

	err := w.processor.HandleIngestDocument(context.Background(),
		asynq.NewTask(TypeIngestDocument, []byte("{not json")))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestHandleIngestDocument_MissingDocumentAcked(t *testing.T) {
	w := newTestWorker(t, nil)

	err := w.processor.HandleIngestDocument(context.Background(), ingestTask(t, 4242))
	assert.NoError(t, err)
}

func TestHandleIngestDocument_TerminalFailureDropped(t *testing.T) {
	w := newTestWorker(t, nil)
	ctx := context.Background()
	doc := w.seedDocument(t, "archive.zip", "application/zip", []byte("PK\x03\x04"))

	err := w.processor.HandleIngestDocument(ctx, ingestTask(t, doc.ID))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.ErrorIs(t, err, parser.ErrUnsupportedType)

	got, err := w.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
}

func TestHandleIngestDocument_TransientFailureReturnedForRetry(t *testing.T) {
	mock := model.NewMockEmbedder(16)
	mock.Err = errors.New("model host offline")
	w := newTestWorker(t, mock)
	ctx := context.Background()
	doc := w.seedDocument(t, "flaky.txt", "text/plain",
		[]byte("This document will fail at the embedding step."))

	err := w.processor.HandleIngestDocument(ctx, ingestTask(t, doc.ID))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)

	// The document carries the failure; redelivery re-enters via the
	// error status and purges before retrying.
	got, err := w.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
}

func TestHandleIngestDocument_PanicMarksDocument(t *testing.T) {
	w := newTestWorker(t, nil)
	ctx := context.Background()
	doc := w.seedDocument(t, "boom.txt", "text/plain",
		[]byte("A panic in the pipeline must still mark this document."))

	// A pipeline with no embedder host panics at the embed step,
	// after the claim succeeded.
	logger := observability.DefaultLogger()
	broken := NewProcessor(
		ingest.NewPipeline(logger, w.repos, w.blobs, w.splitter, nil, w.index),
		logger,
	)

	require.Panics(t, func() {
		_ = broken.HandleIngestDocument(ctx, ingestTask(t, doc.ID))
	})

	got, err := w.repos.Documents.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.StatusError, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Contains(t, *got.ErrorMessage, "panic:")
}
