// Package ingest drives one document from uploaded bytes to indexed,
// searchable chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/chunk"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/parser"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

// ErrEmptyContent signals a document whose parsed text is empty. It is
// terminal: retrying the same bytes cannot produce text.
var ErrEmptyContent = errors.New("document contains no extractable text")

const (
	// errorMessageLimit bounds the persisted failure description.
	errorMessageLimit = 500
	// stepRetryLimit bounds in-step retries of transient failures.
	stepRetryLimit = 3
)

// Pipeline executes the ingestion steps for one document: claim, purge
// leftovers of a failed attempt, fetch, parse, chunk, persist, embed,
// upsert, finalize. Failures after a successful claim mark the document
// with status error and the failing step.
type Pipeline struct {
	logger   *observability.Logger
	repos    *storage.Repositories
	blobs    blob.Store
	splitter *chunk.Splitter
	embedder *model.EmbedderHost
	index    vector.Index
}

// Result summarizes one pipeline run.
type Result struct {
	DocumentID     int64
	NumberOfChunks int
	Purged         bool
	Skipped        bool
	Steps          []string
	Duration       time.Duration
}

// NewPipeline wires the ingestion dependencies.
func NewPipeline(
	logger *observability.Logger,
	repos *storage.Repositories,
	blobs blob.Store,
	splitter *chunk.Splitter,
	embedder *model.EmbedderHost,
	index vector.Index,
) *Pipeline {
	return &Pipeline{
		logger:   logger.WithComponent("ingest"),
		repos:    repos,
		blobs:    blobs,
		splitter: splitter,
		embedder: embedder,
		index:    index,
	}
}

// Ingest processes one document to a terminal state. A missing document
// or one that is already ready is a skip, not an error. A claim lost to
// a concurrent runner returns ErrNotClaimable without touching the
// record; every failure after a successful claim marks the document as
// failed before the error is returned.
func (p *Pipeline) Ingest(ctx context.Context, documentID int64) (*Result, error) {
	start := time.Now()
	log := p.logger.WithDocument(documentID)
	result := &Result{DocumentID: documentID}

	doc, err := p.repos.Documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Warn().Msg("document vanished before ingestion; nothing to do")
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
		return nil, fmt.Errorf("load: %w", err)
	}
	result.Steps = append(result.Steps, "load")

	prior, err := p.repos.Documents.Claim(ctx, documentID)
	if err != nil {
		if errors.Is(err, storage.ErrNotClaimable) && prior == storage.StatusReady {
			log.Info().Msg("document already ingested; skipping")
			result.Skipped = true
			result.Duration = time.Since(start)
			return result, nil
		}
		return nil, fmt.Errorf("claim: %w", err)
	}
	result.Steps = append(result.Steps, "claim")

	log.Info().Str("prior_status", string(prior)).Msg("document claimed for ingestion")

	// This runner owns the document from here on; any failure is
	// recorded on the record itself.
	if err := p.process(ctx, doc, prior, result, log); err != nil {
		p.MarkFailed(ctx, documentID, err)
		return nil, err
	}

	result.Duration = time.Since(start)
	log.Info().
		Int("chunks", result.NumberOfChunks).
		Bool("purged", result.Purged).
		Dur("duration", result.Duration).
		Msg("document ingested")
	return result, nil
}

func (p *Pipeline) process(ctx context.Context, doc *storage.Document, prior storage.DocumentStatus, result *Result, log *observability.Logger) error {
	if prior == storage.StatusError {
		removed, err := p.repos.Chunks.DeleteByDocument(ctx, doc.ID)
		if err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		if err := p.index.DeleteByDocument(ctx, doc.ID); err != nil {
			return fmt.Errorf("purge: %w", err)
		}
		result.Purged = true
		result.Steps = append(result.Steps, "purge")
		log.Info().Int64("chunks_removed", removed).Msg("purged artifacts of previous attempt")
	}

	var data []byte
	err := p.retry(ctx, func() error {
		var ferr error
		data, ferr = p.blobs.Fetch(ctx, doc.FilePath)
		if errors.Is(ferr, blob.ErrNotFound) {
			return backoff.Permanent(ferr)
		}
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	result.Steps = append(result.Steps, "fetch")

	text, err := parser.Parse(doc.OriginalFilename, doc.ContentType, data)
	if err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if text == "" {
		return fmt.Errorf("parse: %w", ErrEmptyContent)
	}
	result.Steps = append(result.Steps, "parse")

	texts := p.splitter.Split(text)
	if len(texts) == 0 {
		return fmt.Errorf("chunk: %w", ErrEmptyContent)
	}
	result.Steps = append(result.Steps, "chunk")

	chunks := make([]*storage.Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = &storage.Chunk{
			SourceDocumentID:   doc.ID,
			ChunkText:          t,
			SequenceInDocument: i,
		}
	}
	if err := p.repos.Chunks.CreateBatch(ctx, chunks); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	result.Steps = append(result.Steps, "persist")

	var vectors [][]float32
	err = p.retry(ctx, func() error {
		var eerr error
		vectors, eerr = p.embedder.EmbedDocuments(ctx, texts)
		return eerr
	})
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}
	result.Steps = append(result.Steps, "embed")

	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{
			ChunkID:            c.ID,
			Vector:             vectors[i],
			SourceDocumentID:   doc.ID,
			SequenceInDocument: c.SequenceInDocument,
		}
	}
	err = p.retry(ctx, func() error {
		uerr := p.index.Upsert(ctx, entries)
		if errors.Is(uerr, vector.ErrSchemaMismatch) {
			return backoff.Permanent(uerr)
		}
		return uerr
	})
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	result.Steps = append(result.Steps, "upsert")

	now := time.Now().UTC()
	ready := storage.StatusReady
	n := len(chunks)
	err = p.repos.Documents.Update(ctx, doc.ID, storage.DocumentUpdate{
		Status:            &ready,
		ProcessedAt:       &now,
		NumberOfChunks:    &n,
		ClearErrorMessage: true,
	})
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	result.Steps = append(result.Steps, "finalize")
	result.NumberOfChunks = n
	return nil
}

// MarkFailed records a terminal failure on the document. The write runs
// on a context detached from the caller's cancellation so a cancelled
// job can still record why it stopped; cancellation itself is recorded
// as exactly "cancelled" so the document can be requeued.
func (p *Pipeline) MarkFailed(ctx context.Context, documentID int64, cause error) {
	msg := cause.Error()
	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		msg = "cancelled"
	}
	msg = truncate(msg, errorMessageLimit)

	detached, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	failed := storage.StatusError
	err := p.repos.Documents.Update(detached, documentID, storage.DocumentUpdate{
		Status:       &failed,
		ErrorMessage: &msg,
	})
	log := p.logger.WithDocument(documentID)
	if err != nil {
		log.Error().Err(err).Msg("failed to record ingestion failure")
		return
	}
	log.Warn().Str("error_message", msg).Msg("document marked as failed")
}

// retry runs op with exponential backoff, honoring ctx. Permanent
// errors abort immediately.
func (p *Pipeline) retry(ctx context.Context, op backoff.Operation) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 0
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, stepRetryLimit), ctx))
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
