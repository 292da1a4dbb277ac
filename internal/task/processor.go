package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/ingest"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/parser"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

// Processor executes broker jobs against the ingestion pipeline.
type Processor struct {
	pipeline *ingest.Pipeline
	logger   *observability.Logger
}

// NewProcessor wires the worker-side job handlers.
func NewProcessor(pipeline *ingest.Pipeline, logger *observability.Logger) *Processor {
	return &Processor{
		pipeline: pipeline,
		logger:   logger.WithComponent("task"),
	}
}

// HandleIngestDocument runs the ingestion pipeline for one task.
// Terminal failures are acked so the broker does not redeliver a job
// the document record already explains; transient failures are
// returned bare for redelivery with backoff.
func (p *Processor) HandleIngestDocument(ctx context.Context, t *asynq.Task) error {
	var payload IngestPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal %s payload: %v: %w", t.Type(), err, asynq.SkipRetry)
	}

	// A panic must not take down sibling jobs: record the failure on
	// the document with a fresh context, then let asynq see the panic.
	defer func() {
		if r := recover(); r != nil {
			p.pipeline.MarkFailed(context.Background(), payload.DocumentID, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	res, err := p.pipeline.Ingest(ctx, payload.DocumentID)
	if err != nil {
		if terminalIngestError(err) {
			p.logger.Warn().
				Int64("document_id", payload.DocumentID).
				Err(err).
				Msg("ingestion failed terminally; dropping task")
			return errors.Join(err, asynq.SkipRetry)
		}
		return err
	}
	if res.Skipped {
		p.logger.Info().
			Int64("document_id", payload.DocumentID).
			Msg("nothing to ingest; task acked")
	}
	return nil
}

// terminalIngestError reports failures that redelivering the same task
// cannot fix: bad bytes, an unsupported format, an index built for a
// different model, or a document another runner already owns.
func terminalIngestError(err error) bool {
	return errors.Is(err, parser.ErrUnsupportedType) ||
		errors.Is(err, parser.ErrParse) ||
		errors.Is(err, ingest.ErrEmptyContent) ||
		errors.Is(err, vector.ErrSchemaMismatch) ||
		errors.Is(err, blob.ErrNotFound) ||
		errors.Is(err, storage.ErrNotClaimable)
}
