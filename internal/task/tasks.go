// Package task defines the broker jobs that connect the API to the
// ingestion workers.
package task

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/docsift/docsift/internal/config"
)

// TypeIngestDocument processes one uploaded document end to end.
const TypeIngestDocument = "ingest:document"

// IngestPayload identifies the document to ingest.
type IngestPayload struct {
	DocumentID int64 `json:"document_id"`
}

// NewIngestTask builds the broker task for one document with the
// configured queue, retry, and timeout options.
func NewIngestTask(documentID int64, cfg config.BrokerConfig) (*asynq.Task, error) {
	payload, err := json.Marshal(IngestPayload{DocumentID: documentID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(
		TypeIngestDocument,
		payload,
		asynq.MaxRetry(cfg.MaxRetries),
		asynq.Timeout(cfg.TaskTimeout),
		asynq.Queue(cfg.Queue),
	), nil
}
