package task

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/observability"
)

// Publisher enqueues ingestion jobs on the broker.
type Publisher struct {
	client *asynq.Client
	cfg    config.BrokerConfig
	logger *observability.Logger
}

// NewPublisher connects to the broker named by cfg.URL.
func NewPublisher(cfg config.BrokerConfig, logger *observability.Logger) (*Publisher, error) {
	opt, err := asynq.ParseRedisURI(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	return &Publisher{
		client: asynq.NewClient(opt),
		cfg:    cfg,
		logger: logger.WithComponent("task"),
	}, nil
}

// PublishIngest enqueues the ingestion job for documentID.
func (p *Publisher) PublishIngest(ctx context.Context, documentID int64) error {
	t, err := NewIngestTask(documentID, p.cfg)
	if err != nil {
		return fmt.Errorf("build ingest task: %w", err)
	}
	info, err := p.client.EnqueueContext(ctx, t)
	if err != nil {
		return fmt.Errorf("enqueue ingest task: %w", err)
	}
	p.logger.Info().
		Int64("document_id", documentID).
		Str("task_id", info.ID).
		Str("queue", info.Queue).
		Msg("ingest task enqueued")
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
