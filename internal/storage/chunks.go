package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ChunkRepository handles chunk persistence.
type ChunkRepository struct {
	db DB
}

// NewChunkRepository creates a new chunk repository.
func NewChunkRepository(db DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

const chunkColumns = `id, source_document_id, chunk_text, sequence_in_document, metadata, created_at`

// CreateBatch inserts all chunks in a single transaction and fills in their
// assigned ids. Any integrity failure rejects the whole batch.
func (r *ChunkRepository) CreateBatch(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (source_document_id, chunk_text, sequence_in_document, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`)
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, chunk := range chunks {
		chunk.CreatedAt = now
		err := stmt.QueryRowContext(ctx,
			chunk.SourceDocumentID, chunk.ChunkText, chunk.SequenceInDocument,
			chunk.Metadata, chunk.CreatedAt,
		).Scan(&chunk.ID)
		if err != nil {
			return fmt.Errorf("insert chunk %d of document %d: %w", chunk.SequenceInDocument, chunk.SourceDocumentID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk batch: %w", err)
	}
	return nil
}

// GetByIDs fetches chunks by id. Result order is not guaranteed; callers
// that need a particular order reorder by id themselves.
func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []int64) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`SELECT `+chunkColumns+` FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ", "))
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// ListByDocument returns all chunks of a document ordered by sequence.
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID int64) ([]*Chunk, error) {
	query := `SELECT ` + chunkColumns + ` FROM chunks WHERE source_document_id = $1 ORDER BY sequence_in_document`
	rows, err := r.db.QueryContext(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunks(rows)
}

// CountByDocument returns the number of chunks stored for a document.
func (r *ChunkRepository) CountByDocument(ctx context.Context, documentID int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks WHERE source_document_id = $1`, documentID).Scan(&count)
	return count, err
}

// DeleteByDocument removes all chunks of a document and reports how many were removed.
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID int64) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE source_document_id = $1`, documentID)
	if err != nil {
		return 0, fmt.Errorf("delete chunks of document %d: %w", documentID, err)
	}
	return result.RowsAffected()
}

func scanChunks(rows *sql.Rows) ([]*Chunk, error) {
	var chunks []*Chunk
	for rows.Next() {
		chunk := &Chunk{}
		if err := rows.Scan(
			&chunk.ID, &chunk.SourceDocumentID, &chunk.ChunkText, &chunk.SequenceInDocument,
			&chunk.Metadata, &chunk.CreatedAt,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}
