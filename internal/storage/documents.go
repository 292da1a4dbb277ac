package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DocumentRepository handles document CRUD operations.
type DocumentRepository struct {
	db DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, original_filename, content_type, size, file_path, storage_type,
	status, error_message, processed_at, number_of_chunks, created_at, updated_at`

// Create inserts a new document record and fills in its assigned id.
// New records start in uploaded unless a status is set. Fails with
// ErrAlreadyExists when file_path is already taken.
func (r *DocumentRepository) Create(ctx context.Context, doc *Document) error {
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	if doc.Status == "" {
		doc.Status = StatusUploaded
	}
	if doc.StorageType == "" {
		doc.StorageType = StorageLocal
	}

	query := `
		INSERT INTO documents (original_filename, content_type, size, file_path, storage_type,
			status, error_message, processed_at, number_of_chunks, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		doc.OriginalFilename, doc.ContentType, doc.Size, doc.FilePath, doc.StorageType,
		doc.Status, doc.ErrorMessage, doc.ProcessedAt, doc.NumberOfChunks,
		doc.CreatedAt, doc.UpdatedAt,
	).Scan(&doc.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: file_path %q", ErrAlreadyExists, doc.FilePath)
		}
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID retrieves a document by id.
func (r *DocumentRepository) GetByID(ctx context.Context, id int64) (*Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	doc := &Document{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&doc.ID, &doc.OriginalFilename, &doc.ContentType, &doc.Size, &doc.FilePath, &doc.StorageType,
		&doc.Status, &doc.ErrorMessage, &doc.ProcessedAt, &doc.NumberOfChunks,
		&doc.CreatedAt, &doc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return doc, err
}

// List retrieves documents ordered by creation time.
func (r *DocumentRepository) List(ctx context.Context, limit, offset int, order SortOrder) ([]*Document, error) {
	dir := "DESC"
	if order == OrderAsc {
		dir = "ASC"
	}

	query := fmt.Sprintf(`SELECT `+documentColumns+` FROM documents ORDER BY created_at %s, id %s LIMIT $1 OFFSET $2`, dir, dir)
	rows, err := r.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc := &Document{}
		if err := rows.Scan(
			&doc.ID, &doc.OriginalFilename, &doc.ContentType, &doc.Size, &doc.FilePath, &doc.StorageType,
			&doc.Status, &doc.ErrorMessage, &doc.ProcessedAt, &doc.NumberOfChunks,
			&doc.CreatedAt, &doc.UpdatedAt,
		); err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Update applies a partial update to a document. The update must carry at
// least one change; updated_at is bumped alongside.
func (r *DocumentRepository) Update(ctx context.Context, id int64, upd DocumentUpdate) error {
	if upd.IsEmpty() {
		return ErrEmptyUpdate
	}

	sets := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	idx := 1

	if upd.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", idx))
		args = append(args, *upd.Status)
		idx++
	}
	if upd.ProcessedAt != nil {
		sets = append(sets, fmt.Sprintf("processed_at = $%d", idx))
		args = append(args, *upd.ProcessedAt)
		idx++
	}
	if upd.NumberOfChunks != nil {
		sets = append(sets, fmt.Sprintf("number_of_chunks = $%d", idx))
		args = append(args, *upd.NumberOfChunks)
		idx++
	}
	if upd.ErrorMessage != nil {
		sets = append(sets, fmt.Sprintf("error_message = $%d", idx))
		args = append(args, *upd.ErrorMessage)
		idx++
	} else if upd.ClearErrorMessage {
		sets = append(sets, "error_message = NULL")
	}

	sets = append(sets, fmt.Sprintf("updated_at = $%d", idx))
	args = append(args, time.Now().UTC())
	idx++

	args = append(args, id)
	query := fmt.Sprintf("UPDATE documents SET %s WHERE id = $%d", strings.Join(sets, ", "), idx)

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update document %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a document. Its chunks go with it via the foreign key cascade.
func (r *DocumentRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// Claim atomically moves a document from uploaded or error into processing.
// It returns the status the document held before the claim so callers can
// decide whether prior chunks and vectors must be purged. ErrNotClaimable
// means the document is already processing or ready, or a concurrent claim
// won the race; the returned status is the one observed.
func (r *DocumentRepository) Claim(ctx context.Context, id int64) (DocumentStatus, error) {
	doc, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if !doc.Status.Claimable() {
		return doc.Status, fmt.Errorf("%w: document %d is %s", ErrNotClaimable, id, doc.Status)
	}

	result, err := r.db.ExecContext(ctx,
		`UPDATE documents SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		StatusProcessing, time.Now().UTC(), id, doc.Status,
	)
	if err != nil {
		return "", fmt.Errorf("claim document %d: %w", id, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return "", err
	}
	if rows == 0 {
		current, err := r.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return current.Status, fmt.Errorf("%w: document %d moved to %s concurrently", ErrNotClaimable, id, current.Status)
	}
	return doc.Status, nil
}
