// Package storage provides database models and repositories for docsift.
package storage

import (
	"encoding/json"
	"time"
)

// DocumentStatus represents the lifecycle state of an uploaded document.
type DocumentStatus string

// Document statuses
const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusReady      DocumentStatus = "ready"
	StatusError      DocumentStatus = "error"
)

// Claimable reports whether a worker may take the document for processing.
func (s DocumentStatus) Claimable() bool {
	return s == StatusUploaded || s == StatusError
}

// StorageType identifies where the raw document bytes live.
type StorageType string

// Storage types
const (
	StorageLocal StorageType = "local"
	StorageS3    StorageType = "s3"
)

// Document represents one uploaded source document.
type Document struct {
	ID               int64          `json:"id" db:"id"`
	OriginalFilename string         `json:"original_filename" db:"original_filename"`
	ContentType      string         `json:"content_type" db:"content_type"`
	Size             int64          `json:"size" db:"size"`
	FilePath         string         `json:"file_path" db:"file_path"`
	StorageType      StorageType    `json:"storage_type" db:"storage_type"`
	Status           DocumentStatus `json:"status" db:"status"`
	ErrorMessage     *string        `json:"error_message,omitempty" db:"error_message"`
	ProcessedAt      *time.Time     `json:"processed_at,omitempty" db:"processed_at"`
	NumberOfChunks   *int           `json:"number_of_chunks,omitempty" db:"number_of_chunks"`
	CreatedAt        time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at" db:"updated_at"`
}

// Chunk represents one contiguous span of a document's normalized text.
type Chunk struct {
	ID                 int64           `json:"id" db:"id"`
	SourceDocumentID   int64           `json:"source_document_id" db:"source_document_id"`
	ChunkText          string          `json:"chunk_text" db:"chunk_text"`
	SequenceInDocument int             `json:"sequence_in_document" db:"sequence_in_document"`
	Metadata           json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt          time.Time       `json:"created_at" db:"created_at"`
}

// DocumentUpdate describes a partial update to a document record.
// Nil fields are left untouched. ClearErrorMessage resets error_message
// to NULL and is only applied when ErrorMessage is nil.
type DocumentUpdate struct {
	Status            *DocumentStatus
	ProcessedAt       *time.Time
	NumberOfChunks    *int
	ErrorMessage      *string
	ClearErrorMessage bool
}

// IsEmpty reports whether the update would change nothing.
func (u DocumentUpdate) IsEmpty() bool {
	return u.Status == nil && u.ProcessedAt == nil && u.NumberOfChunks == nil &&
		u.ErrorMessage == nil && !u.ClearErrorMessage
}

// SortOrder controls list ordering by creation time.
type SortOrder string

// Sort orders
const (
	OrderDesc SortOrder = "desc"
	OrderAsc  SortOrder = "asc"
)
