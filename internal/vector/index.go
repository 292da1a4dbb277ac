// Package vector provides the dense vector index used for chunk recall.
package vector

import (
	"context"
	"errors"
)

// ErrSchemaMismatch signals a vector whose dimension does not match the
// collection. It is terminal and requires operator intervention.
var ErrSchemaMismatch = errors.New("vector schema mismatch")

// Entry is one point to store: the chunk id, its embedding, and the
// metadata needed for document-scoped deletes.
type Entry struct {
	ChunkID            int64
	Vector             []float32
	SourceDocumentID   int64
	SequenceInDocument int
}

// Hit is one recall candidate returned from a similarity query.
type Hit struct {
	ChunkID            int64
	Score              float32
	SourceDocumentID   int64
	SequenceInDocument int
}

// Index is the narrow adapter over a cosine-similarity vector store.
// Upsert is atomic per call: either all entries land or the call fails.
// Query results are sorted by score descending.
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, k int) ([]Hit, error)
	DeleteByDocument(ctx context.Context, documentID int64) error
	Count(ctx context.Context) (int64, error)
	Close() error
}
