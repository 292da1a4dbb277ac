package vector

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Index for development and tests. It computes
// exact cosine similarity over all stored points.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	points    map[int64]memoryPoint
}

type memoryPoint struct {
	vector             []float32
	sourceDocumentID   int64
	sequenceInDocument int
}

var _ Index = (*MemoryIndex)(nil)

// NewMemoryIndex creates an empty in-memory index of the given dimension.
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{
		dimension: dimension,
		points:    make(map[int64]memoryPoint),
	}
}

// Upsert validates every entry before touching state so a failed call
// leaves the index unchanged.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if len(e.Vector) != m.dimension {
			return fmt.Errorf("%w: entry for chunk %d has dimension %d, index expects %d",
				ErrSchemaMismatch, e.ChunkID, len(e.Vector), m.dimension)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		m.points[e.ChunkID] = memoryPoint{
			vector:             vec,
			sourceDocumentID:   e.SourceDocumentID,
			sequenceInDocument: e.SequenceInDocument,
		}
	}
	return nil
}

// Query scores all points against the vector and returns the top k,
// sorted by score descending with ties broken by chunk id.
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, index expects %d",
			ErrSchemaMismatch, len(vector), m.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	m.mu.RLock()
	hits := make([]Hit, 0, len(m.points))
	for id, p := range m.points {
		hits = append(hits, Hit{
			ChunkID:            id,
			Score:              cosine(vector, p.vector),
			SourceDocumentID:   p.sourceDocumentID,
			SequenceInDocument: p.sequenceInDocument,
		})
	}
	m.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteByDocument drops all points belonging to the document.
func (m *MemoryIndex) DeleteByDocument(ctx context.Context, documentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if p.sourceDocumentID == documentID {
			delete(m.points, id)
		}
	}
	return nil
}

// Count reports the number of stored points.
func (m *MemoryIndex) Count(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.points)), nil
}

// Close is a no-op for the in-memory index.
func (m *MemoryIndex) Close() error {
	return nil
}

// Len reports the number of stored points.
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

func cosine(a, b []float32) float32 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
