package vector

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/observability"
)

// QdrantIndex stores chunk vectors in a Qdrant collection over gRPC.
type QdrantIndex struct {
	client     *qdrant.Client
	collection string
	dimension  int
	logger     *observability.Logger
}

var _ Index = (*QdrantIndex)(nil)

// NewQdrantIndex connects to Qdrant and ensures the collection exists with
// the configured dimension and cosine distance. An existing collection with
// a different dimension fails with ErrSchemaMismatch.
func NewQdrantIndex(ctx context.Context, cfg config.VectorConfig, dimension int, logger *observability.Logger) (*QdrantIndex, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: cfg.Qdrant.Host,
		Port: cfg.Qdrant.Port,
	})
	if err != nil {
		return nil, fmt.Errorf("connect qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
	}

	idx := &QdrantIndex{
		client:     client,
		collection: cfg.Collection,
		dimension:  dimension,
		logger:     logger.WithComponent("vector"),
	}
	if err := idx.ensureCollection(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return idx, nil
}

func (i *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := i.client.CollectionExists(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", i.collection, err)
	}

	if !exists {
		err := i.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: i.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(i.dimension),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("create collection %s: %w", i.collection, err)
		}
		i.logger.Info().
			Str("collection", i.collection).
			Int("dimension", i.dimension).
			Msg("Created vector collection")
		return nil
	}

	info, err := i.client.GetCollectionInfo(ctx, i.collection)
	if err != nil {
		return fmt.Errorf("inspect collection %s: %w", i.collection, err)
	}
	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params != nil && params.GetSize() != uint64(i.dimension) {
		return fmt.Errorf("%w: collection %s has dimension %d, configured %d",
			ErrSchemaMismatch, i.collection, params.GetSize(), i.dimension)
	}
	return nil
}

// Upsert writes all entries in one call. Qdrant applies the batch as a unit,
// so a failure leaves no partial state visible to queries.
func (i *QdrantIndex) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(entries))
	for _, e := range entries {
		if len(e.Vector) != i.dimension {
			return fmt.Errorf("%w: entry for chunk %d has dimension %d, collection %s expects %d",
				ErrSchemaMismatch, e.ChunkID, len(e.Vector), i.collection, i.dimension)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(e.ChunkID)),
			Vectors: qdrant.NewVectors(e.Vector...),
			Payload: qdrant.NewValueMap(map[string]any{
				"source_document_id":   e.SourceDocumentID,
				"sequence_in_document": int64(e.SequenceInDocument),
			}),
		})
	}

	_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: i.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("upsert %d points into %s: %w", len(points), i.collection, err)
	}
	return nil
}

// Query returns the k nearest points by cosine similarity, best first.
func (i *QdrantIndex) Query(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	if len(vector) != i.dimension {
		return nil, fmt.Errorf("%w: query vector has dimension %d, collection %s expects %d",
			ErrSchemaMismatch, len(vector), i.collection, i.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	points, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: i.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(k)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", i.collection, err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		hit := Hit{
			ChunkID: int64(p.GetId().GetNum()),
			Score:   p.GetScore(),
		}
		if payload := p.GetPayload(); payload != nil {
			if v, ok := payload["source_document_id"]; ok {
				hit.SourceDocumentID = v.GetIntegerValue()
			}
			if v, ok := payload["sequence_in_document"]; ok {
				hit.SequenceInDocument = int(v.GetIntegerValue())
			}
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// DeleteByDocument removes every point whose payload names the document.
func (i *QdrantIndex) DeleteByDocument(ctx context.Context, documentID int64) error {
	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: i.collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("source_document_id", documentID),
			},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("delete vectors of document %d: %w", documentID, err)
	}
	return nil
}

// Count reports the number of points in the collection. It doubles as
// the health probe for the index.
func (i *QdrantIndex) Count(ctx context.Context) (int64, error) {
	n, err := i.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: i.collection,
	})
	if err != nil {
		return 0, fmt.Errorf("count points in %s: %w", i.collection, err)
	}
	return int64(n), nil
}

// Close releases the underlying gRPC connection.
func (i *QdrantIndex) Close() error {
	return i.client.Close()
}
