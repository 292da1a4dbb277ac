package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/docsift/docsift/internal/observability"
)

// EmbeddingCache memoizes query embeddings. Keys bind the embedding
// model, its instruction, and the dimension, so a model swap or a
// prompt change never serves stale vectors. Lookups fail open: a
// broken cache degrades to re-embedding, never to a failed query.
type EmbeddingCache struct {
	client    Client
	ttl       time.Duration
	dimension int
	scope     string
	logger    *observability.Logger
}

// NewEmbeddingCache wraps client as a query embedding cache scoped to
// one embedding model configuration.
func NewEmbeddingCache(client Client, ttl time.Duration, embeddingModel, instruction string, dimension int, logger *observability.Logger) *EmbeddingCache {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", embeddingModel, instruction, dimension)))
	return &EmbeddingCache{
		client:    client,
		ttl:       ttl,
		dimension: dimension,
		scope:     hex.EncodeToString(sum[:8]),
		logger:    logger.WithComponent("cache"),
	}
}

// Get returns the cached vector for query, or nil on a miss.
func (c *EmbeddingCache) Get(ctx context.Context, query string) []float32 {
	raw, err := c.client.Get(ctx, c.key(query))
	if errors.Is(err, ErrCacheMiss) {
		return nil
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache read failed; treating as miss")
		return nil
	}
	vec, err := decodeVector(raw, c.dimension)
	if err != nil {
		c.logger.Warn().Err(err).Msg("dropping undecodable embedding cache entry")
		return nil
	}
	return vec
}

// Put stores the vector for query. Write failures are logged, not
// returned.
func (c *EmbeddingCache) Put(ctx context.Context, query string, vec []float32) {
	if len(vec) != c.dimension {
		return
	}
	if err := c.client.Set(ctx, c.key(query), encodeVector(vec), c.ttl); err != nil {
		c.logger.Warn().Err(err).Msg("embedding cache write failed")
	}
}

func (c *EmbeddingCache) key(query string) string {
	sum := sha256.Sum256([]byte(query))
	return "emb:" + c.scope + ":" + hex.EncodeToString(sum[:])
}

// encodeVector packs vec as little-endian float32s.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector unpacks an encoded vector, rejecting payloads whose
// length disagrees with the expected dimension.
func decodeVector(raw []byte, dimension int) ([]float32, error) {
	if len(raw) != 4*dimension {
		return nil, fmt.Errorf("cached vector is %d bytes, want %d", len(raw), 4*dimension)
	}
	vec := make([]float32, dimension)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec, nil
}
