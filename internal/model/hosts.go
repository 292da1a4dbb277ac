package model

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/observability"
)

// Hosts owns the three model handles. Each handle is a single shared
// resource guarded by its own mutex; callers must never hold two host
// locks at once, so pipelines release one model before calling the
// next.
type Hosts struct {
	Device    Device
	Embedder  *EmbedderHost
	Reranker  *RerankerHost
	Generator *GeneratorHost
}

// NewHosts detects the compute device once, logs it, and wraps the
// model clients in their serializing hosts.
func NewHosts(cfg *config.Config, embedder Embedder, reranker Reranker, generator Generator, logger *observability.Logger) *Hosts {
	device := DetectDevice(cfg.Device.GPUMemoryThresholdGB)
	log := logger.WithComponent("model")
	log.Info().
		Str("device", string(device)).
		Str("embedding_model", embedder.Model()).
		Int("dimension", embedder.Dimension()).
		Msg("model hosts initialized")

	batchSize := cfg.Embedding.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}

	return &Hosts{
		Device: device,
		Embedder: &EmbedderHost{
			embedder:    embedder,
			instruction: cfg.Embedding.Instruction,
			batchSize:   batchSize,
			logger:      log,
		},
		Reranker: &RerankerHost{reranker: reranker},
		Generator: &GeneratorHost{
			generator: generator,
			opts: GenerateOptions{
				MaxNewTokens: cfg.Generator.MaxNewTokens,
				Temperature:  cfg.Generator.Temperature,
				TopP:         cfg.Generator.TopP,
				Stop:         cfg.Generator.Stop,
			},
		},
	}
}

// EmbedderHost serializes access to the embedder and owns the query
// instruction and document batch size.
type EmbedderHost struct {
	mu          sync.Mutex
	embedder    Embedder
	instruction string
	batchSize   int
	logger      *observability.Logger
}

// EmbedQuery embeds one query with the instruction prefix applied.
func (h *EmbedderHost) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	prompt := fmt.Sprintf("Instruct: %s\nQuery: %s", h.instruction, text)

	h.mu.Lock()
	vecs, err := h.embedder.Embed(ctx, []string{prompt})
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 query embedding, got %d", ErrModel, len(vecs))
	}
	if err := h.checkAndNormalize(vecs); err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds texts without any instruction, batch by batch.
// The lock is acquired per batch so concurrent jobs interleave at batch
// granularity instead of starving each other.
func (h *EmbedderHost) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += h.batchSize {
		end := start + h.batchSize
		if end > len(texts) {
			end = len(texts)
		}

		h.mu.Lock()
		vecs, err := h.embedder.Embed(ctx, texts[start:end])
		h.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: batch %d-%d returned %d embeddings", ErrModel, start, end, len(vecs))
		}
		if err := h.checkAndNormalize(vecs); err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// Dimension reports the embedding dimension of the wrapped model.
func (h *EmbedderHost) Dimension() int {
	return h.embedder.Dimension()
}

// checkAndNormalize rejects wrong-dimension vectors and rescales each
// vector to unit norm. Serving stacks normalize already, but the index
// contract requires it, so it is enforced here.
func (h *EmbedderHost) checkAndNormalize(vecs [][]float32) error {
	want := h.embedder.Dimension()
	for i, v := range vecs {
		if len(v) != want {
			return fmt.Errorf("%w: embedding %d has dimension %d, want %d", ErrModel, i, len(v), want)
		}
		normalizeL2(v)
	}
	return nil
}

// normalizeL2 rescales v to unit length in place. A zero vector is left
// untouched.
func normalizeL2(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}

// RerankerHost serializes access to the cross-encoder.
type RerankerHost struct {
	mu       sync.Mutex
	reranker Reranker
}

// Rerank scores passages against the query, one call per query.
func (h *RerankerHost) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reranker.Rerank(ctx, query, passages)
}

// GeneratorHost serializes access to the generator and owns the
// configured sampling parameters.
type GeneratorHost struct {
	mu        sync.Mutex
	generator Generator
	opts      GenerateOptions
}

// Generate produces an answer for the prompt with the configured
// sampling parameters.
func (h *GeneratorHost) Generate(ctx context.Context, prompt string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.generator.Generate(ctx, prompt, h.opts)
}
