// Package model wraps the three served models behind small contracts:
// a dense embedder, a cross-encoder reranker, and an answer generator.
package model

import (
	"context"
	"errors"
)

// ErrModel marks failures from the model serving layer. Callers treat
// these as transient unless wrapped otherwise.
var ErrModel = errors.New("model failure")

// Embedder produces dense vectors for texts. Implementations return one
// vector per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	Model() string
}

// Reranker scores (query, passage) pairs. Scores are in [0, 1], one per
// passage, in passage order; higher means more relevant.
type Reranker interface {
	Rerank(ctx context.Context, query string, passages []string) ([]float64, error)
}

// GenerateOptions carries the sampling parameters for one generation.
type GenerateOptions struct {
	MaxNewTokens int
	Temperature  float32
	TopP         float32
	Stop         []string
}

// Generator produces an answer for a prompt. The returned text never
// echoes the prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
