package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docsift/docsift/internal/config"
)

// EmbeddingClient calls an OpenAI-compatible /embeddings endpoint, the
// surface exposed by the local embedding server.
type EmbeddingClient struct {
	httpClient *http.Client
	baseURL    string
	model      string
	dimension  int
}

var _ Embedder = (*EmbeddingClient)(nil)

// NewEmbeddingClient builds the client from configuration.
func NewEmbeddingClient(cfg config.EmbeddingConfig) (*EmbeddingClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding endpoint is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dimension)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &EmbeddingClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.Endpoint,
		model:      cfg.Model,
		dimension:  cfg.Dimension,
	}, nil
}

// EmbeddingRequest is the wire request to the embedding server.
type EmbeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

// EmbeddingResponse is the wire response from the embedding server.
type EmbeddingResponse struct {
	Data  []EmbeddingData `json:"data"`
	Model string          `json:"model"`
	Error *APIError       `json:"error,omitempty"`
}

// EmbeddingData holds one embedding vector and its input index.
type EmbeddingData struct {
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

// APIError is the error body returned by the model servers.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// Embed returns one vector per text, in input order.
func (c *EmbeddingClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(EmbeddingRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding request: %v", ErrModel, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read embedding response: %v", ErrModel, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp EmbeddingResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w: embedding server: %s (type %s)", ErrModel, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("%w: embedding server: status %d, body: %s", ErrModel, resp.StatusCode, string(body))
	}

	var embResp EmbeddingResponse
	if err := json.Unmarshal(body, &embResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal embedding response: %v", ErrModel, err)
	}
	if len(embResp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: embedding server returned %d vectors for %d inputs", ErrModel, len(embResp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range embResp.Data {
		if data.Index < 0 || data.Index >= len(embeddings) {
			return nil, fmt.Errorf("%w: embedding index %d out of range", ErrModel, data.Index)
		}
		embeddings[data.Index] = data.Embedding
	}
	return embeddings, nil
}

// Model returns the served model name.
func (c *EmbeddingClient) Model() string {
	return c.model
}

// Dimension returns the configured embedding dimension.
func (c *EmbeddingClient) Dimension() int {
	return c.dimension
}
