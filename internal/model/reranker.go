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

// RerankerClient calls the cross-encoder scoring endpoint. The server
// reports the probability that a passage answers the query, one score
// in [0, 1] per passage.
type RerankerClient struct {
	httpClient  *http.Client
	baseURL     string
	model       string
	instruction string
}

var _ Reranker = (*RerankerClient)(nil)

// NewRerankerClient builds the client from configuration.
func NewRerankerClient(cfg config.RerankerConfig) (*RerankerClient, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("reranker endpoint is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RerankerClient{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     cfg.Endpoint,
		model:       cfg.Model,
		instruction: cfg.Instruction,
	}, nil
}

// RerankRequest is the wire request to the reranker server.
type RerankRequest struct {
	Model       string   `json:"model"`
	Query       string   `json:"query"`
	Texts       []string `json:"texts"`
	Instruction string   `json:"instruction,omitempty"`
}

// RerankResponse is the wire response from the reranker server.
type RerankResponse struct {
	Scores []float64 `json:"scores"`
	Error  *APIError `json:"error,omitempty"`
}

// Rerank scores each passage against the query, preserving passage order.
func (c *RerankerClient) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	jsonBody, err := json.Marshal(RerankRequest{
		Model:       c.model,
		Query:       query,
		Texts:       passages,
		Instruction: c.instruction,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rerank", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank request: %v", ErrModel, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read rerank response: %v", ErrModel, err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp RerankResponse
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error != nil {
			return nil, fmt.Errorf("%w: reranker server: %s (type %s)", ErrModel, errResp.Error.Message, errResp.Error.Type)
		}
		return nil, fmt.Errorf("%w: reranker server: status %d, body: %s", ErrModel, resp.StatusCode, string(body))
	}

	var rrResp RerankResponse
	if err := json.Unmarshal(body, &rrResp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal rerank response: %v", ErrModel, err)
	}
	if len(rrResp.Scores) != len(passages) {
		return nil, fmt.Errorf("%w: reranker returned %d scores for %d passages", ErrModel, len(rrResp.Scores), len(passages))
	}
	return rrResp.Scores, nil
}
