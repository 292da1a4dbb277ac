package model

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/config"
)

func TestEmbeddingClientReordersByIndex(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)

		var req EmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)

		// Deliberately out of order.
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 1, Embedding: []float32{0, 1}},
			{Index: 0, Embedding: []float32{1, 0}},
		}})
	}))
	defer srv.Close()

	c, err := NewEmbeddingClient(config.EmbeddingConfig{
		Endpoint:  srv.URL,
		Model:     "test-embedder",
		Dimension: 2,
		Timeout:   5 * time.Second,
	})
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vecs[0])
	assert.Equal(t, []float32{0, 1}, vecs[1])
}

func TestEmbeddingClientServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(EmbeddingResponse{Error: &APIError{Message: "model overloaded", Type: "server_error"}})
	}))
	defer srv.Close()

	c, err := NewEmbeddingClient(config.EmbeddingConfig{Endpoint: srv.URL, Dimension: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrModel)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestEmbeddingClientCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(EmbeddingResponse{Data: []EmbeddingData{
			{Index: 0, Embedding: []float32{1, 0}},
		}})
	}))
	defer srv.Close()

	c, err := NewEmbeddingClient(config.EmbeddingConfig{Endpoint: srv.URL, Dimension: 2})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrModel)
}

func TestEmbeddingClientEmptyInput(t *testing.T) {
	c, err := NewEmbeddingClient(config.EmbeddingConfig{Endpoint: "http://unused", Dimension: 2})
	require.NoError(t, err)

	vecs, err := c.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, vecs)
}

func TestRerankerClientRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rerank", r.URL.Path)

		var req RerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "which passage answers this", req.Instruction)
		assert.Equal(t, "why is the sky blue", req.Query)
		assert.Len(t, req.Texts, 2)

		json.NewEncoder(w).Encode(RerankResponse{Scores: []float64{0.91, 0.08}})
	}))
	defer srv.Close()

	c, err := NewRerankerClient(config.RerankerConfig{
		Endpoint:    srv.URL,
		Model:       "test-reranker",
		Instruction: "which passage answers this",
	})
	require.NoError(t, err)

	scores, err := c.Rerank(context.Background(), "why is the sky blue", []string{"rayleigh scattering", "pasta recipes"})
	require.NoError(t, err)
	assert.Equal(t, []float64{0.91, 0.08}, scores)
}

func TestRerankerClientScoreCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(RerankResponse{Scores: []float64{0.5}})
	}))
	defer srv.Close()

	c, err := NewRerankerClient(config.RerankerConfig{Endpoint: srv.URL})
	require.NoError(t, err)

	_, err = c.Rerank(context.Background(), "q", []string{"a", "b"})
	assert.ErrorIs(t, err, ErrModel)
}
