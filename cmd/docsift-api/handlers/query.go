package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/retrieval"
)

// QueryHandler serves the retrieval and question-answering routes.
type QueryHandler struct {
	logger    *observability.Logger
	retrieval *retrieval.Pipeline
}

// NewQueryHandler creates the query handler.
func NewQueryHandler(logger *observability.Logger, pipeline *retrieval.Pipeline) *QueryHandler {
	return &QueryHandler{
		logger:    logger.WithComponent("api"),
		retrieval: pipeline,
	}
}

// RetrieveChunksRequest is the POST /query/retrieve-chunks payload.
type RetrieveChunksRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

// RetrievedChunkDTO is one scored chunk in the retrieve-chunks response.
type RetrievedChunkDTO struct {
	ID         int64   `json:"id"`
	DocumentID int64   `json:"document_id"`
	Text       string  `json:"text"`
	Sequence   int     `json:"sequence"`
	Score      float64 `json:"score"`
}

// RetrieveChunks handles POST /query/retrieve-chunks, exposing the
// reranked candidates without running the generator.
func (h *QueryHandler) RetrieveChunks(w http.ResponseWriter, r *http.Request) {
	var req RetrieveChunksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	chunks, err := h.retrieval.RetrieveChunks(r.Context(), req.Query, req.TopK)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	out := make([]RetrievedChunkDTO, len(chunks))
	for i, sc := range chunks {
		out[i] = RetrievedChunkDTO{
			ID:         sc.Chunk.ID,
			DocumentID: sc.Chunk.SourceDocumentID,
			Text:       sc.Chunk.ChunkText,
			Sequence:   sc.Chunk.SequenceInDocument,
			Score:      sc.Score,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

// AskRequest is the POST /query/ask payload.
type AskRequest struct {
	Query string `json:"query"`
}

// AskResponse is the POST /query/ask result.
type AskResponse struct {
	Query                 string   `json:"query"`
	Answer                string   `json:"answer"`
	RetrievedContextTexts []string `json:"retrieved_context_texts"`
}

// Ask handles POST /query/ask, the full question-answering flow.
func (h *QueryHandler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ans, err := h.retrieval.Ask(r.Context(), req.Query)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	texts := make([]string, len(ans.Chunks))
	for i, sc := range ans.Chunks {
		texts[i] = sc.Chunk.ChunkText
	}
	writeJSON(w, http.StatusOK, AskResponse{
		Query:                 ans.Query,
		Answer:                ans.Answer,
		RetrievedContextTexts: texts,
	})
}
