package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/parser"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// IngestPublisher enqueues ingestion jobs for uploaded documents.
type IngestPublisher interface {
	PublishIngest(ctx context.Context, documentID int64) error
}

// DocumentsHandler serves the document upload and management routes.
type DocumentsHandler struct {
	logger    *observability.Logger
	repos     *storage.Repositories
	blobs     blob.Store
	index     vector.Index
	publisher IngestPublisher
}

// NewDocumentsHandler creates the documents handler.
func NewDocumentsHandler(
	logger *observability.Logger,
	repos *storage.Repositories,
	blobs blob.Store,
	index vector.Index,
	publisher IngestPublisher,
) *DocumentsHandler {
	return &DocumentsHandler{
		logger:    logger.WithComponent("api"),
		repos:     repos,
		blobs:     blobs,
		index:     index,
		publisher: publisher,
	}
}

// ListDocumentsResponse is the GET /documents payload.
type ListDocumentsResponse struct {
	Documents []*storage.Document `json:"documents"`
	Limit     int                 `json:"limit"`
	Offset    int                 `json:"offset"`
}

// Upload handles POST /documents: store the raw bytes, create the
// record, and enqueue the ingestion job. If the job cannot be enqueued
// the upload is rolled back so a retry starts clean.
func (h *DocumentsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("read upload: %v", err))
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "uploaded file is empty")
		return
	}

	// Multipart writers that do not know the media type send
	// application/octet-stream; recover the real type from the
	// extension so such uploads stay ingestible.
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		if byExt := parser.TypeByFilename(header.Filename); byExt != "" {
			contentType = byExt
		} else if contentType == "" {
			contentType = "application/octet-stream"
		}
	}

	key := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	if err := h.blobs.Save(ctx, key, data, contentType); err != nil {
		h.logger.Error().Err(err).Str("key", key).Msg("blob save failed")
		writeError(w, http.StatusServiceUnavailable, "blob store unavailable")
		return
	}

	doc := &storage.Document{
		OriginalFilename: header.Filename,
		ContentType:      contentType,
		Size:             int64(len(data)),
		FilePath:         key,
		StorageType:      h.blobs.Kind(),
	}
	if err := h.repos.Documents.Create(ctx, doc); err != nil {
		h.discardBlob(ctx, key)
		writeError(w, errorStatus(err), err.Error())
		return
	}

	if err := h.publisher.PublishIngest(ctx, doc.ID); err != nil {
		h.logger.Error().Err(err).Int64("document_id", doc.ID).Msg("enqueue failed; rolling back upload")
		if derr := h.repos.Documents.Delete(ctx, doc.ID); derr != nil {
			h.logger.Error().Err(derr).Int64("document_id", doc.ID).Msg("rollback of document record failed")
		}
		h.discardBlob(ctx, key)
		writeError(w, http.StatusServiceUnavailable, "task queue unavailable")
		return
	}

	h.logger.Info().
		Int64("document_id", doc.ID).
		Str("filename", doc.OriginalFilename).
		Int64("size", doc.Size).
		Msg("document uploaded")
	writeJSON(w, http.StatusCreated, doc)
}

// List handles GET /documents with limit/offset/order query params.
func (h *DocumentsHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	var order storage.SortOrder
	switch r.URL.Query().Get("order") {
	case "", "created_at_desc":
		order = storage.OrderDesc
	case "created_at_asc":
		order = storage.OrderAsc
	default:
		writeError(w, http.StatusBadRequest, "order must be created_at_desc or created_at_asc")
		return
	}

	docs, err := h.repos.Documents.List(r.Context(), limit, offset, order)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if docs == nil {
		docs = []*storage.Document{}
	}
	writeJSON(w, http.StatusOK, ListDocumentsResponse{Documents: docs, Limit: limit, Offset: offset})
}

// Get handles GET /documents/{documentID}.
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}
	doc, err := h.repos.Documents.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// Delete handles DELETE /documents/{documentID}: vectors first, then
// the blob (best-effort), then the record, which cascades the chunks.
func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.repos.Documents.GetByID(ctx, id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	if err := h.index.DeleteByDocument(ctx, id); err != nil {
		h.logger.Error().Err(err).Int64("document_id", id).Msg("vector purge failed")
		writeError(w, http.StatusServiceUnavailable, "vector index unavailable")
		return
	}
	h.discardBlob(ctx, doc.FilePath)
	if err := h.repos.Documents.Delete(ctx, id); err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}

	h.logger.Info().Int64("document_id", id).Msg("document deleted")
	w.WriteHeader(http.StatusNoContent)
}

// Download handles GET /documents/{documentID}/download. Only locally
// stored blobs are served by the API; S3 deployments front the bucket
// directly.
func (h *DocumentsHandler) Download(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, ok := h.documentID(w, r)
	if !ok {
		return
	}

	doc, err := h.repos.Documents.GetByID(ctx, id)
	if err != nil {
		writeError(w, errorStatus(err), err.Error())
		return
	}
	if doc.StorageType != storage.StorageLocal {
		writeError(w, http.StatusBadRequest, "download is only available for locally stored documents")
		return
	}

	data, err := h.blobs.Fetch(ctx, doc.FilePath)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			writeError(w, http.StatusNotFound, "stored file is missing")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename})
	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Content-Type", doc.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (h *DocumentsHandler) documentID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "documentID"), 10, 64)
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "document id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (h *DocumentsHandler) discardBlob(ctx context.Context, key string) {
	if err := h.blobs.Delete(ctx, key); err != nil {
		h.logger.Warn().Err(err).Str("key", key).Msg("blob delete failed")
	}
}
