// Package handlers provides the HTTP handlers for the docsift API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/retrieval"
	"github.com/docsift/docsift/internal/storage"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// errorStatus maps service errors onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, retrieval.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
