package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kalambet/askpdf/internal/chunker"
	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/retrieval"
	"github.com/kalambet/askpdf/internal/session"
	"github.com/kalambet/askpdf/internal/storage"
)

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

// errorStatus maps a pipeline or conversation failure to an HTTP status and
// error type.
func errorStatus(err error) (int, string) {
	var (
		extractErr *extract.ExtractionError
		chunkErr   *chunker.ConfigError
		indexErr   *retrieval.IndexUnavailableError
		embedErr   *retrieval.EmbeddingError
		genErr     *conversation.GenerationError
	)
	switch {
	case errors.As(err, &extractErr):
		return http.StatusUnprocessableEntity, "extraction_error"
	case errors.As(err, &chunkErr):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, retrieval.ErrDimensionMismatch):
		return http.StatusConflict, "dimension_mismatch"
	case errors.As(err, &indexErr):
		return http.StatusServiceUnavailable, "index_unavailable"
	case errors.As(err, &embedErr):
		return http.StatusBadGateway, "embedding_error"
	case errors.As(err, &genErr):
		if genErr.Retryable {
			return http.StatusGatewayTimeout, "generation_error"
		}
		return http.StatusBadGateway, "generation_error"
	case errors.Is(err, conversation.ErrNotInitialized):
		return http.StatusConflict, "not_initialized"
	case errors.Is(err, session.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, session.ErrEmptyIndex), errors.Is(err, retrieval.ErrIndexNotFound):
		// A dropped index means the session must upload again.
		return http.StatusConflict, "not_initialized"
	}
	return http.StatusInternalServerError, "api_error"
}

func writeError(w http.ResponseWriter, err error) {
	code, errType := errorStatus(err)
	httpError(w, code, errType, "%v", err)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
