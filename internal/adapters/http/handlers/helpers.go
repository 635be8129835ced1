package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/encoding"
	"github.com/longregen/chattree/internal/domain"
)

const maxBodyBytes = 1 << 20

// respond writes data as JSON or MessagePack depending on Accept.
func respond(w http.ResponseWriter, r *http.Request, data any, status int) {
	if err := encoding.Write(w, r, status, data); err != nil {
		slog.Debug("failed to write response", "path", r.URL.Path, "error", err)
	}
}

// respondError writes an error response with the given code and status.
func respondError(w http.ResponseWriter, r *http.Request, errorType string, message string, status int) {
	respond(w, r, dto.NewErrorResponse(errorType, message, status), status)
}

// respondDomainError maps domain errors onto HTTP statuses. Unknown errors
// are logged and reported without detail. A DomainError in the chain
// supplies the client-facing code and message.
func respondDomainError(w http.ResponseWriter, r *http.Request, err error) {
	errorType, status := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		respondError(w, r, errorType, "Internal server error", status)
		return
	}

	message := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) {
		if de.Code != "" {
			errorType = de.Code
		}
		if de.Message != "" {
			message = de.Message
		}
	}
	respondError(w, r, errorType, message, status)
}

func classify(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrParentNotFound):
		return dto.ErrCodeParentNotFound, http.StatusNotFound
	case errors.Is(err, domain.ErrConversationNotFound),
		errors.Is(err, domain.ErrMessageNotFound),
		errors.Is(err, domain.ErrNotFound):
		return dto.ErrCodeNotFound, http.StatusNotFound
	case errors.Is(err, domain.ErrNoActiveStream):
		return dto.ErrCodeNoActiveStream, http.StatusNotFound
	case errors.Is(err, domain.ErrStreamInProgress):
		return dto.ErrCodeStreamInProgress, http.StatusConflict
	case errors.Is(err, domain.ErrDuplicateMessage):
		return dto.ErrCodeDuplicateMessage, http.StatusConflict
	case errors.Is(err, domain.ErrConversationArchived),
		errors.Is(err, domain.ErrConversationDeleted):
		return dto.ErrCodeConversationInactive, http.StatusConflict
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrEmptyContent),
		errors.Is(err, domain.ErrNotEditable),
		errors.Is(err, domain.ErrNotRegenerable),
		errors.Is(err, domain.ErrNoMessageToReplace):
		return dto.ErrCodeInvalidRequest, http.StatusBadRequest
	case errors.Is(err, domain.ErrLLMUnavailable):
		return dto.ErrCodeUpstreamUnavailable, http.StatusServiceUnavailable
	default:
		return dto.ErrCodeInternal, http.StatusInternalServerError
	}
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(r *http.Request, name string, defaultValue int) int {
	value := r.URL.Query().Get(name)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intValue
}

// validateURLParam validates and returns a URL parameter
func validateURLParam(r *http.Request, w http.ResponseWriter, paramName, errorField string) (string, bool) {
	value := chi.URLParam(r, paramName)
	if value == "" {
		respondError(w, r, dto.ErrCodeInvalidRequest, errorField+" is required", http.StatusBadRequest)
		return "", false
	}
	return value, true
}

// decodeBody decodes a JSON or MessagePack request body.
func decodeBody[T any](r *http.Request, w http.ResponseWriter) (*T, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req T
	if err := encoding.Decode(r, &req); err != nil {
		respondError(w, r, dto.ErrCodeInvalidRequest, "Invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return &req, true
}
