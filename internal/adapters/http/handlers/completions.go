package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/ports"
)

type CompletionsHandler struct {
	completions ports.StartCompletionUseCase
	heartbeat   time.Duration
	logger      *slog.Logger
}

func NewCompletionsHandler(completions ports.StartCompletionUseCase, heartbeat time.Duration, logger *slog.Logger) *CompletionsHandler {
	return &CompletionsHandler{completions: completions, heartbeat: heartbeat, logger: logger}
}

// Create handles POST /api/v1/conversations/{id}/completions. Validation
// failures are returned as plain error responses; once the generation has
// started the response is an SSE stream. A client that disconnects does
// not stop the generation.
func (h *CompletionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}
	req, ok := decodeBody[ports.CompletionRequest](r, w)
	if !ok {
		return
	}
	req.ConversationID = id

	started, err := h.completions.Execute(r.Context(), middleware.GetWorkspaceID(r.Context()), *req)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("X-Message-ID", started.AssistantMessage.ID)
	if started.UserMessage != nil {
		w.Header().Set("X-User-Message-ID", started.UserMessage.ID)
	}
	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, r, dto.ErrCodeInternal, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	if err := pipeSSE(r.Context(), sse, started.Chunks, h.heartbeat); err != nil {
		h.logger.Debug("completion stream detached",
			"conversation_id", id,
			"message_id", started.AssistantMessage.ID,
			"error", err)
	}
}
