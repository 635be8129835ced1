package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/middleware"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const wsWriteTimeout = 10 * time.Second

type StreamsHandler struct {
	streams   ports.StreamUseCase
	upgrader  websocket.Upgrader
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewStreamsHandler(streams ports.StreamUseCase, allowedOrigins []string, heartbeat time.Duration, logger *slog.Logger) *StreamsHandler {
	allowedOriginsMap := make(map[string]bool)
	allowAny := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAny = true
		}
		allowedOriginsMap[origin] = true
	}

	return &StreamsHandler{
		streams: streams,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" || allowAny {
					return true
				}
				return allowedOriginsMap[origin]
			},
		},
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// State handles GET /api/v1/conversations/{id}/stream
func (h *StreamsHandler) State(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	state, err := h.streams.State(r.Context(), middleware.GetWorkspaceID(r.Context()), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}
	respond(w, r, state, http.StatusOK)
}

// Cancel handles POST /api/v1/conversations/{id}/cancel
func (h *StreamsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	if err := h.streams.Cancel(r.Context(), middleware.GetWorkspaceID(r.Context()), id); err != nil {
		respondDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Continue handles GET /api/v1/conversations/{id}/stream/continue. The
// stream replays the generation from its first chunk.
func (h *StreamsHandler) Continue(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	chunks, messageID, err := h.streams.Continue(r.Context(), middleware.GetWorkspaceID(r.Context()), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	w.Header().Set("X-Message-ID", messageID)
	sse, ok := newSSEWriter(w)
	if !ok {
		respondError(w, r, dto.ErrCodeInternal, "Streaming not supported", http.StatusInternalServerError)
		return
	}
	if err := pipeSSE(r.Context(), sse, chunks, h.heartbeat); err != nil {
		h.logger.Debug("continued stream detached", "conversation_id", id, "error", err)
	}
}

// ContinueWS handles GET /api/v1/conversations/{id}/stream/ws, the
// WebSocket form of Continue. Each chunk is one JSON text frame.
func (h *StreamsHandler) ContinueWS(w http.ResponseWriter, r *http.Request) {
	id, ok := validateURLParam(r, w, "id", "Conversation ID")
	if !ok {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	chunks, messageID, err := h.streams.Continue(ctx, middleware.GetWorkspaceID(r.Context()), id)
	if err != nil {
		respondDomainError(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "conversation_id", id, "error", err)
		return
	}
	defer conn.Close()

	// reads only detect the peer going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	if err := h.pipeWS(ctx, conn, messageID, chunks); err != nil {
		h.logger.Debug("websocket stream detached", "conversation_id", id, "error", err)
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(wsWriteTimeout))
}

func (h *StreamsHandler) pipeWS(ctx context.Context, conn *websocket.Conn, messageID string, chunks <-chan models.StreamChunk) error {
	var tick <-chan time.Time
	if h.heartbeat > 0 {
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	write := func(frame dto.StreamFrame) error {
		frame.MessageID = messageID
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(frame)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return err
			}
		case c, ok := <-chunks:
			switch {
			case !ok, c.Done:
				return write(dto.StreamFrame{Type: dto.FrameDone})
			case c.Error != nil:
				return write(dto.StreamFrame{Type: dto.FrameError, Error: c.Error.Error()})
			default:
				chunk := c
				if err := write(dto.StreamFrame{Type: dto.FrameChunk, Chunk: &chunk}); err != nil {
					return err
				}
			}
		}
	}
}
