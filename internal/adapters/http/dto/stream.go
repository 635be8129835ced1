package dto

import "github.com/longregen/chattree/internal/domain/models"

// SSE framing for streamed completions.
const (
	SSEDone       = "[DONE]"
	SSEEventError = "error"
)

// StreamErrorEvent is the payload of an SSE "error" event.
type StreamErrorEvent struct {
	Error string `json:"error"`
}

type FrameType string

const (
	FrameChunk FrameType = "chunk"
	FrameDone  FrameType = "done"
	FrameError FrameType = "error"
)

// StreamFrame is one WebSocket message of a continued stream.
type StreamFrame struct {
	Type      FrameType           `json:"type" msgpack:"type"`
	MessageID string              `json:"message_id,omitempty" msgpack:"message_id,omitempty"`
	Chunk     *models.StreamChunk `json:"chunk,omitempty" msgpack:"chunk,omitempty"`
	Error     string              `json:"error,omitempty" msgpack:"error,omitempty"`
}
