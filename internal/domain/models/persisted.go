package models

import "time"

// PersistedStatus is the backend's view of a message's generation state.
type PersistedStatus string

const (
	PersistedStatusPending   PersistedStatus = "pending"
	PersistedStatusStreaming PersistedStatus = "streaming"
	PersistedStatusCompleted PersistedStatus = "completed"
	PersistedStatusError     PersistedStatus = "error"
)

type PersistedPartType string

const (
	PersistedPartText       PersistedPartType = "text"
	PersistedPartReasoning  PersistedPartType = "reasoning"
	PersistedPartToolCall   PersistedPartType = "tool_call"
	PersistedPartToolResult PersistedPartType = "tool_result"
	PersistedPartImageURL   PersistedPartType = "image_url"
	PersistedPartAudioURL   PersistedPartType = "audio_url"
	PersistedPartVideoURL   PersistedPartType = "video_url"
	PersistedPartFileURL    PersistedPartType = "file_url"
)

// PersistedPart is the storage and wire shape of one content segment.
type PersistedPart struct {
	Type       PersistedPartType `json:"type" msgpack:"type"`
	Text       string            `json:"text,omitempty" msgpack:"text,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty" msgpack:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty" msgpack:"tool_name,omitempty"`
	Arguments  string            `json:"arguments,omitempty" msgpack:"arguments,omitempty"`
	URL        string            `json:"url,omitempty" msgpack:"url,omitempty"`
	MimeType   string            `json:"mime_type,omitempty" msgpack:"mime_type,omitempty"`
	Filename   string            `json:"filename,omitempty" msgpack:"filename,omitempty"`
}

// PersistedMessage is a message as stored by the backend.
type PersistedMessage struct {
	ID             string          `json:"id" msgpack:"id"`
	ConversationID string          `json:"conversation_id" msgpack:"conversation_id"`
	ParentID       *string         `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	Role           MessageRole     `json:"role" msgpack:"role"`
	Parts          []PersistedPart `json:"parts" msgpack:"parts"`
	Status         PersistedStatus `json:"status" msgpack:"status"`
	CreatedAt      time.Time       `json:"created_at" msgpack:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" msgpack:"updated_at"`
}

func NewPersistedMessage(id, conversationID string, parentID *string, role MessageRole, parts []PersistedPart, status PersistedStatus) *PersistedMessage {
	now := time.Now().UTC()
	return &PersistedMessage{
		ID:             id,
		ConversationID: conversationID,
		ParentID:       parentID,
		Role:           role,
		Parts:          parts,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// TextParts wraps plain text as a single persisted text part.
func TextParts(text string) []PersistedPart {
	return []PersistedPart{{Type: PersistedPartText, Text: text}}
}

// PlainText concatenates the text parts.
func (m *PersistedMessage) PlainText() string {
	var out string
	for _, p := range m.Parts {
		if p.Type == PersistedPartText {
			out += p.Text
		}
	}
	return out
}
