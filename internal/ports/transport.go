package ports

import (
	"context"

	"github.com/longregen/chattree/internal/domain/models"
)

// CreateConversationInput provisions a conversation on first send.
type CreateConversationInput struct {
	WorkspaceID string `json:"workspace_id" msgpack:"workspace_id"`
	Title       string `json:"title" msgpack:"title"`
	ModelID     string `json:"model_id,omitempty" msgpack:"model_id,omitempty"`
}

// CompletionRequest starts a generation. UserMessageID and AssistantMessageID
// carry the ids the caller already inserted optimistically so the backend
// persists the same tree the client displays.
type CompletionRequest struct {
	ConversationID     string                  `json:"conversation_id" msgpack:"conversation_id"`
	Model              string                  `json:"model,omitempty" msgpack:"model,omitempty"`
	Messages           []models.InputMessage   `json:"messages" msgpack:"messages"`
	Action             models.CompletionAction `json:"action,omitempty" msgpack:"action,omitempty"`
	SourceMessageID    string                  `json:"source_message_id,omitempty" msgpack:"source_message_id,omitempty"`
	ParentID           *string                 `json:"parent_id,omitempty" msgpack:"parent_id,omitempty"`
	UserMessageID      string                  `json:"user_message_id,omitempty" msgpack:"user_message_id,omitempty"`
	AssistantMessageID string                  `json:"assistant_message_id,omitempty" msgpack:"assistant_message_id,omitempty"`
}

// ChatTransport is the backend a thread session talks to.
//
// Streams are delivered as channels that are closed by the producer after a
// chunk with Done or Error set, or when ctx is cancelled.
type ChatTransport interface {
	CreateConversation(ctx context.Context, in CreateConversationInput) (*models.Conversation, error)
	ListConversations(ctx context.Context, workspaceID string) ([]*models.Conversation, error)
	GetMessages(ctx context.Context, conversationID string) ([]*models.PersistedMessage, error)
	ChatCompletionStream(ctx context.Context, req CompletionRequest) (<-chan models.StreamChunk, error)
	CancelStream(ctx context.Context, conversationID string) error
	GetStreamState(ctx context.Context, conversationID string) (*models.StreamState, error)
	ContinueStream(ctx context.Context, conversationID string) (<-chan models.StreamChunk, error)
	UpdateConversation(ctx context.Context, conversationID string, patch models.ConversationPatch) (*models.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID string) error
}
