package ports

import (
	"context"

	"github.com/longregen/chattree/internal/domain/models"
)

// CompletionStream is a started generation. Chunks replays the generation
// from its first delta and closes after the terminal chunk.
type CompletionStream struct {
	UserMessage      *models.PersistedMessage
	AssistantMessage *models.PersistedMessage
	Chunks           <-chan models.StreamChunk
}

type ConversationUseCase interface {
	Create(ctx context.Context, in CreateConversationInput) (*models.Conversation, error)
	List(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error)
	Get(ctx context.Context, workspaceID, conversationID string) (*models.Conversation, error)
	Update(ctx context.Context, workspaceID, conversationID string, patch models.ConversationPatch) (*models.Conversation, error)
	Delete(ctx context.Context, workspaceID, conversationID string) error
	ListMessages(ctx context.Context, workspaceID, conversationID string) ([]*models.PersistedMessage, error)
	Siblings(ctx context.Context, workspaceID, messageID string) ([]*models.PersistedMessage, error)
}

type StartCompletionUseCase interface {
	Execute(ctx context.Context, workspaceID string, req CompletionRequest) (*CompletionStream, error)
}

type StreamUseCase interface {
	State(ctx context.Context, workspaceID, conversationID string) (*models.StreamState, error)
	Continue(ctx context.Context, workspaceID, conversationID string) (<-chan models.StreamChunk, string, error)
	Cancel(ctx context.Context, workspaceID, conversationID string) error
}
