package ports

import (
	"context"

	"github.com/longregen/chattree/internal/domain/models"
)

// ConversationRepository defines operations for conversation persistence
type ConversationRepository interface {
	Create(ctx context.Context, conversation *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, conversation *models.Conversation) error
	UpdateTip(ctx context.Context, conversationID, messageID string) error
	Delete(ctx context.Context, id string) error
	ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error)
}

// MessageRepository defines operations for message persistence
type MessageRepository interface {
	Create(ctx context.Context, message *models.PersistedMessage) error
	GetByID(ctx context.Context, id string) (*models.PersistedMessage, error)
	GetByConversation(ctx context.Context, conversationID string) ([]*models.PersistedMessage, error)
	// GetChain returns the path from the root to messageID, root first.
	GetChain(ctx context.Context, messageID string) ([]*models.PersistedMessage, error)
	GetSiblings(ctx context.Context, messageID string) ([]*models.PersistedMessage, error)
	UpdateParts(ctx context.Context, id string, parts []models.PersistedPart, status models.PersistedStatus) error
	// MarkStreamingAsError fails every message left in streaming state and
	// returns how many were updated.
	MarkStreamingAsError(ctx context.Context) (int64, error)
}

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction executes a function within a database transaction
	// If the function returns an error, the transaction is rolled back
	// Otherwise, the transaction is committed
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// IDGenerator generates prefixed identifiers
type IDGenerator interface {
	GenerateConversationID() string
	GenerateMessageID() string
	GenerateToolCallID() string
}
