package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/longregen/chattree/internal/adapters/metrics"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// StreamCanceller stops an in-flight generation of a conversation.
type StreamCanceller interface {
	Cancel(conversationID string) error
}

type ManageConversation struct {
	conversationRepo ports.ConversationRepository
	messageRepo      ports.MessageRepository
	idGenerator      ports.IDGenerator
	streams          StreamCanceller
	logger           *slog.Logger
}

var _ ports.ConversationUseCase = (*ManageConversation)(nil)

func NewManageConversation(
	conversationRepo ports.ConversationRepository,
	messageRepo ports.MessageRepository,
	idGenerator ports.IDGenerator,
	streams StreamCanceller,
	logger *slog.Logger,
) *ManageConversation {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManageConversation{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		idGenerator:      idGenerator,
		streams:          streams,
		logger:           logger,
	}
}

func (uc *ManageConversation) Create(ctx context.Context, in ports.CreateConversationInput) (*models.Conversation, error) {
	if in.WorkspaceID == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, "workspace id is required")
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = fmt.Sprintf("Conversation %s", time.Now().Format("2006-01-02 15:04"))
	}

	conversation := models.NewConversation(uc.idGenerator.GenerateConversationID(), in.WorkspaceID, title, in.ModelID)
	if err := uc.conversationRepo.Create(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsCreated.Inc()

	uc.logger.Info("conversation created",
		"conversation_id", conversation.ID,
		"workspace_id", conversation.WorkspaceID)
	return conversation, nil
}

func (uc *ManageConversation) List(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	conversations, err := uc.conversationRepo.ListByWorkspace(ctx, workspaceID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return conversations, nil
}

// Get returns a conversation visible to workspaceID. Deleted conversations
// and conversations of other workspaces are reported as not found.
func (uc *ManageConversation) Get(ctx context.Context, workspaceID, conversationID string) (*models.Conversation, error) {
	return loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
}

func (uc *ManageConversation) Update(ctx context.Context, workspaceID, conversationID string, patch models.ConversationPatch) (*models.Conversation, error) {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		trimmed := strings.TrimSpace(*patch.Title)
		if trimmed == "" {
			return nil, domain.NewDomainError(domain.ErrInvalidInput, "title cannot be empty")
		}
		patch.Title = &trimmed
	}
	if err := conversation.Apply(patch); err != nil {
		return nil, domain.NewDomainErrorWithCode(domain.ErrInvalidInput, err.Error(), domain.CodeInvalidTransition)
	}

	if err := uc.conversationRepo.Update(ctx, conversation); err != nil {
		return nil, fmt.Errorf("failed to update conversation: %w", err)
	}
	return conversation, nil
}

// Delete soft-deletes the conversation and stops any generation still
// writing into it.
func (uc *ManageConversation) Delete(ctx context.Context, workspaceID, conversationID string) error {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return err
	}

	if uc.streams != nil {
		if err := uc.streams.Cancel(conversation.ID); err != nil && !errors.Is(err, domain.ErrNoActiveStream) {
			uc.logger.Warn("failed to cancel stream of deleted conversation",
				"conversation_id", conversation.ID, "error", err)
		}
	}

	if err := uc.conversationRepo.Delete(ctx, conversation.ID); err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	uc.logger.Info("conversation deleted", "conversation_id", conversation.ID)
	return nil
}

// ListMessages returns every message of every branch, oldest first.
func (uc *ManageConversation) ListMessages(ctx context.Context, workspaceID, conversationID string) ([]*models.PersistedMessage, error) {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}

	messages, err := uc.messageRepo.GetByConversation(ctx, conversation.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// Siblings returns the alternatives sharing messageID's parent, oldest first.
func (uc *ManageConversation) Siblings(ctx context.Context, workspaceID, messageID string) ([]*models.PersistedMessage, error) {
	msg, err := uc.messageRepo.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := loadConversation(ctx, uc.conversationRepo, workspaceID, msg.ConversationID); err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, err
	}

	siblings, err := uc.messageRepo.GetSiblings(ctx, messageID)
	if err != nil {
		return nil, fmt.Errorf("failed to get siblings: %w", err)
	}
	return siblings, nil
}

func loadConversation(ctx context.Context, repo ports.ConversationRepository, workspaceID, conversationID string) (*models.Conversation, error) {
	conversation, err := repo.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, domain.ErrConversationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	if conversation.WorkspaceID != workspaceID || conversation.Status == models.ConversationStatusDeleted {
		return nil, domain.ErrConversationNotFound
	}
	return conversation, nil
}
