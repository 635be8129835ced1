package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/longregen/chattree/internal/application/streaming"
	"github.com/longregen/chattree/internal/application/thread"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

// ManageStream lets clients inspect, reattach to and stop the generation
// of a conversation.
type ManageStream struct {
	conversationRepo ports.ConversationRepository
	messageRepo      ports.MessageRepository
	hub              *streaming.Hub
	logger           *slog.Logger
}

var _ ports.StreamUseCase = (*ManageStream)(nil)

func NewManageStream(
	conversationRepo ports.ConversationRepository,
	messageRepo ports.MessageRepository,
	hub *streaming.Hub,
	logger *slog.Logger,
) *ManageStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ManageStream{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		hub:              hub,
		logger:           logger,
	}
}

func (uc *ManageStream) State(ctx context.Context, workspaceID, conversationID string) (*models.StreamState, error) {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return nil, err
	}
	state := uc.hub.State(conversation.ID)
	return &state, nil
}

// Continue replays the active generation from its first chunk and follows
// it. If the generation finished between the caller's state check and this
// call, the stored tip message is replayed instead so the caller still
// converges on the final content.
func (uc *ManageStream) Continue(ctx context.Context, workspaceID, conversationID string) (<-chan models.StreamChunk, string, error) {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return nil, "", err
	}

	chunks, messageID, err := uc.hub.Subscribe(ctx, conversation.ID)
	if err == nil {
		return chunks, messageID, nil
	}
	if !errors.Is(err, domain.ErrNoActiveStream) || conversation.TipMessageID == nil {
		return nil, "", err
	}

	tip, err := uc.messageRepo.GetByID(ctx, *conversation.TipMessageID)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load tip message: %w", err)
	}
	// a streaming tip with no live stream belongs to a crashed process
	if tip.Role != models.MessageRoleAssistant || tip.Status == models.PersistedStatusStreaming {
		return nil, "", domain.ErrNoActiveStream
	}

	replay := thread.ReplayChunks(thread.FromPersisted(tip))
	out := make(chan models.StreamChunk, len(replay))
	for _, c := range replay {
		out <- c
	}
	close(out)

	uc.logger.Debug("replaying finished generation",
		"conversation_id", conversation.ID,
		"message_id", tip.ID,
		"chunks", len(replay))
	return out, tip.ID, nil
}

// Cancel stops the active generation. Content produced so far is kept. It
// is not an error to cancel a conversation with nothing in flight.
func (uc *ManageStream) Cancel(ctx context.Context, workspaceID, conversationID string) error {
	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, conversationID)
	if err != nil {
		return err
	}
	if err := uc.hub.Cancel(conversation.ID); err != nil && !errors.Is(err, domain.ErrNoActiveStream) {
		return err
	}
	uc.logger.Info("stream cancel requested", "conversation_id", conversation.ID)
	return nil
}

// RecoverInterrupted fails messages left streaming by a previous process.
func (uc *ManageStream) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := uc.messageRepo.MarkStreamingAsError(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted streams: %w", err)
	}
	if n > 0 {
		uc.logger.Warn("marked interrupted generations as failed", "count", n)
	}
	return n, nil
}
