package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/longregen/chattree/internal/adapters/metrics"
	"github.com/longregen/chattree/internal/adapters/tracing"
	"github.com/longregen/chattree/internal/application/streaming"
	"github.com/longregen/chattree/internal/application/thread"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
	"github.com/longregen/chattree/internal/ports"
)

const persistTimeout = 10 * time.Second

// StartCompletion persists the user side of a turn, opens the upstream
// model stream and publishes it through the hub. The generation outlives
// the request that started it; it ends on completion, upstream failure or
// an explicit cancel.
type StartCompletion struct {
	conversationRepo ports.ConversationRepository
	messageRepo      ports.MessageRepository
	llmService       ports.LLMService
	idGenerator      ports.IDGenerator
	txManager        ports.TransactionManager
	hub              *streaming.Hub
	defaultModel     string
	logger           *slog.Logger
	tracer           trace.Tracer
}

var _ ports.StartCompletionUseCase = (*StartCompletion)(nil)

func NewStartCompletion(
	conversationRepo ports.ConversationRepository,
	messageRepo ports.MessageRepository,
	llmService ports.LLMService,
	idGenerator ports.IDGenerator,
	txManager ports.TransactionManager,
	hub *streaming.Hub,
	defaultModel string,
	logger *slog.Logger,
) *StartCompletion {
	if logger == nil {
		logger = slog.Default()
	}
	return &StartCompletion{
		conversationRepo: conversationRepo,
		messageRepo:      messageRepo,
		llmService:       llmService,
		idGenerator:      idGenerator,
		txManager:        txManager,
		hub:              hub,
		defaultModel:     defaultModel,
		logger:           logger,
		tracer:           tracing.Tracer("chattree/usecases"),
	}
}

func (uc *StartCompletion) Execute(ctx context.Context, workspaceID string, req ports.CompletionRequest) (*ports.CompletionStream, error) {
	ctx, span := uc.tracer.Start(ctx, "completion.start", trace.WithAttributes(
		tracing.WorkspaceID(workspaceID),
		tracing.ConversationID(req.ConversationID),
		tracing.Action(actionLabel(req.Action)),
	))
	defer span.End()

	out, err := uc.execute(ctx, workspaceID, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.CompletionsTotal.WithLabelValues(actionLabel(req.Action), "rejected").Inc()
		return nil, err
	}
	span.SetAttributes(tracing.MessageID(out.AssistantMessage.ID))
	return out, nil
}

func (uc *StartCompletion) execute(ctx context.Context, workspaceID string, req ports.CompletionRequest) (*ports.CompletionStream, error) {
	if !req.Action.Valid() {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("unknown action %q", req.Action))
	}

	conversation, err := loadConversation(ctx, uc.conversationRepo, workspaceID, req.ConversationID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActive() {
		return nil, domain.ErrConversationArchived
	}

	assistantID := req.AssistantMessageID
	if assistantID == "" {
		assistantID = uc.idGenerator.GenerateMessageID()
	}

	// generation must not end with the request that started it
	genCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stream, err := uc.hub.Start(conversation.ID, assistantID, cancel)
	if err != nil {
		cancel()
		return nil, err
	}

	var (
		user      *models.PersistedMessage
		assistant *models.PersistedMessage
	)
	err = uc.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var assistantParent *string
		switch req.Action {
		case models.ActionRegenerate:
			source, err := uc.getMessage(ctx, conversation.ID, req.SourceMessageID)
			if err != nil {
				return err
			}
			if source.Role != models.MessageRoleAssistant {
				return domain.ErrNotRegenerable
			}
			if source.ParentID == nil {
				return domain.ErrNoMessageToReplace
			}
			assistantParent = source.ParentID
		default:
			created, err := uc.persistUser(ctx, conversation.ID, req)
			if err != nil {
				return err
			}
			user = created
			assistantParent = &created.ID
		}

		if err := uc.ensureUnused(ctx, assistantID); err != nil {
			return err
		}
		assistant = models.NewPersistedMessage(assistantID, conversation.ID, assistantParent,
			models.MessageRoleAssistant, nil, models.PersistedStatusStreaming)
		if err := uc.messageRepo.Create(ctx, assistant); err != nil {
			return fmt.Errorf("failed to create assistant message: %w", err)
		}
		if err := uc.conversationRepo.UpdateTip(ctx, conversation.ID, assistant.ID); err != nil {
			return fmt.Errorf("failed to update conversation tip: %w", err)
		}
		return nil
	})
	if err != nil {
		// a client may already have attached through the hub
		stream.Publish(models.StreamChunk{Error: err})
		stream.Finish()
		cancel()
		return nil, err
	}

	messages := req.Messages
	if len(messages) == 0 {
		if messages, err = uc.history(ctx, *assistant.ParentID); err != nil {
			cancel()
			uc.abort(stream, assistant.ID, err)
			return nil, err
		}
	}

	model := req.Model
	if model == "" {
		model = conversation.ModelID
	}
	if model == "" {
		model = uc.defaultModel
	}

	chunks, _, err := uc.hub.Subscribe(ctx, conversation.ID)
	if err != nil {
		cancel()
		uc.abort(stream, assistant.ID, err)
		return nil, err
	}

	go uc.generate(genCtx, stream, assistant, req.Action, model, messages)

	uc.logger.Info("completion started",
		"conversation_id", conversation.ID,
		"assistant_message_id", assistant.ID,
		"action", actionLabel(req.Action),
		"model", model)

	return &ports.CompletionStream{
		UserMessage:      user,
		AssistantMessage: assistant,
		Chunks:           chunks,
	}, nil
}

func (uc *StartCompletion) persistUser(ctx context.Context, conversationID string, req ports.CompletionRequest) (*models.PersistedMessage, error) {
	text := lastUserText(req.Messages)
	if strings.TrimSpace(text) == "" {
		return nil, domain.ErrEmptyContent
	}

	parentID := req.ParentID
	if req.Action == models.ActionEdit {
		source, err := uc.getMessage(ctx, conversationID, req.SourceMessageID)
		if err != nil {
			return nil, err
		}
		if source.Role != models.MessageRoleUser {
			return nil, domain.ErrNotEditable
		}
		parentID = source.ParentID
	} else if parentID != nil {
		if _, err := uc.getMessage(ctx, conversationID, *parentID); err != nil {
			if errors.Is(err, domain.ErrMessageNotFound) {
				return nil, fmt.Errorf("%w: %s", domain.ErrParentNotFound, *parentID)
			}
			return nil, err
		}
	}

	userID := req.UserMessageID
	if userID == "" {
		userID = uc.idGenerator.GenerateMessageID()
	}
	if err := uc.ensureUnused(ctx, userID); err != nil {
		return nil, err
	}

	user := models.NewPersistedMessage(userID, conversationID, parentID,
		models.MessageRoleUser, models.TextParts(text), models.PersistedStatusCompleted)
	if err := uc.messageRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user message: %w", err)
	}
	return user, nil
}

func (uc *StartCompletion) getMessage(ctx context.Context, conversationID, id string) (*models.PersistedMessage, error) {
	if id == "" {
		return nil, domain.NewDomainError(domain.ErrInvalidInput, "source message id is required")
	}
	msg, err := uc.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if msg.ConversationID != conversationID {
		return nil, fmt.Errorf("%w: %s", domain.ErrMessageNotFound, id)
	}
	return msg, nil
}

func (uc *StartCompletion) ensureUnused(ctx context.Context, id string) error {
	_, err := uc.messageRepo.GetByID(ctx, id)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %s", domain.ErrDuplicateMessage, id)
	case errors.Is(err, domain.ErrMessageNotFound):
		return nil
	default:
		return err
	}
}

// history rebuilds the prompt from the stored branch ending at headID.
func (uc *StartCompletion) history(ctx context.Context, headID string) ([]models.InputMessage, error) {
	chain, err := uc.messageRepo.GetChain(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return thread.InputMessages(thread.FromPersistedList(chain)), nil
}

func (uc *StartCompletion) generate(ctx context.Context, stream *streaming.Stream, assistant *models.PersistedMessage, action models.CompletionAction, model string, messages []models.InputMessage) {
	ctx, span := uc.tracer.Start(ctx, "completion.generate", trace.WithAttributes(
		tracing.ConversationID(assistant.ConversationID),
		tracing.MessageID(assistant.ID),
		tracing.LLMModel(model),
	))
	defer span.End()
	defer stream.Finish()

	target := models.NewAssistantPlaceholder(assistant.ID, assistant.ParentID)
	agg := thread.NewAggregator(target, thread.WithLogger(uc.logger))

	terminal, count := uc.pump(ctx, stream, agg, model, messages)
	span.SetAttributes(tracing.ChunkCount(count))

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	msg := agg.Message()
	if err := uc.messageRepo.UpdateParts(persistCtx, assistant.ID, thread.ToPersistedParts(msg.Content), thread.StatusToPersisted(msg.Status)); err != nil {
		uc.logger.Error("failed to persist generated message",
			"conversation_id", assistant.ConversationID,
			"message_id", assistant.ID,
			"error", err)
	}

	outcome := "completed"
	if terminal.Error != nil {
		outcome = "error"
		span.RecordError(terminal.Error)
		span.SetStatus(codes.Error, terminal.Error.Error())
	} else if ctx.Err() != nil {
		outcome = "cancelled"
	}
	metrics.CompletionsTotal.WithLabelValues(actionLabel(action), outcome).Inc()

	stream.Publish(terminal)
	uc.logger.Info("completion finished",
		"conversation_id", assistant.ConversationID,
		"message_id", assistant.ID,
		"outcome", outcome,
		"chunks", count)
}

// pump forwards upstream chunks to the stream and folds them into agg. It
// returns the terminal chunk to publish once the result is stored. A
// cancelled generation keeps what it produced and ends normally.
func (uc *StartCompletion) pump(ctx context.Context, stream *streaming.Stream, agg *thread.Aggregator, model string, messages []models.InputMessage) (models.StreamChunk, int) {
	upstream, err := uc.llmService.ChatStream(ctx, model, messages)
	if err != nil {
		agg.Fail(err)
		return models.StreamChunk{Error: err}, 0
	}

	count := 0
	for chunk := range upstream {
		switch {
		case chunk.Error != nil:
			if ctx.Err() != nil {
				agg.Complete()
				return models.StreamChunk{Done: true}, count
			}
			agg.Fail(chunk.Error)
			return models.StreamChunk{Error: chunk.Error}, count
		case chunk.Done:
			agg.Complete()
			return models.StreamChunk{Done: true}, count
		default:
			agg.Apply(chunk)
			stream.Publish(chunk)
			count++
		}
	}

	if ctx.Err() != nil {
		agg.Complete()
		return models.StreamChunk{Done: true}, count
	}
	agg.Fail(domain.ErrStreamClosed)
	return models.StreamChunk{Error: domain.ErrStreamClosed}, count
}

// abort ends a generation that never reached the model and records the
// failure on its placeholder.
func (uc *StartCompletion) abort(stream *streaming.Stream, messageID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	parts := models.TextParts(thread.ErrorText(cause))
	if err := uc.messageRepo.UpdateParts(ctx, messageID, parts, models.PersistedStatusError); err != nil {
		uc.logger.Error("failed to record aborted completion", "message_id", messageID, "error", err)
	}
	stream.Publish(models.StreamChunk{Error: cause})
	stream.Finish()
}

func lastUserText(messages []models.InputMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == models.MessageRoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func actionLabel(a models.CompletionAction) string {
	if a == models.ActionNone {
		return "append"
	}
	return string(a)
}
