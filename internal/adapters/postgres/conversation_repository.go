package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

const conversationColumns = `id, workspace_id, title, model_id, status, tip_message_id,
		       created_at, updated_at, deleted_at`

type ConversationRepository struct {
	BaseRepository
}

func NewConversationRepository(db DBTX) *ConversationRepository {
	return &ConversationRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *ConversationRepository) Create(ctx context.Context, conversation *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO chattree_conversations (
			id, workspace_id, title, model_id, status, tip_message_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err := r.conn(ctx).Exec(ctx, query,
		conversation.ID,
		conversation.WorkspaceID,
		conversation.Title,
		conversation.ModelID,
		conversation.Status,
		conversation.TipMessageID,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	return err
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM chattree_conversations
		WHERE id = $1 AND deleted_at IS NULL`

	return r.scanConversation(r.conn(ctx).QueryRow(ctx, query, id))
}

func (r *ConversationRepository) Update(ctx context.Context, conversation *models.Conversation) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE chattree_conversations
		SET title = $2,
			model_id = $3,
			status = $4,
			updated_at = $5,
			deleted_at = $6
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query,
		conversation.ID,
		conversation.Title,
		conversation.ModelID,
		conversation.Status,
		conversation.UpdatedAt,
		conversation.DeletedAt,
	)
	return requireAffected(tag, err, domain.ErrConversationNotFound)
}

// UpdateTip records the message the backend last generated into.
func (r *ConversationRepository) UpdateTip(ctx context.Context, conversationID, messageID string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE chattree_conversations
		SET tip_message_id = $2,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query, conversationID, messageID)
	return requireAffected(tag, err, domain.ErrConversationNotFound)
}

func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE chattree_conversations
		SET status = 'deleted',
			deleted_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	tag, err := r.conn(ctx).Exec(ctx, query, id)
	return requireAffected(tag, err, domain.ErrConversationNotFound)
}

func (r *ConversationRepository) ListByWorkspace(ctx context.Context, workspaceID string, limit, offset int) ([]*models.Conversation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + conversationColumns + `
		FROM chattree_conversations
		WHERE workspace_id = $1 AND deleted_at IS NULL
		ORDER BY updated_at DESC
		LIMIT $2 OFFSET $3`

	rows, err := r.conn(ctx).Query(ctx, query, workspaceID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	conversations := make([]*models.Conversation, 0)
	for rows.Next() {
		c, err := r.scanConversation(rows)
		if err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}
	return conversations, rows.Err()
}

func (r *ConversationRepository) scanConversation(row pgx.Row) (*models.Conversation, error) {
	var c models.Conversation
	err := row.Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Title,
		&c.ModelID,
		&c.Status,
		&c.TipMessageID,
		&c.CreatedAt,
		&c.UpdatedAt,
		&c.DeletedAt,
	)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrConversationNotFound)
	}
	return &c, nil
}
