package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/longregen/chattree/internal/domain"
	"github.com/longregen/chattree/internal/domain/models"
)

const messageColumns = `id, conversation_id, parent_id, role, parts, status, created_at, updated_at`

type MessageRepository struct {
	BaseRepository
}

func NewMessageRepository(db DBTX) *MessageRepository {
	return &MessageRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

func (r *MessageRepository) Create(ctx context.Context, message *models.PersistedMessage) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	parts, err := marshalParts(message.Parts)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chattree_messages (
			id, conversation_id, parent_id, role, parts, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	_, err = r.conn(ctx).Exec(ctx, query,
		message.ID,
		message.ConversationID,
		message.ParentID,
		message.Role,
		parts,
		message.Status,
		message.CreatedAt,
		message.UpdatedAt,
	)
	return err
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*models.PersistedMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + messageColumns + ` FROM chattree_messages WHERE id = $1`

	return r.scanMessage(r.conn(ctx).QueryRow(ctx, query, id))
}

// GetByConversation returns every message of the tree in insertion order.
func (r *MessageRepository) GetByConversation(ctx context.Context, conversationID string) ([]*models.PersistedMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + messageColumns + `
		FROM chattree_messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`

	rows, err := r.conn(ctx).Query(ctx, query, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMessages(rows)
}

// GetChain walks parent links up from messageID and returns the path root first.
func (r *MessageRepository) GetChain(ctx context.Context, messageID string) ([]*models.PersistedMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	// depth bound guards against corrupted parent cycles
	query := `
		WITH RECURSIVE message_chain AS (
			SELECT ` + messageColumns + `, 1 AS depth
			FROM chattree_messages
			WHERE id = $1

			UNION ALL

			SELECT m.id, m.conversation_id, m.parent_id, m.role, m.parts, m.status,
			       m.created_at, m.updated_at, mc.depth + 1
			FROM chattree_messages m
			INNER JOIN message_chain mc ON m.id = mc.parent_id
			WHERE mc.depth < 10000
		)
		SELECT ` + messageColumns + `
		FROM message_chain
		ORDER BY depth DESC`

	rows, err := r.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMessages(rows)
}

// GetSiblings returns the messages sharing messageID's parent, the message
// itself included. Roots are siblings of the other roots in their conversation.
func (r *MessageRepository) GetSiblings(ctx context.Context, messageID string) ([]*models.PersistedMessage, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		SELECT s.id, s.conversation_id, s.parent_id, s.role, s.parts, s.status, s.created_at, s.updated_at
		FROM chattree_messages m
		INNER JOIN chattree_messages s
			ON s.conversation_id = m.conversation_id
			AND s.parent_id IS NOT DISTINCT FROM m.parent_id
		WHERE m.id = $1
		ORDER BY s.created_at ASC, s.id ASC`

	rows, err := r.conn(ctx).Query(ctx, query, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	siblings, err := r.scanMessages(rows)
	if err != nil {
		return nil, err
	}
	if len(siblings) == 0 {
		return nil, domain.ErrMessageNotFound
	}
	return siblings, nil
}

// UpdateParts replaces a message's content and generation status.
func (r *MessageRepository) UpdateParts(ctx context.Context, id string, parts []models.PersistedPart, status models.PersistedStatus) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	data, err := marshalParts(parts)
	if err != nil {
		return err
	}

	query := `
		UPDATE chattree_messages
		SET parts = $2,
			status = $3,
			updated_at = NOW()
		WHERE id = $1`

	tag, err := r.conn(ctx).Exec(ctx, query, id, data, status)
	return requireAffected(tag, err, domain.ErrMessageNotFound)
}

// MarkStreamingAsError fails messages a previous process left mid-stream.
func (r *MessageRepository) MarkStreamingAsError(ctx context.Context) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE chattree_messages
		SET status = 'error',
			updated_at = NOW()
		WHERE status = 'streaming'`

	tag, err := r.conn(ctx).Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *MessageRepository) scanMessage(row pgx.Row) (*models.PersistedMessage, error) {
	var m models.PersistedMessage
	var parts []byte

	err := row.Scan(
		&m.ID,
		&m.ConversationID,
		&m.ParentID,
		&m.Role,
		&parts,
		&m.Status,
		&m.CreatedAt,
		&m.UpdatedAt,
	)
	if err != nil {
		return nil, mapNotFound(err, domain.ErrMessageNotFound)
	}

	m.Parts, err = unmarshalJSONSlice[models.PersistedPart](parts)
	if err != nil {
		return nil, fmt.Errorf("decode parts of %s: %w", m.ID, err)
	}
	return &m, nil
}

func (r *MessageRepository) scanMessages(rows pgx.Rows) ([]*models.PersistedMessage, error) {
	messages := make([]*models.PersistedMessage, 0)
	for rows.Next() {
		m, err := r.scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
