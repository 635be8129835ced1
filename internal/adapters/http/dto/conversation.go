package dto

import "github.com/longregen/chattree/internal/domain/models"

type CreateConversationRequest struct {
	Title   string `json:"title" msgpack:"title"`
	ModelID string `json:"model_id,omitempty" msgpack:"model_id,omitempty"`
}

type ConversationListResponse struct {
	Conversations []*models.Conversation `json:"conversations" msgpack:"conversations"`
	Limit         int                    `json:"limit" msgpack:"limit"`
	Offset        int                    `json:"offset" msgpack:"offset"`
}

type MessageListResponse struct {
	ConversationID string                     `json:"conversation_id" msgpack:"conversation_id"`
	TipMessageID   *string                    `json:"tip_message_id,omitempty" msgpack:"tip_message_id,omitempty"`
	Messages       []*models.PersistedMessage `json:"messages" msgpack:"messages"`
}
