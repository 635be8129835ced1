package models

import (
	"time"
)

type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusArchived ConversationStatus = "archived"
	ConversationStatusDeleted  ConversationStatus = "deleted"
)

// Conversation groups a message tree. TipMessageID is the last message
// the backend generated into, used as the server-side default head.
type Conversation struct {
	ID           string             `json:"id" msgpack:"id"`
	WorkspaceID  string             `json:"workspace_id" msgpack:"workspace_id"`
	Title        string             `json:"title" msgpack:"title"`
	ModelID      string             `json:"model_id,omitempty" msgpack:"model_id,omitempty"`
	Status       ConversationStatus `json:"status" msgpack:"status"`
	TipMessageID *string            `json:"tip_message_id,omitempty" msgpack:"tip_message_id,omitempty"`

	CreatedAt time.Time  `json:"created_at" msgpack:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" msgpack:"updated_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" msgpack:"deleted_at,omitempty"`
}

func NewConversation(id, workspaceID, title, modelID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       title,
		ModelID:     modelID,
		Status:      ConversationStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive && c.DeletedAt == nil
}

// ConversationPatch holds the mutable fields of a conversation; nil fields are left alone.
type ConversationPatch struct {
	Title  *string             `json:"title,omitempty" msgpack:"title,omitempty"`
	Status *ConversationStatus `json:"status,omitempty" msgpack:"status,omitempty"`
}

// Apply validates and applies the patch.
func (c *Conversation) Apply(p ConversationPatch) error {
	if p.Status != nil {
		if err := c.ChangeStatus(*p.Status); err != nil {
			return err
		}
	}
	if p.Title != nil {
		c.Title = *p.Title
		c.UpdatedAt = time.Now().UTC()
	}
	return nil
}

// MarkAsDeleted transitions the conversation to deleted state with validation
func (c *Conversation) MarkAsDeleted() error {
	return c.ChangeStatus(ConversationStatusDeleted)
}

// ChangeStatus transitions the conversation to a new status with validation
func (c *Conversation) ChangeStatus(newStatus ConversationStatus) error {
	if err := ValidateTransition(c.Status, newStatus); err != nil {
		return err
	}
	now := time.Now().UTC()
	c.Status = newStatus
	c.UpdatedAt = now

	if newStatus == ConversationStatusDeleted && c.DeletedAt == nil {
		c.DeletedAt = &now
	}
	return nil
}

// SetTip records the message the backend most recently generated into.
func (c *Conversation) SetTip(messageID string) {
	c.TipMessageID = &messageID
	c.UpdatedAt = time.Now().UTC()
}
