package models

import (
	"strings"
	"time"
)

type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleSystem    MessageRole = "system"
	// MessageRoleTool only appears on stream chunks carrying tool results.
	MessageRoleTool MessageRole = "tool"
)

func (r MessageRole) Valid() bool {
	switch r {
	case MessageRoleUser, MessageRoleAssistant, MessageRoleSystem:
		return true
	}
	return false
}

// MessageStatus is the client-side lifecycle of a message.
type MessageStatus string

const (
	MessageStatusRunning  MessageStatus = "running"
	MessageStatusComplete MessageStatus = "complete"
	MessageStatusError    MessageStatus = "error"
)

// Message is a node in the conversation tree.
type Message struct {
	ID        string
	Role      MessageRole
	Content   []ContentPart
	CreatedAt time.Time
	ParentID  *string
	Status    MessageStatus
}

func NewUserMessage(id string, parentID *string, text string) *Message {
	return &Message{
		ID:        id,
		Role:      MessageRoleUser,
		Content:   []ContentPart{&TextPart{Text: text}},
		CreatedAt: time.Now().UTC(),
		ParentID:  parentID,
		Status:    MessageStatusComplete,
	}
}

// NewAssistantPlaceholder creates the empty running message a stream fills in.
func NewAssistantPlaceholder(id string, parentID *string) *Message {
	return &Message{
		ID:        id,
		Role:      MessageRoleAssistant,
		Content:   []ContentPart{&TextPart{}},
		CreatedAt: time.Now().UTC(),
		ParentID:  parentID,
		Status:    MessageStatusRunning,
	}
}

// Parent returns the parent id or "" for a root.
func (m *Message) Parent() string {
	if m.ParentID == nil {
		return ""
	}
	return *m.ParentID
}

func (m *Message) IsRunning() bool {
	return m.Status == MessageStatusRunning
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Content {
		if t, ok := p.(*TextPart); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// Clone returns a deep copy that shares no mutable state with m.
func (m *Message) Clone() *Message {
	c := *m
	c.Content = CloneParts(m.Content)
	if m.ParentID != nil {
		p := *m.ParentID
		c.ParentID = &p
	}
	return &c
}
