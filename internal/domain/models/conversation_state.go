package models

import (
	"fmt"
	"slices"
)

// nextStatuses lists where a conversation may move from each status.
// Deleted is terminal.
var nextStatuses = map[ConversationStatus][]ConversationStatus{
	ConversationStatusActive:   {ConversationStatusArchived, ConversationStatusDeleted},
	ConversationStatusArchived: {ConversationStatusActive, ConversationStatusDeleted},
	ConversationStatusDeleted:  nil,
}

// ValidateTransition accepts staying in the same status and every move
// listed in nextStatuses. Unknown statuses are rejected either way.
func ValidateTransition(from, to ConversationStatus) error {
	allowed, known := nextStatuses[from]
	if _, ok := nextStatuses[to]; !known || !ok {
		return &InvalidTransitionError{From: from, To: to}
	}
	if from == to || slices.Contains(allowed, to) {
		return nil
	}
	return &InvalidTransitionError{From: from, To: to}
}

type InvalidTransitionError struct {
	From ConversationStatus
	To   ConversationStatus
}

func (e *InvalidTransitionError) Error() string {
	if e.From == ConversationStatusDeleted {
		return "conversation is deleted and cannot change status"
	}
	return fmt.Sprintf("cannot move conversation from %q to %q", e.From, e.To)
}
