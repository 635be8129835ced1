package domain

import "errors"

// Common domain errors
var (
	// Conversation errors
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationArchived = errors.New("conversation is archived")
	ErrConversationDeleted  = errors.New("conversation is deleted")

	// Message tree errors
	ErrMessageNotFound    = errors.New("message not found")
	ErrDuplicateMessage   = errors.New("message already exists in tree")
	ErrInvalidRole        = errors.New("invalid message role")
	ErrNotEditable        = errors.New("only user messages can be edited")
	ErrNotRegenerable     = errors.New("only assistant messages can be regenerated")
	ErrParentNotFound     = errors.New("parent message not found")
	ErrNoMessageToReplace = errors.New("no assistant message to regenerate")

	// Stream errors
	ErrStreamInProgress = errors.New("a stream is already in progress")
	ErrNoActiveStream   = errors.New("no active stream")
	ErrStreamClosed     = errors.New("stream closed")

	// Transport errors
	ErrTransportUnavailable = errors.New("chat transport unavailable")
	ErrConversationCreate   = errors.New("failed to create conversation")

	// LLM errors
	ErrLLMUnavailable   = errors.New("LLM service unavailable")
	ErrLLMRequestFailed = errors.New("LLM request failed")

	// Validation errors
	ErrEmptyContent = errors.New("content cannot be empty")
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("resource not found")
)

// CodeInvalidTransition marks a rejected conversation status change.
const CodeInvalidTransition = "invalid_transition"

// DomainError wraps a domain error with additional context
type DomainError struct {
	Err     error
	Message string
	Code    string
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func NewDomainError(err error, message string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
	}
}

func NewDomainErrorWithCode(err error, message, code string) *DomainError {
	return &DomainError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}
