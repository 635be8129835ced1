package dto

// Error codes shared by the server and the transport client.
const (
	ErrCodeInvalidRequest       = "invalid_request"
	ErrCodeInvalidTransition    = "invalid_transition"
	ErrCodeNotFound             = "not_found"
	ErrCodeParentNotFound       = "parent_not_found"
	ErrCodeNoActiveStream       = "no_active_stream"
	ErrCodeStreamInProgress     = "stream_in_progress"
	ErrCodeDuplicateMessage     = "duplicate_message"
	ErrCodeConversationInactive = "conversation_inactive"
	ErrCodeUpstreamUnavailable  = "upstream_unavailable"
	ErrCodeInternal             = "internal_error"
)

type ErrorResponse struct {
	Error   string `json:"error" msgpack:"error"`
	Message string `json:"message,omitempty" msgpack:"message,omitempty"`
	Code    int    `json:"code,omitempty" msgpack:"code,omitempty"`
}

func NewErrorResponse(err string, message string, code int) *ErrorResponse {
	return &ErrorResponse{
		Error:   err,
		Message: message,
		Code:    code,
	}
}
