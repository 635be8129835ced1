package transport

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/longregen/chattree/internal/adapters/http/dto"
	"github.com/longregen/chattree/internal/adapters/http/encoding"
	"github.com/longregen/chattree/internal/adapters/retry"
	"github.com/longregen/chattree/internal/domain"
)

const maxErrorBody = 64 << 10

// APIError is a non-2xx response from the chat server. It matches both
// the domain sentinel named by its code and a retry.StatusError, so
// callers can use errors.Is for the former and the retry package can
// classify it by status.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat server returned %d (%s)", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("chat server returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
}

func (e *APIError) Unwrap() []error {
	errs := []error{&retry.StatusError{StatusCode: e.StatusCode, Body: e.Message}}
	if sentinel := sentinelFor(e.Code); sentinel != nil {
		errs = append(errs, sentinel)
	}
	return errs
}

func sentinelFor(code string) error {
	switch code {
	case dto.ErrCodeNotFound:
		return domain.ErrNotFound
	case dto.ErrCodeParentNotFound:
		return domain.ErrParentNotFound
	case dto.ErrCodeNoActiveStream:
		return domain.ErrNoActiveStream
	case dto.ErrCodeStreamInProgress:
		return domain.ErrStreamInProgress
	case dto.ErrCodeDuplicateMessage:
		return domain.ErrDuplicateMessage
	case dto.ErrCodeConversationInactive:
		return domain.ErrConversationArchived
	case dto.ErrCodeInvalidRequest, dto.ErrCodeInvalidTransition:
		return domain.ErrInvalidInput
	case dto.ErrCodeUpstreamUnavailable:
		return domain.ErrLLMUnavailable
	}
	return nil
}

// readAPIError builds an APIError from an error response. Bodies that are
// not ErrorResponse documents are kept verbatim as the message.
func readAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if resp.Body == nil {
		return apiErr
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload dto.ErrorResponse
	var err error
	if encoding.IsMsgpack(resp.Header.Get("Content-Type")) {
		err = encoding.UnmarshalMsgpack(body, &payload)
	} else {
		err = json.Unmarshal(body, &payload)
	}
	if err != nil || payload.Error == "" {
		apiErr.Message = string(body)
		return apiErr
	}

	apiErr.Code = payload.Error
	apiErr.Message = payload.Message
	return apiErr
}

// countsAsFailure reports whether err says the server is unhealthy rather
// than that the request was rejected.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	return retry.IsRetryableError(err)
}
