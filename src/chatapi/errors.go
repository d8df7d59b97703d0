package chatapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Common error variables
var (
	// ErrConversationNotFound indicates the server rejected the conversation id.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrStreamClosed indicates the stream has been closed.
	ErrStreamClosed = errors.New("stream closed")

	// ErrTimeout indicates a timeout occurred.
	ErrTimeout = errors.New("operation timed out")

	// ErrSendInFlight indicates a send superseded a previous in-flight send.
	ErrSendInFlight = errors.New("send superseded")
)

// ErrorResponse is the server's error envelope: {"status":...,"code":"...","message":"..."}.
type ErrorResponse struct {
	Status  int    `json:"status,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// APIError represents an error response from the chat API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RequestID  string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsRetryable returns true if the error is worth retrying.
func (e *APIError) IsRetryable() bool {
	if e.StatusCode >= 500 && e.StatusCode < 600 {
		return true
	}
	return e.StatusCode == http.StatusTooManyRequests
}

// IsConversationInvalid returns true when the server reports the conversation
// id as unknown, expired, or malformed. This is the one error class with an
// automatic recovery path: the client discards its local identity and starts
// a fresh conversation.
func (e *APIError) IsConversationInvalid() bool {
	switch e.Code {
	case "conversation_not_exists", "conversation_completed", "invalid_conversation_id":
		return true
	}
	msg := strings.ToLower(e.Message)
	if !strings.Contains(msg, "conversation") {
		return false
	}
	return strings.Contains(msg, "not exist") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "invalid")
}

// Is implements error matching against the sentinel classes.
func (e *APIError) Is(target error) bool {
	if target == ErrConversationNotFound {
		return e.IsConversationInvalid()
	}
	return false
}

// IsConversationInvalid reports whether err, anywhere in its chain, signals
// an unknown or invalid conversation id.
func IsConversationInvalid(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConversationNotFound) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.IsConversationInvalid()
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	return errors.Is(err, ErrTimeout)
}
