package domain

import "errors"

// Domain errors
var (
	ErrSessionNotFound    = errors.New("no active capture session")
	ErrClientNotFound     = errors.New("client not connected")
	ErrInvalidRequest     = errors.New("invalid capture request")
	ErrUnknownEvent       = errors.New("unknown event")
	ErrInvalidPattern     = errors.New("invalid filter pattern")
	ErrShutdownInProgress = errors.New("shutdown in progress")
	ErrConfigNotFound     = errors.New("config file not found")
	ErrInvalidConfig      = errors.New("invalid configuration")
)

// Error codes for API responses and request-error events
const (
	ErrCodeSessionNotFound    = "SESSION_NOT_FOUND"
	ErrCodeClientNotFound     = "CLIENT_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
	ErrCodeUnknownEvent       = "UNKNOWN_EVENT"
	ErrCodeInvalidPattern     = "INVALID_PATTERN"
	ErrCodeShutdownInProgress = "SHUTDOWN_IN_PROGRESS"
	ErrCodeRateLimited        = "RATE_LIMITED"
)

// ErrorCode returns the API error code for a domain error
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return ErrCodeSessionNotFound
	case errors.Is(err, ErrClientNotFound):
		return ErrCodeClientNotFound
	case errors.Is(err, ErrInvalidRequest):
		return ErrCodeInvalidRequest
	case errors.Is(err, ErrUnknownEvent):
		return ErrCodeUnknownEvent
	case errors.Is(err, ErrInvalidPattern):
		return ErrCodeInvalidPattern
	case errors.Is(err, ErrShutdownInProgress):
		return ErrCodeShutdownInProgress
	default:
		return "INTERNAL_ERROR"
	}
}
