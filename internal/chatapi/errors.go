package chatapi

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed API call. Callers decide retry policy;
// the client never retries on its own.
type ErrorKind string

const (
	// KindUnauthorized means the bearer token is missing or expired. The
	// client clears the session; callers must re-authenticate, not retry.
	KindUnauthorized ErrorKind = "unauthorized"
	// KindNotFound means the conversation or message is not visible to
	// the caller.
	KindNotFound ErrorKind = "not_found"
	// KindInvalidCounterparty means a conversation cannot be created with
	// the named user (self, unknown, or incompatible role).
	KindInvalidCounterparty ErrorKind = "invalid_counterparty"
	// KindValidation means the request body was rejected (empty or
	// oversized message).
	KindValidation ErrorKind = "validation"
	// KindServer covers 5xx and unexpected responses.
	KindServer ErrorKind = "server"
	// KindTransport covers network-level failures before a response.
	KindTransport ErrorKind = "transport"
)

// Error is a typed API failure carrying an HTTP-status-derived kind.
type Error struct {
	Kind    ErrorKind
	Status  int    // HTTP status, 0 for transport failures
	Op      string // operation name, e.g. "send message"
	Message string // server-provided detail, if any
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("chatapi: %s: %s (%s)", e.Op, e.Message, e.Kind)
	}
	if e.Status != 0 {
		return fmt.Sprintf("chatapi: %s: status %d (%s)", e.Op, e.Status, e.Kind)
	}
	return fmt.Sprintf("chatapi: %s: %s", e.Op, e.Kind)
}

// KindOf extracts the ErrorKind from err, or empty if err is not an API
// error.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return ""
}

// IsUnauthorized reports whether err is a 401 API error.
func IsUnauthorized(err error) bool {
	return KindOf(err) == KindUnauthorized
}
