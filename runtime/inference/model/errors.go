package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies SDK failures into a small closed set of categories
// suitable for retry and UX decisions. Consumers branch on kinds, never on
// message strings.
type ErrorKind string

const (
	// ErrorKindAPI indicates the provider returned a non-2xx response. The
	// message is the decoded provider message when the body decodes, and the
	// raw body otherwise.
	ErrorKindAPI ErrorKind = "api"

	// ErrorKindHTTP indicates a transport-level failure (connection refused,
	// DNS, TLS, broken stream).
	ErrorKindHTTP ErrorKind = "http"

	// ErrorKindTimeout indicates a per-attempt or overall deadline elapsed.
	ErrorKindTimeout ErrorKind = "timeout"

	// ErrorKindSerialization indicates request normalization failed to encode.
	ErrorKindSerialization ErrorKind = "serialization"

	// ErrorKindDeserialization indicates a provider payload failed to decode,
	// including tool-argument JSON that does not parse after assembly.
	ErrorKindDeserialization ErrorKind = "deserialization"

	// ErrorKindStreamInvariant indicates the normalized event sequence broke
	// an ordering rule.
	ErrorKindStreamInvariant ErrorKind = "stream_invariant"

	// ErrorKindConfig indicates invalid client or driver configuration.
	ErrorKindConfig ErrorKind = "config"

	// ErrorKindInvalidRequest indicates the request failed builder validation
	// and retrying without changing it will not succeed.
	ErrorKindInvalidRequest ErrorKind = "invalid_request"

	// ErrorKindRetryExhausted indicates the retry budget was spent; the last
	// attempt's error is available via Unwrap.
	ErrorKindRetryExhausted ErrorKind = "retry_exhausted"

	// ErrorKindCanceled indicates the caller canceled the call.
	ErrorKindCanceled ErrorKind = "canceled"
)

// Error is the single error type surfaced at every SDK call boundary. It is
// intended to cross package boundaries so callers receive stable, structured
// failure information with redacted messages.
type Error struct {
	kind         ErrorKind
	status       int
	providerCode string
	message      string
	attempts     int
	retryable    bool
	cause        error
}

// NewAPIError constructs an Error for a provider non-2xx response. The
// retriable flag is derived from the status code.
func NewAPIError(status int, message, providerCode string) *Error {
	return &Error{
		kind:         ErrorKindAPI,
		status:       status,
		providerCode: providerCode,
		message:      message,
		retryable:    RetryableStatus(status),
	}
}

// NewHTTPError wraps a transport-level failure.
func NewHTTPError(cause error) *Error {
	return &Error{kind: ErrorKindHTTP, message: "transport error", retryable: true, cause: cause}
}

// NewTimeoutError constructs a timeout Error. Per-attempt timeouts are
// classified transient; overall timeouts are surfaced by the policy engine
// without further retries.
func NewTimeoutError(message string) *Error {
	return &Error{kind: ErrorKindTimeout, message: message, retryable: true}
}

// NewSerializationError wraps a request encoding failure.
func NewSerializationError(cause error) *Error {
	return &Error{kind: ErrorKindSerialization, message: "request serialization failed", cause: cause}
}

// NewDeserializationError wraps a payload decoding failure.
func NewDeserializationError(cause error) *Error {
	return &Error{kind: ErrorKindDeserialization, message: "response deserialization failed", cause: cause}
}

// NewStreamInvariantViolation constructs an Error for a broken stream
// ordering rule. reason names the violated rule.
func NewStreamInvariantViolation(reason string) *Error {
	return &Error{kind: ErrorKindStreamInvariant, message: reason}
}

// NewConfigError constructs an Error for invalid configuration.
func NewConfigError(message string) *Error {
	return &Error{kind: ErrorKindConfig, message: message}
}

// NewInvalidRequest constructs an Error for a request that failed validation.
func NewInvalidRequest(reason string) *Error {
	return &Error{kind: ErrorKindInvalidRequest, message: reason}
}

// NewRetryExhausted wraps the last attempt's error after the retry budget is
// spent. attempts counts every attempt made, including the first.
func NewRetryExhausted(attempts int, last error) *Error {
	return &Error{
		kind:     ErrorKindRetryExhausted,
		attempts: attempts,
		message:  fmt.Sprintf("retry exhausted after %d attempts", attempts),
		cause:    last,
	}
}

// NewCanceled constructs an Error for caller cancellation.
func NewCanceled(cause error) *Error {
	return &Error{kind: ErrorKindCanceled, message: "canceled", cause: cause}
}

// Kind returns the error classification.
func (e *Error) Kind() ErrorKind { return e.kind }

// Status returns the provider HTTP status code when Kind is ErrorKindAPI,
// otherwise 0.
func (e *Error) Status() int { return e.status }

// ProviderCode returns the provider-specific error code when available.
func (e *Error) ProviderCode() string { return e.providerCode }

// Message returns the redacted human-readable message.
func (e *Error) Message() string { return Redact(e.message) }

// Attempts returns the number of attempts made when Kind is
// ErrorKindRetryExhausted, otherwise 0.
func (e *Error) Attempts() int { return e.attempts }

// Retryable reports whether retrying the call may succeed without changing
// the request.
func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Error() string {
	msg := Redact(e.message)
	switch e.kind {
	case ErrorKindAPI:
		if e.providerCode != "" {
			return fmt.Sprintf("infer: api error %d (%s): %s", e.status, e.providerCode, msg)
		}
		return fmt.Sprintf("infer: api error %d: %s", e.status, msg)
	default:
		if e.cause != nil {
			return fmt.Sprintf("infer: %s: %s: %s", e.kind, msg, Redact(e.cause.Error()))
		}
		return fmt.Sprintf("infer: %s: %s", e.kind, msg)
	}
}

// Unwrap returns the underlying error to preserve the original chain.
func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// RetryableStatus reports whether an HTTP status is classified retriable:
// 408, 409, 425, 429, and 5xx except 501 and 505.
func RetryableStatus(status int) bool {
	switch status {
	case 408, 409, 425, 429:
		return true
	case 501, 505:
		return false
	}
	return status >= 500 && status <= 599
}
