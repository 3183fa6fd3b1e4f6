package llm

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrProviderExhausted is returned when every pair in a tier's
	// fallback chain failed all its attempts.
	ErrProviderExhausted = errors.New("provider exhausted")

	// ErrMalformedReply is returned by callers' parsers when a provider
	// reply cannot be decoded into the expected structure.
	ErrMalformedReply = errors.New("provider malformed reply")
)

// ErrorKind classifies a provider failure for retry decisions.
type ErrorKind string

const (
	// KindTransient covers transport errors and 5xx responses.
	KindTransient ErrorKind = "transient"
	// KindRateLimited covers explicit 429s; RetryAfter may carry a hint.
	KindRateLimited ErrorKind = "rate_limited"
	// KindBadRequest covers non-retryable 4xx responses.
	KindBadRequest ErrorKind = "bad_request"
	// KindContextLength covers context-length-exceeded rejections.
	KindContextLength ErrorKind = "context_length"
)

// ProviderError is the classified error an adapter returns for a failed
// attempt.
type ProviderError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string

	// RetryAfter is the server's backoff hint for rate limits (0 = none).
	RetryAfter time.Duration
}

// Error returns the formatted error message.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s (%s)", e.Provider, e.Message, e.Kind)
}

// Retryable reports whether the router may retry this attempt.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindTransient || e.Kind == KindRateLimited
}
