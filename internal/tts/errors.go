package tts

import (
	"errors"
	"fmt"
)

// Structured errors surfaced by the orchestration core. The transport layer
// maps these onto protocol responses; none are swallowed silently except
// cache-write failures, which only cost memoization.
var (
	// ErrInvalidRequest covers requests rejected before any cache or
	// backend work: empty or oversized text, unknown quality tiers.
	ErrInvalidRequest = errors.New("invalid synthesis request")

	// ErrEmptyText is returned when the text is empty after trimming.
	ErrEmptyText = fmt.Errorf("%w: text is empty", ErrInvalidRequest)

	// ErrTextTooLong is returned when the text exceeds the configured limit.
	ErrTextTooLong = fmt.Errorf("%w: text exceeds maximum length", ErrInvalidRequest)

	// ErrInvalidQuality is returned for an unrecognized quality tier.
	ErrInvalidQuality = fmt.Errorf("%w: unknown quality tier", ErrInvalidRequest)

	// ErrBackendNotFound is returned when a named backend is not registered.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrBackendUnavailable is returned when a backend exists but is not
	// currently healthy. An explicitly named backend never falls back.
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrNoBackendAvailable is returned when every candidate in the
	// selection priority order is unavailable.
	ErrNoBackendAvailable = errors.New("no TTS backend available")

	// ErrInvalidVoice is returned when a backend does not recognize the
	// requested voice identifier.
	ErrInvalidVoice = errors.New("unrecognized voice")

	// ErrSynthesisFailed wraps backend-internal errors during synthesis.
	ErrSynthesisFailed = errors.New("synthesis failed")

	// ErrNotInitialized is returned by backend operations invoked before a
	// successful Initialize.
	ErrNotInitialized = errors.New("backend not initialized")
)

// BackendError attaches the backend name and operation to an underlying
// error so failures stay attributable after crossing the manager.
type BackendError struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError wraps err with backend attribution.
func NewBackendError(backend, op string, err error) *BackendError {
	return &BackendError{Backend: backend, Op: op, Err: err}
}
