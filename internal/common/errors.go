package common

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	ErrInternal   = errors.New("internal error")
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrValidation = errors.New("validation error")

	// ErrUpstream marks a failed or malformed response from the
	// generation API. The message carries upstream's msg when present.
	ErrUpstream = errors.New("upstream error")

	// ErrPollTimeout is returned when a poll session exhausts its
	// attempt budget before reaching a terminal status.
	ErrPollTimeout = errors.New("status polling timed out")

	ErrSongNotFound = fmt.Errorf("song %w", ErrNotFound)
)

// UpstreamError wraps ErrUpstream with upstream's own message and code.
type UpstreamError struct {
	Code int
	Msg  string
}

func (e *UpstreamError) Error() string {
	if e.Msg == "" {
		return "upstream error"
	}
	return e.Msg
}

// Is implements errors.Is for UpstreamError
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}

// NewUpstreamError builds an UpstreamError, falling back to a generic
// message when upstream supplied none.
func NewUpstreamError(code int, msg, fallback string) *UpstreamError {
	if msg == "" {
		msg = fallback
	}
	return &UpstreamError{Code: code, Msg: msg}
}

// WrapInternal wraps an error as an internal error with context
func WrapInternal(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrInternal, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsUpstream checks if error came from the generation API
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstream)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
