// Package chaterr holds the error taxonomy shared by the store, the chat
// service and the transports. Callers match with errors.Is / errors.As.
package chaterr

import (
	"errors"
	"fmt"
	"math"
	"time"
)

var (
	ErrAuthentication = errors.New("authentication required")
	ErrAuthorization  = errors.New("not allowed")
	ErrNotFound       = errors.New("not found")
	ErrInvalidState   = errors.New("operation not valid for message state")
	ErrValidation     = errors.New("invalid request")
	ErrRateLimited    = errors.New("rate limit exceeded")
	ErrIntegrity      = errors.New("stored message is unreadable")
)

// RateLimitedError is returned when the rate governor refuses an action.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s, retry after %s", ErrRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RetryAfterSeconds rounds up so clients never retry early.
func (e *RateLimitedError) RetryAfterSeconds() int {
	s := int(math.Ceil(e.RetryAfter.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

// Validation wraps ErrValidation with a human readable reason.
func Validation(reason string) error {
	return fmt.Errorf("%w: %s", ErrValidation, reason)
}
