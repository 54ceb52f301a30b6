package amber

import (
	"fmt"
	"time"

	drepo "AmberPull/internal/domain/repository"
)

// ErrRateLimited matches any *RateLimitedError via errors.Is.
var ErrRateLimited = drepo.ErrRateLimited

// APIError is a non-2xx, non-429 response from the upstream API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("amber api error (%d)", e.Status)
	}
	return fmt.Sprintf("amber api error (%d): %s", e.Status, e.Message)
}

// RateLimitedError is returned on a 429 or while local backoff is active.
// ResetSeconds is set when the response carried a usable reset header.
type RateLimitedError struct {
	ResetSeconds *int
	Until        time.Time
}

func (e *RateLimitedError) Error() string {
	if e.Until.IsZero() {
		return ErrRateLimited.Error()
	}
	return fmt.Sprintf("%s until %s", ErrRateLimited.Error(), e.Until.Format(time.TimeOnly))
}

func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }
