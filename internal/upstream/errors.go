package upstream

import (
	"errors"
	"fmt"
)

// ErrRateStalled is returned when no governor permit arrived before the
// permit timeout. Callers skip the cycle for that pull; they never wait
// out a long window inline.
var ErrRateStalled = errors.New("rate permit unavailable before timeout")

// RejectedError is a non-429 4xx from the provider: the request itself
// is wrong and retrying cannot help.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("upstream rejected request: status %d: %s", e.Status, e.Body)
}

// MalformedError is a payload that failed decoding or shape validation.
// Not retried; the payload is captured for the error log.
type MalformedError struct {
	Endpoint string
	Cause    error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("upstream payload malformed on %s: %v", e.Endpoint, e.Cause)
}

func (e *MalformedError) Unwrap() error { return e.Cause }

// UnavailableError means every retry attempt failed on a transient
// condition (5xx, network error, timeout).
type UnavailableError struct {
	Endpoint string
	Attempts int
	Last     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("upstream unavailable on %s after %d attempts: %v", e.Endpoint, e.Attempts, e.Last)
}

func (e *UnavailableError) Unwrap() error { return e.Last }
