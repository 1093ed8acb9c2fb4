package fetch

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure for callers that branch on recovery.
type Kind string

const (
	KindTimeout     Kind = "timeout"      // wall clock exceeded
	KindTransport   Kind = "transport"    // connection-level failure
	KindStatus      Kind = "status"       // non-2xx response
	KindRateLimited Kind = "rate_limited" // 429 persisted through retries
)

// Error is the failure type of every Client call.
type Error struct {
	Kind   Kind
	Status int // HTTP status for KindStatus / KindRateLimited, else 0
	URL    string
	Err    error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindStatus:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	case KindRateLimited:
		return fmt.Sprintf("fetch %s: rate limited (429)", e.URL)
	default:
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the fetch kind, or "" when err is not a fetch error.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// StatusOf returns the HTTP status of a fetch status error, or 0.
func StatusOf(err error) int {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Status
	}
	return 0
}
