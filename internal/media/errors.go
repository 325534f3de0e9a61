package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/url"
	"time"
)

// ConnectionError represents a failure to reach or authorize against the
// remote service. It is fatal to a run when raised before any task starts.
type ConnectionError struct {
	Operation string // The operation that failed (e.g., "connect")
	Reason    string // Human-readable explanation
	Err       error  // Underlying error, if any
}

func (e *ConnectionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("connection error during %s: %s", e.Operation, e.Reason)
	}

	return fmt.Sprintf("connection error during %s", e.Operation)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// NotFoundError represents a remote resource (target or item) that does not exist.
type NotFoundError struct {
	Resource string // "target" or "item"
	ID       string
	Err      error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return e.Err
}

// PermissionError represents access denied by the remote service or the local filesystem.
type PermissionError struct {
	Resource string
	Err      error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied for %s", e.Resource)
}

func (e *PermissionError) Unwrap() error {
	return e.Err
}

// TransientError represents a network failure that is worth retrying,
// including request timeouts and 5xx responses.
type TransientError struct {
	Operation  string
	StatusCode int // HTTP status code, if applicable (0 for non-HTTP errors)
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("transient error during %s (HTTP %d)", e.Operation, e.StatusCode)
	}

	if e.Err != nil {
		return fmt.Sprintf("transient error during %s: %v", e.Operation, e.Err)
	}

	return fmt.Sprintf("transient error during %s", e.Operation)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// RateLimitedError is raised when the remote service demands a mandatory wait.
type RateLimitedError struct {
	Wait time.Duration
	Err  error
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited: retry after %s", e.Wait)
}

func (e *RateLimitedError) Unwrap() error {
	return e.Err
}

// CancelledError signals that a transfer observed cooperative cancellation.
type CancelledError struct {
	Err error
}

func (e *CancelledError) Error() string {
	return "download cancelled"
}

func (e *CancelledError) Unwrap() error {
	return e.Err
}

// Class is the retry-relevant classification of an error.
type Class int

const (
	ClassUnknown Class = iota
	ClassTransient
	ClassRateLimited
	ClassNotFound
	ClassPermission
	ClassCancelled
	ClassConnection
)

var classNames = map[Class]string{
	ClassUnknown:     "unknown",
	ClassTransient:   "transient",
	ClassRateLimited: "rate_limited",
	ClassNotFound:    "not_found",
	ClassPermission:  "permission_denied",
	ClassCancelled:   "cancelled",
	ClassConnection:  "connection",
}

func (c Class) String() string {
	return classNames[c]
}

// Classify maps any error onto the taxonomy. Typed errors win over
// context and filesystem sentinels found deeper in the chain.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var (
		rateErr   *RateLimitedError
		cancelErr *CancelledError
		notFound  *NotFoundError
		permErr   *PermissionError
		transient *TransientError
		connErr   *ConnectionError
		opErr     *net.OpError
		urlErr    *url.Error
	)

	switch {
	case errors.As(err, &rateErr):
		return ClassRateLimited
	case errors.As(err, &cancelErr):
		return ClassCancelled
	case errors.As(err, &notFound):
		return ClassNotFound
	case errors.As(err, &permErr):
		return ClassPermission
	case errors.As(err, &transient):
		return ClassTransient
	case errors.As(err, &connErr):
		return ClassConnection
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTransient
	case errors.Is(err, fs.ErrPermission):
		return ClassPermission
	case errors.As(err, &opErr):
		return ClassTransient
	case errors.As(err, &urlErr) && urlErr.Timeout():
		return ClassTransient
	}

	return ClassUnknown
}

// RetryAfter extracts the server-mandated wait from a rate limit error.
func RetryAfter(err error) (time.Duration, bool) {
	var rateErr *RateLimitedError
	if errors.As(err, &rateErr) {
		return rateErr.Wait, true
	}

	return 0, false
}
