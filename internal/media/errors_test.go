package media

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestTransientError_Error verifies error message formatting
func TestTransientError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *TransientError
		wantFormat string
	}{
		{
			name:       "with HTTP status code",
			err:        &TransientError{Operation: "save_item", StatusCode: 503},
			wantFormat: "transient error during save_item (HTTP 503)",
		},
		{
			name:       "with underlying error",
			err:        &TransientError{Operation: "fetch_item", Err: errors.New("connection reset")},
			wantFormat: "transient error during fetch_item: connection reset",
		},
		{
			name:       "bare",
			err:        &TransientError{Operation: "fetch_item"},
			wantFormat: "transient error during fetch_item",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

func TestRateLimitedError_Error(t *testing.T) {
	err := &RateLimitedError{Wait: 30 * time.Second}

	assert.Equal(t, "rate limited: retry after 30s", err.Error())
}

func TestNotFoundError_Error(t *testing.T) {
	err := &NotFoundError{Resource: "item", ID: "42"}

	assert.Equal(t, "item 42 not found", err.Error())
}

// TestConnectionError_Unwrap verifies error chain traversal
func TestConnectionError_Unwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &ConnectionError{Operation: "connect", Reason: "unreachable", Err: cause}

	assert.Equal(t, "connection error during connect: unreachable", err.Error())

	wrapped := fmt.Errorf("context: %w", err)
	assert.ErrorIs(t, wrapped, cause)

	var connErr *ConnectionError
	assert.ErrorAs(t, wrapped, &connErr)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassUnknown},
		{"plain", errors.New("boom"), ClassUnknown},
		{"transient", &TransientError{Operation: "x"}, ClassTransient},
		{"wrapped transient", fmt.Errorf("attempt: %w", &TransientError{Operation: "x"}), ClassTransient},
		{"rate limited", &RateLimitedError{Wait: time.Second}, ClassRateLimited},
		{"not found", &NotFoundError{Resource: "item", ID: "1"}, ClassNotFound},
		{"permission", &PermissionError{Resource: "item"}, ClassPermission},
		{"fs permission", fmt.Errorf("open: %w", fs.ErrPermission), ClassPermission},
		{"cancelled", &CancelledError{}, ClassCancelled},
		{"context cancelled", context.Canceled, ClassCancelled},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), ClassTransient},
		{"connection", &ConnectionError{Operation: "connect"}, ClassConnection},
		{"network op", &net.OpError{Op: "read", Net: "tcp", Err: syscall.ECONNRESET}, ClassTransient},
		{"rename exists", &os.LinkError{Op: "rename", Old: "a.part", New: "a", Err: syscall.EEXIST}, ClassUnknown},
		{"disk full", fmt.Errorf("write: %w", os.NewSyscallError("write", syscall.ENOSPC)), ClassUnknown},
		{"typed wins over context", &TransientError{Operation: "x", Err: context.Canceled}, ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryAfter(t *testing.T) {
	wait, ok := RetryAfter(fmt.Errorf("save: %w", &RateLimitedError{Wait: 2 * time.Second}))
	assert.True(t, ok)
	assert.Equal(t, 2*time.Second, wait)

	_, ok = RetryAfter(errors.New("boom"))
	assert.False(t, ok)
}
