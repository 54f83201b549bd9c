package chain

import (
	"context"
	"errors"
	"net"
	"strings"
)

// TransientError marks a source failure that should be retried with the same
// block range.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient source error: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient wraps err as retryable. Returns nil for nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err should be retried rather than treated as
// fatal for the scanner. Cancellation is not transient: the caller is
// shutting down.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"timed out",
		"rate limit",
		"too many requests",
		"connection refused",
		"connection reset",
		"eof",
		"502",
		"503",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
