// Package resilience provides the fault-tolerance primitives shared by every
// collaborator call site: a circuit breaker, a retry combinator, an adaptive
// timeout calculator, and the error taxonomy that drives them.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// ErrCircuitOpen is returned by Breaker.Call while the breaker is open and
// the cooldown has not elapsed. It is surfaced distinctly from task failures
// so operators can tell "the service is down" from "my task is bad".
var ErrCircuitOpen = errors.New("circuit breaker open")

// TransientError marks an error as retriable (network timeout, connection
// refused, 5xx-class collaborator failure).
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retriable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// PolicyViolationError is a content-policy rejection. Never retried.
type PolicyViolationError struct {
	Severity    string
	Explanation string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("content policy violation (severity %s): %s", e.Severity, e.Explanation)
}

// IsRetriable reports whether err is in the transient/retriable category.
// Policy violations, malformed input, and context cancellation are not;
// explicit TransientErrors, network timeouts, and connection errors are.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var policyErr *PolicyViolationError
	if errors.As(err, &policyErr) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}

	// Collaborators that only expose string errors: recognize the usual
	// 5xx-class shapes.
	msg := err.Error()
	for _, marker := range []string{"status 500", "status 502", "status 503", "status 504", "timeout", "connection refused"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}
