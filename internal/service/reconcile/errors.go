package reconcile

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies why a reconcile failed.
type Reason string

const (
	ReasonPlatformError     Reason = "PLATFORM_ERROR"
	ReasonRecoveryExhausted Reason = "RECOVERY_EXHAUSTED"
	ReasonTimeout           Reason = "TIMEOUT"
	ReasonValidation        Reason = "VALIDATION_ERROR"
)

// Error is returned by Reconcile for every unrecovered failure.
type Error struct {
	Reason Reason
	Op     string
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("reconcile %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("reconcile %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ReasonOf extracts the failure reason from err, or "" when err is not a reconcile error.
func ReasonOf(err error) Reason {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Reason
	}
	return ""
}

func newError(reason Reason, op string, err error) error {
	return &Error{Reason: reason, Op: op, Err: err}
}

// platformError classifies a control-plane failure. Calls cut short by the overall
// deadline count as timeouts.
func platformError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(ReasonTimeout, op, err)
	}
	return newError(ReasonPlatformError, op, err)
}
