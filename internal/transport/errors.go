package transport

import (
	"errors"
	"fmt"
)

// SendErrorKind classifies delivery failures. The broadcast executor counts
// all kinds uniformly; the kind is kept for logging and campaign details.
type SendErrorKind string

const (
	SendErrUnreachable SendErrorKind = "unreachable"  // chat gone, never started, deactivated
	SendErrForbidden   SendErrorKind = "forbidden"    // bot blocked or lacks rights
	SendErrRateLimited SendErrorKind = "rate_limited" // Telegram 429
	SendErrOther       SendErrorKind = "other"
)

// SendError wraps a transport-level delivery failure with its kind.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send failed (%s)", e.Kind)
	}
	return fmt.Sprintf("send failed (%s): %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// KindOf extracts the SendErrorKind from err, defaulting to SendErrOther.
func KindOf(err error) SendErrorKind {
	if err == nil {
		return ""
	}
	var se *SendError
	if errors.As(err, &se) {
		return se.Kind
	}
	return SendErrOther
}
