package callcontrol

import (
	"errors"
	"fmt"
)

// Call errors returned to the operator. Each maps to a distinct user-facing
// failure; everything else (persistence, hangup-path failures) is absorbed
// and logged.
var (
	ErrNotReady        = errors.New("callcontrol: controller not initialized")
	ErrBusy            = errors.New("callcontrol: another call is already in flight")
	ErrMediaDenied     = errors.New("callcontrol: microphone access denied")
	ErrSignalingFailed = errors.New("callcontrol: provider rejected the request")
	ErrNoRingingCall   = errors.New("callcontrol: no ringing inbound call")
)

// InitError reports a failed controller initialization. The controller is
// left retryable; a later Initialize may succeed.
type InitError struct {
	Reason string
	Err    error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("callcontrol: initialize: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("callcontrol: initialize: %s", e.Reason)
}

func (e *InitError) Unwrap() error { return e.Err }
