package callcontrol

import (
	"time"

	"roofcrm/internal/callrecords"
)

// Status is the call lifecycle position. Ended is a transient flush state;
// the resting state after every call is Idle.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusRinging    Status = "ringing"
	StatusActive     Status = "active"
	StatusEnded      Status = "ended"
)

// transitions is the closed set of legal moves. Idle reaches Connecting via
// a dial and Ringing via an incoming notification; every non-idle status can
// fall to Ended (hangup, remote end, provider error).
var transitions = map[Status][]Status{
	StatusIdle:       {StatusConnecting, StatusRinging},
	StatusConnecting: {StatusRinging, StatusActive, StatusEnded},
	StatusRinging:    {StatusActive, StatusEnded},
	StatusActive:     {StatusEnded},
	StatusEnded:      {StatusIdle},
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CallState is the authoritative in-memory record of the current call,
// handed to subscribers as an immutable snapshot.
//
// Invariants:
// - CallID is non-empty for every status except idle.
// - StartTime is set only on the transition into active.
// - DurationSeconds ticks only while active, is frozen at call end, and is
//   zero whenever the status is idle.
type CallState struct {
	CallID       string                `json:"call_id,omitempty"`
	Status       Status                `json:"status"`
	Direction    callrecords.Direction `json:"direction,omitempty"`
	RemoteNumber string                `json:"remote_number,omitempty"`
	ContactID    string                `json:"contact_id,omitempty"`

	StartTime       *time.Time `json:"start_time,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`

	IsMuted bool `json:"is_muted"`
}
