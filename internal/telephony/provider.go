package telephony

import (
	"context"
	"errors"
	"time"
)

// Provider is the provider-agnostic signaling interface used by call control.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Adapters translate backend-specific signaling into the Event vocabulary
//   below; they carry no CRM knowledge.
// - Swapping backends must not require any change to the call controller;
//   the active adapter is chosen by configuration in main.
type Provider interface {
	Name() string

	// Connect establishes the signaling channel using the credentials the
	// adapter was constructed with. Safe to retry after failure.
	Connect(ctx context.Context) error

	// PlaceCall starts an outbound call and returns the provider's handle
	// for it. Rejection at placement is returned as an error; later
	// progress arrives on Events tagged with the handle.
	PlaceCall(ctx context.Context, number, callerID string) (string, error)

	// Answer accepts the incoming call identified by handle.
	Answer(ctx context.Context, handle string) error

	// Hangup terminates the call identified by handle. Callers must treat
	// a Hangup error as non-fatal; local teardown proceeds regardless.
	Hangup(ctx context.Context, handle string) error

	// Events returns the adapter's notification stream. The channel is
	// closed by Close.
	Events() <-chan Event

	Close() error
}

var ErrNotConnected = errors.New("telephony: provider not connected")

// EventKind is the closed set of call-progress notifications every adapter
// must translate its backend's signaling into.
type EventKind string

const (
	// EventIncoming announces a new inbound call (Handle and Number set).
	EventIncoming EventKind = "incoming"
	// EventRinging means the remote end is being alerted.
	EventRinging EventKind = "ringing"
	// EventActive means media is flowing; the call is answered.
	EventActive EventKind = "active"
	// EventEnded means the call finished, whatever the reason. An EventEnded
	// without a preceding EventActive is a call that never connected.
	EventEnded EventKind = "ended"
	// EventFailed means the backend reported an error for the call.
	EventFailed EventKind = "failed"
)

// Event is a call-progress notification tagged by provider call handle.
type Event struct {
	Kind   EventKind
	Handle string

	// Number is the caller number, set on incoming events.
	Number string

	// Cause carries the provider-specific end/failure reason, if any.
	Cause string

	OccurredAt time.Time
}
