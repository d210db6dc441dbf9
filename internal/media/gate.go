package media

import (
	"context"
	"errors"
)

// ErrPermissionDenied means the operator's browser refused microphone access.
var ErrPermissionDenied = errors.New("media: microphone permission denied")

// Track is a live audio session for one call: the operator's microphone
// leg negotiated with the staff portal.
type Track interface {
	ID() string

	// RemoteAudio yields raw audio payloads captured from the operator's
	// microphone. The channel is closed when the track is released.
	RemoteAudio() <-chan []byte

	Muted() bool
}

// Gate owns acquisition and release of the operator audio device.
//
// Invariant: Release must be called on every code path that ends a call,
// including early failures before signaling is confirmed. Release is
// idempotent; releasing an already-released track is a no-op.
type Gate interface {
	AcquireLocal(ctx context.Context) (Track, error)
	Release(t Track)
	SetMuted(t Track, muted bool)
}
