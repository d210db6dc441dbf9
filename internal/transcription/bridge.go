package transcription

import "context"

// Bridge streams live call audio to a transcription backend. Transcription
// is an optional side channel: bridge failures must never affect the call.
type Bridge interface {
	// Start begins streaming audio for callID. It returns once the backend
	// connection is up; forwarding continues in the background until the
	// audio channel closes or Stop is called.
	Start(ctx context.Context, callID string, audio <-chan []byte) error

	// Stop tears down the stream for callID. It is safe to call when no
	// stream exists and is invoked unconditionally on call teardown.
	Stop(callID string)

	Close() error
}

// NopBridge is used when live transcription is disabled.
type NopBridge struct{}

func (NopBridge) Start(ctx context.Context, callID string, audio <-chan []byte) error { return nil }
func (NopBridge) Stop(callID string)                                                  {}
func (NopBridge) Close() error                                                        { return nil }
