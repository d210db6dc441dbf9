package media

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"roofcrm/internal/config"
)

func testGate(t *testing.T, cfg config.MediaConfig) *WebRTCGate {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	g, err := NewWebRTCGate(cfg, log)
	if err != nil {
		t.Fatalf("NewWebRTCGate: %v", err)
	}
	t.Cleanup(func() { _ = g.Close() })
	return g
}

func TestWebRTCGateImplementsGate(t *testing.T) {
	var _ Gate = (*WebRTCGate)(nil)
}

func TestNewWebRTCGateRejectsInvertedPortRange(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewWebRTCGate(config.MediaConfig{UDPPortMin: 20000, UDPPortMax: 10000}, log); err == nil {
		t.Fatal("expected error for inverted UDP port range")
	}
}

func TestAcquireLocalAssignsDistinctTracks(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	a, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	b, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	if a.ID() == "" || a.ID() == b.ID() {
		t.Fatalf("expected distinct track ids, got %q and %q", a.ID(), b.ID())
	}
}

func TestAcquireLocalHonorsCancelledContext(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := g.AcquireLocal(ctx); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestSetMutedTogglesTrack(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	tr, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	if tr.Muted() {
		t.Fatal("new track should start unmuted")
	}
	g.SetMuted(tr, true)
	if !tr.Muted() {
		t.Fatal("expected track muted")
	}
	g.SetMuted(tr, false)
	if tr.Muted() {
		t.Fatal("expected track unmuted")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	tr, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	g.Release(tr)
	g.Release(tr)

	if _, ok := <-tr.RemoteAudio(); ok {
		t.Fatal("RemoteAudio should be closed after release")
	}
}

func TestForwardSurvivesConcurrentRelease(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	tr, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	wt := tr.(*webrtcTrack)

	// Keep feeding audio while the track is torn down underneath; a send on
	// the closed channel would panic the process.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 500; i++ {
			wt.forward([]byte{0x7f, 0x7f})
		}
	}()
	g.Release(tr)
	<-done

	for range tr.RemoteAudio() {
		// Drain whatever landed before the close.
	}
	wt.forward([]byte{0x7f})
}

func TestPlayAudioAfterReleaseFails(t *testing.T) {
	g := testGate(t, config.MediaConfig{})

	tr, err := g.AcquireLocal(context.Background())
	if err != nil {
		t.Fatalf("AcquireLocal: %v", err)
	}
	g.Release(tr)
	if err := g.PlayAudio(tr, []byte{0xff, 0x7f}); err == nil {
		t.Fatal("expected error for released track")
	}
}
