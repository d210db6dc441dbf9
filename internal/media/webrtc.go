package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"roofcrm/internal/config"
)

// WebRTCGate negotiates the operator's microphone leg over WebRTC. The
// staff portal sends an SDP offer, we answer, and RTP from the browser
// surfaces on the track's RemoteAudio channel.
type WebRTCGate struct {
	log *slog.Logger

	api    *webrtc.API
	rtcCfg webrtc.Configuration

	mu     sync.Mutex
	tracks map[string]*webrtcTrack
}

func NewWebRTCGate(cfg config.MediaConfig, log *slog.Logger) (*WebRTCGate, error) {
	engine := &webrtc.MediaEngine{}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		PayloadType:        0,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}
	if err := engine.RegisterCodec(webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMA, ClockRate: 8000, Channels: 1},
		PayloadType:        8,
	}, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMA: %w", err)
	}

	setting := webrtc.SettingEngine{}
	if cfg.UDPPortMin > 0 || cfg.UDPPortMax > 0 {
		if err := setting.SetEphemeralUDPPortRange(cfg.UDPPortMin, cfg.UDPPortMax); err != nil {
			return nil, fmt.Errorf("udp port range: %w", err)
		}
	}

	iceServers := make([]webrtc.ICEServer, 0, 1)
	if len(cfg.STUNServers) > 0 {
		iceServers = append(iceServers, webrtc.ICEServer{URLs: cfg.STUNServers})
	}

	return &WebRTCGate{
		log:    log,
		api:    webrtc.NewAPI(webrtc.WithMediaEngine(engine), webrtc.WithSettingEngine(setting)),
		rtcCfg: webrtc.Configuration{ICEServers: iceServers},
		tracks: map[string]*webrtcTrack{},
	}, nil
}

func (g *WebRTCGate) AcquireLocal(ctx context.Context) (Track, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pc, err := g.api.NewPeerConnection(g.rtcCfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	out, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: 8000, Channels: 1},
		"audio",
		"roofcrm-call",
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(out)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	// Drain RTCP so interceptors keep running.
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, rErr := sender.Read(buf); rErr != nil {
				return
			}
		}
	}()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	t := &webrtcTrack{
		id:     uuid.NewString(),
		pc:     pc,
		out:    out,
		remote: make(chan []byte, 64),
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		g.log.Debug("operator audio track up", "track_id", t.id, "codec", remote.Codec().MimeType)
		for {
			pkt, _, rErr := remote.ReadRTP()
			if rErr != nil {
				return
			}
			if t.Muted() {
				continue
			}
			t.forward(pkt.Payload)
		}
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		g.log.Debug("peer connection state", "track_id", t.id, "state", state.String())
	})

	g.mu.Lock()
	g.tracks[t.id] = t
	g.mu.Unlock()
	return t, nil
}

// Negotiate answers the portal's SDP offer for the given track and returns
// the local description once ICE gathering completes.
func (g *WebRTCGate) Negotiate(t Track, offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	wt, err := g.lookup(t)
	if err != nil {
		return nil, err
	}
	if err := wt.pc.SetRemoteDescription(offer); err != nil {
		return nil, fmt.Errorf("set remote description: %w", err)
	}
	answer, err := wt.pc.CreateAnswer(nil)
	if err != nil {
		return nil, fmt.Errorf("create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(wt.pc)
	if err := wt.pc.SetLocalDescription(answer); err != nil {
		return nil, fmt.Errorf("set local description: %w", err)
	}
	<-gathered
	return wt.pc.LocalDescription(), nil
}

// PlayAudio pushes far end audio payloads down to the operator's browser.
func (g *WebRTCGate) PlayAudio(t Track, payload []byte) error {
	wt, err := g.lookup(t)
	if err != nil {
		return err
	}
	wt.sendMu.Lock()
	defer wt.sendMu.Unlock()

	pkt := &rtp.Packet{Header: rtp.Header{
		Version:        2,
		PayloadType:    0,
		SequenceNumber: wt.seq,
		Timestamp:      wt.timestamp,
		SSRC:           1,
	}, Payload: payload}
	if err := wt.out.WriteRTP(pkt); err != nil {
		return err
	}
	wt.seq++
	wt.timestamp += uint32(len(payload))
	return nil
}

func (g *WebRTCGate) Release(t Track) {
	wt, ok := t.(*webrtcTrack)
	if !ok || wt == nil {
		return
	}
	g.mu.Lock()
	_, known := g.tracks[wt.id]
	delete(g.tracks, wt.id)
	g.mu.Unlock()
	if !known {
		return
	}

	if err := wt.pc.Close(); err != nil {
		g.log.Warn("peer connection close failed", "track_id", wt.id, "error", err)
	}
	wt.closeRemote()
}

func (g *WebRTCGate) SetMuted(t Track, muted bool) {
	if wt, ok := t.(*webrtcTrack); ok && wt != nil {
		wt.muted.Store(muted)
	}
}

func (g *WebRTCGate) Close() error {
	g.mu.Lock()
	tracks := make([]*webrtcTrack, 0, len(g.tracks))
	for _, t := range g.tracks {
		tracks = append(tracks, t)
	}
	g.mu.Unlock()

	for _, t := range tracks {
		g.Release(t)
	}
	return nil
}

func (g *WebRTCGate) lookup(t Track) (*webrtcTrack, error) {
	wt, ok := t.(*webrtcTrack)
	if !ok || wt == nil {
		return nil, fmt.Errorf("media: foreign track %T", t)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, known := g.tracks[wt.id]; !known {
		return nil, fmt.Errorf("media: track %s already released", wt.id)
	}
	return wt, nil
}

type webrtcTrack struct {
	id  string
	pc  *webrtc.PeerConnection
	out *webrtc.TrackLocalStaticRTP

	remoteMu     sync.Mutex
	remote       chan []byte
	remoteClosed bool

	muted atomic.Bool

	sendMu    sync.Mutex
	seq       uint16
	timestamp uint32
}

func (t *webrtcTrack) ID() string                 { return t.id }
func (t *webrtcTrack) RemoteAudio() <-chan []byte { return t.remote }
func (t *webrtcTrack) Muted() bool                { return t.muted.Load() }

// forward hands a payload to the consumer. Serialized against closeRemote so
// Release can never close the channel under a reader mid-send; the send
// itself never blocks, a slow consumer just drops audio.
func (t *webrtcTrack) forward(payload []byte) {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()
	if t.remoteClosed {
		return
	}
	select {
	case t.remote <- payload:
	default:
	}
}

func (t *webrtcTrack) closeRemote() {
	t.remoteMu.Lock()
	defer t.remoteMu.Unlock()
	if !t.remoteClosed {
		t.remoteClosed = true
		close(t.remote)
	}
}
