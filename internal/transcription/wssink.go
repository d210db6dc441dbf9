package transcription

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"roofcrm/internal/config"
)

const (
	sinkDialTimeout  = 10 * time.Second
	sinkWriteTimeout = 5 * time.Second
)

// sinkFrame is the control envelope sent as websocket text frames. Audio
// payloads travel as binary frames between "start" and "stop".
type sinkFrame struct {
	Type       string `json:"type"`
	CallID     string `json:"call_id,omitempty"`
	Codec      string `json:"codec,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

// WSSink bridges call audio to an external transcription service over a
// websocket per call.
type WSSink struct {
	cfg config.TranscriptionConfig
	log *slog.Logger

	mu      sync.Mutex
	streams map[string]*sinkStream
}

type sinkStream struct {
	conn *websocket.Conn
	done chan struct{}
	once sync.Once

	writeMu sync.Mutex
}

func NewWSSink(cfg config.TranscriptionConfig, log *slog.Logger) *WSSink {
	return &WSSink{cfg: cfg, log: log, streams: map[string]*sinkStream{}}
}

func (s *WSSink) Start(ctx context.Context, callID string, audio <-chan []byte) error {
	s.mu.Lock()
	if _, exists := s.streams[callID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("transcription: stream for call %s already running", callID)
	}
	s.mu.Unlock()

	header := http.Header{}
	if s.cfg.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.cfg.AuthToken)
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = sinkDialTimeout

	conn, resp, err := dialer.DialContext(ctx, s.cfg.SinkURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("transcription: dial %s: status %d: %w", s.cfg.SinkURL, resp.StatusCode, err)
		}
		return fmt.Errorf("transcription: dial %s: %w", s.cfg.SinkURL, err)
	}

	st := &sinkStream{conn: conn, done: make(chan struct{})}
	if err := st.writeJSON(sinkFrame{Type: "start", CallID: callID, Codec: "pcmu", SampleRate: 8000}); err != nil {
		_ = conn.Close()
		return fmt.Errorf("transcription: start frame: %w", err)
	}

	s.mu.Lock()
	s.streams[callID] = st
	s.mu.Unlock()

	go s.forward(callID, st, audio)
	return nil
}

func (s *WSSink) forward(callID string, st *sinkStream, audio <-chan []byte) {
	defer s.teardown(callID, st)

	for {
		select {
		case <-st.done:
			return
		case payload, ok := <-audio:
			if !ok {
				return
			}
			st.writeMu.Lock()
			_ = st.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout))
			err := st.conn.WriteMessage(websocket.BinaryMessage, payload)
			st.writeMu.Unlock()
			if err != nil {
				s.log.Warn("transcription stream write failed", "call_id", callID, "error", err)
				return
			}
		}
	}
}

func (s *WSSink) Stop(callID string) {
	s.mu.Lock()
	st := s.streams[callID]
	s.mu.Unlock()
	if st == nil {
		return
	}
	s.teardown(callID, st)
}

func (s *WSSink) teardown(callID string, st *sinkStream) {
	st.once.Do(func() {
		close(st.done)
		if err := st.writeJSON(sinkFrame{Type: "stop", CallID: callID}); err != nil {
			s.log.Debug("transcription stop frame failed", "call_id", callID, "error", err)
		}
		_ = st.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = st.conn.Close()
	})

	s.mu.Lock()
	if s.streams[callID] == st {
		delete(s.streams, callID)
	}
	s.mu.Unlock()
}

func (s *WSSink) Close() error {
	s.mu.Lock()
	ids := make([]string, 0, len(s.streams))
	for id := range s.streams {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
	return nil
}

func (st *sinkStream) writeJSON(f sinkFrame) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_ = st.conn.SetWriteDeadline(time.Now().Add(sinkWriteTimeout))
	return st.conn.WriteJSON(f)
}
