package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"roofcrm/internal/config"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// SIPBridgeProvider drives calls through an external SIP media gateway over a
// persistent websocket signaling channel.
//
// The gateway owns the SIP stack, codec negotiation, and NAT traversal; this
// adapter only exchanges JSON command/event frames with it:
//
//	-> {"type":"command","id":"...","command":"invite","call_id":"...","to":"+1...","from":"+1..."}
//	<- {"type":"ack","id":"..."}
//	<- {"type":"event","event":"ringing","call_id":"..."}
type SIPBridgeProvider struct {
	cfg config.SIPBridgeConfig
	log *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan bridgeFrame

	events chan Event
}

type bridgeFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Command string `json:"command,omitempty"`
	CallID  string `json:"call_id,omitempty"`
	To      string `json:"to,omitempty"`
	From    string `json:"from,omitempty"`
	Event   string `json:"event,omitempty"`
	Number  string `json:"number,omitempty"`
	Cause   string `json:"cause,omitempty"`
	Error   string `json:"error,omitempty"`
}

func NewSIPBridgeProvider(cfg config.SIPBridgeConfig, log *slog.Logger) *SIPBridgeProvider {
	return &SIPBridgeProvider{
		cfg:     cfg,
		log:     log,
		pending: make(map[string]chan bridgeFrame),
		events:  make(chan Event, 32),
	}
}

func (p *SIPBridgeProvider) Name() string { return config.ProviderSIPBridge }

func (p *SIPBridgeProvider) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		return nil
	}

	hdr := http.Header{}
	if p.cfg.AuthToken != "" {
		hdr.Set("Authorization", "Bearer "+p.cfg.AuthToken)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, p.cfg.URL, hdr)
	if err != nil {
		return fmt.Errorf("telephony: sipbridge connect: %w", err)
	}
	p.conn = conn

	go p.readLoop(conn)
	return nil
}

func (p *SIPBridgeProvider) PlaceCall(ctx context.Context, number, callerID string) (string, error) {
	handle := uuid.NewString()
	err := p.command(ctx, bridgeFrame{
		Command: "invite",
		CallID:  handle,
		To:      number,
		From:    callerID,
	})
	if err != nil {
		return "", err
	}
	return handle, nil
}

func (p *SIPBridgeProvider) Answer(ctx context.Context, handle string) error {
	return p.command(ctx, bridgeFrame{Command: "answer", CallID: handle})
}

func (p *SIPBridgeProvider) Hangup(ctx context.Context, handle string) error {
	return p.command(ctx, bridgeFrame{Command: "bye", CallID: handle})
}

func (p *SIPBridgeProvider) Events() <-chan Event { return p.events }

func (p *SIPBridgeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	return err
}

// command sends a frame and waits for the gateway's ack.
func (p *SIPBridgeProvider) command(ctx context.Context, frame bridgeFrame) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	frame.Type = "command"
	frame.ID = uuid.NewString()

	ackCh := make(chan bridgeFrame, 1)
	p.pendingMu.Lock()
	p.pending[frame.ID] = ackCh
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, frame.ID)
		p.pendingMu.Unlock()
	}()

	p.writeMu.Lock()
	err := conn.WriteJSON(frame)
	p.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("telephony: sipbridge %s: %w", frame.Command, err)
	}

	timeout := p.cfg.CommandTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ackCh:
		if ack.Type == "error" || ack.Error != "" {
			return fmt.Errorf("telephony: sipbridge %s rejected: %s", frame.Command, ack.Error)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("telephony: sipbridge %s: ack timeout", frame.Command)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// readLoop translates gateway frames into acks and Events until the
// connection drops, then closes the event stream.
func (p *SIPBridgeProvider) readLoop(conn *websocket.Conn) {
	defer close(p.events)

	for {
		var frame bridgeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				p.log.Warn("sipbridge signaling dropped", "err", err)
			}
			return
		}

		switch frame.Type {
		case "ack", "error":
			p.pendingMu.Lock()
			ch := p.pending[frame.ID]
			p.pendingMu.Unlock()
			if ch != nil {
				ch <- frame
			}
		case "event":
			if ev, ok := p.translate(frame); ok {
				select {
				case p.events <- ev:
				default:
					p.log.Warn("sipbridge event dropped, consumer too slow", "event", frame.Event, "call_id", frame.CallID)
				}
			}
		default:
			p.log.Debug("sipbridge frame ignored", "type", frame.Type)
		}
	}
}

func (p *SIPBridgeProvider) translate(frame bridgeFrame) (Event, bool) {
	now := time.Now().UTC()
	switch frame.Event {
	case "incoming":
		number := frame.Number
		if number == "" {
			number = frame.From
		}
		return Event{Kind: EventIncoming, Handle: frame.CallID, Number: number, OccurredAt: now}, true
	case "ringing":
		return Event{Kind: EventRinging, Handle: frame.CallID, OccurredAt: now}, true
	case "active", "answered":
		return Event{Kind: EventActive, Handle: frame.CallID, OccurredAt: now}, true
	case "ended", "bye":
		return Event{Kind: EventEnded, Handle: frame.CallID, Cause: frame.Cause, OccurredAt: now}, true
	case "failed":
		return Event{Kind: EventFailed, Handle: frame.CallID, Cause: frame.Cause, OccurredAt: now}, true
	default:
		return Event{}, false
	}
}
