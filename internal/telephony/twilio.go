package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"roofcrm/internal/config"

	"github.com/go-resty/resty/v2"
)

// TwilioProvider drives calls through the Twilio Voice REST API.
//
// Signaling out: REST calls against /Accounts/{sid}/Calls.
// Signaling in: Twilio posts to our voice/status webhooks; the HTTP layer
// routes those to HandleVoiceWebhook / HandleStatusCallback, which translate
// them into Events.
type TwilioProvider struct {
	cfg  config.TwilioConfig
	http *resty.Client
	log  *slog.Logger

	mu        sync.Mutex
	connected bool

	events chan Event
}

func NewTwilioProvider(cfg config.TwilioConfig, log *slog.Logger) *TwilioProvider {
	client := resty.New().
		SetBaseURL(cfg.APIBaseURL).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken).
		SetTimeout(15 * time.Second)

	return &TwilioProvider{
		cfg:    cfg,
		http:   client,
		log:    log,
		events: make(chan Event, 32),
	}
}

func (p *TwilioProvider) Name() string { return config.ProviderTwilio }

// Connect validates the account credentials with a lightweight fetch.
func (p *TwilioProvider) Connect(ctx context.Context) error {
	resp, err := p.http.R().
		SetContext(ctx).
		Get(fmt.Sprintf("/Accounts/%s.json", p.cfg.AccountSID))
	if err != nil {
		return fmt.Errorf("telephony: twilio connect: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: twilio auth failed: status %d", resp.StatusCode())
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

type twilioCallResponse struct {
	Sid    string `json:"sid"`
	Status string `json:"status"`
}

type twilioErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (p *TwilioProvider) PlaceCall(ctx context.Context, number, callerID string) (string, error) {
	if !p.isConnected() {
		return "", ErrNotConnected
	}

	var out twilioCallResponse
	var apiErr twilioErrorResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":                  number,
			"From":                callerID,
			"Url":                 p.cfg.VoiceURL,
			"StatusCallback":      p.cfg.StatusCallbackURL,
			"StatusCallbackEvent": "initiated ringing answered completed",
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/Accounts/%s/Calls.json", p.cfg.AccountSID))
	if err != nil {
		return "", fmt.Errorf("telephony: twilio place call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("telephony: twilio rejected placement: %s (code %d)", apiErr.Message, apiErr.Code)
	}
	if out.Sid == "" {
		return "", fmt.Errorf("telephony: twilio returned no call sid")
	}
	return out.Sid, nil
}

// Answer accepts an inbound call by redirecting it to connect-to-operator
// TwiML. The inbound leg is parked on hold TwiML until this happens.
func (p *TwilioProvider) Answer(ctx context.Context, handle string) error {
	if !p.isConnected() {
		return ErrNotConnected
	}

	twiml, err := DialClientTwiML(operatorClientIdentity)
	if err != nil {
		return err
	}
	return p.updateCall(ctx, handle, map[string]string{"Twiml": twiml})
}

func (p *TwilioProvider) Hangup(ctx context.Context, handle string) error {
	if !p.isConnected() {
		return ErrNotConnected
	}
	return p.updateCall(ctx, handle, map[string]string{"Status": "completed"})
}

func (p *TwilioProvider) updateCall(ctx context.Context, handle string, form map[string]string) error {
	var apiErr twilioErrorResponse
	resp, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		SetError(&apiErr).
		Post(fmt.Sprintf("/Accounts/%s/Calls/%s.json", p.cfg.AccountSID, handle))
	if err != nil {
		return fmt.Errorf("telephony: twilio call update: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("telephony: twilio call update failed: %s (code %d)", apiErr.Message, apiErr.Code)
	}
	return nil
}

func (p *TwilioProvider) Events() <-chan Event { return p.events }

func (p *TwilioProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return nil
	}
	p.connected = false
	close(p.events)
	return nil
}

func (p *TwilioProvider) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// emit pushes an event without ever blocking a webhook response.
func (p *TwilioProvider) emit(ev Event) {
	select {
	case p.events <- ev:
	default:
		p.log.Warn("twilio event dropped, consumer too slow", "kind", ev.Kind, "handle", ev.Handle)
	}
}

// statusToEvent maps Twilio CallStatus values onto the Event vocabulary.
// Unmapped statuses (queued, initiated) carry no state-machine meaning and
// return false.
func statusToEvent(callStatus, callSid string, at time.Time) (Event, bool) {
	switch callStatus {
	case "ringing":
		return Event{Kind: EventRinging, Handle: callSid, OccurredAt: at}, true
	case "in-progress", "answered":
		return Event{Kind: EventActive, Handle: callSid, OccurredAt: at}, true
	case "completed":
		return Event{Kind: EventEnded, Handle: callSid, Cause: callStatus, OccurredAt: at}, true
	case "busy", "no-answer", "canceled":
		return Event{Kind: EventEnded, Handle: callSid, Cause: callStatus, OccurredAt: at}, true
	case "failed":
		return Event{Kind: EventFailed, Handle: callSid, Cause: callStatus, OccurredAt: at}, true
	default:
		return Event{}, false
	}
}
