package callcontrol

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"roofcrm/internal/callrecords"
	"roofcrm/internal/media"
	"roofcrm/internal/telephony"
)

// RecordPort is the boundary to the persisted call-history store. Writes
// through it are best-effort: failures are logged as warnings and never
// block a call from proceeding or ending.
type RecordPort interface {
	Create(ctx context.Context, req callrecords.NewRecord) (string, error)
	Finalize(ctx context.Context, workspaceID, id string, fin callrecords.Finalization) error
}

// Options configures a controller for one operator session.
type Options struct {
	WorkspaceID string
	UserID      string

	// CallerID is the number presented on outbound calls.
	CallerID string

	Logger *slog.Logger
}

// Controller owns the authoritative CallState for one operator session and
// orchestrates the provider, media gate, transcription bridge and record
// port around it. All state mutations are serialized through the controller;
// there is never more than one call in flight per session.
type Controller struct {
	log      *slog.Logger
	provider telephony.Provider
	gate     media.Gate
	records  RecordPort
	bridge   Transcriber
	opts     Options

	clock func() time.Time
	timer *DurationTimer

	mu          sync.Mutex
	initialized bool
	inFlight    bool
	pending     []telephony.Event
	st          CallState
	handle      string
	recordID    string
	answeredAt  *time.Time
	track       media.Track

	subMu   sync.Mutex
	subs    map[int]func(CallState)
	nextSub int

	loopOnce sync.Once
}

// Transcriber is the slice of the transcription bridge the controller
// needs. Kept narrow so tests can substitute a fake.
type Transcriber interface {
	Start(ctx context.Context, callID string, audio <-chan []byte) error
	Stop(callID string)
}

func New(provider telephony.Provider, gate media.Gate, records RecordPort, bridge Transcriber, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With("workspace_id", opts.WorkspaceID, "user_id", opts.UserID)

	c := &Controller{
		log:      log,
		provider: provider,
		gate:     gate,
		records:  records,
		bridge:   bridge,
		opts:     opts,
		clock:    time.Now,
		st:       CallState{Status: StatusIdle},
		subs:     map[int]func(CallState){},
	}
	c.timer = NewDurationTimer(func() time.Time { return c.clock() })
	return c
}

// Initialize establishes the provider connection and wires the event
// listener. Idempotent: calling it while already initialized is a no-op
// success. A failure leaves the controller retryable.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.initialized {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.provider.Connect(ctx); err != nil {
		return &InitError{Reason: "provider connect", Err: err}
	}

	c.mu.Lock()
	c.initialized = true
	c.mu.Unlock()

	c.loopOnce.Do(func() {
		go c.eventLoop()
	})
	return nil
}

// MakeCall dials an outbound call. Preconditions: initialized and idle. A
// record is created best-effort before signaling; media denial and provider
// rejection leave the status idle with no acquired track and no record in a
// non-terminal state.
func (c *Controller) MakeCall(ctx context.Context, number, contactID string) (string, error) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return "", ErrNotReady
	}
	if !c.st.Status.CanTransitionTo(StatusConnecting) || c.inFlight {
		c.mu.Unlock()
		return "", ErrBusy
	}
	c.inFlight = true
	c.mu.Unlock()

	fail := func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.flushPending()
	}

	now := c.clock().UTC()
	recordID, err := c.records.Create(ctx, callrecords.NewRecord{
		WorkspaceID: c.opts.WorkspaceID,
		ContactID:   contactID,
		Direction:   callrecords.DirectionOutbound,
		Number:      number,
		StartedAt:   now,
	})
	if err != nil {
		c.log.Warn("call record create failed", "number", number, "error", err)
		recordID = ""
	}

	track, err := c.gate.AcquireLocal(ctx)
	if err != nil {
		c.finalizeRecord(recordID, callrecords.StatusFailed, nil, 0)
		fail()
		if errors.Is(err, media.ErrPermissionDenied) {
			return "", ErrMediaDenied
		}
		return "", errors.Join(ErrMediaDenied, err)
	}

	handle, err := c.provider.PlaceCall(ctx, number, c.opts.CallerID)
	if err != nil {
		c.gate.Release(track)
		c.finalizeRecord(recordID, callrecords.StatusFailed, nil, 0)
		fail()
		return "", errors.Join(ErrSignalingFailed, err)
	}

	callID := uuid.NewString()
	c.mu.Lock()
	c.inFlight = false
	c.handle = handle
	c.recordID = recordID
	c.track = track
	c.st = CallState{
		CallID:       callID,
		Status:       StatusConnecting,
		Direction:    callrecords.DirectionOutbound,
		RemoteNumber: number,
		ContactID:    contactID,
	}
	c.notifyLocked()
	c.mu.Unlock()
	c.flushPending()

	c.log.Info("outbound call placed", "call_id", callID, "number", number)
	return callID, nil
}

// AnswerCall accepts the ringing inbound call. The inbound record is
// created at answer time, never for calls the operator lets ring out.
func (c *Controller) AnswerCall(ctx context.Context) error {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return ErrNotReady
	}
	if c.st.Status != StatusRinging || c.st.Direction != callrecords.DirectionInbound || c.inFlight {
		c.mu.Unlock()
		return ErrNoRingingCall
	}
	c.inFlight = true
	handle := c.handle
	number := c.st.RemoteNumber
	contactID := c.st.ContactID
	callID := c.st.CallID
	c.mu.Unlock()

	fail := func() {
		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
		c.flushPending()
	}

	track, err := c.gate.AcquireLocal(ctx)
	if err != nil {
		fail()
		if errors.Is(err, media.ErrPermissionDenied) {
			return ErrMediaDenied
		}
		return errors.Join(ErrMediaDenied, err)
	}

	if err := c.provider.Answer(ctx, handle); err != nil {
		c.gate.Release(track)
		fail()
		return errors.Join(ErrSignalingFailed, err)
	}

	now := c.clock().UTC()
	recordID, err := c.records.Create(ctx, callrecords.NewRecord{
		WorkspaceID: c.opts.WorkspaceID,
		ContactID:   contactID,
		Direction:   callrecords.DirectionInbound,
		Number:      number,
		StartedAt:   now,
		AnsweredAt:  &now,
	})
	if err != nil {
		c.log.Warn("call record create failed", "number", number, "error", err)
		recordID = ""
	}

	c.mu.Lock()
	c.inFlight = false
	c.recordID = recordID
	c.track = track
	c.markActiveLocked()
	c.mu.Unlock()
	c.flushPending()

	c.log.Info("inbound call answered", "call_id", callID, "number", number)
	return nil
}

// EndCall tears the current call down from any non-idle status. Local
// cleanup is unconditional: the timer stops, transcription stops, media is
// released, the record is finalized and the status returns to idle even
// when the adapter hangup fails.
func (c *Controller) EndCall(ctx context.Context) error {
	c.mu.Lock()
	if c.st.Status == StatusIdle {
		c.mu.Unlock()
		return nil
	}
	handle := c.handle
	wasActive := c.st.Status == StatusActive
	c.mu.Unlock()

	if handle != "" {
		if err := c.provider.Hangup(ctx, handle); err != nil {
			c.log.Warn("provider hangup failed, continuing local cleanup", "error", err)
		}
	}

	final := callrecords.StatusCanceled
	if wasActive {
		final = callrecords.StatusCompleted
	}
	c.mu.Lock()
	c.teardownLocked(final)
	c.mu.Unlock()
	return nil
}

// ToggleMute flips the mute flag on the local track. No-op without one.
func (c *Controller) ToggleMute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.track == nil {
		return
	}
	c.st.IsMuted = !c.st.IsMuted
	c.gate.SetMuted(c.track, c.st.IsMuted)
	c.notifyLocked()
}

// Subscribe registers a listener invoked synchronously after every state
// mutation with the new snapshot. Listeners must not call back into the
// controller; the snapshot carries everything they need. The returned
// function removes the listener and may be called from within it.
func (c *Controller) Subscribe(fn func(CallState)) func() {
	c.subMu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.subMu.Unlock()

	return func() {
		c.subMu.Lock()
		delete(c.subs, id)
		c.subMu.Unlock()
	}
}

// GetState returns a copy of the current state, never the live object.
func (c *Controller) GetState() CallState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Provider exposes the session's provider so the HTTP layer can route
// backend webhooks to it.
func (c *Controller) Provider() telephony.Provider { return c.provider }

// Track returns the current local media track, nil when no call holds one.
// Used by the media signaling endpoint to negotiate the browser leg.
func (c *Controller) Track() media.Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.track
}

// Close ends any in-flight call and shuts the provider connection down.
func (c *Controller) Close() error {
	_ = c.EndCall(context.Background())
	c.mu.Lock()
	c.initialized = false
	c.mu.Unlock()
	return c.provider.Close()
}

func (c *Controller) eventLoop() {
	for ev := range c.provider.Events() {
		c.handleProviderEvent(ev)
	}
}

// flushPending replays events buffered while a dial or answer was in
// flight. Called with the mutex released after inFlight clears; events for
// a call that never committed fall out as stale.
func (c *Controller) flushPending() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ev := range pending {
		c.handleProviderEvent(ev)
	}
}

func (c *Controller) handleProviderEvent(ev telephony.Event) {
	c.mu.Lock()

	// A dial or answer is mid-flight: the handle for the new call is not
	// committed yet, so an event arriving now would look stale. Hold it
	// until the state is written and replay it then.
	if c.inFlight {
		c.pending = append(c.pending, ev)
		c.mu.Unlock()
		return
	}

	if ev.Kind == telephony.EventIncoming {
		if c.st.Status != StatusIdle {
			c.mu.Unlock()
			c.log.Info("rejecting incoming call while busy", "number", ev.Number)
			if err := c.provider.Hangup(context.Background(), ev.Handle); err != nil {
				c.log.Warn("busy rejection hangup failed", "error", err)
			}
			return
		}
		c.handle = ev.Handle
		c.st = CallState{
			CallID:       uuid.NewString(),
			Status:       StatusRinging,
			Direction:    callrecords.DirectionInbound,
			RemoteNumber: ev.Number,
		}
		c.notifyLocked()
		c.mu.Unlock()
		return
	}

	if ev.Handle != c.handle || c.st.Status == StatusIdle {
		c.mu.Unlock()
		c.log.Debug("ignoring event for stale call handle", "kind", string(ev.Kind), "handle", ev.Handle)
		return
	}

	switch ev.Kind {
	case telephony.EventRinging:
		if c.st.Status.CanTransitionTo(StatusRinging) {
			c.st.Status = StatusRinging
			c.notifyLocked()
		}
	case telephony.EventActive:
		if c.st.Status.CanTransitionTo(StatusActive) {
			c.markActiveLocked()
		}
	case telephony.EventEnded:
		// Tolerate ended without a preceding active: the call never
		// connected and counts as canceled.
		final := callrecords.StatusCanceled
		if c.st.Status == StatusActive {
			final = callrecords.StatusCompleted
		}
		c.teardownLocked(final)
	case telephony.EventFailed:
		c.teardownLocked(callrecords.StatusFailed)
	}
	c.mu.Unlock()
}

// markActiveLocked moves the call into active: start time anchored, timer
// running, transcription bound to the operator audio when configured.
func (c *Controller) markActiveLocked() {
	now := c.clock().UTC()
	c.st.Status = StatusActive
	c.st.StartTime = &now
	if c.answeredAt == nil {
		c.answeredAt = &now
	}
	c.timer.Start(now, c.onTick)

	if c.bridge != nil && c.track != nil {
		if err := c.bridge.Start(context.Background(), c.st.CallID, c.track.RemoteAudio()); err != nil {
			c.log.Warn("transcription bridge start failed", "call_id", c.st.CallID, "error", err)
		}
	}
	c.notifyLocked()
}

// teardownLocked is the single cleanup path for every way a call ends.
// Idempotent; safe to race between EndCall and a provider ended event.
func (c *Controller) teardownLocked(final callrecords.Status) {
	if !c.st.Status.CanTransitionTo(StatusEnded) {
		return
	}

	now := c.clock().UTC()
	duration := 0
	if c.st.StartTime != nil {
		duration = int(now.Sub(*c.st.StartTime) / time.Second)
		if duration < 0 {
			duration = 0
		}
	}

	c.timer.Stop()
	if c.bridge != nil {
		c.bridge.Stop(c.st.CallID)
	}
	if c.track != nil {
		c.gate.Release(c.track)
		c.track = nil
	}
	c.finalizeRecord(c.recordID, final, c.answeredAt, duration)

	callID := c.st.CallID
	c.st.Status = StatusEnded
	c.st.DurationSeconds = duration
	c.st.IsMuted = false
	c.notifyLocked()

	c.handle = ""
	c.recordID = ""
	c.answeredAt = nil
	c.inFlight = false
	c.st = CallState{Status: StatusIdle}
	c.notifyLocked()

	c.log.Info("call ended", "call_id", callID, "final_status", string(final), "duration_seconds", duration)
}

func (c *Controller) finalizeRecord(recordID string, final callrecords.Status, answeredAt *time.Time, duration int) {
	if recordID == "" {
		return
	}
	err := c.records.Finalize(context.Background(), c.opts.WorkspaceID, recordID, callrecords.Finalization{
		Status:          final,
		AnsweredAt:      answeredAt,
		EndedAt:         c.clock().UTC(),
		DurationSeconds: duration,
	})
	if err != nil {
		c.log.Warn("call record finalize failed", "record_id", recordID, "error", err)
	}
}

func (c *Controller) onTick(int) {
	c.mu.Lock()
	if c.st.Status == StatusActive {
		c.notifyLocked()
	}
	c.mu.Unlock()
}

func (c *Controller) snapshotLocked() CallState {
	snap := c.st
	if snap.Status == StatusActive && snap.StartTime != nil {
		d := int(c.clock().UTC().Sub(*snap.StartTime) / time.Second)
		if d < 0 {
			d = 0
		}
		snap.DurationSeconds = d
	}
	return snap
}

func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()

	c.subMu.Lock()
	fns := make([]func(CallState), 0, len(c.subs))
	for _, fn := range c.subs {
		fns = append(fns, fn)
	}
	c.subMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}
