package callcontrol

import (
	"sync"
	"time"
)

// DurationTimer surfaces wall-clock call duration at roughly one second
// granularity. Duration is always computed as now minus the start reference,
// never accumulated by increment, so it stays correct across pause/resume.
type DurationTimer struct {
	clock    func() time.Time
	interval time.Duration

	mu      sync.Mutex
	start   time.Time
	running bool
	done    chan struct{}
}

func NewDurationTimer(clock func() time.Time) *DurationTimer {
	return &DurationTimer{clock: clock, interval: time.Second}
}

// Start begins ticking against the given start reference. onTick receives
// the elapsed whole seconds. Restarting a running timer resets the tick
// loop but keeps duration anchored to the supplied reference.
func (t *DurationTimer) Start(start time.Time, onTick func(seconds int)) {
	t.mu.Lock()
	if t.running {
		close(t.done)
	}
	t.start = start
	t.running = true
	done := make(chan struct{})
	t.done = done
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				onTick(t.Seconds())
			}
		}
	}()
}

// Pause halts ticking but keeps the start reference, so a later Start with
// the same reference resumes without drift.
func (t *DurationTimer) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		close(t.done)
		t.running = false
	}
}

// Stop halts ticking and clears the start reference.
func (t *DurationTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		close(t.done)
		t.running = false
	}
	t.start = time.Time{}
}

// Seconds returns whole seconds elapsed since the start reference, zero when
// the timer has no reference.
func (t *DurationTimer) Seconds() int {
	t.mu.Lock()
	start := t.start
	t.mu.Unlock()
	if start.IsZero() {
		return 0
	}
	d := t.clock().Sub(start)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
