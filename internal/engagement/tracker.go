package engagement

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

var (
	// ErrUnknownSignal is returned when a signal kind is not recognised.
	ErrUnknownSignal = errors.New("unknown signal kind")
	// ErrNotTracking is returned by callers that need an active window.
	ErrNotTracking = errors.New("no activity is being tracked")
)

// SignalKind identifies one raw browser interaction event.
type SignalKind string

const (
	SignalMouseMove SignalKind = "mousemove"
	SignalKeyPress  SignalKind = "keydown"
	SignalPaste     SignalKind = "paste"
	SignalFocus     SignalKind = "focus"
	SignalBlur      SignalKind = "blur"
)

// Signal is a single interaction event. Count lets clients batch repeated
// mouse or key events into one message; zero means one.
type Signal struct {
	Kind  SignalKind `json:"kind"`
	Count int        `json:"count,omitempty"`
}

// ParseSignalKind validates a wire signal name.
func ParseSignalKind(s string) (SignalKind, error) {
	switch k := SignalKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SignalMouseMove, SignalKeyPress, SignalPaste, SignalFocus, SignalBlur:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSignal, s)
	}
}

// Clock returns the current time.
type Clock func() time.Time

// Tracker accumulates interaction counters for at most one activity at a time.
// Signals may arrive from any goroutine; signals received while no activity is
// tracked are dropped.
type Tracker struct {
	mu     sync.Mutex
	now    Clock
	active *activeSession
}

type activeSession struct {
	activityType   string
	start          time.Time
	lastSignal     time.Time
	mouseMovements int
	keyPresses     int
	pasteEvents    int
	blurCount      int
	focusTime      time.Duration
	focusedSince   time.Time
	focused        bool
}

// NewTracker creates a tracker. A nil clock uses time.Now.
func NewTracker(now Clock) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Start begins tracking activityType. Starting while another activity is
// tracked discards the previous window and starts over.
func (t *Tracker) Start(activityType string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.active != nil {
		slog.Debug("Restarting activity tracking",
			"previous", t.active.activityType,
			"next", activityType,
		)
	}
	t.active = &activeSession{
		activityType: activityType,
		start:        now,
		lastSignal:   now,
		focusedSince: now,
		focused:      true,
	}
}

// Active returns the tracked activity type, if any.
func (t *Tracker) Active() (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return "", false
	}
	return t.active.activityType, true
}

// LastSignal returns when the active window last started or received a
// signal. It returns false when nothing is being tracked.
func (t *Tracker) LastSignal() (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.active == nil {
		return time.Time{}, false
	}
	return t.active.lastSignal, true
}

// Record applies one signal to the active window.
func (t *Tracker) Record(sig Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.active
	if a == nil {
		return
	}
	a.lastSignal = t.now()
	n := sig.Count
	if n <= 0 {
		n = 1
	}

	switch sig.Kind {
	case SignalMouseMove:
		a.mouseMovements += n
	case SignalKeyPress:
		a.keyPresses += n
	case SignalPaste:
		a.pasteEvents += n
	case SignalFocus:
		if !a.focused {
			a.focused = true
			a.focusedSince = t.now()
		}
	case SignalBlur:
		if a.focused {
			a.focusTime += t.now().Sub(a.focusedSince)
			a.focused = false
		}
		a.blurCount++
	}
}

// Stop finalizes and clears the active window. It returns false when nothing
// was being tracked.
func (t *Tracker) Stop() (*FinalizedSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	a := t.active
	if a == nil {
		return nil, false
	}
	t.active = nil

	end := t.now()
	focus := a.focusTime
	if a.focused {
		focus += end.Sub(a.focusedSince)
	}

	fs := &FinalizedSession{
		ActivityType:   a.activityType,
		StartTime:      a.start,
		EndTime:        end,
		DurationMs:     end.Sub(a.start).Milliseconds(),
		MouseMovements: a.mouseMovements,
		KeyPresses:     a.keyPresses,
		PasteEvents:    a.pasteEvents,
		FocusTimeMs:    focus.Milliseconds(),
		BlurCount:      a.blurCount,
	}
	fs.EngagementScore = Score(*fs)
	return fs, true
}
