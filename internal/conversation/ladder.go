package conversation

import (
	"context"
	"sync"
	"time"
)

// Rung is one delayed check-in of the inactivity ladder.
type Rung struct {
	Name  string
	After time.Duration
	Text  string
}

// Ladder holds at most one armed set of check-in timers. All rungs are
// measured from the same anchor. Cancel is idempotent.
type Ladder struct {
	rungs []Rung
	fire  func(ctx context.Context, r Rung)
	now   func() time.Time
	wg    *sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	timers []*time.Timer
}

// NewLadder creates a ladder that calls fire for each rung whose delay
// elapses. Callbacks run on their own goroutines and are tracked by wg.
func NewLadder(rungs []Rung, now func() time.Time, wg *sync.WaitGroup, fire func(ctx context.Context, r Rung)) *Ladder {
	if now == nil {
		now = time.Now
	}
	if wg == nil {
		wg = &sync.WaitGroup{}
	}
	return &Ladder{rungs: rungs, fire: fire, now: now, wg: wg}
}

// Arm cancels any pending ladder and schedules every rung relative to anchor.
// The context passed to callbacks is cancelled by the next Cancel or Arm.
func (l *Ladder) Arm(parent context.Context, anchor time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelLocked()

	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	elapsed := l.now().Sub(anchor)
	for _, r := range l.rungs {
		delay := r.After - elapsed
		if delay < 0 {
			delay = 0
		}
		rung := r
		l.wg.Add(1)
		l.timers = append(l.timers, time.AfterFunc(delay, func() {
			defer l.wg.Done()
			if ctx.Err() != nil {
				return
			}
			l.fire(ctx, rung)
		}))
	}
}

// Cancel clears all pending callbacks and interrupts any running one.
func (l *Ladder) Cancel() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cancelLocked()
}

func (l *Ladder) cancelLocked() {
	if l.cancel != nil {
		l.cancel()
		l.cancel = nil
	}
	for _, t := range l.timers {
		if t.Stop() {
			// The callback will never run, so release its slot here.
			l.wg.Done()
		}
	}
	l.timers = nil
}

// Armed reports whether a ladder is currently scheduled.
func (l *Ladder) Armed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}
