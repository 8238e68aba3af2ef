package cron

import (
	"sync"
	"time"
)

// DefaultMaxDelay is the longest delay a single timer is armed with,
// 2^31-1 milliseconds. Longer delays are reached by re-arming.
const DefaultMaxDelay = (1<<31 - 1) * time.Millisecond

// Timer is a pending single-shot callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts time so schedules can be driven deterministically.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// RealClock is the wall clock.
var RealClock Clock = realClock{}

// LongTimer fires f once at a wall-clock target that may lie further away
// than maxDelay. It re-arms with min(remaining, maxDelay) until the
// remainder fits in one timer.
type LongTimer struct {
	clock    Clock
	target   time.Time
	maxDelay time.Duration
	f        func()

	mu      sync.Mutex
	current Timer
	stopped bool
	fired   bool
}

// AfterFuncAt arms a LongTimer. A non-positive maxDelay means DefaultMaxDelay.
func AfterFuncAt(clock Clock, target time.Time, maxDelay time.Duration, f func()) *LongTimer {
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	t := &LongTimer{clock: clock, target: target, maxDelay: maxDelay, f: f}
	t.mu.Lock()
	t.arm()
	t.mu.Unlock()
	return t
}

// arm must be called with mu held.
func (t *LongTimer) arm() {
	remaining := t.target.Sub(t.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	delay := remaining
	if delay > t.maxDelay {
		delay = t.maxDelay
	}
	t.current = t.clock.AfterFunc(delay, t.tick)
}

func (t *LongTimer) tick() {
	t.mu.Lock()
	if t.stopped || t.fired {
		t.mu.Unlock()
		return
	}
	if t.clock.Now().Before(t.target) {
		t.arm()
		t.mu.Unlock()
		return
	}
	t.fired = true
	t.mu.Unlock()

	t.f()
}

// Target is the wall-clock time the timer fires at.
func (t *LongTimer) Target() time.Time {
	return t.target
}

// Stop cancels the timer. It reports false if the timer already fired or
// was stopped.
func (t *LongTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	if t.current != nil {
		t.current.Stop()
	}
	return true
}
