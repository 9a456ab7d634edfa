package session

import (
	"sync"
	"time"
)

// Timer is a cancellable pending callback.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// idleTimer fires onExpire once after timeout without a Reset. At most one
// timer is pending at any time; a stale timer that could not be stopped in
// time is ignored by comparing epochs.
type idleTimer struct {
	mu       sync.Mutex
	clock    Clock
	timeout  time.Duration
	onExpire func()
	timer    Timer
	epoch    uint64
}

func newIdleTimer(clock Clock, timeout time.Duration, onExpire func()) *idleTimer {
	return &idleTimer{clock: clock, timeout: timeout, onExpire: onExpire}
}

// Reset restarts the countdown.
func (t *idleTimer) Reset() {
	if t.timeout <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.epoch++
	epoch := t.epoch
	t.timer = t.clock.AfterFunc(t.timeout, func() { t.fire(epoch) })
}

// Stop cancels any pending countdown.
func (t *idleTimer) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.epoch++
}

// Armed reports whether a countdown is pending.
func (t *idleTimer) Armed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timer != nil
}

func (t *idleTimer) fire(epoch uint64) {
	t.mu.Lock()
	if epoch != t.epoch {
		t.mu.Unlock()
		return
	}
	t.timer = nil
	t.epoch++
	t.mu.Unlock()
	t.onExpire()
}
