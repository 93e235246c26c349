package auction

import (
	"sync"
	"time"
)

// Alarm is a single-slot one-shot timer. Arming replaces whatever was armed
// before; the callback runs exactly once per arming unless cancelled first.
// It deliberately does not extend on re-arming callers' behalf: the engine
// arms it once per batch, at the first admission.
type Alarm struct {
	mu    sync.Mutex
	timer *time.Timer
}

// Set arms the alarm to run fn after d, replacing any armed timer.
func (a *Alarm) Set(d time.Duration, fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	a.timer = time.AfterFunc(d, fn)
}

// Cancel disarms the alarm. Cancelling an unarmed or already-fired alarm is a
// no-op.
func (a *Alarm) Cancel() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

// Armed reports whether a timer slot is held. It stays true after the timer
// fires until Cancel runs; the engine cancels as the first settlement step,
// so an armed alarm always corresponds to a non-empty batch.
func (a *Alarm) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.timer != nil
}
