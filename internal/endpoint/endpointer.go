// Package endpoint declares an utterance complete after a quiet period
// following the last received speech fragment.
package endpoint

import (
	"sync"
	"time"

	"voicefront/agent/internal/clock"
)

// DefaultThreshold is the trailing silence that ends an utterance.
const DefaultThreshold = 1500 * time.Millisecond

// Endpointer is a resettable silence countdown. Each Feed arms (or re-arms)
// a cycle; the callback fires at most once per cycle, never earlier than the
// threshold after the last Feed, and never when Feed was not called.
type Endpointer struct {
	threshold time.Duration
	clock     clock.Clock
	onSilence func(cycle uint64)

	mu    sync.Mutex
	cycle uint64
	armed bool
	timer clock.Timer
}

// New returns an endpointer. A non-positive threshold selects DefaultThreshold.
func New(threshold time.Duration, c clock.Clock, onSilence func(cycle uint64)) *Endpointer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if c == nil {
		c = clock.Real()
	}
	return &Endpointer{threshold: threshold, clock: c, onSilence: onSilence}
}

// Feed records a speech fragment and restarts the countdown. It returns the
// id of the armed cycle, which is passed to the callback when it fires.
func (e *Endpointer) Feed() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
	}
	e.cycle++
	e.armed = true
	id := e.cycle
	e.timer = e.clock.AfterFunc(e.threshold, func() { e.fire(id) })
	return id
}

// Cancel stops the countdown without firing. Safe when not armed.
func (e *Endpointer) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.armed {
		e.cycle++
	}
	e.armed = false
}

// Armed reports whether a countdown is running.
func (e *Endpointer) Armed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.armed
}

func (e *Endpointer) fire(id uint64) {
	e.mu.Lock()
	if !e.armed || e.cycle != id {
		e.mu.Unlock()
		return
	}
	e.armed = false
	e.timer = nil
	e.mu.Unlock()
	if e.onSilence != nil {
		e.onSilence(id)
	}
}
