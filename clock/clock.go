// Package clock injects wall-clock time so engines with coarse
// millisecond-precision timers (rate limiter, seen-set, invites, autopost,
// oracle) can be driven deterministically in tests instead of depending on
// the global time.Now().
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time as Unix milliseconds.
type Clock interface {
	NowMs() int64
}

// System is the production Clock backed by time.Now.
type System struct{}

// NowMs returns the current wall-clock time in Unix milliseconds.
func (System) NowMs() int64 { return time.Now().UnixMilli() }

// Manual is a Clock whose value is advanced explicitly. Safe for concurrent
// use.
type Manual struct {
	mu sync.Mutex
	ms int64
}

// NewManual returns a Manual clock starting at startMs.
func NewManual(startMs int64) *Manual {
	return &Manual{ms: startMs}
}

// NowMs implements Clock.
func (m *Manual) NowMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ms
}

// Set pins the clock to ms.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	m.ms = ms
	m.mu.Unlock()
}

// Advance moves the clock forward by deltaMs (deltaMs may be negative).
func (m *Manual) Advance(deltaMs int64) {
	m.mu.Lock()
	m.ms += deltaMs
	m.mu.Unlock()
}
