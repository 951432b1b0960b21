// Package ratelimit implements the per-connection token bucket described in
// spec §4.2: a byte-budget bucket with a strike window that escalates to a
// time-bounded block once a connection repeatedly sends oversized payloads.
package ratelimit

import (
	"sync"

	"sidechannel-node/clock"
)

// Config holds the limiter's tunables. Zero values are not valid; use
// NewLimiter with explicit settings (pkg/config.Defaults supplies spec
// defaults).
type Config struct {
	BurstBytes     float64
	BytesPerSecond float64
	MaxStrikes     int
	StrikeWindowMs int64
	BlockMs        int64
}

// Limiter is a single connection's token bucket. It is not safe to share
// across connections; callers keep one Limiter per remote peer.
type Limiter struct {
	cfg   Config
	clock clock.Clock

	mu            sync.Mutex
	tokens        float64
	lastRefillMs  int64
	strikes       int
	strikeResetAt int64
	blockedUntil  int64
}

// NewLimiter returns a Limiter with a full bucket, using c to read time.
func NewLimiter(cfg Config, c clock.Clock) *Limiter {
	if c == nil {
		c = clock.System{}
	}
	return &Limiter{
		cfg:          cfg,
		clock:        c,
		tokens:       cfg.BurstBytes,
		lastRefillMs: c.NowMs(),
	}
}

// Allow applies the §4.2 admission algorithm for an inbound payload of n
// bytes. It returns true if the payload is accepted (and tokens have been
// deducted), false if it must be dropped.
func (l *Limiter) Allow(n int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.NowMs()

	if now < l.blockedUntil {
		return false
	}

	if now > l.strikeResetAt {
		l.strikes = 0
		l.strikeResetAt = now + l.cfg.StrikeWindowMs
	}

	elapsedMs := now - l.lastRefillMs
	if elapsedMs > 0 {
		l.tokens += float64(elapsedMs) / 1000 * l.cfg.BytesPerSecond
		if l.tokens > l.cfg.BurstBytes {
			l.tokens = l.cfg.BurstBytes
		}
		l.lastRefillMs = now
	}

	if float64(n) > l.tokens {
		l.strikes++
		if l.strikes >= l.cfg.MaxStrikes {
			l.blockedUntil = now + l.cfg.BlockMs
		}
		return false
	}

	l.tokens -= float64(n)
	return true
}

// Blocked reports whether the connection is currently under a strike block.
func (l *Limiter) Blocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.clock.NowMs() < l.blockedUntil
}
