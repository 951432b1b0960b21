package sidechannel

import (
	"sync"

	"sidechannel-node/sidechannel/ratelimit"
)

// channelRecord is per (connection, channel) bookkeeping for the opener.
type channelRecord struct {
	channel     Channel
	message     Message
	openRetries int
	authSent    bool
	opened      bool // true once fullyOpened resolved true
}

// connState is the per-connection state spec §4.2-§4.3 and §4.6 keep,
// keyed by the connection's remote public key.
type connState struct {
	mu           sync.Mutex
	remoteKeyHex string
	limiter      *ratelimit.Limiter
	paired       map[string]struct{} // protocol -> paired
	channels     map[string]*channelRecord
	ready        map[string]chan struct{} // channel name -> closed once fullyOpened
}

func newConnState(remoteKeyHex string, limiter *ratelimit.Limiter) *connState {
	return &connState{
		remoteKeyHex: remoteKeyHex,
		limiter:      limiter,
		paired:       make(map[string]struct{}),
		channels:     make(map[string]*channelRecord),
	}
}

// connState returns (creating if needed) the per-connection state for conn.
func (e *Engine) connState(conn Connection) *connState {
	key := conn.RemotePublicKeyHex()
	e.mu.Lock()
	cs, ok := e.conns[key]
	if !ok {
		cs = newConnState(key, e.newLimiter())
		e.conns[key] = cs
		e.connByKey[key] = conn
		if e.metrics != nil {
			e.metrics.SidechannelConnections.Set(float64(len(e.conns)))
		}
	}
	e.mu.Unlock()
	return cs
}

// readySignal returns (creating if needed) the channel that closes once name
// is fully opened on this connection, so a waiter can block on it regardless
// of whether the channel's record exists yet.
func (cs *connState) readySignal(name string) chan struct{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ready == nil {
		cs.ready = make(map[string]chan struct{})
	}
	ch, ok := cs.ready[name]
	if !ok {
		ch = make(chan struct{})
		cs.ready[name] = ch
	}
	return ch
}

// markReady signals that name just finished its fullyOpened handshake.
func (cs *connState) markReady(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ready == nil {
		cs.ready = make(map[string]chan struct{})
	}
	ch, ok := cs.ready[name]
	if !ok {
		ch = make(chan struct{})
		cs.ready[name] = ch
	}
	closeOnce(ch)
}

// resetReady drops the ready signal for name so a future reopen of the same
// channel on this connection starts from a fresh, unclosed signal.
func (cs *connState) resetReady(name string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.ready, name)
}

// closeAllReady releases every waiter on this connection's ready signals,
// e.g. when the connection itself has closed and no channel on it will ever
// open. Waiters check the channel record after waking and no-op if it's gone.
func (cs *connState) closeAllReady() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, ch := range cs.ready {
		closeOnce(ch)
	}
}

func closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func (e *Engine) newLimiter() *ratelimit.Limiter {
	return ratelimit.NewLimiter(ratelimit.Config{
		BurstBytes:     e.cfg.RateBurstBytes,
		BytesPerSecond: e.cfg.RateBytesPerSecond,
		MaxStrikes:     e.cfg.MaxStrikes,
		StrikeWindowMs: e.cfg.StrikeWindowMs,
		BlockMs:        e.cfg.BlockMs,
	}, e.clock)
}

func (e *Engine) dropConnState(conn Connection) {
	key := conn.RemotePublicKeyHex()
	e.mu.Lock()
	cs := e.conns[key]
	delete(e.conns, key)
	delete(e.connByKey, key)
	if e.metrics != nil {
		e.metrics.SidechannelConnections.Set(float64(len(e.conns)))
	}
	e.mu.Unlock()
	if cs != nil {
		cs.closeAllReady()
	}
}
