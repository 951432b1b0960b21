package sidechannel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"sidechannel-node/clock"
	"sidechannel-node/pkg/metrics"
	"sidechannel-node/sidechannel/invite"
	"sidechannel-node/sidechannel/seenset"
)

// maxOpenRetries bounds the channel-open backoff loop (spec §4.6).
const maxOpenRetries = 5

// MessageHandler receives application (non-control) messages delivered by
// the engine, per spec §4.7 step 9.
type MessageHandler func(channel string, p *Payload, conn Connection)

// Engine is one running sidechannel overlay: it registers channels, opens
// them on every connection, and runs the admission/relay pipeline on every
// inbound payload (spec §§4.6-4.9).
type Engine struct {
	cfg    Config
	wallet Wallet
	swarm  Swarm
	log    *logrus.Logger
	clock  clock.Clock

	onMessage MessageHandler
	metrics   *metrics.Collectors
	runCtx    context.Context

	mu        sync.Mutex
	channels  map[string]ChannelEntry
	conns     map[string]*connState
	connByKey map[string]Connection

	seen    *seenset.Set
	invites *invite.Store
}

// NewEngine constructs an Engine. logger and clk may be nil, in which case
// logrus.StandardLogger() and clock.System{} are used.
func NewEngine(cfg Config, wallet Wallet, swarm Swarm, onMessage MessageHandler, logger *logrus.Logger, clk clock.Clock) *Engine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if clk == nil {
		clk = clock.System{}
	}
	e := &Engine{
		cfg:       cfg,
		wallet:    wallet,
		swarm:     swarm,
		log:       logger,
		clock:     clk,
		onMessage: onMessage,
		runCtx:    context.Background(),
		channels:  make(map[string]ChannelEntry),
		conns:     make(map[string]*connState),
		connByKey: make(map[string]Connection),
		seen:      seenset.New(cfg.MaxSeen, cfg.SeenTTLMs, clk),
		invites:   invite.NewStore(),
	}
	return e
}

func (e *Engine) now() int64 { return e.clock.NowMs() }

// SetMetrics attaches a prometheus collector bundle; calling it is
// optional, and every metrics call is nil-safe when it is never set.
func (e *Engine) SetMetrics(m *metrics.Collectors) { e.metrics = m }

func (e *Engine) recordDrop(reason string) {
	if e.metrics != nil {
		e.metrics.SidechannelAdmissionDrops.WithLabelValues(reason).Inc()
	}
}

// Start registers the entry channel (if set) and begins opening it on every
// connection the swarm surfaces, present and future.
func (e *Engine) Start(ctx context.Context) error {
	e.runCtx = ctx
	if e.cfg.EntryChannel != "" {
		if _, err := e.RegisterChannel(e.cfg.EntryChannel); err != nil {
			return fmt.Errorf("sidechannel: start: %w", err)
		}
	}
	e.swarm.OnConnection(func(conn Connection) {
		e.handleConnection(ctx, conn)
	})
	return nil
}

func (e *Engine) handleConnection(ctx context.Context, conn Connection) {
	conn.OnClose(func() { e.dropConnState(conn) })

	e.mu.Lock()
	entries := make([]ChannelEntry, 0, len(e.channels))
	for _, entry := range e.channels {
		entries = append(entries, entry)
	}
	e.mu.Unlock()

	for _, entry := range entries {
		e.openChannelForConnection(ctx, conn, entry)
	}
}

// openChannelForConnection pairs the channel's protocol on conn and creates
// the multiplex channel, retrying when the multiplexer is not yet available
// (spec §4.6).
func (e *Engine) openChannelForConnection(ctx context.Context, conn Connection, entry ChannelEntry) {
	mux := conn.Multiplexer()
	if mux == nil {
		e.retryObtainMultiplexer(ctx, conn, entry, 0)
		return
	}
	e.pairAndOpen(ctx, conn, mux, entry)
}

func (e *Engine) retryObtainMultiplexer(ctx context.Context, conn Connection, entry ChannelEntry, attempt int) {
	if attempt >= maxOpenRetries {
		e.log.Warnf("sidechannel: no multiplexer on connection after %d attempts, giving up on channel %q", attempt, entry.Name)
		return
	}
	time.AfterFunc(50*time.Millisecond, func() {
		mux := conn.Multiplexer()
		if mux == nil {
			e.retryObtainMultiplexer(ctx, conn, entry, attempt+1)
			return
		}
		e.pairAndOpen(ctx, conn, mux, entry)
	})
}

func (e *Engine) pairAndOpen(ctx context.Context, conn Connection, mux Multiplexer, entry ChannelEntry) {
	cs := e.connState(conn)
	cs.mu.Lock()
	_, already := cs.paired[entry.Protocol]
	if !already {
		cs.paired[entry.Protocol] = struct{}{}
	}
	cs.mu.Unlock()

	if already {
		e.createAndOpenChannel(ctx, conn, mux, entry, 0)
		return
	}
	mux.Pair(entry.Protocol, func() {
		e.createAndOpenChannel(ctx, conn, mux, entry, 0)
	})
}

func (e *Engine) createAndOpenChannel(ctx context.Context, conn Connection, mux Multiplexer, entry ChannelEntry, retry int) {
	ch, err := mux.CreateChannel(entry.Protocol, func() {}, func() { e.onChannelClosed(conn, entry) })
	if err != nil {
		e.log.Warnf("sidechannel: create channel %q failed: %v", entry.Name, err)
		return
	}
	msg := ch.AddMessage(func(payload []byte) { e.handleInbound(entry.Name, payload, conn) })

	cs := e.connState(conn)
	cs.mu.Lock()
	cs.channels[entry.Name] = &channelRecord{channel: ch, message: msg, openRetries: retry}
	cs.mu.Unlock()

	if err := ch.Open(); err != nil {
		e.log.Warnf("sidechannel: open channel %q failed: %v", entry.Name, err)
		return
	}

	go func() {
		ok, err := ch.FullyOpened(ctx)
		if err != nil || !ok {
			if retry >= maxOpenRetries {
				e.log.Warnf("sidechannel: channel %q failed to open after %d retries, giving up", entry.Name, retry)
				return
			}
			time.AfterFunc(time.Duration(100*(retry+1))*time.Millisecond, func() {
				e.createAndOpenChannel(ctx, conn, mux, entry, retry+1)
			})
			return
		}
		cs := e.connState(conn)
		cs.mu.Lock()
		if rec := cs.channels[entry.Name]; rec != nil {
			rec.opened = true
		}
		cs.mu.Unlock()
		cs.markReady(entry.Name)
		e.onChannelFullyOpened(conn, entry)
	}()
}

func (e *Engine) onChannelClosed(conn Connection, entry ChannelEntry) {
	cs := e.connState(conn)
	cs.mu.Lock()
	delete(cs.channels, entry.Name)
	cs.mu.Unlock()
	cs.resetReady(entry.Name)
}

// onChannelFullyOpened sends a welcome (if this peer owns the channel) and
// an auth handshake (if this peer holds a locally accepted invite),
// per spec §4.6.
func (e *Engine) onChannelFullyOpened(conn Connection, entry ChannelEntry) {
	owner := e.cfg.ownerForChannel(entry.Name)
	if owner != "" && sameKey(owner, e.wallet.PublicKeyHex()) {
		if err := e.sendWelcome(conn, entry); err != nil {
			e.log.Warnf("sidechannel: send welcome on %q failed: %v", entry.Name, err)
		}
	}

	inv, ok := e.invites.LocalInvite(entry.Name, e.now())
	if !ok {
		return
	}
	cs := e.connState(conn)
	cs.mu.Lock()
	rec := cs.channels[entry.Name]
	shouldSend := rec != nil && !rec.authSent
	cs.mu.Unlock()
	if !shouldSend {
		return
	}
	if err := e.sendAuth(conn, entry, inv); err != nil {
		e.log.Warnf("sidechannel: send auth on %q failed: %v", entry.Name, err)
		return
	}
	cs.mu.Lock()
	if rec != nil {
		rec.authSent = true
	}
	cs.mu.Unlock()
}
