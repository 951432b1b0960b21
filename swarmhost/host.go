// Package swarmhost adapts a libp2p host into the sidechannel.Swarm surface
// (spec §6: "a swarm object that surfaces connection events and
// join(topic)/flush"), grounded on the teacher's core.NewNode/DialSeed/
// HandlePeerFound (core/network.go). Each libp2p peer connection becomes a
// sidechannel.Connection; each sidechannel protocol channel becomes a pair
// of libp2p streams (one per direction) opened under that protocol ID.
package swarmhost

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"

	"sidechannel-node/sidechannel"
)

// Host is a libp2p-backed sidechannel.Swarm.
type Host struct {
	host   host.Host
	pubsub *pubsub.PubSub
	cfg    Config
	log    *logrus.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	conns     map[peer.ID]*Conn
	onConnFns []func(sidechannel.Connection)

	topicMu sync.Mutex
	topics  map[string]*pubsub.Topic

	handlerMu sync.Mutex
	listening map[protocol.ID]struct{}

	streamsMu      sync.Mutex
	pendingInbound map[pendingKey]chan network.Stream
}

type pendingKey struct {
	peer  peer.ID
	proto protocol.ID
}

// New creates and bootstraps a libp2p host: gossipsub, bootstrap dialing,
// and mDNS discovery, per the teacher's NewNode.
func New(cfg Config, logger *logrus.Logger) (*Host, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddr))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("swarmhost: create host: %w", err)
	}

	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("swarmhost: create pubsub: %w", err)
	}

	sh := &Host{
		host:           h,
		pubsub:         ps,
		cfg:            cfg,
		log:            logger,
		ctx:            ctx,
		cancel:         cancel,
		conns:          make(map[peer.ID]*Conn),
		topics:         make(map[string]*pubsub.Topic),
		listening:      make(map[protocol.ID]struct{}),
		pendingInbound: make(map[pendingKey]chan network.Stream),
	}

	h.Network().Notify(sh.notifyBundle())

	if err := sh.dialSeeds(cfg.BootstrapPeers); err != nil {
		logger.Warnf("swarmhost: dial seed warning: %v", err)
	}

	if cfg.DiscoveryTag != "" {
		mdns.NewMdnsService(h, cfg.DiscoveryTag, &mdnsNotifee{host: sh})
	}

	return sh, nil
}

func (h *Host) notifyBundle() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(_ network.Network, c network.Conn) {
			h.trackConnection(c)
		},
		DisconnectedF: func(_ network.Network, c network.Conn) {
			h.dropConnection(c.RemotePeer())
		},
	}
}

func (h *Host) trackConnection(c network.Conn) {
	h.mu.Lock()
	if _, exists := h.conns[c.RemotePeer()]; exists {
		h.mu.Unlock()
		return
	}
	conn := &Conn{host: h, peer: c.RemotePeer()}
	h.conns[c.RemotePeer()] = conn
	fns := append([]func(sidechannel.Connection){}, h.onConnFns...)
	h.mu.Unlock()

	for _, fn := range fns {
		fn(conn)
	}
}

func (h *Host) dropConnection(p peer.ID) {
	h.mu.Lock()
	conn, ok := h.conns[p]
	if ok {
		delete(h.conns, p)
	}
	h.mu.Unlock()
	if ok {
		conn.fireClose()
	}
}

func (h *Host) dialSeeds(seeds []string) error {
	var failures []string
	for _, addr := range seeds {
		pi, err := peer.AddrInfoFromString(addr)
		if err != nil {
			failures = append(failures, fmt.Sprintf("invalid addr %s: %v", addr, err))
			continue
		}
		if err := h.host.Connect(h.ctx, *pi); err != nil {
			failures = append(failures, fmt.Sprintf("connect %s: %v", addr, err))
			continue
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("swarmhost: dial errors: %v", failures)
	}
	return nil
}

// mdnsNotifee reconnects locally discovered peers, mirroring the teacher's
// Node.HandlePeerFound.
type mdnsNotifee struct{ host *Host }

func (n *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.host.host.ID() {
		return
	}
	n.host.mu.RLock()
	_, known := n.host.conns[info.ID]
	n.host.mu.RUnlock()
	if known {
		return
	}
	if err := n.host.host.Connect(n.host.ctx, info); err != nil {
		n.host.log.Warnf("swarmhost: mdns connect to %s failed: %v", info.ID, err)
	}
}

// Connections returns every currently tracked peer connection.
func (h *Host) Connections() []sidechannel.Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]sidechannel.Connection, 0, len(h.conns))
	for _, c := range h.conns {
		out = append(out, c)
	}
	return out
}

// OnConnection registers fn for every current and future connection.
func (h *Host) OnConnection(fn func(sidechannel.Connection)) {
	h.mu.Lock()
	h.onConnFns = append(h.onConnFns, fn)
	existing := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		existing = append(existing, c)
	}
	h.mu.Unlock()
	for _, c := range existing {
		fn(c)
	}
}

// Join announces interest in topic by joining (and, for server/client
// participants, subscribing to) its gossipsub topic, keyed by the topic
// digest's hex form. The pubsub channel itself carries no sidechannel
// traffic — channel data flows over per-protocol streams — join exists so
// gossipsub/mDNS peer discovery surfaces other participants on the topic.
func (h *Host) Join(ctx context.Context, topic [32]byte, opts sidechannel.JoinOptions) error {
	name := hex.EncodeToString(topic[:])
	h.topicMu.Lock()
	defer h.topicMu.Unlock()
	if _, ok := h.topics[name]; ok {
		return nil
	}
	t, err := h.pubsub.Join(name)
	if err != nil {
		return fmt.Errorf("swarmhost: join topic %s: %w", name, err)
	}
	if opts.Server || opts.Client {
		if _, err := t.Subscribe(); err != nil {
			return fmt.Errorf("swarmhost: subscribe topic %s: %w", name, err)
		}
	}
	h.topics[name] = t
	return nil
}

// Flush is a no-op: libp2p has no equivalent of Hyperswarm's connection-pool
// flush barrier, so join() above is already synchronous by the time it
// returns.
func (h *Host) Flush(ctx context.Context) error {
	return ctx.Err()
}

// Close tears down the host.
func (h *Host) Close() error {
	h.cancel()
	return h.host.Close()
}

func (h *Host) ensureHandler(proto protocol.ID) {
	h.handlerMu.Lock()
	defer h.handlerMu.Unlock()
	if _, ok := h.listening[proto]; ok {
		return
	}
	h.listening[proto] = struct{}{}
	h.host.SetStreamHandler(proto, func(s network.Stream) {
		key := pendingKey{peer: s.Conn().RemotePeer(), proto: proto}
		h.streamsMu.Lock()
		ch, ok := h.pendingInbound[key]
		if !ok {
			ch = make(chan network.Stream, 1)
			h.pendingInbound[key] = ch
		}
		h.streamsMu.Unlock()
		select {
		case ch <- s:
		default:
			s.Reset()
		}
	})
}

func (h *Host) inboundChannel(key pendingKey) chan network.Stream {
	h.streamsMu.Lock()
	defer h.streamsMu.Unlock()
	ch, ok := h.pendingInbound[key]
	if !ok {
		ch = make(chan network.Stream, 1)
		h.pendingInbound[key] = ch
	}
	return ch
}
