package sidechannel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"sidechannel-node/clock"
	"sidechannel-node/identity"
)

// --- fakes implementing the host collaborator interfaces for tests ---

type fakeMessage struct {
	to *fakeChannel
}

func (m *fakeMessage) Send(payload []byte) error {
	if m.to.onMessage != nil {
		m.to.onMessage(payload)
	}
	return nil
}

type fakeChannel struct {
	onMessage func([]byte)
}

func (c *fakeChannel) Open() error                                         { return nil }
func (c *fakeChannel) FullyOpened(ctx context.Context) (bool, error)        { return true, nil }
func (c *fakeChannel) Close() error                                        { return nil }
func (c *fakeChannel) AddMessage(onMessage func(payload []byte)) Message {
	c.onMessage = onMessage
	return &fakeMessage{to: c}
}

type fakeMux struct{}

func (m *fakeMux) Pair(protocol string, cb func()) { cb() }
func (m *fakeMux) CreateChannel(protocol string, onOpen, onClose func()) (Channel, error) {
	return &fakeChannel{}, nil
}

type fakeConn struct {
	keyHex  string
	mux     *fakeMux
	closers []func()
}

func (c *fakeConn) RemotePublicKeyHex() string { return c.keyHex }
func (c *fakeConn) Multiplexer() Multiplexer   { return c.mux }
func (c *fakeConn) OnClose(fn func())          { c.closers = append(c.closers, fn) }

type fakeSwarm struct {
	mu       sync.Mutex
	conns    []Connection
	onConn   func(Connection)
	joinedOK bool
}

func (s *fakeSwarm) Connections() []Connection { return s.conns }
func (s *fakeSwarm) OnConnection(fn func(Connection)) {
	s.onConn = fn
	for _, c := range s.conns {
		fn(c)
	}
}
func (s *fakeSwarm) Join(ctx context.Context, topic [32]byte, opts JoinOptions) error {
	s.joinedOK = true
	return nil
}
func (s *fakeSwarm) Flush(ctx context.Context) error { return nil }

func newTestEngine(t *testing.T, cfg Config) (*Engine, *fakeSwarm, identity.Wallet) {
	t.Helper()
	kp, err := identity.NewKeypair()
	if err != nil {
		t.Fatal(err)
	}
	sw := &fakeSwarm{}
	e := NewEngine(cfg, kp, sw, nil, nil, clock.NewManual(1_000_000))
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	return e, sw, kp
}

func baseConfig(entry string) Config {
	return Config{
		EntryChannel:       entry,
		MaxMessageBytes:    1 << 16,
		AllowRemoteOpen:    true,
		AutoJoinOnOpen:     true,
		RelayEnabled:       true,
		RelayTTL:           4,
		MaxSeen:            1000,
		SeenTTLMs:          60_000,
		RateBytesPerSecond: 100_000,
		RateBurstBytes:     100_000,
		MaxStrikes:         3,
		StrikeWindowMs:     10_000,
		BlockMs:            10_000,
		WelcomeRequired:    false,
	}
}

func connectFakePeer(e *Engine, sw *fakeSwarm, keyHex string) *fakeConn {
	conn := &fakeConn{keyHex: keyHex, mux: &fakeMux{}}
	sw.conns = append(sw.conns, conn)
	if sw.onConn != nil {
		sw.onConn(conn)
	}
	// Channel creation finishes synchronously on the fake multiplexer, but
	// onChannelFullyOpened runs in its own goroutine; poll briefly for the
	// channel record to appear instead of racing on a fixed sleep.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		cs := e.connState(conn)
		cs.mu.Lock()
		_, ok := cs.channels[e.cfg.EntryChannel]
		cs.mu.Unlock()
		if ok {
			break
		}
		time.Sleep(time.Millisecond)
	}
	return conn
}

func TestRegisterChannelJoinsTopic(t *testing.T) {
	e, sw, _ := newTestEngine(t, baseConfig("lobby"))
	if !sw.joinedOK {
		t.Fatal("expected Start to join the entry channel's topic")
	}
	entry, err := e.RegisterChannel("trades")
	if err != nil {
		t.Fatal(err)
	}
	if entry.Protocol != "sidechannel/trades" {
		t.Fatalf("unexpected protocol: %q", entry.Protocol)
	}
}

func TestBroadcastDeliversToConnectedPeer(t *testing.T) {
	cfg := baseConfig("lobby")
	e, sw, _ := newTestEngine(t, cfg)

	peerKp, _ := identity.NewKeypair()
	conn := connectFakePeer(e, sw, peerKp.PublicKeyHex())

	var received []byte
	done := make(chan struct{}, 1)
	e.onMessage = func(channel string, p *Payload, c Connection) {
		received = p.Message
		done <- struct{}{}
	}

	// Simulate the peer sending straight back to itself is not meaningful;
	// instead broadcast from the engine and assert delivery reaches the
	// fake channel's onMessage hook (i.e. Send was actually invoked).
	cs := e.connState(conn)
	cs.mu.Lock()
	rec := cs.channels["lobby"]
	cs.mu.Unlock()
	if rec == nil {
		t.Fatal("expected lobby channel to be open on the connection")
	}

	// Capture the bytes Broadcast hands to the fake channel's send slot and
	// decode them, exercising Broadcast's encoding. They are not looped back
	// through handleInbound: Broadcast records its own id in the seen-set, so
	// the engine would drop such an echo as a duplicate.
	fc := rec.channel.(*fakeChannel)
	fc.onMessage = func(payload []byte) {
		var p Payload
		if err := json.Unmarshal(payload, &p); err == nil {
			received = p.Message
		}
		done <- struct{}{}
	}

	if err := e.Broadcast("lobby", map[string]interface{}{"hello": "world"}, BroadcastOptions{}); err != nil {
		t.Fatal(err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
	var m map[string]interface{}
	if err := json.Unmarshal(received, &m); err != nil {
		t.Fatal(err)
	}
	if m["hello"] != "world" {
		t.Fatalf("unexpected message: %v", m)
	}
}

func TestInviteGateDropsUninvitedPayload(t *testing.T) {
	cfg := baseConfig("lobby")
	cfg.InviteRequired = true
	cfg.InviteRequiredChannels = map[string]struct{}{"private": {}}
	e, sw, _ := newTestEngine(t, cfg)
	if _, err := e.RegisterChannel("private"); err == nil {
		t.Fatal("expected registration of an invite-required channel to fail without a local invite or inviter status")
	}

	// Directly exercise checkInvite since RegisterChannel already refused a
	// channel this peer cannot author.
	if e.checkInvite("private", "deadbeef", &Payload{}, nil, 0) {
		t.Fatal("expected an uninvited payload to fail the invite check")
	}
	_ = sw
}

func TestOwnerWriteGateRejectsNonOwner(t *testing.T) {
	cfg := baseConfig("lobby")
	cfg.OwnerWriteOnly = true
	_, sw, selfWallet := newTestEngine(t, cfg)
	_ = sw
	cfg.DefaultOwnerKey = selfWallet.PublicKeyHex()
	e2, _, _ := newTestEngine(t, cfg)
	if e2.ownerWriteOK("lobby", "somebodyelse", ControlNone) {
		t.Fatal("expected a non-owner write to be rejected on an owner-write-only channel")
	}
	if !e2.ownerWriteOK("lobby", cfg.DefaultOwnerKey, ControlNone) {
		t.Fatal("expected the configured owner's write to be accepted")
	}
	if !e2.ownerWriteOK("lobby", "somebodyelse", ControlAuth) {
		t.Fatal("expected an auth control message to bypass the owner-write gate")
	}
}

func TestDedupDropsRepeatedID(t *testing.T) {
	cfg := baseConfig("lobby")
	e, sw, _ := newTestEngine(t, cfg)
	peerKp, _ := identity.NewKeypair()
	conn := connectFakePeer(e, sw, peerKp.PublicKeyHex())

	var count int
	e.onMessage = func(channel string, p *Payload, c Connection) { count++ }

	raw, _ := json.Marshal(&Payload{ID: "dup-1", Channel: "lobby", From: peerKp.PublicKeyHex(), Ts: 1})
	e.handleInbound("lobby", raw, conn)
	e.handleInbound("lobby", raw, conn)
	if count != 1 {
		t.Fatalf("expected exactly one delivery for a repeated id, got %d", count)
	}
}
