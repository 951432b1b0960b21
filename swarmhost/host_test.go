package swarmhost

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"sidechannel-node/sidechannel"
)

func newTestHost(t *testing.T) *Host {
	t.Helper()
	h, err := New(Config{ListenAddr: "/ip4/127.0.0.1/tcp/0"}, nil)
	if err != nil {
		t.Fatalf("new host: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func connectHosts(t *testing.T, a, b *Host) {
	t.Helper()
	info := peer.AddrInfo{ID: b.host.ID(), Addrs: b.host.Addrs()}
	if err := a.host.Connect(context.Background(), info); err != nil {
		t.Fatalf("connect: %v", err)
	}
}

func pollFullyOpened(t *testing.T, ch sidechannel.Channel) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		ok, err := ch.FullyOpened(ctx)
		cancel()
		if err != nil {
			t.Fatalf("fully opened: %v", err)
		}
		if ok {
			return
		}
	}
	t.Fatal("timed out waiting for channel to fully open")
}

// TestChannelRoundTrip brings up two local libp2p hosts, connects them,
// opens a sidechannel protocol channel symmetrically on both sides (per
// spec §4.6), and sends one framed message end to end.
func TestChannelRoundTrip(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	var bConn sidechannel.Connection
	connCh := make(chan struct{}, 1)
	b.OnConnection(func(c sidechannel.Connection) {
		bConn = c
		select {
		case connCh <- struct{}{}:
		default:
		}
	})

	connectHosts(t, a, b)

	select {
	case <-connCh:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for b's connection callback")
	}

	aConns := a.Connections()
	if len(aConns) != 1 {
		t.Fatalf("expected 1 connection on a, got %d", len(aConns))
	}
	aConn := aConns[0]

	const proto = "sidechannel/test"

	muxA := aConn.Multiplexer()
	muxB := bConn.Multiplexer()
	muxA.Pair(proto, func() {})
	muxB.Pair(proto, func() {})

	chB, err := muxB.CreateChannel(proto, func() {}, func() {})
	if err != nil {
		t.Fatalf("b create channel: %v", err)
	}
	received := make(chan []byte, 1)
	chB.AddMessage(func(p []byte) { received <- p })

	chA, err := muxA.CreateChannel(proto, func() {}, func() {})
	if err != nil {
		t.Fatalf("a create channel: %v", err)
	}
	msgA := chA.AddMessage(func([]byte) {})

	pollFullyOpened(t, chA)
	pollFullyOpened(t, chB)

	if err := msgA.Send([]byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Fatalf("expected %q, got %q", "hello", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message delivery")
	}
}

func TestRemotePublicKeyHexMatchesPeerstore(t *testing.T) {
	a := newTestHost(t)
	b := newTestHost(t)

	connCh := make(chan sidechannel.Connection, 1)
	a.OnConnection(func(c sidechannel.Connection) { connCh <- c })

	connectHosts(t, a, b)

	select {
	case conn := <-connCh:
		if conn.RemotePublicKeyHex() == "" {
			t.Fatal("expected a non-empty remote public key hex")
		}
		raw, err := b.host.Peerstore().PubKey(b.host.ID()).Raw()
		if err != nil {
			t.Fatalf("b's own public key: %v", err)
		}
		if want := hex.EncodeToString(raw); conn.RemotePublicKeyHex() != want {
			t.Fatalf("expected remote key %s (b's peerstore key), got %s", want, conn.RemotePublicKeyHex())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for connection callback")
	}
}
