package swarmhost

import (
	"encoding/hex"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"sidechannel-node/sidechannel"
)

// Conn adapts one libp2p peer connection to sidechannel.Connection.
type Conn struct {
	host *Host
	peer peer.ID

	mu       sync.Mutex
	mux      *Mux
	closeFns []func()
	closed   bool
}

var _ sidechannel.Connection = (*Conn)(nil)

// RemotePublicKeyHex returns the remote peer's raw public key, hex-encoded
// the same way identity.Wallet keys are, so the two namespaces line up.
func (c *Conn) RemotePublicKeyHex() string {
	pub := c.host.host.Peerstore().PubKey(c.peer)
	if pub == nil {
		return c.peer.String()
	}
	raw, err := pub.Raw()
	if err != nil {
		return c.peer.String()
	}
	return hex.EncodeToString(raw)
}

// Multiplexer returns this connection's channel opener, creating it lazily.
func (c *Conn) Multiplexer() sidechannel.Multiplexer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mux == nil {
		c.mux = &Mux{conn: c}
	}
	return c.mux
}

// OnClose registers fn to run once, when the underlying libp2p connection
// disconnects.
func (c *Conn) OnClose(fn func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.closeFns = append(c.closeFns, fn)
	c.mu.Unlock()
}

func (c *Conn) fireClose() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	fns := c.closeFns
	c.closeFns = nil
	c.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}
