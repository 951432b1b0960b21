package swarmhost

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"

	"sidechannel-node/sidechannel"
)

// maxFrameBytes bounds one length-prefixed frame; well above
// sidechannel.Config.MaxMessageBytes' usual range, it exists only to stop a
// corrupt length prefix from triggering an unbounded allocation.
const maxFrameBytes = 16 << 20

// channel is one multiplexed sidechannel protocol over a libp2p connection:
// an outbound stream owned by this side, and an inbound stream accepted
// once the remote peer opens its own outbound stream for the same
// protocol.
type channel struct {
	host    *Host
	peer    peer.ID
	protoID protocol.ID

	out     network.Stream
	onClose func()

	mu         sync.Mutex
	in         network.Stream
	opened     bool
	closed     bool
	msgHandler func([]byte)

	writeMu sync.Mutex
}

var _ sidechannel.Channel = (*channel)(nil)
var _ sidechannel.Message = (*channel)(nil)

// Open is a no-op: the outbound stream is already live once NewStream
// succeeds.
func (c *channel) Open() error { return nil }

// FullyOpened waits (with an internal per-attempt timeout so the engine's
// own retry/backoff loop gets a chance to run) for the peer's matching
// inbound stream to arrive, then starts the read loop.
func (c *channel) FullyOpened(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return true, nil
	}
	c.mu.Unlock()

	key := pendingKey{peer: c.peer, proto: c.protoID}
	ch := c.host.inboundChannel(key)

	waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	select {
	case s := <-ch:
		c.mu.Lock()
		c.in = s
		c.opened = true
		handler := c.msgHandler
		c.mu.Unlock()
		go c.readLoop(s, handler)
		return true, nil
	case <-waitCtx.Done():
		return false, nil
	}
}

// AddMessage installs the inbound payload callback and returns this
// channel's send slot.
func (c *channel) AddMessage(onMessage func(payload []byte)) sidechannel.Message {
	c.mu.Lock()
	c.msgHandler = onMessage
	c.mu.Unlock()
	return c
}

// Send writes one length-prefixed frame on the outbound stream.
func (c *channel) Send(payload []byte) error {
	if len(payload) > maxFrameBytes {
		return fmt.Errorf("swarmhost: frame too large (%d bytes)", len(payload))
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := c.out.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("swarmhost: write frame length: %w", err)
	}
	if _, err := c.out.Write(payload); err != nil {
		return fmt.Errorf("swarmhost: write frame body: %w", err)
	}
	return nil
}

func (c *channel) readLoop(s network.Stream, handler func([]byte)) {
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(s, lenBuf[:]); err != nil {
			c.closeOnce()
			return
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		if n > maxFrameBytes {
			c.closeOnce()
			return
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(s, buf); err != nil {
			c.closeOnce()
			return
		}
		c.mu.Lock()
		h := c.msgHandler
		c.mu.Unlock()
		if h != nil {
			h(buf)
		}
	}
}

// Close tears down both directions of the channel.
func (c *channel) Close() error {
	c.closeOnce()
	return nil
}

func (c *channel) closeOnce() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	in := c.in
	onClose := c.onClose
	c.mu.Unlock()

	if c.out != nil {
		_ = c.out.Close()
	}
	if in != nil {
		_ = in.Close()
	}
	if onClose != nil {
		onClose()
	}
}
