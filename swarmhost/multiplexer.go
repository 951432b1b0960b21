package swarmhost

import (
	"context"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/protocol"

	"sidechannel-node/sidechannel"
)

// Mux opens multiplex channels for one connection: each named protocol
// becomes a pair of libp2p streams (one per direction), since libp2p has no
// native two-way "pairing" handshake beyond multistream-select.
type Mux struct {
	conn *Conn
}

var _ sidechannel.Multiplexer = (*Mux)(nil)

// Pair registers the inbound stream handler for protocol (idempotent,
// host-wide) and reports ready immediately: libp2p negotiates the protocol
// per-stream via multistream-select, so there is no separate pairing round
// trip to await here.
func (m *Mux) Pair(proto string, cb func()) {
	m.conn.host.ensureHandler(protocol.ID(proto))
	cb()
}

// CreateChannel opens the outbound stream for proto. The channel is not
// fully usable for reads until the peer's own outbound stream arrives here
// as our inbound stream (awaited in Channel.FullyOpened).
func (m *Mux) CreateChannel(proto string, onOpen, onClose func()) (sidechannel.Channel, error) {
	pid := protocol.ID(proto)
	ctx, cancel := context.WithTimeout(m.conn.host.ctx, 10*time.Second)
	defer cancel()

	s, err := m.conn.host.host.NewStream(ctx, m.conn.peer, pid)
	if err != nil {
		return nil, fmt.Errorf("swarmhost: open stream %s to %s: %w", proto, m.conn.peer, err)
	}

	ch := &channel{
		host:    m.conn.host,
		peer:    m.conn.peer,
		protoID: pid,
		out:     s,
		onClose: onClose,
	}
	if onOpen != nil {
		onOpen()
	}
	return ch, nil
}
