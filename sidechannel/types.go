// Package sidechannel implements the authenticated, invite-gated,
// owner-signed, per-channel pub/sub overlay described in spec §§3-4.9: a
// multiplexed messaging plane layered over a swarm-connected peer runtime.
package sidechannel

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"

	"sidechannel-node/identity"
	"sidechannel-node/sidechannel/invite"
)

// Wallet is the signing/verifying collaborator consumed from the host peer
// (spec §6, peer.wallet). It is identity.Wallet re-exported here so callers
// need only import this package.
type Wallet = identity.Wallet

// ChannelEntry is a registered channel: a human name plus its derived topic
// and protocol identifier (spec §3).
type ChannelEntry struct {
	Name     string
	Topic    [32]byte
	Protocol string
}

func deriveChannelEntry(name string) ChannelEntry {
	topic := sha256.Sum256([]byte("sidechannel:" + name))
	return ChannelEntry{Name: name, Topic: topic, Protocol: "sidechannel/" + name}
}

// Payload is the wire message defined in spec §3.
type Payload struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Channel   string          `json:"channel"`
	From      string          `json:"from,omitempty"`
	Origin    string          `json:"origin,omitempty"`
	Message   json.RawMessage `json:"message,omitempty"`
	Ts        int64           `json:"ts"`
	TTL       int             `json:"ttl"`
	Invite    *invite.Invite  `json:"invite,omitempty"`
	Pow       *PowInfo        `json:"pow,omitempty"`
	RelayedBy string          `json:"relayedBy,omitempty"`
}

// PowInfo is the attached proof-of-work nonce (spec §4.5).
type PowInfo struct {
	Nonce      int64 `json:"nonce"`
	Difficulty int   `json:"difficulty"`
}

// ControlKind tags the recognized message.control values, replacing the
// source's dynamic string dispatch with a closed variant (spec §9).
type ControlKind string

const (
	ControlNone        ControlKind = ""
	ControlOpenChannel ControlKind = "open_channel"
	ControlAuth        ControlKind = "auth"
	ControlWelcome     ControlKind = "welcome"
)

// envelope is the recognized shape of Payload.Message when it carries a
// control instruction rather than an opaque application object.
type envelope struct {
	Control ControlKind     `json:"control,omitempty"`
	Channel string          `json:"channel,omitempty"`
	Invite  *invite.Invite  `json:"invite,omitempty"`
	Welcome *invite.Welcome `json:"welcome,omitempty"`
}

func decodeEnvelope(raw json.RawMessage) *envelope {
	if len(raw) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil
	}
	return &env
}

// decodedMessage returns p.Message as a canon-friendly generic value (used
// for the PoW base; host callbacks receive the raw Payload instead).
func (p *Payload) decodedMessage() interface{} {
	if len(p.Message) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(p.Message, &v); err != nil {
		return nil
	}
	return v
}

// findInvite accepts an invite from either the top-level payload or the
// embedded control message, per spec §4.7 step 3.
func (p *Payload) findInvite(env *envelope) *invite.Invite {
	if p.Invite != nil {
		return p.Invite
	}
	if env != nil && env.Invite != nil {
		return env.Invite
	}
	return nil
}

// findWelcome accepts a welcome from message.welcome, the invite's embedded
// welcome (top-level or within the control message), per spec §4.7 step 8.
func (p *Payload) findWelcome(env *envelope) *invite.Welcome {
	if env != nil {
		if env.Welcome != nil {
			return env.Welcome
		}
		if env.Invite != nil && env.Invite.Welcome != nil {
			return env.Invite.Welcome
		}
	}
	if p.Invite != nil && p.Invite.Welcome != nil {
		return p.Invite.Welcome
	}
	return nil
}

// syntheticID builds the stable dedup fallback id used when a payload
// carries no id of its own (spec §4.7 step 7).
func syntheticID(from string, ts int64, channel string) string {
	return fmt.Sprintf("%s:%d:%s", strings.ToLower(from), ts, channel)
}

// --- host collaborator interfaces (spec §6) ---

// Connection is one peer connection surfaced by the swarm.
type Connection interface {
	RemotePublicKeyHex() string
	// Multiplexer returns the connection's multiplexer, or nil if not yet
	// available (the opener retries in that case).
	Multiplexer() Multiplexer
	// OnClose registers fn to run when the connection closes. Implementations
	// must call fn at most once.
	OnClose(fn func())
}

// Multiplexer opens one named protocol channel per connection.
type Multiplexer interface {
	// Pair ensures the protocol is negotiated on this connection, invoking cb
	// once when ready. Safe to call multiple times for the same protocol;
	// only the first pairing is effective.
	Pair(protocol string, cb func())
	CreateChannel(protocol string, onOpen, onClose func()) (Channel, error)
}

// Channel is a single multiplexed sub-connection for one protocol.
type Channel interface {
	Open() error
	// FullyOpened resolves once the remote side has acknowledged the
	// channel, or ctx is done.
	FullyOpened(ctx context.Context) (bool, error)
	Close() error
	AddMessage(onMessage func(payload []byte)) Message
}

// Message is the JSON message slot on an open Channel.
type Message interface {
	Send(payload []byte) error
}

// JoinOptions mirrors peer.swarm.join(topic, {server, client}).
type JoinOptions struct {
	Server bool
	Client bool
}

// Swarm is the host's connection/topic surface.
type Swarm interface {
	Connections() []Connection
	// OnConnection registers fn to be invoked for every current and future
	// connection.
	OnConnection(fn func(Connection))
	Join(ctx context.Context, topic [32]byte, opts JoinOptions) error
	Flush(ctx context.Context) error
}
