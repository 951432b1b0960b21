package sidechannel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"sidechannel-node/sidechannel/invite"
	"sidechannel-node/sidechannel/pow"
)

// BroadcastOptions configures one outgoing broadcast (spec §4.9).
type BroadcastOptions struct {
	TTL        int
	Invite     *invite.Invite
	Difficulty int // overrides Engine's configured PoW difficulty when > 0
}

// Broadcast wraps message in a payload, optionally proof-of-work-stamps it,
// and sends it to every connection on channel, deferring connections whose
// channel is not yet fully opened, per spec §4.9. The payload carries no
// signature. The local peer is always both "from" and "origin" for a freshly
// originated broadcast.
func (e *Engine) Broadcast(channel string, message interface{}, opts BroadcastOptions) error {
	self := e.wallet.PublicKeyHex()
	if !e.ownerWriteOK(channel, self, ControlNone) {
		return fmt.Errorf("sidechannel: broadcast: %q is owner-write-only and the local peer is not its owner", channel)
	}

	entryPtr, err := e.RegisterChannel(channel)
	if err != nil {
		return fmt.Errorf("sidechannel: broadcast: %w", err)
	}
	entry := *entryPtr

	id := uuid.NewString()
	ts := e.now()

	ttl := opts.TTL
	if ttl == 0 {
		ttl = e.cfg.RelayTTL
	}

	raw, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("sidechannel: broadcast: encode message: %w", err)
	}

	var powInfo *PowInfo
	if e.cfg.channelRequiresPow(channel) {
		difficulty := e.cfg.PowDifficulty
		if opts.Difficulty > 0 {
			difficulty = opts.Difficulty
		}
		ceiling := e.cfg.PowNonceCeiling
		if ceiling <= 0 {
			ceiling = pow.DefaultNonceCeiling
		}
		nonce, err := pow.Attach(id, channel, self, self, message, ts, difficulty, ceiling)
		if err != nil {
			return fmt.Errorf("sidechannel: broadcast: %w", err)
		}
		powInfo = &PowInfo{Nonce: nonce, Difficulty: difficulty}
	}

	p := &Payload{
		Type:    "data",
		ID:      id,
		Channel: channel,
		From:    self,
		Origin:  self,
		Message: raw,
		Ts:      ts,
		TTL:     ttl,
		Invite:  opts.Invite,
		Pow:     powInfo,
	}
	out, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("sidechannel: broadcast: encode payload: %w", err)
	}
	if e.cfg.MaxMessageBytes > 0 && len(out) > e.cfg.MaxMessageBytes {
		e.log.Warnf("sidechannel: broadcast: refusing %d-byte payload on %q, exceeds max_message_bytes %d", len(out), channel, e.cfg.MaxMessageBytes)
		return fmt.Errorf("sidechannel: broadcast: payload of %d bytes exceeds max_message_bytes %d", len(out), e.cfg.MaxMessageBytes)
	}

	e.seen.RememberSeen(id)

	e.mu.Lock()
	conns := make([]Connection, 0, len(e.connByKey))
	for _, conn := range e.connByKey {
		conns = append(conns, conn)
	}
	e.mu.Unlock()

	for _, conn := range conns {
		e.sendOrDefer(e.runCtx, conn, entry, out)
	}
	return nil
}

// sendOrDefer sends out over conn's channel record for entry if the
// multiplex channel has already finished its fullyOpened handshake;
// otherwise it waits in the background on that channel's ready signal (or
// ctx ending) before sending, per spec §4.9 ("defer via the fully-opened
// promise"). This covers both a record that exists but isn't yet opened and
// one that hasn't been created on conn at all.
func (e *Engine) sendOrDefer(ctx context.Context, conn Connection, entry ChannelEntry, out []byte) {
	cs := e.connState(conn)
	cs.mu.Lock()
	rec := cs.channels[entry.Name]
	cs.mu.Unlock()
	if rec != nil && rec.opened {
		if err := rec.message.Send(out); err != nil {
			e.log.Warnf("sidechannel: broadcast: send on %q failed: %v", entry.Name, err)
		}
		return
	}

	ready := cs.readySignal(entry.Name)
	go func() {
		select {
		case <-ready:
		case <-ctx.Done():
			return
		}
		cs.mu.Lock()
		rec := cs.channels[entry.Name]
		cs.mu.Unlock()
		if rec == nil || rec.message == nil {
			return
		}
		if err := rec.message.Send(out); err != nil {
			e.log.Warnf("sidechannel: broadcast: deferred send on %q failed: %v", entry.Name, err)
		}
	}()
}

// RequestOpen sends an open_channel control message over entryChannel
// asking the remote peer(s) to join target, optionally carrying an invite
// and/or welcome so the request is self-authorizing, per spec §4.9.
func (e *Engine) RequestOpen(entryChannel, target string, inv *invite.Invite, w *invite.Welcome) error {
	entry := e.channelEntry(entryChannel)
	if entry == nil {
		return fmt.Errorf("sidechannel: requestOpen: channel %q is not registered", entryChannel)
	}

	body := map[string]interface{}{"control": string(ControlOpenChannel), "channel": target}
	if inv != nil {
		body["invite"] = inv
	}
	if w != nil {
		body["welcome"] = w
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p := &Payload{
		Type:    "control",
		ID:      uuid.NewString(),
		Channel: entryChannel,
		From:    e.wallet.PublicKeyHex(),
		Origin:  e.wallet.PublicKeyHex(),
		Message: raw,
		Ts:      e.now(),
	}
	out, err := json.Marshal(p)
	if err != nil {
		return err
	}

	e.mu.Lock()
	conns := make([]Connection, 0, len(e.connByKey))
	for _, conn := range e.connByKey {
		conns = append(conns, conn)
	}
	e.mu.Unlock()

	var lastErr error
	for _, conn := range conns {
		msg, err := e.messageFor(conn, *entry)
		if err != nil {
			continue
		}
		lastErr = msg.Send(out)
	}
	return lastErr
}

// AddChannel registers name exactly as RegisterChannel does (topic join,
// flush, and an open attempt on every existing connection), subject to the
// same invite gate; it accepts no invite of its own. It corresponds to the
// source design's addChannel convenience wrapper over registerChannel
// (spec §4.9).
func (e *Engine) AddChannel(name string) (*ChannelEntry, error) {
	return e.RegisterChannel(name)
}
