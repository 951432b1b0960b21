package sidechannel

import (
	"encoding/json"

	"sidechannel-node/identity"
	"sidechannel-node/sidechannel/invite"
	"sidechannel-node/sidechannel/pow"
)

// handleInbound runs the full admission pipeline from spec §4.7 on one
// payload received on channel from conn, in the exact order: blocked check,
// byte-length measurement, invite check, PoW check, rate check, owner-write
// gate, dedup, welcome gate, control dispatch, relay.
func (e *Engine) handleInbound(channel string, raw []byte, conn Connection) {
	cs := e.connState(conn)

	// (1) blocked check
	if cs.limiter.Blocked() {
		e.recordDrop("blocked")
		return
	}

	// (2) measure bytes; drop on malformed payload
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		e.log.Debugf("sidechannel: dropping malformed payload on %q: %v", channel, err)
		e.recordDrop("malformed")
		return
	}
	payloadBytes := len(raw)
	if e.cfg.MaxMessageBytes > 0 && payloadBytes > e.cfg.MaxMessageBytes {
		e.log.Debugf("sidechannel: dropping oversized payload on %q (%d bytes)", channel, payloadBytes)
		e.recordDrop("oversize")
		return
	}

	env := decodeEnvelope(p.Message)
	now := e.now()

	// (3) invite check
	if !e.checkInvite(channel, cs.remoteKeyHex, &p, env, now) {
		e.log.Debugf("sidechannel: dropping uninvited payload on %q from %s", channel, identity.ShortKey(cs.remoteKeyHex))
		e.recordDrop("invite")
		return
	}

	// (4) PoW check
	if e.cfg.channelRequiresPow(channel) {
		var nonce int64
		nonceOK := p.Pow != nil
		if nonceOK {
			nonce = p.Pow.Nonce
		}
		if !pow.Check(p.ID, channel, p.From, p.Origin, p.decodedMessage(), p.Ts, nonce, nonceOK, e.cfg.PowDifficulty) {
			e.log.Debugf("sidechannel: dropping payload failing proof-of-work on %q", channel)
			e.recordDrop("pow")
			return
		}
	}

	// (5) rate check
	if !cs.limiter.Allow(payloadBytes) {
		e.log.Debugf("sidechannel: dropping rate-limited payload on %q from %s", channel, cs.remoteKeyHex)
		e.recordDrop("rate_limit")
		return
	}

	control := ControlNone
	if env != nil {
		control = env.Control
	}

	// (6) owner-write gate
	if !e.ownerWriteOK(channel, p.From, control) {
		e.log.Debugf("sidechannel: dropping payload on owner-write-only channel %q from non-owner %s", channel, p.From)
		e.recordDrop("owner_write")
		return
	}

	// (7) dedup
	id := p.ID
	if id == "" {
		id = syntheticID(p.From, p.Ts, channel)
	}
	if e.seen.RememberSeen(id) {
		e.recordDrop("duplicate")
		return
	}

	// (8) welcome gate
	if !e.checkWelcome(channel, control, &p, env) {
		e.log.Debugf("sidechannel: dropping payload failing welcome gate on %q", channel)
		e.recordDrop("welcome")
		return
	}

	// (9) dispatch by control
	e.dispatch(channel, control, env, &p, conn, now)

	// (10) relay
	entry := e.channelEntry(channel)
	if entry != nil {
		e.relay(channel, *entry, control, &p, raw, conn)
	}
}

func (e *Engine) channelEntry(channel string) *ChannelEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.channels[channel]; ok {
		return &entry
	}
	return nil
}

func (e *Engine) checkInvite(channel, remoteKeyHex string, p *Payload, env *envelope, now int64) bool {
	if !e.cfg.channelRequiresInvite(channel) {
		return true
	}
	if _, ok := e.cfg.InviterKeys[identity.NormalizeKeyHex(remoteKeyHex)]; ok {
		return true
	}
	if e.invites.IsInvitee(channel, remoteKeyHex, now) {
		return true
	}
	inv := p.findInvite(env)
	if inv == nil {
		return false
	}
	var inviterKeys map[string]struct{}
	if len(e.cfg.InviterKeys) > 0 {
		inviterKeys = e.cfg.InviterKeys
	}
	if err := inv.Verify(invite.VerifyParams{Channel: channel, InviterKeys: inviterKeys, NowMs: now}); err != nil {
		return false
	}
	e.invites.RecordInvitee(channel, remoteKeyHex, inv.ExpiresAt)
	return true
}

func (e *Engine) ownerWriteOK(channel, from string, control ControlKind) bool {
	if !e.cfg.channelIsOwnerWriteOnly(channel) {
		return true
	}
	if control == ControlAuth {
		return true
	}
	owner := e.cfg.ownerForChannel(channel)
	return owner != "" && sameKey(owner, from)
}

func (e *Engine) checkWelcome(channel string, control ControlKind, p *Payload, env *envelope) bool {
	owner := e.cfg.ownerForChannel(channel)
	if control == ControlWelcome {
		w := p.findWelcome(env)
		if w == nil {
			return false
		}
		if err := w.Verify(invite.WelcomeVerifyParams{Channel: channel, ExpectedOwner: owner}); err != nil {
			return false
		}
		e.invites.MarkWelcomed(channel)
		return true
	}
	if !e.cfg.channelRequiresWelcome(channel) || e.invites.IsWelcomed(channel) {
		return true
	}
	w := p.findWelcome(env)
	if w == nil {
		return false
	}
	if err := w.Verify(invite.WelcomeVerifyParams{Channel: channel, ExpectedOwner: owner}); err != nil {
		return false
	}
	e.invites.MarkWelcomed(channel)
	return true
}

// dispatch handles open_channel and auth inline, and delivers any other
// control (or no control) to the host's MessageHandler, per spec §4.7
// step 9.
func (e *Engine) dispatch(channel string, control ControlKind, env *envelope, p *Payload, conn Connection, now int64) {
	switch control {
	case ControlOpenChannel:
		if !e.cfg.AllowRemoteOpen || env == nil || env.Channel == "" {
			return
		}
		if !e.validateOpenChannelRequest(env.Channel, env, p, now) {
			e.log.Debugf("sidechannel: rejecting open_channel request for %q", env.Channel)
			return
		}
		if e.cfg.AutoJoinOnOpen {
			if _, err := e.RegisterChannel(env.Channel); err != nil {
				e.log.Warnf("sidechannel: auto-join for %q failed: %v", env.Channel, err)
			}
		} else {
			e.log.Infof("sidechannel: remote requested open_channel for %q (auto-join disabled)", env.Channel)
		}
	case ControlAuth:
		// verified at step (3); no further action.
	default:
		if e.onMessage != nil {
			e.onMessage(channel, p, conn)
		} else {
			e.log.Debugf("sidechannel: message on %q: %s", channel, string(p.Message))
		}
	}
}

func (e *Engine) validateOpenChannelRequest(target string, env *envelope, p *Payload, now int64) bool {
	if e.cfg.channelRequiresInvite(target) {
		inv := p.findInvite(env)
		if inv == nil {
			return false
		}
		var inviterKeys map[string]struct{}
		if len(e.cfg.InviterKeys) > 0 {
			inviterKeys = e.cfg.InviterKeys
		}
		if err := inv.Verify(invite.VerifyParams{Channel: target, InviterKeys: inviterKeys, NowMs: now}); err != nil {
			return false
		}
	}
	if e.cfg.channelRequiresWelcome(target) {
		w := p.findWelcome(env)
		if w == nil {
			return false
		}
		owner := e.cfg.ownerForChannel(target)
		if err := w.Verify(invite.WelcomeVerifyParams{Channel: target, ExpectedOwner: owner}); err != nil {
			return false
		}
	}
	return true
}
