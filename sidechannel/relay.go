package sidechannel

import (
	"encoding/json"

	"sidechannel-node/identity"
)

// relay fans a payload out to this peer's other authorized connections for
// channel, per spec §4.8. Relay never forwards auth or welcome control
// messages (they are connection-scoped handshakes, not channel content),
// and only forwards while ttl remains positive. Forwarded copies have ttl
// decremented and relayedBy set to the local peer. On an invite-required
// channel they only go to connections whose key is a configured inviter or
// a recorded, unexpired invitee; on other channels every connection other
// than the origin that has the channel open receives them.
func (e *Engine) relay(channel string, entry ChannelEntry, control ControlKind, p *Payload, raw []byte, origin Connection) {
	if !e.cfg.RelayEnabled {
		return
	}
	if control == ControlAuth || control == ControlWelcome {
		return
	}
	if p.TTL <= 0 {
		return
	}

	out := *p
	out.TTL = p.TTL - 1
	out.RelayedBy = e.wallet.PublicKeyHex()
	body, err := json.Marshal(out)
	if err != nil {
		e.log.Warnf("sidechannel: relay: failed to re-encode payload on %q: %v", channel, err)
		return
	}

	originKey := identity.NormalizeKeyHex(origin.RemotePublicKeyHex())

	e.mu.Lock()
	targets := make([]Connection, 0, len(e.connByKey))
	for key, conn := range e.connByKey {
		if key == originKey {
			continue
		}
		targets = append(targets, conn)
	}
	e.mu.Unlock()

	for _, conn := range targets {
		cs := e.connState(conn)
		if e.cfg.channelRequiresInvite(channel) {
			key := identity.NormalizeKeyHex(cs.remoteKeyHex)
			_, isInviter := e.cfg.InviterKeys[key]
			if !isInviter && !e.invites.IsInvitee(channel, cs.remoteKeyHex, e.now()) {
				continue
			}
		}
		msg, err := e.messageFor(conn, entry)
		if err != nil {
			continue
		}
		if err := msg.Send(body); err != nil {
			e.log.Debugf("sidechannel: relay: send to %s failed: %v", cs.remoteKeyHex, err)
			continue
		}
		if e.metrics != nil {
			e.metrics.SidechannelRelayedTotal.Inc()
		}
	}
}
