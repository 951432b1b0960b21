package sidechannel

import (
	"encoding/json"
	"fmt"

	"sidechannel-node/sidechannel/invite"
)

func (e *Engine) messageFor(conn Connection, entry ChannelEntry) (Message, error) {
	cs := e.connState(conn)
	cs.mu.Lock()
	rec := cs.channels[entry.Name]
	cs.mu.Unlock()
	if rec == nil || rec.message == nil {
		return nil, fmt.Errorf("sidechannel: channel %q not open on connection", entry.Name)
	}
	return rec.message, nil
}

func (e *Engine) sendControl(conn Connection, entry ChannelEntry, control ControlKind, extra map[string]interface{}) error {
	msg, err := e.messageFor(conn, entry)
	if err != nil {
		return err
	}
	body := map[string]interface{}{"control": string(control)}
	for k, v := range extra {
		body[k] = v
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p := &Payload{
		Type:    "control",
		ID:      syntheticID(e.wallet.PublicKeyHex(), e.now(), entry.Name),
		Channel: entry.Name,
		From:    e.wallet.PublicKeyHex(),
		Origin:  e.wallet.PublicKeyHex(),
		Message: raw,
		Ts:      e.now(),
		TTL:     0,
	}
	out, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return msg.Send(out)
}

func (e *Engine) sendWelcome(conn Connection, entry ChannelEntry) error {
	w := &invite.Welcome{
		Channel:     entry.Name,
		OwnerPubKey: e.wallet.PublicKeyHex(),
		IssuedAt:    e.now(),
	}
	if err := w.Sign(e.wallet); err != nil {
		return err
	}
	return e.sendControl(conn, entry, ControlWelcome, map[string]interface{}{"welcome": w})
}

func (e *Engine) sendAuth(conn Connection, entry ChannelEntry, inv *invite.Invite) error {
	return e.sendControl(conn, entry, ControlAuth, map[string]interface{}{"invite": inv})
}
