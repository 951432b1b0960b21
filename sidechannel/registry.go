package sidechannel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sidechannel-node/identity"
)

// RegisterChannel adds channel name to the registry and joins its derived
// swarm topic, per spec §4.6. A channel that requires invites is refused
// unless the local peer is itself a configured inviter or already holds an
// accepted local invite for it. Re-registering an already-registered
// channel is a no-op that returns the existing entry.
func (e *Engine) RegisterChannel(name string) (*ChannelEntry, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("sidechannel: channel name must not be empty")
	}

	e.mu.Lock()
	if existing, ok := e.channels[name]; ok {
		e.mu.Unlock()
		return &existing, nil
	}
	e.mu.Unlock()

	if e.cfg.channelRequiresInvite(name) {
		_, hasLocalInvite := e.invites.LocalInvite(name, e.now())
		if !e.isConfiguredInviter() && !hasLocalInvite {
			return nil, fmt.Errorf("sidechannel: channel %q requires an invite and the local peer holds none", name)
		}
	}

	entry := deriveChannelEntry(name)

	e.mu.Lock()
	e.channels[name] = entry
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.swarm.Join(ctx, entry.Topic, JoinOptions{Server: true, Client: true}); err != nil {
		e.mu.Lock()
		delete(e.channels, name)
		e.mu.Unlock()
		return nil, fmt.Errorf("sidechannel: join topic for channel %q: %w", name, err)
	}
	if err := e.swarm.Flush(ctx); err != nil {
		e.log.Warnf("sidechannel: flush after join for channel %q: %v", name, err)
	}

	e.mu.Lock()
	for _, conn := range e.connByKey {
		go e.openChannelForConnection(context.Background(), conn, entry)
	}
	e.mu.Unlock()

	return &entry, nil
}

func (e *Engine) isConfiguredInviter() bool {
	if len(e.cfg.InviterKeys) == 0 {
		return false
	}
	_, ok := e.cfg.InviterKeys[identity.NormalizeKeyHex(e.wallet.PublicKeyHex())]
	return ok
}
