// Package invite implements the invite and welcome credentials from spec
// §4.4: signed, expiring authorization tokens that gate which remote peers
// may read and write a given sidechannel, and the per-channel state they
// populate once verified.
package invite

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"sidechannel-node/identity"
	"sidechannel-node/sidechannel/canon"
)

// Invite is the signed credential an inviter issues to let inviteePubKey
// read and write a channel. The embedded Welcome, if present, lets the
// invitee immediately demonstrate the channel is operational without a
// separate round trip; it is not covered by the invite's own signature.
type Invite struct {
	Channel        string   `json:"channel"`
	InviteePubKey  string   `json:"inviteePubKey"`
	InviterPubKey  string   `json:"inviterPubKey"`
	InviterAddress string   `json:"inviterAddress,omitempty"`
	IssuedAt       int64    `json:"issuedAt"`
	ExpiresAt      int64    `json:"expiresAt"`
	Nonce          string   `json:"nonce"`
	Version        int      `json:"version"`
	Welcome        *Welcome `json:"welcome,omitempty"`
	Signature      string   `json:"signature"`
}

// Welcome is the owner-signed greeting token that marks a channel as
// operational.
type Welcome struct {
	Channel     string `json:"channel"`
	OwnerPubKey string `json:"ownerPubKey"`
	Text        string `json:"text"`
	IssuedAt    int64  `json:"issuedAt"`
	Version     int    `json:"version"`
	Signature   string `json:"signature"`
}

func normalizeChannel(s string) string { return strings.TrimSpace(s) }

func (inv *Invite) signingPayload() map[string]interface{} {
	return map[string]interface{}{
		"channel":        normalizeChannel(inv.Channel),
		"inviteePubKey":  identity.NormalizeKeyHex(inv.InviteePubKey),
		"inviterPubKey":  identity.NormalizeKeyHex(inv.InviterPubKey),
		"inviterAddress": inv.InviterAddress,
		"issuedAt":       inv.IssuedAt,
		"expiresAt":      inv.ExpiresAt,
		"nonce":          inv.Nonce,
		"version":        inv.Version,
	}
}

// Sign fills Version (defaulting to 1) and Signature in place.
func (inv *Invite) Sign(w identity.Wallet) error {
	if inv.Version == 0 {
		inv.Version = 1
	}
	msg, err := canon.Marshal(inv.signingPayload())
	if err != nil {
		return fmt.Errorf("invite: sign: %w", err)
	}
	inv.Signature = hex.EncodeToString(w.Sign([]byte(msg)))
	return nil
}

// VerifyParams scopes an invite verification to a channel and an optional
// restricted set of permitted inviter keys (normalized lowercase hex;
// nil/empty means any inviter key is acceptable).
type VerifyParams struct {
	Channel     string
	InviterKeys map[string]struct{}
	NowMs       int64
}

// Verify checks signature validity, channel binding, inviter-set
// membership (if restricted), and expiry, per spec §4.4.
func (inv *Invite) Verify(p VerifyParams) error {
	if inv == nil {
		return fmt.Errorf("invite: nil invite")
	}
	if normalizeChannel(inv.Channel) != normalizeChannel(p.Channel) {
		return fmt.Errorf("invite: channel mismatch: payload=%q context=%q", inv.Channel, p.Channel)
	}
	sig, err := hex.DecodeString(inv.Signature)
	if err != nil {
		return fmt.Errorf("invite: malformed signature: %w", err)
	}
	msg, err := canon.Marshal(inv.signingPayload())
	if err != nil {
		return fmt.Errorf("invite: %w", err)
	}
	if !verifySignatureCached(sig, []byte(msg), inv.InviterPubKey) {
		return fmt.Errorf("invite: signature verification failed")
	}
	if len(p.InviterKeys) > 0 {
		if _, ok := p.InviterKeys[identity.NormalizeKeyHex(inv.InviterPubKey)]; !ok {
			return fmt.Errorf("invite: inviter key not in configured inviter set")
		}
	}
	if p.NowMs >= inv.ExpiresAt {
		return fmt.Errorf("invite: expired at %d (now %d)", inv.ExpiresAt, p.NowMs)
	}
	return nil
}

func (w *Welcome) signingPayload() map[string]interface{} {
	return map[string]interface{}{
		"channel":     normalizeChannel(w.Channel),
		"ownerPubKey": identity.NormalizeKeyHex(w.OwnerPubKey),
		"text":        w.Text,
		"issuedAt":    w.IssuedAt,
		"version":     w.Version,
	}
}

// Sign fills Version (defaulting to 1) and Signature in place.
func (w *Welcome) Sign(owner identity.Wallet) error {
	if w.Version == 0 {
		w.Version = 1
	}
	msg, err := canon.Marshal(w.signingPayload())
	if err != nil {
		return fmt.Errorf("welcome: sign: %w", err)
	}
	w.Signature = hex.EncodeToString(owner.Sign([]byte(msg)))
	return nil
}

// WelcomeVerifyParams scopes a welcome verification to a channel and its
// configured owner key (normalized lowercase hex).
type WelcomeVerifyParams struct {
	Channel       string
	ExpectedOwner string
}

// Verify checks signature validity, channel binding and owner-key match.
func (w *Welcome) Verify(p WelcomeVerifyParams) error {
	if w == nil {
		return fmt.Errorf("welcome: nil welcome")
	}
	if normalizeChannel(w.Channel) != normalizeChannel(p.Channel) {
		return fmt.Errorf("welcome: channel mismatch: payload=%q context=%q", w.Channel, p.Channel)
	}
	if identity.NormalizeKeyHex(w.OwnerPubKey) != identity.NormalizeKeyHex(p.ExpectedOwner) {
		return fmt.Errorf("welcome: owner key mismatch for channel %q", w.Channel)
	}
	sig, err := hex.DecodeString(w.Signature)
	if err != nil {
		return fmt.Errorf("welcome: malformed signature: %w", err)
	}
	msg, err := canon.Marshal(w.signingPayload())
	if err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	if !verifySignatureCached(sig, []byte(msg), w.OwnerPubKey) {
		return fmt.Errorf("welcome: signature verification failed")
	}
	return nil
}

// localInvite is an accepted invite this peer holds for itself, kept so a
// later `auth` handshake can present the full credential.
type localInvite struct {
	expiresAt int64
	invite    *Invite
}

// Store holds the per-channel invitee/local-invite/welcome state spec §4.4
// accumulates as invites and welcomes are verified.
type Store struct {
	mu       sync.RWMutex
	invitees map[string]map[string]int64 // channel -> remoteKeyHex -> expiresAt
	local    map[string]localInvite      // channel -> accepted local invite
	welcomed map[string]struct{}         // channel set
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		invitees: make(map[string]map[string]int64),
		local:    make(map[string]localInvite),
		welcomed: make(map[string]struct{}),
	}
}

// RecordInvitee records that remoteKeyHex holds a valid invite for channel
// until expiresAt, following successful remote-invite verification.
func (s *Store) RecordInvitee(channel, remoteKeyHex string, expiresAt int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	channel = normalizeChannel(channel)
	remoteKeyHex = identity.NormalizeKeyHex(remoteKeyHex)
	m, ok := s.invitees[channel]
	if !ok {
		m = make(map[string]int64)
		s.invitees[channel] = m
	}
	m[remoteKeyHex] = expiresAt
}

// IsInvitee reports whether remoteKeyHex currently holds an unexpired
// invite for channel.
func (s *Store) IsInvitee(channel, remoteKeyHex string, nowMs int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.invitees[normalizeChannel(channel)]
	if !ok {
		return false
	}
	exp, ok := m[identity.NormalizeKeyHex(remoteKeyHex)]
	return ok && nowMs < exp
}

// AcceptLocalInvite records that this peer has accepted inv for its own use
// on channel, for later `auth` handshakes.
func (s *Store) AcceptLocalInvite(channel string, inv *Invite) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local[normalizeChannel(channel)] = localInvite{expiresAt: inv.ExpiresAt, invite: inv}
}

// LocalInvite returns this peer's accepted invite for channel, if any and
// unexpired.
func (s *Store) LocalInvite(channel string, nowMs int64) (*Invite, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	li, ok := s.local[normalizeChannel(channel)]
	if !ok || nowMs >= li.expiresAt {
		return nil, false
	}
	return li.invite, true
}

// MarkWelcomed adds channel to the welcomed-channels set.
func (s *Store) MarkWelcomed(channel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.welcomed[normalizeChannel(channel)] = struct{}{}
}

// IsWelcomed reports whether channel has been welcomed.
func (s *Store) IsWelcomed(channel string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.welcomed[normalizeChannel(channel)]
	return ok
}
