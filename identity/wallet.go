// Package identity provides the peer identity keypair the sidechannel,
// invite/welcome and autopost engines sign and verify against. It mirrors
// the signing conventions of the teacher's HD wallet (core/wallet.go) but
// collapses them to the single non-hierarchical keypair a p2p peer identity
// needs — the host's own network key, not a derived account tree.
package identity

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

func normalizeHex(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.TrimPrefix(s, "0x")
}

// Wallet is the signing/verifying collaborator spec §6 calls peer.wallet.
type Wallet interface {
	PublicKey() []byte
	PublicKeyHex() string
	Sign(msg []byte) []byte
}

// Verify checks a detached signature against a hex-encoded public key. It is
// a free function (not a Wallet method) because spec §6 describes
// verification as static: any party can verify any other party's signature
// without holding a wallet instance.
func Verify(sig, msg []byte, pubKeyHex string) bool {
	pub, err := DecodePublicKeyHex(pubKeyHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// DecodePublicKeyHex normalizes and decodes a hex-encoded ed25519 public
// key. Keys are accepted in either case but are compared and stored
// lowercase, per spec §3 ("Per-connection state ... Keyed by remote public
// key (hex, lowercase)").
func DecodePublicKeyHex(s string) (ed25519.PublicKey, error) {
	raw, err := hex.DecodeString(NormalizeKeyHex(s))
	if err != nil {
		return nil, fmt.Errorf("identity: invalid hex public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("identity: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(raw))
	}
	return ed25519.PublicKey(raw), nil
}

// NormalizeKeyHex trims and lowercases a hex public key for use as a map key
// or comparison value.
func NormalizeKeyHex(s string) string {
	return normalizeHex(s)
}

// Keypair is the concrete Wallet backing a local peer identity.
type Keypair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// NewKeypair generates a fresh random ed25519 identity.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("identity: generate keypair: %w", err)
	}
	return &Keypair{priv: priv, pub: pub}, nil
}

// KeypairFromSeed derives a deterministic keypair from a 32-byte seed, e.g.
// the same seed backing a libp2p host identity.
func KeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity: seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	return &Keypair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, nil
}

// PublicKey returns the raw 32-byte ed25519 public key.
func (k *Keypair) PublicKey() []byte { return append([]byte(nil), k.pub...) }

// PublicKeyHex returns the lowercase hex public key.
func (k *Keypair) PublicKeyHex() string { return hex.EncodeToString(k.pub) }

// Sign returns a detached ed25519 signature over msg.
func (k *Keypair) Sign(msg []byte) []byte { return ed25519.Sign(k.priv, msg) }

// PublicKeyBase58 returns the base58-encoded public key, for short
// human-readable display in logs (full hex is the canonical wire/map form).
func (k *Keypair) PublicKeyBase58() string { return base58.Encode(k.pub) }

var _ Wallet = (*Keypair)(nil)

// ShortKey renders a hex public key as a short base58 display form, e.g.
// for log lines that would otherwise print a full 64-char hex string.
func ShortKey(pubKeyHex string) string {
	raw, err := DecodePublicKeyHex(pubKeyHex)
	if err != nil {
		return pubKeyHex
	}
	s := base58.Encode(raw)
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
