package sidechannel

import "sidechannel-node/identity"

// sameKey compares two hex-encoded public keys modulo case and an optional
// 0x prefix.
func sameKey(a, b string) bool {
	return identity.NormalizeKeyHex(a) == identity.NormalizeKeyHex(b)
}
