// Package pow implements the proof-of-work admission check from spec §4.5:
// a nonce is attached to a payload such that the canonical digest of a fixed
// subset of its fields has a target number of leading zero bits.
package pow

import (
	"fmt"

	"sidechannel-node/sidechannel/canon"
)

// DefaultNonceCeiling bounds the otherwise-unbounded nonce search the
// source design performs (see spec §9, "Unbounded PoW search"). Production
// deployments should size this to the configured difficulty; the default is
// generous enough for difficulties used in practice (<=20 bits) while still
// failing fast on a misconfigured, unreachable target.
const DefaultNonceCeiling = 5_000_000

// base returns the canonical serialization of exactly the fields
// {id, channel, from, origin, message, ts, nonce}, per spec §4.5.
func base(id, channel string, from, origin interface{}, message interface{}, ts int64, nonce int64) (string, error) {
	obj := map[string]interface{}{
		"id":      id,
		"channel": channel,
		"from":    from,
		"origin":  origin,
		"message": message,
		"ts":      ts,
		"nonce":   nonce,
	}
	return canon.Marshal(obj)
}

// Attach finds the smallest nonce >= 0 such that the leading zero bits of
// SHA-256(base) >= difficulty, and returns that nonce; the caller stores it
// with the difficulty under payload["pow"]. ceiling bounds the search; pass
// DefaultNonceCeiling if unsure. A difficulty <= 0 is trivially satisfied by
// nonce 0.
func Attach(id, channel string, from, origin interface{}, message interface{}, ts int64, difficulty int, ceiling int64) (nonce int64, err error) {
	if difficulty <= 0 {
		return 0, nil
	}
	if ceiling <= 0 {
		ceiling = DefaultNonceCeiling
	}
	for n := int64(0); n < ceiling; n++ {
		b, err := base(id, channel, from, origin, message, ts, n)
		if err != nil {
			return 0, err
		}
		digest := canon.Sha256Hex([]byte(b))
		if canon.LeadingZeroBits(digest) >= difficulty {
			return n, nil
		}
	}
	return 0, fmt.Errorf("pow: no nonce found below ceiling %d for difficulty %d", ceiling, difficulty)
}

// Check recomputes the digest for the claimed nonce and requires its
// leading zero bits meet the currently configured difficulty. The payload's
// own claimed difficulty (if any) is never authoritative; difficulty is
// always the locally configured target. A difficulty <= 0 always passes.
func Check(id, channel string, from, origin interface{}, message interface{}, ts int64, nonce int64, nonceOK bool, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	if !nonceOK {
		return false
	}
	b, err := base(id, channel, from, origin, message, ts, nonce)
	if err != nil {
		return false
	}
	digest := canon.Sha256Hex([]byte(b))
	return canon.LeadingZeroBits(digest) >= difficulty
}
