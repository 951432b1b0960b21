package invite

import (
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"

	"sidechannel-node/identity"
)

// sigCacheSize bounds the memoized-verification cache. Relayed and
// retransmitted invites/welcomes repeat the same (signature, message,
// signer) triple across many inbound payloads; memoizing the ed25519
// check avoids re-verifying it every time.
const sigCacheSize = 4096

var sigCache = mustNewSigCache()

func mustNewSigCache() *lru.Cache[string, bool] {
	c, err := lru.New[string, bool](sigCacheSize)
	if err != nil {
		panic(err)
	}
	return c
}

// verifySignatureCached memoizes identity.Verify by (signature, message
// digest, signer key), so repeated verification of the same credential is
// a cache lookup rather than a fresh ed25519 check.
func verifySignatureCached(sig, msg []byte, pubKeyHex string) bool {
	digest := sha256.Sum256(msg)
	key := hex.EncodeToString(sig) + ":" + hex.EncodeToString(digest[:]) + ":" + identity.NormalizeKeyHex(pubKeyHex)
	if v, ok := sigCache.Get(key); ok {
		return v
	}
	ok := identity.Verify(sig, msg, pubKeyHex)
	sigCache.Add(key, ok)
	return ok
}
