package autopost

import (
	crand "crypto/rand"
	"encoding/hex"
	"strings"
	"unicode"
)

// sanitizeJobName keeps only lowercase alphanumerics, '-' and '_',
// lowercasing letters and replacing anything else with '_', then truncates
// to 64 runes. Idempotent: re-sanitizing an already-sanitized name is a
// no-op, since the output alphabet is already closed under the mapping.
func sanitizeJobName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(unicode.ToLower(r))
		default:
			b.WriteRune('_')
		}
	}
	s := b.String()
	if len(s) > 64 {
		s = s[:64]
	}
	return s
}

func randomHex8() string {
	buf := make([]byte, 4)
	if _, err := crand.Read(buf); err != nil {
		return "00000000"
	}
	return hex.EncodeToString(buf)
}

// insufficientFundsSignatures are the case-insensitive substrings that mark
// a runTool failure as terminal, per spec §4.10 step 6.
var insufficientFundsSignatures = []string{
	"insufficient ln",
	"insufficient lightning",
	"insufficient usdt",
	"insufficient sol",
	"insufficient funds",
	"no active lightning channels",
}

func isInsufficientFunds(message string) bool {
	lower := strings.ToLower(message)
	for _, sig := range insufficientFundsSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// deepCloneMap returns a deep copy of a decoded-JSON-shaped map (values are
// nil, bool, float64, string, []interface{}, or map[string]interface{}).
func deepCloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCloneValue(v)
	}
	return out
}

func deepCloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		return deepCloneMap(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, e := range t {
			out[i] = deepCloneValue(e)
		}
		return out
	default:
		return v
	}
}

func toNonNegInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case int:
		if t >= 0 {
			return t, true
		}
	case int64:
		if t >= 0 {
			return int(t), true
		}
	case float64:
		if t >= 0 && t == float64(int(t)) {
			return int(t), true
		}
	}
	return 0, false
}

func asString(v interface{}) string {
	s, _ := v.(string)
	return s
}
