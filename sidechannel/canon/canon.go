// Package canon implements the canonical serialization and hashing used for
// signing invite/welcome credentials and for proof-of-work admission.
//
// The encoding is deliberately minimal and stable: null/undefined encode as
// "null", scalars use their minimal JSON form, arrays preserve order, and
// object keys are sorted lexicographically before being joined. No
// implementation may introduce whitespace or reorder array elements.
package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Marshal returns the canonical serialization of v. Values that are not
// already one of nil, bool, float64, string, []interface{} or
// map[string]interface{} are round-tripped through encoding/json first, so
// callers may pass plain structs as long as they are JSON-encodable.
func Marshal(v interface{}) (string, error) {
	norm, err := normalize(v)
	if err != nil {
		return "", fmt.Errorf("canon: normalize: %w", err)
	}
	var buf bytes.Buffer
	if err := encode(&buf, norm); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MustMarshal is Marshal but panics on error. Intended for call sites where
// the input is known to be JSON-encodable (e.g. already-decoded payloads).
func MustMarshal(v interface{}) string {
	s, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return s
}

func normalize(v interface{}) (interface{}, error) {
	switch v.(type) {
	case nil, bool, float64, string, []interface{}, map[string]interface{}:
		return v, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch t := v.(type) {
	case nil:
		buf.WriteString("null")
		return nil
	case map[string]interface{}:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := marshalScalar(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	case []interface{}:
		buf.WriteByte('[')
		for i, e := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, e); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	default:
		b, err := marshalScalar(t)
		if err != nil {
			return err
		}
		if len(b) > 0 && (b[0] == '{' || b[0] == '[') {
			// A nested struct or typed map/slice: normalize it so its keys
			// are sorted like any other object.
			norm, err := normalize(t)
			if err != nil {
				return err
			}
			return encode(buf, norm)
		}
		buf.Write(b)
		return nil
	}
}

// marshalScalar encodes a non-container value using RFC 8259 minimal-form
// escaping: unlike json.Marshal's default, '<', '>' and '&' are not escaped.
func marshalScalar(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// Sha256Hex returns the lowercase hex SHA-256 digest of data.
func Sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// LeadingZeroBits counts the number of leading zero bits in a hex string by
// inspecting nibbles left-to-right. A malformed (non-hex) character stops
// the scan at that position.
func LeadingZeroBits(hexDigest string) int {
	count := 0
	for _, c := range hexDigest {
		v, ok := hexNibble(c)
		if !ok {
			return count
		}
		if v == 0 {
			count += 4
			continue
		}
		switch {
		case v < 2:
			count += 3
		case v < 4:
			count += 2
		case v < 8:
			count++
		}
		return count
	}
	return count
}

func hexNibble(c rune) (int, bool) {
	switch {
	case c >= '0' && c <= '9':
		return int(c - '0'), true
	case c >= 'a' && c <= 'f':
		return int(c-'a') + 10, true
	case c >= 'A' && c <= 'F':
		return int(c-'A') + 10, true
	default:
		return 0, false
	}
}
