// Package hashutil provides the canonical serialization, hashing, and text
// similarity primitives every other memlog package builds content-derived
// IDs and dedup decisions on top of.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf16"
	"unicode/utf8"
)

// Canonical produces memlog's canonical JSON encoding of v: object keys
// sorted, compact separators, ASCII-escaped. Values are compacted (no
// indentation, no trailing newline) and re-marshaled through a sorted-key
// intermediate so struct field order never leaks into the hash. Go's
// encoding/json escapes only HTML-unsafe runes and leaves other non-ASCII
// text as raw UTF-8, so Canonical then writes every non-ASCII rune as a
// \uXXXX escape (a UTF-16 surrogate pair above the Basic Multilingual Plane).
func Canonical(v interface{}) ([]byte, error) {
	// Round-trip through map[string]interface{} so struct field order
	// (which json.Marshal preserves) collapses to sorted map-key order.
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	b, err := marshalSorted(generic)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b))
	for _, r := range string(b) {
		if r < utf8.RuneSelf {
			out = append(out, byte(r))
		} else if r1, r2 := utf16.EncodeRune(r); r1 != utf8.RuneError {
			out = append(out, fmt.Sprintf(`\u%04x\u%04x`, r1, r2)...)
		} else {
			out = append(out, fmt.Sprintf(`\u%04x`, r)...)
		}
	}
	return out, nil
}

func marshalSorted(v interface{}) ([]byte, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			vb, err := marshalSorted(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		buf = append(buf, '}')
		return buf, nil
	case []interface{}:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			ib, err := marshalSorted(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, ib...)
		}
		buf = append(buf, ']')
		return buf, nil
	default:
		return json.Marshal(val)
	}
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashJSON canonicalizes v and returns (canonicalBytes, sha256Hex).
func HashJSON(v interface{}) ([]byte, string, error) {
	canon, err := Canonical(v)
	if err != nil {
		return nil, "", err
	}
	return canon, SHA256Hex(canon), nil
}

// HashString returns the SHA-256 hex digest of a plain string, used for
// composite keys that aren't JSON payloads (e.g. idempotency keys).
func HashString(s string) string {
	return SHA256Hex([]byte(s))
}
