// Package hash computes deterministic content fingerprints.
//
// Writers call Value before handing data to the node store so that two
// writes of the same content produce the same hash even if the version
// counter has moved on — this lets a sync response tell a client
// "version changed, content did not" versus "content actually changed".
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// Value returns a deterministic fingerprint of v.
//
// v is marshaled to JSON with map keys sorted (encoding/json already does
// this for map[string]T) so the same logical value always produces the
// same hash regardless of struct field order in memory. The result is a
// 64-character hex string, matching the VARCHAR(64) hash column used by
// the SQL storage adapters.
func Value(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		// A value that cannot be marshaled still needs a stable fingerprint;
		// fall back to hashing the marshal error's text rather than panicking.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Bytes is like Value but takes raw bytes directly, avoiding a JSON
// round-trip when the caller already has a serialized payload.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Combine folds multiple hashes into one, for callers that fingerprint a
// value assembled from several independently-hashed parts. Order matters:
// Combine(a, b) and Combine(b, a) are expected to differ.
func Combine(hashes ...string) string {
	h := sha256.New()
	for _, s := range hashes {
		h.Write([]byte(s))
		h.Write([]byte{0}) // separator so "ab","c" != "a","bc"
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Equal reports whether two hashes represent the same content. It exists
// mainly for readability at call sites that compare NodeMeta hashes.
func Equal(a, b string) bool {
	return a == b
}

// SortedKeys is a small helper used by callers that need a stable
// iteration order over a map before hashing or logging it.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
