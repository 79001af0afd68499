// Package canon provides canonical JSON encoding and content hashing, the
// change-detection mechanism Spawner and Summoner rely on.
package canon

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonicalize marshals v to JSON. encoding/json already sorts map keys
// alphabetically and preserves array order, which is exactly the key-order-
// insensitive, array-order-sensitive notion of equality the rest of the
// system depends on — no extra normalization pass is needed.
func Canonicalize(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canon: marshaling value: %w", err)
	}
	return data, nil
}

// HashOf returns the hex MD5 digest of v's canonical JSON encoding. Two
// values hash equal iff they are deep-equal under canonical-JSON semantics.
func HashOf(v any) (string, error) {
	data, err := Canonicalize(v)
	if err != nil {
		return "", err
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// MustHashOf is HashOf for call sites that can only reasonably fail on a
// programmer error (a non-JSON-representable value).
func MustHashOf(v any) string {
	h, err := HashOf(v)
	if err != nil {
		panic(err)
	}
	return h
}
