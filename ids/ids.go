// Package ids generates peer identities and shard-name sequences.
package ids

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

const peerIDLength = 24

// Peer returns a random 24-character alphanumeric identifier, unique with
// overwhelming probability. Used as a peer address in every coordination
// bucket.
func Peer() string {
	out := make([]byte, peerIDLength)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Errorf("ids: generating peer id: %w", err))
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out)
}

// Sequence returns n distinct, equal-length, ascending shard names: each
// index written in base 26 with digits a-z, padded with leading "a" to
// whatever width the largest index in the sequence requires. Sequence(12)
// is a, b, ..., l; Sequence(27) is aa, ab, ..., az, ba. sequence(0) is
// empty; sequence(27)[26] == "ba".
func Sequence(n int) []string {
	if n <= 0 {
		return nil
	}
	width := 1
	for pow26(width) < n {
		width++
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = encodeBase26(i, width)
	}
	return out
}

func pow26(width int) int {
	v := 1
	for i := 0; i < width; i++ {
		v *= 26
	}
	return v
}

func encodeBase26(i, width int) string {
	digits := make([]byte, width)
	for pos := width - 1; pos >= 0; pos-- {
		digits[pos] = byte('a' + i%26)
		i /= 26
	}
	return string(digits)
}
