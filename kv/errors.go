package kv

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
)

// WrongLastSequenceCode is the JetStream API error code for a KV
// compare-and-swap miss ("wrong last sequence").
const WrongLastSequenceCode = 10071

// ErrNotFound is Store.Get's absence sentinel, adapted from nats.ErrKeyNotFound.
var ErrNotFound = errors.New("kv: key not found")

// ErrConflict wraps a Store.Create/Update CAS miss — the generic form of
// IsWrongLastSequence that Bucket's own Store abstraction deals in.
var ErrConflict = errors.New("kv: wrong last sequence")

// IsWrongLastSequence reports whether err represents a CAS miss: a Create
// against an already-occupied key, or an Update/Delete whose expected
// revision no longer matches. mutateUsing and the Mutex retry loop key off
// this to decide whether to retry.
func IsWrongLastSequence(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, nats.ErrKeyExists) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "wrong last sequence") || strings.Contains(msg, "10071")
}
