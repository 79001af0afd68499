// Package errs implements the two-kind error model of the request/reply
// envelope: Client errors (domain-meaningful, message flows to the caller)
// and Internal errors (everything else, genericized across the wire but
// locally attributed via a details map and a cause chain).
//
// The split, the details map, and the message-genericization-on-internal
// rule are modeled directly on gastown/internal/rpcserver/rpcerr.go's
// rpcError/invalidArg/internalErr pattern, swapped from connect.Code onto
// the EFAIL/EINTERNAL wire codes spec.md §6 names.
package errs

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is one of the two wire codes.
type Kind string

const (
	// EFAIL is a user-surfaced client error; its message is preserved verbatim.
	EFAIL Kind = "EFAIL"
	// EINTERNAL is everything else; its message is genericized when the
	// origin is opaque (i.e. when it did not already originate as an Error).
	EINTERNAL Kind = "EINTERNAL"
)

// Error is the in-process representation. cause is never serialized; only
// Kind, Message and Details cross a service boundary.
type Error struct {
	Kind    Kind
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.cause }

// Client builds a user-surfaced client error.
func Client(message string, details map[string]any) *Error {
	return &Error{Kind: EFAIL, Message: message, Details: details}
}

// Internal builds an opaque internal error, keeping err as the local cause
// chain without exposing its message across the wire.
func Internal(message string, cause error, details map[string]any) *Error {
	return &Error{Kind: EINTERNAL, Message: message, Details: details, cause: cause}
}

// Wrap normalizes an arbitrary error for crossing a service boundary. If err
// is already an *Error its kind and message survive; otherwise it becomes an
// opaque Internal error with a generic message, preserving err as the local
// cause only (rpcerr.go's internalErr logs server-side and returns a generic
// message the same way).
func Wrap(err error, details map[string]any) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		if details != nil {
			merged := make(map[string]any, len(e.Details)+len(details))
			for k, v := range e.Details {
				merged[k] = v
			}
			for k, v := range details {
				merged[k] = v
			}
			return &Error{Kind: e.Kind, Message: e.Message, Details: merged, cause: e.cause}
		}
		return e
	}
	return Internal("internal error", err, details)
}

// WireError is the serialized shape of an Error: {code, message, details?}.
type WireError struct {
	Code    Kind           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// Serialize turns any error into its wire form. The cause chain does not
// survive; code, message and details do.
func Serialize(err error) WireError {
	e := Wrap(err, nil)
	return WireError{Code: e.Kind, Message: e.Message, Details: e.Details}
}

// Deserialize reconstructs an *Error from its wire form. Unknown codes
// deserialize as Internal, matching the round-trip property that unknown
// input yields Internal.
func Deserialize(w WireError) *Error {
	kind := w.Code
	if kind != EFAIL && kind != EINTERNAL {
		kind = EINTERNAL
	}
	return &Error{Kind: kind, Message: w.Message, Details: w.Details}
}

// Envelope is the request/reply wire shape: {result} xor {error}. Neither
// present is a protocol error.
type Envelope struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *WireError      `json:"error,omitempty"`
}

// ErrProtocol is returned when an envelope carries neither a result nor an
// error.
var ErrProtocol = errors.New("errs: protocol error: empty envelope")
