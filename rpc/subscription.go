// Package rpc implements the Subscription and Service primitives of spec
// §4.7: plain-subject request/reply over a nats.Conn, with a Service
// wrapping method handlers in the errs envelope, and a client-side Call
// helper.
package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/listener"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Subscription binds a subject (optionally under a queue group), decodes
// each message as T, and invokes handle. Callback errors are reported via
// the trapdoor sink but never unsubscribe; the caller must itself reply
// through msg.Respond for request/reply use.
type Subscription struct {
	sub *nats.Subscription
	ch  chan *nats.Msg
	l   *listener.Listener[*nats.Msg]
}

// Subscribe installs a Subscription. An empty queue subscribes without a
// queue group.
func Subscribe[T any](
	conn *nats.Conn,
	subject string,
	queue string,
	component string,
	sink *trapdoor.Sink,
	handle func(payload T, msg *nats.Msg) error,
) (*Subscription, error) {
	ch := make(chan *nats.Msg, 64)

	var sub *nats.Subscription
	var err error
	if queue != "" {
		sub, err = conn.ChanQueueSubscribe(subject, queue, ch)
	} else {
		sub, err = conn.ChanSubscribe(subject, ch)
	}
	if err != nil {
		return nil, fmt.Errorf("rpc: subscribing %s: %w", subject, err)
	}

	s := &Subscription{sub: sub, ch: ch}
	s.l = listener.Start(component, sink, ch, func(msg *nats.Msg) error {
		var payload T
		if len(msg.Data) > 0 {
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				return fmt.Errorf("rpc: decoding %s: %w", subject, err)
			}
		}
		return handle(payload, msg)
	})
	return s, nil
}

// Destroy drains the underlying NATS subscription (letting in-flight
// messages finish) and waits for the drain loop to exit.
func (s *Subscription) Destroy() error {
	if err := s.sub.Drain(); err != nil {
		return fmt.Errorf("rpc: draining subscription: %w", err)
	}
	s.l.Destroy()
	return nil
}
