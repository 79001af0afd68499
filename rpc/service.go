package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/errs"
	"github.com/yaroslav-korotaev/overnats/trapdoor"
)

// Service registers method handlers under "<name>.<method>", each with a
// queue group equal to the full subject so only one peer per method name
// handles any given request.
type Service struct {
	conn *nats.Conn
	name string
	sink *trapdoor.Sink

	subs []*Subscription
}

// NewService constructs a Service publishing methods under name.
func NewService(conn *nats.Conn, name string, sink *trapdoor.Sink) *Service {
	return &Service{conn: conn, name: name, sink: sink}
}

// Register binds handler under "<service.name>.<method>". The handler's
// result and error are serialized into the {result}/{error} envelope and
// sent back via msg.Respond; the handler's own error never propagates to
// the trapdoor sink (it already reached its caller through the envelope).
func Register[Req, Res any](svc *Service, method string, handler func(req Req) (Res, error)) error {
	subject := svc.name + "." + method

	sub, err := Subscribe[Req](svc.conn, subject, subject, subject, svc.sink, func(req Req, msg *nats.Msg) error {
		res, herr := handler(req)

		var env errs.Envelope
		if herr != nil {
			wire := errs.Serialize(herr)
			env.Error = &wire
		} else {
			data, merr := json.Marshal(res)
			if merr != nil {
				wire := errs.Serialize(errs.Internal("internal error", merr, nil))
				env.Error = &wire
			} else {
				env.Result = data
			}
		}

		payload, merr := json.Marshal(env)
		if merr != nil {
			return fmt.Errorf("rpc: encoding envelope for %s: %w", subject, merr)
		}
		if msg.Reply == "" {
			return nil
		}
		if err := msg.Respond(payload); err != nil {
			return fmt.Errorf("rpc: responding to %s: %w", subject, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	svc.subs = append(svc.subs, sub)
	return nil
}

// Destroy tears down every registered method subscription.
func (svc *Service) Destroy() error {
	for _, sub := range svc.subs {
		if err := sub.Destroy(); err != nil {
			return err
		}
	}
	return nil
}
