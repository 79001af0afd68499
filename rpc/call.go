package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/yaroslav-korotaev/overnats/errs"
)

// Call sends req to subject and decodes the reply's {result} into Res, or
// returns the deserialized {error}. An envelope with neither is a protocol
// error (errs.ErrProtocol).
func Call[Req, Res any](ctx context.Context, conn *nats.Conn, subject string, req Req) (Res, error) {
	var zero Res

	data, err := json.Marshal(req)
	if err != nil {
		return zero, fmt.Errorf("rpc: encoding request to %s: %w", subject, err)
	}

	msg, err := conn.RequestWithContext(ctx, subject, data)
	if err != nil {
		return zero, fmt.Errorf("rpc: calling %s: %w", subject, err)
	}

	var env errs.Envelope
	if err := json.Unmarshal(msg.Data, &env); err != nil {
		return zero, fmt.Errorf("rpc: decoding envelope from %s: %w", subject, err)
	}

	switch {
	case env.Error != nil:
		return zero, errs.Deserialize(*env.Error)
	case env.Result != nil:
		var res Res
		if err := json.Unmarshal(env.Result, &res); err != nil {
			return zero, fmt.Errorf("rpc: decoding result from %s: %w", subject, err)
		}
		return res, nil
	default:
		return zero, errs.ErrProtocol
	}
}
