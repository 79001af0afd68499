// Package nattest starts an embedded, JetStream-enabled NATS server for
// package tests, the same way groblegark-gasboat's engine tests do (an
// in-process natsserver/test.RunServer instead of a mocked bus).
package nattest

import (
	"testing"

	natsserver "github.com/nats-io/nats-server/v2/test"
	"github.com/nats-io/nats.go"
)

// Server bundles a running embedded server with a connected client and its
// JetStream context; Close tears down both in the right order.
type Server struct {
	Conn *nats.Conn
	JS   nats.JetStreamContext

	srv *natsserver.Server
}

// Start launches a fresh in-process server with JetStream enabled and
// returns a connected Server. The server and connection are torn down
// automatically when the test completes.
func Start(t *testing.T) *Server {
	t.Helper()

	opts := natsserver.DefaultTestOptions
	opts.Port = -1
	opts.JetStream = true
	opts.StoreDir = t.TempDir()
	srv := natsserver.RunServer(&opts)

	conn, err := nats.Connect(srv.ClientURL())
	if err != nil {
		srv.Shutdown()
		t.Fatalf("nattest: connecting: %v", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		srv.Shutdown()
		t.Fatalf("nattest: jetstream context: %v", err)
	}

	s := &Server{Conn: conn, JS: js, srv: srv}
	t.Cleanup(s.Close)
	return s
}

// Close disconnects the client and shuts down the embedded server.
func (s *Server) Close() {
	s.Conn.Close()
	s.srv.Shutdown()
}
