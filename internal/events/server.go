// Vigil - Hierarchical Supervision and Self-Healing Orchestration Core
// Copyright 2026 Vigil Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vigilcore/vigil

package events

import (
	"context"
	"time"

	"github.com/nats-io/nats-server/v2/server"

	"github.com/vigilcore/vigil/internal/errs"
	"github.com/vigilcore/vigil/internal/logging"
)

// EmbeddedServer runs an in-process NATS server so a single-instance
// deployment needs no external broker. Implements suture.Service.
type EmbeddedServer struct {
	server    *server.Server
	clientURL string
}

// NewEmbeddedServer creates and starts an embedded NATS server on the
// given host and port. Port 0 picks a free port; ClientURL reports the
// actual address.
func NewEmbeddedServer(host string, port int) (*EmbeddedServer, error) {
	opts := &server.Options{
		ServerName: "vigil-events",
		Host:       host,
		Port:       port,
		NoLog:      true,
		MaxPayload: 1024 * 1024,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, errs.Wrap(errs.KindInit, "events.NewEmbeddedServer", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(30 * time.Second) {
		ns.Shutdown()
		return nil, errs.New(errs.KindInit, "events.NewEmbeddedServer", "server not ready within timeout")
	}

	logging.Info().Str("url", ns.ClientURL()).Msg("embedded NATS server ready")
	return &EmbeddedServer{server: ns, clientURL: ns.ClientURL()}, nil
}

// ClientURL returns the connection URL for clients.
func (s *EmbeddedServer) ClientURL() string {
	return s.clientURL
}

// IsRunning reports server health.
func (s *EmbeddedServer) IsRunning() bool {
	return s.server.Running()
}

// Serve implements suture.Service: blocks until cancellation, then shuts
// the server down and waits for it to drain.
func (s *EmbeddedServer) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.server.Shutdown()
	s.server.WaitForShutdown()
	return ctx.Err()
}

// String implements fmt.Stringer for suture logging.
func (s *EmbeddedServer) String() string {
	return "embedded-nats"
}
