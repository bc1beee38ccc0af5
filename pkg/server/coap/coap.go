// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package coap adapts this module's own endpoint.Endpoint + coap/server.Mux
// pair into the server.Server lifecycle, the same way pkg/server/http
// adapts a stdlib *http.Server: Start blocks until the listener's
// context is cancelled, Stop tears the endpoint down within
// server.StopWaitTime.
package coap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/absmach/coapcore/pkg/coap/endpoint"
	"github.com/absmach/coapcore/pkg/coap/exchange"
	"github.com/absmach/coapcore/pkg/coap/net/udpsocket"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
	"github.com/absmach/coapcore/pkg/server"
)

const coapProtocol = "coap"

// coapServer wraps an Endpoint listening in server mode plus the Mux
// dispatching its requests, the way httpServer wraps a *http.Server.
type coapServer struct {
	server.BaseServer
	ep  *endpoint.Endpoint
	mux *coapserver.Mux
}

var _ server.Server = (*coapServer)(nil)

// NewServer constructs a Server bound to config's address, using the
// production udpsocket.Start adapter. handler answers every decoded
// request; timing carries the exchange retransmission parameters.
func NewServer(ctx context.Context, cancel context.CancelFunc, name string, config server.Config, handler coapserver.Handler, timing exchange.Timing, logger *slog.Logger, obs ...exchange.Observer) server.Server {
	if logger == nil {
		logger = slog.Default()
	}
	baseServer := server.NewBaseServer(ctx, cancel, name, config, logger)
	baseServer.Protocol = coapProtocol

	opts := endpoint.Options{
		"udpsocket": udpsocket.Options{ListenAddr: baseServer.Address, Logger: logger},
	}
	ep := endpoint.New(endpoint.ModeServer, udpsocket.Start, opts, timing, logger)
	mux := coapserver.New(ep, handler, logger)
	if len(obs) > 0 {
		mux.WithObserver(obs[0])
	}

	return &coapServer{BaseServer: baseServer, ep: ep, mux: mux}
}

// Start implements server.Server: binds the listening socket, starts
// the endpoint's dispatch loop and the Mux's request loop, then
// blocks until the base context is cancelled.
func (s *coapServer) Start() error {
	if err := s.ep.Listen(); err != nil {
		s.Logger.Error(fmt.Sprintf("%s service %s server failed to listen at %s: %s", s.Name, s.Protocol, s.Address, err))
		return err
	}

	go s.ep.Run()
	go s.mux.Serve(s.Ctx)

	s.Logger.Info(fmt.Sprintf("%s service %s server listening at %s", s.Name, s.Protocol, s.Address))

	<-s.Ctx.Done()
	return nil
}

// Stop implements server.Server: closes the endpoint (and its socket
// adapter) within server.StopWaitTime.
func (s *coapServer) Stop() error {
	defer s.Cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- s.ep.Close() }()

	select {
	case err := <-errCh:
		if err != nil {
			s.Logger.Error(fmt.Sprintf("%s service %s server error occurred during shutdown at %s: %s", s.Name, s.Protocol, s.Address, err))
			return err
		}
	case <-time.After(server.StopWaitTime):
		return fmt.Errorf("%s service %s server shutdown at %s timed out", s.Name, s.Protocol, s.Address)
	}

	s.Logger.Info(fmt.Sprintf("%s %s service shutdown of coap at %s", s.Name, s.Protocol, s.Address))
	return nil
}
