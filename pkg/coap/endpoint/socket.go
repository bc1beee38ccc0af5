// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package endpoint implements the endpoint multiplexer: one owned
// datagram socket, a dispatch table keyed by (peer, token) mapping to
// an exchange.FSM, and the client/server exchange-creation policy.
package endpoint

import (
	"context"
	"net"

	"github.com/absmach/coapcore/pkg/coap/message"
)

// Adapter is the send/close capability a socket implementation offers
// to the Endpoint that started it. Send is addressed rather than
// bound to a single peer: a server-mode Endpoint shares one listening
// Adapter across every inbound peer, while a client-mode Endpoint's
// Adapter always sends to the one peer it was started against.
type Adapter interface {
	Send(ctx context.Context, to net.Addr, m *message.Message) error
	Close() error
}

// Transport is the callback surface a socket implementation drives;
// Endpoint implements it.
type Transport interface {
	Recv(m *message.Message, from net.Addr)
	Exited(reason error)
}

// Options carries adapter-specific settings (socket_opts in spec.md
// §4.5), opaque to the Endpoint.
type Options map[string]any

// StartFunc starts a socket adapter bound or connected to peer (nil
// for a server-mode listening socket) and wires its inbound events to
// transport.
type StartFunc func(peer net.Addr, transport Transport, opts Options) (Adapter, error)
