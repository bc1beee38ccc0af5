// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package events bridges decoded CoAP requests onto NATS, the way the
// teacher's coap/nats package bridged its adapter's publish path onto
// a broker subject — rebuilt against github.com/nats-io/nats.go (the
// teacher's own broker/nats.go dependency) instead of the retired
// nats-io/go-nats client, and against this module's own Handler
// instead of mainflux.MessagePublisher.
package events

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/absmach/coapcore/pkg/coap/message"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
	"github.com/absmach/coapcore/pkg/errors"
)

// ErrPublish wraps a NATS publish failure.
var ErrPublish = errors.New("events: publish failed")

// subjectPrefix namespaces every subject this package publishes on.
const subjectPrefix = "coap"

// Conn is the subset of *nats.Conn this package depends on, narrowed
// so tests can substitute a fake broker connection.
type Conn interface {
	Publish(subject string, data []byte) error
}

var _ Conn = (*nats.Conn)(nil)

// Publisher publishes a decoded request's wire encoding to NATS.
type Publisher struct {
	nc Conn
}

// NewPublisher wraps an already-connected NATS connection.
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// NewPublisherWith wraps any Conn implementation, for tests and
// brokers other than *nats.Conn.
func NewPublisherWith(nc Conn) *Publisher {
	return &Publisher{nc: nc}
}

// Subject returns the subject a request from (host, port) publishes
// on: coap.<host>.<port>, per spec.md's events bridge wiring.
func Subject(host string, port int) string {
	return fmt.Sprintf("%s.%s.%d", subjectPrefix, host, port)
}

// Publish encodes req and publishes it on subject.
func (p *Publisher) Publish(subject string, req *message.Message) error {
	wire, err := message.Encode(req)
	if err != nil {
		return err
	}
	if err := p.nc.Publish(subject, wire); err != nil {
		return errors.Wrap(ErrPublish, err)
	}
	return nil
}

type bridgeHandler struct {
	pub     *Publisher
	subject string
	logger  *slog.Logger
	next    coapserver.Handler
}

// Middleware wraps handler so every request it answers is also
// published to subject before the handler runs, mirroring the
// teacher's BridgeHandler: downstream consumers observe CoAP traffic
// without being in the request's critical path. A publish failure
// only gets logged — Handle never fails the exchange on a broker
// outage.
func Middleware(handler coapserver.Handler, pub *Publisher, subject string, logger *slog.Logger) coapserver.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &bridgeHandler{pub: pub, subject: subject, logger: logger, next: handler}
}

func (h *bridgeHandler) Handle(ctx context.Context, req *message.Message) *message.Message {
	if err := h.pub.Publish(h.subject, req); err != nil {
		h.logger.Warn("failed to publish request event", slog.String("error", err.Error()))
	}
	return h.next.Handle(ctx, req)
}
