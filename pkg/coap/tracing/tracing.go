// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package tracing wraps a Handler with an OpenTelemetry span per
// request/response exchange, following the *tracing.go middleware
// convention used across the teacher's services (users/tracing,
// auth/tracing) — the CoAP core never got one in the original, so
// this is built fresh in that same shape.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/absmach/coapcore/pkg/coap/message"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
)

var _ coapserver.Handler = (*tracingMiddleware)(nil)

type tracingMiddleware struct {
	tracer trace.Tracer
	next   coapserver.Handler
}

// New returns handler wrapped with tracing capabilities.
func New(handler coapserver.Handler, tracer trace.Tracer) coapserver.Handler {
	return &tracingMiddleware{tracer: tracer, next: handler}
}

// Handle traces the "coap_handle" operation of the wrapped Handler.
func (tm *tracingMiddleware) Handle(ctx context.Context, req *message.Message) *message.Message {
	ctx, span := tm.tracer.Start(ctx, "coap_handle", trace.WithAttributes(
		attribute.String("coap.method", req.Code.String()),
		attribute.Int("coap.token_length", len(req.Token)),
	))
	defer span.End()

	resp := tm.next.Handle(ctx, req)
	if resp != nil {
		span.SetAttributes(attribute.String("coap.response_code", resp.Code.String()))
	}
	return resp
}

var _ coapserver.AsyncHandler = (*tracingAsyncMiddleware)(nil)

type tracingAsyncMiddleware struct {
	tracer trace.Tracer
	next   coapserver.AsyncHandler
}

// NewAsync returns an AsyncHandler wrapped with tracing capabilities;
// the span stays open until reply is invoked, covering the separate
// response path as one exchange.
func NewAsync(handler coapserver.AsyncHandler, tracer trace.Tracer) coapserver.AsyncHandler {
	return &tracingAsyncMiddleware{tracer: tracer, next: handler}
}

func (tm *tracingAsyncMiddleware) HandleAsync(ctx context.Context, req *message.Message, reply func(*message.Message)) {
	ctx, span := tm.tracer.Start(ctx, "coap_handle_async", trace.WithAttributes(
		attribute.String("coap.method", req.Code.String()),
		attribute.Int("coap.token_length", len(req.Token)),
	))

	tm.next.HandleAsync(ctx, req, func(resp *message.Message) {
		if resp != nil {
			span.SetAttributes(attribute.String("coap.response_code", resp.Code.String()))
		}
		span.End()
		reply(resp)
	})
}
