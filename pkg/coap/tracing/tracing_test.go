// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package tracing_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/message/codes"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
	"github.com/absmach/coapcore/pkg/coap/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleDelegatesToWrappedHandler(t *testing.T) {
	inner := coapserver.HandlerFunc(func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Code: codes.Content, Payload: []byte("ok")}
	})

	wrapped := tracing.New(inner, trace.NewNoopTracerProvider().Tracer("test"))
	resp := wrapped.Handle(context.Background(), &message.Message{Code: codes.GET, Token: []byte{1, 2}})

	require.NotNil(t, resp)
	assert.Equal(t, codes.Content, resp.Code)
}

func TestHandleAsyncCarriesReplyThroughSpan(t *testing.T) {
	var got *message.Message
	async := asyncFunc(func(ctx context.Context, req *message.Message, reply func(*message.Message)) {
		reply(&message.Message{Code: codes.Content, Payload: []byte("late")})
	})

	wrapped := tracing.NewAsync(async, trace.NewNoopTracerProvider().Tracer("test"))
	wrapped.HandleAsync(context.Background(), &message.Message{Code: codes.GET}, func(resp *message.Message) {
		got = resp
	})

	require.NotNil(t, got)
	assert.Equal(t, "late", string(got.Payload))
}

type asyncFunc func(ctx context.Context, req *message.Message, reply func(*message.Message))

func (f asyncFunc) HandleAsync(ctx context.Context, req *message.Message, reply func(*message.Message)) {
	f(ctx, req, reply)
}
