// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events_test

import (
	"context"
	"testing"

	"github.com/absmach/coapcore/pkg/coap/events"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/message/codes"
	coapserver "github.com/absmach/coapcore/pkg/coap/server"
	"github.com/stretchr/testify/assert"
)

func TestSubjectFormatsHostAndPort(t *testing.T) {
	assert.Equal(t, "coap.192.0.2.1.5683", events.Subject("192.0.2.1", 5683))
}

type fakeConn struct {
	subjects []string
}

func (f *fakeConn) Publish(subject string, data []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func TestMiddlewarePublishesThenDelegates(t *testing.T) {
	var handlerCalled bool
	inner := coapserver.HandlerFunc(func(ctx context.Context, req *message.Message) *message.Message {
		handlerCalled = true
		return &message.Message{Code: codes.Content}
	})

	fc := &fakeConn{}
	pub := events.NewPublisherWith(fc)
	subject := events.Subject("192.0.2.1", 5683)
	wrapped := events.Middleware(inner, pub, subject, nil)

	wrapped.Handle(context.Background(), &message.Message{Code: codes.GET})

	assert.True(t, handlerCalled)
	assert.Equal(t, []string{subject}, fc.subjects)
}

func TestPublishFailureIsLoggedNotReturned(t *testing.T) {
	inner := coapserver.HandlerFunc(func(ctx context.Context, req *message.Message) *message.Message {
		return &message.Message{Code: codes.Content}
	})

	pub := events.NewPublisherWith(failingConn{})
	wrapped := events.Middleware(inner, pub, "coap.broken", nil)

	assert.NotPanics(t, func() {
		resp := wrapped.Handle(context.Background(), &message.Message{Code: codes.GET})
		assert.Equal(t, codes.Content, resp.Code)
	})
}

type failingConn struct{}

func (failingConn) Publish(subject string, data []byte) error {
	return assert.AnError
}
