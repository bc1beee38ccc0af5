// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package server implements the inbound half of the request/response
// coordinator: a Handler registry dispatched per decoded request, the
// PROCESSING_DELAY auto-ack rule for separate responses, and
// block-wise reassembly for incoming segmented transfers. Grounded on
// the teacher's coap/api/transport.go mux.HandlerFunc dispatch shape,
// reimplemented against this module's own endpoint/exchange types
// instead of plgd-dev/go-coap/v2/mux.
package server

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/coapcore/pkg/coap/blockwise"
	"github.com/absmach/coapcore/pkg/coap/endpoint"
	"github.com/absmach/coapcore/pkg/coap/exchange"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/message/codes"
)

// ProcessingDelay is the PROCESSING_DELAY parameter from spec.md
// §4.3: how long the coordinator waits for Handler to produce a
// response before falling back to an empty ack and deferring the
// real answer to a separate response.
const ProcessingDelay = 1000 * time.Millisecond

// DefaultBlockSize is the block size this server negotiates for
// incoming segmented transfers absent a peer-requested override.
const DefaultBlockSize uint16 = 512

// Handler answers a decoded request synchronously, matching spec.md
// §6's "synchronous" registration form.
type Handler interface {
	Handle(ctx context.Context, req *message.Message) *message.Message
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *message.Message) *message.Message

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, req *message.Message) *message.Message {
	return f(ctx, req)
}

// AsyncHandler answers a request via an out-of-band reply callback,
// for handlers whose answer may not be ready within ProcessingDelay.
// A reply that arrives within ProcessingDelay is piggybacked on the
// ack; otherwise the coordinator sends an empty ack and the real answer
// later as a new, confirmable, token-correlated message that
// retransmits until acked (spec.md §4.5's separate response).
type AsyncHandler interface {
	HandleAsync(ctx context.Context, req *message.Message, reply func(*message.Message))
}

// Mux dispatches every inbound request on one Endpoint to a single
// Handler, the way a CoAP server with one resource tree would — the
// teacher's mux.Router is one step outside this module's scope (no
// path routing here, per spec.md's non-goals); callers wanting
// per-path dispatch compose their own Handler that switches on
// req.Options.Path().
type Mux struct {
	ep      *endpoint.Endpoint
	handler Handler
	async   AsyncHandler
	logger  *slog.Logger

	obs exchange.Observer

	mu         sync.Mutex
	assemblers map[string]*blockwise.Assembler
}

// New constructs a Mux bound to an already-listening Endpoint.
func New(ep *endpoint.Endpoint, handler Handler, logger *slog.Logger) *Mux {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mux{
		ep:         ep,
		handler:    handler,
		logger:     logger,
		obs:        exchange.NoopObserver,
		assemblers: make(map[string]*blockwise.Assembler),
	}
}

// WithAsyncHandler registers the separate-response handler variant.
func (m *Mux) WithAsyncHandler(async AsyncHandler) *Mux {
	m.async = async
	return m
}

// WithObserver attaches obs so every retransmit, timeout, and
// block-wise receive this Mux's Endpoint sees is reported to it.
func (m *Mux) WithObserver(obs exchange.Observer) *Mux {
	if obs != nil {
		m.obs = obs
		m.ep.SetObserver(obs)
	}
	return m
}

// Serve drains the Endpoint's exchange events and dispatches every
// RRRx carrying a request to the Handler, until ctx is done.
func (m *Mux) Serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.ep.Events():
			rx, ok := ev.Event.(exchange.RRRx)
			if !ok {
				continue
			}
			if !rx.Msg.IsRequest() {
				continue
			}
			go m.dispatch(ctx, ev.Peer, ev.Token, rx.Msg)
		}
	}
}

func (m *Mux) dispatch(ctx context.Context, peer net.Addr, token []byte, req *message.Message) {
	fsm := m.ep.NewExchange(peer, token)

	block, present, err := req.Options.GetBlock(message.Block1)
	if err != nil {
		m.replyAck(fsm, req, badRequest(req))
		return
	}
	if present {
		m.dispatchBlockwise(ctx, fsm, peer, token, req, block)
		return
	}

	m.dispatchWhole(ctx, fsm, req)
}

// dispatchWhole runs the registered handler (sync or async) and
// applies spec.md §4.5's ProcessingDelay rule: if it answers before
// the deadline, the answer is piggybacked on the ack; otherwise an
// empty ack goes out immediately and the real answer follows as a
// fresh confirmable, token-correlated separate response that the FSM
// retransmits until the client acks it. A non-confirmable request has
// no ack to piggyback on or defer, so it always just waits for the
// handler and sends the answer once, non-confirmably.
func (m *Mux) dispatchWhole(ctx context.Context, fsm *exchange.FSM, req *message.Message) {
	done := make(chan *message.Message, 1)

	if m.async != nil {
		go m.async.HandleAsync(ctx, req, func(resp *message.Message) { done <- resp })
	} else {
		go func() { done <- m.safeHandle(ctx, req) }()
	}

	if req.Type == message.NonConfirmable {
		m.replyAck(fsm, req, <-done)
		return
	}

	select {
	case resp := <-done:
		m.replyAck(fsm, req, resp)

	case <-time.After(ProcessingDelay):
		fsm.AcceptMsg(message.ResponseFor(req))

		resp := <-done
		separate := resp.Clone()
		separate.Type = message.Confirmable
		separate.Token = append([]byte(nil), req.Token...)
		fsm.ReliableSend(separate)
	}
}

// dispatchBlockwise reassembles a block1-carrying request across
// however many of this call's invocations it takes, acking each
// intermediate block with 2.31 Continue and only invoking the
// handler once the transfer completes, per spec.md §4.5.
func (m *Mux) dispatchBlockwise(ctx context.Context, fsm *exchange.FSM, peer net.Addr, token []byte, req *message.Message, block message.Block) {
	key := peer.String() + "|" + string(token)

	m.mu.Lock()
	asm, ok := m.assemblers[key]
	if !ok {
		asm = blockwise.NewAssembler()
		m.assemblers[key] = asm
	}
	m.mu.Unlock()

	m.obs.BlockSent("received", block.Number)

	if err := asm.Add(block, req.Payload); err != nil {
		m.dropAssembler(key)
		m.replyAck(fsm, req, entityIncomplete(req))
		return
	}

	if block.More {
		ack := message.ResponseFor(req)
		ack.Code = codes.Continue
		ack.Options = ack.Options.AddBlock(message.Block1, message.Block{Number: block.Number, More: false, Size: block.Size})
		if ack.Type == message.Acknowledgement {
			fsm.AcceptMsg(ack)
		} else {
			fsm.UnreliableSend(ack)
		}
		return
	}

	full, complete, err := asm.Reassemble()
	m.dropAssembler(key)
	if err != nil || !complete {
		m.replyAck(fsm, req, entityIncomplete(req))
		return
	}

	whole := req.Clone()
	whole.Payload = full
	m.dispatchWhole(ctx, fsm, whole)
}

func (m *Mux) dropAssembler(key string) {
	m.mu.Lock()
	delete(m.assemblers, key)
	m.mu.Unlock()
}

func (m *Mux) safeHandle(ctx context.Context, req *message.Message) *message.Message {
	var resp *message.Message
	func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("handler panicked", slog.Any("recovered", r))
				resp = internalServerError(req)
			}
		}()
		resp = m.handler.Handle(ctx, req)
	}()
	if resp == nil {
		resp = internalServerError(req)
	}
	return resp
}

// replyAck answers req with resp. A confirmable req is still waiting
// in ack_pending for this FSM, so the reply piggybacks on that ack via
// AcceptMsg; a non-confirmable req never entered ack_pending (the FSM
// stayed closed once it handed the request up), so the reply must go
// out as its own non-confirmable send instead.
func (m *Mux) replyAck(fsm *exchange.FSM, req *message.Message, resp *message.Message) {
	ack := message.ResponseFor(req)
	ack.Code = resp.Code
	ack.Payload = resp.Payload
	ack.Options = resp.Options
	if ack.Type == message.Acknowledgement {
		fsm.AcceptMsg(ack)
	} else {
		fsm.UnreliableSend(ack)
	}
}

func badRequest(req *message.Message) *message.Message {
	resp := message.ResponseFor(req)
	resp.Code = codes.BadRequest
	return resp
}

func entityIncomplete(req *message.Message) *message.Message {
	resp := message.ResponseFor(req)
	resp.Code = codes.RequestEntityIncomplete
	return resp
}

func internalServerError(req *message.Message) *message.Message {
	resp := message.ResponseFor(req)
	resp.Code = codes.InternalServerError
	return resp
}
