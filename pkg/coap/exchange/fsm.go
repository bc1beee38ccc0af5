// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package exchange implements the per-exchange message-layer state
// machine: reliable transmission with binary-exponential-backoff
// retransmit, ack-pending bookkeeping for the server side, and the
// postpone/deferred-queue ordering rules that keep FIFO delivery
// stable across a single Exchange's mailbox.
package exchange

import (
	"time"

	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
)

// State is one of the three phases an Exchange can be in.
type State int

const (
	Closed State = iota
	ReliableTx
	AckPending
)

func (s State) String() string {
	switch s {
	case ReliableTx:
		return "reliable_tx"
	case AckPending:
		return "ack_pending"
	default:
		return "closed"
	}
}

// ErrSocket wraps a fatal socket-adapter failure, surfaced to the
// coordinator instead of a reset/timeout rr_fail.
var ErrSocket = errors.New("socket")

// Socket is the narrow send capability the FSM needs from its
// endpoint-owned transport; Close/lifecycle belong to the endpoint.
type Socket interface {
	Send(m *message.Message) error
}

// SocketFail is emitted to the coordinator when the socket adapter
// exits and cannot be reopened, per spec.md §4.3/§7.
type SocketFail struct{ Reason error }

// FSM is one Exchange's message-layer state machine: one goroutine
// (Run), one mailbox, no state shared with any other Exchange.
type FSM struct {
	mailbox chan event
	closeCh chan struct{}
	done    chan struct{}

	socket   Socket
	toCoord  chan<- interface{}
	clock    Clock
	rand     RandSource
	timing   Timing
	obs      Observer

	state      State
	retries    int
	timeout    time.Duration
	timer      Timer
	pending    *message.Message
	pendingMID uint16
	nextMID    uint16
	deferred   []event
}

// New constructs an Exchange FSM. toCoord receives RRRx, RRFail, and
// SocketFail values; socket receives the messages this FSM transmits.
// A nil clock/rand uses the production system implementations.
func New(socket Socket, toCoord chan<- interface{}, timing Timing, clock Clock, rand RandSource) *FSM {
	if clock == nil {
		clock = SystemClock{}
	}
	if rand == nil {
		rand = SystemRand{}
	}
	seed := rand.Uint16()
	if seed == 0 {
		seed = 1
	}
	return &FSM{
		mailbox: make(chan event, 32),
		closeCh: make(chan struct{}),
		done:    make(chan struct{}),
		socket:  socket,
		toCoord: toCoord,
		clock:   clock,
		rand:    rand,
		timing:  timing.withDefaults(),
		obs:     noopObserver{},
		state:   Closed,
		nextMID: seed,
	}
}

// SetObserver attaches obs so retransmits and timeouts are reported to
// it; must be called before Run starts, since obs is read only by
// Run's goroutine thereafter. A nil obs is ignored.
func (f *FSM) SetObserver(obs Observer) {
	if obs != nil {
		f.obs = obs
	}
}

// State reports the current FSM phase. Safe to call only from the
// goroutine running Run, or after Done() has fired.
func (f *FSM) State() State { return f.state }

// ReliableSend asks the FSM to transmit m as a fresh confirmable
// message, retransmitting on schedule until acked, reset, or
// exhausted.
func (f *FSM) ReliableSend(m *message.Message) { f.mailbox <- ReliableSend{m} }

// UnreliableSend asks the FSM to transmit m once, non-confirmably.
func (f *FSM) UnreliableSend(m *message.Message) { f.mailbox <- UnreliableSend{m} }

// AcceptMsg delivers the application's reply for a request the FSM
// handed up as an RRRx while ack_pending.
func (f *FSM) AcceptMsg(m *message.Message) { f.mailbox <- Accept{m} }

// CancelMID silently aborts a reliable_tx in progress for mid.
func (f *FSM) CancelMID(mid uint16) { f.mailbox <- Cancel{mid} }

// Deliver hands the FSM a decoded inbound datagram.
func (f *FSM) Deliver(ev Recv) { f.mailbox <- ev }

// NotifySocketExited tells the FSM its socket adapter task ended.
func (f *FSM) NotifySocketExited(reason error) { f.mailbox <- SocketExited{reason} }

// Close stops Run at the next mailbox poll.
func (f *FSM) Close() { close(f.closeCh) }

// Done reports when Run has returned.
func (f *FSM) Done() <-chan struct{} { return f.done }

// Run drives the state machine until Close is called. It must run in
// its own goroutine; it is the only goroutine that ever touches f's
// non-channel fields.
func (f *FSM) Run() {
	defer func() {
		f.stopTimer()
		close(f.done)
	}()

	for {
		ev, ok := f.dequeue()
		if !ok {
			return
		}
		f.dispatch(ev)
	}
}

func (f *FSM) dequeue() (event, bool) {
	if f.state == Closed && len(f.deferred) > 0 {
		ev := f.deferred[0]
		f.deferred = f.deferred[1:]
		return ev, true
	}

	// A caller's Close() and its own just-enqueued mailbox send (e.g.
	// AcceptMsg for a separate response, immediately followed by a
	// deferred Close()) can become ready on the same dequeue at once;
	// draining the mailbox first guarantees that send is dispatched
	// instead of losing the race to the close signal.
	select {
	case ev := <-f.mailbox:
		return ev, true
	default:
	}

	var timerC <-chan time.Time
	if f.timer != nil {
		timerC = f.timer.C()
	}

	select {
	case <-f.closeCh:
		return nil, false
	case ev := <-f.mailbox:
		return ev, true
	case <-timerC:
		return retransmitTimeout{}, true
	}
}

func (f *FSM) postpone(ev event) { f.deferred = append(f.deferred, ev) }

func (f *FSM) stopTimer() {
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}

func (f *FSM) allocateMID() uint16 {
	mid := f.nextMID
	f.nextMID++
	if f.nextMID == 0 {
		f.nextMID = 1
	}
	return mid
}

func (f *FSM) send(m *message.Message) {
	if err := f.socket.Send(m); err != nil {
		f.toCoord <- SocketFail{Reason: errors.Wrap(ErrSocket, err)}
	}
}

func (f *FSM) dispatch(ev event) {
	switch f.state {
	case Closed:
		f.dispatchClosed(ev)
	case ReliableTx:
		f.dispatchReliableTx(ev)
	case AckPending:
		f.dispatchAckPending(ev)
	}
}

func (f *FSM) dispatchClosed(ev event) {
	switch e := ev.(type) {
	case ReliableSend:
		msg := e.Msg.Clone()
		msg.Type = message.Confirmable
		msg.MessageID = f.allocateMID()
		f.pending = msg
		f.pendingMID = msg.MessageID
		f.retries = 0
		f.timeout = f.timing.InitialTimeout(f.rand)
		f.send(msg)
		f.timer = f.clock.NewTimer(f.timeout)
		f.state = ReliableTx

	case UnreliableSend:
		msg := e.Msg.Clone()
		msg.Type = message.NonConfirmable
		msg.MessageID = f.allocateMID()
		f.send(msg)

	case Recv:
		switch e.Msg.Type {
		case message.Confirmable:
			f.pendingMID = e.Msg.MessageID
			f.toCoord <- RRRx{Msg: e.Msg, From: e.From}
			f.state = AckPending
		case message.NonConfirmable:
			// either an unsolicited non, or the separate-response half
			// of a request whose initial rr_rx already closed this
			// exchange; either way the coordinator correlates by
			// token, not by the FSM's own state.
			f.toCoord <- RRRx{Msg: e.Msg, From: e.From}
		default:
			// a stray ack/reset with no matching exchange state is a
			// duplicate of an already-completed round trip; drop it.
		}

	case SocketExited:
		f.toCoord <- SocketFail{Reason: errors.Wrap(ErrSocket, e.Reason)}

	case Cancel, Accept, retransmitTimeout:
		// nothing in flight to cancel/accept/retransmit.
	}
}

func (f *FSM) dispatchReliableTx(ev event) {
	switch e := ev.(type) {
	case ReliableSend, UnreliableSend, Accept:
		f.postpone(ev)

	case Cancel:
		if e.MessageID == f.pendingMID {
			f.stopTimer()
			f.pending = nil
			f.state = Closed
		}
		// mismatched cancel is ignored, per spec.md §4.3.

	case Recv:
		if e.Msg.MessageID != f.pendingMID {
			f.postpone(ev)
			return
		}
		switch e.Msg.Type {
		case message.Acknowledgement, message.NonConfirmable:
			f.stopTimer()
			f.pending = nil
			f.toCoord <- RRRx{Msg: e.Msg, From: e.From}
			f.state = Closed
		case message.Reset:
			f.stopTimer()
			f.pending = nil
			f.toCoord <- RRFail{MessageID: f.pendingMID, Reason: FailReset}
			f.state = Closed
		default:
			// an inbound con echoing our own mid isn't a valid
			// ack/reset for this transmission; hold it for later.
			f.postpone(ev)
		}

	case retransmitTimeout:
		if f.retries >= f.timing.MaxRetransmit {
			f.pending = nil
			f.obs.Timeout(f.pendingMID)
			f.toCoord <- RRFail{MessageID: f.pendingMID, Reason: FailTimeout}
			f.state = Closed
			return
		}
		f.retries++
		f.obs.Retry(f.pendingMID)
		f.timeout *= 2
		f.send(f.pending)
		f.timer = f.clock.NewTimer(f.timeout)

	case SocketExited:
		f.stopTimer()
		f.pending = nil
		f.state = Closed
		f.toCoord <- SocketFail{Reason: errors.Wrap(ErrSocket, e.Reason)}
	}
}

func (f *FSM) dispatchAckPending(ev event) {
	switch e := ev.(type) {
	case Accept:
		f.send(e.Msg)
		f.state = Closed

	case ReliableSend, UnreliableSend, Recv:
		f.postpone(ev)

	case Cancel:
		// no reliable_tx in progress; ignored.

	case SocketExited:
		f.state = Closed
		f.toCoord <- SocketFail{Reason: errors.Wrap(ErrSocket, e.Reason)}

	case retransmitTimeout:
		// no timer runs in ack_pending.
	}
}
