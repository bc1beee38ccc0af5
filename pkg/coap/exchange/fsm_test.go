// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package exchange_test

import (
	"sync"
	"testing"
	"time"

	"github.com/absmach/coapcore/pkg/coap/exchange"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/coap/message/codes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTimer is a manually-fired exchange.Timer; the test controls
// exactly when a retransmit deadline elapses.
type fakeTimer struct {
	ch      chan time.Time
	stopped bool
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }
func (t *fakeTimer) Stop() bool          { t.stopped = true; return true }

// fakeClock hands out fakeTimers and publishes each one on a channel
// so the test can grab and fire it deterministically.
type fakeClock struct {
	timers chan *fakeTimer
}

func newFakeClock() *fakeClock { return &fakeClock{timers: make(chan *fakeTimer, 16)} }

func (c *fakeClock) Now() time.Time { return time.Time{} }

func (c *fakeClock) NewTimer(d time.Duration) exchange.Timer {
	t := &fakeTimer{ch: make(chan time.Time, 1)}
	c.timers <- t
	return t
}

func (c *fakeClock) fire(t *testing.T) *fakeTimer {
	t.Helper()
	select {
	case tm := <-c.timers:
		tm.ch <- time.Time{}
		return tm
	case <-time.After(time.Second):
		t.Fatal("no timer was created")
		return nil
	}
}

// fakeRand is a fixed RandSource: Float64 always returns the same
// jitter fraction, Uint16 always returns seed.
type fakeRand struct {
	float64Val float64
	seed       uint16
}

func (r *fakeRand) Float64() float64 { return r.float64Val }
func (r *fakeRand) Uint16() uint16   { return r.seed }

// fakeSocket records every message handed to Send.
type fakeSocket struct {
	mu   sync.Mutex
	sent []*message.Message
	err  error
}

func (s *fakeSocket) Send(m *message.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, m)
	return s.err
}

func (s *fakeSocket) Sent() []*message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*message.Message, len(s.sent))
	copy(out, s.sent)
	return out
}

func waitForSentCount(t *testing.T, socket *fakeSocket, n int) []*message.Message {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sent := socket.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d sent message(s), got %d", n, len(socket.Sent()))
	return nil
}

func drainOne(t *testing.T, ch <-chan interface{}) interface{} {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for coordinator event")
		return nil
	}
}

func newTestFSM(socket exchange.Socket, timing exchange.Timing, clock exchange.Clock, rand exchange.RandSource) (*exchange.FSM, chan interface{}) {
	toCoord := make(chan interface{}, 16)
	f := exchange.New(socket, toCoord, timing, clock, rand)
	go f.Run()
	return f, toCoord
}

func TestTimeoutEmitsExactlyMaxRetransmitPlusOneSends(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{float64Val: 0, seed: 100}
	timing := exchange.Timing{AckTimeout: 100 * time.Millisecond, AckRandomFactor: 1.0, MaxRetransmit: 2}

	f, toCoord := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	req := &message.Message{Code: codes.GET, Token: []byte{1}}
	f.ReliableSend(req)

	clock.fire(t) // 1st retransmit
	clock.fire(t) // 2nd retransmit
	clock.fire(t) // exhausts MaxRetransmit -> rr_fail

	ev := drainOne(t, toCoord)
	fail, ok := ev.(exchange.RRFail)
	require.True(t, ok, "expected RRFail, got %#v", ev)
	assert.Equal(t, exchange.FailTimeout, fail.Reason)

	assert.Len(t, socket.Sent(), 3, "initial send plus two retransmits")
}

func TestResetEndsExchangeWithRRFailReset(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 7}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, toCoord := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	req := &message.Message{Code: codes.GET, Token: []byte{9}}
	f.ReliableSend(req)

	sent := waitForSentCount(t, socket, 1)
	mid := sent[0].MessageID

	f.Deliver(exchange.Recv{Msg: &message.Message{Type: message.Reset, MessageID: mid}})

	ev := drainOne(t, toCoord)
	fail, ok := ev.(exchange.RRFail)
	require.True(t, ok)
	assert.Equal(t, exchange.FailReset, fail.Reason)
	assert.Equal(t, mid, fail.MessageID)
}

func TestAckEndsExchangeWithoutFurtherSends(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 1}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, toCoord := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	req := &message.Message{Code: codes.GET, Token: []byte{2}}
	f.ReliableSend(req)
	mid := waitForSentCount(t, socket, 1)[0].MessageID

	ack := &message.Message{Type: message.Acknowledgement, Code: codes.Content, MessageID: mid, Payload: []byte("hello")}
	f.Deliver(exchange.Recv{Msg: ack})

	ev := drainOne(t, toCoord)
	rx, ok := ev.(exchange.RRRx)
	require.True(t, ok)
	assert.Equal(t, "hello", string(rx.Msg.Payload))

	// duplicate ack arrival must be a no-op (invariant 8).
	f.Deliver(exchange.Recv{Msg: ack})
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, socket.Sent(), 1, "no retransmit after rr_rx (invariant 6)")

	select {
	case ev := <-toCoord:
		t.Fatalf("unexpected second coordinator event for duplicate ack: %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestMessageIDsAreMonotonicPerExchange(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 65535}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, _ := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	f.UnreliableSend(&message.Message{Code: codes.GET})
	f.UnreliableSend(&message.Message{Code: codes.GET})

	sent := waitForSentCount(t, socket, 2)
	assert.Equal(t, uint16(65535), sent[0].MessageID)
	assert.Equal(t, uint16(1), sent[1].MessageID, "wraps to 1, not 0")
}

func TestSeparateResponseSurfacesAfterExchangeCloses(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 4}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, toCoord := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	req := &message.Message{Code: codes.GET, Token: []byte{5}}
	f.ReliableSend(req)
	mid := waitForSentCount(t, socket, 1)[0].MessageID

	emptyAck := &message.Message{Type: message.Acknowledgement, MessageID: mid}
	f.Deliver(exchange.Recv{Msg: emptyAck})
	drainOne(t, toCoord) // the empty ack itself, rr_rx

	separate := &message.Message{Type: message.NonConfirmable, Code: codes.Content, Token: []byte{5}, Payload: []byte("late")}
	f.Deliver(exchange.Recv{Msg: separate})

	ev := drainOne(t, toCoord)
	rx, ok := ev.(exchange.RRRx)
	require.True(t, ok, "expected RRRx for the separate response, got %#v", ev)
	assert.Equal(t, "late", string(rx.Msg.Payload))
}

// TestAcceptMsgIsSentEvenWhenCloseFollowsImmediately guards against a
// caller pattern like client.go's waitSeparate: AcceptMsg the
// confirmable separate response's ack, then immediately Close the
// FSM. The ack must still reach the socket instead of losing a race
// against the close signal.
func TestAcceptMsgIsSentEvenWhenCloseFollowsImmediately(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 6}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, _ := newTestFSM(socket, timing, clock, rnd)

	separate := &message.Message{Type: message.Confirmable, MessageID: 500, Code: codes.Content, Token: []byte{5}}
	f.Deliver(exchange.Recv{Msg: separate})

	f.AcceptMsg(message.ResponseFor(separate))
	f.Close()

	sent := waitForSentCount(t, socket, 1)
	assert.Equal(t, message.Acknowledgement, sent[0].Type)
	assert.Equal(t, uint16(500), sent[0].MessageID)
}

func TestCancelStopsRetransmissionSilently(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 3}
	timing := exchange.Timing{AckTimeout: time.Second, AckRandomFactor: 1.0, MaxRetransmit: 4}

	f, toCoord := newTestFSM(socket, timing, clock, rnd)
	defer f.Close()

	req := &message.Message{Code: codes.GET}
	f.ReliableSend(req)
	mid := waitForSentCount(t, socket, 1)[0].MessageID

	f.CancelMID(mid)
	time.Sleep(20 * time.Millisecond)

	select {
	case ev := <-toCoord:
		t.Fatalf("cancel must not emit a coordinator event, got %#v", ev)
	case <-time.After(20 * time.Millisecond):
	}
}

// fakeObserver records every call an exchange.Observer receives.
type fakeObserver struct {
	mu       sync.Mutex
	retries  int
	timeouts int
}

func (o *fakeObserver) Retry(uint16) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
}

func (o *fakeObserver) Timeout(uint16) {
	o.mu.Lock()
	o.timeouts++
	o.mu.Unlock()
}

func (o *fakeObserver) BlockSent(string, uint32) {}

func (o *fakeObserver) counts() (retries, timeouts int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.retries, o.timeouts
}

func TestObserverSeesOneRetryPerRetransmitAndOneTimeoutOnExhaustion(t *testing.T) {
	socket := &fakeSocket{}
	clock := newFakeClock()
	rnd := &fakeRand{seed: 42}
	timing := exchange.Timing{AckTimeout: 100 * time.Millisecond, AckRandomFactor: 1.0, MaxRetransmit: 2}

	toCoord := make(chan interface{}, 16)
	f := exchange.New(socket, toCoord, timing, clock, rnd)
	obs := &fakeObserver{}
	f.SetObserver(obs)
	go f.Run()
	defer f.Close()

	f.ReliableSend(&message.Message{Code: codes.GET, Token: []byte{1}})

	clock.fire(t) // 1st retransmit
	clock.fire(t) // 2nd retransmit
	clock.fire(t) // exhausts MaxRetransmit -> rr_fail

	drainOne(t, toCoord)

	retries, timeouts := obs.counts()
	assert.Equal(t, 2, retries)
	assert.Equal(t, 1, timeouts)
}
