// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package endpoint

import (
	"context"
	"encoding/hex"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/absmach/coapcore/pkg/coap/exchange"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
)

// InactivityTimeout is the default exchange idle lifetime, per
// spec.md §3's lifecycle rule.
const InactivityTimeout = 5 * time.Minute

// Mode selects the exchange-creation policy, per spec.md §4.4.
type Mode int

const (
	// ModeServer accepts inbound datagrams from any peer and creates
	// an exchange on demand for any non-ack/reset message.
	ModeServer Mode = iota
	// ModeClient only accepts datagrams for an exchange the
	// coordinator pre-created; datagrams for an unknown key are
	// dropped with a warning.
	ModeClient
)

// ErrUnresolvedPeer wraps a DNS resolution failure at exchange
// creation time.
var ErrUnresolvedPeer = errors.New("could not resolve peer address")

type key struct {
	peer  string
	token string
}

// Endpoint owns one datagram socket adapter and the (peer, token) ->
// exchange.FSM table for it. The table is guarded by mu: Run's
// dispatch, NewExchange callers, the idle reaper and each exchange's
// cleanup goroutine all touch it under that lock.
type Endpoint struct {
	mode     Mode
	start    StartFunc
	opts     Options
	logger   *slog.Logger
	timing   exchange.Timing
	obs      exchange.Observer

	adapter Adapter

	mu         sync.Mutex
	exchanges  map[key]*exchange.FSM
	peers      map[key]net.Addr
	lastActive map[key]time.Time

	toCoord chan ExchangeEvent

	recvCh  chan recvDatagram
	exitCh  chan error
	closeCh chan struct{}
	done    chan struct{}
}

type recvDatagram struct {
	msg  *message.Message
	from net.Addr
}

// ExchangeEvent pairs a coordinator-facing exchange.FSM event
// (exchange.RRRx, exchange.RRFail, exchange.SocketFail) with the key
// it came from, so a coordinator juggling many exchanges on one
// Endpoint can route it back to the right waiter.
type ExchangeEvent struct {
	Peer  net.Addr
	Token []byte
	Event interface{}
}

// New constructs an Endpoint in the given mode. start is the socket
// adapter constructor (production: udpsocket.Start); logger defaults
// to slog.Default() if nil.
func New(mode Mode, start StartFunc, opts Options, timing exchange.Timing, logger *slog.Logger) *Endpoint {
	if logger == nil {
		logger = slog.Default()
	}
	return &Endpoint{
		mode:      mode,
		start:     start,
		opts:      opts,
		logger:    logger,
		timing:    timing,
		exchanges:  make(map[key]*exchange.FSM),
		peers:      make(map[key]net.Addr),
		lastActive: make(map[key]time.Time),
		toCoord:   make(chan ExchangeEvent, 64),
		recvCh:    make(chan recvDatagram, 64),
		exitCh:    make(chan error, 1),
		closeCh:   make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Events returns the channel every exchange's coordinator-facing
// event is funneled onto.
func (e *Endpoint) Events() <-chan ExchangeEvent { return e.toCoord }

// SetObserver attaches obs so every exchange this Endpoint creates
// from here on reports its retransmits and timeouts to it. Call
// before dispatching any traffic; exchanges created earlier keep
// whatever observer (or none) they started with.
func (e *Endpoint) SetObserver(obs exchange.Observer) {
	e.mu.Lock()
	e.obs = obs
	e.mu.Unlock()
}

// Listen starts the socket adapter in server mode (no fixed peer).
func (e *Endpoint) Listen() error {
	adapter, err := e.start(nil, e, e.opts)
	if err != nil {
		return err
	}
	e.adapter = adapter
	return nil
}

// Dial starts the socket adapter bound to one peer, resolving host
// via net.DefaultResolver if it is not already a literal address, per
// spec.md §4.4's hostname-handling rule.
func (e *Endpoint) Dial(ctx context.Context, host string, port int) (net.Addr, error) {
	ips, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, errors.Wrap(ErrUnresolvedPeer, err)
	}
	addr := &net.UDPAddr{IP: ips[0].IP, Port: port, Zone: ips[0].Zone}
	adapter, err := e.start(addr, e, e.opts)
	if err != nil {
		return nil, err
	}
	e.adapter = adapter
	return addr, nil
}

// NewExchange creates (client mode) or looks up (server mode) the FSM
// for (peer, token), starting its goroutine the first time.
func (e *Endpoint) NewExchange(peer net.Addr, token []byte) *exchange.FSM {
	k := key{peer: peer.String(), token: string(token)}

	e.mu.Lock()
	defer e.mu.Unlock()

	if fsm, ok := e.exchanges[k]; ok {
		return fsm
	}

	sink := make(chan interface{}, 8)
	socket := &routedSocket{ctx: context.Background(), adapter: e.adapter, to: peer, token: token, logger: e.logger}
	fsm := exchange.New(socket, sink, e.timing, nil, nil)
	fsm.SetObserver(e.obs)
	e.exchanges[k] = fsm
	e.peers[k] = peer
	e.lastActive[k] = time.Now()
	e.logger.Info("connection_started", connAttrs(peer, token)...)
	go e.pumpSink(sink, peer, token)
	go e.runExchange(k, fsm, sink, peer, token)
	go fsm.Run()
	return fsm
}

// connAttrs builds the {host, port, token} context group spec.md §6's
// observability section keys every event on. There is no user-tag
// concept anywhere else in this module (no caller ever attaches one to
// an exchange), so it is omitted here rather than fabricated.
func connAttrs(peer net.Addr, token []byte) []any {
	host, port := splitHostPort(peer)
	return []any{slog.Group("conn",
		slog.String("host", host),
		slog.String("port", port),
		slog.String("token", hex.EncodeToString(token)),
	)}
}

func splitHostPort(addr net.Addr) (string, string) {
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), ""
	}
	return host, port
}

// pumpSink tags every event an exchange.FSM emits with its (peer,
// token) and forwards it to toCoord, until runExchange closes sink
// once the FSM has terminated.
func (e *Endpoint) pumpSink(sink <-chan interface{}, peer net.Addr, token []byte) {
	for ev := range sink {
		e.toCoord <- ExchangeEvent{Peer: peer, Token: token, Event: ev}
	}
}

func (e *Endpoint) runExchange(k key, fsm *exchange.FSM, sink chan interface{}, peer net.Addr, token []byte) {
	<-fsm.Done()
	e.logger.Info("connection_ended", connAttrs(peer, token)...)
	close(sink)
	e.mu.Lock()
	delete(e.exchanges, k)
	delete(e.peers, k)
	delete(e.lastActive, k)
	e.mu.Unlock()
}

// Recv implements Transport: the socket adapter calls this for every
// decoded inbound datagram.
func (e *Endpoint) Recv(m *message.Message, from net.Addr) {
	e.recvCh <- recvDatagram{msg: m, from: from}
}

// Exited implements Transport: the socket adapter calls this once,
// when its task ends.
func (e *Endpoint) Exited(reason error) {
	select {
	case e.exitCh <- reason:
	default:
	}
}

// Run drains inbound datagrams and dispatches them to the matching
// exchange (creating one in server mode), until Close is called.
func (e *Endpoint) Run() {
	defer close(e.done)

	reaper := time.NewTicker(InactivityTimeout / 2)
	defer reaper.Stop()

	for {
		select {
		case <-e.closeCh:
			return
		case reason := <-e.exitCh:
			e.broadcastSocketFail(reason)
			return
		case dg := <-e.recvCh:
			e.dispatch(dg)
		case <-reaper.C:
			e.reapIdle()
		}
	}
}

func (e *Endpoint) dispatch(dg recvDatagram) {
	k := key{peer: dg.from.String(), token: string(dg.msg.Token)}

	e.mu.Lock()
	fsm, ok := e.exchanges[k]
	if ok {
		e.lastActive[k] = time.Now()
	}
	e.mu.Unlock()

	if !ok && len(dg.msg.Token) == 0 && (dg.msg.Type == message.Acknowledgement || dg.msg.Type == message.Reset) {
		// An empty ack/reset carries no token to key on: route it to an
		// exchange with the same peer (the first found, if the peer has
		// several), whose FSM matches it by message ID.
		e.mu.Lock()
		for ek, f := range e.exchanges {
			if ek.peer == k.peer {
				fsm, ok = f, true
				break
			}
		}
		e.mu.Unlock()
	}

	if !ok {
		if e.mode == ModeClient || dg.msg.Type == message.Acknowledgement || dg.msg.Type == message.Reset {
			e.logger.Warn("dropping datagram for unknown exchange",
				slog.String("peer", dg.from.String()))
			return
		}
		fsm = e.NewExchange(dg.from, dg.msg.Token)
	}

	attrs := append(connAttrs(dg.from, dg.msg.Token),
		slog.Int("message-id", int(dg.msg.MessageID)),
		slog.Int("size", len(dg.msg.Payload)))
	e.logger.Info("data_received", attrs...)

	fsm.Deliver(exchange.Recv{Msg: dg.msg, From: dg.from})
}

// reapIdle closes any exchange that has seen no inbound datagram for
// longer than InactivityTimeout, per spec.md §3's lifecycle rule.
func (e *Endpoint) reapIdle() {
	cutoff := time.Now().Add(-InactivityTimeout)

	e.mu.Lock()
	var stale []*exchange.FSM
	for k, seen := range e.lastActive {
		if seen.Before(cutoff) {
			stale = append(stale, e.exchanges[k])
		}
	}
	e.mu.Unlock()

	for _, fsm := range stale {
		fsm.Close()
	}
}

func (e *Endpoint) broadcastSocketFail(reason error) {
	e.mu.Lock()
	fsms := make([]*exchange.FSM, 0, len(e.exchanges))
	for _, fsm := range e.exchanges {
		fsms = append(fsms, fsm)
	}
	e.mu.Unlock()

	for _, fsm := range fsms {
		fsm.NotifySocketExited(reason)
	}
}

// Close stops Run and the underlying socket adapter.
func (e *Endpoint) Close() error {
	close(e.closeCh)
	<-e.done
	if e.adapter != nil {
		return e.adapter.Close()
	}
	return nil
}

// routedSocket adapts the shared, address-routed Adapter to the
// single-peer exchange.Socket contract one FSM expects.
type routedSocket struct {
	ctx     context.Context
	adapter Adapter
	to      net.Addr
	token   []byte
	logger  *slog.Logger
}

func (r *routedSocket) Send(m *message.Message) error {
	if err := r.adapter.Send(r.ctx, r.to, m); err != nil {
		return err
	}
	attrs := append(connAttrs(r.to, r.token),
		slog.Int("message-id", int(m.MessageID)),
		slog.Int("size", len(m.Payload)))
	r.logger.Info("data_sent", attrs...)
	return nil
}
