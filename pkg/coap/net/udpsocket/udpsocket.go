// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package udpsocket is the production endpoint.StartFunc: a real
// net.UDPConn wrapped to satisfy the endpoint.Adapter/Transport
// contract, grounded on absmach-mproxy's pkg/server/udp read-loop and
// buffer-pool shape but adapted to decode CoAP messages instead of
// proxying raw bytes, and to self-terminate after an idle period
// rather than proxy-session idle per spec.md §5's inactivity rule.
package udpsocket

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/absmach/coapcore/pkg/coap/endpoint"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
)

// MaxDatagramSize is the largest possible UDP payload. The read loop
// does not use it: each read goes into a DefaultBufferSize buffer.
const MaxDatagramSize = 65535

// DefaultBufferSize is the read buffer handed to bufferPool.
const DefaultBufferSize = 8192

// InactivityTimeout is how long the socket waits for any inbound
// datagram before tearing itself down, per spec.md §5.
const InactivityTimeout = 5 * time.Minute

// ErrListen wraps a failure to bind or resolve the local address.
var ErrListen = errors.New("udpsocket: listen failed")

// ReopenAttempts bounds how many times the read loop tries to rebind
// a fresh socket after a transient read error before giving up and
// reporting the socket as exited, per spec.md's generic
// reconnect-on-transient-failure rule (distinct from CoAP's own,
// protocol-mandated retransmission backoff).
const ReopenAttempts = 3

// Options configures the adapter; zero values fall back to the
// package defaults.
type Options struct {
	// ListenAddr is used only when peer is nil (server mode); empty
	// binds to ":5683", CoAP's default port.
	ListenAddr string
	Logger     *slog.Logger
}

// socket is the endpoint.Adapter implementation.
type socket struct {
	connMu sync.RWMutex
	conn   *net.UDPConn

	// listenAddr is non-nil for a server-mode listening socket and nil
	// for a client-mode ephemeral one; reopen uses it to rebind the
	// same way Start originally dialed.
	listenAddr *net.UDPAddr

	transport endpoint.Transport
	logger    *slog.Logger

	bufferPool *sync.Pool
	lastActive atomicTime

	closeOnce sync.Once
	closeCh   chan struct{}
}

func (s *socket) getConn() *net.UDPConn {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn
}

func (s *socket) setConn(conn *net.UDPConn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
}

// Start implements endpoint.StartFunc. If peer is nil it opens a
// listening socket (server mode, accepts any sender); otherwise it
// opens an ephemeral socket and the adapter only ever sends to peer
// (client mode), though it still receives from whatever address
// responds, so the endpoint can verify the reply's origin.
func Start(peer net.Addr, transport endpoint.Transport, opts endpoint.Options) (endpoint.Adapter, error) {
	cfg, _ := opts["udpsocket"].(Options)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	var laddr *net.UDPAddr
	if peer == nil {
		addr := cfg.ListenAddr
		if addr == "" {
			addr = ":5683"
		}
		resolved, rerr := net.ResolveUDPAddr("udp", addr)
		if rerr != nil {
			return nil, errors.Wrap(ErrListen, rerr)
		}
		laddr = resolved
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, errors.Wrap(ErrListen, err)
	}

	s := &socket{
		conn:       conn,
		listenAddr: laddr,
		transport:  transport,
		logger:     cfg.Logger,
		bufferPool: &sync.Pool{
			New: func() any {
				buf := make([]byte, DefaultBufferSize)
				return &buf
			},
		},
		closeCh: make(chan struct{}),
	}
	s.lastActive.set(time.Now())

	go s.readLoop()
	go s.idleWatch()

	return s, nil
}

// Send implements endpoint.Adapter.
func (s *socket) Send(ctx context.Context, to net.Addr, m *message.Message) error {
	wire, err := message.Encode(m)
	if err != nil {
		return err
	}
	udpAddr, ok := to.(*net.UDPAddr)
	if !ok {
		resolved, rerr := net.ResolveUDPAddr("udp", to.String())
		if rerr != nil {
			return rerr
		}
		udpAddr = resolved
	}
	_, err = s.getConn().WriteToUDP(wire, udpAddr)
	if err == nil {
		s.lastActive.set(time.Now())
	}
	return err
}

// LocalAddr returns the socket's bound local address. Not part of
// endpoint.Adapter; exposed for callers (and tests) that need to learn
// an ephemeral listen port.
func (s *socket) LocalAddr() net.Addr {
	return s.getConn().LocalAddr()
}

// Close implements endpoint.Adapter.
func (s *socket) Close() error {
	s.closeOnce.Do(func() { close(s.closeCh) })
	return s.getConn().Close()
}

func (s *socket) readLoop() {
	defer s.exit(nil)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		bufPtr := s.bufferPool.Get().(*[]byte)
		buf := *bufPtr

		n, from, err := s.getConn().ReadFromUDP(buf)
		if err != nil {
			s.bufferPool.Put(bufPtr)
			select {
			case <-s.closeCh:
				return
			default:
			}
			if s.reopen() {
				continue
			}
			s.exit(err)
			return
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.bufferPool.Put(bufPtr)
		s.lastActive.set(time.Now())

		m, err := message.Decode(datagram)
		if err != nil {
			s.logger.Warn("dropping malformed datagram",
				slog.String("from", from.String()), slog.String("error", err.Error()))
			continue
		}
		s.transport.Recv(m, from)
	}
}

func (s *socket) idleWatch() {
	ticker := time.NewTicker(InactivityTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-s.closeCh:
			return
		case <-ticker.C:
			if time.Since(s.lastActive.get()) >= InactivityTimeout {
				s.logger.Info("udpsocket idle timeout, closing")
				s.exit(nil)
				return
			}
		}
	}
}

// reopen rebinds a fresh UDP socket after a transient read error,
// retrying with exponential backoff up to ReopenAttempts times. It
// reports success so readLoop can keep going on the new conn instead
// of tearing the whole adapter (and every exchange on it) down over a
// recoverable network blip.
func (s *socket) reopen() bool {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(ReopenAttempts))

	var fresh *net.UDPConn
	err := backoff.Retry(func() error {
		conn, err := net.ListenUDP("udp", s.listenAddr)
		if err != nil {
			return err
		}
		fresh = conn
		return nil
	}, policy)
	if err != nil {
		s.logger.Warn("udpsocket: giving up reopening socket", slog.String("error", err.Error()))
		return false
	}

	s.logger.Info("udpsocket: reopened socket after transient error")
	old := s.getConn()
	s.setConn(fresh)
	old.Close()
	return true
}

func (s *socket) exit(reason error) {
	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.getConn().Close()
	})
	s.transport.Exited(reason)
}

// atomicTime is a tiny helper for the mutex-guarded idle-timestamp used
// by two independent goroutines (readLoop and idleWatch).
type atomicTime struct {
	mu sync.Mutex
	t  time.Time
}

func (a *atomicTime) set(t time.Time) {
	a.mu.Lock()
	a.t = t
	a.mu.Unlock()
}

func (a *atomicTime) get() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.t
}
