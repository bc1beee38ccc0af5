// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package exchange

// Observer receives the events spec.md §6's observability section
// names (re_tried, timed_out, block_sent/block_received), kept as a
// narrow interface so the FSM, and the client/server coordinators
// built on it, can report to one instrumentation seam without any of
// them depending on a concrete metrics or logging backend. mid
// identifies which confirmable transmission the event belongs to, the
// same correlation spec.md's event group keys on.
type Observer interface {
	// Retry is called once per confirmable retransmission the FSM's
	// backoff timer fires, for the message carrying mid.
	Retry(mid uint16)
	// Timeout is called once, when a reliable transmission of mid is
	// abandoned after MaxRetransmit retries with no ack.
	Timeout(mid uint16)
	// BlockSent is called once per block-wise segment transmitted or
	// received, tagged "sent" or "received", naming the block number.
	BlockSent(direction string, blockNumber uint32)
}

type noopObserver struct{}

func (noopObserver) Retry(uint16)             {}
func (noopObserver) Timeout(uint16)           {}
func (noopObserver) BlockSent(string, uint32) {}

// NoopObserver discards every event; it is the default for any
// FSM, Client, or Mux that is never given a SetObserver/WithObserver
// call.
var NoopObserver Observer = noopObserver{}
