// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package blockwise implements the RFC 7959 block-wise transfer
// algorithm: splitting an outbound payload into block-sized chunks
// (Segmenter) and reassembling an inbound sequence of chunks back into
// one payload (Assembler). Both are pure, allocation-light functions
// over in-memory buffers; the pump that drives them across exchanges
// lives one layer up, in pkg/coap/client and pkg/coap/server.
package blockwise

import (
	"bytes"

	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
)

// ErrBlockConflict indicates a received block whose Size or Number
// disagrees with the transfer already in progress.
var ErrBlockConflict = errors.New("block_conflict")

// ErrIncomplete indicates Reassemble was called after the final
// block (More=false) was seen while a block before it is still missing.
var ErrIncomplete = errors.New("incomplete block-wise transfer")

// Segmenter cuts a payload into successive block-sized chunks for
// outbound block-wise transfer.
type Segmenter struct {
	payload []byte
	size    uint16
}

// NewSegmenter returns a Segmenter that will cut payload into chunks
// of size bytes (the last chunk may be shorter).
func NewSegmenter(payload []byte, size uint16) *Segmenter {
	return &Segmenter{payload: payload, size: size}
}

// Segment returns the body and Block descriptor for block number n.
// ok is false if n is past the end of the payload.
func (s *Segmenter) Segment(n uint32) (body []byte, b message.Block, ok bool) {
	start := uint64(n) * uint64(s.size)
	if start >= uint64(len(s.payload)) {
		if n == 0 && len(s.payload) == 0 {
			return nil, message.Block{Number: 0, More: false, Size: s.size}, true
		}
		return nil, message.Block{}, false
	}

	end := start + uint64(s.size)
	more := true
	if end >= uint64(len(s.payload)) {
		end = uint64(len(s.payload))
		more = false
	}

	return s.payload[start:end], message.Block{Number: n, More: more, Size: s.size}, true
}

// Total reports the number of blocks the payload segments into.
func (s *Segmenter) Total() uint32 {
	if len(s.payload) == 0 {
		return 1
	}
	n := uint32(len(s.payload)) / uint32(s.size)
	if uint32(len(s.payload))%uint32(s.size) != 0 {
		n++
	}
	return n
}

// Assembler reassembles a sequence of received blocks into one
// payload. It tolerates out-of-order arrival but rejects a block whose
// Size disagrees with the first block seen (ErrBlockConflict).
type Assembler struct {
	blocks map[uint32][]byte
	size   uint16
	done   bool
	total  uint32 // number of the final block, once known
}

// NewAssembler returns an empty Assembler.
func NewAssembler() *Assembler {
	return &Assembler{blocks: make(map[uint32][]byte)}
}

// Add records one received block's body. It returns ErrBlockConflict
// if b.Size does not match the size already established by an earlier
// block, or if b.Number was already recorded with a different body.
func (a *Assembler) Add(b message.Block, body []byte) error {
	if a.size == 0 {
		a.size = b.Size
	} else if a.size != b.Size {
		return ErrBlockConflict
	}

	if existing, ok := a.blocks[b.Number]; ok && !bytes.Equal(existing, body) {
		return ErrBlockConflict
	}

	stored := make([]byte, len(body))
	copy(stored, body)
	a.blocks[b.Number] = stored

	if !b.More {
		a.done = true
		a.total = b.Number
	}
	return nil
}

// Reassemble concatenates every recorded block in ascending order and
// reports true once the final block has been seen and no gap remains
// between block 0 and the final block number.
func (a *Assembler) Reassemble() ([]byte, bool, error) {
	if !a.done {
		return nil, false, nil
	}
	out := make([]byte, 0, len(a.blocks)*int(a.size))
	for n := uint32(0); n <= a.total; n++ {
		body, ok := a.blocks[n]
		if !ok {
			return nil, false, errors.Wrap(ErrIncomplete, errors.New("missing block"))
		}
		out = append(out, body...)
	}
	return out, true, nil
}
