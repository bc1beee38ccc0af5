// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "github.com/absmach/coapcore/pkg/errors"

// ErrInvalidBlockSize indicates a Block.Size outside the legal power-
// of-two set {16,...,1024}.
var ErrInvalidBlockSize = errors.New("invalid block size")

// ErrInvalidBlockEncoding indicates a block1/block2 option value that
// does not decode to a well-formed Block.
var ErrInvalidBlockEncoding = errors.New("invalid block option encoding")

// Block is the RFC 7959 block-wise transfer descriptor carried by the
// block1/block2 options.
type Block struct {
	Number uint32
	More   bool
	Size   uint16
}

// szx maps a legal block size to its on-the-wire exponent
// (szx = log2(size) - 4).
func szx(size uint16) (uint8, error) {
	switch size {
	case 16:
		return 0, nil
	case 32:
		return 1, nil
	case 64:
		return 2, nil
	case 128:
		return 3, nil
	case 256:
		return 4, nil
	case 512:
		return 5, nil
	case 1024:
		return 6, nil
	default:
		return 0, ErrInvalidBlockSize
	}
}

var szxToSize = [8]uint16{16, 32, 64, 128, 256, 512, 1024, 0}

// EncodeBlock serializes a Block to its wire form: 1 byte if Number
// fits 4 bits, 2 bytes if it fits 12 bits, otherwise 4 bytes (up to
// 28 bits), per the numeric-magnitude rule in spec.md §4.1.
func EncodeBlock(b Block) []byte {
	x, err := szx(b.Size)
	if err != nil {
		// caller is expected to validate Size first; fall back to
		// the largest legal size (1024) rather than emit a bad wire value.
		x = 6
	}
	var more uint32
	if b.More {
		more = 1
	}
	v := (b.Number << 4) | (more << 3) | uint32(x)

	switch {
	case b.Number < 16:
		return []byte{byte(v)}
	case b.Number < 4096:
		return []byte{byte(v >> 8), byte(v)}
	default:
		return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
	}
}

// DecodeBlock parses a block1/block2 option value into a Block.
func DecodeBlock(raw []byte) (Block, error) {
	switch len(raw) {
	case 0, 1, 2, 4:
	default:
		return Block{}, errors.Wrap(ErrInvalidBlockEncoding, errors.New("block option must be 0, 1, 2 or 4 bytes"))
	}
	var v uint32
	for _, c := range raw {
		v = v<<8 | uint32(c)
	}
	x := uint8(v & 0x7)
	more := v&0x8 != 0
	number := v >> 4
	size := szxToSize[x]
	if size == 0 {
		return Block{}, errors.Wrap(ErrInvalidBlockEncoding, errors.New("reserved szx value 7"))
	}
	return Block{Number: number, More: more, Size: size}, nil
}

// Canonical reports whether b is the "no block-wise transfer" value
// (number 0, more false) that the codec is allowed to elide.
func (b Block) Canonical() bool {
	return b.Number == 0 && !b.More
}
