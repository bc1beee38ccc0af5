// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import (
	"github.com/absmach/coapcore/pkg/coap/message/codes"
	"github.com/absmach/coapcore/pkg/errors"
)

var (
	errShortExt       = errors.New("truncated option extension bytes")
	errReservedNibble = errors.New("reserved option nibble value 15")
)

// Decode parses b as an RFC 7252 wire message. It never mutates b;
// every []byte it stores into the returned Message is a fresh copy.
func Decode(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, malformed(ErrShortHeader)
	}

	byte0 := b[0]
	tkl := int(byte0 & 0x0F)
	if tkl > MaxTokenSize {
		return nil, malformed(ErrBadTokenLength)
	}

	m := &Message{
		Type: Type((byte0 >> 4) & 0x3),
		Code: codes.Code{
			Class:  b[1] >> 5,
			Detail: b[1] & 0x1F,
		},
		MessageID: uint16(b[2])<<8 | uint16(b[3]),
	}

	offset := 4
	if len(b) < offset+tkl {
		return nil, malformed(ErrBadTokenLength)
	}
	if tkl > 0 {
		m.Token = append([]byte(nil), b[offset:offset+tkl]...)
	}
	offset += tkl

	var prevID OptionID
	for offset < len(b) {
		if b[offset] == 0xFF {
			offset++
			if offset == len(b) {
				return nil, malformed(ErrTrailingAfterPayloadMarker)
			}
			m.Payload = append([]byte(nil), b[offset:]...)
			offset = len(b)
			break
		}

		hdr := b[offset]
		offset++
		deltaNibble := hdr >> 4
		lengthNibble := hdr & 0x0F

		delta, offset2, err := decodeExt(deltaNibble, b, offset)
		if err != nil {
			return nil, malformed(ErrBadOptionDelta)
		}
		offset = offset2

		length, offset3, err := decodeExt(lengthNibble, b, offset)
		if err != nil {
			return nil, malformed(ErrBadOptionLength)
		}
		offset = offset3

		if uint64(offset)+uint64(length) > uint64(len(b)) {
			return nil, malformed(ErrBadOptionLength)
		}

		id := prevID + OptionID(delta)
		prevID = id

		var value []byte
		if length > 0 {
			value = append([]byte(nil), b[offset:offset+int(length)]...)
		}
		m.Options = append(m.Options, Option{ID: id, Value: value})
		offset += int(length)
	}

	return m, nil
}

// decodeExt resolves a 4-bit option delta/length nibble against the
// 13/14 extension rule: 13 means one more byte (+13), 14 means two
// more bytes (+269), 15 is reserved and always an error.
func decodeExt(nibble byte, b []byte, offset int) (uint32, int, error) {
	switch {
	case nibble < 13:
		return uint32(nibble), offset, nil
	case nibble == 13:
		if offset >= len(b) {
			return 0, offset, errShortExt
		}
		return uint32(b[offset]) + 13, offset + 1, nil
	case nibble == 14:
		if offset+1 >= len(b) {
			return 0, offset, errShortExt
		}
		return (uint32(b[offset])<<8 | uint32(b[offset+1])) + 269, offset + 2, nil
	default:
		return 0, offset, errReservedNibble
	}
}
