// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "github.com/absmach/coapcore/pkg/errors"

// ErrTokenTooLong indicates a token longer than MaxTokenSize.
var ErrTokenTooLong = errors.New("token exceeds 8 bytes")

// Encode serializes m to its RFC 7252 wire form. Options are emitted
// in ascending numeric order (stable, so repeats keep their relative
// order); an empty payload never gets a 0xFF marker.
func Encode(m *Message) ([]byte, error) {
	if len(m.Token) > MaxTokenSize {
		return nil, ErrTokenTooLong
	}

	size := 4 + len(m.Token)
	buf := make([]byte, 0, size+32+len(m.Payload))

	byte0 := byte(Version<<6) | byte(m.Type)<<4 | byte(len(m.Token))
	byte1 := m.Code.Class<<5 | m.Code.Detail

	buf = append(buf, byte0, byte1, byte(m.MessageID>>8), byte(m.MessageID))
	buf = append(buf, m.Token...)

	opts := make(Options, len(m.Options))
	copy(opts, m.Options)
	opts.Sort()

	var prevID OptionID
	for _, o := range opts {
		if o.ID == IfNoneMatch && len(o.Value) != 0 {
			return nil, errors.New("if-none-match is a presence marker and must be empty")
		}
		delta := uint32(o.ID - prevID)
		prevID = o.ID
		length := uint32(len(o.Value))

		deltaNibble, deltaExt := encodeExt(delta)
		lengthNibble, lengthExt := encodeExt(length)

		buf = append(buf, deltaNibble<<4|lengthNibble)
		buf = append(buf, deltaExt...)
		buf = append(buf, lengthExt...)
		buf = append(buf, o.Value...)
	}

	if len(m.Payload) > 0 {
		buf = append(buf, 0xFF)
		buf = append(buf, m.Payload...)
	}

	return buf, nil
}

// encodeExt splits a delta or length value into its 4-bit nibble and
// 0, 1, or 2 extension bytes, per the 13/14 extension rule in
// spec.md §4.1.
func encodeExt(v uint32) (byte, []byte) {
	switch {
	case v < 13:
		return byte(v), nil
	case v < 269:
		return 13, []byte{byte(v - 13)}
	default:
		ext := v - 269
		return 14, []byte{byte(ext >> 8), byte(ext)}
	}
}
