// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package message

import "github.com/absmach/coapcore/pkg/errors"

// ErrMalformed is the base decode error; a specific sub-reason is
// always wrapped onto it via errors.Wrap, per spec.md §7.
var ErrMalformed = errors.New("malformed message")

// Sub-reasons wrapped onto ErrMalformed.
var (
	ErrShortHeader               = errors.New("short_header")
	ErrBadTokenLength            = errors.New("bad_token_length")
	ErrBadOptionDelta            = errors.New("bad_option_delta")
	ErrBadOptionLength           = errors.New("bad_option_length")
	ErrTrailingAfterPayloadMarker = errors.New("trailing_after_payload_marker")
)

func malformed(reason error) error {
	return errors.Wrap(ErrMalformed, reason)
}
