// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package blockwise_test

import (
	"testing"

	"github.com/absmach/coapcore/pkg/coap/blockwise"
	"github.com/absmach/coapcore/pkg/coap/message"
	"github.com/absmach/coapcore/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmenterCutsAndMarksLastBlock(t *testing.T) {
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	seg := blockwise.NewSegmenter(payload, 32)

	body0, b0, ok := seg.Segment(0)
	require.True(t, ok)
	assert.Equal(t, payload[0:32], body0)
	assert.True(t, b0.More)
	assert.Equal(t, uint32(0), b0.Number)

	body3, b3, ok := seg.Segment(3)
	require.True(t, ok)
	assert.Equal(t, payload[96:100], body3)
	assert.False(t, b3.More)

	_, _, ok = seg.Segment(4)
	assert.False(t, ok)
}

func TestSegmenterEmptyPayload(t *testing.T) {
	seg := blockwise.NewSegmenter(nil, 16)
	body, b, ok := seg.Segment(0)
	require.True(t, ok)
	assert.Empty(t, body)
	assert.False(t, b.More)
}

func TestAssemblerReassemblesOutOfOrder(t *testing.T) {
	a := blockwise.NewAssembler()

	block1 := []byte("0123456789012345") // 16 bytes
	block0 := []byte("abcdefghijklmnop") // 16 bytes

	require.NoError(t, a.Add(message.Block{Number: 1, More: false, Size: 16}, block1))
	_, ok, err := a.Reassemble()
	require.Error(t, err)
	assert.True(t, errors.Contains(err, blockwise.ErrIncomplete))
	assert.False(t, ok, "cannot reassemble before block 0 arrives")

	require.NoError(t, a.Add(message.Block{Number: 0, More: true, Size: 16}, block0))

	out, ok, err := a.Reassemble()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "abcdefghijklmnop0123456789012345", string(out))
}

func TestAssemblerDetectsSizeConflict(t *testing.T) {
	a := blockwise.NewAssembler()
	require.NoError(t, a.Add(message.Block{Number: 0, More: true, Size: 16}, make([]byte, 16)))

	err := a.Add(message.Block{Number: 1, More: false, Size: 32}, make([]byte, 10))
	require.Error(t, err)
	assert.True(t, errors.Contains(err, blockwise.ErrBlockConflict))
}

func TestAssemblerDetectsGap(t *testing.T) {
	a := blockwise.NewAssembler()
	require.NoError(t, a.Add(message.Block{Number: 0, More: true, Size: 16}, make([]byte, 16)))
	require.NoError(t, a.Add(message.Block{Number: 2, More: false, Size: 16}, make([]byte, 4)))

	_, _, err := a.Reassemble()
	require.Error(t, err)
	assert.True(t, errors.Contains(err, blockwise.ErrIncomplete))
}
