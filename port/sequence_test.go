/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceAppendTracksDuration(t *testing.T) {
	seq := newPacketSequence()

	require.NoError(t, seq.appendPacket(0, 0, []byte{1, 2, 3}))
	require.NoError(t, seq.appendPacket(0, 100, []byte{4, 5}))
	require.NoError(t, seq.appendPacket(0, 300, []byte{6}))

	assert.Equal(t, int64(3), seq.packets)
	assert.Equal(t, int64(6), seq.bytes)
	assert.Equal(t, int64(300), seq.usecDuration)
	assert.Equal(t, int64(0), seq.firstTsUsec)
	assert.Equal(t, int64(300), seq.lastTsUsec)
}

func TestSequenceDurationSpansSeconds(t *testing.T) {
	seq := newPacketSequence()

	require.NoError(t, seq.appendPacket(1, 900000, []byte{1}))
	require.NoError(t, seq.appendPacket(2, 100000, []byte{2}))

	// 2.1s - 1.9s = 200ms
	assert.Equal(t, int64(200000), seq.usecDuration)
}

func TestSequenceDefaults(t *testing.T) {
	seq := newPacketSequence()

	assert.Equal(t, int64(1), seq.repeatCount)
	assert.Equal(t, int64(1), seq.repeatSize)
	assert.Equal(t, int64(0), seq.usecDelay)
	assert.Equal(t, int64(0), seq.usecDuration)
}

func TestSequenceAppendRejectsOverflow(t *testing.T) {
	seq := newPacketSequence()

	big := make([]byte, defaultSequenceBufSize)
	err := seq.appendPacket(0, 0, big)
	require.Error(t, err)
	assert.Equal(t, int64(0), seq.packets)
}

func TestSequenceIteratorRoundTrip(t *testing.T) {
	seq := newPacketSequence()

	pkts := [][]byte{
		bytes.Repeat([]byte{0xaa}, 60),
		bytes.Repeat([]byte{0xbb}, 128),
		bytes.Repeat([]byte{0xcc}, 9),
	}
	ts := []int64{0, 50, 175}
	for i, pkt := range pkts {
		require.NoError(t, seq.appendPacket(0, int32(ts[i]), pkt))
	}

	it := seq.iter()
	for i, want := range pkts {
		rec, ok := it.next()
		require.True(t, ok, "record %d", i)
		assert.Equal(t, ts[i], rec.tsUsec)
		assert.Equal(t, uint32(len(want)), rec.caplen)
		assert.Equal(t, uint32(len(want)), rec.wirelen)
		assert.Equal(t, want, rec.data)
	}
	_, ok := it.next()
	assert.False(t, ok)

	assert.Equal(t, pkts, seq.records())
}
