/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"encoding/binary"
	"fmt"
)

// Packet record layout inside a sequence buffer. Each record is a
// fixed-size header followed by caplen bytes of packet data. The format is
// private to the process.
//
//	sec     int64   capture timestamp, seconds
//	usec    int32   capture timestamp, microseconds
//	caplen  uint32  bytes stored in the buffer
//	wirelen uint32  original length on the wire
const seqRecordHeaderLen = 8 + 4 + 4 + 4

// defaultSequenceBufSize bounds one sequence's raw buffer. When a packet
// does not fit, the transmitter finalizes the sequence and opens a new one.
const defaultSequenceBufSize = 1 << 20

// PacketSequence is an append-only, size-bounded buffer of outgoing packets
// forming one contiguous sendqueue. It is a unit of transmission and
// repetition: the transmitter replays whole sequences, observing usecDelay
// after each and expanding repeat groups.
type PacketSequence struct {
	buf []byte

	packets      int64
	bytes        int64
	usecDuration int64 // lastTs - firstTs within the buffer

	// usecDelay is observed after transmitting this sequence, before
	// moving on. For the last sequence of a repeat group it separates
	// iterations of the group.
	usecDelay int64

	// repeatCount and repeatSize are meaningful on the first sequence of
	// a repeat group: the group of repeatSize sequences starting here is
	// replayed repeatCount times. Both default to 1.
	repeatCount int64
	repeatSize  int64

	firstTsUsec int64
	lastTsUsec  int64
}

func newPacketSequence() *PacketSequence {
	return &PacketSequence{
		buf:         make([]byte, 0, defaultSequenceBufSize),
		repeatCount: 1,
		repeatSize:  1,
		firstTsUsec: -1,
	}
}

// hasFreeSpace reports whether n more bytes fit in the buffer.
func (s *PacketSequence) hasFreeSpace(n int) bool {
	return len(s.buf)+n <= cap(s.buf)
}

// appendPacket stores one packet record. The timestamp must be
// non-decreasing relative to the previous record.
func (s *PacketSequence) appendPacket(sec int64, usec int32, data []byte) error {
	need := seqRecordHeaderLen + len(data)
	if !s.hasFreeSpace(need) {
		return fmt.Errorf("sequence buffer full: need %d, have %d", need, cap(s.buf)-len(s.buf))
	}

	var hdr [seqRecordHeaderLen]byte
	binary.LittleEndian.PutUint64(hdr[0:8], uint64(sec))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(usec))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(len(data)))
	binary.LittleEndian.PutUint32(hdr[16:20], uint32(len(data)))
	s.buf = append(s.buf, hdr[:]...)
	s.buf = append(s.buf, data...)

	ts := sec*1e6 + int64(usec)
	if s.firstTsUsec < 0 {
		s.firstTsUsec = ts
	}
	s.lastTsUsec = ts
	s.usecDuration = s.lastTsUsec - s.firstTsUsec

	s.packets++
	s.bytes += int64(len(data))

	return nil
}

// seqRecord is one decoded packet record. Data aliases the sequence buffer.
type seqRecord struct {
	tsUsec  int64
	caplen  uint32
	wirelen uint32
	data    []byte
}

// seqIterator walks a sequence's records in buffer order.
type seqIterator struct {
	buf []byte
	off int
}

func (s *PacketSequence) iter() seqIterator {
	return seqIterator{buf: s.buf}
}

func (it *seqIterator) next() (seqRecord, bool) {
	if it.off+seqRecordHeaderLen > len(it.buf) {
		return seqRecord{}, false
	}
	hdr := it.buf[it.off : it.off+seqRecordHeaderLen]
	sec := int64(binary.LittleEndian.Uint64(hdr[0:8]))
	usec := int32(binary.LittleEndian.Uint32(hdr[8:12]))
	caplen := binary.LittleEndian.Uint32(hdr[12:16])
	wirelen := binary.LittleEndian.Uint32(hdr[16:20])

	start := it.off + seqRecordHeaderLen
	end := start + int(caplen)
	if end > len(it.buf) {
		return seqRecord{}, false
	}
	it.off = end

	return seqRecord{
		tsUsec:  sec*1e6 + int64(usec),
		caplen:  caplen,
		wirelen: wirelen,
		data:    it.buf[start:end],
	}, true
}

// records returns views of all packet payloads in buffer order.
func (s *PacketSequence) records() [][]byte {
	pkts := make([][]byte, 0, s.packets)
	it := s.iter()
	for {
		rec, ok := it.next()
		if !ok {
			break
		}
		pkts = append(pkts, rec.data)
	}
	return pkts
}
