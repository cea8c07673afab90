/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"sync"
	"time"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/atomic"

	"github.com/packetforge/packetforge/rawport"
)

// fakePacket is one packet queued for a fake handle's read side.
type fakePacket struct {
	data    []byte
	wirelen int
}

// fakeHandle is an in-memory rawport.Handle for deterministic worker
// tests: reads drain a channel, writes are recorded with timestamps.
type fakeHandle struct {
	mu     sync.Mutex
	in     chan fakePacket
	sent   [][]byte
	sentAt []time.Time

	// failAfter makes WritePacketData return writeErr once this many
	// writes have succeeded; -1 disables.
	failAfter int
	writeErr  error

	readErr error // returned once by the next read, then cleared

	filter    string
	filterErr error

	directions []rawport.Direction
	dirErr     error

	promisc     bool
	readTimeout time.Duration
	closed      atomic.Bool
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		in:          make(chan fakePacket, 256),
		failAfter:   -1,
		promisc:     true,
		readTimeout: 10 * time.Millisecond,
	}
}

func (h *fakeHandle) inject(data []byte, wirelen int) {
	h.in <- fakePacket{data: data, wirelen: wirelen}
}

func (h *fakeHandle) ZeroCopyReadPacketData() ([]byte, rawport.CaptureInfo, error) {
	if h.closed.Load() {
		return nil, rawport.CaptureInfo{}, rawport.ErrClosed
	}

	h.mu.Lock()
	if err := h.readErr; err != nil {
		h.readErr = nil
		h.mu.Unlock()
		return nil, rawport.CaptureInfo{}, err
	}
	h.mu.Unlock()

	select {
	case pkt := <-h.in:
		return pkt.data, rawport.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(pkt.data),
			Length:        pkt.wirelen,
		}, nil
	case <-time.After(h.readTimeout):
		return nil, rawport.CaptureInfo{}, rawport.ErrTimeout
	}
}

func (h *fakeHandle) ReadPacketData() ([]byte, rawport.CaptureInfo, error) {
	data, ci, err := h.ZeroCopyReadPacketData()
	if err != nil {
		return nil, ci, err
	}
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	return dataCopy, ci, nil
}

func (h *fakeHandle) WritePacketData(data []byte) error {
	if h.closed.Load() {
		return rawport.ErrClosed
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.failAfter >= 0 && len(h.sent) >= h.failAfter {
		return h.writeErr
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)
	h.sent = append(h.sent, dataCopy)
	h.sentAt = append(h.sentAt, time.Now())
	return nil
}

func (h *fakeHandle) SetBPFFilter(filter string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.filterErr != nil {
		return h.filterErr
	}
	h.filter = filter
	return nil
}

func (h *fakeHandle) SetDirection(dir rawport.Direction) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.dirErr != nil {
		return h.dirErr
	}
	h.directions = append(h.directions, dir)
	return nil
}

func (h *fakeHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

func (h *fakeHandle) Stats() (*rawport.CaptureStats, error) {
	return &rawport.CaptureStats{}, nil
}

func (h *fakeHandle) Close() {
	h.closed.Store(true)
}

func (h *fakeHandle) IsPromiscuous() bool {
	return h.promisc
}

func (h *fakeHandle) sentPackets() [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([][]byte, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *fakeHandle) sentTimes() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]time.Time, len(h.sentAt))
	copy(out, h.sentAt)
	return out
}

func (h *fakeHandle) appliedFilter() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.filter
}

// fakeBatchHandle additionally implements rawport.BatchWriter.
type fakeBatchHandle struct {
	fakeHandle
	batchCalls atomic.Int64
}

func newFakeBatchHandle() *fakeBatchHandle {
	h := &fakeBatchHandle{}
	h.in = make(chan fakePacket, 256)
	h.failAfter = -1
	h.promisc = true
	h.readTimeout = 10 * time.Millisecond
	return h
}

func (h *fakeBatchHandle) WriteBatch(pkts [][]byte) (int, error) {
	h.batchCalls.Add(1)
	for i, pkt := range pkts {
		if err := h.WritePacketData(pkt); err != nil {
			return i, err
		}
	}
	return len(pkts), nil
}

// Verify interface compliance
var (
	_ rawport.Handle      = (*fakeHandle)(nil)
	_ rawport.BatchWriter = (*fakeBatchHandle)(nil)
)
