/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"errors"
	"time"

	"github.com/gopacket/gopacket/layers"
)

// Direction specifies which direction of packets a handle receives.
type Direction int

const (
	DirectionIn    Direction = iota // Receive incoming packets only
	DirectionOut                    // Receive outgoing packets only
	DirectionInOut                  // Receive both directions
)

// Errors returned by handle reads. Callers are expected to distinguish a
// poll timeout (check a stop flag and read again) from a real failure.
var (
	// ErrTimeout is returned when no packet arrived within the handle's
	// configured read timeout. It is not a failure.
	ErrTimeout = errors.New("rawport: read timeout")

	// ErrClosed is returned for any operation on a closed handle.
	ErrClosed = errors.New("rawport: handle closed")

	// ErrDirectionUnsupported is returned by SetDirection when the backend
	// cannot filter by direction on this platform.
	ErrDirectionUnsupported = errors.New("rawport: direction filtering unsupported")
)

// CaptureInfo contains metadata about a captured packet.
type CaptureInfo struct {
	// Timestamp is the time the packet was captured.
	Timestamp time.Time
	// CaptureLength is the number of bytes captured.
	CaptureLength int
	// Length is the original packet length on the wire.
	Length int
}

// Handle abstracts raw packet I/O backends (pcap or AF_PACKET).
//
// Reads return ErrTimeout when the configured read timeout elapses without
// a packet, so long-running loops can poll their stop flag between reads.
type Handle interface {
	// ReadPacketData reads the next packet and returns a copy.
	ReadPacketData() ([]byte, CaptureInfo, error)

	// ZeroCopyReadPacketData reads the next packet without copying.
	// The returned slice is only valid until the next read.
	ZeroCopyReadPacketData() ([]byte, CaptureInfo, error)

	// WritePacketData writes a raw packet to the network.
	WritePacketData(data []byte) error

	// SetBPFFilter compiles and applies a tcpdump-syntax filter.
	SetBPFFilter(filter string) error

	// SetDirection restricts the handle to one traffic direction.
	// Returns ErrDirectionUnsupported if the backend cannot.
	SetDirection(dir Direction) error

	// LinkType returns the handle's link layer type.
	LinkType() layers.LinkType

	// Stats returns capture statistics.
	Stats() (*CaptureStats, error)

	// Close releases resources.
	Close()
}

// BatchWriter is implemented by handles that can hand a whole packet batch
// to the kernel in one go, without userspace pacing between packets.
type BatchWriter interface {
	// WriteBatch writes the packets back to back and returns the number
	// successfully handed to the kernel.
	WriteBatch(pkts [][]byte) (int, error)
}

// CaptureStats contains packet capture statistics.
type CaptureStats struct {
	PacketsReceived  uint64
	PacketsDropped   uint64
	PacketsIfDropped uint64
}
