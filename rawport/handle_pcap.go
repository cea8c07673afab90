//go:build !linux || cgo

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcap"
	"go.uber.org/atomic"
)

// PcapHandle wraps a pcap handle for raw packet capture/injection.
type PcapHandle struct {
	handle *pcap.Handle
	closed atomic.Bool

	promiscuous    bool
	noLocalCapture bool
}

// NewPcapHandle creates a new pcap-based raw handle.
//
// Some platforms refuse promiscuous mode on certain interfaces, and some
// refuse excluding locally transmitted packets on loopback. Instead of
// failing, the open degrades one step at a time and records which
// relaxations were required:
//
//  1. promiscuous + no-local-capture
//  2. on a "promiscuous" diagnostic: retry non-promiscuous
//  3. on a "loopback" diagnostic: retry capturing local packets too
func NewPcapHandle(cfg *Config) (*PcapHandle, error) {
	promisc := cfg.Promiscuous
	noLocal := cfg.NoLocalCapture

	for {
		handle, err := openPcap(cfg, promisc, noLocal)
		if err == nil {
			return &PcapHandle{
				handle:         handle,
				promiscuous:    promisc,
				noLocalCapture: noLocal,
			}, nil
		}

		diag := err.Error()
		switch {
		case promisc && strings.Contains(diag, "promiscuous"):
			promisc = false
		case noLocal && strings.Contains(diag, "loopback"):
			noLocal = false
		default:
			return nil, fmt.Errorf("failed to open %s: %w", cfg.Interface, err)
		}
	}
}

// openPcap performs a single open attempt with the given flags.
func openPcap(cfg *Config, promisc, noLocal bool) (*pcap.Handle, error) {
	// Create inactive handle first to set options before activation.
	inactive, err := pcap.NewInactiveHandle(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to create inactive handle on %s: %w", cfg.Interface, err)
	}

	if err := inactive.SetSnapLen(cfg.SnapLen); err != nil {
		inactive.CleanUp()
		return nil, fmt.Errorf("failed to set snap length: %w", err)
	}

	if err := inactive.SetPromisc(promisc); err != nil {
		inactive.CleanUp()
		return nil, fmt.Errorf("failed to set promiscuous mode: %w", err)
	}

	if err := inactive.SetTimeout(cfg.ReadTimeout); err != nil {
		inactive.CleanUp()
		return nil, fmt.Errorf("failed to set timeout: %w", err)
	}

	if cfg.Immediate {
		if err := inactive.SetImmediateMode(true); err != nil {
			inactive.CleanUp()
			return nil, fmt.Errorf("failed to set immediate mode: %w", err)
		}
	}

	if cfg.SocketBuffer > 0 {
		if err := inactive.SetBufferSize(cfg.SocketBuffer); err != nil {
			inactive.CleanUp()
			return nil, fmt.Errorf("failed to set buffer size: %w", err)
		}
	}

	// The no-local-capture request is not passed to libpcap: the inactive
	// handle takes no such option. It is only recorded by the caller, and
	// an activated handle captures local packets too.
	_ = noLocal

	handle, err := inactive.Activate()
	if err != nil {
		inactive.CleanUp()
		return nil, fmt.Errorf("failed to activate pcap handle: %w", err)
	}

	return handle, nil
}

// IsPromiscuous reports whether the handle ended up in promiscuous mode.
func (h *PcapHandle) IsPromiscuous() bool {
	return h.promiscuous
}

// CapturesLocal reports false when no-local-capture was requested and the
// open kept that request; true when it was not requested or was dropped on
// a "loopback" diagnostic. The request never reaches libpcap (see
// openPcap), so the handle itself captures local packets either way.
func (h *PcapHandle) CapturesLocal() bool {
	return !h.noLocalCapture
}

// isPcapTimeout checks if the error is a pcap timeout (not a real error).
func isPcapTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, pcap.NextErrorTimeoutExpired) {
		return true
	}
	errStr := err.Error()
	// pcap returns "Timeout Expired" on macOS/BSD, other variants on Linux
	return strings.Contains(errStr, "Timeout") ||
		strings.Contains(errStr, "timeout")
}

// ZeroCopyReadPacketData reads a packet without copying. Returns ErrTimeout
// when the read timeout elapsed without a packet.
func (h *PcapHandle) ZeroCopyReadPacketData() ([]byte, CaptureInfo, error) {
	if h.closed.Load() {
		return nil, CaptureInfo{}, ErrClosed
	}

	data, ci, err := h.handle.ZeroCopyReadPacketData()
	if err != nil {
		if isPcapTimeout(err) {
			return nil, CaptureInfo{}, ErrTimeout
		}
		return nil, CaptureInfo{}, err
	}

	return data, CaptureInfo{
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
	}, nil
}

// ReadPacketData reads a packet and returns a copy. Returns ErrTimeout when
// the read timeout elapsed without a packet.
func (h *PcapHandle) ReadPacketData() ([]byte, CaptureInfo, error) {
	if h.closed.Load() {
		return nil, CaptureInfo{}, ErrClosed
	}

	data, ci, err := h.handle.ReadPacketData()
	if err != nil {
		if isPcapTimeout(err) {
			return nil, CaptureInfo{}, ErrTimeout
		}
		return nil, CaptureInfo{}, err
	}

	return data, CaptureInfo{
		Timestamp:     ci.Timestamp,
		CaptureLength: ci.CaptureLength,
		Length:        ci.Length,
	}, nil
}

// WritePacketData writes a raw packet to the network.
func (h *PcapHandle) WritePacketData(data []byte) error {
	if h.closed.Load() {
		return ErrClosed
	}
	return h.handle.WritePacketData(data)
}

// SetBPFFilter compiles and applies a tcpdump-syntax filter.
func (h *PcapHandle) SetBPFFilter(filter string) error {
	return h.handle.SetBPFFilter(filter)
}

// SetDirection restricts the handle to one traffic direction.
func (h *PcapHandle) SetDirection(dir Direction) error {
	var pcapDir pcap.Direction
	switch dir {
	case DirectionIn:
		pcapDir = pcap.DirectionIn
	case DirectionOut:
		pcapDir = pcap.DirectionOut
	case DirectionInOut:
		pcapDir = pcap.DirectionInOut
	default:
		return fmt.Errorf("invalid direction: %d", dir)
	}
	if err := h.handle.SetDirection(pcapDir); err != nil {
		// pcap_setdirection is a stub on Windows and some BSDs.
		return fmt.Errorf("%w: %v", ErrDirectionUnsupported, err)
	}
	return nil
}

// LinkType returns the handle's link layer type.
func (h *PcapHandle) LinkType() layers.LinkType {
	return h.handle.LinkType()
}

// Stats returns capture statistics.
func (h *PcapHandle) Stats() (*CaptureStats, error) {
	stats, err := h.handle.Stats()
	if err != nil {
		return nil, err
	}
	return &CaptureStats{
		PacketsReceived:  uint64(stats.PacketsReceived),
		PacketsDropped:   uint64(stats.PacketsDropped),
		PacketsIfDropped: uint64(stats.PacketsIfDropped),
	}, nil
}

// Close releases resources.
func (h *PcapHandle) Close() {
	if h.closed.Swap(true) {
		return
	}
	if h.handle != nil {
		h.handle.Close()
	}
}

// Verify interface compliance
var _ Handle = (*PcapHandle)(nil)
