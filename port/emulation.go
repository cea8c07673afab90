/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/packetforge/packetforge/rawport"
)

// PacketBuffer wraps received packet bytes on their way to the device
// manager. The data aliases the capture buffer, which is invalidated by
// the next read; consumers that retain the packet must copy it first.
type PacketBuffer struct {
	data []byte
}

// NewPacketBuffer wraps the given bytes without copying.
func NewPacketBuffer(data []byte) *PacketBuffer {
	return &PacketBuffer{data: data}
}

// Data returns the packet bytes.
func (b *PacketBuffer) Data() []byte {
	return b.data
}

// Length returns the packet length.
func (b *PacketBuffer) Length() int {
	return len(b.data)
}

// DeviceManager consumes control-plane packets for the emulated virtual
// devices bound to a port. ReceivePacket must finish with the buffer
// before returning; the bytes do not survive the next capture read.
type DeviceManager interface {
	ReceivePacket(pkt *PacketBuffer)
}

// emulationFilter accepts ARP, ICMPv4 and ICMPv6, untagged or inside up to
// four stacked VLAN tags.
//
// Each 'vlan' keyword in a libpcap expression shifts the decoding offsets
// for the remainder of the expression by 4 bytes, so the repeated
// "(vlan and ...)" clauses are not redundant: the Nth occurrence matches
// the protocols at VLAN stacking depth N. Collapsing them into one clause
// would only match depth 1. Targets whose filter library decodes vlan
// statelessly must express "arp/icmp/icmp6 at depths 0..4" in that
// library's own syntax instead.
const emulationFilter = "arp or icmp or icmp6 or " +
	"(vlan and (arp or icmp or icmp6)) or " +
	"(vlan and (arp or icmp or icmp6)) or " +
	"(vlan and (arp or icmp or icmp6)) or " +
	"(vlan and (arp or icmp or icmp6))"

// EmulationTransceiver receives control-plane packets (ARP/NDP, ICMP) on a
// port and hands them to the device manager, and transmits the manager's
// replies on demand.
type EmulationTransceiver struct {
	device string
	devMgr DeviceManager
	log    *zap.Logger

	handle rawport.Handle

	state stateVar
	stop  atomic.Bool

	// openHandle is swapped out by tests.
	openHandle func() (rawport.Handle, error)
}

// NewEmulationTransceiver creates a transceiver for the named device. The
// handle is opened when the receive loop starts.
func NewEmulationTransceiver(device string, devMgr DeviceManager, logger *zap.Logger) *EmulationTransceiver {
	t := &EmulationTransceiver{
		device: device,
		devMgr: devMgr,
		log:    logger,
	}
	t.openHandle = func() (rawport.Handle, error) {
		return rawport.Open(&rawport.Config{
			Interface:      device,
			SnapLen:        65535,
			Promiscuous:    true,
			NoLocalCapture: true,
			ReadTimeout:    100 * time.Millisecond,
			Backend:        "pcap",
		})
	}
	return t
}

// Start launches the receive loop and returns once it is past startup.
func (t *EmulationTransceiver) Start() {
	if t.IsRunning() {
		t.log.Warn("receive start requested but is already running")
		return
	}

	t.stop.Store(false)
	t.state.set(stateNotStarted)
	go t.run()

	t.state.waitWhile(stateNotStarted, 10*time.Millisecond)
}

func (t *EmulationTransceiver) run() {
	defer t.state.set(stateFinished)

	handle, err := t.openHandle()
	if err != nil {
		t.log.Error("unable to open device, emulation will not work",
			zap.String("device", t.device), zap.Error(err))
		return
	}

	// Emulation needs to see packets addressed to the emulated devices'
	// MACs, not the host's; without promiscuous mode it cannot work.
	if pr, ok := handle.(interface{ IsPromiscuous() bool }); ok && !pr.IsPromiscuous() {
		t.log.Error("unable to set promiscuous mode, emulation will not work",
			zap.String("device", t.device))
		handle.Close()
		return
	}

	// A broken filter only costs us the kernel-side narrowing: the loop
	// still works, just sees more packets.
	if err := handle.SetBPFFilter(emulationFilter); err != nil {
		t.log.Warn("error setting filter, proceeding unfiltered",
			zap.String("device", t.device), zap.Error(err))
	}

	t.handle = handle
	t.state.set(stateRunning)

	for {
		data, ci, err := handle.ZeroCopyReadPacketData()
		switch {
		case err == nil:
			// The device manager must consume the buffer before
			// returning; the bytes are owned by the capture library
			// and do not persist across reads.
			t.devMgr.ReceivePacket(NewPacketBuffer(data[:ci.CaptureLength]))

		case errors.Is(err, rawport.ErrTimeout):
			// Just go back to the loop.

		default:
			t.log.Warn("error reading packet", zap.Error(err))
		}

		if t.stop.Load() {
			t.log.Debug("user requested receiver stop")
			break
		}
	}

	t.handle = nil
	handle.Close()
	t.stop.Store(false)
}

// Stop ends the receive loop and waits for the worker to finish.
func (t *EmulationTransceiver) Stop() {
	if !t.IsRunning() {
		t.log.Warn("receive stop requested but is not running")
		return
	}
	t.stop.Store(true)
	t.state.waitWhile(stateRunning, 10*time.Millisecond)
}

// IsRunning reports whether the receive loop is active.
func (t *EmulationTransceiver) IsRunning() bool {
	return t.state.is(stateRunning)
}

// TransmitPacket synchronously sends one packet on the transceiver's
// handle. Only valid while the receive loop is running.
func (t *EmulationTransceiver) TransmitPacket(pkt *PacketBuffer) error {
	handle := t.handle
	if handle == nil {
		return fmt.Errorf("emulation transceiver is not running")
	}
	return handle.WritePacketData(pkt.Data())
}

// Close stops the receive loop if needed.
func (t *EmulationTransceiver) Close() {
	if t.IsRunning() {
		t.Stop()
	}
}
