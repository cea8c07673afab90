/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package port implements the per-interface packet I/O engine: directional
// byte/packet monitoring, rate-accurate transmit replay, BPF-filtered
// capture to file, and the control-plane transceiver for emulated devices.
package port

import (
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/packetforge/packetforge/rawport"
)

// Port binds the four packet I/O workers to one network interface.
//
// The port owns the shared Stats and the workers; workers own their
// handles, except that the transmitter borrows the Rx monitor's handle.
// Monitors run from Start until Close; transmitter, capturer and
// emulation transceiver start on demand.
type Port struct {
	id          int
	device      string
	description string
	notes       string
	usable      bool
	log         *zap.Logger

	stats *Stats

	monitorRx   *Monitor
	monitorTx   *Monitor
	transmitter *Transmitter
	capturer    *Capturer
	emulXcvr    *EmulationTransceiver
}

// NewPort allocates the workers and shared stats for the named device.
// Call Start to wire the workers together and begin monitoring.
func NewPort(id int, device string, devMgr DeviceManager, logger *zap.Logger) *Port {
	log := logger.With(zap.Int("port", id), zap.String("device", device))

	p := &Port{
		id:     id,
		device: device,
		log:    log,
		stats:  NewStats(),
	}

	p.monitorRx = NewMonitor(device, rawport.DirectionIn, p.stats, log.Named("monitor-rx"))
	p.monitorTx = NewMonitor(device, rawport.DirectionOut, p.stats, log.Named("monitor-tx"))
	p.transmitter = NewTransmitter(device, log.Named("transmitter"))
	p.capturer = NewCapturer(device, log.Named("capturer"))
	p.emulXcvr = NewEmulationTransceiver(device, devMgr, log.Named("emulation"))

	p.usable = p.monitorRx.Usable() && p.monitorTx.Usable()
	if !p.usable {
		log.Error("port is unusable: monitor handles could not be opened")
	}

	if info, err := rawport.LookupInterface(device); err == nil {
		p.description = info.Description
	}

	return p
}

// Start wires the workers together and starts the monitors. Stats
// ownership depends on what the platform supports: with a directional Tx
// monitor that monitor is authoritative for tx counters; otherwise the
// transmitter accounts its own sends into the shared stats.
func (p *Port) Start() {
	if !p.monitorTx.IsDirectional() {
		p.transmitter.UseExternalStats(p.stats)
	}

	if p.monitorRx.Usable() {
		p.transmitter.SetHandle(p.monitorRx.Handle())
	}

	p.updateNotes()

	p.monitorRx.Start()
	p.monitorTx.Start()
}

// updateNotes rebuilds the user-visible list of active degradations.
func (p *Port) updateNotes() {
	var notes string

	if !p.monitorRx.IsPromiscuous() || !p.monitorTx.IsPromiscuous() {
		notes += "<li>Non Promiscuous Mode</li>"
	}

	if !p.monitorRx.IsDirectional() {
		notes += "<li><i>Rx Frames/Bytes</i>: Includes frames transmitted by other applications also (frames transmitted by this engine are not included)</li>"
	}

	if !p.monitorTx.IsDirectional() {
		notes += "<li><i>Tx Frames/Bytes</i>: Only frames transmitted by this engine (frames transmitted by other applications are NOT included)</li>"
	}

	if notes == "" {
		p.notes = ""
	} else {
		p.notes = fmt.Sprintf("<b>Limitation(s)</b><ul>%s</ul>"+
			"Rx/Tx Rates are also subject to above limitation(s)", notes)
	}
}

// ID returns the port's identifier.
func (p *Port) ID() int { return p.id }

// Device returns the interface name the port is bound to.
func (p *Port) Device() string { return p.device }

// Description returns the host's description of the interface, if any.
func (p *Port) Description() string { return p.description }

// Notes returns an HTML-ish list of active degradations for display by
// the control surface; empty when the port runs unimpaired.
func (p *Port) Notes() string { return p.notes }

// IsUsable reports whether both monitor handles opened successfully.
func (p *Port) IsUsable() bool { return p.usable }

// Stats returns the port's shared counters.
func (p *Port) Stats() *Stats { return p.stats }

// Transmitter returns the port's transmit worker.
func (p *Port) Transmitter() *Transmitter { return p.transmitter }

// SetRateAccuracy selects the transmitter's delay strategy.
func (p *Port) SetRateAccuracy(accuracy Accuracy) bool {
	return p.transmitter.SetRateAccuracy(accuracy)
}

// StartCapture begins capturing packets matching the filter expression.
func (p *Port) StartCapture(filter string) {
	p.capturer.Start(filter)
}

// StopCapture ends a running capture.
func (p *Port) StopCapture() {
	p.capturer.Stop()
}

// IsCaptureOn reports whether the capturer is running.
func (p *Port) IsCaptureOn() bool {
	return p.capturer.IsRunning()
}

// CaptureFile returns the capture dump file.
func (p *Port) CaptureFile() *os.File {
	return p.capturer.CaptureFile()
}

// StartDeviceEmulation starts the control-plane transceiver.
func (p *Port) StartDeviceEmulation() {
	p.emulXcvr.Start()
}

// StopDeviceEmulation stops the control-plane transceiver.
func (p *Port) StopDeviceEmulation() {
	p.emulXcvr.Stop()
}

// SendEmulationPacket transmits one control-plane packet.
func (p *Port) SendEmulationPacket(pkt *PacketBuffer) error {
	return p.emulXcvr.TransmitPacket(pkt)
}

// Close stops all workers, waits for their completion and releases their
// handles. The port is not reusable afterwards.
func (p *Port) Close() {
	p.log.Debug("closing port")

	p.emulXcvr.Close()
	p.capturer.Close()
	p.transmitter.Close()
	p.monitorRx.Close()
	p.monitorTx.Close()
}
