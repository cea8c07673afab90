/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"errors"
	"os"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/pcapgo"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/packetforge/packetforge/rawport"
)

// capturerBatchSize is the number of reads in one pass of the dump loop.
// The stop flag is checked before every read, not only between passes.
const capturerBatchSize = 1000

// Capturer dumps BPF-filtered traffic on a port to a pcap file.
//
// The dump target is a temp file whose path is stable for the capturer's
// lifetime; each Start overwrites it. The filter expression is fatal when
// it does not compile: a capture that silently records everything would be
// worse than no capture.
type Capturer struct {
	device string
	log    *zap.Logger

	filter string
	file   *os.File

	state stateVar
	stop  atomic.Bool

	// openHandle is swapped out by tests.
	openHandle func() (rawport.Handle, error)
}

// NewCapturer creates a capturer for the named device and allocates its
// dump file.
func NewCapturer(device string, logger *zap.Logger) *Capturer {
	c := &Capturer{
		device: device,
		log:    logger,
	}

	c.openHandle = func() (rawport.Handle, error) {
		return rawport.Open(&rawport.Config{
			Interface:   device,
			SnapLen:     65535,
			Promiscuous: true,
			ReadTimeout: time.Second,
			Immediate:   true,
			// Arbitrary tcpdump expressions need libpcap.
			Backend: "pcap",
		})
	}

	file, err := os.CreateTemp("", "packetforge-capture-*.pcap")
	if err != nil {
		logger.Warn("unable to open temp capture file", zap.Error(err))
		return c
	}
	c.file = file
	logger.Debug("capture file allocated", zap.String("path", file.Name()))

	return c
}

// Start begins capturing packets matching the given BPF filter expression
// and returns once the worker is past startup.
func (c *Capturer) Start(filter string) {
	if c.IsRunning() {
		c.log.Warn("capture start requested but is already running")
		return
	}
	c.filter = filter

	c.stop.Store(false)
	c.state.set(stateNotStarted)
	go c.run()

	c.state.waitWhile(stateNotStarted, 10*time.Millisecond)
}

func (c *Capturer) run() {
	defer c.state.set(stateFinished)

	if c.file == nil {
		c.log.Warn("temp capture file is not open")
		return
	}

	// SetBPFFilter below always compiles with netmask 0: the pcap
	// binding exposes no way to pass the interface's live netmask, so
	// filter expressions that match the broadcast address behave as if
	// the network/mask lookup had failed. The lookup is logged so a
	// surprising "ip broadcast" match is diagnosable.
	if info, err := rawport.LookupInterface(c.device); err == nil {
		ip, mask := info.Network()
		c.log.Debug("compiling filter with netmask 0",
			zap.String("filter", c.filter),
			zap.String("interfaceNetwork", ip.String()),
			zap.String("interfaceMask", mask.String()))
	}

	handle, err := c.openHandle()
	if err != nil {
		c.log.Warn("error opening capture handle",
			zap.String("device", c.device), zap.Error(err))
		return
	}
	defer handle.Close()

	if err := handle.SetBPFFilter(c.filter); err != nil {
		c.log.Warn("can't compile or apply filter",
			zap.String("filter", c.filter), zap.Error(err))
		return
	}

	// Each capture run overwrites the dump file; the path stays stable.
	if err := c.file.Truncate(0); err != nil {
		c.log.Warn("error truncating capture file", zap.Error(err))
		return
	}
	if _, err := c.file.Seek(0, 0); err != nil {
		c.log.Warn("error rewinding capture file", zap.Error(err))
		return
	}

	writer := pcapgo.NewWriter(c.file)
	if err := writer.WriteFileHeader(65535, handle.LinkType()); err != nil {
		c.log.Warn("error writing capture file header", zap.Error(err))
		return
	}

	c.state.set(stateRunning)

	looping := true
	for looping {
		// Dump up to a batch; the stop flag is checked before each read
		// so a stop request is honoured even under sustained traffic.
		for n := 0; n < capturerBatchSize; n++ {
			if c.stop.Load() {
				c.log.Debug("user requested capture stop")
				looping = false
				break
			}

			data, ci, err := handle.ZeroCopyReadPacketData()
			if err != nil {
				if errors.Is(err, rawport.ErrTimeout) {
					break
				}
				c.log.Warn("error reading packet", zap.Error(err))
				looping = false
				break
			}

			gci := gopacket.CaptureInfo{
				Timestamp:     ci.Timestamp,
				CaptureLength: ci.CaptureLength,
				Length:        ci.Length,
			}
			if err := writer.WritePacket(gci, data); err != nil {
				c.log.Warn("error dumping packet", zap.Error(err))
				looping = false
				break
			}
		}
	}

	if err := c.file.Sync(); err != nil {
		c.log.Warn("error syncing capture file", zap.Error(err))
	}
	c.stop.Store(false)
}

// Stop ends a running capture and waits for the worker to finish.
func (c *Capturer) Stop() {
	if !c.IsRunning() {
		c.log.Warn("capture stop requested but is not running")
		return
	}
	c.stop.Store(true)
	for c.state.is(stateRunning) {
		c.log.Debug("capture stopping...")
		time.Sleep(500 * time.Millisecond)
	}
}

// IsRunning reports whether the capture worker is active.
func (c *Capturer) IsRunning() bool {
	return c.state.is(stateRunning)
}

// CaptureFile returns the dump file. Valid once the capturer exists;
// contents are complete after Stop.
func (c *Capturer) CaptureFile() *os.File {
	return c.file
}

// Close stops a running capture and removes the dump file.
func (c *Capturer) Close() {
	if c.IsRunning() {
		c.Stop()
	}
	if c.file != nil {
		name := c.file.Name()
		c.file.Close()
		os.Remove(name)
		c.file = nil
	}
}
