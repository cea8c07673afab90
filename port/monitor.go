/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"errors"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/packetforge/packetforge/rawport"
)

// Monitor counts packets and bytes flowing in one direction on a port.
//
// One monitor is created per direction (Rx = rawport.DirectionIn,
// Tx = rawport.DirectionOut). When the platform cannot filter by
// direction, the Tx monitor counts nothing and the transmitter's own
// accounting is authoritative (see Transmitter.UseExternalStats).
type Monitor struct {
	device    string
	direction rawport.Direction
	stats     *Stats
	log       *zap.Logger

	handle        rawport.Handle
	isDirectional bool
	isPromiscuous bool

	stop atomic.Bool
	done chan struct{}
}

// NewMonitor opens a direction-filtered handle on the device and prepares
// the counter loop. A monitor whose handle could not be opened at all is
// unusable (see Usable); direction-filter failure only downgrades it.
func NewMonitor(device string, direction rawport.Direction, stats *Stats, logger *zap.Logger) *Monitor {
	m := &Monitor{
		device:        device,
		direction:     direction,
		stats:         stats,
		log:           logger,
		isDirectional: true,
		isPromiscuous: true,
	}

	// Counters only need the headers, so keep the snapshot small.
	handle, err := rawport.Open(&rawport.Config{
		Interface:      device,
		SnapLen:        64,
		Promiscuous:    true,
		NoLocalCapture: true,
		ReadTimeout:    time.Second,
		Backend:        "auto",
	})
	if err != nil {
		logger.Error("failed to open monitor handle",
			zap.String("device", device), zap.Error(err))
		return m
	}
	m.handle = handle

	if pr, ok := handle.(interface{ IsPromiscuous() bool }); ok {
		m.isPromiscuous = pr.IsPromiscuous()
		if !m.isPromiscuous {
			logger.Debug("monitor degraded to non-promiscuous mode",
				zap.String("device", device))
		}
	}

	if err := handle.SetDirection(direction); err != nil {
		logger.Warn("error setting direction, counters are non-directional",
			zap.String("device", device),
			zap.Int("direction", int(direction)),
			zap.Error(err))
		m.isDirectional = false
	}

	return m
}

// Usable reports whether the monitor's handle opened successfully.
func (m *Monitor) Usable() bool {
	return m.handle != nil
}

// IsDirectional reports whether the handle filters by direction.
func (m *Monitor) IsDirectional() bool {
	return m.isDirectional
}

// IsPromiscuous reports whether the handle is in promiscuous mode.
func (m *Monitor) IsPromiscuous() bool {
	return m.isPromiscuous
}

// Handle exposes the monitor's capture handle. The port lends the Rx
// monitor's handle to the transmitter; the monitor retains ownership.
func (m *Monitor) Handle() rawport.Handle {
	return m.handle
}

// Start launches the counter loop.
func (m *Monitor) Start() {
	if !m.Usable() {
		m.log.Warn("monitor start requested but handle is not usable")
		return
	}
	if m.done != nil {
		m.log.Warn("monitor start requested but is already running")
		return
	}
	m.done = make(chan struct{})
	go m.run()
}

func (m *Monitor) run() {
	defer close(m.done)

	for !m.stop.Load() {
		_, ci, err := m.handle.ZeroCopyReadPacketData()
		switch {
		case err == nil:
			switch m.direction {
			case rawport.DirectionIn:
				m.stats.AddRx(1, uint64(ci.Length))
			case rawport.DirectionOut:
				if m.isDirectional {
					m.stats.AddTx(1, uint64(ci.Length))
				}
				// Non-directional Tx: counting here would double up
				// with the transmitter's own accounting.
			}

		case errors.Is(err, rawport.ErrTimeout):
			// No packet within the poll interval; recheck stop.

		case errors.Is(err, rawport.ErrClosed):
			return

		default:
			m.log.Warn("error reading packet", zap.Error(err))
		}
	}
}

// Stop asks the counter loop to exit and waits for it. The loop wakes at
// the handle's read timeout, so stopping takes at most about a second.
func (m *Monitor) Stop() {
	if m.done == nil {
		m.log.Warn("monitor stop requested but is not running")
		return
	}
	m.stop.Store(true)
	<-m.done
	m.done = nil
	m.stop.Store(false)
}

// Close stops the loop if needed and releases the handle.
func (m *Monitor) Close() {
	if m.done != nil {
		m.Stop()
	}
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
}
