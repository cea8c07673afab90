/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"go.uber.org/atomic"
)

// Stats holds the directional byte/packet counters for one port.
//
// The Port owns one Stats instance and shares it with its monitors and,
// when the Tx monitor cannot filter by direction, with the transmitter.
// Under every supported wiring each counter has exactly one writer (the Rx
// monitor writes rx*, either the Tx monitor or the transmitter writes tx*),
// so plain atomic adds are sufficient; readers may observe rxPkts and
// rxBytes from different instants, which is acceptable for rate display.
type Stats struct {
	rxPkts  atomic.Uint64
	rxBytes atomic.Uint64
	txPkts  atomic.Uint64
	txBytes atomic.Uint64
}

// NewStats returns a zeroed counter set.
func NewStats() *Stats {
	return &Stats{}
}

// AddRx accounts one or more received packets.
func (s *Stats) AddRx(pkts, bytes uint64) {
	s.rxPkts.Add(pkts)
	s.rxBytes.Add(bytes)
}

// AddTx accounts one or more transmitted packets.
func (s *Stats) AddTx(pkts, bytes uint64) {
	s.txPkts.Add(pkts)
	s.txBytes.Add(bytes)
}

// RxPkts returns the received packet count.
func (s *Stats) RxPkts() uint64 { return s.rxPkts.Load() }

// RxBytes returns the received byte count.
func (s *Stats) RxBytes() uint64 { return s.rxBytes.Load() }

// TxPkts returns the transmitted packet count.
func (s *Stats) TxPkts() uint64 { return s.txPkts.Load() }

// TxBytes returns the transmitted byte count.
func (s *Stats) TxBytes() uint64 { return s.txBytes.Load() }

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	RxPkts  uint64
	RxBytes uint64
	TxPkts  uint64
	TxBytes uint64
}

// Snapshot returns a copy of the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		RxPkts:  s.rxPkts.Load(),
		RxBytes: s.rxBytes.Load(),
		TxPkts:  s.txPkts.Load(),
		TxBytes: s.txBytes.Load(),
	}
}
