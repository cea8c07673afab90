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

// errStopRequested aborts a replay from inside the transmit inner loop.
var errStopRequested = errors.New("port: transmit stop requested")

// Transmitter replays a list of PacketSequences on a port with
// rate-accurate timing.
//
// The list is built through ClearPacketList / LoopNextPacketSet /
// AppendToPacketList / SetPacketListLoopMode while the transmitter is not
// running; Start launches the replay worker. Accumulated negative slack
// between scheduled and actual transmit time ("overhead") shortens
// subsequent waits so the long-run rate converges to the target.
type Transmitter struct {
	device string
	log    *zap.Logger

	list    []*PacketSequence
	current *PacketSequence

	// Repeat-group construction state. repeatSize is the number of
	// packets forming the set opened by LoopNextPacketSet; packetCount
	// accumulates appends until the set is complete.
	repeatSeqStart int
	repeatSize     int64
	packetCount    int64

	// Outer loop: after the list plays once, jump back to returnToQIdx
	// (-1 disables), observing loopDelayUsec between iterations.
	returnToQIdx  int
	loopDelayUsec int64

	state stateVar
	stop  atomic.Bool

	accuracy Accuracy
	delay    delayFunc

	handle     rawport.Handle
	ownsHandle bool

	stats     *Stats
	ownsStats bool
}

// NewTransmitter creates a transmitter for the named device. It opens its
// own handle; the port normally replaces it with the Rx monitor's handle
// (see SetHandle) so self-transmitted frames are observable.
func NewTransmitter(device string, logger *zap.Logger) *Transmitter {
	t := &Transmitter{
		device:       device,
		log:          logger,
		returnToQIdx: -1,
		stats:        NewStats(),
		ownsStats:    true,
	}

	handle, err := rawport.Open(&rawport.Config{
		Interface:   device,
		SnapLen:     64,
		ReadTimeout: time.Second,
		Backend:     "auto",
	})
	if err != nil {
		logger.Warn("failed to open transmit handle",
			zap.String("device", device), zap.Error(err))
		return t
	}
	t.handle = handle
	t.ownsHandle = true

	return t
}

// SetHandle makes the transmitter send on the given handle instead of its
// own. The transmitter does not own the new handle and never closes it.
// Transmitting on the receive-direction handle lets a non-directional Tx
// monitor observe its own packets come back in.
func (t *Transmitter) SetHandle(handle rawport.Handle) {
	if t.ownsHandle && t.handle != nil {
		t.handle.Close()
	}
	t.handle = handle
	t.ownsHandle = false
}

// UseExternalStats makes the transmitter account sends into the given
// counters instead of its private ones. Wired by the port when the Tx
// monitor cannot filter by direction and the transmitter's own accounting
// is authoritative.
func (t *Transmitter) UseExternalStats(stats *Stats) {
	t.stats = stats
	t.ownsStats = false
}

// Stats returns the counters the transmitter currently accounts into.
func (t *Transmitter) Stats() *Stats {
	return t.stats
}

// SetRateAccuracy selects the delay strategy. Returns false for unknown
// kinds.
func (t *Transmitter) SetRateAccuracy(accuracy Accuracy) bool {
	switch accuracy {
	case AccuracyHigh:
		t.delay = udelay
		t.log.Info("rate accuracy set to high - busy wait")
	case AccuracyLow:
		t.delay = usleep
		t.log.Info("rate accuracy set to low - sleep")
	default:
		t.log.Warn("unsupported rate accuracy", zap.Int("accuracy", int(accuracy)))
		return false
	}
	t.accuracy = accuracy
	return true
}

// ClearPacketList frees all sequences and resets construction state.
// Legal only while not running.
func (t *Transmitter) ClearPacketList() {
	if t.IsRunning() {
		t.log.Warn("clear packet list requested while transmit is running")
		return
	}

	t.list = nil
	t.current = nil
	t.repeatSeqStart = -1
	t.repeatSize = 0
	t.packetCount = 0

	t.SetPacketListLoopMode(false, 0, 0)
}

// LoopNextPacketSet opens a repeat group: the next size packets appended
// form a set replayed repeats times, with the given delay between
// iterations.
func (t *Transmitter) LoopNextPacketSet(size, repeats int64, delaySec, delayNsec int64) {
	if t.IsRunning() {
		t.log.Warn("packet list mutation requested while transmit is running")
		return
	}

	t.current = newPacketSequence()
	t.current.repeatCount = repeats
	t.current.usecDelay = delaySec*1e6 + delayNsec/1000

	t.repeatSeqStart = len(t.list)
	t.repeatSize = size
	t.packetCount = 0

	t.list = append(t.list, t.current)
}

// AppendToPacketList appends one packet with the given monotonic
// timestamp. A packet starts a new sequence when no sequence is open (at
// first, or after a packet set completed) or when it would overflow the
// current sequence's buffer; on overflow the inter-packet gap is recorded
// as the finished sequence's post-transmit delay.
func (t *Transmitter) AppendToPacketList(sec, nsec int64, pkt []byte) error {
	if t.IsRunning() {
		t.log.Warn("packet list mutation requested while transmit is running")
		return fmt.Errorf("packet list is locked while transmit is running")
	}

	usec := int32(nsec / 1000)
	tsUsec := sec*1e6 + int64(usec)

	if t.current == nil || !t.current.hasFreeSpace(2*seqRecordHeaderLen+len(pkt)) {
		if t.current != nil {
			// The delay lives on the ending sequence: gap from its
			// last packet to the one starting the next sequence.
			t.current.usecDelay = tsUsec - t.current.lastTsUsec
		}

		t.current = newPacketSequence()
		t.list = append(t.list, t.current)
	}

	err := t.current.appendPacket(sec, usec, pkt)

	t.packetCount++
	if t.repeatSize > 0 && t.packetCount == t.repeatSize {
		t.log.Debug("packet set complete",
			zap.Int("groupStart", t.repeatSeqStart),
			zap.Int64("packets", t.repeatSize))

		start := t.list[t.repeatSeqStart]
		if t.current != start {
			// The group repeats without delay at internal sequence
			// boundaries; the inter-iteration delay moves to the
			// group's last sequence.
			t.current.usecDelay = start.usecDelay
			start.usecDelay = 0
			start.repeatSize = int64(len(t.list) - t.repeatSeqStart)
		}

		t.repeatSize = 0

		// Close the current sequence so the next append opens a new one.
		t.current = nil
	}

	return err
}

// SetPacketListLoopMode configures the outer loop: after the list plays
// once, jump back to returnToQIdx and replay the tail, observing
// delayUsec between iterations.
func (t *Transmitter) SetPacketListLoopMode(enabled bool, returnToQIdx int, delayUsec int64) {
	if enabled {
		t.returnToQIdx = returnToQIdx
	} else {
		t.returnToQIdx = -1
	}
	t.loopDelayUsec = delayUsec
}

// Start launches the replay worker and returns once it is past startup.
func (t *Transmitter) Start() {
	if t.IsRunning() {
		t.log.Warn("transmit start requested but is already running")
		return
	}
	if t.handle == nil {
		t.log.Error("transmit start requested but port has no usable handle")
		return
	}
	if t.delay == nil {
		t.log.Warn("rate accuracy not set, defaulting to low")
		t.SetRateAccuracy(AccuracyLow)
	}

	t.stop.Store(false)
	t.state.set(stateNotStarted)
	go t.run()

	t.state.waitWhile(stateNotStarted, 10*time.Millisecond)
}

// Stop cancels a running replay and waits for the worker to finish.
func (t *Transmitter) Stop() {
	if !t.IsRunning() {
		t.log.Warn("transmit stop requested but is not running")
		return
	}
	t.stop.Store(true)
	t.state.waitWhile(stateRunning, 10*time.Millisecond)
}

// IsRunning reports whether the replay worker is active.
func (t *Transmitter) IsRunning() bool {
	return t.state.is(stateRunning)
}

func (t *Transmitter) run() {
	var overhead int64 // always negative or zero

	if len(t.list) == 0 {
		t.log.Debug("transmit started with empty packet list")
		t.state.set(stateFinished)
		return
	}

	for i, seq := range t.list {
		t.log.Debug("sendq entry",
			zap.Int("index", i),
			zap.Int64("repeatCount", seq.repeatCount),
			zap.Int64("repeatSize", seq.repeatSize),
			zap.Int64("usecDelay", seq.usecDelay),
			zap.Int64("packets", seq.packets),
			zap.Int64("usecDuration", seq.usecDuration))
	}

	t.state.set(stateRunning)

	i := 0
	for {
		for i < len(t.list) {
			rptSz := int(t.list[i].repeatSize)
			rptCnt := t.list[i].repeatCount

			for j := int64(0); j < rptCnt; j++ {
				for k := 0; k < rptSz; k++ {
					seq := t.list[i+k]

					if err := t.transmitSequence(seq, &overhead); err != nil {
						if errors.Is(err, errStopRequested) {
							t.log.Debug("user requested transmit stop")
						} else {
							t.log.Error("error transmitting sequence",
								zap.Error(err),
								zap.Int64("overhead", overhead))
						}
						t.stop.Store(false)
						t.state.set(stateFinished)
						return
					}

					wait := seq.usecDelay + overhead
					if wait > 0 {
						t.delay(wait)
						overhead = 0
					} else {
						overhead = wait
					}
				}
			}

			// Move to the next packet set.
			i += rptSz
		}

		if t.returnToQIdx < 0 {
			break
		}

		wait := t.loopDelayUsec + overhead
		if wait > 0 {
			t.delay(wait)
			overhead = 0
		} else {
			overhead = wait
		}

		i = t.returnToQIdx
	}

	t.state.set(stateFinished)
}

// transmitSequence replays one sequence's buffer with inter-packet
// accuracy, folding per-iteration cost into overhead so waits shrink to
// compensate.
func (t *Transmitter) transmitSequence(seq *PacketSequence, overhead *int64) error {
	// Fast path: hand the whole buffer to the kernel when the handle can
	// batch and the sequence is short enough that cancellation latency
	// stays bounded.
	if bw, ok := t.handle.(rawport.BatchWriter); ok && seq.usecDuration <= 1e6 {
		return t.transmitBatch(bw, seq, overhead)
	}

	ts := seq.firstTsUsec
	ovrStart := time.Now()

	it := seq.iter()
	for {
		rec, ok := it.next()
		if !ok {
			break
		}

		// Target gap between this packet and the previous one, from
		// the embedded timestamps.
		gap := rec.tsUsec - ts

		*overhead -= usecSince(ovrStart)
		wait := gap + *overhead
		if wait > 0 {
			t.delay(wait)
			*overhead = 0
		} else {
			*overhead = wait
		}

		ts = rec.tsUsec
		ovrStart = time.Now()

		if err := t.handle.WritePacketData(rec.data); err != nil {
			return err
		}
		t.stats.AddTx(1, uint64(rec.wirelen))

		if t.stop.Load() {
			return errStopRequested
		}
	}

	return nil
}

// transmitBatch sends the sequence through the kernel in one go, measuring
// the call so overhead accounts for kernel-side pacing drift. Positive
// slack means the kernel was faster than real time and no catch-up is owed.
func (t *Transmitter) transmitBatch(bw rawport.BatchWriter, seq *PacketSequence, overhead *int64) error {
	start := time.Now()
	sent, err := bw.WriteBatch(seq.records())
	if err != nil {
		t.accountPartialBatch(seq, sent)
		return err
	}

	t.stats.AddTx(uint64(seq.packets), uint64(seq.bytes))

	*overhead += seq.usecDuration - usecSince(start)
	if *overhead > 0 {
		*overhead = 0
	}

	if t.stop.Load() {
		return errStopRequested
	}
	return nil
}

// accountPartialBatch credits the packets a failed batch did send.
func (t *Transmitter) accountPartialBatch(seq *PacketSequence, sent int) {
	it := seq.iter()
	for n := 0; n < sent; n++ {
		rec, ok := it.next()
		if !ok {
			break
		}
		t.stats.AddTx(1, uint64(rec.wirelen))
	}
}

// Close stops a running replay and releases the handle if owned.
func (t *Transmitter) Close() {
	if t.IsRunning() {
		t.Stop()
	}
	if t.ownsHandle && t.handle != nil {
		t.handle.Close()
		t.handle = nil
	}
}
