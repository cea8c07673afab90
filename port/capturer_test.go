/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/packetforge/packetforge/rawport"
)

func newTestCapturer(t *testing.T, handle rawport.Handle) *Capturer {
	c := NewCapturer("fake0", zaptest.NewLogger(t))
	require.NotNil(t, c.CaptureFile(), "temp capture file must open")
	c.openHandle = func() (rawport.Handle, error) {
		return handle, nil
	}
	t.Cleanup(c.Close)
	return c
}

// readCaptureFile parses the dump back and returns the packet payloads.
func readCaptureFile(t *testing.T, path string) [][]byte {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	require.NoError(t, err)

	var pkts [][]byte
	for {
		data, _, err := r.ReadPacketData()
		if err != nil {
			break
		}
		pkts = append(pkts, data)
	}
	return pkts
}

func TestCapturerDumpsPacketsInArrivalOrder(t *testing.T) {
	fh := newFakeHandle()
	c := newTestCapturer(t, fh)

	c.Start("icmp")
	require.True(t, c.IsRunning())
	assert.Equal(t, "icmp", fh.appliedFilter())

	want := [][]byte{
		{0x01, 0x02, 0x03, 0x04},
		{0x05, 0x06},
		{0x07, 0x08, 0x09},
	}
	for _, pkt := range want {
		fh.inject(pkt, len(pkt))
	}

	// Let the dump loop drain the queue, then stop.
	time.Sleep(50 * time.Millisecond)
	c.Stop()
	assert.False(t, c.IsRunning())

	got := readCaptureFile(t, c.CaptureFile().Name())
	assert.Equal(t, want, got)
}

func TestCapturerFilterErrorIsFatal(t *testing.T) {
	fh := newFakeHandle()
	fh.filterErr = errors.New("syntax error")
	c := newTestCapturer(t, fh)

	c.Start("not a filter ((")

	require.Eventually(t, func() bool { return c.state.is(stateFinished) },
		2*time.Second, time.Millisecond)
	assert.False(t, c.IsRunning())
}

func TestCapturerReadErrorExitsLoop(t *testing.T) {
	fh := newFakeHandle()
	c := newTestCapturer(t, fh)

	c.Start("icmp")
	require.True(t, c.IsRunning())

	fh.mu.Lock()
	fh.readErr = errors.New("interface disappeared")
	fh.mu.Unlock()

	require.Eventually(t, func() bool { return !c.IsRunning() },
		2*time.Second, time.Millisecond)
}

func TestCapturerPathStableAcrossRuns(t *testing.T) {
	// Each run opens (and closes) its own handle; the dump path stays.
	var fh *fakeHandle
	c := newTestCapturer(t, nil)
	c.openHandle = func() (rawport.Handle, error) {
		fh = newFakeHandle()
		return fh, nil
	}

	path := c.CaptureFile().Name()

	c.Start("icmp")
	fh.inject([]byte{0xaa, 0xbb}, 2)
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	c.Start("icmp")
	fh.inject([]byte{0xcc}, 1)
	time.Sleep(20 * time.Millisecond)
	c.Stop()

	assert.Equal(t, path, c.CaptureFile().Name())

	// Each run overwrites the previous dump.
	got := readCaptureFile(t, path)
	assert.Equal(t, [][]byte{{0xcc}}, got)
}

func TestCapturerStopWhenNotRunningWarnsOnly(t *testing.T) {
	c := newTestCapturer(t, newFakeHandle())
	c.Stop()
	c.Stop()
	assert.False(t, c.IsRunning())
}
