/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package port

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/packetforge/packetforge/rawport"
)

// fakeDeviceManager records the packets it is handed, copying them as the
// hand-off contract requires.
type fakeDeviceManager struct {
	mu   sync.Mutex
	pkts [][]byte
}

func (m *fakeDeviceManager) ReceivePacket(pkt *PacketBuffer) {
	data := make([]byte, pkt.Length())
	copy(data, pkt.Data())

	m.mu.Lock()
	m.pkts = append(m.pkts, data)
	m.mu.Unlock()
}

func (m *fakeDeviceManager) received() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.pkts))
	copy(out, m.pkts)
	return out
}

func newTestTransceiver(t *testing.T, handle rawport.Handle, devMgr DeviceManager) *EmulationTransceiver {
	x := NewEmulationTransceiver("fake0", devMgr, zaptest.NewLogger(t))
	x.openHandle = func() (rawport.Handle, error) {
		return handle, nil
	}
	t.Cleanup(x.Close)
	return x
}

func TestEmulationFilterCoversFourStackedVlans(t *testing.T) {
	// One clause per stacking depth: each 'vlan' keyword shifts libpcap's
	// decoding offsets by 4 bytes.
	assert.Equal(t, 4, strings.Count(emulationFilter, "vlan"))
	assert.Equal(t, 5, strings.Count(emulationFilter, "arp or icmp or icmp6"))
}

func TestEmulationForwardsPacketsToDeviceManager(t *testing.T) {
	fh := newFakeHandle()
	devMgr := &fakeDeviceManager{}
	x := newTestTransceiver(t, fh, devMgr)

	x.Start()
	require.True(t, x.IsRunning())
	assert.Equal(t, emulationFilter, fh.appliedFilter())

	want := [][]byte{
		{0x00, 0x01, 0x08, 0x06}, // arp-ish
		{0x00, 0x02, 0x08, 0x06},
	}
	for _, pkt := range want {
		fh.inject(pkt, len(pkt))
	}

	require.Eventually(t, func() bool { return len(devMgr.received()) == 2 },
		2*time.Second, time.Millisecond)
	assert.Equal(t, want, devMgr.received())

	x.Stop()
	assert.False(t, x.IsRunning())
}

func TestEmulationFilterFailureIsNotFatal(t *testing.T) {
	fh := newFakeHandle()
	fh.filterErr = errors.New("filter rejected")
	devMgr := &fakeDeviceManager{}
	x := newTestTransceiver(t, fh, devMgr)

	x.Start()
	require.True(t, x.IsRunning(), "the loop proceeds unfiltered")

	fh.inject([]byte{0xde, 0xad}, 2)
	require.Eventually(t, func() bool { return len(devMgr.received()) == 1 },
		2*time.Second, time.Millisecond)

	x.Stop()
}

func TestEmulationRequiresPromiscuousMode(t *testing.T) {
	fh := newFakeHandle()
	fh.promisc = false
	x := newTestTransceiver(t, fh, &fakeDeviceManager{})

	x.Start()

	require.Eventually(t, func() bool { return x.state.is(stateFinished) },
		2*time.Second, time.Millisecond)
	assert.False(t, x.IsRunning())
}

func TestEmulationTransmit(t *testing.T) {
	fh := newFakeHandle()
	x := newTestTransceiver(t, fh, &fakeDeviceManager{})

	pkt := NewPacketBuffer([]byte{0x01, 0x02, 0x03})

	require.Error(t, x.TransmitPacket(pkt), "transmit needs a running loop")

	x.Start()
	require.NoError(t, x.TransmitPacket(pkt))
	assert.Equal(t, [][]byte{{0x01, 0x02, 0x03}}, fh.sentPackets())

	x.Stop()
	require.Error(t, x.TransmitPacket(pkt))
}

func TestEmulationStopWhenNotRunningWarnsOnly(t *testing.T) {
	x := newTestTransceiver(t, newFakeHandle(), &fakeDeviceManager{})
	x.Stop()
	x.Stop()
	assert.False(t, x.IsRunning())
}
