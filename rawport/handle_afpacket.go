//go:build linux

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"fmt"
	"net"
	"syscall"
	"time"

	"github.com/gopacket/gopacket/layers"
	"go.uber.org/atomic"
	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// AFPacketHandle implements Handle using Linux AF_PACKET sockets.
type AFPacketHandle struct {
	fd           int
	ifIndex      int
	readBuf      []byte
	packetsRecv  atomic.Uint64
	packetsDrop  atomic.Uint64
	packetsIface atomic.Uint64
	closed       atomic.Bool
}

// NewAFPacketHandle creates a new AF_PACKET-based raw handle.
func NewAFPacketHandle(cfg *Config) (*AFPacketHandle, error) {
	iface, err := net.InterfaceByName(cfg.Interface)
	if err != nil {
		return nil, fmt.Errorf("failed to get interface %s: %w", cfg.Interface, err)
	}

	// ETH_P_ALL so all protocols are visible, including outgoing packets.
	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create AF_PACKET socket: %w", err)
	}

	addr := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind to interface %s (index=%d): %w", cfg.Interface, iface.Index, err)
	}

	if cfg.Promiscuous {
		mreq := &unix.PacketMreq{
			Ifindex: int32(iface.Index),
			Type:    unix.PACKET_MR_PROMISC,
		}
		if err := unix.SetsockoptPacketMreq(fd, unix.SOL_PACKET, unix.PACKET_ADD_MEMBERSHIP, mreq); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to set promiscuous mode on %s: %w", cfg.Interface, err)
		}
	}

	if bufSize := cfg.SocketBuffer; bufSize > 0 {
		// Best effort; the kernel clamps to rmem_max/wmem_max.
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, bufSize)
		unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_SNDBUF, bufSize)
	}

	// Reads must wake up periodically so callers can poll stop flags.
	tv := unix.NsecToTimeval(cfg.ReadTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}

	snapLen := cfg.SnapLen
	if snapLen <= 0 || snapLen > 65535 {
		snapLen = 65535
	}

	return &AFPacketHandle{
		fd:      fd,
		ifIndex: iface.Index,
		readBuf: make([]byte, snapLen),
	}, nil
}

// ZeroCopyReadPacketData reads a packet without copying. Returns ErrTimeout
// when the read timeout elapsed without a packet.
func (h *AFPacketHandle) ZeroCopyReadPacketData() ([]byte, CaptureInfo, error) {
	for {
		if h.closed.Load() {
			return nil, CaptureInfo{}, ErrClosed
		}

		// MSG_TRUNC makes a packet socket return the full frame length
		// even when the frame was cut to fit the snapshot buffer.
		n, _, err := unix.Recvfrom(h.fd, h.readBuf, unix.MSG_TRUNC)
		if err != nil {
			if errno, ok := err.(syscall.Errno); ok {
				switch errno {
				case syscall.EAGAIN:
					// SO_RCVTIMEO expired with no data.
					return nil, CaptureInfo{}, ErrTimeout
				case syscall.EINTR:
					continue
				case syscall.EBADF:
					return nil, CaptureInfo{}, ErrClosed
				}
			}
			return nil, CaptureInfo{}, err
		}

		h.packetsRecv.Add(1)

		capLen := n
		if capLen > len(h.readBuf) {
			capLen = len(h.readBuf)
		}

		info := CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: capLen,
			Length:        n,
		}

		return h.readBuf[:capLen], info, nil
	}
}

// ReadPacketData reads a packet and returns a copy. Returns ErrTimeout when
// the read timeout elapsed without a packet.
func (h *AFPacketHandle) ReadPacketData() ([]byte, CaptureInfo, error) {
	data, info, err := h.ZeroCopyReadPacketData()
	if err != nil {
		return nil, info, err
	}

	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	return dataCopy, info, nil
}

// WritePacketData writes a raw packet to the network.
func (h *AFPacketHandle) WritePacketData(data []byte) error {
	if h.closed.Load() {
		return ErrClosed
	}

	addr := &unix.SockaddrLinklayer{
		Ifindex: h.ifIndex,
		Halen:   6,
	}

	// Destination MAC from the Ethernet header.
	if len(data) >= 6 {
		copy(addr.Addr[:6], data[:6])
	}

	return unix.Sendto(h.fd, data, 0, addr)
}

// WriteBatch writes the packets back to back, leaving any pacing to the
// kernel. Returns the number of packets handed over.
func (h *AFPacketHandle) WriteBatch(pkts [][]byte) (int, error) {
	for i, pkt := range pkts {
		if err := h.WritePacketData(pkt); err != nil {
			return i, err
		}
	}
	return len(pkts), nil
}

// SetBPFFilter is not supported by the AF_PACKET backend: compiling
// arbitrary tcpdump expressions needs libpcap. Consumers that filter by
// expression open a pcap-backed handle instead.
func (h *AFPacketHandle) SetBPFFilter(filter string) error {
	return fmt.Errorf("afpacket: tcpdump-syntax filters unsupported (filter %q); use the pcap backend", filter)
}

// SetDirection restricts the handle to one traffic direction by attaching a
// classic BPF program that matches on the packet type metadata.
func (h *AFPacketHandle) SetDirection(dir Direction) error {
	var prog []bpf.Instruction
	switch dir {
	case DirectionIn:
		// Everything except PACKET_OUTGOING is ingress (host, broadcast,
		// multicast, other-host in promiscuous mode).
		prog = []bpf.Instruction{
			bpf.LoadExtension{Num: bpf.ExtType},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipTrue: 1},
			bpf.RetConstant{Val: 0xffffffff},
			bpf.RetConstant{Val: 0},
		}
	case DirectionOut:
		prog = []bpf.Instruction{
			bpf.LoadExtension{Num: bpf.ExtType},
			bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.PACKET_OUTGOING, SkipFalse: 1},
			bpf.RetConstant{Val: 0xffffffff},
			bpf.RetConstant{Val: 0},
		}
	case DirectionInOut:
		return nil
	default:
		return fmt.Errorf("invalid direction: %d", dir)
	}

	raw, err := bpf.Assemble(prog)
	if err != nil {
		return fmt.Errorf("failed to assemble direction filter: %w", err)
	}

	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{
			Code: ins.Op,
			Jt:   ins.Jt,
			Jf:   ins.Jf,
			K:    ins.K,
		}
	}

	fprog := &unix.SockFprog{
		Len:    uint16(len(filters)),
		Filter: &filters[0],
	}
	if err := unix.SetsockoptSockFprog(h.fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, fprog); err != nil {
		return fmt.Errorf("failed to attach direction filter: %w", err)
	}
	return nil
}

// LinkType returns the handle's link layer type.
func (h *AFPacketHandle) LinkType() layers.LinkType {
	return layers.LinkTypeEthernet
}

// Stats returns capture statistics.
func (h *AFPacketHandle) Stats() (*CaptureStats, error) {
	return &CaptureStats{
		PacketsReceived:  h.packetsRecv.Load(),
		PacketsDropped:   h.packetsDrop.Load(),
		PacketsIfDropped: h.packetsIface.Load(),
	}, nil
}

// Close releases resources.
func (h *AFPacketHandle) Close() {
	if h.closed.Swap(true) {
		return
	}
	if h.fd >= 0 {
		unix.Close(h.fd)
		h.fd = -1
	}
}

// htons converts a uint16 from host to network byte order.
func htons(i uint16) uint16 {
	return (i<<8)&0xff00 | i>>8
}

// Verify interface compliance
var (
	_ Handle      = (*AFPacketHandle)(nil)
	_ BatchWriter = (*AFPacketHandle)(nil)
)
