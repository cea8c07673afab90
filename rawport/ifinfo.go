/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"net"
)

// InterfaceInfo describes the host interface a handle is bound to.
type InterfaceInfo struct {
	// Name is the interface name as understood by the capture library.
	Name string

	// Description is a human-readable description when the platform
	// provides one (interface alias on Linux); empty otherwise.
	Description string

	// Index is the interface index.
	Index int

	// MTU is the interface MTU.
	MTU int

	// HardwareAddr is the interface MAC address.
	HardwareAddr net.HardwareAddr

	// IPv4Net is the first IPv4 network configured on the interface, or
	// nil when none is. Filter compilation that needs a network/mask
	// treats nil as 0/0.
	IPv4Net *net.IPNet

	// Loopback reports whether the interface is a loopback device.
	Loopback bool
}

// Network returns the interface's IPv4 network and mask, or 0/0 when the
// interface has no IPv4 address.
func (i *InterfaceInfo) Network() (ip net.IP, mask net.IPMask) {
	if i == nil || i.IPv4Net == nil {
		return net.IPv4zero, net.CIDRMask(0, 32)
	}
	return i.IPv4Net.IP, i.IPv4Net.Mask
}

// lookupInterfacePortable resolves interface details via the net package.
func lookupInterfacePortable(name string) (*InterfaceInfo, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}

	info := &InterfaceInfo{
		Name:         iface.Name,
		Index:        iface.Index,
		MTU:          iface.MTU,
		HardwareAddr: iface.HardwareAddr,
		Loopback:     iface.Flags&net.FlagLoopback != 0,
	}

	addrs, err := iface.Addrs()
	if err != nil {
		return info, nil
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			info.IPv4Net = &net.IPNet{IP: ip4, Mask: ipnet.Mask}
			break
		}
	}

	return info, nil
}
