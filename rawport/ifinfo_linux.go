//go:build linux

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"net"

	"github.com/vishvananda/netlink"
)

// LookupInterface resolves interface details. On Linux it goes through
// netlink, which also surfaces the interface alias as a description;
// if netlink fails it falls back to the portable path.
func LookupInterface(name string) (*InterfaceInfo, error) {
	link, err := netlink.LinkByName(name)
	if err != nil {
		return lookupInterfacePortable(name)
	}

	attrs := link.Attrs()
	info := &InterfaceInfo{
		Name:         attrs.Name,
		Description:  attrs.Alias,
		Index:        attrs.Index,
		MTU:          attrs.MTU,
		HardwareAddr: attrs.HardwareAddr,
		Loopback:     attrs.Flags&net.FlagLoopback != 0,
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err == nil {
		for _, addr := range addrs {
			if addr.IPNet == nil {
				continue
			}
			if ip4 := addr.IPNet.IP.To4(); ip4 != nil {
				info.IPv4Net = &net.IPNet{IP: ip4, Mask: addr.IPNet.Mask}
				break
			}
		}
	}

	return info, nil
}
