//go:build !linux

/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

// LookupInterface resolves interface details via the net package.
func LookupInterface(name string) (*InterfaceInfo, error) {
	return lookupInterfacePortable(name)
}
