/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package rawport

import (
	"fmt"
	"runtime"
	"time"
)

// Config holds raw packet handle configuration.
type Config struct {
	// Interface is the network interface name (e.g., "eth0", "en0") or a
	// Windows Npcap device path ("\Device\NPF_{...}").
	Interface string

	// SnapLen is the capture snapshot length in bytes. Counter-only
	// consumers can keep this small; capture-to-file consumers want the
	// full frame.
	SnapLen int

	// Promiscuous requests promiscuous mode. Openers degrade to
	// non-promiscuous when the platform refuses (see Open).
	Promiscuous bool

	// NoLocalCapture requests that locally transmitted packets be
	// excluded from capture. Best effort: only some platforms support it,
	// and openers degrade to capturing local packets when refused.
	NoLocalCapture bool

	// ReadTimeout bounds how long a read blocks before returning
	// ErrTimeout.
	ReadTimeout time.Duration

	// Immediate disables packet buffering so reads return as soon as a
	// packet arrives.
	Immediate bool

	// SocketBuffer is the pcap/AF_PACKET buffer size in bytes.
	// Zero means the backend default.
	SocketBuffer int

	// Backend selects the capture backend: "auto", "pcap", "afpacket".
	// Default: "auto" (tries AF_PACKET first on Linux, then pcap).
	Backend string
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SnapLen:     65535,
		Promiscuous: true,
		ReadTimeout: time.Second,
		Backend:     "auto",
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("interface must be specified")
	}
	if c.SnapLen <= 0 {
		return fmt.Errorf("snaplen must be positive, got %d", c.SnapLen)
	}
	if c.ReadTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %v", c.ReadTimeout)
	}
	switch c.Backend {
	case "", "auto", "pcap", "afpacket":
	default:
		return fmt.Errorf("unknown backend: %s", c.Backend)
	}
	return nil
}

// Open creates a Handle using the configured backend.
func Open(cfg *Config) (Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	backend := cfg.Backend
	if backend == "" {
		backend = "auto"
	}

	switch backend {
	case "pcap":
		return NewPcapHandle(cfg)

	case "afpacket":
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("afpacket backend is only supported on Linux")
		}
		return NewAFPacketHandle(cfg)

	case "auto":
		// On Linux, try AF_PACKET first (no libpcap round trip on the
		// hot path), then fall back to pcap.
		if runtime.GOOS == "linux" {
			handle, err := NewAFPacketHandle(cfg)
			if err == nil {
				return handle, nil
			}
			pcapHandle, pcapErr := NewPcapHandle(cfg)
			if pcapErr == nil {
				return pcapHandle, nil
			}
			return nil, fmt.Errorf("afpacket: %v; pcap: %v", err, pcapErr)
		}
		return NewPcapHandle(cfg)

	default:
		return nil, fmt.Errorf("unknown backend: %s", backend)
	}
}
