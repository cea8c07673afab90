/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// packetforged runs the per-port packet I/O engine on one or more host
// interfaces and keeps their counters, capture and emulation workers
// available until interrupted. The RPC control surface sits in front of
// this engine and is deployed separately.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/packetforge/packetforge/port"
)

// EnvDebug enables verbose logging, like --debug.
const EnvDebug = "PKTFORGE_DEBUG"

var (
	flagInterfaces []string
	flagDebug      bool
	flagAccuracy   string
)

func main() {
	root := &cobra.Command{
		Use:           "packetforged",
		Short:         "per-port packet I/O engine for traffic generation and analysis",
		RunE:          run,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.Flags().StringSliceVarP(&flagInterfaces, "interface", "i", nil,
		"interface to bind a port to (repeatable)")
	root.Flags().BoolVar(&flagDebug, "debug", false, "verbose logging")
	root.Flags().StringVar(&flagAccuracy, "accuracy", "low",
		"transmit rate accuracy: high (busy wait) or low (sleep)")
	root.MarkFlagRequired("interface")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := buildLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var accuracy port.Accuracy
	switch flagAccuracy {
	case "high":
		accuracy = port.AccuracyHigh
	case "low":
		accuracy = port.AccuracyLow
	default:
		return fmt.Errorf("unknown accuracy %q", flagAccuracy)
	}

	devMgr := &logDeviceManager{log: logger.Named("devicemanager")}

	ports := make([]*port.Port, 0, len(flagInterfaces))
	for i, device := range flagInterfaces {
		p := port.NewPort(i, device, devMgr, logger)
		if !p.IsUsable() {
			logger.Warn("skipping unusable port", zap.String("device", device))
			continue
		}
		p.SetRateAccuracy(accuracy)
		p.Start()
		ports = append(ports, p)
		logger.Info("port up",
			zap.Int("id", p.ID()),
			zap.String("device", p.Device()),
			zap.String("description", p.Description()))
	}
	if len(ports) == 0 {
		return fmt.Errorf("no usable ports")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	s := <-sig
	logger.Info("shutting down", zap.String("signal", s.String()))

	for _, p := range ports {
		p.Close()
	}
	return nil
}

func buildLogger() (*zap.Logger, error) {
	if flagDebug || os.Getenv(EnvDebug) == "1" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// logDeviceManager stands in for the device-emulation manager: it only
// logs what arrives. The real manager plugs in through port.DeviceManager.
type logDeviceManager struct {
	log *zap.Logger
}

func (m *logDeviceManager) ReceivePacket(pkt *port.PacketBuffer) {
	m.log.Debug("control-plane packet", zap.Int("length", pkt.Length()))
}
