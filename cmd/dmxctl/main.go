// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command dmxctl queues a single DMX/RDM/ASC frame to the gateway over its
// vendor bulk pipe (EP1 IN/OUT, per SPEC_FULL.md §4.7), or, in bench mode,
// writes the same framed bytes directly to a USB-serial adapter so the wire
// format can be exercised without the gateway hardware. Grounded on
// guiperry-HASHER's gousb usage for the USB path and on
// seedhammer-seedhammer's driver/mjolnir/device.go for the serial path.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"
	"github.com/tarm/serial"
)

const exUsage = 64

const (
	defaultVendorID  = 0x1209
	defaultProductID = 0xacee
	benchBaudRate    = 250000
	readTimeout      = 2 * time.Second
)

// Vendor bulk commands, matching the cmd byte the firmware's FrameSink
// dispatch (SPEC_FULL.md §4.7) expects on EP1 OUT.
const (
	cmdQueueDMX byte = 0x01
	cmdQueueASC byte = 0x02
	cmdQueueRDM byte = 0x03
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dmxctl", flag.ContinueOnError)

	vid := fs.Uint("v", defaultVendorID, "USB Vendor ID")
	pid := fs.Uint("p", defaultProductID, "USB Product ID")
	bench := fs.String("serial", "", "bench mode: write to this serial device instead of USB")
	kind := fs.String("type", "dmx", "frame type: dmx, asc, or rdm")

	if err := fs.Parse(args); err != nil {
		return exUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dmxctl [-v VID] [-p PID] [-serial DEVICE] [-type dmx|asc|rdm] <payload-file>")
		return exUsage
	}

	var cmd byte
	switch *kind {
	case "dmx":
		cmd = cmdQueueDMX
	case "asc":
		cmd = cmdQueueASC
	case "rdm":
		cmd = cmdQueueRDM
	default:
		fmt.Fprintf(os.Stderr, "Unknown frame type %q\n", *kind)
		return exUsage
	}

	payload, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", fs.Arg(0), err)
		return exUsage
	}

	frame := append([]byte{cmd}, payload...)

	if *bench != "" {
		if err := sendBench(*bench, frame); err != nil {
			fmt.Fprintf(os.Stderr, "Bench write failed: %v\n", err)
			return 1
		}
		return 0
	}

	if err := sendUSB(*vid, *pid, frame); err != nil {
		fmt.Fprintf(os.Stderr, "USB write failed: %v\n", err)
		return 1
	}
	return 0
}

// sendUSB opens the gateway over the vendor bulk pipe and writes a single
// frame to EP1 OUT.
func sendUSB(vid, pid uint, frame []byte) error {
	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(vid), gousb.ID(pid))
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	if dev == nil {
		return fmt.Errorf("device not found (VID:%#04x PID:%#04x)", vid, pid)
	}
	defer dev.Close()

	cfg, err := dev.Config(1)
	if err != nil {
		return fmt.Errorf("set config: %w", err)
	}
	defer cfg.Close()

	intf, err := cfg.Interface(1, 0)
	if err != nil {
		return fmt.Errorf("claim vendor interface: %w", err)
	}
	defer intf.Close()

	ep, err := intf.OutEndpoint(1)
	if err != nil {
		return fmt.Errorf("open EP1 OUT: %w", err)
	}

	_, err = ep.Write(frame)
	return err
}

// sendBench writes frame directly to a serial device, for exercising the
// wire framing without the gateway's USB stack attached.
func sendBench(dev string, frame []byte) error {
	cfg := &serial.Config{Name: dev, Baud: benchBaudRate, ReadTimeout: readTimeout}
	port, err := serial.OpenPort(cfg)
	if err != nil {
		return fmt.Errorf("open %s: %w", dev, err)
	}
	defer port.Close()

	_, err = port.Write(frame)
	return err
}
