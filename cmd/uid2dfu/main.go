// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command uid2dfu builds a DFU file carrying an RDM UID (manufacturer ID +
// device ID) for the bootloader's "uid" alternate setting, per §6.1/§6.4.
// Grounded on the reference tools/uid2dfu.c: the same 6-byte big-endian UID
// payload and the same fixed CLI surface.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/dmxgateway/firmware/dfu/image"
)

const exUsage = 64

const (
	defaultVendorID  = 0x1209
	defaultProductID = 0xacee
	defaultOutput    = "uid.dfu"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("uid2dfu", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	manufacturer := fs.Uint("m", 0, "manufacturer ID")
	device := fs.Uint("d", 0, "device ID")
	output := fs.String("o", defaultOutput, "output file")
	vid := fs.Uint("v", defaultVendorID, "USB Vendor ID")
	pid := fs.Uint("p", defaultProductID, "USB Product ID")
	help := fs.Bool("h", false, "show the help message")

	var gotManufacturer, gotDevice bool
	if err := fs.Parse(args); err != nil {
		usage()
		return exUsage
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "m":
			gotManufacturer = true
		case "d":
			gotDevice = true
		}
	})

	if *help {
		usage()
		return 0
	}
	if !gotManufacturer {
		fmt.Fprintln(os.Stderr, "Missing manufacturer ID")
		return exUsage
	}
	if !gotDevice {
		fmt.Fprintln(os.Stderr, "Missing device ID")
		return exUsage
	}

	var body [6]byte
	binary.BigEndian.PutUint16(body[0:2], uint16(*manufacturer))
	binary.BigEndian.PutUint32(body[2:6], uint32(*device))

	fmt.Printf("UID: %04x:%08x\n", uint16(*manufacturer), uint32(*device))

	out, err := os.Create(*output)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", *output, err)
		return exUsage
	}
	defer out.Close()

	header := image.Header{
		Version:        image.HeaderVersion,
		Size:           uint32(len(body)),
		Model:          image.ModelUndefined,
		ManufacturerID: uint32(*manufacturer),
	}
	suffix := image.Suffix{VendorID: uint16(*vid), ProductID: uint16(*pid), Device: 0xFFFF}
	if err := image.WriteFile(out, header, body[:], suffix); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", *output, err)
		return exUsage
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: uid2dfu [options] -m <manufacturer-id> -d <device-id>")
	fmt.Fprintln(os.Stderr, "  -d ID       The device ID")
	fmt.Fprintln(os.Stderr, "  -h          Show the help message")
	fmt.Fprintln(os.Stderr, "  -m ID       The manufacturer ID")
	fmt.Fprintf(os.Stderr, "  -o FILE     Output file, default %s\n", defaultOutput)
	fmt.Fprintf(os.Stderr, "  -p PID      USB Product ID, default %#x\n", defaultProductID)
	fmt.Fprintf(os.Stderr, "  -v VID      USB Vendor ID, default %#x\n", defaultVendorID)
}
