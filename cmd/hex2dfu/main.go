// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command hex2dfu converts an Intel HEX firmware image into a DFU file the
// bootloader will accept, per §6.1/§6.4. Grounded on the reference
// Bootloader/firmware/tools/hex2dfu.c: the same record parsing, the same
// default address window, and the same fixed CLI surface.
package main

import (
	"bufio"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dmxgateway/firmware/dfu/image"
)

// exUsage matches sysexits.h's EX_USAGE, the reference tool's exit code for
// bad arguments.
const exUsage = 64

const (
	defaultLowerAddress = 0x1d007000
	defaultUpperAddress = 0x1d07ffff
	defaultVendorID     = 0x1209
	defaultProductID    = 0xacee
)

type recordType int

const (
	recData recordType = iota
	recEndOfFile
	recExtendedSegmentAddress
	recStartSegmentAddress
	recExtendedLinearAddress
	recStartLinearAddress
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("hex2dfu", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	lower := fs.Uint("l", defaultLowerAddress, "lower bound of the memory to extract")
	upper := fs.Uint("u", defaultUpperAddress, "upper bound of the memory to extract")
	vid := fs.Uint("v", defaultVendorID, "USB Vendor ID")
	pid := fs.Uint("p", defaultProductID, "USB Product ID")
	help := fs.Bool("h", false, "show the help message")

	if err := fs.Parse(args); err != nil {
		usage()
		return exUsage
	}
	if *help {
		usage()
		return 0
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Missing input file")
		return exUsage
	}
	if *upper <= *lower {
		fmt.Fprintln(os.Stderr, "Upper address must be greater than lower address")
		return exUsage
	}

	inputFile := fs.Arg(0)
	if !strings.HasSuffix(inputFile, ".hex") {
		fmt.Fprintln(os.Stderr, "Input file does not end in .hex")
		return exUsage
	}
	outputFile := strings.TrimSuffix(inputFile, ".hex") + ".dfu"

	f, err := os.Open(inputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", inputFile, err)
		return exUsage
	}
	defer f.Close()

	body := make([]byte, uint32(*upper)-uint32(*lower))
	for i := range body {
		body[i] = 0xFF
	}
	used, err := processHexFile(f, uint32(*lower), uint32(*upper), body)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exUsage
	}
	if used == 0 {
		return 0
	}

	out, err := os.Create(outputFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", outputFile, err)
		return exUsage
	}
	defer out.Close()

	header := image.Header{Version: image.HeaderVersion, Size: uint32(used), Model: image.ModelUndefined}
	suffix := image.Suffix{VendorID: uint16(*vid), ProductID: uint16(*pid), Device: 0xFFFF}
	if err := image.WriteFile(out, header, body[:used], suffix); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write %s: %v\n", outputFile, err)
		return exUsage
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: hex2dfu [options] <hex-file>")
	fmt.Fprintln(os.Stderr, "  -h          Show the help message")
	fmt.Fprintf(os.Stderr, "  -l LOWER    Lower bound of the memory to extract, default %#x\n", defaultLowerAddress)
	fmt.Fprintf(os.Stderr, "  -u UPPER    Upper bound of the memory to extract, default %#x\n", defaultUpperAddress)
	fmt.Fprintf(os.Stderr, "  -v VID      USB Vendor ID, default %#x\n", defaultVendorID)
	fmt.Fprintf(os.Stderr, "  -p PID      USB Product ID, default %#x\n", defaultProductID)
}

// processHexFile reads Intel HEX records from r, copying DATA records whose
// absolute address falls within [lower, upper) into body (offset from
// lower), and returns the highest offset+size written.
func processHexFile(r io.Reader, lower, upper uint32, body []byte) (int, error) {
	sc := bufio.NewScanner(r)
	var upperAddress uint32
	used := 0

	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		if text == "" {
			continue
		}
		if text[0] != ':' {
			return 0, fmt.Errorf("invalid start code %q on line %d", text[0], line)
		}
		raw, err := hex.DecodeString(text[1:])
		if err != nil || len(raw) < 5 {
			return 0, fmt.Errorf("invalid record on line %d", line)
		}

		byteCount := int(raw[0])
		address := uint32(raw[1])<<8 | uint32(raw[2])
		rt := recordType(raw[3])
		if len(raw) != byteCount+5 {
			return 0, fmt.Errorf("record length mismatch on line %d", line)
		}
		data := raw[4 : 4+byteCount]
		checksum := raw[4+byteCount]

		sum := byte(byteCount) + byte(address>>8) + byte(address) + byte(rt)
		for _, b := range data {
			sum += b
		}
		if byte(-sum) != checksum {
			return 0, fmt.Errorf("incorrect checksum on line %d", line)
		}

		switch rt {
		case recData:
			abs := (upperAddress << 16) + address
			if abs < lower || abs >= upper {
				continue
			}
			off := int(abs - lower)
			n := copy(body[off:], data)
			if off+n > used {
				used = off + n
			}
		case recEndOfFile:
			return used, nil
		case recExtendedLinearAddress:
			if byteCount != 2 {
				return 0, fmt.Errorf("EXTENDED_LINEAR_ADDRESS without 2 data bytes on line %d", line)
			}
			upperAddress = uint32(data[0])<<8 | uint32(data[1])
		}
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return used, nil
}
