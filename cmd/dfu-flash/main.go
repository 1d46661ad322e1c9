// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Command dfu-flash drives a .dfu file into the gateway's bootloader over
// USB, implementing the host side of the DFU 1.1 sequence from spec.md
// §4.3/§6.2: block-by-block DNLOAD, GETSTATUS polling through DNBUSY, a
// final zero-length DNLOAD, and manifest polling. Grounded on
// guiperry-HASHER's internal/driver/device/usb_device.go for the gousb
// open/claim/control pattern.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/gousb"

	"github.com/dmxgateway/firmware/dfu/image"
)

const exUsage = 64

const (
	defaultVendorID  = 0x1209
	defaultProductID = 0xacee
	maxBlockSize     = 64
)

// bRequest values, per spec.md §6.2. All run on interface 0 regardless of
// the alternate setting selected for the data phase.
const (
	reqDetach    = 0
	reqDnload    = 1
	reqUpload    = 2
	reqGetStatus = 3
	reqClrStatus = 4
	reqGetState  = 5
	reqAbort     = 6
)

// DFU state byte values returned by GETSTATUS/GETSTATE, per spec.md §3.5.
const (
	stateAppIdle = iota
	stateAppDetach
	stateDfuIdle
	stateDfuDnloadSync
	stateDfuDnbusy
	stateDfuDnloadIdle
	stateDfuManifestSync
	stateDfuManifest
	stateDfuManifestWaitReset
	stateDfuUploadIdle
	stateDfuError
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("dfu-flash", flag.ContinueOnError)

	vid := fs.Uint("v", defaultVendorID, "USB Vendor ID")
	pid := fs.Uint("p", defaultProductID, "USB Product ID")
	alt := fs.Uint("a", 0, "alternate setting: 0=firmware, 1=uid")

	if err := fs.Parse(args); err != nil {
		return exUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: dfu-flash [-v VID] [-p PID] [-a ALT] <file.dfu>")
		return exUsage
	}
	if *alt != 0 && *alt != 1 {
		fmt.Fprintln(os.Stderr, "Alternate setting must be 0 or 1")
		return exUsage
	}

	raw, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read %s: %v\n", fs.Arg(0), err)
		return exUsage
	}
	header, body, suffix, err := image.ReadFile(raw)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Malformed DFU file: %v\n", err)
		return exUsage
	}
	fmt.Printf("image: version=%d size=%d model=%#x manufacturer=%#x\n",
		header.Version, header.Size, header.Model, header.ManufacturerID)
	fmt.Printf("suffix: vid=%#04x pid=%#04x\n", suffix.VendorID, suffix.ProductID)

	payload := append(header.Encode(), body...)

	ctx := gousb.NewContext()
	defer ctx.Close()

	dev, err := ctx.OpenDeviceWithVIDPID(gousb.ID(*vid), gousb.ID(*pid))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open USB device: %v\n", err)
		return 1
	}
	if dev == nil {
		fmt.Fprintf(os.Stderr, "Device not found (VID:%#04x PID:%#04x)\n", *vid, *pid)
		return 1
	}
	defer dev.Close()

	cfg, err := dev.Config(1)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set configuration: %v\n", err)
		return 1
	}
	defer cfg.Close()

	intf, err := cfg.Interface(0, int(*alt))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to claim DFU interface (alt %d): %v\n", *alt, err)
		return 1
	}
	defer intf.Close()

	c := &client{dev: dev}

	if err := c.download(payload); err != nil {
		fmt.Fprintf(os.Stderr, "Download failed: %v\n", err)
		return 1
	}
	fmt.Println("Download complete")
	return 0
}

type client struct {
	dev *gousb.Device
}

// download drives the block-download, poll-through-DNBUSY, and manifest
// sequence of spec.md §4.3.4/§4.3.5.
func (c *client) download(payload []byte) error {
	block := 0
	for off := 0; off < len(payload); off += maxBlockSize {
		end := off + maxBlockSize
		if end > len(payload) {
			end = len(payload)
		}
		if err := c.dnload(uint16(block), payload[off:end]); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		if err := c.pollUntilIdle(); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		block++
	}

	// Zero-length DNLOAD finalizes the transfer and moves the device
	// into DFU_MANIFEST_SYNC.
	if err := c.dnload(uint16(block), nil); err != nil {
		return fmt.Errorf("final DNLOAD: %w", err)
	}
	return c.pollManifest()
}

func (c *client) dnload(block uint16, data []byte) error {
	_, err := c.dev.Control(
		gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		reqDnload, block, 0, data,
	)
	return err
}

// pollUntilIdle issues GETSTATUS until the device reports DFU_DNLOAD_IDLE,
// honoring the bwPollTimeout the device returns while in DFU_DNBUSY.
func (c *client) pollUntilIdle() error {
	for {
		status, pollMS, state, err := c.getStatus()
		if err != nil {
			return err
		}
		switch state {
		case stateDfuDnloadIdle:
			return nil
		case stateDfuError:
			_ = c.clrStatus()
			return fmt.Errorf("device entered DFU_ERROR, status %d", status)
		case stateDfuDnbusy:
			time.Sleep(time.Duration(pollMS) * time.Millisecond)
		default:
			return fmt.Errorf("unexpected DFU state %d after DNLOAD", state)
		}
	}
}

func (c *client) pollManifest() error {
	for {
		status, pollMS, state, err := c.getStatus()
		if err != nil {
			return err
		}
		switch state {
		case stateDfuIdle:
			return nil
		case stateDfuError:
			_ = c.clrStatus()
			return fmt.Errorf("device entered DFU_ERROR, status %d", status)
		case stateDfuManifestSync, stateDfuManifest:
			time.Sleep(time.Duration(pollMS) * time.Millisecond)
		default:
			return fmt.Errorf("unexpected DFU state %d during manifest", state)
		}
	}
}

// getStatus issues GETSTATUS, per spec.md §4.3.6: 6 bytes, {status,
// poll_timeout_ms[3], state, string_index}.
func (c *client) getStatus() (status byte, pollMS uint32, state byte, err error) {
	buf := make([]byte, 6)
	_, err = c.dev.Control(
		gousb.ControlIn|gousb.ControlClass|gousb.ControlInterface,
		reqGetStatus, 0, 0, buf,
	)
	if err != nil {
		return 0, 0, 0, err
	}
	status = buf[0]
	pollMS = uint32(buf[1]) | uint32(buf[2])<<8 | uint32(buf[3])<<16
	state = buf[4]
	return status, pollMS, state, nil
}

func (c *client) clrStatus() error {
	_, err := c.dev.Control(
		gousb.ControlOut|gousb.ControlClass|gousb.ControlInterface,
		reqClrStatus, 0, 0, nil,
	)
	return err
}
