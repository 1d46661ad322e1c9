// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package image implements the on-disk/on-wire framing of a DFU file: the
// 20-byte firmware/UID image header, the 16-byte DFU 1.1 suffix, and the
// CRC-32 that covers both. The exact suffix byte order and CRC parameters
// are grounded on the original hex2dfu host tool (Bootloader/firmware/tools/
// hex2dfu.c), which writes the suffix fields little-endian with the "DFU"
// signature reversed in the file ("UFD") and a trailing dwCRC computed with
// polynomial 0xEDB88320, initial value 0xFFFFFFFF, and no final XOR.
package image

import (
	"encoding/binary"
	"errors"
	"io"
)

// HeaderSize is the fixed, little-endian encoded size of an ImageHeader.
const HeaderSize = 20

// SuffixSize is the size of the DFU 1.1 suffix, excluding the 4-byte CRC-32
// that follows it.
const SuffixSize = 16

// HeaderVersion is the only ImageHeader.Version value this firmware accepts.
const HeaderVersion = 1

// ModelUndefined disables the ImageHeader.Model check.
const ModelUndefined = 0

// ErrBadVersion is returned when an ImageHeader.Version is not HeaderVersion.
var ErrBadVersion = errors.New("image: unsupported header version")

// ErrTruncated is returned when a buffer is too short to hold what it
// claims to.
var ErrTruncated = errors.New("image: truncated")

// ErrBadSignature is returned when a DFU suffix's signature bytes don't
// spell the reversed "DFU" marker.
var ErrBadSignature = errors.New("image: bad DFU suffix signature")

// ErrBadCRC is returned when a DFU file's trailing CRC-32 does not match
// the bytes preceding it.
var ErrBadCRC = errors.New("image: CRC-32 mismatch")

// Header is the 20-byte prefix of a DFU file's image payload. The
// canonical field order, resolved against the two conflicting "reserved"
// layouts the original source shows, is version | size | model | reserved
// | manufacturer_id | reserved, matching the external interface description
// in full. ParseHeader always decodes this layout; it does not detect a
// header written in the other candidate ordering (manufacturer_id
// immediately after model, with both reserved words trailing), which is
// decoded as if it were canonical.
type Header struct {
	// Version must equal HeaderVersion.
	Version uint32
	// Size is the payload size in bytes, excluding this header.
	Size uint32
	// Model must equal the device's hardware model, or ModelUndefined to
	// disable the check.
	Model uint16
	// Reserved is carried through unexamined.
	Reserved16 uint16
	// ManufacturerID is the RDM ESTA manufacturer ID, used only when this
	// header frames a UID image.
	ManufacturerID uint32
	// Reserved32 is carried through unexamined.
	Reserved32 uint32
}

// Encode writes h in its canonical 20-byte little-endian layout.
func (h Header) Encode() []byte {
	buf := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.Size)
	binary.LittleEndian.PutUint16(buf[8:10], h.Model)
	binary.LittleEndian.PutUint16(buf[10:12], h.Reserved16)
	binary.LittleEndian.PutUint32(buf[12:16], h.ManufacturerID)
	binary.LittleEndian.PutUint32(buf[16:20], h.Reserved32)
	return buf
}

// ParseHeader decodes a 20-byte image header.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTruncated
	}
	h := Header{
		Version:        binary.LittleEndian.Uint32(buf[0:4]),
		Size:           binary.LittleEndian.Uint32(buf[4:8]),
		Model:          binary.LittleEndian.Uint16(buf[8:10]),
		Reserved16:     binary.LittleEndian.Uint16(buf[10:12]),
		ManufacturerID: binary.LittleEndian.Uint32(buf[12:16]),
		Reserved32:     binary.LittleEndian.Uint32(buf[16:20]),
	}
	return h, nil
}

// Validate checks version and model, in the order §4.3.3 requires (version
// first, so a size check elsewhere can run before or after this without
// changing which error is reported for a simultaneously-bad header).
func (h Header) Validate(hardwareModel uint16) error {
	if h.Version != HeaderVersion {
		return ErrBadVersion
	}
	if h.Model != hardwareModel && h.Model != ModelUndefined {
		return errModel
	}
	return nil
}

var errModel = errors.New("image: model mismatch")

// ErrModel reports whether err is the model-mismatch error from Validate.
func ErrModel(err error) bool { return err == errModel }

// WriteFile assembles a complete DFU file per §6.1 — the 4-byte custom
// length prefix, the image header, body, DFU suffix, and trailing CRC-32 —
// and writes it to w. This is the single place that owns the file's byte
// layout; both the host CLI tools and any test fixture build files through
// here rather than duplicating the framing.
func WriteFile(w io.Writer, header Header, body []byte, suffix Suffix) error {
	image := append(header.Encode(), body...)
	framed := append(image, suffix.Encode(image)...)

	var prefix [4]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(framed)))

	if _, err := w.Write(prefix[:]); err != nil {
		return err
	}
	_, err := w.Write(framed)
	return err
}

// ReadFile parses a complete DFU file per §6.1, validating the suffix CRC
// and signature, and returns the decoded header, body, and suffix.
func ReadFile(buf []byte) (Header, []byte, Suffix, error) {
	if len(buf) < 4 {
		return Header{}, nil, Suffix{}, ErrTruncated
	}
	framed := buf[4:]

	if len(framed) < HeaderSize+SuffixSize+4 {
		return Header{}, nil, Suffix{}, ErrTruncated
	}

	header, err := ParseHeader(framed)
	if err != nil {
		return Header{}, nil, Suffix{}, err
	}

	bodyEnd := len(framed) - (SuffixSize + 4)
	if bodyEnd < HeaderSize {
		return Header{}, nil, Suffix{}, ErrTruncated
	}
	body := framed[HeaderSize:bodyEnd]

	suffix, err := ParseSuffix(framed)
	if err != nil {
		return Header{}, nil, Suffix{}, err
	}
	return header, body, suffix, nil
}

// dfuSignature is the 3-byte marker written into a DFU suffix, stored in
// file order "UFD" (the ASCII bytes of "DFU" in reverse), matching the
// reference hex2dfu tool.
var dfuSignature = [3]byte{'U', 'F', 'D'}

// Suffix is the fixed USB DFU 1.1 trailer appended to every DFU file. The
// fields are stored little-endian, in file order Device, ProductID,
// VendorID.
type Suffix struct {
	VendorID  uint16
	ProductID uint16
	// Device is the bcdDevice field; this firmware always emits 0xFFFF
	// (no device version tracking).
	Device uint16
}

// Encode writes suffix and its CRC-32 over prefix (the bytes preceding the
// suffix, i.e. the image header and body) followed by the suffix's own
// non-CRC fields. The returned slice is exactly SuffixSize+4 bytes.
func (s Suffix) Encode(prefix []byte) []byte {
	buf := make([]byte, SuffixSize)

	binary.LittleEndian.PutUint16(buf[0:2], s.Device)
	binary.LittleEndian.PutUint16(buf[2:4], s.ProductID)
	binary.LittleEndian.PutUint16(buf[4:6], s.VendorID)
	binary.LittleEndian.PutUint16(buf[6:8], 0x0100)
	copy(buf[8:11], dfuSignature[:])
	buf[11] = SuffixSize

	crc := CRC32(prefix)
	crc = crc32Update(crc, buf)

	out := make([]byte, 0, SuffixSize+4)
	out = append(out, buf...)
	out = binary.LittleEndian.AppendUint32(out, crc)
	return out
}

// ParseSuffix decodes and validates the trailing SuffixSize+4 bytes of buf.
// The bytes before the suffix must be part of buf too, since the CRC is
// recomputed over everything but the last 4 bytes.
func ParseSuffix(buf []byte) (Suffix, error) {
	if len(buf) < SuffixSize+4 {
		return Suffix{}, ErrTruncated
	}

	tail := buf[len(buf)-(SuffixSize+4):]
	fields := tail[:SuffixSize]
	wantCRC := binary.LittleEndian.Uint32(tail[SuffixSize:])

	if fields[8] != dfuSignature[0] || fields[9] != dfuSignature[1] || fields[10] != dfuSignature[2] {
		return Suffix{}, ErrBadSignature
	}

	gotCRC := CRC32(buf[:len(buf)-4])
	if gotCRC != wantCRC {
		return Suffix{}, ErrBadCRC
	}

	s := Suffix{
		Device:    binary.LittleEndian.Uint16(fields[0:2]),
		ProductID: binary.LittleEndian.Uint16(fields[2:4]),
		VendorID:  binary.LittleEndian.Uint16(fields[4:6]),
	}
	return s, nil
}
