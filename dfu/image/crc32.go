// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package image

// crc32Table is the reflected CRC-32 table for polynomial 0xEDB88320,
// matching the table the reference hex2dfu tool builds at startup
// (CalculateCRC/CRC_POLYNOMIAL).
var crc32Table = func() [256]uint32 {
	const poly = 0xEDB88320
	var t [256]uint32
	for i := range t {
		c := uint32(i)
		for j := 0; j < 8; j++ {
			if c&1 != 0 {
				c = (c >> 1) ^ poly
			} else {
				c >>= 1
			}
		}
		t[i] = c
	}
	return t
}()

// CRC32 computes the DFU file CRC: polynomial 0xEDB88320, initial value
// 0xFFFFFFFF, no final XOR. Note this differs from the IEEE CRC-32 used by
// hash/crc32 in the standard library, which does apply a final XOR.
func CRC32(data []byte) uint32 {
	return crc32Update(0xFFFFFFFF, data)
}

func crc32Update(crc uint32, data []byte) uint32 {
	for _, b := range data {
		crc = crc32Table[byte(crc)^b] ^ (crc >> 8)
	}
	return crc
}
