// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package boot implements the reset-time decision between staying in the
// bootloader and jumping to the application, §4.4. Decide is pure: it takes
// no hardware access, so the strap/boot-option/reset-vector policy is
// exhaustively unit tested. The caller supplies the strap level, the stored
// boot option and the reset vector; this package reads none of them.
package boot

// Polarity selects which electrical level of the strap pin means "hold in
// bootloader". The original firmware wired this to one board revision's
// pull direction; spec.md §9 leaves it open for a different board, so it is
// a parameter here rather than a compile-time constant. See DESIGN.md Open
// Question 1.
type Polarity int

const (
	// ActiveHigh means strap pin high holds the bootloader.
	ActiveHigh Polarity = iota
	// ActiveLow means strap pin low holds the bootloader.
	ActiveLow
)

// Option is the stored boot-option word read from flash.
type Option uint32

const (
	// BootApplication is the default: fall through to the strap/reset
	// vector checks.
	BootApplication Option = iota
	// BootBootloader forces the bootloader unconditionally, regardless of
	// the strap pin or the application's reset vector.
	BootBootloader
)

// erasedResetVector is the value a word of erased NOR flash reads back as;
// if the application's reset vector has this value there is no valid
// application image to jump to.
const erasedResetVector = 0xFFFFFFFF

// Decision is the outcome of Decide.
type Decision int

const (
	// EnterBootloader means remain in the bootloader and wait for DFU.
	EnterBootloader Decision = iota
	// JumpApplication means control should transfer to the application.
	JumpApplication
)

// Decide applies the three-way boot policy of §4.4, in order:
//  1. A stored BootBootloader option forces the bootloader.
//  2. The strap pin in its "hold" state (per polarity) forces the
//     bootloader.
//  3. An erased (0xFFFFFFFF) application reset vector forces the
//     bootloader, since there is nothing to jump to.
//
// Otherwise the application is entered.
func Decide(strapHigh bool, strapPolarity Polarity, bootOption Option, resetVector uint32) Decision {
	if bootOption == BootBootloader {
		return EnterBootloader
	}

	held := strapHigh
	if strapPolarity == ActiveLow {
		held = !strapHigh
	}
	if held {
		return EnterBootloader
	}

	if resetVector == erasedResetVector {
		return EnterBootloader
	}

	return JumpApplication
}
