// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package boot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecideBootOptionForcesBootloader(t *testing.T) {
	got := Decide(false, ActiveHigh, BootBootloader, 0x60000000)
	assert.Equal(t, EnterBootloader, got, "Decide with BootBootloader option")
}

func TestDecideStrapHoldsBootloaderActiveHigh(t *testing.T) {
	got := Decide(true, ActiveHigh, BootApplication, 0x60000000)
	assert.Equal(t, EnterBootloader, got, "Decide with strap held (active-high)")
}

func TestDecideStrapHoldsBootloaderActiveLow(t *testing.T) {
	got := Decide(false, ActiveLow, BootApplication, 0x60000000)
	assert.Equal(t, EnterBootloader, got, "Decide with strap held (active-low)")
}

func TestDecideStrapNotHeldDoesNotForceBootloader(t *testing.T) {
	got := Decide(false, ActiveHigh, BootApplication, 0x60000000)
	assert.Equal(t, JumpApplication, got, "Decide with strap not held")

	got = Decide(true, ActiveLow, BootApplication, 0x60000000)
	assert.Equal(t, JumpApplication, got, "Decide with strap not held (active-low)")
}

func TestDecideErasedResetVectorForcesBootloader(t *testing.T) {
	got := Decide(false, ActiveHigh, BootApplication, 0xFFFFFFFF)
	assert.Equal(t, EnterBootloader, got, "Decide with erased reset vector")
}

func TestDecideJumpsWithValidImage(t *testing.T) {
	got := Decide(false, ActiveHigh, BootApplication, 0x60000100)
	assert.Equal(t, JumpApplication, got, "Decide with valid image")
}

// TestBootOptionOverridesEverything covers the priority order: a stored
// BootBootloader option wins even when the strap is not held and the
// application image looks valid.
func TestBootOptionOverridesEverything(t *testing.T) {
	got := Decide(false, ActiveHigh, BootBootloader, 0x60000100)
	assert.Equal(t, EnterBootloader, got, "BootBootloader option not honored over a valid image")
}
