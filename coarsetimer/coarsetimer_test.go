// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package coarsetimer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dmxgateway/firmware/hal/fake"
)

func newTestTimer() (*Timer, *fake.Clock) {
	fc := &fake.Clock{}
	t := New(fc)
	fc.OnTick = t.OnTick
	t.Init()
	return t, fc
}

func TestElapsedCountsTicks(t *testing.T) {
	tm, fc := newTestTimer()

	start := tm.Now()
	for i := 0; i < 5; i++ {
		fc.Tick()
	}
	assert.Equal(t, uint32(5), tm.Elapsed(start))
}

// TestHasElapsedStrictInequality covers invariant #2: the comparison is
// strict, so a duration of exactly d ticks is not yet reported elapsed.
func TestHasElapsedStrictInequality(t *testing.T) {
	tm, fc := newTestTimer()

	start := tm.Now()
	for i := 0; i < 10; i++ {
		fc.Tick()
	}
	assert.False(t, tm.HasElapsed(start, 10), "HasElapsed reported true at exactly d ticks")

	fc.Tick()
	assert.True(t, tm.HasElapsed(start, 10), "HasElapsed reported false past d ticks")
}

// TestHasElapsedZeroDurationAlwaysTrue covers invariant #2's d==0 case.
func TestHasElapsedZeroDurationAlwaysTrue(t *testing.T) {
	tm, _ := newTestTimer()
	start := tm.Now()
	assert.True(t, tm.HasElapsed(start, 0))
}

// TestElapsedSurvivesWraparound covers invariant #1 and scenario S1: the
// counter is a bare uint32, so Elapsed and HasElapsed must use unsigned
// arithmetic to stay correct across one wraparound of the counter.
func TestElapsedSurvivesWraparound(t *testing.T) {
	tm, fc := newTestTimer()

	// Drive the counter to two ticks shy of wraparound without ticking
	// 2^32 times: reach in by rewriting the unexported field directly,
	// which is legal from an in-package test.
	tm.count = 0xFFFFFFFE
	start := tm.Now()

	fc.Tick() // advances to 0xFFFFFFFF
	fc.Tick() // wraps to 0x00000000

	assert.Equal(t, uint32(2), tm.Elapsed(start), "Elapsed across wraparound")
	assert.True(t, tm.HasElapsed(start, 1), "HasElapsed across wraparound reported false for 2 > 1 ticks")
	assert.False(t, tm.HasElapsed(start, 2), "HasElapsed across wraparound reported true at exactly 2 ticks")
}

// TestMaskTickSuppressesTrampoline covers the atomicity contract Now relies
// on: OnTick must be a no-op while the clock reports itself masked.
func TestMaskTickSuppressesTrampoline(t *testing.T) {
	tm, fc := newTestTimer()
	start := tm.Now()

	fc.MaskTick()
	fc.Tick()
	fc.Tick()
	fc.UnmaskTick()

	assert.Equal(t, uint32(0), tm.Elapsed(start), "ticks delivered while masked")
}
