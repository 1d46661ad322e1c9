// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package coarsetimer provides a wraparound-safe monotonic tick counter with
// 100 microsecond resolution, shared by the transceiver and DFU cores for
// all interval timing that does not need sub-microsecond accuracy.
//
// The counter is a single 32-bit word, incremented once per tick by a
// hardware timer interrupt (see hal.PeriodTimer) and read by both ISR and
// main-loop contexts. Readers must exclude the tick interrupt for the
// duration of the read, see Timer.Now.
package coarsetimer

import "github.com/dmxgateway/firmware/hal"

// TickInterval is the fixed period, in microseconds, of one counter tick.
const TickInterval = 100

// Value is a snapshot of the counter, units of TickInterval microseconds.
type Value uint32

// Timer is a monotonic counter driven by a single hardware timer interrupt.
// The zero value is not usable, construct with New.
type Timer struct {
	clock hal.Clock
	count uint32
}

// New returns a Timer that masks clock's tick interrupt across reads of the
// counter, as required for atomicity with OnTick.
func New(clock hal.Clock) *Timer {
	return &Timer{clock: clock}
}

// Init configures the backing hardware timer to fire OnTick every
// TickInterval microseconds.
func (t *Timer) Init() error {
	t.count = 0
	return t.clock.ConfigureTick(TickInterval)
}

// OnTick increments the counter. It is invoked from the timer interrupt and
// must complete in bounded time: no allocation, no flash access, no event
// handler calls.
func (t *Timer) OnTick() {
	t.count++
}

// Now returns the current counter value, read with the tick interrupt
// masked so that it is atomic with respect to OnTick.
func (t *Timer) Now() Value {
	t.clock.MaskTick()
	v := t.count
	t.clock.UnmaskTick()
	return Value(v)
}

// Elapsed returns now() - start in unsigned 32-bit arithmetic, safe across
// one counter wraparound.
func (t *Timer) Elapsed(start Value) uint32 {
	return uint32(t.Now()) - uint32(start)
}

// Delta returns b - a in unsigned 32-bit arithmetic.
func Delta(a, b Value) uint32 {
	return uint32(b) - uint32(a)
}

// HasElapsed reports whether more than d ticks have passed since start. A
// duration of 0 always reports elapsed. The comparison is strict (> not >=)
// so an interval of d ticks is never signalled before d*100us have passed.
func (t *Timer) HasElapsed(start Value, d uint32) bool {
	if d == 0 {
		return true
	}
	return t.Elapsed(start) > d
}
