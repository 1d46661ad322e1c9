// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package fake provides in-memory hal implementations for unit tests,
// grounded on the gmock-based peripheral mocks of the original firmware
// (tests/mocks/CoarseTimerMock, tests/mocks/FlashMock, tests/sim/*). Unlike
// the C++ mocks these are plain structs driven directly by the test: there
// is no expectation framework, tests push bytes/edges/ticks and assert on
// resulting state.
package fake

import "github.com/dmxgateway/firmware/hal"

// Clock is a software-driven hal.Clock. Tests call Tick to simulate one
// timer interrupt firing.
type Clock struct {
	OnTick   func()
	masked   bool
	periodUS uint32
}

func (c *Clock) ConfigureTick(us uint32) error {
	c.periodUS = us
	return nil
}

func (c *Clock) MaskTick()   { c.masked = true }
func (c *Clock) UnmaskTick() { c.masked = false }

// Tick invokes the registered OnTick trampoline, as the real interrupt
// would. It is a no-op while masked, matching the real interrupt controller.
func (c *Clock) Tick() {
	if c.masked || c.OnTick == nil {
		return
	}
	c.OnTick()
}

// UART is a loopback-free software UART: the test supplies bytes to
// "receive" and records bytes written for transmission.
type UART struct {
	OnTXReady func()
	OnRXReady func()

	Written []byte

	rxQueue  []byte
	rxStatus []hal.UARTStatus
	txOn     bool
	rxOn     bool
	enabled  bool
}

func (u *UART) Configure() error {
	u.enabled = true
	return nil
}

func (u *UART) SetTXEnabled(on bool) { u.txOn = on }
func (u *UART) SetRXEnabled(on bool) { u.rxOn = on }

func (u *UART) WriteByte(b byte) {
	u.Written = append(u.Written, b)
}

func (u *UART) ReadByte() (byte, hal.UARTStatus) {
	if len(u.rxQueue) == 0 {
		return 0, hal.UARTOK
	}
	b := u.rxQueue[0]
	s := u.rxStatus[0]
	u.rxQueue = u.rxQueue[1:]
	u.rxStatus = u.rxStatus[1:]
	return b, s
}

// Deliver queues a received byte and fires OnRXReady, as the RX interrupt
// would.
func (u *UART) Deliver(b byte, status hal.UARTStatus) {
	u.rxQueue = append(u.rxQueue, b)
	u.rxStatus = append(u.rxStatus, status)
	if u.OnRXReady != nil {
		u.OnRXReady()
	}
}

// TXEmpty fires the transmit-shift-register-empty trampoline.
func (u *UART) TXEmpty(fn func()) {
	if fn != nil {
		fn()
	}
}

// BreakPin records the last requested mode and level so tests can assert
// the pin state at each BREAK/MAB step. Its methods do not append to
// Events.
type BreakPin struct {
	UARTOwned bool
	High      bool
	Events    []string
}

func (p *BreakPin) SetUARTMode(uartOwned bool) {
	p.UARTOwned = uartOwned
}

func (p *BreakPin) Set(high bool) {
	p.High = high
}

// DriverEnable records the last requested TX/RX enable state.
type DriverEnable struct {
	TXOn bool
	RXOn bool
}

func (d *DriverEnable) SetTX(on bool) { d.TXOn = on }
func (d *DriverEnable) SetRX(on bool) { d.RXOn = on }

// InputCapture lets a test inject edges directly.
type InputCapture struct {
	OnEdge func(hal.EdgeCapture)
	ticks  uint16
}

func (c *InputCapture) Configure() error { return nil }

func (c *InputCapture) FreeRunning() uint16 { return c.ticks }

// Edge delivers a captured edge and advances the free-running timer to
// ticks.
func (c *InputCapture) Edge(rising bool, ticks uint16) {
	c.ticks = ticks
	if c.OnEdge != nil {
		c.OnEdge(hal.EdgeCapture{Rising: rising, Ticks: ticks})
	}
}

// PeriodTimer is a software one-shot: Fire must be called explicitly by the
// test, there is no real elapsed-time simulation.
type PeriodTimer struct {
	OnExpire func()
	armed    bool
	us       uint32
}

func (t *PeriodTimer) Arm(us uint32) {
	t.armed = true
	t.us = us
}

func (t *PeriodTimer) Cancel() {
	t.armed = false
}

// Armed reports whether a timer is currently pending, and for how long it
// was requested.
func (t *PeriodTimer) Armed() (bool, uint32) {
	return t.armed, t.us
}

// Fire invokes the expiry trampoline if still armed, then disarms.
func (t *PeriodTimer) Fire() {
	if !t.armed {
		return
	}
	t.armed = false
	if t.OnExpire != nil {
		t.OnExpire()
	}
}

// Flash is an in-memory FlashDriver, grounded on tests/mocks/FlashMock: a
// byte slice standing in for the region, with optional failure injection.
type Flash struct {
	Memory []byte
	Base   uint32
	Page   uint32

	FailErase map[uint32]bool
	FailWrite map[uint32]bool
	// FailProg injects a post-program status failure (hal.FlashProgFailed)
	// instead of the default primitive failure (hal.FlashWriteFailed).
	FailProg map[uint32]bool
}

// NewFlash allocates a Flash fake spanning size erased (0xFF) bytes starting
// at base, with the given erase page size.
func NewFlash(base, size, page uint32) *Flash {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &Flash{Memory: mem, Base: base, Page: page}
}

func (f *Flash) PageSize() uint32 { return f.Page }

func (f *Flash) ErasePage(address uint32) error {
	if f.FailErase[address] {
		return errFlash("erase")
	}
	pageStart := address - (address-f.Base)%f.Page
	off := pageStart - f.Base
	for i := uint32(0); i < f.Page; i++ {
		f.Memory[off+i] = 0xFF
	}
	return nil
}

func (f *Flash) WriteWord(address uint32, data uint32) error {
	if f.FailProg[address] {
		return &hal.WriteError{Code: hal.FlashProgFailed, Err: errFlash("program")}
	}
	if f.FailWrite[address] {
		return &hal.WriteError{Code: hal.FlashWriteFailed, Err: errFlash("write")}
	}
	off := address - f.Base
	f.Memory[off+0] = byte(data)
	f.Memory[off+1] = byte(data >> 8)
	f.Memory[off+2] = byte(data >> 16)
	f.Memory[off+3] = byte(data >> 24)
	return nil
}

func (f *Flash) ReadWord(address uint32) uint32 {
	off := address - f.Base
	return uint32(f.Memory[off+0]) | uint32(f.Memory[off+1])<<8 |
		uint32(f.Memory[off+2])<<16 | uint32(f.Memory[off+3])<<24
}

type flashError string

func (e flashError) Error() string { return string(e) }

func errFlash(op string) error { return flashError("fake flash: " + op + " failed") }
