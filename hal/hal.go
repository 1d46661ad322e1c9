// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package hal declares the narrow hardware capability interfaces consumed by
// the transceiver, DFU and boot cores. board/usbarmory/mk2 implements
// BreakPin and DriverEnable over soc/nxp/gpio; no concrete Clock, UART,
// InputCapture, PeriodTimer or FlashDriver implementation is present. Test
// implementations of every interface live in hal/fake.
//
// Every method here is expected to be callable from interrupt context unless
// documented otherwise, and must therefore run in bounded time without
// allocation.
package hal

// Clock drives the coarse timer's 100us tick.
type Clock interface {
	// ConfigureTick arms a periodic interrupt every us microseconds,
	// invoking the registered OnTick trampoline on each fire.
	ConfigureTick(us uint32) error
	// MaskTick disables the tick interrupt source for the duration of a
	// critical section.
	MaskTick()
	// UnmaskTick re-enables the tick interrupt source.
	UnmaskTick()
}

// UARTStatus reports the condition of a UART byte-level event.
type UARTStatus int

const (
	// UARTOK indicates normal operation.
	UARTOK UARTStatus = iota
	// UARTOverrun indicates a receive FIFO overrun.
	UARTOverrun
	// UARTFramingError indicates a stop-bit framing error.
	UARTFramingError
)

// UART is the asynchronous serial transport carrying DMX/RDM frame bytes at
// 250000 baud, 8N2. TX and RX are both interrupt-driven: TXReady fires when
// the transmit holding register can accept another byte, RXReady fires when
// a byte has been received, ShiftEmpty fires when the transmit shift
// register (not just the holding register) has fully drained, which is the
// event that gates switching the TX pin back to a GPIO for the next BREAK.
type UART interface {
	// Configure sets the line for DMX/RDM framing (250000 8N2) and
	// enables the RX/TX/error interrupt sources.
	Configure() error
	// Enable or disables the transmitter.
	SetTXEnabled(on bool)
	// Enable or disables the receiver.
	SetRXEnabled(on bool)
	// WriteByte feeds a single byte to the transmit holding register.
	// Must only be called in response to TXReady.
	WriteByte(b byte)
	// ReadByte drains one received byte and its status. Must only be
	// called in response to RXReady.
	ReadByte() (b byte, status UARTStatus)
}

// BreakPin is the GPIO used to manufacture the BREAK/MAB sequence by driving
// the TX line directly, bypassing the UART, while it is disconnected from
// the UART's own TX pin mux.
type BreakPin interface {
	// SetUARTMode returns pin ownership to the UART peripheral (true) or
	// claims it for direct GPIO drive (false).
	SetUARTMode(uartOwned bool)
	// Set drives the pin high (true) or low (false). Only meaningful
	// while SetUARTMode(false).
	Set(high bool)
}

// DriverEnable is a GPIO controlling an EIA-485 transceiver's driver/receiver
// enable lines (often tied so that TX-enable high implies RX-enable low).
type DriverEnable interface {
	// SetTX asserts (true) or deasserts (false) the line driver enable.
	SetTX(on bool)
	// SetRX asserts (true) or deasserts (false) the line receiver enable.
	// Many boards wire RX-enable active low; implementations absorb the
	// polarity so that on == true always means "receiver listening".
	SetRX(on bool)
}

// EdgeCapture reports a single edge captured on the RX line by the
// input-capture unit, expressed in the unit's free-running 16-bit timer
// ticks (100ns each on the reference platform).
type EdgeCapture struct {
	// Rising is true for a low-to-high transition, false for high-to-low.
	Rising bool
	// Ticks is the 16-bit capture timer value latched at the edge.
	Ticks uint16
}

// InputCapture reports edges on the RX line, used to detect and measure a
// BREAK. Edge events are delivered through the OnEdge trampoline registered
// by the driver layer; this interface only configures the unit and lets the
// driver read back the free-running timer for wraparound bookkeeping.
type InputCapture interface {
	// Configure arms capture of both edges.
	Configure() error
	// FreeRunning returns the input-capture timer's current 16-bit tick
	// count, used to detect whether the timer has wrapped since the
	// opening edge of a candidate BREAK.
	FreeRunning() uint16
}

// PeriodTimer is a single programmable one-shot/periodic timer used for
// BREAK/MAB generation timing and for the various RDM listen windows. Only
// one timer is needed: the transceiver never has two independent timed
// waits in flight at once.
type PeriodTimer interface {
	// Arm schedules a single firing of the OnExpire trampoline after us
	// microseconds.
	Arm(us uint32)
	// Cancel disarms a pending timer, if any.
	Cancel()
}

// FlashError classifies a FlashDriver failure.
type FlashError int

const (
	// FlashOK indicates no error.
	FlashOK FlashError = iota
	// FlashEraseFailed indicates ErasePage failed.
	FlashEraseFailed
	// FlashWriteFailed indicates the write primitive itself rejected or
	// never committed the word (bus error, address out of range, flash
	// busy).
	FlashWriteFailed
	// FlashProgFailed indicates the word was committed but the driver's
	// own post-program status check (distinct from the caller's later
	// ReadWord verify) reported the program operation failed.
	FlashProgFailed
)

// WriteError reports which phase of WriteWord failed, so callers can tell a
// primitive failure from a program-status failure without string matching.
type WriteError struct {
	Code FlashError
	Err  error
}

func (e *WriteError) Error() string { return e.Err.Error() }
func (e *WriteError) Unwrap() error { return e.Err }

// FlashDriver is the raw program/erase/read primitive for the on-board NOR
// flash regions backing the application image and the RDM UID. It performs
// no validation of its own; all framing and pipeline logic lives in dfu.
type FlashDriver interface {
	// PageSize returns the erase granularity in bytes.
	PageSize() uint32
	// ErasePage erases the PageSize()-aligned page containing address.
	ErasePage(address uint32) error
	// WriteWord programs one 32-bit little-endian word at a 4-byte
	// aligned address. A failure is a *WriteError when the driver can
	// distinguish FlashWriteFailed from FlashProgFailed, or a plain error
	// otherwise.
	WriteWord(address uint32, data uint32) error
	// ReadWord reads back a previously written 32-bit word.
	ReadWord(address uint32) uint32
}
