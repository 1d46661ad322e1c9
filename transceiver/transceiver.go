// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package transceiver implements the DMX512/RDM line state machine: a
// non-blocking, interrupt-driven transmitter and receiver that enforce the
// BREAK/MAB/inter-slot timings of ANSI E1.11 and E1.20. It is grounded on
// the original firmware's transceiver.c state machine, rebuilt as cooperating
// Go files (tx.go and rx.go for the line state machine, this one for the
// public API, plus params.go, rdm.go and selftest.go) instead of one large
// interrupt handler, with hardware access narrowed to the hal interfaces.
//
// Completion is communicated from hardware interrupt trampolines to the
// public Tasks entry point through a single pending-completion slot (the
// "atomic flag + a single message field" mailbox design note): only one
// operation is ever in flight, so a queue would be overkill.
package transceiver

import (
	"github.com/dmxgateway/firmware/coarsetimer"
	"github.com/dmxgateway/firmware/hal"
	"github.com/dmxgateway/firmware/internal/journal"
	"github.com/dmxgateway/firmware/internal/mailbox"
)

// Mode selects which role the transceiver is playing on the bus.
type Mode int

const (
	Responder Mode = iota
	Controller
	SelfTest
)

// LineState is the transceiver's position in the TX/RX state machine, §3.4.
type LineState int

const (
	LineIdle LineState = iota
	LineBreakTX
	LineMABTX
	LineDataTX
	LineTXDrain
	LineListenMBB
	LineListenMBBDUB
	LineRXBreak
	LineRXMAB
	LineRXData
	LineTXComplete
)

// Op identifies the kind of a queued or completed operation.
type Op int

const (
	OpDMX Op = iota
	OpASC
	OpRDMRequest
	OpRDMDUB
	OpRDMResponse
	OpSelfTest
	OpModeChange
)

// Result is the outcome reported with a completion Event.
type Result int

const (
	ResultOK Result = iota
	ResultTXError
	ResultRXData
	ResultRXTimeout
	ResultRXInvalid
)

// Frame is a transmit (or responder-reply) request, §3.2. StartCode is
// ignored for OpRDMRequest/OpRDMDUB/OpRDMResponse/OpSelfTest/OpModeChange;
// Data holds the slots (DMX/ASC) or the RDM bytes starting at the RDM
// sub-start code (i.e. without the leading 0xCC start code, which the
// transceiver supplies).
type Frame struct {
	Token     uint32
	Op        Op
	StartCode byte
	Data      []byte
	Broadcast bool
}

// Event reports the completion of exactly one queued operation, §4.2.1.
type Event struct {
	Token  uint32
	Op     Op
	Result Result
	Data   []byte
}

// EventHandler processes a completion event. The return value is only
// meaningful for events carrying received data: true means the handler has
// taken ownership of Data, false means the transceiver releases it itself.
type EventHandler func(Event) bool

const maxSlots = 512

// rxFrame is the receiver's in-progress or completed capture, §3.4.
type rxFrame struct {
	buf       []byte
	startCode byte
	lastByte  coarsetimer.Value
	breakLow  uint16
}

// Transceiver is the DMX/RDM line state machine for one UART/GPIO/timer
// set. The zero value is not usable, construct with New.
type Transceiver struct {
	uart  hal.UART
	brk   hal.BreakPin
	drv   hal.DriverEnable
	cap   hal.InputCapture
	timer hal.PeriodTimer
	clock *coarsetimer.Timer

	params Params

	mode        Mode
	pendingMode *Mode
	pendingTok  uint32

	line LineState

	txHandler EventHandler
	rxHandler EventHandler

	active *Frame
	queued *Frame

	// listenForActive is true while t.active is a controller operation
	// waiting on a bus response (RDM unicast/broadcast/DUB): set only at
	// the listen-arming sites in tx.go's onTXDrained, cleared here in
	// finishActive and by reset. rx.go's closeRXFrame must gate the "this frame
	// completes the active operation" branch on this flag rather than on
	// t.line, because t.line legitimately advances LineListenMBB ->
	// LineRXBreak -> LineRXMAB -> LineRXData while a response is
	// captured.
	listenForActive bool

	tx txState
	rx rxFrame

	completionBox mailbox.Mailbox
	completion    Event

	// journal records invalid-frame and line-error diagnostics, if wired
	// by the board; nil-safe.
	journal *journal.Journal

	overrunCount uint32
	framingCount uint32
	invalidCount uint32

	// lastTXEnd/backoffTicks implement C7's controller inter-frame timing
	// policy: pump will not start the next queued TX until this many
	// coarse-timer ticks have elapsed since the last completion.
	lastTXEnd    coarsetimer.Value
	backoffTicks uint32

	// captureUSPerTick scales the input-capture unit's free-running ticks
	// to microseconds; the board wiring calibrates this to its timer
	// prescaler via SetCaptureResolution. Defaults to 1 (ticks already in
	// microseconds), a reasonable stand-in absent a fixed prescaler value
	// in the specification.
	captureUSPerTick uint32
}

// SetCaptureResolution records how many microseconds one input-capture
// tick represents, for BREAK low-time measurement.
func (t *Transceiver) SetCaptureResolution(usPerTick uint32) {
	t.captureUSPerTick = usPerTick
}

// Hardware bundles the peripherals a Transceiver drives.
type Hardware struct {
	UART         hal.UART
	Break        hal.BreakPin
	Drive        hal.DriverEnable
	InputCapture hal.InputCapture
	Timer        hal.PeriodTimer
}

// New constructs a Transceiver. Call Initialize before use.
func New(hw Hardware, clock *coarsetimer.Timer) *Transceiver {
	t := &Transceiver{
		uart:             hw.UART,
		brk:              hw.Break,
		drv:              hw.Drive,
		cap:              hw.InputCapture,
		timer:            hw.Timer,
		clock:            clock,
		captureUSPerTick: 1,
	}
	t.uart.Configure()
	t.cap.Configure()
	return t
}

// OnUARTTXReady is the trampoline the board wiring registers with the
// concrete UART driver's transmit-ready interrupt. ISR context.
func (t *Transceiver) OnUARTTXReady() { t.onTXReady() }

// OnUARTRXByte is the trampoline for the UART receive interrupt. ISR
// context.
func (t *Transceiver) OnUARTRXByte(b byte, status hal.UARTStatus) { t.onRXByte(b, status) }

// OnTimerExpire is the trampoline for the programmable period timer's
// expiry interrupt. ISR context.
func (t *Transceiver) OnTimerExpire() { t.onTimerExpire() }

// OnCaptureEdge is the trampoline for the input-capture unit's edge
// interrupt. ISR context.
func (t *Transceiver) OnCaptureEdge(edge hal.EdgeCapture) { t.onCapture(edge) }

// Initialize resets hardware and state per §4.2.1: mode becomes RESPONDER,
// all queued/active work is dropped, and the event handlers are recorded.
func (t *Transceiver) Initialize(params Params, txHandler, rxHandler EventHandler) {
	t.params = params
	t.txHandler = txHandler
	t.rxHandler = rxHandler
	t.reset()
}

func (t *Transceiver) reset() {
	t.mode = Responder
	t.pendingMode = nil
	t.active = nil
	t.listenForActive = false
	t.queued = nil
	t.line = LineIdle
	t.tx = txState{}
	t.rx = rxFrame{}
	t.completionBox.Take()
	t.timer.Cancel()
	t.drv.SetTX(false)
	t.drv.SetRX(true)
	t.brk.SetUARTMode(true)
	t.enterListen()
}

// Reset implements reset(): cancel pending operations (no completion event
// for the cancelled one) and return to RESPONDER mode.
func (t *Transceiver) Reset() {
	t.reset()
}

// Mode returns the currently active mode (not the pending one).
func (t *Transceiver) Mode() Mode { return t.mode }

// SetMode requests a mode change, §4.2.4. Returns false if a change is
// already pending.
func (t *Transceiver) SetMode(mode Mode, token uint32) bool {
	if t.pendingMode != nil {
		return false
	}
	m := mode
	t.pendingMode = &m
	t.pendingTok = token
	t.maybeCommitModeChange()
	return true
}

// maybeCommitModeChange applies a pending mode change once the line is
// quiescent (TX empty and RX not mid-frame), emitting MODE_CHANGE.
func (t *Transceiver) maybeCommitModeChange() {
	if t.pendingMode == nil {
		return
	}
	if t.active != nil || t.line != LineIdle {
		return
	}
	t.mode = *t.pendingMode
	tok := t.pendingTok
	t.pendingMode = nil
	if t.mode == Responder || t.mode == SelfTest {
		t.enterListen()
	}
	t.dispatch(Event{Token: tok, Op: OpModeChange, Result: ResultOK})
}

// Params returns a copy of the current timing configuration.
func (t *Transceiver) Params() Params { return t.params }

func (t *Transceiver) canQueue() bool {
	return t.queued == nil
}

func (t *Transceiver) enqueue(f *Frame) bool {
	if !t.canQueue() {
		return false
	}
	t.queued = f
	t.pump()
	return true
}

// QueueDMX enqueues a DMX frame, CONTROLLER only. len is clamped to 512.
func (t *Transceiver) QueueDMX(token uint32, data []byte) bool {
	if t.mode != Controller {
		return false
	}
	if len(data) > maxSlots {
		data = data[:maxSlots]
	}
	return t.enqueue(&Frame{Token: token, Op: OpDMX, StartCode: 0x00, Data: data})
}

// QueueASC enqueues an alternate-start-code frame, CONTROLLER only.
func (t *Transceiver) QueueASC(token uint32, startCode byte, data []byte) bool {
	if t.mode != Controller {
		return false
	}
	if len(data) > maxSlots {
		data = data[:maxSlots]
	}
	return t.enqueue(&Frame{Token: token, Op: OpASC, StartCode: startCode, Data: data})
}

// QueueRDMRequest enqueues an RDM request, CONTROLLER only. bytes start at
// the RDM sub-start code.
func (t *Transceiver) QueueRDMRequest(token uint32, bytes []byte, broadcast bool) bool {
	if t.mode != Controller {
		return false
	}
	return t.enqueue(&Frame{Token: token, Op: OpRDMRequest, Data: bytes, Broadcast: broadcast})
}

// QueueRDMDUB enqueues an RDM Discovery Unique Branch request, CONTROLLER
// only.
func (t *Transceiver) QueueRDMDUB(token uint32, bytes []byte) bool {
	if t.mode != Controller {
		return false
	}
	return t.enqueue(&Frame{Token: token, Op: OpRDMDUB, Data: bytes})
}

// QueueRDMResponse enqueues a responder's RDM reply, RESPONDER only.
func (t *Transceiver) QueueRDMResponse(token uint32, bytes []byte) bool {
	if t.mode != Responder {
		return false
	}
	return t.enqueue(&Frame{Token: token, Op: OpRDMResponse, Data: bytes})
}

// QueueSelfTest enqueues a self-test loopback, SELF_TEST only.
func (t *Transceiver) QueueSelfTest(token uint32) bool {
	if t.mode != SelfTest {
		return false
	}
	return t.enqueue(&Frame{Token: token, Op: OpSelfTest})
}

// Tasks is the cooperative step entry point, §4.2.1. It drains any pending
// completion event, starts a queued operation whose controller backoff has
// elapsed, and commits a deferred mode change.
func (t *Transceiver) Tasks() {
	if _, ok := t.completionBox.Take(); ok {
		t.finishActive(t.completion)
	}
	t.checkInterslotTimeout()
	t.pump()
	t.maybeCommitModeChange()
}

// dispatch delivers ev to the handler matching its Op and, if unconsumed
// and carrying RX data, releases the buffer (a no-op here since the
// backing array is owned solely by this struct until reuse).
func (t *Transceiver) dispatch(ev Event) {
	var consumed bool
	switch ev.Op {
	case OpDMX, OpASC, OpRDMRequest, OpRDMDUB:
		if t.txHandler != nil {
			consumed = t.txHandler(ev)
		}
	case OpRDMResponse, OpSelfTest:
		if t.txHandler != nil {
			consumed = t.txHandler(ev)
		}
	case OpModeChange:
		if t.rxHandler != nil {
			t.rxHandler(ev)
		}
		return
	}
	_ = consumed
}

// finishActive completes the in-flight operation: dispatches its event,
// clears active, records the C7 controller backoff the next TX must
// observe, and starts the queued operation if any.
func (t *Transceiver) finishActive(ev Event) {
	t.active = nil
	t.listenForActive = false
	if t.mode == Controller {
		t.lastTXEnd = t.clock.Now()
		if ev.Op == OpRDMRequest && ev.Result == ResultOK {
			t.backoffTicks = broadcastBackoffTicks
		} else {
			t.backoffTicks = backoffTicksFor(ev.Op, ev.Result)
		}
	}
	t.dispatch(ev)
	t.pump()
}

// pump starts the queued operation if the line is idle, nothing is
// active, and (in CONTROLLER mode) the C7 inter-frame backoff since the
// last completed operation has elapsed.
func (t *Transceiver) pump() {
	if t.active != nil || t.queued == nil {
		return
	}
	if t.line != LineIdle {
		return
	}
	if t.mode == Controller && !t.clock.HasElapsed(t.lastTXEnd, t.backoffTicks) {
		return
	}
	f := t.queued
	t.queued = nil
	t.active = f
	t.startTX(f)
}

// postCompletion is called from ISR-context trampolines (tx.go/rx.go): it
// must run in bounded time, never allocate beyond what the caller already
// allocated, and never invoke event handlers directly.
func (t *Transceiver) postCompletion(ev Event) {
	t.completion = ev
	t.completionBox.Post(completionTag)
}

// completionTag is the only tag ever posted to completionBox: the mailbox
// only needs to distinguish "something is pending" from "empty", not
// which kind of event, since the payload itself travels in t.completion.
const completionTag = 1

// SetJournal wires a diagnostics log for invalid-frame and line-error
// events. Optional; nil-safe when not called.
func (t *Transceiver) SetJournal(j *journal.Journal) {
	t.journal = j
}

// logf records a diagnostic line, tagged with the current coarse-timer
// tick, if a journal has been wired. No-op otherwise.
func (t *Transceiver) logf(line string) {
	if t.journal == nil {
		return
	}
	t.journal.Log(uint32(t.clock.Now()), line)
}
