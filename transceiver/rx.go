// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transceiver

import "github.com/dmxgateway/firmware/hal"

// Break timing bounds, ticks measured by the input-capture unit and scaled
// to microseconds by captureUSPerTick; grounded on transceiver_timing.h's
// combined responder/controller range as simplified by §4.2.3.
const (
	minBreakLowUS = 88
	maxBreakLowUS = 1000
)

// Inter-slot timeouts, in 100us coarse-timer ticks — transceiver_timing.h
// states both RESPONDER_RDM_INTERSLOT_TIMEOUT and
// RESPONDER_DMX_INTERSLOT_TIMEOUT in tenths of a millisecond, which is
// exactly the coarse timer's 100us tick.
const (
	rdmInterslotTimeoutTicks = 21
	dmxInterslotTimeoutTicks = 10000
)

// dubInterByteGapTicks is the DUB inter-byte gap that closes a response
// frame: just over 2 byte-times at 250kbaud 8N2 (11 bits/byte, 44us/byte),
// rounded up to whole coarse-timer ticks.
const dubInterByteGapTicks = 1

// onCapture handles an edge reported by the input-capture unit. ISR
// context: BREAK detection only; edges that arrive while listening for a
// DUB response are ignored (those are framed by UART activity, not BREAK,
// per §4.2.3).
func (t *Transceiver) onCapture(edge hal.EdgeCapture) {
	if t.line == LineListenMBBDUB {
		return
	}

	if !edge.Rising {
		if t.line == LineIdle || t.line == LineListenMBB {
			t.rx.breakLow = edge.Ticks
			t.line = LineRXBreak
		}
		return
	}

	if t.line != LineRXBreak {
		return
	}

	lowTicks := edge.Ticks - t.rx.breakLow
	lowUS := uint32(lowTicks) * t.captureUSPerTick
	if lowUS < minBreakLowUS || lowUS > maxBreakLowUS {
		// Noise: not a BREAK. Resume listening without starting a frame.
		t.line = LineIdle
		return
	}

	t.rx = rxFrame{}
	t.line = LineRXMAB
}

// onRXByte handles a byte delivered by the UART RX interrupt, ISR context.
func (t *Transceiver) onRXByte(b byte, status hal.UARTStatus) {
	if status != hal.UARTOK {
		if status == hal.UARTOverrun {
			t.overrunCount++
			t.logf("rx: UART overrun, frame discarded")
		} else {
			t.framingCount++
			t.logf("rx: UART framing error, frame discarded")
		}
		t.abortRXFrame()
		return
	}

	switch t.line {
	case LineRXMAB:
		t.rx.buf = append(t.rx.buf[:0], b)
		t.rx.startCode = b
		t.rx.lastByte = t.clock.Now()
		t.line = LineRXData

	case LineRXData:
		if len(t.rx.buf) < 513 {
			t.rx.buf = append(t.rx.buf, b)
		}
		t.rx.lastByte = t.clock.Now()
		t.maybeCloseRDMFrame()

	case LineListenMBBDUB:
		t.rx.buf = append(t.rx.buf, b)
		t.rx.lastByte = t.clock.Now()
	}
}

// maybeCloseRDMFrame closes and validates the current frame once its
// declared message_length has been received, for RDM frames only; DMX/ASC
// frames close only on inter-slot timeout (checked from Tasks).
func (t *Transceiver) maybeCloseRDMFrame() {
	if t.rx.startCode != rdmStartCode {
		return
	}
	if len(t.rx.buf) < 3 {
		return
	}
	want := int(t.rx.buf[2]) + 2
	if len(t.rx.buf) < want {
		return
	}
	t.closeRXFrame()
}

func (t *Transceiver) abortRXFrame() {
	t.rx = rxFrame{}
	t.line = LineIdle
}

// closeRXFrame reports the just-assembled frame. If we are a controller
// waiting on a response to the active operation (listenForActive), the
// result completes that operation, a DUB collection included; otherwise
// (responder passively listening) it is delivered as unsolicited data via
// the RX handler.
func (t *Transceiver) closeRXFrame() {
	buf := t.rx.buf
	startCode := t.rx.startCode
	t.rx = rxFrame{}
	t.timer.Cancel()

	if t.active != nil && t.listenForActive {
		ev := Event{Token: t.active.Token, Op: t.active.Op, Data: buf}
		if startCode == rdmStartCode && validateRDM(buf) {
			ev.Result = ResultRXData
		} else if t.active.Op == OpRDMDUB {
			ev.Result = ResultRXData
		} else {
			ev.Result = ResultRXInvalid
			t.invalidCount++
			t.logf("rx: invalid RDM response discarded")
		}
		t.postCompletion(ev)
		t.resetElectricalIdle()
		return
	}

	// Unsolicited responder reception: report via the RX handler.
	op := OpDMX
	if startCode == rdmStartCode {
		if !validateRDM(buf) {
			t.invalidCount++
			t.logf("rx: invalid RDM request discarded")
			t.resetElectricalIdle()
			return
		}
		op = OpRDMRequest
	} else if startCode != 0x00 {
		op = OpASC
	}

	ev := Event{Op: op, Result: ResultRXData, Data: buf}
	if t.rxHandler != nil {
		t.rxHandler(ev)
	}
	t.resetElectricalIdle()
}

// checkInterslotTimeout is polled from Tasks: DMX/ASC frames (and a DUB
// collection) have no length field to close on, so they close on
// inter-slot silence instead.
func (t *Transceiver) checkInterslotTimeout() {
	if t.line != LineRXData && t.line != LineListenMBBDUB {
		return
	}
	if len(t.rx.buf) == 0 {
		return
	}

	limit := dmxInterslotTimeoutTicks
	if t.rx.startCode == rdmStartCode {
		limit = rdmInterslotTimeoutTicks
	}
	if t.line == LineListenMBBDUB {
		limit = dubInterByteGapTicks
	}

	if t.clock.HasElapsed(t.rx.lastByte, uint32(limit)) {
		t.closeRXFrame()
	}
}
