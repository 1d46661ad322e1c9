// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transceiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmxgateway/firmware/coarsetimer"
	"github.com/dmxgateway/firmware/hal"
	"github.com/dmxgateway/firmware/hal/fake"
)

type harness struct {
	t     *Transceiver
	uart  *fake.UART
	brk   *fake.BreakPin
	drv   *fake.DriverEnable
	cap   *fake.InputCapture
	timer *fake.PeriodTimer
	clk   *fake.Clock
}

func newHarness(txHandler, rxHandler EventHandler) *harness {
	fc := &fake.Clock{}
	ct := coarsetimer.New(fc)
	fc.OnTick = ct.OnTick
	ct.Init()

	h := &harness{
		uart:  &fake.UART{},
		brk:   &fake.BreakPin{},
		drv:   &fake.DriverEnable{},
		cap:   &fake.InputCapture{},
		timer: &fake.PeriodTimer{},
		clk:   fc,
	}
	h.t = New(Hardware{
		UART:         h.uart,
		Break:        h.brk,
		Drive:        h.drv,
		InputCapture: h.cap,
		Timer:        h.timer,
	}, ct)

	h.uart.OnTXReady = h.t.OnUARTTXReady
	h.uart.OnRXReady = func() {
		b, s := h.uart.ReadByte()
		h.t.OnUARTRXByte(b, s)
	}
	h.timer.OnExpire = h.t.OnTimerExpire
	h.cap.OnEdge = h.t.OnCaptureEdge

	h.t.Initialize(DefaultParams(), txHandler, rxHandler)
	return h
}

// driveBreakAndMAB fires the programmable timer through the BREAK and MAB
// phases, asserting the GPIO/UART sequencing §4.2.2 requires.
func driveBreakAndMAB(t *testing.T, h *harness, wantStartCode byte) {
	t.Helper()

	require.True(t, h.drv.TXOn && !h.drv.RXOn, "driver enable not asserted for TX: %+v", h.drv)
	require.True(t, !h.brk.UARTOwned && !h.brk.High, "break pin not driven low for BREAK: %+v", h.brk)
	armed, us := h.timer.Armed()
	require.True(t, armed && us == h.t.Params().BreakTime, "BREAK timer not armed for %d us: armed=%v us=%d", h.t.Params().BreakTime, armed, us)

	h.timer.Fire() // BREAK -> MAB
	require.True(t, h.brk.High, "break pin not driven high for MAB")
	armed, us = h.timer.Armed()
	require.True(t, armed && us == h.t.Params().MABTime, "MAB timer not armed for %d us: armed=%v us=%d", h.t.Params().MABTime, armed, us)

	h.timer.Fire() // MAB -> DATA
	require.True(t, h.brk.UARTOwned, "break pin not returned to UART for data phase")
	require.True(t, len(h.uart.Written) == 1 && h.uart.Written[0] == wantStartCode, "start code: got %v, want [%#x]", h.uart.Written, wantStartCode)
}

func TestDMXTransmitWireSequence(t *testing.T) {
	var events []Event
	h := newHarness(func(ev Event) bool { events = append(events, ev); return false }, nil)

	require.True(t, h.t.SetMode(Controller, 0), "SetMode(Controller) rejected")

	data := []byte{1, 2, 3}
	require.True(t, h.t.QueueDMX(42, data), "QueueDMX rejected")

	driveBreakAndMAB(t, h, 0x00)

	for range data {
		h.t.OnUARTTXReady()
	}
	h.t.OnUARTTXReady() // frame exhausted: triggers onTXDrained

	want := append([]byte{0x00}, data...)
	assert.Equal(t, want, h.uart.Written, "written bytes")
	assert.False(t, h.drv.TXOn, "driver still enabled for TX after DMX frame completed")

	h.t.Tasks()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, Event{Op: OpDMX, Result: ResultOK, Token: 42}, ev)
}

func TestRDMDUBNoResponseTimesOut(t *testing.T) {
	var events []Event
	h := newHarness(func(ev Event) bool { events = append(events, ev); return false }, nil)

	require.True(t, h.t.SetMode(Controller, 0), "SetMode(Controller) rejected")

	req := []byte{0x01, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	require.True(t, h.t.QueueRDMDUB(7, req), "QueueRDMDUB rejected")

	driveBreakAndMAB(t, h, 0xCC)

	for range req {
		h.t.OnUARTTXReady()
	}
	h.t.OnUARTTXReady() // frame exhausted: arms the DUB response window

	armed, us := h.timer.Armed()
	wantUS := h.t.Params().RDMDUBResponseLimit / 10
	require.True(t, armed && us == wantUS, "DUB listen timer: armed=%v us=%d, want %d", armed, us, wantUS)

	// No bytes delivered: the listen window expires with nothing captured.
	h.timer.Fire()
	h.t.Tasks()

	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, Event{Op: OpRDMDUB, Result: ResultRXTimeout, Token: 7}, ev)
}

// TestRDMUnicastRequestResponseRoundTrip covers §4.2.2's RDM unicast request
// behavior end to end: a BREAK arrives mid-listen, is captured as a real
// frame through LineRXBreak/LineRXMAB/LineRXData, and its completion must
// reach the *queuing* operation (Token/Op from the request, Result
// RXData) — not fall through to the unsolicited rxHandler path — and must
// release t.active so the next queued operation can start. Regression test
// for the bug where closeRXFrame gated completion on t.line, which has
// already moved off LineListenMBB by the time a real frame closes.
func TestRDMUnicastRequestResponseRoundTrip(t *testing.T) {
	var txEvents, rxEvents []Event
	h := newHarness(
		func(ev Event) bool { txEvents = append(txEvents, ev); return false },
		func(ev Event) bool { rxEvents = append(rxEvents, ev); return false },
	)

	require.True(t, h.t.SetMode(Controller, 0), "SetMode(Controller) rejected")

	req := []byte{0x01, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA, 0xAA}
	require.True(t, h.t.QueueRDMRequest(33, req, false), "QueueRDMRequest rejected")

	driveBreakAndMAB(t, h, 0xCC)

	for range req {
		h.t.OnUARTTXReady()
	}
	h.t.OnUARTTXReady() // frame exhausted: arms the unicast response window

	armed, us := h.timer.Armed()
	wantUS := h.t.Params().RDMResponseTimeout * 100
	require.True(t, armed && us == wantUS, "RDM response listen timer: armed=%v us=%d, want %d", armed, us, wantUS)

	// A minimal (PDL=0) 26-byte RDM response: START_CODE, sub-start-code,
	// message_length=24, 21 reserved header bytes (PDL at buf[23]=0), then
	// the 16-bit additive checksum over the preceding 24 bytes.
	resp := make([]byte, rdmMinFrame)
	resp[0] = rdmStartCode
	resp[1] = rdmSubStartCode
	resp[2] = 24
	sum := rdmChecksum(resp[:24])
	resp[24] = byte(sum >> 8)
	resp[25] = byte(sum)

	// BREAK: a 100us low period, well within [minBreakLowUS, maxBreakLowUS].
	h.cap.Edge(false, 0)
	h.cap.Edge(true, 100)

	for _, b := range resp {
		h.uart.Deliver(b, hal.UARTOK)
	}

	h.t.Tasks()

	assert.Empty(t, rxEvents, "response misdelivered to rxHandler as unsolicited data")
	require.Len(t, txEvents, 1)
	ev := txEvents[0]
	assert.Equal(t, OpRDMRequest, ev.Op)
	assert.Equal(t, ResultRXData, ev.Result)
	assert.Equal(t, uint32(33), ev.Token)
	assert.Equal(t, resp, ev.Data)

	// The transceiver must not be wedged: the next queued operation starts.
	require.True(t, h.t.QueueDMX(99, []byte{7}), "QueueDMX rejected after RDM round trip completed")
	// The controller backoff after an answered request has to pass before
	// Tasks starts the queued frame.
	for i := uint32(0); i <= controllerMinBreakToBreak; i++ {
		h.clk.Tick()
	}
	h.t.Tasks()
	driveBreakAndMAB(t, h, 0x00)
}

// TestModeChangeDeferredUntilIdle covers §4.2.4: a mode change requested
// while an operation is in flight must not take effect until the line
// returns to idle, and is reported via the MODE_CHANGE event only then.
func TestModeChangeDeferredUntilIdle(t *testing.T) {
	var txEvents, modeEvents []Event
	h := newHarness(
		func(ev Event) bool { txEvents = append(txEvents, ev); return false },
		func(ev Event) bool { modeEvents = append(modeEvents, ev); return false },
	)

	reply := []byte{0x01, 0x02}
	require.True(t, h.t.QueueRDMResponse(5, reply), "QueueRDMResponse rejected in default RESPONDER mode")

	require.True(t, h.t.SetMode(Controller, 99), "SetMode rejected")
	assert.Equal(t, Responder, h.t.Mode(), "mode committed early")
	assert.Empty(t, modeEvents, "MODE_CHANGE reported before the line went idle")

	driveBreakAndMAB(t, h, 0xCC)
	for range reply {
		h.t.OnUARTTXReady()
	}
	h.t.OnUARTTXReady() // frame exhausted

	h.t.Tasks()

	require.Len(t, txEvents, 1)
	assert.Equal(t, OpRDMResponse, txEvents[0].Op)
	assert.Equal(t, ResultOK, txEvents[0].Result)
	assert.Equal(t, Controller, h.t.Mode(), "mode not committed after line went idle")
	require.Len(t, modeEvents, 1)
	assert.Equal(t, OpModeChange, modeEvents[0].Op)
	assert.Equal(t, uint32(99), modeEvents[0].Token)

	assert.True(t, h.t.QueueDMX(1, []byte{1}), "QueueDMX rejected after mode committed to Controller")
}

// TestSetModeRejectsSecondPendingChange covers the other half of §4.2.4: only
// one mode change may be pending at a time.
func TestSetModeRejectsSecondPendingChange(t *testing.T) {
	h := newHarness(nil, nil)

	require.True(t, h.t.QueueRDMResponse(1, []byte{0x01}), "QueueRDMResponse rejected")
	require.True(t, h.t.SetMode(Controller, 1), "first SetMode rejected")
	assert.False(t, h.t.SetMode(SelfTest, 2), "second SetMode accepted while one is already pending")
}
