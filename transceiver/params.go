// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package transceiver

// Params is the transceiver's run-time-mutable timing configuration, §3.3.
// BreakTime and MABTime are in microseconds; RDMBroadcastListen and
// RDMResponseTimeout are in 100us ticks; RDMDUBResponseLimit,
// RDMResponderDelay and RDMResponderJitter are in 100ns units, grounded on
// transceiver_timing.h's own choice of 10ths-of-a-microsecond for RDM
// table values.
type Params struct {
	BreakTime           uint32
	MABTime             uint32
	RDMBroadcastListen  uint32
	RDMResponseTimeout  uint32
	RDMDUBResponseLimit uint32
	RDMResponderDelay   uint32
	RDMResponderJitter  uint32
}

// DefaultParams returns the factory timing configuration.
func DefaultParams() Params {
	return Params{
		BreakTime:           176,
		MABTime:             12,
		RDMBroadcastListen:  28,
		RDMResponseTimeout:  28,
		RDMDUBResponseLimit: 29000,
		RDMResponderDelay:   1760,
		RDMResponderJitter:  0,
	}
}

const (
	minBreakTime = 44
	maxBreakTime = 800

	minMABTime = 4
	maxMABTime = 800

	minRDMBroadcastListen = 0
	maxRDMBroadcastListen = 50

	minRDMResponseTimeout = 10
	maxRDMResponseTimeout = 50

	minRDMDUBResponseLimit = 10000
	maxRDMDUBResponseLimit = 35000

	minRDMResponderDelay = 1760
	maxRDMResponderDelay = 20000
)

// SetBreakTime validates and applies a new BREAK duration. It rejects
// out-of-range values without modifying the current configuration.
func (p *Params) SetBreakTime(us uint32) bool {
	if us < minBreakTime || us > maxBreakTime {
		return false
	}
	p.BreakTime = us
	return true
}

// SetMABTime validates and applies a new mark-after-break duration.
func (p *Params) SetMABTime(us uint32) bool {
	if us < minMABTime || us > maxMABTime {
		return false
	}
	p.MABTime = us
	return true
}

// SetRDMBroadcastListen validates and applies the broadcast listen window,
// in 100us ticks.
func (p *Params) SetRDMBroadcastListen(ticks uint32) bool {
	if ticks < minRDMBroadcastListen || ticks > maxRDMBroadcastListen {
		return false
	}
	p.RDMBroadcastListen = ticks
	return true
}

// SetRDMResponseTimeout validates and applies the unicast response
// timeout, in 100us ticks.
func (p *Params) SetRDMResponseTimeout(ticks uint32) bool {
	if ticks < minRDMResponseTimeout || ticks > maxRDMResponseTimeout {
		return false
	}
	p.RDMResponseTimeout = ticks
	return true
}

// SetRDMDUBResponseLimit validates and applies the DUB listen window, in
// 100ns units.
func (p *Params) SetRDMDUBResponseLimit(units uint32) bool {
	if units < minRDMDUBResponseLimit || units > maxRDMDUBResponseLimit {
		return false
	}
	p.RDMDUBResponseLimit = units
	return true
}

// SetRDMResponderDelay validates and applies the responder's turnaround
// delay, in 100ns units. Raising the delay re-clamps the jitter range so
// delay+jitter never exceeds the E1.20 ceiling.
func (p *Params) SetRDMResponderDelay(units uint32) bool {
	if units < minRDMResponderDelay || units > maxRDMResponderDelay {
		return false
	}
	p.RDMResponderDelay = units
	if p.RDMResponderDelay+p.RDMResponderJitter > maxRDMResponderDelay {
		p.RDMResponderJitter = maxRDMResponderDelay - p.RDMResponderDelay
	}
	return true
}

// SetRDMResponderJitter validates and applies the responder's added
// jitter, in 100ns units. The valid range depends on the current delay:
// 0 to (20000 - delay).
func (p *Params) SetRDMResponderJitter(units uint32) bool {
	if p.RDMResponderDelay+units > maxRDMResponderDelay {
		return false
	}
	p.RDMResponderJitter = units
	return true
}
