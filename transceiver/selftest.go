// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// This file implements C7: the controller-mode RDM inter-frame timing
// policy (the self-test loopback itself is runSelfTest in tx.go). The
// backoff constants are grounded on
// transceiver_timing.h's E1.20 Table 3-2 values, which are already
// expressed in tenths of a millisecond — exactly one coarse-timer tick — so
// no unit conversion is needed.
package transceiver

const (
	controllerMinBreakToBreak        = 13
	controllerDUBBackoff             = 58
	controllerBroadcastBackoff       = 2
	controllerMissingResponseBackoff = 30
	controllerNonRDMBackoff          = 2
)

// backoffTicksFor returns the minimum inter-frame gap, in coarse-timer
// ticks, the controller must observe after completing op/result before
// starting its next transmission.
func backoffTicksFor(op Op, result Result) uint32 {
	switch op {
	case OpRDMDUB:
		if result == ResultRXTimeout {
			return controllerDUBBackoff
		}
		return controllerMinBreakToBreak
	case OpRDMRequest:
		switch result {
		case ResultRXTimeout:
			return controllerMissingResponseBackoff
		default:
			return controllerMinBreakToBreak
		}
	case OpDMX, OpASC:
		return controllerNonRDMBackoff
	default:
		return controllerMinBreakToBreak
	}
}

// broadcastBackoffTicks is used instead of backoffTicksFor when an RDM
// request completed as a broadcast (result reported OK, not a timeout,
// since broadcasts never expect a response).
const broadcastBackoffTicks = controllerBroadcastBackoff
