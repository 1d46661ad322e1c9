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
)

// TestParamsRejectOutOfRange covers invariant #3: every setter refuses an
// out-of-range value and leaves the prior configuration untouched.
func TestParamsRejectOutOfRange(t *testing.T) {
	cases := []struct {
		name string
		set  func(p *Params, v uint32) bool
		bad  uint32
	}{
		{"BreakTime", (*Params).SetBreakTime, minBreakTime - 1},
		{"BreakTime/high", (*Params).SetBreakTime, maxBreakTime + 1},
		{"MABTime", (*Params).SetMABTime, minMABTime - 1},
		{"MABTime/high", (*Params).SetMABTime, maxMABTime + 1},
		{"RDMBroadcastListen", (*Params).SetRDMBroadcastListen, maxRDMBroadcastListen + 1},
		{"RDMResponseTimeout", (*Params).SetRDMResponseTimeout, minRDMResponseTimeout - 1},
		{"RDMDUBResponseLimit", (*Params).SetRDMDUBResponseLimit, maxRDMDUBResponseLimit + 1},
		{"RDMResponderDelay", (*Params).SetRDMResponderDelay, maxRDMResponderDelay + 1},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			p := DefaultParams()
			before := p
			assert.False(t, c.set(&p, c.bad), "accepted out-of-range value %d", c.bad)
			assert.Equal(t, before, p, "rejected setter mutated state")
		})
	}
}

// TestResponderJitterRangeTracksDelay covers invariant #4: the valid jitter
// range depends on the current responder delay, and raising the delay
// re-clamps an existing jitter that would now exceed the E1.20 ceiling.
func TestResponderJitterRangeTracksDelay(t *testing.T) {
	p := DefaultParams()

	assert.True(t, p.SetRDMResponderDelay(18000), "SetRDMResponderDelay(18000) rejected")
	assert.True(t, p.SetRDMResponderJitter(2000), "SetRDMResponderJitter(2000) rejected at delay 18000")
	assert.False(t, p.SetRDMResponderJitter(2001), "SetRDMResponderJitter(2001) accepted, exceeds the 20000 ceiling")

	assert.True(t, p.SetRDMResponderDelay(19500), "SetRDMResponderDelay(19500) rejected")
	assert.Equal(t, uint32(500), p.RDMResponderJitter, "jitter not re-clamped after raising delay")
}
