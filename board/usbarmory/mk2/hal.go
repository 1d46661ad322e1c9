// USB armory Mk II support for tamago/arm
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mk2

import (
	"github.com/dmxgateway/firmware/hal"
	"github.com/dmxgateway/firmware/soc/nxp/gpio"
)

// breakPin adapts a soc/nxp/gpio.Pin into hal.BreakPin. The pin is shared
// between the UART peripheral's own TX pad mux and direct GPIO drive;
// SetUARTMode(false) must be called before Set, and SetUARTMode(true)
// before resuming normal framed transmission through the UART core.
type breakPin struct {
	pin *gpio.Pin
}

// NewBreakPin wires a GPIO line as a hal.BreakPin. Pad muxing between the
// UART TXD function and plain GPIO output is assumed to already be
// configured by board init. SetUARTMode(false) only switches the GPIO line
// to output and SetUARTMode(true) does nothing; neither touches IOMUXC.
func NewBreakPin(pin *gpio.Pin) hal.BreakPin {
	return &breakPin{pin: pin}
}

func (b *breakPin) SetUARTMode(uartOwned bool) {
	if !uartOwned {
		b.pin.Out()
	}
}

func (b *breakPin) Set(high bool) {
	if high {
		b.pin.High()
	} else {
		b.pin.Low()
	}
}

// driverEnable adapts a pair of soc/nxp/gpio.Pin lines into hal.DriverEnable
// for an EIA-485 transceiver's driver/receiver enable inputs. rxActiveLow
// absorbs a board's receiver-enable polarity so that SetRX(true) always
// means "receiver listening" regardless of wiring.
type driverEnable struct {
	tx          *gpio.Pin
	rx          *gpio.Pin
	rxActiveLow bool
}

// NewDriverEnable wires two GPIO lines as a hal.DriverEnable. Many
// EIA-485 transceivers tie DE and /RE to a single line; callers may pass
// the same *gpio.Pin for both tx and rx in that case.
func NewDriverEnable(tx, rx *gpio.Pin, rxActiveLow bool) hal.DriverEnable {
	return &driverEnable{tx: tx, rx: rx, rxActiveLow: rxActiveLow}
}

func (d *driverEnable) SetTX(on bool) {
	if on {
		d.tx.High()
	} else {
		d.tx.Low()
	}
}

func (d *driverEnable) SetRX(on bool) {
	assert := on
	if d.rxActiveLow {
		assert = !assert
	}

	if assert {
		d.rx.High()
	} else {
		d.rx.Low()
	}
}
