// USB armory Mk II support for tamago/arm
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mk2 provides hardware initialization, automatically on import, for
// the USB armory Mk II single board computer, wired here as the carrier
// board for the DMX/RDM USB gateway: UART1 drives the DMX/RDM bus, UART2 is
// the debug console, USB1 is the device-mode DFU/vendor control endpoint.
//
// This package is only meant to be used with `GOOS=tamago GOARCH=arm` as
// supported by the TamaGo framework for bare metal Go on ARM SoCs, see
// https://github.com/dmxgateway/firmware.
package mk2

import (
	"github.com/dmxgateway/firmware/soc/nxp/imx6ul"

	_ "unsafe"
)

// Peripheral instances
var (
	GPIO1 = imx6ul.GPIO1
	GPIO2 = imx6ul.GPIO2

	// UART1 carries the DMX512/RDM bus.
	UART1 = imx6ul.UART1
	// UART2 is the debug console.
	UART2 = imx6ul.UART2

	USB1 = imx6ul.USB1
	USB2 = imx6ul.USB2
)

// Model returns the SoC model name, the Mk II carrier board itself is not
// further distinguished by this firmware.
func Model() (s string) {
	return imx6ul.Model()
}

// Init takes care of the lower level SoC initialization triggered early in
// runtime setup.
//
//go:linkname Init runtime.hwinit
func Init() {
	// initialize SoC
	imx6ul.Init()

	// initialize serial console
	imx6ul.UART2.Init()
}
