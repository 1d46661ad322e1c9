// USB device mode support
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

import "github.com/dmxgateway/firmware/dfu"

// DFU class-specific request codes, see spec.md §6.2. These numerically
// collide with the standard request codes of setup.go (GET_STATUS, etc.), but
// are only reached via the class-type bit in RequestType, which
// classRequest checks before DFUSetup claims a request.
const (
	dfuDetach    = 0
	dfuDnload    = 1
	dfuUpload    = 2
	dfuGetStatus = 3
	dfuClrStatus = 4
	dfuGetState  = 5
	dfuAbort     = 6
)

// classRequest reports whether a setup packet is a class request (as
// opposed to a standard or vendor request), see p248, Table 9-2, USB2.0.
func classRequest(setup *SetupData) bool {
	const requestTypeType = 5
	return (setup.RequestType>>requestTypeType)&0x3 == 1
}

// DFUSetup adapts a *dfu.Engine into a SetupFunction for Device.Setup,
// implementing the control requests of spec.md §6.2 on interface 0, plus
// SET_INTERFACE (the host's mechanism for picking the "firmware" vs "uid"
// alternate setting, per §6.2). Any request this function doesn't fully
// claim returns done=false so the standard handlers in handleSetup still
// run.
func DFUSetup(e *dfu.Engine) SetupFunction {
	return func(setup *SetupData, out []byte) (in []byte, ack bool, done bool, err error) {
		if setup.Request == SET_INTERFACE {
			// Observe the alternate setting (0=firmware, 1=uid) without
			// claiming the request; the standard handler below still
			// needs to run to ack it and record it on hw.Device.
			e.SetAlternate(dfu.Alternate(setup.Value >> 8))
			return nil, false, false, nil
		}

		if !classRequest(setup) {
			return nil, false, false, nil
		}

		switch setup.Request {
		case dfuDnload:
			return nil, true, true, e.Dnload(setup.Value, out)
		case dfuClrStatus:
			return nil, true, true, e.ClrStatus()
		case dfuAbort:
			return nil, true, true, e.Abort()
		case dfuGetState:
			return []byte{e.GetState()}, false, true, nil
		case dfuGetStatus:
			status, pollMS, state, stringIndex := e.GetStatus()
			buf := []byte{
				byte(status),
				byte(pollMS),
				byte(pollMS >> 8),
				byte(pollMS >> 16),
				byte(state),
				stringIndex,
			}
			return buf, false, true, nil
		case dfuUpload, dfuDetach:
			// Not supported in DFU mode; let the caller stall by
			// returning an error, per §6.2's "stalls" note for UPLOAD.
			return nil, false, true, errUnsupportedDFURequest{setup.Request}
		default:
			return nil, false, false, nil
		}
	}
}

type errUnsupportedDFURequest struct{ request uint8 }

func (e errUnsupportedDFURequest) Error() string {
	return "usb: unsupported DFU request"
}
