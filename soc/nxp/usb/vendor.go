// USB device mode support
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package usb

// FrameSink is the host-framing multiplexing contract on the gateway's
// vendor bulk pipe (EP1 IN/OUT): one command byte selects the operation
// (queue DMX, queue ASC, queue an RDM request, ...), the rest of the
// buffer is its payload. Only this dispatch contract is fixed here; the
// concrete command table and any business logic belong to the board
// wiring that constructs a FrameSink, not to this package.
type FrameSink interface {
	Dispatch(cmd byte, payload []byte)
}

// VendorOUT adapts a FrameSink into an EndpointFunction for the vendor
// bulk OUT endpoint: each transfer is one frame, [cmd byte][payload...].
// Empty transfers (zero bytes) are ignored rather than treated as an
// error, since a host may pad.
func VendorOUT(sink FrameSink) EndpointFunction {
	return func(buf []byte, lastErr error) ([]byte, error) {
		if lastErr != nil || len(buf) == 0 {
			return nil, lastErr
		}
		sink.Dispatch(buf[0], buf[1:])
		return nil, nil
	}
}
