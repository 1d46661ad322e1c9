// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildFrame(pd []byte, cc CommandClass, pid uint16) []byte {
	resp := Response{Type: ResponseACK, CommandClass: cc, ParameterID: pid, ParameterData: pd}
	dst := UID{0x12, 0x34, 0x00, 0x00, 0x00, 0x01}
	src := UID{0x56, 0x78, 0x00, 0x00, 0x00, 0x02}
	return resp.Encode(dst, src, 7, 1, rootSubDevice)
}

func TestParseRequestRoundTripsWithZeroLengthParameterData(t *testing.T) {
	buf := buildFrame(nil, GetCommandResponse, 0x0060)

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, uint16(rootSubDevice), req.SubDevice)
	assert.Equal(t, uint16(0x0060), req.ParameterID)
	assert.Empty(t, req.ParameterData)
}

func TestParseRequestRoundTripsWithParameterData(t *testing.T) {
	pd := []byte{0x01, 0x02, 0x03, 0x04}
	buf := buildFrame(pd, SetCommandResponse, 0x0041)

	req, err := ParseRequest(buf)
	require.NoError(t, err)
	assert.Equal(t, pd, req.ParameterData)
}

func TestParseRequestRejectsBadChecksum(t *testing.T) {
	buf := buildFrame([]byte{0xAA}, GetCommandResponse, 0x0060)
	buf[len(buf)-1] ^= 0xFF

	_, err := ParseRequest(buf)
	assert.Equal(t, ErrChecksum, err)
}

func TestParseRequestRejectsTooShort(t *testing.T) {
	_, err := ParseRequest([]byte{0xCC, 0x01, 0x18})
	assert.Equal(t, ErrTooShort, err)
}

type stubResponder struct {
	got Request
	out Response
}

func (s *stubResponder) HandleRequest(req Request) Response {
	s.got = req
	return s.out
}

func TestDispatchRoutesRootDeviceToResponder(t *testing.T) {
	buf := buildFrame(nil, GetCommandResponse, 0x0060)
	req, err := ParseRequest(buf)
	require.NoError(t, err)

	want := Response{Type: ResponseACK, CommandClass: GetCommandResponse, ParameterID: 0x0060}
	sr := &stubResponder{out: want}

	got := Dispatch(sr, req)
	assert.Equal(t, req.ParameterID, sr.got.ParameterID, "responder did not receive the parsed request")
	assert.Equal(t, want, got)
}

func TestDispatchNacksNonRootSubDeviceWithoutCallingResponder(t *testing.T) {
	buf := buildFrame(nil, GetCommandResponse, 0x0060)
	req, err := ParseRequest(buf)
	require.NoError(t, err)
	req.SubDevice = 1

	sr := &stubResponder{}
	got := Dispatch(sr, req)

	assert.Equal(t, Request{}, sr.got, "responder was called for a non-root sub-device request")
	assert.Equal(t, ResponseNACKReason, got.Type)
	want := NackReason(uint16(got.ParameterData[0])<<8 | uint16(got.ParameterData[1]))
	assert.Equal(t, NRSubDeviceOutOfRange, want)
}

func TestUIDIsBroadcast(t *testing.T) {
	broadcast := UID{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
	assert.True(t, broadcast.IsBroadcast())

	unicast := UID{0x12, 0x34, 0x00, 0x00, 0x00, 0x01}
	assert.False(t, unicast.IsBroadcast())
}
