// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dfu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmxgateway/firmware/dfu/image"
	"github.com/dmxgateway/firmware/hal/fake"
)

// runUntilSettled issues the GETSTATUS that arms deferred flash work (the
// DnloadSync->DnBusy / ManifestSync->Manifest transitions), then drives
// Tasks until the engine leaves DnBusy/Manifest. It fails the test after a
// generous bound on iterations (each iteration does one bounded unit of
// pipeline work, so a small image needs only a handful).
func runUntilSettled(t *testing.T, e *Engine) {
	t.Helper()
	e.GetStatus()
	for i := 0; i < 1000; i++ {
		if e.State() != DnBusy && e.State() != Manifest {
			return
		}
		e.Tasks()
	}
	t.Fatalf("engine did not settle, stuck in state %v status %v", e.State(), e.Status())
}

func newTestEngine(regions map[Alternate]Region, uidWritable bool, flash *fake.Flash) *Engine {
	cfg := Config{
		HardwareModel: 7,
		Regions:       regions,
		UIDWritable:   uidWritable,
	}
	e := New(cfg, flash)
	e.Configured()
	return e
}

// downloadImage drives a full DFU download of body framed by an image
// header for model/manufacturer, split into MaxBlockSize chunks, followed
// by the zero-length manifest trigger. It stops and returns early if any
// Dnload call errors.
func downloadImage(t *testing.T, e *Engine, model uint16, manufacturerID uint32, body []byte) error {
	t.Helper()

	h := image.Header{Version: image.HeaderVersion, Size: uint32(len(body)), Model: model, ManufacturerID: manufacturerID}
	full := append(h.Encode(), body...)

	var index uint16
	for len(full) > 0 {
		n := MaxBlockSize
		if n > len(full) {
			n = len(full)
		}
		if err := e.Dnload(index, full[:n]); err != nil {
			return err
		}
		runUntilSettled(t, e)
		if e.State() != DnloadIdle {
			return errUnexpected
		}
		full = full[n:]
		index++
	}

	if err := e.Dnload(index, nil); err != nil {
		return err
	}
	runUntilSettled(t, e)
	return nil
}

// TestDownloadHappyPath covers S4: a UID image downloaded to the AltUID
// region end to end, with invariant #6 (the bytes landed in flash exactly
// match what was sent).
func TestDownloadHappyPath(t *testing.T) {
	flash := fake.NewFlash(0x1000, 256, 16)
	regions := map[Alternate]Region{AltUID: {Base: 0x1000, Size: 64}}
	e := newTestEngine(regions, true, flash)
	e.SetAlternate(AltUID)

	body := []byte("ABCDEFGH")
	require.NoError(t, downloadImage(t, e, 7, 0x1209, body), "status %v", e.Status())
	assert.Equal(t, Idle, e.State(), "state after manifest")
	assert.Equal(t, StatusOK, e.Status())

	assert.Equal(t, body, flash.Memory[0:len(body)], "flash mismatch")
	// the word following the body must still read 0xFF (erased), not be
	// left over from whatever was flashed before.
	for i := len(body); i < 12 && i < len(flash.Memory); i++ {
		assert.Equal(t, byte(0xFF), flash.Memory[i], "padding at %d", i)
	}
}

// TestDownloadModelWildcard covers the ModelUndefined passthrough alongside
// a full firmware-region download, using a body long enough to span more
// than one DNLOAD block.
func TestDownloadModelWildcard(t *testing.T) {
	flash := fake.NewFlash(0x8000, 4096, 256)
	regions := map[Alternate]Region{AltFirmware: {Base: 0x8000, Size: 4096}}
	e := newTestEngine(regions, false, flash)
	e.SetAlternate(AltFirmware)

	body := make([]byte, 200)
	for i := range body {
		body[i] = byte(i)
	}

	require.NoError(t, downloadImage(t, e, image.ModelUndefined, 0, body), "status %v", e.Status())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, StatusOK, e.Status())
	assert.Equal(t, body, flash.Memory[:len(body)], "flash mismatch")
}

// TestBlockSkipStalls covers S5: a skipped block index stalls the transfer
// with ERR_STALLED_PKT, recoverable via CLRSTATUS.
func TestBlockSkipStalls(t *testing.T) {
	flash := fake.NewFlash(0x1000, 256, 16)
	regions := map[Alternate]Region{AltUID: {Base: 0x1000, Size: 64}}
	e := newTestEngine(regions, true, flash)
	e.SetAlternate(AltUID)

	h := image.Header{Version: image.HeaderVersion, Size: 4, Model: 7}
	block0 := append(h.Encode(), []byte("DATA")...)

	require.NoError(t, e.Dnload(0, block0), "first block")
	runUntilSettled(t, e)
	require.Equal(t, DnloadIdle, e.State())

	assert.Error(t, e.Dnload(2, []byte{0x00}), "expected skipped block index to fail")
	assert.Equal(t, Error, e.State())
	assert.Equal(t, StatusErrStalledPkt, e.Status())

	require.NoError(t, e.ClrStatus())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, StatusOK, e.Status())
}

// TestOversizeImageRejectedBeforeErase covers S6: an oversize image is
// rejected with ERR_ADDRESS and never touches flash.
func TestOversizeImageRejectedBeforeErase(t *testing.T) {
	flash := fake.NewFlash(0x1000, 64, 16)
	for i := range flash.Memory {
		flash.Memory[i] = 0x00
	}
	regions := map[Alternate]Region{AltUID: {Base: 0x1000, Size: 32}}
	e := newTestEngine(regions, true, flash)
	e.SetAlternate(AltUID)

	h := image.Header{Version: image.HeaderVersion, Size: 1024, Model: 7}
	block0 := h.Encode()

	assert.Error(t, e.Dnload(0, block0), "expected oversize header to be rejected")
	assert.Equal(t, Error, e.State())
	assert.Equal(t, StatusErrAddress, e.Status())
	for i, b := range flash.Memory {
		assert.Equal(t, byte(0x00), b, "flash byte %d changed, erase must not have run", i)
	}
}

// TestEraseFailureRecovers covers S7: an erase failure moves to Error with
// ERR_ERASE, and a CLRSTATUS followed by a clean retry succeeds.
func TestEraseFailureRecovers(t *testing.T) {
	flash := fake.NewFlash(0x1000, 64, 16)
	flash.FailErase = map[uint32]bool{0x1000: true}
	regions := map[Alternate]Region{AltUID: {Base: 0x1000, Size: 32}}
	e := newTestEngine(regions, true, flash)
	e.SetAlternate(AltUID)

	h := image.Header{Version: image.HeaderVersion, Size: 4, Model: 7}
	block0 := append(h.Encode(), []byte("DATA")...)

	require.NoError(t, e.Dnload(0, block0))
	runUntilSettled(t, e)
	assert.Equal(t, Error, e.State())
	assert.Equal(t, StatusErrErase, e.Status())

	require.NoError(t, e.ClrStatus())

	delete(flash.FailErase, 0x1000)
	require.NoError(t, downloadImage(t, e, 7, 0, []byte("DATA")), "status %v", e.Status())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, StatusOK, e.Status())
	assert.Equal(t, "DATA", string(flash.Memory[0:4]))
}

// TestProgFailureRecovers covers spec.md §4.3.4's ERR_WRITE/ERR_PROG split:
// a driver-reported program-status failure (distinct from the primitive's
// own write failure) moves to Error with ERR_PROG, and a CLRSTATUS followed
// by a clean retry succeeds. Mirrors TestEraseFailureRecovers's shape for
// the write phase instead of the erase phase.
func TestProgFailureRecovers(t *testing.T) {
	flash := fake.NewFlash(0x1000, 64, 16)
	flash.FailProg = map[uint32]bool{0x1000: true}
	regions := map[Alternate]Region{AltUID: {Base: 0x1000, Size: 32}}
	e := newTestEngine(regions, true, flash)
	e.SetAlternate(AltUID)

	h := image.Header{Version: image.HeaderVersion, Size: 4, Model: 7}
	block0 := append(h.Encode(), []byte("DATA")...)

	require.NoError(t, e.Dnload(0, block0))
	runUntilSettled(t, e)
	assert.Equal(t, Error, e.State())
	assert.Equal(t, StatusErrProg, e.Status())

	require.NoError(t, e.ClrStatus())

	delete(flash.FailProg, 0x1000)
	require.NoError(t, downloadImage(t, e, 7, 0, []byte("DATA")), "status %v", e.Status())
	assert.Equal(t, Idle, e.State())
	assert.Equal(t, StatusOK, e.Status())
	assert.Equal(t, "DATA", string(flash.Memory[0:4]))
}
