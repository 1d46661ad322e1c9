// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dfu implements the USB DFU 1.1 control-endpoint state machine:
// block assembly, the flash programming pipeline, image validation and
// error recovery. It is grounded on the original firmware's DFUState/
// DFUStatus enumeration (common/dfu_constants.h) and bootloader.h, rebuilt
// here as an explicit state machine instead of a single global struct of
// interrupt-shared fields.
//
// The engine never touches flash from the USB control path directly: a
// DNLOAD's data is buffered by Dnload, and the actual erase/program/verify
// work happens word-by-word across repeated Tasks calls from the main
// loop, matching the rule that ISRs (and, by extension, the control
// transfer completion callback invoked near interrupt context) must never
// call flash routines.
package dfu

import (
	"github.com/dmxgateway/firmware/dfu/image"
	"github.com/dmxgateway/firmware/hal"
)

// State is a USB DFU 1.1 state, see §4.3.1.
type State int

const (
	AppIdle State = iota
	AppDetach
	Idle
	DnloadSync
	DnBusy
	DnloadIdle
	ManifestSync
	Manifest
	ManifestWaitReset
	UploadIdle
	Error
)

// Status is a DFU status code, returned verbatim in GETSTATUS responses.
type Status byte

const (
	StatusOK             Status = 0x00
	StatusErrTarget      Status = 0x01
	StatusErrFile        Status = 0x02
	StatusErrWrite       Status = 0x03
	StatusErrErase       Status = 0x04
	StatusErrCheckErased Status = 0x05
	StatusErrProg        Status = 0x06
	StatusErrVerify      Status = 0x07
	StatusErrAddress     Status = 0x08
	StatusErrNotDone     Status = 0x09
	StatusErrFirmware    Status = 0x0a
	StatusErrVendor      Status = 0x0b
	StatusErrUSBR        Status = 0x0c
	StatusErrPOR         Status = 0x0d
	StatusErrUnknown     Status = 0x0e
	StatusErrStalledPkt  Status = 0x0f
)

// Alternate selects which flash region a DNLOAD targets.
type Alternate uint8

const (
	// AltFirmware is interface alternate setting 0.
	AltFirmware Alternate = 0
	// AltUID is interface alternate setting 1.
	AltUID Alternate = 1
)

// MaxBlockSize is the largest DNLOAD payload accepted per §4.3.2.
const MaxBlockSize = 64

// Region describes one flash-backed target addressable by an Alternate.
type Region struct {
	Base uint32
	Size uint32
}

// Config is the static, board-supplied configuration of an Engine.
type Config struct {
	// HardwareModel is compared against an incoming image's
	// ImageHeader.Model.
	HardwareModel uint16
	// Regions maps each Alternate to its flash-backed target.
	Regions map[Alternate]Region
	// UIDWritable disables AltUID downloads when false.
	UIDWritable bool
}

// blockState mirrors §3.5's Block state group.
type blockState struct {
	expectedIndex    uint16
	bytesReceived    uint32
	nextFlashAddress uint32
	header           image.Header
	headerSeen       bool
	region           Region
}

// Engine is the DFU control-endpoint state machine for a single interface.
// The zero value is not usable, construct with New.
type Engine struct {
	cfg   Config
	flash hal.FlashDriver

	state  State
	status Status
	alt    Alternate
	block  blockState

	pipeline flashPipeline
}

// New returns an Engine in AppIdle, ready to transition to Idle once the
// USB device reaches the CONFIGURED state (see Configured).
func New(cfg Config, flash hal.FlashDriver) *Engine {
	return &Engine{cfg: cfg, flash: flash, state: AppIdle, status: StatusOK}
}

// State returns the current DFU state.
func (e *Engine) State() State { return e.state }

// Status returns the current DFU status code.
func (e *Engine) Status() Status { return e.status }

// Configured transitions the engine to Idle once the USB device has
// enumerated and reached the CONFIGURED state, per §4.3.7.
func (e *Engine) Configured() {
	e.state = Idle
	e.status = StatusOK
	e.block = blockState{}
	e.pipeline = flashPipeline{}
}

// Deconfigured returns the engine to AppIdle (endpoint no longer usable).
func (e *Engine) Deconfigured() {
	e.state = AppIdle
}

// BusReset cancels any in-flight data phase with ERR_STALLED_PKT, per the
// cancellation rule in §5: a USB bus reset always aborts a DFU block data
// phase this way, regardless of which state the transfer was in.
func (e *Engine) BusReset() {
	if e.state == AppIdle || e.state == AppDetach {
		return
	}
	e.fail(StatusErrStalledPkt)
}

// SetAlternate records the host's SET_INTERFACE selection for the next
// download. It may be changed freely while idle; once a download is in
// progress (block state non-zero) the host is expected to finish or abort
// first, but the engine does not itself enforce that. The selection is read
// only when a transfer's header block is accepted, so a change made
// mid-transfer does not affect the transfer in progress.
func (e *Engine) SetAlternate(alt Alternate) {
	e.alt = alt
}

// Alternate returns the currently selected alternate setting.
func (e *Engine) Alternate() Alternate { return e.alt }

func (e *Engine) fail(status Status) {
	e.state = Error
	e.status = status
}

// ClrStatus implements the CLRSTATUS request: only valid from Error, clears
// status and returns to Idle.
func (e *Engine) ClrStatus() error {
	if e.state != Error {
		e.fail(StatusErrStalledPkt)
		return errUnexpected
	}
	e.state = Idle
	e.status = StatusOK
	e.block = blockState{}
	e.pipeline = flashPipeline{}
	return nil
}

// Abort implements the ABORT request: returns to Idle from DnloadIdle or
// ManifestSync, dropping any partial transfer.
func (e *Engine) Abort() error {
	switch e.state {
	case Idle, DnloadIdle, ManifestSync, UploadIdle:
		e.state = Idle
		e.block = blockState{}
		e.pipeline = flashPipeline{}
		return nil
	default:
		e.fail(StatusErrStalledPkt)
		return errUnexpected
	}
}

// GetState implements the GETSTATE request.
func (e *Engine) GetState() byte { return byte(e.state) }

// GetStatus implements the GETSTATUS request. pollTimeoutMs is nonzero only
// while DnBusy, giving the host a hint for how soon to poll again; this
// engine always reports a small fixed value since the real cost is bounded
// per-Tasks flash work, not a wall-clock delay.
func (e *Engine) GetStatus() (status Status, pollTimeoutMs uint32, state State, stringIndex byte) {
	if e.state == DnloadSync {
		e.state = DnBusy
		e.pipeline.start(e, &e.block)
	} else if e.state == ManifestSync {
		e.state = Manifest
	}

	timeout := uint32(0)
	if e.state == DnBusy {
		timeout = 1
	}

	return e.status, timeout, e.state, 0
}

var errUnexpected = errUnexpectedError{}

type errUnexpectedError struct{}

func (errUnexpectedError) Error() string { return "dfu: unexpected request for current state" }

// Dnload implements the DNLOAD request. data is nil/empty for a
// zero-length DNLOAD (the manifest trigger); otherwise it is the block
// payload, already received in full by the control transfer layer.
func (e *Engine) Dnload(wValue uint16, data []byte) error {
	switch e.state {
	case Idle, DnloadIdle:
	default:
		e.fail(StatusErrStalledPkt)
		return errUnexpected
	}

	if len(data) == 0 {
		return e.manifestTrigger()
	}

	if len(data) > MaxBlockSize {
		e.fail(StatusErrStalledPkt)
		return errUnexpected
	}

	blockIndex := wValue
	if e.state == Idle {
		e.block = blockState{expectedIndex: 0}
		e.pipeline = flashPipeline{}
	}

	if blockIndex != e.block.expectedIndex {
		e.fail(StatusErrStalledPkt)
		return errUnexpected
	}

	if !e.block.headerSeen {
		if err := e.acceptHeader(data); err != nil {
			return err
		}
	} else {
		e.bufferBody(data)
	}

	e.block.expectedIndex++
	e.state = DnloadSync
	return nil
}

func (e *Engine) acceptHeader(data []byte) error {
	if len(data) < image.HeaderSize {
		e.fail(StatusErrFile)
		return errUnexpected
	}

	h, err := image.ParseHeader(data)
	if err != nil {
		e.fail(StatusErrFile)
		return errUnexpected
	}

	// Validation order per the image-validation design: version, then
	// size against the target region, then model.
	if h.Version != image.HeaderVersion {
		e.fail(StatusErrTarget)
		return errUnexpected
	}

	region, ok := e.cfg.Regions[e.alt]
	if !ok || (e.alt == AltUID && !e.cfg.UIDWritable) {
		e.fail(StatusErrTarget)
		return errUnexpected
	}
	if h.Size > region.Size {
		e.fail(StatusErrAddress)
		return errUnexpected
	}

	if h.Model != e.cfg.HardwareModel && h.Model != image.ModelUndefined {
		e.fail(StatusErrTarget)
		return errUnexpected
	}

	e.block.header = h
	e.block.headerSeen = true
	e.block.region = region
	e.block.nextFlashAddress = region.Base
	e.block.bytesReceived = image.HeaderSize

	e.bufferBody(data[image.HeaderSize:])
	return nil
}

func (e *Engine) bufferBody(body []byte) {
	if len(body) == 0 {
		return
	}
	e.pipeline.queue(body)
	e.block.bytesReceived += uint32(len(body))
}

func (e *Engine) manifestTrigger() error {
	want := e.block.header.Size + image.HeaderSize
	if e.block.bytesReceived != want {
		e.fail(StatusErrNotDone)
		return errUnexpected
	}
	e.pipeline.startFinalize()
	e.state = ManifestSync
	return nil
}

// tasksStep advances the flash pipeline by one bounded unit of work, called
// from the main loop's Tasks. Completing the pipeline moves DnBusy to
// DnloadIdle, or Manifest to Idle; a pipeline failure moves to Error with
// the matching status.
func (e *Engine) tasksStep() {
	switch e.state {
	case DnBusy:
		done, status := e.pipeline.step(e.flash, &e.block)
		if status != StatusOK {
			e.fail(status)
			return
		}
		if done {
			e.state = DnloadIdle
		}
	case Manifest:
		done, status := e.pipeline.step(e.flash, &e.block)
		if status != StatusOK {
			e.fail(status)
			return
		}
		if done {
			e.state = Idle
		}
	}
}

// Tasks advances deferred flash work. Call once per main loop iteration.
func (e *Engine) Tasks() {
	e.tasksStep()
}
