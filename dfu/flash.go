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
	"errors"

	"github.com/dmxgateway/firmware/hal"
)

type pipelinePhase int

const (
	phaseIdle pipelinePhase = iota
	phaseErasing
	phaseWriting
)

// flashPipeline implements the §4.3.4 flash programming pipeline: erase
// every page of the target region on the first block, then write and
// verify the payload word by word. Each call to step performs exactly one
// erase or one write+verify, so the caller (Engine.Tasks, driven from the
// main loop) can bound the work done per iteration.
type flashPipeline struct {
	phase pipelinePhase

	erasedUpTo uint32 // offset within the region already erased
	region     Region
	erased     bool

	addr uint32 // next word-aligned flash address to write
	buf  []byte // bytes queued but not yet written; may include a
	// trailing partial word carried over from the previous block
	finalizing bool
}

// queue appends body bytes to the pipeline's pending buffer. Called
// synchronously from Dnload; performs no I/O.
func (p *flashPipeline) queue(body []byte) {
	p.buf = append(p.buf, body...)
}

// start arms the pipeline for the block just buffered, called once per
// DNBUSY entry (i.e. once per block). It records the target region on the
// first call and schedules an erase pass if one has not already run for
// this transfer.
func (p *flashPipeline) start(e *Engine, block *blockState) {
	if p.region == (Region{}) {
		p.region = block.region
		p.addr = block.region.Base
	}
	if !p.erased {
		p.phase = phaseErasing
	} else {
		p.phase = phaseWriting
	}
}

// startFinalize arms the pipeline to pad and flush any trailing partial
// word once the host has signalled end-of-image with a zero-length DNLOAD.
func (p *flashPipeline) startFinalize() {
	p.finalizing = true
	p.phase = phaseWriting
}

// step performs one bounded unit of work. done is true once the currently
// armed phase (one block's worth of writes, or the final padded flush) has
// fully drained; status is non-OK on the first flash failure encountered.
func (p *flashPipeline) step(flash hal.FlashDriver, block *blockState) (done bool, status Status) {
	switch p.phase {
	case phaseErasing:
		return p.stepErase(flash)
	case phaseWriting:
		return p.stepWrite(flash, block)
	default:
		return true, StatusOK
	}
}

func (p *flashPipeline) stepErase(flash hal.FlashDriver) (bool, Status) {
	page := flash.PageSize()

	if p.erasedUpTo >= p.region.Size {
		p.erased = true
		p.phase = phaseWriting
		return p.stepWrite(flash, nil)
	}

	addr := p.region.Base + p.erasedUpTo
	if err := flash.ErasePage(addr); err != nil {
		return true, StatusErrErase
	}
	p.erasedUpTo += page

	return false, StatusOK
}

func (p *flashPipeline) stepWrite(flash hal.FlashDriver, block *blockState) (bool, Status) {
	if len(p.buf) < 4 {
		if !p.finalizing {
			return true, StatusOK
		}
		if len(p.buf) == 0 {
			p.finalizing = false
			return true, StatusOK
		}
		for len(p.buf) < 4 {
			p.buf = append(p.buf, 0xFF)
		}
	}

	word := uint32(p.buf[0]) | uint32(p.buf[1])<<8 | uint32(p.buf[2])<<16 | uint32(p.buf[3])<<24
	p.buf = p.buf[4:]

	if err := flash.WriteWord(p.addr, word); err != nil {
		var we *hal.WriteError
		if errors.As(err, &we) && we.Code == hal.FlashProgFailed {
			return true, StatusErrProg
		}
		return true, StatusErrWrite
	}
	if flash.ReadWord(p.addr) != word {
		return true, StatusErrVerify
	}

	p.addr += 4
	if block != nil {
		block.nextFlashAddress = p.addr
	}

	if p.finalizing && len(p.buf) == 0 {
		p.finalizing = false
		return true, StatusOK
	}
	if !p.finalizing && len(p.buf) < 4 {
		return true, StatusOK
	}
	return false, StatusOK
}
