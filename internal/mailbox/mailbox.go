// DMX/RDM gateway firmware core
// https://github.com/dmxgateway/firmware
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mailbox implements the single-producer/single-consumer handoff
// between an ISR and the main loop described in the firmware's concurrency
// model: the ISR writes a small tagged event with release semantics, the
// main loop drains it with acquire semantics. There is room for exactly one
// pending event per direction; a second ISR write before the main loop
// drains the first overwrites it, which is correct for the transceiver's
// use here since the ISR only ever posts one kind of "something
// happened, go look at state" nudge, not a payload queue.
package mailbox

import "sync/atomic"

// Mailbox holds at most one pending event, identified by a small integer
// tag chosen by the caller. A zero Mailbox is empty and ready to use.
type Mailbox struct {
	pending atomic.Uint32
	full    atomic.Bool
}

// Post stores tag and marks the mailbox full. Safe to call from interrupt
// context; never blocks, never allocates.
func (m *Mailbox) Post(tag uint32) {
	m.pending.Store(tag)
	m.full.Store(true)
}

// Take drains the pending tag, if any. The second return value is false if
// the mailbox was empty.
func (m *Mailbox) Take() (uint32, bool) {
	if !m.full.Load() {
		return 0, false
	}
	tag := m.pending.Load()
	m.full.Store(false)
	return tag, true
}

// Peek reports whether an event is pending without draining it.
func (m *Mailbox) Peek() bool {
	return m.full.Load()
}
