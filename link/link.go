// ADI link transport (L0)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package link defines the transport-level contract that L1 (package adi)
// drives without knowing whether the physical link is SWD or JTAG
// (spec.md §4.1). Concrete bit-banging of SWCLK/SWDIO or TMS/TCK/TDI/TDO is
// an out-of-scope collaborator (spec.md §1); the swd and jtag subpackages
// implement the protocol-level sequencing described in spec.md §4.1 on top
// of narrow interfaces (swd.Wire, jtag.TAP) that stand in for that
// collaborator.
package link

import "errors"

// ErrParity is returned by SeqInParity when the received parity bit does
// not match the XOR of the data bits (spec.md §4.1, SWD).
var ErrParity = errors.New("link: parity mismatch")

// Ack is the 3-bit ADI acknowledge code returned by a transaction.
type Ack int

const (
	AckOK    Ack = 1
	AckWait  Ack = 2
	AckFault Ack = 4
)

// Protocol identifies which wire protocol a Link implements.
type Protocol int

const (
	ProtocolSWD Protocol = iota
	ProtocolJTAG
)

// Link is the one semantic interface both SWD and JTAG implementations
// satisfy, dispatched via a vtable so L1 never branches on which link is
// active (spec.md §4.1: "Both implementations expose one function symbol
// per method via a vtable").
type Link interface {
	// Protocol reports which wire protocol this Link speaks.
	Protocol() Protocol

	// ResetLink re-establishes line synchronization: for SWD this is the
	// JTAG-to-SWD switch sequence followed by a line reset (the DP IDCODE
	// is not read here); for JTAG this is the SWD-to-JTAG switch sequence
	// followed by a TAP soft reset.
	ResetLink() error

	// SeqIn clocks n bits in from the target and returns them LSB-first
	// in the low n bits of the result.
	SeqIn(n int) (uint64, error)

	// SeqInParity clocks n data bits plus one trailing parity bit in from
	// the target. ok reports whether the parity bit matched the XOR of
	// the data bits; a mismatch is reported via ErrParity as well so
	// callers that only check the error still see it.
	SeqInParity(n int) (value uint64, ok bool, err error)

	// SeqOut clocks the low n bits of value out to the target, LSB first.
	SeqOut(value uint64, n int) error

	// SeqOutParity clocks the low n bits of value out, followed by one
	// parity bit computed as the XOR of those n bits.
	SeqOutParity(value uint64, n int) error
}

// Parity returns the XOR of the low n bits of v, the trailing parity bit
// SWD and the MEM-AP transaction layer both require (spec.md §4.1: "Parity
// is computed by XOR of all data bits").
func Parity(v uint64, n int) uint64 {
	var p uint64
	for i := 0; i < n; i++ {
		p ^= (v >> uint(i)) & 1
	}
	return p
}
