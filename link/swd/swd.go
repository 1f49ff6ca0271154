// Serial Wire Debug transport
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package swd implements the SWD half of spec.md §4.1: the JTAG-to-SWD
// switch sequence, line reset, and the strictly half-duplex bit sequencing
// L1 (package adi) builds DP/AP transactions on top of. The concrete
// SWCLK/SWDIO bit-banging is a collaborator (Wire) kept intentionally
// narrow, grounded on the CMSIS-DAP adapter's split between protocol shaping
// and USB transport in the retrieved jtag/cmsisdap reference.
package swd

import (
	"fmt"
	"math/bits"

	"github.com/kestrel-debug/kestrel/link"
)

// Wire is the out-of-scope bit-banging collaborator: it drives SWCLK and
// reads/writes SWDIO, LSB first. Implementations may be GPIO bit-banging, an
// FTDI MPSSE engine, or a CMSIS-DAP style USB probe.
type Wire interface {
	// ClockOut drives n bits of data onto SWDIO, LSB first, one per
	// SWCLK pulse.
	ClockOut(data uint64, n int) error
	// ClockIn samples n bits from SWDIO, LSB first, one per SWCLK pulse.
	ClockIn(n int) (uint64, error)
	// Turnaround inserts n idle SWCLK pulses with SWDIO released
	// (spec.md §4.1: "exactly one idle bit" between read and write).
	Turnaround(n int) error
}

// JTAGToSWD is the 16-bit switch sequence that moves a line-reset JTAG
// interface into SWD mode (spec.md §4.1).
const JTAGToSWD uint64 = 0xE79E

// lineResetCycles is the minimum number of SWCLK cycles with SWDIO held
// high required to force a line reset (spec.md §4.1: "≥50 cycles").
const lineResetCycles = 50

// SWD drives the SWD protocol over a Wire.
type SWD struct {
	wire Wire
}

// New wraps a Wire collaborator with SWD protocol sequencing.
func New(wire Wire) *SWD {
	return &SWD{wire: wire}
}

func (s *SWD) Protocol() link.Protocol { return link.ProtocolSWD }

// ResetLink performs the JTAG-to-SWD switch sequence, a line reset, and
// idle settle cycles (spec.md §4.1 / §8 scenario 1). It does not read the
// DP IDCODE; that read goes through the DP once one is built over this link.
func (s *SWD) ResetLink() error {
	// At least 50 cycles with SWDIO high puts any JTAG TAP into
	// Test-Logic-Reset and primes the line for the switch sequence.
	if err := s.wire.ClockOut((1<<lineResetCycles)-1, lineResetCycles); err != nil {
		return fmt.Errorf("swd: pre-switch line reset: %w", err)
	}
	if err := s.wire.ClockOut(JTAGToSWD, 16); err != nil {
		return fmt.Errorf("swd: switch sequence: %w", err)
	}
	if err := s.wire.ClockOut((1<<lineResetCycles)-1, lineResetCycles); err != nil {
		return fmt.Errorf("swd: post-switch line reset: %w", err)
	}
	// At least 8 idle cycles (SWDIO low) settle the line before the host
	// issues its first transaction.
	if err := s.wire.ClockOut(0, 8); err != nil {
		return fmt.Errorf("swd: idle settle: %w", err)
	}
	return nil
}

func (s *SWD) SeqIn(n int) (uint64, error) {
	v, err := s.wire.ClockIn(n)
	if err != nil {
		return 0, fmt.Errorf("swd: seq in: %w", err)
	}
	return v, nil
}

func (s *SWD) SeqInParity(n int) (uint64, bool, error) {
	v, err := s.wire.ClockIn(n)
	if err != nil {
		return 0, false, fmt.Errorf("swd: seq in parity: %w", err)
	}
	p, err := s.wire.ClockIn(1)
	if err != nil {
		return 0, false, fmt.Errorf("swd: seq in parity bit: %w", err)
	}
	ok := p == link.Parity(v, n)
	if !ok {
		return v, false, link.ErrParity
	}
	return v, true, nil
}

func (s *SWD) SeqOut(value uint64, n int) error {
	if err := s.wire.ClockOut(value, n); err != nil {
		return fmt.Errorf("swd: seq out: %w", err)
	}
	return nil
}

func (s *SWD) SeqOutParity(value uint64, n int) error {
	if err := s.wire.ClockOut(value, n); err != nil {
		return fmt.Errorf("swd: seq out parity: %w", err)
	}
	if err := s.wire.ClockOut(link.Parity(value, n), 1); err != nil {
		return fmt.Errorf("swd: seq out parity bit: %w", err)
	}
	return nil
}

// Turnaround inserts n idle bits between a read phase and a write phase, as
// the strictly half-duplex interface requires (spec.md §4.1); the adi
// layer passes n = 1.
func (s *SWD) Turnaround(n int) error {
	if err := s.wire.Turnaround(n); err != nil {
		return fmt.Errorf("swd: turnaround: %w", err)
	}
	return nil
}

var _ link.Link = (*SWD)(nil)

// ReverseBits8 reverses the bit order of a byte; SWD packet request headers
// are sent LSB first but documented MSB first, so callers composing request
// bytes commonly need this.
func ReverseBits8(b byte) byte {
	return bits.Reverse8(b)
}
