// JTAG transport
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package jtag implements the JTAG half of spec.md §4.1: the SWD-to-JTAG
// switch sequence, TAP soft reset, and the standard 4-wire state machine
// that L1 (package adi) drives via DR/IR shifts addressed to a selected
// device's IR length. The concrete TMS/TDI/TCK clocking is a collaborator
// (TAP) kept narrow, grounded on the retrieved CMSIS-DAP adapter's
// next(tms,tdi)/shift-sequence split.
package jtag

import (
	"fmt"

	"github.com/kestrel-debug/kestrel/link"
)

// TAP is the out-of-scope bit-banging collaborator for the 4-wire JTAG
// state machine (spec.md §4.1: "the core depends only on next(tms,tdi) ->
// tdo, tms_seq(pattern,len), and tdi_tdo_seq(len,tdi,tdo)").
type TAP interface {
	// Next clocks one TCK cycle with the given TMS/TDI values and returns
	// the sampled TDO.
	Next(tms, tdi bool) (tdo bool, err error)
	// TMSSeq clocks len bits of pattern onto TMS, LSB first, with TDI
	// held low.
	TMSSeq(pattern uint64, len int) error
	// TDITDOSeq clocks len bits of tdi onto TDI with TMS held low, and
	// returns the bits sampled from TDO, LSB first.
	TDITDOSeq(len int, tdi uint64) (tdo uint64, err error)
}

// SWDToJTAG is the 16-bit switch sequence that moves a line-reset SWD
// interface into JTAG mode (spec.md §4.1).
const SWDToJTAG uint64 = 0xE73C

// Standard ARM JTAG-DP instruction register opcodes (ADIv5 ARM IHI 0031),
// selected by L1 before a DPACC/APACC DR shift (spec.md §4.1, §4.4).
const (
	IRAbort  = 0x8
	IRDPACC  = 0xA
	IRAPACC  = 0xB
	IRIDCODE = 0xE
	IRBypass = 0xF
)

// DefaultIRLen is the IR length assumed for a single ARM JTAG-DP device when
// the caller hasn't supplied chain geometry via SetIRLengths.
const DefaultIRLen = 4

// JTAG drives the standard 4-wire TAP state machine over a TAP collaborator.
type JTAG struct {
	tap TAP

	// irLengths are the caller-supplied per-device instruction register
	// lengths used to route an IR/DR shift to one device in the chain
	// (spec.md §4.1: "per-device IR lengths may be supplied by the
	// caller").
	irLengths []int

	// selectedIR/haveIR cache the last instruction shifted into the TAP's
	// IR, so SelectIR re-issues the Shift-IR sequence only on a change,
	// mirroring adi.DP.selectAP's re-issue-only-on-change discipline.
	selectedIR uint64
	haveIR     bool
}

// New wraps a TAP collaborator with JTAG protocol sequencing. irLengths may
// be nil; it is populated or replaced by SetIRLengths once the chain is
// enumerated.
func New(tap TAP, irLengths []int) *JTAG {
	return &JTAG{tap: tap, irLengths: irLengths}
}

func (j *JTAG) Protocol() link.Protocol { return link.ProtocolJTAG }

// SetIRLengths records the discovered or caller-supplied IR length for each
// device in the chain, in TDI-nearest-first order.
func (j *JTAG) SetIRLengths(lens []int) {
	j.irLengths = lens
}

// ResetLink performs the SWD-to-JTAG switch sequence followed by a TAP soft
// reset (>=5 TMS=1 cycles into Test-Logic-Reset, then one TMS=0 cycle into
// Run-Test/Idle), matching spec.md §4.1.
func (j *JTAG) ResetLink() error {
	if err := j.tap.TMSSeq(0x1F, 6); err != nil {
		return fmt.Errorf("jtag: pre-switch TAP reset: %w", err)
	}
	if err := j.tap.TMSSeq(SWDToJTAG, 16); err != nil {
		return fmt.Errorf("jtag: switch sequence: %w", err)
	}
	if err := j.softReset(); err != nil {
		return fmt.Errorf("jtag: soft reset: %w", err)
	}
	return nil
}

// softReset drives the TAP through 5 TMS=1 cycles (any state ->
// Test-Logic-Reset) and one TMS=0 cycle into Run-Test/Idle.
func (j *JTAG) softReset() error {
	if err := j.tap.TMSSeq(0x1F, 5); err != nil {
		return err
	}
	return j.tap.TMSSeq(0x0, 1)
}

// SeqIn, SeqInParity, SeqOut and SeqOutParity satisfy link.Link so L1 can
// treat JTAG identically to SWD for raw bit sequencing; JTAG has no
// transaction-level parity bit of its own (parity is carried inside the DR
// shift payload instead), so SeqInParity/SeqOutParity degrade to the
// unparitied form with ok always true.
func (j *JTAG) SeqIn(n int) (uint64, error) {
	v, err := j.tap.TDITDOSeq(n, 0)
	if err != nil {
		return 0, fmt.Errorf("jtag: seq in: %w", err)
	}
	return v, nil
}

func (j *JTAG) SeqInParity(n int) (uint64, bool, error) {
	v, err := j.SeqIn(n)
	return v, err == nil, err
}

func (j *JTAG) SeqOut(value uint64, n int) error {
	_, err := j.tap.TDITDOSeq(n, value)
	if err != nil {
		return fmt.Errorf("jtag: seq out: %w", err)
	}
	return nil
}

func (j *JTAG) SeqOutParity(value uint64, n int) error {
	return j.SeqOut(value, n)
}

var _ link.Link = (*JTAG)(nil)

// ScanIDCodes shifts the chain through BYPASS and reads back one 32-bit
// IDCODE per device until a consecutive all-ones (or all-zeros) word
// signals the end of the chain, per spec.md §4.4 ("run the IR/DR scan until
// an ARM DP IDCODE is recognized").
func (j *JTAG) ScanIDCodes(maxDevices int) ([]uint32, error) {
	// Capture-DR after reset captures each device's IDCODE (or a single
	// bypass bit if the device has no IDCODE), so a DR shift from
	// Run-Test/Idle reads the whole chain's IDCODEs back to back.
	if err := j.gotoShiftDR(); err != nil {
		return nil, err
	}

	var ids []uint32
	for i := 0; i < maxDevices; i++ {
		v, err := j.tap.TDITDOSeq(32, 0xFFFFFFFF)
		if err != nil {
			return nil, fmt.Errorf("jtag: idcode scan: %w", err)
		}
		id := uint32(v)
		if id == 0 || id == 0xFFFFFFFF {
			break
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// gotoShiftDR drives Run-Test/Idle -> Select-DR-Scan -> Capture-DR ->
// Shift-DR (TMS sequence 1,0,0).
func (j *JTAG) gotoShiftDR() error {
	return j.tap.TMSSeq(0b001, 3)
}

// gotoShiftIR drives Run-Test/Idle -> Select-DR-Scan -> Select-IR-Scan ->
// Capture-IR -> Shift-IR (TMS sequence 1,1,0,0).
func (j *JTAG) gotoShiftIR() error {
	return j.tap.TMSSeq(0b0011, 4)
}

// exitShift drives Shift-DR/IR -> Exit1 -> Update -> Run-Test/Idle (TMS
// sequence 1,1,0), returning the TAP to Run-Test/Idle after a shift.
func (j *JTAG) exitShift() error {
	return j.tap.TMSSeq(0b011, 3)
}

// SelectIR shifts ir into the TAP's instruction register, skipping the
// Shift-IR sequence entirely when ir is already selected (spec.md §4.1,
// §4.4: JTAG-DP register addressing selects DPACC or APACC via IR before
// the DR shift). The IR length comes from irLengths[0] when set and
// positive, else DefaultIRLen — this driver addresses a single JTAG-DP
// device, not an arbitrary multi-device chain.
func (j *JTAG) SelectIR(ir uint64) error {
	if j.haveIR && j.selectedIR == ir {
		return nil
	}
	if err := j.gotoShiftIR(); err != nil {
		return fmt.Errorf("jtag: select ir: %w", err)
	}
	irLen := DefaultIRLen
	if len(j.irLengths) > 0 && j.irLengths[0] > 0 {
		irLen = j.irLengths[0]
	}
	if _, err := j.tap.TDITDOSeq(irLen, ir); err != nil {
		return fmt.Errorf("jtag: select ir: shift: %w", err)
	}
	if err := j.exitShift(); err != nil {
		return fmt.Errorf("jtag: select ir: exit: %w", err)
	}
	j.selectedIR = ir
	j.haveIR = true
	return nil
}

// ShiftDR drives one Shift-DR cycle: it clocks n bits of value onto TDI
// while simultaneously sampling TDO (the fused bidirectional shift the
// JTAG-DP DR payload requires, per spec.md §4.1), then returns the TAP to
// Run-Test/Idle.
func (j *JTAG) ShiftDR(value uint64, n int) (uint64, error) {
	if err := j.gotoShiftDR(); err != nil {
		return 0, fmt.Errorf("jtag: shift dr: %w", err)
	}
	tdo, err := j.tap.TDITDOSeq(n, value)
	if err != nil {
		return 0, fmt.Errorf("jtag: shift dr: shift: %w", err)
	}
	if err := j.exitShift(); err != nil {
		return 0, fmt.Errorf("jtag: shift dr: exit: %w", err)
	}
	return tdo, nil
}
