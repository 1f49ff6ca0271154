// ADIv5 Debug Port transactions (L1)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package adi implements the ADIv5 DP/AP transaction layer described in
// spec.md §4.2: request/response transactions, ACK decoding, sticky-error
// clearing, AP bank selection, and the memory-AP CSW/TAR/DRW sized
// transfers that everything above L1 is built on.
package adi

import (
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-debug/kestrel/kerrors"
	"github.com/kestrel-debug/kestrel/link"
	"github.com/kestrel-debug/kestrel/link/jtag"
)

// Standard DP register addresses (spec.md §6). RegABORT and RegIDCODE share
// address 0x0: a write there is ABORT, a read is the 32-bit IDCODE/DPIDR
// identifying the DP's designer and part.
const (
	RegABORT    = 0x0
	RegIDCODE   = 0x0
	RegCTRLSTAT = 0x4
	RegSELECT   = 0x8
	RegRDBUFF   = 0xC
)

// ABORT bits.
const (
	AbortDAPABORT  = 1 << 0
	AbortSTKCMPCLR = 1 << 1
	AbortSTKERRCLR = 1 << 2
	AbortWDERRCLR  = 1 << 3
	AbortORUNERRCLR = 1 << 4
)

// CTRL/STAT sticky error bits.
const (
	CtrlStatSTICKYORUN = 1 << 1
	CtrlStatSTICKYCMP  = 1 << 4
	CtrlStatSTICKYERR  = 1 << 5
	CtrlStatWDATAERR   = 1 << 7
)

// Protocol identifies a DP's wire variant (spec.md §3, Debug Port).
type Protocol int

const (
	ProtocolSWDv1 Protocol = iota
	ProtocolSWDv2
	ProtocolJTAGDP
)

// waitRetries is the bounded retry count for a WAIT ACK (spec.md §4.2:
// "up to a bounded number of retries (>= 100)").
const waitRetries = 128

// quiesce is the brief pause between WAIT retries.
const quiesce = 100 * time.Microsecond

// turnarounder is satisfied by SWD links, which need an explicit idle bit
// between a read phase and a write phase; JTAG links don't implement it and
// low_access simply skips the call.
type turnarounder interface {
	Turnaround(n int) error
}

// DP is one Debug Port: the top of an ADI link (spec.md §3). A DP is looked
// up by index into an Arena rather than held by back-pointer from its APs,
// per spec.md §9's "Ownership of DP/AP graphs" design note.
type DP struct {
	link     link.Link
	protocol Protocol

	designerCode uint16
	partID       uint8

	selectedAP   uint8
	selectedBank uint8
	haveSelect   bool

	sticky error
	refs   int
}

// NewDP wraps a Link with DP-level transaction framing. protocol records
// which wire variant this DP speaks (SWD-DP v1/v2 or JTAG-DP); designer and
// part come from the IDCODE read during ResetLink/scan.
func NewDP(l link.Link, protocol Protocol, designerCode uint16, partID uint8) *DP {
	return &DP{link: l, protocol: protocol, designerCode: designerCode, partID: partID}
}

// DesignerCode, PartID and Protocol expose the identity captured at scan
// time (spec.md §3: "a designer/part identity, and a protocol variant").
func (dp *DP) DesignerCode() uint16 { return dp.designerCode }
func (dp *DP) PartID() uint8        { return dp.partID }
func (dp *DP) WireProtocol() Protocol { return dp.protocol }

// SetIdentity records the designer/part identity decoded from an IDCODE
// read performed after construction. NewDP is called before ResetLink has a
// chance to read IDCODE over the link, so Scan reads IDCODE through the
// freshly built DP and feeds the result back here (spec.md §4.4, §8: "DP
// IDCODE matches the manufacturer's documented value").
func (dp *DP) SetIdentity(designerCode uint16, partID uint8) {
	dp.designerCode = designerCode
	dp.partID = partID
}

// addRef/release implement the lifecycle note in spec.md §3: "Each DP keeps
// a reference count: APs discovered beneath it hold references; free-all
// occurs when references drop to zero." Arena.NewAP calls addRef; Arena.Free
// calls release for every AP it frees.
func (dp *DP) addRef()  { dp.refs++ }
func (dp *DP) release() { dp.refs-- }

// Refs reports the current reference count, exposed for tests asserting the
// free-all-at-zero invariant.
func (dp *DP) Refs() int { return dp.refs }

// StickyError reports the last sticky fault recorded by a transaction,
// without clearing it. Implements kresult.ErrorClearer.
func (dp *DP) StickyError() error { return dp.sticky }

// ClearStickyError writes ABORT to clear every sticky bit and clears the
// locally cached sticky error, whether or not one was set. Implements
// kresult.ErrorClearer; also used directly by the "error()" primitive in
// spec.md §4.2.
func (dp *DP) ClearStickyError() error {
	dp.sticky = nil
	return dp.rawWrite(false, RegABORT, AbortDAPABORT|AbortSTKCMPCLR|AbortSTKERRCLR|AbortWDERRCLR|AbortORUNERRCLR)
}

// Error returns the sticky fault code accumulated since the last
// ClearStickyError call, and clears it — the exact contract of spec.md
// §4.2's error() primitive ("clears sticky bits"). The hardware sticky bits
// are cleared through ClearStickyError's ABORT write; if that write fails
// and no sticky fault was recorded, its error is returned instead.
func (dp *DP) Error() error {
	err := dp.sticky
	if cerr := dp.ClearStickyError(); cerr != nil && err == nil {
		return cerr
	}
	return err
}

// Read performs dp_read(addr) (spec.md §4.2).
func (dp *DP) Read(addr uint8) (uint32, error) {
	return dp.rawRead(false, addr)
}

// Write performs dp_write(addr, value). Per spec.md §4.2, "a write posts the
// value and returns the previous read buffer; the caller retrieves the
// final value via a subsequent RDBUFF read when required by the protocol" —
// callers needing the posted result call ReadRDBUFF after Write.
func (dp *DP) Write(addr uint8, value uint32) error {
	return dp.rawWrite(false, addr, value)
}

// ReadRDBUFF reads back the result of a posted write, per the note on Write.
func (dp *DP) ReadRDBUFF() (uint32, error) {
	return dp.Read(RegRDBUFF)
}

// selectAP re-issues SELECT only when the active AP or its register bank
// changes, per spec.md §4.2: "the implementation must re-issue SELECT only
// when the target bank changes, to minimize bus traffic."
func (dp *DP) selectAP(apsel uint8, bank uint8) error {
	if dp.haveSelect && dp.selectedAP == apsel && dp.selectedBank == bank {
		return nil
	}
	sel := uint32(apsel)<<24 | uint32(bank&0xF)<<4
	if err := dp.rawWrite(false, RegSELECT, sel); err != nil {
		return err
	}
	dp.selectedAP = apsel
	dp.selectedBank = bank
	dp.haveSelect = true
	return nil
}

// APRead performs ap_read(apsel, addr) (spec.md §4.2). AP reads are posted:
// the value returned is the one that was pending before this request, so
// the final value of a series of AP reads requires one trailing RDBUFF
// read; callers that need exactly one value should call APRead twice or use
// ReadRDBUFF for the last value, matching the pipelined nature of the ADI
// bus.
func (dp *DP) APRead(apsel uint8, addr uint8) (uint32, error) {
	if err := dp.selectAP(apsel, addr>>4); err != nil {
		return 0, err
	}
	return dp.rawRead(true, addr&0xF)
}

// APWrite performs ap_write(apsel, addr, value).
func (dp *DP) APWrite(apsel uint8, addr uint8, value uint32) error {
	if err := dp.selectAP(apsel, addr>>4); err != nil {
		return err
	}
	return dp.rawWrite(true, addr&0xF, value)
}

func (dp *DP) rawRead(apndp bool, addr uint8) (uint32, error) {
	return dp.LowAccess(apndp, true, addr, 0)
}

func (dp *DP) rawWrite(apndp bool, addr uint8, value uint32) error {
	_, err := dp.LowAccess(apndp, false, addr, value)
	return err
}

// LowAccess performs one ADI transaction with precise ordering control,
// retrying a bounded number of times on WAIT and recording sticky faults
// (spec.md §4.2).
func (dp *DP) LowAccess(apndp bool, rnw bool, addr uint8, value uint32) (uint32, error) {
	var result uint32
	var ack link.Ack

	_, err := retryOnWait(func() (bool, error) {
		var lowErr error
		result, ack, lowErr = dp.transact(apndp, rnw, addr, value)
		if lowErr != nil {
			return false, lowErr
		}
		if ack == link.AckWait {
			return false, errWait
		}
		return ack == link.AckOK, nil
	})
	if err != nil {
		if errors.Is(err, errWait) {
			return 0, fmt.Errorf("adi: %w: WAIT ack not resolved after retries", kerrors.ErrTimeout)
		}
		return 0, err
	}
	if ack == link.AckFault {
		dp.sticky = fmt.Errorf("%w: fault ack on addr %#x", kerrors.ErrAPFault, addr)
		return 0, dp.sticky
	}
	return result, nil
}

var errWait = errors.New("adi: wait")

func retryOnWait(fn func() (bool, error)) (bool, error) {
	var err error
	var ok bool
	for i := 0; i < waitRetries; i++ {
		ok, err = fn()
		if err == nil {
			return ok, nil
		}
		if !errors.Is(err, errWait) {
			return ok, err
		}
		time.Sleep(quiesce)
	}
	return ok, err
}

// transact performs exactly one SWD or JTAG-DP request/ack/data cycle over
// the underlying Link, dispatching on wire protocol the way a real
// implementation's per-link vtable would (spec.md §4.1).
func (dp *DP) transact(apndp, rnw bool, addr uint8, value uint32) (uint32, link.Ack, error) {
	switch dp.protocol {
	case ProtocolJTAGDP:
		return dp.transactJTAG(apndp, rnw, addr, value)
	default:
		return dp.transactSWD(apndp, rnw, addr, value)
	}
}

// transactSWD builds the 8-bit request header (start/APnDP/RnW/A/parity/
// stop/park), reads the 3-bit ACK, and shifts the 32-bit data phase with its
// own parity bit, inserting a turnaround idle bit at every change of
// direction (spec.md §4.1).
func (dp *DP) transactSWD(apndp, rnw bool, addr uint8, value uint32) (uint32, link.Ack, error) {
	req := swdRequest(apndp, rnw, addr)
	if err := dp.link.SeqOut(uint64(req), 8); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
	}

	dp.turnaround()

	ackBits, err := dp.link.SeqIn(3)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
	}
	ack := link.Ack(ackBits)
	if ack != link.AckOK {
		// Still need to return the bus to a known state before the next
		// request; a failed ack has no data phase to drain.
		dp.turnaround()
		return 0, ack, nil
	}

	if rnw {
		v, ok, err := dp.link.SeqInParity(32)
		if err != nil && !errors.Is(err, link.ErrParity) {
			return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
		}
		if !ok {
			return 0, 0, fmt.Errorf("%w: data phase parity", kerrors.ErrTransport)
		}
		dp.turnaround()
		return uint32(v), ack, nil
	}

	dp.turnaround()
	if err := dp.link.SeqOutParity(uint64(value), 32); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
	}
	return 0, ack, nil
}

func (dp *DP) turnaround() {
	if ta, ok := dp.link.(turnarounder); ok {
		ta.Turnaround(1)
	}
}

// swdRequest builds the 8-bit SWD request byte: start(1) | APnDP | RnW |
// A[2:3] | parity | stop(0) | park(1), LSB first.
func swdRequest(apndp, rnw bool, addr uint8) uint8 {
	a := (addr >> 2) & 0x3
	var req uint8 = 1 // start
	if apndp {
		req |= 1 << 1
	}
	if rnw {
		req |= 1 << 2
	}
	req |= a << 3
	parity := uint8(link.Parity(uint64(req)&0x1E, 5))
	req |= parity << 5
	req |= 1 << 7 // park
	return req
}

// jtagIRSelector is satisfied by JTAG links: it selects DPACC or APACC in
// the TAP's instruction register and performs the fused bidirectional
// Shift-DR that register needs, per spec.md §4.1's JTAG-DP addressing.
type jtagIRSelector interface {
	SelectIR(ir uint64) error
	ShiftDR(value uint64, n int) (uint64, error)
}

// transactJTAG selects DPACC or APACC (per apndp) in the TAP's instruction
// register, then shifts the 35-bit JTAG-DP DR payload (RnW, A[3:2], 32-bit
// data) as one fused bidirectional shift, returning the pipelined 3-bit ack
// plus the previous transaction's data (spec.md §4.1, §4.4).
func (dp *DP) transactJTAG(apndp, rnw bool, addr uint8, value uint32) (uint32, link.Ack, error) {
	jt, ok := dp.link.(jtagIRSelector)
	if !ok {
		return 0, 0, fmt.Errorf("%w: link does not implement JTAG-DP IR selection", kerrors.ErrTransport)
	}

	ir := uint64(jtag.IRDPACC)
	if apndp {
		ir = jtag.IRAPACC
	}
	if err := jt.SelectIR(ir); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
	}

	var out uint64
	if rnw {
		out |= 1
	}
	out |= uint64(addr>>2&0x3) << 1
	out |= uint64(value) << 3

	in, err := jt.ShiftDR(out, 35)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", kerrors.ErrTransport, err)
	}

	ack := link.Ack(in & 0x7)
	data := uint32(in >> 3)
	return data, ack, nil
}
