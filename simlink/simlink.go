// Software-simulated SWD link for host-side testing
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package simlink implements link.Link entirely in memory, standing in for
// a physical SWD/JTAG adapter so cmd/bench and cmd/kestrel can drive the
// whole core — L1 DP/AP framing through L4 services — without hardware
// attached (SPEC_FULL.md's supplemented cmd/bench feature: "a host-side
// harness that drives the whole core against a software-simulated link").
// It decodes the same 8-bit SWD request header and ACK/data phases
// adi.DP.transactSWD drives, then serves DP/AP register state and a
// simulated Cortex-M SCS plus one RAM region, enough to exercise scan,
// attach, halt/resume, memory read/write, and RTT end to end.
package simlink

import (
	"encoding/binary"

	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/link"
)

// Layout constants for the simulated device: one MEM-AP whose ROM table
// sits at romBase and which names one Cortex-M SCS component at the
// architectural 0xE000E000 PPB location, plus one RAM region a recognized
// device-family driver (target/driver/imx6ul) will declare once it sees
// simCPUID's PARTNO field.
const (
	apIDR  = 0x24770011 // class bits [16:13]=0x8 mark this a MEM-AP
	romBase = 0xE0000000
	scsBase = cortexm.SCSBase // 0xE000E000

	simCPUIDPartNo = 0xC20 // Cortex-M0, recognized by target/driver/imx6ul
	simCPUID       = simCPUIDPartNo << cortexm.CPUIDPartNoShift

	// simDPIDCode is the 32-bit value a DP-register read at address 0x0
	// (IDCODE/DPIDR) returns: the classic ARM CoreSight SW-DP ID code
	// (designer ARM, a Cortex-M-class DAP), so target.Scan's IDCODE read
	// resolves to a recognizable designer/part pair rather than zero.
	simDPIDCode = 0x2BA01477

	// RAMStart and RAMSize describe the one RAM region backing this
	// simulated device; cmd/kestrel and cmd/bench use these to seed test
	// payloads at a known-good address without guessing at the target's
	// memory map.
	RAMStart = 0x20000000
	RAMSize  = 8 * 1024
)

// Designer/part fields a ROM table walk must read back from the PIDR/CIDR
// bytes at scsBase to recognize the component as Cortex-M SCS (mirrors
// target.WalkROMTable's armDesignerCode/cortexMSCSPartID decode: partID =
// p0 | (p1&0xF)<<8, designer = (p1>>4) | (p2&0x7)<<4 | (p4&0xF)<<8).
const (
	pidr0Val = 0x0C
	pidr1Val = 0xB0
	pidr2Val = 0x03
	pidr4Val = 0x02
)

// Link is an in-memory SWD transaction engine. It speaks the same
// request/ack/data-phase wire format the real L0 transport would, so
// everything above it (adi.DP, adi.AP, adi.MemAP) runs unmodified; the
// only thing missing is an actual bit-banged electrical link.
type Link struct {
	ctrlStat  uint32
	selectReg uint32

	apRegs  map[uint8]map[uint8]uint32
	tar     map[uint8]uint32
	cswSize map[uint8]uint32

	mem map[uint32]byte // byte-addressable target memory space

	pendingAPnDP bool
	pendingAddr  uint8

	latched uint32

	dhcsr    uint32
	dfsr     uint32
	stepping bool

	regs   [cortexm.NumCoreRegisters]uint32
	fpRegs [33]uint32 // FPSCR (index 0) followed by S0..S31
	dcrdr  uint32
}

// New returns a Link backed by a freshly seeded simulated target: one
// MEM-AP, a ROM table entry naming a Cortex-M SCS component, and one RAM
// region.
func New() *Link {
	l := &Link{
		apRegs:  make(map[uint8]map[uint8]uint32),
		tar:     make(map[uint8]uint32),
		cswSize: make(map[uint8]uint32),
		mem:     make(map[uint32]byte),
	}
	l.seed()
	return l
}

func (l *Link) seed() {
	ap0 := l.apRegMap(0)
	ap0[0xFC] = apIDR  // RegIDR
	ap0[0xF8] = romBase // RegBASE
	ap0[0xF4] = 0       // RegCFG

	// One ROM table entry at offset 0 pointing to scsBase, 12-bit aligned.
	l.putWord(romBase+0x000, (scsBase-romBase)|0x1)

	l.putWord(scsBase+0xFE0, pidr0Val) // PIDR0
	l.putWord(scsBase+0xFE4, pidr1Val) // PIDR1
	l.putWord(scsBase+0xFE8, pidr2Val) // PIDR2
	l.putWord(scsBase+0xFD0, pidr4Val) // PIDR4
	l.putWord(scsBase+0xFF0, 0)        // CIDR0, unused by IsCortexMSCS

	l.putWord(cortexm.RegCPUID, simCPUID)

	// 4 FPB code comparators (bits [7:4] of FPFPCTRL), 4 DWT comparators
	// (bits [31:28] of DWTCTRL) — enough slots for breakwatch tests.
	l.putWord(cortexm.FPBBase+cortexm.FPFPCTRL, 4<<cortexm.FPCTRLNumCodeLoShift)
	l.putWord(cortexm.DWTBase+cortexm.DWTCTRL, 4<<cortexm.DWTCTRLNumCompShift)

	l.dhcsr = cortexm.DHCSRSHalt | cortexm.DHCSRSRegrdy
}

func (l *Link) apRegMap(apsel uint8) map[uint8]uint32 {
	m, ok := l.apRegs[apsel]
	if !ok {
		m = make(map[uint8]uint32)
		l.apRegs[apsel] = m
	}
	return m
}

func (l *Link) putWord(addr, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	for i, c := range b {
		l.mem[addr+uint32(i)] = c
	}
}

func (l *Link) getWord(addr uint32) uint32 {
	var b [4]byte
	for i := range b {
		b[i] = l.mem[addr+uint32(i)]
	}
	return binary.LittleEndian.Uint32(b[:])
}

// PeekWord reads one little-endian word directly from the simulated target's
// memory space, bypassing the SWD transaction path. cmd/bench uses this to
// assert on a value a dispatch command wrote through DRW.
func (l *Link) PeekWord(addr uint32) uint32 { return l.getWord(addr) }

// PokeWord writes one little-endian word directly into the simulated
// target's memory space, bypassing the SWD transaction path. cmd/bench uses
// this to seed RAM (e.g. an RTT control block) before a scan.
func (l *Link) PokeWord(addr, v uint32) { l.putWord(addr, v) }

// SetRegister seeds one core/FPU register directly, bypassing the
// DCRSR/DCRDR transaction path. Tests use this to stage the register state
// a fault unwind reads back (stacked LR/SP) without round-tripping through
// Controller.WriteRegister first.
func (l *Link) SetRegister(sel uint32, v uint32) {
	if slot := l.regSlot(sel); slot != nil {
		*slot = v
	}
}

// Protocol reports the wire protocol this Link speaks. The simulator only
// implements the SWD framing adi.DP uses for ProtocolSWDv1/v2.
func (l *Link) Protocol() link.Protocol { return link.ProtocolSWD }

// ResetLink is a no-op: the simulated target is always synchronized.
func (l *Link) ResetLink() error { return nil }

// SeqOut decodes the 8-bit SWD request header (the only width this
// simulator's caller ever sends through SeqOut); anything else is ignored.
func (l *Link) SeqOut(value uint64, n int) error {
	if n == 8 {
		req := uint8(value)
		l.pendingAPnDP = req&(1<<1) != 0
		l.pendingAddr = (req >> 3) & 0x3 << 2
	}
	return nil
}

// SeqIn always reports ACK-OK for the 3-bit ack phase; this simulator never
// WAITs or FAULTs.
func (l *Link) SeqIn(n int) (uint64, error) {
	if n == 3 {
		return uint64(link.AckOK), nil
	}
	return 0, nil
}

// SeqOutParity completes the write-phase of the transaction whose header
// SeqOut just decoded.
func (l *Link) SeqOutParity(value uint64, n int) error {
	if n == 32 {
		l.doWrite(uint32(value))
	}
	return nil
}

// SeqInParity completes the read-phase of the transaction whose header
// SeqOut just decoded. DP-register reads (CTRL/STAT, RDBUFF) return their
// value immediately; AP-register reads return the PREVIOUS transaction's
// latched value and queue this one, mirroring the ADI bus's one-deep AP
// read pipeline (the reason adi.readAPRegPipelined follows every AP read
// with an RDBUFF read).
func (l *Link) SeqInParity(n int) (uint64, bool, error) {
	if n != 32 {
		return 0, true, nil
	}
	if !l.pendingAPnDP {
		switch l.pendingAddr {
		case 0x4: // RegCTRLSTAT
			return uint64(l.ctrlStat), true, nil
		case 0x0: // RegIDCODE
			return uint64(simDPIDCode), true, nil
		}
		return uint64(l.latched), true, nil // RegRDBUFF: whatever an AP read last queued
	}

	prev := l.latched
	l.latched = l.doRead()
	return uint64(prev), true, nil
}

func (l *Link) currentAPSel() uint8 { return uint8(l.selectReg >> 24) }
func (l *Link) currentBank() uint8  { return uint8((l.selectReg >> 4) & 0xF) }

func (l *Link) doWrite(v uint32) {
	if !l.pendingAPnDP {
		switch l.pendingAddr {
		case 0x8: // RegSELECT
			l.selectReg = v
		case 0x0: // RegABORT
			l.ctrlStat &^= 1<<1 | 1<<4 | 1<<5 // clear STICKYORUN/STICKYCMP/STICKYERR
		case 0x4: // RegCTRLSTAT
			l.ctrlStat = v
		}
		return
	}

	apsel, bank := l.currentAPSel(), l.currentBank()
	full := bank<<4 | l.pendingAddr

	switch full {
	case 0x04: // RegTAR
		l.tar[apsel] = v
	case 0x00: // RegCSW
		l.cswSize[apsel] = v & 0x7
	case 0x0C: // RegDRW
		l.writeTargetMem(l.tar[apsel], v, sizeBytes(l.cswSize[apsel]))
		l.tar[apsel] += uint32(sizeBytes(l.cswSize[apsel]))
	default:
		l.apRegMap(apsel)[full] = v
	}
}

// doRead computes the value of the pending AP-register access (doRead is
// only reached for AP reads; DP reads are resolved directly in
// SeqInParity).
func (l *Link) doRead() uint32 {
	apsel, bank := l.currentAPSel(), l.currentBank()
	full := bank<<4 | l.pendingAddr

	switch full {
	case 0x0C: // RegDRW
		v := l.readTargetMem(l.tar[apsel], sizeBytes(l.cswSize[apsel]))
		l.tar[apsel] += uint32(sizeBytes(l.cswSize[apsel]))
		return v
	default:
		return l.apRegMap(apsel)[full]
	}
}

func sizeBytes(cswSize uint32) int {
	switch cswSize {
	case 1:
		return 2
	case 2:
		return 4
	default:
		return 1
	}
}

// writeTargetMem dispatches to the handful of Cortex-M debug registers that
// need dynamic behavior, and otherwise stores size bytes of v at addr in
// the generic byte-addressable memory space.
func (l *Link) writeTargetMem(addr, v uint32, size int) {
	switch addr {
	case cortexm.RegDHCSR:
		l.writeDHCSR(v)
		return
	case cortexm.RegDFSR:
		if v == 0xFFFFFFFF { // write-1-to-clear, per the real register
			l.dfsr = 0
		} else {
			l.dfsr = v // write-back from decodeHaltReason
		}
		return
	case cortexm.RegAIRCR:
		// SYSRESETREQ/VECTRESET are accepted and take effect instantly;
		// S_RESET_ST is never observed set, so callers waiting for its
		// deassertion succeed on the first poll.
		return
	case cortexm.RegDCRDR:
		l.dcrdr = v
		return
	case cortexm.RegDCRSR:
		sel := v & cortexm.DCRSRRegselMask
		if slot := l.regSlot(sel); slot != nil {
			if v&cortexm.DCRSRRegwnR != 0 {
				*slot = l.dcrdr
			} else {
				l.dcrdr = *slot
			}
		}
		return
	}

	lane := laneOffset(addr, size)
	for i := 0; i < size; i++ {
		l.mem[addr+uint32(i)] = byte(v >> (8 * (lane + uint32(i))))
	}
}

func (l *Link) readTargetMem(addr uint32, size int) uint32 {
	switch addr {
	case cortexm.RegDHCSR:
		return l.dhcsr
	case cortexm.RegDFSR:
		return l.dfsr
	case cortexm.RegDCRDR:
		return l.dcrdr
	}

	lane := laneOffset(addr, size)
	var v uint32
	for i := 0; i < size; i++ {
		v |= uint32(l.mem[addr+uint32(i)]) << (8 * (lane + uint32(i)))
	}
	return v
}

// laneOffset returns the byte lane (as a byte-index offset from addr) a
// sub-word DRW transfer of size bytes occupies within the 32-bit data word,
// mirroring adi.putSized/getSized's addr&3 (byte) / addr&2 (halfword) lane
// selection — the data a MEM-AP DRW access carries is shifted into the
// lane the address's low bits select, not left in lane 0.
func laneOffset(addr uint32, size int) uint32 {
	switch size {
	case 1:
		return addr & 0x3
	case 2:
		return addr & 0x2
	default:
		return 0
	}
}

// regSlot returns the backing store for a DCRSR register selector (the 20
// GP/status registers, or FPSCR/S0-S31), or nil for a selector this
// simulator doesn't back (e.g. an FPU selector probed on a V6M target,
// which the real cortexm.ReadRegister/WriteRegister already reject before
// ever reaching the wire).
func (l *Link) regSlot(sel uint32) *uint32 {
	if sel < cortexm.NumCoreRegisters {
		return &l.regs[sel]
	}
	if sel == cortexm.RegSelFPSCR {
		return &l.fpRegs[0]
	}
	if sel >= cortexm.RegSelS0 && sel < cortexm.RegSelS0+32 {
		return &l.fpRegs[1+sel-cortexm.RegSelS0]
	}
	return nil
}

// writeDHCSR simulates the debug-halt state machine: a write requesting
// C_HALT halts (S_HALT set); a write releasing C_HALT "runs" and
// immediately re-halts with a Request (debug-halt) DFSR reason, since this
// simulator has no instruction-level core to actually execute — every
// continue/step completes instantly and deterministically rather than
// hanging the bench harness waiting for real execution.
func (l *Link) writeDHCSR(v uint32) {
	halting := v&cortexm.DHCSRCHalt != 0
	l.stepping = v&cortexm.DHCSRCStep != 0

	l.dhcsr = cortexm.DHCSRSRegrdy | cortexm.DHCSRSHalt
	if v&cortexm.DHCSRCDebugen != 0 {
		l.dhcsr |= cortexm.DHCSRCDebugen
	}

	if !halting {
		l.dfsr = cortexm.DFSRHalted
	}
}
