// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package adi

import (
	"math/rand"
	"testing"

	"github.com/kestrel-debug/kestrel/link"
	"github.com/kestrel-debug/kestrel/link/jtag"
)

// fakeLink is an in-memory SWD link double standing in for the real
// bit-banging collaborator: it decodes the 8-bit request header issued by
// DP.transactSWD and serves DP/AP register reads and writes, acking every
// transaction OK. DRW accesses read/write a byte-addressable memory map at
// the AP's current (simulated, hardware-auto-incrementing) TAR, the way a
// real MEM-AP would. It exists purely to exercise this package's framing
// and retry logic without real hardware.
type fakeLink struct {
	ctrlStat  uint32
	selectReg uint32

	apRegs  map[uint8]map[uint8]uint32 // apsel -> (bank<<4|reg) -> value, for IDR/BASE/CFG
	tar     map[uint8]uint32
	cswSize map[uint8]uint32
	mem     map[uint32]byte

	pendingAPNDP bool
	pendingRnW   bool
	pendingAddr  uint8

	latched uint32
}

func newFakeLink() *fakeLink {
	return &fakeLink{
		apRegs:  make(map[uint8]map[uint8]uint32),
		tar:     make(map[uint8]uint32),
		cswSize: make(map[uint8]uint32),
		mem:     make(map[uint32]byte),
	}
}

func (f *fakeLink) Protocol() link.Protocol { return link.ProtocolSWD }
func (f *fakeLink) ResetLink() error        { return nil }

func (f *fakeLink) currentAPSel() uint8 { return uint8(f.selectReg >> 24) }
func (f *fakeLink) currentBank() uint8  { return uint8((f.selectReg >> 4) & 0xF) }

func (f *fakeLink) SeqOut(value uint64, n int) error {
	if n == 8 {
		req := uint8(value)
		f.pendingAPNDP = req&(1<<1) != 0
		f.pendingRnW = req&(1<<2) != 0
		f.pendingAddr = (req >> 3) & 0x3 << 2
	}
	return nil
}

func (f *fakeLink) SeqOutParity(value uint64, n int) error {
	if n == 32 {
		f.doWrite(uint32(value))
	}
	return nil
}

func (f *fakeLink) doWrite(v uint32) {
	apndp, addr := f.pendingAPNDP, f.pendingAddr
	if !apndp {
		switch addr {
		case RegSELECT:
			f.selectReg = v
		case RegABORT:
			f.ctrlStat &^= CtrlStatSTICKYERR | CtrlStatSTICKYORUN | CtrlStatSTICKYCMP
		case RegCTRLSTAT:
			f.ctrlStat = v
		}
		return
	}

	apsel, bank := f.currentAPSel(), f.currentBank()
	full := bank<<4 | addr

	switch full {
	case RegTAR: // bank 0
		f.tar[apsel] = v
	case RegCSW:
		f.cswSize[apsel] = v & CSWSizeMask
	case RegDRW:
		size := sizeBytes(f.cswSize[apsel])
		a := f.tar[apsel]
		lane := laneOffset(a, size)
		for i := 0; i < size; i++ {
			f.mem[a+uint32(i)] = byte(v >> (8 * (lane + uint32(i))))
		}
		f.tar[apsel] = a + uint32(size)
	default:
		m := f.apRegMap(apsel)
		m[full] = v
	}
}

func (f *fakeLink) apRegMap(apsel uint8) map[uint8]uint32 {
	m, ok := f.apRegs[apsel]
	if !ok {
		m = make(map[uint8]uint32)
		f.apRegs[apsel] = m
	}
	return m
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

// laneOffset returns the byte lane (as a byte-index offset from addr) a
// sub-word DRW transfer of size bytes occupies within the 32-bit data word,
// mirroring adi.putSized/getSized's addr&3 (byte) / addr&2 (halfword)
// lane selection.
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

func (f *fakeLink) SeqIn(n int) (uint64, error) {
	if n == 3 {
		return uint64(link.AckOK), nil
	}
	return 0, nil
}

func (f *fakeLink) SeqInParity(n int) (uint64, bool, error) {
	if n != 32 {
		return 0, true, nil
	}
	apndp, addr := f.pendingAPNDP, f.pendingAddr
	if !apndp {
		if addr == RegCTRLSTAT {
			return uint64(f.ctrlStat), true, nil
		}
		return uint64(f.latched), true, nil
	}

	apsel, bank := f.currentAPSel(), f.currentBank()
	full := bank<<4 | addr
	prev := f.latched

	switch full {
	case RegDRW:
		size := sizeBytes(f.cswSize[apsel])
		a := f.tar[apsel]
		lane := laneOffset(a, size)
		var v uint32
		for i := 0; i < size; i++ {
			v |= uint32(f.mem[a+uint32(i)]) << (8 * (lane + uint32(i)))
		}
		f.latched = v
		f.tar[apsel] = a + uint32(size)
	default:
		f.latched = f.apRegMap(apsel)[full]
	}
	return uint64(prev), true, nil
}

// fakeJTAGLink is an in-memory JTAG-DP double exercising transactJTAG's IR
// selection and fused DR shift: unlike fakeLink's SWD request header, a
// JTAG transaction's register kind (DP vs AP) comes from whichever IR was
// last selected via SelectIR, not from a bit in the shifted payload. It
// models a non-pipelined JTAG-DP (each ShiftDR completes its own request
// immediately) — enough to exercise the routing transactJTAG is responsible
// for, without reproducing ADIv5's one-deep ack/data pipeline.
type fakeJTAGLink struct {
	selectedIR uint64
	haveIR     bool
	irLog      []uint64

	ctrlStat  uint32
	selectReg uint32
	apRegs    map[uint8]map[uint8]uint32
	tar       map[uint8]uint32
	cswSize   map[uint8]uint32
	mem       map[uint32]byte
}

func newFakeJTAGLink() *fakeJTAGLink {
	return &fakeJTAGLink{
		apRegs:  make(map[uint8]map[uint8]uint32),
		tar:     make(map[uint8]uint32),
		cswSize: make(map[uint8]uint32),
		mem:     make(map[uint32]byte),
	}
}

func (f *fakeJTAGLink) Protocol() link.Protocol { return link.ProtocolJTAG }
func (f *fakeJTAGLink) ResetLink() error        { return nil }
func (f *fakeJTAGLink) SeqIn(n int) (uint64, error)             { return 0, nil }
func (f *fakeJTAGLink) SeqInParity(n int) (uint64, bool, error) { return 0, true, nil }
func (f *fakeJTAGLink) SeqOut(value uint64, n int) error        { return nil }
func (f *fakeJTAGLink) SeqOutParity(value uint64, n int) error  { return nil }

func (f *fakeJTAGLink) SelectIR(ir uint64) error {
	f.irLog = append(f.irLog, ir)
	f.selectedIR = ir
	f.haveIR = true
	return nil
}

func (f *fakeJTAGLink) currentAPSel() uint8 { return uint8(f.selectReg >> 24) }
func (f *fakeJTAGLink) currentBank() uint8  { return uint8((f.selectReg >> 4) & 0xF) }

func (f *fakeJTAGLink) ShiftDR(out uint64, n int) (uint64, error) {
	rnw := out&1 != 0
	addr := uint8((out>>1)&0x3) << 2
	value := uint32(out >> 3)
	apndp := f.selectedIR == jtag.IRAPACC

	var result uint32
	if !apndp {
		switch addr {
		case RegSELECT:
			if !rnw {
				f.selectReg = value
			}
		case RegABORT:
		case RegCTRLSTAT:
			if rnw {
				result = f.ctrlStat
			} else {
				f.ctrlStat = value
			}
		}
	} else {
		apsel, bank := f.currentAPSel(), f.currentBank()
		full := bank<<4 | addr
		switch full {
		case RegTAR:
			if rnw {
				result = f.tar[apsel]
			} else {
				f.tar[apsel] = value
			}
		case RegCSW:
			if rnw {
				result = f.cswSize[apsel]
			} else {
				f.cswSize[apsel] = value & CSWSizeMask
			}
		case RegDRW:
			size := sizeBytes(f.cswSize[apsel])
			a := f.tar[apsel]
			lane := laneOffset(a, size)
			if rnw {
				for i := 0; i < size; i++ {
					result |= uint32(f.mem[a+uint32(i)]) << (8 * (lane + uint32(i)))
				}
			} else {
				for i := 0; i < size; i++ {
					f.mem[a+uint32(i)] = byte(value >> (8 * (lane + uint32(i))))
				}
			}
			f.tar[apsel] = a + uint32(size)
		default:
			m := f.apRegMap(apsel)
			if rnw {
				result = m[full]
			} else {
				m[full] = value
			}
		}
	}

	in := uint64(link.AckOK) | uint64(result)<<3
	return in, nil
}

func (f *fakeJTAGLink) apRegMap(apsel uint8) map[uint8]uint32 {
	m, ok := f.apRegs[apsel]
	if !ok {
		m = make(map[uint8]uint32)
		f.apRegs[apsel] = m
	}
	return m
}

func TestTransactJTAGSelectsIRPerAPnDP(t *testing.T) {
	fl := newFakeJTAGLink()
	dp := NewDP(fl, ProtocolJTAGDP, 0x0477, 0xBA)

	if err := dp.Write(RegCTRLSTAT, 0x50000000); err != nil {
		t.Fatalf("DP write: %v", err)
	}
	got, err := dp.Read(RegCTRLSTAT)
	if err != nil {
		t.Fatalf("DP read: %v", err)
	}
	if got != 0x50000000 {
		t.Fatalf("CTRL/STAT = %#x, want %#x", got, 0x50000000)
	}

	if err := dp.APWrite(0, RegCSW, 0x23000002); err != nil {
		t.Fatalf("APWrite: %v", err)
	}
	if _, err := dp.APRead(0, RegCSW); err != nil {
		t.Fatalf("APRead: %v", err)
	}

	if len(fl.irLog) == 0 {
		t.Fatal("expected at least one IR selection")
	}
	for _, ir := range fl.irLog {
		if ir != jtag.IRDPACC && ir != jtag.IRAPACC {
			t.Fatalf("unexpected IR selected: %#x", ir)
		}
	}
	if fl.irLog[len(fl.irLog)-1] != jtag.IRAPACC {
		t.Fatalf("last selected IR = %#x, want IRAPACC for the AP access", fl.irLog[len(fl.irLog)-1])
	}
}

func TestDPSelectOnlyReissuedOnBankChange(t *testing.T) {
	fl := newFakeLink()
	dp := NewDP(fl, ProtocolSWDv1, 0x0477, 0xBA)

	if err := dp.APWrite(0, RegCSW, 0x23000042); err != nil {
		t.Fatalf("APWrite: %v", err)
	}
	sel1 := fl.selectReg
	if err := dp.APWrite(0, RegTAR, 0x1000); err != nil {
		t.Fatalf("second APWrite: %v", err)
	}
	if fl.selectReg != sel1 {
		t.Fatalf("SELECT changed across same-bank writes: %#x -> %#x", sel1, fl.selectReg)
	}

	if err := dp.APWrite(0, RegBASE, 0); err != nil {
		t.Fatalf("APWrite bank change: %v", err)
	}
	if fl.selectReg == sel1 {
		t.Fatalf("SELECT not re-issued on bank change: still %#x", fl.selectReg)
	}
}

func TestMemAPWriteReadRoundTrip(t *testing.T) {
	fl := newFakeLink()
	dp := NewDP(fl, ProtocolSWDv1, 0x0477, 0xBA)
	arena := NewArena()
	dpIdx := arena.AddDP(dp)
	ap := &AP{arena: arena, dpIdx: dpIdx, Apsel: 0, IDR: 0x24770011}
	m := NewMemAP(ap)

	buf := make([]byte, 256)
	rand.New(rand.NewSource(1)).Read(buf)

	const base = 0x20000000
	if err := m.WriteSized(base, buf, AlignWord); err != nil {
		t.Fatalf("WriteSized: %v", err)
	}

	out := make([]byte, len(buf))
	if err := m.ReadSized(out, base, AlignWord); err != nil {
		t.Fatalf("ReadSized: %v", err)
	}

	for i := range buf {
		if out[i] != buf[i] {
			t.Fatalf("byte %d mismatch: got %#x want %#x", i, out[i], buf[i])
		}
	}
}

// TestMemAPByteWriteReadUnalignedLane confirms a sub-word transfer at a
// non-word-aligned address lands in the byte lane the address selects
// rather than always lane 0 (spec.md §4.2's "data lane appropriate to the
// address low bits").
func TestMemAPByteWriteReadUnalignedLane(t *testing.T) {
	fl := newFakeLink()
	dp := NewDP(fl, ProtocolSWDv1, 0x0477, 0xBA)
	arena := NewArena()
	dpIdx := arena.AddDP(dp)
	ap := &AP{arena: arena, dpIdx: dpIdx, Apsel: 0, IDR: 0x24770011}
	m := NewMemAP(ap)

	const base = 0x20000000
	for _, addr := range []uint32{base, base + 1, base + 2, base + 3} {
		want := []byte{0xAB}
		if err := m.WriteSized(addr, want, AlignByte); err != nil {
			t.Fatalf("WriteSized(%#x): %v", addr, err)
		}
		got := make([]byte, 1)
		if err := m.ReadSized(got, addr, AlignByte); err != nil {
			t.Fatalf("ReadSized(%#x): %v", addr, err)
		}
		if got[0] != want[0] {
			t.Fatalf("addr %#x: got %#x, want %#x", addr, got[0], want[0])
		}
	}

	// A halfword write at addr+2 must not disturb the byte at addr.
	if err := m.WriteSized(base, []byte{0x11}, AlignByte); err != nil {
		t.Fatalf("WriteSized seed: %v", err)
	}
	if err := m.WriteSized(base+2, []byte{0x22, 0x33}, AlignHalfword); err != nil {
		t.Fatalf("WriteSized halfword: %v", err)
	}
	got := make([]byte, 1)
	if err := m.ReadSized(got, base, AlignByte); err != nil {
		t.Fatalf("ReadSized(base): %v", err)
	}
	if got[0] != 0x11 {
		t.Fatalf("byte at base corrupted by unrelated halfword write: got %#x, want 0x11", got[0])
	}
}

func TestTARReloadOnWindowCrossing(t *testing.T) {
	fl := newFakeLink()
	dp := NewDP(fl, ProtocolSWDv1, 0x0477, 0xBA)
	arena := NewArena()
	dpIdx := arena.AddDP(dp)
	m := NewMemAP(&AP{arena: arena, dpIdx: dpIdx, Apsel: 0, IDR: 0x24770011})
	m.cswValid = true

	reloaded, err := m.setTAR(0x1000_0000)
	if err != nil || !reloaded {
		t.Fatalf("first setTAR should reload: %v %v", reloaded, err)
	}

	m.advanceTAR(0x1000_0000, 4)
	reloaded, err = m.setTAR(0x1000_0004)
	if err != nil {
		t.Fatalf("setTAR: %v", err)
	}
	if reloaded {
		t.Fatalf("same-window address should not reload TAR")
	}

	crossing := uint32(0x1000_0000 + tarWindow)
	m.advanceTAR(0x1000_0004, tarWindow-4)
	reloaded, err = m.setTAR(crossing)
	if err != nil {
		t.Fatalf("setTAR at crossing: %v", err)
	}
	if !reloaded {
		t.Fatalf("crossing the 1KiB window must reload TAR exactly once")
	}
}
