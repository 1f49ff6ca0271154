// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package jtag

import "testing"

// fakeTAP is an in-memory TAP double that tracks the 4-wire state machine
// well enough to assert on IR/DR shift framing without real hardware: it
// records every TMSSeq/TDITDOSeq call and serves a per-IR DR value so tests
// can distinguish a DPACC shift from an APACC shift.
type fakeTAP struct {
	tmsCalls []struct {
		pattern uint64
		len     int
	}
	irShifts []uint64 // every IR value clocked via TDITDOSeq during Shift-IR
	drShifts []uint64 // every DR value clocked via TDITDOSeq during Shift-DR

	inShiftIR bool
	inShiftDR bool

	drReturn map[uint64]uint64 // currentIR -> value to return from the next DR shift
	currentIR uint64
}

func newFakeTAP() *fakeTAP {
	return &fakeTAP{drReturn: make(map[uint64]uint64)}
}

func (f *fakeTAP) Next(tms, tdi bool) (bool, error) { return false, nil }

func (f *fakeTAP) TMSSeq(pattern uint64, len int) error {
	f.tmsCalls = append(f.tmsCalls, struct {
		pattern uint64
		len     int
	}{pattern, len})

	switch {
	case pattern == 0b0011 && len == 4:
		f.inShiftIR = true
	case pattern == 0b001 && len == 3:
		f.inShiftDR = true
	case pattern == 0b011 && len == 3:
		f.inShiftIR = false
		f.inShiftDR = false
	}
	return nil
}

func (f *fakeTAP) TDITDOSeq(len int, tdi uint64) (uint64, error) {
	switch {
	case f.inShiftIR:
		f.irShifts = append(f.irShifts, tdi)
		f.currentIR = tdi
	case f.inShiftDR:
		f.drShifts = append(f.drShifts, tdi)
		return f.drReturn[f.currentIR], nil
	}
	return 0, nil
}

func TestSelectIRSkipsReselectionWhenUnchanged(t *testing.T) {
	tap := newFakeTAP()
	j := New(tap, nil)

	if err := j.SelectIR(IRDPACC); err != nil {
		t.Fatalf("SelectIR: %v", err)
	}
	if err := j.SelectIR(IRDPACC); err != nil {
		t.Fatalf("SelectIR (repeat): %v", err)
	}
	if len(tap.irShifts) != 1 {
		t.Fatalf("expected one IR shift for two identical SelectIR calls, got %d", len(tap.irShifts))
	}

	if err := j.SelectIR(IRAPACC); err != nil {
		t.Fatalf("SelectIR (changed): %v", err)
	}
	if len(tap.irShifts) != 2 {
		t.Fatalf("expected a second IR shift when IR changes, got %d", len(tap.irShifts))
	}
	if tap.irShifts[1] != IRAPACC {
		t.Fatalf("IR shift = %#x, want %#x", tap.irShifts[1], IRAPACC)
	}
}

func TestShiftDRRoutesByIR(t *testing.T) {
	tap := newFakeTAP()
	tap.drReturn[IRDPACC] = 0xDEAD0001
	tap.drReturn[IRAPACC] = 0xBEEF0002
	j := New(tap, nil)

	if err := j.SelectIR(IRDPACC); err != nil {
		t.Fatalf("SelectIR(DPACC): %v", err)
	}
	v, err := j.ShiftDR(0x1234, 35)
	if err != nil {
		t.Fatalf("ShiftDR: %v", err)
	}
	if v != 0xDEAD0001 {
		t.Fatalf("ShiftDR under DPACC = %#x, want %#x", v, 0xDEAD0001)
	}

	if err := j.SelectIR(IRAPACC); err != nil {
		t.Fatalf("SelectIR(APACC): %v", err)
	}
	v, err = j.ShiftDR(0x5678, 35)
	if err != nil {
		t.Fatalf("ShiftDR: %v", err)
	}
	if v != 0xBEEF0002 {
		t.Fatalf("ShiftDR under APACC = %#x, want %#x", v, 0xBEEF0002)
	}

	if len(tap.drShifts) != 2 || tap.drShifts[0] != 0x1234 || tap.drShifts[1] != 0x5678 {
		t.Fatalf("unexpected DR shift log: %v", tap.drShifts)
	}
}
