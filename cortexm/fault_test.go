// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm_test

import (
	"testing"

	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/simlink"
)

func TestUnwindFaultBasicFrameOnMSP(t *testing.T) {
	l := simlink.New()
	ctrl := attach(t, l)

	const sp = simlink.RAMStart + 0x100
	const (
		r0         = 0x11111111
		excReturn  = 0xFFFFFFF9 // EXC_RETURN: MSP, basic frame
		stackedLR  = 0x08000099 // caller's return address, distinct from PC
		pc         = 0x08000042
		xpsr       = 0x01000000 // no stack-alignment fixup
	)
	frame := []uint32{r0, 0, 0, 0, 0, stackedLR, pc, xpsr}
	for i, w := range frame {
		l.PokeWord(sp+uint32(i)*4, w)
	}
	l.SetRegister(cortexm.RegSelMSP, sp)
	l.SetRegister(cortexm.RegSelLR, excReturn)

	f, err := ctrl.UnwindFault()
	if err != nil {
		t.Fatalf("UnwindFault: %v", err)
	}
	if f.Extended {
		t.Error("expected a basic (non-FPU) frame")
	}
	if f.PC != pc {
		t.Errorf("PC = %#x, want %#x", f.PC, pc)
	}
	if f.R0 != r0 {
		t.Errorf("R0 = %#x, want %#x", f.R0, r0)
	}
	if f.FrameBase != sp {
		t.Errorf("FrameBase = %#x, want %#x", f.FrameBase, sp)
	}

	if f.LR != stackedLR {
		t.Errorf("FaultFrame.LR = %#x, want %#x", f.LR, stackedLR)
	}

	gotLR, err := ctrl.ReadRegister(cortexm.RegSelLR)
	if err != nil {
		t.Fatalf("ReadRegister(LR): %v", err)
	}
	if gotLR != stackedLR {
		t.Errorf("restored LR = %#x, want %#x (the stacked return address)", gotLR, stackedLR)
	}

	gotPC, err := ctrl.ReadRegister(cortexm.RegSelPC)
	if err != nil {
		t.Fatalf("ReadRegister(PC): %v", err)
	}
	if gotPC != pc {
		t.Errorf("restored PC = %#x, want %#x", gotPC, pc)
	}

	gotMSP, err := ctrl.ReadRegister(cortexm.RegSelMSP)
	if err != nil {
		t.Fatalf("ReadRegister(MSP): %v", err)
	}
	if want := uint32(sp + 32); gotMSP != want {
		t.Errorf("restored MSP = %#x, want %#x (sp + 32-byte basic frame)", gotMSP, want)
	}
}
