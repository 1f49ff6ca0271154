// Exception-frame unwind after a hard fault (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm

import (
	"fmt"
)

// Exception frame layout pushed by the NVIC on entry (ARMv7-M B1.5.6):
// R0, R1, R2, R3, R12, LR, ReturnAddress (PC), xPSR, in that word order.
const (
	frameR0    = 0
	frameR1    = 1
	frameR2    = 2
	frameR3    = 3
	frameR12   = 4
	frameLR    = 5
	framePC    = 6
	frameXPSR  = 7

	basicFrameWords    = 8
	extendedFrameWords = 26 // basic 8 + S0-S15 (16) + FPSCR + reserved

	basicFrameBytes    = basicFrameWords * 4
	extendedFrameBytes = extendedFrameWords * 4
)

// EXC_RETURN bits (ARMv7-M B1.5.8).
const (
	excReturnSPSel  = 1 << 2 // 0 = MSP was in use, 1 = PSP was in use
	excReturnFType  = 1 << 4 // 0 = extended (FPU) frame, 1 = basic frame
)

// FaultFrame is the unwound register state captured by UnwindFault, enough
// to answer a GDB 'g' packet immediately after a HardFault/BusFault halt
// without the caller re-deriving MSP/PSP selection (spec.md §4.3, "fault
// unwind").
type FaultFrame struct {
	R0, R1, R2, R3, R12 uint32
	LR, PC, XPSR        uint32
	FrameBase           uint32
	Extended            bool
}

// UnwindFault reads the stacked exception frame following a fault halt and
// repairs the live register file (LR, PC, and the selected SP) from it, per
// spec.md §4.3: "select MSP or PSP from EXC_RETURN bit 2, restore LR/PC from
// the saved frame, and adjust SP by the basic (32B) or extended (104B) frame
// size, correcting for the 4-byte alignment fixup bit in XPSR[9]."
func (c *Controller) UnwindFault() (*FaultFrame, error) {
	lr, err := c.ReadRegister(RegSelLR)
	if err != nil {
		return nil, fmt.Errorf("cortexm: unwind: read LR: %w", err)
	}

	spSel := RegSelMSP
	if lr&excReturnSPSel != 0 {
		spSel = RegSelPSP
	}
	sp, err := c.ReadRegister(uint32(spSel))
	if err != nil {
		return nil, fmt.Errorf("cortexm: unwind: read stacked SP: %w", err)
	}

	extended := lr&excReturnFType == 0

	words := basicFrameWords
	if extended {
		words = extendedFrameWords
	}
	buf := make([]uint32, words)
	for i := range buf {
		v, err := c.readWord(sp + uint32(i)*4)
		if err != nil {
			return nil, fmt.Errorf("cortexm: unwind: read stacked word %d: %w", i, err)
		}
		buf[i] = v
	}

	xpsr := buf[frameXPSR]
	frameBytes := uint32(basicFrameBytes)
	if extended {
		frameBytes = extendedFrameBytes
	}
	if xpsr&(1<<9) != 0 { // stack-alignment fixup, ARMv7-M B1.5.7
		frameBytes += 4
	}

	frame := &FaultFrame{
		R0: buf[frameR0], R1: buf[frameR1], R2: buf[frameR2], R3: buf[frameR3],
		R12: buf[frameR12], LR: buf[frameLR], PC: buf[framePC], XPSR: xpsr,
		FrameBase: sp, Extended: extended,
	}

	if err := c.WriteRegister(RegSelLR, frame.LR); err != nil {
		return nil, fmt.Errorf("cortexm: unwind: restore LR: %w", err)
	}
	if err := c.WriteRegister(RegSelPC, frame.PC); err != nil {
		return nil, fmt.Errorf("cortexm: unwind: restore PC: %w", err)
	}
	if err := c.WriteRegister(uint32(spSel), sp+frameBytes); err != nil {
		return nil, fmt.Errorf("cortexm: unwind: restore SP: %w", err)
	}

	if err := c.writeWord(RegAIRCR, AIRCRVectKey|AIRCRVectClrActive); err != nil {
		return nil, fmt.Errorf("cortexm: unwind: clear VECTACTIVE: %w", err)
	}

	return frame, nil
}
