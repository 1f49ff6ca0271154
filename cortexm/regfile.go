// Cortex-M register file access via DCRSR/DCRDR (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm

import (
	"fmt"
	"time"

	"github.com/kestrel-debug/kestrel/kerrors"
)

// ReadRegister reads one register selected by sel via DCRSR/DCRDR (spec.md
// §4.3: "Reads go via DCRSR (write register selector) then DCRDR (read
// value)"). FPU register selectors return kerrors.ErrUnsupported unless
// FlavourV7MF is set.
func (c *Controller) ReadRegister(sel uint32) (uint32, error) {
	if isFPURegSel(sel) && c.options&FlavourV7MF == 0 {
		return 0, fmt.Errorf("%w: FPU register %#x on non-FPU target", kerrors.ErrUnsupported, sel)
	}

	if err := c.writeWord(RegDCRSR, sel&DCRSRRegselMask); err != nil {
		return 0, fmt.Errorf("cortexm: read register %#x: select: %w", sel, err)
	}
	if !c.waitRegReady() {
		return 0, fmt.Errorf("%w: S_REGRDY not observed reading register %#x", kerrors.ErrTimeout, sel)
	}
	v, err := c.readWord(RegDCRDR)
	if err != nil {
		return 0, fmt.Errorf("cortexm: read register %#x: value: %w", sel, err)
	}
	return v, nil
}

// WriteRegister writes value to the register selected by sel, setting
// DCRSR's REGWnR bit (spec.md §4.3: "Writes reverse this, setting the
// REGWnR bit").
func (c *Controller) WriteRegister(sel uint32, value uint32) error {
	if isFPURegSel(sel) && c.options&FlavourV7MF == 0 {
		return fmt.Errorf("%w: FPU register %#x on non-FPU target", kerrors.ErrUnsupported, sel)
	}

	if err := c.writeWord(RegDCRDR, value); err != nil {
		return fmt.Errorf("cortexm: write register %#x: value: %w", sel, err)
	}
	if err := c.writeWord(RegDCRSR, (sel&DCRSRRegselMask)|DCRSRRegwnR); err != nil {
		return fmt.Errorf("cortexm: write register %#x: select: %w", sel, err)
	}
	if !c.waitRegReady() {
		return fmt.Errorf("%w: S_REGRDY not observed writing register %#x", kerrors.ErrTimeout, sel)
	}
	return nil
}

func isFPURegSel(sel uint32) bool {
	return sel == RegSelFPSCR || (sel >= RegSelS0 && sel < RegSelS0+32)
}

func (c *Controller) waitRegReady() bool {
	deadline := time.Now().Add(200 * time.Millisecond)
	for {
		v, err := c.readWord(RegDHCSR)
		if err == nil && v&DHCSRSRegrdy != 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
	}
}

// ReadRegisterList reads every register named in sels in order, stopping at
// the first error.
func (c *Controller) ReadRegisterList(sels []uint32) ([]uint32, error) {
	out := make([]uint32, len(sels))
	for i, sel := range sels {
		v, err := c.ReadRegister(sel)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CoreRegisterSelectors returns the 20 GP/status register selectors, in the
// canonical order R0..R12, SP, LR, PC, xPSR, MSP, PSP, SPECIAL (spec.md
// §4.3).
func CoreRegisterSelectors() []uint32 {
	sels := make([]uint32, NumCoreRegisters)
	for i := range sels {
		sels[i] = uint32(i)
	}
	return sels
}

// FPURegisterSelectors returns FPSCR followed by S0..S31, used when
// FlavourV7MF is set.
func FPURegisterSelectors() []uint32 {
	sels := make([]uint32, NumFPURegisters)
	sels[0] = RegSelFPSCR
	for i := 0; i < 32; i++ {
		sels[i+1] = RegSelS0 + uint32(i)
	}
	return sels
}
