// Hardware breakpoints (FPB) and watchpoints (DWT) (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm

import (
	"fmt"

	"github.com/kestrel-debug/kestrel/kerrors"
)

// BreakwatchKind enumerates the breakwatch variants of spec.md §3.
type BreakwatchKind int

const (
	Hard BreakwatchKind = iota
	WatchRead
	WatchWrite
	WatchAccess
)

// Breakwatch is one programmed breakpoint or watchpoint (spec.md §3). Slot
// is only meaningful while Armed is true; clearing a Breakwatch releases
// its comparator and Slot becomes invalid, per the spec's invariant.
type Breakwatch struct {
	Kind  BreakwatchKind
	Addr  uint32
	Size  int // 1, 2 or 4 for watches; unused for Hard
	Slot  int
	Armed bool
}

// sizeAndZeroComparators reads FP_CTRL/DWT_CTRL to discover the comparator
// counts and FPB revision, zeroes every comparator, and enables the FPB
// (spec.md §4.3, Attach).
func (c *Controller) sizeAndZeroComparators() error {
	fpctrl, err := c.readWord(FPBBase + FPFPCTRL)
	if err != nil {
		return fmt.Errorf("cortexm: read FP_CTRL: %w", err)
	}
	numLo := (fpctrl >> FPCTRLNumCodeLoShift) & FPCTRLNumCodeLoMask
	numHi := (fpctrl >> FPCTRLNumCodeHiShift) & FPCTRLNumCodeHiMask
	c.fpbNumCode = int(numLo + numHi<<4)
	c.fpbRev = int((fpctrl >> FPCTRLRevShift) & 0xF)
	c.fpbUsed = make([]bool, c.fpbNumCode)

	for i := 0; i < c.fpbNumCode; i++ {
		if err := c.writeWord(FPBBase+FPFPCOMP0+uint32(i)*4, 0); err != nil {
			return fmt.Errorf("cortexm: zero FP_COMP%d: %w", i, err)
		}
	}
	if err := c.writeWord(FPBBase+FPFPCTRL, FPCTRLEnable|FPCTRLKey); err != nil {
		return fmt.Errorf("cortexm: enable FPB: %w", err)
	}

	dwtctrl, err := c.readWord(DWTBase + DWTCTRL)
	if err != nil {
		return fmt.Errorf("cortexm: read DWT_CTRL: %w", err)
	}
	c.dwtNumComp = int((dwtctrl >> DWTCTRLNumCompShift) & DWTCTRLNumCompMask)

	for i := 0; i < c.dwtNumComp; i++ {
		base := DWTBase + DWTComp0 + uint32(i)*DWTCompStride
		if err := c.writeWord(base+dwtFuncOff, DWTFuncDisabled); err != nil {
			return fmt.Errorf("cortexm: zero DWT comparator %d: %w", i, err)
		}
	}

	c.watches = nil
	return nil
}

// SetBreakpoint allocates a free FPB comparator for a Thumb-aligned hardware
// breakpoint at addr (spec.md §4.3, Breakpoints). It fails with
// kerrors.ErrNoResources when every comparator is in use.
func (c *Controller) SetBreakpoint(addr uint32) (*Breakwatch, error) {
	slot := c.allocFPBSlot()
	if slot < 0 {
		return nil, fmt.Errorf("%w: no free FPB comparator", kerrors.ErrNoResources)
	}

	var comp uint32
	if c.fpbRev == 0 {
		// Revision 0/1: bits[28:2] hold the address, bits[31:30] select
		// the half-word lane within the aligned word.
		lane := uint32(1) << FPCOMPReplaceShift
		if addr&0x2 != 0 {
			lane = uint32(2) << FPCOMPReplaceShift
		}
		comp = (addr & FPCOMPAddrMaskV1) | lane | FPCOMPEnableV1
	} else {
		// Revision 2: full word address plus the E(nable) bit.
		comp = (addr & FPCOMPAddrMaskV2) | FPCOMPEnableV2
	}

	if err := c.writeWord(FPBBase+FPFPCOMP0+uint32(slot)*4, comp); err != nil {
		return nil, fmt.Errorf("cortexm: program FP_COMP%d: %w", slot, err)
	}

	c.fpbUsed[slot] = true
	bw := Breakwatch{Kind: Hard, Addr: addr, Slot: slot, Armed: true}
	c.watches = append(c.watches, bw)
	return &c.watches[len(c.watches)-1], nil
}

func (c *Controller) allocFPBSlot() int {
	for i, used := range c.fpbUsed {
		if !used {
			return i
		}
	}
	return -1
}

// SetWatchpoint allocates a free DWT comparator for a read/write/access
// watch of size bytes (1, 2 or 4) at addr (spec.md §4.3, Watchpoints).
func (c *Controller) SetWatchpoint(kind BreakwatchKind, addr uint32, size int) (*Breakwatch, error) {
	slot := c.allocDWTSlot()
	if slot < 0 {
		return nil, fmt.Errorf("%w: no free DWT comparator", kerrors.ErrNoResources)
	}

	mask, err := sizeMask(size)
	if err != nil {
		return nil, err
	}

	fn, err := dwtFunction(kind)
	if err != nil {
		return nil, err
	}

	base := DWTBase + DWTComp0 + uint32(slot)*DWTCompStride
	if err := c.writeWord(base+dwtCompOff, addr); err != nil {
		return nil, fmt.Errorf("cortexm: program DWT_COMP%d: %w", slot, err)
	}
	if err := c.writeWord(base+dwtMaskOff, mask); err != nil {
		return nil, fmt.Errorf("cortexm: program DWT_MASK%d: %w", slot, err)
	}
	if err := c.writeWord(base+dwtFuncOff, fn); err != nil {
		return nil, fmt.Errorf("cortexm: program DWT_FUNCTION%d: %w", slot, err)
	}

	bw := Breakwatch{Kind: kind, Addr: addr, Size: size, Slot: slot, Armed: true}
	c.watches = append(c.watches, bw)
	return &c.watches[len(c.watches)-1], nil
}

// sizeMask encodes the watch size as a mask length: 0 for 1 byte, 1 for 2
// bytes, 2 for 4 bytes (spec.md §4.3).
func sizeMask(size int) (uint32, error) {
	switch size {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	default:
		return 0, fmt.Errorf("%w: watchpoint size %d", kerrors.ErrUnsupported, size)
	}
}

func dwtFunction(kind BreakwatchKind) (uint32, error) {
	switch kind {
	case WatchRead:
		return DWTFuncWatchRead, nil
	case WatchWrite:
		return DWTFuncWatchWrite, nil
	case WatchAccess:
		return DWTFuncWatchAccess, nil
	default:
		return 0, fmt.Errorf("%w: breakwatch kind %d is not a watchpoint", kerrors.ErrUnsupported, kind)
	}
}

func (c *Controller) allocDWTSlot() int {
	used := c.dwtSlotsUsed()
	for i := 0; i < c.dwtNumComp; i++ {
		if !used[i] {
			return i
		}
	}
	return -1
}

func (c *Controller) dwtSlotsUsed() []bool {
	used := make([]bool, c.dwtNumComp)
	for _, w := range c.watches {
		if w.Armed && w.Kind != Hard {
			used[w.Slot] = true
		}
	}
	return used
}

// ClearBreakwatch releases the comparator reserved by bw, matching spec.md
// §3's invariant: "clearing the entry releases the comparator."
func (c *Controller) ClearBreakwatch(bw *Breakwatch) error {
	for i := range c.watches {
		if &c.watches[i] == bw {
			return c.clearBreakwatch(i)
		}
	}
	return fmt.Errorf("cortexm: breakwatch not found")
}

func (c *Controller) clearBreakwatch(i int) error {
	bw := &c.watches[i]
	if !bw.Armed {
		return nil
	}

	if bw.Kind == Hard {
		if err := c.writeWord(FPBBase+FPFPCOMP0+uint32(bw.Slot)*4, 0); err != nil {
			return fmt.Errorf("cortexm: clear FP_COMP%d: %w", bw.Slot, err)
		}
		c.fpbUsed[bw.Slot] = false
	} else {
		base := DWTBase + DWTComp0 + uint32(bw.Slot)*DWTCompStride
		if err := c.writeWord(base+dwtFuncOff, DWTFuncDisabled); err != nil {
			return fmt.Errorf("cortexm: clear DWT_FUNCTION%d: %w", bw.Slot, err)
		}
	}

	bw.Armed = false
	return nil
}

// Breakwatches returns the live breakwatch list, for the dispatcher's Z/z
// packet handling.
func (c *Controller) Breakwatches() []Breakwatch {
	return c.watches
}

// MatchedWatchpoint reads DWT_FUNC[i].MATCHED for every armed watch and
// returns the first one found set, per spec.md §4.3: "Address match is
// checked on every halt by reading DWT_FUNC[i].MATCHED."
func (c *Controller) MatchedWatchpoint() (*Breakwatch, error) {
	for i := range c.watches {
		bw := &c.watches[i]
		if !bw.Armed || bw.Kind == Hard {
			continue
		}
		base := DWTBase + DWTComp0 + uint32(bw.Slot)*DWTCompStride
		fn, err := c.readWord(base + dwtFuncOff)
		if err != nil {
			return nil, err
		}
		if fn&DWTFuncMatched != 0 {
			return bw, nil
		}
	}
	return nil, nil
}
