// Cache maintenance around memory transfers (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm

import (
	"fmt"

	"github.com/kestrel-debug/kestrel/adi"
)

// ReadMemory performs a cache-coherent read of len(buf) bytes from addr,
// cleaning any intersecting D-cache lines first (spec.md §4.3).
func (c *Controller) ReadMemory(buf []byte, addr uint32) error {
	if err := c.maintainBeforeRead(addr, len(buf)); err != nil {
		return err
	}
	return c.mem.ReadSized(buf, addr, adi.AlignByte)
}

// WriteMemory performs a cache-coherent write of buf to addr, cleaning and
// invalidating any intersecting D-cache lines first so the write is visible
// to a subsequent core fetch (spec.md §4.3). Used for GDB 'M' packets and
// software breakpoint patching alike.
func (c *Controller) WriteMemory(addr uint32, buf []byte) error {
	if err := c.maintainBeforeWrite(addr, len(buf)); err != nil {
		return err
	}
	return c.mem.WriteSized(addr, buf, adi.AlignByte)
}

// Cache maintenance operation registers (ARMv7-M B3.2.9, "Cache
// maintenance operations"), absolute addresses inside the SCS.
const (
	regICIALLU = 0xE000EF50 // Invalidate all I-cache
	regDCCMVAC = 0xE000EF68 // Clean D-cache by MVA to PoC
	regDCIMVAC = 0xE000EF5C // Invalidate D-cache by MVA to PoC
	regDCCIMVAC = 0xE000EF70 // Clean and invalidate D-cache by MVA to PoC
)

// probeCache reads CTR and CPUID to discover cache line length and presence,
// called once from Attach before any cached transfer (spec.md §4.3,
// "Cache policy": "CTR format must be 4 ... cache line length drives the
// clean/invalidate loop stride").
func (c *Controller) probeCache() error {
	ctr, err := c.readWord(RegCTR)
	if err != nil {
		return fmt.Errorf("cortexm: probe CTR: %w", err)
	}
	format := (ctr >> CTRFormatShift) & CTRFormatMask
	if format != CTRFormatCacheDescribed {
		// No cache geometry described; treat the target as cacheless and
		// skip maintenance entirely rather than guess a line length.
		c.hasICache = false
		c.hasDCache = false
		return nil
	}

	dminLine := ctr & 0xF
	c.cacheLineLen = 4 << dminLine
	c.hasDCache = true
	c.hasICache = true
	return nil
}

// maintainBeforeWrite cleans and invalidates every D-cache line intersecting
// [addr, addr+n) before a memory write lands, so a subsequent read by the
// core doesn't see stale cached data (spec.md §4.3: "clean-and-invalidate
// before writes intersecting RAM regions").
func (c *Controller) maintainBeforeWrite(addr uint32, n int) error {
	if !c.hasDCache {
		return nil
	}
	return c.walkCacheLines(addr, n, regDCCIMVAC)
}

// maintainBeforeRead cleans (but does not invalidate) D-cache lines
// intersecting [addr, addr+n) before a debugger read, ensuring any
// core-side dirty line is visible to the AP's view of memory (spec.md
// §4.3: "clean-only before reads").
func (c *Controller) maintainBeforeRead(addr uint32, n int) error {
	if !c.hasDCache {
		return nil
	}
	return c.walkCacheLines(addr, n, regDCCMVAC)
}

func (c *Controller) walkCacheLines(addr uint32, n int, op uint32) error {
	line := uint32(c.cacheLineLen)
	if line == 0 {
		return nil
	}
	start := addr &^ (line - 1)
	end := addr + uint32(n)
	for a := start; a < end; a += line {
		if err := c.writeWord(op, a); err != nil {
			return fmt.Errorf("cortexm: cache maintenance at %#x: %w", a, err)
		}
	}
	return nil
}

// invalidateICacheOnResume issues ICIALLU before Resume releases the core,
// covering any breakpoint instruction patched into code memory since the
// last run (spec.md §4.3: "ICIALLU on resume if an I-cache is present").
func (c *Controller) invalidateICacheOnResume() error {
	if !c.hasICache {
		return nil
	}
	if err := c.writeWord(regICIALLU, 0); err != nil {
		return fmt.Errorf("cortexm: invalidate I-cache: %w", err)
	}
	return nil
}
