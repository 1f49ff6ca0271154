// Cortex-M debug controller (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/kerrors"
)

// HaltReason enumerates why halt_poll reports the target stopped (spec.md
// §4.3, "Halt-reason decode").
type HaltReason int

const (
	Running HaltReason = iota
	Fault
	Breakpoint
	Watchpoint
	Stepping
	Request
)

func (r HaltReason) String() string {
	switch r {
	case Running:
		return "running"
	case Fault:
		return "fault"
	case Breakpoint:
		return "breakpoint"
	case Watchpoint:
		return "watchpoint"
	case Stepping:
		return "stepping"
	case Request:
		return "request"
	default:
		return "unknown"
	}
}

// TargetOptions mirrors spec.md §3's target_options bitfield.
type TargetOptions uint32

const (
	FlavourV6M TargetOptions = 1 << iota
	FlavourV7MF
	InhibitNRST
)

// SemihostBreakpointOpcode is the Thumb BKPT 0xAB instruction's halfword
// encoding, used to distinguish a semihosting trap from any other hardware
// breakpoint hit (spec.md §4.3: "BKPT + PC-points-at-0xBEAB").
const SemihostBreakpointOpcode = 0xBEAB

// Controller is the per-target Cortex-M private state described in spec.md
// §3: the AP pointer, stepping/on_bkpt flags, comparator occupancy, FPB
// revision, saved DEMCR, and dcache geometry.
type Controller struct {
	mem *adi.MemAP
	cfg *config.Config

	options TargetOptions

	stepping bool
	onBkpt   bool

	fpbRev      int
	fpbNumCode  int
	fpbUsed     []bool

	dwtNumComp int
	watches    []Breakwatch

	attached bool

	cacheLineLen int
	hasICache    bool
	hasDCache    bool

	lastDFSR uint32
	errno    kerrors.TargetErrno
}

// New builds a Controller over an already-discovered MEM-AP. cfg supplies
// the process-wide timeouts and vector-catch selection (spec.md §9,
// "Global configuration").
func New(mem *adi.MemAP, cfg *config.Config, options TargetOptions) *Controller {
	return &Controller{mem: mem, cfg: cfg, options: options}
}

// MemAP exposes the underlying MEM-AP for callers (semihosting, RTT) that
// need raw memory access alongside register/halt control.
func (c *Controller) MemAP() *adi.MemAP { return c.mem }

// Options returns the target_options bitfield this controller was built
// with.
func (c *Controller) Options() TargetOptions { return c.options }

func (c *Controller) readWord(addr uint32) (uint32, error)  { return c.mem.ReadWord(addr) }
func (c *Controller) writeWord(addr, v uint32) error          { return c.mem.WriteWord(addr, v) }

// Attach performs spec.md §4.3's Attach sequence: halt, configure DEMCR
// with vector catch, clear DFSR, size and zero the FPB/DWT, enable the FPB,
// and (if the target was held in reset) wait for S_RESET_ST to clear.
func (c *Controller) Attach(ctx context.Context, wasReset bool) error {
	if err := c.writeWord(RegDHCSR, DHCSRDebugKey|DHCSRCDebugen|DHCSRCHalt); err != nil {
		return fmt.Errorf("cortexm: attach halt: %w", err)
	}

	demcr := uint32(DEMCRTrcena | DEMCRVCHardErr | DEMCRVCCorereset)
	demcr |= c.vectorCatchBits()

	ap := c.mem.AP()
	if !ap.HasDEMCRSnapshot() {
		prev, err := c.readWord(RegDEMCR)
		if err != nil {
			return fmt.Errorf("cortexm: attach snapshot DEMCR: %w", err)
		}
		ap.SnapshotDEMCR(prev)
	}

	if err := c.writeWord(RegDEMCR, demcr); err != nil {
		return fmt.Errorf("cortexm: attach DEMCR: %w", err)
	}

	// DFSR is write-1-to-clear.
	if err := c.writeWord(RegDFSR, 0xFFFFFFFF); err != nil {
		return fmt.Errorf("cortexm: attach clear DFSR: %w", err)
	}

	if err := c.sizeAndZeroComparators(); err != nil {
		return err
	}

	if err := c.probeCache(); err != nil {
		return err
	}

	if wasReset {
		if !c.waitFor(ctx, RegDHCSR, DHCSRSResetST, 0, c.cfg.ResetReleaseTimeout) {
			return fmt.Errorf("cortexm: attach: %w waiting for S_RESET_ST to clear", kerrors.ErrTimeout)
		}
	}

	dhcsr, err := c.readWord(RegDHCSR)
	if err != nil {
		return fmt.Errorf("cortexm: attach readback DHCSR: %w", err)
	}
	if dhcsr&DHCSRSHalt == 0 {
		if !c.waitFor(ctx, RegDHCSR, DHCSRSHalt, DHCSRSHalt, c.cfg.CortexMWaitTimeout) {
			return fmt.Errorf("cortexm: attach: %w waiting for S_HALT", kerrors.ErrTimeout)
		}
	}

	c.attached = true
	return nil
}

func (c *Controller) vectorCatchBits() uint32 {
	vc := c.cfg.VectorCatch
	var bits uint32
	if vc.Hard {
		bits |= DEMCRVCHardErr
	}
	if vc.Int {
		bits |= DEMCRVCIntErr
	}
	if vc.Bus {
		bits |= DEMCRVCBusErr
	}
	if vc.Stat {
		bits |= DEMCRVCStatErr
	}
	if vc.Chk {
		bits |= DEMCRVCChkErr
	}
	if vc.NoCP {
		bits |= DEMCRVCNoCPErr
	}
	if vc.MM {
		bits |= DEMCRVCMMErr
	}
	if vc.Reset {
		bits |= DEMCRVCCorereset
	}
	return bits
}

// Detach performs spec.md §4.3's Detach sequence: clear every comparator,
// restore DEMCR from its snapshot, then walk DHCSR through C_HALT ->
// C_DEBUGEN -> 0 so interrupts re-enable cleanly.
func (c *Controller) Detach() error {
	for i := range c.watches {
		if err := c.clearBreakwatch(i); err != nil {
			return err
		}
	}
	c.watches = nil

	ap := c.mem.AP()
	if ap.HasDEMCRSnapshot() {
		if err := c.writeWord(RegDEMCR, ap.DEMCRSnapshot); err != nil {
			return fmt.Errorf("cortexm: detach restore DEMCR: %w", err)
		}
		ap.ClearDEMCRSnapshot()
	}

	if err := c.writeWord(RegDHCSR, DHCSRDebugKey|DHCSRCDebugen|DHCSRCHalt); err != nil {
		return fmt.Errorf("cortexm: detach step 1: %w", err)
	}
	if err := c.writeWord(RegDHCSR, DHCSRDebugKey|DHCSRCDebugen); err != nil {
		return fmt.Errorf("cortexm: detach step 2: %w", err)
	}
	if err := c.writeWord(RegDHCSR, DHCSRDebugKey); err != nil {
		return fmt.Errorf("cortexm: detach step 3: %w", err)
	}

	c.attached = false
	return nil
}

// Attached reports whether Attach has succeeded without a following Detach.
func (c *Controller) Attached() bool { return c.attached }

// HaltRequest issues a single DHCSR write requesting halt. It tolerates the
// target being in WFI: a transaction timeout here is not returned as a halt
// failure, and the core stays reported as RUNNING until HaltPoll observes
// S_HALT (spec.md §4.3). Any other write error is returned.
func (c *Controller) HaltRequest() error {
	if err := c.writeWord(RegDHCSR, DHCSRDebugKey|DHCSRCDebugen|DHCSRCHalt); err != nil {
		if errors.Is(err, kerrors.ErrTimeout) {
			return nil
		}
		return fmt.Errorf("cortexm: halt request: %w", err)
	}
	return nil
}

// HaltPoll waits up to cfg.CortexMWaitTimeout for S_HALT and then returns
// the decoded halt reason (REQUEST for a plain debug halt, consistent with
// spec.md §8 scenario 2); on timeout it returns RUNNING with an error.
func (c *Controller) HaltPoll(ctx context.Context) (HaltReason, error) {
	if !c.waitFor(ctx, RegDHCSR, DHCSRSHalt, DHCSRSHalt, c.cfg.CortexMWaitTimeout) {
		return Running, fmt.Errorf("%w: S_HALT not observed", kerrors.ErrTimeout)
	}
	return c.decodeHaltReason()
}

// Resume computes C_DEBUGEN | (step ? C_STEP|C_MASKINTS : 0). If the step
// mode changed since the last resume, it first re-enters halt with the new
// mask bits before releasing, per spec.md §4.3: "the core must first
// re-enter halt with the new mask bits, then release; otherwise write is
// undefined." If the last halt stopped on a breakpoint instruction, the PC
// is advanced past it first.
func (c *Controller) Resume(step bool) error {
	if c.onBkpt {
		if err := c.advancePastBreakpoint(); err != nil {
			return err
		}
		c.onBkpt = false
	}

	if step != c.stepping {
		halt := uint32(DHCSRDebugKey | DHCSRCDebugen | DHCSRCHalt)
		if step {
			halt |= DHCSRCStep | DHCSRCMaskints
		}
		if err := c.writeWord(RegDHCSR, halt); err != nil {
			return fmt.Errorf("cortexm: resume mode-change halt: %w", err)
		}
	}

	if err := c.invalidateICacheOnResume(); err != nil {
		return err
	}

	run := uint32(DHCSRDebugKey | DHCSRCDebugen)
	if step {
		run |= DHCSRCStep | DHCSRCMaskints
	}
	if err := c.writeWord(RegDHCSR, run); err != nil {
		return fmt.Errorf("cortexm: resume: %w", err)
	}

	c.stepping = step
	return nil
}

func (c *Controller) advancePastBreakpoint() error {
	pc, err := c.ReadRegister(RegSelPC)
	if err != nil {
		return err
	}
	half, err := c.readHalfword(pc)
	if err != nil {
		return err
	}
	if half&0xFF00 == 0xBE00 { // any BKPT #imm encoding, Thumb
		return c.WriteRegister(RegSelPC, pc+2)
	}
	return nil
}

func (c *Controller) readHalfword(addr uint32) (uint16, error) {
	buf := make([]byte, 2)
	if err := c.mem.ReadSized(buf, addr, adi.AlignHalfword); err != nil {
		return 0, err
	}
	return uint16(buf[0]) | uint16(buf[1])<<8, nil
}

// waitFor polls addr until (value & mask) == want or the timeout elapses.
func (c *Controller) waitFor(ctx context.Context, addr uint32, mask, want uint32, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		v, err := c.readWord(addr)
		if err == nil && v&mask == want {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Millisecond):
		}
	}
}

// decodeHaltReason implements spec.md §4.3's ordered halt-reason decode:
// VCATCH -> FAULT (returned without unwinding the stacked exception frame;
// UnwindFault performs that unwind separately); BKPT at the semihosting opcode -> handled
// by the caller via IsSemihostingTrap/Resume; DWTTRAP -> WATCHPOINT; BKPT ->
// BREAKPOINT; HALTED -> STEPPING or REQUEST.
func (c *Controller) decodeHaltReason() (HaltReason, error) {
	dfsr, err := c.readWord(RegDFSR)
	if err != nil {
		return Running, err
	}
	if err := c.writeWord(RegDFSR, dfsr); err != nil { // write-back, not write-1-to-clear-all
		return Running, err
	}
	c.lastDFSR = dfsr

	if dfsr&DFSRVcatch != 0 {
		c.onBkpt = false
		return Fault, nil
	}

	if dfsr&DFSRBkpt != 0 {
		pc, err := c.ReadRegister(RegSelPC)
		if err == nil {
			if half, herr := c.readHalfword(pc); herr == nil && half == SemihostBreakpointOpcode {
				c.onBkpt = true
				return Breakpoint, errSemihostingTrap
			}
		}
		c.onBkpt = true
		return Breakpoint, nil
	}

	if dfsr&DFSRDwttrap != 0 {
		return Watchpoint, nil
	}

	if dfsr&DFSRHalted != 0 {
		if c.stepping {
			return Stepping, nil
		}
		return Request, nil
	}

	return Running, nil
}

// errSemihostingTrap is a sentinel, not a real error: decodeHaltReason
// returns it alongside Breakpoint so callers (the dispatcher) know to hand
// off to the semihosting package before reporting anything to the host,
// matching spec.md §4.3's "hand to semihosting, resume, report RUNNING".
var errSemihostingTrap = fmt.Errorf("cortexm: semihosting trap")

// IsSemihostingTrap reports whether the error returned alongside a
// Breakpoint HaltReason from HaltPoll indicates a semihosting call rather
// than a user breakpoint.
func IsSemihostingTrap(err error) bool { return err == errSemihostingTrap }

// LastDFSR exposes the most recently observed DFSR for diagnostics and for
// locating the matched DWT comparator on a Watchpoint halt.
func (c *Controller) LastDFSR() uint32 { return c.lastDFSR }

// Errno returns the semihosting errno remembered from the last failing
// syscall, surfaced by SYS_ERRNO (spec.md §7).
func (c *Controller) Errno() kerrors.TargetErrno { return c.errno }

// SetErrno records the semihosting errno for the next SYS_ERRNO call.
func (c *Controller) SetErrno(e kerrors.TargetErrno) { c.errno = e }

// Reset implements spec.md §4.3's Reset: pulse nRST unless InhibitNRST is
// set, falling back to AIRCR SYSRESETREQ if S_RESET_ST isn't observed, wait
// for reset to clear, delay for clock ramp-up, clear DFSR, and swallow any
// residual DAP error.
func (c *Controller) Reset(ctx context.Context, pulseNRST func() error) error {
	inhibited := c.options&InhibitNRST != 0 || c.cfg.InhibitNRST
	releasedByNRST := false

	if !inhibited && pulseNRST != nil {
		if err := pulseNRST(); err != nil {
			return fmt.Errorf("cortexm: reset: nRST pulse: %w", err)
		}
		releasedByNRST = c.waitFor(ctx, RegDHCSR, DHCSRSResetST, DHCSRSResetST, 50*time.Millisecond)
	}

	if !releasedByNRST {
		if err := c.writeWord(RegAIRCR, AIRCRVectKey|AIRCRSysresetreq); err != nil {
			return fmt.Errorf("cortexm: reset: AIRCR SYSRESETREQ: %w", err)
		}
	}

	if !c.waitFor(ctx, RegDHCSR, DHCSRSResetST, 0, c.cfg.ResetReleaseTimeout) {
		return fmt.Errorf("%w: S_RESET_ST did not clear", kerrors.ErrTimeout)
	}

	select {
	case <-time.After(10 * time.Millisecond):
	case <-ctx.Done():
	}

	c.writeWord(RegDFSR, 0xFFFFFFFF)
	c.mem.AP().DP().ClearStickyError()
	return nil
}
