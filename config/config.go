// Process-wide configuration for the kestrel debug core
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package config ties the scattered globals described in spec.md's Design
// Notes (connect_assert_nrst, cortexm_wait_timeout, debug_bmp, the RTT
// tuning knobs) into one record owned by the process. Monitor commands
// mutate fields of the record rather than package-level variables.
package config

import "time"

// VectorCatch selects which DFSR/DEMCR vector-catch bits are armed on
// attach, in addition to the always-on VC_HARDERR/VC_CORERESET pair
// (spec.md §4.3, Attach).
type VectorCatch struct {
	Hard  bool // HardFault
	Int   bool // interrupt/exception entry
	Bus   bool // BusFault
	Stat  bool // UsageFault (state)
	Chk   bool // UsageFault (checking)
	NoCP  bool // UsageFault (no coprocessor)
	MM    bool // MemManage fault
	Reset bool // local reset
}

// RTT holds the tuning knobs for the L4b poller (spec.md §4.6).
type RTT struct {
	Enabled    bool
	Ident      string // literal identifier to search for; empty = rolling-hash magic search
	CBAddr     uint32 // optional fixed control-block address, 0 = search
	ScanStart  uint32 // restrict the search to [ScanStart, ScanEnd); both 0 = whole RAM
	ScanEnd    uint32
	MinPollMs  int
	MaxPollMs  int
	MaxPollErrs int
}

// DefaultRTT returns the RTT tuning knobs spec.md §4.6 assumes as a
// starting point: min/max poll period and the error budget before the
// poller disables itself.
func DefaultRTT() RTT {
	return RTT{
		MinPollMs:   1,
		MaxPollMs:   256,
		MaxPollErrs: 10,
	}
}

// Config is the single configuration record threaded through every layer
// constructor (L1 DP/AP, L2 Cortex-M controller, L3 scan, L4 services).
type Config struct {
	// ConnectAssertNRST, if true, asserts nRST for the duration of attach
	// (monitor command: connect_rst).
	ConnectAssertNRST bool

	// CortexMWaitTimeout bounds S_HALT polling (default 2s per spec.md §5;
	// monitor command: halt_timeout); S_RESET_ST waits use
	// ResetReleaseTimeout.
	CortexMWaitTimeout time.Duration

	// ResetReleaseTimeout bounds waiting for S_RESET_ST to clear after a
	// reset pulse or AIRCR SYSRESETREQ (spec.md §4.3, 1s).
	ResetReleaseTimeout time.Duration

	// StubExecTimeout bounds Flash-stub execution (spec.md §5, 5s).
	StubExecTimeout time.Duration

	// DebugBMP, if true, enables extra wire-level tracing of ADI
	// transactions (monitor command: debug_bmp).
	DebugBMP bool

	// InhibitNRST mirrors the target_options INHIBIT_NRST bit but at process
	// scope: when true, reset() never pulses nRST, only AIRCR.
	InhibitNRST bool

	VectorCatch VectorCatch
	RTT         RTT

	// RedirectStdout selects whether SYS_WRITE/SYS_WRITEC semihosting
	// output to STDOUT is echoed on the GDB console in addition to being
	// written to the target's own fd (monitor command: redirect_stdout).
	RedirectStdout bool

	// TPwr controls target power-rail supply from the probe, when the
	// probe hardware supports it (monitor command: tpwr).
	TPwr bool
}

// New returns a Config populated with the defaults spec.md assumes
// throughout (2s Cortex-M halt timeout, 1s reset-release timeout, 5s stub
// execution timeout).
func New() *Config {
	return &Config{
		CortexMWaitTimeout:  2 * time.Second,
		ResetReleaseTimeout: 1 * time.Second,
		StubExecTimeout:     5 * time.Second,
		RTT:                 DefaultRTT(),
	}
}
