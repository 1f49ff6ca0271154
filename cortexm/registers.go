// Cortex-M debug register layout (L2)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cortexm implements the Cortex-M debug controller described in
// spec.md §4.3: attach/detach, halt/resume/step, the register file via
// DCRSR/DCRDR, FPB/DWT comparators, vector catch, fault unwind, and cache
// maintenance around memory transfers.
package cortexm

// SCS (System Control Space) base and the debug register layout within it
// (spec.md §6, "Cortex-M debug register layout at SCS base 0xE000EDF0").
const (
	SCSBase = 0xE000E000

	RegDHCSR = 0xE000EDF0
	RegDCRSR = 0xE000EDF4
	RegDCRDR = 0xE000EDF8
	RegDEMCR = 0xE000EDFC

	RegDFSR  = 0xE000ED30
	RegHFSR  = 0xE000ED2C
	RegCFSR  = 0xE000ED28
	RegAIRCR = 0xE000ED0C
	RegCPUID = 0xE000ED00
	RegCTR   = 0xE000ED78
	RegCPACR = 0xE000ED88

	FPBBase = 0xE0002000
	DWTBase = 0xE0001000
)

// DHCSR bits (ARMv7-M Architecture Reference Manual, C1.6.2).
const (
	DHCSRDebugKey    = 0xA05F << 16
	DHCSRCDebugen    = 1 << 0
	DHCSRCHalt       = 1 << 1
	DHCSRCStep       = 1 << 2
	DHCSRCMaskints   = 1 << 3
	DHCSRCSnapstall  = 1 << 5
	DHCSRSRegrdy     = 1 << 16
	DHCSRSHalt       = 1 << 17
	DHCSRSSleep      = 1 << 18
	DHCSRSLockup     = 1 << 19
	DHCSRSRetireST   = 1 << 24
	DHCSRSResetST    = 1 << 25
)

// DCRSR bits.
const (
	DCRSRRegwnR = 1 << 16
	DCRSRRegselMask = 0x7F
)

// Register selector values for DCRSR/DCRDR (spec.md §4.3: "20 GP/status
// registers ... plus 33 FPU registers").
const (
	RegSelR0 = iota
	RegSelR1
	RegSelR2
	RegSelR3
	RegSelR4
	RegSelR5
	RegSelR6
	RegSelR7
	RegSelR8
	RegSelR9
	RegSelR10
	RegSelR11
	RegSelR12
	RegSelSP
	RegSelLR
	RegSelPC
	RegSelXPSR
	RegSelMSP
	RegSelPSP
	RegSelSpecial // CONTROL/FAULTMASK/BASEPRI/PRIMASK packed
)

const (
	RegSelFPSCR = 0x21
	RegSelS0    = 0x40 // S0..S31 = 0x40..0x5F
)

// NumCoreRegisters is the 20-entry GP/status register list (spec.md §4.3).
const NumCoreRegisters = 20

// NumFPURegisters is FPSCR + S0..S31 (spec.md §4.3).
const NumFPURegisters = 33

// DEMCR bits.
const (
	DEMCRVCCorereset = 1 << 0
	DEMCRVCMMErr     = 1 << 4
	DEMCRVCNoCPErr   = 1 << 5
	DEMCRVCChkErr    = 1 << 6
	DEMCRVCStatErr   = 1 << 7
	DEMCRVCBusErr    = 1 << 8
	DEMCRVCIntErr    = 1 << 9
	DEMCRVCHardErr   = 1 << 10
	DEMCRMonEn       = 1 << 16
	DEMCRMonPend     = 1 << 17
	DEMCRMonStep     = 1 << 18
	DEMCRMonReq      = 1 << 19
	DEMCRTrcena      = 1 << 24
)

// DFSR bits (halt reason).
const (
	DFSRHalted  = 1 << 0
	DFSRBkpt    = 1 << 1
	DFSRDwttrap = 1 << 2
	DFSRVcatch  = 1 << 3
	DFSRExternal = 1 << 4
)

// AIRCR bits.
const (
	AIRCRVectKey       = 0x05FA << 16
	AIRCRVectClrActive = 1 << 1
	AIRCRSysresetreq   = 1 << 2
)

// HFSR bits.
const (
	HFSRVecttbl  = 1 << 1
	HFSRForced   = 1 << 30
	HFSRDebugevt = 1 << 31
)

// CFSR field shifts: MMFSR in bits [7:0], BFSR in [15:8], UFSR in [31:16].
const (
	CFSRMMFSRShift = 0
	CFSRBFSRShift  = 8
	CFSRUFSRShift  = 16
)

// BFSR bits (within CFSR, after shifting into place).
const (
	BFSRIBusErr    = 1 << (CFSRBFSRShift + 0)
	BFSRPrecise    = 1 << (CFSRBFSRShift + 1)
	BFSRImprecise  = 1 << (CFSRBFSRShift + 2)
	BFSRUnstkErr   = 1 << (CFSRBFSRShift + 3)
	BFSRStkErr     = 1 << (CFSRBFSRShift + 4)
	BFSRLspErr     = 1 << (CFSRBFSRShift + 5)
	BFSRBFARValid  = 1 << (CFSRBFSRShift + 7)
)

// CPUID fields.
const (
	CPUIDPartNoShift  = 4
	CPUIDPartNoMask   = 0xFFF
	CPUIDImplShift    = 24
)

// CTR format field; format 4 signals a unified/separate cache is present
// (spec.md §4.3, Cache policy).
const (
	CTRFormatShift = 29
	CTRFormatMask  = 0x7
	CTRFormatCacheDescribed = 4
)

// FPB registers, offsets from FPBBase.
const (
	FPFPCTRL   = 0x00
	FPFPCOMP0  = 0x08
)

const (
	FPCTRLEnable = 1 << 0
	FPCTRLKey    = 1 << 1
	FPCTRLNumCodeLoMask  = 0xF
	FPCTRLNumCodeLoShift = 4
	FPCTRLNumCodeHiMask  = 0x7
	FPCTRLNumCodeHiShift = 12
	FPCTRLRevShift       = 28
)

// FPB comparator bits, revision 0 (Cortex-M3/M4 FPBv1).
const (
	FPCOMPEnableV1    = 1 << 0
	FPCOMPReplaceShift = 30
	FPCOMPAddrMaskV1  = 0x1FFFFFFC
)

// FPB comparator bits, revision 2 (Cortex-M7 FPBv2).
const (
	FPCOMPEnableV2 = 1 << 0
	FPCOMPAddrMaskV2 = 0xFFFFFFFE
)

// DWT registers.
const (
	DWTCTRL      = 0x00
	DWTComp0     = 0x20
	DWTCompStride = 0x10
	dwtCompOff   = 0x0
	dwtMaskOff   = 0x4
	dwtFuncOff   = 0x8
)

const (
	DWTCTRLNumCompShift = 28
	DWTCTRLNumCompMask  = 0xF
)

// DWT_FUNCTION function codes. Armv6-M's optional DWT uses the same basic
// read/write/access watch encodings as Armv7-M; V6M only narrows what's
// available above the comparator (no linked comparators, no PC/cycle-count
// functions), which this driver doesn't use, so there's a single set of
// codes rather than a per-architecture pair.
const (
	DWTFuncDisabled = 0x0

	DWTFuncWatchRead   = 0x5
	DWTFuncWatchWrite  = 0x6
	DWTFuncWatchAccess = 0x7

	DWTFuncMatched = 1 << 24
)
