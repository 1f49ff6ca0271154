// Error taxonomy for the kestrel debug core
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package kerrors defines the sentinel error kinds shared by every layer of
// the debug core, from the link transport up through semihosting and RTT.
// Callers use errors.Is/errors.As against these sentinels rather than string
// matching; wrapped context is added with fmt.Errorf("...: %w", err).
package kerrors

import "errors"

var (
	// ErrTransport signals a link-level parity error or bus contention.
	// Recovered by the caller via retry, or bubbled up as a scan failure.
	ErrTransport = errors.New("transport error")

	// ErrTimeout signals that an expected ACK, halt, or reset-release did
	// not occur within budget.
	ErrTimeout = errors.New("timeout")

	// ErrAPFault signals a sticky DP fault. Cleared by writing ABORT.
	ErrAPFault = errors.New("AP fault")

	// ErrNoResources signals that the hardware comparator pool (FPB or
	// DWT) is exhausted.
	ErrNoResources = errors.New("no hardware resources")

	// ErrUnsupported signals an operation requested on a core that lacks
	// the feature, e.g. FPU register access on a V6M target.
	ErrUnsupported = errors.New("unsupported on this target")

	// ErrLinkNoDevices signals a scan that found no responder on the link.
	ErrLinkNoDevices = errors.New("no devices on link")

	// ErrProtocol signals a malformed or unrecognized protocol response
	// during scan (bad IDCODE, truncated ROM table entry, ...).
	ErrProtocol = errors.New("protocol error")
)

// TargetErrno is the GDB File-I/O errno space (spec.md §7, TARGET_E*) used
// to report semihosting syscall failures. The numeric values match the GDB
// remote protocol's File-I/O extension errno encoding, not the host's own
// errno numbering.
type TargetErrno int32

const (
	// TargetEOK is not part of the GDB File-I/O errno space; it's this
	// package's zero value, returned by HostIo methods that succeeded and
	// have no errno to report.
	TargetEOK TargetErrno = 0

	TargetEPERM   TargetErrno = 1
	TargetENOENT  TargetErrno = 2
	TargetEINTR   TargetErrno = 4
	TargetEIO     TargetErrno = 5
	TargetEBADF   TargetErrno = 9
	TargetEACCES  TargetErrno = 13
	TargetEFAULT  TargetErrno = 14
	TargetEBUSY   TargetErrno = 16
	TargetEEXIST  TargetErrno = 17
	TargetENODEV  TargetErrno = 19
	TargetENOTDIR TargetErrno = 20
	TargetEISDIR  TargetErrno = 21
	TargetEINVAL  TargetErrno = 22
	TargetENFILE  TargetErrno = 23
	TargetEMFILE  TargetErrno = 24
	TargetEFBIG   TargetErrno = 27
	TargetENOSPC  TargetErrno = 28
	TargetESPIPE  TargetErrno = 29
	TargetEROFS   TargetErrno = 30
	TargetENAMETOOLONG TargetErrno = 91
	TargetEUNKNOWN     TargetErrno = 9999
)

// Error makes TargetErrno usable as a Go error in contexts that need one,
// without losing the underlying numeric code (SYS_ERRNO reports the code,
// not a string).
func (e TargetErrno) Error() string {
	switch e {
	case TargetEPERM:
		return "operation not permitted"
	case TargetENOENT:
		return "no such file or directory"
	case TargetEINTR:
		return "interrupted system call"
	case TargetEIO:
		return "I/O error"
	case TargetEBADF:
		return "bad file descriptor"
	case TargetEACCES:
		return "permission denied"
	case TargetEFAULT:
		return "bad address"
	case TargetEBUSY:
		return "device or resource busy"
	case TargetEEXIST:
		return "file exists"
	case TargetENODEV:
		return "no such device"
	case TargetENOTDIR:
		return "not a directory"
	case TargetEISDIR:
		return "is a directory"
	case TargetEINVAL:
		return "invalid argument"
	case TargetENFILE:
		return "too many open files in system"
	case TargetEMFILE:
		return "too many open files"
	case TargetEFBIG:
		return "file too large"
	case TargetENOSPC:
		return "no space left on device"
	case TargetESPIPE:
		return "illegal seek"
	case TargetEROFS:
		return "read-only file system"
	case TargetENAMETOOLONG:
		return "file name too long"
	default:
		return "unknown error"
	}
}

// IsError reports whether e is one of the enumerated TARGET_E* codes that
// SYS_ISERROR must recognize as truthy (spec.md §4.5).
func (e TargetErrno) IsError() bool {
	switch e {
	case TargetEPERM, TargetENOENT, TargetEINTR, TargetEIO, TargetEBADF,
		TargetEACCES, TargetEFAULT, TargetEBUSY, TargetEEXIST, TargetENODEV,
		TargetENOTDIR, TargetEISDIR, TargetEINVAL, TargetENFILE, TargetEMFILE,
		TargetEFBIG, TargetENOSPC, TargetESPIPE, TargetEROFS, TargetENAMETOOLONG,
		TargetEUNKNOWN:
		return true
	default:
		return false
	}
}
