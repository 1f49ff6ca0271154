// Semihosting syscall dispatch (L4a)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package semihosting implements the bkpt 0xAB call gate of spec.md §4.5:
// reading the syscall number and parameter block out of target registers
// and memory, dispatching to a HostIo implementation, and writing the
// result back.
package semihosting

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/kerrors"
)

// Syscall numbers (ARM semihosting specification, "Semihosting Operations").
const (
	SysOpen           = 0x01
	SysClose          = 0x02
	SysWriteC         = 0x03
	SysWrite0         = 0x04
	SysWrite          = 0x05
	SysRead           = 0x06
	SysReadC          = 0x07
	SysIsError        = 0x08
	SysIsTTY          = 0x09
	SysSeek           = 0x0A
	SysFLen           = 0x0C
	SysTmpName        = 0x0D
	SysRemove         = 0x0E
	SysRename         = 0x0F
	SysClock          = 0x10
	SysTime           = 0x11
	SysSystem         = 0x12
	SysErrno          = 0x13
	SysGetCmdline     = 0x15
	SysHeapInfo       = 0x16
	SysExit           = 0x18
	SysExitExtended   = 0x20
	SysElapsed        = 0x30
	SysTickFreq       = 0x31
)

// featuresHandle is the dedicated pseudo-file-descriptor value for
// ":semihosting-features" (spec.md §4.5: "use INT32_MAX").
const featuresHandle = 0x7FFFFFFF

// featuresPayload is the fixed 5-byte response body: "SHFB" followed by a
// capability byte advertising extended-exit and split stdout/stderr support
// (spec.md §4.5, §8 boundary behavior).
var featuresPayload = []byte{'S', 'H', 'F', 'B', 0x03}

// fopenModes maps the SYS_OPEN mode index to POSIX-style open flags, in the
// order r, rb, r+, r+b, w, wb, w+, w+b, a, ab, a+, a+b (spec.md §4.5:
// "mode index -> flags table with six entries from r/rb through a+/a+b").
// Six *names*, twelve indices (plain/binary variants share a name).
type openFlags struct {
	read, write, create, truncate, append bool
}

var fopenModes = [12]openFlags{
	{read: true},                                  // 0: r
	{read: true},                                   // 1: rb
	{read: true, write: true},                      // 2: r+
	{read: true, write: true},                      // 3: r+b
	{write: true, create: true, truncate: true},     // 4: w
	{write: true, create: true, truncate: true},     // 5: wb
	{read: true, write: true, create: true, truncate: true}, // 6: w+
	{read: true, write: true, create: true, truncate: true}, // 7: w+b
	{write: true, create: true, append: true},       // 8: a
	{write: true, create: true, append: true},       // 9: ab
	{read: true, write: true, create: true, append: true},   // 10: a+
	{read: true, write: true, create: true, append: true},   // 11: a+b
}

const (
	stdinFileno  = 0
	stdoutFileno = 1
	stderrFileno = 2
)

// Service dispatches semihosting syscalls for one attached target (spec.md
// §4.5).
type Service struct {
	ctrl *cortexm.Controller
	io   HostIo

	cmdLine  string
	heapInfo [16]byte

	clockStart time.Time
	haveClock  bool

	elapsedBase uint64
	haveElapsed bool

	tickFreq uint32

	featuresPos int
}

// New builds a Service over ctrl, using io to natively serve or relay host
// I/O (spec.md §9: "a single dispatch over a HostIo interface").
func New(ctrl *cortexm.Controller, io HostIo, cmdLine string, heapInfo [16]byte, tickFreq uint32) *Service {
	return &Service{ctrl: ctrl, io: io, cmdLine: cmdLine, heapInfo: heapInfo, tickFreq: tickFreq}
}

// Handle reads R0 (syscall number) and R1 (parameter block pointer),
// dispatches, and writes the 32-bit result back to R0 (spec.md §4.5). It is
// called by the dispatcher immediately after cortexm.IsSemihostingTrap
// reports true for the halt just observed.
func (s *Service) Handle() error {
	op, err := s.ctrl.ReadRegister(cortexm.RegSelR0)
	if err != nil {
		return fmt.Errorf("semihosting: read R0: %w", err)
	}
	block, err := s.ctrl.ReadRegister(cortexm.RegSelR1)
	if err != nil {
		return fmt.Errorf("semihosting: read R1: %w", err)
	}

	var params [4]uint32
	if op != SysExit {
		raw := make([]byte, 16)
		if err := s.ctrl.ReadMemory(raw, block); err != nil {
			return fmt.Errorf("semihosting: read parameter block: %w", err)
		}
		for i := range params {
			params[i] = binary.LittleEndian.Uint32(raw[i*4 : i*4+4])
		}
	}

	result, err := s.dispatch(op, block, params)
	if err != nil {
		return err
	}

	return s.ctrl.WriteRegister(cortexm.RegSelR0, result)
}

func (s *Service) dispatch(op uint32, block uint32, p [4]uint32) (uint32, error) {
	switch op {
	case SysOpen:
		return s.sysOpen(p)
	case SysClose:
		return s.sysClose(p)
	case SysWriteC:
		return s.sysWriteC(block)
	case SysWrite0:
		return s.sysWrite0(block)
	case SysWrite:
		return s.sysWrite(p)
	case SysRead:
		return s.sysRead(p)
	case SysReadC:
		return s.sysReadC()
	case SysIsError:
		return boolToWord(kerrors.TargetErrno(p[0]).IsError()), nil
	case SysIsTTY:
		return s.sysIsTTY(p)
	case SysSeek:
		return s.sysSeek(p)
	case SysFLen:
		return s.sysFLen(p)
	case SysTmpName:
		return 0xFFFFFFFF, nil // no on-probe filesystem naming scheme
	case SysRemove:
		return s.sysRemove(p)
	case SysRename:
		return s.sysRename(p)
	case SysClock:
		return s.sysClock()
	case SysTime:
		return uint32(time.Now().Unix()), nil
	case SysSystem:
		return s.sysSystem(p)
	case SysErrno:
		return uint32(s.ctrl.Errno()), nil
	case SysGetCmdline:
		return s.sysGetCmdline(p)
	case SysHeapInfo:
		return s.sysHeapInfo(block)
	case SysExit:
		return s.sysExit(op, block, p)
	case SysExitExtended:
		return s.sysExit(op, block, p)
	case SysElapsed:
		return s.sysElapsed(block)
	case SysTickFreq:
		return s.tickFreq, nil
	default:
		return 0xFFFFFFFF, fmt.Errorf("%w: semihosting op %#x", kerrors.ErrUnsupported, op)
	}
}

func boolToWord(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
