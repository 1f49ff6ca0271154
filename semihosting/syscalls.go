// Individual semihosting syscall implementations (L4a)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package semihosting

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/kestrel-debug/kestrel/kerrors"
)

// Two special filenames recognized at SYS_OPEN (spec.md §4.5).
const (
	nameConsole  = ":tt"
	nameFeatures = ":semihosting-features"
)

func (s *Service) readCString(addr uint32, maxLen int) (string, error) {
	var out []byte
	buf := make([]byte, 1)
	for i := 0; i < maxLen; i++ {
		if err := s.ctrl.ReadMemory(buf, addr+uint32(i)); err != nil {
			return "", err
		}
		if buf[0] == 0 {
			break
		}
		out = append(out, buf[0])
	}
	return string(out), nil
}

func (s *Service) sysOpen(p [4]uint32) (uint32, error) {
	nameLen := int(p[2])
	name, err := s.readCString(p[0], nameLen+1)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	mode := int(p[1])
	if mode < 0 || mode >= len(fopenModes) {
		return 0xFFFFFFFF, fmt.Errorf("%w: open mode %d", kerrors.ErrUnsupported, mode)
	}
	flags := fopenModes[mode]

	if name == nameConsole {
		// Mode selects among stdin/stdout/stderr per spec.md §8's boundary
		// behavior: RDONLY -> stdin, TRUNC (write+create+truncate,
		// non-append) -> stdout, else -> stderr.
		switch {
		case flags.read && !flags.write:
			return stdinFileno + 1, nil
		case flags.truncate && !flags.append:
			return stdoutFileno + 1, nil
		default:
			return stderrFileno + 1, nil
		}
	}

	if name == nameFeatures {
		return featuresHandle + 1, nil
	}

	fd, errno, err := s.io.Open(name, flags)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return uint32(fd) + 1, nil
}

func (s *Service) sysClose(p [4]uint32) (uint32, error) {
	fd := int(p[0]) - 1
	if fd == featuresHandle || fd == stdinFileno || fd == stdoutFileno || fd == stderrFileno {
		return 0, nil
	}
	errno, err := s.io.Close(fd)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

func (s *Service) sysWriteC(block uint32) (uint32, error) {
	var b [1]byte
	if err := s.ctrl.ReadMemory(b[:], block); err != nil {
		return 0xFFFFFFFF, err
	}
	_, _, err := s.io.Write(stdoutFileno, b[:])
	if err != nil {
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

func (s *Service) sysWrite0(block uint32) (uint32, error) {
	str, err := s.readCString(block, 4096)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	_, _, err = s.io.Write(stdoutFileno, []byte(str))
	if err != nil {
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

// sysWrite returns the number of bytes *not* written, 0 meaning full success
// (ARM semihosting SYS_WRITE convention).
func (s *Service) sysWrite(p [4]uint32) (uint32, error) {
	fd, bufAddr, length := int(p[0])-1, p[1], int(p[2])

	buf := make([]byte, length)
	if err := s.ctrl.ReadMemory(buf, bufAddr); err != nil {
		return uint32(length), err
	}

	n, errno, err := s.io.Write(fd, buf)
	if err != nil {
		s.ctrl.SetErrno(errno)
	}
	return uint32(length - n), nil
}

// sysRead returns the number of bytes *not* read (ARM semihosting SYS_READ
// convention: 0 on full read, length on EOF/nothing read).
func (s *Service) sysRead(p [4]uint32) (uint32, error) {
	fd, bufAddr, length := int(p[0])-1, p[1], int(p[2])

	if fd == featuresHandle {
		return s.readFeatures(bufAddr, length)
	}

	buf := make([]byte, length)
	n, errno, err := s.io.Read(fd, buf)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return uint32(length), nil
	}
	if n > 0 {
		if werr := s.ctrl.WriteMemory(bufAddr, buf[:n]); werr != nil {
			return uint32(length), werr
		}
	}
	return uint32(length - n), nil
}

// readFeatures serves SYS_READ against the ":semihosting-features" pseudo
// file from featuresPos, the cursor last positioned by sysSeek (spec.md §8:
// "SYS_READ against the features file at offset 3 requesting 5 bytes returns
// 'B' 0x03 and a residual of 3").
func (s *Service) readFeatures(bufAddr uint32, length int) (uint32, error) {
	avail := len(featuresPayload) - s.featuresPos
	if avail <= 0 {
		return uint32(length), nil
	}
	n := length
	if n > avail {
		n = avail
	}
	if n > 0 {
		if err := s.ctrl.WriteMemory(bufAddr, featuresPayload[s.featuresPos:s.featuresPos+n]); err != nil {
			return uint32(length), err
		}
		s.featuresPos += n
	}
	return uint32(length - n), nil
}

func (s *Service) sysReadC() (uint32, error) {
	var buf [1]byte
	n, errno, err := s.io.Read(stdinFileno, buf[:])
	if err != nil || n == 0 {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return uint32(buf[0]), nil
}

func (s *Service) sysIsTTY(p [4]uint32) (uint32, error) {
	fd := int(p[0]) - 1
	if s.io.IsTTY(fd) {
		return 1, nil
	}
	return 0, nil
}

func (s *Service) sysSeek(p [4]uint32) (uint32, error) {
	fd, pos := int(p[0])-1, int64(int32(p[1]))

	if fd == featuresHandle {
		if pos < 0 || pos > int64(len(featuresPayload)) {
			s.ctrl.SetErrno(kerrors.TargetEINVAL)
			return 0xFFFFFFFF, nil
		}
		s.featuresPos = int(pos)
		return 0, nil
	}

	errno, err := s.io.Seek(fd, pos)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

func (s *Service) sysFLen(p [4]uint32) (uint32, error) {
	fd := int(p[0]) - 1
	if fd == featuresHandle {
		return uint32(len(featuresPayload)), nil
	}
	length, errno, err := s.io.FLen(fd)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return uint32(length), nil
}

func (s *Service) sysRemove(p [4]uint32) (uint32, error) {
	name, err := s.readCString(p[0], int(p[1])+1)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	errno, err := s.io.Remove(name)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

func (s *Service) sysRename(p [4]uint32) (uint32, error) {
	oldname, err := s.readCString(p[0], int(p[1])+1)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	newname, err := s.readCString(p[2], int(p[3])+1)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	errno, err := s.io.Rename(oldname, newname)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return 0, nil
}

// sysClock returns centiseconds since the first call (spec.md §4.5).
func (s *Service) sysClock() (uint32, error) {
	now := time.Now()
	if !s.haveClock {
		s.clockStart = now
		s.haveClock = true
	}
	return uint32(now.Sub(s.clockStart).Milliseconds() / 10), nil
}

func (s *Service) sysSystem(p [4]uint32) (uint32, error) {
	cmd, err := s.readCString(p[0], int(p[1])+1)
	if err != nil {
		return 0xFFFFFFFF, err
	}
	status, errno, err := s.io.System(cmd)
	if err != nil {
		s.ctrl.SetErrno(errno)
		return 0xFFFFFFFF, nil
	}
	return uint32(status), nil
}

// sysGetCmdline copies the target's declared command line, NUL-terminated,
// into the target buffer at p[0] when it fits within p[1] bytes (spec.md
// §4.5: command-line string passed to semihosting). The length field in the
// parameter block is not updated.
func (s *Service) sysGetCmdline(p [4]uint32) (uint32, error) {
	buf := []byte(s.cmdLine + "\x00")
	if len(buf) > int(p[1]) {
		return 0xFFFFFFFF, nil
	}
	if err := s.ctrl.WriteMemory(p[0], buf); err != nil {
		return 0xFFFFFFFF, err
	}
	return 0, nil
}

// sysHeapInfo writes the target's declared heapinfo block verbatim to the
// pointer in R1 (spec.md §4.5).
func (s *Service) sysHeapInfo(addr uint32) (uint32, error) {
	if err := s.ctrl.WriteMemory(addr, s.heapInfo[:]); err != nil {
		return 0xFFFFFFFF, err
	}
	return 0, nil
}

// sysExit halts (leaves the target halted; no further resume is implied by
// this call itself — the dispatcher decides whether to keep the session
// open) after printing the exit reason to the host console (spec.md §4.5:
// "SYS_EXIT halts and resumes the target after printing an exit code to the
// host console"). For plain SYS_EXIT the reason is the R1 value itself (not
// a parameter block); for SYS_EXIT_EXTENDED it is p[0] with subcode p[1].
func (s *Service) sysExit(op uint32, block uint32, p [4]uint32) (uint32, error) {
	var reason, subcode uint32
	if op == SysExitExtended {
		reason, subcode = p[0], p[1]
	} else {
		reason = block
	}

	msg := fmt.Sprintf("semihosting: target exit reason=%#x subcode=%#x\n", reason, subcode)
	s.io.Write(stdoutFileno, []byte(msg))

	if err := s.ctrl.HaltRequest(); err != nil {
		return 0, err
	}
	return 0, nil
}

// sysElapsed writes the (lo,hi) pair of 32-bit platform ticks to the
// pointer passed in R1, tracked as a monotone counter since the first call
// (spec.md §4.5, §8: "monotone-non-decreasing 64-bit counter across calls").
func (s *Service) sysElapsed(block uint32) (uint32, error) {
	if !s.haveElapsed {
		s.elapsedBase = uint64(time.Now().UnixNano())
		s.haveElapsed = true
	}
	ticks := uint64(time.Now().UnixNano()) - s.elapsedBase

	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(ticks))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(ticks>>32))
	if err := s.ctrl.WriteMemory(block, buf[:]); err != nil {
		return 0xFFFFFFFF, err
	}
	return 0, nil
}
