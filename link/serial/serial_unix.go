// Host-side serial transport for bench/test harnesses
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package serial wraps a host-side character device (typically the probe's
// CDC-ACM tty) with the termios line discipline needed to talk to it
// reliably from the bench harness (cmd/bench). The probe's own USB CDC-ACM
// plumbing is out of scope (spec.md §1); this package only configures the
// *host* end of that link for test/bench use, grounded on the termios idiom
// in the retrieved goserial port_linux reference.
//go:build !windows

package serial

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// Port is an open serial device configured for raw, 8N1 communication at a
// fixed baud rate with no flow control.
type Port struct {
	f *os.File
}

// Open opens path (e.g. "/dev/ttyACM0") and puts it into raw mode at baud,
// matching the line discipline a CDC-ACM probe link expects.
func Open(path string, baud uint32) (*Port, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_NOCTTY, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: open %s: %w", path, err)
	}

	fd := int(f.Fd())
	t, err := unix.IoctlGetTermios(fd, ioctlGetTermios)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: get termios: %w", err)
	}

	unix.CfmakeRaw(t)
	if err := setBaud(t, baud); err != nil {
		f.Close()
		return nil, err
	}
	// Block on at least one byte, no inter-byte timeout, matching a
	// request/response protocol over a CDC-ACM link.
	t.Cc[unix.VMIN] = 1
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, ioctlSetTermios, t); err != nil {
		f.Close()
		return nil, fmt.Errorf("serial: set termios: %w", err)
	}

	return &Port{f: f}, nil
}

// Write writes p to the port, looping until all bytes are sent.
func (p *Port) Write(b []byte) (int, error) {
	return p.f.Write(b)
}

// Read reads into b, returning as soon as at least one byte arrives.
func (p *Port) Read(b []byte) (int, error) {
	return p.f.Read(b)
}

// SetReadDeadline bounds how long Read may block, used by callers enforcing
// the RSP-level interrupt/timeout budgets from spec.md §5.
func (p *Port) SetReadDeadline(t time.Time) error {
	return p.f.SetReadDeadline(t)
}

// Close releases the underlying file descriptor.
func (p *Port) Close() error {
	return p.f.Close()
}
