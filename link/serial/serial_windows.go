// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build windows

package serial

import (
	"fmt"
	"time"
)

// Port is an open serial device. On Windows the bench harness's raw-mode
// COM port handling is not implemented; use the Linux/macOS bench harness
// or a WinUSB-backed link.Link implementation instead.
type Port struct{}

func Open(path string, baud uint32) (*Port, error) {
	return nil, fmt.Errorf("serial: %s not supported on windows", path)
}

func (p *Port) Write(b []byte) (int, error)             { return 0, fmt.Errorf("serial: unsupported") }
func (p *Port) Read(b []byte) (int, error)               { return 0, fmt.Errorf("serial: unsupported") }
func (p *Port) SetReadDeadline(t time.Time) error         { return fmt.Errorf("serial: unsupported") }
func (p *Port) Close() error                              { return nil }
