// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

//go:build !linux && !windows

package serial

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

const (
	ioctlGetTermios = 0
	ioctlSetTermios = 0
)

func setBaud(t *unix.Termios, baud uint32) error {
	return fmt.Errorf("serial: raw termios control not implemented on %s", runtime.GOOS)
}
