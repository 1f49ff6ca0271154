// Host I/O collaborator interface (L4a)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package semihosting

import "github.com/kestrel-debug/kestrel/kerrors"

// HostIo is the "two dialects of the same service" abstraction of spec.md
// §9: one implementation (NativeHostIo) calls the host OS directly, the
// other (GdbRelayHostIo) formats an F packet and waits for the host
// debugger's reply. Every method returns a kerrors.TargetErrno alongside any
// Go error so SYS_ERRNO can report the GDB File-I/O errno space regardless
// of which dialect served the call.
type HostIo interface {
	Open(name string, flags openFlags) (fd int, errno kerrors.TargetErrno, err error)
	Close(fd int) (errno kerrors.TargetErrno, err error)
	Read(fd int, buf []byte) (n int, errno kerrors.TargetErrno, err error)
	Write(fd int, buf []byte) (n int, errno kerrors.TargetErrno, err error)
	Seek(fd int, pos int64) (errno kerrors.TargetErrno, err error)
	FLen(fd int) (length int64, errno kerrors.TargetErrno, err error)
	IsTTY(fd int) bool
	Remove(name string) (errno kerrors.TargetErrno, err error)
	Rename(oldname, newname string) (errno kerrors.TargetErrno, err error)
	System(cmd string) (status int, errno kerrors.TargetErrno, err error)
}
