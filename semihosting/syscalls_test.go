// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package semihosting

import (
	"context"
	"testing"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/simlink"
)

// newTestService builds a Service over an attached Controller backed by the
// software-simulated link, for syscall tests that don't need a HostIo (the
// features pseudo-file never reaches s.io).
func newTestService(t *testing.T) *Service {
	t.Helper()

	l := simlink.New()
	dp := adi.NewDP(l, adi.ProtocolSWDv2, 0, 0)
	arena := adi.NewArena()
	dpIdx := arena.AddDP(dp)
	ap, err := arena.NewAP(dpIdx, 0)
	if err != nil {
		t.Fatalf("NewAP: %v", err)
	}
	mem := adi.NewMemAP(ap)

	ctrl := cortexm.New(mem, config.New(), 0)
	if err := ctrl.Attach(context.Background(), false); err != nil {
		t.Fatalf("Attach: %v", err)
	}

	return New(ctrl, nil, "", [16]byte{}, 0)
}

func TestParseFIOReply(t *testing.T) {
	cases := []struct {
		in      string
		want    fioReply
		wantErr bool
	}{
		{in: "F0", want: fioReply{retcode: 0}},
		{in: "F-1,2", want: fioReply{retcode: -1, errno: 2}},
		{in: "F1a,0,C", want: fioReply{retcode: 0x1a, ctrlC: true}},
		{in: "Fzz", wantErr: true},
	}

	for _, c := range cases {
		got, err := parseFIOReply(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("parseFIOReply(%q): expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseFIOReply(%q): %v", c.in, err)
		}
		if got != c.want {
			t.Errorf("parseFIOReply(%q) = %+v, want %+v", c.in, got, c.want)
		}
	}
}

func TestFopenModeTableBoundaries(t *testing.T) {
	// SYS_OPEN(":tt", RDONLY) -> STDIN+1; with TRUNC -> STDOUT+1; else ->
	// STDERR+1 (spec.md §8).
	ro := fopenModes[0] // "r"
	if !ro.read || ro.write {
		t.Fatalf("mode 0 should be read-only: %+v", ro)
	}

	wr := fopenModes[4] // "w"
	if !wr.truncate || wr.append {
		t.Fatalf("mode 4 should be write+truncate: %+v", wr)
	}

	app := fopenModes[8] // "a"
	if !app.append || app.truncate {
		t.Fatalf("mode 8 should be append, not truncate: %+v", app)
	}
}

func TestFeaturesPayload(t *testing.T) {
	if len(featuresPayload) != 5 {
		t.Fatalf("features payload must be 5 bytes, got %d", len(featuresPayload))
	}
	if string(featuresPayload[:4]) != "SHFB" {
		t.Fatalf("features payload prefix mismatch: %q", featuresPayload[:4])
	}
}

// TestFeaturesFileSeekAndRead drives SYS_SEEK then SYS_READ through
// Service.dispatch against the ":semihosting-features" handle: seeking to
// offset 3 and requesting 5 bytes must return "B" 0x03 and a residual of 3
// (spec.md §8).
func TestFeaturesFileSeekAndRead(t *testing.T) {
	s := newTestService(t)

	const bufAddr = 0x20000000
	seekParams := [4]uint32{featuresHandle + 1, 3}
	if ret, err := s.dispatch(SysSeek, 0, seekParams); err != nil || ret != 0 {
		t.Fatalf("dispatch(SysSeek) = (%d, %v), want (0, nil)", ret, err)
	}

	readParams := [4]uint32{featuresHandle + 1, bufAddr, 5}
	ret, err := s.dispatch(SysRead, 0, readParams)
	if err != nil {
		t.Fatalf("dispatch(SysRead): %v", err)
	}
	if ret != 3 {
		t.Fatalf("dispatch(SysRead) residual = %d, want 3", ret)
	}

	got := make([]byte, 2)
	if err := s.ctrl.ReadMemory(got, bufAddr); err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if got[0] != 'B' || got[1] != 0x03 {
		t.Fatalf("read bytes = %v, want ['B', 0x03]", got)
	}
}

// TestFeaturesFileReadPastEndReturnsFullResidual checks that seeking to the
// end of the features payload and reading yields a residual equal to the
// requested length, with nothing copied to target memory.
func TestFeaturesFileReadPastEndReturnsFullResidual(t *testing.T) {
	s := newTestService(t)

	seekParams := [4]uint32{featuresHandle + 1, uint32(len(featuresPayload))}
	if _, err := s.dispatch(SysSeek, 0, seekParams); err != nil {
		t.Fatalf("dispatch(SysSeek): %v", err)
	}

	readParams := [4]uint32{featuresHandle + 1, 0x20000000, 4}
	ret, err := s.dispatch(SysRead, 0, readParams)
	if err != nil {
		t.Fatalf("dispatch(SysRead): %v", err)
	}
	if ret != 4 {
		t.Fatalf("dispatch(SysRead) residual = %d, want 4 (nothing read)", ret)
	}
}

// TestFeaturesFileSeekRejectsOutOfRange checks that seeking beyond the
// payload's length fails rather than silently clamping.
func TestFeaturesFileSeekRejectsOutOfRange(t *testing.T) {
	s := newTestService(t)

	seekParams := [4]uint32{featuresHandle + 1, uint32(len(featuresPayload)) + 1}
	ret, err := s.dispatch(SysSeek, 0, seekParams)
	if err != nil {
		t.Fatalf("dispatch(SysSeek): %v", err)
	}
	if ret != 0xFFFFFFFF {
		t.Fatalf("dispatch(SysSeek) = %#x, want failure", ret)
	}
}
