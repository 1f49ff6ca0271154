// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm_test

import (
	"context"
	"testing"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/simlink"
)

// newAttachedControllerOverLink is newAttachedController but returns the
// backing simlink.Link too, for tests that need to seed target state (like
// CTR) before Attach runs its one-time cache probe.
func newAttachedControllerOverLink(t *testing.T) (*cortexm.Controller, *simlink.Link) {
	t.Helper()

	l := simlink.New()
	return attach(t, l), l
}

func attach(t *testing.T, l *simlink.Link) *cortexm.Controller {
	t.Helper()

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
	return ctrl
}

// TestCachelessTargetSkipsMaintenance exercises the default simlink device,
// which reports CTR format 0 (no cache geometry described): ReadMemory and
// WriteMemory must still round-trip without issuing any maintenance ops.
func TestCachelessTargetSkipsMaintenance(t *testing.T) {
	ctrl, _ := newAttachedControllerOverLink(t)

	const addr = simlink.RAMStart + 0x40
	want := []byte{0xDE, 0xAD, 0xBE, 0xEF}

	if err := ctrl.WriteMemory(addr, want); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	got := make([]byte, len(want))
	if err := ctrl.ReadMemory(got, addr); err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
}

// TestCacheDescribedTargetWalksLines seeds CTR to describe an 8-byte D-cache
// line before attaching, then confirms a WriteMemory spanning two lines
// ends its clean-and-invalidate walk at the second line's base.
func TestCacheDescribedTargetWalksLines(t *testing.T) {
	const (
		regDCCIMVAC = 0xE000EF70
		ctrFormatDescribed = 4
		dminLine           = 1 // 4 << 1 = 8-byte line
	)

	l := simlink.New()
	l.PokeWord(cortexm.RegCTR, ctrFormatDescribed<<cortexm.CTRFormatShift|dminLine)
	ctrl := attach(t, l)

	const addr = simlink.RAMStart + 0x204 // not line-aligned
	buf := make([]byte, 8)                // spans two 8-byte lines from addr

	l.PokeWord(regDCCIMVAC, 0) // clear any stale value before the write under test
	if err := ctrl.WriteMemory(addr, buf); err != nil {
		t.Fatalf("WriteMemory: %v", err)
	}
	// walkCacheLines writes the last maintained line address last; the loop
	// starts at addr rounded down to the 8-byte line and stops once it has
	// covered addr+len(buf), so the final write must be the second line.
	const firstLine = (simlink.RAMStart + 0x204) &^ 7
	const secondLine = firstLine + 8
	if got := l.PeekWord(regDCCIMVAC); got != secondLine {
		t.Fatalf("last DCCIMVAC address = %#x, want %#x", got, secondLine)
	}
}
