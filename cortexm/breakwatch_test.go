// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package cortexm_test

import (
	"testing"

	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/simlink"
)

// newAttachedController builds a Controller over the software-simulated
// link, attached (so FPB/DWT are sized and zeroed), for breakwatch and
// fault-decode tests that would otherwise need real hardware.
func newAttachedController(t *testing.T) *cortexm.Controller {
	t.Helper()
	return attach(t, simlink.New())
}

func TestSetBreakpointArmsAndReleasesComparator(t *testing.T) {
	ctrl := newAttachedController(t)

	bw, err := ctrl.SetBreakpoint(0x20000100)
	if err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	if !bw.Armed || bw.Kind != cortexm.Hard {
		t.Fatalf("unexpected breakwatch state: %+v", bw)
	}

	if err := ctrl.ClearBreakwatch(bw); err != nil {
		t.Fatalf("ClearBreakwatch: %v", err)
	}
	if bw.Armed {
		t.Fatal("expected Armed=false after ClearBreakwatch")
	}
}

func TestSetBreakpointExhaustsComparators(t *testing.T) {
	ctrl := newAttachedController(t)

	var last error
	for i := 0; i < 5; i++ {
		_, last = ctrl.SetBreakpoint(0x20000000 + uint32(i)*4)
		if last != nil {
			break
		}
	}
	if last == nil {
		t.Fatal("expected an error once the simulated 4 FPB comparators are exhausted")
	}
}

func TestSetWatchpointAllocatesDistinctSlots(t *testing.T) {
	ctrl := newAttachedController(t)

	w1, err := ctrl.SetWatchpoint(cortexm.WatchWrite, 0x20000200, 4)
	if err != nil {
		t.Fatalf("SetWatchpoint 1: %v", err)
	}
	w2, err := ctrl.SetWatchpoint(cortexm.WatchRead, 0x20000204, 2)
	if err != nil {
		t.Fatalf("SetWatchpoint 2: %v", err)
	}
	if w1.Slot == w2.Slot {
		t.Fatalf("expected distinct DWT slots, got %d and %d", w1.Slot, w2.Slot)
	}
}

func TestSetWatchpointRejectsBadSize(t *testing.T) {
	ctrl := newAttachedController(t)
	if _, err := ctrl.SetWatchpoint(cortexm.WatchWrite, 0x20000300, 3); err == nil {
		t.Fatal("expected an error for an unsupported watch size")
	}
}

func TestBreakwatchesReflectsLiveList(t *testing.T) {
	ctrl := newAttachedController(t)
	if len(ctrl.Breakwatches()) != 0 {
		t.Fatalf("expected empty breakwatch list before any Set call")
	}
	if _, err := ctrl.SetBreakpoint(0x20000400); err != nil {
		t.Fatalf("SetBreakpoint: %v", err)
	}
	if len(ctrl.Breakwatches()) != 1 {
		t.Fatalf("expected one breakwatch after SetBreakpoint, got %d", len(ctrl.Breakwatches()))
	}
}
