// Access Port enumeration and arena (L1)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package adi

import "fmt"

// Standard AP bank-0 register addresses shared by every AP flavor.
const (
	RegIDR  = 0xFC
	RegCSW  = 0x00
	RegTAR  = 0x04
	RegDRW  = 0x0C
	RegBASE = 0xF8
	RegCFG  = 0xF4
)

// IDR class bits (ADIv5 §6.2.4) distinguishing MEM-AP from JTAG-AP.
const (
	IDRClassMemAP  = 0x8
	IDRClassJTAGAP = 0x0
)

// AP is one Access Port, a slave of exactly one DP addressed by an 8-bit
// apsel (spec.md §3). Rather than holding a back-pointer to its DP, an AP
// holds an index into the Arena that owns both, per the "indexed handles
// into an arena" design note (spec.md §9).
type AP struct {
	arena *Arena
	dpIdx int

	Apsel uint8
	IDR   uint32
	CSW   uint32
	Base  uint32
	CFG   uint32

	// DEMCRSnapshot is ap_cortexm_demcr: the pre-attach DEMCR value,
	// restored verbatim on detach (spec.md §3 invariant).
	DEMCRSnapshot      uint32
	haveDEMCRSnapshot  bool
}

// DP resolves the owning Debug Port through the arena.
func (ap *AP) DP() *DP {
	return ap.arena.dps[ap.dpIdx]
}

// IsMemAP reports whether this AP's IDR class identifies a MEM-AP (as
// opposed to a JTAG-AP, which only fronts another scan chain).
func (ap *AP) IsMemAP() bool {
	return (ap.IDR>>13)&0xF == IDRClassMemAP
}

// Variant returns the MEM-AP variant nibble of the IDR (spec.md §3: "Carries
// an IDR (identifying the AP flavor: MEM-AP variants, JTAG-AP)").
func (ap *AP) Variant() uint32 {
	return (ap.IDR >> 4) & 0xF
}

// SnapshotDEMCR records ap.DEMCRSnapshot once, on first attach, per the
// invariant that "on successful attach, DEMCR's prior value is snapshotted
// into the AP record before any modification" (spec.md §3).
func (ap *AP) SnapshotDEMCR(value uint32) {
	if !ap.haveDEMCRSnapshot {
		ap.DEMCRSnapshot = value
		ap.haveDEMCRSnapshot = true
	}
}

// HasDEMCRSnapshot reports whether SnapshotDEMCR has been called since the
// last ClearDEMCRSnapshot (i.e. since the last detach).
func (ap *AP) HasDEMCRSnapshot() bool { return ap.haveDEMCRSnapshot }

// ClearDEMCRSnapshot marks the snapshot consumed, called after Detach
// restores it, so a subsequent attach captures a fresh value.
func (ap *AP) ClearDEMCRSnapshot() { ap.haveDEMCRSnapshot = false }

// Arena owns the ordered list of DPs discovered on a link and every AP
// discovered beneath them (spec.md §3: "DPs are enumerated at scan time and
// kept in an ordered list owned by the link"). It replaces per-AP
// back-pointers and DP reference counting with an index-based handle
// scheme (spec.md §9).
type Arena struct {
	dps []*DP
	aps []*AP
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{}
}

// AddDP appends a newly scanned DP and returns its arena index.
func (a *Arena) AddDP(dp *DP) int {
	a.dps = append(a.dps, dp)
	return len(a.dps) - 1
}

// DP returns the DP at index i.
func (a *Arena) DP(i int) *DP {
	if i < 0 || i >= len(a.dps) {
		return nil
	}
	return a.dps[i]
}

// DPs returns every DP currently owned by the arena.
func (a *Arena) DPs() []*DP {
	return a.dps
}

// NewAP reads IDR/BASE/CFG for apsel under the DP at dpIdx and, if it
// responds (non-zero IDR), registers it in the arena and returns it. A
// consecutive empty IDR signals the end of the AP address space for SWD
// scanning (spec.md §4.4).
func (a *Arena) NewAP(dpIdx int, apsel uint8) (*AP, error) {
	dp := a.DP(dpIdx)
	if dp == nil {
		return nil, fmt.Errorf("adi: invalid DP index %d", dpIdx)
	}

	idr, err := readAPRegPipelined(dp, apsel, RegIDR)
	if err != nil {
		return nil, err
	}
	if idr == 0 {
		return nil, nil
	}

	base, err := readAPRegPipelined(dp, apsel, RegBASE)
	if err != nil {
		return nil, err
	}
	cfg, err := readAPRegPipelined(dp, apsel, RegCFG)
	if err != nil {
		return nil, err
	}
	csw, err := readAPRegPipelined(dp, apsel, RegCSW)
	if err != nil {
		return nil, err
	}

	ap := &AP{arena: a, dpIdx: dpIdx, Apsel: apsel, IDR: idr, Base: base, CFG: cfg, CSW: csw}
	dp.addRef()
	a.aps = append(a.aps, ap)
	return ap, nil
}

// readAPRegPipelined issues the posted AP read and then reads RDBUFF: the
// ADI bus pipelines AP reads one transaction deep, so the value of interest
// only appears on the RDBUFF read (or the next AP read) following the
// request that asked for it.
func readAPRegPipelined(dp *DP, apsel uint8, addr uint8) (uint32, error) {
	if _, err := dp.APRead(apsel, addr); err != nil {
		return 0, err
	}
	return dp.ReadRDBUFF()
}

// APs returns every AP the arena currently owns.
func (a *Arena) APs() []*AP {
	return a.aps
}

// Free releases every AP and DP owned by the arena, decrementing each AP's
// DP reference count to zero as it goes (spec.md §3: "freeing a DP frees
// its APs"; §8: target_list_free / a fresh scan is the only way DPs/APs are
// destroyed).
func (a *Arena) Free() {
	for _, ap := range a.aps {
		if dp := ap.DP(); dp != nil {
			dp.release()
		}
	}
	a.aps = nil
	a.dps = nil
}
