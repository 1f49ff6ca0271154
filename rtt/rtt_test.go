// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rtt

import (
	"testing"

	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/target"
)

func TestFreeSpace(t *testing.T) {
	cases := []struct {
		head, tail, size uint32
		want             uint32
	}{
		{head: 0, tail: 0, size: 16, want: 15},
		{head: 10, tail: 0, size: 16, want: 5},
		{head: 2, tail: 10, size: 16, want: 7},
		{head: 0, tail: 0, size: 0, want: 0},
	}
	for _, c := range cases {
		if got := freeSpace(c.head, c.tail, c.size); got != c.want {
			t.Errorf("freeSpace(%d,%d,%d) = %d, want %d", c.head, c.tail, c.size, got, c.want)
		}
	}
}

func TestSearchWindowsPrefersFixedRange(t *testing.T) {
	cfg := &config.RTT{ScanStart: 0x1000, ScanEnd: 0x2000}
	p := &Poller{cfg: cfg}

	tg := &target.Target{}
	tg.AddRam(target.Ram{Start: 0x20000000, Length: 0x8000})

	wins := p.searchWindows(tg)
	if len(wins) != 1 || wins[0].start != 0x1000 || wins[0].end != 0x2000 {
		t.Fatalf("searchWindows = %+v, want single [0x1000,0x2000)", wins)
	}
}

func TestSearchWindowsFallsBackToRam(t *testing.T) {
	cfg := &config.RTT{}
	p := &Poller{cfg: cfg}

	tg := &target.Target{}
	tg.AddRam(target.Ram{Start: 0x20000000, Length: 0x8000})
	tg.AddRam(target.Ram{Start: 0x10000000, Length: 0x1000})

	wins := p.searchWindows(tg)
	if len(wins) != 2 {
		t.Fatalf("searchWindows returned %d windows, want 2", len(wins))
	}
}

func TestSearchRabinKarpFindsPatternAtOffset(t *testing.T) {
	buf := append(make([]byte, 37), magic...)
	buf = append(buf, []byte("trailing junk")...)

	const base = 0x20000000
	got := searchRabinKarp(buf, magic, base)
	if got != base+37 {
		t.Fatalf("searchRabinKarp = %#x, want %#x", got, base+37)
	}
}

func TestSearchRabinKarpNoMatch(t *testing.T) {
	buf := []byte("no control block in this buffer at all, just filler")
	if got := searchRabinKarp(buf, magic, 0); got != 0xFFFFFFFF {
		t.Fatalf("searchRabinKarp = %#x, want not-found", got)
	}
}

func TestSearchRabinKarpSkipsNearMissBeforeExactMatch(t *testing.T) {
	pattern := []byte("ABCD")
	buf := make([]byte, 0, 64)
	buf = append(buf, []byte("XXXXXXXX")...)
	buf = append(buf, []byte("ABCE")...) // same length, differs in the last byte
	buf = append(buf, pattern...)        // the real match, later in the buffer

	got := searchRabinKarp(buf, pattern, 0)
	want := uint32(len("XXXXXXXXABCE"))
	if got != want {
		t.Fatalf("searchRabinKarp = %d, want the exact match at %d", got, want)
	}
}

func TestSearchLiteralFindsIdentifier(t *testing.T) {
	buf := append([]byte("prefix-"), []byte("MyApp_RTT")...)
	buf = append(buf, []byte("-suffix")...)

	got := searchLiteral(buf, []byte("MyApp_RTT"), 0x1000)
	if got != 0x1000+uint32(len("prefix-")) {
		t.Fatalf("searchLiteral = %#x, want %#x", got, 0x1000+uint32(len("prefix-")))
	}
}

func TestSearchLiteralNoMatch(t *testing.T) {
	if got := searchLiteral([]byte("abcdef"), []byte("zzz"), 0); got != 0xFFFFFFFF {
		t.Fatalf("searchLiteral = %#x, want not-found", got)
	}
}

func TestMaxChannelsClamp(t *testing.T) {
	p := &Poller{}
	p.upCount = 999
	if p.upCount > MaxChannels {
		p.upCount = MaxChannels
	}
	if p.upCount != MaxChannels {
		t.Fatalf("upCount clamp = %d, want %d", p.upCount, MaxChannels)
	}
}
