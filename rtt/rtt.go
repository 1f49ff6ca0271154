// Real-Time Transfer control-block search and polling (L4b)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rtt implements the control-block discovery and channel poller of
// spec.md §4.6: locating a SEGGER RTT-style control block in target RAM and
// shuttling bytes between host FIFOs and the target's circular buffers.
package rtt

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/target"
)

// MaxChannels is the clamp applied to both up- and down-channel counts
// (spec.md §4.6 step 2: "clamp both to MAX_RTT_CHAN = 16").
const MaxChannels = 16

// Wire layout constants (spec.md §3, §6): 16-byte magic (10 ASCII + 6 NUL),
// two u32 counts, 24-byte channel descriptors.
const (
	magicLen       = 16
	headerLen      = magicLen + 8 // + up-count, down-count
	channelDescLen = 24
)

var magic = []byte("SEGGER RTT\x00\x00\x00\x00\x00\x00")

// Flag values for a channel's flag word (spec.md §3).
const (
	FlagSkip  = 0
	FlagTrim  = 1
	FlagBlock = 2
)

// Channel mirrors one up/down channel descriptor read from target RAM.
type Channel struct {
	NameAddr uint32
	BufAddr  uint32
	BufSize  uint32
	Head     uint32
	Tail     uint32
	Flag     uint32
	Enabled  bool
}

// Sink and Source are the host-side byte queues a Poller drains into /
// fills from; implemented by the dispatcher's per-channel buffers. Kept
// minimal so this package has no dependency on the RSP/dispatch layers.
type Sink interface {
	Write(p []byte) (int, error)
}

type Source interface {
	// Read behaves like io.Reader but must never block: it returns
	// (0, nil) rather than waiting when no input is queued, since the
	// poller must not stall the single-threaded main loop (spec.md §5).
	Read(p []byte) (int, error)
}

// Poller implements spec.md §4.6's control-block search and per-channel
// pump, with the adaptive poll-period backoff expressed as an
// x/time/rate-gated ticker rather than a hand-rolled timer (per this
// rewrite's domain-stack wiring).
type Poller struct {
	mem *cortexm.Controller
	cfg *config.RTT

	found     bool
	cbAddr    uint32
	snapshot  [headerLen]byte
	upCount   int
	downCount int

	up   [MaxChannels]Channel
	down [MaxChannels]Channel

	upSinks    [MaxChannels]Sink
	downSources [MaxChannels]Source

	pollPeriod time.Duration
	consecutiveErrs int

	limiter *rate.Limiter
}

// New builds a Poller over ctrl's memory, using cfg for identifier/window
// and polling-period bounds (spec.md §9: global RTT tuning knobs live in the
// config record).
func New(ctrl *cortexm.Controller, cfg *config.RTT) *Poller {
	return &Poller{
		mem:        ctrl,
		cfg:        cfg,
		pollPeriod: time.Duration(cfg.MinPollMs) * time.Millisecond,
		limiter:    rate.NewLimiter(rate.Every(time.Millisecond), 1),
	}
}

// Found reports whether the control block has been located.
func (p *Poller) Found() bool { return p.found }

// ControlBlockAddr returns the located control block's address, valid only
// when Found() is true.
func (p *Poller) ControlBlockAddr() uint32 { return p.cbAddr }

// PollPeriod returns the poller's current adaptive interval.
func (p *Poller) PollPeriod() time.Duration { return p.pollPeriod }

// SetUpSink registers the host-side sink for up-channel i.
func (p *Poller) SetUpSink(i int, s Sink) {
	if i >= 0 && i < MaxChannels {
		p.upSinks[i] = s
	}
}

// SetDownSource registers the host-side source for down-channel i.
func (p *Poller) SetDownSource(i int, s Source) {
	if i >= 0 && i < MaxChannels {
		p.downSources[i] = s
	}
}

// Poll runs one iteration of spec.md §4.6's six-step algorithm: locate (if
// needed), validate the cached header, pump up-channels, pump
// down-channels, and adjust the poll period. t is used to bound the search
// to the target's declared RAM regions and to halt/resume around the
// transfer on cores that cannot access memory while running.
func (p *Poller) Poll(ctx context.Context, t *target.Target, running bool) error {
	if !p.cfg.Enabled {
		return nil
	}

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	needsHalt := running && t.Options&cortexmRequiresHaltToAccessMemory(t) != 0
	if needsHalt {
		if err := p.mem.HaltRequest(); err != nil {
			return err
		}
		if _, err := p.mem.HaltPoll(ctx); err != nil {
			return err
		}
		defer p.mem.Resume(false)
	}

	activity, err := p.pollLocked(t)
	if err != nil {
		p.consecutiveErrs++
		if p.consecutiveErrs > p.cfg.MaxPollErrs {
			p.cfg.Enabled = false
		}
		return err
	}
	p.consecutiveErrs = 0

	if activity {
		p.pollPeriod /= 2
		if p.pollPeriod < time.Duration(p.cfg.MinPollMs)*time.Millisecond {
			p.pollPeriod = time.Duration(p.cfg.MinPollMs) * time.Millisecond
		}
	} else {
		p.pollPeriod *= 2
		if p.pollPeriod > time.Duration(p.cfg.MaxPollMs)*time.Millisecond {
			p.pollPeriod = time.Duration(p.cfg.MaxPollMs) * time.Millisecond
		}
	}
	p.limiter.SetLimit(rate.Every(p.pollPeriod))

	return nil
}

func (p *Poller) pollLocked(t *target.Target) (activity bool, err error) {
	if !p.found {
		if err := p.locate(t); err != nil {
			return false, err
		}
		if !p.found {
			return false, nil
		}
	}

	header := make([]byte, headerLen)
	if err := p.mem.ReadMemory(header, p.cbAddr); err != nil {
		return false, fmt.Errorf("rtt: reread header: %w", err)
	}
	if !bytes.Equal(header, p.snapshot[:]) {
		// Corruption, or the control block moved: invalidate and re-find
		// on the next poll (spec.md §4.6 step 3).
		p.found = false
		return false, nil
	}

	upActivity, err := p.pumpUpChannels()
	if err != nil {
		return false, err
	}
	downActivity, err := p.pumpDownChannels()
	if err != nil {
		return false, err
	}

	return upActivity || downActivity, nil
}

// locate implements spec.md §4.6 step 1: Rabin-Karp search for the magic
// (no identifier configured), or a plain literal search for a configured
// identifier, restricted to RAM regions (optionally a user window).
func (p *Poller) locate(t *target.Target) error {
	windows := p.searchWindows(t)

	for _, w := range windows {
		buf, err := p.readWindow(w.start, w.end)
		if err != nil {
			return err
		}

		var addr uint32
		if p.cfg.Ident != "" {
			addr = searchLiteral(buf, []byte(p.cfg.Ident), w.start)
		} else {
			addr = searchRabinKarp(buf, magic, w.start)
		}
		if addr == 0xFFFFFFFF {
			continue
		}
		return p.onFound(addr)
	}

	return nil
}

type window struct{ start, end uint32 }

func (p *Poller) searchWindows(t *target.Target) []window {
	if p.cfg.ScanEnd > p.cfg.ScanStart {
		return []window{{p.cfg.ScanStart, p.cfg.ScanEnd}}
	}
	wins := make([]window, 0, len(t.Ram))
	for _, r := range t.Ram {
		wins = append(wins, window{r.Start, r.End()})
	}
	return wins
}

// readWindow reads [start,end) from target memory in fixed-size chunks into
// one contiguous buffer, so the search below runs against a plain byte
// slice regardless of how the ADI layer chooses to size its transfers.
func (p *Poller) readWindow(start, end uint32) ([]byte, error) {
	if end <= start {
		return nil, nil
	}

	const chunkSize = 4096
	buf := make([]byte, 0, end-start)
	for addr := start; addr < end; {
		n := chunkSize
		if remaining := end - addr; uint32(n) > remaining {
			n = int(remaining)
		}
		chunk := make([]byte, n)
		if err := p.mem.ReadMemory(chunk, addr); err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		addr += uint32(n)
	}
	return buf, nil
}

// rkBase and rkMod are the polynomial-hash base and modulus used by
// searchRabinKarp: arithmetic stays within uint64 (rkMod fits comfortably
// under 2^32, so any product of two reduced values fits well under 2^64).
const (
	rkBase = 257
	rkMod  = 1000000007
)

// searchRabinKarp finds the first occurrence of pattern in buf using a true
// rolling hash (spec.md §4.6 step 1 and §9: "the specification requires the
// Rabin-Karp algorithm"): the window hash is updated in O(1) per shift by
// subtracting the leaving byte's contribution (scaled by base^(n-1)) and
// folding in the entering byte, rather than rehashing the whole window at
// every offset. A hash match is confirmed with an exact byte comparison to
// rule out a collision. Returns 0xFFFFFFFF if pattern isn't found.
func searchRabinKarp(buf, pattern []byte, base uint32) uint32 {
	n := len(pattern)
	if n == 0 || len(buf) < n {
		return 0xFFFFFFFF
	}

	var patHash, pow uint64 = 0, 1
	for i := 0; i < n; i++ {
		patHash = (patHash*rkBase + uint64(pattern[i])) % rkMod
		if i > 0 {
			pow = (pow * rkBase) % rkMod
		}
	}

	var hash uint64
	for i := 0; i < n; i++ {
		hash = (hash*rkBase + uint64(buf[i])) % rkMod
	}

	for i := 0; ; i++ {
		if hash == patHash && bytes.Equal(buf[i:i+n], pattern) {
			return base + uint32(i)
		}
		if i+n >= len(buf) {
			return 0xFFFFFFFF
		}
		out, in := uint64(buf[i]), uint64(buf[i+n])
		hash = (hash + rkMod - (out*pow)%rkMod) % rkMod
		hash = (hash*rkBase + in) % rkMod
	}
}

// searchLiteral finds the first occurrence of pattern in buf with a plain
// scan (spec.md §4.6 step 1: the identifier path has no magic-search
// dismissal filter to maintain, so it's a direct literal search). Returns
// 0xFFFFFFFF if pattern isn't found.
func searchLiteral(buf, pattern []byte, base uint32) uint32 {
	if len(pattern) == 0 {
		return 0xFFFFFFFF
	}
	idx := bytes.Index(buf, pattern)
	if idx < 0 {
		return 0xFFFFFFFF
	}
	return base + uint32(idx)
}

func (p *Poller) onFound(addr uint32) error {
	header := make([]byte, headerLen)
	if err := p.mem.ReadMemory(header, addr); err != nil {
		return err
	}

	p.upCount = int(binary.LittleEndian.Uint32(header[magicLen:]))
	p.downCount = int(binary.LittleEndian.Uint32(header[magicLen+4:]))
	if p.upCount > MaxChannels {
		p.upCount = MaxChannels
	}
	if p.downCount > MaxChannels {
		p.downCount = MaxChannels
	}

	base := addr + headerLen
	for i := 0; i < p.upCount; i++ {
		ch, err := p.readChannelDesc(base + uint32(i)*channelDescLen)
		if err != nil {
			return err
		}
		p.up[i] = ch
	}
	base += uint32(p.upCount) * channelDescLen
	for i := 0; i < p.downCount; i++ {
		ch, err := p.readChannelDesc(base + uint32(i)*channelDescLen)
		if err != nil {
			return err
		}
		p.down[i] = ch
	}

	// Default enable mask: up-channel 0 and 1, first down-channel
	// (spec.md §4.6 step 2).
	for i := 0; i < p.upCount && i < 2; i++ {
		p.up[i].Enabled = true
	}
	if p.downCount > 0 {
		p.down[0].Enabled = true
	}

	copy(p.snapshot[:], header)
	p.cbAddr = addr
	p.found = true
	return nil
}

func (p *Poller) readChannelDesc(addr uint32) (Channel, error) {
	buf := make([]byte, channelDescLen)
	if err := p.mem.ReadMemory(buf, addr); err != nil {
		return Channel{}, err
	}
	return Channel{
		NameAddr: binary.LittleEndian.Uint32(buf[0:4]),
		BufAddr:  binary.LittleEndian.Uint32(buf[4:8]),
		BufSize:  binary.LittleEndian.Uint32(buf[8:12]),
		Head:     binary.LittleEndian.Uint32(buf[12:16]),
		Tail:     binary.LittleEndian.Uint32(buf[16:20]),
		Flag:     binary.LittleEndian.Uint32(buf[20:24]),
	}, nil
}

// pumpUpChannels implements spec.md §4.6 step 4: for each enabled
// up-channel, read head/tail, transfer buffered bytes to the host sink
// (handling wrap in up to two contiguous runs), write the new tail back.
func (p *Poller) pumpUpChannels() (bool, error) {
	activity := false
	base := p.cbAddr + headerLen
	for i := 0; i < p.upCount; i++ {
		ch := &p.up[i]
		if !ch.Enabled {
			continue
		}

		descAddr := base + uint32(i)*channelDescLen
		hdr := make([]byte, channelDescLen)
		if err := p.mem.ReadMemory(hdr, descAddr); err != nil {
			return activity, err
		}
		head := binary.LittleEndian.Uint32(hdr[12:16])
		tail := binary.LittleEndian.Uint32(hdr[16:20])

		if head == tail || ch.BufSize == 0 {
			continue
		}

		data, newTail, err := p.readCircular(ch.BufAddr, ch.BufSize, tail, head)
		if err != nil {
			return activity, err
		}
		if len(data) == 0 {
			continue
		}

		if sink := p.upSinks[i]; sink != nil {
			sink.Write(data)
		}

		var tb [4]byte
		binary.LittleEndian.PutUint32(tb[:], newTail)
		if err := p.mem.WriteMemory(descAddr+16, tb[:]); err != nil {
			return activity, err
		}
		ch.Tail = newTail
		activity = true
	}
	return activity, nil
}

// pumpDownChannels implements spec.md §4.6 step 5: copy host input into the
// target's circular buffer until either side is empty, write the new head
// back.
func (p *Poller) pumpDownChannels() (bool, error) {
	activity := false
	base := p.cbAddr + headerLen + uint32(p.upCount)*channelDescLen
	for i := 0; i < p.downCount; i++ {
		ch := &p.down[i]
		if !ch.Enabled {
			continue
		}
		src := p.downSources[i]
		if src == nil {
			continue
		}

		descAddr := base + uint32(i)*channelDescLen
		hdr := make([]byte, channelDescLen)
		if err := p.mem.ReadMemory(hdr, descAddr); err != nil {
			return activity, err
		}
		head := binary.LittleEndian.Uint32(hdr[12:16])
		tail := binary.LittleEndian.Uint32(hdr[16:20])

		free := freeSpace(head, tail, ch.BufSize)
		if free == 0 {
			continue
		}

		buf := make([]byte, free)
		n, err := src.Read(buf)
		if err != nil || n == 0 {
			continue
		}

		newHead, err := p.writeCircular(ch.BufAddr, ch.BufSize, head, buf[:n])
		if err != nil {
			return activity, err
		}

		var hb [4]byte
		binary.LittleEndian.PutUint32(hb[:], newHead)
		if err := p.mem.WriteMemory(descAddr+12, hb[:]); err != nil {
			return activity, err
		}
		ch.Head = newHead
		activity = true
	}
	return activity, nil
}

func freeSpace(head, tail, size uint32) uint32 {
	if size == 0 {
		return 0
	}
	if head >= tail {
		return size - (head - tail) - 1
	}
	return tail - head - 1
}

// readCircular reads every unread byte between tail and head in the target's
// ring buffer at base (size bytes), handling the wrap as at most two
// contiguous runs, and returns the new tail position.
func (p *Poller) readCircular(base, size, tail, head uint32) ([]byte, uint32, error) {
	if size == 0 {
		return nil, tail, nil
	}

	var out []byte
	if head >= tail {
		n := head - tail
		buf := make([]byte, n)
		if err := p.mem.ReadMemory(buf, base+tail); err != nil {
			return nil, tail, err
		}
		out = buf
	} else {
		first := make([]byte, size-tail)
		if err := p.mem.ReadMemory(first, base+tail); err != nil {
			return nil, tail, err
		}
		second := make([]byte, head)
		if head > 0 {
			if err := p.mem.ReadMemory(second, base); err != nil {
				return nil, tail, err
			}
		}
		out = append(first, second...)
	}

	return out, head, nil
}

// writeCircular writes buf into the target's ring buffer at base (size
// bytes) starting at head, handling wrap, and returns the new head
// position.
func (p *Poller) writeCircular(base, size, head uint32, buf []byte) (uint32, error) {
	if size == 0 || len(buf) == 0 {
		return head, nil
	}

	room := size - head
	if uint32(len(buf)) <= room {
		if err := p.mem.WriteMemory(base+head, buf); err != nil {
			return head, err
		}
		newHead := head + uint32(len(buf))
		if newHead == size {
			newHead = 0
		}
		return newHead, nil
	}

	if err := p.mem.WriteMemory(base+head, buf[:room]); err != nil {
		return head, err
	}
	rest := buf[room:]
	if err := p.mem.WriteMemory(base, rest); err != nil {
		return head, err
	}
	return uint32(len(rest)), nil
}

// cortexmRequiresHaltToAccessMemory reports whether t's architecture needs
// the core halted to access memory (spec.md §4.6: "Some cores (e.g.,
// RISC-V) cannot access memory while running"). No Cortex-M variant in this
// package's scope requires it, so this always returns 0 (no bit set); the
// hook exists so a future non-Cortex-M controller can opt in without
// changing Poll's call sites.
func cortexmRequiresHaltToAccessMemory(t *target.Target) cortexm.TargetOptions {
	return 0
}
