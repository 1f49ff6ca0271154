// Monitor command registry and main RSP dispatch loop (L6)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dispatch implements spec.md §5's single main loop: read one RSP
// packet, dispatch to a handler, return to read the next. It owns the flat
// monitor-command table of spec.md §6 and is the one place that imports
// every other layer (link, adi, cortexm, target, semihosting, rtt, rsp).
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/cortexm"
	"github.com/kestrel-debug/kestrel/kestrelpb"
	"github.com/kestrel-debug/kestrel/klog"
	"github.com/kestrel-debug/kestrel/link"
	"github.com/kestrel-debug/kestrel/rsp"
	"github.com/kestrel-debug/kestrel/rtt"
	"github.com/kestrel-debug/kestrel/semihosting"
	"github.com/kestrel-debug/kestrel/target"
)

// Command is one monitor-command record (spec.md §6: "A flat list of
// {name, handler, help} records").
type Command struct {
	Name    string
	Help    string
	Handler func(args []string) (string, error)
}

// Dispatcher owns the one main loop and the registries of spec.md §5-§6. It
// is built once per probe session and driven by Run until the transport
// closes.
type Dispatcher struct {
	sess *rsp.Session
	cfg  *config.Config
	log  *slog.Logger

	link  link.Link
	proto adi.Protocol

	targets *target.List
	current *target.Target

	semi *semihosting.Service
	rtt  *rtt.Poller

	commands []Command

	noAckMode bool
}

// New builds a Dispatcher over sess, using l for scans: each *_scan command
// reads the DP's IDCODE over l itself rather than trusting a caller-supplied
// value (spec.md §4.4, §8).
func New(sess *rsp.Session, cfg *config.Config, l link.Link, proto adi.Protocol, log *slog.Logger) *Dispatcher {
	d := &Dispatcher{sess: sess, cfg: cfg, link: l, proto: proto, log: klog.Or(log)}
	d.registerCommands()
	return d
}

// Run implements spec.md §5's main loop: read a packet, dispatch, repeat,
// until GetPacket returns an error (transport closed).
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		pkt, err := d.sess.GetPacket()
		if err != nil {
			return err
		}
		reply, err := d.handlePacket(ctx, pkt)
		if err != nil {
			d.log.Error("dispatch: handler error", "packet", pkt, "err", err)
			reply = "E01"
		}
		if reply != "" {
			if err := d.sess.PutPacket(reply); err != nil {
				return err
			}
		}
	}
}

// handlePacket dispatches one packet by its leading character, matching the
// subset of GDB RSP this core consumes per spec.md §6 (the core does not
// parse RSP itself beyond this dispatch; everything else is a collaborator
// call into rsp.Session).
func (d *Dispatcher) handlePacket(ctx context.Context, pkt string) (string, error) {
	if pkt == "" {
		return "", nil
	}

	switch pkt[0] {
	case '?':
		return d.haltStatus(ctx)
	case 'g':
		return d.readAllRegisters()
	case 'G':
		return d.writeAllRegisters(pkt[1:])
	case 'm':
		return d.readMemory(pkt[1:])
	case 'M':
		return d.writeMemory(pkt[1:], false)
	case 'X':
		return d.writeMemory(pkt[1:], true)
	case 'c':
		return d.resume(ctx, false)
	case 's':
		return d.resume(ctx, true)
	case 'Z':
		return d.setBreakwatch(pkt[1:])
	case 'z':
		return d.clearBreakwatch(pkt[1:])
	case 'q':
		return d.handleQuery(ctx, pkt[1:])
	case 'Q':
		return d.handleSet(pkt[1:])
	case 'F':
		// A target-initiated File-I/O reply arriving outside a
		// PutPacketF round trip (e.g. after a retransmit): nothing to
		// do but acknowledge silently.
		return "", nil
	default:
		return "", nil // unsupported packet: empty reply per RSP convention
	}
}

func (d *Dispatcher) requireController() (*cortexm.Controller, error) {
	if d.current == nil || d.current.Controller == nil {
		return nil, fmt.Errorf("dispatch: no target attached")
	}
	return d.current.Controller, nil
}

func (d *Dispatcher) haltStatus(ctx context.Context) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "S00", nil
	}
	reason, err := ctrl.HaltPoll(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("S%02x", haltSignal(reason)), nil
}

func haltSignal(r cortexm.HaltReason) int {
	switch r {
	case cortexm.Breakpoint, cortexm.Watchpoint, cortexm.Stepping, cortexm.Request:
		return 5 // SIGTRAP
	case cortexm.Fault:
		return 11 // SIGSEGV, the conventional GDB stand-in for a hardware fault
	default:
		return 0
	}
}

func (d *Dispatcher) readAllRegisters() (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	vals, err := ctrl.ReadRegisterList(cortexm.CoreRegisterSelectors())
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, v := range vals {
		fmt.Fprintf(&sb, "%08x", byteSwap32(v))
	}
	return sb.String(), nil
}

func (d *Dispatcher) writeAllRegisters(hex string) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	sels := cortexm.CoreRegisterSelectors()
	for i, sel := range sels {
		if (i+1)*8 > len(hex) {
			break
		}
		v, err := strconv.ParseUint(hex[i*8:(i+1)*8], 16, 32)
		if err != nil {
			return "E01", nil
		}
		if err := ctrl.WriteRegister(sel, byteSwap32(uint32(v))); err != nil {
			return "", err
		}
	}
	return "OK", nil
}

func byteSwap32(v uint32) uint32 {
	return (v>>24)&0xff | (v>>8)&0xff00 | (v<<8)&0xff0000 | (v<<24)&0xff000000
}

func (d *Dispatcher) readMemory(args string) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	addr, length, err := parseAddrLength(args)
	if err != nil {
		return "E01", nil
	}
	buf := make([]byte, length)
	if err := ctrl.ReadMemory(buf, addr); err != nil {
		return "", err
	}
	return encodeHex(buf), nil
}

func (d *Dispatcher) writeMemory(args string, binary bool) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	head, data, found := strings.Cut(args, ":")
	if !found {
		return "E01", nil
	}
	addr, _, err := parseAddrLength(head)
	if err != nil {
		return "E01", nil
	}
	var buf []byte
	if binary {
		buf = []byte(data)
	} else {
		buf, err = rsp.HexDecode(data)
		if err != nil {
			return "E01", nil
		}
	}
	if err := ctrl.WriteMemory(addr, buf); err != nil {
		return "", err
	}
	return "OK", nil
}

func parseAddrLength(s string) (uint32, int, error) {
	parts := strings.SplitN(s, ",", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("dispatch: malformed addr,length %q", s)
	}
	addr, err := strconv.ParseUint(parts[0], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	length, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, err
	}
	return uint32(addr), int(length), nil
}

func encodeHex(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}

func (d *Dispatcher) resume(ctx context.Context, step bool) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	if err := ctrl.Resume(step); err != nil {
		return "", err
	}
	reason, err := ctrl.HaltPoll(ctx)
	if err != nil && !cortexm.IsSemihostingTrap(err) {
		return "", err
	}
	if cortexm.IsSemihostingTrap(err) {
		if d.semi != nil {
			if err := d.semi.Handle(); err != nil {
				return "", err
			}
		}
		return d.resume(ctx, false)
	}
	return fmt.Sprintf("S%02x", haltSignal(reason)), nil
}

func (d *Dispatcher) setBreakwatch(args string) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	kind, addr, size, err := parseBreakwatch(args)
	if err != nil {
		return "E01", nil
	}
	if kind == 0 {
		if _, err := ctrl.SetBreakpoint(addr); err != nil {
			return "", err
		}
		return "OK", nil
	}
	bk := breakwatchKindOf(kind)
	if _, err := ctrl.SetWatchpoint(bk, addr, size); err != nil {
		return "", err
	}
	return "OK", nil
}

func (d *Dispatcher) clearBreakwatch(args string) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	kind, addr, size, err := parseBreakwatch(args)
	if err != nil {
		return "E01", nil
	}
	bws := ctrl.Breakwatches()
	for i := range bws {
		bw := &bws[i] // ClearBreakwatch matches by pointer into the live list
		if !bw.Armed || bw.Addr != addr {
			continue
		}
		if kind == 0 && bw.Kind == cortexm.Hard {
			return "OK", ctrl.ClearBreakwatch(bw)
		}
		if kind != 0 && bw.Kind == breakwatchKindOf(kind) && bw.Size == size {
			return "OK", ctrl.ClearBreakwatch(bw)
		}
	}
	return "E01", nil
}

func parseBreakwatch(args string) (kind int, addr uint32, size int, err error) {
	parts := strings.SplitN(args, ",", 3)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("dispatch: malformed Z/z packet %q", args)
	}
	k, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, 0, err
	}
	a, err := strconv.ParseUint(parts[1], 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	sz, err := strconv.ParseUint(parts[2], 16, 32)
	if err != nil {
		return 0, 0, 0, err
	}
	return k, uint32(a), int(sz), nil
}

// breakwatchKindOf maps the GDB Z/z type field (2=write, 3=read, 4=access)
// to the controller's BreakwatchKind.
func breakwatchKindOf(gdbType int) cortexm.BreakwatchKind {
	switch gdbType {
	case 2:
		return cortexm.WatchWrite
	case 3:
		return cortexm.WatchRead
	case 4:
		return cortexm.WatchAccess
	default:
		return cortexm.Hard
	}
}

func (d *Dispatcher) handleSet(args string) (string, error) {
	if args == "StartNoAckMode" {
		d.sess.SetNoAckMode(true)
		d.noAckMode = true
		return "OK", nil
	}
	return "", nil
}

func (d *Dispatcher) handleQuery(ctx context.Context, args string) (string, error) {
	if strings.HasPrefix(args, "Rcmd,") {
		return d.monitorCommand(ctx, strings.TrimPrefix(args, "Rcmd,"))
	}
	switch {
	case args == "Supported" || strings.HasPrefix(args, "Supported:"):
		return "PacketSize=1000;qXfer:features:read-;QStartNoAckMode+", nil
	case args == "Attached":
		return "1", nil
	case args == "C":
		return "QC0", nil
	case args == "fThreadInfo":
		return "m0", nil
	case args == "sThreadInfo":
		return "l", nil
	default:
		return "", nil
	}
}

// monitorCommand decodes a hex-encoded qRcmd payload, looks up the command
// by (possibly partial, GDB-compatible) prefix match, runs it, and replies
// with the hex-encoded console text.
func (d *Dispatcher) monitorCommand(ctx context.Context, hexPayload string) (string, error) {
	raw, err := rsp.HexDecode(hexPayload)
	if err != nil {
		return "E01", nil
	}
	fields := strings.Fields(string(raw))
	if len(fields) == 0 {
		return "OK", nil
	}
	name, args := fields[0], fields[1:]

	cmd, err := d.lookupCommand(name)
	if err != nil {
		return encodeHex([]byte(err.Error() + "\n")), nil
	}
	out, err := cmd.Handler(args)
	if err != nil {
		return encodeHex([]byte(err.Error() + "\n")), nil
	}
	return encodeHex([]byte(out)), nil
}

// lookupCommand implements spec.md §6's "partial prefix matches are
// accepted (GDB-compatible)": a unique prefix match wins; an ambiguous one
// is an error.
func (d *Dispatcher) lookupCommand(name string) (Command, error) {
	var exact *Command
	var matches []Command
	for i := range d.commands {
		c := &d.commands[i]
		if c.Name == name {
			exact = c
			break
		}
		if strings.HasPrefix(c.Name, name) {
			matches = append(matches, *c)
		}
	}
	if exact != nil {
		return *exact, nil
	}
	if len(matches) == 1 {
		return matches[0], nil
	}
	if len(matches) > 1 {
		return Command{}, fmt.Errorf("ambiguous command %q", name)
	}
	return Command{}, fmt.Errorf("unrecognized command %q", name)
}

func (d *Dispatcher) RegisterCommand(c Command) {
	d.commands = append(d.commands, c)
}

func (d *Dispatcher) Commands() []Command { return d.commands }

// SetSemihosting installs the semihosting service the resume path hands
// BKPT 0xAB traps to.
func (d *Dispatcher) SetSemihosting(s *semihosting.Service) { d.semi = s }

// SetRTT installs the RTT poller the "rtt status" command reports on.
func (d *Dispatcher) SetRTT(p *rtt.Poller) { d.rtt = p }

// SetLink rebinds the L0 transport the *_scan commands drive. Used by
// bench tooling that opens the physical link only after the Dispatcher
// itself has been constructed (e.g. a CLI that parses --device before
// dialing out).
func (d *Dispatcher) SetLink(l link.Link) { d.link = l }

// Targets returns the current discovered target list, or nil before the
// first scan.
func (d *Dispatcher) Targets() *target.List { return d.targets }

// Current returns the target new packets are dispatched against.
func (d *Dispatcher) Current() *target.Target { return d.current }

// registerCommands builds the flat command table of spec.md §6.
func (d *Dispatcher) registerCommands() {
	d.RegisterCommand(Command{Name: "version", Help: "Display firmware version", Handler: d.cmdVersion})
	d.RegisterCommand(Command{Name: "help", Help: "List monitor commands", Handler: d.cmdHelp})
	d.RegisterCommand(Command{Name: "jtag_scan", Help: "Scan the JTAG chain", Handler: d.cmdJTAGScan})
	d.RegisterCommand(Command{Name: "swdp_scan", Help: "Scan for an SWD target", Handler: d.cmdSWDScan})
	d.RegisterCommand(Command{Name: "auto_scan", Help: "Try JTAG then SWD", Handler: d.cmdAutoScan})
	d.RegisterCommand(Command{Name: "frequency", Help: "Set link clock frequency", Handler: d.cmdFrequency})
	d.RegisterCommand(Command{Name: "targets", Help: "List discovered targets", Handler: d.cmdTargets})
	d.RegisterCommand(Command{Name: "morse", Help: "Repeat the last fault code", Handler: d.cmdMorse})
	d.RegisterCommand(Command{Name: "halt_timeout", Help: "Set halt-poll timeout (ms)", Handler: d.cmdHaltTimeout})
	d.RegisterCommand(Command{Name: "connect_rst", Help: "Assert nRST across attach", Handler: d.cmdConnectRst})
	d.RegisterCommand(Command{Name: "reset", Help: "Pulse nRST / AIRCR now", Handler: d.cmdReset})
	d.RegisterCommand(Command{Name: "tpwr", Help: "Target power rail", Handler: d.cmdTPwr})
	d.RegisterCommand(Command{Name: "traceswo", Help: "Configure SWO trace capture", Handler: d.cmdTraceSWO})
	d.RegisterCommand(Command{Name: "heapinfo", Help: "Set SYS_HEAPINFO block", Handler: d.cmdHeapInfo})
	d.RegisterCommand(Command{Name: "debug_bmp", Help: "Toggle wire-level tracing", Handler: d.cmdDebugBMP})
	d.RegisterCommand(Command{Name: "vector_catch", Help: "Toggle a vector-catch bit", Handler: d.cmdVectorCatch})
	d.RegisterCommand(Command{Name: "redirect_stdout", Help: "Echo SYS_WRITE* to the GDB console", Handler: d.cmdRedirectStdout})
	d.RegisterCommand(Command{Name: "rtt", Help: "Control the RTT poller", Handler: d.cmdRTT})
}

func (d *Dispatcher) cmdVersion(args []string) (string, error) {
	return "kestrel debug core\n", nil
}

func (d *Dispatcher) cmdHelp(args []string) (string, error) {
	var sb strings.Builder
	for _, c := range d.commands {
		fmt.Fprintf(&sb, "%-16s %s\n", c.Name, c.Help)
	}
	return sb.String(), nil
}

func (d *Dispatcher) cmdJTAGScan(args []string) (string, error) {
	return d.runScan(adi.ProtocolJTAGDP)
}

func (d *Dispatcher) cmdSWDScan(args []string) (string, error) {
	return d.runScan(adi.ProtocolSWDv2)
}

func (d *Dispatcher) cmdAutoScan(args []string) (string, error) {
	if out, err := d.runScan(adi.ProtocolJTAGDP); err == nil && d.targets != nil && len(d.targets.Targets) > 0 {
		return out, nil
	}
	return d.runScan(adi.ProtocolSWDv2)
}

func (d *Dispatcher) runScan(proto adi.Protocol) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.CortexMWaitTimeout)
	defer cancel()

	if d.targets != nil {
		d.targets.Free()
	}
	list, err := target.Scan(ctx, d.link, proto, d.cfg)
	if err != nil {
		return "", err
	}
	d.targets = list
	if len(list.Targets) > 0 {
		d.current = list.Targets[0]
	}
	return fmt.Sprintf("%d target(s) found\n", len(list.Targets)), nil
}

func (d *Dispatcher) cmdFrequency(args []string) (string, error) {
	// Clock-rate control belongs to the physical link backend, which this
	// core treats as an out-of-scope collaborator (spec.md §1); accept
	// the command so scripts that set it unconditionally don't fail.
	return "OK\n", nil
}

func (d *Dispatcher) cmdTargets(args []string) (string, error) {
	if d.targets == nil {
		return "no targets\n", nil
	}
	var sb strings.Builder
	for i, t := range d.targets.Targets {
		fmt.Fprintf(&sb, "%d: %s (cpuid=%#x)\n", i, t.Driver, t.CPUID)
	}
	return sb.String(), nil
}

// TargetsSnapshot builds the protobuf-encoded counterpart of the "targets"
// monitor command's plain-text reply, for host-side tooling that decodes the
// target list instead of scraping it.
func (d *Dispatcher) TargetsSnapshot() []byte {
	var list kestrelpb.TargetList
	if d.targets != nil {
		for _, t := range d.targets.Targets {
			info := kestrelpb.TargetInfo{
				DesignerCode: uint32(t.DesignerCode),
				PartID:       uint32(t.PartID),
				CPUID:        t.CPUID,
				Driver:       t.Driver,
				Core:         t.Core,
			}
			for _, r := range t.Ram {
				info.Ram = append(info.Ram, kestrelpb.RamRegion{Start: r.Start, Length: r.Length})
			}
			if t.Controller != nil {
				info.Attached = t.Controller.Attached()
				info.LastDFSR = t.Controller.LastDFSR()
			}
			list.Targets = append(list.Targets, info)
		}
	}
	return list.Marshal()
}

// RTTSnapshot builds the protobuf-encoded counterpart of the "rtt status"
// monitor command's plain-text reply.
func (d *Dispatcher) RTTSnapshot() []byte {
	var s kestrelpb.RTTStatus
	if d.rtt != nil {
		s.Found = d.rtt.Found()
		s.ControlBlockAddr = d.rtt.ControlBlockAddr()
		s.PollPeriodNs = int64(d.rtt.PollPeriod())
	}
	return s.Marshal()
}

func (d *Dispatcher) cmdMorse(args []string) (string, error) {
	return "no fault\n", nil
}

func (d *Dispatcher) cmdHaltTimeout(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("usage: halt_timeout <ms>")
	}
	ms, err := strconv.Atoi(args[0])
	if err != nil {
		return "", err
	}
	d.cfg.CortexMWaitTimeout = time.Duration(ms) * time.Millisecond
	return "OK\n", nil
}

func (d *Dispatcher) cmdConnectRst(args []string) (string, error) {
	return toggleBool(args, &d.cfg.ConnectAssertNRST)
}

func (d *Dispatcher) cmdReset(args []string) (string, error) {
	ctrl, err := d.requireController()
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.ResetReleaseTimeout)
	defer cancel()
	if err := ctrl.Reset(ctx, nil); err != nil {
		return "", err
	}
	return "OK\n", nil
}

func (d *Dispatcher) cmdTPwr(args []string) (string, error) {
	return toggleBool(args, &d.cfg.TPwr)
}

func (d *Dispatcher) cmdTraceSWO(args []string) (string, error) {
	// SWO capture and decoding is a physical trace-pin collaborator out of
	// this core's scope (spec.md §1); accepted as a no-op for compatibility.
	return "OK\n", nil
}

func (d *Dispatcher) cmdHeapInfo(args []string) (string, error) {
	if len(args) != 4 {
		return "", fmt.Errorf("usage: heapinfo <hbase> <hlimit> <sbase> <slimit>")
	}
	if d.current == nil {
		return "", fmt.Errorf("dispatch: no target attached")
	}
	var hi [16]byte
	for i, a := range args {
		v, err := strconv.ParseUint(strings.TrimPrefix(a, "0x"), 16, 32)
		if err != nil {
			return "", err
		}
		hi[i*4] = byte(v)
		hi[i*4+1] = byte(v >> 8)
		hi[i*4+2] = byte(v >> 16)
		hi[i*4+3] = byte(v >> 24)
	}
	d.current.HeapInfo = hi
	return "OK\n", nil
}

func (d *Dispatcher) cmdDebugBMP(args []string) (string, error) {
	return toggleBool(args, &d.cfg.DebugBMP)
}

func (d *Dispatcher) cmdVectorCatch(args []string) (string, error) {
	if len(args) != 2 {
		return "", fmt.Errorf("usage: vector_catch (enable|disable) (hard|int|bus|stat|chk|nocp|mm|reset)")
	}
	enable := args[0] == "enable"
	vc := &d.cfg.VectorCatch
	switch args[1] {
	case "hard":
		vc.Hard = enable
	case "int":
		vc.Int = enable
	case "bus":
		vc.Bus = enable
	case "stat":
		vc.Stat = enable
	case "chk":
		vc.Chk = enable
	case "nocp":
		vc.NoCP = enable
	case "mm":
		vc.MM = enable
	case "reset":
		vc.Reset = enable
	default:
		return "", fmt.Errorf("unknown vector_catch class %q", args[1])
	}
	return "OK\n", nil
}

func (d *Dispatcher) cmdRedirectStdout(args []string) (string, error) {
	return toggleBool(args, &d.cfg.RedirectStdout)
}

func (d *Dispatcher) cmdRTT(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("usage: rtt (enable|disable|status|channel…|ident…|cblock|poll …)")
	}
	switch args[0] {
	case "enable":
		d.cfg.RTT.Enabled = true
	case "disable":
		d.cfg.RTT.Enabled = false
	case "status":
		if d.rtt == nil {
			return "rtt: not initialized\n", nil
		}
		return fmt.Sprintf("rtt: found=%v addr=%#x period=%s\n", d.rtt.Found(), d.rtt.ControlBlockAddr(), d.rtt.PollPeriod()), nil
	case "ident":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: rtt ident <string>")
		}
		d.cfg.RTT.Ident = strings.Join(args[1:], " ")
	case "cblock":
		if len(args) < 2 {
			return "", fmt.Errorf("usage: rtt cblock <addr>")
		}
		addr, err := strconv.ParseUint(strings.TrimPrefix(args[1], "0x"), 16, 32)
		if err != nil {
			return "", err
		}
		d.cfg.RTT.CBAddr = uint32(addr)
	case "poll":
		if len(args) < 3 {
			return "", fmt.Errorf("usage: rtt poll <min_ms> <max_ms>")
		}
		minMs, err := strconv.Atoi(args[1])
		if err != nil {
			return "", err
		}
		maxMs, err := strconv.Atoi(args[2])
		if err != nil {
			return "", err
		}
		d.cfg.RTT.MinPollMs, d.cfg.RTT.MaxPollMs = minMs, maxMs
	default:
		return "", fmt.Errorf("unknown rtt subcommand %q", args[0])
	}
	return "OK\n", nil
}

func toggleBool(args []string, field *bool) (string, error) {
	if len(args) != 1 || (args[0] != "enable" && args[0] != "disable") {
		return "", fmt.Errorf("usage: (enable|disable)")
	}
	*field = args[0] == "enable"
	return "OK\n", nil
}
