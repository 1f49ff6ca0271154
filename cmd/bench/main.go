// kestrel CI smoke-test harness
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The bench command drives a Dispatcher end to end — scan, attach, memory
// read/write, halt/resume — against the software-simulated link in package
// simlink rather than a physical SWD/JTAG adapter, so the core's dispatch
// logic can be exercised in CI without hardware attached. Modeled on
// cmd/tamago's idiom of a small single-purpose main package that exits
// nonzero on the first failure rather than accumulating a report.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/dispatch"
	"github.com/kestrel-debug/kestrel/klog"
	"github.com/kestrel-debug/kestrel/simlink"
)

// step is one named stage of the smoke test: a command to send through the
// Dispatcher's monitor-command path, plus a check on the result.
type step struct {
	name string
	run  func(d *dispatch.Dispatcher, l *simlink.Link) error
}

func main() {
	log := klog.New("bench", slog.LevelInfo)
	ctx := context.Background()

	l := simlink.New()
	d := dispatch.New(nil, config.New(), l, adi.ProtocolSWDv2, log)

	for _, s := range steps(ctx) {
		if err := s.run(d, l); err != nil {
			log.Error("step failed", "step", s.name, "err", err)
			os.Exit(1)
		}
		log.Info("step passed", "step", s.name)
	}
	fmt.Println("bench: all steps passed")
}

func steps(ctx context.Context) []step {
	return []step{
		{"swdp_scan", func(d *dispatch.Dispatcher, l *simlink.Link) error {
			out, err := call(d, "swdp_scan")
			if err != nil {
				return err
			}
			if d.Targets() == nil || len(d.Targets().Targets) == 0 {
				return fmt.Errorf("swdp_scan: no targets discovered (%q)", out)
			}
			return nil
		}},
		{"attach", func(d *dispatch.Dispatcher, l *simlink.Link) error {
			t := d.Current()
			if t == nil || t.Controller == nil {
				return fmt.Errorf("attach: no current target after scan")
			}
			if !t.Controller.Attached() {
				return fmt.Errorf("attach: scan left target unattached")
			}
			return nil
		}},
		{"halt_poll", func(d *dispatch.Dispatcher, l *simlink.Link) error {
			reason, err := d.Current().Controller.HaltPoll(ctx)
			if err != nil {
				return fmt.Errorf("halt_poll: %w", err)
			}
			_ = reason
			return nil
		}},
		{"memory_round_trip", func(d *dispatch.Dispatcher, l *simlink.Link) error {
			const addr = simlink.RAMStart
			const want = 0xCAFEF00D
			l.PokeWord(addr, 0) // start clean; the simulator zero-fills unwritten words anyway
			if err := d.Current().Controller.MemAP().WriteWord(addr, want); err != nil {
				return fmt.Errorf("write word: %w", err)
			}
			got, err := d.Current().Controller.MemAP().ReadWord(addr)
			if err != nil {
				return fmt.Errorf("read word: %w", err)
			}
			if got != want {
				return fmt.Errorf("round trip mismatch: wrote %#x, read %#x", want, got)
			}
			if peek := l.PeekWord(addr); peek != want {
				return fmt.Errorf("PeekWord disagrees with MemAP read: %#x vs %#x", peek, want)
			}
			return nil
		}},
		{"resume_and_rehalt", func(d *dispatch.Dispatcher, l *simlink.Link) error {
			if err := d.Current().Controller.Resume(false); err != nil {
				return fmt.Errorf("resume: %w", err)
			}
			if _, err := d.Current().Controller.HaltPoll(ctx); err != nil {
				return fmt.Errorf("halt poll after resume: %w", err)
			}
			return nil
		}},
	}
}

// call runs a registered monitor command by exact name, straight through
// its handler (no prefix matching).
func call(d *dispatch.Dispatcher, name string) (string, error) {
	for _, c := range d.Commands() {
		if c.Name == name {
			return c.Handler(nil)
		}
	}
	return "", fmt.Errorf("bench: unregistered command %q", name)
}
