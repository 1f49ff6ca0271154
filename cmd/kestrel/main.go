// kestrel monitor-command bench CLI
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// The kestrel command fronts the monitor-command registry (spec.md §6) as
// an offline, terminal-driven tool: each registered monitor command becomes
// a cobra subcommand, for driving a probe core by hand or from a bench
// script without a GDB client attached. It never touches the RSP wire path
// (package rsp, package dispatch's Run loop) — that remains reachable only
// over the packet transport a real GDB session uses. Commands that need a
// live link (the *_scan family) run against the software-simulated link
// cmd/bench also uses, so this tool works without hardware attached.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/dispatch"
	"github.com/kestrel-debug/kestrel/klog"
	"github.com/kestrel-debug/kestrel/simlink"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the root cobra command: one subcommand per monitor
// command in a fresh Dispatcher's registry, plus "repl" for an interactive
// session that reuses the same Dispatcher (and so the same discovered
// target list) across several commands.
func newRootCmd() *cobra.Command {
	var logLevel string

	root := &cobra.Command{
		Use:   "kestrel",
		Short: "bench CLI for the kestrel debug probe core",
		Long: "kestrel drives the probe core's monitor commands directly from a\n" +
			"terminal, for bench testing without a GDB client attached. The\n" +
			"*_scan commands run against a software-simulated target.",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	d := dispatch.New(nil, config.New(), simlink.New(), adi.ProtocolSWDv2, klog.New("kestrel", parseLevel(logLevel)))

	for _, c := range d.Commands() {
		root.AddCommand(newMonitorSubcommand(d, c))
	}
	root.AddCommand(newReplCmd(d))
	return root
}

// newMonitorSubcommand wraps one registered monitor command as a cobra
// subcommand, so "kestrel halt_timeout 500" behaves the same as typing
// "monitor halt_timeout 500" into GDB.
func newMonitorSubcommand(d *dispatch.Dispatcher, c dispatch.Command) *cobra.Command {
	handler := c.Handler
	return &cobra.Command{
		Use:                c.Name + " [args...]",
		Short:              c.Help,
		DisableFlagParsing: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := handler(args)
			if err != nil {
				return err
			}
			fmt.Print(out)
			return nil
		},
	}
}

// newReplCmd runs an interactive loop reading whitespace-separated monitor
// commands from stdin, one per line, until EOF. Command names are matched
// exactly (no partial-prefix lookup); a line whose first word names no
// registered command prints nothing.
func newReplCmd(d *dispatch.Dispatcher) *cobra.Command {
	return &cobra.Command{
		Use:   "repl",
		Short: "interactive monitor command session",
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := bufio.NewScanner(os.Stdin)
			for sc.Scan() {
				fields := strings.Fields(sc.Text())
				if len(fields) == 0 {
					continue
				}
				name, rest := fields[0], fields[1:]
				var out string
				var err error
				for _, c := range d.Commands() {
					if c.Name == name {
						out, err = c.Handler(rest)
						break
					}
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "kestrel: %v\n", err)
					continue
				}
				fmt.Print(out)
			}
			return sc.Err()
		},
	}
}

func parseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
