// Structured logging for the kestrel debug core
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package klog provides the structured logger every layer of the core
// accepts, so a host tailing the probe's debug UART can filter by field
// instead of scraping formatted strings.
package klog

import (
	"log/slog"
	"os"
)

// Default returns the process-wide default logger, lazily falling back to a
// plain text handler on stderr when none has been installed.
func Default() *slog.Logger {
	return slog.Default()
}

// New builds a logger writing structured text to os.Stderr at the given level. name
// is attached to every record as the "component" field so L0-L4 layers are
// distinguishable in a single log stream.
func New(name string, level slog.Level) *slog.Logger {
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("component", name)
}

// Or returns l if non-nil, otherwise the process default. Constructors that
// take a logger (dispatch.New) call this so a nil *slog.Logger argument is
// always safe.
func Or(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return Default()
}

// NopLogger returns a logger that discards everything, for tests that don't
// want log noise but still need a non-nil *slog.Logger.
func NopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
