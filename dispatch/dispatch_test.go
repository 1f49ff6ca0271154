// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dispatch

import (
	"testing"

	"github.com/kestrel-debug/kestrel/adi"
	"github.com/kestrel-debug/kestrel/config"
	"github.com/kestrel-debug/kestrel/klog"
	"github.com/kestrel-debug/kestrel/rsp"
)

type nopReadWriter struct{}

func (nopReadWriter) Read(p []byte) (int, error)  { return 0, nil }
func (nopReadWriter) Write(p []byte) (int, error) { return len(p), nil }

func newTestDispatcher() *Dispatcher {
	sess := rsp.NewSession(nopReadWriter{})
	cfg := config.New()
	return New(sess, cfg, nil, adi.ProtocolSWDv2, klog.NopLogger())
}

func TestLookupCommandExactMatch(t *testing.T) {
	d := newTestDispatcher()
	c, err := d.lookupCommand("reset")
	if err != nil {
		t.Fatalf("lookupCommand(reset): %v", err)
	}
	if c.Name != "reset" {
		t.Errorf("got %q, want %q", c.Name, "reset")
	}
}

func TestLookupCommandUniquePrefix(t *testing.T) {
	d := newTestDispatcher()
	// "hal" uniquely prefixes "halt_timeout" among the registered commands.
	c, err := d.lookupCommand("hal")
	if err != nil {
		t.Fatalf("lookupCommand(hal): %v", err)
	}
	if c.Name != "halt_timeout" {
		t.Errorf("got %q, want %q", c.Name, "halt_timeout")
	}
}

func TestLookupCommandAmbiguousPrefix(t *testing.T) {
	d := newTestDispatcher()
	// "t" prefixes both "targets" and "tpwr" and "traceswo".
	if _, err := d.lookupCommand("t"); err == nil {
		t.Fatal("expected ambiguous-prefix error")
	}
}

func TestLookupCommandUnknown(t *testing.T) {
	d := newTestDispatcher()
	if _, err := d.lookupCommand("nonexistent"); err == nil {
		t.Fatal("expected unrecognized-command error")
	}
}

func TestMonitorCommandRoundTrip(t *testing.T) {
	d := newTestDispatcher()
	hexReq := encodeHex([]byte("version"))
	reply, err := d.monitorCommand(nil, hexReq)
	if err != nil {
		t.Fatalf("monitorCommand: %v", err)
	}
	if reply == "" {
		t.Fatal("expected non-empty hex reply")
	}
}

func TestVectorCatchUnknownClass(t *testing.T) {
	d := newTestDispatcher()
	if _, err := d.cmdVectorCatch([]string{"enable", "bogus"}); err == nil {
		t.Fatal("expected error for unknown vector_catch class")
	}
}

func TestToggleBoolRejectsGarbage(t *testing.T) {
	var b bool
	if _, err := toggleBool([]string{"maybe"}, &b); err == nil {
		t.Fatal("expected error for non enable/disable argument")
	}
}

func TestByteSwap32(t *testing.T) {
	if got := byteSwap32(0x01020304); got != 0x04030201 {
		t.Fatalf("byteSwap32 = %#x, want %#x", got, 0x04030201)
	}
}
