// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package rsp

import (
	"bytes"
	"testing"
)

// loopback pairs a GetPacket-side buffer with a PutPacket-side buffer so a
// Session can be driven without a real serial link.
type loopback struct {
	in  *bytes.Buffer // bytes the Session reads (host -> probe)
	out *bytes.Buffer // bytes the Session writes (probe -> host)
}

func (l *loopback) Read(p []byte) (int, error)  { return l.in.Read(p) }
func (l *loopback) Write(p []byte) (int, error) { return l.out.Write(p) }

func TestHexRoundTrip(t *testing.T) {
	cases := [][]byte{
		nil,
		{0x00},
		{0xDE, 0xAD, 0xBE, 0xEF},
		[]byte("hello world"),
	}
	for _, c := range cases {
		enc := hexEncode(c)
		dec, err := HexDecode(enc)
		if err != nil {
			t.Fatalf("HexDecode(%q): %v", enc, err)
		}
		if !bytes.Equal(dec, c) && !(len(dec) == 0 && len(c) == 0) {
			t.Errorf("round trip mismatch: got %v, want %v", dec, c)
		}
	}
}

func TestHexDecodeCaseInsensitive(t *testing.T) {
	lower, err := HexDecode("deadbeef")
	if err != nil {
		t.Fatal(err)
	}
	upper, err := HexDecode("DEADBEEF")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(lower, upper) {
		t.Errorf("case-insensitive decode mismatch: %v vs %v", lower, upper)
	}
}

func TestGetPacketValidatesChecksum(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("$g#67"), out: &bytes.Buffer{}}
	s := NewSession(lb)
	pkt, err := s.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if pkt != "g" {
		t.Errorf("payload = %q, want %q", pkt, "g")
	}
	if lb.out.String() != "+" {
		t.Errorf("ack = %q, want %q", lb.out.String(), "+")
	}
}

func TestGetPacketRejectsBadChecksum(t *testing.T) {
	// "g" checksums to 0x67; feed a bad one, then a good retransmission.
	lb := &loopback{in: bytes.NewBufferString("$g#00$g#67"), out: &bytes.Buffer{}}
	s := NewSession(lb)
	pkt, err := s.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if pkt != "g" {
		t.Errorf("payload = %q, want %q", pkt, "g")
	}
	if lb.out.String() != "-+" {
		t.Errorf("ack sequence = %q, want %q", lb.out.String(), "-+")
	}
}

func TestPutPacketWaitsForAck(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("+"), out: &bytes.Buffer{}}
	s := NewSession(lb)
	if err := s.PutPacket("OK"); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	if lb.out.String() != "$OK#9a" {
		t.Errorf("frame = %q, want %q", lb.out.String(), "$OK#9a")
	}
}

func TestNoAckModeSkipsHandshake(t *testing.T) {
	lb := &loopback{in: &bytes.Buffer{}, out: &bytes.Buffer{}}
	s := NewSession(lb)
	s.SetNoAckMode(true)
	if err := s.PutPacket("OK"); err != nil {
		t.Fatalf("PutPacket: %v", err)
	}
	if lb.out.String() != "$OK#9a" {
		t.Errorf("frame = %q, want %q", lb.out.String(), "$OK#9a")
	}
}

func TestInterruptByteDetected(t *testing.T) {
	lb := &loopback{in: bytes.NewBufferString("\x03$g#67"), out: &bytes.Buffer{}}
	s := NewSession(lb)
	if _, err := s.GetPacket(); err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if !s.InterruptRequested() {
		t.Error("expected InterruptRequested to be true")
	}
	if s.InterruptRequested() {
		t.Error("InterruptRequested should clear on read")
	}
}

func TestEscapedBinaryByte(t *testing.T) {
	// '}' (0x7d) escapes the following raw byte, XORed with 0x20: encoding
	// payload byte 0x03 as the two raw bytes 0x7d,0x23 ('}','#'), checksum
	// computed over those encoded bytes (0x7d+0x23=0xa0), then the
	// terminating '#' and the checksum hex digits.
	lb := &loopback{in: bytes.NewBufferString("$}##a0"), out: &bytes.Buffer{}}
	s := NewSession(lb)
	pkt, err := s.GetPacket()
	if err != nil {
		t.Fatalf("GetPacket: %v", err)
	}
	if len(pkt) != 1 || pkt[0] != 0x03 {
		t.Errorf("decoded escaped payload = %v, want [0x03]", []byte(pkt))
	}
}
