// GDB Remote Serial Protocol packet framing (L5 transport)
// https://github.com/kestrel-debug/kestrel
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rsp frames and unframes GDB Remote Serial Protocol packets over a
// byte stream (spec.md §6: "binary packets framed by $…#cs"). It is the
// sole collaborator the rest of the core depends on for host I/O: spec.md
// §6 states the core consumes {gdb_getpacket, gdb_putpacket, gdb_putpacket_f,
// gdb_out, gdb_outf} but does not parse RSP itself, so this package exposes
// those five operations (plus the no-ack, interrupt and hex helpers around
// them) and nothing about command semantics.
package rsp

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

// maxTransmitAttempts bounds retransmission on a NAK'd packet (grounded on
// the same retry-budget idea the GDB RSP spec and common client
// implementations use for a lossy serial link).
const maxTransmitAttempts = 3

// Session frames RSP packets over rw (typically a UART or USB CDC-ACM
// stream). It is the one implementation of semihosting.FileIOTransport and
// of the GetPacket/PutPacket contract the dispatch package drives.
type Session struct {
	r *bufio.Reader
	w io.Writer

	// noAckMode disables the +/- handshake once the host has negotiated
	// QStartNoAckMode; until then every packet is acknowledged.
	noAckMode bool

	// interruptRequested latches a raw 0x03 byte observed outside packet
	// framing (spec.md §5: "driven by the host sending \x03").
	interruptRequested bool
}

// NewSession wraps rw for packet-level GDB RSP I/O.
func NewSession(rw io.ReadWriter) *Session {
	return &Session{r: bufio.NewReader(rw), w: rw}
}

// SetNoAckMode disables per-packet +/- acknowledgement (GDB's QStartNoAckMode).
func (s *Session) SetNoAckMode(on bool) { s.noAckMode = on }

// InterruptRequested reports and clears whether an out-of-band 0x03 byte
// has been observed since the last call (spec.md §5's
// gdb_interrupt_requested flag).
func (s *Session) InterruptRequested() bool {
	v := s.interruptRequested
	s.interruptRequested = false
	return v
}

// GetPacket reads one `$…#cs` packet, verifying its checksum and sending a
// '+'/'-' acknowledgement (unless no-ack mode is active). Runs of 0x03
// outside any packet set InterruptRequested.
func (s *Session) GetPacket() (string, error) {
	for {
		b, err := s.r.ReadByte()
		if err != nil {
			return "", fmt.Errorf("rsp: read: %w", err)
		}
		switch b {
		case 0x03:
			s.interruptRequested = true
			continue
		case '$':
		default:
			continue // resync: ignore stray bytes before a packet start
		}

		var payload bytes.Buffer
		var sum byte // checksum over the raw bytes as sent, escapes included
		for {
			c, err := s.r.ReadByte()
			if err != nil {
				return "", fmt.Errorf("rsp: read payload: %w", err)
			}
			if c == '#' {
				break
			}
			sum += c
			if c == '}' {
				// Escape: the following byte is XORed with 0x20
				// (RSP binary escaping, used by X/vFlashWrite payloads).
				esc, err := s.r.ReadByte()
				if err != nil {
					return "", fmt.Errorf("rsp: read escaped byte: %w", err)
				}
				sum += esc
				payload.WriteByte(esc ^ 0x20)
				continue
			}
			payload.WriteByte(c)
		}

		var csBuf [2]byte
		if _, err := io.ReadFull(s.r, csBuf[:]); err != nil {
			return "", fmt.Errorf("rsp: read checksum: %w", err)
		}
		want, err := hexByte(csBuf[0], csBuf[1])
		if err != nil {
			return "", fmt.Errorf("rsp: malformed checksum: %w", err)
		}

		if sum != want {
			if !s.noAckMode {
				if _, err := s.w.Write([]byte{'-'}); err != nil {
					return "", err
				}
			}
			continue // host will retransmit
		}

		if !s.noAckMode {
			if _, err := s.w.Write([]byte{'+'}); err != nil {
				return "", err
			}
		}
		return payload.String(), nil
	}
}

// PutPacket sends body as a single `$body#cs` packet and, unless no-ack
// mode is active, waits for '+' (retrying up to maxTransmitAttempts times
// on '-').
func (s *Session) PutPacket(body string) error {
	frame := frame(body)
	for attempt := 0; attempt < maxTransmitAttempts; attempt++ {
		if _, err := s.w.Write(frame); err != nil {
			return fmt.Errorf("rsp: write: %w", err)
		}
		if s.noAckMode {
			return nil
		}
		ack, err := s.r.ReadByte()
		if err != nil {
			return fmt.Errorf("rsp: read ack: %w", err)
		}
		if ack == '+' {
			return nil
		}
		// '-': fall through and retransmit.
	}
	return fmt.Errorf("rsp: packet not acknowledged after %d attempts", maxTransmitAttempts)
}

// PutPacketF sends body as an `F`-prefixed host-I/O request packet and
// blocks for the corresponding `F` reply, servicing ordinary `m`/`X`
// packets reentrantly in between (spec.md §5, §9: "Reentrant semihosting
// wait" — re-expressed here as a direct blocking call rather than a
// suspend/resume state machine, since this package owns the one I/O loop
// and has no other work to interleave while waiting). handler is invoked
// for every non-F packet seen while waiting, and its reply is sent back as
// that packet's reply whenever handled is true.
func (s *Session) PutPacketF(request string, handler func(packet string) (reply string, handled bool)) (string, error) {
	if err := s.PutPacket(request); err != nil {
		return "", err
	}
	for {
		pkt, err := s.GetPacket()
		if err != nil {
			return "", err
		}
		if len(pkt) > 0 && pkt[0] == 'F' {
			return pkt, nil
		}
		reply, handled := handler(pkt)
		if handled {
			if err := s.PutPacket(reply); err != nil {
				return "", err
			}
		}
	}
}

// Out writes s as an `O`-prefixed console-output packet (the console
// stream GDB shows for target stdout, per spec.md §6).
func (s *Session) Out(str string) error {
	return s.PutPacket("O" + hexEncode([]byte(str)))
}

// Outf is Out with fmt.Sprintf formatting.
func (s *Session) Outf(format string, args ...any) error {
	return s.Out(fmt.Sprintf(format, args...))
}

// FileIORequest implements semihosting.FileIOTransport: send an `F`-style
// host-I/O request and wait for the matching `F` reply, servicing ordinary
// packets in between via a no-op handler (the dispatch layer installs the
// real handler through PutPacketF when it owns the loop; this path exists
// for semihosting calls issued outside of an active dispatch turn).
func (s *Session) FileIORequest(request string) (string, error) {
	return s.PutPacketF(request, func(string) (string, bool) { return "", false })
}

func frame(body string) []byte {
	cs := checksum([]byte(body))
	var buf bytes.Buffer
	buf.WriteByte('$')
	buf.WriteString(body)
	buf.WriteByte('#')
	fmt.Fprintf(&buf, "%02x", cs)
	return buf.Bytes()
}

func checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum
}

func hexByte(hi, lo byte) (byte, error) {
	h, err := hexNibble(hi)
	if err != nil {
		return 0, err
	}
	l, err := hexNibble(lo)
	if err != nil {
		return 0, err
	}
	return h<<4 | l, nil
}

func hexNibble(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("rsp: invalid hex digit %q", c)
	}
}

// hexEncode is the Hexify primitive spec.md §8 requires to round-trip with
// Unhexify (case-insensitive on decode).
func hexEncode(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xF]
	}
	return string(out)
}

// HexDecode is Unhexify: case-insensitive on A-F/a-f (spec.md §8).
func HexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("rsp: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		b, err := hexByte(s[i*2], s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}
