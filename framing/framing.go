// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package framing turns a byte stream into discrete MQTT 3.1.1 control
// packets and back, tolerating arbitrary partial I/O boundaries. It owns
// one ring buffer per direction and never attempts to decode a packet
// until the fixed header (1-5 bytes: a type/flags byte followed by a
// 1-4-byte remaining-length varint) plus its declared remaining length
// have been fully buffered.
//
// This is a direct generalization of the teacher framer's nonblocking
// header-then-payload pump (see internal.go's readStream/writeStream) from
// its own compact length-prefixed wire format onto the MQTT fixed header.
package framing

import (
	"errors"
	"io"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/raiot/mqttwire"
	"code.hybscloud.com/raiot/ringbuf"
)

const minRingSize = 5

// These re-exports let callers reference the semantic control-flow errors
// without importing iox directly, matching the teacher's own framer.go.
var (
	ErrWouldBlock = iox.ErrWouldBlock
	ErrMore       = iox.ErrMore
)

// ErrTooLarge means a packet's encoded size exceeds the ring's total
// capacity -- it will never fit, and the connection carrying it must be
// torn down (spec §4.B: "fail permanently with InvalidData").
var ErrTooLarge = errors.New("framing: packet exceeds ring capacity")

// ErrInvalidPacket means the buffered bytes do not form a well-formed MQTT
// fixed header (e.g. a remaining-length varint whose continuation bit is
// still set after 4 bytes).
var ErrInvalidPacket = errors.New("framing: invalid packet")

// ErrNoRoom is ringbuf.ErrNoRoom, re-exported for callers of WritePacket.
var ErrNoRoom = ringbuf.ErrNoRoom

// Deframer accumulates inbound bytes and yields complete MQTT packets.
type Deframer struct {
	ring *ringbuf.Buffer
}

// NewDeframer returns a Deframer backed by a ring of the given capacity.
// Capacity must be at least large enough to hold a minimal fixed header.
func NewDeframer(capacity int) *Deframer {
	if capacity < minRingSize {
		panic("framing: deframer capacity too small")
	}
	return &Deframer{ring: ringbuf.New(capacity)}
}

// Fill pulls bytes from r into the deframer's ring. It propagates
// iox.ErrWouldBlock/iox.ErrMore from r unchanged; a bare io.EOF from r is
// reported as a nil error (ringbuf.AppendFrom's convention) since end of
// input is a transport-level concern the caller observes directly on r.
func (d *Deframer) Fill(r io.Reader) (int, error) {
	return d.ring.AppendFrom(r)
}

// Packet attempts to decode the next complete MQTT packet from buffered
// bytes. ok is false with a nil error when more bytes are needed -- this
// is "no packet available," not a failure. ErrTooLarge is permanent: the
// declared packet size exceeds the ring's total capacity and no amount of
// further reading will make it decodable. ErrInvalidPacket means the
// fixed header itself is malformed.
func (d *Deframer) Packet() (typ mqttwire.PacketType, flags byte, body []byte, ok bool, err error) {
	if d.ring.ValidLength() < 2 {
		return 0, 0, nil, false, nil
	}

	peekLen := d.ring.ValidLength()
	if peekLen > 5 {
		peekLen = 5
	}
	view, perr := d.ring.Peek(peekLen)
	if perr != nil {
		return 0, 0, nil, false, nil
	}
	header := view.Bytes()

	fh, hok := mqttwire.DecodeFixedHeader(header)
	if !hok {
		if peekLen >= 5 {
			// Four varint bytes buffered and the continuation bit is still
			// set: this can never be a valid MQTT remaining-length field.
			return 0, 0, nil, false, ErrInvalidPacket
		}
		return 0, 0, nil, false, nil
	}

	total := fh.HeaderLen + fh.RemainingLen
	if d.ring.ValidLength() < total {
		if d.ring.Capacity() < total {
			return 0, 0, nil, false, ErrTooLarge
		}
		return 0, 0, nil, false, nil
	}

	full, rerr := d.ring.Read(total)
	if rerr != nil {
		return 0, 0, nil, false, ErrInvalidPacket
	}
	raw := full.Bytes()
	return fh.Type, raw[0] & 0x0f, raw[fh.HeaderLen:total], true, nil
}

// Framer accumulates outbound MQTT packets for delivery to a transport.
type Framer struct {
	ring *ringbuf.Buffer
}

// NewFramer returns a Framer backed by a ring of the given capacity.
func NewFramer(capacity int) *Framer {
	if capacity <= 0 {
		panic("framing: framer capacity must be positive")
	}
	return &Framer{ring: ringbuf.New(capacity)}
}

// WritePacket enqueues an already wire-encoded packet (fixed header plus
// body). It returns ErrTooLarge if the packet can never fit in this
// framer's ring regardless of draining, or ErrNoRoom if it doesn't fit
// right now and the caller must Drain first.
func (f *Framer) WritePacket(encoded []byte) error {
	if len(encoded) > f.ring.Capacity() {
		return ErrTooLarge
	}
	return f.ring.Append(encoded)
}

// IsEmpty reports whether all enqueued bytes have been drained.
func (f *Framer) IsEmpty() bool { return f.ring.IsEmpty() }

// Pending returns the number of bytes still queued for transmission.
func (f *Framer) Pending() int { return f.ring.ValidLength() }

// Drain pushes buffered bytes to w, stopping early (without error) if a
// wraparound write returns iox.ErrWouldBlock/iox.ErrMore, per
// ringbuf.DrainInto's partial-success contract. Any other write error is
// returned unchanged.
func (f *Framer) Drain(w io.Writer) (int, error) {
	return f.ring.DrainInto(w)
}
