// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package ringbuf provides a fixed-capacity circular byte buffer with
// partial append/drain against nonblocking io.Reader/io.Writer sources and
// split-slice read views across the wraparound boundary.
package ringbuf

import (
	"bytes"
	"errors"
	"io"

	"code.hybscloud.com/iox"
)

// ErrNoRoom is returned by Append when the buffer does not have enough
// available space to hold the entire input atomically.
var ErrNoRoom = errors.New("ringbuf: no room")

// ErrInvalidLength is returned by Peek and Read when asked for a zero or
// negative length, or a length exceeding the currently valid data.
var ErrInvalidLength = errors.New("ringbuf: invalid length")

// Buffer is a fixed-capacity ring of bytes. The zero value is not usable;
// construct one with New.
type Buffer struct {
	buf  []byte
	read int
	wr   int
	full bool
}

// New returns a ring buffer with the given byte capacity. Capacity must be
// greater than zero.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		panic("ringbuf: capacity must be positive")
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Capacity returns the total byte capacity of the ring.
func (b *Buffer) Capacity() int { return len(b.buf) }

// IsFull reports whether the buffer currently holds Capacity bytes.
func (b *Buffer) IsFull() bool { return b.full }

// IsEmpty reports whether the buffer currently holds no bytes.
func (b *Buffer) IsEmpty() bool { return !b.full && b.read == b.wr }

// ValidLength returns the number of bytes currently readable.
func (b *Buffer) ValidLength() int {
	if b.full {
		return len(b.buf)
	}
	if b.wr >= b.read {
		return b.wr - b.read
	}
	return len(b.buf) - b.read + b.wr
}

// AvailableSpace returns the number of bytes that can be appended before
// the buffer becomes full.
func (b *Buffer) AvailableSpace() int {
	return len(b.buf) - b.ValidLength()
}

// View is a read view into the ring, expressed as one contiguous slice or,
// when the view straddles the wraparound boundary, two slices (First
// immediately followed by Second). Neither slice aliases writable buffer
// space beyond the view's own bounds.
type View struct {
	First  []byte
	Second []byte
}

// Len returns the total number of bytes in the view.
func (v View) Len() int { return len(v.First) + len(v.Second) }

// Bytes returns the view's bytes as a single contiguous slice, copying
// only when the view is split across the wraparound boundary.
func (v View) Bytes() []byte {
	if len(v.Second) == 0 {
		return v.First
	}
	out := make([]byte, len(v.First)+len(v.Second))
	n := copy(out, v.First)
	copy(out[n:], v.Second)
	return out
}

// Reader returns an io.Reader that yields the view's bytes in order,
// transparently crossing the split if present.
func (v View) Reader() io.Reader {
	if len(v.Second) == 0 {
		return bytes.NewReader(v.First)
	}
	return io.MultiReader(bytes.NewReader(v.First), bytes.NewReader(v.Second))
}

// viewAt builds a View of n bytes starting at ring position start, assuming
// n bytes are actually valid starting there.
func (b *Buffer) viewAt(start, n int) View {
	if n == 0 {
		return View{}
	}
	cap := len(b.buf)
	end := start + n
	if end <= cap {
		return View{First: b.buf[start:end]}
	}
	return View{First: b.buf[start:cap], Second: b.buf[0 : end-cap]}
}

// Peek returns a view of the next n bytes without advancing the read
// position. It fails with ErrInvalidLength if n is not positive or exceeds
// ValidLength.
func (b *Buffer) Peek(n int) (View, error) {
	if n <= 0 || n > b.ValidLength() {
		return View{}, ErrInvalidLength
	}
	return b.viewAt(b.read, n), nil
}

// Read returns a view identical to Peek(n) and advances the read position
// past it, clearing the full bit. A zero-length request is rejected.
func (b *Buffer) Read(n int) (View, error) {
	v, err := b.Peek(n)
	if err != nil {
		return View{}, err
	}
	b.advanceRead(n)
	return v, nil
}

func (b *Buffer) advanceRead(n int) {
	if n == 0 {
		return
	}
	b.read = (b.read + n) % len(b.buf)
	b.full = false
}

func (b *Buffer) advanceWrite(n int) {
	if n == 0 {
		return
	}
	b.wr = (b.wr + n) % len(b.buf)
	if b.wr == b.read {
		b.full = true
	}
}

// Append writes all of p atomically: either every byte is copied in, or
// (if len(p) exceeds AvailableSpace) none is, and ErrNoRoom is returned. A
// zero-length p is a no-op.
func (b *Buffer) Append(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if len(p) > b.AvailableSpace() {
		return ErrNoRoom
	}
	n1 := copy(b.buf[b.wr:], p)
	if n1 < len(p) {
		copy(b.buf, p[n1:])
	}
	b.advanceWrite(len(p))
	return nil
}

// AppendFrom pulls bytes from r into the largest available consecutive
// free region at a time, repeating until r yields io.EOF or a read of zero
// bytes, the buffer becomes full, or r returns a non-nil error.
// iox.ErrWouldBlock and iox.ErrMore are propagated unchanged so the caller
// can distinguish "producer blocked" from "producer exhausted" (io.EOF or a
// zero-byte read, returned as a nil error here since end of input from a
// live transport source is not itself a
// framing failure -- callers watching for connection-level EOF should
// inspect the underlying reader directly). Returns the total bytes
// appended so far even when terminated by an error.
func (b *Buffer) AppendFrom(r io.Reader) (int, error) {
	if b.IsFull() {
		return 0, ErrNoRoom
	}
	total := 0
	for !b.IsFull() {
		start := b.wr
		var freeLen int
		if b.read > b.wr {
			freeLen = b.read - b.wr
		} else {
			freeLen = len(b.buf) - b.wr
		}
		if freeLen == 0 {
			break
		}
		n, err := r.Read(b.buf[start : start+freeLen])
		if n > 0 {
			b.advanceWrite(n)
			total += n
		}
		if err != nil {
			if err == io.EOF {
				return total, nil
			}
			return total, err
		}
		if n == 0 {
			// A read of zero bytes with no error ends the pull the same way
			// io.EOF does.
			return total, nil
		}
	}
	return total, nil
}

// DrainInto writes the first consecutive valid region to w, then the
// wraparound region if one exists. A WouldBlock/ErrMore error while
// writing the wraparound (second) region is treated as partial success:
// the bytes already drained are reported with a nil error, since the first
// region's write already completed. Any other error, or a WouldBlock on
// the first region, is returned as-is.
func (b *Buffer) DrainInto(w io.Writer) (int, error) {
	v := b.viewAt(b.read, b.ValidLength())
	if v.Len() == 0 {
		return 0, nil
	}

	n1, err := w.Write(v.First)
	total := n1
	if n1 > 0 {
		b.advanceRead(n1)
	}
	if err != nil {
		return total, err
	}
	if n1 < len(v.First) {
		return total, io.ErrShortWrite
	}
	if len(v.Second) == 0 {
		return total, nil
	}

	n2, err2 := w.Write(v.Second)
	if n2 > 0 {
		b.advanceRead(n2)
		total += n2
	}
	if err2 != nil {
		if errors.Is(err2, iox.ErrWouldBlock) || errors.Is(err2, iox.ErrMore) {
			return total, nil
		}
		return total, err2
	}
	if n2 < len(v.Second) {
		return total, io.ErrShortWrite
	}
	return total, nil
}
