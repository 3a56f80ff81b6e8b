// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package ringbuf

import (
	"bytes"
	"io"
	"testing"

	"code.hybscloud.com/iox"
)

func TestBufferWriteSanity(t *testing.T) {
	b := New(8)
	if !b.IsEmpty() {
		t.Fatal("new buffer should be empty")
	}
	if err := b.Append([]byte("abcd")); err != nil {
		t.Fatalf("append: %v", err)
	}
	if b.ValidLength() != 4 {
		t.Fatalf("valid length = %d, want 4", b.ValidLength())
	}
	if b.AvailableSpace() != 4 {
		t.Fatalf("available space = %d, want 4", b.AvailableSpace())
	}
	v, err := b.Read(4)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(v.Bytes(), []byte("abcd")) {
		t.Fatalf("read = %q, want %q", v.Bytes(), "abcd")
	}
	if !b.IsEmpty() {
		t.Fatal("buffer should be empty after draining everything written")
	}
}

func TestBufferConsecutives(t *testing.T) {
	b := New(8)
	_ = b.Append([]byte("abcdef"))
	if _, err := b.Read(4); err != nil {
		t.Fatalf("read: %v", err)
	}
	// read=4, wr=6. Appending 4 more bytes wraps write around.
	if err := b.Append([]byte("ghij")); err != nil {
		t.Fatalf("append: %v", err)
	}
	v, err := b.Peek(6)
	if err != nil {
		t.Fatalf("peek: %v", err)
	}
	if v.Second == nil {
		t.Fatal("expected a split view across the wraparound boundary")
	}
	if !bytes.Equal(v.Bytes(), []byte("efghij")) {
		t.Fatalf("peek = %q, want %q", v.Bytes(), "efghij")
	}
}

func TestBufferCircularWrite(t *testing.T) {
	b := New(4)
	for i := 0; i < 100; i++ {
		if err := b.Append([]byte{byte(i), byte(i + 1)}); err != nil {
			t.Fatalf("iteration %d: append: %v", i, err)
		}
		v, err := b.Read(2)
		if err != nil {
			t.Fatalf("iteration %d: read: %v", i, err)
		}
		if v.Bytes()[0] != byte(i) || v.Bytes()[1] != byte(i+1) {
			t.Fatalf("iteration %d: read = %v", i, v.Bytes())
		}
	}
}

func TestBufferAppendAllOrNothing(t *testing.T) {
	b := New(4)
	if err := b.Append([]byte("abcde")); err != ErrNoRoom {
		t.Fatalf("append oversize = %v, want ErrNoRoom", err)
	}
	if b.ValidLength() != 0 {
		t.Fatalf("failed append must not partially write, got valid length %d", b.ValidLength())
	}
}

func TestBufferReadZeroLengthRejected(t *testing.T) {
	b := New(4)
	_ = b.Append([]byte("ab"))
	if _, err := b.Read(0); err != ErrInvalidLength {
		t.Fatalf("read(0) = %v, want ErrInvalidLength", err)
	}
	if _, err := b.Peek(0); err != ErrInvalidLength {
		t.Fatalf("peek(0) = %v, want ErrInvalidLength", err)
	}
}

func TestBufferReadPastValidLength(t *testing.T) {
	b := New(4)
	_ = b.Append([]byte("ab"))
	if _, err := b.Read(3); err != ErrInvalidLength {
		t.Fatalf("read past valid length = %v, want ErrInvalidLength", err)
	}
}

type scriptedReader struct {
	steps []struct {
		b   []byte
		err error
	}
	i int
}

func (r *scriptedReader) Read(p []byte) (int, error) {
	if r.i >= len(r.steps) {
		return 0, io.EOF
	}
	s := r.steps[r.i]
	r.i++
	n := copy(p, s.b)
	return n, s.err
}

func TestBufferAppendFromAvailableSpace(t *testing.T) {
	b := New(8)
	src := bytes.NewReader([]byte("abcdefgh"))
	n, err := b.AppendFrom(src)
	if err != nil {
		t.Fatalf("append from: %v", err)
	}
	if n != 8 {
		t.Fatalf("n = %d, want 8", n)
	}
	if !b.IsFull() {
		t.Fatal("buffer should be full")
	}
}

func TestBufferAppendFromWouldBlock(t *testing.T) {
	b := New(8)
	src := &scriptedReader{steps: []struct {
		b   []byte
		err error
	}{
		{b: []byte("ab"), err: nil},
		{b: nil, err: iox.ErrWouldBlock},
	}}
	n, err := b.AppendFrom(src)
	if err != iox.ErrWouldBlock {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	if n != 2 {
		t.Fatalf("n = %d, want 2", n)
	}
}

func TestBufferAppendFromAlreadyFull(t *testing.T) {
	b := New(4)
	_ = b.Append([]byte("abcd"))
	if _, err := b.AppendFrom(bytes.NewReader([]byte("e"))); err != ErrNoRoom {
		t.Fatalf("err = %v, want ErrNoRoom", err)
	}
}

type wouldBlockOnSecondWrite struct {
	buf   []byte
	calls int
}

func (w *wouldBlockOnSecondWrite) Write(p []byte) (int, error) {
	w.calls++
	if w.calls == 1 {
		w.buf = append(w.buf, p...)
		return len(p), nil
	}
	return 0, iox.ErrWouldBlock
}

func TestBufferDrainIntoSecondHalfWouldBlockIsPartialSuccess(t *testing.T) {
	b := New(8)
	_ = b.Append([]byte("abcdef"))
	_, _ = b.Read(4)
	_ = b.Append([]byte("ghij"))

	w := &wouldBlockOnSecondWrite{}
	n, err := b.DrainInto(w)
	if err != nil {
		t.Fatalf("drain should swallow WouldBlock on the wraparound half: %v", err)
	}
	if string(w.buf) != "efgh" {
		t.Fatalf("first region drained = %q, want %q", w.buf, "efgh")
	}
	if n != 4 {
		t.Fatalf("n = %d, want 4", n)
	}
}

func TestBufferDrainIntoFirstHalfWouldBlockPropagates(t *testing.T) {
	b := New(8)
	_ = b.Append([]byte("abcd"))
	w := &wouldBlockWriter{limit: 0}
	n, err := b.DrainInto(w)
	if err != iox.ErrWouldBlock {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
	if n != 0 {
		t.Fatalf("n = %d, want 0", n)
	}
}

// wouldBlockWriter returns iox.ErrWouldBlock once its byte budget is spent.
type wouldBlockWriter struct {
	limit int
	sent  []byte
}

func (w *wouldBlockWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return 0, iox.ErrWouldBlock
	}
	n := len(p)
	if n > w.limit {
		n = w.limit
	}
	w.sent = append(w.sent, p[:n]...)
	w.limit -= n
	if n < len(p) {
		return n, iox.ErrWouldBlock
	}
	return n, nil
}
