// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package framing

import (
	"bytes"
	"testing"

	"code.hybscloud.com/iox"
	"code.hybscloud.com/raiot/mqttwire"
)

func encodedPublish(payloadLen int) []byte {
	return mqttwire.PublishPacket{
		Topic:   "mytopic",
		QoS:     mqttwire.QoS0,
		Payload: bytes.Repeat([]byte{5}, payloadLen),
	}.Encode()
}

func TestDeframerPacketTooLarge(t *testing.T) {
	d := NewDeframer(20)
	encoded := encodedPublish(1024)
	if _, err := d.Fill(bytes.NewReader(encoded)); err != nil {
		t.Fatalf("fill: %v", err)
	}
	_, _, _, ok, err := d.Packet()
	if ok {
		t.Fatal("expected no packet, buffer is too small to ever hold this one")
	}
	if err != ErrTooLarge {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func partialPacketTest(t *testing.T, firstWriteSize int) {
	t.Helper()
	d := NewDeframer(1024)
	encoded := encodedPublish(900)

	if _, err := d.Fill(bytes.NewReader(encoded[:firstWriteSize])); err != nil {
		t.Fatalf("fill first part: %v", err)
	}
	_, _, _, ok, err := d.Packet()
	if err != nil {
		t.Fatalf("packet (partial): %v", err)
	}
	if ok {
		t.Fatal("packet should not be available yet")
	}

	if _, err := d.Fill(bytes.NewReader(encoded[firstWriteSize:])); err != nil {
		t.Fatalf("fill remainder: %v", err)
	}
	typ, _, body, ok, err := d.Packet()
	if err != nil {
		t.Fatalf("packet (complete): %v", err)
	}
	if !ok {
		t.Fatal("packet should be available now")
	}
	if typ != mqttwire.TypePublish {
		t.Fatalf("type = %v, want TypePublish", typ)
	}
	if len(body) == 0 {
		t.Fatal("expected non-empty decoded body")
	}
}

func TestDeframerPartialPacket(t *testing.T)             { partialPacketTest(t, 10) }
func TestDeframerPartialFixedHeader(t *testing.T)        { partialPacketTest(t, 2) }
func TestDeframerPartialFixedHeaderSingleByte(t *testing.T) { partialPacketTest(t, 1) }

func TestDeframerOneByteAtATime(t *testing.T) {
	d := NewDeframer(4096)
	encoded := encodedPublish(50)

	var got int
	for i, b := range encoded {
		if _, err := d.Fill(bytes.NewReader([]byte{b})); err != nil {
			t.Fatalf("byte %d: fill: %v", i, err)
		}
		if _, _, _, ok, err := d.Packet(); err != nil {
			t.Fatalf("byte %d: packet: %v", i, err)
		} else if ok {
			got++
		}
	}
	if got != 1 {
		t.Fatalf("decoded %d packets feeding one byte at a time, want 1", got)
	}
}

func TestFramerWritePacketTooLargeForRing(t *testing.T) {
	f := NewFramer(10)
	if err := f.WritePacket(encodedPublish(1000)); err != ErrTooLarge {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestFramerWritePacketNoRoomRightNow(t *testing.T) {
	f := NewFramer(12)
	if err := f.WritePacket(encodedPublish(0)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := f.WritePacket(mqttwire.PubAckPacket{PacketID: 1}.Encode()); err == nil {
		t.Fatal("expected ErrNoRoom when ring is nearly full")
	}
}

func TestFramerDrainRoundTrip(t *testing.T) {
	f := NewFramer(128)
	pkt := mqttwire.PubAckPacket{PacketID: 9}.Encode()
	if err := f.WritePacket(pkt); err != nil {
		t.Fatalf("write packet: %v", err)
	}
	var out bytes.Buffer
	n, err := f.Drain(&out)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != len(pkt) {
		t.Fatalf("n = %d, want %d", n, len(pkt))
	}
	if !bytes.Equal(out.Bytes(), pkt) {
		t.Fatal("drained bytes do not match encoded packet")
	}
	if !f.IsEmpty() {
		t.Fatal("framer should be empty after full drain")
	}
}

type wouldBlockWriter struct{ limit int }

func (w *wouldBlockWriter) Write(p []byte) (int, error) {
	if w.limit <= 0 {
		return 0, iox.ErrWouldBlock
	}
	n := len(p)
	if n > w.limit {
		n = w.limit
	}
	w.limit -= n
	if n < len(p) {
		return n, iox.ErrWouldBlock
	}
	return n, nil
}

func TestFramerDrainWouldBlockPropagates(t *testing.T) {
	f := NewFramer(128)
	_ = f.WritePacket(mqttwire.PubAckPacket{PacketID: 1}.Encode())
	w := &wouldBlockWriter{limit: 0}
	_, err := f.Drain(w)
	if err != iox.ErrWouldBlock {
		t.Fatalf("err = %v, want ErrWouldBlock", err)
	}
}
