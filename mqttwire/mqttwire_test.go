// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package mqttwire

import (
	"bytes"
	"testing"
)

func TestVarIntRoundTrip(t *testing.T) {
	cases := []int{0, 1, 127, 128, 16383, 16384, 2097151, 2097152}
	for _, v := range cases {
		var buf []byte
		buf = EncodeVarInt(buf, v)
		got, n, ok := DecodeVarInt(buf)
		if !ok {
			t.Fatalf("decode(%d): not ok", v)
		}
		if got != v || n != len(buf) {
			t.Fatalf("decode(%d) = (%d, %d), want (%d, %d)", v, got, n, v, len(buf))
		}
	}
}

func TestDecodeFixedHeaderIncomplete(t *testing.T) {
	if _, ok := DecodeFixedHeader([]byte{0x30}); ok {
		t.Fatal("1-byte buffer should be incomplete")
	}
	if _, ok := DecodeFixedHeader([]byte{0x30, 0x80}); ok {
		t.Fatal("varint continuation bit with no following byte should be incomplete")
	}
}

func TestConnectEncodeDecodeConnAck(t *testing.T) {
	p := ConnectPacket{
		ClientID:     "dev1",
		Username:     "host/dev1/api-version=2018-06-30",
		HasPassword:  true,
		Password:     []byte("token"),
		CleanSession: true,
		KeepAlive:    60,
	}
	enc := p.Encode()
	fh, ok := DecodeFixedHeader(enc)
	if !ok {
		t.Fatal("expected complete fixed header")
	}
	if fh.Type != TypeConnect {
		t.Fatalf("type = %v, want TypeConnect", fh.Type)
	}
	body := enc[fh.HeaderLen : fh.HeaderLen+fh.RemainingLen]
	if !bytes.Contains(body, []byte(p.ClientID)) {
		t.Fatal("encoded body missing client id")
	}

	ack := ConnAckPacket{ReturnCode: ConnectAccepted}
	ackBody := []byte{0x00, byte(ack.ReturnCode)}
	decoded, err := DecodeConnAck(ackBody)
	if err != nil {
		t.Fatalf("decode connack: %v", err)
	}
	if decoded.ReturnCode != ConnectAccepted {
		t.Fatalf("return code = %v, want accepted", decoded.ReturnCode)
	}
}

func TestPublishQoS1RoundTrip(t *testing.T) {
	p := PublishPacket{Topic: "devices/dev1/messages/events/a=b%20c", QoS: QoS1, PacketID: 7, Payload: []byte(`{"hello":"world"}`)}
	enc := p.Encode()
	fh, ok := DecodeFixedHeader(enc)
	if !ok {
		t.Fatal("expected complete fixed header")
	}
	flags := enc[0] & 0x0f
	body := enc[fh.HeaderLen : fh.HeaderLen+fh.RemainingLen]
	got, err := DecodePublish(flags, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Topic != p.Topic || got.QoS != QoS1 || got.PacketID != 7 || !bytes.Equal(got.Payload, p.Payload) {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
}

func TestPublishQoS0HasNoPacketID(t *testing.T) {
	p := PublishPacket{Topic: "t", QoS: QoS0, Payload: []byte("x")}
	enc := p.Encode()
	fh, _ := DecodeFixedHeader(enc)
	flags := enc[0] & 0x0f
	body := enc[fh.HeaderLen : fh.HeaderLen+fh.RemainingLen]
	got, err := DecodePublish(flags, body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PacketID != 0 {
		t.Fatalf("packet id = %d, want 0 for QoS0", got.PacketID)
	}
}

func TestSubAckAccepted(t *testing.T) {
	ok := SubAckPacket{PacketID: 1, ReturnCodes: []byte{0x01}}
	if !ok.Accepted() {
		t.Fatal("return code 0x01 should be accepted")
	}
	fail := SubAckPacket{PacketID: 1, ReturnCodes: []byte{SubAckFailureCode}}
	if fail.Accepted() {
		t.Fatal("return code 0x80 should be rejected")
	}
}

func TestPubAckRoundTrip(t *testing.T) {
	p := PubAckPacket{PacketID: 42}
	enc := p.Encode()
	fh, _ := DecodeFixedHeader(enc)
	body := enc[fh.HeaderLen : fh.HeaderLen+fh.RemainingLen]
	got, err := DecodePubAck(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PacketID != 42 {
		t.Fatalf("packet id = %d, want 42", got.PacketID)
	}
}
