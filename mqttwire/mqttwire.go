// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package mqttwire implements the subset of MQTT 3.1.1 control packets this
// client needs: CONNECT, CONNACK, PUBLISH, PUBACK, SUBSCRIBE, SUBACK. It
// has no knowledge of IoT Hub topic conventions; that translation lives in
// package iot.
package mqttwire

import (
	"encoding/binary"
	"errors"
)

// PacketType identifies the MQTT control packet type carried in the top
// nibble of the fixed header's first byte.
type PacketType byte

const (
	TypeConnect    PacketType = 1
	TypeConnAck    PacketType = 2
	TypePublish    PacketType = 3
	TypePubAck     PacketType = 4
	TypeSubscribe  PacketType = 8
	TypeSubAck     PacketType = 9
	TypeDisconnect PacketType = 14
)

// QoS is the MQTT quality-of-service level. QoS2 is out of scope.
type QoS byte

const (
	QoS0 QoS = 0
	QoS1 QoS = 1
)

// ErrMalformed means the decoded bytes are not a valid MQTT packet of any
// recognized shape.
var ErrMalformed = errors.New("mqttwire: malformed packet")

// ErrUnsupportedType means the packet's type nibble is not one this
// package decodes.
var ErrUnsupportedType = errors.New("mqttwire: unsupported packet type")

// ConnectReturnCode is the CONNACK return code, §3.2.2.3 of MQTT 3.1.1.
type ConnectReturnCode byte

const (
	ConnectAccepted                ConnectReturnCode = 0
	ConnectUnacceptableProtocol    ConnectReturnCode = 1
	ConnectIdentifierRejected      ConnectReturnCode = 2
	ConnectServerUnavailable       ConnectReturnCode = 3
	ConnectBadUsernameOrPassword   ConnectReturnCode = 4
	ConnectNotAuthorized           ConnectReturnCode = 5
)

// DecodeVarInt decodes an MQTT "remaining length" variable-length integer
// from the front of buf. It returns the decoded value, the number of bytes
// consumed, and false if buf does not yet contain a complete varint
// (never more than 4 bytes per the spec).
func DecodeVarInt(buf []byte) (value int, n int, ok bool) {
	multiplier := 1
	for i := 0; i < 4 && i < len(buf); i++ {
		b := buf[i]
		value += int(b&0x7f) * multiplier
		n++
		if b&0x80 == 0 {
			return value, n, true
		}
		multiplier *= 128
	}
	return 0, 0, false
}

// EncodeVarInt appends the MQTT variable-length-integer encoding of v to
// dst and returns the result. v must fit in 28 bits (MQTT's maximum
// remaining-length range); the framer enforces the tighter ring-capacity
// bound independently.
func EncodeVarInt(dst []byte, v int) []byte {
	for {
		b := byte(v % 128)
		v /= 128
		if v > 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			return dst
		}
	}
}

// FixedHeader is the 1-byte type/flags field plus the decoded remaining
// length of an MQTT control packet.
type FixedHeader struct {
	Type           PacketType
	Flags          byte
	RemainingLen   int
	HeaderLen      int // bytes consumed by type/flags byte + varint
}

// DecodeFixedHeader parses the fixed header from the front of buf. It
// returns ok=false (no error) when buf does not yet contain a complete
// fixed header -- the caller should wait for more bytes.
func DecodeFixedHeader(buf []byte) (FixedHeader, bool) {
	if len(buf) < 2 {
		return FixedHeader{}, false
	}
	rl, n, ok := DecodeVarInt(buf[1:])
	if !ok {
		return FixedHeader{}, false
	}
	return FixedHeader{
		Type:         PacketType(buf[0] >> 4),
		Flags:        buf[0] & 0x0f,
		RemainingLen: rl,
		HeaderLen:    1 + n,
	}, true
}

func encodeFixedHeader(typ PacketType, flags byte, remainingLen int) []byte {
	out := make([]byte, 0, 5+remainingLen)
	out = append(out, byte(typ)<<4|flags)
	out = EncodeVarInt(out, remainingLen)
	return out
}

func putString(dst []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, s...)
}

func getString(buf []byte) (string, int, bool) {
	if len(buf) < 2 {
		return "", 0, false
	}
	l := int(binary.BigEndian.Uint16(buf[:2]))
	if len(buf) < 2+l {
		return "", 0, false
	}
	return string(buf[2 : 2+l]), 2 + l, true
}

// ConnectPacket is the MQTT CONNECT control packet.
type ConnectPacket struct {
	ClientID     string
	Username     string
	HasPassword  bool
	Password     []byte
	CleanSession bool
	KeepAlive    uint16
}

// Encode serializes the CONNECT packet, including its fixed header.
func (p ConnectPacket) Encode() []byte {
	var vh []byte
	vh = putString(vh, "MQTT")
	vh = append(vh, 4) // protocol level 4 == MQTT 3.1.1
	var flags byte
	if p.CleanSession {
		flags |= 0x02
	}
	if p.Username != "" {
		flags |= 0x80
	}
	if p.HasPassword {
		flags |= 0x40
	}
	vh = append(vh, flags)
	var ka [2]byte
	binary.BigEndian.PutUint16(ka[:], p.KeepAlive)
	vh = append(vh, ka[:]...)

	vh = putString(vh, p.ClientID)
	if p.Username != "" {
		vh = putString(vh, p.Username)
	}
	if p.HasPassword {
		var pl [2]byte
		binary.BigEndian.PutUint16(pl[:], uint16(len(p.Password)))
		vh = append(vh, pl[:]...)
		vh = append(vh, p.Password...)
	}

	out := encodeFixedHeader(TypeConnect, 0, len(vh))
	return append(out, vh...)
}

// ConnAckPacket is the MQTT CONNACK control packet.
type ConnAckPacket struct {
	SessionPresent bool
	ReturnCode     ConnectReturnCode
}

// Encode serializes the CONNACK packet, including its fixed header.
func (p ConnAckPacket) Encode() []byte {
	var ackFlags byte
	if p.SessionPresent {
		ackFlags = 0x01
	}
	out := encodeFixedHeader(TypeConnAck, 0, 2)
	return append(out, ackFlags, byte(p.ReturnCode))
}

// DecodeConnAck decodes the variable header of a CONNACK packet whose
// fixed header has already been stripped (body is exactly 2 bytes).
func DecodeConnAck(body []byte) (ConnAckPacket, error) {
	if len(body) != 2 {
		return ConnAckPacket{}, ErrMalformed
	}
	return ConnAckPacket{
		SessionPresent: body[0]&0x01 != 0,
		ReturnCode:     ConnectReturnCode(body[1]),
	}, nil
}

// PublishPacket is the MQTT PUBLISH control packet.
type PublishPacket struct {
	Topic    string
	QoS      QoS
	PacketID uint16 // only meaningful when QoS == QoS1
	Payload  []byte
}

// Encode serializes the PUBLISH packet, including its fixed header.
func (p PublishPacket) Encode() []byte {
	var vh []byte
	vh = putString(vh, p.Topic)
	if p.QoS == QoS1 {
		var pid [2]byte
		binary.BigEndian.PutUint16(pid[:], p.PacketID)
		vh = append(vh, pid[:]...)
	}
	vh = append(vh, p.Payload...)

	flags := byte(p.QoS) << 1
	out := encodeFixedHeader(TypePublish, flags, len(vh))
	return append(out, vh...)
}

// DecodePublish decodes the variable header and payload of a PUBLISH
// packet given its parsed flags and body (fixed header already stripped).
func DecodePublish(flags byte, body []byte) (PublishPacket, error) {
	topic, n, ok := getString(body)
	if !ok {
		return PublishPacket{}, ErrMalformed
	}
	rest := body[n:]
	qos := QoS((flags >> 1) & 0x03)
	var packetID uint16
	if qos == QoS1 {
		if len(rest) < 2 {
			return PublishPacket{}, ErrMalformed
		}
		packetID = binary.BigEndian.Uint16(rest[:2])
		rest = rest[2:]
	}
	return PublishPacket{Topic: topic, QoS: qos, PacketID: packetID, Payload: rest}, nil
}

// PubAckPacket acknowledges a QoS-1 PUBLISH.
type PubAckPacket struct {
	PacketID uint16
}

// Encode serializes the PUBACK packet.
func (p PubAckPacket) Encode() []byte {
	var vh [2]byte
	binary.BigEndian.PutUint16(vh[:], p.PacketID)
	out := encodeFixedHeader(TypePubAck, 0, 2)
	return append(out, vh[:]...)
}

// DecodePubAck decodes a PUBACK body (fixed header already stripped).
func DecodePubAck(body []byte) (PubAckPacket, error) {
	if len(body) != 2 {
		return PubAckPacket{}, ErrMalformed
	}
	return PubAckPacket{PacketID: binary.BigEndian.Uint16(body)}, nil
}

// SubscribePacket requests a single-filter subscription; this codec issues
// one filter per SUBSCRIBE packet, matching the IoT Hub subscription model.
type SubscribePacket struct {
	PacketID uint16
	Filter   string
	QoS      QoS
}

// Encode serializes the SUBSCRIBE packet.
func (p SubscribePacket) Encode() []byte {
	var vh []byte
	var pid [2]byte
	binary.BigEndian.PutUint16(pid[:], p.PacketID)
	vh = append(vh, pid[:]...)
	vh = putString(vh, p.Filter)
	vh = append(vh, byte(p.QoS))

	out := encodeFixedHeader(TypeSubscribe, 0x02, len(vh))
	return append(out, vh...)
}

// SubAckPacket is the broker's response to a SUBSCRIBE. This codec issues
// single-filter subscriptions, so only the first return code matters.
type SubAckPacket struct {
	PacketID    uint16
	ReturnCodes []byte
}

// Encode serializes the SUBACK packet.
func (p SubAckPacket) Encode() []byte {
	var pid [2]byte
	binary.BigEndian.PutUint16(pid[:], p.PacketID)
	out := encodeFixedHeader(TypeSubAck, 0, 2+len(p.ReturnCodes))
	out = append(out, pid[:]...)
	return append(out, p.ReturnCodes...)
}

// DecodeSubAck decodes a SUBACK body (fixed header already stripped).
func DecodeSubAck(body []byte) (SubAckPacket, error) {
	if len(body) < 3 {
		return SubAckPacket{}, ErrMalformed
	}
	return SubAckPacket{
		PacketID:    binary.BigEndian.Uint16(body[:2]),
		ReturnCodes: body[2:],
	}, nil
}

// SubAckFailureCode marks a subscription rejection in the return-code list.
const SubAckFailureCode = 0x80

// Accepted reports whether the first (and, for this codec, only) requested
// filter was granted.
func (s SubAckPacket) Accepted() bool {
	return len(s.ReturnCodes) > 0 && s.ReturnCodes[0] != SubAckFailureCode
}
