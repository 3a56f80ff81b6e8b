// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package iot

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"code.hybscloud.com/raiot/mqttwire"
	"code.hybscloud.com/raiot/packetid"
)

// Codec error taxonomy. These are sentinels so callers can compare with
// errors.Is; Encode/Decode functions wrap them with context via %w.
var (
	ErrUnexpectedPacketType = errors.New("iot: unexpected packet type")
	ErrInvalidPacket        = errors.New("iot: invalid packet")
	ErrInvalidBody          = errors.New("iot: invalid message body")
	ErrInvalidTopic         = errors.New("iot: invalid topic")
	ErrMissingRid           = errors.New("iot: missing $rid")
	ErrMissingDeviceID      = errors.New("iot: missing device id")
	ErrMissingMethodName    = errors.New("iot: missing method name")
	ErrMissingVersion       = errors.New("iot: missing $version")
	ErrMissingStatusCode    = errors.New("iot: missing status code")
	ErrInvalidVersion       = errors.New("iot: invalid version identifier")
)

const apiVersion = "2018-06-30"

const (
	twinResPrefix      = "$iothub/twin/res/"
	desiredPropsPrefix = "$iothub/twin/PATCH/properties/desired/"
	dmiPrefix          = "$iothub/methods/POST/"
	c2dPathPrefix      = "devices/"
)

// --- encoding ---

// EncodeConnect builds the CONNECT packet for msg.
func EncodeConnect(msg ConnectMsg) mqttwire.ConnectPacket {
	id := msg.ClientID
	var username string
	if id.IsModule() {
		username = fmt.Sprintf("%s/%s/%s/api-version=%s", msg.Hostname, id.DeviceID, id.ModuleID, apiVersion)
	} else {
		username = fmt.Sprintf("%s/%s/api-version=%s", msg.Hostname, id.DeviceID, apiVersion)
	}

	p := mqttwire.ConnectPacket{
		ClientID:     id.MqttClientID(),
		Username:     username,
		CleanSession: msg.SessionMode == SessionClean,
		KeepAlive:    60,
	}
	if msg.Credential != "" {
		p.HasPassword = true
		p.Password = []byte(msg.Credential)
	}
	return p
}

// EncodeTelemetry builds the device-to-cloud PUBLISH for msg.
func EncodeTelemetry(msg TelemetryMsg) mqttwire.PublishPacket {
	id := msg.ClientID
	headers := encodeHeaders(msg.Headers)

	var topic string
	if id.IsModule() {
		topic = fmt.Sprintf("devices/%s/modules/%s/messages/events/%s", percentEncode(id.DeviceID), percentEncode(id.ModuleID), headers)
	} else {
		topic = fmt.Sprintf("devices/%s/messages/events/%s", percentEncode(id.DeviceID), headers)
	}

	return mqttwire.PublishPacket{Topic: topic, Payload: msg.Body, QoS: qosFor(msg.PacketID), PacketID: packetIDOf(msg.PacketID)}
}

// EncodeReadTwin builds the twin GET PUBLISH for req.
func EncodeReadTwin(req ReadTwinReq) mqttwire.PublishPacket {
	topic := fmt.Sprintf("$iothub/twin/GET/?$rid=%s", percentEncode(req.RequestID))
	return mqttwire.PublishPacket{Topic: topic, QoS: qosFor(req.PacketID), PacketID: packetIDOf(req.PacketID)}
}

// EncodeUpdateReportedProps builds the twin PATCH PUBLISH for req.
func EncodeUpdateReportedProps(req UpdateReportedPropsReq) mqttwire.PublishPacket {
	topic := fmt.Sprintf("$iothub/twin/PATCH/properties/reported/?$rid=%s", percentEncode(req.RequestID))
	return mqttwire.PublishPacket{Topic: topic, Payload: req.Reported, QoS: qosFor(req.PacketID), PacketID: packetIDOf(req.PacketID)}
}

// EncodeDirectMethodResponse builds the direct-method-response PUBLISH for res.
func EncodeDirectMethodResponse(res DirectMethodRes) mqttwire.PublishPacket {
	topic := fmt.Sprintf("$iothub/methods/res/%d/?$rid=%s", res.Status, percentEncode(res.RequestID))
	return mqttwire.PublishPacket{Topic: topic, Payload: res.Payload, QoS: qosFor(res.PacketID), PacketID: packetIDOf(res.PacketID)}
}

// EncodeAck builds the PUBACK acknowledging msg.PacketID.
func EncodeAck(msg AckMsg) mqttwire.PubAckPacket {
	return mqttwire.PubAckPacket{PacketID: uint16(msg.PacketID)}
}

// EncodeC2DSubscription builds the SUBSCRIBE for a cloud-to-device filter.
func EncodeC2DSubscription(sub C2DSub) mqttwire.SubscribePacket {
	filter := fmt.Sprintf("devices/%s/messages/devicebound/#", percentEncode(sub.DeviceID))
	return mqttwire.SubscribePacket{PacketID: uint16(sub.PacketID), Filter: filter, QoS: guaranteesToQoS(sub.Mode)}
}

// EncodeDirectMethodsSubscription builds the SUBSCRIBE for direct methods.
func EncodeDirectMethodsSubscription(sub DirectMethodsSub) mqttwire.SubscribePacket {
	return mqttwire.SubscribePacket{PacketID: uint16(sub.PacketID), Filter: "$iothub/methods/POST/#", QoS: guaranteesToQoS(sub.Mode)}
}

// EncodeTwinReadSubscription builds the SUBSCRIBE for twin read responses.
func EncodeTwinReadSubscription(sub TwinReadSub) mqttwire.SubscribePacket {
	return mqttwire.SubscribePacket{PacketID: uint16(sub.PacketID), Filter: "$iothub/twin/res/#", QoS: guaranteesToQoS(sub.Mode)}
}

// EncodeTwinUpdatesSubscription builds the SUBSCRIBE for desired-property updates.
func EncodeTwinUpdatesSubscription(sub TwinUpdatesSub) mqttwire.SubscribePacket {
	return mqttwire.SubscribePacket{PacketID: uint16(sub.PacketID), Filter: "$iothub/twin/PATCH/properties/desired/#", QoS: guaranteesToQoS(sub.Mode)}
}

func guaranteesToQoS(g DeliveryGuarantees) mqttwire.QoS {
	if g == AtLeastOnce {
		return mqttwire.QoS1
	}
	return mqttwire.QoS0
}

func qosFor(pid *packetid.ID) mqttwire.QoS {
	if pid != nil {
		return mqttwire.QoS1
	}
	return mqttwire.QoS0
}

func packetIDOf(pid *packetid.ID) uint16 {
	if pid == nil {
		return 0
	}
	return uint16(*pid)
}

// --- decoding ---

// DecodePacket decodes a raw MQTT packet (as framing.Deframer.Packet yields
// it) into the corresponding FromHub message.
func DecodePacket(typ mqttwire.PacketType, flags byte, body []byte) (FromHub, error) {
	switch typ {
	case mqttwire.TypeConnAck:
		ack, err := mqttwire.DecodeConnAck(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPacket, err)
		}
		return ConnectResponse{Res: decodeConnAck(ack)}, nil

	case mqttwire.TypePubAck:
		ack, err := mqttwire.DecodePubAck(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPacket, err)
		}
		return PublicationSucceeded{PacketID: packetid.ID(ack.PacketID)}, nil

	case mqttwire.TypeSubAck:
		ack, err := mqttwire.DecodeSubAck(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPacket, err)
		}
		return SubscriptionResponse{Res: SubRes{PacketID: packetid.ID(ack.PacketID), Accepted: ack.Accepted()}}, nil

	case mqttwire.TypePublish:
		pub, err := mqttwire.DecodePublish(flags, body)
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrInvalidPacket, err)
		}
		return decodePublishMessage(pub)

	default:
		return nil, ErrUnexpectedPacketType
	}
}

func decodeConnAck(ack mqttwire.ConnAckPacket) ConnectRes {
	switch ack.ReturnCode {
	case mqttwire.ConnectAccepted:
		return ConnectRes{Kind: ConnectAccepted}
	case mqttwire.ConnectBadUsernameOrPassword, mqttwire.ConnectIdentifierRejected:
		return ConnectRes{Kind: ConnectAuthenticationFailed}
	case mqttwire.ConnectNotAuthorized:
		return ConnectRes{Kind: ConnectUnauthorized}
	case mqttwire.ConnectServerUnavailable:
		return ConnectRes{Kind: ConnectServiceUnavailable}
	case mqttwire.ConnectUnacceptableProtocol:
		return ConnectRes{Kind: ConnectUnacceptableProtocolVersion}
	default:
		return ConnectRes{Kind: ConnectReservedErrorCode, RawCode: byte(ack.ReturnCode)}
	}
}

func decodePublishMessage(pub mqttwire.PublishPacket) (FromHub, error) {
	var pid *packetid.ID
	if pub.QoS == mqttwire.QoS1 {
		v := packetid.ID(pub.PacketID)
		pid = &v
	}

	switch {
	case strings.HasPrefix(pub.Topic, twinResPrefix):
		res, err := decodeTwinResponse(pub.Topic, pub.Payload)
		if err != nil {
			return nil, err
		}
		return TwinResponse{Res: res}, nil

	case strings.HasPrefix(pub.Topic, desiredPropsPrefix):
		upd, err := decodeDesiredPropsUpdate(pub.Topic, pub.Payload)
		if err != nil {
			return nil, err
		}
		return DesiredPropsUpdate{Update: upd}, nil

	case strings.HasPrefix(pub.Topic, dmiPrefix):
		req, err := decodeDirectMethodInvocation(pub.Topic, pub.Payload)
		if err != nil {
			return nil, err
		}
		return DirectMethodInvocation{Req: req}, nil

	case strings.HasPrefix(pub.Topic, c2dPathPrefix):
		msg, err := decodeC2D(pub.Topic, pid, pub.Payload)
		if err != nil {
			return nil, err
		}
		return CloudToDevice{Msg: msg}, nil

	default:
		return UnknownMessage{Topic: pub.Topic}, nil
	}
}

func decodeTwinResponse(topic string, payload []byte) (ReadTwinRes, error) {
	path, query := splitTopicQuery(topic)
	rest := strings.TrimPrefix(path, twinResPrefix)
	if rest == path {
		return ReadTwinRes{}, ErrInvalidTopic
	}

	end := strings.IndexByte(rest, '/')
	if end < 0 {
		end = len(rest)
	}
	statusStr := rest[:end]
	if statusStr == "" {
		return ReadTwinRes{}, ErrMissingStatusCode
	}
	rawStatus, err := strconv.Atoi(statusStr)
	if err != nil {
		return ReadTwinRes{}, fmt.Errorf("%w: status %q", ErrInvalidTopic, statusStr)
	}

	params, err := parseQuery(query)
	if err != nil {
		return ReadTwinRes{}, err
	}
	rid, ok := params["$rid"]
	if !ok {
		return ReadTwinRes{}, ErrMissingRid
	}

	res := ReadTwinRes{RequestID: rid, RawStatus: rawStatus, StatusCode: classifyTwinStatus(rawStatus)}

	if v, ok := params["$version"]; ok {
		ver, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return ReadTwinRes{}, ErrInvalidVersion
		}
		res.Version = &ver
	}

	if rawStatus == 200 && len(payload) > 0 {
		res.Body = payload
	}
	return res, nil
}

func classifyTwinStatus(code int) TwinStatus {
	switch {
	case code == 200:
		return TwinOK
	case code == 204:
		return TwinNoContent
	case code == 429:
		return TwinTooManyRequests
	case code >= 500 && code <= 599:
		return TwinServerError
	default:
		return TwinUnknownStatus
	}
}

func decodeDirectMethodInvocation(topic string, payload []byte) (DirectMethodReq, error) {
	path, query := splitTopicQuery(topic)
	rest := strings.TrimPrefix(path, dmiPrefix)
	if rest == path {
		return DirectMethodReq{}, ErrInvalidTopic
	}
	rest = strings.TrimSuffix(rest, "/")

	methodEnc := rest
	if end := strings.IndexByte(rest, '/'); end >= 0 {
		methodEnc = rest[:end]
	}
	if methodEnc == "" {
		return DirectMethodReq{}, ErrMissingMethodName
	}
	method, err := percentDecode(methodEnc)
	if err != nil {
		return DirectMethodReq{}, fmt.Errorf("%w: method %s", ErrInvalidTopic, err)
	}

	params, err := parseQuery(query)
	if err != nil {
		return DirectMethodReq{}, err
	}
	rid, ok := params["$rid"]
	if !ok {
		return DirectMethodReq{}, ErrMissingRid
	}

	return DirectMethodReq{RequestID: rid, MethodName: method, Body: payload}, nil
}

func decodeDesiredPropsUpdate(topic string, payload []byte) (DesiredPropsUpdated, error) {
	_, query := splitTopicQuery(topic)
	params, err := parseQuery(query)
	if err != nil {
		return DesiredPropsUpdated{}, err
	}
	v, ok := params["$version"]
	if !ok {
		return DesiredPropsUpdated{}, ErrMissingVersion
	}
	ver, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return DesiredPropsUpdated{}, ErrInvalidVersion
	}
	if !json.Valid(payload) {
		return DesiredPropsUpdated{}, ErrInvalidBody
	}
	return DesiredPropsUpdated{Version: ver, Body: payload}, nil
}

func decodeC2D(topic string, pid *packetid.ID, payload []byte) (C2DMsg, error) {
	path, _ := splitTopicQuery(topic)
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[1] == "" {
		return C2DMsg{}, ErrMissingDeviceID
	}

	var props map[string]string
	if len(segments) > 4 && segments[4] != "" {
		decoded, err := parseQuery(segments[4])
		if err != nil {
			return C2DMsg{}, err
		}
		props = decoded
	}

	return C2DMsg{PacketID: pid, Props: props, Body: payload}, nil
}

// --- percent-encoding helpers ---

func splitTopicQuery(topic string) (path string, query string) {
	if i := strings.IndexByte(topic, '?'); i >= 0 {
		return topic[:i], topic[i+1:]
	}
	return topic, ""
}

func isAlphaNumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// percentEncode encodes every non-alphanumeric byte as %XX, matching the
// IoT Hub topic/URI convention used throughout §4.C.
func percentEncode(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isAlphaNumeric(c) {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

func percentDecode(s string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '%' {
			if i+2 >= len(s) {
				return "", fmt.Errorf("truncated percent-encoding in %q", s)
			}
			v, err := strconv.ParseUint(s[i+1:i+3], 16, 8)
			if err != nil {
				return "", fmt.Errorf("invalid percent-encoding in %q: %w", s, err)
			}
			b.WriteByte(byte(v))
			i += 2
		} else {
			b.WriteByte(c)
		}
	}
	return b.String(), nil
}

func encodeHeaders(headers map[string]string) string {
	if len(headers) == 0 {
		return ""
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, percentEncode(k)+"="+percentEncode(headers[k]))
	}
	return strings.Join(parts, "&")
}

func parseQuery(qs string) (map[string]string, error) {
	out := make(map[string]string)
	if qs == "" {
		return out, nil
	}
	for _, pair := range strings.Split(qs, "&") {
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		k, err := percentDecode(kv[0])
		if err != nil {
			return nil, err
		}
		var v string
		if len(kv) == 2 {
			v, err = percentDecode(kv[1])
			if err != nil {
				return nil, err
			}
		}
		out[k] = v
	}
	return out, nil
}
