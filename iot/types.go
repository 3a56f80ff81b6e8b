// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package iot translates between IoT Hub messages (telemetry, cloud-to-
// device, direct methods, device twin) and the raw MQTT packets carried
// over package mqttwire. It has no knowledge of transport or scheduling.
package iot

import (
	"code.hybscloud.com/raiot/iot/identity"
	"code.hybscloud.com/raiot/packetid"
)

// DeliveryGuarantees is the caller-requested reliability for an outbound
// publish or subscription.
type DeliveryGuarantees int

const (
	AtMostOnce DeliveryGuarantees = iota
	AtLeastOnce
)

// SessionMode controls the CONNECT clean-session flag.
type SessionMode int

const (
	SessionClean SessionMode = iota
	SessionDirty
)

// ConnectMsg is the outbound connect request.
type ConnectMsg struct {
	ClientID    identity.ClientIdentity
	Hostname    string
	Credential  string // signed SAS token or empty when using certificate auth
	SessionMode SessionMode
}

// ConnectResultKind classifies a decoded CONNACK.
type ConnectResultKind int

const (
	ConnectAccepted ConnectResultKind = iota
	ConnectAuthenticationFailed
	ConnectUnauthorized
	ConnectServiceUnavailable
	ConnectUnacceptableProtocolVersion
	ConnectReservedErrorCode
)

// ConnectRes is the decoded outcome of a CONNACK.
type ConnectRes struct {
	Kind    ConnectResultKind
	RawCode byte // meaningful only when Kind == ConnectReservedErrorCode
}

// AckMsg requests a PUBACK be sent for the given packet id.
type AckMsg struct {
	PacketID packetid.ID
}

// TelemetryMsg is an outbound device-to-cloud message.
type TelemetryMsg struct {
	ClientID identity.ClientIdentity
	Body     []byte // UTF-8 JSON, nil/empty for no body
	Headers  map[string]string
	PacketID *packetid.ID // nil selects QoS 0; non-nil selects QoS 1
}

// C2DSub requests a cloud-to-device subscription.
type C2DSub struct {
	PacketID packetid.ID
	DeviceID string
	Mode     DeliveryGuarantees
}

// C2DMsg is an inbound cloud-to-device message.
type C2DMsg struct {
	PacketID *packetid.ID // set when delivered at QoS 1, so the caller can ack
	Props    map[string]string
	Body     []byte
}

// DirectMethodsSub requests a direct-method-invocation subscription.
type DirectMethodsSub struct {
	PacketID packetid.ID
	Mode     DeliveryGuarantees
}

// DirectMethodReq is an inbound direct method invocation.
type DirectMethodReq struct {
	RequestID  string
	MethodName string
	Body       []byte
}

// DirectMethodRes is an outbound direct method response.
type DirectMethodRes struct {
	PacketID  *packetid.ID
	RequestID string
	Status    int
	Payload   []byte
}

// TwinReadSub requests a twin-read-response subscription.
type TwinReadSub struct {
	PacketID packetid.ID
	Mode     DeliveryGuarantees
}

// ReadTwinReq is an outbound twin GET request.
type ReadTwinReq struct {
	RequestID string
	PacketID  *packetid.ID
}

// TwinStatus classifies a twin response's status code.
type TwinStatus int

const (
	TwinOK TwinStatus = iota
	TwinNoContent
	TwinTooManyRequests
	TwinServerError
	TwinUnknownStatus
)

// ReadTwinRes is the decoded response to a twin GET request.
type ReadTwinRes struct {
	RequestID  string
	StatusCode TwinStatus
	RawStatus  int
	Version    *uint64
	Body       []byte // present only when RawStatus == 200
}

// TwinUpdatesSub requests a desired-properties-update subscription.
type TwinUpdatesSub struct {
	PacketID packetid.ID
	Mode     DeliveryGuarantees
}

// DesiredPropsUpdated is an inbound desired-properties change notification.
type DesiredPropsUpdated struct {
	Version uint64
	Body    []byte
}

// UpdateReportedPropsReq is an outbound twin PATCH request.
type UpdateReportedPropsReq struct {
	PacketID  *packetid.ID
	RequestID string
	Reported  []byte // JSON
}

// SubRes is the decoded outcome of a SUBACK.
type SubRes struct {
	PacketID packetid.ID
	Accepted bool
}

// FromHub is one of the message kinds a decoded inbound packet yields.
type FromHub interface{ isFromHub() }

// ConnectResponse wraps a decoded CONNACK.
type ConnectResponse struct{ Res ConnectRes }

func (ConnectResponse) isFromHub() {}

// PublicationSucceeded wraps a decoded PUBACK.
type PublicationSucceeded struct{ PacketID packetid.ID }

func (PublicationSucceeded) isFromHub() {}

// SubscriptionResponse wraps a decoded SUBACK.
type SubscriptionResponse struct{ Res SubRes }

func (SubscriptionResponse) isFromHub() {}

// TwinResponse wraps a decoded twin-read response.
type TwinResponse struct{ Res ReadTwinRes }

func (TwinResponse) isFromHub() {}

// DesiredPropsUpdate wraps a decoded desired-properties notification.
type DesiredPropsUpdate struct{ Update DesiredPropsUpdated }

func (DesiredPropsUpdate) isFromHub() {}

// DirectMethodInvocation wraps a decoded direct method invocation.
type DirectMethodInvocation struct{ Req DirectMethodReq }

func (DirectMethodInvocation) isFromHub() {}

// CloudToDevice wraps a decoded cloud-to-device message.
type CloudToDevice struct{ Msg C2DMsg }

func (CloudToDevice) isFromHub() {}

// UnknownMessage is a successfully decoded PUBLISH that matched none of the
// recognized topic families.
type UnknownMessage struct{ Topic string }

func (UnknownMessage) isFromHub() {}
