// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package raiot provides DeviceClient, a thin convenience wrapper over
// package session's lower-level primitives for callers that just want to
// send telemetry and register C2D/direct-method/twin-update handlers
// without managing subscription state themselves.
package raiot

import (
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/session"
)

// DeviceClient wraps a connected *session.Session and lazily establishes
// the subscriptions each handler needs the first time it is registered,
// mirroring the original client's DeviceClient::set_dmi_handler/
// set_c2d_handler convenience methods.
type DeviceClient struct {
	sess *session.Session
}

// NewDeviceClient wraps an already-connected session.
func NewDeviceClient(sess *session.Session) *DeviceClient {
	return &DeviceClient{sess: sess}
}

// SendTelemetry forwards to the underlying session.
func (c *DeviceClient) SendTelemetry(body []byte, headers map[string]string, guarantees iot.DeliveryGuarantees) (*session.SendHandle, error) {
	return c.sess.SendTelemetry(body, headers, guarantees)
}

// ReadTwin forwards to the underlying session.
func (c *DeviceClient) ReadTwin() (*session.TwinHandle, error) {
	return c.sess.ReadTwin()
}

// SetDMIHandler subscribes to direct method invocations (if not already
// subscribed) and installs handler.
func (c *DeviceClient) SetDMIHandler(handler session.DirectMethodHandler, guarantees iot.DeliveryGuarantees) error {
	return c.sess.SubscribeDirectMethods(handler, nil, guarantees)
}

// SetC2DHandler subscribes to cloud-to-device messages (if not already
// subscribed) and installs handler.
func (c *DeviceClient) SetC2DHandler(handler session.C2DHandler, guarantees iot.DeliveryGuarantees) error {
	return c.sess.SubscribeC2D(handler, nil, guarantees)
}

// SetTwinUpdateHandler subscribes to desired-property update notifications
// (if not already subscribed) and installs handler.
func (c *DeviceClient) SetTwinUpdateHandler(handler session.TwinUpdateHandler, guarantees iot.DeliveryGuarantees) error {
	return c.sess.SubscribeTwinUpdates(handler, nil, guarantees)
}

// Process drives one iteration of the session's cooperative I/O pump.
func (c *DeviceClient) Process() error {
	return c.sess.Process()
}
