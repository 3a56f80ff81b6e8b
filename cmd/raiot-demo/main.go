// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Command raiot-demo connects a single device to an IoT Hub endpoint,
// subscribes to cloud-to-device messages, direct methods, and desired
// property updates, reads the twin once, and then sends a small telemetry
// message on a fixed interval until interrupted.
package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"time"

	raiot "code.hybscloud.com/raiot"
	"code.hybscloud.com/raiot/config"
	"code.hybscloud.com/raiot/iot"
	"code.hybscloud.com/raiot/iot/identity"
	"code.hybscloud.com/raiot/session"
	"code.hybscloud.com/raiot/transport"
)

const telemetryInterval = 3 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	cfg, err := config.Load("")
	if err != nil {
		logger.Error("loading configuration", "error", err)
		os.Exit(1)
	}

	client, err := connect(cfg, logger)
	if err != nil {
		logger.Error("connecting", "error", err)
		os.Exit(1)
	}

	if err := client.SetC2DHandler(func(msg iot.C2DMsg) {
		logger.Info("cloud-to-device message", "body", string(msg.Body))
	}, iot.AtMostOnce); err != nil {
		logger.Error("subscribing to c2d", "error", err)
		os.Exit(1)
	}

	if err := client.SetDMIHandler(func(req iot.DirectMethodReq) iot.DirectMethodRes {
		logger.Info("direct method invocation", "method", req.MethodName, "request_id", req.RequestID)
		return iot.DirectMethodRes{Status: 200, Payload: []byte(`{"result":"ok"}`)}
	}, iot.AtMostOnce); err != nil {
		logger.Error("subscribing to direct methods", "error", err)
		os.Exit(1)
	}

	if err := client.SetTwinUpdateHandler(func(upd iot.DesiredPropsUpdated) {
		logger.Info("desired properties updated", "version", upd.Version)
	}, iot.AtMostOnce); err != nil {
		logger.Error("subscribing to twin updates", "error", err)
		os.Exit(1)
	}

	twinHandle, err := client.ReadTwin()
	if err != nil {
		logger.Error("requesting twin", "error", err)
		os.Exit(1)
	}

	lastTelemetry := time.Now()
	twinLogged := false
	for {
		if err := client.Process(); err != nil {
			logger.Error("session closed", "error", err)
			os.Exit(1)
		}

		if !twinLogged {
			if res, terr, ready := twinHandle.Poll(nil); ready {
				twinLogged = true
				if terr != nil {
					logger.Warn("reading twin", "error", terr)
				} else {
					logger.Info("got twin", "status", res.RawStatus, "version", res.Version)
				}
			}
		}

		if time.Since(lastTelemetry) >= telemetryInterval {
			body, _ := json.Marshal(map[string]string{"hello": "world"})
			if _, err := client.SendTelemetry(body, nil, iot.AtLeastOnce); err != nil {
				logger.Warn("sending telemetry", "error", err)
			}
			lastTelemetry = time.Now()
		}

		time.Sleep(5 * time.Millisecond)
	}
}

func connect(cfg config.ConnectionSettings, logger *slog.Logger) (*raiot.DeviceClient, error) {
	id := identity.ClientIdentity{DeviceID: cfg.DeviceID, ModuleID: cfg.ModuleID}

	var cert *transport.ClientCertificate
	var credential string
	now := time.Now()

	if cfg.UsesCertificate() {
		bytes, err := os.ReadFile(cfg.CertPath)
		if err != nil {
			return nil, err
		}
		cert = &transport.ClientCertificate{Bytes: bytes, Password: cfg.CertPassword}
	} else {
		token, err := identity.GenerateSasTokenFor(id, cfg.Hostname, cfg.SharedAccessKey, cfg.TokenTTL, now)
		if err != nil {
			return nil, err
		}
		credential = token
	}

	logger.Info("dialing", "host", cfg.Hostname, "port", cfg.Port)
	stream, err := transport.Dial(cfg.Hostname, cfg.Port, cfg.ConnectTimeout, cert)
	if err != nil {
		return nil, err
	}

	sessionMode := iot.SessionClean
	if !cfg.CleanSession {
		sessionMode = iot.SessionDirty
	}
	msg := iot.ConnectMsg{ClientID: id, Hostname: cfg.Hostname, Credential: credential, SessionMode: sessionMode}

	conn, err := session.BeginConnect(stream, msg, 4096, 4096, cfg.ConnectTimeout, now)
	if err != nil {
		return nil, err
	}

	for {
		sess, cont, err := conn.Poll(time.Now())
		if err != nil {
			return nil, err
		}
		if sess != nil {
			logger.Info("connected")
			return raiot.NewDeviceClient(sess), nil
		}
		if cont == nil {
			return nil, errors.New("raiot-demo: connect handshake returned neither a session nor a continuation")
		}
		conn = cont
		time.Sleep(5 * time.Millisecond)
	}
}
