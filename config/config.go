// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config loads the settings a raiot client needs to open a
// session against an IoT Hub endpoint: hostname, credentials, and the
// handful of timeouts the connection and session layers accept as plain
// parameters. The core session types never import this package directly
// (per spec.md §1, configuration bootstrapping is out of the core's
// scope) -- it exists for cmd/raiot-demo and other callers that want an
// env-driven settings struct instead of constructing one by hand.
package config

import (
	"errors"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// ErrMissingHostname is returned by Validate when Hostname is empty.
var ErrMissingHostname = errors.New("config: hostname is required")

// ErrMissingDeviceID is returned by Validate when DeviceID is empty.
var ErrMissingDeviceID = errors.New("config: device_id is required")

// ErrMissingCredential is returned by Validate when neither a shared
// access key nor certificate material is supplied.
var ErrMissingCredential = errors.New("config: either shared_access_key or (cert_path and cert_password) must be set")

// ConnectionSettings is the complete set of knobs needed to dial and
// authenticate a raiot session.
type ConnectionSettings struct {
	Hostname string `env:"RAIOT_HOSTNAME"`
	Port     int    `env:"RAIOT_PORT" env-default:"8883"`

	DeviceID string `env:"RAIOT_DEVICE_ID"`
	ModuleID string `env:"RAIOT_MODULE_ID"`

	SharedAccessKey string `env:"RAIOT_SHARED_ACCESS_KEY"`
	CertPath        string `env:"RAIOT_CERT_PATH"`
	CertPassword    string `env:"RAIOT_CERT_PASSWORD"`

	ConnectTimeout time.Duration `env:"RAIOT_CONNECT_TIMEOUT" env-default:"30s"`
	TokenTTL       time.Duration `env:"RAIOT_TOKEN_TTL" env-default:"60m"`

	// CleanSession selects the CONNECT clean-session flag; false requests
	// a persistent (dirty) session.
	CleanSession bool `env:"RAIOT_CLEAN_SESSION" env-default:"true"`
}

// Load reads ConnectionSettings from an optional YAML file at path (pass
// "" to skip it) and then from environment variables, and validates the
// result.
func Load(path string) (ConnectionSettings, error) {
	var cfg ConnectionSettings
	if path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return ConnectionSettings{}, err
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return ConnectionSettings{}, err
	}
	if err := Validate(cfg); err != nil {
		return ConnectionSettings{}, err
	}
	return cfg, nil
}

// Validate checks that cfg carries enough information to attempt a
// connection.
func Validate(cfg ConnectionSettings) error {
	if cfg.Hostname == "" {
		return ErrMissingHostname
	}
	if cfg.DeviceID == "" {
		return ErrMissingDeviceID
	}
	if cfg.SharedAccessKey == "" && (cfg.CertPath == "" || cfg.CertPassword == "") {
		return ErrMissingCredential
	}
	return nil
}

// UsesCertificate reports whether cfg selects certificate-based
// authentication over a SAS token.
func (cfg ConnectionSettings) UsesCertificate() bool {
	return cfg.SharedAccessKey == "" && cfg.CertPath != ""
}
