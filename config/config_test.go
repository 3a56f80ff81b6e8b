// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package config

import (
	"errors"
	"testing"
	"time"
)

func TestValidateRequiresHostname(t *testing.T) {
	cfg := ConnectionSettings{DeviceID: "dev1", SharedAccessKey: "a2V5"}
	if err := Validate(cfg); !errors.Is(err, ErrMissingHostname) {
		t.Fatalf("err = %v, want ErrMissingHostname", err)
	}
}

func TestValidateRequiresDeviceID(t *testing.T) {
	cfg := ConnectionSettings{Hostname: "hub.example.com", SharedAccessKey: "a2V5"}
	if err := Validate(cfg); !errors.Is(err, ErrMissingDeviceID) {
		t.Fatalf("err = %v, want ErrMissingDeviceID", err)
	}
}

func TestValidateRequiresACredential(t *testing.T) {
	cfg := ConnectionSettings{Hostname: "hub.example.com", DeviceID: "dev1"}
	if err := Validate(cfg); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("err = %v, want ErrMissingCredential", err)
	}
}

func TestValidateAcceptsCertificateCredential(t *testing.T) {
	cfg := ConnectionSettings{
		Hostname:     "hub.example.com",
		DeviceID:     "dev1",
		CertPath:     "/etc/raiot/device.p12",
		CertPassword: "secret",
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !cfg.UsesCertificate() {
		t.Fatal("expected UsesCertificate to be true")
	}
}

func TestValidateAcceptsSharedAccessKey(t *testing.T) {
	cfg := ConnectionSettings{Hostname: "hub.example.com", DeviceID: "dev1", SharedAccessKey: "a2V5"}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.UsesCertificate() {
		t.Fatal("expected UsesCertificate to be false when a shared access key is set")
	}
}

func TestDefaultsAppliedByLoad(t *testing.T) {
	t.Setenv("RAIOT_HOSTNAME", "hub.example.com")
	t.Setenv("RAIOT_DEVICE_ID", "dev1")
	t.Setenv("RAIOT_SHARED_ACCESS_KEY", "a2V5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 8883 {
		t.Fatalf("port = %d, want default 8883", cfg.Port)
	}
	if cfg.ConnectTimeout != 30*time.Second {
		t.Fatalf("connect timeout = %v, want 30s", cfg.ConnectTimeout)
	}
	if cfg.TokenTTL != 60*time.Minute {
		t.Fatalf("token ttl = %v, want 60m", cfg.TokenTTL)
	}
	if !cfg.CleanSession {
		t.Fatal("expected clean session to default true")
	}
}
