package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		backend:      "serial",
		serialDev:    "/dev/null",
		baud:         115200,
		serialReadTO: 10 * time.Millisecond,
		key:          "secret",
		fingerprint:  "board-01",
		maxPayload:   64,
		interval:     time.Second,
		logFormat:    "text",
		logLevel:     "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"udpWithoutAddr", func(c *appConfig) { c.backend = "udp" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"missingKey", func(c *appConfig) { c.key = "" }},
		{"missingFingerprint", func(c *appConfig) { c.fingerprint = "" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badMaxPayload", func(c *appConfig) { c.maxPayload = 0 }},
		{"badInterval", func(c *appConfig) { c.interval = 0 }},
	}
	for _, tc := range tests {
		base := validConfig()
		tc.mod(base)
		if err := base.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("SENSOR_NODE_FINGERPRINT", "env-board")
	t.Setenv("SENSOR_NODE_INTERVAL", "5s")
	t.Setenv("SENSOR_NODE_BAUD", "9600")

	cfg := validConfig()
	if err := applyEnvOverrides(cfg, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.fingerprint != "env-board" {
		t.Fatalf("fingerprint not overridden: %s", cfg.fingerprint)
	}
	if cfg.interval != 5*time.Second {
		t.Fatalf("interval not overridden: %v", cfg.interval)
	}
	if cfg.baud != 115200 {
		t.Fatalf("flag-set baud must win over env, got %d", cfg.baud)
	}
}

func TestSamplerProducesDecodableValues(t *testing.T) {
	s := newSampler()
	values := s.sample(42)
	if len(values) != 4 {
		t.Fatalf("expected 4 readings, got %d", len(values))
	}
	for _, v := range values {
		if v.TimeOffset != 42 {
			t.Fatalf("offset mismatch: %d", v.TimeOffset)
		}
	}
	if _, ok := values[0].Float(); !ok {
		t.Fatal("temperature must decode as float")
	}
	p, ok := values[1].Pressure()
	if !ok || p < 90000 || p > 110000 {
		t.Fatalf("implausible pressure %d (ok=%v)", p, ok)
	}
}
