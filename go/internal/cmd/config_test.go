package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scoreboard.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != "8080" || cfg.Transport.Backend != "bluez" || cfg.Devices.Source != "file" {
		t.Fatalf("defaults = %+v", cfg)
	}
	if cfg.Outbox.Enabled || cfg.needsDatabase() {
		t.Fatal("defaults should not need a database")
	}
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := writeConfig(t, `
port: "9000"
transport:
  backend: uart
  serial_baud: 115200
  scan_timeout: 20s
devices:
  source: postgres
outbox:
  enabled: true
  fallback_interval: 1m
`)
	t.Setenv("PORT", "9100")
	t.Setenv("OUTBOX_ENABLED", "false")
	t.Setenv("SCAN_TIMEOUT", "bogus")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("port = %q, want env override", cfg.Port)
	}
	if cfg.Transport.Backend != "uart" || cfg.Transport.SerialBaud != 115200 {
		t.Errorf("transport = %+v", cfg.Transport)
	}
	if cfg.Transport.ScanTimeout != 20*time.Second {
		t.Errorf("scan timeout = %v, invalid env value should be ignored", cfg.Transport.ScanTimeout)
	}
	if cfg.Outbox.Enabled {
		t.Error("OUTBOX_ENABLED=false did not override the file")
	}
	if cfg.Outbox.FallbackInterval != time.Minute {
		t.Errorf("fallback interval = %v", cfg.Outbox.FallbackInterval)
	}
	if !cfg.needsDatabase() {
		t.Error("postgres device source needs a database")
	}
}

func TestLoadConfigRejectsUnknownBackend(t *testing.T) {
	t.Setenv("TRANSPORT_BACKEND", "carrier-pigeon")
	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for an unknown backend")
	}
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	if _, err := loadConfig(writeConfig(t, "transport: [")); err == nil {
		t.Fatal("expected a parse error")
	}
}
