// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed to write config fixture: %v", err)
	}
	return path
}

func TestLoadRMeasureConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
pipe:
  path: /tmp/rmeasure.fifo
sockets:
  - name: cpu0
    hppdl: "0"
    first_core: 0
`)
	cfg, err := LoadRMeasureConfig(path)
	if err != nil {
		t.Fatalf("LoadRMeasureConfig() error = %v", err)
	}
	if cfg.Pipe.RefreshInterval.Seconds() != 60 {
		t.Errorf("default refresh interval = %v, want 60s", cfg.Pipe.RefreshInterval)
	}
	if cfg.Server.RPCAddr != ":7890" {
		t.Errorf("default rpc addr = %q, want :7890", cfg.Server.RPCAddr)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("default log level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadRMeasureConfig_DuplicateSocketName(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
pipe:
  path: /tmp/rmeasure.fifo
sockets:
  - name: cpu0
    hppdl: "0"
  - name: cpu0
    hppdl: "1"
`)
	if _, err := LoadRMeasureConfig(path); err == nil {
		t.Error("expected error for duplicate socket name")
	}
}

func TestLoadRMeasureConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
pipe:
  path: /tmp/rmeasure.fifo
`)
	t.Setenv("RMEASURE_PIPE_PATH", "/tmp/override.fifo")
	t.Setenv("RMEASURE_LOG_LEVEL", "debug")

	cfg, err := LoadRMeasureConfig(path)
	if err != nil {
		t.Fatalf("LoadRMeasureConfig() error = %v", err)
	}
	if cfg.Pipe.Path != "/tmp/override.fifo" {
		t.Errorf("Pipe.Path = %q, want env override", cfg.Pipe.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadRMeasureConfig_ResultSinkRequiresInfluxURL(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
pipe:
  path: /tmp/rmeasure.fifo
result_journal:
  enabled: true
`)
	if _, err := LoadRMeasureConfig(path); err == nil {
		t.Error("expected error when result_journal.enabled without influxdb.url")
	}
}

func TestLoadRMeasureConfig_InvalidLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "rmeasured.yaml", `
pipe:
  path: /tmp/rmeasure.fifo
logging:
  level: not-a-level
`)
	if _, err := LoadRMeasureConfig(path); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestLoadRMeasureConfig_MissingFile(t *testing.T) {
	if _, err := LoadRMeasureConfig("/nonexistent/rmeasured.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
