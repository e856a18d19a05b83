// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import "testing"

func TestLoadScopeConfig_Defaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "picod.yaml", `
channels:
  - name: ch0
    range_mv: 5000
    gain: 1.0
    resistance_ohms: 0.1
`)
	cfg, err := LoadScopeConfig(path)
	if err != nil {
		t.Fatalf("LoadScopeConfig() error = %v", err)
	}
	if cfg.FilterMV != 3000 {
		t.Errorf("default FilterMV = %v, want 3000", cfg.FilterMV)
	}
	if cfg.Server.RPCAddr != ":7891" {
		t.Errorf("default rpc addr = %q, want :7891", cfg.Server.RPCAddr)
	}
}

func TestLoadScopeConfig_DuplicateChannelName(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "picod.yaml", `
channels:
  - name: ch0
    range_mv: 5000
    gain: 1.0
    resistance_ohms: 0.1
  - name: ch0
    range_mv: 5000
    gain: 1.0
    resistance_ohms: 0.1
`)
	if _, err := LoadScopeConfig(path); err == nil {
		t.Error("expected error for duplicate channel name")
	}
}

func TestLoadScopeConfig_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "picod.yaml", `
channels:
  - name: ch0
    range_mv: 5000
    gain: 1.0
    resistance_ohms: 0.1
`)
	t.Setenv("PICO_FILTER_MV", "2500")
	cfg, err := LoadScopeConfig(path)
	if err != nil {
		t.Fatalf("LoadScopeConfig() error = %v", err)
	}
	if cfg.FilterMV != 2500 {
		t.Errorf("FilterMV = %v, want 2500 from env override", cfg.FilterMV)
	}
}

func TestLoadScopeConfig_InvalidChannel(t *testing.T) {
	dir := t.TempDir()
	path := writeConfigFile(t, dir, "picod.yaml", `
channels:
  - name: ch0
    range_mv: 0
    gain: 1.0
    resistance_ohms: 0.1
`)
	if _, err := LoadScopeConfig(path); err == nil {
		t.Error("expected error for zero range_mv")
	}
}
