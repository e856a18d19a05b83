// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ChannelConfig describes one oscilloscope channel's raw-to-millivolts
// conversion parameters, grounded in PicoScopeMethod.cpp's per-channel gain
// and resistance handling.
type ChannelConfig struct {
	Name       string  `yaml:"name" validate:"required"`
	RangeMV    int     `yaml:"range_mv" validate:"gt=0"`
	Gain       float64 `yaml:"gain" validate:"gt=0"`
	Resistance float64 `yaml:"resistance_ohms" validate:"gt=0"`
	SupplyV    float64 `yaml:"supply_voltage"`
	IsPulse    bool    `yaml:"is_pulse"`
}

// ScopeConfig is the top-level configuration for cmd/picod: the
// oscilloscope streaming pipeline.
type ScopeConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Channels      []ChannelConfig     `yaml:"channels" validate:"dive"`
	FilterMV      float64             `yaml:"filter_mv"`
	SampleRateHz  float64             `yaml:"sample_rate_hz"`
	AllowRaw      bool                `yaml:"allow_raw"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Cache         CacheConfig         `yaml:"cache"`
	ResultSink    ResultSinkConfig    `yaml:"result_journal"`
}

// LoadScopeConfig reads picod's configuration from a YAML file, applies
// environment overrides and defaults, validates it, and returns it.
func LoadScopeConfig(path string) (*ScopeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg ScopeConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := ValidateWithSchema(path, "picod.schema.json"); err != nil {
		return nil, err
	}
	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *ScopeConfig) applyEnvironmentOverrides() {
	if v := os.Getenv("PICO_RPC_ADDR"); v != "" {
		c.Server.RPCAddr = v
	}
	if v := os.Getenv("PICO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("PICO_FILTER_MV"); v != "" {
		var mv float64
		if _, err := fmt.Sscanf(v, "%f", &mv); err == nil {
			c.FilterMV = mv
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notifications.SlackWebhookURL = v
	}
}

func (c *ScopeConfig) setDefaults() {
	setCommonDefaults(&c.Server, &c.Logging, &c.Cache, "/var/cache/picod")
	if c.FilterMV == 0 {
		c.FilterMV = 3000
	}
	if c.SampleRateHz == 0 {
		c.SampleRateHz = 1000
	}
	if c.Server.RPCAddr == "" {
		c.Server.RPCAddr = ":7891"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = "127.0.0.1:9101"
	}
}

// Validate checks cross-field invariants not expressible via struct tags.
func (c *ScopeConfig) Validate() error {
	if err := validateLogging(c.Logging); err != nil {
		return err
	}
	if err := validateResultSink(c.ResultSink); err != nil {
		return err
	}
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("sample_rate_hz must be positive")
	}
	seen := make(map[string]bool, len(c.Channels))
	pulseCount := 0
	for _, ch := range c.Channels {
		if seen[ch.Name] {
			return fmt.Errorf("channels: duplicate name %q", ch.Name)
		}
		seen[ch.Name] = true
		if ch.IsPulse {
			pulseCount++
		}
	}
	if pulseCount > 1 {
		return fmt.Errorf("channels: at most one channel may set is_pulse, found %d", pulseCount)
	}
	return nil
}
