// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// SocketConfig describes one RAPL-style energy-counted socket, grounded in
// the original's rapl.sockets[].hppdl/firstCore config keys.
type SocketConfig struct {
	Name      string `yaml:"name" validate:"required"`
	HPPDL     string `yaml:"hppdl" validate:"required"`
	FirstCore int    `yaml:"first_core" validate:"gte=0"`
}

// RMeasureConfig is the top-level configuration for cmd/rmeasured: the
// marker demultiplexer, the socket (RAPL) energy counter, and the timer
// counter.
type RMeasureConfig struct {
	Server        ServerConfig        `yaml:"server"`
	Pipe          PipeConfig          `yaml:"pipe"`
	Sockets       []SocketConfig      `yaml:"sockets" validate:"dive"`
	Timer         TimerConfig         `yaml:"timer"`
	Pulse         PulseConfig         `yaml:"pulse"`
	Logging       LoggingConfig       `yaml:"logging"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Cache         CacheConfig         `yaml:"cache"`
	ResultSink    ResultSinkConfig    `yaml:"result_journal"`
}

// PipeConfig describes the marker named pipe.
type PipeConfig struct {
	Path            string        `yaml:"path" validate:"required"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// TimerConfig names the wall-clock-only timer component.
type TimerConfig struct {
	SystemID string `yaml:"system_id"`
}

// PulseConfig describes the hardware line toggled on kernel begin/end.
type PulseConfig struct {
	ParallelPortAddress uint16 `yaml:"parallel_port_address"`
	Simulated           bool   `yaml:"simulated"`
}

var validate = validator.New()

// LoadRMeasureConfig reads rmeasured's configuration from a YAML file,
// applies environment overrides and defaults, validates it against the
// bundled JSON Schema and struct tags, and returns it.
func LoadRMeasureConfig(path string) (*RMeasureConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg RMeasureConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.setDefaults()

	if err := ValidateWithSchema(path, "rmeasured.schema.json"); err != nil {
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

func (c *RMeasureConfig) applyEnvironmentOverrides() {
	if v := os.Getenv("RMEASURE_PIPE_PATH"); v != "" {
		c.Pipe.Path = v
	}
	if v := os.Getenv("RMEASURE_RPC_ADDR"); v != "" {
		c.Server.RPCAddr = v
	}
	if v := os.Getenv("RMEASURE_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notifications.SlackWebhookURL = v
	}
	if v := os.Getenv("INFLUXDB_URL"); v != "" {
		c.ResultSink.InfluxDB.URL = v
	}
	if v := os.Getenv("INFLUXDB_TOKEN"); v != "" {
		c.ResultSink.InfluxDB.Token = v
	}
}

func (c *RMeasureConfig) setDefaults() {
	setCommonDefaults(&c.Server, &c.Logging, &c.Cache, "/var/cache/rmeasured")
	if c.Pipe.RefreshInterval == 0 {
		c.Pipe.RefreshInterval = 60 * time.Second
	}
	if c.Pipe.Path == "" {
		c.Pipe.Path = "/var/run/rmeasure.fifo"
	}
	if c.Server.RPCAddr == "" {
		c.Server.RPCAddr = ":7890"
	}
	if c.Server.MetricsAddr == "" {
		c.Server.MetricsAddr = "127.0.0.1:9100"
	}
}

// Validate checks cross-field invariants not expressible via struct tags.
func (c *RMeasureConfig) Validate() error {
	if err := validateLogging(c.Logging); err != nil {
		return err
	}
	if err := validateResultSink(c.ResultSink); err != nil {
		return err
	}
	if c.Pipe.RefreshInterval <= 0 {
		return fmt.Errorf("pipe.refresh_interval must be positive")
	}
	seen := make(map[string]bool, len(c.Sockets))
	for _, s := range c.Sockets {
		if seen[s.Name] {
			return fmt.Errorf("sockets: duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return nil
}
