// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package config provides configuration management for the two measurement
// daemons (rmeasured and picod).
//
// This package handles loading, validating, and managing daemon configuration
// from YAML files with environment variable overrides, JSON-Schema validation,
// and hot-reload via fsnotify. Each daemon has its own top-level config type
// (RMeasureConfig, ScopeConfig) but shares the ambient settings below.
//
// # Configuration Sources
//
// Configuration is loaded in the following order of precedence:
//  1. YAML configuration file
//  2. Environment variable overrides
//  3. Default values for optional settings
//
// # Security Features
//
//   - HTTPS enforcement for non-local result-sink connections
//   - Minimum token length validation (8 characters)
//   - URL format validation
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ServerConfig holds settings for a daemon's RPC and HTTP surfaces.
type ServerConfig struct {
	RPCAddr          string        `yaml:"rpc_addr" validate:"required"`
	MetricsAddr      string        `yaml:"metrics_addr" validate:"required"`
	KeepaliveTimeout time.Duration `yaml:"keepalive_timeout"`
	KeepaliveMaxConn int           `yaml:"keepalive_max_conn"`
	DontAdvertise    bool          `yaml:"dont_advertise"`
	RateLimitRPS     float64       `yaml:"rate_limit_rps"`
	RateLimitBurst   int           `yaml:"rate_limit_burst"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// NotificationsConfig holds notification settings.
type NotificationsConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
}

// CacheConfig holds local result-cache settings.
type CacheConfig struct {
	Directory string        `yaml:"directory"`
	MaxSize   int64         `yaml:"max_size"` // bytes
	MaxAge    time.Duration `yaml:"max_age"`
}

// InfluxDBConfig holds result-journal InfluxDB connection settings.
type InfluxDBConfig struct {
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	Organization string `yaml:"organization"`
	Bucket       string `yaml:"bucket"`
}

// ResultSinkConfig controls the optional finalized-kernel-result journal.
// Disabled by default: this is a supplemental, off-by-default feature, never
// required for the daemons' core operation.
type ResultSinkConfig struct {
	Enabled  bool           `yaml:"enabled"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true,
		"warning": true, "error": true, "fatal": true, "panic": true, "": true,
	}
	if !validLevels[strings.ToLower(l.Level)] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error, fatal, panic")
	}
	return nil
}

func validateResultSink(rs ResultSinkConfig) error {
	if !rs.Enabled {
		return nil
	}
	if rs.InfluxDB.URL == "" {
		return fmt.Errorf("result_journal.influxdb.url is required when result_journal.enabled is true")
	}
	parsedURL, err := url.Parse(rs.InfluxDB.URL)
	if err != nil {
		return fmt.Errorf("result_journal.influxdb.url is not a valid URL: %w", err)
	}
	if err := validateURLSecurity(parsedURL); err != nil {
		return err
	}
	if len(rs.InfluxDB.Token) < 8 {
		return fmt.Errorf("result_journal.influxdb.token must be at least 8 characters long")
	}
	if rs.InfluxDB.Organization == "" {
		return fmt.Errorf("result_journal.influxdb.organization is required")
	}
	if rs.InfluxDB.Bucket == "" {
		return fmt.Errorf("result_journal.influxdb.bucket is required")
	}
	return nil
}

// validateURLSecurity checks if the URL uses HTTPS for non-local connections.
func validateURLSecurity(parsedURL *url.URL) error {
	if parsedURL.Scheme != "http" {
		return nil
	}

	hostname := strings.ToLower(parsedURL.Hostname())
	isLocal := hostname == "localhost" ||
		hostname == "127.0.0.1" ||
		hostname == "::1" ||
		strings.HasPrefix(hostname, "192.168.") ||
		strings.HasPrefix(hostname, "10.") ||
		strings.HasPrefix(hostname, "172.")

	if !isLocal {
		return fmt.Errorf("influxdb.url must use HTTPS for non-local connections (got %s); HTTP transmits credentials in plaintext", parsedURL.Scheme)
	}
	return nil
}

func setCommonDefaults(srv *ServerConfig, log *LoggingConfig, cache *CacheConfig, cacheDefaultDir string) {
	if srv.RateLimitRPS == 0 {
		srv.RateLimitRPS = 20
	}
	if srv.RateLimitBurst == 0 {
		srv.RateLimitBurst = 5
	}
	if srv.KeepaliveTimeout == 0 {
		srv.KeepaliveTimeout = 30 * time.Second
	}
	if srv.KeepaliveMaxConn == 0 {
		srv.KeepaliveMaxConn = 16
	}
	if log.Level == "" {
		log.Level = "info"
	}
	if cache.Directory == "" {
		cache.Directory = cacheDefaultDir
	}
	if cache.MaxSize == 0 {
		cache.MaxSize = 100 * 1024 * 1024
	}
	if cache.MaxAge == 0 {
		cache.MaxAge = 24 * time.Hour
	}
}
