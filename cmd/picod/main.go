// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// picod drives an oscilloscope streaming pipeline and serves its pico.*
// method table over net/rpc: device open/close/info/configure plus
// streaming start/stop and segmented per-window results.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/repara/rmeasure/config"
	"github.com/repara/rmeasure/pkg/cmddebug"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/scopeapp"
)

func main() {
	configPath := flag.String("config", "picod.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-addr", "", "Override server.metrics_addr from the config file")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.LoadScopeConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "picod: failed to load configuration: %v\n", err)
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("picod: failed to load configuration")
	}
	logger.Initialize(cfg.Logging.Level)

	metricsAddr := cfg.Server.MetricsAddr
	if *metricsPort != "" {
		metricsAddr = *metricsPort
	}

	logger.Info().
		Str("rpc_addr", cfg.Server.RPCAddr).
		Int("channels", len(cfg.Channels)).
		Float64("sample_rate_hz", cfg.SampleRateHz).
		Msg("picod: starting")

	// device is nil: this binary has no real PicoScope SDK binding wired in
	// (see DESIGN.md), so scopeapp.New falls back to its simulated device.
	application, err := scopeapp.New(cfg, *configPath, metricsAddr, nil)
	if err != nil {
		logger.Fatal().Err(err).Msg("picod: failed to initialize")
	}

	cmddebug.Install(application)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("picod: received shutdown signal")
		cancel()
	}()

	application.Run(ctx)
}

func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("picod: validating configuration file")

	cfg, err := config.LoadScopeConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation FAILED: %v\n", err)
		return 1
	}

	fmt.Println("configuration validation PASSED")
	fmt.Printf("  RPC address: %s\n", cfg.Server.RPCAddr)
	fmt.Printf("  Metrics address: %s\n", cfg.Server.MetricsAddr)
	fmt.Printf("  Channels: %d\n", len(cfg.Channels))
	fmt.Printf("  Sample rate: %g Hz\n", cfg.SampleRateHz)
	fmt.Printf("  Result journal enabled: %v\n", cfg.ResultSink.Enabled)
	return 0
}
