// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// rmeasured demultiplexes marker-pipe begin/end tokens to the socket (RAPL)
// energy counter and the wall-clock timer counter, proxies the scope
// source's arm/disarm pair to cmd/picod, and serves rapl.*/timer.*/scope.*/
// rmeasure.* over net/rpc.
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
	"github.com/repara/rmeasure/rmeasureapp"
)

func main() {
	configPath := flag.String("config", "rmeasured.yaml", "Path to configuration file")
	metricsPort := flag.String("metrics-addr", "", "Override server.metrics_addr from the config file")
	validateConfig := flag.Bool("validate-config", false, "Validate configuration file and exit")
	flag.Parse()

	if *validateConfig {
		os.Exit(performConfigValidation(*configPath))
	}

	cfg, err := config.LoadRMeasureConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rmeasured: failed to load configuration: %v\n", err)
		logger.Initialize("error")
		logger.Fatal().Err(err).Msg("rmeasured: failed to load configuration")
	}
	logger.Initialize(cfg.Logging.Level)

	metricsAddr := cfg.Server.MetricsAddr
	if *metricsPort != "" {
		metricsAddr = *metricsPort
	}

	logger.Info().
		Str("rpc_addr", cfg.Server.RPCAddr).
		Str("pipe", cfg.Pipe.Path).
		Int("sockets", len(cfg.Sockets)).
		Msg("rmeasured: starting")

	application, err := rmeasureapp.New(cfg, *configPath, metricsAddr)
	if err != nil {
		logger.Fatal().Err(err).Msg("rmeasured: failed to initialize")
	}

	cmddebug.Install(application)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info().Str("signal", sig.String()).Msg("rmeasured: received shutdown signal")
		cancel()
	}()

	application.Run(ctx)
}

func performConfigValidation(configPath string) int {
	logger.Initialize("info")
	logger.Info().Str("path", configPath).Msg("rmeasured: validating configuration file")

	cfg, err := config.LoadRMeasureConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration validation FAILED: %v\n", err)
		return 1
	}

	fmt.Println("configuration validation PASSED")
	fmt.Printf("  RPC address: %s\n", cfg.Server.RPCAddr)
	fmt.Printf("  Metrics address: %s\n", cfg.Server.MetricsAddr)
	fmt.Printf("  Marker pipe: %s\n", cfg.Pipe.Path)
	fmt.Printf("  Sockets: %d\n", len(cfg.Sockets))
	fmt.Printf("  Timer system id: %s\n", cfg.Timer.SystemID)
	fmt.Printf("  Result journal enabled: %v\n", cfg.ResultSink.Enabled)
	return 0
}
