// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// rlauncher is a demo client: it arms the sources named on its command
// line against a running cmd/rmeasured (and cmd/picod, for -scope), writes
// "B:<kernel>;"/"E;" around a child process it runs, disarms the sources,
// and prints the aggregated per-component results. It plays the role the
// original library's instrumented DYNAMIC_BEGIN/DYNAMIC_END macros played,
// except it owns the whole kernel rather than being linked into it.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/exec"
	"sort"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/rmeasureclient"
)

func main() {
	pipePath := flag.String("pipe", "/var/run/rmeasure.fifo", "Path to the marker pipe cmd/rmeasured is listening on")
	kernel := flag.String("kernel", "rlauncher", "Kernel name to report the child process's run under")
	useRapl := flag.Bool("rapl", true, "Arm the socket energy source")
	useTimer := flag.Bool("timer", true, "Arm the wall-clock timer source")
	useScope := flag.Bool("scope", false, "Arm the oscilloscope source (requires cmd/picod)")
	logLevel := flag.String("log-level", "info", "Log level")
	flag.Parse()

	logger.Initialize(*logLevel)

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: rlauncher [flags] -- <command> [args...]")
		os.Exit(2)
	}

	if err := run(*pipePath, *kernel, *useRapl, *useTimer, *useScope, args); err != nil {
		logger.Fatal().Err(err).Msg("rlauncher: failed")
	}
}

func run(pipePath, kernel string, useRapl, useTimer, useScope bool, args []string) error {
	ctx := context.Background()

	rmeasureClient, err := rmeasureclient.DialRMeasure(ctx)
	if err != nil {
		return fmt.Errorf("rlauncher: dial rmeasured: %w", err)
	}
	defer rmeasureClient.Close()

	var rapl *rmeasureclient.RaplMeasurement
	if useRapl {
		method := rmeasureclient.NewRaplMethod(rmeasureClient)
		rapl, err = method.Start()
		if err != nil {
			return fmt.Errorf("rlauncher: start rapl: %w", err)
		}
		logger.Info().Msg("rlauncher: rapl armed")
	}

	var timerMeasurement *rmeasureclient.TimerMeasurement
	if useTimer {
		method := rmeasureclient.NewTimerMethod(rmeasureClient)
		timerMeasurement, err = method.Start()
		if err != nil {
			return fmt.Errorf("rlauncher: start timer: %w", err)
		}
		logger.Info().Msg("rlauncher: timer armed")
	}

	var scope *rmeasureclient.ScopeMeasurement
	if useScope {
		picoClient, err := rmeasureclient.DialPico(ctx)
		if err != nil {
			return fmt.Errorf("rlauncher: dial picod: %w", err)
		}
		defer picoClient.Close()

		method := rmeasureclient.NewScopeMethod(rmeasureClient, picoClient)
		scope, err = method.Start()
		if err != nil {
			return fmt.Errorf("rlauncher: start scope: %w", err)
		}
		logger.Info().Msg("rlauncher: scope armed")
	}

	runErr := runChild(pipePath, kernel, args)

	measurements := []rmeasureclient.Measurement{}
	if rapl != nil {
		if err := rapl.Stop(); err != nil {
			logger.Warn().Err(err).Msg("rlauncher: stop rapl")
		} else {
			measurements = append(measurements, rapl)
		}
	}
	if timerMeasurement != nil {
		if err := timerMeasurement.Stop(); err != nil {
			logger.Warn().Err(err).Msg("rlauncher: stop timer")
		} else {
			measurements = append(measurements, timerMeasurement)
		}
	}
	if scope != nil {
		if err := scope.Stop(); err != nil {
			logger.Warn().Err(err).Msg("rlauncher: stop scope")
		} else {
			measurements = append(measurements, scope)
		}
	}

	report(kernel, measurements)

	return runErr
}

// runChild opens the marker pipe, brackets the child process with the
// "B:<kernel>;"/"E;" tokens cmd/rmeasured's demultiplexer expects, and
// returns the child's exit error, if any. Grounded in the original
// library's DYNAMIC_BEGIN/DYNAMIC_END macros, which open the pipe fresh
// for each token rather than holding it open across the run.
func runChild(pipePath, kernel string, args []string) error {
	if err := writeToken(pipePath, "B:"+kernel+";"); err != nil {
		logger.Warn().Err(err).Msg("rlauncher: failed to write begin marker")
	}

	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin
	runErr := cmd.Run()

	if err := writeToken(pipePath, "E;"); err != nil {
		logger.Warn().Err(err).Msg("rlauncher: failed to write end marker")
	}

	return runErr
}

func writeToken(pipePath, token string) error {
	f, err := os.OpenFile(pipePath, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(token)
	return err
}

func report(kernel string, measurements []rmeasureclient.Measurement) {
	for _, m := range measurements {
		sm := m.AggregatedSources(kernel)
		if len(sm) == 0 {
			continue
		}

		components := make([]string, 0, len(sm))
		for component := range sm {
			components = append(components, component)
		}
		sort.Strings(components)

		for _, component := range components {
			data := sm[component]
			caps := make([]interfaces.SourceCapability, 0, len(data))
			for capKind := range data {
				caps = append(caps, capKind)
			}
			sort.Slice(caps, func(i, j int) bool { return caps[i] < caps[j] })

			for _, capKind := range caps {
				fmt.Printf("%s\t%s\t%s\t%g\n", kernel, component, capKind.String(), data[capKind])
			}
		}
	}
}
