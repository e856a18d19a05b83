// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package cmddebug

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/repara/rmeasure/pkg/logger"
)

// Install registers SIGUSR1 (dump dumper.DumpState()) and SIGUSR2 (dump
// goroutine stack traces) handlers.
//
//	kill -USR1 <pid>  # dump application state
//	kill -USR2 <pid>  # dump goroutine stack traces
func Install(dumper StateDumper) {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGUSR1, syscall.SIGUSR2)
	go func() {
		for sig := range sigCh {
			switch sig {
			case syscall.SIGUSR1:
				logger.Info().Str("state", dumper.DumpState()).Msg("cmddebug: application state dump")
			case syscall.SIGUSR2:
				dumpGoroutines()
			}
		}
	}()
}

func dumpGoroutines() {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	logger.Info().Str("stacks", string(buf[:n])).Msg("cmddebug: goroutine stack dump")
}
