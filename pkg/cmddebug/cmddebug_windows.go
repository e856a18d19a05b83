// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package cmddebug

import "github.com/repara/rmeasure/pkg/logger"

// Install is a no-op on Windows: SIGUSR1/SIGUSR2 don't exist there. Debug
// state should be retrieved via log file analysis on this platform.
func Install(dumper StateDumper) {
	logger.Debug().Msg("cmddebug: debug signal handlers not available on windows")
}
