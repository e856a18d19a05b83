// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build windows

package marker

import "fmt"

// ensureFIFO is unsupported on Windows: named pipes there use a distinct
// API (CreateNamedPipe) with no direct equivalent to a POSIX FIFO path.
func ensureFIFO(path string) error {
	return fmt.Errorf("marker pipe %s: named pipes are not supported on windows in this build", path)
}
