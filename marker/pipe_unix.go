// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !windows

package marker

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// ensureFIFO creates path as a world read-write FIFO if it does not already
// exist, matching the original's mknod(path, S_IFIFO|0666, 0) with umask
// cleared.
func ensureFIFO(path string) error {
	if fi, err := os.Stat(path); err == nil {
		if fi.Mode()&os.ModeNamedPipe == 0 {
			return fmt.Errorf("%s exists and is not a FIFO", path)
		}
		return nil
	}

	oldMask := unix.Umask(0)
	defer unix.Umask(oldMask)

	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}
