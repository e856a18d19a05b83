// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build linux

package socket

import (
	"fmt"
	"os"
)

func readMSRFile(core int, offset int64) (uint64, error) {
	path := fmt.Sprintf("/dev/cpu/%d/msr", core)
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf [8]byte
	if _, err := f.ReadAt(buf[:], offset); err != nil {
		return 0, fmt.Errorf("pread %s at 0x%x: %w", path, offset, err)
	}

	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}
