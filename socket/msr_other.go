// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !linux

package socket

func readMSRFile(core int, offset int64) (uint64, error) {
	return 0, errUnsupportedCore(core)
}
