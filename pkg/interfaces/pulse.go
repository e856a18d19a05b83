// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

// PulseEmitter toggles the hardware line used to synchronize the scope
// pipeline with a kernel's begin/end markers (parallel-port GPIO in the
// original system). Tests use a recording implementation instead of real
// hardware.
type PulseEmitter interface {
	// Raise asserts the pulse line (kernel begin).
	Raise() error
	// Lower deasserts the pulse line (kernel end).
	Lower() error
	// Close releases any underlying hardware handle.
	Close() error
}
