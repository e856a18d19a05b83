// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build !linux

package marker

import "fmt"

// ParallelPortEmitter is unavailable outside Linux; /dev/port and raw I/O
// port access have no portable equivalent.
type ParallelPortEmitter struct{}

// NewParallelPortEmitter always fails on this platform.
func NewParallelPortEmitter(addr uint16) (*ParallelPortEmitter, error) {
	return nil, fmt.Errorf("marker: parallel port pulse emitter is only supported on linux")
}

func (p *ParallelPortEmitter) Raise() error { return fmt.Errorf("marker: parallel port unavailable") }

func (p *ParallelPortEmitter) Lower() error { return fmt.Errorf("marker: parallel port unavailable") }

func (p *ParallelPortEmitter) Close() error { return nil }
