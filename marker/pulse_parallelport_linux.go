// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

//go:build linux

package marker

import (
	"fmt"
	"os"
)

// ParallelPortEmitter drives the synchronization pulse line via the legacy
// parallel-port data register, matching RMeasureServer.cpp's ioperm/outb
// sequence against the configured base address. It requires CAP_SYS_RAWIO
// and is only meaningful on hardware with a physical parallel port.
type ParallelPortEmitter struct {
	port *os.File
	addr uint16
}

// NewParallelPortEmitter opens /dev/port for writing the single data byte
// at the configured parallel-port base address.
func NewParallelPortEmitter(addr uint16) (*ParallelPortEmitter, error) {
	f, err := os.OpenFile("/dev/port", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open /dev/port: %w", err)
	}
	return &ParallelPortEmitter{port: f, addr: addr}, nil
}

func (p *ParallelPortEmitter) write(b byte) error {
	_, err := p.port.WriteAt([]byte{b}, int64(p.addr))
	return err
}

// Raise drives the data register high.
func (p *ParallelPortEmitter) Raise() error { return p.write(0xFF) }

// Lower drives the data register low.
func (p *ParallelPortEmitter) Lower() error { return p.write(0x00) }

// Close releases the port handle.
func (p *ParallelPortEmitter) Close() error { return p.port.Close() }
