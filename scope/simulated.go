// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package scope

import (
	"context"

	"github.com/repara/rmeasure/config"
)

// SimulatedDevice replays a fixed sequence of RawBlocks instead of driving
// real hardware, for tests and for the rlauncher demo.
type SimulatedDevice struct {
	Variant string
	Blocks  []RawBlock

	ch     chan RawBlock
	closed bool
}

// NewSimulatedDevice builds a simulator that will publish blocks in order
// once streaming starts.
func NewSimulatedDevice(variant string, blocks []RawBlock) *SimulatedDevice {
	return &SimulatedDevice{Variant: variant, Blocks: blocks}
}

func (s *SimulatedDevice) Open(ctx context.Context) (Info, error) {
	known := s.Variant == "PS6000"
	return Info{Variant: s.Variant, VariantKnown: known, Description: "simulated device"}, nil
}

func (s *SimulatedDevice) Close() error { return nil }

func (s *SimulatedDevice) ConfigureChannels(channels []config.ChannelConfig) error { return nil }

func (s *SimulatedDevice) SetSample(intervalMS int, timeUnit string) error { return nil }

// StartStreaming publishes every configured block in order, then closes the
// channel (simulating autostop on the final block if AutoStop is set).
func (s *SimulatedDevice) StartStreaming(ctx context.Context) (<-chan RawBlock, error) {
	s.ch = make(chan RawBlock, len(s.Blocks))
	for _, b := range s.Blocks {
		s.ch <- b
	}
	close(s.ch)
	return s.ch, nil
}

func (s *SimulatedDevice) StopStreaming() error { return nil }
