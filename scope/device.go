// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package scope implements the oscilloscope streaming pipeline: it runs the
// scope in streaming mode, segments the continuous output into per-kernel
// windows using the pulse channel, and integrates per-channel energy and
// power statistics on the fly. Grounded in PicoScopeMethod.cpp and
// ScopeControlService's streaming callback.
package scope

import (
	"context"

	"github.com/repara/rmeasure/config"
)

// MaxADC is the full-scale 16-bit signed sample value the device reports;
// raw readings at or above it are clamped before conversion.
const MaxADC = 32767

// RawBlock is one contiguous poll of fresh samples across all enabled
// channels. It replaces the original's process-global
// (g_startIndex, g_sampleCount, g_autoStop) triple with a single value
// published on a channel — see Design Notes on message passing.
type RawBlock struct {
	StartIndex int
	Count      int
	AutoStop   bool
	Pulse      []int32            // raw pulse-channel samples (min buffer), len == Count
	Channels   map[string][]int32 // raw per non-pulse channel samples (min buffer), len == Count each
}

// Info is the static device description surfaced by pico.getScopeInfo.
type Info struct {
	Variant      string
	VariantKnown bool
	Description  string
}

// Device abstracts the oscilloscope hardware binding so the pipeline can be
// driven by a simulator in tests and by a real SDK binding in production.
type Device interface {
	// Open connects to the device and returns its static info.
	Open(ctx context.Context) (Info, error)
	// Close disconnects from the device.
	Close() error
	// ConfigureChannels sets coupling, range, enabled flag, and analog
	// offset for each channel.
	ConfigureChannels(channels []config.ChannelConfig) error
	// SetSample configures the (interval, time unit) sampling pair.
	SetSample(interval int, timeUnit string) error
	// StartStreaming begins aggregate-min/max streaming and returns a
	// channel of RawBlock published once per poll. The channel is closed
	// when streaming stops (autostop or StopStreaming).
	StartStreaming(ctx context.Context) (<-chan RawBlock, error)
	// StopStreaming halts streaming and commands the device to stop.
	StopStreaming() error
}
