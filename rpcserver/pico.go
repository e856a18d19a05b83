// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rpcserver

import (
	"context"
	"sync"

	"github.com/repara/rmeasure/config"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/scope"
)

// ScopeInfoReply carries pico.getScopeInfo's static device description.
type ScopeInfoReply struct {
	Variant      string
	VariantKnown bool
	Description  string
}

// ChannelInfoWire is one channel's configured conversion settings.
type ChannelInfoWire struct {
	Name       string
	RangeMV    int
	Gain       float64
	Resistance float64
	SupplyV    float64
	IsPulse    bool
}

// ChannelInfoReply carries pico.channelInfo's per-channel settings.
type ChannelInfoReply struct {
	Channels []ChannelInfoWire
}

// SetSampleArgs carries pico.setSample's (interval, time-unit) pair.
type SetSampleArgs struct {
	IntervalMS int
	TimeUnit   string
}

// ScopeResultsReply carries pico.getValues' per-window array.
type ScopeResultsReply struct {
	Windows []ScopeWindowWire
}

// ScopeWindowWire is one segmented kernel window's per-channel statistics.
type ScopeWindowWire struct {
	Channels []ScopeChannelWire
}

// ScopeChannelWire is one channel's integrated statistics within a window.
type ScopeChannelWire struct {
	ChannelName    string
	EnergyJoules   float64
	MinPowerWatts  float64
	MaxPowerWatts  float64
	ElapsedSeconds float64
}

// PicoService exposes a scope.Device and its scope.Pipeline as pico.*: the
// device lifecycle (open/close/info/configure) is separate from the
// pipeline's streaming lifecycle (start/stop streaming, fetch results),
// matching the method table's split between the two concerns. Open/Close
// operate the device directly; StartStreaming/StopStreaming run the
// pipeline's own Run loop, which re-opens/configures the device itself
// (both are idempotent against the devices this daemon targets).
type PicoService struct {
	device   scope.Device
	pipeline *scope.Pipeline
	channels []config.ChannelConfig

	mu     sync.Mutex
	info   ScopeInfoReply
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPicoService wraps device and pipeline for registration under the
// "Pico" name.
func NewPicoService(device scope.Device, pipeline *scope.Pipeline, channels []config.ChannelConfig) *PicoService {
	return &PicoService{device: device, pipeline: pipeline, channels: channels}
}

// Open connects to the scope hardware and caches its static info.
func (s *PicoService) Open(args *Empty, reply *BoolReply) error {
	return timedCall("pico.Open", func() error {
		info, err := s.device.Open(context.Background())
		if err != nil {
			reply.OK = false
			return err
		}
		s.mu.Lock()
		s.info = ScopeInfoReply{Variant: info.Variant, VariantKnown: info.VariantKnown, Description: info.Description}
		s.mu.Unlock()
		reply.OK = true
		return nil
	})
}

// Close disconnects from the scope hardware.
func (s *PicoService) Close(args *Empty, reply *BoolReply) error {
	return timedCall("pico.Close", func() error {
		if err := s.device.Close(); err != nil {
			reply.OK = false
			return err
		}
		reply.OK = true
		return nil
	})
}

// GetScopeInfo returns the static device description cached at Open.
func (s *PicoService) GetScopeInfo(args *Empty, reply *ScopeInfoReply) error {
	return timedCall("pico.GetScopeInfo", func() error {
		s.mu.Lock()
		*reply = s.info
		s.mu.Unlock()
		return nil
	})
}

// ChannelInfo returns every configured channel's conversion settings.
func (s *PicoService) ChannelInfo(args *Empty, reply *ChannelInfoReply) error {
	return timedCall("pico.ChannelInfo", func() error {
		channels := make([]ChannelInfoWire, len(s.channels))
		for i, ch := range s.channels {
			channels[i] = ChannelInfoWire{
				Name:       ch.Name,
				RangeMV:    ch.RangeMV,
				Gain:       ch.Gain,
				Resistance: ch.Resistance,
				SupplyV:    ch.SupplyV,
				IsPulse:    ch.IsPulse,
			}
		}
		reply.Channels = channels
		return nil
	})
}

// SetSample configures the pipeline's (interval, time-unit) sampling pair.
// The pipeline is the single source of truth for deltaT and applies the
// same configuration to the device's hardware sample rate on the next
// StartStreaming, so a client's setSample call takes effect whether or not
// streaming is currently running.
func (s *PicoService) SetSample(args *SetSampleArgs, reply *BoolReply) error {
	return timedCall("pico.SetSample", func() error {
		if err := s.pipeline.SetSample(args.IntervalMS, args.TimeUnit); err != nil {
			reply.OK = false
			return err
		}
		reply.OK = true
		return nil
	})
}

// StartStreaming arms the pipeline and runs its streaming loop on a
// background goroutine until StopStreaming, autostop, or disarm.
func (s *PicoService) StartStreaming(args *Empty, reply *BoolReply) error {
	return timedCall("pico.StartStreaming", func() error {
		s.mu.Lock()
		if s.cancel != nil {
			s.mu.Unlock()
			reply.OK = false
			return nil
		}
		if !s.pipeline.Arm() {
			s.mu.Unlock()
			reply.OK = false
			return nil
		}
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		done := make(chan struct{})
		s.done = done
		s.mu.Unlock()

		go func() {
			defer close(done)
			if err := s.pipeline.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("pico: streaming pipeline exited with error")
			}
		}()
		reply.OK = true
		return nil
	})
}

// StopStreaming disarms the pipeline and waits for its Run loop to return.
func (s *PicoService) StopStreaming(args *Empty, reply *BoolReply) error {
	return timedCall("pico.StopStreaming", func() error {
		s.mu.Lock()
		cancel := s.cancel
		done := s.done
		s.cancel = nil
		s.done = nil
		s.mu.Unlock()

		was := s.pipeline.Disarm()
		if cancel != nil {
			cancel()
			<-done
		}
		reply.OK = was
		return nil
	})
}

// GetValues fetches every segmented window's per-channel statistics, in
// capture order.
func (s *PicoService) GetValues(args *Empty, reply *ScopeResultsReply) error {
	return timedCall("pico.GetValues", func() error {
		results := s.pipeline.AllResults()
		windows := make([]ScopeWindowWire, len(results))
		for i, kr := range results {
			windows[i] = toScopeWindowWire(kr)
		}
		reply.Windows = windows
		return nil
	})
}

// RawData fetches the per-window textual sample trace, if raw capture was
// enabled; index i corresponds to GetValues' Windows[i].
func (s *PicoService) RawData(args *Empty, reply *StringsReply) error {
	return timedCall("pico.RawData", func() error {
		traces := s.pipeline.RawTraces()
		out := make([]string, len(traces))
		for i, t := range traces {
			out[i] = string(t)
		}
		reply.Values = out
		return nil
	})
}

func toScopeWindowWire(kr scope.KernelResult) ScopeWindowWire {
	out := ScopeWindowWire{Channels: make([]ScopeChannelWire, 0, len(kr))}
	for name, acc := range kr {
		out.Channels = append(out.Channels, ScopeChannelWire{
			ChannelName:    name,
			EnergyJoules:   acc.EnergyJoules,
			MinPowerWatts:  acc.MinPowerWatts,
			MaxPowerWatts:  acc.MaxPowerWatts,
			ElapsedSeconds: acc.ElapsedSeconds,
		})
	}
	return out
}
