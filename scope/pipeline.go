// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package scope

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/repara/rmeasure/config"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/registry"
)

// windowKey is the single registry key under which every segmented window
// is recorded. The scope pipeline segments kernels independently of the
// marker demultiplexer (it never learns a kernel's name — only its own
// pulse-channel reading), so occurrences are tracked purely positionally,
// matching the client's zip-by-order contract in Design Notes/§4.3.
const windowKey = "window"

// unsetPower is the sentinel used for min/max power before any sample has
// landed in a window.
const unsetPower = -1

// ChannelAccumulator is one channel's integrated statistics over a single
// kernel window.
type ChannelAccumulator struct {
	EnergyJoules   float64
	MinPowerWatts  float64
	MaxPowerWatts  float64
	ElapsedSeconds float64
}

// KernelResult maps a non-pulse channel's name to its accumulator for one
// segmented window.
type KernelResult map[string]ChannelAccumulator

// Pipeline runs the scope in streaming mode and segments it into per-kernel
// windows. It implements marker.Source so the demultiplexer can track its
// armed state and the "SS" disarm token, but BeginKernel/EndKernel are
// deliberately no-ops: window boundaries come from the pulse channel's own
// voltage reading, not from marker tokens, keeping the two mechanisms
// decoupled as the original source does (they are connected only by the
// physical pulse wire the demultiplexer's PulseEmitter drives).
type Pipeline struct {
	mu             sync.Mutex
	armed          bool
	device         Device
	channels       []config.ChannelConfig
	pulse          config.ChannelConfig
	nonPulse       []config.ChannelConfig
	filterMV       float64
	deltaT         float64 // seconds per sample, derived from sampleInterval/timeUnit
	sampleInterval int
	timeUnit       string
	allowRaw       bool

	reg          *registry.KernelRegistry[KernelResult]
	rawTraces    [][]byte
	wasInWindow  bool
	currentTrace *bytes.Buffer
	clampLogged  bool
}

// unitDivisor maps a pico.setSample time unit to its seconds-denominator,
// per Design Notes/§4.3's fs/ps/ns/µs/ms/s table.
func unitDivisor(unit string) (float64, error) {
	switch unit {
	case "fs":
		return 1e15, nil
	case "ps":
		return 1e12, nil
	case "ns":
		return 1e9, nil
	case "us", "µs":
		return 1e6, nil
	case "ms":
		return 1e3, nil
	case "s":
		return 1, nil
	default:
		return 0, fmt.Errorf("scope: unrecognized time unit %q", unit)
	}
}

// NewPipeline builds a scope pipeline. channels must contain exactly one
// entry with IsPulse set; all others are treated as power channels.
func NewPipeline(device Device, channels []config.ChannelConfig, filterMV, sampleRateHz float64, allowRaw bool) (*Pipeline, error) {
	var pulse config.ChannelConfig
	var nonPulse []config.ChannelConfig
	pulseFound := false
	for _, ch := range channels {
		if ch.IsPulse {
			if pulseFound {
				return nil, fmt.Errorf("scope: more than one channel has is_pulse set")
			}
			pulse = ch
			pulseFound = true
			continue
		}
		nonPulse = append(nonPulse, ch)
	}
	if !pulseFound {
		return nil, fmt.Errorf("scope: no channel has is_pulse set")
	}
	if sampleRateHz <= 0 {
		return nil, fmt.Errorf("scope: sample rate must be positive")
	}

	// sampleRateHz is expressed as a (interval, time-unit) pair in
	// milliseconds, matching pico.setSample's default of (1, "ms").
	interval := int(1000.0/sampleRateHz + 0.5)
	if interval < 1 {
		interval = 1
	}

	return &Pipeline{
		device:         device,
		channels:       channels,
		pulse:          pulse,
		nonPulse:       nonPulse,
		filterMV:       filterMV,
		deltaT:         1.0 / sampleRateHz,
		sampleInterval: interval,
		timeUnit:       "ms",
		allowRaw:       allowRaw,
		reg:            registry.New[KernelResult](),
	}, nil
}

// Name identifies this source to the demultiplexer and in logs.
func (p *Pipeline) Name() string { return "scope" }

// Arm enables the source; equivalent to scope.startListening. Reports
// false without changing state if the source was already armed. On a
// successful false->true transition, the kernel registry and all
// per-cycle window state are cleared so a prior cycle's results don't
// leak into the next.
func (p *Pipeline) Arm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.armed {
		return false
	}
	p.armed = true
	p.reg.Reset()
	p.rawTraces = nil
	p.wasInWindow = false
	p.currentTrace = nil
	p.clampLogged = false
	return true
}

// SetSample updates the configured (interval, time-unit) sampling pair
// used both to drive the device's hardware sample rate on the next Run
// and to compute deltaT, equivalent to pico.setSample. Rejects an
// unrecognized time unit, leaving the prior configuration in place.
func (p *Pipeline) SetSample(interval int, timeUnit string) error {
	divisor, err := unitDivisor(timeUnit)
	if err != nil {
		return err
	}
	if interval <= 0 {
		return fmt.Errorf("scope: sample interval must be positive")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.sampleInterval = interval
	p.timeUnit = timeUnit
	p.deltaT = float64(interval) / divisor
	return nil
}

// Armed reports whether the source currently accepts streaming.
func (p *Pipeline) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Disarm disables the source; equivalent to scope.stopListening. If a
// window is currently open it is discarded rather than appended, matching
// the "disarm mid-window" boundary scenario.
func (p *Pipeline) Disarm() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	was := p.armed
	p.armed = false
	if p.wasInWindow {
		p.reg.Discard(windowKey)
		p.wasInWindow = false
		p.currentTrace = nil
	}
	return was
}

// BeginKernel is a no-op: see the Pipeline doc comment.
func (p *Pipeline) BeginKernel(name string) {}

// EndKernel is a no-op: see the Pipeline doc comment.
func (p *Pipeline) EndKernel() {}

// Run opens the device, configures channels and sampling, and processes
// streamed blocks until the context is cancelled, the device autostops, or
// the pipeline is disarmed.
func (p *Pipeline) Run(ctx context.Context) error {
	info, err := p.device.Open(ctx)
	if err != nil {
		return fmt.Errorf("scope: open device: %w", err)
	}
	if !info.VariantKnown {
		logger.Warn().Str("variant", info.Variant).Msg("scope: unknown device variant, using default ranges")
	}
	if err := p.device.ConfigureChannels(p.channels); err != nil {
		return fmt.Errorf("scope: configure channels: %w", err)
	}
	p.mu.Lock()
	interval, timeUnit := p.sampleInterval, p.timeUnit
	p.mu.Unlock()
	if err := p.device.SetSample(interval, timeUnit); err != nil {
		return fmt.Errorf("scope: set sample: %w", err)
	}

	blocks, err := p.device.StartStreaming(ctx)
	if err != nil {
		return fmt.Errorf("scope: start streaming: %w", err)
	}
	defer p.device.StopStreaming()

	for {
		select {
		case <-ctx.Done():
			return nil
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			p.mu.Lock()
			p.processBlockLocked(block)
			stop := block.AutoStop || !p.armed
			p.mu.Unlock()
			if stop {
				return nil
			}
		}
	}
}

// processBlockLocked runs the per-sample state machine described in §4.3.
// Must be called with p.mu held.
func (p *Pipeline) processBlockLocked(block RawBlock) {
	for i := 0; i < block.Count; i++ {
		mv, clamped := rawToMillivolts(block.Pulse[i], p.pulse.RangeMV)
		if clamped {
			p.logClampOnce()
		}
		isInWindow := mv > p.filterMV

		switch {
		case !p.wasInWindow && isInWindow:
			p.beginWindowLocked()
			p.accumulateSampleLocked(block, i)
		case p.wasInWindow && !isInWindow:
			p.endWindowLocked()
		case p.wasInWindow && isInWindow:
			p.accumulateSampleLocked(block, i)
		}

		p.wasInWindow = isInWindow
	}
}

func (p *Pipeline) beginWindowLocked() {
	initial := make(KernelResult, len(p.nonPulse))
	for _, ch := range p.nonPulse {
		initial[ch.Name] = ChannelAccumulator{MinPowerWatts: unsetPower, MaxPowerWatts: unsetPower}
	}
	if err := p.reg.Begin(windowKey, initial); err != nil {
		logger.Warn().Err(err).Msg("scope: begin window while one already open")
	}
	if p.allowRaw {
		p.currentTrace = &bytes.Buffer{}
	}
}

func (p *Pipeline) endWindowLocked() {
	if _, err := p.reg.End(windowKey); err != nil {
		logger.Warn().Err(err).Msg("scope: end window without one open")
	}
	if p.allowRaw {
		trace := []byte{}
		if p.currentTrace != nil {
			trace = p.currentTrace.Bytes()
		}
		p.rawTraces = append(p.rawTraces, trace)
		p.currentTrace = nil
	}
}

func (p *Pipeline) accumulateSampleLocked(block RawBlock, i int) {
	for _, ch := range p.nonPulse {
		samples := block.Channels[ch.Name]
		if i >= len(samples) {
			continue
		}
		mv, clamped := rawToMillivolts(samples[i], ch.RangeMV)
		if clamped {
			p.logClampOnce()
		}
		supply := ch.SupplyV
		if supply == 0 {
			supply = 12
		}
		watts := (mv / ch.Gain / 1000) / ch.Resistance * supply

		if err := p.reg.Update(windowKey, func(kr KernelResult) KernelResult {
			acc := kr[ch.Name]
			acc.ElapsedSeconds += p.deltaT
			acc.EnergyJoules += watts * p.deltaT
			if acc.MinPowerWatts == unsetPower || watts < acc.MinPowerWatts {
				acc.MinPowerWatts = watts
			}
			if acc.MaxPowerWatts == unsetPower || watts > acc.MaxPowerWatts {
				acc.MaxPowerWatts = watts
			}
			kr[ch.Name] = acc
			return kr
		}); err != nil {
			logger.Warn().Err(err).Msg("scope: accumulate without an open window")
		}

		if p.allowRaw && p.currentTrace != nil {
			fmt.Fprintf(p.currentTrace, "%v;", watts)
		}
	}
}

func (p *Pipeline) logClampOnce() {
	if p.clampLogged {
		return
	}
	p.clampLogged = true
	logger.Warn().Msg("scope: raw ADC reading at or above full scale, clamped")
}

// rawToMillivolts converts a raw 16-bit ADC reading to millivolts given the
// channel's configured range, clamping at MaxADC. Grounded in §4.3.1.
func rawToMillivolts(raw int32, rangeMV int) (mv float64, clamped bool) {
	if raw >= MaxADC {
		raw = MaxADC
		clamped = true
	}
	mv = float64(raw) * float64(rangeMV) / float64(MaxADC)
	return mv, clamped
}

// Results returns every finalized window, in capture order.
func (p *Pipeline) Results() []KernelResult {
	return p.reg.Results(windowKey)
}

// AllResults is equivalent to Results: the scope registry tracks every
// window under the single windowKey, so the positional AllResults zip and
// the by-name Results lookup coincide. Provided for parity with
// socket.Counter/timer.Counter's pico.getValues wiring.
func (p *Pipeline) AllResults() []KernelResult {
	return p.reg.AllResults()
}

// RawTraces returns the per-window textual sample trace, if raw capture is
// enabled. Index i corresponds to Results()[i].
func (p *Pipeline) RawTraces() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.rawTraces))
	copy(out, p.rawTraces)
	return out
}

// ChannelNames returns the configured non-pulse channel names.
// pico.ChannelInfo reports from its own channel list, not from this method.
func (p *Pipeline) ChannelNames() []string {
	out := make([]string, len(p.nonPulse))
	for i, ch := range p.nonPulse {
		out[i] = ch.Name
	}
	return out
}
