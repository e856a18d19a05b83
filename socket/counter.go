// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package socket

import (
	"sync"
	"time"

	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/registry"
)

// Descriptor names one configured socket: ComponentID is the
// externally-meaningful hardware-description reference, LeadCore is the
// logical CPU index whose MSR is read on its behalf.
type Descriptor struct {
	ComponentID string
	LeadCore    int
}

// Accumulator is the per-kernel, per-socket cumulative energy and elapsed
// time, non-decreasing for the lifetime of a kernel window.
type Accumulator struct {
	EnergyJoules float64
	ElapsedNanos uint64
}

// KernelResult maps a socket's component id to its accumulator for one
// kernel occurrence.
type KernelResult map[string]Accumulator

type sampleState struct {
	lastRawJoules float64
	lastTime      time.Time
}

// Counter is the socket energy source: it implements marker.Source (so the
// demultiplexer can arm/disarm and begin/end it) and marker.Refresher (so
// the 60s refresh timer can bound wrap exposure while a kernel is open).
type Counter struct {
	mu            sync.Mutex
	armed         bool
	currentKernel string
	sockets       []Descriptor
	reader        MSRReader
	reg           *registry.KernelRegistry[KernelResult]
	lastSample    map[string]sampleState
	loggedFailure map[string]bool
}

// NewCounter builds a socket energy counter over the given descriptors,
// starting disarmed.
func NewCounter(sockets []Descriptor, reader MSRReader) *Counter {
	return &Counter{
		sockets:       sockets,
		reader:        reader,
		reg:           registry.New[KernelResult](),
		lastSample:    make(map[string]sampleState),
		loggedFailure: make(map[string]bool),
	}
}

// Name identifies this source to the demultiplexer and in logs.
func (c *Counter) Name() string { return "rapl" }

// Arm enables the source; equivalent to rapl.startListening. Reports
// false without changing state if the source was already armed. On a
// successful false->true transition, the kernel registry is cleared so
// a prior cycle's results don't leak into the next.
func (c *Counter) Arm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.armed {
		return false
	}
	c.armed = true
	c.reg.Reset()
	return true
}

// Armed reports whether the source currently accepts begin/end/refresh.
func (c *Counter) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Disarm disables the source; equivalent to rapl.stopListening. Returns
// whether it had been armed.
func (c *Counter) Disarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.armed
	c.armed = false
	return was
}

// BeginKernel opens a fresh zero accumulator for name and captures a
// baseline register reading without computing a delta, matching
// RaplCounter::calculate(isBegin=true).
func (c *Counter) BeginKernel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.reg.Begin(name, KernelResult{}); err != nil {
		logger.Warn().Err(err).Str("kernel", name).Msg("socket: begin on already-open kernel")
	}
	c.currentKernel = name
	c.lastSample = make(map[string]sampleState)
	c.sampleLocked(false)
}

// EndKernel takes a final delta sample and freezes the kernel's result.
func (c *Counter) EndKernel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sampleLocked(true)
	if _, err := c.reg.End(c.currentKernel); err != nil {
		logger.Warn().Err(err).Str("kernel", c.currentKernel).Msg("socket: end without open kernel")
	}
	c.currentKernel = ""
}

// Refresh takes an interposed delta sample, bounding register-wrap exposure
// between marker-driven samples. A no-op if no kernel is currently open.
func (c *Counter) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentKernel == "" {
		return
	}
	c.sampleLocked(true)
}

// sampleLocked reads every configured socket's registers once, updates the
// open kernel's accumulator (if applyDelta), and records the new baseline.
// Must be called with c.mu held.
func (c *Counter) sampleLocked(applyDelta bool) {
	now := time.Now()
	for _, s := range c.sockets {
		powerUnitReg, err := c.reader.ReadMSR(s.LeadCore, msrRaplPowerUnit)
		if err != nil {
			c.logFailureOnce(s.ComponentID, err)
			continue
		}
		energyStatusReg, err := c.reader.ReadMSR(s.LeadCore, msrPkgEnergyStatus)
		if err != nil {
			c.logFailureOnce(s.ComponentID, err)
			continue
		}

		unit := energyUnitJoules(powerUnitReg)
		rawJoules := float64(energyStatusReg&0xFFFFFFFF) * unit

		prev, had := c.lastSample[s.ComponentID]
		if applyDelta && had {
			var delta float64
			if rawJoules < prev.lastRawJoules {
				delta = (wrapCeiling(unit) - prev.lastRawJoules) + rawJoules
			} else {
				delta = rawJoules - prev.lastRawJoules
			}
			elapsed := uint64(now.Sub(prev.lastTime).Nanoseconds())

			if err := c.reg.Update(c.currentKernel, func(kr KernelResult) KernelResult {
				acc := kr[s.ComponentID]
				acc.EnergyJoules += delta
				acc.ElapsedNanos += elapsed
				kr[s.ComponentID] = acc
				return kr
			}); err != nil {
				logger.Warn().Err(err).Str("kernel", c.currentKernel).Msg("socket: update on closed kernel")
			}
		}

		c.lastSample[s.ComponentID] = sampleState{lastRawJoules: rawJoules, lastTime: now}
	}
}

func (c *Counter) logFailureOnce(componentID string, err error) {
	if c.loggedFailure[componentID] {
		return
	}
	c.loggedFailure[componentID] = true
	logger.Warn().Err(err).Str("socket", componentID).Msg("socket: register read failed, skipping sample")
}

// Results returns every finalized per-occurrence result for the named
// kernel, in begin/end order.
func (c *Counter) Results(name string) []KernelResult {
	return c.reg.Results(name)
}

// KernelNames returns the kernel name for each begin call, in order,
// including repeats; for rmeasure.getMeasuredKernels.
func (c *Counter) KernelNames() []string {
	return c.reg.KernelNames()
}

// AllResults returns every finalized result in begin order, positionally
// matching KernelNames; for rapl.getMeasuredData.
func (c *Counter) AllResults() []KernelResult {
	return c.reg.AllResults()
}

// Processors returns the component ids of every configured socket, for
// rapl.getMeasuredProcessors.
func (c *Counter) Processors() []string {
	out := make([]string, len(c.sockets))
	for i, s := range c.sockets {
		out[i] = s.ComponentID
	}
	return out
}
