// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package timer implements the wall-clock elapsed-time source: the
// simplest of the three measurement sources, it records only the duration
// between a kernel's begin and end tokens against one configured system
// id. Grounded in libRMeasure/TimerMethod.cpp.
package timer

import (
	"sync"
	"time"

	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/registry"
)

// Accumulator is the elapsed wall-clock duration a kernel spent open,
// attributed to the configured system id.
type Accumulator struct {
	ElapsedSeconds float64
}

// KernelResult maps the system id to its accumulator for one kernel
// occurrence; a single-entry map for parity with socket.KernelResult and
// scope.KernelResult, which both key by component/channel name.
type KernelResult map[string]Accumulator

// Counter is the timer source: it implements marker.Source so the
// demultiplexer can arm/disarm and begin/end it.
type Counter struct {
	mu            sync.Mutex
	armed         bool
	systemID      string
	currentKernel string
	startedAt     time.Time
	reg           *registry.KernelRegistry[KernelResult]
}

// NewCounter builds a timer source reporting under systemID, starting
// disarmed.
func NewCounter(systemID string) *Counter {
	return &Counter{
		systemID: systemID,
		reg:      registry.New[KernelResult](),
	}
}

// Name identifies this source to the demultiplexer and in logs.
func (c *Counter) Name() string { return "timer" }

// Arm enables the source; equivalent to timer.startListening. Reports
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

// Armed reports whether the source currently accepts begin/end.
func (c *Counter) Armed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armed
}

// Disarm disables the source; equivalent to timer.stopListening. Returns
// whether it had been armed.
func (c *Counter) Disarm() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	was := c.armed
	c.armed = false
	return was
}

// BeginKernel opens a fresh zero accumulator for name and records the start
// time.
func (c *Counter) BeginKernel(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.reg.Begin(name, KernelResult{c.systemID: {}}); err != nil {
		logger.Warn().Err(err).Str("kernel", name).Msg("timer: begin on already-open kernel")
		return
	}
	c.currentKernel = name
	c.startedAt = time.Now()
}

// EndKernel computes the elapsed duration since begin and freezes the
// kernel's result.
func (c *Counter) EndKernel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentKernel == "" {
		return
	}

	elapsed := time.Since(c.startedAt).Seconds()
	name := c.currentKernel
	if err := c.reg.Update(name, func(kr KernelResult) KernelResult {
		kr[c.systemID] = Accumulator{ElapsedSeconds: elapsed}
		return kr
	}); err != nil {
		logger.Warn().Err(err).Str("kernel", name).Msg("timer: update on closed kernel")
	}
	if _, err := c.reg.End(name); err != nil {
		logger.Warn().Err(err).Str("kernel", name).Msg("timer: end without open kernel")
	}
	c.currentKernel = ""
}

// Results returns every finalized per-occurrence result for the named
// kernel, in begin/end order.
func (c *Counter) Results(name string) []KernelResult {
	return c.reg.Results(name)
}

// SystemID returns the configured component id, for
// timer.getMeasuredSystemId.
func (c *Counter) SystemID() string { return c.systemID }

// KernelNames returns the kernel name for each begin call, in order,
// including repeats; for rmeasure.getMeasuredKernels.
func (c *Counter) KernelNames() []string {
	return c.reg.KernelNames()
}

// AllResults returns every finalized result in begin order, positionally
// matching KernelNames; for timer.getMeasuredData.
func (c *Counter) AllResults() []KernelResult {
	return c.reg.AllResults()
}
