// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureapp

import (
	"time"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/socket"
	"github.com/repara/rmeasure/timer"
)

// journalPollInterval is how often newly finalized kernel occurrences are
// drained into the result sink. Neither socket.Counter nor timer.Counter
// push notifications when EndKernel freezes a result, so the sink has to
// poll KernelNames()/AllResults() for growth instead.
const journalPollInterval = 5 * time.Second

// kernelJournal watches a socket.Counter and a timer.Counter for newly
// finalized kernel occurrences and writes one interfaces.KernelSummary row
// per (kernel, component, capability) to a result sink. Either counter may
// be nil if the daemon wasn't configured with it.
type kernelJournal struct {
	rapl  *socket.Counter
	timer *timer.Counter
	sink  interfaces.ResultSink

	raplSeen  int
	timerSeen int
}

func newKernelJournal(rapl *socket.Counter, tc *timer.Counter, sink interfaces.ResultSink) *kernelJournal {
	return &kernelJournal{rapl: rapl, timer: tc, sink: sink}
}

// run polls until stop is closed, draining newly finalized results on each
// tick and once more before returning so nothing finalized just before
// shutdown is lost.
func (j *kernelJournal) run(stop <-chan struct{}) {
	ticker := time.NewTicker(journalPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			j.drain()
			return
		case <-ticker.C:
			j.drain()
		}
	}
}

func (j *kernelJournal) drain() {
	now := time.Now()
	var summaries []*interfaces.KernelSummary

	if j.rapl != nil {
		names := j.rapl.KernelNames()
		results := j.rapl.AllResults()
		n := len(names)
		if len(results) < n {
			n = len(results)
		}
		for i := j.raplSeen; i < n; i++ {
			summaries = append(summaries, raplSummaries(names[i], results[i], now)...)
		}
		j.raplSeen = n
	}

	if j.timer != nil {
		names := j.timer.KernelNames()
		results := j.timer.AllResults()
		n := len(names)
		if len(results) < n {
			n = len(results)
		}
		for i := j.timerSeen; i < n; i++ {
			summaries = append(summaries, timerSummaries(names[i], results[i], now)...)
		}
		j.timerSeen = n
	}

	if len(summaries) == 0 {
		return
	}

	if err := j.sink.WriteBatch(summaries); err != nil {
		logger.Warn().Err(err).Int("count", len(summaries)).Msg("journal: result sink write failed")
	}
}

func raplSummaries(kernel string, result socket.KernelResult, capturedAt time.Time) []*interfaces.KernelSummary {
	out := make([]*interfaces.KernelSummary, 0, len(result)*2)
	for component, acc := range result {
		out = append(out,
			&interfaces.KernelSummary{
				Kernel:     kernel,
				Component:  component,
				Capability: interfaces.Energy.String(),
				Value:      acc.EnergyJoules,
				CapturedAt: capturedAt,
			},
			&interfaces.KernelSummary{
				Kernel:     kernel,
				Component:  component,
				Capability: interfaces.ElapsedTime.String(),
				Value:      float64(acc.ElapsedNanos) / 1e9,
				CapturedAt: capturedAt,
			},
		)
	}
	return out
}

func timerSummaries(kernel string, result timer.KernelResult, capturedAt time.Time) []*interfaces.KernelSummary {
	out := make([]*interfaces.KernelSummary, 0, len(result))
	for component, acc := range result {
		out = append(out, &interfaces.KernelSummary{
			Kernel:     kernel,
			Component:  component,
			Capability: interfaces.ElapsedTime.String(),
			Value:      acc.ElapsedSeconds,
			CapturedAt: capturedAt,
		})
	}
	return out
}
