// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package scopeapp

import (
	"fmt"
	"time"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/scope"
)

// journalPollInterval mirrors rmeasureapp's poll cadence: scope.Pipeline
// has no push notification for a newly segmented window either.
const journalPollInterval = 5 * time.Second

// kernelJournal drains newly segmented oscilloscope windows into the
// result sink. scope.Pipeline segments windows from the pulse channel
// rather than from marker begin/end tokens, so it has no kernel name to
// report for a window — this daemon labels each by its position instead
// ("window-0", "window-1", ...), distinct from the marker-driven kernel
// names cmd/rmeasured's journal uses.
type kernelJournal struct {
	pipeline *scope.Pipeline
	sink     interfaces.ResultSink

	seen int
}

func newKernelJournal(pipeline *scope.Pipeline, sink interfaces.ResultSink) *kernelJournal {
	return &kernelJournal{pipeline: pipeline, sink: sink}
}

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
	results := j.pipeline.AllResults()

	var summaries []*interfaces.KernelSummary
	for i := j.seen; i < len(results); i++ {
		summaries = append(summaries, windowSummaries(fmt.Sprintf("window-%d", i), results[i], now)...)
	}
	j.seen = len(results)

	if len(summaries) == 0 {
		return
	}

	if err := j.sink.WriteBatch(summaries); err != nil {
		logger.Warn().Err(err).Int("count", len(summaries)).Msg("journal: result sink write failed")
	}
}

func windowSummaries(window string, result scope.KernelResult, capturedAt time.Time) []*interfaces.KernelSummary {
	out := make([]*interfaces.KernelSummary, 0, len(result)*4)
	for channel, acc := range result {
		out = append(out,
			&interfaces.KernelSummary{Kernel: window, Component: channel, Capability: interfaces.Energy.String(), Value: acc.EnergyJoules, CapturedAt: capturedAt},
			&interfaces.KernelSummary{Kernel: window, Component: channel, Capability: interfaces.MinimumPower.String(), Value: acc.MinPowerWatts, CapturedAt: capturedAt},
			&interfaces.KernelSummary{Kernel: window, Component: channel, Capability: interfaces.MaximumPower.String(), Value: acc.MaxPowerWatts, CapturedAt: capturedAt},
			&interfaces.KernelSummary{Kernel: window, Component: channel, Capability: interfaces.ElapsedTime.String(), Value: acc.ElapsedSeconds, CapturedAt: capturedAt},
		)
	}
	return out
}
