// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package rmeasureclient is the in-process client library a launcher links
// against to arm measurement sources, run an instrumented workload, and
// collect results keyed by kernel name. Grounded in libRMeasure/Method.h,
// RaplMethod.cpp, PicoScopeMethod.cpp, and TimerMethod.cpp: each source gets
// one Method (arms a source and returns a Measurement) and one Measurement
// (stops the source and exposes its zipped, per-kernel results).
package rmeasureclient

import "github.com/repara/rmeasure/pkg/interfaces"

// DataMap maps a capability to the numeric value a source reported for it.
type DataMap map[interfaces.SourceCapability]float64

// SourceMap maps a component id (socket id, scope channel name, timer
// system id) to what it reported for one kernel occurrence.
type SourceMap map[string]DataMap

// KernelSourceMap maps a kernel name to every occurrence's SourceMap, in
// begin/end order.
type KernelSourceMap map[string][]SourceMap

// Per-source capability sets, grounded in SourceCapability.h's per-Method
// constructors (RaplMethod reports energy and elapsed time, TimerMethod
// elapsed time only, PicoScopeMethod energy/min/max power and elapsed time).
var (
	raplCapabilities  = interfaces.NewSourceCapabilities(interfaces.Energy, interfaces.ElapsedTime)
	timerCapabilities = interfaces.NewSourceCapabilities(interfaces.ElapsedTime)
	scopeCapabilities = interfaces.NewSourceCapabilities(
		interfaces.Energy, interfaces.MinimumPower, interfaces.MaximumPower, interfaces.ElapsedTime)
)

// Measurement is the stopped-and-queryable handle a Method.Start returns.
type Measurement interface {
	// Stop disarms the underlying source, fetches its results, and zips
	// them against the daemon's kernel name sequence.
	Stop() error
	// KernelSourceMap returns every kernel's results; meaningless before
	// Stop returns.
	KernelSourceMap() KernelSourceMap
	// AggregatedSources sums a kernel's occurrences element-wise into one
	// SourceMap per component id, per the aggregation law in spec.md §8.
	AggregatedSources(kernelName string) SourceMap
}

// zipNamesAndValues pairs each kernel name with its positionally-matching
// SourceMap, logging and dropping the mismatched tail per spec.md §4.3's
// Kernel-count mismatch rule.
func zipNamesAndValues(names []string, values []SourceMap, logMismatch func(names, values int)) KernelSourceMap {
	n := len(names)
	if len(values) < n {
		n = len(values)
	}
	if len(names) != len(values) && logMismatch != nil {
		logMismatch(len(names), len(values))
	}

	out := make(KernelSourceMap)
	for i := 0; i < n; i++ {
		out[names[i]] = append(out[names[i]], values[i])
	}
	return out
}

// aggregate sums a kernel's occurrences element-wise per component id,
// matching the aggregation law: summing independently-tracked occurrences
// of the same kernel name yields the same total as if they had been
// tracked as one occurrence.
func aggregate(occurrences []SourceMap) SourceMap {
	out := make(SourceMap)
	for _, occ := range occurrences {
		for component, data := range occ {
			acc, ok := out[component]
			if !ok {
				acc = make(DataMap, len(data))
			}
			for capKind, value := range data {
				acc[capKind] += value
			}
			out[component] = acc
		}
	}
	return out
}
