// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package interfaces

import (
	"context"
	"time"
)

// KernelSummary is a flattened, storage-friendly projection of a finalized
// kernel result: one row per (kernel, component, capability). It is written
// once a kernel's accumulator is frozen — never while samples are still
// arriving, and never for raw samples themselves.
type KernelSummary struct {
	Kernel      string
	Component   string // component id, e.g. "rapl.0" or "scope.ch0"
	Capability  string // SourceCapability.String(), e.g. "Energy"
	Value       float64
	CapturedAt  time.Time
}

// ResultSink defines the interface for persisting finalized kernel results.
// Implementations should handle their own retry/cache/circuit-breaker policy
// and never block the caller for longer than Flush allows.
type ResultSink interface {
	// WriteSummary persists one finalized kernel summary row.
	WriteSummary(summary *KernelSummary) error

	// WriteBatch persists multiple summary rows efficiently.
	WriteBatch(summaries []*KernelSummary) error

	// Flush ensures all pending writes are completed.
	Flush()

	// Close gracefully shuts down the sink.
	Close()

	// Health checks if the sink's backend is healthy.
	Health(ctx context.Context) error
}
