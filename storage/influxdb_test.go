// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/repara/rmeasure/pkg/interfaces"
)

func TestNewInfluxDBStorage_InvalidURL(t *testing.T) {
	storage, err := NewInfluxDBStorage("", "token", "org", "bucket")
	if err == nil {
		t.Error("NewInfluxDBStorage() should fail with empty URL")
	}
	if storage != nil {
		storage.Close()
		t.Error("NewInfluxDBStorage() should return nil storage on error")
	}
}

func TestNewInfluxDBStorage_ConnectionTimeout(t *testing.T) {
	storage, err := NewInfluxDBStorage("http://invalid-host-that-does-not-exist:8086", "token", "org", "bucket")
	if err == nil {
		t.Error("NewInfluxDBStorage() should fail with unreachable host")
	}
	if storage != nil {
		storage.Close()
		t.Error("NewInfluxDBStorage() should return nil storage on connection error")
	}
}

func testKernelSummary(kernel string) *interfaces.KernelSummary {
	return &interfaces.KernelSummary{
		Kernel:     kernel,
		Component:  "rapl.0",
		Capability: interfaces.Energy.String(),
		Value:      12.5,
		CapturedAt: time.Now(),
	}
}

func TestWriteSummary_NilSummary(t *testing.T) {
	s := &InfluxDBStorage{}
	if err := s.WriteSummary(nil); err == nil {
		t.Error("WriteSummary(nil) should return an error")
	}
}

func TestWriteSummary_EmptyKernel(t *testing.T) {
	s := &InfluxDBStorage{}
	summary := testKernelSummary("")
	if err := s.WriteSummary(summary); err == nil {
		t.Error("WriteSummary() with empty kernel should return an error")
	}
}

func TestWriteSummary_ZeroCapturedAt(t *testing.T) {
	s := &InfluxDBStorage{}
	summary := testKernelSummary("vecadd")
	summary.CapturedAt = time.Time{}
	if err := s.WriteSummary(summary); err == nil {
		t.Error("WriteSummary() with zero CapturedAt should return an error")
	}
}

func TestWriteBatch_NilSlice(t *testing.T) {
	s := &InfluxDBStorage{}
	if err := s.WriteBatch(nil); err == nil {
		t.Error("WriteBatch(nil) should return an error")
	}
}

func TestWriteBatch_PropagatesElementError(t *testing.T) {
	s := &InfluxDBStorage{}
	batch := []*interfaces.KernelSummary{nil, testKernelSummary("vecadd")}
	if err := s.WriteBatch(batch); err == nil {
		t.Error("WriteBatch() should fail when one element is invalid")
	}
}

func TestSanitizeFluxString(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "kernel-0", "kernel-0"},
		{"quote", `has"quote`, `has\"quote`},
		{"backslash", `has\backslash`, `has\\backslash`},
		{"both", `"\`, `\"\\`},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizeFluxString(tt.input); got != tt.want {
				t.Errorf("sanitizeFluxString(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestQueryLatestSummary_EmptyKernel(t *testing.T) {
	s := &InfluxDBStorage{}
	if _, err := s.QueryLatestSummary(context.Background(), "", "rapl.0", "Energy"); err == nil {
		t.Error("QueryLatestSummary() with empty kernel should return an error")
	}
}
