// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package timer

import (
	"testing"
	"time"
)

func TestSingleKernelElapsedTime(t *testing.T) {
	c := NewCounter("host0")
	c.Arm()

	c.BeginKernel("k1")
	time.Sleep(5 * time.Millisecond)
	c.EndKernel()

	results := c.Results("k1")
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}
	acc := results[0]["host0"]
	if acc.ElapsedSeconds <= 0 {
		t.Fatalf("expected positive elapsed time, got %v", acc.ElapsedSeconds)
	}
}

func TestSerialKernelsIndependentResults(t *testing.T) {
	c := NewCounter("host0")
	c.Arm()

	c.BeginKernel("loop")
	c.EndKernel()
	c.BeginKernel("loop")
	c.EndKernel()

	results := c.Results("loop")
	if len(results) != 2 {
		t.Fatalf("expected two occurrences, got %d", len(results))
	}
}

func TestEndWithoutBeginIsNoOp(t *testing.T) {
	c := NewCounter("host0")
	c.Arm()
	c.EndKernel()

	if len(c.Results("anything")) != 0 {
		t.Fatalf("expected no results from an end without a begin")
	}
}

func TestArmRejectsDoubleArm(t *testing.T) {
	c := NewCounter("host0")
	if !c.Arm() {
		t.Fatalf("first Arm should report true")
	}
	if c.Arm() {
		t.Fatalf("arming an already-armed counter should report false")
	}
}

func TestReArmClearsStaleResults(t *testing.T) {
	c := NewCounter("host0")
	c.Arm()
	c.BeginKernel("k1")
	c.EndKernel()

	if len(c.Results("k1")) != 1 {
		t.Fatalf("expected one finalized result before re-arm")
	}

	c.Disarm()
	c.Arm()

	if len(c.Results("k1")) != 0 {
		t.Fatalf("expected re-arm to clear stale results, got %d", len(c.Results("k1")))
	}
	if len(c.AllResults()) != 0 {
		t.Fatalf("expected AllResults cleared on re-arm too, got %d", len(c.AllResults()))
	}
}

func TestDisarmReportsPreviousState(t *testing.T) {
	c := NewCounter("host0")
	if c.Disarm() {
		t.Fatalf("expected Disarm to report false when never armed")
	}
	c.Arm()
	if !c.Disarm() {
		t.Fatalf("expected Disarm to report true when armed")
	}
}

func TestSystemIDReturnsConfiguredValue(t *testing.T) {
	c := NewCounter("host0")
	if c.SystemID() != "host0" {
		t.Fatalf("expected SystemID to return the configured value")
	}
}
