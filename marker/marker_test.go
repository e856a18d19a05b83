// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package marker

import (
	"context"
	"sync"
	"testing"
	"time"
)

// fakeSource is a test double for Source that records the sequence of
// begin/end calls it receives and can be armed/disarmed at will.
type fakeSource struct {
	mu        sync.Mutex
	name      string
	armed     bool
	begins    []string
	ends      int
	refreshed int
}

func newFakeSource(name string) *fakeSource {
	return &fakeSource{name: name, armed: true}
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed
}

func (f *fakeSource) BeginKernel(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.begins = append(f.begins, name)
}

func (f *fakeSource) EndKernel() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ends++
}

func (f *fakeSource) Disarm() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	was := f.armed
	f.armed = false
	return was
}

func (f *fakeSource) Refresh() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed++
}

func (f *fakeSource) snapshot() (begins []string, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.begins))
	copy(out, f.begins)
	return out, f.ends
}

func newTestDemultiplexer(pulse *RecordingEmitter) (*Demultiplexer, *fakeSource) {
	rapl := newFakeSource("rapl")
	d := New("/unused", 0, pulse)
	d.Rapl = rapl
	return d, rapl
}

func TestDispatchBeginEnd(t *testing.T) {
	pulse := &RecordingEmitter{}
	d, rapl := newTestDemultiplexer(pulse)

	d.dispatch("B:mykernel")
	d.dispatch("E")

	begins, ends := rapl.snapshot()
	if len(begins) != 1 || begins[0] != "mykernel" {
		t.Fatalf("expected one begin for mykernel, got %v", begins)
	}
	if ends != 1 {
		t.Fatalf("expected one end, got %d", ends)
	}
	if edges := pulse.Snapshot(); len(edges) != 2 || !edges[0] || edges[1] {
		t.Fatalf("expected raise then lower, got %v", edges)
	}
}

func TestDispatchSerialKernelsSameName(t *testing.T) {
	pulse := &RecordingEmitter{}
	d, rapl := newTestDemultiplexer(pulse)

	d.dispatch("B:loop")
	d.dispatch("E")
	d.dispatch("B:loop")
	d.dispatch("E")

	begins, ends := rapl.snapshot()
	if len(begins) != 2 || begins[0] != "loop" || begins[1] != "loop" {
		t.Fatalf("expected two begins for loop, got %v", begins)
	}
	if ends != 2 {
		t.Fatalf("expected two ends, got %d", ends)
	}
}

func TestDispatchEmptyTokenIsNoOp(t *testing.T) {
	pulse := &RecordingEmitter{}
	d, rapl := newTestDemultiplexer(pulse)

	d.dispatch("")

	begins, ends := rapl.snapshot()
	if len(begins) != 0 || ends != 0 {
		t.Fatalf("expected no effect from empty token, got begins=%v ends=%d", begins, ends)
	}
	if len(pulse.Snapshot()) != 0 {
		t.Fatalf("expected no pulse edges from empty token")
	}
}

func TestDispatchEmptyNameDefaultsToUnknown(t *testing.T) {
	pulse := &RecordingEmitter{}
	d, rapl := newTestDemultiplexer(pulse)

	d.dispatch("B:")

	begins, _ := rapl.snapshot()
	if len(begins) != 1 || begins[0] != "unknown" {
		t.Fatalf("expected begin with name \"unknown\", got %v", begins)
	}
}

func TestDispatchEndWithoutBeginIsNoOp(t *testing.T) {
	pulse := &RecordingEmitter{}
	d, rapl := newTestDemultiplexer(pulse)

	d.dispatch("E")

	_, ends := rapl.snapshot()
	if ends != 0 {
		t.Fatalf("expected no end call without a preceding begin, got %d", ends)
	}
	if len(pulse.Snapshot()) != 0 {
		t.Fatalf("expected no pulse edge for a bare E with no open window")
	}
}

func TestDispatchUnknownTokenLoggedOnce(t *testing.T) {
	d, rapl := newTestDemultiplexer(nil)

	d.dispatch("GARBAGE")
	d.dispatch("GARBAGE")

	if !d.loggedUnknown["GARBAGE"] {
		t.Fatalf("expected GARBAGE to be recorded as logged")
	}
	begins, ends := rapl.snapshot()
	if len(begins) != 0 || ends != 0 {
		t.Fatalf("unknown token must not affect sources")
	}
}

func TestDispatchDisarmTokens(t *testing.T) {
	scope := newFakeSource("scope")
	rapl := newFakeSource("rapl")
	timer := newFakeSource("timer")
	d := New("/unused", 0, nil)
	d.Scope, d.Rapl, d.Timer = scope, rapl, timer

	d.dispatch("SS")
	if scope.Armed() {
		t.Fatalf("expected SS to disarm the scope source")
	}
	if !rapl.Armed() || !timer.Armed() {
		t.Fatalf("SS must not disarm other sources")
	}

	d.dispatch("SR")
	if rapl.Armed() {
		t.Fatalf("expected SR to disarm the rapl source")
	}

	d.dispatch("ST")
	if timer.Armed() {
		t.Fatalf("expected ST to disarm the timer source")
	}
}

func TestHandleBeginOnlyDrivesArmedSources(t *testing.T) {
	scope := newFakeSource("scope")
	rapl := newFakeSource("rapl")
	scope.Disarm()

	d := New("/unused", 0, nil)
	d.Scope, d.Rapl = scope, rapl

	d.dispatch("B:k")

	sBegins, _ := scope.snapshot()
	rBegins, _ := rapl.snapshot()
	if len(sBegins) != 0 {
		t.Fatalf("disarmed scope source must not receive BeginKernel")
	}
	if len(rBegins) != 1 {
		t.Fatalf("armed rapl source must receive BeginKernel")
	}
}

func TestAnyArmedReflectsAllSourcesDisarmed(t *testing.T) {
	rapl := newFakeSource("rapl")
	d := New("/unused", 0, nil)
	d.Rapl = rapl

	if !d.anyArmed() {
		t.Fatalf("expected anyArmed true while rapl is armed")
	}
	rapl.Disarm()
	if d.anyArmed() {
		t.Fatalf("expected anyArmed false once the only source is disarmed")
	}
}

func TestRunExitsWhenNoSourceArmed(t *testing.T) {
	rapl := newFakeSource("rapl")
	rapl.Disarm()
	d := New("/unused", 0, nil)
	d.Rapl = rapl

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected Run to exit cleanly with no sources armed, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not exit promptly when no source was armed")
	}
}

func TestRunRefreshTimerSkipsWhenNotMeasuring(t *testing.T) {
	rapl := newFakeSource("rapl")
	d := New("/unused", 5*time.Millisecond, nil)
	d.Rapl = rapl

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	d.runRefreshTimer(ctx)

	rapl.mu.Lock()
	refreshed := rapl.refreshed
	rapl.mu.Unlock()
	if refreshed != 0 {
		t.Fatalf("expected no refresh calls while not measuring, got %d", refreshed)
	}
}

func TestRunRefreshTimerRefreshesWhileMeasuring(t *testing.T) {
	rapl := newFakeSource("rapl")
	d := New("/unused", 5*time.Millisecond, nil)
	d.Rapl = rapl
	d.mu.Lock()
	d.measuring = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 35*time.Millisecond)
	defer cancel()

	d.runRefreshTimer(ctx)

	rapl.mu.Lock()
	refreshed := rapl.refreshed
	rapl.mu.Unlock()
	if refreshed == 0 {
		t.Fatalf("expected at least one refresh call while measuring")
	}
}
