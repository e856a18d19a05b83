// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package scope

import (
	"context"
	"testing"
	"time"

	"github.com/repara/rmeasure/config"
)

func testChannels() []config.ChannelConfig {
	return []config.ChannelConfig{
		{Name: "pulse", RangeMV: 5000, Gain: 1, Resistance: 1, SupplyV: 12, IsPulse: true},
		{Name: "ch0", RangeMV: 5000, Gain: 1, Resistance: 1, SupplyV: 12},
	}
}

// pulseBlock builds a single-block RawBlock from a string of 'H'/'L'
// characters, with a constant power-channel reading.
func pulseBlock(pattern string, chReading int32) RawBlock {
	count := len(pattern)
	pulse := make([]int32, count)
	ch0 := make([]int32, count)
	for i, c := range pattern {
		if c == 'H' {
			pulse[i] = MaxADC // well above the 3000mV threshold at 5000mV range
		} else {
			pulse[i] = 0
		}
		ch0[i] = chReading
	}
	return RawBlock{
		StartIndex: 0,
		Count:      count,
		Pulse:      pulse,
		Channels:   map[string][]int32{"ch0": ch0},
	}
}

func newTestPipeline(t *testing.T, blocks []RawBlock) *Pipeline {
	t.Helper()
	device := NewSimulatedDevice("PS6000", blocks)
	p, err := NewPipeline(device, testChannels(), 3000, 1000, false)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	p.Arm()
	return p
}

func runPipeline(t *testing.T, p *Pipeline) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := p.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestPulseSegmentationTwoWindows(t *testing.T) {
	// LLLHHHHLLL HHHL (rise-fall twice): H runs of length 4 and 3.
	block := pulseBlock("LLLHHHHLLLHHHL", 1000)
	p := newTestPipeline(t, []RawBlock{block})
	runPipeline(t, p)

	results := p.Results()
	if len(results) != 2 {
		t.Fatalf("expected exactly two segmented windows, got %d", len(results))
	}

	first := results[0]["ch0"]
	second := results[1]["ch0"]
	wantFirst := 4 * p.deltaT
	wantSecond := 3 * p.deltaT
	if !approxEqual(first.ElapsedSeconds, wantFirst) {
		t.Fatalf("expected first window elapsed %v, got %v", wantFirst, first.ElapsedSeconds)
	}
	if !approxEqual(second.ElapsedSeconds, wantSecond) {
		t.Fatalf("expected second window elapsed %v, got %v", wantSecond, second.ElapsedSeconds)
	}
}

func TestMinPowerNeverExceedsMaxPower(t *testing.T) {
	// Five high pulse samples, then one low sample that closes the window.
	count := 6
	pulse := make([]int32, count)
	ch0 := make([]int32, count)
	for i := range pulse {
		if i < count-1 {
			pulse[i] = MaxADC
		}
		ch0[i] = int32(100 * (i + 1))
	}
	block := RawBlock{Count: count, Pulse: pulse, Channels: map[string][]int32{"ch0": ch0}}
	p := newTestPipeline(t, []RawBlock{block})
	runPipeline(t, p)

	results := p.Results()
	if len(results) != 1 {
		t.Fatalf("expected one window, got %d", len(results))
	}
	acc := results[0]["ch0"]
	if acc.MinPowerWatts > acc.MaxPowerWatts {
		t.Fatalf("min power %v exceeds max power %v", acc.MinPowerWatts, acc.MaxPowerWatts)
	}
}

func TestNoSamplesInsideWindowYieldsNoWindow(t *testing.T) {
	block := pulseBlock("LLLLLLLLLL", 1000)
	p := newTestPipeline(t, []RawBlock{block})
	runPipeline(t, p)

	if len(p.Results()) != 0 {
		t.Fatalf("expected no windows when the pulse never rises")
	}
}

func TestDisarmMidWindowDiscardsInFlightWindow(t *testing.T) {
	p := newTestPipeline(t, nil)

	block := pulseBlock("LLLHHHHH", 1000)
	p.mu.Lock()
	p.processBlockLocked(block)
	p.mu.Unlock()

	if !p.wasInWindow {
		t.Fatalf("expected pipeline to be mid-window before disarm")
	}

	p.Disarm()

	if len(p.Results()) != 0 {
		t.Fatalf("expected disarm mid-window to discard the in-flight window, got %d results", len(p.Results()))
	}
}

func TestPipelineDoubleArmIsRejected(t *testing.T) {
	device := NewSimulatedDevice("PS6000", nil)
	p, err := NewPipeline(device, testChannels(), 3000, 1000, false)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if !p.Arm() {
		t.Fatal("first arm should report true")
	}
	if p.Arm() {
		t.Error("arming an already-armed pipeline should report false, state unchanged")
	}
}

func TestReArmClearsStaleResults(t *testing.T) {
	block := pulseBlock("LLLHHHHLLL", 1000)
	p := newTestPipeline(t, []RawBlock{block})
	runPipeline(t, p)

	if len(p.Results()) == 0 {
		t.Fatal("expected a window from the first arm/run cycle")
	}

	p.Disarm()
	if !p.Arm() {
		t.Fatal("re-arm after disarm should report true")
	}

	if len(p.Results()) != 0 {
		t.Fatalf("expected the first cycle's results cleared on re-arm, got %d", len(p.Results()))
	}
	if len(p.AllResults()) != 0 {
		t.Fatalf("expected AllResults cleared on re-arm too, got %d", len(p.AllResults()))
	}
}

func TestSetSampleUpdatesDeltaT(t *testing.T) {
	device := NewSimulatedDevice("PS6000", nil)
	p, err := NewPipeline(device, testChannels(), 3000, 1000, false)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	if err := p.SetSample(1, "us"); err != nil {
		t.Fatalf("SetSample: %v", err)
	}
	if !approxEqual(p.deltaT, 1e-6) {
		t.Errorf("got deltaT %v, want %v", p.deltaT, 1e-6)
	}

	if err := p.SetSample(2, "ms"); err != nil {
		t.Fatalf("SetSample: %v", err)
	}
	if !approxEqual(p.deltaT, 2e-3) {
		t.Errorf("got deltaT %v, want %v", p.deltaT, 2e-3)
	}
}

func TestSetSampleRejectsUnknownUnit(t *testing.T) {
	device := NewSimulatedDevice("PS6000", nil)
	p, err := NewPipeline(device, testChannels(), 3000, 1000, false)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	before := p.deltaT
	if err := p.SetSample(1, "fortnights"); err == nil {
		t.Fatal("expected an error for an unrecognized time unit")
	}
	if p.deltaT != before {
		t.Errorf("deltaT changed despite a rejected SetSample call: got %v, want %v", p.deltaT, before)
	}
}

func TestUnitDivisorTable(t *testing.T) {
	cases := map[string]float64{
		"fs": 1e15,
		"ps": 1e12,
		"ns": 1e9,
		"us": 1e6,
		"µs": 1e6,
		"ms": 1e3,
		"s":  1,
	}
	for unit, want := range cases {
		got, err := unitDivisor(unit)
		if err != nil {
			t.Errorf("unitDivisor(%q): %v", unit, err)
			continue
		}
		if got != want {
			t.Errorf("unitDivisor(%q) = %v, want %v", unit, got, want)
		}
	}

	if _, err := unitDivisor("furlongs"); err == nil {
		t.Error("expected an error for an unrecognized unit")
	}
}

func TestNewPipelineRequiresExactlyOnePulseChannel(t *testing.T) {
	device := NewSimulatedDevice("PS6000", nil)
	none := []config.ChannelConfig{{Name: "ch0", RangeMV: 5000, Gain: 1, Resistance: 1}}
	if _, err := NewPipeline(device, none, 3000, 1000, false); err == nil {
		t.Fatalf("expected error when no channel has is_pulse set")
	}

	two := []config.ChannelConfig{
		{Name: "p1", RangeMV: 5000, Gain: 1, Resistance: 1, IsPulse: true},
		{Name: "p2", RangeMV: 5000, Gain: 1, Resistance: 1, IsPulse: true},
	}
	if _, err := NewPipeline(device, two, 3000, 1000, false); err == nil {
		t.Fatalf("expected error when more than one channel has is_pulse set")
	}
}

func TestRawToMillivoltsClampsAtFullScale(t *testing.T) {
	mv, clamped := rawToMillivolts(MaxADC+500, 5000)
	if !clamped {
		t.Fatalf("expected clamp to be reported")
	}
	if mv != 5000 {
		t.Fatalf("expected clamped conversion to equal full range, got %v", mv)
	}

	mv, clamped = rawToMillivolts(0, 5000)
	if clamped || mv != 0 {
		t.Fatalf("expected zero reading to convert to 0mV unclamped, got %v clamped=%v", mv, clamped)
	}
}

func approxEqual(a, b float64) bool {
	const eps = 1e-9
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < eps
}
