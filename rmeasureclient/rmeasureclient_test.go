// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureclient

import (
	"net"
	"net/rpc"
	"testing"
	"time"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/rpcserver"
	"github.com/repara/rmeasure/timer"
)

// dialInProcess registers services against an in-memory net.Pipe and
// returns a client dialed against it, avoiding any real network listener.
func dialInProcess(t *testing.T, register func(*rpc.Server)) *rpc.Client {
	t.Helper()
	server := rpc.NewServer()
	register(server)

	clientConn, serverConn := net.Pipe()
	go server.ServeConn(serverConn)
	t.Cleanup(func() { clientConn.Close() })
	return rpc.NewClient(clientConn)
}

func TestTimerMeasurementRoundTrip(t *testing.T) {
	counter := timer.NewCounter("node-9")

	client := dialInProcess(t, func(server *rpc.Server) {
		if err := server.RegisterName("Timer", rpcserver.NewTimerService(counter)); err != nil {
			t.Fatalf("register Timer: %v", err)
		}
		if err := server.RegisterName("RMeasure", rpcserver.NewRMeasureService(nil, counter)); err != nil {
			t.Fatalf("register RMeasure: %v", err)
		}
	})
	defer client.Close()

	method := NewTimerMethod(client)
	if method.Capabilities() != timerCapabilities {
		t.Errorf("got capabilities %v, want %v", method.Capabilities(), timerCapabilities)
	}

	measurement, err := method.Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	counter.BeginKernel("vecadd")
	time.Sleep(2 * time.Millisecond)
	counter.EndKernel()

	if err := measurement.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	ksm := measurement.KernelSourceMap()
	occurrences, ok := ksm["vecadd"]
	if !ok || len(occurrences) != 1 {
		t.Fatalf("got %v, want one occurrence of vecadd", ksm)
	}
	elapsed := occurrences[0]["node-9"][interfaces.ElapsedTime]
	if elapsed <= 0 {
		t.Errorf("got elapsed=%v, want > 0", elapsed)
	}

	agg := measurement.AggregatedSources("vecadd")
	if agg["node-9"][interfaces.ElapsedTime] != elapsed {
		t.Errorf("aggregated single-occurrence result should equal the raw value: got %v, want %v",
			agg["node-9"][interfaces.ElapsedTime], elapsed)
	}
}

func TestTimerMeasurementAggregatesSerialKernelsIndependently(t *testing.T) {
	counter := timer.NewCounter("node-1")
	client := dialInProcess(t, func(server *rpc.Server) {
		if err := server.RegisterName("Timer", rpcserver.NewTimerService(counter)); err != nil {
			t.Fatalf("register Timer: %v", err)
		}
		if err := server.RegisterName("RMeasure", rpcserver.NewRMeasureService(nil, counter)); err != nil {
			t.Fatalf("register RMeasure: %v", err)
		}
	})
	defer client.Close()

	measurement, err := NewTimerMethod(client).Start()
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	counter.BeginKernel("loop")
	time.Sleep(time.Millisecond)
	counter.EndKernel()
	counter.BeginKernel("loop")
	time.Sleep(time.Millisecond)
	counter.EndKernel()

	if err := measurement.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	occurrences := measurement.KernelSourceMap()["loop"]
	if len(occurrences) != 2 {
		t.Fatalf("got %d occurrences, want 2", len(occurrences))
	}

	agg := measurement.AggregatedSources("loop")
	sumWant := occurrences[0]["node-1"][interfaces.ElapsedTime] + occurrences[1]["node-1"][interfaces.ElapsedTime]
	if got := agg["node-1"][interfaces.ElapsedTime]; got != sumWant {
		t.Errorf("aggregated elapsed = %v, want sum of occurrences %v", got, sumWant)
	}
}

func TestZipNamesAndValuesDropsMismatchedTail(t *testing.T) {
	names := []string{"a", "b", "c"}
	values := []SourceMap{{"x": {}}, {"y": {}}}

	var loggedNames, loggedValues int
	ksm := zipNamesAndValues(names, values, func(n, v int) {
		loggedNames, loggedValues = n, v
	})

	if len(ksm) != 2 {
		t.Fatalf("got %d kernels, want 2 (mismatched tail dropped)", len(ksm))
	}
	if _, ok := ksm["c"]; ok {
		t.Error("kernel c should have been dropped: no matching value")
	}
	if loggedNames != 3 || loggedValues != 2 {
		t.Errorf("mismatch callback got (%d, %d), want (3, 2)", loggedNames, loggedValues)
	}
}

func TestAggregateSumsElementWiseAcrossOccurrences(t *testing.T) {
	occurrences := []SourceMap{
		{"s0": {interfaces.Energy: 1.5}},
		{"s0": {interfaces.Energy: 2.5}},
	}
	got := aggregate(occurrences)
	if got["s0"][interfaces.Energy] != 4.0 {
		t.Errorf("got %v, want 4.0", got["s0"][interfaces.Energy])
	}
}
