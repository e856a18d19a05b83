// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureclient

import (
	"net/rpc"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/rpcserver"
)

// RaplMethod starts socket-energy measurements against a cmd/rmeasured
// connection.
type RaplMethod struct {
	client *rpc.Client
}

// NewRaplMethod wraps an already-dialed cmd/rmeasured connection.
func NewRaplMethod(client *rpc.Client) *RaplMethod {
	return &RaplMethod{client: client}
}

// Capabilities reports what the socket energy source can measure.
func (m *RaplMethod) Capabilities() interfaces.SourceCapabilities { return raplCapabilities }

// Start arms the socket-energy source and returns a handle to stop it and
// fetch its results.
func (m *RaplMethod) Start() (*RaplMeasurement, error) {
	var reply rpcserver.BoolReply
	if err := m.client.Call("Rapl.StartListening", &rpcserver.Empty{}, &reply); err != nil {
		return nil, err
	}
	return &RaplMeasurement{client: m.client}, nil
}

// RaplMeasurement is an in-progress or stopped socket-energy measurement.
type RaplMeasurement struct {
	client *rpc.Client
	data   KernelSourceMap
}

// Stop disarms the source, fetches its results and the daemon's kernel name
// sequence, and zips them positionally.
func (m *RaplMeasurement) Stop() error {
	var stopReply rpcserver.BoolReply
	if err := m.client.Call("Rapl.StopListening", &rpcserver.Empty{}, &stopReply); err != nil {
		return err
	}

	var dataReply rpcserver.SocketResultsReply
	if err := m.client.Call("Rapl.GetMeasuredData", &rpcserver.Empty{}, &dataReply); err != nil {
		return err
	}

	var namesReply rpcserver.StringsReply
	if err := m.client.Call("RMeasure.GetMeasuredKernels", &rpcserver.Empty{}, &namesReply); err != nil {
		return err
	}

	values := make([]SourceMap, len(dataReply.Kernels))
	for i, kr := range dataReply.Kernels {
		values[i] = raplSourceMap(kr)
	}

	m.data = zipNamesAndValues(namesReply.Values, values, func(names, vals int) {
		logger.Warn().Int("names", names).Int("values", vals).Msg("rmeasureclient: rapl kernel-count mismatch, dropping mismatched tail")
	})
	return nil
}

// KernelSourceMap returns every kernel's zipped results.
func (m *RaplMeasurement) KernelSourceMap() KernelSourceMap { return m.data }

// AggregatedSources sums a kernel's occurrences element-wise, including the
// client-synthesized averagePower = energy/elapsedTime per spec.md §6.
func (m *RaplMeasurement) AggregatedSources(kernelName string) SourceMap {
	sm := aggregate(m.data[kernelName])
	for component, data := range sm {
		if elapsed := data[interfaces.ElapsedTime]; elapsed > 0 {
			data[interfaces.AveragePower] = data[interfaces.Energy] / elapsed
			sm[component] = data
		}
	}
	return sm
}

func raplSourceMap(kr rpcserver.KernelResultWire) SourceMap {
	sm := make(SourceMap, len(kr.Sockets))
	for _, acc := range kr.Sockets {
		sm[acc.ComponentID] = DataMap{
			interfaces.Energy:      acc.EnergyJoules,
			interfaces.ElapsedTime: float64(acc.ElapsedNanos) / 1e9,
		}
	}
	return sm
}
