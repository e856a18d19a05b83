// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureclient

import (
	"net/rpc"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/rpcserver"
)

// TimerMethod starts wall-clock measurements against a cmd/rmeasured
// connection.
type TimerMethod struct {
	client *rpc.Client
}

// NewTimerMethod wraps an already-dialed cmd/rmeasured connection.
func NewTimerMethod(client *rpc.Client) *TimerMethod {
	return &TimerMethod{client: client}
}

// Capabilities reports what the timer source can measure.
func (m *TimerMethod) Capabilities() interfaces.SourceCapabilities { return timerCapabilities }

// Start arms the timer source.
func (m *TimerMethod) Start() (*TimerMeasurement, error) {
	var reply rpcserver.BoolReply
	if err := m.client.Call("Timer.StartListening", &rpcserver.Empty{}, &reply); err != nil {
		return nil, err
	}
	return &TimerMeasurement{client: m.client}, nil
}

// TimerMeasurement is an in-progress or stopped timer measurement.
type TimerMeasurement struct {
	client *rpc.Client
	data   KernelSourceMap
}

// Stop disarms the timer, fetches its results and the daemon's kernel name
// sequence, and zips them positionally.
func (m *TimerMeasurement) Stop() error {
	var stopReply rpcserver.BoolReply
	if err := m.client.Call("Timer.StopListening", &rpcserver.Empty{}, &stopReply); err != nil {
		return err
	}

	var dataReply rpcserver.TimerResultsReply
	if err := m.client.Call("Timer.GetMeasuredData", &rpcserver.Empty{}, &dataReply); err != nil {
		return err
	}

	var namesReply rpcserver.StringsReply
	if err := m.client.Call("RMeasure.GetMeasuredKernels", &rpcserver.Empty{}, &namesReply); err != nil {
		return err
	}

	values := make([]SourceMap, len(dataReply.Kernels))
	for i, kr := range dataReply.Kernels {
		values[i] = timerSourceMap(kr)
	}

	m.data = zipNamesAndValues(namesReply.Values, values, func(names, vals int) {
		logger.Warn().Int("names", names).Int("values", vals).Msg("rmeasureclient: timer kernel-count mismatch, dropping mismatched tail")
	})
	return nil
}

// KernelSourceMap returns every kernel's zipped results.
func (m *TimerMeasurement) KernelSourceMap() KernelSourceMap { return m.data }

// AggregatedSources sums a kernel's occurrences element-wise.
func (m *TimerMeasurement) AggregatedSources(kernelName string) SourceMap {
	return aggregate(m.data[kernelName])
}

func timerSourceMap(kr rpcserver.TimerKernelResultWire) SourceMap {
	sm := make(SourceMap, len(kr.Systems))
	for _, acc := range kr.Systems {
		sm[acc.SystemID] = DataMap{
			interfaces.ElapsedTime: acc.ElapsedSeconds,
		}
	}
	return sm
}
