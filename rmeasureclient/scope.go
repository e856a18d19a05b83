// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureclient

import (
	"net/rpc"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/rpcserver"
)

// ScopeMethod starts oscilloscope measurements. It spans both daemons: the
// armed/disarmed state and kernel-name sequence live on cmd/rmeasured (the
// marker demultiplexer's own daemon), while the segmented window data and
// raw traces live on cmd/picod, which owns the hardware.
type ScopeMethod struct {
	rmeasureClient *rpc.Client
	picoClient     *rpc.Client
}

// NewScopeMethod wraps already-dialed connections to both daemons.
func NewScopeMethod(rmeasureClient, picoClient *rpc.Client) *ScopeMethod {
	return &ScopeMethod{rmeasureClient: rmeasureClient, picoClient: picoClient}
}

// Capabilities reports what the scope source can measure.
func (m *ScopeMethod) Capabilities() interfaces.SourceCapabilities { return scopeCapabilities }

// Start arms the scope source.
func (m *ScopeMethod) Start() (*ScopeMeasurement, error) {
	var reply rpcserver.BoolReply
	if err := m.rmeasureClient.Call("Scope.StartListening", &rpcserver.Empty{}, &reply); err != nil {
		return nil, err
	}
	return &ScopeMeasurement{rmeasureClient: m.rmeasureClient, picoClient: m.picoClient}, nil
}

// ScopeMeasurement is an in-progress or stopped oscilloscope measurement.
type ScopeMeasurement struct {
	rmeasureClient *rpc.Client
	picoClient     *rpc.Client
	data           KernelSourceMap
	rawTraces      []string
}

// Stop disarms the scope source, fetches the picod daemon's segmented
// windows and raw traces, fetches the rmeasured daemon's kernel name
// sequence, and zips them positionally. The scope pipeline segments
// windows independently of the marker demultiplexer, so this zip is where
// the two diverging counters are reconciled — and where a mismatch is most
// likely, per spec.md §4.3's Kernel-count mismatch note.
func (m *ScopeMeasurement) Stop() error {
	var stopReply rpcserver.BoolReply
	if err := m.rmeasureClient.Call("Scope.StopListening", &rpcserver.Empty{}, &stopReply); err != nil {
		return err
	}

	var valuesReply rpcserver.ScopeResultsReply
	if err := m.picoClient.Call("Pico.GetValues", &rpcserver.Empty{}, &valuesReply); err != nil {
		return err
	}

	var rawReply rpcserver.StringsReply
	if err := m.picoClient.Call("Pico.RawData", &rpcserver.Empty{}, &rawReply); err != nil {
		return err
	}
	m.rawTraces = rawReply.Values

	var namesReply rpcserver.StringsReply
	if err := m.rmeasureClient.Call("RMeasure.GetMeasuredKernels", &rpcserver.Empty{}, &namesReply); err != nil {
		return err
	}

	values := make([]SourceMap, len(valuesReply.Windows))
	for i, w := range valuesReply.Windows {
		values[i] = scopeSourceMap(w)
	}

	m.data = zipNamesAndValues(namesReply.Values, values, func(names, vals int) {
		logger.Warn().Int("names", names).Int("windows", vals).Msg("rmeasureclient: scope kernel-count mismatch, dropping mismatched tail")
	})
	return nil
}

// KernelSourceMap returns every kernel's zipped results.
func (m *ScopeMeasurement) KernelSourceMap() KernelSourceMap { return m.data }

// AggregatedSources sums a kernel's occurrences element-wise. Min/max power
// are summed like every other capability under the aggregation law;
// callers comparing across occurrences should use KernelSourceMap directly
// instead of the aggregate if per-occurrence extrema matter.
func (m *ScopeMeasurement) AggregatedSources(kernelName string) SourceMap {
	return aggregate(m.data[kernelName])
}

// RawTraces returns the per-window textual sample trace fetched at Stop,
// positionally matching KernelSourceMap's occurrence order for the window
// list as a whole (not per kernel name).
func (m *ScopeMeasurement) RawTraces() []string { return m.rawTraces }

func scopeSourceMap(w rpcserver.ScopeWindowWire) SourceMap {
	sm := make(SourceMap, len(w.Channels))
	for _, ch := range w.Channels {
		sm[ch.ChannelName] = DataMap{
			interfaces.Energy:       ch.EnergyJoules,
			interfaces.MinimumPower: ch.MinPowerWatts,
			interfaces.MaximumPower: ch.MaxPowerWatts,
			interfaces.ElapsedTime:  ch.ElapsedSeconds,
		}
	}
	return sm
}
