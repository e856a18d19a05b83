// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rpcserver

import "github.com/repara/rmeasure/socket"

// SocketAccumulatorWire is one socket's accumulator in wire form.
type SocketAccumulatorWire struct {
	ComponentID  string
	EnergyJoules float64
	ElapsedNanos uint64
}

// KernelResultWire is one kernel occurrence's per-socket results.
type KernelResultWire struct {
	Sockets []SocketAccumulatorWire
}

// SocketResultsReply carries rapl.getMeasuredData's per-kernel array.
type SocketResultsReply struct {
	Kernels []KernelResultWire
}

// RaplService exposes a socket.Counter as rapl.* over RPC.
type RaplService struct {
	counter *socket.Counter
}

// NewRaplService wraps counter for registration under the "Rapl" name.
func NewRaplService(counter *socket.Counter) *RaplService {
	return &RaplService{counter: counter}
}

// StartListening arms the socket-energy source.
func (s *RaplService) StartListening(args *Empty, reply *BoolReply) error {
	return timedCall("rapl.StartListening", func() error {
		reply.OK = s.counter.Arm()
		return nil
	})
}

// StopListening disarms the socket-energy source, reporting whether it had
// been armed.
func (s *RaplService) StopListening(args *Empty, reply *BoolReply) error {
	return timedCall("rapl.StopListening", func() error {
		reply.OK = s.counter.Disarm()
		return nil
	})
}

// GetMeasuredData fetches every finalized kernel's socket results,
// positionally matching rmeasure.getMeasuredKernels.
func (s *RaplService) GetMeasuredData(args *Empty, reply *SocketResultsReply) error {
	return timedCall("rapl.GetMeasuredData", func() error {
		results := s.counter.AllResults()
		kernels := make([]KernelResultWire, len(results))
		for i, kr := range results {
			kernels[i] = toKernelResultWire(kr)
		}
		reply.Kernels = kernels
		return nil
	})
}

// GetMeasuredProcessors returns the configured sockets' component ids.
func (s *RaplService) GetMeasuredProcessors(args *Empty, reply *StringsReply) error {
	return timedCall("rapl.GetMeasuredProcessors", func() error {
		reply.Values = s.counter.Processors()
		return nil
	})
}

func toKernelResultWire(kr socket.KernelResult) KernelResultWire {
	out := KernelResultWire{Sockets: make([]SocketAccumulatorWire, 0, len(kr))}
	for id, acc := range kr {
		out.Sockets = append(out.Sockets, SocketAccumulatorWire{
			ComponentID:  id,
			EnergyJoules: acc.EnergyJoules,
			ElapsedNanos: acc.ElapsedNanos,
		})
	}
	return out
}
