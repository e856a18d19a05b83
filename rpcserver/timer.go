// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rpcserver

import "github.com/repara/rmeasure/timer"

// TimerAccumulatorWire is one system id's elapsed-time result in wire form.
type TimerAccumulatorWire struct {
	SystemID       string
	ElapsedSeconds float64
}

// TimerKernelResultWire is one kernel occurrence's elapsed-time result.
type TimerKernelResultWire struct {
	Systems []TimerAccumulatorWire
}

// TimerResultsReply carries timer.getMeasuredData's per-kernel array.
type TimerResultsReply struct {
	Kernels []TimerKernelResultWire
}

// TimerService exposes a timer.Counter as timer.* over RPC.
type TimerService struct {
	counter *timer.Counter
}

// NewTimerService wraps counter for registration under the "Timer" name.
func NewTimerService(counter *timer.Counter) *TimerService {
	return &TimerService{counter: counter}
}

// StartListening arms the wall-clock timer source.
func (s *TimerService) StartListening(args *Empty, reply *BoolReply) error {
	return timedCall("timer.StartListening", func() error {
		reply.OK = s.counter.Arm()
		return nil
	})
}

// StopListening disarms the timer source, reporting whether it had been
// armed.
func (s *TimerService) StopListening(args *Empty, reply *BoolReply) error {
	return timedCall("timer.StopListening", func() error {
		reply.OK = s.counter.Disarm()
		return nil
	})
}

// GetMeasuredData fetches every finalized kernel's elapsed-time result,
// positionally matching rmeasure.getMeasuredKernels.
func (s *TimerService) GetMeasuredData(args *Empty, reply *TimerResultsReply) error {
	return timedCall("timer.GetMeasuredData", func() error {
		results := s.counter.AllResults()
		kernels := make([]TimerKernelResultWire, len(results))
		for i, kr := range results {
			kernels[i] = toTimerKernelResultWire(kr)
		}
		reply.Kernels = kernels
		return nil
	})
}

// GetMeasuredSystemId returns the timer's configured component id.
func (s *TimerService) GetMeasuredSystemId(args *Empty, reply *StringReply) error {
	return timedCall("timer.GetMeasuredSystemId", func() error {
		reply.Value = s.counter.SystemID()
		return nil
	})
}

func toTimerKernelResultWire(kr timer.KernelResult) TimerKernelResultWire {
	out := TimerKernelResultWire{Systems: make([]TimerAccumulatorWire, 0, len(kr))}
	for id, acc := range kr {
		out.Systems = append(out.Systems, TimerAccumulatorWire{
			SystemID:       id,
			ElapsedSeconds: acc.ElapsedSeconds,
		})
	}
	return out
}
