// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rpcserver

import (
	"github.com/repara/rmeasure/socket"
	"github.com/repara/rmeasure/timer"
)

// kernelNamer is satisfied by both socket.Counter and timer.Counter.
type kernelNamer interface {
	KernelNames() []string
}

// RMeasureService exposes the cross-source rmeasure.* methods. Both the
// socket and timer sources are driven by the same marker stream, so their
// KernelNames sequences are identical while both are armed; this service
// reports whichever source is configured, preferring rapl when both are
// present since it is the more commonly deployed of the two on this daemon.
type RMeasureService struct {
	rapl  *socket.Counter
	timer *timer.Counter
}

// NewRMeasureService wraps whichever of rapl/timer are configured (either
// may be nil) for registration under the "RMeasure" name.
func NewRMeasureService(rapl *socket.Counter, timer *timer.Counter) *RMeasureService {
	return &RMeasureService{rapl: rapl, timer: timer}
}

// GetMeasuredKernels returns the in-order kernel name sequence, including
// repeats, that every other source's data array is zipped against.
func (s *RMeasureService) GetMeasuredKernels(args *Empty, reply *StringsReply) error {
	return timedCall("rmeasure.GetMeasuredKernels", func() error {
		var source kernelNamer
		switch {
		case s.rapl != nil:
			source = s.rapl
		case s.timer != nil:
			source = s.timer
		default:
			reply.Values = nil
			return nil
		}
		reply.Values = source.KernelNames()
		return nil
	})
}
