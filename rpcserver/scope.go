// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rpcserver

// armDisarmer is satisfied both by *scope.Pipeline directly (a single
// process running both the marker demultiplexer and the scope hardware)
// and by cmd/rmeasured's remote scope proxy (the pipeline and its hardware
// live in cmd/picod; the proxy forwards Arm/Disarm as Pico.StartStreaming/
// Pico.StopStreaming calls). ScopeService only needs this pair, so it
// depends on the interface rather than the concrete pipeline type.
type armDisarmer interface {
	Arm() bool
	Disarm() bool
}

// ScopeService exposes a scope source's arm/disarm pair as scope.*.
// Streaming lifecycle and data retrieval live under PicoService: the
// method table splits the source's armed/disarmed state (scope.*, mirroring
// rapl.*/timer.*) from the underlying hardware's open/streaming state
// (pico.*).
type ScopeService struct {
	source armDisarmer
}

// NewScopeService wraps source for registration under the "Scope" name.
func NewScopeService(source armDisarmer) *ScopeService {
	return &ScopeService{source: source}
}

// StartListening arms the scope source.
func (s *ScopeService) StartListening(args *Empty, reply *BoolReply) error {
	return timedCall("scope.StartListening", func() error {
		reply.OK = s.source.Arm()
		return nil
	})
}

// StopListening disarms the scope source, reporting whether it had been
// armed. A window in flight at the moment of disarm is discarded.
func (s *ScopeService) StopListening(args *Empty, reply *BoolReply) error {
	return timedCall("scope.StopListening", func() error {
		reply.OK = s.source.Disarm()
		return nil
	})
}
