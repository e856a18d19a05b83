// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureapp

import (
	"context"
	"net/rpc"
	"sync"

	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/rmeasureclient"
	"github.com/repara/rmeasure/rpcserver"
)

// ScopeProxy lets cmd/rmeasured drive cmd/picod's oscilloscope pipeline
// through the marker demultiplexer and the Scope.* RPC surface without
// holding the hardware itself: the streaming pipeline and its captured data
// live entirely in cmd/picod. It implements marker.Source (so the
// demultiplexer can arm/disarm it from "B:"/"E;"/"SS" tokens exactly like
// the local rapl/timer sources) and rpcserver's narrow armDisarmer
// interface (so it can back a "Scope" RPC service registered on this
// daemon), forwarding both to cmd/picod's "Pico" service over a connection
// resolved the same way any other rmeasureclient caller would (SCOPESERVICE
// env var, falling back to mDNS).
type ScopeProxy struct {
	mu     sync.Mutex
	client *rpc.Client
	armed  bool
}

// NewScopeProxy builds a proxy that dials cmd/picod lazily, on first Arm.
func NewScopeProxy() *ScopeProxy {
	return &ScopeProxy{}
}

// Name identifies this source to the demultiplexer and in logs.
func (p *ScopeProxy) Name() string { return "scope" }

func (p *ScopeProxy) dial() (*rpc.Client, error) {
	p.mu.Lock()
	client := p.client
	p.mu.Unlock()
	if client != nil {
		return client, nil
	}

	dialed, err := rmeasureclient.DialPico(context.Background())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.client = dialed
	p.mu.Unlock()
	return dialed, nil
}

// Arm starts streaming on the remote picod pipeline via Pico.StartStreaming.
// Reports false without dialing again if the proxy already believes itself
// armed, matching the local sources' double-arm rejection. A dial or call
// failure also leaves the proxy disarmed, logged rather than returned: Arm
// has no error return on marker.Source.
func (p *ScopeProxy) Arm() bool {
	p.mu.Lock()
	if p.armed {
		p.mu.Unlock()
		return false
	}
	p.mu.Unlock()

	client, err := p.dial()
	if err != nil {
		logger.Warn().Err(err).Msg("scope proxy: failed to reach picod, not armed")
		return false
	}

	var reply rpcserver.BoolReply
	if err := client.Call("Pico.StartStreaming", &rpcserver.Empty{}, &reply); err != nil {
		logger.Warn().Err(err).Msg("scope proxy: Pico.StartStreaming failed")
		return false
	}

	p.mu.Lock()
	p.armed = reply.OK
	p.mu.Unlock()
	return reply.OK
}

// Armed reports the proxy's locally tracked arm state.
func (p *ScopeProxy) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.armed
}

// Disarm stops streaming on the remote picod pipeline via
// Pico.StopStreaming, reporting whether it had been armed.
func (p *ScopeProxy) Disarm() bool {
	p.mu.Lock()
	was := p.armed
	p.armed = false
	client := p.client
	p.mu.Unlock()

	if client == nil {
		return was
	}

	var reply rpcserver.BoolReply
	if err := client.Call("Pico.StopStreaming", &rpcserver.Empty{}, &reply); err != nil {
		logger.Warn().Err(err).Msg("scope proxy: Pico.StopStreaming failed")
	}
	return was
}

// BeginKernel and EndKernel are no-ops: the scope pipeline segments its own
// windows from the pulse line, independent of marker tokens, matching
// scope.Pipeline's own BeginKernel/EndKernel semantics.
func (p *ScopeProxy) BeginKernel(name string) {}
func (p *ScopeProxy) EndKernel()              {}

// Close releases the connection to picod, if one was dialed.
func (p *ScopeProxy) Close() error {
	p.mu.Lock()
	client := p.client
	p.client = nil
	p.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}
