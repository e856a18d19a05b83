// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package rpcserver exposes the daemons' measurement sources over
// net/rpc. The wire transport itself is out-of-scope plumbing (the
// specification treats it as an external collaborator: "we specify only
// what the core consumes from them and exposes back"), so this package is
// free to follow Go's own RPC idiom rather than the original XML-RPC
// method-name casing: each row of the method table becomes one exported
// Go method on a service registered under its exported-identifier name
// (Rapl, Timer, Scope, Pico, RMeasure), giving a wire method name like
// "Rapl.StartListening" instead of the original "rapl.startListening",
// dispatched by net/rpc's reflection-based router instead of a
// string-keyed handler table. Every handler also records call
// counts/latency via pkg/metrics, and the server applies a
// golang.org/x/time/rate limiter, shared across the server, to each
// accepted connection (not to individual calls).
package rpcserver

import (
	"context"
	"net"
	"net/rpc"
	"time"

	"golang.org/x/time/rate"

	"github.com/repara/rmeasure/pkg/errors"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/pkg/metrics"
)

// Empty is the parameter type for every niladic method in the surface.
type Empty struct{}

// BoolReply wraps a single boolean result (arm/disarm outcomes).
type BoolReply struct{ OK bool }

// StringReply wraps a single string result.
type StringReply struct{ Value string }

// StringsReply wraps a string slice result.
type StringsReply struct{ Values []string }

// Server owns a net/rpc server and its TCP listener, applying a shared
// rate limiter to every accepted connection; handlers record per-method
// metrics for every call.
type Server struct {
	rpcServer *rpc.Server
	listener  net.Listener
	limiter   *rate.Limiter
}

// NewServer creates an RPC server listening on addr. rps/burst configure
// the shared token-bucket rate limiter guarding every accepted connection;
// rps <= 0 disables limiting.
func NewServer(addr string, rps float64, burst int) (*Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.NewRPCError("listen", err)
	}

	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}

	return &Server{
		rpcServer: rpc.NewServer(),
		listener:  listener,
		limiter:   limiter,
	}, nil
}

// Register registers a service under name; its exported methods become
// "name.Method" over the wire.
func (s *Server) Register(name string, service any) error {
	if err := s.rpcServer.RegisterName(name, service); err != nil {
		return errors.NewRPCError("register:"+name, err)
	}
	return nil
}

// Addr returns the listener's bound address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until ctx is cancelled, serving each on its own
// goroutine and applying the shared rate limiter before handing a
// connection's requests to net/rpc.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	metrics.Up.Set(1)
	defer metrics.Up.Set(0)

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return errors.NewRPCError("accept", err)
			}
		}

		if s.limiter != nil && !s.limiter.Allow() {
			logger.Warn().Str("remote", conn.RemoteAddr().String()).Msg("rpcserver: rate limit exceeded, dropping connection")
			conn.Close()
			continue
		}

		go s.rpcServer.ServeConn(conn)
	}
}

// Close stops accepting new connections.
func (s *Server) Close() error {
	return s.listener.Close()
}

// timedCall records an RPC call's outcome and latency under method.
func timedCall(method string, fn func() error) error {
	start := time.Now()
	err := fn()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	return err
}
