// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package advertise provides mDNS registration and lookup for the two
// daemons' RPC endpoints, supplementing the RMEASURESERVICE/SCOPESERVICE
// environment-variable discovery mechanism with a zero-configuration
// fallback on networks where operators don't want to hand-wire endpoint
// strings. Adapted from the teacher's discovery/discovery.go zeroconf
// usage, stripped of Matter-cluster TXT-record parsing since this domain
// has no device-capability negotiation to perform.
package advertise

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/repara/rmeasure/pkg/logger"
)

// Register advertises an RPC endpoint under serviceName (e.g.
// "_rmeasure._tcp") on port, returning a handle whose Shutdown stops
// advertising. instance identifies this process among others of the same
// service type (e.g. the daemon's hostname).
func Register(instance, serviceName string, port int) (*zeroconf.Server, error) {
	server, err := zeroconf.Register(instance, serviceName, "local.", port, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("advertise: register %s: %w", serviceName, err)
	}
	logger.Info().Str("service", serviceName).Int("port", port).Msg("advertise: registered mDNS service")
	return server, nil
}

// Locate browses for serviceName for up to timeout and returns the
// host:port of the first instance found. Used as a fallback when the
// corresponding environment variable (RMEASURESERVICE/SCOPESERVICE) is
// unset.
func Locate(ctx context.Context, serviceName string, timeout time.Duration) (string, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return "", fmt.Errorf("advertise: create resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 4)
	browseCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := resolver.Browse(browseCtx, serviceName, "local.", entries); err != nil {
		return "", fmt.Errorf("advertise: browse %s: %w", serviceName, err)
	}

	for {
		select {
		case <-browseCtx.Done():
			return "", fmt.Errorf("advertise: no instance of %s found within %s", serviceName, timeout)
		case entry, ok := <-entries:
			if !ok {
				return "", fmt.Errorf("advertise: no instance of %s found within %s", serviceName, timeout)
			}
			if entry == nil {
				continue
			}
			addr := firstAddr(entry)
			if addr == nil {
				continue
			}
			return net.JoinHostPort(addr.String(), fmt.Sprintf("%d", entry.Port)), nil
		}
	}
}

func firstAddr(entry *zeroconf.ServiceEntry) net.IP {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0]
	}
	if len(entry.AddrIPv6) > 0 {
		return entry.AddrIPv6[0]
	}
	return nil
}
