// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package rmeasureclient

import (
	"context"
	"fmt"
	"net/rpc"
	"os"
	"time"

	"github.com/repara/rmeasure/pkg/advertise"
	"github.com/repara/rmeasure/pkg/logger"
)

// Environment variables naming each daemon's RPC endpoint, per spec.md §6.
const (
	rmeasureServiceEnv = "RMEASURESERVICE"
	scopeServiceEnv    = "SCOPESERVICE"
)

// mDNS service names the daemons advertise under (pkg/advertise), tried
// only when the corresponding environment variable is unset.
const (
	rmeasureMDNSService = "_rmeasure._tcp"
	scopeMDNSService    = "_picoscope._tcp"
)

const locateTimeout = 10 * time.Second

// DialRMeasure connects to cmd/rmeasured's RPC listener: resolved from
// RMEASURESERVICE if set, otherwise from an mDNS lookup.
func DialRMeasure(ctx context.Context) (*rpc.Client, error) {
	return dialService(ctx, rmeasureServiceEnv, rmeasureMDNSService)
}

// DialPico connects to cmd/picod's RPC listener: resolved from
// SCOPESERVICE if set, otherwise from an mDNS lookup.
func DialPico(ctx context.Context) (*rpc.Client, error) {
	return dialService(ctx, scopeServiceEnv, scopeMDNSService)
}

func dialService(ctx context.Context, envVar, mdnsService string) (*rpc.Client, error) {
	addr := os.Getenv(envVar)
	if addr == "" {
		logger.Debug().Str("env", envVar).Msg("rmeasureclient: endpoint env var unset, falling back to mDNS")
		located, err := advertise.Locate(ctx, mdnsService, locateTimeout)
		if err != nil {
			return nil, fmt.Errorf("rmeasureclient: resolve endpoint for %s: %w", envVar, err)
		}
		addr = located
	}

	client, err := rpc.Dial("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("rmeasureclient: dial %s: %w", addr, err)
	}
	return client, nil
}
