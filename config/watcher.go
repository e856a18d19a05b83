// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

package config

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/repara/rmeasure/pkg/logger"
)

// debounceDuration is the time to wait for file system events to settle.
const debounceDuration = 500 * time.Millisecond

// Reloaded represents a successfully (or unsuccessfully) reloaded
// configuration of type T.
type Reloaded[T any] struct {
	Config *T
	Error  error
}

// Watcher monitors a configuration file for changes and reloads it with the
// supplied loader, generic over the daemon's config type so both
// RMeasureConfig and ScopeConfig share one hot-reload implementation.
type Watcher[T any] struct {
	configPath string
	load       func(string) (*T, error)
	watcher    *fsnotify.Watcher
	Reloaded   chan Reloaded[T]
	ctx        context.Context
	cancel     context.CancelFunc
}

// NewWatcher creates a new Watcher that calls load whenever configPath
// changes on disk.
func NewWatcher[T any](configPath string, load func(string) (*T, error)) (*Watcher[T], error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	cw := &Watcher[T]{
		configPath: configPath,
		load:       load,
		watcher:    fsw,
		Reloaded:   make(chan Reloaded[T]),
		ctx:        ctx,
		cancel:     cancel,
	}

	if err := cw.watcher.Add(configPath); err != nil {
		cw.watcher.Close()
		return nil, fmt.Errorf("failed to add config file to watcher: %w", err)
	}

	go cw.run()

	return cw, nil
}

// Close stops the watcher.
func (cw *Watcher[T]) Close() {
	cw.cancel()
	cw.watcher.Close()
	close(cw.Reloaded)
}

func (cw *Watcher[T]) run() {
	var lastEventTime time.Time
	for {
		select {
		case <-cw.ctx.Done():
			logger.Info().Msg("Config watcher shutting down")
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Name != cw.configPath {
				continue
			}
			if event.Op&fsnotify.Write != fsnotify.Write && event.Op&fsnotify.Create != fsnotify.Create {
				continue
			}
			if time.Since(lastEventTime) < debounceDuration {
				continue
			}
			lastEventTime = time.Now()

			logger.Info().Str("event", event.String()).Msg("Config file changed, reloading...")
			newCfg, err := cw.load(cw.configPath)
			if err != nil {
				logger.Error().Err(err).Msg("Failed to reload configuration")
				cw.Reloaded <- Reloaded[T]{Error: fmt.Errorf("failed to reload config: %w", err)}
				continue
			}
			logger.Info().Msg("Configuration reloaded successfully")
			cw.Reloaded <- Reloaded[T]{Config: newCfg}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			logger.Error().Err(err).Msg("Config watcher error")
			cw.Reloaded <- Reloaded[T]{Error: fmt.Errorf("config watcher error: %w", err)}
		}
	}
}
