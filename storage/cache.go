// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage provides the optional finalized-kernel-result journal
// with local caching.
//
// This package implements a two-tier storage architecture:
//  1. Primary storage: InfluxDB time-series database
//  2. Fallback storage: Local file-based cache
//
// The caching layer provides resilience against InfluxDB outages by
// automatically falling back to local storage when the database is
// unavailable, then replaying cached data when connectivity is restored.
//
// # Architecture
//
// Storage Components:
//   - InfluxDBStorage: Direct InfluxDB client (the circuit breaker lives in CachingStorage)
//   - LocalCache: File-based JSON storage with size and age limits
//   - CachingStorage: Wrapper combining InfluxDB + cache with automatic failover
//
// The CachingStorage wrapper monitors InfluxDB health in the background and
// automatically switches between direct writes and cached writes based on
// availability. Both CachingStorage and InfluxDBStorage implement
// interfaces.ResultSink; the daemons depend on that interface, never on
// either concrete type, so the journal can be disabled (config.ResultSinkConfig.Enabled
// is false by default per spec.md §6's "supplemental, never required" note)
// without either daemon knowing the difference.
//
// # Automatic Failover
//
// When InfluxDB writes fail:
//  1. Summaries are written to local cache (JSON files)
//  2. Slack notification sent (if configured)
//  3. Background health checker polls InfluxDB every 30 seconds
//  4. When healthy, cached summaries are replayed in order
//  5. Recovery notification sent
//
// # Circuit Breaker
//
// CachingStorage wraps every write to its sink in a circuit breaker to prevent
// cascading failures when the database is unavailable: five consecutive
// failures open the breaker. State transitions are not logged.
//
// # Cache Management
//
// The local cache has configurable limits:
//   - Max size: Default 100 MB (configurable)
//   - Max age: Default 24 hours (configurable)
//   - Old entries are cleaned up automatically on startup
//   - Warning notifications at 80% capacity
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/pkg/metrics"
	"github.com/repara/rmeasure/pkg/util"
)

const (
	defaultCacheDir     = "/var/cache/rmeasure"
	cacheFilePrefix     = "cache_"
	cacheFileExt        = ".json"
	defaultMaxSize      = 100 * 1024 * 1024 // 100 MB
	defaultMaxAge       = 24 * time.Hour
	replayBatchSize     = 100
	healthCheckInterval = 30 * time.Second
)

// LocalCache provides file-based caching for finalized kernel summaries.
type LocalCache struct {
	cacheDir    string
	maxSize     int64
	maxAge      time.Duration
	mu          sync.Mutex
	currentSize int64
}

// CachedSummary represents a kernel summary stored in cache.
type CachedSummary struct {
	Summary   *interfaces.KernelSummary `json:"summary"`
	CachedAt  time.Time                 `json:"cached_at"`
	AttemptID string                    `json:"attempt_id"`
}

// NewLocalCache creates a new local cache.
func NewLocalCache(cacheDir string, maxSize int64, maxAge time.Duration) (*LocalCache, error) {
	if cacheDir == "" {
		cacheDir = defaultCacheDir
	}
	if maxSize <= 0 {
		maxSize = defaultMaxSize
	}
	if maxAge <= 0 {
		maxAge = defaultMaxAge
	}

	if err := os.MkdirAll(cacheDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	cache := &LocalCache{
		cacheDir: cacheDir,
		maxSize:  maxSize,
		maxAge:   maxAge,
	}

	if err := cache.updateCurrentSize(); err != nil {
		logger.Warn().Err(err).Msg("Failed to calculate initial cache size")
	}

	if err := cache.CleanupOld(); err != nil {
		logger.Warn().Err(err).Msg("Failed to cleanup old cache files")
	}

	return cache, nil
}

// Write writes a summary to the cache.
func (lc *LocalCache) Write(summary *interfaces.KernelSummary) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	if lc.currentSize >= lc.maxSize {
		return fmt.Errorf("cache is full (%d >= %d bytes)", lc.currentSize, lc.maxSize)
	}

	cached := &CachedSummary{
		Summary:   summary,
		CachedAt:  time.Now(),
		AttemptID: fmt.Sprintf("%d_%s_%s", time.Now().UnixNano(), summary.Kernel, summary.Component),
	}

	filename := lc.generateFilename(cached.AttemptID)
	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write cache file: %w", err)
	}

	lc.currentSize += int64(len(data))
	logger.Debug().
		Str("kernel", summary.Kernel).
		Str("filename", filepath.Base(filename)).
		Int64("cache_size", lc.currentSize).
		Msg("Written summary to cache")

	return nil
}

// ListCachedSummaries returns all cached summaries sorted by timestamp.
func (lc *LocalCache) ListCachedSummaries() ([]*CachedSummary, error) {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(lc.cacheDir, cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return nil, fmt.Errorf("failed to list cache files: %w", err)
	}

	var summaries []*CachedSummary
	for _, file := range files {
		data, err := util.ReadFileSafely(file)
		if err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to read cache file")
			continue
		}

		var cached CachedSummary
		if err := json.Unmarshal(data, &cached); err != nil {
			logger.Warn().Err(err).Str("file", file).Msg("Failed to unmarshal cache file")
			continue
		}

		summaries = append(summaries, &cached)
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].CachedAt.Before(summaries[j].CachedAt)
	})

	return summaries, nil
}

// DeleteCached deletes a specific cached summary.
func (lc *LocalCache) DeleteCached(attemptID string) error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	filename := lc.generateFilename(attemptID)

	info, err := os.Stat(filename)
	if err != nil {
		return fmt.Errorf("failed to stat cache file: %w", err)
	}

	if err := os.Remove(filename); err != nil {
		return fmt.Errorf("failed to delete cache file: %w", err)
	}

	lc.currentSize -= info.Size()
	logger.Debug().Str("attempt_id", attemptID).Msg("Deleted cached summary")

	return nil
}

// CleanupOld removes cache files older than maxAge.
func (lc *LocalCache) CleanupOld() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()

	files, err := filepath.Glob(filepath.Join(lc.cacheDir, cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}

	cutoff := time.Now().Add(-lc.maxAge)
	deletedCount := 0

	for _, file := range files {
		data, err := util.ReadFileSafely(file)
		if err != nil {
			continue
		}

		var cached CachedSummary
		if err := json.Unmarshal(data, &cached); err != nil {
			continue
		}

		if cached.CachedAt.Before(cutoff) {
			if err := os.Remove(file); err != nil {
				logger.Warn().Err(err).Str("file", file).Msg("Failed to delete old cache file")
				continue
			}
			deletedCount++
			lc.currentSize -= int64(len(data))
		}
	}

	if deletedCount > 0 {
		logger.Info().Int("count", deletedCount).Msg("Cleaned up old cache files")
	}

	return nil
}

// GetCacheSize returns the current cache size in bytes.
func (lc *LocalCache) GetCacheSize() int64 {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.currentSize
}

// GetMaxSize returns the maximum cache size.
func (lc *LocalCache) GetMaxSize() int64 {
	return lc.maxSize
}

func (lc *LocalCache) updateCurrentSize() error {
	files, err := filepath.Glob(filepath.Join(lc.cacheDir, cacheFilePrefix+"*"+cacheFileExt))
	if err != nil {
		return fmt.Errorf("failed to list cache files: %w", err)
	}

	var totalSize int64
	for _, file := range files {
		info, err := os.Stat(file)
		if err != nil {
			continue
		}
		totalSize += info.Size()
	}

	lc.currentSize = totalSize
	return nil
}

func (lc *LocalCache) generateFilename(attemptID string) string {
	return filepath.Join(lc.cacheDir, cacheFilePrefix+attemptID+cacheFileExt)
}

// resultSinkNotifier is the slice of interfaces.Notifier that CachingStorage
// needs for the result-journal-specific alerts; satisfied by
// *notifications.SlackNotifier.
type resultSinkNotifier interface {
	IsEnabled() bool
	SendResultSinkFailure(ctx context.Context, err error) error
	SendResultSinkRecovery(ctx context.Context) error
	SendCacheWarning(ctx context.Context, cacheSize, maxSize int64) error
}

// CachingStorage wraps an interfaces.ResultSink with local caching support,
// and is itself an interfaces.ResultSink.
type CachingStorage struct {
	sink                interfaces.ResultSink
	cache               *LocalCache
	notifier            resultSinkNotifier
	cb                  *CircuitBreaker
	ctx                 context.Context
	cancel              context.CancelFunc
	replayWg            sync.WaitGroup
	cacheEnabled        bool
	cacheMutex          sync.RWMutex
	healthCheckInterval time.Duration
}

// CachingStorageOption defines a functional option for configuring CachingStorage.
type CachingStorageOption func(*CachingStorage)

// WithHealthCheckInterval sets a custom health check interval.
func WithHealthCheckInterval(interval time.Duration) CachingStorageOption {
	return func(cs *CachingStorage) {
		cs.healthCheckInterval = interval
	}
}

// NewCachingStorage creates a new caching storage wrapper around sink,
// falling back to cache (and alerting via notifier, which may be nil) when
// writes to sink fail.
func NewCachingStorage(sink interfaces.ResultSink, cache *LocalCache, notifier resultSinkNotifier, opts ...CachingStorageOption) *CachingStorage {
	ctx, cancel := context.WithCancel(context.Background())

	cs := &CachingStorage{
		sink:                sink,
		cache:               cache,
		notifier:            notifier,
		cb:                  NewCircuitBreaker(5, 30*time.Second, 2),
		ctx:                 ctx,
		cancel:              cancel,
		cacheEnabled:        false,
		healthCheckInterval: healthCheckInterval,
	}

	for _, opt := range opts {
		opt(cs)
	}

	cs.replayWg.Add(1)
	go cs.monitorAndReplay()

	return cs
}

// WriteSummary writes a summary, falling back to cache if the sink is
// unavailable.
func (cs *CachingStorage) WriteSummary(summary *interfaces.KernelSummary) error {
	err := cs.cb.Execute(cs.ctx, func(ctx context.Context) error {
		return cs.sink.WriteSummary(summary)
	})
	if err == nil {
		metrics.ResultSinkWritesTotal.Inc()
		return nil
	}

	metrics.ResultSinkWriteErrors.Inc()
	logger.Warn().Err(err).Str("kernel", summary.Kernel).Msg("result sink write failed, caching locally")

	cs.cacheMutex.Lock()
	if !cs.cacheEnabled {
		cs.cacheEnabled = true
		cs.cacheMutex.Unlock()
		if cs.notifier != nil && cs.notifier.IsEnabled() {
			alertCtx, alertCancel := context.WithTimeout(cs.ctx, 5*time.Second)
			defer alertCancel()
			if notifyErr := cs.notifier.SendResultSinkFailure(alertCtx, err); notifyErr != nil {
				logger.Error().Err(notifyErr).Msg("Failed to send result sink failure alert")
			}
		}
	} else {
		cs.cacheMutex.Unlock()
	}

	if cacheErr := cs.cache.Write(summary); cacheErr != nil {
		return fmt.Errorf("sink write failed and cache write failed: sink=%w, cache=%w", err, cacheErr)
	}

	cacheSize := cs.cache.GetCacheSize()
	maxSize := cs.cache.GetMaxSize()
	metrics.ResultSinkCacheBytes.Set(float64(cacheSize))
	if float64(cacheSize)/float64(maxSize) > 0.8 && cs.notifier != nil && cs.notifier.IsEnabled() {
		alertCtx, alertCancel := context.WithTimeout(cs.ctx, 5*time.Second)
		defer alertCancel()
		if notifyErr := cs.notifier.SendCacheWarning(alertCtx, cacheSize, maxSize); notifyErr != nil {
			logger.Error().Err(notifyErr).Msg("Failed to send cache warning alert")
		}
	}

	return nil
}

// WriteBatch writes multiple summaries.
func (cs *CachingStorage) WriteBatch(summaries []*interfaces.KernelSummary) error {
	for i, summary := range summaries {
		if err := cs.WriteSummary(summary); err != nil {
			return fmt.Errorf("failed to write summary %d/%d (kernel=%s): %w", i+1, len(summaries), summary.Kernel, err)
		}
	}
	return nil
}

// Flush flushes pending writes.
func (cs *CachingStorage) Flush() {
	cs.sink.Flush()
}

// Close closes the storage and stops replay.
func (cs *CachingStorage) Close() {
	logger.Info().Msg("Closing caching storage")
	cs.cancel()
	cs.replayWg.Wait()
	cs.sink.Close()
}

// Health checks sink health.
func (cs *CachingStorage) Health(ctx context.Context) error {
	return cs.sink.Health(ctx)
}

func (cs *CachingStorage) monitorAndReplay() {
	defer cs.replayWg.Done()

	ticker := time.NewTicker(cs.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-cs.ctx.Done():
			return
		case <-ticker.C:
			if cs.ctx.Err() != nil {
				return
			}
			cs.cacheMutex.RLock()
			cacheEnabled := cs.cacheEnabled
			cs.cacheMutex.RUnlock()

			if !cacheEnabled {
				continue
			}

			healthCtx, healthCancel := context.WithTimeout(cs.ctx, 5*time.Second)
			err := cs.sink.Health(healthCtx)
			healthCancel()

			if err != nil {
				logger.Debug().Err(err).Msg("result sink still unhealthy, keeping cache enabled")
				continue
			}

			logger.Info().Msg("result sink is healthy, replaying cached data")
			if replayErr := cs.replayCachedData(); replayErr != nil {
				logger.Error().Err(replayErr).Msg("Failed to replay cached data")
				continue
			}

			cs.cacheMutex.Lock()
			cs.cacheEnabled = false
			cs.cacheMutex.Unlock()

			if cs.notifier != nil && cs.notifier.IsEnabled() {
				alertCtx, alertCancel := context.WithTimeout(cs.ctx, 5*time.Second)
				defer alertCancel()
				if notifyErr := cs.notifier.SendResultSinkRecovery(alertCtx); notifyErr != nil {
					logger.Error().Err(notifyErr).Msg("Failed to send result sink recovery alert")
				}
			}
		}
	}
}

func (cs *CachingStorage) replayCachedData() error {
	summaries, err := cs.cache.ListCachedSummaries()
	if err != nil {
		return fmt.Errorf("failed to list cached summaries: %w", err)
	}

	if len(summaries) == 0 {
		logger.Info().Msg("No cached summaries to replay")
		return nil
	}

	logger.Info().Int("count", len(summaries)).Msg("Replaying cached summaries")

	successCount := 0
	failCount := 0

	for _, cached := range summaries {
		if err := cs.sink.WriteSummary(cached.Summary); err != nil {
			logger.Warn().
				Err(err).
				Str("kernel", cached.Summary.Kernel).
				Str("attempt_id", cached.AttemptID).
				Msg("Failed to replay cached summary")
			failCount++
			continue
		}

		if err := cs.cache.DeleteCached(cached.AttemptID); err != nil {
			logger.Warn().Err(err).Str("attempt_id", cached.AttemptID).Msg("Failed to delete replayed summary from cache")
		}

		successCount++

		if successCount%replayBatchSize == 0 {
			cs.sink.Flush()
		}
	}

	cs.sink.Flush()
	metrics.ResultSinkCacheBytes.Set(float64(cs.cache.GetCacheSize()))

	logger.Info().
		Int("success", successCount).
		Int("failed", failCount).
		Int("total", len(summaries)).
		Msg("Finished replaying cached summaries")

	return nil
}
