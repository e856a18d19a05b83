// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package storage implements the optional finalized-kernel-result journal:
// an InfluxDB-backed interfaces.ResultSink with local-file fallback and
// automatic replay once the database recovers.
//
// # Connection Pooling
//
// The InfluxDB client automatically manages HTTP connection pooling using Go's
// net/http package. The client creates a single HTTP connection pool that is
// shared across all write operations, providing efficient connection reuse.
//
// Key connection pooling behaviors:
//   - HTTP/1.1 persistent connections are reused automatically
//   - Default Go http.Transport settings apply:
//     * MaxIdleConns: 100 (total idle connections across all hosts)
//     * MaxIdleConnsPerHost: 2 (idle connections per host)
//     * IdleConnTimeout: 90 seconds (time before idle connections are closed)
//   - Connections are thread-safe and can be used concurrently
//   - No manual connection management is required
//
// The WriteAPI uses non-blocking asynchronous writes with automatic batching,
// further improving throughput by reducing the number of HTTP requests.
package storage

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
)

const (
	maxRetries     = 3
	initialBackoff = 1 * time.Second
	maxBackoff     = 30 * time.Second
)

// InfluxDBStorage writes finalized kernel summaries to InfluxDB. It
// implements interfaces.ResultSink directly; CachingStorage wraps it with a
// circuit breaker and local fallback for use when the database is flaky.
type InfluxDBStorage struct {
	client     influxdb2.Client
	writeAPI   api.WriteAPI
	bucket     string
	org        string
	ctx        context.Context
	cancel     context.CancelFunc
	errorWg    sync.WaitGroup
	retryQueue chan retryItem
	closed     bool
	closeMutex sync.Mutex
}

type retryItem struct {
	summary  *interfaces.KernelSummary
	attempts int
}

// NewInfluxDBStorage creates a new InfluxDB-backed result sink.
//
// Connection Pooling:
// The InfluxDB client automatically manages HTTP connection pooling. A single
// client instance maintains a pool of persistent HTTP connections that are
// reused across multiple write operations. This significantly reduces the
// overhead of establishing new connections for each request.
//
// The client is thread-safe and can be safely shared across multiple goroutines.
// All write operations use the same underlying connection pool, maximizing
// efficiency for concurrent writes.
//
// No manual connection management is required. The Close() method should be
// called when the storage is no longer needed to gracefully close all connections.
func NewInfluxDBStorage(url, token, org, bucket string) (*InfluxDBStorage, error) {
	client := influxdb2.NewClient(url, token)

	healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer healthCancel()

	health, err := client.Health(healthCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	if health.Status != "pass" {
		client.Close()
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return nil, fmt.Errorf("InfluxDB health check failed: %s", message)
	}

	logger.Info().Str("url", url).Str("status", string(health.Status)).Msg("Connected to InfluxDB")

	writeAPI := client.WriteAPI(org, bucket)

	ctx, cancel := context.WithCancel(context.Background())
	storage := &InfluxDBStorage{
		client:     client,
		writeAPI:   writeAPI,
		bucket:     bucket,
		org:        org,
		ctx:        ctx,
		cancel:     cancel,
		retryQueue: make(chan retryItem, 100),
	}

	storage.errorWg.Add(2)
	go storage.handleWriteErrors()
	go storage.processRetries()

	return storage, nil
}

// WriteSummary writes one finalized kernel summary row to InfluxDB.
func (s *InfluxDBStorage) WriteSummary(summary *interfaces.KernelSummary) error {
	if summary == nil {
		return fmt.Errorf("summary cannot be nil")
	}
	if summary.Kernel == "" {
		return fmt.Errorf("kernel name cannot be empty")
	}
	if summary.CapturedAt.IsZero() {
		return fmt.Errorf("captured_at cannot be zero")
	}

	p := influxdb2.NewPoint(
		"kernel_measurement",
		map[string]string{
			"kernel":     summary.Kernel,
			"component":  summary.Component,
			"capability": summary.Capability,
		},
		map[string]interface{}{
			"value": summary.Value,
		},
		summary.CapturedAt,
	)

	s.writeAPI.WritePoint(p)
	return nil
}

// WriteBatch writes multiple summary rows efficiently.
func (s *InfluxDBStorage) WriteBatch(summaries []*interfaces.KernelSummary) error {
	if summaries == nil {
		return fmt.Errorf("summaries slice cannot be nil")
	}

	for i, summary := range summaries {
		if err := s.WriteSummary(summary); err != nil {
			return fmt.Errorf("failed to write summary at index %d: %w", i, err)
		}
	}
	return nil
}

// Flush forces all pending writes to complete.
func (s *InfluxDBStorage) Flush() {
	s.writeAPI.Flush()
}

// Close closes the InfluxDB client and flushes pending writes.
func (s *InfluxDBStorage) Close() {
	s.closeMutex.Lock()
	if s.closed {
		s.closeMutex.Unlock()
		return
	}
	s.closed = true
	s.closeMutex.Unlock()

	logger.Info().Msg("Closing InfluxDB connection")

	s.cancel()
	close(s.retryQueue)
	s.errorWg.Wait()

	s.writeAPI.Flush()
	s.client.Close()
}

// handleWriteErrors monitors the async write error channel and logs failures.
func (s *InfluxDBStorage) handleWriteErrors() {
	defer s.errorWg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case err := <-s.writeAPI.Errors():
			if err == nil {
				return
			}
			logger.Error().Err(err).Msg("InfluxDB write error, will retry if possible")
			// The async writer doesn't hand back the failed point, so retry
			// is driven by CachingStorage's circuit breaker at a higher
			// level rather than by re-queuing here.
		}
	}
}

// processRetries handles retrying failed writes with exponential backoff.
// Nothing enqueues onto retryQueue except this loop's own re-queue of a
// failed retry; production retries happen at the CachingStorage layer, but
// the queue is kept so a caller with the actual failed summary in hand
// (unlike handleWriteErrors) can still retry.
func (s *InfluxDBStorage) processRetries() {
	defer s.errorWg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case item, ok := <-s.retryQueue:
			if !ok {
				return
			}

			backoff := initialBackoff
			for i := 0; i < item.attempts; i++ {
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
					break
				}
			}

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}

			if item.attempts < maxRetries {
				logger.Info().
					Int("attempt", item.attempts+1).
					Int("max_retries", maxRetries).
					Dur("backoff", backoff).
					Str("kernel", item.summary.Kernel).
					Msg("Retrying InfluxDB write")

				if err := s.WriteSummary(item.summary); err != nil {
					logger.Error().
						Err(err).
						Int("attempt", item.attempts+1).
						Str("kernel", item.summary.Kernel).
						Msg("Retry failed")

					item.attempts++
					select {
					case s.retryQueue <- item:
					case <-s.ctx.Done():
						return
					default:
						logger.Warn().Str("kernel", item.summary.Kernel).Msg("Retry queue full, dropping write")
					}
				} else {
					logger.Info().Int("attempt", item.attempts+1).Str("kernel", item.summary.Kernel).Msg("Retry successful")
				}
			} else {
				logger.Error().Int("attempts", item.attempts).Str("kernel", item.summary.Kernel).Msg("Max retries exceeded, dropping write")
			}
		}
	}
}

// Client returns the underlying InfluxDB client for advanced operations.
func (s *InfluxDBStorage) Client() influxdb2.Client {
	return s.client
}

// Health checks the InfluxDB connection health.
func (s *InfluxDBStorage) Health(ctx context.Context) error {
	health, err := s.client.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if health.Status != "pass" {
		message := "unknown error"
		if health.Message != nil {
			message = *health.Message
		}
		return fmt.Errorf("InfluxDB unhealthy: %s", message)
	}
	return nil
}

// sanitizeFluxString escapes special characters in strings used in Flux
// queries to prevent injection attacks.
func sanitizeFluxString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}

// QueryLatestSummary retrieves the most recently captured value for a
// kernel/component/capability triple.
func (s *InfluxDBStorage) QueryLatestSummary(ctx context.Context, kernel, component, capability string) (*interfaces.KernelSummary, error) {
	if kernel == "" {
		return nil, fmt.Errorf("kernel cannot be empty")
	}

	queryAPI := s.client.QueryAPI(s.org)

	safeBucket := sanitizeFluxString(s.bucket)
	safeKernel := sanitizeFluxString(kernel)
	safeComponent := sanitizeFluxString(component)
	safeCapability := sanitizeFluxString(capability)

	query := fmt.Sprintf(`
		from(bucket: "%s")
			|> range(start: -1h)
			|> filter(fn: (r) => r._measurement == "kernel_measurement")
			|> filter(fn: (r) => r.kernel == "%s")
			|> filter(fn: (r) => r.component == "%s")
			|> filter(fn: (r) => r.capability == "%s")
			|> last()
	`, safeBucket, safeKernel, safeComponent, safeCapability)

	result, err := queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer func() {
		_ = result.Close()
	}()

	summary := &interfaces.KernelSummary{
		Kernel:     kernel,
		Component:  component,
		Capability: capability,
	}

	for result.Next() {
		record := result.Record()
		summary.CapturedAt = record.Time()
		if val, ok := record.ValueByKey("value").(float64); ok {
			summary.Value = val
		}
	}

	if result.Err() != nil {
		return nil, fmt.Errorf("query parsing failed: %w", result.Err())
	}

	return summary, nil
}
