// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package scopeapp wires cmd/picod's components together: the
// oscilloscope device binding, the streaming pipeline that segments it
// into per-window channel statistics, and the pico.* RPC surface, plus the
// ambient metrics/health server, config hot-reload, and optional result
// journal shared with cmd/rmeasured's rmeasureapp.App. Grounded in the
// teacher's app/app.go, generalized the same way rmeasureapp.App is.
package scopeapp

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/repara/rmeasure/config"
	"github.com/repara/rmeasure/pkg/advertise"
	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/pkg/metrics"
	"github.com/repara/rmeasure/pkg/notifications"
	"github.com/repara/rmeasure/rpcserver"
	"github.com/repara/rmeasure/scope"
	"github.com/repara/rmeasure/storage"
)

const (
	serviceType           = "_picoscope._tcp"
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
)

// App is the top-level wiring for cmd/picod.
type App struct {
	cfg         *config.ScopeConfig
	configPath  string
	metricsPort string

	device   scope.Device
	pipeline *scope.Pipeline

	rpc         *rpcserver.Server
	httpServer  *http.Server
	mdnsHandle  *zeroconf.Server
	notifier    *notifications.SlackNotifier
	sink        interfaces.ResultSink
	journal     *kernelJournal
	journalStop chan struct{}
	configWatch *config.Watcher[config.ScopeConfig]

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an App from cfg. device, if nil, defaults to a
// scope.SimulatedDevice: no real PicoScope SDK binding ships in this
// module (see DESIGN.md), so a caller wanting real hardware must supply
// its own scope.Device implementation.
func New(cfg *config.ScopeConfig, configPath, metricsPort string, device scope.Device) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath, metricsPort: metricsPort}

	a.notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL, "picod")
	if a.notifier.IsEnabled() {
		logger.Info().Msg("picod: Slack notifications enabled")
	}

	if device == nil {
		device = scope.NewSimulatedDevice("PS6000", nil)
	}
	a.device = device

	pipeline, err := scope.NewPipeline(device, cfg.Channels, cfg.FilterMV, cfg.SampleRateHz, cfg.AllowRaw)
	if err != nil {
		return nil, fmt.Errorf("picod: failed to build streaming pipeline: %w", err)
	}
	a.pipeline = pipeline

	if cfg.ResultSink.Enabled {
		sink, err := newResultSink(cfg, a.notifier)
		if err != nil {
			return nil, fmt.Errorf("picod: failed to initialize result sink: %w", err)
		}
		a.sink = sink
		a.journal = newKernelJournal(pipeline, sink)
	}

	rpcSrv, err := rpcserver.NewServer(cfg.Server.RPCAddr, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	if err != nil {
		return nil, fmt.Errorf("picod: failed to start RPC server: %w", err)
	}
	if err := rpcSrv.Register("Pico", rpcserver.NewPicoService(device, pipeline, cfg.Channels)); err != nil {
		return nil, err
	}
	a.rpc = rpcSrv

	a.httpServer = newMetricsServer(metricsPort, a.readinessCheck)

	watcher, err := config.NewWatcher(configPath, config.LoadScopeConfig)
	if err != nil {
		return nil, fmt.Errorf("picod: failed to create config watcher: %w", err)
	}
	a.configWatch = watcher

	return a, nil
}

// Run starts every background component and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.startMetricsServer()
	a.startConfigWatcher()
	a.startRPCServer()
	a.startJournal()
	a.advertiseIfEnabled()

	<-a.ctx.Done()
	a.performCleanup()
}

func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.httpServer.Addr).Msg("picod: starting metrics and health server")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("picod: metrics server failed")
		}
	}()
}

func (a *App) startRPCServer() {
	metrics.Up.Set(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.rpc.Addr().String()).Msg("picod: serving RPC")
		if err := a.rpc.Serve(a.ctx); err != nil {
			logger.Error().Err(err).Msg("picod: RPC server stopped with error")
		}
	}()
}

func (a *App) startJournal() {
	if a.journal == nil {
		return
	}
	a.journalStop = make(chan struct{})
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.journal.run(a.journalStop)
	}()
}

func (a *App) advertiseIfEnabled() {
	if a.cfg.Server.DontAdvertise {
		return
	}
	port, err := rpcPort(a.rpc.Addr().String())
	if err != nil {
		logger.Warn().Err(err).Msg("picod: failed to determine RPC port for mDNS advertisement")
		return
	}
	handle, err := advertise.Register(hostnameOrFallback(), serviceType, port)
	if err != nil {
		logger.Warn().Err(err).Msg("picod: mDNS advertisement failed, continuing without it")
		return
	}
	a.mdnsHandle = handle
}

func (a *App) startConfigWatcher() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.ctx.Done():
				return
			case reloaded, ok := <-a.configWatch.Reloaded:
				if !ok {
					return
				}
				if reloaded.Error != nil {
					logger.Error().Err(reloaded.Error).Msg("picod: config reload failed")
					continue
				}
				a.cfg = reloaded.Config
				logger.Info().Msg("picod: configuration reloaded (running components keep their startup settings)")
			}
		}
	}()
}

// DumpState implements cmddebug.StateDumper for the SIGUSR1 handler.
func (a *App) DumpState() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf(
		"pipeline_armed=%v alloc_mb=%d goroutines=%d",
		a.pipeline.Armed(), m.Alloc/1024/1024, runtime.NumGoroutine(),
	)
}

func (a *App) readinessCheck(ctx context.Context) error {
	if a.sink == nil {
		return nil
	}
	return a.sink.Health(ctx)
}

func (a *App) performCleanup() {
	logger.Info().Msg("picod: shutting down")

	if a.mdnsHandle != nil {
		a.mdnsHandle.Shutdown()
	}

	if err := a.rpc.Close(); err != nil {
		logger.Warn().Err(err).Msg("picod: RPC listener close error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("picod: HTTP server shutdown error")
	}

	a.pipeline.Disarm()
	if err := a.device.Close(); err != nil {
		logger.Warn().Err(err).Msg("picod: device close error")
	}

	a.configWatch.Close()

	if a.journalStop != nil {
		close(a.journalStop)
	}

	if a.sink != nil {
		flushDone := make(chan struct{})
		go func() {
			a.sink.Flush()
			close(flushDone)
		}()
		flushCtx, flushCancel := context.WithTimeout(context.Background(), flushTimeout)
		defer flushCancel()
		select {
		case <-flushDone:
		case <-flushCtx.Done():
			logger.Warn().Msg("picod: result sink flush timed out, some data may be lost")
		}
		a.sink.Close()
	}

	logger.Info().Msg("picod: waiting for goroutines to finish")
	a.wg.Wait()
	logger.Info().Msg("picod: shutdown complete")
}

func newMetricsServer(addr string, readiness func(context.Context) error) *http.Server {
	healthLimiter := rate.NewLimiter(10, 20)
	readyLimiter := rate.NewLimiter(10, 20)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", rateLimitMiddleware(healthLimiter, healthCheckHandler))
	mux.HandleFunc("/ready", rateLimitMiddleware(readyLimiter, func(w http.ResponseWriter, r *http.Request) {
		readinessCheckHandler(w, r, readiness)
	}))

	return &http.Server{Addr: addr, Handler: mux}
}

func rateLimitMiddleware(limiter *rate.Limiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}

func healthCheckHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func readinessCheckHandler(w http.ResponseWriter, _ *http.Request, check func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), readinessCheckTimeout)
	defer cancel()
	if err := check(ctx); err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("NOT READY: " + err.Error()))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("READY"))
}

func newResultSink(cfg *config.ScopeConfig, notifier *notifications.SlackNotifier) (interfaces.ResultSink, error) {
	influx, err := storage.NewInfluxDBStorage(
		cfg.ResultSink.InfluxDB.URL,
		cfg.ResultSink.InfluxDB.Token,
		cfg.ResultSink.InfluxDB.Organization,
		cfg.ResultSink.InfluxDB.Bucket,
	)
	if err != nil {
		return nil, err
	}

	cache, err := storage.NewLocalCache(cfg.Cache.Directory, cfg.Cache.MaxSize, cfg.Cache.MaxAge)
	if err != nil {
		influx.Close()
		return nil, err
	}

	if notifier.IsEnabled() {
		return storage.NewCachingStorage(influx, cache, notifier), nil
	}
	return storage.NewCachingStorage(influx, cache, nil), nil
}
