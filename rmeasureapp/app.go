// Copyright (c) 2025 Darren Soothill
// Licensed under the MIT License

// Package rmeasureapp wires cmd/rmeasured's components together: the
// marker pipe demultiplexer, the socket (RAPL) energy counter, the timer
// counter, the cross-daemon scope proxy, and the rapl.*/timer.*/scope.*/
// rmeasure.* RPC surface, plus the ambient metrics/health server, config
// hot-reload, and optional result journal shared with cmd/picod's
// scopeapp.App. Grounded in the teacher's app/app.go, generalized from one
// Matter-device poll loop to this package's measurement-source daemon.
package rmeasureapp

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
	"github.com/repara/rmeasure/marker"
	"github.com/repara/rmeasure/pkg/advertise"
	"github.com/repara/rmeasure/pkg/interfaces"
	"github.com/repara/rmeasure/pkg/logger"
	"github.com/repara/rmeasure/pkg/metrics"
	"github.com/repara/rmeasure/pkg/notifications"
	"github.com/repara/rmeasure/rpcserver"
	"github.com/repara/rmeasure/socket"
	"github.com/repara/rmeasure/storage"
	"github.com/repara/rmeasure/timer"
)

const (
	serviceType           = "_rmeasure._tcp"
	readinessCheckTimeout = 2 * time.Second
	shutdownTimeout       = 5 * time.Second
	flushTimeout          = 10 * time.Second
)

// App is the top-level wiring for cmd/rmeasured.
type App struct {
	cfg         *config.RMeasureConfig
	configPath  string
	metricsPort string

	demux       *marker.Demultiplexer
	rapl        *socket.Counter
	timerSource *timer.Counter
	scopeProxy  *ScopeProxy
	pulse       interfaces.PulseEmitter

	rpc          *rpcserver.Server
	httpServer   *http.Server
	mdnsHandle   *zeroconf.Server
	notifier     *notifications.SlackNotifier
	sink         interfaces.ResultSink
	journal      *kernelJournal
	journalStop  chan struct{}
	configWatch  *config.Watcher[config.RMeasureConfig]

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an App from cfg, wiring its sources, RPC surface, and optional
// result sink, but performs no I/O with side effects beyond opening the RPC
// listener, the pulse emitter's port (unless simulated), a file watcher on
// the config path, and (optionally) the result sink connection and cache.
func New(cfg *config.RMeasureConfig, configPath, metricsPort string) (*App, error) {
	a := &App{cfg: cfg, configPath: configPath, metricsPort: metricsPort}

	a.notifier = notifications.NewSlackNotifier(cfg.Notifications.SlackWebhookURL, "rmeasured")
	if a.notifier.IsEnabled() {
		logger.Info().Msg("rmeasured: Slack notifications enabled")
	}

	sockets := make([]socket.Descriptor, len(cfg.Sockets))
	for i, s := range cfg.Sockets {
		sockets[i] = socket.Descriptor{ComponentID: s.Name, LeadCore: s.FirstCore}
	}
	a.rapl = socket.NewCounter(sockets, socket.FileMSRReader{})
	a.timerSource = timer.NewCounter(cfg.Timer.SystemID)
	a.scopeProxy = NewScopeProxy()

	pulse, err := newPulseEmitter(cfg.Pulse)
	if err != nil {
		return nil, fmt.Errorf("rmeasured: failed to initialize pulse emitter: %w", err)
	}
	a.pulse = pulse

	a.demux = marker.New(cfg.Pipe.Path, cfg.Pipe.RefreshInterval, pulse)
	a.demux.Rapl = a.rapl
	a.demux.Timer = a.timerSource
	a.demux.Scope = a.scopeProxy

	if cfg.ResultSink.Enabled {
		sink, err := newResultSink(cfg, a.notifier)
		if err != nil {
			return nil, fmt.Errorf("rmeasured: failed to initialize result sink: %w", err)
		}
		a.sink = sink
		a.journal = newKernelJournal(a.rapl, a.timerSource, sink)
	}

	rpcSrv, err := rpcserver.NewServer(cfg.Server.RPCAddr, cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	if err != nil {
		return nil, fmt.Errorf("rmeasured: failed to start RPC server: %w", err)
	}
	if err := rpcSrv.Register("Rapl", rpcserver.NewRaplService(a.rapl)); err != nil {
		return nil, err
	}
	if err := rpcSrv.Register("Timer", rpcserver.NewTimerService(a.timerSource)); err != nil {
		return nil, err
	}
	if err := rpcSrv.Register("RMeasure", rpcserver.NewRMeasureService(a.rapl, a.timerSource)); err != nil {
		return nil, err
	}
	if err := rpcSrv.Register("Scope", rpcserver.NewScopeService(a.scopeProxy)); err != nil {
		return nil, err
	}
	a.rpc = rpcSrv

	a.httpServer = newMetricsServer(metricsPort, a.readinessCheck)

	watcher, err := config.NewWatcher(configPath, config.LoadRMeasureConfig)
	if err != nil {
		return nil, fmt.Errorf("rmeasured: failed to create config watcher: %w", err)
	}
	a.configWatch = watcher

	return a, nil
}

// Run starts every background component and blocks until the context
// passed to it (or an OS shutdown signal observed by cmd/rmeasured's main)
// is cancelled.
func (a *App) Run(ctx context.Context) {
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()

	a.startMetricsServer()
	a.startConfigWatcher()
	a.startRPCServer()
	a.startDemultiplexer()
	a.startJournal()
	a.advertiseIfEnabled()

	<-a.ctx.Done()
	a.performCleanup()
}

func (a *App) startMetricsServer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.httpServer.Addr).Msg("rmeasured: starting metrics and health server")
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("rmeasured: metrics server failed")
		}
	}()
}

func (a *App) startRPCServer() {
	metrics.Up.Set(1)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info().Str("addr", a.rpc.Addr().String()).Msg("rmeasured: serving RPC")
		if err := a.rpc.Serve(a.ctx); err != nil {
			logger.Error().Err(err).Msg("rmeasured: RPC server stopped with error")
		}
	}()
}

func (a *App) startDemultiplexer() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.demux.Run(a.ctx); err != nil {
			logger.Error().Err(err).Msg("rmeasured: marker demultiplexer stopped with error")
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
		logger.Warn().Err(err).Msg("rmeasured: failed to determine RPC port for mDNS advertisement")
		return
	}
	handle, err := advertise.Register(hostnameOrFallback(), serviceType, port)
	if err != nil {
		logger.Warn().Err(err).Msg("rmeasured: mDNS advertisement failed, continuing without it")
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
					logger.Error().Err(reloaded.Error).Msg("rmeasured: config reload failed")
					continue
				}
				a.cfg = reloaded.Config
				logger.Info().Msg("rmeasured: configuration reloaded (running components keep their startup settings)")
			}
		}
	}()
}

// DumpState implements cmddebug.StateDumper for the SIGUSR1 handler.
func (a *App) DumpState() string {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return fmt.Sprintf(
		"rapl_armed=%v timer_armed=%v scope_armed=%v alloc_mb=%d goroutines=%d",
		a.rapl.Armed(), a.timerSource.Armed(), a.scopeProxy.Armed(),
		m.Alloc/1024/1024, runtime.NumGoroutine(),
	)
}

func (a *App) readinessCheck(ctx context.Context) error {
	if a.sink == nil {
		return nil
	}
	return a.sink.Health(ctx)
}

// performCleanup stops advertising, closes the RPC listener, flushes the
// result sink, and waits for every background goroutine to exit.
func (a *App) performCleanup() {
	logger.Info().Msg("rmeasured: shutting down")

	if a.mdnsHandle != nil {
		a.mdnsHandle.Shutdown()
	}

	if err := a.rpc.Close(); err != nil {
		logger.Warn().Err(err).Msg("rmeasured: RPC listener close error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("rmeasured: HTTP server shutdown error")
	}

	if err := a.scopeProxy.Close(); err != nil {
		logger.Warn().Err(err).Msg("rmeasured: scope proxy close error")
	}
	if a.pulse != nil {
		if err := a.pulse.Close(); err != nil {
			logger.Warn().Err(err).Msg("rmeasured: pulse emitter close error")
		}
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
			logger.Warn().Msg("rmeasured: result sink flush timed out, some data may be lost")
		}
		a.sink.Close()
	}

	logger.Info().Msg("rmeasured: waiting for goroutines to finish")
	a.wg.Wait()
	logger.Info().Msg("rmeasured: shutdown complete")
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

func newResultSink(cfg *config.RMeasureConfig, notifier *notifications.SlackNotifier) (interfaces.ResultSink, error) {
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

	// A nil *notifications.SlackNotifier boxed into the resultSinkNotifier
	// interface is non-nil and panics on IsEnabled(), so pass a literal nil
	// when notifications are disabled rather than the typed, disabled
	// notifier.
	if notifier.IsEnabled() {
		return storage.NewCachingStorage(influx, cache, notifier), nil
	}
	return storage.NewCachingStorage(influx, cache, nil), nil
}

func newPulseEmitter(cfg config.PulseConfig) (interfaces.PulseEmitter, error) {
	if cfg.Simulated {
		return &marker.RecordingEmitter{}, nil
	}
	return marker.NewParallelPortEmitter(cfg.ParallelPortAddress)
}
