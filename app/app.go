package app

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/searchktools/hotpath/config"
	"github.com/searchktools/hotpath/core"
	"github.com/searchktools/hotpath/core/bridge"
	"github.com/searchktools/hotpath/core/logging"
	"github.com/searchktools/hotpath/core/observability"
)

// App wires configuration, logging, metrics and the engine together
type App struct {
	cfg      *config.Config
	logger   *logging.Logger
	registry *prometheus.Registry
	metrics  *observability.Metrics
	engine   *core.Engine
}

// New creates an application instance with an engine built from cfg
func New(cfg *config.Config) (*App, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = core.New(EngineOptions(cfg, a.logger.Named("engine").Logger, a.metrics))
	return a, nil
}

// NewWithEngine creates an application instance around a pre-configured
// engine. The engine keeps its own logger and metrics.
func NewWithEngine(cfg *config.Config, engine *core.Engine) (*App, error) {
	a, err := newApp(cfg)
	if err != nil {
		return nil, err
	}
	a.engine = engine
	return a, nil
}

func newApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(&logging.Config{
		Level:       level,
		Format:      logging.Format(cfg.LogFormat),
		Output:      "stdout",
		Development: !cfg.IsProduction(),
	})
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	logging.SetGlobal(logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  observability.NewMetrics(registry),
	}, nil
}

// EngineOptions maps cfg onto engine options
func EngineOptions(cfg *config.Config, logger *zap.Logger, metrics *observability.Metrics) core.Options {
	opts := core.DefaultOptions()
	opts.Logger = logger
	opts.Metrics = metrics
	opts.CacheShardCapacity = cfg.CacheShardCapacity
	opts.MaxConnections = cfg.MaxConnections
	opts.MaxRequestBytes = cfg.MaxRequestBytes
	opts.IdleTimeout = cfg.IdleTimeout
	opts.WriteTimeout = cfg.WriteTimeout
	opts.SocketBufferBytes = cfg.SocketBufferBytes
	opts.Backlog = cfg.Backlog
	opts.KeepAliveIdle = cfg.KeepAliveIdle
	opts.KeepAliveInterval = cfg.KeepAliveInterval
	return opts
}

// Engine returns the underlying engine for route registration
func (a *App) Engine() *core.Engine {
	return a.engine
}

// Logger returns the application logger
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Registry returns the Prometheus registry the metrics server exposes
func (a *App) Registry() *prometheus.Registry {
	return a.registry
}

// Bridge creates a callback bridge that runs callbacks on exec, using
// the configured callback timeout.
func (a *App) Bridge(exec bridge.Executor) *bridge.Bridge {
	return bridge.New(exec,
		bridge.WithTimeout(a.cfg.CallbackTimeout),
		bridge.WithLogger(a.logger.Named("bridge").Logger),
		bridge.WithMetrics(a.metrics),
	)
}

// Run serves until SIGINT/SIGTERM or until ctx is done. It returns the
// first fatal error of the engine, the metrics server or the config
// watcher.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ln, err := core.Listen(ctx, a.cfg.Addr(), core.ListenConfig{
		SocketBufferBytes: a.cfg.SocketBufferBytes,
		Backlog:           a.cfg.Backlog,
	})
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}

	var metricsLn net.Listener
	if a.cfg.MetricsPort > 0 {
		metricsLn, err = net.Listen("tcp", a.cfg.MetricsAddr())
		if err != nil {
			ln.Close()
			return fmt.Errorf("metrics listen %s: %w", a.cfg.MetricsAddr(), err)
		}
	}

	return a.serve(ctx, ln, metricsLn)
}

// serve runs every component on the given listeners. A nil metricsLn
// disables the metrics server.
func (a *App) serve(ctx context.Context, ln, metricsLn net.Listener) error {
	defer func() { _ = a.logger.Sync() }()

	a.logger.Info("hotpath starting",
		zap.String("addr", ln.Addr().String()),
		zap.String("env", a.cfg.Env),
		zap.Int("routes", a.engine.Registry().Len()),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.engine.Serve(ctx, ln)
	})

	if metricsLn != nil {
		srv := observability.NewServer(&observability.ServerConfig{
			Addr:         metricsLn.Addr().String(),
			Path:         a.cfg.MetricsPath,
			ReadTimeout:  a.cfg.MetricsReadTimeout,
			WriteTimeout: a.cfg.WriteTimeout,
		}, a.registry, a.logger.Named("metrics").Logger)
		g.Go(func() error {
			return srv.Serve(ctx, metricsLn)
		})
	}

	if a.cfg.File != "" {
		g.Go(func() error {
			return config.Watch(ctx, a.cfg.File, a.reload)
		})
	}

	err := g.Wait()
	if err != nil {
		a.logger.Error("hotpath stopped", zap.Error(err))
		return err
	}
	a.logger.Info("hotpath stopped")
	return nil
}

// reload applies the settings that can change without a restart
func (a *App) reload(cfg *config.Config, err error) {
	if err != nil {
		a.logger.Warn("config reload failed, keeping current settings", zap.Error(err))
		return
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		a.logger.Warn("config reload failed, keeping current settings", zap.Error(err))
		return
	}
	if level != a.logger.GetLevel() {
		a.logger.SetLevel(level)
		a.logger.Info("log level changed", zap.String("level", string(level)))
	}
}
