package core

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/hotpath/core/cache"
	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/middleware"
	"github.com/searchktools/hotpath/core/observability"
	"github.com/searchktools/hotpath/core/router"
)

// HandlerFunc is a route handler
type HandlerFunc = http.HandlerFunc

// Options configures an Engine. Zero sizes fall back to defaults; zero
// timeouts and a zero MaxConnections disable the limit.
type Options struct {
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// CacheShardCapacity bounds each of the 32 hot cache shards
	CacheShardCapacity int

	// MaxConnections caps concurrently served connections, 0 means no cap
	MaxConnections int

	MaxRequestBytes int
	ReadBufferSize  int
	IdleTimeout     time.Duration
	WriteTimeout    time.Duration

	SocketBufferBytes int
	Backlog           int
	KeepAliveIdle     time.Duration
	KeepAliveInterval time.Duration
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	pc := http.DefaultPipelineConfig()
	return Options{
		CacheShardCapacity: cache.DefaultShardCapacity,
		MaxConnections:     DefaultMaxConnections,
		MaxRequestBytes:    pc.MaxRequestBytes,
		ReadBufferSize:     pc.ReadBufferSize,
		IdleTimeout:        pc.IdleTimeout,
		WriteTimeout:       pc.WriteTimeout,
		SocketBufferBytes:  DefaultSocketBufferBytes,
		Backlog:            DefaultBacklog,
		KeepAliveIdle:      DefaultKeepAliveIdle,
		KeepAliveInterval:  DefaultKeepAliveInterval,
	}
}

// Engine is the HTTP/1.1 serving engine: a route registry, the hot
// route cache, the dispatcher and the connection acceptor.
type Engine struct {
	opts       Options
	logger     *zap.Logger
	metrics    *observability.Metrics
	registry   *router.Registry
	cache      *cache.HotCache
	dispatcher *Dispatcher

	mwMu     sync.RWMutex
	pipeline *middleware.Pipeline

	serving atomic.Bool
	connMu  sync.Mutex
	conns   map[net.Conn]struct{}
	closing bool
}

// NewEngine creates an engine with default options
func NewEngine() *Engine {
	return New(DefaultOptions())
}

// New creates an engine
func New(opts Options) *Engine {
	def := DefaultOptions()
	if opts.CacheShardCapacity <= 0 {
		opts.CacheShardCapacity = def.CacheShardCapacity
	}
	if opts.MaxRequestBytes <= 0 {
		opts.MaxRequestBytes = def.MaxRequestBytes
	}
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = def.ReadBufferSize
	}
	if opts.SocketBufferBytes <= 0 {
		opts.SocketBufferBytes = def.SocketBufferBytes
	}
	if opts.Backlog <= 0 {
		opts.Backlog = def.Backlog
	}
	if opts.KeepAliveIdle <= 0 {
		opts.KeepAliveIdle = def.KeepAliveIdle
	}
	if opts.KeepAliveInterval <= 0 {
		opts.KeepAliveInterval = def.KeepAliveInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	cacheOpts := []cache.Option{cache.WithShardCapacity(opts.CacheShardCapacity)}
	if opts.Metrics != nil {
		cacheOpts = append(cacheOpts, cache.WithMetrics(opts.Metrics))
	}

	e := &Engine{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		registry: router.NewRegistry(),
		cache:    cache.New(cacheOpts...),
		pipeline: middleware.NewPipeline(),
		conns:    make(map[net.Conn]struct{}),
	}
	e.dispatcher = NewDispatcher(e.registry, e.cache, e.metrics, e.logger)
	return e
}

// Register adds a route. method is matched case-insensitively against
// GET, POST, PUT, DELETE and PATCH. Path segments starting with ':' are
// parameters matching exactly one non-empty segment. Registering the
// same method and path again replaces the handler.
func (e *Engine) Register(method string, path string, h HandlerFunc) error {
	m, err := router.ParseMethod(method)
	if err != nil {
		return err
	}
	return e.register(m, path, h)
}

func (e *Engine) register(m router.Method, path string, h HandlerFunc) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s %s", m, path)
	}

	e.mwMu.RLock()
	if e.pipeline.Len() > 0 {
		h = e.pipeline.Then(h)
	}
	e.mwMu.RUnlock()

	route := e.registry.Register(m, path, h)
	e.metrics.SetRoutes(e.registry.Len())
	e.logger.Debug("route registered",
		zap.String("method", m.String()),
		zap.String("path", path),
		zap.Uint64("hash", route.Hash),
	)
	return nil
}

// Use adds middlewares wrapping every route registered afterwards.
// Routes already registered keep their handlers.
func (e *Engine) Use(mws ...middleware.Middleware) {
	e.mwMu.Lock()
	e.pipeline.Use(mws...)
	e.mwMu.Unlock()
}

func (e *Engine) mustRegister(m router.Method, path string, h HandlerFunc) {
	if err := e.register(m, path, h); err != nil {
		panic(err)
	}
}

// GET registers a GET route
func (e *Engine) GET(path string, handler HandlerFunc) {
	e.mustRegister(router.GET, path, handler)
}

// POST registers a POST route
func (e *Engine) POST(path string, handler HandlerFunc) {
	e.mustRegister(router.POST, path, handler)
}

// PUT registers a PUT route
func (e *Engine) PUT(path string, handler HandlerFunc) {
	e.mustRegister(router.PUT, path, handler)
}

// DELETE registers a DELETE route
func (e *Engine) DELETE(path string, handler HandlerFunc) {
	e.mustRegister(router.DELETE, path, handler)
}

// PATCH registers a PATCH route
func (e *Engine) PATCH(path string, handler HandlerFunc) {
	e.mustRegister(router.PATCH, path, handler)
}

// Registry returns the route registry
func (e *Engine) Registry() *router.Registry {
	return e.registry
}

// Cache returns the hot route cache
func (e *Engine) Cache() *cache.HotCache {
	return e.cache
}

// Dispatcher returns the request dispatcher
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}
