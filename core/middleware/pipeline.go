package middleware

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/hotpath/core/http"
)

var tooManyRequestsBody = []byte(`{"error":"Too Many Requests"}`)

// Middleware wraps a handler. A middleware aborts the request by
// returning a response without calling next.
type Middleware func(next http.HandlerFunc) http.HandlerFunc

// Pipeline is an ordered middleware list. The first middleware added is
// the outermost one.
type Pipeline struct {
	handlers []Middleware
}

// NewPipeline creates a new middleware pipeline
func NewPipeline() *Pipeline {
	return &Pipeline{
		handlers: make([]Middleware, 0, 16),
	}
}

// Use adds middlewares to the pipeline
func (p *Pipeline) Use(mws ...Middleware) *Pipeline {
	for _, mw := range mws {
		if mw != nil {
			p.handlers = append(p.handlers, mw)
		}
	}
	return p
}

// Len returns the number of middlewares
func (p *Pipeline) Len() int {
	return len(p.handlers)
}

// Then wraps final with every middleware. The wrapping happens once, so
// the returned handler costs one call per middleware and nothing else.
func (p *Pipeline) Then(final http.HandlerFunc) http.HandlerFunc {
	return Chain(final, p.handlers...)
}

// Chain wraps h with mws, mws[0] outermost
func Chain(h http.HandlerFunc, mws ...Middleware) http.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			h = mws[i](h)
		}
	}
	return h
}

// Common middleware implementations

// Recovery turns a panic into a 500 response
func Recovery(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx context.Context, opts http.Options) (res http.ResponseData) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered", zap.Any("panic", err), zap.Stack("stack"))
					res = http.InternalError()
				}
			}()
			return next(ctx, opts)
		}
	}
}

// Logger logs the status and latency of every request at debug level
func Logger(logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx context.Context, opts http.Options) http.ResponseData {
			if !logger.Core().Enabled(zap.DebugLevel) {
				return next(ctx, opts)
			}
			start := time.Now()
			res := next(ctx, opts)
			logger.Debug("request handled",
				zap.Uint16("status", res.StatusCode),
				zap.Int("bytes", len(res.Data)),
				zap.Duration("duration", time.Since(start)),
			)
			return res
		}
	}
}

// Timeout attaches a deadline to the handler context. Handlers that
// honor ctx, such as callback bridge handlers, give up when it passes.
func Timeout(d time.Duration) Middleware {
	return func(next http.HandlerFunc) http.HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, opts http.Options) http.ResponseData {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, opts)
		}
	}
}

// RateLimiter allows requestsPerSecond requests per one second window
// across every route it wraps and answers the rest with 429.
func RateLimiter(requestsPerSecond int) Middleware {
	var (
		tokens     = requestsPerSecond
		lastRefill = time.Now()
		mu         sync.Mutex
	)

	allow := func() bool {
		mu.Lock()
		defer mu.Unlock()

		now := time.Now()
		if now.Sub(lastRefill) >= time.Second {
			tokens = requestsPerSecond
			lastRefill = now
		}
		if tokens > 0 {
			tokens--
			return true
		}
		return false
	}

	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(ctx context.Context, opts http.Options) http.ResponseData {
			if !allow() {
				return http.NewResponse(429, tooManyRequestsBody)
			}
			return next(ctx, opts)
		}
	}
}
