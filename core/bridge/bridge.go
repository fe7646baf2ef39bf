// Package bridge connects engine routes to callbacks that must run in
// another execution environment, such as a single-threaded scripting
// runtime. Each request is handed over through a one-slot channel and
// waited for with a timeout.
package bridge

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/searchktools/hotpath/core/codec"
	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/router"
)

// DefaultTimeout bounds the wait for one callback result
const DefaultTimeout = 30 * time.Second

// Outcomes reported to Metrics
const (
	OutcomeOK       = "ok"
	OutcomeTimeout  = "timeout"
	OutcomeFailed   = "failed"
	OutcomeNotFound = "not_found"
)

var (
	timeoutBody  = []byte(`{"error":"Callback timeout"}`)
	failedBody   = []byte(`{"error":"Callback failed"}`)
	notFoundBody = []byte(`{"error":"Route not found"}`)
)

// CallbackData is what a callback receives: the request body and path
// parameters, each encoded with the bridge codec, or nil when absent.
type CallbackData struct {
	Body     []byte
	Params   []byte
	Encoding string
}

// CallbackResult is the response computed by a callback
type CallbackResult struct {
	Status uint16
	Data   []byte
}

// Callback computes a response. It runs on the bridge executor.
type Callback func(data CallbackData) (CallbackResult, error)

// Registrar is the route table the bridge installs its handlers into
type Registrar interface {
	Register(method string, path string, h http.HandlerFunc) error
}

// Metrics receives invocation outcomes
type Metrics interface {
	Outcome(outcome string)
}

type noopMetrics struct{}

func (noopMetrics) Outcome(string) {}

type entry struct {
	method string
	path   string
	cb     Callback
	calls  atomic.Uint64
}

// CallStat is the invocation count of one callback
type CallStat struct {
	Hash   uint64 `json:"hash"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Calls  uint64 `json:"calls"`
}

// Bridge owns the registered callbacks and the executor they run on.
type Bridge struct {
	exec    Executor
	codec   codec.Codec
	timeout time.Duration
	logger  *zap.Logger
	metrics Metrics

	mu        sync.Mutex
	callbacks atomic.Pointer[map[uint64]*entry]
}

// Option configures a Bridge
type Option func(*Bridge)

// WithTimeout sets the maximum wait for a callback result
func WithTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithCodec sets the codec used for CallbackData
func WithCodec(c codec.Codec) Option {
	return func(b *Bridge) {
		if c != nil {
			b.codec = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(b *Bridge) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics reports invocation outcomes to m
func WithMetrics(m Metrics) Option {
	return func(b *Bridge) {
		if m != nil {
			b.metrics = m
		}
	}
}

// New creates a bridge that runs callbacks on exec
func New(exec Executor, opts ...Option) *Bridge {
	b := &Bridge{
		exec:    exec,
		codec:   &codec.JSONCodec{},
		timeout: DefaultTimeout,
		logger:  zap.NewNop(),
		metrics: noopMetrics{},
	}
	for _, opt := range opts {
		opt(b)
	}
	empty := make(map[uint64]*entry)
	b.callbacks.Store(&empty)
	return b
}

// Hash returns the callback identity for method and path
func Hash(method, path string) uint64 {
	return router.Hash(strings.ToUpper(method) + ":" + path)
}

// Register installs a route in reg that invokes cb and then stores cb.
// Registering the same method and path again replaces the callback. When
// reg rejects the route nothing is stored.
func (b *Bridge) Register(reg Registrar, method, path string, cb Callback) error {
	upper := strings.ToUpper(method)
	if _, err := router.ParseMethod(upper); err != nil {
		return err
	}
	if cb == nil {
		return fmt.Errorf("bridge: nil callback for %s %s", upper, path)
	}

	// The route goes in first; a rejected route leaves no callback behind.
	// Until the store below, the route answers 404 or runs the callback
	// being replaced.
	hash := Hash(upper, path)
	err := reg.Register(upper, path, func(ctx context.Context, opts http.Options) http.ResponseData {
		return b.Invoke(ctx, hash, opts)
	})
	if err != nil {
		return err
	}
	b.store(hash, &entry{method: upper, path: path, cb: cb})

	b.logger.Debug("callback registered",
		zap.String("method", upper),
		zap.String("path", path),
		zap.Uint64("hash", hash),
	)
	return nil
}

func (b *Bridge) store(hash uint64, e *entry) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cur := *b.callbacks.Load()
	next := make(map[uint64]*entry, len(cur)+1)
	for h, existing := range cur {
		next[h] = existing
	}
	next[hash] = e
	b.callbacks.Store(&next)
}

// Invoke runs the callback registered under hash and waits for its
// result. It never returns an error: failures become 404, 500 or 504
// responses.
func (b *Bridge) Invoke(ctx context.Context, hash uint64, opts http.Options) http.ResponseData {
	e, ok := (*b.callbacks.Load())[hash]
	if !ok {
		b.metrics.Outcome(OutcomeNotFound)
		return http.NewResponse(404, notFoundBody)
	}
	e.calls.Add(1)

	data, err := b.encode(opts)
	if err != nil {
		b.logger.Debug("callback payload encoding failed",
			zap.String("path", e.path), zap.Error(err))
		return b.failed()
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	type outcome struct {
		res CallbackResult
		err error
	}
	results := make(chan outcome, 1)

	err = b.exec.Submit(ctx, func() {
		defer func() {
			if r := recover(); r != nil {
				results <- outcome{err: fmt.Errorf("callback panic: %v", r)}
			}
		}()
		res, err := e.cb(data)
		results <- outcome{res: res, err: err}
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return b.timedOut(e)
		}
		b.logger.Debug("callback submit failed", zap.String("path", e.path), zap.Error(err))
		return b.failed()
	}

	select {
	case o := <-results:
		if o.err != nil {
			b.logger.Debug("callback failed", zap.String("path", e.path), zap.Error(o.err))
			return b.failed()
		}
		b.metrics.Outcome(OutcomeOK)
		return http.NewResponse(o.res.Status, o.res.Data)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return b.timedOut(e)
		}
		return b.failed()
	}
}

func (b *Bridge) encode(opts http.Options) (CallbackData, error) {
	data := CallbackData{Encoding: b.codec.Name()}
	if opts.Body != nil {
		body, err := b.codec.Encode(opts.Body)
		if err != nil {
			return data, fmt.Errorf("encode body: %w", err)
		}
		data.Body = body
	}
	if opts.Params != nil {
		params, err := b.codec.Encode(opts.Params)
		if err != nil {
			return data, fmt.Errorf("encode params: %w", err)
		}
		data.Params = params
	}
	return data, nil
}

func (b *Bridge) timedOut(e *entry) http.ResponseData {
	b.logger.Warn("callback timed out",
		zap.String("method", e.method),
		zap.String("path", e.path),
		zap.Duration("timeout", b.timeout),
	)
	b.metrics.Outcome(OutcomeTimeout)
	return http.NewResponse(504, timeoutBody)
}

func (b *Bridge) failed() http.ResponseData {
	b.metrics.Outcome(OutcomeFailed)
	return http.NewResponse(500, failedBody)
}

// Stats returns per-callback invocation counts, highest first
func (b *Bridge) Stats() []CallStat {
	cur := *b.callbacks.Load()
	stats := make([]CallStat, 0, len(cur))
	for h, e := range cur {
		stats = append(stats, CallStat{
			Hash:   h,
			Method: e.method,
			Path:   e.path,
			Calls:  e.calls.Load(),
		})
	}
	slices.SortFunc(stats, func(a, b CallStat) int {
		if c := cmp.Compare(b.Calls, a.Calls); c != 0 {
			return c
		}
		return cmp.Compare(a.Hash, b.Hash)
	})
	return stats
}

// Len returns the number of registered callbacks
func (b *Bridge) Len() int {
	return len(*b.callbacks.Load())
}
