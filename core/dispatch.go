package core

import (
	"context"
	"runtime/debug"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/searchktools/hotpath/core/cache"
	"github.com/searchktools/hotpath/core/codec"
	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/observability"
	"github.com/searchktools/hotpath/core/router"
)

// Dispatcher turns a parsed request into a response. Route resolution
// goes through three tiers: the registry snapshot (exact keys), the hot
// cache (previously resolved keys), and finally a registry scan with
// pattern matching whose result is stored in the hot cache.
type Dispatcher struct {
	registry *router.Registry
	cache    *cache.HotCache
	metrics  *observability.Metrics
	logger   *zap.Logger

	// collapses concurrent registry scans for the same key and generation
	scans singleflight.Group
}

// NewDispatcher creates a dispatcher over registry and hot cache.
// metrics may be nil.
func NewDispatcher(registry *router.Registry, hot *cache.HotCache, metrics *observability.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		registry: registry,
		cache:    hot,
		metrics:  metrics,
		logger:   logger,
	}
}

// Resolve finds the route for method and path
func (d *Dispatcher) Resolve(m router.Method, path string) (*router.Route, bool) {
	var buf [router.MaxStackKey]byte
	key := router.AppendKey(buf[:0], m, path)
	hash := router.HashBytes(key)

	if r, ok := d.registry.Snapshot().Get(hash); ok {
		d.metrics.Resolved(observability.TierSnapshot)
		return r, true
	}

	if r, ok := d.cache.Lookup(hash); ok {
		d.metrics.Resolved(observability.TierHot)
		return r, true
	}

	// Scans started before a registration are never shared with lookups
	// that start after it.
	gen := d.registry.Generation()
	k := string(key)
	v, _, _ := d.scans.Do(scanKey(key, gen), func() (any, error) {
		r, ok := d.registry.Lookup(k)
		if !ok {
			return (*router.Route)(nil), nil
		}
		d.cache.Store(hash, r)
		return r, nil
	})

	r := v.(*router.Route)
	if r == nil {
		d.metrics.Resolved(observability.TierMiss)
		return nil, false
	}
	d.metrics.Resolved(observability.TierRegistry)
	return r, true
}

// scanKey is the singleflight key of a registry scan for key at gen
func scanKey(key []byte, gen uint64) string {
	var buf [router.MaxStackKey + 21]byte
	b := append(buf[:0], key...)
	b = append(b, '#')
	return string(strconv.AppendUint(b, gen, 10))
}

// Dispatch resolves and invokes the handler for req. It always returns a
// response: unsupported methods get 400, unknown routes 404 and
// panicking handlers 500.
func (d *Dispatcher) Dispatch(ctx context.Context, req *http.Request) http.ResponseData {
	m, ok := router.ParseWireMethod(req.Method)
	if !ok {
		return http.BadRequest()
	}

	route, ok := d.Resolve(m, req.Path)
	if !ok {
		return http.NotFound()
	}

	var opts http.Options
	if m.HasBody() {
		opts.Body = codec.DecodeBody(req.ContentType, req.Body)
	}
	return d.invoke(ctx, route, opts)
}

func (d *Dispatcher) invoke(ctx context.Context, route *router.Route, opts http.Options) (res http.ResponseData) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic",
				zap.String("route", route.Key),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()),
			)
			res = http.InternalError()
		}
	}()
	return route.Invoke(ctx, opts)
}
