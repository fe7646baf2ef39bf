package core

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/observability"
	"github.com/searchktools/hotpath/core/router"
)

func text(s string) HandlerFunc {
	return func(ctx context.Context, opts http.Options) http.ResponseData {
		return http.OK([]byte(s))
	}
}

func request(method, path string) *http.Request {
	req := &http.Request{Method: method, Path: path, Proto: "HTTP/1.1", ContentLength: -1}
	return req
}

func TestDispatch_LiteralRoutesRegardlessOfOrder(t *testing.T) {
	t.Parallel()

	paths := []string{"/a", "/b/c", "/", "/users", "/users/me"}
	for _, reverse := range []bool{false, true} {
		e := NewEngine()
		for i := range paths {
			p := paths[i]
			if reverse {
				p = paths[len(paths)-1-i]
			}
			e.GET(p, text("GET "+p))
			e.POST(p, text("POST "+p))
		}

		for _, p := range paths {
			res := e.Dispatcher().Dispatch(context.Background(), request("GET", p))
			assert.Equal(t, "GET "+p, string(res.Data))
			res = e.Dispatcher().Dispatch(context.Background(), request("POST", p))
			assert.Equal(t, "POST "+p, string(res.Data))
		}
	}
}

func TestDispatch_ParamRoute(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/users/:id", text("H1"))

	res := e.Dispatcher().Dispatch(context.Background(), request("GET", "/users/42"))
	assert.Equal(t, uint16(200), res.StatusCode)
	assert.Equal(t, "H1", string(res.Data))

	res = e.Dispatcher().Dispatch(context.Background(), request("GET", "/users/"))
	assert.Equal(t, uint16(404), res.StatusCode)
	assert.Equal(t, `{"error":"Not Found"}`, string(res.Data))
}

func TestDispatch_Missing(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	res := e.Dispatcher().Dispatch(context.Background(), request("DELETE", "/missing"))
	assert.Equal(t, uint16(404), res.StatusCode)
	assert.Equal(t, `{"error":"Not Found"}`, string(res.Data))
}

func TestDispatch_UnsupportedMethod(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/", text("root"))

	for _, m := range []string{"HEAD", "OPTIONS", "get"} {
		res := e.Dispatcher().Dispatch(context.Background(), request(m, "/"))
		assert.Equal(t, uint16(400), res.StatusCode, m)
	}
}

func TestDispatch_JSONBody(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	var (
		mu   sync.Mutex
		seen []any
	)
	e.POST("/echo", func(ctx context.Context, opts http.Options) http.ResponseData {
		mu.Lock()
		seen = append(seen, opts.Body)
		mu.Unlock()
		assert.Nil(t, opts.Params)
		return http.OK([]byte(`"ok"`))
	})

	req := request("POST", "/echo")
	req.ContentType = "application/json"
	req.Body = []byte(`{"a":1}`)
	res := e.Dispatcher().Dispatch(context.Background(), req)
	assert.Equal(t, uint16(200), res.StatusCode)

	req = request("POST", "/echo")
	req.ContentType = "text/plain"
	req.Body = []byte(`{"a":1}`)
	res = e.Dispatcher().Dispatch(context.Background(), req)
	assert.Equal(t, uint16(200), res.StatusCode)

	req = request("POST", "/echo")
	req.ContentType = "application/json"
	req.Body = []byte(`{"a":`)
	res = e.Dispatcher().Dispatch(context.Background(), req)
	assert.Equal(t, uint16(200), res.StatusCode)

	require.Len(t, seen, 3)
	assert.Equal(t, map[string]any{"a": float64(1)}, seen[0])
	assert.Nil(t, seen[1])
	assert.Nil(t, seen[2])
}

func TestDispatch_GETIgnoresBody(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/q", func(ctx context.Context, opts http.Options) http.ResponseData {
		if opts.Body != nil {
			return http.NewResponse(500, nil)
		}
		return http.OK(nil)
	})

	req := request("GET", "/q")
	req.ContentType = "application/json"
	req.Body = []byte(`{"a":1}`)
	assert.Equal(t, uint16(200), e.Dispatcher().Dispatch(context.Background(), req).StatusCode)
}

func TestDispatch_PanicBecomes500(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/panic", func(ctx context.Context, opts http.Options) http.ResponseData {
		panic("boom")
	})

	res := e.Dispatcher().Dispatch(context.Background(), request("GET", "/panic"))
	assert.Equal(t, uint16(500), res.StatusCode)
	assert.Equal(t, `{"error":"Internal Server Error"}`, string(res.Data))
}

func TestDispatch_ResolutionTiers(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	e := New(Options{Metrics: metrics})
	e.GET("/exact", text("exact"))
	e.GET("/items/:id", text("item"))

	d := e.Dispatcher()

	_, ok := d.Resolve(router.GET, "/exact")
	require.True(t, ok)

	// first pattern request scans the registry and fills the hot cache
	_, ok = d.Resolve(router.GET, "/items/7")
	require.True(t, ok)
	_, ok = d.Resolve(router.GET, "/items/7")
	require.True(t, ok)

	_, ok = d.Resolve(router.GET, "/nothing")
	require.False(t, ok)

	assert.Equal(t, 1, e.Cache().Len())

	expected := `
# HELP hotpath_route_resolutions_total Route lookups by the tier that answered them
# TYPE hotpath_route_resolutions_total counter
hotpath_route_resolutions_total{tier="hot"} 1
hotpath_route_resolutions_total{tier="miss"} 1
hotpath_route_resolutions_total{tier="registry"} 1
hotpath_route_resolutions_total{tier="snapshot"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "hotpath_route_resolutions_total"))

	hits, misses := e.Cache().Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(2), misses)
}

func TestDispatch_CountsInvocations(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/count", text("x"))
	for i := 0; i < 5; i++ {
		e.Dispatcher().Dispatch(context.Background(), request("GET", "/count"))
	}

	route, ok := e.Registry().LookupExact(router.Key(router.GET, "/count"))
	require.True(t, ok)
	assert.Equal(t, uint64(5), route.Calls())
}

func TestDispatch_LongPathSpillsToHeap(t *testing.T) {
	t.Parallel()

	long := "/" + strings.Repeat("segment/", 50) + "end"

	e := NewEngine()
	e.GET(long, text("long"))

	res := e.Dispatcher().Dispatch(context.Background(), request("GET", long))
	assert.Equal(t, "long", string(res.Data))
}

func TestDispatch_ConcurrentRegistration(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	e.GET("/base", text("base"))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			e.GET("/dyn/"+string(rune('a'+i%26))+"/:id", text("dyn"))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			res := e.Dispatcher().Dispatch(context.Background(), request("GET", "/base"))
			assert.Equal(t, "base", string(res.Data))
		}
	}()
	wg.Wait()

	res := e.Dispatcher().Dispatch(context.Background(), request("GET", "/dyn/c/9"))
	assert.Equal(t, "dyn", string(res.Data))
}

// A scan that is still running when a pattern route is registered must not
// answer lookups that start after the registration.
func TestDispatch_RegistrationDuringScan(t *testing.T) {
	t.Parallel()

	e := NewEngine()
	d := e.Dispatcher()
	key := router.Key(router.GET, "/users/42")

	started := make(chan struct{})
	release := make(chan struct{})
	go func() {
		d.scans.Do(scanKey([]byte(key), e.Registry().Generation()), func() (any, error) {
			close(started)
			<-release
			return (*router.Route)(nil), nil
		})
	}()
	<-started
	defer close(release)

	e.GET("/users/:id", text("user"))

	done := make(chan http.ResponseData, 1)
	go func() {
		done <- d.Dispatch(context.Background(), request("GET", "/users/42"))
	}()

	select {
	case res := <-done:
		assert.Equal(t, uint16(200), res.StatusCode)
		assert.Equal(t, "user", string(res.Data))
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch waited on a scan started before registration")
	}
}

func TestScanKey_DiffersByGeneration(t *testing.T) {
	t.Parallel()

	key := []byte(router.Key(router.GET, "/users/42"))
	assert.Equal(t, "0:/users/42#3", scanKey(key, 3))
	assert.NotEqual(t, scanKey(key, 3), scanKey(key, 4))
}

func BenchmarkDispatch_Snapshot(b *testing.B) {
	e := NewEngine()
	e.GET("/hello", text("world"))
	req := request("GET", "/hello")
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Dispatcher().Dispatch(ctx, req)
	}
}

func BenchmarkDispatch_HotCache(b *testing.B) {
	e := NewEngine()
	e.GET("/user/:id", text("user"))
	req := request("GET", "/user/123")
	ctx := context.Background()
	e.Dispatcher().Dispatch(ctx, req)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e.Dispatcher().Dispatch(ctx, req)
	}
}
