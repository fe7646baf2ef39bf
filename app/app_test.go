package app

import (
	"context"
	"errors"
	"io"
	"net"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/hotpath/config"
	"github.com/searchktools/hotpath/core"
	"github.com/searchktools/hotpath/core/bridge"
	"github.com/searchktools/hotpath/core/http"
	"github.com/searchktools/hotpath/core/logging"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Host = "127.0.0.1"
	cfg.LogLevel = "error"
	cfg.Env = "production"
	return cfg
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

// start runs a.serve until the test ends
func start(t *testing.T, a *App, ln, metricsLn net.Listener) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.serve(ctx, ln, metricsLn) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("app did not stop")
		}
	})
}

func get(t *testing.T, url string) (int, string) {
	t.Helper()

	var res *nethttp.Response
	require.Eventually(t, func() bool {
		var err error
		res, err = nethttp.Get(url)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res.StatusCode, string(body)
}

func TestNew(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CacheShardCapacity = 4
	a, err := New(cfg)
	require.NoError(t, err)
	require.NotNil(t, a.Engine())
	assert.NotNil(t, a.Logger())
	assert.NotNil(t, a.Registry())
	assert.Equal(t, logging.LevelError, a.Logger().GetLevel())
}

func TestNewWithEngine(t *testing.T) {
	t.Parallel()

	engine := core.NewEngine()
	a, err := NewWithEngine(testConfig(), engine)
	require.NoError(t, err)
	assert.Same(t, engine, a.Engine())
}

func TestNewNilConfig(t *testing.T) {
	t.Parallel()

	a, err := New(nil)
	require.NoError(t, err)
	assert.NotNil(t, a.Engine())
}

func TestNewRejectsLogLevel(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.LogLevel = "loud"
	_, err := New(cfg)
	assert.Error(t, err)
}

func TestEngineOptions(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxConnections = 10
	cfg.IdleTimeout = time.Second
	cfg.Backlog = 64

	opts := EngineOptions(cfg, nil, nil)
	assert.Equal(t, 10, opts.MaxConnections)
	assert.Equal(t, time.Second, opts.IdleTimeout)
	assert.Equal(t, 64, opts.Backlog)
	assert.Equal(t, cfg.CacheShardCapacity, opts.CacheShardCapacity)
	assert.Equal(t, core.DefaultOptions().ReadBufferSize, opts.ReadBufferSize)
}

func TestServeWithMetrics(t *testing.T) {
	t.Parallel()

	a, err := New(testConfig())
	require.NoError(t, err)
	a.Engine().GET("/ping", func(ctx context.Context, opts http.Options) http.ResponseData {
		return http.OK([]byte(`{"pong":true}`))
	})

	ln, metricsLn := listen(t), listen(t)
	start(t, a, ln, metricsLn)

	status, body := get(t, "http://"+ln.Addr().String()+"/ping")
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"pong":true}`, body)

	status, body = get(t, "http://"+metricsLn.Addr().String()+"/metrics")
	assert.Equal(t, 200, status)
	assert.Contains(t, body, `hotpath_requests_total{method="GET",status="200"} 1`)
	assert.Contains(t, body, "hotpath_routes_registered 1")
	assert.Contains(t, body, "go_goroutines")

	status, body = get(t, "http://"+metricsLn.Addr().String()+"/health")
	assert.Equal(t, 200, status)
	assert.Equal(t, "OK", body)
}

func TestServeWithBridge(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.CallbackTimeout = 50 * time.Millisecond
	a, err := New(cfg)
	require.NoError(t, err)

	exec := bridge.NewLoopExecutor(8)
	t.Cleanup(func() { exec.Close() })
	b := a.Bridge(exec)

	require.NoError(t, b.Register(a.Engine(), "get", "/users/:id", func(bridge.CallbackData) (bridge.CallbackResult, error) {
		return bridge.CallbackResult{Status: 200, Data: []byte(`{"id":1}`)}, nil
	}))
	require.NoError(t, b.Register(a.Engine(), "GET", "/slow", func(bridge.CallbackData) (bridge.CallbackResult, error) {
		time.Sleep(200 * time.Millisecond)
		return bridge.CallbackResult{Status: 200}, nil
	}))

	ln := listen(t)
	start(t, a, ln, nil)

	status, body := get(t, "http://"+ln.Addr().String()+"/users/42")
	assert.Equal(t, 200, status)
	assert.Equal(t, `{"id":1}`, body)

	status, body = get(t, "http://"+ln.Addr().String()+"/slow")
	assert.Equal(t, 504, status)
	assert.Equal(t, `{"error":"Callback timeout"}`, body)
}

func TestServeReloadsLogLevel(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hotpath.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logLevel: error\n"), 0o644))

	cfg := testConfig()
	cfg.File = path
	a, err := New(cfg)
	require.NoError(t, err)

	start(t, a, listen(t), nil)

	// Give the watcher time to register the directory
	time.Sleep(150 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logLevel: debug\n"), 0o644))

	assert.Eventually(t, func() bool {
		return a.Logger().GetLevel() == logging.LevelDebug
	}, 3*time.Second, 20*time.Millisecond)
}

func TestReloadKeepsLevelOnError(t *testing.T) {
	t.Parallel()

	a, err := New(testConfig())
	require.NoError(t, err)

	a.reload(nil, errors.New("boom"))
	assert.Equal(t, logging.LevelError, a.Logger().GetLevel())

	bad := testConfig()
	bad.LogLevel = "loud"
	a.reload(bad, nil)
	assert.Equal(t, logging.LevelError, a.Logger().GetLevel())

	good := testConfig()
	good.LogLevel = "warn"
	a.reload(good, nil)
	assert.Equal(t, logging.LevelWarn, a.Logger().GetLevel())
}

func TestRunBindFailure(t *testing.T) {
	t.Parallel()

	busy := listen(t)
	t.Cleanup(func() { busy.Close() })

	_, port, err := net.SplitHostPort(busy.Addr().String())
	require.NoError(t, err)

	cfg := testConfig()
	cfg.MetricsPort = 0
	cfg.Port, err = strconv.Atoi(port)
	require.NoError(t, err)
	a, err := New(cfg)
	require.NoError(t, err)

	err = a.Run(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "listen "), err.Error())
}
