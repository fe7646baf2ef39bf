package observability

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_NilReceiverIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest("GET", 200, time.Millisecond)
		m.Resolved(TierHot)
		m.Hit()
		m.Miss()
		m.Eviction()
		m.Outcome("ok")
		m.SetRoutes(3)
		m.ConnOpened()
		m.ConnClosed()
	})
}

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordRequest("GET", 200, time.Millisecond)
	m.RecordRequest("GET", 200, time.Millisecond)
	m.RecordRequest("POST", 404, time.Millisecond)
	m.Resolved(TierSnapshot)
	m.Resolved(TierMiss)
	m.Resolved(TierMiss)
	m.Hit()
	m.Miss()
	m.Miss()
	m.Eviction()
	m.Outcome("timeout")
	m.SetRoutes(7)
	m.ConnOpened()
	m.ConnOpened()
	m.ConnClosed()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.requests.WithLabelValues("GET", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requests.WithLabelValues("POST", "404")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.resolutions.WithLabelValues(TierSnapshot)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.resolutions.WithLabelValues(TierMiss)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheEvictions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.bridgeOutcomes.WithLabelValues("timeout")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.routes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.connections))

	count, err := testutil.GatherAndCount(reg, "hotpath_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_RegistersOnce(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestServer_Handler(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.SetRoutes(2)

	srv := NewServer(DefaultServerConfig(), reg, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "hotpath_routes_registered 2")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "OK", string(body))
}

func TestServer_ServeStopsOnCancel(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewServer(&ServerConfig{Path: "/metrics", ReadTimeout: time.Second, WriteTimeout: time.Second}, prometheus.NewRegistry(), nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + ln.Addr().String() + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
