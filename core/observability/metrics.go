// Package observability exposes the engine's counters as Prometheus
// metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name
const Namespace = "hotpath"

// Resolution tiers reported by the dispatcher
const (
	TierSnapshot = "snapshot"
	TierHot      = "hot"
	TierRegistry = "registry"
	TierMiss     = "miss"
)

// Metrics records engine events. All methods are safe on a nil
// receiver, which makes metrics optional for every component.
type Metrics struct {
	requests       *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	resolutions    *prometheus.CounterVec
	cacheLookups   *prometheus.CounterVec
	cacheEvictions prometheus.Counter
	bridgeOutcomes *prometheus.CounterVec
	routes         prometheus.Gauge
	connections    prometheus.Gauge

	// children bound once so the request path skips label hashing
	cacheHit  prometheus.Counter
	cacheMiss prometheus.Counter
	tiers     map[string]prometheus.Counter
}

// NewMetrics creates and registers the engine metrics with reg. A nil
// registerer uses prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "requests_total",
			Help:      "Requests answered, by method and status code",
		}, []string{"method", "status"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from parsed request to rendered response",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"method"}),
		resolutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "route_resolutions_total",
			Help:      "Route lookups by the tier that answered them",
		}, []string{"tier"}),
		cacheLookups: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_lookups_total",
			Help:      "Hot cache lookups by result",
		}, []string{"result"}),
		cacheEvictions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "cache_evictions_total",
			Help:      "Entries evicted from the hot cache",
		}),
		bridgeOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "bridge_outcomes_total",
			Help:      "Callback invocations by outcome",
		}, []string{"outcome"}),
		routes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "routes_registered",
			Help:      "Distinct route keys in the registry",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "connections_active",
			Help:      "Open client connections",
		}),
	}

	m.cacheHit = m.cacheLookups.WithLabelValues("hit")
	m.cacheMiss = m.cacheLookups.WithLabelValues("miss")
	m.tiers = map[string]prometheus.Counter{
		TierSnapshot: m.resolutions.WithLabelValues(TierSnapshot),
		TierHot:      m.resolutions.WithLabelValues(TierHot),
		TierRegistry: m.resolutions.WithLabelValues(TierRegistry),
		TierMiss:     m.resolutions.WithLabelValues(TierMiss),
	}
	return m
}

// RecordRequest counts one answered request
func (m *Metrics) RecordRequest(method string, status uint16, d time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, strconv.Itoa(int(status))).Inc()
	m.duration.WithLabelValues(method).Observe(d.Seconds())
}

// Resolved counts a route lookup answered by tier
func (m *Metrics) Resolved(tier string) {
	if m == nil {
		return
	}
	if c, ok := m.tiers[tier]; ok {
		c.Inc()
		return
	}
	m.resolutions.WithLabelValues(tier).Inc()
}

// Hit implements cache.Metrics
func (m *Metrics) Hit() {
	if m != nil {
		m.cacheHit.Inc()
	}
}

// Miss implements cache.Metrics
func (m *Metrics) Miss() {
	if m != nil {
		m.cacheMiss.Inc()
	}
}

// Eviction implements cache.Metrics
func (m *Metrics) Eviction() {
	if m != nil {
		m.cacheEvictions.Inc()
	}
}

// Outcome implements bridge.Metrics
func (m *Metrics) Outcome(outcome string) {
	if m != nil {
		m.bridgeOutcomes.WithLabelValues(outcome).Inc()
	}
}

// SetRoutes records the registry size
func (m *Metrics) SetRoutes(n int) {
	if m != nil {
		m.routes.Set(float64(n))
	}
}

// ConnOpened tracks a new client connection
func (m *Metrics) ConnOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

// ConnClosed tracks a closed client connection
func (m *Metrics) ConnClosed() {
	if m != nil {
		m.connections.Dec()
	}
}
