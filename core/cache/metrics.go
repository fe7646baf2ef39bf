package cache

// Metrics receives cache events. Implementations must be safe for
// concurrent use and cheap: they are called on every lookup.
type Metrics interface {
	Hit()
	Miss()
	Eviction()
}

// NoopMetrics ignores every event
type NoopMetrics struct{}

func (NoopMetrics) Hit()      {}
func (NoopMetrics) Miss()     {}
func (NoopMetrics) Eviction() {}
