package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	json "github.com/goccy/go-json"
)

// Stats is a point-in-time view of route usage and hot cache efficiency
type Stats struct {
	Routes []RouteStat `json:"routes"`
	Cache  CacheStats  `json:"cache"`
}

// RouteStat is the invocation count of one registered route
type RouteStat struct {
	Hash   uint64 `json:"hash"`
	Key    string `json:"key"`
	Method string `json:"method"`
	Path   string `json:"path"`
	Calls  uint64 `json:"calls"`
}

// CacheStats summarizes hot cache lookups
type CacheStats struct {
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Entries int     `json:"entries"`
}

// Stats returns per-route invocation counts, highest first, and the hot
// cache counters.
func (e *Engine) Stats() Stats {
	routes := e.registry.Routes()
	stats := Stats{Routes: make([]RouteStat, 0, len(routes))}
	for _, r := range routes {
		stats.Routes = append(stats.Routes, RouteStat{
			Hash:   r.Hash,
			Key:    r.Key,
			Method: r.Method.String(),
			Path:   r.Path,
			Calls:  r.Calls(),
		})
	}
	slices.SortStableFunc(stats.Routes, func(a, b RouteStat) int {
		return cmp.Compare(b.Calls, a.Calls)
	})

	hits, misses := e.cache.Stats()
	stats.Cache = CacheStats{
		Hits:    hits,
		Misses:  misses,
		HitRate: e.cache.HitRate(),
		Entries: e.cache.Len(),
	}
	return stats
}

// StatsJSON returns Stats as indented JSON
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns Stats as human-readable text
func (e *Engine) StatsText() string {
	stats := e.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, `Route Statistics
================

Hot Cache:
  Hits:     %d
  Misses:   %d
  Hit Rate: %.2f%%
  Entries:  %d

Routes (%d):
`, stats.Cache.Hits, stats.Cache.Misses, stats.Cache.HitRate*100, stats.Cache.Entries, len(stats.Routes))

	for _, r := range stats.Routes {
		fmt.Fprintf(&b, "  %-7s %-40s %d\n", r.Method, r.Path, r.Calls)
	}
	return b.String()
}
