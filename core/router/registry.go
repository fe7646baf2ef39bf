package router

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/searchktools/hotpath/core/http"
)

// Route is a registered route. Routes are immutable once published; only
// the invocation counter changes.
type Route struct {
	Key     string
	Method  Method
	Path    string
	Hash    uint64
	Handler http.HandlerFunc

	calls atomic.Uint64
}

// Invoke calls the handler and counts the invocation
func (r *Route) Invoke(ctx context.Context, opts http.Options) http.ResponseData {
	r.calls.Add(1)
	return r.Handler(ctx, opts)
}

// Calls returns how many times the route has been invoked
func (r *Route) Calls() uint64 {
	return r.calls.Load()
}

// Snapshot is an immutable hash -> route view of the registry.
type Snapshot struct {
	routes map[uint64]*Route
}

// Get looks up a route by key hash
func (s *Snapshot) Get(hash uint64) (*Route, bool) {
	r, ok := s.routes[hash]
	return r, ok
}

// Len returns the number of hashes in the snapshot
func (s *Snapshot) Len() int {
	return len(s.routes)
}

// Range calls fn for every route until fn returns false
func (s *Snapshot) Range(fn func(hash uint64, r *Route) bool) {
	for h, r := range s.routes {
		if !fn(h, r) {
			return
		}
	}
}

// Registry is the authoritative route table. Lookups never take a lock;
// registrations are serialized and republish the snapshot copy-on-write.
type Registry struct {
	mu sync.Mutex

	// key string -> *Route
	routes sync.Map

	// registration order, used by pattern scans
	ordered atomic.Pointer[[]*Route]

	snapshot atomic.Pointer[Snapshot]

	// bumped after every publish
	generation atomic.Uint64
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	r := &Registry{}
	empty := make([]*Route, 0)
	r.ordered.Store(&empty)
	r.snapshot.Store(&Snapshot{routes: make(map[uint64]*Route)})
	return r
}

// Register adds or replaces the route for (m, path). The new route is
// visible to every lookup that starts after Register returns.
func (r *Registry) Register(m Method, path string, h http.HandlerFunc) *Route {
	key := Key(m, path)
	route := &Route{
		Key:     key,
		Method:  m,
		Path:    path,
		Hash:    Hash(key),
		Handler: h,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.routes.Store(key, route)

	old := *r.ordered.Load()
	ordered := make([]*Route, 0, len(old)+1)
	replaced := false
	for _, existing := range old {
		if existing.Key == key {
			ordered = append(ordered, route)
			replaced = true
			continue
		}
		ordered = append(ordered, existing)
	}
	if !replaced {
		ordered = append(ordered, route)
	}
	r.ordered.Store(&ordered)

	// O(n) per registration; registration is a setup-time operation
	cur := r.snapshot.Load().routes
	next := make(map[uint64]*Route, len(cur)+1)
	for h, existing := range cur {
		next[h] = existing
	}
	next[route.Hash] = route
	r.snapshot.Store(&Snapshot{routes: next})
	r.generation.Add(1)

	return route
}

// Generation counts completed registrations. A lookup that reads
// generation g sees every route whose registration bumped it to g or less.
func (r *Registry) Generation() uint64 {
	return r.generation.Load()
}

// Snapshot returns the current published snapshot. Holders keep seeing
// the same consistent view regardless of later registrations.
func (r *Registry) Snapshot() *Snapshot {
	return r.snapshot.Load()
}

// LookupExact finds a route by exact key
func (r *Registry) LookupExact(key string) (*Route, bool) {
	v, ok := r.routes.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*Route), true
}

// LookupPattern returns the first route, in registration order, whose
// pattern matches key.
func (r *Registry) LookupPattern(key string) (*Route, bool) {
	for _, route := range *r.ordered.Load() {
		if Matches(route.Key, key) {
			return route, true
		}
	}
	return nil, false
}

// Lookup tries an exact match first, then a pattern scan
func (r *Registry) Lookup(key string) (*Route, bool) {
	if route, ok := r.LookupExact(key); ok {
		return route, true
	}
	return r.LookupPattern(key)
}

// Routes returns the registered routes in registration order
func (r *Registry) Routes() []*Route {
	ordered := *r.ordered.Load()
	out := make([]*Route, len(ordered))
	copy(out, ordered)
	return out
}

// Len returns the number of registered route keys
func (r *Registry) Len() int {
	return len(*r.ordered.Load())
}
