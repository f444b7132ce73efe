package feeds

import (
	"sort"
	"sync"
)

// Registry holds the known feeds keyed by handler name.
type Registry struct {
	mu    sync.RWMutex
	feeds map[string]Feed
}

// NewRegistry creates an empty feed registry.
func NewRegistry() *Registry {
	return &Registry{feeds: make(map[string]Feed)}
}

// Register adds a feed. Panics on duplicate handler names since that is a
// programming error during startup.
func (r *Registry) Register(f Feed) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := HandlerName(f)
	if _, exists := r.feeds[name]; exists {
		panic("feed already registered: " + name)
	}
	r.feeds[name] = f
}

// Get returns the feed for a handler name, or nil.
func (r *Registry) Get(handlerName string) Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.feeds[handlerName]
}

// All returns every registered feed, sorted by handler name.
func (r *Registry) All() []Feed {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.feeds))
	for name := range r.feeds {
		names = append(names, name)
	}
	sort.Strings(names)

	feeds := make([]Feed, 0, len(names))
	for _, name := range names {
		feeds = append(feeds, r.feeds[name])
	}
	return feeds
}

// Defaults returns a registry with every built-in feed registered.
func Defaults() *Registry {
	r := NewRegistry()
	r.Register(&FeodoTracker{})
	r.Register(&SSLBlacklist{})
	return r
}
