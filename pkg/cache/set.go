package cache

import "sync"

// Set is a concurrency-safe set of item keys (ProcessedSet, BlockedSet)
type Set struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewSet creates an empty Set
func NewSet() *Set {
	return &Set{keys: make(map[string]struct{})}
}

// Add inserts key and reports whether it was not present before
func (s *Set) Add(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[key]; ok {
		return false
	}
	s.keys[key] = struct{}{}
	return true
}

// Remove deletes key
func (s *Set) Remove(key string) {
	s.mu.Lock()
	delete(s.keys, key)
	s.mu.Unlock()
}

// Has reports whether key is present
func (s *Set) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of keys
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Clear removes all keys
func (s *Set) Clear() {
	s.mu.Lock()
	s.keys = make(map[string]struct{})
	s.mu.Unlock()
}

// NameCache maps a channel handle to its fetched display name.
// It lives as long as the page context, is never persisted and is emptied by an explicit cache clear.
type NameCache struct {
	mu    sync.RWMutex
	names map[string]string
}

// NewNameCache creates an empty NameCache
func NewNameCache() *NameCache {
	return &NameCache{names: make(map[string]string)}
}

// Get returns the cached name for handle
func (c *NameCache) Get(handle string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.names[handle]
	return name, ok
}

// Set stores name for handle
func (c *NameCache) Set(handle, name string) {
	c.mu.Lock()
	c.names[handle] = name
	c.mu.Unlock()
}

// Len returns the number of cached handles
func (c *NameCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.names)
}

// Clear forgets every cached name
func (c *NameCache) Clear() {
	c.mu.Lock()
	c.names = make(map[string]string)
	c.mu.Unlock()
}
