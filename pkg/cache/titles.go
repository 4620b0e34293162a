package cache

import (
	"sort"
	"strings"
	"sync"

	"github.com/Sriram-PR/members-filter/pkg/models"
)

// DefaultCapacity bounds the title cache when no capacity is configured
const DefaultCapacity = 1000

// TitleCache remembers titles of items that were blocked, with the channel and time.
// When it grows past capacity the oldest entries by timestamp are evicted.
type TitleCache struct {
	mu       sync.RWMutex
	entries  map[string]models.TitleEntry
	capacity int
}

// NewTitleCache creates a TitleCache holding at most capacity entries
func NewTitleCache(capacity int) *TitleCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &TitleCache{
		entries:  make(map[string]models.TitleEntry),
		capacity: capacity,
	}
}

// Capacity returns the configured bound
func (c *TitleCache) Capacity() int { return c.capacity }

// Has reports whether title is cached
func (c *TitleCache) Has(title string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[title]
	return ok
}

// Get returns the entry for title
func (c *TitleCache) Get(title string) (models.TitleEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[title]
	return e, ok
}

// Add records a blocked title. An existing entry keeps its original timestamp;
// a better channel name replaces "Unknown channel". Reports whether the cache changed.
func (c *TitleCache) Add(title, channel string, timestampMs int64) bool {
	if title == "" {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[title]; ok {
		if existing.Channel == models.UnknownChannel && channel != "" && channel != models.UnknownChannel {
			existing.Channel = channel
			c.entries[title] = existing
			return true
		}
		return false
	}
	if channel == "" {
		channel = models.UnknownChannel
	}
	c.entries[title] = models.TitleEntry{Title: title, Channel: channel, Timestamp: timestampMs}
	c.trimLocked()
	return true
}

// Load replaces the contents with entries, trimming to capacity
func (c *TitleCache) Load(entries []models.TitleEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]models.TitleEntry, len(entries))
	for _, e := range entries {
		if e.Title == "" {
			continue
		}
		if e.Channel == "" {
			e.Channel = models.UnknownChannel
		}
		c.entries[e.Title] = e
	}
	c.trimLocked()
}

// Entries returns a snapshot ordered newest first (ties by title)
func (c *TitleCache) Entries() []models.TitleEntry {
	c.mu.RLock()
	out := make([]models.TitleEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	c.mu.RUnlock()
	sortNewestFirst(out)
	return out
}

// Search returns entries whose title contains query, case-insensitively, sorted by title.
// An empty query returns every entry.
func (c *TitleCache) Search(query string) []models.TitleEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	c.mu.RLock()
	var out []models.TitleEntry
	for title, e := range c.entries {
		if q == "" || strings.Contains(strings.ToLower(title), q) {
			out = append(out, e)
		}
	}
	c.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Title) < strings.ToLower(out[j].Title)
	})
	return out
}

// Len returns the number of entries
func (c *TitleCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry
func (c *TitleCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]models.TitleEntry)
	c.mu.Unlock()
}

// trimLocked keeps the capacity most recent entries. Caller holds the write lock.
func (c *TitleCache) trimLocked() {
	if len(c.entries) <= c.capacity {
		return
	}
	all := make([]models.TitleEntry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sortNewestFirst(all)
	for _, e := range all[c.capacity:] {
		delete(c.entries, e.Title)
	}
}

func sortNewestFirst(entries []models.TitleEntry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Timestamp != entries[j].Timestamp {
			return entries[i].Timestamp > entries[j].Timestamp
		}
		return entries[i].Title < entries[j].Title
	})
}
