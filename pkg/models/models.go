package models

import (
	"time"

	"github.com/PuerkitoBio/goquery"
)

// UnknownChannel is reported when no channel signal could be found for an item
const UnknownChannel = "Unknown channel"

// Item is one rendered video entry found during a scan pass.
// It is rebuilt on every pass because the host page may replace the node.
type Item struct {
	Key      string             // "v:<video id>" or "t:<title>"
	Title    string             // Display title (may be empty)
	Channel  string             // Resolved channel identifier, empty until resolved
	HasBadge bool               // A members-only badge class matched
	HasIcon  bool               // The members-only icon signature matched
	Node     *goquery.Selection // The container node
}

// TitleEntry is one record of the durable title cache
type TitleEntry struct {
	Title     string `json:"title"`
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"` // Unix milliseconds of the first block
}

// BlockedAt returns the entry timestamp as a time.Time
func (e TitleEntry) BlockedAt() time.Time {
	return time.UnixMilli(e.Timestamp)
}

// PassResult summarizes one scan pass
type PassResult struct {
	Scanned     int // Container nodes visited
	Hidden      int // Newly hidden items (block count delta)
	Reasserted  int // Already-hidden nodes whose hidden state was re-applied
	FastPath    int // Items re-hidden from BlockedSet without detection
	CacheHits   int // Items decided through the title cache
	Whitelisted int // Members-only items let through by the whitelist
	Skipped     int // Items without an identifier
}

// Stats is the per-tab and global block count snapshot
type Stats struct {
	PageCount  int   `json:"page_count"`
	TotalCount int64 `json:"total_count"`
	CacheSize  int   `json:"cache_size"`
}
