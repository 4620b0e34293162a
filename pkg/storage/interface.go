package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/members-filter/pkg/models"
)

// Persisted keys. The names match the settings layout used by earlier releases.
const (
	KeyEnabled    = "extensionEnabled"
	KeyWhitelist  = "whitelistedChannels"
	KeyTitleCache = "blockedVideosCache"
	KeyBlocked    = "blockedCount"
)

// SettingsStore holds user settings
type SettingsStore interface {
	// GetEnabled returns the blocking flag; a missing value reads as true
	GetEnabled() (bool, error)
	SetEnabled(enabled bool) error

	// GetWhitelist returns the stored whitelist in stored order; missing reads as empty
	GetWhitelist() ([]string, error)
	SetWhitelist(entries []string) error

	// SeedDefaults writes the given values only for keys that have never been stored
	SeedDefaults(enabled bool, whitelist []string) error
}

// TitleStore persists the blocked-title cache
type TitleStore interface {
	LoadTitleCache() ([]models.TitleEntry, error)
	SaveTitleCache(entries []models.TitleEntry) error
	// MergeTitleCache adds entries to the stored cache, bounded to capacity newest first
	MergeTitleCache(entries []models.TitleEntry, capacity int) error
	ClearTitleCache() error
}

// CounterStore keeps the lifetime blocked counter
type CounterStore interface {
	// IncrementBlockedCount adds delta and returns the new total
	IncrementBlockedCount(delta int) (int64, error)
	GetBlockedCount() (int64, error)
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	SettingsStore
	TitleStore
	CounterStore
	StoreAdmin
}
