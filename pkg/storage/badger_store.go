package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/members-filter/pkg/cache"
	"github.com/Sriram-PR/members-filter/pkg/log"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

const stateDBDir = "state_db" // Subdirectory suffix within stateDir for Badger DB files

// BadgerStore implements Store using BadgerDB
type BadgerStore struct {
	db        *badger.DB
	log       *logrus.Entry
	counterMu sync.Mutex // Serializes read-modify-write of the blocked counter
	titleMu   sync.Mutex // Serializes title cache merges
}

// NewBadgerStore opens (or creates) the database for profile under stateDir
func NewBadgerStore(stateDir, profile string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, utils.ProfileDirName(profile)+"_"+stateDBDir)
	logger.Infof("Opening state database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerLogrusAdapter(logger)).
		WithNumVersionsToKeep(1)
	return open(opts, logger)
}

// NewInMemoryStore creates a Store that lives only as long as the process
func NewInMemoryStore(logger *logrus.Entry) (*BadgerStore, error) {
	opts := badger.DefaultOptions("").
		WithInMemory(true).
		WithLogger(log.NewBadgerLogrusAdapter(logger))
	return open(opts, logger)
}

func open(opts badger.Options, logger *logrus.Entry) (*BadgerStore, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database: %w", utils.ErrDatabase, err)
	}
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent read-modify-write transactions (the blocked counter) can return
// badger.ErrConflict; these resolve quickly, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// getJSON decodes the value at key into v. Reports false when the key is missing.
func (s *BadgerStore) getJSON(key string, v interface{}) (bool, error) {
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, v); err != nil {
				return fmt.Errorf("%w: JSON value of '%s': %w", utils.ErrParsing, key, err)
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, utils.ErrParsing) {
			return found, err
		}
		return found, fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, key, err)
	}
	return found, nil
}

// setJSON encodes v and stores it at key
func (s *BadgerStore) setJSON(key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: JSON value for '%s': %w", utils.ErrParsing, key, err)
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		s.log.WithField("key", key).Errorf("DB Update error: %v", err)
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrDatabase, key, err)
	}
	return nil
}

func (s *BadgerStore) exists(txn *badger.Txn, key string) (bool, error) {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// GetEnabled implements SettingsStore
func (s *BadgerStore) GetEnabled() (bool, error) {
	enabled := true
	if _, err := s.getJSON(KeyEnabled, &enabled); err != nil {
		return true, err
	}
	return enabled, nil
}

// SetEnabled implements SettingsStore
func (s *BadgerStore) SetEnabled(enabled bool) error {
	return s.setJSON(KeyEnabled, enabled)
}

// GetWhitelist implements SettingsStore
func (s *BadgerStore) GetWhitelist() ([]string, error) {
	var entries []string
	if _, err := s.getJSON(KeyWhitelist, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// SetWhitelist implements SettingsStore
func (s *BadgerStore) SetWhitelist(entries []string) error {
	if entries == nil {
		entries = []string{}
	}
	return s.setJSON(KeyWhitelist, entries)
}

// SeedDefaults implements SettingsStore
func (s *BadgerStore) SeedDefaults(enabled bool, whitelist []string) error {
	if whitelist == nil {
		whitelist = []string{}
	}
	enabledData, _ := json.Marshal(enabled)
	whitelistData, err := json.Marshal(whitelist)
	if err != nil {
		return fmt.Errorf("%w: JSON whitelist seed: %w", utils.ErrParsing, err)
	}

	err = s.dbUpdate(func(txn *badger.Txn) error {
		for key, val := range map[string][]byte{KeyEnabled: enabledData, KeyWhitelist: whitelistData} {
			ok, err := s.exists(txn, key)
			if err != nil {
				return err
			}
			if ok {
				continue
			}
			if err := txn.Set([]byte(key), val); err != nil {
				return err
			}
			s.log.WithField("key", key).Debug("Seeded setting from configuration")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: seeding defaults: %w", utils.ErrDatabase, err)
	}
	return nil
}

// titleRecord is the value half of one persisted [title, {...}] pair
type titleRecord struct {
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

// EncodeTitleCache renders entries in the persisted [[title,{channel,timestamp}]] form
func EncodeTitleCache(entries []models.TitleEntry) ([]byte, error) {
	pairs := make([][2]interface{}, 0, len(entries))
	for _, e := range entries {
		pairs = append(pairs, [2]interface{}{e.Title, titleRecord{Channel: e.Channel, Timestamp: e.Timestamp}})
	}
	data, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("%w: JSON title cache: %w", utils.ErrParsing, err)
	}
	return data, nil
}

// DecodeTitleCache parses the persisted form. Malformed pairs are skipped and counted.
func DecodeTitleCache(data []byte) ([]models.TitleEntry, int, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, 0, fmt.Errorf("%w: JSON title cache: %w", utils.ErrParsing, err)
	}
	entries := make([]models.TitleEntry, 0, len(pairs))
	skipped := 0
	for _, raw := range pairs {
		var pair []json.RawMessage
		if err := json.Unmarshal(raw, &pair); err != nil || len(pair) != 2 {
			skipped++
			continue
		}
		var title string
		var rec titleRecord
		if json.Unmarshal(pair[0], &title) != nil || json.Unmarshal(pair[1], &rec) != nil || title == "" {
			skipped++
			continue
		}
		entries = append(entries, models.TitleEntry{Title: title, Channel: rec.Channel, Timestamp: rec.Timestamp})
	}
	return entries, skipped, nil
}

// LoadTitleCache implements TitleStore
func (s *BadgerStore) LoadTitleCache() ([]models.TitleEntry, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(KeyTitleCache))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: reading '%s': %w", utils.ErrDatabase, KeyTitleCache, err)
	}
	if data == nil {
		return nil, nil
	}

	entries, skipped, err := DecodeTitleCache(data)
	if err != nil {
		return nil, err
	}
	if skipped > 0 {
		s.log.Warnf("Skipped %d malformed title cache records", skipped)
	}
	return entries, nil
}

// SaveTitleCache implements TitleStore
func (s *BadgerStore) SaveTitleCache(entries []models.TitleEntry) error {
	data, err := EncodeTitleCache(entries)
	if err != nil {
		return err
	}
	err = s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Set([]byte(KeyTitleCache), data)
	})
	if err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrDatabase, KeyTitleCache, err)
	}
	return nil
}

// MergeTitleCache implements TitleStore. The read and write share one transaction
// so titles written by other tabs between load and save are kept.
func (s *BadgerStore) MergeTitleCache(entries []models.TitleEntry, capacity int) error {
	s.titleMu.Lock()
	defer s.titleMu.Unlock()

	err := s.dbUpdate(func(txn *badger.Txn) error {
		merged := cache.NewTitleCache(capacity)
		item, err := txn.Get([]byte(KeyTitleCache))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			stored, skipped, err := DecodeTitleCache(data)
			if err != nil {
				s.log.Warnf("Discarding unreadable title cache: %v", err)
			} else if skipped > 0 {
				s.log.Warnf("Skipped %d malformed title cache records", skipped)
			}
			merged.Load(stored)
		}
		for _, e := range entries {
			merged.Add(e.Title, e.Channel, e.Timestamp)
		}
		data, err := EncodeTitleCache(merged.Entries())
		if err != nil {
			return err
		}
		return txn.Set([]byte(KeyTitleCache), data)
	})
	if err != nil {
		return fmt.Errorf("%w: merging '%s': %w", utils.ErrDatabase, KeyTitleCache, err)
	}
	return nil
}

// ClearTitleCache implements TitleStore
func (s *BadgerStore) ClearTitleCache() error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.Delete([]byte(KeyTitleCache))
	})
	if err != nil {
		return fmt.Errorf("%w: deleting '%s': %w", utils.ErrDatabase, KeyTitleCache, err)
	}
	return nil
}

// IncrementBlockedCount implements CounterStore
func (s *BadgerStore) IncrementBlockedCount(delta int) (int64, error) {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()

	var total int64
	err := s.dbUpdate(func(txn *badger.Txn) error {
		total = 0
		item, err := txn.Get([]byte(KeyBlocked))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &total) }); err != nil {
				return err
			}
		}
		total += int64(delta)
		data, _ := json.Marshal(total)
		return txn.Set([]byte(KeyBlocked), data)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: incrementing '%s': %w", utils.ErrDatabase, KeyBlocked, err)
	}
	return total, nil
}

// GetBlockedCount implements CounterStore
func (s *BadgerStore) GetBlockedCount() (int64, error) {
	var total int64
	if _, err := s.getJSON(KeyBlocked, &total); err != nil {
		return 0, err
	}
	return total, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrGCInMemoryMode) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return fmt.Errorf("%w: closing: %w", utils.ErrDatabase, err)
		}
		s.log.Debug("State DB closed.")
	}
	return nil
}
