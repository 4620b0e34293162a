// Package settings answers settings requests on the bus and applies user changes:
// the enabled switch, the channel whitelist, the title cache and block statistics.
package settings

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/cache"
	"github.com/Sriram-PR/members-filter/pkg/config"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/storage"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// NameFetcher looks up a channel's display name from its handle
type NameFetcher interface {
	FetchDisplayName(ctx context.Context, handle string) (string, error)
}

// Service owns persisted settings and per-tab counters
type Service struct {
	store    storage.Store
	bus      *bus.Bus
	names    NameFetcher // optional
	capacity int

	whitelistMu sync.Mutex // Serializes whitelist read-modify-write

	countsMu   sync.Mutex
	pageCounts map[string]int // tab ID -> items blocked since the tab announced itself

	log *logrus.Entry
}

// NewService creates a Service. names may be nil, in which case AddChannel stores only the handle.
func NewService(store storage.Store, b *bus.Bus, names NameFetcher, titleCapacity int, log *logrus.Entry) *Service {
	if titleCapacity <= 0 {
		titleCapacity = cache.DefaultCapacity
	}
	return &Service{
		store:      store,
		bus:        b,
		names:      names,
		capacity:   titleCapacity,
		pageCounts: make(map[string]int),
		log:        log,
	}
}

// Seed writes the configured enabled flag and whitelist for keys never stored before
func (s *Service) Seed(appCfg config.AppConfig) error {
	return s.store.SeedDefaults(config.GetEffectiveEnabled(appCfg), appCfg.Whitelist)
}

// Register installs the service's request and notification handlers on the bus
func (s *Service) Register() {
	s.bus.Handle(bus.ActionContentScriptReady, s.handleReady)
	s.bus.Handle(bus.ActionIsEnabled, s.handleIsEnabled)
	s.bus.Handle(bus.ActionGetWhitelist, s.handleGetWhitelist)
	s.bus.Handle(bus.ActionItemsBlocked, s.handleItemsBlocked)
	s.bus.Handle(bus.ActionGetStats, s.handleGetStats)
}

func (s *Service) handleReady(_ context.Context, msg bus.Message) (bus.Response, error) {
	s.countsMu.Lock()
	s.pageCounts[msg.TabID] = 0
	s.countsMu.Unlock()
	s.log.WithField("tab", msg.TabID).Info("Content script loaded")
	return bus.Response{}, nil
}

func (s *Service) handleIsEnabled(_ context.Context, _ bus.Message) (bus.Response, error) {
	enabled, err := s.store.GetEnabled()
	return bus.Response{Enabled: enabled}, err
}

func (s *Service) handleGetWhitelist(_ context.Context, _ bus.Message) (bus.Response, error) {
	list, err := s.store.GetWhitelist()
	return bus.Response{Whitelist: list}, err
}

func (s *Service) handleItemsBlocked(ctx context.Context, msg bus.Message) (bus.Response, error) {
	if msg.Count <= 0 {
		return bus.Response{}, nil
	}
	s.countsMu.Lock()
	s.pageCounts[msg.TabID] += msg.Count
	s.countsMu.Unlock()

	if _, err := s.store.IncrementBlockedCount(msg.Count); err != nil {
		return bus.Response{}, err
	}
	s.publishStats(ctx, msg.TabID)
	return bus.Response{}, nil
}

func (s *Service) handleGetStats(_ context.Context, msg bus.Message) (bus.Response, error) {
	stats, err := s.Stats(msg.TabID)
	return bus.Response{Stats: stats}, err
}

func (s *Service) publishStats(ctx context.Context, tabID string) {
	stats, err := s.Stats(tabID)
	if err != nil {
		s.log.Debugf("Stats unavailable for update notification: %v", err)
		return
	}
	s.bus.Notify(ctx, bus.Message{Action: bus.ActionStatsUpdated, TabID: tabID, Stats: &stats})
}

// Enabled returns the stored blocking flag
func (s *Service) Enabled() (bool, error) { return s.store.GetEnabled() }

// SetEnabled persists the flag and tells every tab
func (s *Service) SetEnabled(enabled bool) error {
	if err := s.store.SetEnabled(enabled); err != nil {
		return err
	}
	n := s.bus.Broadcast(bus.Message{Action: bus.ActionToggleBlocking, Enabled: enabled})
	s.log.WithFields(logrus.Fields{"enabled": enabled, "tabs": n}).Info("Blocking toggled")
	return nil
}

// Whitelist returns the stored whitelist
func (s *Service) Whitelist() ([]string, error) { return s.store.GetWhitelist() }

// AddChannel whitelists a channel handle. The handle must start with "@". When the
// channel's display name can be fetched it is whitelisted too, so name-only items match.
// Returns whether the list changed and the resulting list.
func (s *Service) AddChannel(ctx context.Context, handle string) (bool, []string, error) {
	handle = strings.TrimSpace(handle)
	if !strings.HasPrefix(handle, "@") || len(handle) < 2 {
		return false, nil, fmt.Errorf("%w: '%s'", utils.ErrInvalidHandle, handle)
	}

	// Fetch outside the lock; it may take seconds
	var displayName string
	if s.names != nil {
		name, err := s.names.FetchDisplayName(ctx, handle)
		if err != nil {
			s.log.WithFields(logrus.Fields{
				"handle":         handle,
				"error_category": utils.CategorizeError(err),
			}).Warnf("Could not fetch display name, whitelisting handle only: %v", err)
		} else {
			displayName = name
		}
	}

	s.whitelistMu.Lock()
	defer s.whitelistMu.Unlock()

	list, err := s.store.GetWhitelist()
	if err != nil {
		return false, nil, err
	}
	if contains(list, handle) {
		return false, list, nil
	}
	list = append(list, handle)
	if displayName != "" && !contains(list, displayName) {
		list = append(list, displayName)
	}
	if err := s.store.SetWhitelist(list); err != nil {
		return false, nil, err
	}
	s.broadcastWhitelist(list)
	return true, list, nil
}

// RemoveChannel removes an exact entry. Returns whether the list changed and the resulting list.
func (s *Service) RemoveChannel(entry string) (bool, []string, error) {
	s.whitelistMu.Lock()
	defer s.whitelistMu.Unlock()

	list, err := s.store.GetWhitelist()
	if err != nil {
		return false, nil, err
	}
	filtered := make([]string, 0, len(list))
	for _, e := range list {
		if e != entry {
			filtered = append(filtered, e)
		}
	}
	if len(filtered) == len(list) {
		return false, list, nil
	}
	if err := s.store.SetWhitelist(filtered); err != nil {
		return false, nil, err
	}
	s.broadcastWhitelist(filtered)
	return true, filtered, nil
}

func (s *Service) broadcastWhitelist(list []string) {
	n := s.bus.Broadcast(bus.Message{Action: bus.ActionWhitelistChanged, Whitelist: list})
	s.log.WithFields(logrus.Fields{"entries": len(list), "tabs": n}).Info("Whitelist updated")
}

// ClearCache deletes the persisted title cache and tells every tab to drop its caches
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.store.ClearTitleCache(); err != nil {
		return err
	}
	n := s.bus.Broadcast(bus.Message{Action: bus.ActionClearCache})
	s.log.WithField("tabs", n).Info("Title cache cleared")
	s.publishStats(ctx, "")
	return nil
}

// CachedTitles returns persisted titles containing query (case-insensitive), sorted by title
func (s *Service) CachedTitles(query string) ([]models.TitleEntry, error) {
	entries, err := s.store.LoadTitleCache()
	if err != nil {
		return nil, err
	}
	tc := cache.NewTitleCache(s.capacity)
	tc.Load(entries)
	return tc.Search(query), nil
}

// Stats returns the block counts for tabID and the lifetime total
func (s *Service) Stats(tabID string) (models.Stats, error) {
	s.countsMu.Lock()
	page := s.pageCounts[tabID]
	s.countsMu.Unlock()

	total, err := s.store.GetBlockedCount()
	if err != nil {
		return models.Stats{PageCount: page}, err
	}
	entries, err := s.store.LoadTitleCache()
	if err != nil {
		return models.Stats{PageCount: page, TotalCount: total}, err
	}
	return models.Stats{PageCount: page, TotalCount: total, CacheSize: len(entries)}, nil
}

func contains(list []string, v string) bool {
	for _, e := range list {
		if e == v {
			return true
		}
	}
	return false
}
