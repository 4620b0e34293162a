// Package engine runs scan passes that hide members-only items on a page.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/cache"
	"github.com/Sriram-PR/members-filter/pkg/channel"
	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/storage"
	"github.com/Sriram-PR/members-filter/pkg/whitelist"
)

// Page is the engine's view of the host document. Every method except Lock and
// Unlock must be called while holding the page lock.
type Page interface {
	sync.Locker
	CurrentURL() string
	Containers() []*goquery.Selection
	HasBadge(item *goquery.Selection) bool
	HasIcon(item *goquery.Selection) bool
	IsHidden(item *goquery.Selection) bool
	Hide(item *goquery.Selection)
	Unhide(item *goquery.Selection)
	UnhideAll() int
}

// Options tunes an Engine
type Options struct {
	TabID                string
	TitleCacheCapacity   int
	MaxConcurrentFetches int
	Clock                func() time.Time // nil means time.Now
}

// Engine is the per-tab filtering context. It owns the dedup sets, the title cache,
// the whitelist and the removal counter; one Scan runs at a time.
type Engine struct {
	mu sync.Mutex

	page     Page
	catalog  *selectors.Catalog
	resolver *channel.Resolver
	bus      *bus.Bus
	titles   storage.TitleStore // optional

	processed  *cache.Set
	blocked    *cache.Set
	titleCache *cache.TitleCache
	matcher    *whitelist.Matcher
	enabled    bool
	pending    int // Items hidden since the last items-blocked report

	tabID      string
	maxFetches int
	now        func() time.Time
	log        *logrus.Entry
}

// New creates an Engine. It starts enabled with an empty whitelist; call Init to load settings.
func New(page Page, catalog *selectors.Catalog, resolver *channel.Resolver, b *bus.Bus,
	titles storage.TitleStore, opts Options, log *logrus.Entry) *Engine {
	if opts.MaxConcurrentFetches <= 0 {
		opts.MaxConcurrentFetches = 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		page:       page,
		catalog:    catalog,
		resolver:   resolver,
		bus:        b,
		titles:     titles,
		processed:  cache.NewSet(),
		blocked:    cache.NewSet(),
		titleCache: cache.NewTitleCache(opts.TitleCacheCapacity),
		matcher:    whitelist.New(nil),
		enabled:    true,
		tabID:      opts.TabID,
		maxFetches: opts.MaxConcurrentFetches,
		now:        opts.Clock,
		log:        log,
	}
}

// Init announces the tab and loads the enabled flag, the whitelist and the persisted
// title cache. Failures fall back to enabled, empty whitelist and empty cache.
// Returns the effective enabled flag.
func (e *Engine) Init(ctx context.Context) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, err := e.bus.Request(ctx, bus.Message{Action: bus.ActionContentScriptReady, TabID: e.tabID}); err != nil {
		e.log.Debugf("Ready announcement not delivered: %v", err)
	}

	e.enabled = true
	if resp, err := e.bus.Request(ctx, bus.Message{Action: bus.ActionIsEnabled, TabID: e.tabID}); err != nil {
		e.log.Warnf("Could not read enabled flag, assuming enabled: %v", err)
	} else {
		e.enabled = resp.Enabled
	}

	if resp, err := e.bus.Request(ctx, bus.Message{Action: bus.ActionGetWhitelist, TabID: e.tabID}); err != nil {
		e.log.Warnf("Could not read whitelist, using empty whitelist: %v", err)
	} else {
		e.matcher = whitelist.New(resp.Whitelist)
	}

	if e.titles != nil {
		entries, err := e.titles.LoadTitleCache()
		if err != nil {
			e.log.Warnf("Could not load title cache, starting empty: %v", err)
		}
		e.titleCache.Load(entries)
	}

	e.log.WithFields(logrus.Fields{
		"enabled":   e.enabled,
		"whitelist": e.matcher.Len(),
		"titles":    e.titleCache.Len(),
	}).Info("Engine initialized")
	return e.enabled
}

// Enabled reports whether passes hide anything
func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enabled
}

// blockedItem is a step-5 block waiting for its channel name
type blockedItem struct {
	node     *goquery.Selection
	key      string
	title    string
	identity channel.Identity
	name     string
}

// Scan runs one pass over every container in the page.
func (e *Engine) Scan(ctx context.Context) (models.PassResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var res models.PassResult
	if !e.enabled {
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}

	// DOM phase: every decision is made while holding the page
	e.page.Lock()
	pageURL := e.page.CurrentURL()
	var fresh []*blockedItem
	for _, node := range e.page.Containers() {
		res.Scanned++
		if b := e.visit(node, pageURL, &res); b != nil {
			fresh = append(fresh, b)
		}
	}
	e.page.Unlock()

	// Network phase: display names for new blocks, page released
	if len(fresh) > 0 {
		e.resolveNames(ctx, fresh)
		e.revisit(fresh, pageURL, &res)
		e.record(fresh)
	}

	res.Hidden = e.pending
	if e.pending > 0 {
		e.bus.Notify(ctx, bus.Message{Action: bus.ActionItemsBlocked, TabID: e.tabID, Count: e.pending})
		e.pending = 0
	}
	if res.Hidden > 0 || res.FastPath > 0 {
		e.log.WithFields(logrus.Fields{
			"scanned": res.Scanned, "hidden": res.Hidden, "fast_path": res.FastPath,
			"cache_hits": res.CacheHits, "whitelisted": res.Whitelisted,
		}).Debug("Scan pass complete")
	}
	return res, nil
}

// visit applies steps 1-5 to one container. Returns the item when it was newly
// blocked through badge detection and still needs its channel name recorded.
// Caller holds e.mu and the page lock.
func (e *Engine) visit(node *goquery.Selection, pageURL string, res *models.PassResult) (b *blockedItem) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorf("Recovered while scanning item: %v", r)
			b = nil
		}
	}()

	// 1. Hidden by an earlier pass: re-assert
	if e.page.IsHidden(node) {
		e.page.Hide(node)
		res.Reasserted++
		return nil
	}

	// 2. Known blocked identifier on a re-rendered node
	key, title, ok := e.catalog.ItemKey(node)
	if !ok {
		res.Skipped++
		return nil
	}
	if e.blocked.Has(key) {
		e.page.Hide(node)
		res.FastPath++
		return nil
	}

	// 3. Title seen blocked before: decide without badge detection
	if entry, cached := e.titleCache.Get(title); cached && !e.processed.Has(key) {
		e.processed.Add(key)
		res.CacheHits++
		id := e.resolver.Identify(node, pageURL)
		if e.whitelisted(node, pageURL, id, entry.Channel) {
			res.Whitelisted++
			return nil
		}
		e.block(node, key)
		return nil
	}

	// 4. Not members-only
	if !e.page.HasBadge(node) && !e.page.HasIcon(node) {
		return nil
	}

	// 5. Members-only and unseen. Marked processed before any lookup.
	if !e.processed.Add(key) {
		return nil
	}
	id := e.resolver.Identify(node, pageURL)
	if e.whitelisted(node, pageURL, id, "") {
		res.Whitelisted++
		return nil
	}
	e.block(node, key)
	return &blockedItem{node: node, key: key, title: title, identity: id}
}

func (e *Engine) whitelisted(node *goquery.Selection, pageURL string, id channel.Identity, extra string) bool {
	candidates := []string{id.Value, extra}
	if id.Handle != "" {
		if name, ok := e.resolver.CachedName(id.Handle); ok {
			candidates = append(candidates, name)
		}
	}
	m, ok := e.matcher.Match(node, pageURL, candidates...)
	if ok {
		e.log.WithFields(logrus.Fields{"entry": m.Entry, "rule": m.Rule}).Debug("Members-only item whitelisted")
	}
	return ok
}

func (e *Engine) block(node *goquery.Selection, key string) {
	e.blocked.Add(key)
	e.page.Hide(node)
	e.pending++
}

// resolveNames fills in display names with bounded concurrency. A failing item
// gets "Unknown channel" and never affects the others.
func (e *Engine) resolveNames(ctx context.Context, items []*blockedItem) {
	var g errgroup.Group
	g.SetLimit(e.maxFetches)
	for _, item := range items {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					e.log.Errorf("Recovered while resolving channel for '%s': %v", item.title, r)
					item.name = models.UnknownChannel
				}
			}()
			item.name = e.resolver.Finish(ctx, item.identity)
			return nil
		})
	}
	g.Wait()
}

// revisit restores items whose fetched display name turned out to be whitelisted
func (e *Engine) revisit(items []*blockedItem, pageURL string, res *models.PassResult) {
	if e.matcher.Len() == 0 {
		return
	}
	e.page.Lock()
	defer e.page.Unlock()
	for _, item := range items {
		if item.name == item.identity.Value {
			continue
		}
		if _, ok := e.matcher.Match(nil, pageURL, item.name); !ok {
			continue
		}
		e.page.Unhide(item.node)
		e.blocked.Remove(item.key)
		e.pending--
		res.Whitelisted++
		item.title = "" // not recorded
	}
}

// record stores new blocks in the title cache and persists it best-effort
func (e *Engine) record(items []*blockedItem) {
	ts := e.now().UnixMilli()
	var added []models.TitleEntry
	for _, item := range items {
		if e.titleCache.Add(item.title, item.name, ts) {
			entry, _ := e.titleCache.Get(item.title)
			added = append(added, entry)
		}
	}
	if len(added) == 0 || e.titles == nil {
		return
	}
	if err := e.titles.MergeTitleCache(added, e.titleCache.Capacity()); err != nil {
		e.log.Warnf("Could not persist title cache: %v", err)
	}
}

// ResetNavigation forgets which items were evaluated so the new page is re-checked.
// Blocked identifiers, the title cache and fetched channel names survive navigation.
func (e *Engine) ResetNavigation(pageURL string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.processed.Clear()
	e.log.WithField("url", pageURL).Debug("Navigation detected, processed set cleared")
}

// SetWhitelist replaces the whitelist, restores hidden items and forces re-evaluation
func (e *Engine) SetWhitelist(entries []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.matcher = whitelist.New(entries)
	e.resetLocked()
}

// SetEnabled switches filtering. Disabling restores hidden items; enabling clears
// the dedup sets so every rendered item is evaluated again.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enabled = enabled
	e.resetLocked()
}

// ClearCache drops the dedup sets, the in-memory title cache and the fetched channel names
func (e *Engine) ClearCache() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.titleCache.Clear()
	e.resolver.ClearNames()
	e.resetLocked()
}

func (e *Engine) resetLocked() {
	e.processed.Clear()
	e.blocked.Clear()
	e.pending = 0
	e.page.Lock()
	restored := e.page.UnhideAll()
	e.page.Unlock()
	if restored > 0 {
		e.log.Debugf("Restored %d hidden items", restored)
	}
}

// Snapshot reports cache sizes for diagnostics
type Snapshot struct {
	Enabled   bool `json:"enabled"`
	Processed int  `json:"processed"`
	Blocked   int  `json:"blocked"`
	Titles    int  `json:"titles"`
	Whitelist int  `json:"whitelist"`
}

// Snapshot returns the current cache sizes
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Enabled:   e.enabled,
		Processed: e.processed.Len(),
		Blocked:   e.blocked.Len(),
		Titles:    e.titleCache.Len(),
		Whitelist: e.matcher.Len(),
	}
}

// Titles returns the in-memory title cache, newest first
func (e *Engine) Titles() []models.TitleEntry {
	return e.titleCache.Entries()
}

func (s Snapshot) String() string {
	return fmt.Sprintf("enabled=%v processed=%d blocked=%d titles=%d whitelist=%d",
		s.Enabled, s.Processed, s.Blocked, s.Titles, s.Whitelist)
}
