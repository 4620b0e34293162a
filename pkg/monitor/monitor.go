// Package monitor turns page changes and a safety-net timer into scan passes,
// running at most one pass at a time.
package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/members-filter/pkg/models"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/utils"
)

// Scanner runs passes and is told about navigation
type Scanner interface {
	Scan(ctx context.Context) (models.PassResult, error)
	ResetNavigation(pageURL string)
}

// Source is the observed page
type Source interface {
	sync.Locker
	CurrentURL() string // called with the lock held
	Subscribe() (<-chan page.Mutation, func())
}

// Options tunes the triggers
type Options struct {
	Interval        time.Duration // Navigation check and safety-net pass period
	NavigationDelay time.Duration // Wait after a navigation before the extra pass
}

// Monitor watches a page and feeds a single-flight scan queue
type Monitor struct {
	scanner Scanner
	src     Source
	catalog *selectors.Catalog
	opts    Options
	trigger chan struct{} // capacity 1: pending triggers coalesce
	passes  atomic.Int64
	log     *logrus.Entry
}

// New creates a Monitor
func New(scanner Scanner, src Source, catalog *selectors.Catalog, opts Options, log *logrus.Entry) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.NavigationDelay <= 0 {
		opts.NavigationDelay = 500 * time.Millisecond
	}
	return &Monitor{
		scanner: scanner,
		src:     src,
		catalog: catalog,
		opts:    opts,
		trigger: make(chan struct{}, 1),
		log:     log,
	}
}

// Trigger requests a pass. It never blocks; a request made while one is already
// queued is merged into it.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Passes returns how many passes have completed
func (m *Monitor) Passes() int64 { return m.passes.Load() }

// Run observes the page until ctx is cancelled. An initial pass is queued immediately.
func (m *Monitor) Run(ctx context.Context) error {
	mutations, unsubscribe := m.src.Subscribe()
	defer unsubscribe()

	m.src.Lock()
	lastURL := m.src.CurrentURL()
	m.src.Unlock()

	m.log.WithField("url", lastURL).Debug("Monitor started")
	m.Trigger()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return m.watchMutations(gctx, mutations) })
	g.Go(func() error { return m.tick(gctx, lastURL) })
	g.Go(func() error { return m.consume(gctx) })

	err := g.Wait()
	m.log.Debug("Monitor stopped")
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (m *Monitor) watchMutations(ctx context.Context, mutations <-chan page.Mutation) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case mut, ok := <-mutations:
			if !ok {
				return nil
			}
			if m.relevant(mut) {
				m.Trigger()
			}
		}
	}
}

// relevant reports whether a mutation added container nodes, directly or nested
func (m *Monitor) relevant(mut page.Mutation) bool {
	m.src.Lock()
	defer m.src.Unlock()
	for _, sel := range mut.Added {
		if m.catalog.ContainsContainer(sel) {
			return true
		}
	}
	return false
}

func (m *Monitor) tick(ctx context.Context, lastURL string) error {
	ticker := time.NewTicker(m.opts.Interval)
	defer ticker.Stop()

	var navTimer *time.Timer
	defer func() {
		if navTimer != nil {
			navTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.src.Lock()
			current := m.src.CurrentURL()
			m.src.Unlock()

			if current != lastURL {
				m.log.WithFields(logrus.Fields{"from": lastURL, "to": current}).Info("Navigation detected")
				lastURL = current
				m.scanner.ResetNavigation(current)
				if navTimer != nil {
					navTimer.Stop()
				}
				navTimer = time.AfterFunc(m.opts.NavigationDelay, m.Trigger)
			}
			m.Trigger()
		}
	}
}

func (m *Monitor) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.trigger:
			res, err := m.scanner.Scan(ctx)
			m.passes.Add(1)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.log.WithField("error_category", utils.CategorizeError(err)).Warnf("Scan pass failed: %v", err)
				continue
			}
			if res.Hidden > 0 {
				m.log.WithFields(logrus.Fields{"hidden": res.Hidden, "scanned": res.Scanned}).Info("Hid members-only items")
			}
		}
	}
}
