// Package tab wires one page to an engine, a monitor and the bus, and reacts to
// settings pushes for as long as the page lives.
package tab

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/members-filter/pkg/bus"
	"github.com/Sriram-PR/members-filter/pkg/channel"
	"github.com/Sriram-PR/members-filter/pkg/engine"
	"github.com/Sriram-PR/members-filter/pkg/monitor"
	"github.com/Sriram-PR/members-filter/pkg/page"
	"github.com/Sriram-PR/members-filter/pkg/selectors"
	"github.com/Sriram-PR/members-filter/pkg/storage"
)

// Deps are the collaborators of a tab
type Deps struct {
	Page     *page.Document
	Catalog  *selectors.Catalog
	Resolver *channel.Resolver
	Bus      *bus.Bus
	Titles   storage.TitleStore
	Engine   engine.Options // TabID is assigned by New
	Monitor  monitor.Options
}

// Tab is the lifecycle owner for one page
type Tab struct {
	id   string
	deps Deps
	eng  *engine.Engine
	log  *logrus.Entry

	// Owned by the Run goroutine
	mon     *monitor.Monitor
	stopMon context.CancelFunc
	monDone chan struct{}
}

// New creates a Tab with a fresh ID
func New(deps Deps, log *logrus.Entry) *Tab {
	id := uuid.NewString()
	log = log.WithField("tab", id)
	deps.Engine.TabID = id
	return &Tab{
		id:   id,
		deps: deps,
		eng:  engine.New(deps.Page, deps.Catalog, deps.Resolver, deps.Bus, deps.Titles, deps.Engine, log),
		log:  log,
	}
}

// ID returns the tab ID used on the bus
func (t *Tab) ID() string { return t.id }

// Engine returns the tab's engine
func (t *Tab) Engine() *engine.Engine { return t.eng }

// Run initializes the engine, starts monitoring when enabled and applies settings
// pushes until ctx is cancelled.
func (t *Tab) Run(ctx context.Context) error {
	inbox, unsubscribe := t.deps.Bus.Subscribe(t.id)
	defer unsubscribe()
	defer t.stopMonitor()

	if t.eng.Init(ctx) {
		t.startMonitor(ctx)
	} else {
		t.log.Info("Blocking disabled, monitor not started")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-inbox:
			if !ok {
				return nil
			}
			t.handle(ctx, msg)
		}
	}
}

func (t *Tab) handle(ctx context.Context, msg bus.Message) {
	t.log.WithField("action", msg.Action).Debug("Settings push received")
	switch msg.Action {
	case bus.ActionToggleBlocking:
		t.eng.SetEnabled(msg.Enabled)
		if msg.Enabled {
			t.startMonitor(ctx)
			t.trigger()
		} else {
			t.stopMonitor()
		}
	case bus.ActionWhitelistChanged:
		t.eng.SetWhitelist(msg.Whitelist)
		t.trigger()
	case bus.ActionClearCache:
		t.eng.ClearCache()
		t.trigger()
	default:
		t.log.WithField("action", msg.Action).Debug("Ignoring unknown push")
	}
}

func (t *Tab) startMonitor(ctx context.Context) {
	if t.mon != nil {
		return
	}
	monCtx, cancel := context.WithCancel(ctx)
	t.mon = monitor.New(t.eng, t.deps.Page, t.deps.Catalog, t.deps.Monitor, t.log)
	t.stopMon = cancel
	t.monDone = make(chan struct{})

	go func(m *monitor.Monitor, done chan struct{}) {
		defer close(done)
		if err := m.Run(monCtx); err != nil {
			t.log.Errorf("Monitor exited: %v", err)
		}
	}(t.mon, t.monDone)
}

func (t *Tab) stopMonitor() {
	if t.mon == nil {
		return
	}
	t.stopMon()
	<-t.monDone
	t.mon, t.stopMon, t.monDone = nil, nil, nil
}

func (t *Tab) trigger() {
	if t.mon != nil {
		t.mon.Trigger()
	}
}
